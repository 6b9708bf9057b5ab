package dbuild

import "testing"

func TestCompareVersions(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"1.10.0", "1.2.0", 1},
		{"1.2", "1.2.0", 0},
		{"2", "1.99.99", 1},
		{"1.2.0", "1.10.0", -1},
		{"1.0", "1.0", 0},
		{"1.2-3", "1.2.3", 0},
		{"1.2.3", "1.2.4", -1},
		{"0.9", "1.0", -1},
		{"3.0a", "3.0", 0},
		{"1.0.1", "1.0", 1},
		{"", "0", 0},
		{"10", "9", 1},
	}
	for _, tt := range tests {
		if got := compareVersions(tt.a, tt.b); got != tt.want {
			t.Errorf("compareVersions(%q, %q) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestVersionFieldsNonDigitSeparators(t *testing.T) {
	got := versionFields("v1.10-rc2")
	want := []int{1, 10, 2}
	if len(got) != len(want) {
		t.Fatalf("versionFields(%q) = %v, want %v", "v1.10-rc2", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("versionFields(%q)[%d] = %d, want %d", "v1.10-rc2", i, got[i], want[i])
		}
	}
}
