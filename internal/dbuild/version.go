package dbuild

import "strconv"

// compareVersions orders two version strings. Each string is split into its
// maximal runs of digits; any run of non-digit characters is a separator and
// missing fields count as zero. Fields are compared as integers left to
// right. Returns -1 if a < b, 0 if equal, 1 if a > b.
func compareVersions(a, b string) int {
	af := versionFields(a)
	bf := versionFields(b)
	for len(af) < len(bf) {
		af = append(af, 0)
	}
	for len(bf) < len(af) {
		bf = append(bf, 0)
	}
	for i := range af {
		if af[i] != bf[i] {
			if af[i] > bf[i] {
				return 1
			}
			return -1
		}
	}
	return 0
}

func versionFields(s string) []int {
	var fields []int
	i := 0
	for i < len(s) {
		for i < len(s) && !isDigit(s[i]) {
			i++
		}
		if i == len(s) {
			break
		}
		start := i
		for i < len(s) && isDigit(s[i]) {
			i++
		}
		n, err := strconv.Atoi(s[start:i])
		if err != nil {
			// Run longer than an int; saturate rather than crash.
			n = int(^uint(0) >> 1)
		}
		fields = append(fields, n)
	}
	return fields
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }
