package dbuild

import (
	"archive/tar"
	"compress/gzip"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
)

// testConfig returns a config whose workspace directories live under one
// temp dir and whose live root is a second, separate temp dir, so tests
// can tell workspace writes and live writes apart.
func testConfig(t *testing.T) (*Config, string) {
	t.Helper()
	work := t.TempDir()
	root := t.TempDir()
	cfg := DefaultConfig(root)
	cfg.CacheDir = filepath.Join(work, "cache")
	cfg.SourceCache = filepath.Join(work, "sources")
	cfg.PatchCache = filepath.Join(work, "patches")
	cfg.VcsMirrors = filepath.Join(work, "mirrors")
	cfg.BuildRoot = filepath.Join(work, "build")
	cfg.LogDir = filepath.Join(work, "logs")
	cfg.PackageDir = filepath.Join(work, "packages")
	cfg.DBDir = filepath.Join(work, "db")
	cfg.LockDir = filepath.Join(work, "locks")
	return cfg, work
}

// makeTarGz writes a gzipped tarball at path. Map keys are entry names;
// names ending in / become directories, and parent directories of file
// entries are created implicitly by extraction.
func makeTarGz(t *testing.T, path string, files map[string]string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	zw := gzip.NewWriter(f)
	tw := tar.NewWriter(zw)

	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		content := files[name]
		if strings.HasSuffix(name, "/") {
			hdr := &tar.Header{Name: name, Typeflag: tar.TypeDir, Mode: 0o755}
			if err := tw.WriteHeader(hdr); err != nil {
				t.Fatal(err)
			}
			continue
		}
		hdr := &tar.Header{Name: name, Mode: 0o644, Size: int64(len(content))}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatal(err)
		}
		if _, err := tw.Write([]byte(content)); err != nil {
			t.Fatal(err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
}

// writeRecipe drops recipe text into dir/recipe and parses it back.
func writeRecipe(t *testing.T, dir, text string) *Recipe {
	t.Helper()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, "recipe")
	if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
		t.Fatal(err)
	}
	rec, err := ParseRecipeFile(path)
	if err != nil {
		t.Fatalf("ParseRecipeFile(%s): %v", path, err)
	}
	return rec
}

// mustHashFile fails the test instead of returning an error.
func mustHashFile(t *testing.T, path string) string {
	t.Helper()
	sum, err := hashFile(path)
	if err != nil {
		t.Fatal(err)
	}
	return sum
}

// helloRecipeInto writes a self-contained recipe into dir: a local tarball
// source with a correct checksum, plus whatever stage blocks the caller
// appends. The tarball holds pkg-<version>/hello.c.
func helloRecipeInto(t *testing.T, dir, version, stages string) {
	t.Helper()
	tarName := "pkg-" + version + ".tar.gz"
	makeTarGz(t, filepath.Join(dir, tarName), map[string]string{
		"pkg-" + version + "/hello.c": "int main(void) { return 0; }\n",
	})
	sum := mustHashFile(t, filepath.Join(dir, tarName))
	text := "name=\"pkg\"\nversion=\"" + version + "\"\n\n" +
		"sources<<EOF\n" + tarName + " " + sum + "\nEOF\n\n" + stages
	if err := os.WriteFile(filepath.Join(dir, "recipe"), []byte(text), 0o644); err != nil {
		t.Fatal(err)
	}
}

func helloRecipeDir(t *testing.T, version, stages string) string {
	t.Helper()
	dir := t.TempDir()
	helloRecipeInto(t, dir, version, stages)
	return dir
}

func parseRecipeDir(t *testing.T, dir string) *Recipe {
	t.Helper()
	rec, err := ParseRecipeFile(filepath.Join(dir, "recipe"))
	if err != nil {
		t.Fatalf("ParseRecipeFile: %v", err)
	}
	return rec
}
