package dbuild

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// buildManifest lists every path under stagingDir, deepest entries first,
// so deleting in list order never hits a non-empty directory. Directories
// carry a trailing slash. Reverse-lexicographic order gives the guarantee:
// a child is its parent's entry plus a suffix, so it always sorts first.
func buildManifest(stagingDir string) ([]string, error) {
	var entries []string
	err := filepath.WalkDir(stagingDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(stagingDir, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if d.IsDir() {
			rel += "/"
		}
		entries = append(entries, rel)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Sort(sort.Reverse(sort.StringSlice(entries)))
	return entries, nil
}

// writeManifest stores entries one per line, preserving their order.
func writeManifest(path string, entries []string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	var b strings.Builder
	for _, e := range entries {
		b.WriteString(e)
		b.WriteByte('\n')
	}
	return os.WriteFile(path, []byte(b.String()), 0o644)
}

// readManifest loads a manifest, keeping the stored order untouched.
func readManifest(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var entries []string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			entries = append(entries, line)
		}
	}
	return entries, nil
}
