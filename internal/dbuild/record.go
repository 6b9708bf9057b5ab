package dbuild

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// InstalledPackageRecord mirrors the key=value metadata persisted for one
// installed package. It is created at install, overwritten at upgrade and
// deleted at removal.
type InstalledPackageRecord struct {
	Name           string
	Version        string
	Release        string
	PackageFile    string // empty when packaging was skipped
	PackageSum     string // BLAKE3 digest of the package archive
	RecipeSnapshot string // stored copy of the recipe used
	InstalledAt    time.Time
}

func manifestPath(cfg *Config, name string) string {
	return filepath.Join(cfg.RecordDir(name), "manifest")
}

func metaPath(cfg *Config, name string) string {
	return filepath.Join(cfg.RecordDir(name), "meta")
}

func recipeSnapshotPath(cfg *Config, name string) string {
	return filepath.Join(cfg.RecordDir(name), "recipe")
}

// saveRecord persists the manifest, metadata and recipe snapshot for one
// installed package, replacing any previous record wholesale.
func saveRecord(cfg *Config, rec *Recipe, pkgFile, pkgSum string, manifest []string) (*InstalledPackageRecord, error) {
	dir := cfg.RecordDir(rec.Name)
	if err := ensureCleanDir(dir); err != nil {
		return nil, err
	}
	if err := writeManifest(manifestPath(cfg, rec.Name), manifest); err != nil {
		return nil, err
	}

	snapshot := rec.raw
	if len(snapshot) == 0 {
		snapshot = []byte(rec.Render())
	}
	snapPath := recipeSnapshotPath(cfg, rec.Name)
	if err := os.WriteFile(snapPath, snapshot, 0o644); err != nil {
		return nil, err
	}

	record := &InstalledPackageRecord{
		Name:           rec.Name,
		Version:        rec.Version,
		Release:        rec.Release,
		PackageFile:    pkgFile,
		PackageSum:     pkgSum,
		RecipeSnapshot: snapPath,
		InstalledAt:    time.Now().UTC(),
	}

	var b strings.Builder
	fmt.Fprintf(&b, "name=%s\n", record.Name)
	fmt.Fprintf(&b, "version=%s\n", record.Version)
	fmt.Fprintf(&b, "release=%s\n", record.Release)
	if record.PackageFile != "" {
		fmt.Fprintf(&b, "pkgfile=%s\n", record.PackageFile)
	}
	if record.PackageSum != "" {
		fmt.Fprintf(&b, "pkgsum=%s\n", record.PackageSum)
	}
	fmt.Fprintf(&b, "recipe=%s\n", record.RecipeSnapshot)
	fmt.Fprintf(&b, "installed_at=%s\n", record.InstalledAt.Format(time.RFC3339))
	if err := os.WriteFile(metaPath(cfg, rec.Name), []byte(b.String()), 0o644); err != nil {
		return nil, err
	}
	return record, nil
}

// loadRecord reads the metadata for name. A package that was never
// installed yields (nil, nil).
func loadRecord(cfg *Config, name string) (*InstalledPackageRecord, error) {
	data, err := os.ReadFile(metaPath(cfg, name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	record := &InstalledPackageRecord{Name: name}
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key, val := parts[0], parts[1]
		switch key {
		case "name":
			record.Name = val
		case "version":
			record.Version = val
		case "release":
			record.Release = val
		case "pkgfile":
			record.PackageFile = val
		case "pkgsum":
			record.PackageSum = val
		case "recipe":
			record.RecipeSnapshot = val
		case "installed_at":
			if t, err := time.Parse(time.RFC3339, val); err == nil {
				record.InstalledAt = t
			}
		}
	}
	return record, nil
}

// deleteRecord drops the whole metadata directory for name.
func deleteRecord(cfg *Config, name string) error {
	return os.RemoveAll(cfg.RecordDir(name))
}

// listInstalled returns the records of every installed package, by name.
func listInstalled(cfg *Config) ([]*InstalledPackageRecord, error) {
	entries, err := os.ReadDir(cfg.DBDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var records []*InstalledPackageRecord
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		record, err := loadRecord(cfg, e.Name())
		if err != nil {
			return nil, err
		}
		if record != nil {
			records = append(records, record)
		}
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Name < records[j].Name })
	return records, nil
}
