package dbuild

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// ListInstalled renders the installed packages, one per line, through the
// pager.
func ListInstalled(cfg *Config) error {
	records, err := listInstalled(cfg)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		cPrintln(colInfo, "no packages installed")
		return nil
	}
	var b strings.Builder
	for _, r := range records {
		fmt.Fprintf(&b, "%s %s-%s\n", r.Name, r.Version, r.Release)
	}
	RunPager(b.String())
	return nil
}

// Search lists repository packages whose name contains term, marking the
// ones that are already installed.
func Search(cfg *Config, term string) error {
	entries, err := searchRecipes(cfg, term)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		cPrintln(colInfo, "no matching packages")
		return nil
	}
	var b strings.Builder
	for _, e := range entries {
		rec, err := ParseRecipeFile(filepath.Join(e.Dir, "recipe"))
		if err != nil {
			cPrintf(colWarn, "warning: unreadable recipe for %s: %v\n", e.Name, err)
			continue
		}
		fmt.Fprintf(&b, "%s %s", rec.Name, rec.Version)
		if record, _ := loadRecord(cfg, e.Name); record != nil {
			fmt.Fprintf(&b, " [installed %s-%s]", record.Version, record.Release)
		}
		b.WriteByte('\n')
	}
	RunPager(b.String())
	return nil
}

// Info prints everything known about one package: the installed record if
// present, and what the repositories offer.
func Info(cfg *Config, name string) error {
	record, err := loadRecord(cfg, name)
	if err != nil {
		return err
	}
	var repoRec *Recipe
	if dir, err := findRecipeDir(cfg, name); err == nil {
		if rec, err := ParseRecipeFile(filepath.Join(dir, "recipe")); err == nil {
			repoRec = rec
		}
	}
	if record == nil && repoRec == nil {
		return fmt.Errorf("package %s is neither installed nor in any repository", name)
	}

	cPrintln(colSuccess, name)
	if record != nil {
		fmt.Printf("  installed:  %s-%s\n", record.Version, record.Release)
		if !record.InstalledAt.IsZero() {
			fmt.Printf("  date:       %s\n", record.InstalledAt.Format(time.RFC3339))
		}
		if record.PackageFile != "" {
			fmt.Printf("  package:    %s\n", record.PackageFile)
		}
		if record.PackageSum != "" {
			fmt.Printf("  digest:     %s\n", record.PackageSum)
		}
		if entries, err := readManifest(manifestPath(cfg, name)); err == nil {
			fmt.Printf("  files:      %d\n", len(entries))
		}
	} else {
		fmt.Println("  installed:  no")
	}
	if repoRec != nil {
		fmt.Printf("  available:  %s-%s\n", repoRec.Version, repoRec.Release)
		if record != nil && compareVersions(repoRec.Version, record.Version) > 0 {
			cPrintf(colNote, "  an upgrade to %s is available\n", repoRec.Version)
		}
	}
	if record != nil && record.RecipeSnapshot != "" {
		if snap, err := ParseRecipeFile(record.RecipeSnapshot); err == nil {
			fmt.Println("  recipe:")
			for _, line := range strings.Split(strings.TrimRight(snap.Render(), "\n"), "\n") {
				fmt.Printf("    %s\n", line)
			}
		}
	}
	return nil
}
