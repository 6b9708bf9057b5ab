package dbuild

import (
	"context"
	"os"
	"path/filepath"
	"strings"
)

// Remove reverses an installation by deleting every manifest entry in
// stored order, running the postremove hook from the recipe snapshot, and
// finally dropping the package metadata.
func (p *Pipeline) Remove(ctx context.Context, name string) error {
	cfg := p.Config
	lock, err := acquirePackageLock(cfg.LockDir, name)
	if err != nil {
		return err
	}
	defer lock.release()

	entries, err := readManifest(manifestPath(cfg, name))
	if err != nil {
		if os.IsNotExist(err) {
			return &ManifestMissingError{Name: name}
		}
		return err
	}
	record, err := loadRecord(cfg, name)
	if err != nil {
		return err
	}

	cPrintf(colArrow, "-> ")
	cPrintln(colSuccess, "removing "+name)

	// Manifest order is deepest-first, so files go before the directories
	// that held them. A directory that is still populated belongs partly
	// to someone else and is left alone.
	for _, entry := range entries {
		target := filepath.Join(cfg.RootDir, strings.TrimSuffix(entry, "/"))
		info, err := os.Lstat(target)
		if err != nil {
			debugf("%s already gone", target)
			continue
		}
		if info.IsDir() {
			if err := os.Remove(target); err != nil {
				debugf("leaving directory %s: %v", target, err)
			}
			continue
		}
		if err := os.Remove(target); err != nil {
			cPrintf(colWarn, "warning: could not remove %s: %v\n", target, err)
		}
	}

	p.runPostremove(ctx, name, record)

	if err := deleteRecord(cfg, name); err != nil {
		return err
	}
	cPrintf(colArrow, "-> ")
	cPrintln(colSuccess, "removed "+name)
	return nil
}

// runPostremove executes the postremove stage from the stored recipe
// snapshot. Failures are reported but never block metadata deletion.
func (p *Pipeline) runPostremove(ctx context.Context, name string, record *InstalledPackageRecord) {
	cfg := p.Config
	snap := recipeSnapshotPath(cfg, name)
	if !fileExists(snap) {
		return
	}
	rec, err := ParseRecipeFile(snap)
	if err != nil {
		cPrintf(colWarn, "warning: unreadable recipe snapshot for %s: %v\n", name, err)
		return
	}
	if _, ok := rec.Steps[StagePostremove]; !ok {
		return
	}

	logPath := filepath.Join(cfg.LogDir, name+"-remove.log")
	if record != nil && record.Version != "" {
		logPath = cfg.LogPath(name, record.Version)
	}
	log, err := appendBuildLog(logPath)
	if err != nil {
		cPrintf(colWarn, "warning: cannot open log for postremove: %v\n", err)
		return
	}
	defer log.Close()

	runner := &StageRunner{Exec: p.Exec}
	env := append(stageEnv(cfg, rec, ""), "ROOT="+cfg.RootDir)
	if err := runner.Run(ctx, rec, StagePostremove, cfg.RootDir, env, log); err != nil {
		cPrintf(colWarn, "warning: postremove for %s failed: %v\n", name, err)
	}
}
