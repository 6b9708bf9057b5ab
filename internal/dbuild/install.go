package dbuild

import (
	"context"
	"os"
	"path/filepath"
)

// InstallOptions selects the optional behaviors of one install.
type InstallOptions struct {
	PackOnly  bool // build, package and record, but never touch the live root
	NoPackage bool // skip archive creation, install straight from staging
	Strip     bool // strip staged binaries before packaging
}

// Install drives the full install flow: build, stage, optionally strip,
// manifest, package, persist, then materialize onto the live root. Every
// step before materialization works only inside the workspace, so a
// failure there leaves the live filesystem untouched.
func (p *Pipeline) Install(ctx context.Context, rec *Recipe, opts InstallOptions) (*InstalledPackageRecord, error) {
	cfg := p.Config
	lock, err := acquirePackageLock(cfg.LockDir, rec.Name)
	if err != nil {
		return nil, err
	}
	defer lock.release()

	result, err := p.Build(ctx, rec)
	if err != nil {
		return nil, err
	}

	log, err := appendBuildLog(result.LogPath)
	if err != nil {
		return nil, err
	}
	defer log.Close()

	staging := filepath.Join(result.BuildDir, "staging")
	if err := ensureCleanDir(staging); err != nil {
		return nil, &InstallError{Pkg: rec.Name, Step: "staging", Err: err}
	}

	runner := &StageRunner{Exec: p.Exec}
	env := stageEnv(cfg, rec, staging)
	if err := runner.Run(ctx, rec, StagePreinstall, result.WorkDir, env, log); err != nil {
		return nil, err
	}
	if err := runner.Run(ctx, rec, StageInstall, result.WorkDir, env, log); err != nil {
		return nil, err
	}

	if opts.Strip || cfg.DefaultStrip {
		if err := p.Strip.Strip(ctx, staging, log); err != nil {
			return nil, &InstallError{Pkg: rec.Name, Step: "strip", Err: err}
		}
	}

	manifest, err := buildManifest(staging)
	if err != nil {
		return nil, &InstallError{Pkg: rec.Name, Step: "manifest", Err: err}
	}

	var pkgFile, pkgSum string
	if !opts.NoPackage {
		pkgFile = cfg.PackagePath(rec.Name, rec.Version, rec.Release)
		pkgSum, err = p.Archive.Create(staging, pkgFile)
		if err != nil {
			return nil, &InstallError{Pkg: rec.Name, Step: "package", Err: err}
		}
		cPrintf(colInfo, "packaged %s\n", pkgFile)
	}

	record, err := saveRecord(cfg, rec, pkgFile, pkgSum, manifest)
	if err != nil {
		return nil, &InstallError{Pkg: rec.Name, Step: "record", Err: err}
	}

	if opts.PackOnly {
		cPrintf(colInfo, "pack-only, not touching %s\n", cfg.RootDir)
		return record, nil
	}

	// From here on the live root is being written. Mark the phase
	// critical so the signal handler refuses a casual Ctrl+C.
	isCriticalAtomic.Store(1)
	defer isCriticalAtomic.Store(0)

	cPrintf(colArrow, "-> ")
	cPrintln(colSuccess, "installing "+rec.Name+" to "+cfg.RootDir)
	if err := copyTree(staging, cfg.RootDir); err != nil {
		return nil, &InstallError{Pkg: rec.Name, Step: "materialize", Err: err}
	}

	postEnv := append(stageEnv(cfg, rec, ""), "ROOT="+cfg.RootDir)
	if err := runner.Run(ctx, rec, StagePostinstall, cfg.RootDir, postEnv, log); err != nil {
		return nil, err
	}

	if err := os.RemoveAll(result.BuildDir); err != nil {
		debugf("could not clean %s: %v", result.BuildDir, err)
	}

	cPrintf(colArrow, "-> ")
	cPrintln(colSuccess, "installed "+rec.Name+" "+rec.Version+"-"+rec.Release)
	return record, nil
}
