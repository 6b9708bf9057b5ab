package dbuild

import (
	"context"
	"path/filepath"
)

// Pipeline binds the capability implementations together and drives the
// build, install, remove and upgrade flows, one package at a time.
type Pipeline struct {
	Config   *Config
	Exec     *Executor
	Download Downloader
	Extract  Extractor
	Vcs      VcsClient
	Patch    PatchTool
	Strip    Stripper
	Archive  Archiver
}

// NewPipeline returns a pipeline with the default implementations bound.
// Callers may swap any field before use.
func NewPipeline(cfg *Config) *Pipeline {
	e := &Executor{}
	return &Pipeline{
		Config:   cfg,
		Exec:     e,
		Download: NewHTTPDownloader(),
		Extract:  NewExtractor(),
		Vcs:      NewGitClient(cfg.VcsMirrors),
		Patch:    NewPatchTool(e),
		Strip:    NewStripper(e),
		Archive:  NewArchiver(),
	}
}

// BuildResult points at the artifacts of one completed build pipeline.
type BuildResult struct {
	Recipe   *Recipe
	BuildDir string // per-package-version scratch directory
	WorkDir  string // detected source root the stages ran in
	LogPath  string
}

// Build runs the build half of the pipeline: fetch and verify all sources,
// resolve and verify all patches, extract, patch, then the preconfig,
// configure, build and check stages. Nothing here touches the live
// filesystem.
func (p *Pipeline) Build(ctx context.Context, rec *Recipe) (*BuildResult, error) {
	cfg := p.Config
	buildDir := cfg.BuildDir(rec.Name, rec.Version)
	srcDir := filepath.Join(buildDir, "src")
	if err := ensureCleanDir(srcDir); err != nil {
		return nil, err
	}

	cPrintf(colArrow, "-> ")
	cPrintln(colSuccess, "building "+rec.Name+"-"+rec.Version)

	log, err := OpenBuildLog(cfg.LogPath(rec.Name, rec.Version))
	if err != nil {
		return nil, err
	}
	defer log.Close()

	sources, err := fetchSources(ctx, cfg, rec, p.Download)
	if err != nil {
		return nil, err
	}
	patchFiles, err := resolvePatches(ctx, cfg, rec, p.Download, p.Vcs)
	if err != nil {
		return nil, err
	}

	for _, src := range sources {
		debugf("extracting %s", src)
		if err := p.Extract.Extract(src, srcDir); err != nil {
			return nil, err
		}
	}
	workDir, err := detectRoot(srcDir, rec.RootDir)
	if err != nil {
		return nil, err
	}

	if err := applyPatches(ctx, rec, workDir, patchFiles, p.Patch, log); err != nil {
		return nil, err
	}

	runner := &StageRunner{Exec: p.Exec}
	env := stageEnv(cfg, rec, "")
	for _, st := range buildStages {
		if st == StageCheck && !cfg.RunChecks {
			cPrintf(colInfo, "checks disabled, skipping %s\n", st)
			continue
		}
		if err := runner.Run(ctx, rec, st, workDir, env, log); err != nil {
			return nil, err
		}
	}

	cPrintf(colArrow, "-> ")
	cPrintln(colSuccess, "built "+rec.Name+"-"+rec.Version+", log at "+log.Path)
	return &BuildResult{
		Recipe:   rec,
		BuildDir: buildDir,
		WorkDir:  workDir,
		LogPath:  log.Path,
	}, nil
}
