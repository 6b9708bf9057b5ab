package dbuild

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
)

// VcsClient materializes a single file from a repository pinned to a ref.
type VcsClient interface {
	FileAtRef(ctx context.Context, repoURL, ref, path, dest string) error
}

// gitClient keeps ref-pinned clones under mirrorDir so repeated builds of
// the same recipe reuse the checkout instead of cloning again.
type gitClient struct {
	mirrorDir string
}

// NewGitClient returns the go-git backed VcsClient.
func NewGitClient(mirrorDir string) VcsClient {
	return &gitClient{mirrorDir: mirrorDir}
}

func (c *gitClient) FileAtRef(ctx context.Context, repoURL, ref, path, dest string) error {
	mirror := filepath.Join(c.mirrorDir, hashString(repoURL+"@"+ref)[:12])
	if _, err := git.PlainOpen(mirror); err != nil {
		if err := c.clone(ctx, repoURL, ref, mirror); err != nil {
			return err
		}
	}
	src := filepath.Join(mirror, filepath.FromSlash(path))
	if fi, err := os.Stat(src); err != nil || fi.IsDir() {
		return fmt.Errorf("path %s not found in %s at %s", path, repoURL, ref)
	}
	return copyFile(src, dest)
}

// clone tries a shallow clone pinned to ref, first as a tag and then as a
// branch. A ref that is neither (a bare commit) needs a full clone and a
// detached checkout.
func (c *gitClient) clone(ctx context.Context, repoURL, ref, mirror string) error {
	if err := os.MkdirAll(filepath.Dir(mirror), 0o755); err != nil {
		return err
	}
	os.RemoveAll(mirror)
	for _, refName := range []plumbing.ReferenceName{
		plumbing.NewTagReferenceName(ref),
		plumbing.NewBranchReferenceName(ref),
	} {
		_, err := git.PlainCloneContext(ctx, mirror, false, &git.CloneOptions{
			URL:           repoURL,
			Depth:         1,
			SingleBranch:  true,
			ReferenceName: refName,
		})
		if err == nil {
			return nil
		}
		debugf("shallow clone of %s at %s failed: %v", repoURL, refName.Short(), err)
		os.RemoveAll(mirror)
	}

	repo, err := git.PlainCloneContext(ctx, mirror, false, &git.CloneOptions{URL: repoURL})
	if err != nil {
		os.RemoveAll(mirror)
		return err
	}
	hash, err := repo.ResolveRevision(plumbing.Revision(ref))
	if err != nil {
		os.RemoveAll(mirror)
		return fmt.Errorf("ref %s not found in %s: %w", ref, repoURL, err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		return err
	}
	if err := wt.Checkout(&git.CheckoutOptions{Hash: *hash}); err != nil {
		os.RemoveAll(mirror)
		return err
	}
	return nil
}

// PatchTool applies one patch file to a source tree.
type PatchTool interface {
	Apply(ctx context.Context, patchFile, workDir string, log io.Writer) error
}

// execPatchTool shells out to patch(1), forward-only and non-interactive,
// stripping one leading path component.
type execPatchTool struct {
	exec *Executor
}

// NewPatchTool returns the patch(1) backed PatchTool.
func NewPatchTool(e *Executor) PatchTool {
	return execPatchTool{exec: e}
}

func (t execPatchTool) Apply(ctx context.Context, patchFile, workDir string, log io.Writer) error {
	cmd := exec.Command("patch", "-N", "-t", "-p1", "-i", patchFile)
	cmd.Dir = workDir
	cmd.Stdout = log
	cmd.Stderr = log
	return t.exec.Run(ctx, cmd)
}

// resolvePatch turns one patch spec into a local file and verifies it.
// HTTP and vcs patches land in the patch cache and are reused on later
// runs; local patches are used where they are.
func resolvePatch(ctx context.Context, cfg *Config, rec *Recipe, ps PatchSpec, dl Downloader, vcs VcsClient) (string, error) {
	switch ps.Kind {
	case PatchHTTP:
		cachePath := filepath.Join(cfg.PatchCache, ps.BaseName())
		if !fileExists(cachePath) {
			cPrintf(colInfo, "downloading patch %s\n", ps.URL)
			if err := fetchFile(ctx, dl, ps.URL, cachePath); err != nil {
				return "", err
			}
		}
		if err := verifyChecksum(cachePath, ps.Checksum); err != nil {
			return "", err
		}
		return cachePath, nil

	case PatchVcs:
		cachePath := filepath.Join(cfg.PatchCache, ps.BaseName())
		if !fileExists(cachePath) {
			if err := os.MkdirAll(cfg.PatchCache, 0o755); err != nil {
				return "", err
			}
			cPrintf(colInfo, "fetching patch %s from %s@%s\n", ps.Path, ps.Repo, ps.Ref)
			if err := vcs.FileAtRef(ctx, ps.Repo, ps.Ref, ps.Path, cachePath); err != nil {
				return "", &ResolveError{Spec: ps.String(), Err: err}
			}
		}
		if err := verifyChecksum(cachePath, ps.Checksum); err != nil {
			return "", err
		}
		return cachePath, nil

	case PatchLocal:
		local := ps.URL
		if !filepath.IsAbs(local) {
			local = filepath.Join(rec.Dir, local)
		}
		if !fileExists(local) {
			return "", &ResolveError{Spec: ps.String(), Err: fmt.Errorf("local patch %s does not exist", local)}
		}
		if err := verifyChecksum(local, ps.Checksum); err != nil {
			return "", err
		}
		return local, nil
	}
	return "", &ResolveError{Spec: ps.String(), Err: fmt.Errorf("unknown patch kind %q", ps.Kind)}
}

// resolvePatches resolves every patch of a recipe, preserving recipe order.
func resolvePatches(ctx context.Context, cfg *Config, rec *Recipe, dl Downloader, vcs VcsClient) ([]string, error) {
	var files []string
	for _, ps := range rec.Patches {
		file, err := resolvePatch(ctx, cfg, rec, ps, dl, vcs)
		if err != nil {
			return nil, err
		}
		files = append(files, file)
	}
	return files, nil
}

// applyPatches applies resolved patch files strictly in recipe order. The
// first failure aborts the rest.
func applyPatches(ctx context.Context, rec *Recipe, workDir string, files []string, tool PatchTool, log io.Writer) error {
	for i, file := range files {
		cPrintf(colInfo, "applying %s\n", filepath.Base(file))
		fmt.Fprintf(log, "=== patch %s ===\n", filepath.Base(file))
		if err := tool.Apply(ctx, file, workDir, log); err != nil {
			return &ApplyError{Patch: rec.Patches[i].String(), Err: err}
		}
	}
	return nil
}
