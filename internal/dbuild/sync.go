package dbuild

import (
	"context"
	"errors"

	git "github.com/go-git/go-git/v5"
)

// Sync pulls every configured recipe repository that is a git checkout.
// Non-git directories are skipped with a warning so local-only overlays
// can share the search path with synced repositories.
func Sync(ctx context.Context, cfg *Config) error {
	if len(cfg.RepoPaths) == 0 {
		cPrintln(colWarn, "no recipe repositories configured")
		return nil
	}
	var firstErr error
	for _, path := range cfg.RepoPaths {
		cPrintf(colArrow, "-> ")
		cPrintln(colSuccess, "syncing "+path)

		repo, err := git.PlainOpen(path)
		if err != nil {
			cPrintf(colWarn, "warning: %s is not a git repository, skipping\n", path)
			continue
		}
		wt, err := repo.Worktree()
		if err != nil {
			cPrintf(colError, "error: %s: %v\n", path, err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		err = wt.PullContext(ctx, &git.PullOptions{RemoteName: "origin"})
		switch {
		case err == nil:
			cPrintln(colInfo, "updated")
		case errors.Is(err, git.NoErrAlreadyUpToDate):
			cPrintln(colInfo, "already up to date")
		default:
			cPrintf(colError, "error: pull %s: %v\n", path, err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
