package dbuild

import "context"

// Upgrade resolves arg to a recipe and reinstalls the package when the
// recipe's version is strictly greater than the installed one. A package
// that was never installed gets a fresh install; anything else is a
// warning and a no-op, not an error.
func (p *Pipeline) Upgrade(ctx context.Context, arg string, opts InstallOptions) error {
	rec, err := resolveRecipeArg(p.Config, arg)
	if err != nil {
		return err
	}
	record, err := loadRecord(p.Config, rec.Name)
	if err != nil {
		return err
	}
	if record == nil {
		cPrintf(colInfo, "%s is not installed, performing a fresh install\n", rec.Name)
		_, err := p.Install(ctx, rec, opts)
		return err
	}

	installed := record.Version
	if compareVersions(rec.Version, installed) <= 0 {
		cPrintf(colWarn, "%s %s is not newer than installed %s, nothing to do\n",
			rec.Name, rec.Version, installed)
		return nil
	}

	cPrintf(colInfo, "upgrading %s %s -> %s\n", rec.Name, installed, rec.Version)
	_, err = p.Install(ctx, rec, opts)
	return err
}
