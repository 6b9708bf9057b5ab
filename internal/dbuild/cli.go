package dbuild

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var (
	flagConfig  string
	flagRoot    string
	flagDebug   bool
	flagVerbose bool

	flagPackOnly  bool
	flagNoPackage bool
	flagStrip     bool

	cliCfg *Config
)

// Main is the process entry point behind cmd main. It owns signal
// handling, environment overrides and the exit code mapping; everything
// below it receives explicit configuration.
func Main() int {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		if isCriticalAtomic.Load() == 1 {
			cPrintf(colWarn, "\ninterrupt during a critical phase, press Ctrl+C again to force quit\n")
		} else {
			cPrintf(colWarn, "\ninterrupted\n")
			cancel()
		}
		<-sigCh
		os.Exit(130)
	}()

	root := newRootCmd()
	if err := root.ExecuteContext(ctx); err != nil {
		cPrintf(colError, "error: %v\n", err)
		return exitCode(err)
	}
	return 0
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "dbuild",
		Short:         "source-based package build and install tool",
		Version:       fmt.Sprintf("%s (built %s)", version, buildDate),
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			Debug = flagDebug
			Verbose = flagVerbose
			cfg := DefaultConfig(flagRoot)
			path := flagConfig
			if path == "" {
				path = filepath.Join(flagRoot, "etc", "dbuild", "dbuild.conf")
			}
			if err := LoadConfigFile(cfg, path); err != nil {
				return err
			}
			ApplyEnvOverrides(cfg, os.LookupEnv)
			cliCfg = cfg
			return nil
		},
	}
	pf := root.PersistentFlags()
	pf.StringVarP(&flagConfig, "config", "c", "", "config file (default <root>/etc/dbuild/dbuild.conf)")
	pf.StringVar(&flagRoot, "root", "/", "live filesystem root to install into")
	pf.BoolVar(&flagDebug, "debug", false, "print debug output")
	pf.BoolVarP(&flagVerbose, "verbose", "v", false, "print verbose output")

	root.AddCommand(
		newBuildCmd(),
		newInstallCmd(),
		newRemoveCmd(),
		newInfoCmd(),
		newListCmd(),
		newSearchCmd(),
		newSyncCmd(),
		newUpgradeCmd(),
		newLogsCmd(),
	)
	return root
}

// newCLIPipeline binds the default pipeline, enabling download progress
// bars only when talking to a terminal.
func newCLIPipeline() *Pipeline {
	p := NewPipeline(cliCfg)
	if hd, ok := p.Download.(*HTTPDownloader); ok {
		hd.Progress = term.IsTerminal(int(os.Stderr.Fd()))
	}
	return p
}

func newBuildCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "build <recipe>",
		Short: "run the build pipeline for a recipe without installing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rec, err := resolveRecipeArg(cliCfg, args[0])
			if err != nil {
				return err
			}
			_, err = newCLIPipeline().Build(cmd.Context(), rec)
			return err
		},
	}
}

func newInstallCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "install <recipe>",
		Short: "build, package and install a recipe",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rec, err := resolveRecipeArg(cliCfg, args[0])
			if err != nil {
				return err
			}
			opts := InstallOptions{
				PackOnly:  flagPackOnly,
				NoPackage: flagNoPackage,
				Strip:     flagStrip,
			}
			_, err = newCLIPipeline().Install(cmd.Context(), rec, opts)
			return err
		},
	}
	cmd.Flags().BoolVar(&flagPackOnly, "pack-only", false, "package and record, but do not touch the live root")
	cmd.Flags().BoolVar(&flagNoPackage, "no-package", false, "skip archive creation")
	cmd.Flags().BoolVar(&flagStrip, "strip", false, "strip staged binaries")
	return cmd
}

func newRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <name>",
		Short: "uninstall a package by reversing its manifest",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return newCLIPipeline().Remove(cmd.Context(), args[0])
		},
	}
}

func newInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info <name>",
		Short: "show installed and repository details for a package",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return Info(cliCfg, args[0])
		},
	}
}

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "list installed packages",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ListInstalled(cliCfg)
		},
	}
}

func newSearchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "search <term>",
		Short: "search the recipe repositories",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return Search(cliCfg, args[0])
		},
	}
}

func newSyncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "pull updates into the recipe repositories",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return Sync(cmd.Context(), cliCfg)
		},
	}
}

func newUpgradeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "upgrade <name|recipe>",
		Short: "reinstall a package when its recipe is newer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return newCLIPipeline().Upgrade(cmd.Context(), args[0], InstallOptions{})
		},
	}
}

func newLogsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logs [name]",
		Short: "tail a build log in a live viewer",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pkg := ""
			if len(args) == 1 {
				pkg = args[0]
			}
			return LogsTUI(cliCfg, pkg)
		},
	}
}

// exitCode maps the error taxonomy onto distinct process exit codes.
func exitCode(err error) int {
	var (
		parseErr *ParseError
		fetchErr *FetchError
		sumErr   *ChecksumError
		extErr   *ExtractError
		resErr   *ResolveError
		appErr   *ApplyError
		stageErr *StageError
		instErr  *InstallError
		manErr   *ManifestMissingError
	)
	switch {
	case errors.As(err, &parseErr):
		return 2
	case errors.As(err, &fetchErr):
		return 3
	case errors.As(err, &sumErr):
		return 4
	case errors.As(err, &extErr):
		return 5
	case errors.As(err, &resErr), errors.As(err, &appErr):
		return 6
	case errors.As(err, &stageErr):
		return 7
	case errors.As(err, &instErr):
		return 8
	case errors.As(err, &manErr):
		return 9
	}
	return 1
}
