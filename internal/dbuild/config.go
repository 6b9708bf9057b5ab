package dbuild

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Config carries every directory and switch the pipeline uses. Components
// receive it (or the individual values) through their constructors; nothing
// below the CLI reads the process environment.
type Config struct {
	RootDir     string // live filesystem root, "/" on a normal system
	CacheDir    string // top of the cache tree
	SourceCache string // downloaded source archives
	PatchCache  string // downloaded/materialized patch files
	VcsMirrors  string // ref-pinned repository clones for vcs patches
	BuildRoot   string // per-package-version build trees
	LogDir      string // per-package-version stage logs
	PackageDir  string // built package archives
	DBDir       string // installed-package records
	LockDir     string // per-package operation locks

	RepoPaths []string // recipe repositories, searched in order

	RunChecks       bool // run the check stage (DBUILD_CHECKS)
	DefaultStrip    bool // strip staged binaries unless overridden per call
	DownloadWorkers int  // concurrent downloads within one fetch pass

	Values map[string]string // raw key=value pairs, passed into stage scripts
}

// DefaultConfig returns the standard layout rooted at rootDir.
func DefaultConfig(rootDir string) *Config {
	if rootDir == "" {
		rootDir = "/"
	}
	cache := filepath.Join(rootDir, "var", "cache", "dbuild")
	cfg := &Config{
		RootDir:         rootDir,
		CacheDir:        cache,
		BuildRoot:       filepath.Join(rootDir, "var", "tmp", "dbuild"),
		DBDir:           filepath.Join(rootDir, "var", "db", "dbuild", "installed"),
		RunChecks:       true,
		DownloadWorkers: 4,
		Values:          make(map[string]string),
	}
	cfg.deriveDirs()
	return cfg
}

// deriveDirs fills the directories that hang off CacheDir unless the config
// file set them explicitly.
func (c *Config) deriveDirs() {
	if c.SourceCache == "" {
		c.SourceCache = filepath.Join(c.CacheDir, "sources")
	}
	if c.PatchCache == "" {
		c.PatchCache = filepath.Join(c.CacheDir, "patches")
	}
	if c.VcsMirrors == "" {
		c.VcsMirrors = filepath.Join(c.CacheDir, "mirrors")
	}
	if c.LogDir == "" {
		c.LogDir = filepath.Join(c.CacheDir, "logs")
	}
	if c.PackageDir == "" {
		c.PackageDir = filepath.Join(c.CacheDir, "packages")
	}
	if c.LockDir == "" {
		c.LockDir = filepath.Join(c.CacheDir, "locks")
	}
}

// LoadConfigFile reads a key="value" config file into cfg. Blank lines and
// lines starting with # are skipped. Unknown keys are kept in Values and
// exported into stage script environments.
func LoadConfigFile(cfg *Config, path string) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open config %s: %w", path, err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		val := strings.Trim(strings.TrimSpace(parts[1]), "\"'")
		cfg.applyKey(key, val)
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	cfg.deriveDirs()
	return nil
}

// ApplyEnvOverrides lets DBUILD_* variables override config-file values.
// The CLI passes os.LookupEnv; tests pass a map lookup.
func ApplyEnvOverrides(cfg *Config, lookup func(string) (string, bool)) {
	for _, key := range []string{
		"DBUILD_PATH", "DBUILD_CACHE", "DBUILD_BUILD_DIR",
		"DBUILD_PACKAGE_DIR", "DBUILD_LOG_DIR",
		"DBUILD_CHECKS", "DBUILD_STRIP", "DBUILD_WORKERS",
	} {
		if val, ok := lookup(key); ok && val != "" {
			cfg.applyKey(key, val)
		}
	}
	cfg.deriveDirs()
}

func (c *Config) applyKey(key, val string) {
	switch key {
	case "DBUILD_PATH":
		c.RepoPaths = splitPathList(val)
	case "DBUILD_CACHE":
		c.CacheDir = val
		c.SourceCache = ""
		c.PatchCache = ""
		c.VcsMirrors = ""
		c.LogDir = ""
		c.PackageDir = ""
		c.LockDir = ""
	case "DBUILD_SOURCE_CACHE":
		c.SourceCache = val
	case "DBUILD_PATCH_CACHE":
		c.PatchCache = val
	case "DBUILD_BUILD_DIR":
		c.BuildRoot = val
	case "DBUILD_LOG_DIR":
		c.LogDir = val
	case "DBUILD_PACKAGE_DIR":
		c.PackageDir = val
	case "DBUILD_CHECKS":
		c.RunChecks = val != "0" && !strings.EqualFold(val, "no")
	case "DBUILD_STRIP":
		c.DefaultStrip = val == "1" || strings.EqualFold(val, "yes")
	case "DBUILD_WORKERS":
		if n, err := strconv.Atoi(val); err == nil && n > 0 {
			c.DownloadWorkers = n
		}
	default:
		c.Values[key] = val
	}
}

func splitPathList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ":") {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// BuildDir returns the per-package-version scratch directory.
func (c *Config) BuildDir(name, version string) string {
	return filepath.Join(c.BuildRoot, name+"-"+version)
}

// LogPath returns the per-package-version stage log file.
func (c *Config) LogPath(name, version string) string {
	return filepath.Join(c.LogDir, name+"-"+version+".log")
}

// PackagePath returns where the built archive for a package lands.
func (c *Config) PackagePath(name, version, release string) string {
	return filepath.Join(c.PackageDir, fmt.Sprintf("%s-%s-%s.pkg.tar.zst", name, version, release))
}

// RecordDir returns the metadata directory for one installed package.
func (c *Config) RecordDir(name string) string {
	return filepath.Join(c.DBDir, name)
}
