package dbuild

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// findRecipeDir searches the configured repositories in order for a
// package name, returning the directory holding its recipe file. Earlier
// repositories shadow later ones.
func findRecipeDir(cfg *Config, name string) (string, error) {
	for _, repo := range cfg.RepoPaths {
		dir := filepath.Join(repo, name)
		if fileExists(filepath.Join(dir, "recipe")) {
			return dir, nil
		}
	}
	return "", fmt.Errorf("package %s not found in any repository (set DBUILD_PATH)", name)
}

// resolveRecipeArg loads a recipe from a direct file path, a directory
// holding a recipe file, or a package name looked up in the repositories.
func resolveRecipeArg(cfg *Config, arg string) (*Recipe, error) {
	if fi, err := os.Stat(arg); err == nil {
		if !fi.IsDir() {
			return ParseRecipeFile(arg)
		}
		if p := filepath.Join(arg, "recipe"); fileExists(p) {
			return ParseRecipeFile(p)
		}
	}
	dir, err := findRecipeDir(cfg, arg)
	if err != nil {
		return nil, err
	}
	return ParseRecipeFile(filepath.Join(dir, "recipe"))
}

type repoEntry struct {
	Name string
	Dir  string
}

// searchRecipes lists recipe directories across all repositories whose
// package name contains term. An empty term matches everything.
func searchRecipes(cfg *Config, term string) ([]repoEntry, error) {
	term = strings.ToLower(term)
	seen := make(map[string]bool)
	var out []repoEntry
	for _, repo := range cfg.RepoPaths {
		entries, err := os.ReadDir(repo)
		if err != nil {
			debugf("skipping repository %s: %v", repo, err)
			continue
		}
		for _, e := range entries {
			if !e.IsDir() || seen[e.Name()] {
				continue
			}
			if term != "" && !strings.Contains(strings.ToLower(e.Name()), term) {
				continue
			}
			if !fileExists(filepath.Join(repo, e.Name(), "recipe")) {
				continue
			}
			seen[e.Name()] = true
			out = append(out, repoEntry{Name: e.Name(), Dir: filepath.Join(repo, e.Name())})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}
