package dbuild

import (
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// Stage names the fixed lifecycle steps a recipe may define.
type Stage string

const (
	StagePreconfig   Stage = "preconfig"
	StageConfigure   Stage = "configure"
	StageBuild       Stage = "build"
	StageCheck       Stage = "check"
	StagePreinstall  Stage = "preinstall"
	StageInstall     Stage = "install"
	StagePostinstall Stage = "postinstall"
	StagePostremove  Stage = "postremove"
)

// allStages lists every stage in lifecycle order. Render and the runner
// both iterate this, so scripts always execute in the documented order.
var allStages = []Stage{
	StagePreconfig, StageConfigure, StageBuild, StageCheck,
	StagePreinstall, StageInstall, StagePostinstall, StagePostremove,
}

// buildStages are the stages that run inside the build tree before staging.
var buildStages = []Stage{StagePreconfig, StageConfigure, StageBuild, StageCheck}

func validStage(s Stage) bool {
	for _, st := range allStages {
		if st == s {
			return true
		}
	}
	return false
}

// Source is one fetchable input of a recipe. Checksum is resolved during
// parsing, from either the inline form or the positional sha256sums block,
// so later phases never consult the checksum list again.
type Source struct {
	URL      string
	Checksum string
}

// Remote reports whether the source needs downloading.
func (s Source) Remote() bool {
	return strings.HasPrefix(s.URL, "http://") || strings.HasPrefix(s.URL, "https://")
}

// CacheName returns the file name the source is stored under in the cache.
func (s Source) CacheName() string {
	if u, err := url.Parse(s.URL); err == nil && u.Path != "" {
		return path.Base(u.Path)
	}
	return filepath.Base(s.URL)
}

// PatchKind discriminates how a patch entry is resolved.
type PatchKind string

const (
	PatchHTTP  PatchKind = "http"
	PatchVcs   PatchKind = "vcs"
	PatchLocal PatchKind = "local"
)

// PatchSpec is one entry of a patches block. For PatchVcs the entry form is
// vcs+<repo>@<ref>:<path>; Repo, Ref and Path hold the split parts. For the
// other kinds URL holds the address or local path.
type PatchSpec struct {
	Kind     PatchKind
	URL      string
	Repo     string
	Ref      string
	Path     string
	Checksum string
}

// String renders the spec back into its recipe entry form.
func (p PatchSpec) String() string {
	if p.Kind == PatchVcs {
		return "vcs+" + p.Repo + "@" + p.Ref + ":" + p.Path
	}
	return p.URL
}

// BaseName returns the patch file name used in the cache and in logs.
func (p PatchSpec) BaseName() string {
	switch p.Kind {
	case PatchVcs:
		return path.Base(p.Path)
	case PatchHTTP:
		if u, err := url.Parse(p.URL); err == nil && u.Path != "" {
			return path.Base(u.Path)
		}
	}
	return filepath.Base(p.URL)
}

// Recipe is the parsed form of one package recipe.
type Recipe struct {
	Name    string
	Version string
	Release string
	RootDir string // overrides extracted-root detection when set
	Dir     string // directory the recipe file lives in
	Sources []Source
	Patches []PatchSpec
	Steps   map[Stage]string

	raw []byte // original recipe text, snapshotted on install
}

// ParseRecipeFile reads and parses the recipe at path.
func ParseRecipeFile(path string) (*Recipe, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	rec, err := parseRecipe(data, path)
	if err != nil {
		return nil, err
	}
	rec.Dir = filepath.Dir(path)
	return rec, nil
}

// ParseRecipe parses recipe text from r.
func ParseRecipe(r io.Reader) (*Recipe, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return parseRecipe(data, "recipe")
}

type sourceEntry struct {
	url string
	sum string
}

func parseRecipe(data []byte, path string) (*Recipe, error) {
	rec := &Recipe{
		Release: "1",
		Steps:   make(map[Stage]string),
		raw:     data,
	}
	var (
		sources []sourceEntry
		sums    []string
	)
	seen := make(map[string]bool)
	lines := strings.Split(string(data), "\n")

	i := 0
	for i < len(lines) {
		lineNo := i + 1
		line := strings.TrimSpace(lines[i])
		i++
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		idxEq := strings.Index(line, "=")
		idxHd := strings.Index(line, "<<")
		if idxHd >= 0 && (idxEq < 0 || idxHd < idxEq) {
			label := strings.TrimSpace(line[:idxHd])
			tag := strings.TrimSpace(line[idxHd+2:])
			if label == "" || tag == "" {
				return nil, &ParseError{Path: path, Line: lineNo, Msg: "malformed block opener, expected label<<TAG"}
			}
			if seen[label] {
				return nil, &ParseError{Path: path, Line: lineNo, Msg: fmt.Sprintf("duplicate block %q", label)}
			}
			seen[label] = true

			start := i
			end := -1
			for j := i; j < len(lines); j++ {
				if strings.TrimRight(lines[j], "\r") == tag {
					end = j
					break
				}
			}
			if end < 0 {
				return nil, &ParseError{Path: path, Line: lineNo, Msg: fmt.Sprintf("unterminated block %q, missing closing %s", label, tag)}
			}
			body := lines[start:end]
			i = end + 1

			switch label {
			case "sources":
				for _, bl := range body {
					t := strings.TrimSpace(bl)
					if t == "" || strings.HasPrefix(t, "#") {
						continue
					}
					f := strings.Fields(t)
					e := sourceEntry{url: f[0]}
					if len(f) > 1 {
						e.sum = normalizeChecksum(f[1])
					}
					sources = append(sources, e)
				}
			case "sha256sums":
				for _, bl := range body {
					t := strings.TrimSpace(bl)
					if t == "" || strings.HasPrefix(t, "#") {
						continue
					}
					sums = append(sums, normalizeChecksum(strings.Fields(t)[0]))
				}
			case "patches":
				for k, bl := range body {
					t := strings.TrimSpace(bl)
					if t == "" || strings.HasPrefix(t, "#") {
						continue
					}
					ps, err := parsePatchEntry(t, path, start+k+1)
					if err != nil {
						return nil, err
					}
					rec.Patches = append(rec.Patches, ps)
				}
			default:
				st := Stage(label)
				if !validStage(st) {
					return nil, &ParseError{Path: path, Line: lineNo, Msg: fmt.Sprintf("unknown block label %q", label)}
				}
				rec.Steps[st] = normalizeBody(body)
			}
			continue
		}

		if idxEq < 0 {
			return nil, &ParseError{Path: path, Line: lineNo, Msg: "malformed line, expected key=value or label<<TAG"}
		}
		key := strings.TrimSpace(line[:idxEq])
		val := strings.Trim(strings.TrimSpace(line[idxEq+1:]), "\"'")
		switch key {
		case "name":
			rec.Name = val
		case "version":
			rec.Version = val
		case "release":
			if val != "" {
				rec.Release = val
			}
		case "rootdir":
			rec.RootDir = val
		default:
			// unknown scalar keys are tolerated for forward compatibility
		}
	}

	if rec.Name == "" {
		return nil, &ParseError{Path: path, Msg: "missing required field: name"}
	}
	if rec.Version == "" {
		return nil, &ParseError{Path: path, Msg: "missing required field: version"}
	}

	// Bind positional checksums to their sources. Inline checksums win.
	for idx, e := range sources {
		src := Source{URL: e.url, Checksum: e.sum}
		if src.Checksum == "" && idx < len(sums) {
			src.Checksum = sums[idx]
		}
		rec.Sources = append(rec.Sources, src)
	}
	return rec, nil
}

// normalizeBody joins stage body lines and guarantees exactly one trailing
// newline on non-empty bodies. Everything else is preserved as written.
func normalizeBody(body []string) string {
	for len(body) > 0 && body[len(body)-1] == "" {
		body = body[:len(body)-1]
	}
	if len(body) == 0 {
		return ""
	}
	return strings.Join(body, "\n") + "\n"
}

// normalizeChecksum strips an optional sha256: prefix, case-insensitively.
func normalizeChecksum(s string) string {
	if len(s) >= 7 && strings.EqualFold(s[:7], "sha256:") {
		return s[7:]
	}
	return s
}

func parsePatchEntry(entry, path string, line int) (PatchSpec, error) {
	f := strings.Fields(entry)
	spec := f[0]
	var sum string
	if len(f) > 1 {
		sum = normalizeChecksum(f[1])
	}
	if strings.HasPrefix(spec, "vcs+") {
		rest := strings.TrimPrefix(spec, "vcs+")
		at := strings.LastIndex(rest, "@")
		if at <= 0 {
			return PatchSpec{}, &ParseError{Path: path, Line: line, Msg: fmt.Sprintf("malformed patch %q, expected vcs+repo@ref:path", spec)}
		}
		repo, refPath := rest[:at], rest[at+1:]
		colon := strings.Index(refPath, ":")
		if colon <= 0 || colon == len(refPath)-1 {
			return PatchSpec{}, &ParseError{Path: path, Line: line, Msg: fmt.Sprintf("malformed patch %q, expected vcs+repo@ref:path", spec)}
		}
		return PatchSpec{
			Kind:     PatchVcs,
			Repo:     repo,
			Ref:      refPath[:colon],
			Path:     refPath[colon+1:],
			Checksum: sum,
		}, nil
	}
	if strings.HasPrefix(spec, "http://") || strings.HasPrefix(spec, "https://") {
		return PatchSpec{Kind: PatchHTTP, URL: spec, Checksum: sum}, nil
	}
	return PatchSpec{Kind: PatchLocal, URL: spec, Checksum: sum}, nil
}

// Render writes the recipe back out in canonical form. Parsing the result
// yields an equivalent recipe: checksums are rendered inline, so positional
// sha256sums blocks collapse into the sources block.
func (r *Recipe) Render() string {
	var b strings.Builder
	fmt.Fprintf(&b, "name=\"%s\"\n", r.Name)
	fmt.Fprintf(&b, "version=\"%s\"\n", r.Version)
	fmt.Fprintf(&b, "release=\"%s\"\n", r.Release)
	if r.RootDir != "" {
		fmt.Fprintf(&b, "rootdir=\"%s\"\n", r.RootDir)
	}

	if len(r.Sources) > 0 {
		b.WriteString("\nsources<<EOF\n")
		for _, s := range r.Sources {
			if s.Checksum != "" {
				fmt.Fprintf(&b, "%s %s\n", s.URL, s.Checksum)
			} else {
				b.WriteString(s.URL + "\n")
			}
		}
		b.WriteString("EOF\n")
	}

	if len(r.Patches) > 0 {
		b.WriteString("\npatches<<EOF\n")
		for _, p := range r.Patches {
			if p.Checksum != "" {
				fmt.Fprintf(&b, "%s %s\n", p.String(), p.Checksum)
			} else {
				b.WriteString(p.String() + "\n")
			}
		}
		b.WriteString("EOF\n")
	}

	for _, st := range allStages {
		body, ok := r.Steps[st]
		if !ok {
			continue
		}
		tag := chooseTag(body)
		fmt.Fprintf(&b, "\n%s<<%s\n", st, tag)
		b.WriteString(body)
		fmt.Fprintf(&b, "%s\n", tag)
	}
	return b.String()
}

// chooseTag picks a heredoc tag that does not collide with a body line.
func chooseTag(body string) string {
	tag := "EOF"
	for n := 2; bodyHasLine(body, tag); n++ {
		tag = fmt.Sprintf("EOF%d", n)
	}
	return tag
}

func bodyHasLine(body, tag string) bool {
	for _, l := range strings.Split(body, "\n") {
		if l == tag {
			return true
		}
	}
	return false
}
