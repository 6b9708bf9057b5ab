package dbuild

import "fmt"

// ParseError reports a malformed or incomplete recipe. It always fires
// before any network or filesystem activity.
type ParseError struct {
	Path string // recipe file, empty when parsing from memory
	Line int    // 1-based, 0 when the error is not tied to one line
	Msg  string
}

func (e *ParseError) Error() string {
	where := e.Path
	if where == "" {
		where = "recipe"
	}
	if e.Line > 0 {
		return fmt.Sprintf("%s:%d: %s", where, e.Line, e.Msg)
	}
	return fmt.Sprintf("%s: %s", where, e.Msg)
}

// FetchError reports a download that failed after the bounded retries.
type FetchError struct {
	URL      string
	Attempts int
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s failed after %d attempts: %v", e.URL, e.Attempts, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// ChecksumError reports an integrity mismatch. The offending file is left
// in place for inspection and is never re-downloaded automatically.
type ChecksumError struct {
	Path string
	Want string
	Got  string
}

func (e *ChecksumError) Error() string {
	return fmt.Sprintf("checksum mismatch for %s: expected %s, got %s", e.Path, e.Want, e.Got)
}

// ExtractError reports an unsupported or corrupt archive.
type ExtractError struct {
	Archive string
	Msg     string
	Err     error
}

func (e *ExtractError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("extract %s: %s: %v", e.Archive, e.Msg, e.Err)
	}
	return fmt.Sprintf("extract %s: %s", e.Archive, e.Msg)
}

func (e *ExtractError) Unwrap() error { return e.Err }

// ResolveError reports a patch spec that could not be materialized into a
// local file.
type ResolveError struct {
	Spec string
	Err  error
}

func (e *ResolveError) Error() string {
	return fmt.Sprintf("resolve patch %s: %v", e.Spec, e.Err)
}

func (e *ResolveError) Unwrap() error { return e.Err }

// ApplyError reports the first patch that failed to apply. Later patches
// never run.
type ApplyError struct {
	Patch string
	Err   error
}

func (e *ApplyError) Error() string {
	return fmt.Sprintf("apply patch %s: %v", e.Patch, e.Err)
}

func (e *ApplyError) Unwrap() error { return e.Err }

// StageError reports a lifecycle script that exited non-zero. LogPath points
// at the per-package log holding the script's output.
type StageError struct {
	Stage   Stage
	LogPath string
	Err     error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s failed (see %s): %v", e.Stage, e.LogPath, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// InstallError reports a failure while staging, packaging or materializing
// an install.
type InstallError struct {
	Pkg  string
	Step string
	Err  error
}

func (e *InstallError) Error() string {
	return fmt.Sprintf("install %s: %s: %v", e.Pkg, e.Step, e.Err)
}

func (e *InstallError) Unwrap() error { return e.Err }

// ManifestMissingError reports a remove of a package that was never
// installed, so there is nothing to reverse.
type ManifestMissingError struct {
	Name string
}

func (e *ManifestMissingError) Error() string {
	return fmt.Sprintf("package %s is not installed (no manifest)", e.Name)
}
