package dbuild

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
)

// BuildLog is the single per-package log shared by every stage of one
// invocation. Opening truncates; stages then append in order.
type BuildLog struct {
	Path string
	f    *os.File
}

// OpenBuildLog creates (or truncates) the log at path.
func OpenBuildLog(path string) (*BuildLog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, err
	}
	return &BuildLog{Path: path, f: f}, nil
}

// appendBuildLog reopens a log for appending, so the install and remove
// flows continue the log their build pass started.
func appendBuildLog(path string) (*BuildLog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	return &BuildLog{Path: path, f: f}, nil
}

func (l *BuildLog) Write(p []byte) (int, error) { return l.f.Write(p) }

func (l *BuildLog) Close() error { return l.f.Close() }

// StageRunner executes lifecycle scripts. Scripts are opaque: the runner
// materializes the body, runs it under sh -e in the given directory, and
// streams output to the build log.
type StageRunner struct {
	Exec *Executor
}

// Run executes one stage. A stage absent from the recipe is a successful
// no-op, except install, which falls back to the conventional
// make DESTDIR=... install invocation.
func (r *StageRunner) Run(ctx context.Context, rec *Recipe, stage Stage, workDir string, env []string, log *BuildLog) error {
	body, ok := rec.Steps[stage]
	if !ok {
		if stage != StageInstall {
			debugf("stage %s not defined, skipping", stage)
			return nil
		}
		body = "make DESTDIR=\"$DESTDIR\" install\n"
	}

	script, err := os.CreateTemp("", "dbuild-"+string(stage)+"-*.sh")
	if err != nil {
		return &StageError{Stage: stage, LogPath: log.Path, Err: err}
	}
	defer os.Remove(script.Name())
	if _, err := script.WriteString(body); err != nil {
		script.Close()
		return &StageError{Stage: stage, LogPath: log.Path, Err: err}
	}
	if err := script.Close(); err != nil {
		return &StageError{Stage: stage, LogPath: log.Path, Err: err}
	}

	cPrintf(colArrow, "-> ")
	cPrintln(colSuccess, "running "+string(stage))
	fmt.Fprintf(log, "=== stage %s ===\n", stage)

	cmd := exec.Command("sh", "-e", script.Name())
	cmd.Dir = workDir
	cmd.Env = env
	cmd.Stdout = log
	cmd.Stderr = log
	if err := r.Exec.Run(ctx, cmd); err != nil {
		return &StageError{Stage: stage, LogPath: log.Path, Err: err}
	}
	return nil
}

// stageEnv builds the environment stage scripts see: the process env plus
// the recipe identity, the destination root when staging, and any extra
// key=value pairs from the configuration file.
func stageEnv(cfg *Config, rec *Recipe, destDir string) []string {
	env := os.Environ()
	env = append(env,
		"NAME="+rec.Name,
		"VERSION="+rec.Version,
		"RELEASE="+rec.Release,
	)
	if destDir != "" {
		env = append(env, "DESTDIR="+destDir)
	}
	for k, v := range cfg.Values {
		env = append(env, k+"="+v)
	}
	return env
}
