package dbuild

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func newTestLog(t *testing.T) *BuildLog {
	t.Helper()
	log, err := OpenBuildLog(filepath.Join(t.TempDir(), "build.log"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { log.Close() })
	return log
}

func TestStageRunnerWritesLog(t *testing.T) {
	cfg, _ := testConfig(t)
	rec := &Recipe{
		Name:    "x",
		Version: "1",
		Release: "1",
		Steps:   map[Stage]string{StageBuild: "echo marker-build\n"},
	}
	log := newTestLog(t)
	runner := &StageRunner{Exec: &Executor{}}

	err := runner.Run(context.Background(), rec, StageBuild, t.TempDir(), stageEnv(cfg, rec, ""), log)
	if err != nil {
		t.Fatalf("Run(build) error: %v", err)
	}

	data, err := os.ReadFile(log.Path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "=== stage build ===") {
		t.Errorf("log = %q, want stage header", data)
	}
	if !strings.Contains(string(data), "marker-build") {
		t.Errorf("log = %q, want script output", data)
	}
}

func TestStageRunnerAbsentStageIsNoop(t *testing.T) {
	cfg, _ := testConfig(t)
	rec := &Recipe{Name: "x", Version: "1", Release: "1", Steps: map[Stage]string{}}
	log := newTestLog(t)
	runner := &StageRunner{Exec: &Executor{}}

	if err := runner.Run(context.Background(), rec, StageCheck, t.TempDir(), stageEnv(cfg, rec, ""), log); err != nil {
		t.Fatalf("Run(absent check) = %v, want nil", err)
	}
	data, err := os.ReadFile(log.Path)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(data), "=== stage check ===") {
		t.Error("absent stage wrote a log header, want nothing")
	}
}

func TestStageRunnerFailure(t *testing.T) {
	cfg, _ := testConfig(t)
	rec := &Recipe{
		Name:    "x",
		Version: "1",
		Release: "1",
		Steps:   map[Stage]string{StageCheck: "echo before-fail\nexit 3\n"},
	}
	log := newTestLog(t)
	runner := &StageRunner{Exec: &Executor{}}

	err := runner.Run(context.Background(), rec, StageCheck, t.TempDir(), stageEnv(cfg, rec, ""), log)
	var se *StageError
	if !errors.As(err, &se) {
		t.Fatalf("Run(failing check) error = %v, want StageError", err)
	}
	if se.Stage != StageCheck {
		t.Errorf("StageError.Stage = %q, want %q", se.Stage, StageCheck)
	}
	if se.LogPath != log.Path {
		t.Errorf("StageError.LogPath = %q, want %q", se.LogPath, log.Path)
	}
	data, err := os.ReadFile(log.Path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "before-fail") {
		t.Errorf("log = %q, want output up to the failure", data)
	}
}

func TestStageRunnerInstallFallback(t *testing.T) {
	// A fake make on PATH records how the fallback invokes it.
	binDir := t.TempDir()
	argsFile := filepath.Join(t.TempDir(), "make-args")
	script := "#!/bin/sh\nprintf '%s\\n' \"$@\" > \"$MAKE_ARGS_FILE\"\n"
	if err := os.WriteFile(filepath.Join(binDir, "make"), []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PATH", binDir+string(os.PathListSeparator)+os.Getenv("PATH"))

	cfg, _ := testConfig(t)
	cfg.Values["MAKE_ARGS_FILE"] = argsFile
	rec := &Recipe{Name: "x", Version: "1", Release: "1", Steps: map[Stage]string{}}
	destDir := t.TempDir()
	log := newTestLog(t)
	runner := &StageRunner{Exec: &Executor{}}

	err := runner.Run(context.Background(), rec, StageInstall, t.TempDir(), stageEnv(cfg, rec, destDir), log)
	if err != nil {
		t.Fatalf("Run(absent install) error: %v", err)
	}

	data, err := os.ReadFile(argsFile)
	if err != nil {
		t.Fatalf("fallback did not invoke make: %v", err)
	}
	got := strings.Fields(string(data))
	if len(got) != 2 || got[0] != "DESTDIR="+destDir || got[1] != "install" {
		t.Errorf("make args = %v, want [DESTDIR=%s install]", got, destDir)
	}
}

func TestStageRunnerBindsDestDir(t *testing.T) {
	cfg, _ := testConfig(t)
	destDir := t.TempDir()
	rec := &Recipe{
		Name:    "x",
		Version: "2.0",
		Release: "1",
		Steps: map[Stage]string{
			StageInstall: "echo \"$NAME $VERSION\" > \"$DESTDIR/envdump\"\n",
		},
	}
	log := newTestLog(t)
	runner := &StageRunner{Exec: &Executor{}}

	err := runner.Run(context.Background(), rec, StageInstall, t.TempDir(), stageEnv(cfg, rec, destDir), log)
	if err != nil {
		t.Fatalf("Run(install) error: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(destDir, "envdump"))
	if err != nil {
		t.Fatal(err)
	}
	if got := strings.TrimSpace(string(data)); got != "x 2.0" {
		t.Errorf("envdump = %q, want %q", got, "x 2.0")
	}
}

func TestStageEnvIncludesConfigValues(t *testing.T) {
	cfg, _ := testConfig(t)
	cfg.Values["CFLAGS"] = "-O2"
	rec := &Recipe{Name: "x", Version: "1", Release: "1"}

	env := stageEnv(cfg, rec, "/stage")
	want := map[string]bool{
		"NAME=x":         false,
		"VERSION=1":      false,
		"RELEASE=1":      false,
		"DESTDIR=/stage": false,
		"CFLAGS=-O2":     false,
	}
	for _, kv := range env {
		if _, ok := want[kv]; ok {
			want[kv] = true
		}
	}
	for kv, seen := range want {
		if !seen {
			t.Errorf("stageEnv() missing %q", kv)
		}
	}
}
