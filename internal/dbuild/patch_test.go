package dbuild

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"reflect"
	"sync/atomic"
	"testing"
)

type fakePatchTool struct {
	applied []string
	failOn  string
}

func (f *fakePatchTool) Apply(ctx context.Context, patchFile, workDir string, log io.Writer) error {
	name := filepath.Base(patchFile)
	f.applied = append(f.applied, name)
	if name == f.failOn {
		return fmt.Errorf("hunk #1 FAILED")
	}
	return nil
}

type fakeVcs struct {
	files map[string]string // repo@ref:path -> content
}

func (f fakeVcs) FileAtRef(ctx context.Context, repoURL, ref, path, dest string) error {
	content, ok := f.files[repoURL+"@"+ref+":"+path]
	if !ok {
		return fmt.Errorf("path %s not found at %s", path, ref)
	}
	return os.WriteFile(dest, []byte(content), 0o644)
}

func TestResolveLocalPatch(t *testing.T) {
	cfg, _ := testConfig(t)
	recDir := t.TempDir()
	local := filepath.Join(recDir, "fix.patch")
	if err := os.WriteFile(local, []byte("--- a\n+++ b\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	rec := &Recipe{Name: "x", Version: "1", Dir: recDir}
	ps := PatchSpec{Kind: PatchLocal, URL: "fix.patch", Checksum: mustHashFile(t, local)}
	got, err := resolvePatch(context.Background(), cfg, rec, ps, testDownloader(), fakeVcs{})
	if err != nil {
		t.Fatalf("resolvePatch() error: %v", err)
	}
	if got != local {
		t.Errorf("resolvePatch() = %q, want %q", got, local)
	}
}

func TestResolveLocalPatchMissing(t *testing.T) {
	cfg, _ := testConfig(t)
	rec := &Recipe{Name: "x", Version: "1", Dir: t.TempDir()}
	ps := PatchSpec{Kind: PatchLocal, URL: "nope.patch"}

	_, err := resolvePatch(context.Background(), cfg, rec, ps, testDownloader(), fakeVcs{})
	var re *ResolveError
	if !errors.As(err, &re) {
		t.Fatalf("resolvePatch() error = %v, want ResolveError", err)
	}
}

func TestResolveHTTPPatchUsesCache(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		fmt.Fprint(w, "patch body\n")
	}))
	defer srv.Close()

	cfg, _ := testConfig(t)
	rec := &Recipe{Name: "x", Version: "1"}
	ps := PatchSpec{Kind: PatchHTTP, URL: srv.URL + "/fix.patch", Checksum: "skip"}

	first, err := resolvePatch(context.Background(), cfg, rec, ps, testDownloader(), fakeVcs{})
	if err != nil {
		t.Fatalf("resolvePatch() first call error: %v", err)
	}
	second, err := resolvePatch(context.Background(), cfg, rec, ps, testDownloader(), fakeVcs{})
	if err != nil {
		t.Fatalf("resolvePatch() second call error: %v", err)
	}
	if first != second {
		t.Errorf("cache paths differ: %q vs %q", first, second)
	}
	if got := hits.Load(); got != 1 {
		t.Errorf("server hits = %d, want 1 (second resolve served from cache)", got)
	}
}

func TestResolveHTTPPatchBadChecksum(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "patch body\n")
	}))
	defer srv.Close()

	cfg, _ := testConfig(t)
	rec := &Recipe{Name: "x", Version: "1"}
	ps := PatchSpec{Kind: PatchHTTP, URL: srv.URL + "/fix.patch", Checksum: "deadbeef"}

	_, err := resolvePatch(context.Background(), cfg, rec, ps, testDownloader(), fakeVcs{})
	var ce *ChecksumError
	if !errors.As(err, &ce) {
		t.Fatalf("resolvePatch() error = %v, want ChecksumError", err)
	}
}

func TestResolveVcsPatch(t *testing.T) {
	cfg, _ := testConfig(t)
	rec := &Recipe{Name: "x", Version: "1"}
	vcs := fakeVcs{files: map[string]string{
		"https://git.example.com/ports.git@v1.2:patches/musl.patch": "vcs patch\n",
	}}
	ps := PatchSpec{
		Kind: PatchVcs,
		Repo: "https://git.example.com/ports.git",
		Ref:  "v1.2",
		Path: "patches/musl.patch",
	}

	got, err := resolvePatch(context.Background(), cfg, rec, ps, testDownloader(), vcs)
	if err != nil {
		t.Fatalf("resolvePatch() error: %v", err)
	}
	if filepath.Base(got) != "musl.patch" {
		t.Errorf("resolved file = %q, want base name musl.patch", got)
	}
	data, err := os.ReadFile(got)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "vcs patch\n" {
		t.Errorf("materialized content = %q, want %q", data, "vcs patch\n")
	}
}

func TestResolveVcsPatchMissingPath(t *testing.T) {
	cfg, _ := testConfig(t)
	rec := &Recipe{Name: "x", Version: "1"}
	ps := PatchSpec{Kind: PatchVcs, Repo: "r", Ref: "v1", Path: "gone.patch"}

	_, err := resolvePatch(context.Background(), cfg, rec, ps, testDownloader(), fakeVcs{})
	var re *ResolveError
	if !errors.As(err, &re) {
		t.Fatalf("resolvePatch() error = %v, want ResolveError", err)
	}
}

func TestApplyPatchesOrderAndAbort(t *testing.T) {
	dir := t.TempDir()
	var files []string
	rec := &Recipe{Name: "x", Version: "1"}
	for _, name := range []string{"01-first.patch", "02-second.patch", "03-third.patch"} {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte("patch\n"), 0o644); err != nil {
			t.Fatal(err)
		}
		files = append(files, path)
		rec.Patches = append(rec.Patches, PatchSpec{Kind: PatchLocal, URL: name})
	}

	tool := &fakePatchTool{failOn: "02-second.patch"}
	var log bytes.Buffer
	err := applyPatches(context.Background(), rec, dir, files, tool, &log)

	var ae *ApplyError
	if !errors.As(err, &ae) {
		t.Fatalf("applyPatches() error = %v, want ApplyError", err)
	}
	if ae.Patch != "02-second.patch" {
		t.Errorf("ApplyError.Patch = %q, want the failing entry", ae.Patch)
	}
	want := []string{"01-first.patch", "02-second.patch"}
	if !reflect.DeepEqual(tool.applied, want) {
		t.Errorf("applied = %v, want %v (third patch must not run)", tool.applied, want)
	}
}
