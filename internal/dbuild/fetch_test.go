package dbuild

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

func testDownloader() *HTTPDownloader {
	d := NewHTTPDownloader()
	d.RetryDelay = time.Millisecond
	return d
}

func TestHTTPDownloaderFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "tarball bytes")
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "pkg.tar.gz")
	if err := testDownloader().Fetch(context.Background(), srv.URL+"/pkg.tar.gz", dest); err != nil {
		t.Fatalf("Fetch() error: %v", err)
	}

	data, err := os.ReadFile(dest)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "tarball bytes" {
		t.Errorf("downloaded content = %q, want %q", data, "tarball bytes")
	}
	if fileExists(dest + ".part") {
		t.Error("temporary .part file left behind after success")
	}
}

func TestHTTPDownloaderRetriesThenSucceeds(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		fmt.Fprint(w, "ok")
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "file")
	if err := testDownloader().Fetch(context.Background(), srv.URL, dest); err != nil {
		t.Fatalf("Fetch() error: %v, want success on third attempt", err)
	}
	if got := hits.Load(); got != 3 {
		t.Errorf("server hits = %d, want 3", got)
	}
}

func TestHTTPDownloaderExhaustsAttempts(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "file")
	err := testDownloader().Fetch(context.Background(), srv.URL, dest)
	var fe *FetchError
	if !errors.As(err, &fe) {
		t.Fatalf("Fetch() error = %v, want FetchError", err)
	}
	if fe.Attempts != 3 {
		t.Errorf("FetchError.Attempts = %d, want 3", fe.Attempts)
	}
	if got := hits.Load(); got != 3 {
		t.Errorf("server hits = %d, want 3", got)
	}
	if fileExists(dest) {
		t.Error("dest exists after exhausted attempts")
	}
}

func TestFetchSourceCacheHitSkipsDownload(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		fmt.Fprint(w, "fresh")
	}))
	defer srv.Close()

	cfg, _ := testConfig(t)
	cached := filepath.Join(cfg.SourceCache, "pkg.tar.gz")
	if err := os.MkdirAll(cfg.SourceCache, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(cached, []byte("cached"), 0o644); err != nil {
		t.Fatal(err)
	}
	sum := mustHashFile(t, cached)

	rec := &Recipe{Name: "pkg", Version: "1"}
	src := Source{URL: srv.URL + "/pkg.tar.gz", Checksum: sum}
	path, err := fetchSource(context.Background(), cfg, rec, src, testDownloader())
	if err != nil {
		t.Fatalf("fetchSource() error: %v", err)
	}
	if path != cached {
		t.Errorf("fetchSource() = %q, want cached path %q", path, cached)
	}
	if got := hits.Load(); got != 0 {
		t.Errorf("server hits = %d, want 0 for a cache hit", got)
	}
}

func TestFetchSourceCacheHitStillVerified(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	cfg, _ := testConfig(t)
	cached := filepath.Join(cfg.SourceCache, "pkg.tar.gz")
	if err := os.MkdirAll(cfg.SourceCache, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(cached, []byte("tampered"), 0o644); err != nil {
		t.Fatal(err)
	}

	rec := &Recipe{Name: "pkg", Version: "1"}
	src := Source{URL: srv.URL + "/pkg.tar.gz", Checksum: "deadbeef"}
	_, err := fetchSource(context.Background(), cfg, rec, src, testDownloader())
	var ce *ChecksumError
	if !errors.As(err, &ce) {
		t.Fatalf("fetchSource() error = %v, want ChecksumError", err)
	}
	if got := hits.Load(); got != 0 {
		t.Errorf("server hits = %d, a bad cache entry must not be silently re-downloaded", got)
	}
	if !fileExists(cached) {
		t.Error("bad cache entry was deleted, want it left for inspection")
	}
}

func TestFetchSourceLocalCopiedIntoCache(t *testing.T) {
	cfg, _ := testConfig(t)
	recDir := t.TempDir()
	local := filepath.Join(recDir, "data.tar.gz")
	if err := os.WriteFile(local, []byte("local bytes"), 0o644); err != nil {
		t.Fatal(err)
	}

	rec := &Recipe{Name: "pkg", Version: "1", Dir: recDir}
	src := Source{URL: "data.tar.gz", Checksum: mustHashFile(t, local)}
	path, err := fetchSource(context.Background(), cfg, rec, src, testDownloader())
	if err != nil {
		t.Fatalf("fetchSource() error: %v", err)
	}
	if filepath.Dir(path) != cfg.SourceCache {
		t.Errorf("local source cached at %q, want under %q", path, cfg.SourceCache)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "local bytes" {
		t.Errorf("cached copy = %q, want %q", data, "local bytes")
	}
}

func TestFetchSourcesParallel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "content of ", r.URL.Path)
	}))
	defer srv.Close()

	cfg, _ := testConfig(t)
	cfg.DownloadWorkers = 2
	rec := &Recipe{Name: "pkg", Version: "1"}
	for i := 0; i < 3; i++ {
		rec.Sources = append(rec.Sources, Source{
			URL:      fmt.Sprintf("%s/file-%d.tar", srv.URL, i),
			Checksum: "skip",
		})
	}

	paths, err := fetchSources(context.Background(), cfg, rec, testDownloader())
	if err != nil {
		t.Fatalf("fetchSources() error: %v", err)
	}
	if len(paths) != 3 {
		t.Fatalf("len(paths) = %d, want 3", len(paths))
	}
	for i, path := range paths {
		want := fmt.Sprintf("file-%d.tar", i)
		if filepath.Base(path) != want {
			t.Errorf("paths[%d] = %q, want base %q", i, path, want)
		}
	}
}

func TestFetchSourcesAbortsOnBadChecksum(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "content")
	}))
	defer srv.Close()

	cfg, _ := testConfig(t)
	rec := &Recipe{Name: "pkg", Version: "1", Sources: []Source{
		{URL: srv.URL + "/good.tar", Checksum: "skip"},
		{URL: srv.URL + "/bad.tar", Checksum: "deadbeef"},
	}}

	_, err := fetchSources(context.Background(), cfg, rec, testDownloader())
	var ce *ChecksumError
	if !errors.As(err, &ce) {
		t.Fatalf("fetchSources() error = %v, want ChecksumError", err)
	}
}
