package dbuild

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/schollz/progressbar/v3"
	"golang.org/x/sys/unix"
)

// Downloader fetches one URL into a local file. The default implementation
// talks HTTP; tests substitute their own.
type Downloader interface {
	Fetch(ctx context.Context, url, dest string) error
}

// HTTPDownloader downloads over HTTP(S) with bounded retries and an atomic
// rename, so a partial download never lands under the final name.
type HTTPDownloader struct {
	Client     *http.Client
	Attempts   int
	RetryDelay time.Duration // grows linearly with the attempt number
	Progress   bool          // draw a progress bar on stderr
}

// NewHTTPDownloader returns a downloader with the standard client and
// three attempts per file.
func NewHTTPDownloader() *HTTPDownloader {
	return &HTTPDownloader{
		Client: &http.Client{
			Timeout: 5 * time.Minute,
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				TLSClientConfig:     &tls.Config{MinVersion: tls.VersionTLS12},
				TLSHandshakeTimeout: 30 * time.Second,
			},
		},
		Attempts:   3,
		RetryDelay: time.Second,
	}
}

// Fetch downloads url to dest, retrying transient failures. The last error
// is wrapped in a FetchError once the attempts are exhausted.
func (d *HTTPDownloader) Fetch(ctx context.Context, url, dest string) error {
	attempts := d.Attempts
	if attempts < 1 {
		attempts = 1
	}
	var lastErr error
	for try := 1; try <= attempts; try++ {
		if try > 1 {
			debugf("retrying %s (attempt %d/%d)", url, try, attempts)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(try-1) * d.RetryDelay):
			}
		}
		lastErr = d.fetchOnce(ctx, url, dest)
		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return &FetchError{URL: url, Attempts: attempts, Err: lastErr}
}

func (d *HTTPDownloader) fetchOnce(ctx context.Context, url, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := d.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}

	part := dest + ".part"
	f, err := os.OpenFile(part, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	var w io.Writer = f
	if d.Progress {
		bar := progressbar.DefaultBytes(resp.ContentLength, filepath.Base(dest))
		w = io.MultiWriter(f, bar)
	}
	_, err = io.Copy(w, resp.Body)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(part)
		return err
	}
	return os.Rename(part, dest)
}

// fetchFile downloads url to dest under a flock, so concurrent dbuild
// processes pulling the same file do not clobber each other. Whoever loses
// the race finds the file already present after taking the lock.
func fetchFile(ctx context.Context, dl Downloader, url, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	lf, err := os.OpenFile(dest+".lock", os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return err
	}
	defer lf.Close()
	if err := unix.Flock(int(lf.Fd()), unix.LOCK_EX); err != nil {
		return fmt.Errorf("lock %s: %w", dest, err)
	}
	defer unix.Flock(int(lf.Fd()), unix.LOCK_UN)

	if _, err := os.Stat(dest); err == nil {
		debugf("%s already downloaded", dest)
		return nil
	}
	return dl.Fetch(ctx, url, dest)
}

// fetchSource makes one source available in the cache and verifies it.
// Cached files are never re-downloaded but always re-verified. Local
// sources are copied into the cache so later phases only read from there.
func fetchSource(ctx context.Context, cfg *Config, rec *Recipe, src Source, dl Downloader) (string, error) {
	cachePath := filepath.Join(cfg.SourceCache, src.CacheName())

	if src.Remote() {
		if _, err := os.Stat(cachePath); os.IsNotExist(err) {
			cPrintf(colInfo, "downloading %s\n", src.URL)
			if err := fetchFile(ctx, dl, src.URL, cachePath); err != nil {
				return "", err
			}
		} else {
			debugf("using cached %s", cachePath)
		}
	} else {
		local := src.URL
		if !filepath.IsAbs(local) {
			local = filepath.Join(rec.Dir, local)
		}
		if _, err := os.Stat(cachePath); os.IsNotExist(err) {
			if err := os.MkdirAll(cfg.SourceCache, 0o755); err != nil {
				return "", err
			}
			if err := copyFile(local, cachePath); err != nil {
				return "", &FetchError{URL: src.URL, Attempts: 1, Err: err}
			}
		}
	}

	if err := verifyChecksum(cachePath, src.Checksum); err != nil {
		return "", err
	}
	verbosef("verified %s", filepath.Base(cachePath))
	return cachePath, nil
}

// fetchSources fetches every source of a recipe, a few in parallel. Each
// worker verifies its own file right after the download finishes, so no
// source is consumed before its checksum has been checked.
func fetchSources(ctx context.Context, cfg *Config, rec *Recipe, dl Downloader) ([]string, error) {
	if len(rec.Sources) == 0 {
		return nil, nil
	}
	workers := cfg.DownloadWorkers
	if workers < 1 {
		workers = 1
	}
	if workers > len(rec.Sources) {
		workers = len(rec.Sources)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	paths := make([]string, len(rec.Sources))
	errs := make([]error, len(rec.Sources))
	jobs := make(chan int)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobs {
				if ctx.Err() != nil {
					errs[idx] = ctx.Err()
					continue
				}
				path, err := fetchSource(ctx, cfg, rec, rec.Sources[idx], dl)
				if err != nil {
					errs[idx] = err
					cancel()
					continue
				}
				paths[idx] = path
			}
		}()
	}
	for idx := range rec.Sources {
		jobs <- idx
	}
	close(jobs)
	wg.Wait()

	// Prefer the error that triggered the abort over the cancellations
	// it caused in sibling workers.
	var firstErr error
	for _, err := range errs {
		if err == nil {
			continue
		}
		if firstErr == nil {
			firstErr = err
		}
		if !errors.Is(err, context.Canceled) {
			return nil, err
		}
	}
	if firstErr != nil {
		return nil, firstErr
	}
	return paths, nil
}
