package dbuild

import (
	"context"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sync"
	"sync/atomic"
)

// Stripper removes debug symbols from staged binaries before packaging.
type Stripper interface {
	Strip(ctx context.Context, stagingDir string, log io.Writer) error
}

// execStripper shells out to strip(1) over a small worker pool. Candidates
// are picked by ELF magic, not file extension. A missing tool and per-file
// failures degrade to warnings.
type execStripper struct {
	exec    *Executor
	workers int
}

// NewStripper returns the strip(1) backed Stripper.
func NewStripper(e *Executor) Stripper {
	return execStripper{exec: e, workers: runtime.NumCPU()}
}

var elfMagic = [4]byte{0x7f, 'E', 'L', 'F'}

func isELF(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()
	var magic [4]byte
	if _, err := io.ReadFull(f, magic[:]); err != nil {
		return false
	}
	return magic == elfMagic
}

func (s execStripper) Strip(ctx context.Context, stagingDir string, log io.Writer) error {
	stripBin, err := exec.LookPath("strip")
	if err != nil {
		cPrintf(colWarn, "warning: strip tool not found, skipping\n")
		return nil
	}

	var files []string
	err = filepath.WalkDir(stagingDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() && isELF(path) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return nil
	}

	limit := make(chan struct{}, s.workers)
	var wg sync.WaitGroup
	var stripped atomic.Int32
	var mu sync.Mutex // serializes log writes from the pool
	for _, file := range files {
		wg.Add(1)
		limit <- struct{}{}
		go func(file string) {
			defer wg.Done()
			defer func() { <-limit }()
			var buf lockedWriter
			buf.mu, buf.w = &mu, log
			if err := s.stripOne(ctx, stripBin, file, &buf); err != nil {
				cPrintf(colWarn, "warning: strip %s: %v\n", file, err)
			} else {
				verbosef("stripped %s", file)
				stripped.Add(1)
			}
		}(file)
	}
	wg.Wait()

	cPrintf(colInfo, "stripped %d of %d binaries\n", stripped.Load(), len(files))
	return nil
}

func (s execStripper) stripOne(ctx context.Context, stripBin, file string, log io.Writer) error {
	info, err := os.Stat(file)
	if err != nil {
		return err
	}
	mode := info.Mode()
	if mode&0o200 == 0 {
		// Read-only binaries are common under staging, lift the bit
		// for the duration of the strip.
		if err := os.Chmod(file, mode|0o200); err != nil {
			return err
		}
		defer os.Chmod(file, mode)
	}
	cmd := exec.Command(stripBin, "--strip-unneeded", file)
	cmd.Stdout = log
	cmd.Stderr = log
	return s.exec.Run(ctx, cmd)
}

type lockedWriter struct {
	mu *sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}
