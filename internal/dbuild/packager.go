package dbuild

import (
	"archive/tar"
	"encoding/hex"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/klauspost/compress/zstd"
	"lukechampine.com/blake3"
)

// Archiver packages a staging tree into a single compressed archive.
type Archiver interface {
	Create(stagingDir, outPath string) (digest string, err error)
}

// zstdArchiver writes a zstd-compressed tar with neutral ownership and a
// fixed timestamp. Identical trees produce byte-identical archives no
// matter which user builds them.
type zstdArchiver struct{}

// NewArchiver returns the reproducible tar+zstd archiver.
func NewArchiver() Archiver { return zstdArchiver{} }

func (zstdArchiver) Create(stagingDir, outPath string) (string, error) {
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return "", err
	}

	var paths []string
	err := filepath.WalkDir(stagingDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == stagingDir {
			return nil
		}
		paths = append(paths, path)
		return nil
	})
	if err != nil {
		return "", err
	}
	sort.Strings(paths)

	f, err := os.OpenFile(outPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return "", err
	}
	hasher := blake3.New(32, nil)

	// Single-threaded encoding keeps the compressed bytes deterministic.
	zw, err := zstd.NewWriter(io.MultiWriter(f, hasher), zstd.WithEncoderConcurrency(1))
	if err != nil {
		f.Close()
		return "", err
	}
	tw := tar.NewWriter(zw)

	writeErr := func() error {
		for _, path := range paths {
			info, err := os.Lstat(path)
			if err != nil {
				return err
			}
			var link string
			if info.Mode()&fs.ModeSymlink != 0 {
				if link, err = os.Readlink(path); err != nil {
					return err
				}
			}
			hdr, err := tar.FileInfoHeader(info, link)
			if err != nil {
				return err
			}
			rel, err := filepath.Rel(stagingDir, path)
			if err != nil {
				return err
			}
			hdr.Name = filepath.ToSlash(rel)
			if info.IsDir() {
				hdr.Name += "/"
			}
			hdr.Uid = 0
			hdr.Gid = 0
			hdr.Uname = "root"
			hdr.Gname = "root"
			hdr.ModTime = time.Unix(0, 0).UTC()
			hdr.AccessTime = time.Time{}
			hdr.ChangeTime = time.Time{}

			if err := tw.WriteHeader(hdr); err != nil {
				return err
			}
			if info.Mode().IsRegular() {
				in, err := os.Open(path)
				if err != nil {
					return err
				}
				_, err = io.Copy(tw, in)
				in.Close()
				if err != nil {
					return err
				}
			}
		}
		return nil
	}()

	if err := tw.Close(); writeErr == nil {
		writeErr = err
	}
	if err := zw.Close(); writeErr == nil {
		writeErr = err
	}
	if err := f.Close(); writeErr == nil {
		writeErr = err
	}
	if writeErr != nil {
		os.Remove(outPath)
		return "", writeErr
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}
