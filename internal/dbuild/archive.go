package dbuild

import (
	"archive/tar"
	"compress/bzip2"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"
	"github.com/klauspost/pgzip"
	"github.com/ulikunitz/xz"
)

// Extractor unpacks one archive into a directory. Multiple archives may be
// extracted into the same directory to merge their trees.
type Extractor interface {
	Extract(archive, destDir string) error
}

// nativeExtractor dispatches on the archive suffix and unpacks with the
// in-process decompressors, no external tar or unzip needed.
type nativeExtractor struct{}

// NewExtractor returns the suffix-dispatching extractor.
func NewExtractor() Extractor { return nativeExtractor{} }

func (nativeExtractor) Extract(archive, destDir string) error {
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return err
	}
	name := strings.ToLower(filepath.Base(archive))
	switch {
	case strings.HasSuffix(name, ".tar.gz"), strings.HasSuffix(name, ".tgz"):
		return extractCompressedTar(archive, destDir, func(r io.Reader) (io.Reader, func(), error) {
			zr, err := pgzip.NewReader(r)
			if err != nil {
				return nil, nil, err
			}
			return zr, func() { zr.Close() }, nil
		})
	case strings.HasSuffix(name, ".tar.bz2"), strings.HasSuffix(name, ".tbz2"):
		return extractCompressedTar(archive, destDir, func(r io.Reader) (io.Reader, func(), error) {
			return bzip2.NewReader(r), func() {}, nil
		})
	case strings.HasSuffix(name, ".tar.xz"), strings.HasSuffix(name, ".txz"):
		return extractCompressedTar(archive, destDir, func(r io.Reader) (io.Reader, func(), error) {
			xr, err := xz.NewReader(r)
			if err != nil {
				return nil, nil, err
			}
			return xr, func() {}, nil
		})
	case strings.HasSuffix(name, ".tar.zst"):
		return extractCompressedTar(archive, destDir, func(r io.Reader) (io.Reader, func(), error) {
			zr, err := zstd.NewReader(r)
			if err != nil {
				return nil, nil, err
			}
			return zr, zr.Close, nil
		})
	case strings.HasSuffix(name, ".tar"):
		return extractCompressedTar(archive, destDir, func(r io.Reader) (io.Reader, func(), error) {
			return r, func() {}, nil
		})
	case strings.HasSuffix(name, ".zip"):
		return unzip(archive, destDir)
	case strings.HasSuffix(name, ".gz"):
		return gunzipFile(archive, destDir)
	default:
		return &ExtractError{Archive: archive, Msg: "unsupported archive format"}
	}
}

func extractCompressedTar(archive, destDir string, wrap func(io.Reader) (io.Reader, func(), error)) error {
	f, err := os.Open(archive)
	if err != nil {
		return &ExtractError{Archive: archive, Msg: "open failed", Err: err}
	}
	defer f.Close()
	r, closer, err := wrap(f)
	if err != nil {
		return &ExtractError{Archive: archive, Msg: "bad compression stream", Err: err}
	}
	defer closer()
	if err := untar(r, destDir); err != nil {
		return &ExtractError{Archive: archive, Msg: "unpack failed", Err: err}
	}
	return nil
}

func untar(r io.Reader, destDir string) error {
	cleanDest := filepath.Clean(destDir)
	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if hdr.Typeflag == tar.TypeXGlobalHeader || hdr.Typeflag == tar.TypeXHeader {
			continue
		}
		if hdr.Name == "pax_global_header" {
			continue
		}
		target := filepath.Join(cleanDest, hdr.Name)
		if target != cleanDest && !strings.HasPrefix(target, cleanDest+string(os.PathSeparator)) {
			return fmt.Errorf("illegal entry path %q", hdr.Name)
		}
		mode := os.FileMode(hdr.Mode).Perm()

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, mode); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
			if err != nil {
				return err
			}
			_, err = io.Copy(out, tr)
			if cerr := out.Close(); err == nil {
				err = cerr
			}
			if err != nil {
				return err
			}
		case tar.TypeSymlink:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			os.Remove(target)
			if err := os.Symlink(hdr.Linkname, target); err != nil {
				return err
			}
		case tar.TypeLink:
			src := filepath.Join(cleanDest, hdr.Linkname)
			if !strings.HasPrefix(src, cleanDest+string(os.PathSeparator)) {
				return fmt.Errorf("illegal link target %q", hdr.Linkname)
			}
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			os.Remove(target)
			if err := os.Link(src, target); err != nil {
				return err
			}
		default:
			debugf("skipping tar entry %s (type %c)", hdr.Name, hdr.Typeflag)
		}
	}
}

func unzip(archive, destDir string) error {
	zr, err := zip.OpenReader(archive)
	if err != nil {
		return &ExtractError{Archive: archive, Msg: "open failed", Err: err}
	}
	defer zr.Close()

	cleanDest := filepath.Clean(destDir)
	for _, zf := range zr.File {
		fpath := filepath.Join(cleanDest, zf.Name)
		if fpath != cleanDest && !strings.HasPrefix(fpath, cleanDest+string(os.PathSeparator)) {
			return &ExtractError{Archive: archive, Msg: fmt.Sprintf("illegal entry path %q", zf.Name)}
		}
		if zf.FileInfo().IsDir() {
			if err := os.MkdirAll(fpath, zf.Mode().Perm()); err != nil {
				return err
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(fpath), 0o755); err != nil {
			return err
		}
		rc, err := zf.Open()
		if err != nil {
			return &ExtractError{Archive: archive, Msg: "unpack failed", Err: err}
		}
		out, err := os.OpenFile(fpath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, zf.Mode().Perm())
		if err != nil {
			rc.Close()
			return err
		}
		_, err = io.Copy(out, rc)
		rc.Close()
		if cerr := out.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return &ExtractError{Archive: archive, Msg: "unpack failed", Err: err}
		}
	}
	return nil
}

// gunzipFile handles a bare gzip of a single file, written into destDir
// under the archive name minus its .gz suffix.
func gunzipFile(archive, destDir string) error {
	f, err := os.Open(archive)
	if err != nil {
		return &ExtractError{Archive: archive, Msg: "open failed", Err: err}
	}
	defer f.Close()
	zr, err := pgzip.NewReader(f)
	if err != nil {
		return &ExtractError{Archive: archive, Msg: "bad compression stream", Err: err}
	}
	defer zr.Close()

	outName := strings.TrimSuffix(filepath.Base(archive), ".gz")
	out, err := os.OpenFile(filepath.Join(destDir, outName), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	_, err = io.Copy(out, zr)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return &ExtractError{Archive: archive, Msg: "unpack failed", Err: err}
	}
	return nil
}

// detectRoot locates the extracted source root under destDir. An explicit
// override from the recipe wins. Otherwise a single top-level directory is
// the root, a tree with no directories is its own root, and anything else
// is ambiguous and refused.
func detectRoot(destDir, override string) (string, error) {
	if override != "" {
		root := filepath.Join(destDir, override)
		if fi, err := os.Stat(root); err != nil || !fi.IsDir() {
			return "", &ExtractError{Archive: destDir, Msg: fmt.Sprintf("rootdir %q not present after extraction", override)}
		}
		return root, nil
	}
	entries, err := os.ReadDir(destDir)
	if err != nil {
		return "", err
	}
	var dirs, files []string
	for _, e := range entries {
		if e.IsDir() {
			dirs = append(dirs, e.Name())
		} else {
			files = append(files, e.Name())
		}
	}
	switch {
	case len(dirs) == 1 && len(files) == 0:
		return filepath.Join(destDir, dirs[0]), nil
	case len(dirs) == 0:
		return destDir, nil
	default:
		all := append(dirs, files...)
		return "", &ExtractError{
			Archive: destDir,
			Msg:     fmt.Sprintf("ambiguous source root (%s), set rootdir in the recipe", strings.Join(all, ", ")),
		}
	}
}
