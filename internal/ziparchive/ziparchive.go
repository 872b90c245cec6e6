// Package ziparchive writes deflate-compressed zip archives from files and
// directory trees held in an afero filesystem.
package ziparchive

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zip"
	"github.com/spf13/afero"
)

// Stats summarizes the content written into an archive.
type Stats struct {
	Files       int
	SourceBytes int64 // uncompressed bytes read from the source files
}

// Filter reports whether the file at relPath (slash-separated, relative to
// the archived directory) belongs in the archive.
type Filter func(relPath string) bool

// maxLinkHops bounds symlink chains followed when resolving a directory.
const maxLinkHops = 40

// WriteDir writes every regular file below dir to w as a zip archive.
// Entry names are slash-separated paths relative to dir. dir itself may be a
// symlink to a directory. Below it, symlinks to regular files are archived
// with the target's content and symlinked directories are not followed.
// Directories themselves get no entries.
//
// On error the zip is left unfinished: no central directory is written, so a
// truncated archive is never mistaken for a complete one by a zip reader.
func WriteDir(fsys afero.Fs, dir string, w io.Writer, include Filter) (Stats, error) {
	var stats Stats

	dir, err := resolveDir(fsys, dir)
	if err != nil {
		return stats, err
	}
	zw := zip.NewWriter(w)

	err = afero.Walk(fsys, dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}

		if info.Mode()&os.ModeSymlink != 0 {
			target, err := fsys.Stat(path)
			if err != nil {
				if errors.Is(err, fs.ErrNotExist) {
					return nil // dangling link
				}
				return fmt.Errorf("stat %s: %w", path, err)
			}
			info = target
		}
		if !info.Mode().IsRegular() {
			return nil
		}

		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return fmt.Errorf("computing entry name for %s: %w", path, err)
		}
		name := filepath.ToSlash(rel)
		if include != nil && !include(name) {
			return nil
		}

		n, err := addFile(zw, fsys, path, name, info)
		if err != nil {
			return err
		}
		stats.Files++
		stats.SourceBytes += n
		return nil
	})
	if err != nil {
		return stats, err
	}

	if err := zw.Close(); err != nil {
		return stats, fmt.Errorf("finalizing zip: %w", err)
	}
	return stats, nil
}

// resolveDir follows dir while it is a symlink and checks that the final
// target is a directory. Filesystems without symlink support return dir as is.
func resolveDir(fsys afero.Fs, dir string) (string, error) {
	lstater, okL := fsys.(afero.Lstater)
	reader, okR := fsys.(afero.LinkReader)
	if okL && okR {
		for hops := 0; ; hops++ {
			info, _, err := lstater.LstatIfPossible(dir)
			if err != nil {
				return "", fmt.Errorf("stat %s: %w", dir, err)
			}
			if info.Mode()&os.ModeSymlink == 0 {
				break
			}
			if hops == maxLinkHops {
				return "", fmt.Errorf("too many levels of symbolic links: %s", dir)
			}
			target, err := reader.ReadlinkIfPossible(dir)
			if err != nil {
				return "", fmt.Errorf("reading link %s: %w", dir, err)
			}
			if !filepath.IsAbs(target) {
				target = filepath.Join(filepath.Dir(dir), target)
			}
			dir = target
		}
	}

	info, err := fsys.Stat(dir)
	if err != nil {
		return "", fmt.Errorf("stat %s: %w", dir, err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("not a directory: %s", dir)
	}
	return dir, nil
}

// WriteFile writes a zip archive on w holding the single file at path under
// the entry name.
func WriteFile(fsys afero.Fs, path, name string, w io.Writer) error {
	info, err := fsys.Stat(path)
	if err != nil {
		return fmt.Errorf("stat %s: %w", path, err)
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("not a regular file: %s", path)
	}

	zw := zip.NewWriter(w)
	if _, err := addFile(zw, fsys, path, name, info); err != nil {
		return err
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("finalizing zip: %w", err)
	}
	return nil
}

func addFile(zw *zip.Writer, fsys afero.Fs, path, name string, info os.FileInfo) (int64, error) {
	hdr, err := zip.FileInfoHeader(info)
	if err != nil {
		return 0, fmt.Errorf("building header for %s: %w", path, err)
	}
	hdr.Name = name
	hdr.Method = zip.Deflate

	dst, err := zw.CreateHeader(hdr)
	if err != nil {
		return 0, fmt.Errorf("adding entry %s: %w", name, err)
	}

	src, err := fsys.Open(path)
	if err != nil {
		return 0, fmt.Errorf("opening %s: %w", path, err)
	}
	defer src.Close()

	n, err := io.Copy(dst, src)
	if err != nil {
		return n, fmt.Errorf("compressing %s: %w", path, err)
	}
	return n, nil
}

// DigestWriter counts and SHA-256 hashes everything written through it.
type DigestWriter struct {
	w io.Writer
	h hash.Hash
	n int64
}

// NewDigestWriter wraps w.
func NewDigestWriter(w io.Writer) *DigestWriter {
	return &DigestWriter{w: w, h: sha256.New()}
}

func (d *DigestWriter) Write(p []byte) (int, error) {
	n, err := d.w.Write(p)
	d.h.Write(p[:n])
	d.n += int64(n)
	return n, err
}

// Size returns the number of bytes written so far.
func (d *DigestWriter) Size() int64 { return d.n }

// Sum returns the lowercase hex SHA-256 of the bytes written so far.
func (d *DigestWriter) Sum() string { return hex.EncodeToString(d.h.Sum(nil)) }
