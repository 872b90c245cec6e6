package app

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/spf13/afero"

	"zipdaemon/internal/ziparchive"
)

// logHandler is a custom slog.Handler that formats log records as:
//
//	<date> <time> <LEVEL>: <message>\t<key=value ...>
type logHandler struct {
	mu    *sync.Mutex
	w     io.Writer
	level slog.Leveler
	attrs []slog.Attr
}

func newLogHandler(w io.Writer, level slog.Leveler) *logHandler {
	return &logHandler{mu: &sync.Mutex{}, w: w, level: level}
}

func (h *logHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *logHandler) Handle(_ context.Context, r slog.Record) error {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%s %s: %s", r.Time.Format(time.DateTime), r.Level.String(), r.Message)

	// Write pre-set attrs.
	for _, a := range h.attrs {
		fmt.Fprintf(&buf, "\t%s=%v", a.Key, a.Value)
	}

	// Write per-record attrs.
	r.Attrs(func(a slog.Attr) bool {
		fmt.Fprintf(&buf, "\t%s=%v", a.Key, a.Value)
		return true
	})
	buf.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := h.w.Write(buf.Bytes())
	return err
}

func (h *logHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &logHandler{
		mu:    h.mu,
		w:     h.w,
		level: h.level,
		attrs: append(append([]slog.Attr{}, h.attrs...), attrs...),
	}
}

func (h *logHandler) WithGroup(string) slog.Handler { return h }

// rotatedLogName returns the archive name for a log file rotated at now:
// "<stem>_2006-01-02_150405.zip" in the same directory.
func rotatedLogName(path string, now time.Time) string {
	base := filepath.Base(path)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	return filepath.Join(filepath.Dir(path), stem+"_"+now.Format("2006-01-02_150405")+".zip")
}

// rotateLog zips an existing log file beside itself and removes the
// original, so each run starts with an empty log. A missing file is fine;
// anything other than a regular file at path is an error.
func rotateLog(fsys afero.Fs, path string, now time.Time) (string, error) {
	info, err := fsys.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("unable to create log file %s: %w", path, err)
	}
	if !info.Mode().IsRegular() {
		return "", fmt.Errorf("unable to create log file %s", path)
	}

	dest := rotatedLogName(path, now)
	f, err := fsys.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return "", fmt.Errorf("creating %s: %w", dest, err)
	}
	if err := ziparchive.WriteFile(fsys, path, filepath.Base(path), f); err != nil {
		f.Close()
		fsys.Remove(dest)
		return "", fmt.Errorf("rotating log: %w", err)
	}
	if err := f.Close(); err != nil {
		fsys.Remove(dest)
		return "", fmt.Errorf("closing %s: %w", dest, err)
	}
	if err := fsys.Remove(path); err != nil {
		return "", fmt.Errorf("removing rotated log: %w", err)
	}
	return dest, nil
}

// newLogger rotates any previous log at path, then opens a fresh one.
// Records go to the file and, when console is non-nil, to console as well.
// The returned file must be closed by the caller.
func newLogger(fsys afero.Fs, path string, console io.Writer, level slog.Level, now time.Time) (*slog.Logger, afero.File, error) {
	if err := fsys.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, nil, fmt.Errorf("creating log directory: %w", err)
	}
	if _, err := rotateLog(fsys, path, now); err != nil {
		return nil, nil, err
	}

	f, err := fsys.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, nil, fmt.Errorf("unable to create log file %s: %w", path, err)
	}

	var w io.Writer = f
	if console != nil {
		w = io.MultiWriter(f, console)
	}
	return slog.New(newLogHandler(w, level)), f, nil
}

// slogAdapter wraps *slog.Logger to satisfy the zipd.Logger interface.
type slogAdapter struct {
	l *slog.Logger
}

func (a *slogAdapter) Debug(msg string, args ...any) { a.l.Debug(msg, args...) }
func (a *slogAdapter) Info(msg string, args ...any)  { a.l.Info(msg, args...) }
func (a *slogAdapter) Warn(msg string, args ...any)  { a.l.Warn(msg, args...) }
func (a *slogAdapter) Error(msg string, args ...any) { a.l.Error(msg, args...) }
