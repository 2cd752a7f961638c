// Package local provides the local filesystem mirror target.
package local

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/dumpftp/dumpftp/internal/metrics"
	"github.com/dumpftp/dumpftp/internal/storage"
)

const (
	dirPerm  = 0o755
	filePerm = 0o644
)

// Backend implements storage.Backend on a directory tree.
type Backend struct {
	root string
}

var _ storage.Backend = (*Backend)(nil)

// New creates the root directory if needed and returns a backend rooted there.
func New(root string) (*Backend, error) {
	if root == "" {
		return nil, fmt.Errorf("root path is required")
	}
	if err := mkdirAll(root); err != nil {
		return nil, fmt.Errorf("create root path %s: %w", root, err)
	}
	return &Backend{root: root}, nil
}

func (b *Backend) fullPath(key string) string {
	return filepath.Join(b.root, filepath.FromSlash(key))
}

func observe(op string, start time.Time, err error) {
	metrics.RecordStorageOperation("local", op, time.Since(start), err == nil)
}

// mkdirAll tolerates a directory appearing concurrently.
func mkdirAll(path string) error {
	err := os.MkdirAll(path, dirPerm)
	if err == nil || !errors.Is(err, fs.ErrExist) {
		return err
	}
	if info, statErr := os.Stat(path); statErr == nil && info.IsDir() {
		return nil
	}
	return err
}

// MkdirAll creates the directory for key.
func (b *Backend) MkdirAll(_ context.Context, key string) error {
	start := time.Now()
	err := mkdirAll(b.fullPath(key))
	observe("mkdir", start, err)
	if err != nil {
		return fmt.Errorf("create directory %s: %w", b.fullPath(key), err)
	}
	return nil
}

// Create opens a temporary file next to the destination. Commit renames it
// into place.
func (b *Backend) Create(_ context.Context, key string) (storage.ObjectWriter, error) {
	start := time.Now()
	dst := b.fullPath(key)
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".dumpftp-*.part")
	observe("create", start, err)
	if err != nil {
		return nil, fmt.Errorf("create temp for %s: %w", dst, err)
	}
	return &Writer{f: tmp, dst: dst}, nil
}

// Copy duplicates srcKey to dstKey via temp file and rename.
func (b *Backend) Copy(_ context.Context, srcKey, dstKey string) (err error) {
	defer func(start time.Time) { observe("copy", start, err) }(time.Now())

	src, err := os.Open(b.fullPath(srcKey))
	if err != nil {
		return fmt.Errorf("open %s: %w", b.fullPath(srcKey), err)
	}
	defer src.Close()

	dst := b.fullPath(dstKey)
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".dumpftp-*.part")
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", dst, err)
	}
	w := &Writer{f: tmp, dst: dst}
	defer w.Abort()

	if _, err := io.Copy(w, src); err != nil {
		return fmt.Errorf("copy %s -> %s: %w", srcKey, dstKey, err)
	}
	return w.Commit()
}

// Exists stats the file for key.
func (b *Backend) Exists(_ context.Context, key string) (bool, error) {
	_, err := os.Stat(b.fullPath(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("stat %s: %w", key, err)
	}
	return true, nil
}

// Location returns the filesystem path of key.
func (b *Backend) Location(key string) string { return b.fullPath(key) }

// Type returns "local".
func (b *Backend) Type() string { return "local" }

// Close is a no-op for local backends.
func (b *Backend) Close() error { return nil }

// Writer is a temporary file awaiting rename onto its destination.
type Writer struct {
	f    *os.File
	dst  string
	done bool
}

func (w *Writer) Write(p []byte) (int, error) {
	return w.f.Write(p)
}

// Commit closes the temp file and renames it over the destination.
func (w *Writer) Commit() error {
	if w.done {
		return fmt.Errorf("commit %s: writer already finished", w.dst)
	}
	w.done = true
	tmpName := w.f.Name()
	if err := w.f.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp for %s: %w", w.dst, err)
	}
	if err := os.Chmod(tmpName, filePerm); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("chmod temp for %s: %w", w.dst, err)
	}
	if err := os.Rename(tmpName, w.dst); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename temp to %s: %w", w.dst, err)
	}
	return nil
}

// Abort closes and removes the temp file.
func (w *Writer) Abort() error {
	if w.done {
		return nil
	}
	w.done = true
	w.f.Close()
	if err := os.Remove(w.f.Name()); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove temp for %s: %w", w.dst, err)
	}
	return nil
}
