package docstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
)

// Filesystem stores documents as flat files in one directory.
type Filesystem struct {
	dir string
}

// NewFilesystem creates dir if needed and returns a store rooted there.
func NewFilesystem(dir string) (*Filesystem, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating upload directory: %w", err)
	}
	return &Filesystem{dir: dir}, nil
}

// Save writes r to a temporary file and renames it into place, so a
// partially written upload is never visible under its final name.
func (s *Filesystem) Save(ctx context.Context, originalName, contentType string, r io.Reader) (string, error) {
	name := NewName(originalName)

	tmp, err := os.CreateTemp(s.dir, ".upload-*")
	if err != nil {
		return "", fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()
	cleanup := func() {
		tmp.Close()
		os.Remove(tmpPath)
	}

	if _, err := io.Copy(tmp, readerWithContext(ctx, r)); err != nil {
		cleanup()
		return "", fmt.Errorf("writing document: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("closing document: %w", err)
	}
	if err := os.Chmod(tmpPath, 0644); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("setting document mode: %w", err)
	}
	if err := os.Rename(tmpPath, filepath.Join(s.dir, name)); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("storing document: %w", err)
	}

	slog.Debug("document stored", "filename", name, "original_name", originalName, "backend", "filesystem")
	return name, nil
}

// Open returns the stored file for name.
func (s *Filesystem) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	if !ValidName(name) {
		return nil, ErrInvalidName
	}
	f, err := os.Open(filepath.Join(s.dir, name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("opening document: %w", err)
	}
	return f, nil
}

// Ping checks that the directory still exists.
func (s *Filesystem) Ping(ctx context.Context) error {
	info, err := os.Stat(s.dir)
	if err != nil {
		return fmt.Errorf("upload directory: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("upload directory %s is not a directory", s.dir)
	}
	return nil
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

// readerWithContext stops a copy once ctx is done.
func readerWithContext(ctx context.Context, r io.Reader) io.Reader {
	return ctxReader{ctx: ctx, r: r}
}
