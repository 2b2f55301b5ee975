// Package docstore keeps uploaded documents and hands out the opaque
// filenames that sessions pass around in pdf_loaded messages.
package docstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"regexp"

	"github.com/cortexuvula/pagesync/internal/config"
	"github.com/oklog/ulid/v2"
)

var (
	// ErrNotFound is returned by Open when no document has the given name.
	ErrNotFound = errors.New("document not found")
	// ErrInvalidName is returned for names that are not a stored token.
	ErrInvalidName = errors.New("invalid document name")
)

// Store persists uploaded documents under generated names.
type Store interface {
	// Save stores r and returns the generated filename.
	Save(ctx context.Context, originalName, contentType string, r io.Reader) (string, error)
	// Open returns the content of a stored document.
	Open(ctx context.Context, filename string) (io.ReadCloser, error)
	// Ping reports whether the backend is reachable.
	Ping(ctx context.Context) error
}

var (
	namePattern = regexp.MustCompile(`^[0-9A-Z]{26}(\.[A-Za-z0-9]{1,8})?$`)
	extPattern  = regexp.MustCompile(`^\.[A-Za-z0-9]{1,8}$`)
)

// NewName generates a storage name: a ULID plus the original file's
// extension as given, or ".pdf" when that extension is unusable.
func NewName(originalName string) string {
	ext := filepath.Ext(originalName)
	if !extPattern.MatchString(ext) {
		ext = ".pdf"
	}
	return ulid.Make().String() + ext
}

// ValidName reports whether name has the shape NewName produces.
func ValidName(name string) bool {
	return namePattern.MatchString(name)
}

// New builds the backend selected by cfg.Backend.
func New(ctx context.Context, cfg config.UploadConfig) (Store, error) {
	switch cfg.Backend {
	case "filesystem":
		return NewFilesystem(cfg.Directory)
	case "s3":
		return NewS3(ctx, cfg.S3)
	default:
		return nil, fmt.Errorf("unknown upload backend %q", cfg.Backend)
	}
}
