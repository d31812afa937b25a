// Package local implements a filesystem-backed archive for raw fetched
// documents.
package local

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Config locates the archive root on disk.
type Config struct {
	BaseDir string `mapstructure:"base_dir"`
}

// BlobStore writes archived documents under a base directory and returns
// file:// URIs.
type BlobStore struct {
	baseDir string
}

// New creates the base directory if needed and verifies it is usable.
func New(cfg Config) (*BlobStore, error) {
	if cfg.BaseDir == "" {
		return nil, errors.New("archive base directory required")
	}
	if err := os.MkdirAll(cfg.BaseDir, 0o750); err != nil {
		return nil, fmt.Errorf("create archive directory: %w", err)
	}
	abs, err := filepath.Abs(cfg.BaseDir)
	if err != nil {
		return nil, fmt.Errorf("resolve archive directory: %w", err)
	}
	return &BlobStore{baseDir: abs}, nil
}

// PutObject writes the content to a file under the base directory. The path
// must stay inside the base directory; absolute paths and parent references
// are rejected.
func (s *BlobStore) PutObject(_ context.Context, path, _ string, data io.Reader) (string, error) {
	if path == "" || !filepath.IsLocal(path) {
		return "", fmt.Errorf("invalid blob path %q", path)
	}
	full := filepath.Join(s.baseDir, filepath.FromSlash(path))
	if err := os.MkdirAll(filepath.Dir(full), 0o750); err != nil {
		return "", fmt.Errorf("create blob directory: %w", err)
	}
	f, err := os.OpenFile(full, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return "", fmt.Errorf("create blob file: %w", err)
	}
	if _, err := io.Copy(f, data); err != nil {
		_ = f.Close()
		return "", fmt.Errorf("write blob: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close blob: %w", err)
	}
	return "file://" + filepath.ToSlash(full), nil
}
