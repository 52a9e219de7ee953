package storage

import (
	"context"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/adrianthees/mlfs-book/internal/config"
	"github.com/adrianthees/mlfs-book/internal/support/exception"
	"github.com/adrianthees/mlfs-book/internal/support/logger"
)

// localConnection stores artifacts under a base directory.
type localConnection struct {
	baseDir string
}

var _ Connection = (*localConnection)(nil)

// NewLocalConnection validates the base directory, creating it if missing.
func NewLocalConnection(cfg *config.StorageConfig) (Connection, error) {
	if cfg.BaseDir == "" {
		return nil, exception.NewPipelineErrorf(moduleName, "local storage requires base_dir")
	}
	info, err := os.Stat(cfg.BaseDir)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, exception.NewPipelineError(moduleName, "failed to stat base_dir '"+cfg.BaseDir+"'", err, false, false)
		}
		if err := os.MkdirAll(cfg.BaseDir, 0o755); err != nil {
			return nil, exception.NewPipelineError(moduleName, "failed to create base_dir '"+cfg.BaseDir+"'", err, false, false)
		}
	} else if !info.IsDir() {
		return nil, exception.NewPipelineErrorf(moduleName, "base_dir '%s' is not a directory", cfg.BaseDir)
	}
	return &localConnection{baseDir: cfg.BaseDir}, nil
}

func (c *localConnection) path(objectName string) string {
	return filepath.Join(c.baseDir, filepath.FromSlash(objectName))
}

// Upload writes the object as a file under the base directory.
func (c *localConnection) Upload(_ context.Context, objectName string, data io.Reader, _ string) error {
	path := c.path(objectName)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return exception.NewPipelineError(moduleName, "failed to create directory for '"+objectName+"'", err, false, false)
	}
	f, err := os.Create(path)
	if err != nil {
		return exception.NewPipelineError(moduleName, "failed to create '"+objectName+"'", err, false, true)
	}
	defer f.Close()
	if _, err := io.Copy(f, data); err != nil {
		return exception.NewPipelineError(moduleName, "failed to write '"+objectName+"'", err, false, true)
	}
	logger.Debugf("stored artifact %s", path)
	return nil
}

// Download opens the object file.
func (c *localConnection) Download(_ context.Context, objectName string) (io.ReadCloser, error) {
	f, err := os.Open(c.path(objectName))
	if err != nil {
		return nil, exception.NewPipelineError(moduleName, "failed to open '"+objectName+"'", err, false, true)
	}
	return f, nil
}

// ListObjects walks the base directory under the prefix.
func (c *localConnection) ListObjects(_ context.Context, prefix string, fn func(objectName string) error) error {
	return filepath.WalkDir(c.baseDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(c.baseDir, path)
		if err != nil {
			return err
		}
		objectName := filepath.ToSlash(rel)
		if !strings.HasPrefix(objectName, prefix) {
			return nil
		}
		return fn(objectName)
	})
}

// DeleteObject removes the object file.
func (c *localConnection) DeleteObject(_ context.Context, objectName string) error {
	if err := os.Remove(c.path(objectName)); err != nil && !os.IsNotExist(err) {
		return exception.NewPipelineError(moduleName, "failed to delete '"+objectName+"'", err, false, true)
	}
	return nil
}

// Close does nothing for the local adapter.
func (c *localConnection) Close() error {
	return nil
}

// Type identifies the adapter.
func (c *localConnection) Type() string {
	return "local"
}
