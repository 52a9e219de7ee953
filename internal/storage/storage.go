// Package storage abstracts artifact storage so pipelines can publish model
// files and parquet exports to a local directory or a GCS bucket through one
// interface.
package storage

import (
	"context"
	"io"

	"github.com/adrianthees/mlfs-book/internal/config"
	"github.com/adrianthees/mlfs-book/internal/support/exception"
)

const moduleName = "storage"

// Connection is one open artifact store.
type Connection interface {
	// Upload writes the data stream to the named object.
	Upload(ctx context.Context, objectName string, data io.Reader, contentType string) error
	// Download opens the named object. The caller closes the reader.
	Download(ctx context.Context, objectName string) (io.ReadCloser, error)
	// ListObjects calls fn for every object under the prefix.
	ListObjects(ctx context.Context, prefix string, fn func(objectName string) error) error
	// DeleteObject removes the named object.
	DeleteObject(ctx context.Context, objectName string) error
	// Close releases the connection.
	Close() error
	// Type identifies the backing adapter ("local" or "gcs").
	Type() string
}

// Open builds the connection named by the configuration.
func Open(ctx context.Context, cfg *config.StorageConfig) (Connection, error) {
	switch cfg.Type {
	case "local":
		return NewLocalConnection(cfg)
	case "gcs":
		return NewGCSConnection(ctx, cfg)
	default:
		return nil, exception.NewPipelineErrorf(moduleName, "unsupported storage type: '%s'", cfg.Type)
	}
}
