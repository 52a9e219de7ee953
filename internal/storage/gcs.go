package storage

import (
	"context"
	"errors"
	"io"
	"strings"

	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/adrianthees/mlfs-book/internal/config"
	"github.com/adrianthees/mlfs-book/internal/support/exception"
	"github.com/adrianthees/mlfs-book/internal/support/logger"
)

// gcsConnection stores artifacts in a Google Cloud Storage bucket.
type gcsConnection struct {
	client *gcs.Client
	bucket string
	prefix string
}

var _ Connection = (*gcsConnection)(nil)

// NewGCSConnection connects to the configured bucket. Credentials come from
// the configured file or from application default credentials.
func NewGCSConnection(ctx context.Context, cfg *config.StorageConfig) (Connection, error) {
	if cfg.Bucket == "" {
		return nil, exception.NewPipelineErrorf(moduleName, "gcs storage requires a bucket")
	}

	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	client, err := gcs.NewClient(ctx, opts...)
	if err != nil {
		return nil, exception.NewPipelineError(moduleName, "failed to create GCS client", err, false, true)
	}
	return &gcsConnection{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
	}, nil
}

func (c *gcsConnection) objectPath(objectName string) string {
	if c.prefix == "" {
		return objectName
	}
	return c.prefix + "/" + objectName
}

// Upload streams the data into the bucket object.
func (c *gcsConnection) Upload(ctx context.Context, objectName string, data io.Reader, contentType string) error {
	w := c.client.Bucket(c.bucket).Object(c.objectPath(objectName)).NewWriter(ctx)
	if contentType != "" {
		w.ContentType = contentType
	}
	if _, err := io.Copy(w, data); err != nil {
		w.Close()
		return exception.NewPipelineError(moduleName, "failed to upload '"+objectName+"'", err, false, true)
	}
	if err := w.Close(); err != nil {
		return exception.NewPipelineError(moduleName, "failed to finalize upload of '"+objectName+"'", err, false, true)
	}
	logger.Debugf("uploaded gs://%s/%s", c.bucket, c.objectPath(objectName))
	return nil
}

// Download opens the bucket object.
func (c *gcsConnection) Download(ctx context.Context, objectName string) (io.ReadCloser, error) {
	r, err := c.client.Bucket(c.bucket).Object(c.objectPath(objectName)).NewReader(ctx)
	if err != nil {
		return nil, exception.NewPipelineError(moduleName, "failed to open '"+objectName+"'", err, false, true)
	}
	return r, nil
}

// ListObjects iterates the bucket objects under the prefix.
func (c *gcsConnection) ListObjects(ctx context.Context, prefix string, fn func(objectName string) error) error {
	it := c.client.Bucket(c.bucket).Objects(ctx, &gcs.Query{Prefix: c.objectPath(prefix)})
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			return nil
		}
		if err != nil {
			return exception.NewPipelineError(moduleName, "failed to list objects", err, false, true)
		}
		name := attrs.Name
		if c.prefix != "" {
			name = strings.TrimPrefix(name, c.prefix+"/")
		}
		if err := fn(name); err != nil {
			return err
		}
	}
}

// DeleteObject removes the bucket object.
func (c *gcsConnection) DeleteObject(ctx context.Context, objectName string) error {
	err := c.client.Bucket(c.bucket).Object(c.objectPath(objectName)).Delete(ctx)
	if err != nil && !errors.Is(err, gcs.ErrObjectNotExist) {
		return exception.NewPipelineError(moduleName, "failed to delete '"+objectName+"'", err, false, true)
	}
	return nil
}

// Close releases the client.
func (c *gcsConnection) Close() error {
	return c.client.Close()
}

// Type identifies the adapter.
func (c *gcsConnection) Type() string {
	return "gcs"
}
