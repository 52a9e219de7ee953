package storage_test

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adrianthees/mlfs-book/internal/config"
	"github.com/adrianthees/mlfs-book/internal/storage"
)

func newLocal(t *testing.T) storage.Connection {
	t.Helper()
	conn, err := storage.Open(context.Background(), &config.StorageConfig{
		Type:    "local",
		BaseDir: t.TempDir(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestLocalUploadDownloadRoundTrip(t *testing.T) {
	conn := newLocal(t)
	ctx := context.Background()

	require.NoError(t, conn.Upload(ctx, "models/air_quality/model.json", strings.NewReader(`{"base":4}`), "application/json"))

	reader, err := conn.Download(ctx, "models/air_quality/model.json")
	require.NoError(t, err)
	defer reader.Close()

	data, err := io.ReadAll(reader)
	require.NoError(t, err)
	assert.Equal(t, `{"base":4}`, string(data))
	assert.Equal(t, "local", conn.Type())
}

func TestLocalListObjectsByPrefix(t *testing.T) {
	conn := newLocal(t)
	ctx := context.Background()

	for _, name := range []string{
		"forecasts/air_quality/copenhagen-main.parquet",
		"forecasts/air_quality_lagged/copenhagen-main.parquet",
		"models/air_quality/model.json",
	} {
		require.NoError(t, conn.Upload(ctx, name, strings.NewReader("x"), ""))
	}

	var listed []string
	require.NoError(t, conn.ListObjects(ctx, "forecasts/", func(objectName string) error {
		listed = append(listed, objectName)
		return nil
	}))
	sort.Strings(listed)
	assert.Equal(t, []string{
		"forecasts/air_quality/copenhagen-main.parquet",
		"forecasts/air_quality_lagged/copenhagen-main.parquet",
	}, listed)
}

func TestLocalDeleteObject(t *testing.T) {
	conn := newLocal(t)
	ctx := context.Background()

	require.NoError(t, conn.Upload(ctx, "a/b.txt", strings.NewReader("x"), ""))
	require.NoError(t, conn.DeleteObject(ctx, "a/b.txt"))

	_, err := conn.Download(ctx, "a/b.txt")
	assert.Error(t, err)

	// Deleting a missing object is not an error.
	assert.NoError(t, conn.DeleteObject(ctx, "a/b.txt"))
}

func TestLocalDownloadMissingObject(t *testing.T) {
	conn := newLocal(t)
	_, err := conn.Download(context.Background(), "missing.parquet")
	assert.Error(t, err)
}

func TestOpenRejectsUnknownType(t *testing.T) {
	_, err := storage.Open(context.Background(), &config.StorageConfig{Type: "s3"})
	assert.Error(t, err)
}

func TestOpenRejectsFileAsBaseDir(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "occupied")
	require.NoError(t, writeFile(file))

	_, err := storage.Open(context.Background(), &config.StorageConfig{Type: "local", BaseDir: file})
	assert.Error(t, err)
}

func writeFile(path string) error {
	return os.WriteFile(path, []byte("x"), 0o644)
}
