// Package registry stores trained models and their evaluation metrics, both
// on local disk for the inference pipeline and in the artifact store for
// sharing across environments.
package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/adrianthees/mlfs-book/internal/model"
	"github.com/adrianthees/mlfs-book/internal/storage"
	"github.com/adrianthees/mlfs-book/internal/support/exception"
	"github.com/adrianthees/mlfs-book/internal/support/logger"
)

const moduleName = "registry"

const (
	modelFileName   = "model.json"
	metricsFileName = "metrics.json"
)

// Registry persists named models under a local directory and mirrors them to
// the artifact store.
type Registry struct {
	modelDir string
	store    storage.Connection
}

// New builds a registry rooted at modelDir. The store may be nil, in which
// case models are kept on local disk only.
func New(modelDir string, store storage.Connection) *Registry {
	return &Registry{modelDir: modelDir, store: store}
}

// Register saves the model and its metrics under the given name and mirrors
// both files to the artifact store.
func (r *Registry) Register(ctx context.Context, name string, m *model.Regressor, metrics model.Metrics) error {
	dir := filepath.Join(r.modelDir, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return exception.NewPipelineError(moduleName, "failed to create model directory '"+dir+"'", err, false, false)
	}

	modelPath := filepath.Join(dir, modelFileName)
	if err := m.Save(modelPath); err != nil {
		return exception.NewPipelineError(moduleName, "failed to save model '"+name+"'", err, false, false)
	}

	metricsData, err := json.MarshalIndent(metrics, "", "  ")
	if err != nil {
		return exception.NewPipelineError(moduleName, "failed to marshal metrics for '"+name+"'", err, false, false)
	}
	if err := os.WriteFile(filepath.Join(dir, metricsFileName), metricsData, 0o644); err != nil {
		return exception.NewPipelineError(moduleName, "failed to save metrics for '"+name+"'", err, false, false)
	}

	if r.store != nil {
		modelData, err := os.ReadFile(modelPath)
		if err != nil {
			return exception.NewPipelineError(moduleName, "failed to reread model '"+name+"'", err, false, false)
		}
		objectPrefix := "models/" + name + "/"
		if err := r.store.Upload(ctx, objectPrefix+modelFileName, bytes.NewReader(modelData), "application/json"); err != nil {
			return err
		}
		if err := r.store.Upload(ctx, objectPrefix+metricsFileName, bytes.NewReader(metricsData), "application/json"); err != nil {
			return err
		}
	}

	logger.Infof("registered model '%s' (mse=%.4f, r2=%.4f)", name, metrics.MSE, metrics.RSquared)
	return nil
}

// Load reads the named model from local disk, falling back to the artifact
// store when the local copy is missing.
func (r *Registry) Load(ctx context.Context, name string) (*model.Regressor, error) {
	modelPath := filepath.Join(r.modelDir, name, modelFileName)
	if _, err := os.Stat(modelPath); os.IsNotExist(err) && r.store != nil {
		if err := r.fetch(ctx, name); err != nil {
			return nil, err
		}
	}
	m, err := model.Load(modelPath)
	if err != nil {
		return nil, exception.NewPipelineError(moduleName, "failed to load model '"+name+"'", err, false, false)
	}
	return m, nil
}

// fetch downloads the named model from the artifact store to local disk.
func (r *Registry) fetch(ctx context.Context, name string) error {
	reader, err := r.store.Download(ctx, "models/"+name+"/"+modelFileName)
	if err != nil {
		return err
	}
	defer reader.Close()

	dir := filepath.Join(r.modelDir, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return exception.NewPipelineError(moduleName, "failed to create model directory '"+dir+"'", err, false, false)
	}
	f, err := os.Create(filepath.Join(dir, modelFileName))
	if err != nil {
		return exception.NewPipelineError(moduleName, "failed to create local model file for '"+name+"'", err, false, false)
	}
	defer f.Close()
	if _, err := f.ReadFrom(reader); err != nil {
		return exception.NewPipelineError(moduleName, "failed to download model '"+name+"'", err, false, true)
	}
	logger.Infof("fetched model '%s' from artifact store", name)
	return nil
}
