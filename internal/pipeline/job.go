// Package pipeline implements the four batch jobs: historical backfill, the
// daily feature pipeline, model training, and batch inference with hindcast
// monitoring.
package pipeline

import (
	"context"
)

// Job is one runnable batch pipeline.
type Job interface {
	// Name identifies the job in run records and metrics.
	Name() string
	// Run executes the pipeline to completion.
	Run(ctx context.Context) error
}

// Secret names shared between the backfill bootstrap and the recurring jobs.
const (
	SecretAPIKey  = "AQICN_API_KEY"
	SecretSensors = "SENSOR_LOCATION_JSON"
)

// Model variant names. The base variant predicts from weather alone; the
// lagged variant adds the PM2.5 lag features.
const (
	VariantAirQuality = "air_quality"
	VariantLagged     = "air_quality_lagged"
)
