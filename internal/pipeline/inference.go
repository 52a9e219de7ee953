package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/adrianthees/mlfs-book/internal/config"
	"github.com/adrianthees/mlfs-book/internal/domain/entity"
	"github.com/adrianthees/mlfs-book/internal/export"
	"github.com/adrianthees/mlfs-book/internal/features"
	"github.com/adrianthees/mlfs-book/internal/featurestore"
	"github.com/adrianthees/mlfs-book/internal/model"
	"github.com/adrianthees/mlfs-book/internal/registry"
	"github.com/adrianthees/mlfs-book/internal/storage"
	"github.com/adrianthees/mlfs-book/internal/support/exception"
	"github.com/adrianthees/mlfs-book/internal/support/logger"
	"github.com/adrianthees/mlfs-book/internal/telemetry"
)

// InferenceJob publishes the PM2.5 forecast for every sensor and model
// variant, then reconciles past day-1 predictions against observations for
// monitoring. A location with no predictions yet gets a synthetic hindcast
// backfilled from its trailing weather.
type InferenceJob struct {
	cfg       *config.Config
	store     *featurestore.Store
	secrets   *featurestore.Secrets
	registry  *registry.Registry
	artifacts storage.Connection
	recorder  *telemetry.Recorder
	telemetry *telemetry.Telemetry
}

// NewInferenceJob wires the batch inference pipeline.
func NewInferenceJob(
	cfg *config.Config,
	store *featurestore.Store,
	secrets *featurestore.Secrets,
	reg *registry.Registry,
	artifacts storage.Connection,
	recorder *telemetry.Recorder,
	tel *telemetry.Telemetry,
) *InferenceJob {
	return &InferenceJob{
		cfg:       cfg,
		store:     store,
		secrets:   secrets,
		registry:  reg,
		artifacts: artifacts,
		recorder:  recorder,
		telemetry: tel,
	}
}

// Name implements Job.
func (j *InferenceJob) Name() string { return "inference" }

// Run implements Job. One sensor/variant failing is logged and skipped so
// the remaining forecasts still get published.
func (j *InferenceJob) Run(ctx context.Context) error {
	ctx, span := j.telemetry.StartSpan(ctx, "inference")
	defer span.End()

	sensors, err := j.loadSensors(ctx)
	if err != nil {
		return err
	}

	models := map[string]*model.Regressor{}
	for _, variant := range []string{VariantAirQuality, VariantLagged} {
		m, err := j.registry.Load(ctx, variant)
		if err != nil {
			return err
		}
		models[variant] = m
	}

	today := entity.DateOnly(time.Now().UTC())
	succeeded := 0
	for _, sensor := range sensors {
		for variant, m := range models {
			if err := j.forecastSensor(ctx, sensor, variant, m, today); err != nil {
				logger.Warnf("inference: sensor %s/%s variant %s failed, skipping: %v", sensor.City, sensor.Street, variant, err)
				continue
			}
			succeeded++
		}
	}
	if succeeded == 0 {
		return exception.NewPipelineErrorf("inference", "every sensor/variant combination failed")
	}
	return nil
}

// loadSensors reads the sensor roster stored by the backfill.
func (j *InferenceJob) loadSensors(ctx context.Context) ([]config.SensorConfig, error) {
	sensorsJSON, err := j.secrets.Get(ctx, SecretSensors)
	if errors.Is(err, featurestore.ErrSecretNotFound) {
		return nil, exception.NewPipelineErrorf("inference", "secret %s is missing; run the backfill first", SecretSensors)
	}
	if err != nil {
		return nil, err
	}
	var sensors []config.SensorConfig
	if err := json.Unmarshal([]byte(sensorsJSON), &sensors); err != nil {
		return nil, exception.NewPipelineError("inference", "failed to decode sensor roster secret", err, false, false)
	}
	return sensors, nil
}

// forecastSensor publishes the forecast and hindcast for one sensor/variant.
func (j *InferenceJob) forecastSensor(
	ctx context.Context,
	sensor config.SensorConfig,
	variant string,
	m features.Regressor,
	today time.Time,
) error {
	wGroup, err := weatherGroup(ctx, j.store)
	if err != nil {
		return err
	}

	var batch []entity.WeatherRecord
	err = wGroup.Read(ctx, &batch,
		featurestore.Where(map[string]interface{}{"city": sensor.City}),
		featurestore.WhereExpr("date >= ?", today),
		featurestore.OrderBy("date ASC"),
	)
	if err != nil {
		return err
	}
	if len(batch) == 0 {
		return exception.NewPipelineErrorf("inference", "no forecast weather stored for %s from %s on", sensor.City, entity.FormatDate(today))
	}

	preds, err := j.predict(ctx, sensor, variant, m, batch)
	if err != nil {
		return err
	}

	monitor, err := monitorGroup(ctx, j.store, variant)
	if err != nil {
		return err
	}
	if err := monitor.Insert(ctx, preds); err != nil {
		return err
	}
	j.recorder.CountRows(monitor.Name(), len(preds))

	forecastArtifact, err := export.ForecastParquet(preds)
	if err != nil {
		return err
	}
	forecastObject := fmt.Sprintf("forecasts/%s/%s-%s.parquet", variant, sensor.City, sensor.Street)
	if err := j.artifacts.Upload(ctx, forecastObject, forecastArtifact, "application/octet-stream"); err != nil {
		return err
	}
	logger.Infof("inference: published %d day forecast for %s/%s (%s)", len(preds), sensor.City, sensor.Street, variant)

	return j.hindcast(ctx, sensor, variant, m, monitor, today)
}

// predict builds one prediction row per forecast day, in day order. The
// lagged variant rolls its own predictions forward as lag inputs.
func (j *InferenceJob) predict(
	ctx context.Context,
	sensor config.SensorConfig,
	variant string,
	m features.Regressor,
	batch []entity.WeatherRecord,
) ([]entity.PredictionRecord, error) {
	useLags := variant == VariantLagged

	var lag1, lag2, lag3 float64
	if useLags {
		var err error
		lag1, lag2, lag3, err = j.latestLags(ctx, sensor)
		if err != nil {
			return nil, err
		}
	}

	preds := make([]entity.PredictionRecord, 0, len(batch))
	for i, w := range batch {
		var x []float64
		if useLags {
			x = features.LaggedVector(w, lag1, lag2, lag3)
		} else {
			x = features.WeatherVector(w)
		}
		predicted := m.Predict(x)

		preds = append(preds, entity.PredictionRecord{
			Country:            sensor.Country,
			City:               sensor.City,
			Street:             sensor.Street,
			Date:               entity.DateOnly(w.Date),
			DaysBeforeForecast: i + 1,
			PredictedPM25:      predicted,
		})

		if useLags {
			lag3, lag2, lag1 = lag2, lag1, predicted
		}
	}
	return preds, nil
}

// latestLags seeds the lag inputs from the location's newest lag feature
// row. A location without lag history gets zeros, with a warning, so a new
// sensor can still be forecast.
func (j *InferenceJob) latestLags(ctx context.Context, sensor config.SensorConfig) (lag1, lag2, lag3 float64, err error) {
	lagGroup, err := laggedGroup(ctx, j.store)
	if err != nil {
		return 0, 0, 0, err
	}

	var rows []entity.AirQualityLagged
	err = lagGroup.Read(ctx, &rows,
		featurestore.Where(map[string]interface{}{
			"country": sensor.Country,
			"city":    sensor.City,
			"street":  sensor.Street,
		}),
		featurestore.OrderBy("date DESC"),
		featurestore.Limit(1),
	)
	if err != nil {
		return 0, 0, 0, err
	}
	if len(rows) == 0 {
		logger.Warnf("inference: no lag history for %s/%s, using zero lags", sensor.City, sensor.Street)
		return 0, 0, 0, nil
	}
	// The newest observation becomes tomorrow's 1-day lag.
	return rows[0].PM25, rows[0].PM25Lag1, rows[0].PM25Lag2, nil
}

// hindcast reconciles stored day-1 predictions against observations and
// publishes the result. An empty join triggers the synthetic backfill.
func (j *InferenceJob) hindcast(
	ctx context.Context,
	sensor config.SensorConfig,
	variant string,
	m features.Regressor,
	monitor *featurestore.Group,
	today time.Time,
) error {
	var dayOnePreds []entity.PredictionRecord
	err := monitor.Read(ctx, &dayOnePreds,
		featurestore.Where(map[string]interface{}{
			"city":                     sensor.City,
			"street":                   sensor.Street,
			"days_before_forecast_day": 1,
		}),
		featurestore.OrderBy("date ASC"),
	)
	if err != nil {
		return err
	}

	aqGroup, err := airQualityGroup(ctx, j.store)
	if err != nil {
		return err
	}
	var obs []entity.AirQualityRecord
	err = aqGroup.Read(ctx, &obs,
		featurestore.Where(map[string]interface{}{
			"country": sensor.Country,
			"city":    sensor.City,
			"street":  sensor.Street,
		}),
		featurestore.OrderBy("date ASC"),
	)
	if err != nil {
		return err
	}

	hindcast := features.Reconcile(dayOnePreds, obs)
	if len(hindcast) == 0 {
		hindcast, err = j.backfillHindcast(ctx, sensor, variant, m, monitor, obs, today)
		if err != nil {
			return err
		}
	}
	if len(hindcast) == 0 {
		logger.Warnf("inference: no hindcast available for %s/%s (%s) yet", sensor.City, sensor.Street, variant)
		return nil
	}

	artifact, err := export.HindcastParquet(hindcast)
	if err != nil {
		return err
	}
	objectName := fmt.Sprintf("hindcasts/%s/%s-%s.parquet", variant, sensor.City, sensor.Street)
	return j.artifacts.Upload(ctx, objectName, artifact, "application/octet-stream")
}

// backfillHindcast synthesizes day-1 predictions from the trailing weather
// of a location that has none, and writes them back. The write is an upsert
// on the monitoring group's key, so reruns rewrite the same rows.
func (j *InferenceJob) backfillHindcast(
	ctx context.Context,
	sensor config.SensorConfig,
	variant string,
	m features.Regressor,
	monitor *featurestore.Group,
	obs []entity.AirQualityRecord,
	today time.Time,
) ([]entity.HindcastRow, error) {
	logger.Infof("inference: backfilling hindcast for new location %s/%s (%s)", sensor.City, sensor.Street, variant)

	wGroup, err := weatherGroup(ctx, j.store)
	if err != nil {
		return nil, err
	}
	var tail []entity.WeatherRecord
	err = wGroup.Read(ctx, &tail,
		featurestore.Where(map[string]interface{}{"city": sensor.City}),
		featurestore.WhereExpr("date < ?", today),
		featurestore.OrderBy("date DESC"),
		featurestore.Limit(j.cfg.MLFS.Pipeline.HindcastWindow),
	)
	if err != nil {
		return nil, err
	}
	if len(tail) == 0 {
		return nil, nil
	}

	var lags []entity.AirQualityLagged
	if variant == VariantLagged {
		lags, err = j.locationLags(ctx, sensor)
		if err != nil {
			// Degraded branch: predict from weather with zero lags rather
			// than losing the hindcast entirely.
			logger.Warnf("inference: lag features unavailable for %s/%s, backfilling with zero lags: %v", sensor.City, sensor.Street, err)
			lags = nil
		}
	}

	backfiller := features.Backfiller{
		Window:  j.cfg.MLFS.Pipeline.HindcastWindow,
		UseLags: variant == VariantLagged,
		Lags:    lags,
		Model:   m,
	}
	preds, hindcast := backfiller.Backfill(tail, obs, entity.LocationKey{
		Country: sensor.Country,
		City:    sensor.City,
		Street:  sensor.Street,
	})
	if len(preds) == 0 {
		return nil, nil
	}
	if err := monitor.Insert(ctx, preds); err != nil {
		return nil, err
	}
	j.recorder.CountRows(monitor.Name(), len(preds))
	return hindcast, nil
}

// locationLags reads every lag feature row stored for the sensor's location.
func (j *InferenceJob) locationLags(ctx context.Context, sensor config.SensorConfig) ([]entity.AirQualityLagged, error) {
	lagGroup, err := laggedGroup(ctx, j.store)
	if err != nil {
		return nil, err
	}
	var lags []entity.AirQualityLagged
	err = lagGroup.Read(ctx, &lags,
		featurestore.Where(map[string]interface{}{
			"country": sensor.Country,
			"city":    sensor.City,
			"street":  sensor.Street,
		}),
		featurestore.OrderBy("date ASC"),
	)
	if err != nil {
		return nil, err
	}
	return lags, nil
}
