package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/adrianthees/mlfs-book/internal/aqi"
	"github.com/adrianthees/mlfs-book/internal/config"
	"github.com/adrianthees/mlfs-book/internal/domain/entity"
	"github.com/adrianthees/mlfs-book/internal/features"
	"github.com/adrianthees/mlfs-book/internal/featurestore"
	"github.com/adrianthees/mlfs-book/internal/openmeteo"
	"github.com/adrianthees/mlfs-book/internal/support/exception"
	"github.com/adrianthees/mlfs-book/internal/support/logger"
	"github.com/adrianthees/mlfs-book/internal/telemetry"
)

// FeaturePipelineJob appends one day of features: today's PM2.5 reading per
// sensor, the refreshed weather forecast per city, and the incremental lag
// row for each location that has enough history.
type FeaturePipelineJob struct {
	cfg       *config.Config
	store     *featurestore.Store
	secrets   *featurestore.Secrets
	air       *aqi.Client
	weather   *openmeteo.Client
	recorder  *telemetry.Recorder
	telemetry *telemetry.Telemetry
}

// NewFeaturePipelineJob wires the daily feature pipeline.
func NewFeaturePipelineJob(
	cfg *config.Config,
	store *featurestore.Store,
	secrets *featurestore.Secrets,
	air *aqi.Client,
	weather *openmeteo.Client,
	recorder *telemetry.Recorder,
	tel *telemetry.Telemetry,
) *FeaturePipelineJob {
	return &FeaturePipelineJob{
		cfg:       cfg,
		store:     store,
		secrets:   secrets,
		air:       air,
		weather:   weather,
		recorder:  recorder,
		telemetry: tel,
	}
}

// Name implements Job.
func (j *FeaturePipelineJob) Name() string { return "feature-pipeline" }

// Run implements Job. Missing secrets abort the run; a failing sensor is
// logged and skipped so the others still get their daily rows.
func (j *FeaturePipelineJob) Run(ctx context.Context) error {
	ctx, span := j.telemetry.StartSpan(ctx, "feature-pipeline")
	defer span.End()

	apiKey, sensors, err := j.loadSecrets(ctx)
	if err != nil {
		return err
	}

	aqGroup, err := airQualityGroup(ctx, j.store)
	if err != nil {
		return err
	}
	wGroup, err := weatherGroup(ctx, j.store)
	if err != nil {
		return err
	}
	lagGroup, err := laggedGroup(ctx, j.store)
	if err != nil {
		return err
	}

	today := entity.DateOnly(time.Now().UTC())
	refreshedCities := map[string]bool{}
	succeeded := 0
	for _, sensor := range sensors {
		if err := j.processSensor(ctx, sensor, apiKey, today, aqGroup, wGroup, lagGroup, refreshedCities); err != nil {
			logger.Warnf("feature-pipeline: sensor %s/%s/%s failed, skipping: %v", sensor.Country, sensor.City, sensor.Street, err)
			continue
		}
		succeeded++
	}
	if succeeded == 0 {
		return exception.NewPipelineErrorf("feature-pipeline", "every sensor failed")
	}
	logger.Infof("feature-pipeline: processed %d/%d sensor(s)", succeeded, len(sensors))
	return nil
}

// loadSecrets reads the API key and sensor roster stored by the backfill.
func (j *FeaturePipelineJob) loadSecrets(ctx context.Context) (string, []config.SensorConfig, error) {
	apiKey, err := j.secrets.Get(ctx, SecretAPIKey)
	if errors.Is(err, featurestore.ErrSecretNotFound) {
		return "", nil, exception.NewPipelineErrorf("feature-pipeline", "secret %s is missing; run the backfill first", SecretAPIKey)
	}
	if err != nil {
		return "", nil, err
	}

	sensorsJSON, err := j.secrets.Get(ctx, SecretSensors)
	if errors.Is(err, featurestore.ErrSecretNotFound) {
		return "", nil, exception.NewPipelineErrorf("feature-pipeline", "secret %s is missing; run the backfill first", SecretSensors)
	}
	if err != nil {
		return "", nil, err
	}

	var sensors []config.SensorConfig
	if err := json.Unmarshal([]byte(sensorsJSON), &sensors); err != nil {
		return "", nil, exception.NewPipelineError("feature-pipeline", "failed to decode sensor roster secret", err, false, false)
	}
	if len(sensors) == 0 {
		return "", nil, exception.NewPipelineErrorf("feature-pipeline", "sensor roster secret is empty")
	}
	return apiKey, sensors, nil
}

// processSensor appends today's rows for one sensor.
func (j *FeaturePipelineJob) processSensor(
	ctx context.Context,
	sensor config.SensorConfig,
	apiKey string,
	today time.Time,
	aqGroup, wGroup, lagGroup *featurestore.Group,
	refreshedCities map[string]bool,
) error {
	reading, err := j.air.FetchPM25(ctx, sensor, apiKey, today)
	j.recorder.CountAPICall("aqicn", err != nil)
	if err != nil {
		return err
	}
	if err := aqGroup.Insert(ctx, []entity.AirQualityRecord{reading}); err != nil {
		return err
	}
	j.recorder.CountRows(aqGroup.Name(), 1)

	if !refreshedCities[sensor.City] {
		forecast, err := j.weather.DailyForecast(ctx, sensor.City, sensor.Latitude, sensor.Longitude)
		j.recorder.CountAPICall("openmeteo", err != nil)
		if err != nil {
			return err
		}
		if err := wGroup.Insert(ctx, forecast); err != nil {
			return err
		}
		j.recorder.CountRows(wGroup.Name(), len(forecast))
		refreshedCities[sensor.City] = true
	}

	return j.appendLagRow(ctx, sensor, today, aqGroup, lagGroup)
}

// appendLagRow derives the lag row for today's observation from the trailing
// window of this location's history. Locations with too little history yield
// nothing, which is not an error.
func (j *FeaturePipelineJob) appendLagRow(
	ctx context.Context,
	sensor config.SensorConfig,
	today time.Time,
	aqGroup, lagGroup *featurestore.Group,
) error {
	window := j.cfg.MLFS.Pipeline.LagWindow

	var tail []entity.AirQualityRecord
	err := aqGroup.Read(ctx, &tail,
		featurestore.Where(map[string]interface{}{
			"country": sensor.Country,
			"city":    sensor.City,
			"street":  sensor.Street,
		}),
		featurestore.OrderBy("date DESC"),
		featurestore.Limit(window),
	)
	if err != nil {
		return err
	}

	lagged := features.DeriveTail(tail, window)
	var todayRows []entity.AirQualityLagged
	for _, row := range lagged {
		if row.Date.Equal(today) {
			todayRows = append(todayRows, row)
		}
	}
	if len(todayRows) == 0 {
		logger.Debugf("feature-pipeline: %s/%s has no complete lag row for %s yet", sensor.City, sensor.Street, entity.FormatDate(today))
		return nil
	}

	if err := lagGroup.Insert(ctx, todayRows); err != nil {
		return err
	}
	j.recorder.CountRows(lagGroup.Name(), len(todayRows))
	return nil
}
