package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/adrianthees/mlfs-book/internal/config"
	"github.com/adrianthees/mlfs-book/internal/domain/entity"
	"github.com/adrianthees/mlfs-book/internal/features"
	"github.com/adrianthees/mlfs-book/internal/featurestore"
	"github.com/adrianthees/mlfs-book/internal/openmeteo"
	"github.com/adrianthees/mlfs-book/internal/support/exception"
	"github.com/adrianthees/mlfs-book/internal/support/logger"
	"github.com/adrianthees/mlfs-book/internal/telemetry"
)

// BackfillJob seeds the feature store: it bootstraps secrets, loads every
// sensor's historical observations from the seed CSVs, fetches matching
// weather history, and derives the initial lag features.
type BackfillJob struct {
	cfg       *config.Config
	store     *featurestore.Store
	secrets   *featurestore.Secrets
	weather   *openmeteo.Client
	recorder  *telemetry.Recorder
	telemetry *telemetry.Telemetry
}

// NewBackfillJob wires the backfill pipeline.
func NewBackfillJob(
	cfg *config.Config,
	store *featurestore.Store,
	secrets *featurestore.Secrets,
	weather *openmeteo.Client,
	recorder *telemetry.Recorder,
	tel *telemetry.Telemetry,
) *BackfillJob {
	return &BackfillJob{
		cfg:       cfg,
		store:     store,
		secrets:   secrets,
		weather:   weather,
		recorder:  recorder,
		telemetry: tel,
	}
}

// Name implements Job.
func (j *BackfillJob) Name() string { return "backfill" }

// Run implements Job. Failures of one sensor are logged and skipped so the
// remaining sensors still get seeded; a missing API key aborts the run.
func (j *BackfillJob) Run(ctx context.Context) error {
	ctx, span := j.telemetry.StartSpan(ctx, "backfill")
	defer span.End()

	if err := j.bootstrapSecrets(ctx); err != nil {
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

	seededCities := map[string]bool{}
	seeded := 0
	for _, sensor := range j.cfg.MLFS.Sensors {
		if err := j.backfillSensor(ctx, sensor, aqGroup, wGroup, seededCities); err != nil {
			logger.Warnf("backfill: sensor %s/%s/%s failed, skipping: %v", sensor.Country, sensor.City, sensor.Street, err)
			continue
		}
		seeded++
	}
	if seeded == 0 {
		return exception.NewPipelineErrorf("backfill", "no sensor could be backfilled")
	}

	return j.deriveLags(ctx, aqGroup, lagGroup)
}

// bootstrapSecrets stores the API key and the sensor roster for the
// recurring pipelines. The key must be present in the environment or .env.
func (j *BackfillJob) bootstrapSecrets(ctx context.Context) error {
	apiKey := j.cfg.MLFS.AQICN.APIKey
	if apiKey == "" {
		return exception.NewPipelineErrorf("backfill", "AQICN API key is not configured; set AQICN_API_KEY")
	}
	if err := j.secrets.Replace(ctx, SecretAPIKey, apiKey); err != nil {
		return err
	}

	sensorsJSON, err := json.Marshal(j.cfg.MLFS.Sensors)
	if err != nil {
		return exception.NewPipelineError("backfill", "failed to marshal sensor roster", err, false, false)
	}
	if err := j.secrets.Replace(ctx, SecretSensors, string(sensorsJSON)); err != nil {
		return err
	}
	logger.Infof("backfill: bootstrapped secrets for %d sensor(s)", len(j.cfg.MLFS.Sensors))
	return nil
}

// backfillSensor seeds one sensor's observations and, once per city, its
// weather history.
func (j *BackfillJob) backfillSensor(
	ctx context.Context,
	sensor config.SensorConfig,
	aqGroup, wGroup *featurestore.Group,
	seededCities map[string]bool,
) error {
	csvPath := filepath.Join(j.cfg.MLFS.Pipeline.DataDir, fmt.Sprintf("%s-%s.csv", sensor.City, sensor.Street))
	obs, err := readSensorCSV(csvPath, sensor)
	if err != nil {
		return err
	}

	if err := aqGroup.Insert(ctx, obs); err != nil {
		return err
	}
	j.recorder.CountRows(aqGroup.Name(), len(obs))
	logger.Infof("backfill: seeded %d observation(s) for %s/%s", len(obs), sensor.City, sensor.Street)

	if seededCities[sensor.City] {
		return nil
	}

	earliest := obs[0].Date
	for _, o := range obs {
		if o.Date.Before(earliest) {
			earliest = o.Date
		}
	}
	yesterday := entity.DateOnly(time.Now().UTC().AddDate(0, 0, -1))

	history, err := j.weather.DailyHistory(ctx, sensor.City, sensor.Latitude, sensor.Longitude, earliest, yesterday)
	j.recorder.CountAPICall("openmeteo", err != nil)
	if err != nil {
		return err
	}
	if err := wGroup.Insert(ctx, history); err != nil {
		return err
	}
	j.recorder.CountRows(wGroup.Name(), len(history))
	logger.Infof("backfill: seeded %d weather day(s) for %s", len(history), sensor.City)

	seededCities[sensor.City] = true
	return nil
}

// deriveLags rebuilds the lag feature group from all stored observations.
func (j *BackfillJob) deriveLags(ctx context.Context, aqGroup, lagGroup *featurestore.Group) error {
	var obs []entity.AirQualityRecord
	if err := aqGroup.Read(ctx, &obs, featurestore.OrderBy("city, street, date")); err != nil {
		return err
	}

	lagged := features.Derive(obs)
	if len(lagged) == 0 {
		logger.Warnf("backfill: no location has enough observations for lag features yet")
		return nil
	}
	if err := lagGroup.Insert(ctx, lagged); err != nil {
		return err
	}
	j.recorder.CountRows(lagGroup.Name(), len(lagged))
	logger.Infof("backfill: derived %d lag feature row(s)", len(lagged))
	return nil
}
