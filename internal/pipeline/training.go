package pipeline

import (
	"context"
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

// trainingRow is one assembled training example.
type trainingRow struct {
	city     string
	street   string
	date     time.Time
	features []float64
	label    float64
}

// TrainingJob assembles the training sets from the feature groups, fits both
// model variants with a temporal split, and registers the results.
type TrainingJob struct {
	cfg       *config.Config
	store     *featurestore.Store
	registry  *registry.Registry
	artifacts storage.Connection
	recorder  *telemetry.Recorder
	telemetry *telemetry.Telemetry
}

// NewTrainingJob wires the training pipeline.
func NewTrainingJob(
	cfg *config.Config,
	store *featurestore.Store,
	reg *registry.Registry,
	artifacts storage.Connection,
	recorder *telemetry.Recorder,
	tel *telemetry.Telemetry,
) *TrainingJob {
	return &TrainingJob{
		cfg:       cfg,
		store:     store,
		registry:  reg,
		artifacts: artifacts,
		recorder:  recorder,
		telemetry: tel,
	}
}

// Name implements Job.
func (j *TrainingJob) Name() string { return "train" }

// Run implements Job.
func (j *TrainingJob) Run(ctx context.Context) error {
	ctx, span := j.telemetry.StartSpan(ctx, "train")
	defer span.End()

	splitDate, err := entity.ParseDate(j.cfg.MLFS.Pipeline.TestStartDate)
	if err != nil {
		return exception.NewPipelineError("train", "invalid test_start_date '"+j.cfg.MLFS.Pipeline.TestStartDate+"'", err, false, false)
	}

	weatherByKey, err := j.loadWeather(ctx)
	if err != nil {
		return err
	}

	baseRows, err := j.baseDataset(ctx, weatherByKey)
	if err != nil {
		return err
	}
	if err := j.trainVariant(ctx, VariantAirQuality, baseRows, splitDate); err != nil {
		return err
	}

	laggedRows, err := j.laggedDataset(ctx, weatherByKey)
	if err != nil {
		return err
	}
	return j.trainVariant(ctx, VariantLagged, laggedRows, splitDate)
}

// weatherKey joins weather rows to observations.
type weatherKey struct {
	city string
	date time.Time
}

// loadWeather indexes all weather rows by city and date.
func (j *TrainingJob) loadWeather(ctx context.Context) (map[weatherKey]entity.WeatherRecord, error) {
	wGroup, err := weatherGroup(ctx, j.store)
	if err != nil {
		return nil, err
	}
	var weather []entity.WeatherRecord
	if err := wGroup.Read(ctx, &weather); err != nil {
		return nil, err
	}

	byKey := make(map[weatherKey]entity.WeatherRecord, len(weather))
	for _, w := range weather {
		byKey[weatherKey{city: w.City, date: entity.DateOnly(w.Date)}] = w
	}
	return byKey, nil
}

// baseDataset joins observations with weather on city and date.
func (j *TrainingJob) baseDataset(ctx context.Context, weather map[weatherKey]entity.WeatherRecord) ([]trainingRow, error) {
	aqGroup, err := airQualityGroup(ctx, j.store)
	if err != nil {
		return nil, err
	}
	var obs []entity.AirQualityRecord
	if err := aqGroup.Read(ctx, &obs, featurestore.OrderBy("city, street, date")); err != nil {
		return nil, err
	}

	var rows []trainingRow
	for _, o := range obs {
		w, ok := weather[weatherKey{city: o.City, date: entity.DateOnly(o.Date)}]
		if !ok {
			continue
		}
		rows = append(rows, trainingRow{
			city:     o.City,
			street:   o.Street,
			date:     entity.DateOnly(o.Date),
			features: features.WeatherVector(w),
			label:    o.PM25,
		})
	}
	return rows, nil
}

// laggedDataset joins lag feature rows with weather on city and date.
func (j *TrainingJob) laggedDataset(ctx context.Context, weather map[weatherKey]entity.WeatherRecord) ([]trainingRow, error) {
	lagGroup, err := laggedGroup(ctx, j.store)
	if err != nil {
		return nil, err
	}
	var lagged []entity.AirQualityLagged
	if err := lagGroup.Read(ctx, &lagged, featurestore.OrderBy("city, street, date")); err != nil {
		return nil, err
	}

	var rows []trainingRow
	for _, l := range lagged {
		w, ok := weather[weatherKey{city: l.City, date: entity.DateOnly(l.Date)}]
		if !ok {
			continue
		}
		rows = append(rows, trainingRow{
			city:     l.City,
			street:   l.Street,
			date:     entity.DateOnly(l.Date),
			features: features.LaggedVector(w, l.PM25Lag1, l.PM25Lag2, l.PM25Lag3),
			label:    l.PM25,
		})
	}
	return rows, nil
}

// trainVariant fits, evaluates and registers one model variant, and uploads
// its held-out hindcast as a parquet artifact.
func (j *TrainingJob) trainVariant(ctx context.Context, variant string, rows []trainingRow, splitDate time.Time) error {
	var trainX, testX [][]float64
	var trainY, testY []float64
	var testRows []trainingRow
	for _, row := range rows {
		if row.date.Before(splitDate) {
			trainX = append(trainX, row.features)
			trainY = append(trainY, row.label)
		} else {
			testX = append(testX, row.features)
			testY = append(testY, row.label)
			testRows = append(testRows, row)
		}
	}
	if len(trainX) == 0 || len(testX) == 0 {
		return exception.NewPipelineErrorf("train",
			"variant %s: temporal split at %s leaves %d train and %d test rows", variant, entity.FormatDate(splitDate), len(trainX), len(testX))
	}

	m := model.New(model.DefaultParams())
	m.FeatureNames = featureNames(variant)
	if err := m.Fit(trainX, trainY); err != nil {
		return exception.NewPipelineError("train", "variant "+variant+": training failed", err, false, false)
	}

	predicted := m.PredictBatch(testX)
	metrics := model.Evaluate(predicted, testY)
	logger.Infof("train: variant %s: %d train / %d test rows, mse=%.4f, r2=%.4f",
		variant, len(trainX), len(testX), metrics.MSE, metrics.RSquared)

	if err := j.registry.Register(ctx, variant, m, metrics); err != nil {
		return err
	}

	return j.uploadHoldout(ctx, variant, testRows, predicted)
}

// featureNames lists the model input columns in vector order.
func featureNames(variant string) []string {
	names := []string{"temperature_2m_mean", "precipitation_sum", "wind_speed_10m_max", "wind_direction_10m_dominant"}
	if variant == VariantLagged {
		names = append(names, "pm_2_5_previous_1_day", "pm_2_5_previous_2_day", "pm_2_5_previous_3_day")
	}
	return names
}

// uploadHoldout publishes the held-out predictions next to the model so the
// fit can be inspected without rerunning training.
func (j *TrainingJob) uploadHoldout(ctx context.Context, variant string, testRows []trainingRow, predicted []float64) error {
	hindcast := make([]entity.HindcastRow, 0, len(testRows))
	for i, row := range testRows {
		hindcast = append(hindcast, entity.HindcastRow{
			City:          row.city,
			Street:        row.street,
			Date:          row.date,
			PredictedPM25: predicted[i],
			ActualPM25:    row.label,
		})
	}
	artifact, err := export.HindcastParquet(hindcast)
	if err != nil {
		return err
	}
	objectName := fmt.Sprintf("models/%s/holdout.parquet", variant)
	return j.artifacts.Upload(ctx, objectName, artifact, "application/octet-stream")
}
