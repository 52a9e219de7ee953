// Package app assembles the pipelines into runnable applications with
// uber-fx, wiring configuration, storage, clients and telemetry.
package app

import (
	"context"
	_ "embed"
	"time"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/adrianthees/mlfs-book/internal/aqi"
	"github.com/adrianthees/mlfs-book/internal/config"
	"github.com/adrianthees/mlfs-book/internal/featurestore"
	"github.com/adrianthees/mlfs-book/internal/httpx"
	"github.com/adrianthees/mlfs-book/internal/openmeteo"
	"github.com/adrianthees/mlfs-book/internal/pipeline"
	"github.com/adrianthees/mlfs-book/internal/registry"
	"github.com/adrianthees/mlfs-book/internal/runs"
	"github.com/adrianthees/mlfs-book/internal/storage"
	"github.com/adrianthees/mlfs-book/internal/support/logger"
	"github.com/adrianthees/mlfs-book/internal/telemetry"
)

// embeddedConfig is the bundled default configuration. Environment variables
// and an optional .env file override it at startup.
//
//go:embed resources/application.yaml
var embeddedConfig []byte

// jobOptions maps a job name to the fx options providing it.
var jobOptions = map[string]fx.Option{
	"backfill": fx.Options(
		fx.Provide(pipeline.NewBackfillJob),
		fx.Provide(func(j *pipeline.BackfillJob) pipeline.Job { return j }),
	),
	"feature-pipeline": fx.Options(
		fx.Provide(pipeline.NewFeaturePipelineJob),
		fx.Provide(func(j *pipeline.FeaturePipelineJob) pipeline.Job { return j }),
	),
	"train": fx.Options(
		fx.Provide(pipeline.NewTrainingJob),
		fx.Provide(func(j *pipeline.TrainingJob) pipeline.Job { return j }),
	),
	"inference": fx.Options(
		fx.Provide(pipeline.NewInferenceJob),
		fx.Provide(func(j *pipeline.InferenceJob) pipeline.Job { return j }),
	),
	"scheduler": fx.Options(
		fx.Provide(pipeline.NewFeaturePipelineJob),
		fx.Provide(pipeline.NewInferenceJob),
		fx.Provide(pipeline.NewSchedulerJob),
		fx.Provide(func(j *pipeline.SchedulerJob) pipeline.Job { return j }),
	),
}

// Run loads the configuration, builds the fx application for the named job,
// and runs it to completion. The process exit code reflects the job outcome.
func Run(appCtx context.Context, jobName string) {
	cfg, err := config.LoadConfig("", embeddedConfig)
	if err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}

	logger.SetLogLevel(cfg.MLFS.System.Logging.Level)
	logger.Infof("Log level set to: %s", cfg.MLFS.System.Logging.Level)

	jobOption, ok := jobOptions[jobName]
	if !ok {
		logger.Fatalf("Unknown job: %s", jobName)
	}

	app := fx.New(
		fx.Supply(
			cfg,
			fx.Annotate(appCtx, fx.As(new(context.Context)), fx.ResultTags(`name:"appCtx"`)),
		),
		fx.WithLogger(func() fxevent.Logger { return logger.NewFxLoggerAdapter() }),

		fx.Provide(
			newStore,
			newSecrets,
			newRunRepository,
			newAQIClient,
			newOpenMeteoClient,
			newArtifactStore,
			newRegistry,
			telemetry.NewRecorder,
			newTelemetry,
		),
		fx.Provide(func(cfg *config.Config) config.MetricsConfig { return cfg.MLFS.Metrics }),

		jobOption,

		fx.Invoke(fx.Annotate(startJob, fx.ParamTags(
			"",              // lc fx.Lifecycle
			"",              // shutdowner fx.Shutdowner
			"",              // job pipeline.Job
			"",              // repo *runs.Repository
			"",              // recorder *telemetry.Recorder
			`name:"appCtx"`, // appCtx context.Context
		))),
	)

	app.Run()

	if app.Err() != nil {
		logger.Fatalf("Application run failed: %v", app.Err())
	}
}

// newStore opens the feature store connection and closes it on shutdown.
func newStore(lc fx.Lifecycle, cfg *config.Config) (*featurestore.Store, error) {
	ds, err := cfg.Datastore("featurestore")
	if err != nil {
		return nil, err
	}
	store, err := featurestore.Open(ds)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error { return store.Close() },
	})
	return store, nil
}

func newSecrets(store *featurestore.Store) (*featurestore.Secrets, error) {
	return featurestore.NewSecrets(context.Background(), store)
}

func newRunRepository(cfg *config.Config, store *featurestore.Store) (*runs.Repository, error) {
	ds, err := cfg.Datastore("featurestore")
	if err != nil {
		return nil, err
	}
	return runs.NewRepository(context.Background(), store, ds.Type)
}

// Each provider gets its own client so a flapping upstream only opens its
// own circuit breaker.
func newAQIClient(cfg *config.Config) *aqi.Client {
	return aqi.NewClient(httpx.New(cfg.MLFS.HTTP, "aqicn"), cfg.MLFS.AQICN)
}

func newOpenMeteoClient(cfg *config.Config) *openmeteo.Client {
	return openmeteo.NewClient(httpx.New(cfg.MLFS.HTTP, "open-meteo"), cfg.MLFS.OpenMeteo)
}

// newArtifactStore opens the artifact storage connection and closes it on
// shutdown.
func newArtifactStore(lc fx.Lifecycle, cfg *config.Config) (storage.Connection, error) {
	sc, err := cfg.Storage("artifacts")
	if err != nil {
		return nil, err
	}
	conn, err := storage.Open(context.Background(), sc)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error { return conn.Close() },
	})
	return conn, nil
}

func newRegistry(cfg *config.Config, artifacts storage.Connection) *registry.Registry {
	return registry.New(cfg.MLFS.Pipeline.ModelDir, artifacts)
}

// newTelemetry configures the OTLP providers and flushes them on shutdown.
func newTelemetry(lc fx.Lifecycle, cfg *config.Config) (*telemetry.Telemetry, error) {
	tel, err := telemetry.Setup(context.Background(), cfg.MLFS.Telemetry)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error { return tel.Shutdown(ctx) },
	})
	return tel, nil
}

// startJob launches the job once the container is up and shuts the
// application down with the job's outcome as the exit code.
func startJob(
	lc fx.Lifecycle,
	shutdowner fx.Shutdowner,
	job pipeline.Job,
	repo *runs.Repository,
	recorder *telemetry.Recorder,
	appCtx context.Context,
) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go executeJob(appCtx, shutdowner, job, repo, recorder)
			return nil
		},
	})
}

// executeJob runs the job, records the run, pushes metrics and signals
// shutdown.
func executeJob(
	ctx context.Context,
	shutdowner fx.Shutdowner,
	job pipeline.Job,
	repo *runs.Repository,
	recorder *telemetry.Recorder,
) {
	run, err := repo.Start(ctx, job.Name())
	if err != nil {
		logger.Warnf("failed to record run start for job '%s': %v", job.Name(), err)
	}

	start := time.Now()
	jobErr := job.Run(ctx)
	elapsed := time.Since(start)

	// ctx may already be cancelled when a long-lived job was stopped by a
	// signal, so the completion record gets its own context.
	if run != nil {
		if err := repo.Complete(context.Background(), run, jobErr); err != nil {
			logger.Warnf("failed to record run completion for job '%s': %v", job.Name(), err)
		}
	}
	recorder.ObserveRun(job.Name(), elapsed.Seconds(), jobErr != nil)
	if err := recorder.Push(job.Name()); err != nil {
		logger.Warnf("failed to push metrics for job '%s': %v", job.Name(), err)
	}

	if jobErr != nil {
		logger.Errorf("Job '%s' failed after %s: %v", job.Name(), elapsed.Round(time.Millisecond), jobErr)
		_ = shutdowner.Shutdown(fx.ExitCode(1))
		return
	}
	logger.Infof("Job '%s' completed in %s", job.Name(), elapsed.Round(time.Millisecond))
	_ = shutdowner.Shutdown()
}
