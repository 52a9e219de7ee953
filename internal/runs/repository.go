// Package runs records every pipeline execution in the feature store
// database, including its outcome, for operational history.
package runs

import (
	"context"
	"database/sql"
	"embed"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/mysql"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"

	"github.com/adrianthees/mlfs-book/internal/featurestore"
	"github.com/adrianthees/mlfs-book/internal/support/exception"
	"github.com/adrianthees/mlfs-book/internal/support/logger"
)

const moduleName = "runs"

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Run statuses.
const (
	StatusStarted   = "STARTED"
	StatusCompleted = "COMPLETED"
	StatusFailed    = "FAILED"
)

// Run is one recorded pipeline execution.
type Run struct {
	ID           string     `gorm:"column:id;primaryKey"`
	JobName      string     `gorm:"column:job_name"`
	Status       string     `gorm:"column:status"`
	StartedAt    time.Time  `gorm:"column:started_at"`
	CompletedAt  *time.Time `gorm:"column:completed_at"`
	ErrorMessage string     `gorm:"column:error_message"`
}

// TableName returns the table backing run records.
func (Run) TableName() string {
	return "pipeline_runs"
}

// Repository persists pipeline runs.
type Repository struct {
	store  *featurestore.Store
	dbType string
}

// NewRepository applies the schema migrations and returns a run repository.
func NewRepository(ctx context.Context, store *featurestore.Store, dbType string) (*Repository, error) {
	r := &Repository{store: store, dbType: dbType}
	if err := r.migrate(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

// migrate applies all pending migrations from the embedded scripts.
func (r *Repository) migrate(_ context.Context) error {
	sqlDB, err := r.store.DB().DB()
	if err != nil {
		return exception.NewPipelineError(moduleName, "failed to access underlying sql.DB", err, false, false)
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return exception.NewPipelineError(moduleName, "failed to create iofs source driver", err, false, false)
	}

	dbDriver, err := r.databaseDriver(sqlDB)
	if err != nil {
		return err
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, r.dbType, dbDriver)
	if err != nil {
		return exception.NewPipelineError(moduleName, "failed to create migrate instance", err, false, false)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return exception.NewPipelineError(moduleName, "migration failed", err, false, false)
	}
	logger.Debugf("pipeline_runs migrations applied")
	return nil
}

// databaseDriver returns the migrate driver for the configured database type.
func (r *Repository) databaseDriver(sqlDB *sql.DB) (database.Driver, error) {
	switch r.dbType {
	case "postgres", "redshift":
		d, err := postgres.WithInstance(sqlDB, &postgres.Config{})
		if err != nil {
			return nil, exception.NewPipelineError(moduleName, "failed to create postgres migrate driver", err, false, false)
		}
		return d, nil
	case "mysql":
		d, err := mysql.WithInstance(sqlDB, &mysql.Config{})
		if err != nil {
			return nil, exception.NewPipelineError(moduleName, "failed to create mysql migrate driver", err, false, false)
		}
		return d, nil
	case "sqlite":
		d, err := sqlite.WithInstance(sqlDB, &sqlite.Config{})
		if err != nil {
			return nil, exception.NewPipelineError(moduleName, "failed to create sqlite migrate driver", err, false, false)
		}
		return d, nil
	default:
		return nil, exception.NewPipelineErrorf(moduleName, "unsupported database type for migration: %s", r.dbType)
	}
}

// Start records a new run in STARTED state.
func (r *Repository) Start(ctx context.Context, jobName string) (*Run, error) {
	run := &Run{
		ID:        uuid.New().String(),
		JobName:   jobName,
		Status:    StatusStarted,
		StartedAt: time.Now().UTC(),
	}
	if err := r.store.DB().WithContext(ctx).Create(run).Error; err != nil {
		return nil, exception.NewPipelineError(moduleName, "failed to record run start", err, false, true)
	}
	logger.Infof("run %s started for job '%s'", run.ID, jobName)
	return run, nil
}

// Complete marks the run finished, recording the failure message if any.
func (r *Repository) Complete(ctx context.Context, run *Run, runErr error) error {
	now := time.Now().UTC()
	run.CompletedAt = &now
	if runErr != nil {
		run.Status = StatusFailed
		run.ErrorMessage = runErr.Error()
	} else {
		run.Status = StatusCompleted
	}
	if err := r.store.DB().WithContext(ctx).Save(run).Error; err != nil {
		return exception.NewPipelineError(moduleName, "failed to record run completion", err, false, true)
	}
	logger.Infof("run %s for job '%s' finished with status %s", run.ID, run.JobName, run.Status)
	return nil
}

// Recent returns the latest runs of a job, newest first.
func (r *Repository) Recent(ctx context.Context, jobName string, limit int) ([]Run, error) {
	var out []Run
	err := r.store.DB().WithContext(ctx).
		Where("job_name = ?", jobName).
		Order("started_at DESC").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, exception.NewPipelineError(moduleName, "failed to list runs", err, false, true)
	}
	return out, nil
}
