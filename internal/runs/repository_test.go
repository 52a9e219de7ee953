package runs_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gorm_logger "gorm.io/gorm/logger"

	"github.com/adrianthees/mlfs-book/internal/featurestore"
	"github.com/adrianthees/mlfs-book/internal/runs"
)

func newRepository(t *testing.T) *runs.Repository {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gorm_logger.Default.LogMode(gorm_logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	store := featurestore.NewStoreWithDB(db)
	t.Cleanup(func() { store.Close() })

	repo, err := runs.NewRepository(context.Background(), store, "sqlite")
	require.NoError(t, err)
	return repo
}

func TestStartAndCompleteRun(t *testing.T) {
	repo := newRepository(t)
	ctx := context.Background()

	run, err := repo.Start(ctx, "feature_pipeline")
	require.NoError(t, err)
	assert.NotEmpty(t, run.ID)
	assert.Equal(t, runs.StatusStarted, run.Status)
	assert.Nil(t, run.CompletedAt)

	require.NoError(t, repo.Complete(ctx, run, nil))
	assert.Equal(t, runs.StatusCompleted, run.Status)
	require.NotNil(t, run.CompletedAt)

	recent, err := repo.Recent(ctx, "feature_pipeline", 10)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, run.ID, recent[0].ID)
	assert.Equal(t, runs.StatusCompleted, recent[0].Status)
}

func TestCompleteRecordsFailure(t *testing.T) {
	repo := newRepository(t)
	ctx := context.Background()

	run, err := repo.Start(ctx, "inference")
	require.NoError(t, err)
	require.NoError(t, repo.Complete(ctx, run, errors.New("upstream unavailable")))

	recent, err := repo.Recent(ctx, "inference", 1)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, runs.StatusFailed, recent[0].Status)
	assert.Equal(t, "upstream unavailable", recent[0].ErrorMessage)
}

func TestRecentFiltersByJobAndLimits(t *testing.T) {
	repo := newRepository(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		run, err := repo.Start(ctx, "training")
		require.NoError(t, err)
		require.NoError(t, repo.Complete(ctx, run, nil))
	}
	other, err := repo.Start(ctx, "backfill")
	require.NoError(t, err)
	require.NoError(t, repo.Complete(ctx, other, nil))

	recent, err := repo.Recent(ctx, "training", 2)
	require.NoError(t, err)
	assert.Len(t, recent, 2)
	for _, run := range recent {
		assert.Equal(t, "training", run.JobName)
	}
}

func TestMigrationsAreIdempotent(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gorm_logger.Default.LogMode(gorm_logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	store := featurestore.NewStoreWithDB(db)
	defer store.Close()

	_, err = runs.NewRepository(context.Background(), store, "sqlite")
	require.NoError(t, err)
	_, err = runs.NewRepository(context.Background(), store, "sqlite")
	assert.NoError(t, err)
}
