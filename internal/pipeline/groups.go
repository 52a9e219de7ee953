package pipeline

import (
	"context"

	"github.com/adrianthees/mlfs-book/internal/domain/entity"
	"github.com/adrianthees/mlfs-book/internal/featurestore"
	"github.com/adrianthees/mlfs-book/internal/validation"
)

// airQualityGroup returns the PM2.5 observation group.
func airQualityGroup(ctx context.Context, store *featurestore.Store) (*featurestore.Group, error) {
	return store.GetOrCreateGroup(ctx, featurestore.GroupSpec{
		Name:        "air_quality",
		Version:     1,
		Description: "Daily PM2.5 observations per sensor location",
		EventTime:   "date",
		Prototype:   &entity.AirQualityRecord{},
		Suite:       validation.AirQualitySuite(),
	})
}

// weatherGroup returns the daily weather group.
func weatherGroup(ctx context.Context, store *featurestore.Store) (*featurestore.Group, error) {
	return store.GetOrCreateGroup(ctx, featurestore.GroupSpec{
		Name:        "weather",
		Version:     1,
		Description: "Daily weather summaries per city",
		EventTime:   "date",
		Prototype:   &entity.WeatherRecord{},
		Suite:       validation.WeatherSuite(),
	})
}

// laggedGroup returns the lag feature group derived from observations.
func laggedGroup(ctx context.Context, store *featurestore.Store) (*featurestore.Group, error) {
	return store.GetOrCreateGroup(ctx, featurestore.GroupSpec{
		Name:        "air_quality_lagged",
		Version:     1,
		Description: "PM2.5 observations with 1, 2 and 3 row lags per location",
		EventTime:   "date",
		Prototype:   &entity.AirQualityLagged{},
	})
}

// monitorGroup returns the prediction monitoring group for one model variant.
func monitorGroup(ctx context.Context, store *featurestore.Store, variant string) (*featurestore.Group, error) {
	return store.GetOrCreateGroup(ctx, featurestore.GroupSpec{
		Name:        variant + "_predictions",
		Version:     1,
		Description: "Published PM2.5 predictions for the " + variant + " model",
		EventTime:   "date",
		Prototype:   &entity.PredictionRecord{},
	})
}
