package features_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adrianthees/mlfs-book/internal/domain/entity"
	"github.com/adrianthees/mlfs-book/internal/features"
)

type stubModel struct {
	value float64
	seen  [][]float64
}

func (m *stubModel) Predict(x []float64) float64 {
	m.seen = append(m.seen, x)
	return m.value
}

func predRow(city, street, date string, predicted float64) entity.PredictionRecord {
	return entity.PredictionRecord{
		Country:            "denmark",
		City:               city,
		Street:             street,
		Date:               day(date),
		DaysBeforeForecast: 1,
		PredictedPM25:      predicted,
	}
}

func weatherRow(city, date string) entity.WeatherRecord {
	return entity.WeatherRecord{
		City:                  city,
		Date:                  day(date),
		TemperatureMean:       5.5,
		PrecipitationSum:      0.2,
		WindSpeedMax:          12.0,
		WindDirectionDominant: 180,
	}
}

func TestReconcileJoinsOnDate(t *testing.T) {
	preds := []entity.PredictionRecord{
		predRow("copenhagen", "main", "2024-01-03", 33),
		predRow("copenhagen", "main", "2024-01-01", 11),
		predRow("copenhagen", "main", "2024-01-02", 22),
	}
	obs := []entity.AirQualityRecord{
		obsRow("copenhagen", "main", "2024-01-01", 10),
		obsRow("copenhagen", "main", "2024-01-03", 30),
		obsRow("copenhagen", "main", "2024-01-09", 90),
	}

	rows := features.Reconcile(preds, obs)
	require.Len(t, rows, 2)

	// Ordered by date; 01-02 has no observation, 01-09 has no prediction.
	assert.Equal(t, day("2024-01-01"), rows[0].Date)
	assert.Equal(t, 11.0, rows[0].PredictedPM25)
	assert.Equal(t, 10.0, rows[0].ActualPM25)
	assert.Equal(t, day("2024-01-03"), rows[1].Date)
	assert.Equal(t, 33.0, rows[1].PredictedPM25)
	assert.Equal(t, 30.0, rows[1].ActualPM25)
}

func TestReconcileKeepsOnlyNextDayForecasts(t *testing.T) {
	preds := []entity.PredictionRecord{
		predRow("copenhagen", "main", "2024-01-01", 11),
		predRow("copenhagen", "main", "2024-01-02", 22),
		predRow("copenhagen", "main", "2024-01-03", 33),
	}
	preds[1].DaysBeforeForecast = 2
	preds[2].DaysBeforeForecast = 3
	obs := []entity.AirQualityRecord{
		obsRow("copenhagen", "main", "2024-01-01", 10),
		obsRow("copenhagen", "main", "2024-01-02", 20),
		obsRow("copenhagen", "main", "2024-01-03", 30),
	}

	// Every horizon has a matching observation, but only the one-day-ahead
	// prediction is reconciled.
	rows := features.Reconcile(preds, obs)
	require.Len(t, rows, 1)
	assert.Equal(t, day("2024-01-01"), rows[0].Date)
	assert.Equal(t, 11.0, rows[0].PredictedPM25)
}

func TestReconcileEmptyInputs(t *testing.T) {
	assert.Empty(t, features.Reconcile(nil, nil))
	assert.Empty(t, features.Reconcile([]entity.PredictionRecord{predRow("copenhagen", "main", "2024-01-01", 1)}, nil))
	assert.Empty(t, features.Reconcile(nil, []entity.AirQualityRecord{obsRow("copenhagen", "main", "2024-01-01", 1)}))
}

func TestBackfillPredictsTrailingWindow(t *testing.T) {
	var weather []entity.WeatherRecord
	for i := 1; i <= 14; i++ {
		weather = append(weather, weatherRow("copenhagen", entity.FormatDate(day("2024-01-01").AddDate(0, 0, i-1))))
	}
	obs := []entity.AirQualityRecord{
		obsRow("copenhagen", "main", "2024-01-10", 40),
		obsRow("copenhagen", "main", "2024-01-13", 45),
	}

	model := &stubModel{value: 42}
	b := &features.Backfiller{Window: 10, UseLags: false, Model: model}
	loc := entity.LocationKey{Country: "denmark", City: "copenhagen", Street: "main"}

	preds, rows := b.Backfill(weather, obs, loc)

	// Only the trailing ten weather days get synthetic predictions.
	require.Len(t, preds, 10)
	assert.Equal(t, day("2024-01-05"), preds[0].Date)
	assert.Equal(t, day("2024-01-14"), preds[9].Date)
	for _, p := range preds {
		assert.Equal(t, 1, p.DaysBeforeForecast)
		assert.Equal(t, 42.0, p.PredictedPM25)
		assert.Equal(t, "main", p.Street)
	}

	// Reconciled against whatever observations exist inside the window.
	require.Len(t, rows, 2)
	assert.Equal(t, day("2024-01-10"), rows[0].Date)
	assert.Equal(t, 40.0, rows[0].ActualPM25)
	assert.Equal(t, day("2024-01-13"), rows[1].Date)
	assert.Equal(t, 45.0, rows[1].ActualPM25)
}

func TestBackfillLaggedModelSeesZeroLags(t *testing.T) {
	weather := []entity.WeatherRecord{weatherRow("copenhagen", "2024-01-01")}
	model := &stubModel{value: 7}
	b := &features.Backfiller{Window: 10, UseLags: true, Model: model}

	preds, _ := b.Backfill(weather, nil, entity.LocationKey{Country: "denmark", City: "copenhagen", Street: "main"})
	require.Len(t, preds, 1)
	require.Len(t, model.seen, 1)

	x := model.seen[0]
	require.Len(t, x, 7)
	assert.Equal(t, []float64{0, 0, 0}, x[4:])
}

func TestBackfillJoinsAvailableLagsByDate(t *testing.T) {
	weather := []entity.WeatherRecord{
		weatherRow("copenhagen", "2024-01-01"),
		weatherRow("copenhagen", "2024-01-02"),
		weatherRow("copenhagen", "2024-01-03"),
	}
	lags := []entity.AirQualityLagged{
		{
			Country:  "denmark",
			City:     "copenhagen",
			Street:   "main",
			Date:     day("2024-01-02"),
			PM25Lag1: 5,
			PM25Lag2: 6,
			PM25Lag3: 7,
		},
	}

	model := &stubModel{value: 9}
	b := &features.Backfiller{Window: 10, UseLags: true, Lags: lags, Model: model}
	preds, _ := b.Backfill(weather, nil, entity.LocationKey{Country: "denmark", City: "copenhagen", Street: "main"})
	require.Len(t, preds, 3)
	require.Len(t, model.seen, 3)

	// The day with a lag row gets its real lags; the others are zero-filled.
	assert.Equal(t, []float64{0, 0, 0}, model.seen[0][4:])
	assert.Equal(t, []float64{5, 6, 7}, model.seen[1][4:])
	assert.Equal(t, []float64{0, 0, 0}, model.seen[2][4:])
}

func TestBackfillIsDeterministic(t *testing.T) {
	var weather []entity.WeatherRecord
	for i := 0; i < 5; i++ {
		weather = append(weather, weatherRow("copenhagen", entity.FormatDate(day("2024-01-01").AddDate(0, 0, i))))
	}
	obs := []entity.AirQualityRecord{obsRow("copenhagen", "main", "2024-01-03", 12)}
	loc := entity.LocationKey{Country: "denmark", City: "copenhagen", Street: "main"}

	first, firstRows := (&features.Backfiller{Window: 10, Model: &stubModel{value: 3}}).Backfill(weather, obs, loc)
	second, secondRows := (&features.Backfiller{Window: 10, Model: &stubModel{value: 3}}).Backfill(weather, obs, loc)

	// Rerunning the backfill produces identical rows, so upserting them is a
	// no-op the second time.
	assert.Equal(t, first, second)
	assert.Equal(t, firstRows, secondRows)
}
