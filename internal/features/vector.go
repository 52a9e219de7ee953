package features

import "github.com/adrianthees/mlfs-book/internal/domain/entity"

// WeatherVector builds the base model's feature vector from one daily
// weather record. The column order is fixed and must match training.
func WeatherVector(w entity.WeatherRecord) []float64 {
	return []float64{
		w.TemperatureMean,
		w.PrecipitationSum,
		w.WindSpeedMax,
		w.WindDirectionDominant,
	}
}

// LaggedVector builds the lag-aware model's feature vector by appending the
// three PM2.5 lags to the weather columns.
func LaggedVector(w entity.WeatherRecord, lag1, lag2, lag3 float64) []float64 {
	return append(WeatherVector(w), lag1, lag2, lag3)
}
