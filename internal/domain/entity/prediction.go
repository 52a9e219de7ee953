package entity

import "time"

// PredictionRecord is one predicted PM2.5 value for a location and target
// date. DaysBeforeForecastDay is the forecast horizon: 1 for the first day
// after the forecast was issued, counting up for later days. The actual PM2.5
// is filled in by the hindcast once the observation arrives.
type PredictionRecord struct {
	City               string    `gorm:"column:city;primaryKey" json:"city"`
	Street             string    `gorm:"column:street;primaryKey" json:"street"`
	Country            string    `gorm:"column:country" json:"country"`
	Date               time.Time `gorm:"column:date;primaryKey" json:"date"`
	DaysBeforeForecast int       `gorm:"column:days_before_forecast_day;primaryKey" json:"days_before_forecast_day"`
	PredictedPM25      float64   `gorm:"column:predicted_pm25" json:"predicted_pm25"`
}

// HindcastRow pairs a day-1 prediction with the observed PM2.5 for the same
// date, for monitoring forecast accuracy after the fact.
type HindcastRow struct {
	City          string    `json:"city"`
	Street        string    `json:"street"`
	Date          time.Time `json:"date"`
	PredictedPM25 float64   `json:"predicted_pm25"`
	ActualPM25    float64   `json:"pm25"`
}
