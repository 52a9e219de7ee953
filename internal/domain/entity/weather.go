package entity

import "time"

// WeatherRecord is one daily weather summary for a city. Historical rows come
// from the archive API; future rows come from the midday sample of the hourly
// forecast.
type WeatherRecord struct {
	City                     string    `gorm:"column:city;primaryKey" json:"city"`
	Date                     time.Time `gorm:"column:date;primaryKey" json:"date"`
	TemperatureMean          float64   `gorm:"column:temperature_2m_mean" json:"temperature_2m_mean"`
	PrecipitationSum         float64   `gorm:"column:precipitation_sum" json:"precipitation_sum"`
	WindSpeedMax             float64   `gorm:"column:wind_speed_10m_max" json:"wind_speed_10m_max"`
	WindDirectionDominant    float64   `gorm:"column:wind_direction_10m_dominant" json:"wind_direction_10m_dominant"`
}

// TableName returns the feature group table backing this record.
func (WeatherRecord) TableName() string {
	return "weather"
}
