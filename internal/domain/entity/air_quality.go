// Package entity defines the persistent records stored in the feature groups.
package entity

import "time"

// AirQualityRecord is one daily PM2.5 observation for a sensor location.
type AirQualityRecord struct {
	Country string    `gorm:"column:country;primaryKey" json:"country"`
	City    string    `gorm:"column:city;primaryKey" json:"city"`
	Street  string    `gorm:"column:street;primaryKey" json:"street"`
	Date    time.Time `gorm:"column:date;primaryKey" json:"date"`
	PM25    float64   `gorm:"column:pm25" json:"pm25"`
	URL     string    `gorm:"column:url" json:"url"`
}

// TableName returns the feature group table backing this record.
func (AirQualityRecord) TableName() string {
	return "air_quality"
}

// LocationKey identifies one sensor location.
type LocationKey struct {
	Country string
	City    string
	Street  string
}

// Location returns the record's location key.
func (r AirQualityRecord) Location() LocationKey {
	return LocationKey{Country: r.Country, City: r.City, Street: r.Street}
}

// AirQualityLagged is one daily observation enriched with the PM2.5 values of
// the previous one, two and three rows for the same location.
type AirQualityLagged struct {
	Country  string    `gorm:"column:country;primaryKey" json:"country"`
	City     string    `gorm:"column:city;primaryKey" json:"city"`
	Street   string    `gorm:"column:street;primaryKey" json:"street"`
	Date     time.Time `gorm:"column:date;primaryKey" json:"date"`
	PM25     float64   `gorm:"column:pm25" json:"pm25"`
	PM25Lag1 float64   `gorm:"column:pm_2_5_previous_1_day" json:"pm_2_5_previous_1_day"`
	PM25Lag2 float64   `gorm:"column:pm_2_5_previous_2_day" json:"pm_2_5_previous_2_day"`
	PM25Lag3 float64   `gorm:"column:pm_2_5_previous_3_day" json:"pm_2_5_previous_3_day"`
}

// TableName returns the feature group table backing this record.
func (AirQualityLagged) TableName() string {
	return "air_quality_lagged"
}

// Location returns the record's location key.
func (r AirQualityLagged) Location() LocationKey {
	return LocationKey{Country: r.Country, City: r.City, Street: r.Street}
}
