package validation_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adrianthees/mlfs-book/internal/domain/entity"
	"github.com/adrianthees/mlfs-book/internal/validation"
)

func aqRecord(pm25 float64) entity.AirQualityRecord {
	return entity.AirQualityRecord{
		Country: "denmark",
		City:    "copenhagen",
		Street:  "main",
		Date:    time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		PM25:    pm25,
	}
}

func TestAirQualitySuite(t *testing.T) {
	suite := validation.AirQualitySuite()

	assert.NoError(t, suite.ValidateRows([]entity.AirQualityRecord{aqRecord(0), aqRecord(12.5), aqRecord(500)}))

	err := suite.ValidateRows([]entity.AirQualityRecord{aqRecord(-1)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pm25")

	assert.Error(t, suite.ValidateRows([]entity.AirQualityRecord{aqRecord(500.1)}))
	// The lower bound is strict, so the boundary value itself fails.
	assert.Error(t, suite.ValidateRows([]entity.AirQualityRecord{aqRecord(-0.1)}))
}

func TestWeatherSuite(t *testing.T) {
	suite := validation.WeatherSuite()

	good := entity.WeatherRecord{City: "copenhagen", PrecipitationSum: 0, WindSpeedMax: 30}
	assert.NoError(t, suite.ValidateRows([]entity.WeatherRecord{good}))

	bad := entity.WeatherRecord{City: "copenhagen", PrecipitationSum: -2, WindSpeedMax: -5}
	err := suite.ValidateRows([]entity.WeatherRecord{bad})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "precipitation_sum")
	assert.Contains(t, err.Error(), "wind_speed_10m_max")
}

func TestValidateRowsCollectsAllViolations(t *testing.T) {
	suite := validation.AirQualitySuite()
	err := suite.ValidateRows([]entity.AirQualityRecord{aqRecord(-1), aqRecord(5), aqRecord(900)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "row 0")
	assert.Contains(t, err.Error(), "row 2")
	assert.NotContains(t, err.Error(), "row 1:")
}

func TestValidateRowsRejectsNonSlice(t *testing.T) {
	suite := validation.AirQualitySuite()
	assert.Error(t, suite.ValidateRows(aqRecord(1)))
}

func TestValidateRowsUnknownColumn(t *testing.T) {
	suite := validation.NewSuite("bogus", validation.AtLeast("no_such_column", 0))
	err := suite.ValidateRows([]entity.AirQualityRecord{aqRecord(1)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no_such_column")
}
