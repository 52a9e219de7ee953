package openmeteo_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adrianthees/mlfs-book/internal/config"
	"github.com/adrianthees/mlfs-book/internal/httpx"
	"github.com/adrianthees/mlfs-book/internal/openmeteo"
)

func newTestClient(archiveURL, forecastURL string) *openmeteo.Client {
	httpCfg := config.HTTPConfig{
		TimeoutSeconds: 5,
		Retry:          config.RetryConfig{MaxAttempts: 1, InitialIntervalMS: 1, MaxIntervalMS: 1, Multiplier: 1},
		Breaker:        config.BreakerConfig{MaxRequests: 3, IntervalSeconds: 60, TimeoutSeconds: 30, FailureThreshold: 100},
	}
	return openmeteo.NewClient(httpx.New(httpCfg, "openmeteo-test"), config.OpenMeteoConfig{
		ArchiveURL:  archiveURL,
		ForecastURL: forecastURL,
	})
}

func TestDailyHistory(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "55.6761", r.URL.Query().Get("latitude"))
		assert.Equal(t, "2024-01-01", r.URL.Query().Get("start_date"))
		assert.Equal(t, "2024-01-03", r.URL.Query().Get("end_date"))
		fmt.Fprint(w, `{"daily":{
			"time":["2024-01-01","2024-01-02","2024-01-03"],
			"temperature_2m_mean":[1.5,2.5,3.5],
			"precipitation_sum":[0,4.2,0.1],
			"wind_speed_10m_max":[20,25,30],
			"wind_direction_10m_dominant":[180,190,200]
		}}`)
	}))
	defer server.Close()

	client := newTestClient(server.URL, server.URL)
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC)
	records, err := client.DailyHistory(context.Background(), "copenhagen", 55.6761, 12.5683, start, end)
	require.NoError(t, err)
	require.Len(t, records, 3)

	assert.Equal(t, "copenhagen", records[0].City)
	assert.Equal(t, start, records[0].Date)
	assert.Equal(t, 1.5, records[0].TemperatureMean)
	assert.Equal(t, 4.2, records[1].PrecipitationSum)
	assert.Equal(t, 30.0, records[2].WindSpeedMax)
	assert.Equal(t, 200.0, records[2].WindDirectionDominant)
}

func TestDailyHistoryMismatchedSeries(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"daily":{
			"time":["2024-01-01","2024-01-02"],
			"temperature_2m_mean":[1.5],
			"precipitation_sum":[0,0],
			"wind_speed_10m_max":[20,25],
			"wind_direction_10m_dominant":[180,190]
		}}`)
	}))
	defer server.Close()

	client := newTestClient(server.URL, server.URL)
	_, err := client.DailyHistory(context.Background(), "copenhagen", 55, 12, time.Now(), time.Now())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mismatched series lengths")
}

func TestDailyForecastSamplesMidday(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"hourly":{
			"time":["2024-06-01T11:00","2024-06-01T12:00","2024-06-01T13:00","2024-06-02T12:00"],
			"temperature_2m":[14,15,16,17],
			"precipitation":[0,0.2,0,1.1],
			"wind_speed_10m":[10,11,12,13],
			"wind_direction_10m":[90,100,110,120]
		}}`)
	}))
	defer server.Close()

	client := newTestClient(server.URL, server.URL)
	records, err := client.DailyForecast(context.Background(), "copenhagen", 55, 12)
	require.NoError(t, err)
	require.Len(t, records, 2)

	// Only the 12:00 sample of each day survives.
	assert.Equal(t, time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC), records[0].Date)
	assert.Equal(t, 15.0, records[0].TemperatureMean)
	assert.Equal(t, 0.2, records[0].PrecipitationSum)
	assert.Equal(t, time.Date(2024, 6, 2, 0, 0, 0, 0, time.UTC), records[1].Date)
	assert.Equal(t, 17.0, records[1].TemperatureMean)
	assert.Equal(t, 120.0, records[1].WindDirectionDominant)
}

func TestDailyForecastNoMiddaySamples(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"hourly":{
			"time":["2024-06-01T00:00","2024-06-01T01:00"],
			"temperature_2m":[14,15],
			"precipitation":[0,0],
			"wind_speed_10m":[10,11],
			"wind_direction_10m":[90,100]
		}}`)
	}))
	defer server.Close()

	client := newTestClient(server.URL, server.URL)
	_, err := client.DailyForecast(context.Background(), "copenhagen", 55, 12)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no midday samples")
}
