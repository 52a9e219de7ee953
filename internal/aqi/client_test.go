package aqi_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adrianthees/mlfs-book/internal/aqi"
	"github.com/adrianthees/mlfs-book/internal/config"
	"github.com/adrianthees/mlfs-book/internal/httpx"
	"github.com/adrianthees/mlfs-book/internal/support/exception"
)

const unknownStationBody = `{"status":"error","data":"Unknown station"}`

func feedBody(pm25 float64) string {
	return fmt.Sprintf(`{"status":"ok","data":{"iaqi":{"pm25":{"v":%g}}}}`, pm25)
}

func newTestClient(serverURL string) *aqi.Client {
	httpCfg := config.HTTPConfig{
		TimeoutSeconds: 5,
		Retry:          config.RetryConfig{MaxAttempts: 1, InitialIntervalMS: 1, MaxIntervalMS: 1, Multiplier: 1},
		Breaker:        config.BreakerConfig{MaxRequests: 3, IntervalSeconds: 60, TimeoutSeconds: 30, FailureThreshold: 100},
	}
	return aqi.NewClient(httpx.New(httpCfg, "aqi-test"), config.AQICNConfig{BaseURL: serverURL})
}

func testSensor(serverURL string) config.SensorConfig {
	return config.SensorConfig{
		Country:  "denmark",
		City:     "copenhagen",
		Street:   "main",
		AQICNURL: serverURL + "/feed/@1234",
	}
}

func TestFetchPM25SensorURL(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/feed/@1234/", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret", r.URL.Query().Get("token"))
		fmt.Fprint(w, feedBody(42.5))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	client := newTestClient(server.URL)
	day := time.Date(2024, 6, 1, 13, 45, 0, 0, time.UTC)
	rec, err := client.FetchPM25(context.Background(), testSensor(server.URL), "secret", day)
	require.NoError(t, err)

	assert.Equal(t, 42.5, rec.PM25)
	assert.Equal(t, "denmark", rec.Country)
	assert.Equal(t, "copenhagen", rec.City)
	assert.Equal(t, "main", rec.Street)
	// The event date is truncated to midnight.
	assert.Equal(t, time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC), rec.Date)
}

func TestFetchPM25FallsBackThroughCandidates(t *testing.T) {
	var tried []string
	mux := http.NewServeMux()
	mux.HandleFunc("/feed/@1234/", func(w http.ResponseWriter, r *http.Request) {
		tried = append(tried, "sensor")
		fmt.Fprint(w, unknownStationBody)
	})
	mux.HandleFunc("/feed/denmark/main/", func(w http.ResponseWriter, r *http.Request) {
		tried = append(tried, "country-street")
		fmt.Fprint(w, unknownStationBody)
	})
	mux.HandleFunc("/feed/denmark/copenhagen/main/", func(w http.ResponseWriter, r *http.Request) {
		tried = append(tried, "country-city-street")
		fmt.Fprint(w, feedBody(17))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	client := newTestClient(server.URL)
	rec, err := client.FetchPM25(context.Background(), testSensor(server.URL), "secret", time.Now())
	require.NoError(t, err)
	assert.Equal(t, 17.0, rec.PM25)
	assert.Equal(t, []string{"sensor", "country-street", "country-city-street"}, tried)
}

func TestFetchPM25AllCandidatesUnknown(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, unknownStationBody)
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	_, err := client.FetchPM25(context.Background(), testSensor(server.URL), "secret", time.Now())
	require.Error(t, err)
	assert.True(t, exception.IsTemporary(err))
	assert.Contains(t, err.Error(), "Unknown station")
}

func TestFetchPM25OtherAPIErrorAborts(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		fmt.Fprint(w, `{"status":"error","data":"Invalid key"}`)
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	_, err := client.FetchPM25(context.Background(), testSensor(server.URL), "bad", time.Now())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid key")
	// No fallback on errors other than an unknown station.
	assert.Equal(t, 1, calls)
}

func TestFetchPM25MissingReading(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"status":"ok","data":{"iaqi":{"no2":{"v":5}}}}`)
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	_, err := client.FetchPM25(context.Background(), testSensor(server.URL), "secret", time.Now())
	assert.Error(t, err)
}

func TestFetchPM25RequiresAPIKey(t *testing.T) {
	client := newTestClient("http://unused")
	_, err := client.FetchPM25(context.Background(), testSensor("http://unused"), "", time.Now())
	assert.Error(t, err)
}
