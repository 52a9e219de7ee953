// Package openmeteo fetches daily weather history and hourly forecasts from
// the Open-Meteo APIs and maps them onto daily weather records.
package openmeteo

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/adrianthees/mlfs-book/internal/config"
	"github.com/adrianthees/mlfs-book/internal/domain/entity"
	"github.com/adrianthees/mlfs-book/internal/httpx"
	"github.com/adrianthees/mlfs-book/internal/support/exception"
)

const moduleName = "openmeteo"

const dailyVariables = "temperature_2m_mean,precipitation_sum,wind_speed_10m_max,wind_direction_10m_dominant"
const hourlyVariables = "temperature_2m,precipitation,wind_speed_10m,wind_direction_10m"

// archiveResponse is the daily history payload.
type archiveResponse struct {
	Daily struct {
		Time                  []string  `json:"time"`
		TemperatureMean       []float64 `json:"temperature_2m_mean"`
		PrecipitationSum      []float64 `json:"precipitation_sum"`
		WindSpeedMax          []float64 `json:"wind_speed_10m_max"`
		WindDirectionDominant []float64 `json:"wind_direction_10m_dominant"`
	} `json:"daily"`
}

// forecastResponse is the hourly forecast payload.
type forecastResponse struct {
	Hourly struct {
		Time          []string  `json:"time"`
		Temperature   []float64 `json:"temperature_2m"`
		Precipitation []float64 `json:"precipitation"`
		WindSpeed     []float64 `json:"wind_speed_10m"`
		WindDirection []float64 `json:"wind_direction_10m"`
	} `json:"hourly"`
}

// Client reads weather history and forecasts for a coordinate.
type Client struct {
	http        *httpx.Client
	archiveURL  string
	forecastURL string
}

// NewClient builds an API client on the shared HTTP client.
func NewClient(http *httpx.Client, cfg config.OpenMeteoConfig) *Client {
	return &Client{
		http:        http,
		archiveURL:  cfg.ArchiveURL,
		forecastURL: cfg.ForecastURL,
	}
}

// DailyHistory fetches the daily weather summaries between start and end
// (inclusive) for the coordinate, labeled with the given city.
func (c *Client) DailyHistory(ctx context.Context, city string, latitude, longitude float64, start, end time.Time) ([]entity.WeatherRecord, error) {
	q := url.Values{}
	q.Set("latitude", fmt.Sprintf("%.4f", latitude))
	q.Set("longitude", fmt.Sprintf("%.4f", longitude))
	q.Set("start_date", entity.FormatDate(start))
	q.Set("end_date", entity.FormatDate(end))
	q.Set("daily", dailyVariables)
	q.Set("timezone", "UTC")

	var resp archiveResponse
	if err := c.http.GetJSON(ctx, c.archiveURL+"?"+q.Encode(), &resp); err != nil {
		return nil, err
	}

	days := resp.Daily
	n := len(days.Time)
	if len(days.TemperatureMean) != n || len(days.PrecipitationSum) != n ||
		len(days.WindSpeedMax) != n || len(days.WindDirectionDominant) != n {
		return nil, exception.NewPipelineErrorf(moduleName, "archive response has mismatched series lengths")
	}

	records := make([]entity.WeatherRecord, 0, n)
	for i := 0; i < n; i++ {
		date, err := entity.ParseDate(days.Time[i])
		if err != nil {
			return nil, exception.NewPipelineError(moduleName, "failed to parse archive date '"+days.Time[i]+"'", err, false, false)
		}
		records = append(records, entity.WeatherRecord{
			City:                  city,
			Date:                  date,
			TemperatureMean:       days.TemperatureMean[i],
			PrecipitationSum:      days.PrecipitationSum[i],
			WindSpeedMax:          days.WindSpeedMax[i],
			WindDirectionDominant: days.WindDirectionDominant[i],
		})
	}
	return records, nil
}

// DailyForecast fetches the hourly forecast for the coordinate and reduces it
// to one record per day, sampled at midday.
func (c *Client) DailyForecast(ctx context.Context, city string, latitude, longitude float64) ([]entity.WeatherRecord, error) {
	q := url.Values{}
	q.Set("latitude", fmt.Sprintf("%.4f", latitude))
	q.Set("longitude", fmt.Sprintf("%.4f", longitude))
	q.Set("hourly", hourlyVariables)
	q.Set("timezone", "UTC")

	var resp forecastResponse
	if err := c.http.GetJSON(ctx, c.forecastURL+"?"+q.Encode(), &resp); err != nil {
		return nil, err
	}

	hours := resp.Hourly
	n := len(hours.Time)
	if len(hours.Temperature) != n || len(hours.Precipitation) != n ||
		len(hours.WindSpeed) != n || len(hours.WindDirection) != n {
		return nil, exception.NewPipelineErrorf(moduleName, "forecast response has mismatched series lengths")
	}

	var records []entity.WeatherRecord
	for i := 0; i < n; i++ {
		ts, err := time.Parse("2006-01-02T15:04", hours.Time[i])
		if err != nil {
			return nil, exception.NewPipelineError(moduleName, "failed to parse forecast time '"+hours.Time[i]+"'", err, false, false)
		}
		if ts.Hour() != 12 {
			continue
		}
		records = append(records, entity.WeatherRecord{
			City:                  city,
			Date:                  entity.DateOnly(ts),
			TemperatureMean:       hours.Temperature[i],
			PrecipitationSum:      hours.Precipitation[i],
			WindSpeedMax:          hours.WindSpeed[i],
			WindDirectionDominant: hours.WindDirection[i],
		})
	}
	if len(records) == 0 {
		return nil, exception.NewPipelineErrorf(moduleName, "forecast response has no midday samples", true)
	}
	return records, nil
}
