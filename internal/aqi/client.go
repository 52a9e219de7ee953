// Package aqi fetches PM2.5 readings from the World Air Quality Index API.
package aqi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/adrianthees/mlfs-book/internal/config"
	"github.com/adrianthees/mlfs-book/internal/domain/entity"
	"github.com/adrianthees/mlfs-book/internal/httpx"
	"github.com/adrianthees/mlfs-book/internal/support/exception"
	"github.com/adrianthees/mlfs-book/internal/support/logger"
)

const moduleName = "aqi"

// unknownStation is the API's answer when a feed path does not resolve.
const unknownStation = "Unknown station"

// feedResponse is the envelope of every API answer. Data is an object on
// success and a bare string message on failure.
type feedResponse struct {
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data"`
}

// feedData carries the fields we read from a successful feed.
type feedData struct {
	IAQI struct {
		PM25 *struct {
			V float64 `json:"v"`
		} `json:"pm25"`
	} `json:"iaqi"`
}

// Client reads the current PM2.5 value for configured sensors.
type Client struct {
	http    *httpx.Client
	baseURL string
}

// NewClient builds an API client on the shared HTTP client.
func NewClient(http *httpx.Client, cfg config.AQICNConfig) *Client {
	return &Client{
		http:    http,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
	}
}

// FetchPM25 fetches today's PM2.5 reading for the sensor and stamps it with
// the given date. Candidate feed URLs are tried in order, starting with the
// sensor-specific one; "Unknown station" moves on to the next candidate,
// any other failure aborts.
func (c *Client) FetchPM25(ctx context.Context, sensor config.SensorConfig, apiKey string, day time.Time) (entity.AirQualityRecord, error) {
	if apiKey == "" {
		return entity.AirQualityRecord{}, exception.NewPipelineErrorf(moduleName, "missing API key for sensor %s/%s", sensor.City, sensor.Street)
	}

	candidates := c.candidateURLs(sensor)
	var lastMessage string
	for _, feedURL := range candidates {
		pm25, found, err := c.fetchFeed(ctx, feedURL, apiKey, &lastMessage)
		if err != nil {
			return entity.AirQualityRecord{}, err
		}
		if !found {
			logger.Debugf("station not found at %s, trying next candidate", feedURL)
			continue
		}
		return entity.AirQualityRecord{
			Country: sensor.Country,
			City:    sensor.City,
			Street:  sensor.Street,
			Date:    entity.DateOnly(day),
			PM25:    pm25,
			URL:     sensor.AQICNURL,
		}, nil
	}
	return entity.AirQualityRecord{}, exception.NewPipelineErrorf(moduleName,
		"no feed found for sensor %s/%s/%s (last message: %s)", sensor.Country, sensor.City, sensor.Street, lastMessage, true)
}

// candidateURLs lists the feed URLs to try, most specific first.
func (c *Client) candidateURLs(sensor config.SensorConfig) []string {
	var urls []string
	if sensor.AQICNURL != "" {
		urls = append(urls, strings.TrimRight(sensor.AQICNURL, "/"))
	}
	urls = append(urls,
		fmt.Sprintf("%s/feed/%s/%s", c.baseURL, url.PathEscape(sensor.Country), url.PathEscape(sensor.Street)),
		fmt.Sprintf("%s/feed/%s/%s/%s", c.baseURL, url.PathEscape(sensor.Country), url.PathEscape(sensor.City), url.PathEscape(sensor.Street)),
	)
	return urls
}

// fetchFeed queries one feed URL. found is false when the station is unknown
// and the caller should try the next candidate.
func (c *Client) fetchFeed(ctx context.Context, feedURL, apiKey string, lastMessage *string) (pm25 float64, found bool, err error) {
	var resp feedResponse
	if err := c.http.GetJSON(ctx, feedURL+"/?token="+url.QueryEscape(apiKey), &resp); err != nil {
		return 0, false, err
	}

	if resp.Status != "ok" {
		var message string
		if err := json.Unmarshal(resp.Data, &message); err != nil {
			message = string(resp.Data)
		}
		*lastMessage = message
		if strings.Contains(message, unknownStation) {
			return 0, false, nil
		}
		return 0, false, exception.NewPipelineErrorf(moduleName, "feed request failed: %s", message, true)
	}

	var data feedData
	if err := json.Unmarshal(resp.Data, &data); err != nil {
		return 0, false, exception.NewPipelineError(moduleName, "failed to decode feed data", err, false, false)
	}
	if data.IAQI.PM25 == nil {
		return 0, false, exception.NewPipelineErrorf(moduleName, "feed has no pm25 reading", true)
	}
	return data.IAQI.PM25.V, true, nil
}
