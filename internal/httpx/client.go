// Package httpx provides the shared HTTP client used by the external API
// adapters. Requests are retried with exponential backoff and guarded by a
// circuit breaker, so a flapping upstream does not stall a whole batch run.
package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker"

	"github.com/adrianthees/mlfs-book/internal/config"
	"github.com/adrianthees/mlfs-book/internal/support/exception"
	"github.com/adrianthees/mlfs-book/internal/support/logger"
)

const moduleName = "httpx"

// StatusError is returned when the upstream answers with a non-2xx status.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, e.Body)
}

// retryable reports whether the status is worth another attempt.
func (e *StatusError) retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// Client wraps http.Client with backoff retries and a circuit breaker.
type Client struct {
	httpClient *http.Client
	retry      config.RetryConfig
	breaker    *gobreaker.CircuitBreaker
}

// New builds a client from the shared HTTP configuration. The name labels
// the circuit breaker in state change logs.
func New(cfg config.HTTPConfig, name string) *Client {
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.Breaker.MaxRequests,
		Interval:    time.Duration(cfg.Breaker.IntervalSeconds) * time.Second,
		Timeout:     time.Duration(cfg.Breaker.TimeoutSeconds) * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.Breaker.FailureThreshold
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warnf("circuit breaker '%s' changed state: %s -> %s", name, from, to)
		},
	}

	return &Client{
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second,
		},
		retry:   cfg.Retry,
		breaker: gobreaker.NewCircuitBreaker(settings),
	}
}

// Get fetches the URL with retries and returns the response body.
func (c *Client) Get(ctx context.Context, url string) ([]byte, error) {
	var body []byte
	interval := c.retry.InitialInterval()

	var lastErr error
	for attempt := 1; attempt <= c.retry.MaxAttempts; attempt++ {
		result, err := c.breaker.Execute(func() (interface{}, error) {
			return c.doGet(ctx, url)
		})
		if err == nil {
			body = result.([]byte)
			return body, nil
		}
		lastErr = err

		if !shouldRetry(err) {
			return nil, err
		}
		if attempt == c.retry.MaxAttempts {
			break
		}

		logger.Debugf("GET %s attempt %d/%d failed, retrying in %s: %v", url, attempt, c.retry.MaxAttempts, interval, err)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(interval):
		}
		interval = time.Duration(float64(interval) * c.retry.Multiplier)
		if interval > c.retry.MaxInterval() {
			interval = c.retry.MaxInterval()
		}
	}
	return nil, exception.NewPipelineError(moduleName, fmt.Sprintf("GET %s failed after %d attempt(s)", url, c.retry.MaxAttempts), lastErr, true, false)
}

// GetJSON fetches the URL and decodes the JSON response into out.
func (c *Client) GetJSON(ctx context.Context, url string, out interface{}) error {
	body, err := c.Get(ctx, url)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return exception.NewPipelineError(moduleName, "failed to decode response from "+url, err, false, false)
	}
	return nil
}

// doGet performs one HTTP round trip.
func (c *Client) doGet(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: truncate(string(body), 256)}
	}
	return body, nil
}

// shouldRetry classifies an attempt failure.
func shouldRetry(err error) bool {
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		return true
	}
	if se, ok := err.(*StatusError); ok {
		return se.retryable()
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	// Transport-level errors (timeouts, resets) are assumed transient.
	return true
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
