// Package config provides utilities for loading and managing application
// configuration from embedded YAML files and environment variables.
package config

import (
	"fmt"
	"time"

	"github.com/mitchellh/mapstructure"

	"github.com/adrianthees/mlfs-book/internal/support/exception"
)

// EmbeddedConfig contains the raw bytes of the embedded configuration file.
type EmbeddedConfig []byte

// Config is the root of the application configuration tree.
type Config struct {
	MLFS MLFSConfig `yaml:"mlfs"`
}

// MLFSConfig groups every section of the feature store and pipeline configuration.
type MLFSConfig struct {
	System    SystemConfig    `yaml:"system"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	HTTP      HTTPConfig      `yaml:"http"`
	AQICN     AQICNConfig     `yaml:"aqicn"`
	OpenMeteo OpenMeteoConfig `yaml:"open_meteo"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	// Datastores and Storages hold adaptor settings keyed by logical name.
	// They stay untyped here and are decoded with mapstructure on demand,
	// so each adaptor can define its own shape.
	Datastores map[string]map[string]interface{} `yaml:"datastores"`
	Storages   map[string]map[string]interface{} `yaml:"storages"`
	Sensors    []SensorConfig                    `yaml:"sensors"`
}

// SystemConfig holds process-wide settings.
type SystemConfig struct {
	Timezone string        `yaml:"timezone"`
	Logging  LoggingConfig `yaml:"logging"`
}

// LoggingConfig controls the global log level.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// PipelineConfig holds the knobs shared by the batch pipelines.
type PipelineConfig struct {
	// TestStartDate splits the training set from the test set (YYYY-MM-DD).
	TestStartDate string `yaml:"test_start_date"`
	// HindcastWindow is the number of trailing weather days used to backfill
	// an empty hindcast.
	HindcastWindow int `yaml:"hindcast_window"`
	// LagWindow is the number of trailing observations considered when
	// deriving lag features incrementally.
	LagWindow int    `yaml:"lag_window"`
	DataDir   string `yaml:"data_dir"`
	ModelDir  string `yaml:"model_dir"`
}

// HTTPConfig configures the shared resilient HTTP client.
type HTTPConfig struct {
	TimeoutSeconds int           `yaml:"timeout_seconds"`
	Retry          RetryConfig   `yaml:"retry"`
	Breaker        BreakerConfig `yaml:"breaker"`
}

// RetryConfig configures exponential backoff for outbound API calls.
type RetryConfig struct {
	MaxAttempts       int     `yaml:"max_attempts"`
	InitialIntervalMS int     `yaml:"initial_interval_ms"`
	MaxIntervalMS     int     `yaml:"max_interval_ms"`
	Multiplier        float64 `yaml:"multiplier"`
}

// InitialInterval returns the initial backoff interval as a duration.
func (r RetryConfig) InitialInterval() time.Duration {
	return time.Duration(r.InitialIntervalMS) * time.Millisecond
}

// MaxInterval returns the backoff ceiling as a duration.
func (r RetryConfig) MaxInterval() time.Duration {
	return time.Duration(r.MaxIntervalMS) * time.Millisecond
}

// BreakerConfig configures the circuit breaker guarding outbound API calls.
type BreakerConfig struct {
	MaxRequests      uint32 `yaml:"max_requests"`
	IntervalSeconds  int    `yaml:"interval_seconds"`
	TimeoutSeconds   int    `yaml:"timeout_seconds"`
	FailureThreshold uint32 `yaml:"failure_threshold"`
}

// AQICNConfig configures the air quality API client.
type AQICNConfig struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
}

// OpenMeteoConfig configures the weather API clients.
type OpenMeteoConfig struct {
	ArchiveURL  string `yaml:"archive_url"`
	ForecastURL string `yaml:"forecast_url"`
}

// MetricsConfig configures Prometheus metrics for batch runs.
type MetricsConfig struct {
	// PushGatewayURL, when set, is where job metrics are pushed after each run.
	PushGatewayURL string `yaml:"push_gateway_url"`
	JobName        string `yaml:"job_name"`
}

// TelemetryConfig configures the OTLP trace and metric exporters.
type TelemetryConfig struct {
	Enabled     bool   `yaml:"enabled"`
	ServiceName string `yaml:"service_name"`
	Endpoint    string `yaml:"endpoint"`
	// Protocol selects the exporter transport: "grpc" or "http".
	Protocol string `yaml:"protocol"`
	Insecure bool   `yaml:"insecure"`
}

// SchedulerConfig holds the cron expressions for the recurring pipelines.
type SchedulerConfig struct {
	Timezone            string `yaml:"timezone"`
	FeaturePipelineCron string `yaml:"feature_pipeline_cron"`
	InferenceCron       string `yaml:"inference_cron"`
}

// SensorConfig identifies one monitored air quality sensor and its location.
type SensorConfig struct {
	Country   string  `yaml:"country" json:"country"`
	City      string  `yaml:"city" json:"city"`
	Street    string  `yaml:"street" json:"street"`
	AQICNURL  string  `yaml:"aqicn_url" json:"aqicn_url"`
	Latitude  float64 `yaml:"latitude" json:"latitude"`
	Longitude float64 `yaml:"longitude" json:"longitude"`
}

// DatastoreConfig is the decoded shape of one entry under `datastores`.
type DatastoreConfig struct {
	Type         string `mapstructure:"type"`
	DSN          string `mapstructure:"dsn"`
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	SSLMode      string `mapstructure:"sslmode"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

// StorageConfig is the decoded shape of one entry under `storages`.
type StorageConfig struct {
	Type            string `mapstructure:"type"`
	BaseDir         string `mapstructure:"base_dir"`
	Bucket          string `mapstructure:"bucket"`
	Prefix          string `mapstructure:"prefix"`
	CredentialsFile string `mapstructure:"credentials_file"`
}

// NewConfig returns a Config populated with defaults. Values from the
// embedded YAML and from environment variables are merged on top.
func NewConfig() *Config {
	return &Config{
		MLFS: MLFSConfig{
			System: SystemConfig{
				Timezone: "UTC",
				Logging:  LoggingConfig{Level: "INFO"},
			},
			Pipeline: PipelineConfig{
				TestStartDate:  "2025-05-01",
				HindcastWindow: 10,
				LagWindow:      4,
				DataDir:        "./data",
				ModelDir:       "./models",
			},
			HTTP: HTTPConfig{
				TimeoutSeconds: 15,
				Retry: RetryConfig{
					MaxAttempts:       5,
					InitialIntervalMS: 200,
					MaxIntervalMS:     5000,
					Multiplier:        2.0,
				},
				Breaker: BreakerConfig{
					MaxRequests:      3,
					IntervalSeconds:  60,
					TimeoutSeconds:   30,
					FailureThreshold: 5,
				},
			},
			AQICN: AQICNConfig{
				BaseURL: "https://api.waqi.info",
			},
			OpenMeteo: OpenMeteoConfig{
				ArchiveURL:  "https://archive-api.open-meteo.com/v1/archive",
				ForecastURL: "https://api.open-meteo.com/v1/ecmwf",
			},
			Metrics: MetricsConfig{
				JobName: "mlfs",
			},
			Telemetry: TelemetryConfig{
				ServiceName: "mlfs-book",
				Protocol:    "grpc",
				Insecure:    true,
			},
			Scheduler: SchedulerConfig{
				Timezone:            "UTC",
				FeaturePipelineCron: "0 6 * * *",
				InferenceCron:       "30 6 * * *",
			},
		},
	}
}

// Datastore decodes the named entry under `datastores` into a DatastoreConfig.
func (c *Config) Datastore(name string) (*DatastoreConfig, error) {
	raw, ok := c.MLFS.Datastores[name]
	if !ok {
		return nil, exception.NewPipelineErrorf(moduleName, "datastore '%s' is not configured", name)
	}
	var dc DatastoreConfig
	if err := mapstructure.Decode(raw, &dc); err != nil {
		return nil, exception.NewPipelineError(moduleName, fmt.Sprintf("failed to decode datastore '%s'", name), err, false, false)
	}
	return &dc, nil
}

// Storage decodes the named entry under `storages` into a StorageConfig.
func (c *Config) Storage(name string) (*StorageConfig, error) {
	raw, ok := c.MLFS.Storages[name]
	if !ok {
		return nil, exception.NewPipelineErrorf(moduleName, "storage '%s' is not configured", name)
	}
	var sc StorageConfig
	if err := mapstructure.Decode(raw, &sc); err != nil {
		return nil, exception.NewPipelineError(moduleName, fmt.Sprintf("failed to decode storage '%s'", name), err, false, false)
	}
	return &sc, nil
}

// Location resolves the configured system timezone.
func (c *Config) Location() (*time.Location, error) {
	if c.MLFS.System.Timezone == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(c.MLFS.System.Timezone)
}
