package config_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adrianthees/mlfs-book/internal/config"
)

const testYAML = `
mlfs:
  system:
    logging:
      level: "${LOG_LEVEL}"
  pipeline:
    test_start_date: "2025-06-15"
  aqicn:
    api_key: "${AQICN_API_KEY}"
  datastores:
    featurestore:
      type: sqlite
      dsn: ":memory:"
      max_open_conns: 1
  storages:
    artifacts:
      type: local
      base_dir: ./artifacts
  sensors:
    - country: denmark
      city: copenhagen
      street: main
      aqicn_url: https://api.waqi.info/feed/@1234
      latitude: 55.6761
      longitude: 12.5683
`

func TestLoadConfigExpandsPlaceholders(t *testing.T) {
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("AQICN_API_KEY", "token-123")

	cfg, err := config.LoadConfig("", config.EmbeddedConfig(testYAML))
	require.NoError(t, err)

	assert.Equal(t, "DEBUG", cfg.MLFS.System.Logging.Level)
	assert.Equal(t, "token-123", cfg.MLFS.AQICN.APIKey)
	assert.Equal(t, "2025-06-15", cfg.MLFS.Pipeline.TestStartDate)

	require.Len(t, cfg.MLFS.Sensors, 1)
	sensor := cfg.MLFS.Sensors[0]
	assert.Equal(t, "copenhagen", sensor.City)
	assert.Equal(t, 55.6761, sensor.Latitude)
}

func TestLoadConfigKeepsDefaults(t *testing.T) {
	t.Setenv("LOG_LEVEL", "INFO")

	cfg, err := config.LoadConfig("", config.EmbeddedConfig(testYAML))
	require.NoError(t, err)

	// Sections absent from the YAML keep their defaults.
	assert.Equal(t, "https://api.waqi.info", cfg.MLFS.AQICN.BaseURL)
	assert.Equal(t, 10, cfg.MLFS.Pipeline.HindcastWindow)
	assert.Equal(t, 4, cfg.MLFS.Pipeline.LagWindow)
	assert.Equal(t, 5, cfg.MLFS.HTTP.Retry.MaxAttempts)
	assert.Equal(t, "0 6 * * *", cfg.MLFS.Scheduler.FeaturePipelineCron)
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	t.Setenv("LOG_LEVEL", "INFO")
	t.Setenv("MLFS_SYSTEM_LOGGING_LEVEL", "ERROR")
	t.Setenv("MLFS_PIPELINE_HINDCAST_WINDOW", "20")
	t.Setenv("MLFS_HTTP_RETRY_MULTIPLIER", "3.5")

	cfg, err := config.LoadConfig("", config.EmbeddedConfig(testYAML))
	require.NoError(t, err)

	assert.Equal(t, "ERROR", cfg.MLFS.System.Logging.Level)
	assert.Equal(t, 20, cfg.MLFS.Pipeline.HindcastWindow)
	assert.Equal(t, 3.5, cfg.MLFS.HTTP.Retry.Multiplier)
}

func TestLoadConfigRequiresSensors(t *testing.T) {
	_, err := config.LoadConfig("", config.EmbeddedConfig("mlfs:\n  system:\n    timezone: UTC\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no sensors configured")
}

func TestLoadConfigRejectsMalformedYAML(t *testing.T) {
	_, err := config.LoadConfig("", config.EmbeddedConfig("mlfs: [not a map"))
	assert.Error(t, err)
}

func TestDatastoreDecoding(t *testing.T) {
	t.Setenv("LOG_LEVEL", "INFO")
	cfg, err := config.LoadConfig("", config.EmbeddedConfig(testYAML))
	require.NoError(t, err)

	ds, err := cfg.Datastore("featurestore")
	require.NoError(t, err)
	assert.Equal(t, "sqlite", ds.Type)
	assert.Equal(t, ":memory:", ds.DSN)
	assert.Equal(t, 1, ds.MaxOpenConns)

	_, err = cfg.Datastore("nope")
	assert.Error(t, err)
}

func TestStorageDecoding(t *testing.T) {
	t.Setenv("LOG_LEVEL", "INFO")
	cfg, err := config.LoadConfig("", config.EmbeddedConfig(testYAML))
	require.NoError(t, err)

	sc, err := cfg.Storage("artifacts")
	require.NoError(t, err)
	assert.Equal(t, "local", sc.Type)
	assert.Equal(t, "./artifacts", sc.BaseDir)

	_, err = cfg.Storage("nope")
	assert.Error(t, err)
}
