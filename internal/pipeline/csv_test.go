package pipeline

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adrianthees/mlfs-book/internal/config"
	"github.com/adrianthees/mlfs-book/internal/support/exception"
)

func writeSeedCSV(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "copenhagen-main.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func seedSensor() config.SensorConfig {
	return config.SensorConfig{
		Country:  "denmark",
		City:     "copenhagen",
		Street:   "main",
		AQICNURL: "https://api.waqi.info/feed/@1234",
	}
}

func TestReadSensorCSV(t *testing.T) {
	path := writeSeedCSV(t, "date,median,extra\n2024-01-01,12.5,x\n2024-01-02,14,y\n")

	records, err := readSensorCSV(path, seedSensor())
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, "denmark", records[0].Country)
	assert.Equal(t, "copenhagen", records[0].City)
	assert.Equal(t, "main", records[0].Street)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), records[0].Date)
	assert.Equal(t, 12.5, records[0].PM25)
	assert.Equal(t, "https://api.waqi.info/feed/@1234", records[0].URL)
	assert.Equal(t, 14.0, records[1].PM25)
}

func TestReadSensorCSVAcceptsTimestampsAndPM25Header(t *testing.T) {
	path := writeSeedCSV(t, "timestamp,pm25\n2024-01-01T00:00:00+00:00,9.5\n")

	records, err := readSensorCSV(path, seedSensor())
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), records[0].Date)
	assert.Equal(t, 9.5, records[0].PM25)
}

func TestReadSensorCSVSkipsBadRows(t *testing.T) {
	path := writeSeedCSV(t, "date,median\nnot-a-date,1\n2024-01-02,not-a-number\n2024-01-03,3\n")

	records, err := readSensorCSV(path, seedSensor())
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, 3.0, records[0].PM25)
}

func TestReadSensorCSVMissingColumns(t *testing.T) {
	path := writeSeedCSV(t, "city,value\ncopenhagen,1\n")

	_, err := readSensorCSV(path, seedSensor())
	require.Error(t, err)

	var perr *exception.PipelineError
	require.ErrorAs(t, err, &perr)
	assert.True(t, perr.IsSkippable())
}

func TestReadSensorCSVMissingFile(t *testing.T) {
	_, err := readSensorCSV(filepath.Join(t.TempDir(), "nope.csv"), seedSensor())
	assert.Error(t, err)
}

func TestReadSensorCSVHeaderOnly(t *testing.T) {
	path := writeSeedCSV(t, "date,median\n")
	_, err := readSensorCSV(path, seedSensor())
	assert.Error(t, err)
}
