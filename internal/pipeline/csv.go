package pipeline

import (
	"encoding/csv"
	"os"
	"strconv"
	"strings"

	"github.com/adrianthees/mlfs-book/internal/config"
	"github.com/adrianthees/mlfs-book/internal/domain/entity"
	"github.com/adrianthees/mlfs-book/internal/support/exception"
	"github.com/adrianthees/mlfs-book/internal/support/logger"
)

// readSensorCSV loads a sensor's historical observations from its seed CSV.
// The file must have a header with "date" and either "pm25" or "median"
// columns; other columns are ignored. Unparseable rows are skipped with a
// warning.
func readSensorCSV(path string, sensor config.SensorConfig) ([]entity.AirQualityRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, exception.NewPipelineError("backfill", "failed to open seed CSV "+path, err, true, false)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, exception.NewPipelineError("backfill", "failed to parse seed CSV "+path, err, true, false)
	}
	if len(rows) < 2 {
		return nil, exception.NewPipelineErrorf("backfill", "seed CSV %s has no data rows", path, true)
	}

	dateCol, pm25Col := -1, -1
	for i, name := range rows[0] {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "date", "timestamp":
			dateCol = i
		case "pm25", "median", "pm2.5":
			if pm25Col == -1 {
				pm25Col = i
			}
		}
	}
	if dateCol == -1 || pm25Col == -1 {
		return nil, exception.NewPipelineErrorf("backfill", "seed CSV %s is missing date or pm25 columns", path, true)
	}

	var out []entity.AirQualityRecord
	for lineNo, row := range rows[1:] {
		if len(row) <= dateCol || len(row) <= pm25Col {
			continue
		}
		rawDate := strings.TrimSpace(row[dateCol])
		if len(rawDate) > 10 {
			rawDate = rawDate[:10]
		}
		date, err := entity.ParseDate(rawDate)
		if err != nil {
			logger.Warnf("seed CSV %s line %d: bad date %q, skipping", path, lineNo+2, row[dateCol])
			continue
		}
		pm25, err := strconv.ParseFloat(strings.TrimSpace(row[pm25Col]), 64)
		if err != nil {
			logger.Warnf("seed CSV %s line %d: bad pm25 %q, skipping", path, lineNo+2, row[pm25Col])
			continue
		}
		out = append(out, entity.AirQualityRecord{
			Country: sensor.Country,
			City:    sensor.City,
			Street:  sensor.Street,
			Date:    date,
			PM25:    pm25,
			URL:     sensor.AQICNURL,
		})
	}
	if len(out) == 0 {
		return nil, exception.NewPipelineErrorf("backfill", "seed CSV %s yielded no usable rows", path, true)
	}
	return out, nil
}
