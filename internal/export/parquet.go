// Package export renders pipeline outputs as parquet artifacts for upload to
// the artifact store.
package export

import (
	"bytes"
	"io"

	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"

	"github.com/adrianthees/mlfs-book/internal/domain/entity"
	"github.com/adrianthees/mlfs-book/internal/support/exception"
)

const moduleName = "export"

// ForecastRow is the parquet shape of one published prediction.
type ForecastRow struct {
	City               string  `parquet:"name=city, type=BYTE_ARRAY, convertedtype=UTF8"`
	Street             string  `parquet:"name=street, type=BYTE_ARRAY, convertedtype=UTF8"`
	Country            string  `parquet:"name=country, type=BYTE_ARRAY, convertedtype=UTF8"`
	Date               int64   `parquet:"name=date, type=INT64, convertedtype=TIMESTAMP_MILLIS"`
	DaysBeforeForecast int32   `parquet:"name=days_before_forecast_day, type=INT32"`
	PredictedPM25      float64 `parquet:"name=predicted_pm25, type=DOUBLE"`
}

// HindcastParquetRow is the parquet shape of one reconciled hindcast entry.
type HindcastParquetRow struct {
	City          string  `parquet:"name=city, type=BYTE_ARRAY, convertedtype=UTF8"`
	Street        string  `parquet:"name=street, type=BYTE_ARRAY, convertedtype=UTF8"`
	Date          int64   `parquet:"name=date, type=INT64, convertedtype=TIMESTAMP_MILLIS"`
	PredictedPM25 float64 `parquet:"name=predicted_pm25, type=DOUBLE"`
	ActualPM25    float64 `parquet:"name=pm25, type=DOUBLE"`
}

// ForecastParquet renders predictions as a parquet file in memory.
func ForecastParquet(preds []entity.PredictionRecord) (io.Reader, error) {
	rows := make([]interface{}, 0, len(preds))
	for _, p := range preds {
		rows = append(rows, ForecastRow{
			City:               p.City,
			Street:             p.Street,
			Country:            p.Country,
			Date:               p.Date.UnixMilli(),
			DaysBeforeForecast: int32(p.DaysBeforeForecast),
			PredictedPM25:      p.PredictedPM25,
		})
	}
	return writeParquet(rows, new(ForecastRow))
}

// HindcastParquet renders hindcast rows as a parquet file in memory.
func HindcastParquet(hindcast []entity.HindcastRow) (io.Reader, error) {
	rows := make([]interface{}, 0, len(hindcast))
	for _, h := range hindcast {
		rows = append(rows, HindcastParquetRow{
			City:          h.City,
			Street:        h.Street,
			Date:          h.Date.UnixMilli(),
			PredictedPM25: h.PredictedPM25,
			ActualPM25:    h.ActualPM25,
		})
	}
	return writeParquet(rows, new(HindcastParquetRow))
}

// writeParquet serializes rows into an in-memory parquet file.
func writeParquet(rows []interface{}, prototype interface{}) (io.Reader, error) {
	buf := new(bytes.Buffer)
	pw, err := writer.NewParquetWriterFromWriter(buf, prototype, 1)
	if err != nil {
		return nil, exception.NewPipelineError(moduleName, "failed to create parquet writer", err, false, false)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, row := range rows {
		if err := pw.Write(row); err != nil {
			return nil, exception.NewPipelineError(moduleName, "failed to write parquet row", err, false, false)
		}
	}
	if err := pw.WriteStop(); err != nil {
		return nil, exception.NewPipelineError(moduleName, "failed to finalize parquet file", err, false, false)
	}
	return buf, nil
}
