package features

import (
	"sort"
	"time"

	"github.com/adrianthees/mlfs-book/internal/domain/entity"
)

// Regressor predicts a PM2.5 value from one feature vector.
type Regressor interface {
	Predict(x []float64) float64
}

// Reconcile joins next-day predictions with the observations for the same
// location, matching on date. Only predictions issued one day ahead take
// part in the join; longer horizons are skipped. Predictions without an
// observation yet, and observations that were never predicted, are left
// out. The result is ordered by date ascending.
func Reconcile(preds []entity.PredictionRecord, obs []entity.AirQualityRecord) []entity.HindcastRow {
	actuals := make(map[time.Time]float64, len(obs))
	for _, o := range obs {
		actuals[entity.DateOnly(o.Date)] = o.PM25
	}

	var out []entity.HindcastRow
	for _, p := range preds {
		if p.DaysBeforeForecast != 1 {
			continue
		}
		date := entity.DateOnly(p.Date)
		actual, ok := actuals[date]
		if !ok {
			continue
		}
		out = append(out, entity.HindcastRow{
			City:          p.City,
			Street:        p.Street,
			Date:          date,
			PredictedPM25: p.PredictedPM25,
			ActualPM25:    actual,
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Date.Before(out[j].Date)
	})
	return out
}

// Backfiller synthesizes a hindcast for a location that has no day-1
// predictions yet, typically a sensor that just joined. It predicts the
// trailing weather days as if a forecast had been issued one day ahead.
type Backfiller struct {
	// Window caps how many trailing weather days are backfilled.
	Window int
	// UseLags appends the location's lag features to the weather vector, for
	// models trained on lagged inputs.
	UseLags bool
	// Lags holds the lag rows joined by date. A weather day without a lag
	// row gets zero lags, as does every day when Lags is empty.
	Lags  []entity.AirQualityLagged
	Model Regressor
}

// Backfill predicts the trailing weather days and reconciles the synthetic
// predictions against the location's observations. All synthesized
// predictions are returned for write-back, stamped as day-1 forecasts, so
// rerunning the backfill rewrites the same rows.
func (b *Backfiller) Backfill(weatherTail []entity.WeatherRecord, obs []entity.AirQualityRecord, loc entity.LocationKey) ([]entity.PredictionRecord, []entity.HindcastRow) {
	tail := make([]entity.WeatherRecord, len(weatherTail))
	copy(tail, weatherTail)
	sort.SliceStable(tail, func(i, j int) bool {
		return tail[i].Date.Before(tail[j].Date)
	})
	if b.Window > 0 && len(tail) > b.Window {
		tail = tail[len(tail)-b.Window:]
	}

	lags := make(map[time.Time]entity.AirQualityLagged, len(b.Lags))
	for _, l := range b.Lags {
		lags[entity.DateOnly(l.Date)] = l
	}

	preds := make([]entity.PredictionRecord, 0, len(tail))
	for _, w := range tail {
		var x []float64
		if b.UseLags {
			l := lags[entity.DateOnly(w.Date)]
			x = LaggedVector(w, l.PM25Lag1, l.PM25Lag2, l.PM25Lag3)
		} else {
			x = WeatherVector(w)
		}
		preds = append(preds, entity.PredictionRecord{
			Country:            loc.Country,
			City:               loc.City,
			Street:             loc.Street,
			Date:               entity.DateOnly(w.Date),
			DaysBeforeForecast: 1,
			PredictedPM25:      b.Model.Predict(x),
		})
	}

	return preds, Reconcile(preds, obs)
}
