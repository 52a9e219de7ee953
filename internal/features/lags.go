// Package features implements the feature engineering shared by training and
// inference: row-order lag derivation and hindcast reconciliation.
package features

import (
	"sort"

	"github.com/adrianthees/mlfs-book/internal/domain/entity"
)

// Derive computes per-location lag features over observation row order.
// Within a location, rows are ordered by date; the k-day lag of a row is the
// PM2.5 of the row k positions earlier, regardless of calendar gaps between
// them. The first three rows of every location have incomplete lags and are
// dropped, so a location with N observations yields N-3 rows, and fewer than
// four observations yield none. Input order does not affect the result.
func Derive(obs []entity.AirQualityRecord) []entity.AirQualityLagged {
	grouped := groupByLocation(obs)

	var out []entity.AirQualityLagged
	for _, key := range sortedKeys(grouped) {
		rows := grouped[key]
		for i := 3; i < len(rows); i++ {
			out = append(out, laggedRow(rows, i))
		}
	}
	return out
}

// DeriveTail computes lag features over only the trailing window of each
// location's observations. With the usual window of four it yields at most
// one row per location, carrying the lags of that location's newest
// observation. Callers filter the result to the event date they care about.
func DeriveTail(obs []entity.AirQualityRecord, window int) []entity.AirQualityLagged {
	grouped := groupByLocation(obs)

	var out []entity.AirQualityLagged
	for _, key := range sortedKeys(grouped) {
		rows := grouped[key]
		if len(rows) > window {
			rows = rows[len(rows)-window:]
		}
		for i := 3; i < len(rows); i++ {
			out = append(out, laggedRow(rows, i))
		}
	}
	return out
}

// laggedRow builds the lag row for position i of a date-ordered location slice.
func laggedRow(rows []entity.AirQualityRecord, i int) entity.AirQualityLagged {
	r := rows[i]
	return entity.AirQualityLagged{
		Country:  r.Country,
		City:     r.City,
		Street:   r.Street,
		Date:     r.Date,
		PM25:     r.PM25,
		PM25Lag1: rows[i-1].PM25,
		PM25Lag2: rows[i-2].PM25,
		PM25Lag3: rows[i-3].PM25,
	}
}

// groupByLocation buckets observations by location and orders each bucket by
// date ascending.
func groupByLocation(obs []entity.AirQualityRecord) map[entity.LocationKey][]entity.AirQualityRecord {
	grouped := make(map[entity.LocationKey][]entity.AirQualityRecord)
	for _, r := range obs {
		key := r.Location()
		grouped[key] = append(grouped[key], r)
	}
	for _, rows := range grouped {
		sort.SliceStable(rows, func(i, j int) bool {
			return rows[i].Date.Before(rows[j].Date)
		})
	}
	return grouped
}

// sortedKeys orders location keys so output order is deterministic.
func sortedKeys(grouped map[entity.LocationKey][]entity.AirQualityRecord) []entity.LocationKey {
	keys := make([]entity.LocationKey, 0, len(grouped))
	for key := range grouped {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := keys[i], keys[j]
		if a.Country != b.Country {
			return a.Country < b.Country
		}
		if a.City != b.City {
			return a.City < b.City
		}
		return a.Street < b.Street
	})
	return keys
}
