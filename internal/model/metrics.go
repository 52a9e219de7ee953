package model

import (
	"gonum.org/v1/gonum/stat"
)

// Metrics summarizes model accuracy on a held-out set.
type Metrics struct {
	MSE      float64 `json:"mse"`
	RSquared float64 `json:"r_squared"`
	Rows     int     `json:"rows"`
}

// Evaluate computes MSE and R² of predictions against actuals.
func Evaluate(predicted, actual []float64) Metrics {
	if len(predicted) == 0 || len(predicted) != len(actual) {
		return Metrics{}
	}
	var sse float64
	for i := range predicted {
		d := predicted[i] - actual[i]
		sse += d * d
	}
	return Metrics{
		MSE:      sse / float64(len(predicted)),
		RSquared: stat.RSquaredFrom(predicted, actual, nil),
		Rows:     len(predicted),
	}
}
