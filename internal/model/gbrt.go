// Package model implements a gradient-boosted regression tree ensemble for
// PM2.5 forecasting, with JSON serialization for the model registry.
package model

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"sort"
)

// Params controls ensemble training.
type Params struct {
	// Rounds is the number of boosting rounds (trees).
	Rounds int `json:"rounds"`
	// LearningRate shrinks each tree's contribution.
	LearningRate float64 `json:"learning_rate"`
	// MaxDepth limits every tree's depth.
	MaxDepth int `json:"max_depth"`
	// MinSamplesLeaf stops splitting when a child would get fewer rows.
	MinSamplesLeaf int `json:"min_samples_leaf"`
}

// DefaultParams returns the training defaults used by the pipelines.
func DefaultParams() Params {
	return Params{
		Rounds:         100,
		LearningRate:   0.1,
		MaxDepth:       4,
		MinSamplesLeaf: 3,
	}
}

// node is one regression tree node. Leaves carry a value, internal nodes a
// split on Feature at Threshold.
type node struct {
	Leaf      bool    `json:"leaf"`
	Value     float64 `json:"value,omitempty"`
	Feature   int     `json:"feature,omitempty"`
	Threshold float64 `json:"threshold,omitempty"`
	Left      *node   `json:"left,omitempty"`
	Right     *node   `json:"right,omitempty"`
}

// predict walks the tree for one feature vector.
func (n *node) predict(x []float64) float64 {
	for !n.Leaf {
		if x[n.Feature] <= n.Threshold {
			n = n.Left
		} else {
			n = n.Right
		}
	}
	return n.Value
}

// Regressor is a trained gradient-boosted tree ensemble.
type Regressor struct {
	Params       Params   `json:"params"`
	FeatureNames []string `json:"feature_names,omitempty"`
	Base         float64  `json:"base"`
	Trees        []*node  `json:"trees"`
}

// New builds an untrained regressor.
func New(params Params) *Regressor {
	return &Regressor{Params: params}
}

// Fit trains the ensemble on rows X with targets y. Each round fits a
// depth-limited tree to the current residuals and adds it with shrinkage.
func (r *Regressor) Fit(X [][]float64, y []float64) error {
	if len(X) == 0 || len(X) != len(y) {
		return fmt.Errorf("model: training set has %d rows and %d targets", len(X), len(y))
	}
	width := len(X[0])
	for i, row := range X {
		if len(row) != width {
			return fmt.Errorf("model: row %d has %d features, want %d", i, len(row), width)
		}
	}

	r.Base = mean(y)
	r.Trees = r.Trees[:0]

	preds := make([]float64, len(y))
	for i := range preds {
		preds[i] = r.Base
	}

	residuals := make([]float64, len(y))
	indices := make([]int, len(y))
	for i := range indices {
		indices[i] = i
	}

	for round := 0; round < r.Params.Rounds; round++ {
		for i := range y {
			residuals[i] = y[i] - preds[i]
		}
		tree := r.buildTree(X, residuals, indices, 0)
		r.Trees = append(r.Trees, tree)
		for i, row := range X {
			preds[i] += r.Params.LearningRate * tree.predict(row)
		}
	}
	return nil
}

// buildTree grows one regression tree on the residuals of the given rows.
func (r *Regressor) buildTree(X [][]float64, residuals []float64, indices []int, depth int) *node {
	if depth >= r.Params.MaxDepth || len(indices) < 2*r.Params.MinSamplesLeaf {
		return &node{Leaf: true, Value: meanAt(residuals, indices)}
	}

	feature, threshold, ok := r.bestSplit(X, residuals, indices)
	if !ok {
		return &node{Leaf: true, Value: meanAt(residuals, indices)}
	}

	var left, right []int
	for _, idx := range indices {
		if X[idx][feature] <= threshold {
			left = append(left, idx)
		} else {
			right = append(right, idx)
		}
	}
	if len(left) < r.Params.MinSamplesLeaf || len(right) < r.Params.MinSamplesLeaf {
		return &node{Leaf: true, Value: meanAt(residuals, indices)}
	}

	return &node{
		Feature:   feature,
		Threshold: threshold,
		Left:      r.buildTree(X, residuals, left, depth+1),
		Right:     r.buildTree(X, residuals, right, depth+1),
	}
}

// bestSplit finds the split minimizing the summed squared error of the two
// children. Candidate thresholds are midpoints between consecutive distinct
// feature values.
func (r *Regressor) bestSplit(X [][]float64, residuals []float64, indices []int) (feature int, threshold float64, ok bool) {
	bestScore := math.Inf(1)
	width := len(X[indices[0]])

	order := make([]int, len(indices))
	for f := 0; f < width; f++ {
		copy(order, indices)
		sort.Slice(order, func(i, j int) bool {
			return X[order[i]][f] < X[order[j]][f]
		})

		// Running sums from the left make each candidate split O(1).
		var leftSum, leftSq float64
		totalSum, totalSq := sumsAt(residuals, order)
		for i := 0; i < len(order)-1; i++ {
			v := residuals[order[i]]
			leftSum += v
			leftSq += v * v

			if X[order[i]][f] == X[order[i+1]][f] {
				continue
			}
			nLeft := float64(i + 1)
			nRight := float64(len(order) - i - 1)
			if int(nLeft) < r.Params.MinSamplesLeaf || int(nRight) < r.Params.MinSamplesLeaf {
				continue
			}

			rightSum := totalSum - leftSum
			rightSq := totalSq - leftSq
			score := (leftSq - leftSum*leftSum/nLeft) + (rightSq - rightSum*rightSum/nRight)
			if score < bestScore {
				bestScore = score
				feature = f
				threshold = (X[order[i]][f] + X[order[i+1]][f]) / 2
				ok = true
			}
		}
	}
	return feature, threshold, ok
}

// Predict returns the ensemble prediction for one feature vector.
func (r *Regressor) Predict(x []float64) float64 {
	pred := r.Base
	for _, tree := range r.Trees {
		pred += r.Params.LearningRate * tree.predict(x)
	}
	return pred
}

// PredictBatch predicts every row of X.
func (r *Regressor) PredictBatch(X [][]float64) []float64 {
	out := make([]float64, len(X))
	for i, row := range X {
		out[i] = r.Predict(row)
	}
	return out
}

// Save writes the model as JSON to path.
func (r *Regressor) Save(path string) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("model: failed to marshal: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// Load reads a model saved by Save.
func Load(path string) (*Regressor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("model: failed to read %s: %w", path, err)
	}
	var r Regressor
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("model: failed to unmarshal %s: %w", path, err)
	}
	return &r, nil
}

func mean(values []float64) float64 {
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func meanAt(values []float64, indices []int) float64 {
	var sum float64
	for _, idx := range indices {
		sum += values[idx]
	}
	return sum / float64(len(indices))
}

func sumsAt(values []float64, indices []int) (sum, sq float64) {
	for _, idx := range indices {
		v := values[idx]
		sum += v
		sq += v * v
	}
	return sum, sq
}
