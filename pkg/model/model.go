// Package model provides the regressors used for demand forecasting, the
// registry that resolves a model family with fallbacks, and the single
// "latest" artifact slot that holds the live model.
package model

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Family names.
const (
	TypeGBM    = "gbm"
	TypeLinear = "linear"
	TypeForest = "forest"
)

var (
	// ErrNotFitted is returned by Predict on a regressor that has not been fit.
	ErrNotFitted = errors.New("model not fitted")
	// ErrNoCapability means no family in the fallback chain is registered.
	ErrNoCapability = errors.New("no model capability available")
	// ErrNoArtifact means the artifact slot is empty.
	ErrNoArtifact = errors.New("no trained model artifact")
)

// Regressor is a fit/predict capability. State round-trips through JSON.
type Regressor interface {
	Type() string
	Fit(X [][]float64, y []float64) error
	Predict(X [][]float64) ([]float64, error)
	json.Marshaler
	json.Unmarshaler
}

// Params tunes the regressor families. Zero values select defaults.
type Params struct {
	Iterations   int     `yaml:"iterations"`
	Depth        int     `yaml:"depth"`
	LearningRate float64 `yaml:"learning_rate"`
	MinLeaf      int     `yaml:"min_leaf"`
	Trees        int     `yaml:"trees"`
	Lambda       float64 `yaml:"lambda"`
	Seed         int64   `yaml:"seed"`
}

func (p Params) withDefaults() Params {
	if p.Iterations <= 0 {
		p.Iterations = 50
	}
	if p.Depth <= 0 {
		p.Depth = 3
	}
	if p.LearningRate <= 0 {
		p.LearningRate = 0.1
	}
	if p.MinLeaf <= 0 {
		p.MinLeaf = 2
	}
	if p.Trees <= 0 {
		p.Trees = 20
	}
	if p.Lambda <= 0 {
		p.Lambda = 1
	}
	if p.Seed == 0 {
		p.Seed = 42
	}
	return p
}

// checkXY validates a training set and returns its width.
func checkXY(X [][]float64, y []float64) (int, error) {
	if len(X) == 0 {
		return 0, errors.New("fit: empty training set")
	}
	if len(X) != len(y) {
		return 0, fmt.Errorf("fit: %d rows but %d labels", len(X), len(y))
	}
	width := len(X[0])
	for i, row := range X {
		if len(row) != width {
			return 0, fmt.Errorf("fit: row %d has %d features, want %d", i, len(row), width)
		}
	}
	return width, nil
}

// checkWidth validates inference rows against the fitted width.
func checkWidth(X [][]float64, width int) error {
	for i, row := range X {
		if len(row) != width {
			return fmt.Errorf("predict: row %d has %d features, want %d", i, len(row), width)
		}
	}
	return nil
}
