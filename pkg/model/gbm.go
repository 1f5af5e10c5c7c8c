package model

import (
	"encoding/json"
	"fmt"
)

// GBM is a gradient-boosted ensemble of shallow regression trees fit on
// squared-error residuals.
type GBM struct {
	params Params
	state  gbmState
}

type gbmState struct {
	Width        int     `json:"width"`
	Base         float64 `json:"base"`
	LearningRate float64 `json:"learning_rate"`
	Trees        []tree  `json:"trees"`
}

// NewGBM creates an unfitted gradient boosting regressor.
func NewGBM(p Params) *GBM {
	return &GBM{params: p.withDefaults()}
}

func (m *GBM) Type() string { return TypeGBM }

func (m *GBM) Fit(X [][]float64, y []float64) error {
	width, err := checkXY(X, y)
	if err != nil {
		return err
	}

	idx := allRows(len(y))
	st := gbmState{Width: width, Base: meanAt(y, idx), LearningRate: m.params.LearningRate}

	pred := make([]float64, len(y))
	for i := range pred {
		pred[i] = st.Base
	}
	resid := make([]float64, len(y))

	for it := 0; it < m.params.Iterations; it++ {
		for i := range y {
			resid[i] = y[i] - pred[i]
		}
		t := growTree(X, resid, idx, m.params.Depth, m.params.MinLeaf)
		if len(t.Nodes) == 1 && t.Nodes[0].Value == 0 {
			break // residuals are flat, nothing left to learn
		}
		for i := range pred {
			pred[i] += st.LearningRate * t.predict(X[i])
		}
		st.Trees = append(st.Trees, t)
	}

	m.state = st
	return nil
}

func (m *GBM) Predict(X [][]float64) ([]float64, error) {
	if m.state.Width == 0 {
		return nil, ErrNotFitted
	}
	if err := checkWidth(X, m.state.Width); err != nil {
		return nil, err
	}
	out := make([]float64, len(X))
	for i, x := range X {
		v := m.state.Base
		for j := range m.state.Trees {
			v += m.state.LearningRate * m.state.Trees[j].predict(x)
		}
		out[i] = v
	}
	return out, nil
}

func (m *GBM) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.state)
}

func (m *GBM) UnmarshalJSON(data []byte) error {
	if err := json.Unmarshal(data, &m.state); err != nil {
		return fmt.Errorf("decode gbm state: %w", err)
	}
	return nil
}
