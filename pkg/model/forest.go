package model

import (
	"encoding/json"
	"fmt"
	"math/rand"
)

// Forest averages regression trees grown on bootstrap resamples. It is the
// generic ensemble at the end of the fallback chain.
type Forest struct {
	params Params
	state  forestState
}

type forestState struct {
	Width int    `json:"width"`
	Trees []tree `json:"trees"`
}

// NewForest creates an unfitted bagged tree ensemble.
func NewForest(p Params) *Forest {
	return &Forest{params: p.withDefaults()}
}

func (m *Forest) Type() string { return TypeForest }

func (m *Forest) Fit(X [][]float64, y []float64) error {
	width, err := checkXY(X, y)
	if err != nil {
		return err
	}

	rng := rand.New(rand.NewSource(m.params.Seed))
	depth := m.params.Depth + 3
	st := forestState{Width: width}

	for k := 0; k < m.params.Trees; k++ {
		sample := make([]int, len(y))
		for i := range sample {
			sample[i] = rng.Intn(len(y))
		}
		st.Trees = append(st.Trees, growTree(X, y, sample, depth, m.params.MinLeaf))
	}

	m.state = st
	return nil
}

func (m *Forest) Predict(X [][]float64) ([]float64, error) {
	if m.state.Width == 0 || len(m.state.Trees) == 0 {
		return nil, ErrNotFitted
	}
	if err := checkWidth(X, m.state.Width); err != nil {
		return nil, err
	}
	out := make([]float64, len(X))
	for i, x := range X {
		var sum float64
		for j := range m.state.Trees {
			sum += m.state.Trees[j].predict(x)
		}
		out[i] = sum / float64(len(m.state.Trees))
	}
	return out, nil
}

func (m *Forest) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.state)
}

func (m *Forest) UnmarshalJSON(data []byte) error {
	if err := json.Unmarshal(data, &m.state); err != nil {
		return fmt.Errorf("decode forest state: %w", err)
	}
	return nil
}
