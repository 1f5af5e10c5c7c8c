package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// Linear is an L2-regularized least squares regressor with an unpenalized
// intercept.
type Linear struct {
	params Params
	state  linearState
}

type linearState struct {
	Width     int       `json:"width"`
	Intercept float64   `json:"intercept"`
	Coef      []float64 `json:"coef"`
}

// NewLinear creates an unfitted ridge regressor.
func NewLinear(p Params) *Linear {
	return &Linear{params: p.withDefaults()}
}

func (m *Linear) Type() string { return TypeLinear }

func (m *Linear) Fit(X [][]float64, y []float64) error {
	width, err := checkXY(X, y)
	if err != nil {
		return err
	}

	// Design matrix with a leading column of ones.
	n, k := len(X), width+1
	design := mat.NewDense(n, k, nil)
	for i, row := range X {
		design.Set(i, 0, 1)
		for j, v := range row {
			design.Set(i, j+1, v)
		}
	}
	target := mat.NewVecDense(n, y)

	var gram mat.Dense
	gram.Mul(design.T(), design)
	for j := 1; j < k; j++ {
		gram.Set(j, j, gram.At(j, j)+m.params.Lambda)
	}

	var rhs mat.VecDense
	rhs.MulVec(design.T(), target)

	var beta mat.VecDense
	if err := beta.SolveVec(&gram, &rhs); err != nil {
		// An ill-conditioned but finite system still yields usable coefficients.
		var cond mat.Condition
		if !errors.As(err, &cond) || math.IsInf(float64(cond), 0) {
			return fmt.Errorf("fit linear: %w", err)
		}
	}

	st := linearState{Width: width, Intercept: beta.AtVec(0), Coef: make([]float64, width)}
	for j := range st.Coef {
		st.Coef[j] = beta.AtVec(j + 1)
	}
	m.state = st
	return nil
}

func (m *Linear) Predict(X [][]float64) ([]float64, error) {
	if m.state.Width == 0 {
		return nil, ErrNotFitted
	}
	if err := checkWidth(X, m.state.Width); err != nil {
		return nil, err
	}
	out := make([]float64, len(X))
	for i, x := range X {
		v := m.state.Intercept
		for j, c := range m.state.Coef {
			v += c * x[j]
		}
		out[i] = v
	}
	return out, nil
}

func (m *Linear) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.state)
}

func (m *Linear) UnmarshalJSON(data []byte) error {
	if err := json.Unmarshal(data, &m.state); err != nil {
		return fmt.Errorf("decode linear state: %w", err)
	}
	return nil
}
