package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/elonfeng/demandcast/pkg/features"
)

// ArtifactName is the file name of the live model inside the model directory.
const ArtifactName = "latest.model"

// Artifact is the serialized form of a fitted model.
type Artifact struct {
	Type           string          `json:"type"`
	FeatureColumns []string        `json:"feature_columns"`
	TrainedAt      time.Time       `json:"trained_at"`
	State          json.RawMessage `json:"state"`
}

// Model is a fitted regressor together with the column order it was fit on.
type Model struct {
	Regressor
	FeatureColumns []string
	TrainedAt      time.Time
}

// PredictRow predicts a single feature row using the model's column order.
func (m *Model) PredictRow(row features.Row) (float64, error) {
	x := make([]float64, len(m.FeatureColumns))
	for i, col := range m.FeatureColumns {
		v, ok := row.Value(col)
		if !ok {
			return 0, fmt.Errorf("feature %q unavailable for item %d on %s", col, row.ItemID, row.Date)
		}
		x[i] = v
	}
	out, err := m.Predict([][]float64{x})
	if err != nil {
		return 0, err
	}
	return out[0], nil
}

// Slot is the single, unversioned location of the live model. Every Save
// overwrites it.
type Slot struct {
	dir      string
	registry *Registry
}

// NewSlot creates a slot under dir. The registry decodes saved artifacts.
func NewSlot(dir string, registry *Registry) *Slot {
	return &Slot{dir: dir, registry: registry}
}

// Path returns the artifact file path.
func (s *Slot) Path() string {
	return filepath.Join(s.dir, ArtifactName)
}

// Save writes the model, replacing the previous artifact atomically.
func (s *Slot) Save(m *Model) error {
	state, err := m.MarshalJSON()
	if err != nil {
		return fmt.Errorf("encode %s state: %w", m.Type(), err)
	}
	data, err := json.Marshal(Artifact{
		Type:           m.Type(),
		FeatureColumns: m.FeatureColumns,
		TrainedAt:      m.TrainedAt.UTC(),
		State:          state,
	})
	if err != nil {
		return fmt.Errorf("encode artifact: %w", err)
	}

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create model dir %s: %w", s.dir, err)
	}
	tmp, err := os.CreateTemp(s.dir, ArtifactName+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp artifact: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close artifact: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.Path()); err != nil {
		return fmt.Errorf("replace artifact %s: %w", s.Path(), err)
	}
	return nil
}

// Load reads the live model. It returns ErrNoArtifact when none was saved.
func (s *Slot) Load() (*Model, error) {
	data, err := os.ReadFile(s.Path())
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w at %s", ErrNoArtifact, s.Path())
	}
	if err != nil {
		return nil, fmt.Errorf("read artifact %s: %w", s.Path(), err)
	}

	var a Artifact
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("decode artifact %s: %w", s.Path(), err)
	}

	reg, err := s.registry.New(a.Type, Params{})
	if err != nil {
		return nil, fmt.Errorf("load artifact %s: %w", s.Path(), err)
	}
	if err := reg.UnmarshalJSON(a.State); err != nil {
		return nil, fmt.Errorf("load artifact %s: %w", s.Path(), err)
	}

	return &Model{Regressor: reg, FeatureColumns: a.FeatureColumns, TrainedAt: a.TrainedAt}, nil
}
