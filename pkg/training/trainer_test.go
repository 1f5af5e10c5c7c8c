package training

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/elonfeng/demandcast/internal/store"
	"github.com/elonfeng/demandcast/pkg/features"
	"github.com/elonfeng/demandcast/pkg/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type failingRuns struct {
	store.Store
}

func (failingRuns) InsertModelRun(context.Context, *store.ModelRun) error {
	return errors.New("database is locked")
}

func setup(t *testing.T) (*store.SQLiteStore, *model.Slot) {
	t.Helper()
	dir := t.TempDir()
	s, err := store.New(filepath.Join(dir, "sales.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, model.NewSlot(filepath.Join(dir, "models"), model.DefaultRegistry())
}

func historyTable(t *testing.T) *features.Table {
	t.Helper()
	var sales []store.SalesRecord
	for item := int64(1); item <= 2; item++ {
		for d := 1; d <= 28; d++ {
			sales = append(sales, store.SalesRecord{
				Date:     fmt.Sprintf("2024-02-%02d", d),
				ItemID:   item,
				Quantity: float64(item*10 + int64(d%7)),
			})
		}
	}
	table, err := features.NewBuilder(features.Config{}, zap.NewNop()).Build(sales)
	require.NoError(t, err)
	return table
}

func TestTrain_FitsAndPersists(t *testing.T) {
	s, slot := setup(t)
	ctx := context.Background()
	tr := NewTrainer(s, model.DefaultRegistry(), slot, Config{ModelType: model.TypeGBM}, zap.NewNop())

	res, err := tr.Train(ctx, historyTable(t))
	require.NoError(t, err)
	assert.Equal(t, 56, res.Samples)
	assert.Equal(t, FeatureColumns, res.Model.FeatureColumns)
	assert.Equal(t, Metrics{MAE: 0, WAPE: 0, ModelType: model.TypeGBM}, res.Metrics)

	loaded, err := slot.Load()
	require.NoError(t, err)
	assert.Equal(t, model.TypeGBM, loaded.Type())

	runs, err := s.ListModelRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, res.RunID, runs[0].RunID)
	assert.Equal(t, model.TypeGBM, runs[0].ModelType)

	var m Metrics
	require.NoError(t, json.Unmarshal([]byte(runs[0].Metrics), &m))
	assert.Equal(t, res.Metrics, m)
}

func TestTrain_EmptyTableUsesSyntheticSample(t *testing.T) {
	s, slot := setup(t)
	tr := NewTrainer(s, model.DefaultRegistry(), slot, Config{ModelType: model.TypeLinear}, zap.NewNop())

	empty, err := features.NewBuilder(features.Config{}, zap.NewNop()).Build(nil)
	require.NoError(t, err)

	res, err := tr.Train(context.Background(), empty)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Samples)

	loaded, err := slot.Load()
	require.NoError(t, err)
	pred, err := loaded.PredictRow(features.Row{ItemID: 5, Month: 3})
	require.NoError(t, err)
	assert.InDelta(t, 0.0, pred, 1e-6)
}

func TestTrain_MissingLabelColumn(t *testing.T) {
	s, slot := setup(t)
	tr := NewTrainer(s, model.DefaultRegistry(), slot, Config{ModelType: model.TypeGBM}, zap.NewNop())

	q := 3.0
	table := &features.Table{
		Columns: []string{features.ColDate, features.ColItemID, features.ColLag1},
		Rows:    []features.Row{{Date: "2024-01-01", ItemID: 1, Lag1: 2, Quantity: &q}},
	}

	res, err := tr.Train(context.Background(), table)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Samples)
	assert.Equal(t, []string{features.ColLag1, features.ColItemID}, res.Model.FeatureColumns)
}

func TestTrain_FallbackChain(t *testing.T) {
	s, slot := setup(t)

	tr := NewTrainer(s, model.DefaultRegistry(), slot, Config{ModelType: "catboost"}, zap.NewNop())
	res, err := tr.Train(context.Background(), historyTable(t))
	require.NoError(t, err)
	assert.Equal(t, model.TypeLinear, res.Metrics.ModelType)

	onlyForest := model.NewRegistry()
	onlyForest.Register(model.TypeForest, func(p model.Params) model.Regressor { return model.NewForest(p) })
	tr = NewTrainer(s, onlyForest, slot, Config{ModelType: "catboost", Fallback: "lightgbm"}, zap.NewNop())
	res, err = tr.Train(context.Background(), historyTable(t))
	require.NoError(t, err)
	assert.Equal(t, model.TypeForest, res.Metrics.ModelType)
}

func TestTrain_NoCapabilityIsFatal(t *testing.T) {
	s, slot := setup(t)
	tr := NewTrainer(s, model.NewRegistry(), slot, Config{ModelType: model.TypeGBM}, zap.NewNop())

	_, err := tr.Train(context.Background(), historyTable(t))
	require.ErrorIs(t, err, model.ErrNoCapability)

	_, err = slot.Load()
	assert.ErrorIs(t, err, model.ErrNoArtifact, "nothing is written on a configuration error")
}

func TestTrain_AuditFailureIsSwallowed(t *testing.T) {
	s, slot := setup(t)
	tr := NewTrainer(failingRuns{s}, model.DefaultRegistry(), slot, Config{ModelType: model.TypeGBM}, zap.NewNop())

	res, err := tr.Train(context.Background(), historyTable(t))
	require.NoError(t, err)
	assert.NotEmpty(t, res.RunID)

	_, err = slot.Load()
	assert.NoError(t, err)
}

func TestTrain_OverwritesLatest(t *testing.T) {
	s, slot := setup(t)
	ctx := context.Background()

	_, err := NewTrainer(s, model.DefaultRegistry(), slot, Config{ModelType: model.TypeGBM}, zap.NewNop()).Train(ctx, historyTable(t))
	require.NoError(t, err)
	_, err = NewTrainer(s, model.DefaultRegistry(), slot, Config{ModelType: model.TypeForest}, zap.NewNop()).Train(ctx, historyTable(t))
	require.NoError(t, err)

	loaded, err := slot.Load()
	require.NoError(t, err)
	assert.Equal(t, model.TypeForest, loaded.Type())

	runs, err := s.ListModelRuns(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, runs, 2)
}

func TestMetrics(t *testing.T) {
	assert.Equal(t, 0.0, MAE(nil, nil))
	assert.InDelta(t, 1.0, MAE([]float64{1, 2, 3}, []float64{2, 3, 2}), 1e-9)

	assert.Equal(t, 0.0, WAPE([]float64{0, 0}, []float64{1, 1}))
	assert.InDelta(t, 50.0, WAPE([]float64{2, 2}, []float64{1, 3}), 1e-9)
	assert.Equal(t, 0.0, WAPE([]float64{1}, []float64{1, 2}))
}
