package forecast

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/elonfeng/demandcast/internal/store"
	"github.com/elonfeng/demandcast/pkg/features"
	"github.com/elonfeng/demandcast/pkg/model"
	"github.com/elonfeng/demandcast/pkg/training"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// Friday.
var fixedNow = time.Date(2024, 3, 15, 9, 30, 0, 0, time.UTC)

// column is a test regressor that predicts one input column scaled by Factor,
// or fails when that column equals FailOn.
type column struct {
	Index  int      `json:"index"`
	Factor float64  `json:"factor"`
	FailOn *float64 `json:"fail_on,omitempty"`
}

func (c *column) Type() string { return "column" }
func (c *column) Fit([][]float64, []float64) error { return nil }

func (c *column) MarshalJSON() ([]byte, error) {
	type plain column
	return json.Marshal((*plain)(c))
}

func (c *column) UnmarshalJSON(data []byte) error {
	type plain column
	return json.Unmarshal(data, (*plain)(c))
}

func (c *column) Predict(X [][]float64) ([]float64, error) {
	out := make([]float64, len(X))
	for i, x := range X {
		if c.FailOn != nil && x[c.Index] == *c.FailOn {
			return nil, errors.New("bad input")
		}
		out[i] = x[c.Index] * c.Factor
	}
	return out, nil
}

type env struct {
	store    *store.SQLiteStore
	slot     *model.Slot
	registry *model.Registry
}

func newEnv(t *testing.T) *env {
	t.Helper()
	dir := t.TempDir()
	s, err := store.New(filepath.Join(dir, "sales.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	reg := model.DefaultRegistry()
	reg.Register("column", func(model.Params) model.Regressor { return &column{} })
	return &env{store: s, slot: model.NewSlot(filepath.Join(dir, "models"), reg), registry: reg}
}

func (e *env) generator(horizon int) *Generator {
	b := features.NewBuilder(features.Config{}, zap.NewNop())
	return NewGenerator(e.store, e.slot, b, horizon, zap.NewNop()).WithClock(func() time.Time { return fixedNow })
}

func (e *env) saveColumnModel(t *testing.T, col string, factor float64, failOn *float64) {
	t.Helper()
	idx := -1
	for i, c := range training.FeatureColumns {
		if c == col {
			idx = i
		}
	}
	require.GreaterOrEqual(t, idx, 0)
	require.NoError(t, e.slot.Save(&model.Model{
		Regressor:      &column{Index: idx, Factor: factor, FailOn: failOn},
		FeatureColumns: training.FeatureColumns,
		TrainedAt:      fixedNow,
	}))
}

func (e *env) seed(t *testing.T, item int64, quantities ...float64) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, e.store.UpsertItem(ctx, &store.Item{ID: item, Name: fmt.Sprintf("item %d", item)}))
	var recs []store.SalesRecord
	start := fixedNow.AddDate(0, 0, -len(quantities))
	for i, q := range quantities {
		recs = append(recs, store.SalesRecord{Date: start.AddDate(0, 0, i).Format("2006-01-02"), ItemID: item, Quantity: q})
	}
	require.NoError(t, e.store.UpsertSales(ctx, recs))
}

func TestGenerate_EmptyStoreNoModel(t *testing.T) {
	e := newEnv(t)
	res, err := e.generator(7).Generate(context.Background())
	require.NoError(t, err)
	assert.Empty(t, res.RunID)
	assert.Empty(t, res.Forecasts)
}

func TestGenerate_NoItems(t *testing.T) {
	e := newEnv(t)
	e.saveColumnModel(t, features.ColLag1, 1, nil)

	res, err := e.generator(7).Generate(context.Background())
	require.NoError(t, err)
	assert.Empty(t, res.RunID)
	assert.Empty(t, res.Forecasts)

	latest, err := e.store.LatestForecastRunID(context.Background())
	require.NoError(t, err)
	assert.Empty(t, latest, "no write happens for an empty result")
}

func TestGenerate_CorruptModel(t *testing.T) {
	e := newEnv(t)
	e.seed(t, 1, 3, 4)
	require.NoError(t, os.MkdirAll(filepath.Dir(e.slot.Path()), 0o755))
	require.NoError(t, os.WriteFile(e.slot.Path(), []byte("garbage"), 0o644))

	res, err := e.generator(3).Generate(context.Background())
	require.NoError(t, err)
	assert.Empty(t, res.Forecasts)
}

func TestGenerate_TwoItemsThreeDays(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.seed(t, 1, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14)
	require.NoError(t, e.store.UpsertItem(ctx, &store.Item{ID: 2, Name: "new item"}))

	_, err := training.NewTrainer(e.store, e.registry, e.slot, training.Config{ModelType: model.TypeGBM}, zap.NewNop()).
		Train(ctx, mustFeatures(t, e))
	require.NoError(t, err)

	res, err := e.generator(3).Generate(ctx)
	require.NoError(t, err)
	require.Len(t, res.Forecasts, 6)
	require.NotEmpty(t, res.RunID)

	dates := map[string]bool{}
	for _, f := range res.Forecasts {
		assert.Equal(t, res.RunID, f.RunID)
		assert.GreaterOrEqual(t, f.PredictedQuantity, 0.0)
		dates[f.Date] = true
	}
	assert.Equal(t, map[string]bool{"2024-03-15": true, "2024-03-16": true, "2024-03-17": true}, dates)
	assert.Equal(t, "2024-03-15", res.Forecasts[0].Date)
	assert.Equal(t, "2024-03-17", res.Forecasts[5].Date)

	stored, err := e.store.ListForecasts(ctx, store.ForecastListOpts{RunID: res.RunID})
	require.NoError(t, err)
	assert.ElementsMatch(t, res.Forecasts, stored)
}

func TestGenerate_NoAutoregressiveFeedback(t *testing.T) {
	e := newEnv(t)
	e.seed(t, 1, 1, 2, 3, 4, 5, 6, 7, 8)
	e.saveColumnModel(t, features.ColLag1, 1, nil)

	res, err := e.generator(4).Generate(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Forecasts, 4)
	for _, f := range res.Forecasts {
		assert.Equal(t, 8.0, f.PredictedQuantity, "every horizon day sees the same observed tail")
	}
}

func TestGenerate_InferenceFeatures(t *testing.T) {
	cases := []struct {
		col  string
		want float64
	}{
		{features.ColLag7, 2},
		{features.ColRolling7, 5},
		{features.ColRolling28, 4.5},
		{features.ColDayOfWeek, 4},
		{features.ColMonth, 3},
	}
	for _, tc := range cases {
		t.Run(tc.col, func(t *testing.T) {
			e := newEnv(t)
			e.seed(t, 1, 1, 2, 3, 4, 5, 6, 7, 8)
			e.saveColumnModel(t, tc.col, 1, nil)

			res, err := e.generator(1).Generate(context.Background())
			require.NoError(t, err)
			require.Len(t, res.Forecasts, 1)
			assert.InDelta(t, tc.want, res.Forecasts[0].PredictedQuantity, 1e-9)
		})
	}
}

func TestGenerate_ExogenousLookup(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.seed(t, 1, 3, 3)
	require.NoError(t, e.store.UpsertSales(ctx, []store.SalesRecord{{
		Date:              "2024-03-16",
		ItemID:            1,
		PromotionDiscount: sql.NullFloat64{Float64: 15, Valid: true},
		IsHoliday:         sql.NullBool{Bool: true, Valid: true},
	}}))
	e.saveColumnModel(t, features.ColPromotionDiscount, 1, nil)

	res, err := e.generator(3).Generate(ctx)
	require.NoError(t, err)
	require.Len(t, res.Forecasts, 3)
	assert.Equal(t, 0.0, res.Forecasts[0].PredictedQuantity)
	assert.Equal(t, 15.0, res.Forecasts[1].PredictedQuantity)
	assert.Equal(t, 0.0, res.Forecasts[2].PredictedQuantity)
}

func TestGenerate_StagedFutureRowsAreNotHistory(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.seed(t, 1, 4)
	require.NoError(t, e.store.UpsertSales(ctx, []store.SalesRecord{{Date: "2024-03-15", ItemID: 1, Quantity: 99}}))
	e.saveColumnModel(t, features.ColLag1, 1, nil)

	res, err := e.generator(1).Generate(ctx)
	require.NoError(t, err)
	require.Len(t, res.Forecasts, 1)
	assert.Equal(t, 4.0, res.Forecasts[0].PredictedQuantity)
}

func TestGenerate_PerRowFailureIsolated(t *testing.T) {
	e := newEnv(t)
	e.seed(t, 1, 2, 2)
	e.seed(t, 2, 5, 5)
	failOn := 2.0
	e.saveColumnModel(t, features.ColItemID, 3, &failOn)

	res, err := e.generator(2).Generate(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Forecasts, 4)
	for _, f := range res.Forecasts {
		if f.ItemID == 2 {
			assert.Equal(t, 0.0, f.PredictedQuantity)
		} else {
			assert.Equal(t, 3.0, f.PredictedQuantity)
		}
	}
}

func TestGenerate_ClampsNegative(t *testing.T) {
	e := newEnv(t)
	e.seed(t, 1, 6)
	e.saveColumnModel(t, features.ColLag1, -1, nil)

	res, err := e.generator(2).Generate(context.Background())
	require.NoError(t, err)
	for _, f := range res.Forecasts {
		assert.Equal(t, 0.0, f.PredictedQuantity)
	}
}

func TestGenerate_SeparateRuns(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.seed(t, 1, 6)
	e.saveColumnModel(t, features.ColLag1, 1, nil)

	first, err := e.generator(2).Generate(ctx)
	require.NoError(t, err)
	second, err := e.generator(2).Generate(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, first.RunID, second.RunID)

	all, err := e.store.ListForecasts(ctx, store.ForecastListOpts{})
	require.NoError(t, err)
	assert.Len(t, all, 4)

	latest, err := e.store.LatestForecastRunID(ctx)
	require.NoError(t, err)
	assert.Equal(t, second.RunID, latest)
}

func mustFeatures(t *testing.T, e *env) *features.Table {
	t.Helper()
	sales, err := e.store.ListSales(context.Background(), store.SalesListOpts{})
	require.NoError(t, err)
	table, err := features.NewBuilder(features.Config{}, zap.NewNop()).Build(sales)
	require.NoError(t, err)
	return table
}
