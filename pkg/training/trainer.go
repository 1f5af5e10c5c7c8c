// Package training fits the forecasting model on a feature table and
// publishes it to the artifact slot with an audit record.
package training

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/elonfeng/demandcast/internal/store"
	"github.com/elonfeng/demandcast/pkg/features"
	"github.com/elonfeng/demandcast/pkg/model"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// FeatureColumns is the canonical, ordered list of model inputs.
var FeatureColumns = []string{
	features.ColLag1,
	features.ColLag7,
	features.ColRolling7,
	features.ColRolling28,
	features.ColDayOfWeek,
	features.ColMonth,
	features.ColPromotionDiscount,
	features.ColIsHoliday,
	features.ColItemID,
}

// Config selects the model family and its tuning.
type Config struct {
	ModelType string
	Fallback  string
	Params    model.Params
}

// Metrics is the summary persisted with each training run.
type Metrics struct {
	MAE       float64 `json:"mae"`
	WAPE      float64 `json:"wape"`
	ModelType string  `json:"model_type"`
}

// Result is the outcome of one training invocation.
type Result struct {
	RunID   string
	Model   *model.Model
	Metrics Metrics
	Samples int
}

// Trainer fits and publishes models.
type Trainer struct {
	store    store.Store
	registry *model.Registry
	slot     *model.Slot
	cfg      Config
	logger   *zap.Logger
	now      func() time.Time
}

// NewTrainer creates a trainer.
func NewTrainer(s store.Store, registry *model.Registry, slot *model.Slot, cfg Config, logger *zap.Logger) *Trainer {
	if cfg.Fallback == "" {
		cfg.Fallback = model.TypeLinear
	}
	return &Trainer{
		store:    s,
		registry: registry,
		slot:     slot,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
	}
}

// Train fits a model on table and overwrites the live artifact. With no
// usable labelled rows the model is fit on a single all-zero sample so the
// artifact is always loadable. Only a missing model capability, a failed fit
// or a failed artifact write are errors; the audit row is best effort.
func (t *Trainer) Train(ctx context.Context, table *features.Table) (*Result, error) {
	modelType, err := t.registry.Resolve(t.cfg.ModelType, t.cfg.Fallback)
	if err != nil {
		return nil, err
	}
	if modelType != t.cfg.ModelType {
		t.logger.Warn("preferred model unavailable, using fallback",
			zap.String("preferred", t.cfg.ModelType),
			zap.String("resolved", modelType),
		)
	}

	reg, err := t.registry.New(modelType, t.cfg.Params)
	if err != nil {
		return nil, err
	}

	cols := selectColumns(table)
	X, y := trainingSet(table, cols)
	if len(X) == 0 {
		t.logger.Warn("no labelled feature rows, fitting on a synthetic zero sample")
		X = [][]float64{make([]float64, len(cols))}
		y = []float64{0}
	} else {
		t.logger.Info("training on feature table",
			zap.Int("rows", len(X)),
			zap.Int("features", len(cols)),
			zap.String("model_type", modelType),
		)
	}

	if err := reg.Fit(X, y); err != nil {
		return nil, fmt.Errorf("fit %s: %w", modelType, err)
	}

	m := &model.Model{Regressor: reg, FeatureColumns: cols, TrainedAt: t.now().UTC()}
	if err := t.slot.Save(m); err != nil {
		return nil, fmt.Errorf("save model: %w", err)
	}
	t.logger.Info("model saved", zap.String("path", t.slot.Path()))

	if pred, err := reg.Predict(X); err == nil {
		t.logger.Debug("in-sample fit",
			zap.Float64("mae", MAE(y, pred)),
			zap.Float64("wape", WAPE(y, pred)),
		)
	}

	res := &Result{
		RunID:   uuid.Must(uuid.NewV7()).String(),
		Model:   m,
		Metrics: Metrics{ModelType: modelType},
		Samples: len(X),
	}
	t.recordRun(ctx, res)
	return res, nil
}

func (t *Trainer) recordRun(ctx context.Context, res *Result) {
	summary, err := json.Marshal(res.Metrics)
	if err != nil {
		t.logger.Warn("could not encode model run metrics", zap.Error(err))
		return
	}
	run := &store.ModelRun{
		RunID:     res.RunID,
		Timestamp: t.now().UTC().Format(time.RFC3339),
		Metrics:   string(summary),
		ModelType: res.Metrics.ModelType,
	}
	if err := t.store.InsertModelRun(ctx, run); err != nil {
		t.logger.Warn("could not log model run", zap.String("run_id", res.RunID), zap.Error(err))
		return
	}
	t.logger.Info("model run logged", zap.String("run_id", res.RunID))
}

// selectColumns keeps the canonical feature columns present in table, in
// canonical order. A table sharing none of them falls back to the full list.
func selectColumns(table *features.Table) []string {
	if table == nil {
		return append([]string(nil), FeatureColumns...)
	}
	var cols []string
	for _, c := range FeatureColumns {
		if table.Has(c) {
			cols = append(cols, c)
		}
	}
	if len(cols) == 0 {
		return append([]string(nil), FeatureColumns...)
	}
	return cols
}

// trainingSet extracts labelled rows. Missing feature values become 0; rows
// without a label are skipped, as is every row when the label column is absent.
func trainingSet(table *features.Table, cols []string) ([][]float64, []float64) {
	if table == nil || !table.Has(features.ColQuantity) {
		return nil, nil
	}
	var X [][]float64
	var y []float64
	for _, row := range table.Rows {
		label, ok := row.Value(features.ColQuantity)
		if !ok {
			continue
		}
		x := make([]float64, len(cols))
		for i, c := range cols {
			if v, ok := row.Value(c); ok {
				x[i] = v
			}
		}
		X = append(X, x)
		y = append(y, label)
	}
	return X, y
}
