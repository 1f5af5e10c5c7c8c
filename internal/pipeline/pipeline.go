// Package pipeline runs one end-to-end forecasting pass.
package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/elonfeng/demandcast/internal/store"
	"github.com/elonfeng/demandcast/pkg/features"
	"github.com/elonfeng/demandcast/pkg/forecast"
	"github.com/elonfeng/demandcast/pkg/notify"
	"github.com/elonfeng/demandcast/pkg/training"
	"go.uber.org/zap"
)

// Mode selects which steps a run performs.
type Mode string

const (
	// ModePredict forecasts with the existing model.
	ModePredict Mode = "predict"
	// ModeRetrain refits the model before forecasting.
	ModeRetrain Mode = "retrain"
)

// ParseMode validates a mode name.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModePredict, ModeRetrain:
		return m, nil
	case "":
		return ModePredict, nil
	default:
		return "", fmt.Errorf("unknown pipeline mode %q (want predict or retrain)", s)
	}
}

// Broadcaster announces completed runs.
type Broadcaster interface {
	HasNotifiers() bool
	Broadcast(ctx context.Context, n *notify.Notification) error
}

// Report summarizes a pipeline run.
type Report struct {
	Mode        Mode              `json:"mode"`
	SalesRows   int               `json:"sales_rows"`
	FeatureRows int               `json:"feature_rows"`
	Training    *training.Metrics `json:"training,omitempty"`
	ModelRunID  string            `json:"model_run_id,omitempty"`
	RunID       string            `json:"run_id"`
	Forecasts   int               `json:"forecasts"`
}

// Runner wires the store, feature builder, trainer and generator together.
type Runner struct {
	store     store.Store
	builder   *features.Builder
	trainer   *training.Trainer
	generator *forecast.Generator
	notifier  Broadcaster
	logger    *zap.Logger
}

// New creates a pipeline runner. notifier may be nil.
func New(
	s store.Store,
	builder *features.Builder,
	trainer *training.Trainer,
	generator *forecast.Generator,
	notifier Broadcaster,
	logger *zap.Logger,
) *Runner {
	return &Runner{
		store:     s,
		builder:   builder,
		trainer:   trainer,
		generator: generator,
		notifier:  notifier,
		logger:    logger,
	}
}

// Run loads sales, builds features, optionally retrains and then forecasts.
// Unreadable sales degrade to an empty history; feature, training and
// forecast-write failures abort the run.
func (r *Runner) Run(ctx context.Context, mode Mode) (*Report, error) {
	rep := &Report{Mode: mode}

	r.step(1, "loading sales data")
	sales, err := r.store.ListSales(ctx, store.SalesListOpts{})
	if err != nil {
		r.logger.Warn("error loading sales data, continuing with empty history", zap.Error(err))
		sales = nil
	}
	rep.SalesRows = len(sales)
	r.logger.Info("sales loaded", zap.Int("rows", len(sales)))

	r.step(2, "building features")
	table, err := r.builder.Build(sales)
	if err != nil {
		return rep, fmt.Errorf("build features: %w", err)
	}
	rep.FeatureRows = table.Len()

	if mode == ModeRetrain {
		r.step(3, "training model")
		res, err := r.trainer.Train(ctx, table)
		if err != nil {
			return rep, fmt.Errorf("train model: %w", err)
		}
		rep.Training = &res.Metrics
		rep.ModelRunID = res.RunID
		r.logger.Info("training metrics",
			zap.Float64("mae", res.Metrics.MAE),
			zap.Float64("wape", res.Metrics.WAPE),
			zap.String("model_type", res.Metrics.ModelType),
		)
	}

	r.step(4, "generating forecasts")
	out, err := r.generator.Generate(ctx)
	if err != nil {
		return rep, fmt.Errorf("generate forecasts: %w", err)
	}
	rep.RunID = out.RunID
	rep.Forecasts = len(out.Forecasts)

	r.logger.Info("pipeline completed",
		zap.String("mode", string(mode)),
		zap.String("run_id", rep.RunID),
		zap.Int("forecasts", rep.Forecasts),
	)
	r.announce(ctx, rep)
	return rep, nil
}

func (r *Runner) step(n int, name string) {
	r.logger.Info(fmt.Sprintf("step %d: %s", n, name))
}

func (r *Runner) announce(ctx context.Context, rep *Report) {
	if r.notifier == nil || !r.notifier.HasNotifiers() {
		return
	}
	n := &notify.Notification{
		Title: "Demand forecast run complete",
		Body:  fmt.Sprintf("%d sales rows, %d feature rows", rep.SalesRows, rep.FeatureRows),
		Mode:  string(rep.Mode),
		RunID: rep.RunID,
		Count: rep.Forecasts,
	}
	if rep.Training != nil {
		n.ModelType = rep.Training.ModelType
	}
	if err := r.notifier.Broadcast(ctx, n); err != nil {
		r.logger.Warn("run notification failed", zap.Error(err))
	}
}
