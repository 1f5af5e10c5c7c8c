// Package forecast predicts per-item demand for the upcoming horizon using
// the live model artifact.
package forecast

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/elonfeng/demandcast/internal/store"
	"github.com/elonfeng/demandcast/pkg/calendar"
	"github.com/elonfeng/demandcast/pkg/features"
	"github.com/elonfeng/demandcast/pkg/model"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Result is the output of one forecast invocation. RunID is empty when no
// forecasts were produced.
type Result struct {
	RunID     string
	Forecasts []store.Forecast
}

// Generator builds inference-time features for future dates and runs the
// live model over them.
type Generator struct {
	store   store.Store
	slot    *model.Slot
	builder *features.Builder
	horizon int
	logger  *zap.Logger
	now     func() time.Time
}

// NewGenerator creates a forecast generator for horizon days starting today.
func NewGenerator(s store.Store, slot *model.Slot, builder *features.Builder, horizon int, logger *zap.Logger) *Generator {
	return &Generator{
		store:   s,
		slot:    slot,
		builder: builder,
		horizon: horizon,
		logger:  logger,
		now:     time.Now,
	}
}

// WithClock overrides the source of "today".
func (g *Generator) WithClock(now func() time.Time) *Generator {
	g.now = now
	return g
}

type exoKey struct {
	date string
	item int64
}

// Generate forecasts every registered item for each date in the horizon and
// persists them under a fresh run id.
//
// Lag and rolling features come from observed history before today only and
// are the same for every date in the horizon; earlier forecasts of the run are
// never fed back. A missing model, no items or unreadable history degrade to
// an empty or zero-history result rather than an error. A failed prediction
// becomes 0 for that (date, item). Only a failed forecast write is an error.
func (g *Generator) Generate(ctx context.Context) (*Result, error) {
	empty := &Result{}

	m, err := g.slot.Load()
	if err != nil {
		if errors.Is(err, model.ErrNoArtifact) {
			g.logger.Error("model not found, returning empty forecasts", zap.String("path", g.slot.Path()))
		} else {
			g.logger.Error("error loading model, returning empty forecasts", zap.Error(err))
		}
		return empty, nil
	}
	g.logger.Info("model loaded", zap.String("model_type", m.Type()))

	today := calendar.Today(g.now())
	dates, err := calendar.Range(today, g.horizon)
	if err != nil || len(dates) == 0 {
		g.logger.Warn("empty forecast horizon", zap.Int("horizon", g.horizon), zap.Error(err))
		return empty, nil
	}

	itemIDs, err := g.store.ListItemIDs(ctx)
	if err != nil {
		g.logger.Warn("error loading items, returning empty forecasts", zap.Error(err))
		return empty, nil
	}
	if len(itemIDs) == 0 {
		g.logger.Warn("no items found, returning empty forecasts")
		return empty, nil
	}

	history := g.loadHistory(ctx, today)
	exo := g.loadExogenous(ctx, dates)

	forecasts := make([]store.Forecast, 0, len(dates)*len(itemIDs))
	for _, date := range dates {
		t, _ := calendar.Parse(date)
		for _, id := range itemIDs {
			tail := g.builder.TailOf(history[id])
			x := exo[exoKey{date, id}]

			row := features.Row{
				Date:              date,
				ItemID:            id,
				Lag1:              tail.Lag1,
				Lag7:              tail.Lag7,
				Rolling7:          tail.Rolling7,
				Rolling28:         tail.Rolling28,
				DayOfWeek:         calendar.Weekday(t),
				Month:             int(t.Month()),
				PromotionDiscount: x.PromotionDiscount,
				IsHoliday:         x.IsHoliday,
			}

			forecasts = append(forecasts, store.Forecast{
				Date:              date,
				ItemID:            id,
				PredictedQuantity: g.predict(m, row),
			})
		}
	}

	runID := uuid.Must(uuid.NewV7()).String()
	for i := range forecasts {
		forecasts[i].RunID = runID
	}

	res := &Result{RunID: runID, Forecasts: forecasts}
	if err := g.store.UpsertForecasts(ctx, forecasts); err != nil {
		return res, err
	}

	g.logger.Info("forecasts written",
		zap.String("run_id", runID),
		zap.Int("forecasts", len(forecasts)),
		zap.Int("items", len(itemIDs)),
		zap.Int("horizon", len(dates)),
	)
	return res, nil
}

// predict runs the model on one row, substituting 0 on failure and clamping
// the result to be non-negative.
func (g *Generator) predict(m *model.Model, row features.Row) float64 {
	v, err := m.PredictRow(row)
	if err != nil {
		g.logger.Warn("error predicting",
			zap.Int64("item_id", row.ItemID),
			zap.String("date", row.Date),
			zap.Error(err),
		)
		return 0
	}
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	return v
}

// loadHistory returns each item's observed quantities before today, oldest first.
func (g *Generator) loadHistory(ctx context.Context, today string) map[int64][]float64 {
	records, err := g.store.ListSales(ctx, store.SalesListOpts{Before: today})
	if err != nil {
		g.logger.Warn("error loading sales history, forecasting without history", zap.Error(err))
		return nil
	}
	history := make(map[int64][]float64)
	for _, r := range records {
		history[r.ItemID] = append(history[r.ItemID], r.Quantity)
	}
	return history
}

// loadExogenous returns promotion/holiday values staged for the horizon.
func (g *Generator) loadExogenous(ctx context.Context, dates []string) map[exoKey]store.Exogenous {
	rows, err := g.store.ExogenousFor(ctx, dates)
	if err != nil {
		g.logger.Warn("could not load promotion/holiday data for forecast dates", zap.Error(err))
		return nil
	}
	exo := make(map[exoKey]store.Exogenous, len(rows))
	for _, r := range rows {
		exo[exoKey{r.Date, r.ItemID}] = r
	}
	return exo
}
