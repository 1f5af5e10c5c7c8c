package ingest

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/elonfeng/demandcast/internal/store"
	"github.com/elonfeng/demandcast/pkg/calendar"
	"go.uber.org/zap"
)

// SampleStore is the part of the store the sample generator writes to.
type SampleStore interface {
	UpsertItem(ctx context.Context, item *store.Item) error
	UpsertSales(ctx context.Context, records []store.SalesRecord) error
}

// SampleOptions controls synthetic history generation.
type SampleOptions struct {
	Items int
	Days  int
	Now   time.Time
	Seed  int64
}

func (o SampleOptions) withDefaults() SampleOptions {
	if o.Items <= 0 {
		o.Items = 3
	}
	if o.Days <= 0 {
		o.Days = 60
	}
	if o.Now.IsZero() {
		o.Now = time.Now()
	}
	return o
}

// Sample writes Days of synthetic history ending yesterday for items
// 1..Items. Demand grows with the item id, rises on weekends, promotions and
// holidays, and carries ±30% noise. It returns the number of facts written.
func Sample(ctx context.Context, s SampleStore, opts SampleOptions, logger *zap.Logger) (int, error) {
	opts = opts.withDefaults()
	rng := rand.New(rand.NewSource(opts.Seed))

	for i := 1; i <= opts.Items; i++ {
		if err := s.UpsertItem(ctx, &store.Item{ID: int64(i), Name: fmt.Sprintf("Item_%d", i)}); err != nil {
			return 0, err
		}
	}

	today := calendar.Today(opts.Now)
	t, _ := calendar.Parse(today)

	records := make([]store.SalesRecord, 0, opts.Items*opts.Days)
	for offset := opts.Days; offset > 0; offset-- {
		day := t.AddDate(0, 0, -offset)
		weekend := calendar.Weekday(day) >= 5

		holiday := rng.Float64() < 0.1 ||
			(weekend && rng.Float64() < 0.2) ||
			(day.Day() >= 28 && rng.Float64() < 0.15)

		for item := 1; item <= opts.Items; item++ {
			promo := 0.0
			if rng.Float64() < 0.15 {
				promo = math.Round((10+rng.Float64()*20)*10) / 10
			}

			q := float64(10 + item*5)
			if weekend {
				q *= 1.5
			}
			q *= 1 + promo/100*0.5
			if holiday {
				q *= 1.1
			}
			q *= 0.7 + rng.Float64()*0.6

			records = append(records, store.SalesRecord{
				Date:     calendar.Format(day),
				ItemID:   int64(item),
				Quantity: math.Max(0, math.Floor(q)),
			}.WithExogenous(promo, holiday))
		}
	}

	if err := s.UpsertSales(ctx, records); err != nil {
		return 0, err
	}
	logger.Info("created sample sales",
		zap.Int("items", opts.Items),
		zap.Int("days", opts.Days),
		zap.Int("records", len(records)),
	)
	return len(records), nil
}
