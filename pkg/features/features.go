// Package features turns per-item daily sales history into a supervised
// learning table of lag, rolling, calendar and exogenous features.
package features

import (
	"fmt"
	"sort"

	"github.com/elonfeng/demandcast/internal/store"
	"github.com/elonfeng/demandcast/pkg/calendar"
	"go.uber.org/zap"
)

// Column names of the feature table.
const (
	ColDate              = "date"
	ColItemID            = "item_id"
	ColLag1              = "lag_1"
	ColLag7              = "lag_7"
	ColRolling7          = "rolling_7"
	ColRolling28         = "rolling_28"
	ColDayOfWeek         = "day_of_week"
	ColMonth             = "month"
	ColPromotionDiscount = "promotion_discount"
	ColIsHoliday         = "is_holiday"
	ColQuantity          = "quantity"
)

// Columns is the fixed column set of every table produced by Build.
var Columns = []string{
	ColDate, ColItemID,
	ColLag1, ColLag7, ColRolling7, ColRolling28,
	ColDayOfWeek, ColMonth,
	ColPromotionDiscount, ColIsHoliday,
	ColQuantity,
}

// Config holds the window sizes. Zero values fall back to 1/7 lags and 7/28 windows.
type Config struct {
	ShortLag    int
	LongLag     int
	ShortWindow int
	LongWindow  int
}

func (c Config) withDefaults() Config {
	if c.ShortLag <= 0 {
		c.ShortLag = 1
	}
	if c.LongLag <= 0 {
		c.LongLag = 7
	}
	if c.ShortWindow <= 0 {
		c.ShortWindow = 7
	}
	if c.LongWindow <= 0 {
		c.LongWindow = 28
	}
	return c
}

// Row is one (date, item) observation with its derived features.
// Quantity is the training label and is nil on inference rows.
type Row struct {
	Date              string
	ItemID            int64
	Lag1              float64
	Lag7              float64
	Rolling7          float64
	Rolling28         float64
	DayOfWeek         int
	Month             int
	PromotionDiscount float64
	IsHoliday         bool
	Quantity          *float64
}

// Value returns the numeric value of a feature column. ok is false for
// columns that are not numeric features (date) or a missing label.
func (r Row) Value(col string) (float64, bool) {
	switch col {
	case ColItemID:
		return float64(r.ItemID), true
	case ColLag1:
		return r.Lag1, true
	case ColLag7:
		return r.Lag7, true
	case ColRolling7:
		return r.Rolling7, true
	case ColRolling28:
		return r.Rolling28, true
	case ColDayOfWeek:
		return float64(r.DayOfWeek), true
	case ColMonth:
		return float64(r.Month), true
	case ColPromotionDiscount:
		return r.PromotionDiscount, true
	case ColIsHoliday:
		if r.IsHoliday {
			return 1, true
		}
		return 0, true
	case ColQuantity:
		if r.Quantity == nil {
			return 0, false
		}
		return *r.Quantity, true
	}
	return 0, false
}

// Table is a feature table. Columns names the columns present; Build always
// sets the full Columns list, other producers may carry a subset.
type Table struct {
	Columns []string
	Rows    []Row
}

// Has reports whether col is present in the table.
func (t *Table) Has(col string) bool {
	for _, c := range t.Columns {
		if c == col {
			return true
		}
	}
	return false
}

// Len returns the number of rows.
func (t *Table) Len() int { return len(t.Rows) }

// Builder computes feature tables.
type Builder struct {
	cfg    Config
	logger *zap.Logger
}

// NewBuilder creates a feature builder.
func NewBuilder(cfg Config, logger *zap.Logger) *Builder {
	return &Builder{cfg: cfg.withDefaults(), logger: logger}
}

// Build produces one feature row per input record. Records are grouped by
// item and ordered by date before lags and rolling means are taken, so
// features never mix items. Records with unparseable dates are an error.
func (b *Builder) Build(sales []store.SalesRecord) (*Table, error) {
	table := &Table{Columns: append([]string(nil), Columns...)}
	if len(sales) == 0 {
		b.logger.Info("no sales data, returning empty feature table")
		return table, nil
	}

	type obs struct {
		store.SalesRecord
		date string
	}
	groups := make(map[int64][]obs)
	var itemIDs []int64
	for _, rec := range sales {
		d, err := calendar.Canonical(rec.Date)
		if err != nil {
			return nil, fmt.Errorf("build features item %d: %w", rec.ItemID, err)
		}
		if _, ok := groups[rec.ItemID]; !ok {
			itemIDs = append(itemIDs, rec.ItemID)
		}
		groups[rec.ItemID] = append(groups[rec.ItemID], obs{SalesRecord: rec, date: d})
	}
	sort.Slice(itemIDs, func(i, j int) bool { return itemIDs[i] < itemIDs[j] })

	table.Rows = make([]Row, 0, len(sales))
	for _, id := range itemIDs {
		series := groups[id]
		sort.SliceStable(series, func(i, j int) bool { return series[i].date < series[j].date })

		qty := make([]float64, len(series))
		for i, o := range series {
			qty[i] = o.Quantity
		}
		short := NewWindow(b.cfg.ShortWindow)
		long := NewWindow(b.cfg.LongWindow)

		for i, o := range series {
			t, _ := calendar.Parse(o.date)
			short.Push(qty[i])
			long.Push(qty[i])
			label := qty[i]

			table.Rows = append(table.Rows, Row{
				Date:              o.date,
				ItemID:            id,
				Lag1:              lagAt(qty, i, b.cfg.ShortLag),
				Lag7:              lagAt(qty, i, b.cfg.LongLag),
				Rolling7:          short.Mean(),
				Rolling28:         long.Mean(),
				DayOfWeek:         calendar.Weekday(t),
				Month:             int(t.Month()),
				PromotionDiscount: o.Promotion(),
				IsHoliday:         o.Holiday(),
				Quantity:          &label,
			})
		}
	}

	b.logger.Info("feature building complete",
		zap.Int("rows", len(table.Rows)),
		zap.Int("items", len(itemIDs)),
	)
	return table, nil
}

// lagAt returns q[i-n], or 0 when the series has no such predecessor.
func lagAt(q []float64, i, n int) float64 {
	if i-n < 0 {
		return 0
	}
	return q[i-n]
}
