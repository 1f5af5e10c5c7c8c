// Package ingest loads daily sales into the store from point-of-sale exports
// and generates synthetic history for demos.
package ingest

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/elonfeng/demandcast/internal/store"
	"github.com/elonfeng/demandcast/pkg/calendar"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// HIPOS export column positions.
const (
	colRef      = 0
	colName     = 1
	colQuantity = 8
)

// ItemStore is the part of the store ingestion writes to.
type ItemStore interface {
	ResolveItem(ctx context.Context, ref, name string) (int64, bool, error)
	UpsertSales(ctx context.Context, records []store.SalesRecord) error
}

// Report summarizes one import.
type Report struct {
	Date         string `json:"date"`
	Rows         int    `json:"rows"`
	Skipped      int    `json:"skipped"`
	ItemsCreated int    `json:"items_created"`
	Records      int    `json:"records"`
}

// Importer turns HIPOS sales exports into daily sales facts.
type Importer struct {
	store  ItemStore
	logger *zap.Logger
}

// NewImporter creates an importer writing to s.
func NewImporter(s ItemStore, logger *zap.Logger) *Importer {
	return &Importer{store: s, logger: logger}
}

// ImportFile reads a CSV or XLSX export and records its sales under date.
func (im *Importer) ImportFile(ctx context.Context, path, date string) (*Report, error) {
	rows, err := ReadFile(path)
	if err != nil {
		return nil, err
	}
	im.logger.Info("loaded sales export", zap.String("path", path), zap.Int("rows", len(rows)))
	return im.Import(ctx, rows, date)
}

// Import records the sales in rows (header first) under date.
//
// The sales column is negative for units sold; rows with a zero or positive
// value are skipped. Lines for the same item are summed into one fact with no
// promotion and no holiday.
func (im *Importer) Import(ctx context.Context, rows [][]string, date string) (*Report, error) {
	day, err := calendar.Parse(date)
	if err != nil {
		return nil, fmt.Errorf("invalid sales date %q, expected YYYY-MM-DD", date)
	}
	date = calendar.Format(day)

	rep := &Report{Date: date}
	if len(rows) > 0 {
		rows = rows[1:]
	}

	totals := make(map[int64]decimal.Decimal)
	resolved := make(map[string]int64)

	for i, row := range rows {
		rep.Rows++
		ref := cell(row, colRef)
		if ref == "" || strings.EqualFold(ref, "nan") {
			rep.Skipped++
			continue
		}
		name := cell(row, colName)
		if name == "" {
			name = ref
		}

		venta, err := ParseNumber(cell(row, colQuantity))
		if err != nil {
			im.logger.Warn("skipping row", zap.Int("row", i+2), zap.String("ref", ref), zap.Error(err))
			rep.Skipped++
			continue
		}
		if !venta.IsNegative() {
			rep.Skipped++
			continue
		}

		id, ok := resolved[ref]
		if !ok {
			var created bool
			id, created, err = im.store.ResolveItem(ctx, ref, fmt.Sprintf("%s (%s)", name, ref))
			if err != nil {
				im.logger.Warn("skipping row", zap.Int("row", i+2), zap.String("ref", ref), zap.Error(err))
				rep.Skipped++
				continue
			}
			if created {
				rep.ItemsCreated++
			}
			resolved[ref] = id
		}
		totals[id] = totals[id].Add(venta.Abs())
	}

	ids := make([]int64, 0, len(totals))
	for id := range totals {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	records := make([]store.SalesRecord, 0, len(ids))
	for _, id := range ids {
		records = append(records, store.SalesRecord{
			Date:     date,
			ItemID:   id,
			Quantity: totals[id].InexactFloat64(),
		}.WithExogenous(0, false))
	}
	if err := im.store.UpsertSales(ctx, records); err != nil {
		return rep, fmt.Errorf("write sales for %s: %w", date, err)
	}
	rep.Records = len(records)

	im.logger.Info("imported sales",
		zap.String("date", date),
		zap.Int("items_created", rep.ItemsCreated),
		zap.Int("records", rep.Records),
		zap.Int("skipped", rep.Skipped),
	)
	return rep, nil
}

func cell(row []string, i int) string {
	if i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}
