package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// Item is a sellable product.
type Item struct {
	ID        int64  `db:"id" json:"id"`
	Name      string `db:"name" json:"name"`
	CreatedAt string `db:"created_at" json:"created_at"`
}

// SalesRecord is one daily sales fact. The exogenous columns are nullable in
// storage; consumers fill NULLs with 0 / false.
type SalesRecord struct {
	Date              string          `db:"date"`
	ItemID            int64           `db:"item_id"`
	Quantity          float64         `db:"quantity"`
	PromotionDiscount sql.NullFloat64 `db:"promotion_discount"`
	IsHoliday         sql.NullBool    `db:"is_holiday"`
}

// Promotion returns the discount, 0 when unset.
func (r SalesRecord) Promotion() float64 {
	if r.PromotionDiscount.Valid {
		return r.PromotionDiscount.Float64
	}
	return 0
}

// Holiday returns the holiday flag, false when unset.
func (r SalesRecord) Holiday() bool {
	return r.IsHoliday.Valid && r.IsHoliday.Bool
}

// MarshalJSON renders the record with NULL exogenous values filled in.
func (r SalesRecord) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Date              string  `json:"date"`
		ItemID            int64   `json:"item_id"`
		Quantity          float64 `json:"quantity"`
		PromotionDiscount float64 `json:"promotion_discount"`
		IsHoliday         bool    `json:"is_holiday"`
	}{r.Date, r.ItemID, r.Quantity, r.Promotion(), r.Holiday()})
}

// WithExogenous returns r with promotion and holiday set explicitly.
func (r SalesRecord) WithExogenous(promotion float64, holiday bool) SalesRecord {
	r.PromotionDiscount = sql.NullFloat64{Float64: promotion, Valid: true}
	r.IsHoliday = sql.NullBool{Bool: holiday, Valid: true}
	return r
}

// Exogenous holds promotion/holiday values staged for a (date, item).
type Exogenous struct {
	Date              string  `db:"date"`
	ItemID            int64   `db:"item_id"`
	PromotionDiscount float64 `db:"promotion_discount"`
	IsHoliday         bool    `db:"is_holiday"`
}

// Forecast is a predicted quantity for one (date, item) within a run.
type Forecast struct {
	Date              string  `db:"date" json:"date"`
	ItemID            int64   `db:"item_id" json:"item_id"`
	PredictedQuantity float64 `db:"predicted_quantity" json:"predicted_quantity"`
	RunID             string  `db:"run_id" json:"run_id"`
}

// ModelRun is one row of the training audit log.
type ModelRun struct {
	RunID     string `db:"run_id" json:"run_id"`
	Timestamp string `db:"timestamp" json:"timestamp"`
	Metrics   string `db:"metrics" json:"metrics"`
	ModelType string `db:"model_type" json:"model_type"`
}

// SalesListOpts controls sales listing.
type SalesListOpts struct {
	ItemID int64
	Before string // exclusive upper bound on date
	Limit  int
	Desc   bool
}

// ForecastListOpts controls forecast listing. An empty RunID lists every run.
type ForecastListOpts struct {
	RunID string
	Limit int
}

// Summary is a row count overview of the store.
type Summary struct {
	Items        int    `json:"items"`
	SalesRows    int    `json:"sales_rows"`
	FirstSale    string `json:"first_sale"`
	LastSale     string `json:"last_sale"`
	Forecasts    int    `json:"forecasts"`
	ForecastRuns int    `json:"forecast_runs"`
	ModelRuns    int    `json:"model_runs"`
}

// Store is the persistence interface.
type Store interface {
	UpsertItem(ctx context.Context, item *Item) error
	ResolveItem(ctx context.Context, ref, name string) (int64, bool, error)
	ListItems(ctx context.Context) ([]Item, error)
	ListItemIDs(ctx context.Context) ([]int64, error)

	UpsertSales(ctx context.Context, records []SalesRecord) error
	ListSales(ctx context.Context, opts SalesListOpts) ([]SalesRecord, error)
	ExogenousFor(ctx context.Context, dates []string) ([]Exogenous, error)

	UpsertForecasts(ctx context.Context, forecasts []Forecast) error
	ListForecasts(ctx context.Context, opts ForecastListOpts) ([]Forecast, error)
	LatestForecastRunID(ctx context.Context) (string, error)

	InsertModelRun(ctx context.Context, run *ModelRun) error
	ListModelRuns(ctx context.Context, limit int) ([]ModelRun, error)

	Summarize(ctx context.Context) (*Summary, error)
	Close() error
}

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sqlx.DB
}

// New opens a SQLite database, creating its parent directory, and runs migrations.
func New(path string) (*SQLiteStore, error) {
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create db dir %s: %w", dir, err)
			}
		}
	}

	dsn := path + "?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// Single writer; also keeps :memory: databases on one connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// NewWithDB wraps an existing handle without running migrations.
func NewWithDB(db *sqlx.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) UpsertItem(ctx context.Context, item *Item) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO items (id, name) VALUES (?, ?)
		ON CONFLICT(id) DO NOTHING
	`, item.ID, item.Name)
	if err != nil {
		return fmt.Errorf("upsert item %d: %w", item.ID, err)
	}
	return nil
}

// ResolveItem finds the item whose name contains ref, or registers a new one.
// A numeric ref doubles as the item id; otherwise the next free id is used.
// The bool result reports whether a new item was created.
func (s *SQLiteStore) ResolveItem(ctx context.Context, ref, name string) (int64, bool, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, false, fmt.Errorf("begin resolve item: %w", err)
	}
	defer tx.Rollback()

	var id int64
	err = tx.GetContext(ctx, &id, "SELECT id FROM items WHERE name LIKE ? ORDER BY id LIMIT 1", "%"+ref+"%")
	switch {
	case err == nil:
		return id, false, tx.Commit()
	case !errors.Is(err, sql.ErrNoRows):
		return 0, false, fmt.Errorf("find item %q: %w", ref, err)
	}

	if n, convErr := strconv.ParseInt(strings.TrimSpace(ref), 10, 64); convErr == nil {
		id = n
	} else if err := tx.GetContext(ctx, &id, "SELECT COALESCE(MAX(id), 0) + 1 FROM items"); err != nil {
		return 0, false, fmt.Errorf("next item id: %w", err)
	}

	res, err := tx.ExecContext(ctx, "INSERT OR IGNORE INTO items (id, name) VALUES (?, ?)", id, name)
	if err != nil {
		return 0, false, fmt.Errorf("insert item %d: %w", id, err)
	}
	affected, _ := res.RowsAffected()

	if err := tx.Commit(); err != nil {
		return 0, false, fmt.Errorf("commit resolve item: %w", err)
	}
	return id, affected > 0, nil
}

func (s *SQLiteStore) ListItems(ctx context.Context) ([]Item, error) {
	var items []Item
	if err := s.db.SelectContext(ctx, &items, "SELECT id, name, COALESCE(created_at, '') AS created_at FROM items ORDER BY id"); err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	return items, nil
}

func (s *SQLiteStore) ListItemIDs(ctx context.Context) ([]int64, error) {
	var ids []int64
	if err := s.db.SelectContext(ctx, &ids, "SELECT id FROM items ORDER BY id"); err != nil {
		return nil, fmt.Errorf("list item ids: %w", err)
	}
	return ids, nil
}

// UpsertSales writes all records in one transaction; a record replaces any
// existing fact with the same (date, item_id).
func (s *SQLiteStore) UpsertSales(ctx context.Context, records []SalesRecord) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin upsert sales: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PreparexContext(ctx, `
		INSERT INTO daily_item_sales (date, item_id, quantity, promotion_discount, is_holiday)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(date, item_id) DO UPDATE SET
			quantity = excluded.quantity,
			promotion_discount = excluded.promotion_discount,
			is_holiday = excluded.is_holiday
	`)
	if err != nil {
		return fmt.Errorf("prepare upsert sales: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		if r.Quantity < 0 {
			return fmt.Errorf("sales %s/%d: negative quantity %v", r.Date, r.ItemID, r.Quantity)
		}
		if _, err := stmt.ExecContext(ctx, r.Date, r.ItemID, r.Quantity, r.PromotionDiscount, r.IsHoliday); err != nil {
			return fmt.Errorf("upsert sales %s/%d: %w", r.Date, r.ItemID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit upsert sales: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListSales(ctx context.Context, opts SalesListOpts) ([]SalesRecord, error) {
	query := "SELECT date, item_id, quantity, promotion_discount, is_holiday FROM daily_item_sales WHERE 1=1"
	var args []any

	if opts.ItemID > 0 {
		query += " AND item_id = ?"
		args = append(args, opts.ItemID)
	}
	if opts.Before != "" {
		query += " AND date < ?"
		args = append(args, opts.Before)
	}

	if opts.Desc {
		query += " ORDER BY date DESC, item_id"
	} else {
		query += " ORDER BY date, item_id"
	}

	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
	}

	var records []SalesRecord
	if err := s.db.SelectContext(ctx, &records, query, args...); err != nil {
		return nil, fmt.Errorf("list sales: %w", err)
	}
	return records, nil
}

// ExogenousFor returns promotion/holiday values staged under any of dates.
func (s *SQLiteStore) ExogenousFor(ctx context.Context, dates []string) ([]Exogenous, error) {
	if len(dates) == 0 {
		return nil, nil
	}

	query, args, err := sqlx.In(`
		SELECT date, item_id,
			COALESCE(promotion_discount, 0) AS promotion_discount,
			COALESCE(is_holiday, 0) AS is_holiday
		FROM daily_item_sales WHERE date IN (?)
	`, dates)
	if err != nil {
		return nil, fmt.Errorf("build exogenous query: %w", err)
	}

	var rows []Exogenous
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("list exogenous: %w", err)
	}
	return rows, nil
}

// UpsertForecasts writes a whole batch in one transaction, replacing rows
// with an identical (date, item_id, run_id) key.
func (s *SQLiteStore) UpsertForecasts(ctx context.Context, forecasts []Forecast) error {
	if len(forecasts) == 0 {
		return nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin upsert forecasts: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareNamedContext(ctx, `
		INSERT INTO forecasts (date, item_id, predicted_quantity, run_id)
		VALUES (:date, :item_id, :predicted_quantity, :run_id)
		ON CONFLICT(date, item_id, run_id) DO UPDATE SET
			predicted_quantity = excluded.predicted_quantity
	`)
	if err != nil {
		return fmt.Errorf("prepare upsert forecasts: %w", err)
	}
	defer stmt.Close()

	for i := range forecasts {
		if _, err := stmt.ExecContext(ctx, &forecasts[i]); err != nil {
			return fmt.Errorf("upsert forecast %s/%d: %w", forecasts[i].Date, forecasts[i].ItemID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit upsert forecasts: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListForecasts(ctx context.Context, opts ForecastListOpts) ([]Forecast, error) {
	query := "SELECT date, item_id, predicted_quantity, run_id FROM forecasts WHERE 1=1"
	var args []any

	if opts.RunID != "" {
		query += " AND run_id = ?"
		args = append(args, opts.RunID)
	}

	query += " ORDER BY run_id DESC, date, item_id"

	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
	}

	var forecasts []Forecast
	if err := s.db.SelectContext(ctx, &forecasts, query, args...); err != nil {
		return nil, fmt.Errorf("list forecasts: %w", err)
	}
	return forecasts, nil
}

// LatestForecastRunID returns the newest run id, or "" when no forecasts exist.
// Run ids are time-ordered UUIDs so lexical order is creation order.
func (s *SQLiteStore) LatestForecastRunID(ctx context.Context) (string, error) {
	var runID string
	err := s.db.GetContext(ctx, &runID, "SELECT run_id FROM forecasts ORDER BY run_id DESC LIMIT 1")
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("latest forecast run: %w", err)
	}
	return runID, nil
}

func (s *SQLiteStore) InsertModelRun(ctx context.Context, run *ModelRun) error {
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO model_runs (run_id, timestamp, metrics, model_type)
		VALUES (:run_id, :timestamp, :metrics, :model_type)
	`, run)
	if err != nil {
		return fmt.Errorf("insert model run %s: %w", run.RunID, err)
	}
	return nil
}

func (s *SQLiteStore) ListModelRuns(ctx context.Context, limit int) ([]ModelRun, error) {
	if limit <= 0 {
		limit = 10
	}
	var runs []ModelRun
	err := s.db.SelectContext(ctx, &runs,
		`SELECT run_id, COALESCE(timestamp, '') AS timestamp, COALESCE(metrics, '') AS metrics,
			COALESCE(model_type, '') AS model_type
		FROM model_runs ORDER BY timestamp DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list model runs: %w", err)
	}
	return runs, nil
}

func (s *SQLiteStore) Summarize(ctx context.Context) (*Summary, error) {
	var sum Summary
	err := s.db.QueryRowxContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM items),
			(SELECT COUNT(*) FROM daily_item_sales),
			(SELECT COALESCE(MIN(date), '') FROM daily_item_sales),
			(SELECT COALESCE(MAX(date), '') FROM daily_item_sales),
			(SELECT COUNT(*) FROM forecasts),
			(SELECT COUNT(DISTINCT run_id) FROM forecasts),
			(SELECT COUNT(*) FROM model_runs)
	`).Scan(&sum.Items, &sum.SalesRows, &sum.FirstSale, &sum.LastSale, &sum.Forecasts, &sum.ForecastRuns, &sum.ModelRuns)
	if err != nil {
		return nil, fmt.Errorf("summarize store: %w", err)
	}
	return &sum, nil
}
