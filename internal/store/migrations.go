package store

const schema = `
CREATE TABLE IF NOT EXISTS items (
    id         INTEGER PRIMARY KEY,
    name       TEXT NOT NULL,
    created_at TEXT DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS daily_item_sales (
    date               TEXT NOT NULL,
    item_id            INTEGER NOT NULL,
    quantity           REAL NOT NULL CHECK (quantity >= 0),
    promotion_discount REAL DEFAULT 0,
    is_holiday         INTEGER DEFAULT 0,
    PRIMARY KEY (date, item_id),
    FOREIGN KEY (item_id) REFERENCES items(id)
);

CREATE INDEX IF NOT EXISTS idx_sales_item_date ON daily_item_sales(item_id, date);

CREATE TABLE IF NOT EXISTS forecasts (
    date               TEXT NOT NULL,
    item_id            INTEGER NOT NULL,
    predicted_quantity REAL NOT NULL,
    run_id             TEXT NOT NULL,
    PRIMARY KEY (date, item_id, run_id),
    FOREIGN KEY (item_id) REFERENCES items(id)
);

CREATE INDEX IF NOT EXISTS idx_forecasts_run ON forecasts(run_id);

CREATE TABLE IF NOT EXISTS model_runs (
    run_id     TEXT PRIMARY KEY,
    timestamp  TEXT DEFAULT CURRENT_TIMESTAMP,
    metrics    TEXT,
    model_type TEXT
);
`
