package db

import (
	"database/sql"
	"fmt"
)

const schema = `
PRAGMA journal_mode=WAL;

CREATE TABLE IF NOT EXISTS processed_events (
    kind TEXT NOT NULL,
    event_id TEXT NOT NULL,
    ticket INTEGER NOT NULL,
    origin TEXT NOT NULL,
    created_at DATETIME NOT NULL,
    PRIMARY KEY (kind, event_id)
);

CREATE TABLE IF NOT EXISTS executions (
    id TEXT PRIMARY KEY,
    kind TEXT NOT NULL,
    action TEXT NOT NULL,
    symbol TEXT NOT NULL,
    side TEXT NOT NULL,
    ticket INTEGER DEFAULT 0,
    volume REAL NOT NULL,
    requested_price REAL DEFAULT 0,
    fill_price REAL DEFAULT 0,
    slippage REAL DEFAULT 0,
    latency_ms REAL DEFAULT 0,
    error_code INTEGER DEFAULT 0,
    comment TEXT,
    created_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_executions_created_at ON executions(created_at);

CREATE TABLE IF NOT EXISTS closed_deals (
    position_id INTEGER PRIMARY KEY,
    symbol TEXT NOT NULL,
    side TEXT NOT NULL,
    volume REAL NOT NULL,
    exit_price REAL NOT NULL,
    profit REAL NOT NULL,
    magic INTEGER NOT NULL,
    origin TEXT NOT NULL,
    closed_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS risk_metrics (
    date TEXT PRIMARY KEY,
    daily_start_equity REAL NOT NULL,
    daily_pnl REAL NOT NULL,
    peak_equity REAL NOT NULL,
    max_drawdown REAL NOT NULL,
    trading_enabled INTEGER NOT NULL,
    updated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS performance_snapshots (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    equity REAL NOT NULL,
    balance REAL NOT NULL,
    margin REAL,
    free_margin REAL,
    daily_pnl REAL,
    open_positions INTEGER,
    total_trades INTEGER,
    latency_p95_ms REAL,
    drawdown REAL,
    created_at DATETIME NOT NULL
);
`

// ApplyMigrations creates tables if they do not exist.
func ApplyMigrations(d *Database) error {
	if d == nil || d.DB == nil {
		return fmt.Errorf("database not initialized")
	}
	if _, err := d.DB.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}

	// Columns added after the first release.
	if err := ensureColumn(d.DB, "executions", "error_description", "TEXT DEFAULT ''"); err != nil {
		return err
	}
	if err := ensureColumn(d.DB, "closed_deals", "entry_price", "REAL DEFAULT 0"); err != nil {
		return err
	}
	return nil
}

// ensureColumn adds a column if it does not already exist.
func ensureColumn(db *sql.DB, table, column, definition string) error {
	exists, err := columnExists(db, table, column)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	alter := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, column, definition)
	if _, err := db.Exec(alter); err != nil {
		return fmt.Errorf("alter table %s add column %s: %w", table, column, err)
	}
	return nil
}

func columnExists(db *sql.DB, table, column string) (bool, error) {
	rows, err := db.Query("PRAGMA table_info(" + table + ")")
	if err != nil {
		return false, fmt.Errorf("pragma table_info(%s): %w", table, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid        int
			name       string
			colType    string
			notNull    int
			defaultVal sql.NullString
			pk         int
		)
		if err := rows.Scan(&cid, &name, &colType, &notNull, &defaultVal, &pk); err != nil {
			return false, err
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}

var requiredTables = []string{
	"processed_events",
	"executions",
	"closed_deals",
	"risk_metrics",
	"performance_snapshots",
}

// MissingTables lists the bot tables absent from the database, in schema order.
func MissingTables(d *Database) ([]string, error) {
	if d == nil || d.DB == nil {
		return nil, fmt.Errorf("database not initialized")
	}
	var missing []string
	for _, name := range requiredTables {
		var found string
		err := d.DB.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", name).Scan(&found)
		if err == sql.ErrNoRows {
			missing = append(missing, name)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("lookup table %s: %w", name, err)
		}
	}
	return missing, nil
}
