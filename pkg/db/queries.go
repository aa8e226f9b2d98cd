package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

var ErrNotFound = errors.New("record not found")

// ProcessedEvent is one entry of the reconciler's processed-event log.
type ProcessedEvent struct {
	Kind      string // "position" or "deal"
	EventID   string
	Ticket    uint64
	Origin    string
	CreatedAt time.Time
}

// Execution journals one order attempt.
type Execution struct {
	ID               string    `json:"id"`
	Kind             string    `json:"kind"`
	Action           string    `json:"action"`
	Symbol           string    `json:"symbol"`
	Side             string    `json:"side"`
	Ticket           uint64    `json:"ticket"`
	Volume           float64   `json:"volume"`
	RequestedPrice   float64   `json:"requested_price"`
	FillPrice        float64   `json:"fill_price"`
	Slippage         float64   `json:"slippage"`
	LatencyMs        float64   `json:"latency_ms"`
	ErrorCode        int       `json:"error_code"`
	ErrorDescription string    `json:"error_description"`
	Comment          string    `json:"comment"`
	CreatedAt        time.Time `json:"created_at"`
}

// ClosedDeal journals a notified position close.
type ClosedDeal struct {
	PositionID uint64    `json:"position_id"`
	Symbol     string    `json:"symbol"`
	Side       string    `json:"side"`
	Volume     float64   `json:"volume"`
	EntryPrice float64   `json:"entry_price"`
	ExitPrice  float64   `json:"exit_price"`
	Profit     float64   `json:"profit"`
	Magic      int64     `json:"magic"`
	Origin     string    `json:"origin"`
	ClosedAt   time.Time `json:"closed_at"`
}

// RiskMetrics is the per-day risk state row.
type RiskMetrics struct {
	Date             string
	DailyStartEquity float64
	DailyPnL         float64
	PeakEquity       float64
	MaxDrawdown      float64
	TradingEnabled   bool
	UpdatedAt        time.Time
}

// PerformanceSnapshot is written by the scheduler once a minute.
type PerformanceSnapshot struct {
	ID            int64
	Equity        float64
	Balance       float64
	Margin        float64
	FreeMargin    float64
	DailyPnL      float64
	OpenPositions int
	TotalTrades   int
	LatencyP95Ms  float64
	Drawdown      float64
	CreatedAt     time.Time
}

// ----------------------------------------
// Processed events
// ----------------------------------------

// InsertProcessedEvent records an event id. Re-inserting an id is a no-op.
func (d *Database) InsertProcessedEvent(ctx context.Context, e ProcessedEvent) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	_, err := d.DB.ExecContext(ctx, `
		INSERT OR IGNORE INTO processed_events (kind, event_id, ticket, origin, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, e.Kind, e.EventID, int64(e.Ticket), e.Origin, e.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert processed event: %w", err)
	}
	return nil
}

// ListProcessedEvents returns every stored event id.
func (d *Database) ListProcessedEvents(ctx context.Context) ([]ProcessedEvent, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT kind, event_id, ticket, origin, created_at
		FROM processed_events
		ORDER BY created_at
	`)
	if err != nil {
		return nil, fmt.Errorf("query processed events: %w", err)
	}
	defer rows.Close()

	var out []ProcessedEvent
	for rows.Next() {
		var (
			e      ProcessedEvent
			ticket int64
		)
		if err := rows.Scan(&e.Kind, &e.EventID, &ticket, &e.Origin, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan processed event: %w", err)
		}
		e.Ticket = uint64(ticket)
		out = append(out, e)
	}
	return out, rows.Err()
}

// ClearProcessedEvents drops the whole log.
func (d *Database) ClearProcessedEvents(ctx context.Context) error {
	if _, err := d.DB.ExecContext(ctx, `DELETE FROM processed_events`); err != nil {
		return fmt.Errorf("clear processed events: %w", err)
	}
	return nil
}

// DeleteProcessedEvents removes the given ids of one kind.
func (d *Database) DeleteProcessedEvents(ctx context.Context, kind string, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tx, err := d.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin delete processed events: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `DELETE FROM processed_events WHERE kind = ? AND event_id = ?`)
	if err != nil {
		return 0, fmt.Errorf("prepare delete processed events: %w", err)
	}
	defer stmt.Close()

	var total int64
	for _, id := range ids {
		res, err := stmt.ExecContext(ctx, kind, id)
		if err != nil {
			return 0, fmt.Errorf("delete processed event %s: %w", id, err)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit delete processed events: %w", err)
	}
	return total, nil
}

// ----------------------------------------
// Executions
// ----------------------------------------

// InsertExecution journals an order attempt.
func (d *Database) InsertExecution(ctx context.Context, e Execution) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO executions (id, kind, action, symbol, side, ticket, volume, requested_price,
			fill_price, slippage, latency_ms, error_code, error_description, comment, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, e.ID, e.Kind, e.Action, e.Symbol, e.Side, int64(e.Ticket), e.Volume, e.RequestedPrice,
		e.FillPrice, e.Slippage, e.LatencyMs, e.ErrorCode, e.ErrorDescription, e.Comment, e.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert execution: %w", err)
	}
	return nil
}

// ListExecutions returns the most recent executions, newest first.
func (d *Database) ListExecutions(ctx context.Context, limit int) ([]Execution, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := d.DB.QueryContext(ctx, `
		SELECT id, kind, action, symbol, side, ticket, volume, requested_price, fill_price,
			slippage, latency_ms, error_code, COALESCE(error_description, ''), COALESCE(comment, ''), created_at
		FROM executions
		ORDER BY created_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query executions: %w", err)
	}
	defer rows.Close()

	var out []Execution
	for rows.Next() {
		var (
			e      Execution
			ticket int64
		)
		if err := rows.Scan(&e.ID, &e.Kind, &e.Action, &e.Symbol, &e.Side, &ticket, &e.Volume,
			&e.RequestedPrice, &e.FillPrice, &e.Slippage, &e.LatencyMs, &e.ErrorCode,
			&e.ErrorDescription, &e.Comment, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan execution: %w", err)
		}
		e.Ticket = uint64(ticket)
		out = append(out, e)
	}
	return out, rows.Err()
}

// ----------------------------------------
// Closed deals
// ----------------------------------------

// InsertClosedDeal journals a position close once; duplicates are ignored.
func (d *Database) InsertClosedDeal(ctx context.Context, c ClosedDeal) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT OR IGNORE INTO closed_deals (position_id, symbol, side, volume, entry_price, exit_price,
			profit, magic, origin, closed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, int64(c.PositionID), c.Symbol, c.Side, c.Volume, c.EntryPrice, c.ExitPrice, c.Profit, c.Magic,
		c.Origin, c.ClosedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert closed deal: %w", err)
	}
	return nil
}

// ListClosedDeals returns closes at or after since, oldest first.
func (d *Database) ListClosedDeals(ctx context.Context, since time.Time) ([]ClosedDeal, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT position_id, symbol, side, volume, COALESCE(entry_price, 0), exit_price, profit, magic, origin, closed_at
		FROM closed_deals
		WHERE closed_at >= ?
		ORDER BY closed_at
	`, since.UTC())
	if err != nil {
		return nil, fmt.Errorf("query closed deals: %w", err)
	}
	defer rows.Close()

	var out []ClosedDeal
	for rows.Next() {
		var (
			c   ClosedDeal
			pid int64
		)
		if err := rows.Scan(&pid, &c.Symbol, &c.Side, &c.Volume, &c.EntryPrice, &c.ExitPrice,
			&c.Profit, &c.Magic, &c.Origin, &c.ClosedAt); err != nil {
			return nil, fmt.Errorf("scan closed deal: %w", err)
		}
		c.PositionID = uint64(pid)
		out = append(out, c)
	}
	return out, rows.Err()
}

// ----------------------------------------
// Risk metrics
// ----------------------------------------

// UpsertRiskMetrics writes the row for m.Date.
func (d *Database) UpsertRiskMetrics(ctx context.Context, m RiskMetrics) error {
	if m.UpdatedAt.IsZero() {
		m.UpdatedAt = time.Now()
	}
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO risk_metrics (date, daily_start_equity, daily_pnl, peak_equity, max_drawdown, trading_enabled, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(date) DO UPDATE SET
			daily_start_equity = excluded.daily_start_equity,
			daily_pnl = excluded.daily_pnl,
			peak_equity = excluded.peak_equity,
			max_drawdown = excluded.max_drawdown,
			trading_enabled = excluded.trading_enabled,
			updated_at = excluded.updated_at
	`, m.Date, m.DailyStartEquity, m.DailyPnL, m.PeakEquity, m.MaxDrawdown, m.TradingEnabled, m.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("upsert risk metrics: %w", err)
	}
	return nil
}

// GetRiskMetrics loads the row for date.
func (d *Database) GetRiskMetrics(ctx context.Context, date string) (*RiskMetrics, error) {
	var m RiskMetrics
	err := d.DB.QueryRowContext(ctx, `
		SELECT date, daily_start_equity, daily_pnl, peak_equity, max_drawdown, trading_enabled, updated_at
		FROM risk_metrics WHERE date = ?
	`, date).Scan(&m.Date, &m.DailyStartEquity, &m.DailyPnL, &m.PeakEquity, &m.MaxDrawdown, &m.TradingEnabled, &m.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get risk metrics: %w", err)
	}
	return &m, nil
}

// ----------------------------------------
// Performance snapshots
// ----------------------------------------

// InsertPerformanceSnapshot appends a snapshot.
func (d *Database) InsertPerformanceSnapshot(ctx context.Context, s PerformanceSnapshot) error {
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now()
	}
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO performance_snapshots (equity, balance, margin, free_margin, daily_pnl, open_positions,
			total_trades, latency_p95_ms, drawdown, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, s.Equity, s.Balance, s.Margin, s.FreeMargin, s.DailyPnL, s.OpenPositions, s.TotalTrades,
		s.LatencyP95Ms, s.Drawdown, s.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert performance snapshot: %w", err)
	}
	return nil
}

// LatestPerformanceSnapshot returns the newest snapshot.
func (d *Database) LatestPerformanceSnapshot(ctx context.Context) (*PerformanceSnapshot, error) {
	var s PerformanceSnapshot
	err := d.DB.QueryRowContext(ctx, `
		SELECT id, equity, balance, COALESCE(margin, 0), COALESCE(free_margin, 0), COALESCE(daily_pnl, 0),
			COALESCE(open_positions, 0), COALESCE(total_trades, 0), COALESCE(latency_p95_ms, 0),
			COALESCE(drawdown, 0), created_at
		FROM performance_snapshots
		ORDER BY id DESC LIMIT 1
	`).Scan(&s.ID, &s.Equity, &s.Balance, &s.Margin, &s.FreeMargin, &s.DailyPnL, &s.OpenPositions,
		&s.TotalTrades, &s.LatencyP95Ms, &s.Drawdown, &s.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("latest performance snapshot: %w", err)
	}
	return &s, nil
}
