package db

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newTestDB(t *testing.T) *Database {
	t.Helper()
	database, err := New(":memory:")
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	if err := ApplyMigrations(database); err != nil {
		t.Fatalf("Failed to apply migrations: %v", err)
	}
	return database
}

func TestMigrationsAreRepeatable(t *testing.T) {
	database := newTestDB(t)
	if err := ApplyMigrations(database); err != nil {
		t.Fatalf("second ApplyMigrations: %v", err)
	}
	ok, err := columnExists(database.DB, "executions", "error_description")
	if err != nil || !ok {
		t.Fatalf("expected error_description column, got %v %v", ok, err)
	}
}

func TestMissingTables(t *testing.T) {
	bare, err := New(":memory:")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer bare.Close()
	missing, err := MissingTables(bare)
	if err != nil || len(missing) != 5 || missing[0] != "processed_events" {
		t.Fatalf("bare db missing = %v, %v", missing, err)
	}

	if missing, err := MissingTables(newTestDB(t)); err != nil || len(missing) != 0 {
		t.Fatalf("migrated db missing = %v, %v", missing, err)
	}
}

func TestProcessedEventsAreIdempotent(t *testing.T) {
	database := newTestDB(t)
	ctx := context.Background()

	old := time.Now().Add(-48 * time.Hour)
	events := []ProcessedEvent{
		{Kind: "position", EventID: "1001", Ticket: 1001, Origin: "manual", CreatedAt: old},
		{Kind: "position", EventID: "1001", Ticket: 1001, Origin: "manual"},
		{Kind: "deal", EventID: "close_1001", Ticket: 1001, Origin: "manual"},
	}
	for _, e := range events {
		if err := database.InsertProcessedEvent(ctx, e); err != nil {
			t.Fatalf("InsertProcessedEvent: %v", err)
		}
	}

	got, err := database.ListProcessedEvents(ctx)
	if err != nil {
		t.Fatalf("ListProcessedEvents: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 events, got %d", len(got))
	}

	n, err := database.DeleteProcessedEvents(ctx, "position", []string{"1001", "missing"})
	if err != nil {
		t.Fatalf("DeleteProcessedEvents: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 deleted row, got %d", n)
	}
	got, _ = database.ListProcessedEvents(ctx)
	if len(got) != 1 || got[0].Kind != "deal" {
		t.Fatalf("expected only the deal entry to remain, got %+v", got)
	}

	if err := database.ClearProcessedEvents(ctx); err != nil {
		t.Fatalf("ClearProcessedEvents: %v", err)
	}
	got, _ = database.ListProcessedEvents(ctx)
	if len(got) != 0 {
		t.Fatalf("expected empty log after clear, got %d", len(got))
	}
}

func TestExecutionsNewestFirst(t *testing.T) {
	database := newTestDB(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	for i, id := range []string{"a", "b", "c"} {
		err := database.InsertExecution(ctx, Execution{
			ID: id, Kind: "success", Action: "open", Symbol: "XAUUSD", Side: "BUY",
			Ticket: uint64(100 + i), Volume: 0.1, CreatedAt: base.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatalf("InsertExecution: %v", err)
		}
	}

	got, err := database.ListExecutions(ctx, 2)
	if err != nil {
		t.Fatalf("ListExecutions: %v", err)
	}
	if len(got) != 2 || got[0].ID != "c" || got[1].ID != "b" {
		t.Fatalf("unexpected order: %+v", got)
	}
	if got[0].Ticket != 102 {
		t.Fatalf("ticket = %d", got[0].Ticket)
	}
}

func TestClosedDealsIgnoreDuplicates(t *testing.T) {
	database := newTestDB(t)
	ctx := context.Background()
	closed := time.Now()

	deal := ClosedDeal{PositionID: 55, Symbol: "XAUUSD", Side: "SELL", Volume: 0.1, ExitPrice: 2010, Profit: 12.5, Magic: 2300, Origin: "bot", ClosedAt: closed}
	for i := 0; i < 3; i++ {
		if err := database.InsertClosedDeal(ctx, deal); err != nil {
			t.Fatalf("InsertClosedDeal: %v", err)
		}
	}
	got, err := database.ListClosedDeals(ctx, closed.Add(-time.Hour))
	if err != nil {
		t.Fatalf("ListClosedDeals: %v", err)
	}
	if len(got) != 1 || got[0].Profit != 12.5 {
		t.Fatalf("unexpected deals: %+v", got)
	}
}

func TestRiskMetricsUpsert(t *testing.T) {
	database := newTestDB(t)
	ctx := context.Background()

	if _, err := database.GetRiskMetrics(ctx, "2026-03-02"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	m := RiskMetrics{Date: "2026-03-02", DailyStartEquity: 10000, DailyPnL: -100, PeakEquity: 10000, MaxDrawdown: 1, TradingEnabled: true}
	if err := database.UpsertRiskMetrics(ctx, m); err != nil {
		t.Fatalf("UpsertRiskMetrics: %v", err)
	}
	m.DailyPnL = -600
	m.TradingEnabled = false
	if err := database.UpsertRiskMetrics(ctx, m); err != nil {
		t.Fatalf("UpsertRiskMetrics: %v", err)
	}

	got, err := database.GetRiskMetrics(ctx, "2026-03-02")
	if err != nil {
		t.Fatalf("GetRiskMetrics: %v", err)
	}
	if got.DailyPnL != -600 || got.TradingEnabled {
		t.Fatalf("unexpected row: %+v", got)
	}
}

func TestPerformanceSnapshots(t *testing.T) {
	database := newTestDB(t)
	ctx := context.Background()

	if _, err := database.LatestPerformanceSnapshot(ctx); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	for _, eq := range []float64{10000, 10050} {
		if err := database.InsertPerformanceSnapshot(ctx, PerformanceSnapshot{Equity: eq, Balance: 10000, OpenPositions: 1}); err != nil {
			t.Fatalf("InsertPerformanceSnapshot: %v", err)
		}
	}
	got, err := database.LatestPerformanceSnapshot(ctx)
	if err != nil {
		t.Fatalf("LatestPerformanceSnapshot: %v", err)
	}
	if got.Equity != 10050 {
		t.Fatalf("equity = %v", got.Equity)
	}
}
