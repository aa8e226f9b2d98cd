package gateway

import (
	"context"
	"fmt"
	"time"

	"mt5-trader/pkg/broker"
)

// pace waits for the limiter and rejects calls while disconnected.
func (g *Gateway) pace(ctx context.Context) error {
	if !g.IsConnected() {
		return ErrNotConnected
	}
	if err := g.limiter.Wait(ctx); err != nil {
		return err
	}
	return nil
}

// AccountSnapshot reads balance, equity and margin figures.
func (g *Gateway) AccountSnapshot(ctx context.Context) (*broker.AccountSnapshot, error) {
	if err := g.pace(ctx); err != nil {
		return nil, err
	}
	acct, err := g.term.AccountInfo(ctx)
	if err != nil {
		return nil, fmt.Errorf("account info: %w", err)
	}
	if acct == nil {
		return nil, ErrNoData
	}
	return acct, nil
}

// Tick returns the latest quote for symbol.
func (g *Gateway) Tick(ctx context.Context, symbol string) (*broker.Tick, error) {
	if err := g.pace(ctx); err != nil {
		return nil, err
	}
	tick, err := g.term.SymbolInfoTick(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("tick %s: %w", symbol, err)
	}
	if tick == nil {
		return nil, ErrNoData
	}
	return tick, nil
}

// SymbolInfo returns the contract specification for symbol.
func (g *Gateway) SymbolInfo(ctx context.Context, symbol string) (*broker.SymbolInfo, error) {
	if err := g.pace(ctx); err != nil {
		return nil, err
	}
	info, err := g.term.SymbolInfo(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("symbol info %s: %w", symbol, err)
	}
	if info == nil {
		return nil, ErrNoData
	}
	return info, nil
}

// Positions lists open positions, optionally filtered by symbol.
// An empty slice means no positions; ErrNoData means the read itself failed.
func (g *Gateway) Positions(ctx context.Context, symbol string) ([]broker.Position, error) {
	if err := g.pace(ctx); err != nil {
		return nil, err
	}
	positions, err := g.term.PositionsGet(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("positions: %w", err)
	}
	if positions == nil {
		return nil, ErrNoData
	}
	return positions, nil
}

// PositionByTicket returns ErrNoData when the ticket is not open.
func (g *Gateway) PositionByTicket(ctx context.Context, ticket uint64) (*broker.Position, error) {
	if err := g.pace(ctx); err != nil {
		return nil, err
	}
	p, err := g.term.PositionByTicket(ctx, ticket)
	if err != nil {
		return nil, fmt.Errorf("position %d: %w", ticket, err)
	}
	if p == nil {
		return nil, ErrNoData
	}
	return p, nil
}

// ClosedDeals returns settled deals in [from, to].
func (g *Gateway) ClosedDeals(ctx context.Context, from, to time.Time) ([]broker.ClosedDeal, error) {
	if err := g.pace(ctx); err != nil {
		return nil, err
	}
	deals, err := g.term.HistoryDealsGet(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("history deals: %w", err)
	}
	if deals == nil {
		return nil, ErrNoData
	}
	return deals, nil
}

// Bars returns the last count candles of symbol at tf, oldest first.
func (g *Gateway) Bars(ctx context.Context, symbol string, tf broker.Timeframe, count int) ([]broker.Bar, error) {
	if err := g.pace(ctx); err != nil {
		return nil, err
	}
	bars, err := g.term.CopyRates(ctx, symbol, tf, count)
	if err != nil {
		return nil, fmt.Errorf("rates %s: %w", symbol, err)
	}
	if len(bars) == 0 {
		return nil, ErrNoData
	}
	return bars, nil
}

// Submit sends an order request. A missing result object is reported with the
// terminal's last error.
func (g *Gateway) Submit(ctx context.Context, req broker.OrderRequest) (*broker.SubmitResult, error) {
	if err := g.pace(ctx); err != nil {
		return nil, err
	}
	res, err := g.term.OrderSend(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("order send: %w", err)
	}
	if res == nil {
		return nil, g.term.LastError()
	}
	return res, nil
}
