package order

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"mt5-trader/internal/events"
	"mt5-trader/internal/monitor"
	"mt5-trader/pkg/broker"
	"mt5-trader/pkg/db"
)

// Gateway is the subset of the broker gateway the executor needs.
type Gateway interface {
	EnsureConnected(ctx context.Context) bool
	Tick(ctx context.Context, symbol string) (*broker.Tick, error)
	Positions(ctx context.Context, symbol string) ([]broker.Position, error)
	PositionByTicket(ctx context.Context, ticket uint64) (*broker.Position, error)
	Submit(ctx context.Context, req broker.OrderRequest) (*broker.SubmitResult, error)
}

// Config carries the static fields stamped on every request.
type Config struct {
	Magic     int64
	Deviation int
	Signature string
	Filling   broker.Filling
}

// Executor turns order intents into terminal requests. At most one submission
// is in flight at any time.
type Executor struct {
	gw  Gateway
	cfg Config

	DB      *db.Database
	Bus     *events.Bus
	Metrics *monitor.SystemMetrics
	Prom    *monitor.Prom

	mu  sync.Mutex
	now func() time.Time
}

// NewExecutor wires an executor to a gateway.
func NewExecutor(gw Gateway, cfg Config) *Executor {
	if cfg.Filling == "" {
		cfg.Filling = broker.FillingIOC
	}
	return &Executor{gw: gw, cfg: cfg, now: time.Now}
}

// ExecuteMarketOrder opens a position at the current quote: buys at ask, sells at bid.
func (e *Executor) ExecuteMarketOrder(ctx context.Context, o MarketOrder) ExecutionResult {
	res := ExecutionResult{
		ID:     uuid.NewString(),
		Action: ActionOpen,
		Symbol: o.Symbol,
		Side:   o.Side,
		Volume: o.Volume,
	}
	if !e.gw.EnsureConnected(ctx) {
		return e.finish(ctx, res, KindFailed, "terminal not connected", 0)
	}
	tick, err := e.gw.Tick(ctx, o.Symbol)
	if err != nil {
		return e.finish(ctx, res, KindFailed, "failed to get tick data", 0)
	}

	price := tick.Ask
	if o.Side == broker.SideSell {
		price = tick.Bid
	}
	comment := o.Comment
	if comment == "" {
		comment = e.cfg.Signature
	}
	res.RequestedPrice = price

	req := broker.OrderRequest{
		Action:     broker.ActionDeal,
		Symbol:     o.Symbol,
		Side:       o.Side,
		Volume:     o.Volume,
		Price:      price,
		StopLoss:   o.StopLoss,
		TakeProfit: o.TakeProfit,
		Deviation:  e.cfg.Deviation,
		Magic:      e.cfg.Magic,
		Comment:    comment,
		Filling:    e.cfg.Filling,
	}
	return e.submit(ctx, req, res)
}

// ClosePosition closes ticket by sending the opposite side. volume 0 closes it fully.
func (e *Executor) ClosePosition(ctx context.Context, ticket uint64, volume float64) ExecutionResult {
	res := ExecutionResult{ID: uuid.NewString(), Action: ActionClose, Ticket: ticket}
	if !e.gw.EnsureConnected(ctx) {
		return e.finish(ctx, res, KindFailed, "terminal not connected", 0)
	}
	pos, err := e.gw.PositionByTicket(ctx, ticket)
	if err != nil {
		return e.finish(ctx, res, KindFailed, "position not found", 0)
	}
	return e.closePosition(ctx, *pos, volume, res)
}

func (e *Executor) closePosition(ctx context.Context, pos broker.Position, volume float64, res ExecutionResult) ExecutionResult {
	if volume <= 0 || volume > pos.Volume {
		volume = pos.Volume
	}
	side := pos.Side.Opposite()
	res.Symbol = pos.Symbol
	res.Side = side
	res.Volume = volume

	tick, err := e.gw.Tick(ctx, pos.Symbol)
	if err != nil {
		return e.finish(ctx, res, KindFailed, "failed to get tick data", 0)
	}
	price := tick.Ask
	if side == broker.SideSell {
		price = tick.Bid
	}
	res.RequestedPrice = price

	req := broker.OrderRequest{
		Action:    broker.ActionDeal,
		Symbol:    pos.Symbol,
		Side:      side,
		Volume:    volume,
		Price:     price,
		Deviation: e.cfg.Deviation,
		Magic:     e.cfg.Magic,
		Comment:   e.cfg.Signature,
		Position:  pos.Ticket,
		Filling:   e.cfg.Filling,
	}
	return e.submit(ctx, req, res)
}

// CloseAllPositions closes every open position on symbol ("" for all) one by
// one and returns how many closed successfully. Failures do not stop the sweep.
func (e *Executor) CloseAllPositions(ctx context.Context, symbol string) int {
	if !e.gw.EnsureConnected(ctx) {
		log.Printf("executor: close all skipped, terminal not connected")
		return 0
	}
	positions, err := e.gw.Positions(ctx, symbol)
	if err != nil {
		log.Printf("executor: close all could not list positions: %v", err)
		return 0
	}
	closed := 0
	for _, p := range positions {
		res := e.closePosition(ctx, p, 0, ExecutionResult{ID: uuid.NewString(), Action: ActionClose, Ticket: p.Ticket})
		if res.OK() {
			closed++
		}
	}
	log.Printf("executor: closed %d/%d positions", closed, len(positions))
	return closed
}

// ModifyStops replaces the protective levels of an open position.
func (e *Executor) ModifyStops(ctx context.Context, ticket uint64, sl, tp float64) ExecutionResult {
	res := ExecutionResult{ID: uuid.NewString(), Action: ActionModify, Ticket: ticket}
	if !e.gw.EnsureConnected(ctx) {
		return e.finish(ctx, res, KindFailed, "terminal not connected", 0)
	}
	pos, err := e.gw.PositionByTicket(ctx, ticket)
	if err != nil {
		return e.finish(ctx, res, KindFailed, "position not found", 0)
	}
	res.Symbol = pos.Symbol
	res.Side = pos.Side
	res.Volume = pos.Volume

	req := broker.OrderRequest{
		Action:     broker.ActionSLTP,
		Symbol:     pos.Symbol,
		StopLoss:   sl,
		TakeProfit: tp,
		Magic:      e.cfg.Magic,
		Position:   ticket,
	}
	return e.submit(ctx, req, res)
}

// submit sends req under the executor lock and classifies the reply.
func (e *Executor) submit(ctx context.Context, req broker.OrderRequest, res ExecutionResult) ExecutionResult {
	e.mu.Lock()
	start := time.Now()
	reply, err := e.gw.Submit(ctx, req)
	res.Latency = time.Since(start)
	e.mu.Unlock()

	if err != nil {
		code := 0
		var termErr broker.TerminalError
		if errors.As(err, &termErr) {
			code = termErr.Code
		}
		return e.finish(ctx, res, KindFailed, fmt.Sprintf("order send failed: %v", err), code)
	}

	if reply.Price > 0 && req.Price > 0 {
		res.Slippage = math.Abs(reply.Price - req.Price)
	}
	if !reply.Done() {
		res.FillPrice = 0
		return e.finish(ctx, res, KindRejected, fmt.Sprintf("order rejected: %d %s", reply.Retcode, reply.Comment), reply.Retcode)
	}

	res.FillPrice = reply.Price
	if res.Action == ActionOpen {
		res.Ticket = reply.Order
	}
	return e.finish(ctx, res, KindSuccess, reply.Comment, 0)
}

func (e *Executor) finish(ctx context.Context, res ExecutionResult, kind ResultKind, msg string, code int) ExecutionResult {
	res.Kind = kind
	res.Message = msg
	res.ErrorCode = code
	res.Timestamp = e.now()

	switch kind {
	case KindSuccess:
		log.Printf("executor: %s %s %s %.2f @ %.5f ok (ticket=%d latency=%s slippage=%.5f)",
			res.Action, res.Symbol, res.Side, res.Volume, res.FillPrice, res.Ticket, res.Latency, res.Slippage)
	default:
		log.Printf("executor: %s %s %s %.2f %s: %s", res.Action, res.Symbol, res.Side, res.Volume, kind, msg)
	}

	if e.Metrics != nil {
		e.Metrics.OrderOutcome(string(kind))
		if res.Latency > 0 {
			e.Metrics.OrderLatency.RecordDuration(res.Latency)
		}
	}
	if e.Prom != nil {
		e.Prom.Orders.WithLabelValues(string(kind)).Inc()
		if res.Latency > 0 {
			e.Prom.OrderLatency.Observe(res.Latency.Seconds())
		}
	}
	e.journal(ctx, res)
	e.Bus.Publish(events.EventOrderExecuted, res)
	return res
}

// journal stores the attempt; failures are logged and never change the result.
func (e *Executor) journal(ctx context.Context, res ExecutionResult) {
	if e.DB == nil {
		return
	}
	row := db.Execution{
		ID:             res.ID,
		Kind:           string(res.Kind),
		Action:         string(res.Action),
		Symbol:         res.Symbol,
		Side:           string(res.Side),
		Ticket:         res.Ticket,
		Volume:         res.Volume,
		RequestedPrice: res.RequestedPrice,
		FillPrice:      res.FillPrice,
		Slippage:       res.Slippage,
		LatencyMs:      float64(res.Latency.Microseconds()) / 1000,
		ErrorCode:      res.ErrorCode,
		Comment:        res.Message,
		CreatedAt:      res.Timestamp,
	}
	if res.Kind != KindSuccess {
		row.ErrorDescription = res.Message
	}
	if err := e.DB.InsertExecution(ctx, row); err != nil {
		log.Printf("executor: journal execution %s: %v", res.ID, err)
	}
}
