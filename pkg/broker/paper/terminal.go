// Package paper provides an in-process terminal that simulates fills against
// externally supplied quotes. It backs PAPER_TRADING mode and the test suites.
package paper

import (
	"context"
	"sort"
	"sync"
	"time"

	"mt5-trader/pkg/broker"
)

// Terminal error codes reported through LastError.
const (
	ErrCodeNoIPC        = -10004
	ErrCodeInitFailed   = -10005
	ErrCodeInvalidReq   = 10013
	ErrCodeNoResult     = 1
	defaultContractSize = 1.0
)

// Config seeds a simulated account.
type Config struct {
	InitialBalance float64
	Leverage       int
	Currency       string
	Login          int64
	// Latency is applied to every OrderSend.
	Latency time.Duration
}

// Terminal is a broker.Terminal backed by memory.
type Terminal struct {
	mu  sync.Mutex
	cfg Config

	initialized bool
	alive       bool
	failInit    bool
	failLogin   bool
	rejectCode  int
	dropResult  bool
	slippage    float64

	balance    float64
	positions  map[uint64]*broker.Position
	deals      []broker.ClosedDeal
	ticks      map[string]broker.Tick
	symbols    map[string]broker.SymbolInfo
	bars       map[string][]broker.Bar
	nextTicket uint64
	lastErr    broker.TerminalError
	sends      int

	now func() time.Time
}

// New builds a simulated terminal.
func New(cfg Config) *Terminal {
	if cfg.Leverage <= 0 {
		cfg.Leverage = 100
	}
	if cfg.Currency == "" {
		cfg.Currency = "USD"
	}
	return &Terminal{
		cfg:        cfg,
		alive:      true,
		balance:    cfg.InitialBalance,
		positions:  make(map[uint64]*broker.Position),
		ticks:      make(map[string]broker.Tick),
		symbols:    make(map[string]broker.SymbolInfo),
		bars:       make(map[string][]broker.Bar),
		nextTicket: 1000,
		now:        time.Now,
	}
}

// SetClock overrides the time source used to stamp positions and deals.
func (t *Terminal) SetClock(now func() time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.now = now
}

// SetSymbol registers a contract specification.
func (t *Terminal) SetSymbol(info broker.SymbolInfo) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.symbols[info.Name] = info
}

// SetTick publishes a quote and revalues open positions on that symbol.
func (t *Terminal) SetTick(symbol string, bid, ask float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ticks[symbol] = broker.Tick{Symbol: symbol, Bid: bid, Ask: ask, Last: bid, Time: t.now()}
	for _, p := range t.positions {
		if p.Symbol == symbol {
			t.revalue(p)
		}
	}
}

// SetBars replaces the candle history for a symbol.
func (t *Terminal) SetBars(symbol string, bars []broker.Bar) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.bars[symbol] = append([]broker.Bar(nil), bars...)
}

// SetBalance overwrites the account balance.
func (t *Terminal) SetBalance(balance float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.balance = balance
}

// SetAlive toggles the liveness check.
func (t *Terminal) SetAlive(alive bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.alive = alive
}

// FailInitialize makes Initialize fail until reset.
func (t *Terminal) FailInitialize(fail bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failInit = fail
}

// FailLogin makes Login fail until reset.
func (t *Terminal) FailLogin(fail bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failLogin = fail
}

// SetReject makes every OrderSend return retcode code. Zero disables.
func (t *Terminal) SetReject(code int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rejectCode = code
}

// DropResults makes OrderSend return no result object.
func (t *Terminal) DropResults(drop bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.dropResult = drop
}

// SetSlippage sets an adverse fill offset in price units.
func (t *Terminal) SetSlippage(slippage float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.slippage = slippage
}

// Sends returns how many OrderSend calls reached the terminal.
func (t *Terminal) Sends() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sends
}

// OpenExternal places a position the way a manual trader or another bot would.
func (t *Terminal) OpenExternal(symbol string, side broker.Side, volume float64, magic int64, comment string) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	tick := t.ticks[symbol]
	price := tick.Ask
	if side == broker.SideSell {
		price = tick.Bid
	}
	return t.open(symbol, side, volume, price, 0, 0, magic, comment)
}

// CloseExternal closes a position at the current quote, as a stop or a manual close would.
func (t *Terminal) CloseExternal(ticket uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.positions[ticket]
	if !ok {
		return false
	}
	tick := t.ticks[p.Symbol]
	price := tick.Bid
	if p.Side == broker.SideSell {
		price = tick.Ask
	}
	t.close(p, p.Volume, price, p.Magic, "")
	return true
}

func (t *Terminal) Initialize(ctx context.Context, creds broker.Credentials) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.failInit {
		t.lastErr = broker.TerminalError{Code: ErrCodeInitFailed, Description: "initialize failed"}
		return t.lastErr
	}
	t.initialized = true
	t.alive = true
	return nil
}

func (t *Terminal) Login(ctx context.Context, creds broker.Credentials) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.failLogin {
		t.lastErr = broker.TerminalError{Code: ErrCodeNoIPC, Description: "authorization failed"}
		return t.lastErr
	}
	if creds.Account != 0 {
		t.cfg.Login = creds.Account
	}
	return nil
}

func (t *Terminal) Shutdown(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.initialized = false
	return nil
}

func (t *Terminal) Ping(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.initialized || !t.alive {
		t.lastErr = broker.TerminalError{Code: ErrCodeNoIPC, Description: "no IPC connection"}
		return t.lastErr
	}
	return nil
}

func (t *Terminal) AccountInfo(ctx context.Context) (*broker.AccountSnapshot, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.initialized {
		return nil, nil
	}
	floating, margin := 0.0, 0.0
	for _, p := range t.positions {
		floating += p.Profit
		margin += p.Volume * t.contractSize(p.Symbol) * p.CurrentPrice / float64(t.cfg.Leverage)
	}
	equity := t.balance + floating
	level := 0.0
	if margin > 0 {
		level = equity / margin * 100
	}
	return &broker.AccountSnapshot{
		Login:       t.cfg.Login,
		Balance:     t.balance,
		Equity:      equity,
		Profit:      floating,
		Margin:      margin,
		MarginFree:  equity - margin,
		MarginLevel: level,
		Leverage:    t.cfg.Leverage,
		Currency:    t.cfg.Currency,
	}, nil
}

func (t *Terminal) SymbolInfo(ctx context.Context, symbol string) (*broker.SymbolInfo, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	info, ok := t.symbols[symbol]
	if !ok || !t.initialized {
		return nil, nil
	}
	if tick, ok := t.ticks[symbol]; ok && info.Point > 0 {
		info.Spread = int((tick.Ask-tick.Bid)/info.Point + 0.5)
	}
	return &info, nil
}

func (t *Terminal) SymbolInfoTick(ctx context.Context, symbol string) (*broker.Tick, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	tick, ok := t.ticks[symbol]
	if !ok || !t.initialized {
		return nil, nil
	}
	return &tick, nil
}

func (t *Terminal) PositionsGet(ctx context.Context, symbol string) ([]broker.Position, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.initialized {
		return nil, nil
	}
	out := make([]broker.Position, 0, len(t.positions))
	for _, p := range t.positions {
		if symbol == "" || p.Symbol == symbol {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ticket < out[j].Ticket })
	return out, nil
}

func (t *Terminal) PositionByTicket(ctx context.Context, ticket uint64) (*broker.Position, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.positions[ticket]
	if !ok || !t.initialized {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (t *Terminal) HistoryDealsGet(ctx context.Context, from, to time.Time) ([]broker.ClosedDeal, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.initialized {
		return nil, nil
	}
	out := []broker.ClosedDeal{}
	for _, d := range t.deals {
		if d.Time.Before(from) || d.Time.After(to) {
			continue
		}
		out = append(out, d)
	}
	return out, nil
}

func (t *Terminal) CopyRates(ctx context.Context, symbol string, tf broker.Timeframe, count int) ([]broker.Bar, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	bars := t.bars[symbol]
	if !t.initialized || len(bars) == 0 {
		return nil, nil
	}
	if count > 0 && len(bars) > count {
		bars = bars[len(bars)-count:]
	}
	return append([]broker.Bar(nil), bars...), nil
}

func (t *Terminal) OrderSend(ctx context.Context, req broker.OrderRequest) (*broker.SubmitResult, error) {
	if t.cfg.Latency > 0 {
		select {
		case <-time.After(t.cfg.Latency):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.sends++

	if !t.initialized {
		t.lastErr = broker.TerminalError{Code: ErrCodeNoIPC, Description: "no IPC connection"}
		return nil, nil
	}
	if t.dropResult {
		t.lastErr = broker.TerminalError{Code: ErrCodeNoResult, Description: "generic fail"}
		return nil, nil
	}
	if t.rejectCode != 0 {
		return &broker.SubmitResult{Retcode: t.rejectCode, Price: req.Price, Comment: "rejected"}, nil
	}

	switch req.Action {
	case broker.ActionSLTP:
		p, ok := t.positions[req.Position]
		if !ok {
			return &broker.SubmitResult{Retcode: ErrCodeInvalidReq, Comment: "position not found"}, nil
		}
		p.StopLoss = req.StopLoss
		p.TakeProfit = req.TakeProfit
		return &broker.SubmitResult{Retcode: broker.RetcodeDone, Order: p.Ticket, Comment: "modified"}, nil
	case broker.ActionDeal:
	default:
		return &broker.SubmitResult{Retcode: ErrCodeInvalidReq, Comment: "unsupported action"}, nil
	}

	price := req.Price
	if req.Side == broker.SideBuy {
		price += t.slippage
	} else {
		price -= t.slippage
	}

	if req.Position != 0 {
		p, ok := t.positions[req.Position]
		if !ok {
			return &broker.SubmitResult{Retcode: ErrCodeInvalidReq, Comment: "position not found"}, nil
		}
		volume := req.Volume
		if volume <= 0 || volume > p.Volume {
			volume = p.Volume
		}
		deal := t.close(p, volume, price, req.Magic, req.Comment)
		return &broker.SubmitResult{
			Retcode: broker.RetcodeDone,
			Order:   deal.Ticket,
			Deal:    deal.Ticket,
			Volume:  volume,
			Price:   price,
			Comment: "Request executed",
		}, nil
	}

	ticket := t.open(req.Symbol, req.Side, req.Volume, price, req.StopLoss, req.TakeProfit, req.Magic, req.Comment)
	return &broker.SubmitResult{
		Retcode: broker.RetcodeDone,
		Order:   ticket,
		Deal:    ticket,
		Volume:  req.Volume,
		Price:   price,
		Comment: "Request executed",
	}, nil
}

func (t *Terminal) LastError() broker.TerminalError {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastErr
}

func (t *Terminal) open(symbol string, side broker.Side, volume, price, sl, tp float64, magic int64, comment string) uint64 {
	t.nextTicket++
	ticket := t.nextTicket
	now := t.now()
	p := &broker.Position{
		Ticket:       ticket,
		Symbol:       symbol,
		Side:         side,
		Volume:       volume,
		EntryPrice:   price,
		CurrentPrice: price,
		StopLoss:     sl,
		TakeProfit:   tp,
		Magic:        magic,
		Comment:      comment,
		OpenTime:     now,
	}
	t.positions[ticket] = p
	t.revalue(p)
	t.deals = append(t.deals, broker.ClosedDeal{
		Ticket:     ticket,
		PositionID: ticket,
		Symbol:     symbol,
		Side:       side,
		EntryType:  broker.DealEntryIn,
		EntryPrice: price,
		Volume:     volume,
		Magic:      magic,
		Comment:    comment,
		Time:       now,
	})
	return ticket
}

func (t *Terminal) close(p *broker.Position, volume, price float64, magic int64, comment string) broker.ClosedDeal {
	t.nextTicket++
	profit := t.pnl(p.Side, p.EntryPrice, price, volume, p.Symbol)
	deal := broker.ClosedDeal{
		Ticket:     t.nextTicket,
		PositionID: p.Ticket,
		Symbol:     p.Symbol,
		Side:       p.Side.Opposite(),
		EntryType:  broker.DealEntryOut,
		EntryPrice: p.EntryPrice,
		ExitPrice:  price,
		Volume:     volume,
		Profit:     profit,
		Magic:      magic,
		Comment:    comment,
		Time:       t.now(),
	}
	t.deals = append(t.deals, deal)
	t.balance += profit

	p.Volume -= volume
	if p.Volume <= 1e-9 {
		delete(t.positions, p.Ticket)
	} else {
		t.revalue(p)
	}
	return deal
}

func (t *Terminal) revalue(p *broker.Position) {
	tick, ok := t.ticks[p.Symbol]
	if !ok {
		return
	}
	p.CurrentPrice = tick.Bid
	if p.Side == broker.SideSell {
		p.CurrentPrice = tick.Ask
	}
	p.Profit = t.pnl(p.Side, p.EntryPrice, p.CurrentPrice, p.Volume, p.Symbol)
}

func (t *Terminal) pnl(side broker.Side, entry, exit, volume float64, symbol string) float64 {
	diff := exit - entry
	if side == broker.SideSell {
		diff = -diff
	}
	return diff * volume * t.contractSize(symbol)
}

func (t *Terminal) contractSize(symbol string) float64 {
	if info, ok := t.symbols[symbol]; ok && info.ContractSize > 0 {
		return info.ContractSize
	}
	return defaultContractSize
}

var _ broker.Terminal = (*Terminal)(nil)
