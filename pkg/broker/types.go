package broker

import (
	"context"
	"fmt"
	"time"
)

// Side denotes order and position direction.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Opposite returns the side that closes a position of side s.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// Direction renders the side as a position direction.
func (s Side) Direction() string {
	if s == SideBuy {
		return "LONG"
	}
	return "SHORT"
}

// TradeAction mirrors the terminal's request action field.
type TradeAction string

const (
	ActionDeal TradeAction = "DEAL" // market execution, open or close
	ActionSLTP TradeAction = "SLTP" // modify protective levels of an open position
)

// Filling is the order filling policy.
type Filling string

const (
	FillingIOC Filling = "IOC"
	FillingFOK Filling = "FOK"
)

// DealEntry tells whether a deal opened or closed a position.
type DealEntry string

const (
	DealEntryIn    DealEntry = "IN"
	DealEntryOut   DealEntry = "OUT"
	DealEntryInOut DealEntry = "INOUT"
	DealEntryOutBy DealEntry = "OUT_BY"
)

// Trade server return codes the core branches on.
const (
	RetcodeDone        = 10009
	RetcodeRequote     = 10004
	RetcodeReject      = 10006
	RetcodeNoMoney     = 10019
	RetcodeInvalidStop = 10016
	RetcodeMarketClose = 10018
)

// Timeframe is a bar period in minutes.
type Timeframe int

const (
	TimeframeM1  Timeframe = 1
	TimeframeM5  Timeframe = 5
	TimeframeM15 Timeframe = 15
	TimeframeH1  Timeframe = 60
)

// Credentials identify the trading account on the terminal.
type Credentials struct {
	Account  int64
	Password string
	Server   string
	Path     string
}

// AccountSnapshot is a point-in-time account read. Superseded wholesale on each read.
type AccountSnapshot struct {
	Login       int64   `json:"login"`
	Balance     float64 `json:"balance"`
	Equity      float64 `json:"equity"`
	Profit      float64 `json:"profit"`
	Margin      float64 `json:"margin"`
	MarginFree  float64 `json:"margin_free"`
	MarginLevel float64 `json:"margin_level"`
	Leverage    int     `json:"leverage"`
	Currency    string  `json:"currency"`
}

// Tick is the latest quote for a symbol.
type Tick struct {
	Symbol string    `json:"symbol"`
	Bid    float64   `json:"bid"`
	Ask    float64   `json:"ask"`
	Last   float64   `json:"last"`
	Time   time.Time `json:"time"`
}

// SymbolInfo carries the contract specification needed for sizing.
type SymbolInfo struct {
	Name         string  `json:"name"`
	Point        float64 `json:"point"`
	Digits       int     `json:"digits"`
	Spread       int     `json:"spread"`
	ContractSize float64 `json:"contract_size"`
	VolumeMin    float64 `json:"volume_min"`
	VolumeMax    float64 `json:"volume_max"`
	VolumeStep   float64 `json:"volume_step"`
}

// Position is an open position as reported by the terminal.
type Position struct {
	Ticket       uint64    `json:"ticket"`
	Symbol       string    `json:"symbol"`
	Side         Side      `json:"side"`
	Volume       float64   `json:"volume"`
	EntryPrice   float64   `json:"entry_price"`
	CurrentPrice float64   `json:"current_price"`
	StopLoss     float64   `json:"sl"`
	TakeProfit   float64   `json:"tp"`
	Profit       float64   `json:"profit"`
	Magic        int64     `json:"magic"`
	Comment      string    `json:"comment"`
	OpenTime     time.Time `json:"open_time"`
}

// ClosedDeal is a settled ledger entry from the deal history.
// For an exit deal Side is the closing side, so a SELL exit closes a long.
type ClosedDeal struct {
	Ticket     uint64    `json:"ticket"`
	PositionID uint64    `json:"position_id"`
	Symbol     string    `json:"symbol"`
	Side       Side      `json:"side"`
	EntryType  DealEntry `json:"entry_type"`
	EntryPrice float64   `json:"entry_price"`
	ExitPrice  float64   `json:"exit_price"`
	Volume     float64   `json:"volume"`
	Profit     float64   `json:"profit"`
	Magic      int64     `json:"magic"`
	Comment    string    `json:"comment"`
	Time       time.Time `json:"time"`
}

// Bar is one OHLC candle.
type Bar struct {
	Time       time.Time `json:"time"`
	Open       float64   `json:"open"`
	High       float64   `json:"high"`
	Low        float64   `json:"low"`
	Close      float64   `json:"close"`
	TickVolume int64     `json:"tick_volume"`
}

// OrderRequest is a trade request sent to the terminal.
type OrderRequest struct {
	Action     TradeAction
	Symbol     string
	Side       Side
	Volume     float64
	Price      float64
	StopLoss   float64
	TakeProfit float64
	Deviation  int
	Magic      int64
	Comment    string
	Position   uint64 // set when closing or modifying a specific position
	Filling    Filling
}

// SubmitResult is the terminal's reply to an order request.
type SubmitResult struct {
	Retcode int
	Order   uint64
	Deal    uint64
	Volume  float64
	Price   float64
	Comment string
}

// Done reports whether the trade server accepted the request.
func (r *SubmitResult) Done() bool {
	return r != nil && r.Retcode == RetcodeDone
}

// TerminalError is the terminal's last error pair.
type TerminalError struct {
	Code        int
	Description string
}

func (e TerminalError) Error() string {
	return fmt.Sprintf("terminal error %d: %s", e.Code, e.Description)
}

// Terminal is the raw brokerage terminal boundary.
// Read calls return nil with a nil error when the terminal has no data; a
// successful list query returns a non-nil (possibly empty) slice.
// OrderSend returns a nil result when the terminal produced no result object.
type Terminal interface {
	Initialize(ctx context.Context, creds Credentials) error
	Login(ctx context.Context, creds Credentials) error
	Shutdown(ctx context.Context) error
	Ping(ctx context.Context) error

	AccountInfo(ctx context.Context) (*AccountSnapshot, error)
	SymbolInfo(ctx context.Context, symbol string) (*SymbolInfo, error)
	SymbolInfoTick(ctx context.Context, symbol string) (*Tick, error)
	PositionsGet(ctx context.Context, symbol string) ([]Position, error)
	PositionByTicket(ctx context.Context, ticket uint64) (*Position, error)
	HistoryDealsGet(ctx context.Context, from, to time.Time) ([]ClosedDeal, error)
	CopyRates(ctx context.Context, symbol string, tf Timeframe, count int) ([]Bar, error)

	OrderSend(ctx context.Context, req OrderRequest) (*SubmitResult, error)
	LastError() TerminalError
}
