// Package bridge talks to a terminal bridge sidecar running next to the
// MetaTrader terminal. Requests and replies are google.protobuf.Struct messages
// so the sidecar can be written in any language with a protobuf runtime.
package bridge

import (
	"context"
	"fmt"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"

	"mt5-trader/pkg/broker"
)

const servicePrefix = "/mt5bridge.Terminal/"

// Client implements broker.Terminal over gRPC.
type Client struct {
	conn    *grpc.ClientConn
	timeout time.Duration

	mu      sync.Mutex
	lastErr broker.TerminalError
}

// Dial connects to the bridge at addr. timeout bounds each call.
func Dial(addr string, timeout time.Duration, opts ...grpc.DialOption) (*Client, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("dial terminal bridge %s: %w", addr, err)
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{conn: conn, timeout: timeout}, nil
}

// Close releases the underlying connection.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

func (c *Client) call(ctx context.Context, method string, args map[string]any) (*structpb.Struct, error) {
	in, err := structpb.NewStruct(args)
	if err != nil {
		return nil, fmt.Errorf("encode %s request: %w", method, err)
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	out := &structpb.Struct{}
	if err := c.conn.Invoke(ctx, servicePrefix+method, in, out); err != nil {
		return nil, err
	}
	if e := field(out, "error").GetStructValue(); e != nil {
		terr := broker.TerminalError{
			Code:        int(num(e, "code")),
			Description: str(e, "description"),
		}
		c.setLastErr(terr)
		return nil, terr
	}
	return out, nil
}

func (c *Client) setLastErr(e broker.TerminalError) {
	c.mu.Lock()
	c.lastErr = e
	c.mu.Unlock()
}

func (c *Client) Initialize(ctx context.Context, creds broker.Credentials) error {
	_, err := c.call(ctx, "Initialize", map[string]any{"path": creds.Path})
	return err
}

func (c *Client) Login(ctx context.Context, creds broker.Credentials) error {
	_, err := c.call(ctx, "Login", map[string]any{
		"account":  creds.Account,
		"password": creds.Password,
		"server":   creds.Server,
	})
	return err
}

func (c *Client) Shutdown(ctx context.Context) error {
	_, err := c.call(ctx, "Shutdown", map[string]any{})
	return err
}

func (c *Client) Ping(ctx context.Context) error {
	out, err := c.call(ctx, "TerminalInfo", map[string]any{})
	if err != nil {
		return err
	}
	if !found(out) || !field(out, "connected").GetBoolValue() {
		return broker.TerminalError{Code: -10004, Description: "terminal not connected"}
	}
	return nil
}

func (c *Client) AccountInfo(ctx context.Context) (*broker.AccountSnapshot, error) {
	out, err := c.call(ctx, "AccountInfo", map[string]any{})
	if err != nil || !found(out) {
		return nil, err
	}
	a := field(out, "account").GetStructValue()
	return &broker.AccountSnapshot{
		Login:       int64(num(a, "login")),
		Balance:     num(a, "balance"),
		Equity:      num(a, "equity"),
		Profit:      num(a, "profit"),
		Margin:      num(a, "margin"),
		MarginFree:  num(a, "margin_free"),
		MarginLevel: num(a, "margin_level"),
		Leverage:    int(num(a, "leverage")),
		Currency:    str(a, "currency"),
	}, nil
}

func (c *Client) SymbolInfo(ctx context.Context, symbol string) (*broker.SymbolInfo, error) {
	out, err := c.call(ctx, "SymbolInfo", map[string]any{"symbol": symbol})
	if err != nil || !found(out) {
		return nil, err
	}
	s := field(out, "info").GetStructValue()
	return &broker.SymbolInfo{
		Name:         str(s, "name"),
		Point:        num(s, "point"),
		Digits:       int(num(s, "digits")),
		Spread:       int(num(s, "spread")),
		ContractSize: num(s, "trade_contract_size"),
		VolumeMin:    num(s, "volume_min"),
		VolumeMax:    num(s, "volume_max"),
		VolumeStep:   num(s, "volume_step"),
	}, nil
}

func (c *Client) SymbolInfoTick(ctx context.Context, symbol string) (*broker.Tick, error) {
	out, err := c.call(ctx, "SymbolInfoTick", map[string]any{"symbol": symbol})
	if err != nil || !found(out) {
		return nil, err
	}
	t := field(out, "tick").GetStructValue()
	return &broker.Tick{
		Symbol: symbol,
		Bid:    num(t, "bid"),
		Ask:    num(t, "ask"),
		Last:   num(t, "last"),
		Time:   unix(num(t, "time")),
	}, nil
}

func (c *Client) PositionsGet(ctx context.Context, symbol string) ([]broker.Position, error) {
	out, err := c.call(ctx, "PositionsGet", map[string]any{"symbol": symbol})
	if err != nil || !found(out) {
		return nil, err
	}
	positions := []broker.Position{}
	for _, v := range field(out, "positions").GetListValue().GetValues() {
		positions = append(positions, decodePosition(v.GetStructValue()))
	}
	return positions, nil
}

func (c *Client) PositionByTicket(ctx context.Context, ticket uint64) (*broker.Position, error) {
	out, err := c.call(ctx, "PositionsGet", map[string]any{"ticket": ticket})
	if err != nil || !found(out) {
		return nil, err
	}
	list := field(out, "positions").GetListValue().GetValues()
	if len(list) == 0 {
		return nil, nil
	}
	p := decodePosition(list[0].GetStructValue())
	return &p, nil
}

func (c *Client) HistoryDealsGet(ctx context.Context, from, to time.Time) ([]broker.ClosedDeal, error) {
	out, err := c.call(ctx, "HistoryDealsGet", map[string]any{
		"from": from.Unix(),
		"to":   to.Unix(),
	})
	if err != nil || !found(out) {
		return nil, err
	}
	deals := []broker.ClosedDeal{}
	for _, v := range field(out, "deals").GetListValue().GetValues() {
		d := v.GetStructValue()
		deals = append(deals, broker.ClosedDeal{
			Ticket:     uint64(num(d, "ticket")),
			PositionID: uint64(num(d, "position_id")),
			Symbol:     str(d, "symbol"),
			Side:       side(d),
			EntryType:  broker.DealEntry(str(d, "entry")),
			EntryPrice: num(d, "price_open"),
			ExitPrice:  num(d, "price"),
			Volume:     num(d, "volume"),
			Profit:     num(d, "profit"),
			Magic:      int64(num(d, "magic")),
			Comment:    str(d, "comment"),
			Time:       unix(num(d, "time")),
		})
	}
	return deals, nil
}

func (c *Client) CopyRates(ctx context.Context, symbol string, tf broker.Timeframe, count int) ([]broker.Bar, error) {
	out, err := c.call(ctx, "CopyRatesFromPos", map[string]any{
		"symbol":    symbol,
		"timeframe": int(tf),
		"start":     0,
		"count":     count,
	})
	if err != nil || !found(out) {
		return nil, err
	}
	var bars []broker.Bar
	for _, v := range field(out, "rates").GetListValue().GetValues() {
		b := v.GetStructValue()
		bars = append(bars, broker.Bar{
			Time:       unix(num(b, "time")),
			Open:       num(b, "open"),
			High:       num(b, "high"),
			Low:        num(b, "low"),
			Close:      num(b, "close"),
			TickVolume: int64(num(b, "tick_volume")),
		})
	}
	return bars, nil
}

func (c *Client) OrderSend(ctx context.Context, req broker.OrderRequest) (*broker.SubmitResult, error) {
	out, err := c.call(ctx, "OrderSend", map[string]any{
		"action":       string(req.Action),
		"symbol":       req.Symbol,
		"type":         sideCode(req.Side),
		"volume":       req.Volume,
		"price":        req.Price,
		"sl":           req.StopLoss,
		"tp":           req.TakeProfit,
		"deviation":    req.Deviation,
		"magic":        req.Magic,
		"comment":      req.Comment,
		"position":     req.Position,
		"type_filling": string(req.Filling),
		"type_time":    "GTC",
	})
	if err != nil {
		return nil, err
	}
	if !found(out) {
		return nil, nil
	}
	r := field(out, "result").GetStructValue()
	return &broker.SubmitResult{
		Retcode: int(num(r, "retcode")),
		Order:   uint64(num(r, "order")),
		Deal:    uint64(num(r, "deal")),
		Volume:  num(r, "volume"),
		Price:   num(r, "price"),
		Comment: str(r, "comment"),
	}, nil
}

// LastError returns the last error reported by the bridge.
func (c *Client) LastError() broker.TerminalError {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

func decodePosition(p *structpb.Struct) broker.Position {
	return broker.Position{
		Ticket:       uint64(num(p, "ticket")),
		Symbol:       str(p, "symbol"),
		Side:         side(p),
		Volume:       num(p, "volume"),
		EntryPrice:   num(p, "price_open"),
		CurrentPrice: num(p, "price_current"),
		StopLoss:     num(p, "sl"),
		TakeProfit:   num(p, "tp"),
		Profit:       num(p, "profit"),
		Magic:        int64(num(p, "magic")),
		Comment:      str(p, "comment"),
		OpenTime:     unix(num(p, "time")),
	}
}

// side maps the terminal's numeric type (0 buy, 1 sell) onto broker.Side.
func side(s *structpb.Struct) broker.Side {
	if num(s, "type") == 1 {
		return broker.SideSell
	}
	return broker.SideBuy
}

func sideCode(s broker.Side) int {
	if s == broker.SideSell {
		return 1
	}
	return 0
}

func found(s *structpb.Struct) bool {
	v, ok := s.GetFields()["found"]
	return ok && v.GetBoolValue()
}

func field(s *structpb.Struct, key string) *structpb.Value {
	return s.GetFields()[key]
}

func num(s *structpb.Struct, key string) float64 {
	return field(s, key).GetNumberValue()
}

func str(s *structpb.Struct, key string) string {
	return field(s, key).GetStringValue()
}

func unix(sec float64) time.Time {
	if sec <= 0 {
		return time.Time{}
	}
	return time.Unix(int64(sec), 0).UTC()
}

var _ broker.Terminal = (*Client)(nil)
