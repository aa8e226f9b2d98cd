package strategy

import (
	"context"
	"fmt"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"

	"mt5-trader/pkg/broker"
)

const generateMethod = "/signal.SignalService/GenerateSignal"

// RemoteSource asks an out-of-process signal worker for a decision over gRPC.
type RemoteSource struct {
	conn    *grpc.ClientConn
	symbol  string
	timeout time.Duration
}

// NewRemoteSource dials the worker at addr.
func NewRemoteSource(addr, symbol string, opts ...grpc.DialOption) (*RemoteSource, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("dial signal worker %s: %w", addr, err)
	}
	return &RemoteSource{conn: conn, symbol: symbol, timeout: 2 * time.Second}, nil
}

func (r *RemoteSource) Close() error {
	if r.conn == nil {
		return nil
	}
	return r.conn.Close()
}

func (r *RemoteSource) Name() string { return "remote:" + r.conn.Target() }

// GenerateSignal forwards the bar window and translates the reply. A reply
// without a "signal" field means no trade.
func (r *RemoteSource) GenerateSignal(ctx context.Context, bars []broker.Bar) (*Signal, error) {
	rows := make([]any, len(bars))
	for i, b := range bars {
		rows[i] = map[string]any{
			"time":        float64(b.Time.Unix()),
			"open":        b.Open,
			"high":        b.High,
			"low":         b.Low,
			"close":       b.Close,
			"tick_volume": float64(b.TickVolume),
		}
	}
	req, err := structpb.NewStruct(map[string]any{"symbol": r.symbol, "bars": rows})
	if err != nil {
		return nil, fmt.Errorf("encode signal request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	resp := &structpb.Struct{}
	if err := r.conn.Invoke(ctx, generateMethod, req, resp); err != nil {
		return nil, fmt.Errorf("signal worker: %w", err)
	}

	s := resp.GetFields()["signal"].GetStructValue()
	if s == nil {
		return nil, nil
	}
	f := s.GetFields()
	var side broker.Side
	switch strings.ToUpper(f["side"].GetStringValue()) {
	case "BUY", "LONG":
		side = broker.SideBuy
	case "SELL", "SHORT":
		side = broker.SideSell
	default:
		return nil, fmt.Errorf("signal worker: unknown side %q", f["side"].GetStringValue())
	}
	return &Signal{
		Side:       side,
		Entry:      f["entry"].GetNumberValue(),
		StopLoss:   f["sl"].GetNumberValue(),
		TakeProfit: f["tp"].GetNumberValue(),
		ATR:        f["atr"].GetNumberValue(),
		RSI:        f["rsi"].GetNumberValue(),
		Note:       f["note"].GetStringValue(),
	}, nil
}
