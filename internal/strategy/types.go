package strategy

import (
	"context"

	"mt5-trader/pkg/broker"
)

// Signal is an entry decision. StopLoss and TakeProfit may be zero, in which
// case the caller derives them from ATR.
type Signal struct {
	Side       broker.Side `json:"side"`
	Entry      float64     `json:"entry"`
	StopLoss   float64     `json:"sl"`
	TakeProfit float64     `json:"tp"`
	ATR        float64     `json:"atr"`
	RSI        float64     `json:"rsi"`
	Note       string      `json:"note,omitempty"`
}

// Source produces at most one signal per call from bars ordered oldest first.
// A nil signal with a nil error means no trade.
type Source interface {
	Name() string
	GenerateSignal(ctx context.Context, bars []broker.Bar) (*Signal, error)
}
