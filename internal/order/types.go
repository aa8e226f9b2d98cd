package order

import (
	"time"

	"mt5-trader/pkg/broker"
)

// ResultKind classifies the outcome of one order attempt.
type ResultKind string

const (
	KindSuccess  ResultKind = "SUCCESS"
	KindRejected ResultKind = "REJECTED"
	KindFailed   ResultKind = "FAILED"
	KindTimeout  ResultKind = "TIMEOUT" // reserved; the executor does not produce it
)

// Action names the kind of request journaled for an execution.
type Action string

const (
	ActionOpen   Action = "OPEN"
	ActionClose  Action = "CLOSE"
	ActionModify Action = "MODIFY"
)

// MarketOrder is an intent to open a position at market.
type MarketOrder struct {
	Symbol     string
	Side       broker.Side
	Volume     float64
	StopLoss   float64 // 0 = none
	TakeProfit float64 // 0 = none
	Comment    string  // defaults to the bot signature
}

// ExecutionResult is the outcome of one submission.
type ExecutionResult struct {
	ID             string        `json:"id"`
	Kind           ResultKind    `json:"kind"`
	Action         Action        `json:"action"`
	Ticket         uint64        `json:"ticket,omitempty"`
	Symbol         string        `json:"symbol"`
	Side           broker.Side   `json:"side"`
	Volume         float64       `json:"volume"`
	RequestedPrice float64       `json:"requested_price"`
	FillPrice      float64       `json:"fill_price,omitempty"`
	Slippage       float64       `json:"slippage"`
	ErrorCode      int           `json:"error_code,omitempty"`
	Message        string        `json:"message,omitempty"`
	Latency        time.Duration `json:"latency"`
	Timestamp      time.Time     `json:"timestamp"`
}

// OK reports whether the result is a success.
func (r ExecutionResult) OK() bool {
	return r.Kind == KindSuccess
}
