package indicators

import "mt5-trader/pkg/broker"

// Values are the indicator readings of the last closed bar and the one before.
type Values struct {
	Close    float64
	FastSMA  float64
	SlowSMA  float64
	PrevFast float64
	PrevSlow float64
	RSI      float64
	ATR      float64
}

// Engine evaluates a fixed indicator set over a bar window.
type Engine struct {
	FastPeriod int
	SlowPeriod int
	RSIPeriod  int
	ATRPeriod  int
}

// NewEngine builds an indicator engine with the given windows.
func NewEngine(fast, slow, rsiPeriod, atrPeriod int) *Engine {
	return &Engine{FastPeriod: fast, SlowPeriod: slow, RSIPeriod: rsiPeriod, ATRPeriod: atrPeriod}
}

// MinBars is the shortest window Evaluate accepts.
func (e *Engine) MinBars() int {
	n := e.SlowPeriod + 1
	if m := e.RSIPeriod + 1; m > n {
		n = m
	}
	if m := e.ATRPeriod + 1; m > n {
		n = m
	}
	return n
}

// Evaluate computes Values over bars (oldest first). It returns false when the
// window is too short.
func (e *Engine) Evaluate(bars []broker.Bar) (Values, bool) {
	if len(bars) < e.MinBars() {
		return Values{}, false
	}
	closes := make([]float64, len(bars))
	highs := make([]float64, len(bars))
	lows := make([]float64, len(bars))
	for i, b := range bars {
		closes[i], highs[i], lows[i] = b.Close, b.High, b.Low
	}
	prev := closes[:len(closes)-1]
	return Values{
		Close:    closes[len(closes)-1],
		FastSMA:  SMA(closes, e.FastPeriod),
		SlowSMA:  SMA(closes, e.SlowPeriod),
		PrevFast: SMA(prev, e.FastPeriod),
		PrevSlow: SMA(prev, e.SlowPeriod),
		RSI:      RSI(closes, e.RSIPeriod),
		ATR:      ATR(highs, lows, closes, e.ATRPeriod),
	}, true
}
