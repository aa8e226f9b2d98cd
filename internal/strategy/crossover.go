package strategy

import (
	"context"
	"fmt"

	"mt5-trader/internal/indicators"
	"mt5-trader/pkg/broker"
)

// CrossoverSource implements a moving average crossover with RSI confirmation.
// A long needs the fast SMA to cross above the slow one with RSI below the
// overbought level; a short needs the opposite cross with RSI above oversold.
type CrossoverSource struct {
	cfg Config
	ind *indicators.Engine
}

// NewCrossoverSource creates a crossover source.
func NewCrossoverSource(cfg Config) *CrossoverSource {
	return &CrossoverSource{
		cfg: cfg,
		ind: indicators.NewEngine(cfg.FastPeriod, cfg.SlowPeriod, cfg.RSIPeriod, cfg.ATRPeriod),
	}
}

func (s *CrossoverSource) Name() string {
	return fmt.Sprintf("SMA_Cross_%d_%d", s.cfg.FastPeriod, s.cfg.SlowPeriod)
}

// MinBars is the bar window the source needs.
func (s *CrossoverSource) MinBars() int {
	return s.ind.MinBars()
}

func (s *CrossoverSource) GenerateSignal(_ context.Context, bars []broker.Bar) (*Signal, error) {
	v, ok := s.ind.Evaluate(bars)
	if !ok {
		return nil, nil
	}

	// Golden cross
	if v.PrevFast <= v.PrevSlow && v.FastSMA > v.SlowSMA && v.RSI < s.cfg.RSIOverbought {
		return &Signal{
			Side:       broker.SideBuy,
			Entry:      v.Close,
			StopLoss:   v.Close - v.ATR*s.cfg.SLATRMult,
			TakeProfit: v.Close + v.ATR*s.cfg.TPATRMult,
			ATR:        v.ATR,
			RSI:        v.RSI,
			Note:       fmt.Sprintf("Golden cross: SMA%d(%.2f) > SMA%d(%.2f), RSI %.1f", s.cfg.FastPeriod, v.FastSMA, s.cfg.SlowPeriod, v.SlowSMA, v.RSI),
		}, nil
	}

	// Death cross
	if v.PrevFast >= v.PrevSlow && v.FastSMA < v.SlowSMA && v.RSI > s.cfg.RSIOversold {
		return &Signal{
			Side:       broker.SideSell,
			Entry:      v.Close,
			StopLoss:   v.Close + v.ATR*s.cfg.SLATRMult,
			TakeProfit: v.Close - v.ATR*s.cfg.TPATRMult,
			ATR:        v.ATR,
			RSI:        v.RSI,
			Note:       fmt.Sprintf("Death cross: SMA%d(%.2f) < SMA%d(%.2f), RSI %.1f", s.cfg.FastPeriod, v.FastSMA, s.cfg.SlowPeriod, v.SlowSMA, v.RSI),
		}, nil
	}

	return nil, nil
}

// ATR returns the current ATR of bars, or 0 when the window is too short.
func (s *CrossoverSource) ATR(bars []broker.Bar) float64 {
	v, ok := s.ind.Evaluate(bars)
	if !ok {
		return 0
	}
	return v.ATR
}
