package risk

import "mt5-trader/pkg/broker"

// StopLoss places the protective stop atr*StopLossATRMult away from entry.
func (m *Manager) StopLoss(entry float64, side broker.Side, atr float64) float64 {
	d := atr * m.limits.StopLossATRMult
	if side == broker.SideBuy {
		return entry - d
	}
	return entry + d
}

// TakeProfit places the target atr*TakeProfitATRMult away from entry.
func (m *Manager) TakeProfit(entry float64, side broker.Side, atr float64) float64 {
	d := atr * m.limits.TakeProfitATRMult
	if side == broker.SideBuy {
		return entry + d
	}
	return entry - d
}

// TrailingStop returns a tightened stop for an open position, or false when
// trailing is off or the stop would not move in the position's favour.
// A zero currentSL means the position has no stop yet.
func (m *Manager) TrailingStop(side broker.Side, price, currentSL, atr float64) (float64, bool) {
	if !m.limits.TrailingStop || atr <= 0 {
		return 0, false
	}
	offset := atr * m.limits.TrailingATRMult
	if side == broker.SideBuy {
		candidate := price - offset
		if currentSL == 0 || candidate > currentSL {
			return candidate, true
		}
		return 0, false
	}
	candidate := price + offset
	if currentSL == 0 || candidate < currentSL {
		return candidate, true
	}
	return 0, false
}
