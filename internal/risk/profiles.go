package risk

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// Profiles maps a mode to its limits.
type Profiles map[Mode]Limits

// DefaultProfiles returns the built-in table.
func DefaultProfiles() Profiles {
	return Profiles{
		ModeConservative: {
			RiskPerTradePercent:    0.5,
			MaxConcurrentPositions: 1,
			MaxDailyLossPercent:    2,
			MaxDrawdownPercent:     5,
			PositionSizeMultiplier: 0.5,
			TakeProfitATRMult:      3.0,
			StopLossATRMult:        2.0,
			TrailingStop:           true,
			TrailingATRMult:        1.5,
			MaxLeverage:            10,
		},
		ModeModerate: {
			RiskPerTradePercent:    1,
			MaxConcurrentPositions: 3,
			MaxDailyLossPercent:    5,
			MaxDrawdownPercent:     10,
			PositionSizeMultiplier: 1.0,
			TakeProfitATRMult:      4.0,
			StopLossATRMult:        2.5,
			TrailingStop:           true,
			TrailingATRMult:        2.0,
			MaxLeverage:            20,
		},
		ModeAggressive: {
			RiskPerTradePercent:    2,
			MaxConcurrentPositions: 5,
			MaxDailyLossPercent:    10,
			MaxDrawdownPercent:     20,
			PositionSizeMultiplier: 1.5,
			TakeProfitATRMult:      5.0,
			StopLossATRMult:        3.0,
			TrailingStop:           false,
			TrailingATRMult:        2.5,
			MaxLeverage:            50,
		},
	}
}

// LoadProfiles reads a YAML table keyed by mode name. Keys other than the
// three modes are rejected. An empty path returns the built-in table.
func LoadProfiles(path string) (Profiles, error) {
	if path == "" {
		return DefaultProfiles(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read risk profiles: %w", err)
	}
	var raw map[string]Limits
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse risk profiles %s: %w", path, err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("risk profiles %s: no profiles defined", path)
	}
	out := make(Profiles, len(raw))
	for name, l := range raw {
		mode, err := ParseMode(name)
		if err != nil {
			return nil, fmt.Errorf("risk profiles %s: %w", path, err)
		}
		if err := l.Validate(); err != nil {
			return nil, fmt.Errorf("risk profile %s: %w", mode, err)
		}
		out[mode] = l
	}
	return out, nil
}

// Select returns the limits for mode.
func (p Profiles) Select(mode Mode) (Limits, error) {
	l, ok := p[mode]
	if !ok {
		return Limits{}, fmt.Errorf("unknown risk mode %q (have %v)", mode, p.Modes())
	}
	return l, nil
}

// Modes lists the defined modes in name order.
func (p Profiles) Modes() []Mode {
	out := make([]Mode, 0, len(p))
	for m := range p {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
