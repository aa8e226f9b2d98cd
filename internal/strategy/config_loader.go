package strategy

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config holds the crossover source parameters.
type Config struct {
	FastPeriod    int     `yaml:"sma_fast"`
	SlowPeriod    int     `yaml:"sma_slow"`
	RSIPeriod     int     `yaml:"rsi_period"`
	ATRPeriod     int     `yaml:"atr_period"`
	RSIOverbought float64 `yaml:"rsi_overbought"`
	RSIOversold   float64 `yaml:"rsi_oversold"`
	SLATRMult     float64 `yaml:"atr_sl_multiplier"`
	TPATRMult     float64 `yaml:"atr_tp_multiplier"`
}

// DefaultConfig is SMA 5/50 with an RSI(20) filter and ATR(14) stops.
func DefaultConfig() Config {
	return Config{
		FastPeriod:    5,
		SlowPeriod:    50,
		RSIPeriod:     20,
		ATRPeriod:     14,
		RSIOverbought: 70,
		RSIOversold:   30,
		SLATRMult:     2.5,
		TPATRMult:     4.0,
	}
}

// LoadConfig overlays a YAML file on DefaultConfig. An empty path returns the defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse strategy config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("strategy config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks periods and multipliers.
func (c Config) Validate() error {
	if c.FastPeriod <= 0 || c.SlowPeriod <= c.FastPeriod {
		return fmt.Errorf("need 0 < sma_fast < sma_slow, got %d/%d", c.FastPeriod, c.SlowPeriod)
	}
	if c.RSIPeriod <= 0 || c.ATRPeriod <= 0 {
		return fmt.Errorf("rsi_period and atr_period must be positive")
	}
	if c.SLATRMult <= 0 || c.TPATRMult <= 0 {
		return fmt.Errorf("ATR multipliers must be positive")
	}
	return nil
}
