package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("RISK_MODE", "")
	t.Setenv("MAGIC_NUMBER", "")
	t.Setenv("CHECK_INTERVAL", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.RiskMode != "moderate" {
		t.Errorf("RiskMode = %q", cfg.RiskMode)
	}
	if cfg.MagicNumber != 2300 || cfg.BotComment != "AutoBot" {
		t.Errorf("identity = %d/%q", cfg.MagicNumber, cfg.BotComment)
	}
	if cfg.CheckInterval != time.Second || cfg.ErrorCooldown != 10*time.Second {
		t.Errorf("intervals = %v/%v", cfg.CheckInterval, cfg.ErrorCooldown)
	}
	if !cfg.NotifyOnRestart {
		t.Errorf("NotifyOnRestart should default to true")
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("RISK_MODE", "Aggressive")
	t.Setenv("MAGIC_NUMBER", "777")
	t.Setenv("CHECK_INTERVAL", "250ms")
	t.Setenv("ERROR_COOLDOWN", "3")
	t.Setenv("TELEGRAM_CHAT_IDS", " 1, 2 ,,3")
	t.Setenv("NOTIFY_ON_RESTART", "false")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.RiskMode != "aggressive" || cfg.MagicNumber != 777 {
		t.Errorf("got mode %q magic %d", cfg.RiskMode, cfg.MagicNumber)
	}
	if cfg.CheckInterval != 250*time.Millisecond || cfg.ErrorCooldown != 3*time.Second {
		t.Errorf("intervals = %v/%v", cfg.CheckInterval, cfg.ErrorCooldown)
	}
	if got := strings.Join(cfg.TelegramChatIDs, "|"); got != "1|2|3" {
		t.Errorf("chat ids = %q", got)
	}
	if cfg.NotifyOnRestart {
		t.Errorf("NotifyOnRestart should be false")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"ok", func(*Config) {}, ""},
		{"unknown mode", func(c *Config) { c.RiskMode = "yolo" }, "unknown RISK_MODE"},
		{"unknown mode with table", func(c *Config) { c.RiskMode = "scalp"; c.RiskProfilesFile = "profiles.yaml" }, "unknown RISK_MODE"},
		{"zero magic", func(c *Config) { c.MagicNumber = 0 }, "MAGIC_NUMBER"},
		{"bad interval", func(c *Config) { c.CheckInterval = 0 }, "CHECK_INTERVAL"},
		{"zero timeframe", func(c *Config) { c.Timeframe = 0 }, "TIMEFRAME"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{RiskMode: "moderate", MagicNumber: 2300, Symbol: "BTCUSD", CheckInterval: time.Second, BrokerRPS: 20, Timeframe: 1, DataBars: 100}
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}
