package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds environment-driven settings for the trading bot.
type Config struct {
	EnvName string
	Port    string

	// Terminal
	PaperTrading bool
	TerminalAddr string // terminal bridge gRPC address
	MT5Account   int64
	MT5Password  string
	MT5Server    string
	MT5Path      string
	BrokerRPS    float64

	// Instrument and identity
	Symbol      string
	MagicNumber int64
	BotComment  string
	Deviation   int

	// Risk
	RiskMode         string
	RiskProfilesFile string
	LotSize          float64 // 0 means risk-based sizing
	MaxDailyTrades   int
	MaxDailyLoss     float64 // account currency
	MaxSpread        int     // points

	// Trading sessions (UTC)
	TradeLondon bool
	TradeNY     bool
	TradeAsian  bool

	// Loop
	CheckInterval time.Duration
	ErrorCooldown time.Duration
	DataBars      int
	Timeframe     int // bar period in minutes

	// Reconciliation
	NotifyOnRestart bool
	EventLogWindow  time.Duration // 0 keeps processed events for the whole session

	// Persistence
	DBPath      string
	SessionFile string
	LogFile     string

	// Notifications
	TelegramBotToken string
	TelegramChatIDs  []string
	NotifyLang       string

	// Admin API
	AdminJWTSecret string
	APIRateLimit   float64

	// Signals
	SignalWorkerAddr string
	StrategyFile     string

	// Shutdown
	ForceCloseOnShutdown bool
}

// Load reads environment variables (optionally via .env) into Config.
func Load() (*Config, error) {
	// Ignore error so the app still starts when .env is missing.
	_ = godotenv.Load()

	cfg := &Config{
		EnvName:              getEnv("ENV_NAME", "dev"),
		Port:                 getEnv("PORT", "8080"),
		PaperTrading:         getEnvBool("PAPER_TRADING", true),
		TerminalAddr:         getEnv("TERMINAL_ADDR", "localhost:50052"),
		MT5Account:           int64(getEnvInt("MT5_ACCOUNT", 0)),
		MT5Password:          os.Getenv("MT5_PASSWORD"),
		MT5Server:            os.Getenv("MT5_SERVER"),
		MT5Path:              os.Getenv("MT5_PATH"),
		BrokerRPS:            getEnvFloat("BROKER_RPS", 20),
		Symbol:               getEnv("SYMBOL", "BTCUSD"),
		MagicNumber:          int64(getEnvInt("MAGIC_NUMBER", 2300)),
		BotComment:           getEnv("BOT_COMMENT", "AutoBot"),
		Deviation:            getEnvInt("DEVIATION", 20),
		RiskMode:             strings.ToLower(getEnv("RISK_MODE", "moderate")),
		RiskProfilesFile:     getEnv("RISK_PROFILES_FILE", ""),
		LotSize:              getEnvFloat("LOT_SIZE", 0.01),
		MaxDailyTrades:       getEnvInt("MAX_DAILY_TRADES", 15),
		MaxDailyLoss:         getEnvFloat("MAX_DAILY_LOSS", 50),
		MaxSpread:            getEnvInt("MAX_SPREAD", 30),
		TradeLondon:          getEnvBool("TRADE_LONDON", true),
		TradeNY:              getEnvBool("TRADE_NY", true),
		TradeAsian:           getEnvBool("TRADE_ASIAN", false),
		CheckInterval:        getEnvDuration("CHECK_INTERVAL", time.Second),
		ErrorCooldown:        getEnvDuration("ERROR_COOLDOWN", 10*time.Second),
		DataBars:             getEnvInt("DATA_BARS", 100),
		Timeframe:            getEnvInt("TIMEFRAME", 1),
		NotifyOnRestart:      getEnvBool("NOTIFY_ON_RESTART", true),
		EventLogWindow:       getEnvDuration("EVENT_LOG_WINDOW", 0),
		DBPath:               getEnv("DB_PATH", "./data/mt5-trader.db"),
		SessionFile:          getEnv("SESSION_FILE", "./data/bot_state.json"),
		LogFile:              getEnv("LOG_FILE", ""),
		TelegramBotToken:     os.Getenv("TELEGRAM_BOT_TOKEN"),
		TelegramChatIDs:      splitAndTrim(getEnv("TELEGRAM_CHAT_IDS", "")),
		NotifyLang:           getEnv("NOTIFY_LANG", "en"),
		AdminJWTSecret:       getEnv("ADMIN_JWT_SECRET", ""),
		APIRateLimit:         getEnvFloat("API_RATE_LIMIT", 10),
		SignalWorkerAddr:     getEnv("SIGNAL_WORKER_ADDR", ""),
		StrategyFile:         getEnv("STRATEGY_FILE", ""),
		ForceCloseOnShutdown: getEnvBool("FORCE_CLOSE_ON_SHUTDOWN", false),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the bot cannot run with.
func (c *Config) Validate() error {
	var errs []error
	switch c.RiskMode {
	case "conservative", "moderate", "aggressive":
	default:
		errs = append(errs, fmt.Errorf("unknown RISK_MODE %q", c.RiskMode))
	}
	if c.MagicNumber <= 0 {
		errs = append(errs, errors.New("MAGIC_NUMBER must be positive"))
	}
	if c.Symbol == "" {
		errs = append(errs, errors.New("SYMBOL is required"))
	}
	if c.CheckInterval <= 0 {
		errs = append(errs, errors.New("CHECK_INTERVAL must be positive"))
	}
	if c.ErrorCooldown < 0 {
		errs = append(errs, errors.New("ERROR_COOLDOWN must not be negative"))
	}
	if c.LotSize < 0 {
		errs = append(errs, errors.New("LOT_SIZE must not be negative"))
	}
	if c.Timeframe <= 0 {
		errs = append(errs, errors.New("TIMEFRAME must be a positive number of minutes"))
	}
	if c.DataBars <= 0 {
		errs = append(errs, errors.New("DATA_BARS must be positive"))
	}
	if c.BrokerRPS <= 0 {
		errs = append(errs, errors.New("BROKER_RPS must be positive"))
	}
	return errors.Join(errs...)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func splitAndTrim(val string) []string {
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

// getEnvDuration accepts Go durations ("500ms") or plain seconds ("10").
func getEnvDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		return time.Duration(secs * float64(time.Second))
	}
	return def
}
