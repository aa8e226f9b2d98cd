package i18n

import (
	"reflect"
	"sync"
)

// Language type
type Language string

const (
	LangEN Language = "en"
	LangID Language = "id"
)

// Messages holds all translatable strings
type Messages struct {
	// System
	Starting           string
	ConfigLoaded       string
	UsingDBPath        string
	ServerListening    string
	ShuttingDown       string
	PaperMode          string
	ConfigLoadFailed   string
	DBInitFailed       string
	DBMigrationsFailed string
	SessionLoadFailed  string
	APIServerError     string
	ConnectFailed      string

	// Notifications
	BotStarted      string
	BotStopped      string
	PositionOpened  string
	PositionClosed  string
	EmergencyStop   string
	TradingEnabled  string
	TradingDisabled string
	MarginStatus    string
	RiskAlert       string
	ConnectionLost  string
	Win             string
	Loss            string

	// Position origin
	OriginBot    string
	OriginOther  string
	OriginManual string

	// Gates
	GateTradingDisabled string
	GateMaxPositions    string
	GateDailyLoss       string
	GateDailyTrades     string
	GateSessionLoss     string
	GateSpread          string
	GateSession         string
}

var (
	currentLang Language = LangEN
	mu          sync.RWMutex
	messages    *Messages
)

// English messages
var messagesEN = Messages{
	// System
	Starting:           "Starting MT5 trading bot...",
	ConfigLoaded:       "Config loaded (symbol: %s, risk mode: %s)",
	UsingDBPath:        "Using DB path: %s",
	ServerListening:    "Admin API listening on :%s",
	ShuttingDown:       "Shutting down gracefully...",
	PaperMode:          "Running in PAPER mode (orders are simulated in-process)",
	ConfigLoadFailed:   "Failed to load config: %v",
	DBInitFailed:       "Failed to init database: %v",
	DBMigrationsFailed: "Failed to apply migrations: %v",
	SessionLoadFailed:  "Failed to load session state: %v",
	APIServerError:     "API server error: %v",
	ConnectFailed:      "Failed to connect to terminal, aborting startup",

	// Notifications
	BotStarted:      "🤖 <b>Bot started</b>\nSymbol: %s\nMode: %s\nBalance: %.2f %s\nOpen positions: %d",
	BotStopped:      "🛑 <b>Bot stopped</b>\nTrades today: %d\nDaily P&L: %.2f",
	PositionOpened:  "📈 <b>Position opened</b> (%s)\nTicket: %d\n%s %s %.2f lot @ %.5f\nBalance: %.2f | Equity: %.2f\nMargin level: %.1f%% | Free margin: %.2f",
	PositionClosed:  "%s <b>Position closed</b> (%s)\nTicket: %d\n%s %.2f lot\nEntry: %.5f | Exit: %.5f\nP&L: %.2f",
	EmergencyStop:   "🚨 <b>EMERGENCY STOP</b>\nReason: %s\nPositions closed: %d",
	TradingEnabled:  "▶️ <b>Trading enabled</b> by %s",
	TradingDisabled: "⏸ <b>Trading disabled</b>\nReason: %s",
	MarginStatus:    "⚠️ <b>Margin %s</b>\nMargin level: %.1f%% (was %s)",
	RiskAlert:       "⚠️ <b>Risk alert</b>\n%s",
	ConnectionLost:  "🔌 <b>Terminal connection lost</b>\nReconnect attempts exhausted: %s",
	Win:             "WIN",
	Loss:            "LOSS",

	// Position origin
	OriginBot:    "bot",
	OriginOther:  "other bot",
	OriginManual: "manual",

	// Gates
	GateTradingDisabled: "trading disabled: %s",
	GateMaxPositions:    "max open positions reached (%d/%d)",
	GateDailyLoss:       "daily loss limit reached (%.2f%%)",
	GateDailyTrades:     "max daily trades reached (%d/%d)",
	GateSessionLoss:     "max daily loss reached (%.2f <= -%.2f)",
	GateSpread:          "spread too wide (%d > %d points)",
	GateSession:         "outside trading session",
}

// Indonesian messages
var messagesID = Messages{
	// System
	Starting:           "Memulai bot trading MT5...",
	ConfigLoaded:       "Konfigurasi dimuat (simbol: %s, mode risiko: %s)",
	UsingDBPath:        "Menggunakan database: %s",
	ServerListening:    "API admin berjalan di :%s",
	ShuttingDown:       "Menghentikan bot...",
	PaperMode:          "Berjalan dalam mode PAPER (order disimulasikan)",
	ConfigLoadFailed:   "Gagal memuat konfigurasi: %v",
	DBInitFailed:       "Gagal membuka database: %v",
	DBMigrationsFailed: "Gagal menerapkan migrasi: %v",
	SessionLoadFailed:  "Gagal memuat state sesi: %v",
	APIServerError:     "Kesalahan server API: %v",
	ConnectFailed:      "Gagal terhubung ke terminal, startup dibatalkan",

	// Notifications
	BotStarted:      "🤖 <b>Bot dimulai</b>\nSimbol: %s\nMode: %s\nSaldo: %.2f %s\nPosisi terbuka: %d",
	BotStopped:      "🛑 <b>Bot dihentikan</b>\nTrade hari ini: %d\nP&L harian: %.2f",
	PositionOpened:  "📈 <b>Posisi dibuka</b> (%s)\nTiket: %d\n%s %s %.2f lot @ %.5f\nSaldo: %.2f | Ekuitas: %.2f\nLevel margin: %.1f%% | Margin bebas: %.2f",
	PositionClosed:  "%s <b>Posisi ditutup</b> (%s)\nTiket: %d\n%s %.2f lot\nMasuk: %.5f | Keluar: %.5f\nP&L: %.2f",
	EmergencyStop:   "🚨 <b>STOP DARURAT</b>\nAlasan: %s\nPosisi ditutup: %d",
	TradingEnabled:  "▶️ <b>Trading diaktifkan</b> oleh %s",
	TradingDisabled: "⏸ <b>Trading dinonaktifkan</b>\nAlasan: %s",
	MarginStatus:    "⚠️ <b>Margin %s</b>\nLevel margin: %.1f%% (sebelumnya %s)",
	RiskAlert:       "⚠️ <b>Peringatan risiko</b>\n%s",
	ConnectionLost:  "🔌 <b>Koneksi terminal terputus</b>\nPercobaan koneksi ulang habis: %s",
	Win:             "PROFIT",
	Loss:            "RUGI",

	// Position origin
	OriginBot:    "bot",
	OriginOther:  "bot lain",
	OriginManual: "manual",

	// Gates
	GateTradingDisabled: "trading dinonaktifkan: %s",
	GateMaxPositions:    "batas posisi terbuka tercapai (%d/%d)",
	GateDailyLoss:       "batas rugi harian tercapai (%.2f%%)",
	GateDailyTrades:     "batas trade harian tercapai (%d/%d)",
	GateSessionLoss:     "batas rugi harian tercapai (%.2f <= -%.2f)",
	GateSpread:          "spread terlalu lebar (%d > %d poin)",
	GateSession:         "di luar sesi trading",
}

func init() {
	messages = &messagesEN
}

// SetLanguage sets the current language
func SetLanguage(lang Language) {
	mu.Lock()
	defer mu.Unlock()

	currentLang = lang
	switch lang {
	case LangID:
		messages = &messagesID
	default:
		currentLang = LangEN
		messages = &messagesEN
	}
}

// GetLanguage returns the current language
func GetLanguage() Language {
	mu.RLock()
	defer mu.RUnlock()
	return currentLang
}

// M returns the current messages
func M() *Messages {
	mu.RLock()
	defer mu.RUnlock()
	return messages
}

// Get returns specific message by key dynamically using reflection
func Get(key string) string {
	msg := M()
	v := reflect.ValueOf(msg).Elem()
	f := v.FieldByName(key)
	if f.IsValid() && f.Kind() == reflect.String {
		return f.String()
	}
	return key
}
