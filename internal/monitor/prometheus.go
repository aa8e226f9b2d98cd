package monitor

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prom holds the exported Prometheus series. Each instance owns its registry
// so several bots (or tests) can coexist in one process.
type Prom struct {
	Registry *prometheus.Registry

	Orders          *prometheus.CounterVec
	OrderLatency    prometheus.Histogram
	Equity          prometheus.Gauge
	Balance         prometheus.Gauge
	DrawdownPct     prometheus.Gauge
	DailyPnL        prometheus.Gauge
	MarginLevel     prometheus.Gauge
	OpenPositions   prometheus.Gauge
	TradingEnabled  prometheus.Gauge
	ConnectionState prometheus.Gauge
	EmergencyStops  prometheus.Counter
	LoopErrors      prometheus.Counter
}

// NewProm registers the bot series plus Go runtime collectors.
func NewProm() *Prom {
	p := &Prom{
		Registry: prometheus.NewRegistry(),
		Orders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bot_orders_total", Help: "Orders sent to the terminal by result kind",
		}, []string{"kind"}),
		OrderLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "bot_order_latency_seconds",
			Help:    "Round trip time of order submissions",
			Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}),
		Equity:          prometheus.NewGauge(prometheus.GaugeOpts{Name: "bot_account_equity", Help: "Last observed account equity"}),
		Balance:         prometheus.NewGauge(prometheus.GaugeOpts{Name: "bot_account_balance", Help: "Last observed account balance"}),
		DrawdownPct:     prometheus.NewGauge(prometheus.GaugeOpts{Name: "bot_drawdown_percent", Help: "Current drawdown from peak equity"}),
		DailyPnL:        prometheus.NewGauge(prometheus.GaugeOpts{Name: "bot_daily_pnl", Help: "Equity change since the start of the UTC day"}),
		MarginLevel:     prometheus.NewGauge(prometheus.GaugeOpts{Name: "bot_margin_level_percent", Help: "Account margin level"}),
		OpenPositions:   prometheus.NewGauge(prometheus.GaugeOpts{Name: "bot_open_positions", Help: "Positions in the reconciled live set"}),
		TradingEnabled:  prometheus.NewGauge(prometheus.GaugeOpts{Name: "bot_trading_enabled", Help: "1 when new entries are allowed"}),
		ConnectionState: prometheus.NewGauge(prometheus.GaugeOpts{Name: "bot_connection_state", Help: "0=disconnected, 1=connecting, 2=connected, 3=reconnecting"}),
		EmergencyStops:  prometheus.NewCounter(prometheus.CounterOpts{Name: "bot_emergency_stops_total", Help: "Emergency stops triggered"}),
		LoopErrors:      prometheus.NewCounter(prometheus.CounterOpts{Name: "bot_loop_errors_total", Help: "Unexpected errors in the trading loop"}),
	}
	p.Registry.MustRegister(
		p.Orders, p.OrderLatency,
		p.Equity, p.Balance, p.DrawdownPct, p.DailyPnL, p.MarginLevel,
		p.OpenPositions, p.TradingEnabled, p.ConnectionState,
		p.EmergencyStops, p.LoopErrors,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return p
}

// Handler exposes the registry in the Prometheus text format.
func (p *Prom) Handler() http.Handler {
	return promhttp.HandlerFor(p.Registry, promhttp.HandlerOpts{})
}

// SetBool writes 1 or 0 to g.
func SetBool(g prometheus.Gauge, v bool) {
	if v {
		g.Set(1)
		return
	}
	g.Set(0)
}
