package monitor

import (
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// SystemMetrics tracks overall bot performance.
type SystemMetrics struct {
	// Latency histograms
	OrderLatency     *LatencyHistogram
	ReconcileLatency *LatencyHistogram
	SignalLatency    *LatencyHistogram

	// Counters
	ordersSucceeded  uint64
	ordersRejected   uint64
	ordersFailed     uint64
	cycles           uint64
	signalsGenerated uint64
	errorsCount      uint64

	startedAt time.Time
}

// LatencyHistogram tracks latency samples with sliding window.
// Stats are computed lazily and cached until the next sample.
type LatencyHistogram struct {
	mu          sync.Mutex
	samples     []float64
	maxSize     int
	next        int
	dirty       bool
	cachedStats LatencyStats
}

// NewSystemMetrics creates a new metrics instance.
func NewSystemMetrics() *SystemMetrics {
	return &SystemMetrics{
		OrderLatency:     NewLatencyHistogram(1000),
		ReconcileLatency: NewLatencyHistogram(1000),
		SignalLatency:    NewLatencyHistogram(1000),
		startedAt:        time.Now(),
	}
}

// NewLatencyHistogram creates a sliding window histogram.
func NewLatencyHistogram(size int) *LatencyHistogram {
	if size <= 0 {
		size = 1000
	}
	return &LatencyHistogram{
		samples: make([]float64, 0, size),
		maxSize: size,
		dirty:   true,
	}
}

// Record adds a latency sample in milliseconds, overwriting the oldest once full.
func (h *LatencyHistogram) Record(latencyMs float64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.samples) < h.maxSize {
		h.samples = append(h.samples, latencyMs)
	} else {
		h.samples[h.next] = latencyMs
		h.next = (h.next + 1) % h.maxSize
	}
	h.dirty = true
}

// RecordDuration converts duration to ms and records.
func (h *LatencyHistogram) RecordDuration(d time.Duration) {
	h.Record(float64(d.Nanoseconds()) / 1e6)
}

// Stats returns min, max, avg, p50, p95, p99.
func (h *LatencyHistogram) Stats() LatencyStats {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.dirty {
		return h.cachedStats
	}

	n := len(h.samples)
	if n == 0 {
		return LatencyStats{}
	}

	sorted := make([]float64, n)
	copy(sorted, h.samples)
	sort.Float64s(sorted)

	var sum float64
	for _, v := range sorted {
		sum += v
	}

	h.cachedStats = LatencyStats{
		Min:   sorted[0],
		Max:   sorted[n-1],
		Avg:   sum / float64(n),
		P50:   percentile(sorted, 0.50),
		P95:   percentile(sorted, 0.95),
		P99:   percentile(sorted, 0.99),
		Count: n,
	}
	h.dirty = false

	return h.cachedStats
}

func percentile(sorted []float64, p float64) float64 {
	idx := int(float64(len(sorted)) * p)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// LatencyStats holds computed latency statistics.
type LatencyStats struct {
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Avg   float64 `json:"avg"`
	P50   float64 `json:"p50"`
	P95   float64 `json:"p95"`
	P99   float64 `json:"p99"`
	Count int     `json:"count"`
}

// OrderOutcome counts a finished order by its result kind.
func (m *SystemMetrics) OrderOutcome(kind string) {
	switch kind {
	case "SUCCESS":
		atomic.AddUint64(&m.ordersSucceeded, 1)
	case "REJECTED":
		atomic.AddUint64(&m.ordersRejected, 1)
	default:
		atomic.AddUint64(&m.ordersFailed, 1)
	}
}

// IncrementCycles counts a completed trading loop iteration.
func (m *SystemMetrics) IncrementCycles() {
	atomic.AddUint64(&m.cycles, 1)
}

// IncrementSignals increments generated signals counter.
func (m *SystemMetrics) IncrementSignals() {
	atomic.AddUint64(&m.signalsGenerated, 1)
}

// IncrementErrors increments error counter.
func (m *SystemMetrics) IncrementErrors() {
	atomic.AddUint64(&m.errorsCount, 1)
}

// MetricsSnapshot is a point-in-time copy for the status endpoint.
type MetricsSnapshot struct {
	OrderLatency     LatencyStats `json:"order_latency"`
	ReconcileLatency LatencyStats `json:"reconcile_latency"`
	SignalLatency    LatencyStats `json:"signal_latency"`
	OrdersSucceeded  uint64       `json:"orders_succeeded"`
	OrdersRejected   uint64       `json:"orders_rejected"`
	OrdersFailed     uint64       `json:"orders_failed"`
	Cycles           uint64       `json:"cycles"`
	SignalsGenerated uint64       `json:"signals_generated"`
	ErrorsCount      uint64       `json:"errors_count"`
	GoroutineCount   int          `json:"goroutine_count"`
	HeapAlloc        uint64       `json:"heap_alloc_bytes"`
	Uptime           string       `json:"uptime"`
	Timestamp        time.Time    `json:"timestamp"`
}

// GetSnapshot returns a point-in-time metrics snapshot.
func (m *SystemMetrics) GetSnapshot() MetricsSnapshot {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	return MetricsSnapshot{
		OrderLatency:     m.OrderLatency.Stats(),
		ReconcileLatency: m.ReconcileLatency.Stats(),
		SignalLatency:    m.SignalLatency.Stats(),
		OrdersSucceeded:  atomic.LoadUint64(&m.ordersSucceeded),
		OrdersRejected:   atomic.LoadUint64(&m.ordersRejected),
		OrdersFailed:     atomic.LoadUint64(&m.ordersFailed),
		Cycles:           atomic.LoadUint64(&m.cycles),
		SignalsGenerated: atomic.LoadUint64(&m.signalsGenerated),
		ErrorsCount:      atomic.LoadUint64(&m.errorsCount),
		GoroutineCount:   runtime.NumGoroutine(),
		HeapAlloc:        memStats.HeapAlloc,
		Uptime:           time.Since(m.startedAt).Round(time.Second).String(),
		Timestamp:        time.Now(),
	}
}

// Timer helps measure operation duration.
type Timer struct {
	start     time.Time
	histogram *LatencyHistogram
}

// NewTimer creates a timer that records to the given histogram.
func NewTimer(h *LatencyHistogram) *Timer {
	return &Timer{
		start:     time.Now(),
		histogram: h,
	}
}

// Stop records elapsed time to histogram.
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	if t.histogram != nil {
		t.histogram.RecordDuration(elapsed)
	}
	return elapsed
}
