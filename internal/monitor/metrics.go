package monitor

import (
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes engine and exchange metrics to prometheus and keeps a
// sliding latency window for the JSON stats endpoint. It implements
// engine.Metrics and order.Recorder.
type Metrics struct {
	entries       *prometheus.CounterVec
	exits         *prometheus.CounterVec
	realized      prometheus.Counter
	calls         *prometheus.HistogramVec
	callErrors    *prometheus.CounterVec
	openPosition  prometheus.Gauge
	dailyPnL      prometheus.Gauge
	ticksDropped  prometheus.Counter
	alertsEmitted *prometheus.CounterVec

	ExchangeLatency *LatencyHistogram

	exchangeCalls  atomic.Uint64
	exchangeErrors atomic.Uint64
	dropped        atomic.Uint64
	started        time.Time
}

// NewMetrics creates the collectors and registers them on reg. A nil reg
// leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		entries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scalp_entries_total",
			Help: "Entry attempts by outcome (placed|filled|low_fill|aborted|rejected|error).",
		}, []string{"outcome"}),
		exits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scalp_exits_total",
			Help: "Closed positions by exit reason and result.",
		}, []string{"reason", "result"}),
		realized: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scalp_realized_pnl_abs_total",
			Help: "Sum of absolute realized PnL in quote currency.",
		}),
		calls: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "scalp_exchange_call_seconds",
			Help:    "Exchange REST round trip latency by operation.",
			Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}, []string{"op"}),
		callErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scalp_exchange_errors_total",
			Help: "Failed exchange calls by operation.",
		}, []string{"op"}),
		openPosition: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "scalp_position_open",
			Help: "1 while a position is active.",
		}),
		dailyPnL: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "scalp_daily_pnl",
			Help: "Realized PnL of the current trading day, net of fees.",
		}),
		ticksDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scalp_ticks_dropped_total",
			Help: "Price ticks dropped while the engine was busy.",
		}),
		alertsEmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scalp_alerts_total",
			Help: "Alerts forwarded by severity.",
		}, []string{"severity"}),
		ExchangeLatency: NewLatencyHistogram(1000),
		started:         time.Now(),
	}
	if reg != nil {
		reg.MustRegister(m.entries, m.exits, m.realized, m.calls, m.callErrors,
			m.openPosition, m.dailyPnL, m.ticksDropped, m.alertsEmitted)
	}
	return m
}

func (m *Metrics) EntryOutcome(outcome string) { m.entries.WithLabelValues(outcome).Inc() }

func (m *Metrics) TradeClosed(reason string, pnl float64) {
	result := "loss"
	if pnl > 0 {
		result = "win"
	}
	m.exits.WithLabelValues(reason, result).Inc()
	if pnl < 0 {
		pnl = -pnl
	}
	m.realized.Add(pnl)
}

func (m *Metrics) PositionOpen(open bool) {
	if open {
		m.openPosition.Set(1)
		return
	}
	m.openPosition.Set(0)
}

func (m *Metrics) DailyPnL(pnl float64) { m.dailyPnL.Set(pnl) }

func (m *Metrics) TickDropped() {
	m.dropped.Add(1)
	m.ticksDropped.Inc()
}

// ObserveExchangeCall records one exchange round trip.
func (m *Metrics) ObserveExchangeCall(op string, d time.Duration, err error) {
	m.exchangeCalls.Add(1)
	m.calls.WithLabelValues(op).Observe(d.Seconds())
	m.ExchangeLatency.RecordDuration(d)
	if err != nil {
		m.exchangeErrors.Add(1)
		m.callErrors.WithLabelValues(op).Inc()
	}
}

func (m *Metrics) alert(severity string) { m.alertsEmitted.WithLabelValues(severity).Inc() }

// LatencyHistogram tracks latency samples with sliding window.
// Stats are computed lazily and cached until the next sample.
type LatencyHistogram struct {
	mu          sync.Mutex
	samples     []float64
	maxSize     int
	dirty       bool
	cachedStats LatencyStats
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

// Record adds a latency sample in milliseconds.
func (h *LatencyHistogram) Record(latencyMs float64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.samples) >= h.maxSize {
		h.samples = h.samples[1:]
	}
	h.samples = append(h.samples, latencyMs)
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

	if !h.dirty && h.cachedStats.Count > 0 {
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
		P50:   sorted[n/2],
		P95:   sorted[int(float64(n)*0.95)],
		P99:   sorted[int(float64(n)*0.99)],
		Count: n,
	}
	h.dirty = false
	return h.cachedStats
}

// LatencyStats holds computed latency statistics in milliseconds.
type LatencyStats struct {
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Avg   float64 `json:"avg"`
	P50   float64 `json:"p50"`
	P95   float64 `json:"p95"`
	P99   float64 `json:"p99"`
	Count int     `json:"count"`
}

// MetricsSnapshot is the JSON view served next to the engine state.
type MetricsSnapshot struct {
	ExchangeLatency LatencyStats `json:"exchange_latency"`
	ExchangeCalls   uint64       `json:"exchange_calls"`
	ExchangeErrors  uint64       `json:"exchange_errors"`
	TicksDropped    uint64       `json:"ticks_dropped"`
	GoroutineCount  int          `json:"goroutine_count"`
	HeapAlloc       uint64       `json:"heap_alloc_bytes"`
	Uptime          string       `json:"uptime"`
	Timestamp       time.Time    `json:"timestamp"`
}

// GetSnapshot returns a point-in-time metrics snapshot.
func (m *Metrics) GetSnapshot() MetricsSnapshot {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)
	return MetricsSnapshot{
		ExchangeLatency: m.ExchangeLatency.Stats(),
		ExchangeCalls:   m.exchangeCalls.Load(),
		ExchangeErrors:  m.exchangeErrors.Load(),
		TicksDropped:    m.dropped.Load(),
		GoroutineCount:  runtime.NumGoroutine(),
		HeapAlloc:       memStats.HeapAlloc,
		Uptime:          time.Since(m.started).Truncate(time.Second).String(),
		Timestamp:       time.Now(),
	}
}
