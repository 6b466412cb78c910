package monitor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scalp-core/internal/events"
)

// value reads a single counter or gauge.
func value(c prometheus.Collector) float64 {
	ch := make(chan prometheus.Metric, 1)
	c.Collect(ch)
	var pb dto.Metric
	if err := (<-ch).Write(&pb); err != nil {
		return -1
	}
	if pb.Counter != nil {
		return pb.Counter.GetValue()
	}
	return pb.Gauge.GetValue()
}

func TestMetricsRecord(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.EntryOutcome("placed")
	m.EntryOutcome("placed")
	m.EntryOutcome("aborted")
	m.TradeClosed("sl", -1.5)
	m.TradeClosed("tp", 2)
	m.PositionOpen(true)
	m.DailyPnL(0.5)
	m.TickDropped()
	m.ObserveExchangeCall("place_limit", 20*time.Millisecond, nil)
	m.ObserveExchangeCall("place_limit", 40*time.Millisecond, errors.New("rejected"))

	assert.Equal(t, 2.0, value(m.entries.WithLabelValues("placed")))
	assert.Equal(t, 1.0, value(m.exits.WithLabelValues("sl", "loss")))
	assert.Equal(t, 1.0, value(m.exits.WithLabelValues("tp", "win")))
	assert.Equal(t, 3.5, value(m.realized))
	assert.Equal(t, 1.0, value(m.openPosition))
	assert.Equal(t, 0.5, value(m.dailyPnL))
	assert.Equal(t, 1.0, value(m.callErrors.WithLabelValues("place_limit")))

	snap := m.GetSnapshot()
	assert.Equal(t, uint64(2), snap.ExchangeCalls)
	assert.Equal(t, uint64(1), snap.ExchangeErrors)
	assert.Equal(t, uint64(1), snap.TicksDropped)
	assert.Equal(t, 2, snap.ExchangeLatency.Count)
	assert.InDelta(t, 30, snap.ExchangeLatency.Avg, 1e-9)

	m.PositionOpen(false)
	assert.Equal(t, 0.0, value(m.openPosition))
}

func TestLatencyHistogramWindow(t *testing.T) {
	h := NewLatencyHistogram(3)
	assert.Equal(t, LatencyStats{}, h.Stats())
	for _, v := range []float64{100, 1, 2, 3} {
		h.Record(v)
	}
	s := h.Stats()
	assert.Equal(t, 3, s.Count)
	assert.Equal(t, 1.0, s.Min)
	assert.Equal(t, 3.0, s.Max)
	assert.Equal(t, 2.0, s.P50)
}

func TestMonitorForwardsAlerts(t *testing.T) {
	bus := events.NewBus()
	var mu sync.Mutex
	var got []events.Alert
	m := &Monitor{
		Bus:     bus,
		Metrics: NewMetrics(nil),
		Sinks: []AlertSink{SinkFunc(func(a events.Alert) error {
			mu.Lock()
			defer mu.Unlock()
			got = append(got, a)
			return nil
		})},
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)

	bus.Publish(events.EventRiskAlert, events.Alert{Severity: "fatal", Symbol: "BTCUSDT", Message: "exit failed"})
	bus.Publish(events.EventRiskAlert, "plain text")

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 2
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, "fatal", got[0].Severity)
	assert.Equal(t, "plain text", got[1].Message)
	assert.Equal(t, 1.0, value(m.Metrics.alertsEmitted.WithLabelValues("fatal")))
}
