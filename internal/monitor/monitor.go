// Package monitor exposes prometheus metrics and forwards risk alerts to
// alert sinks.
package monitor

import (
	"context"

	"go.uber.org/zap"

	"scalp-core/internal/events"
)

// Monitor watches risk alerts and fans them out to sinks.
type Monitor struct {
	Bus     *events.Bus
	Sinks   []AlertSink
	Metrics *Metrics
	Log     *zap.Logger
}

// Start forwards alerts until ctx is done.
func (m *Monitor) Start(ctx context.Context) {
	if m.Log == nil {
		m.Log = zap.NewNop()
	}
	if m.Bus == nil || len(m.Sinks) == 0 {
		m.Log.Warn("monitor not fully configured; skipping")
		return
	}
	stream, unsub := m.Bus.Subscribe(events.EventRiskAlert, 50)
	go func() {
		defer unsub()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-stream:
				if !ok {
					return
				}
				m.forward(toAlert(msg))
			}
		}
	}()
}

func (m *Monitor) forward(a events.Alert) {
	if m.Metrics != nil {
		m.Metrics.alert(a.Severity)
	}
	for _, s := range m.Sinks {
		if err := s.Send(a); err != nil {
			m.Log.Warn("alert delivery failed", zap.Error(err))
		}
	}
}

func toAlert(v any) events.Alert {
	switch t := v.(type) {
	case events.Alert:
		return t
	case string:
		return events.Alert{Severity: "warn", Message: t}
	default:
		return events.Alert{Severity: "warn", Message: "alert triggered"}
	}
}
