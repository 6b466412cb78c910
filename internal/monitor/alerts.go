package monitor

import (
	"go.uber.org/zap"

	"scalp-core/internal/events"
)

// AlertSink interface for pluggable alert delivery.
type AlertSink interface {
	Send(a events.Alert) error
}

// LogSink writes alerts to the logger; fatal alerts are logged at error level.
type LogSink struct {
	Log *zap.Logger
}

func (s LogSink) Send(a events.Alert) error {
	fields := []zap.Field{zap.String("symbol", a.Symbol), zap.String("severity", a.Severity)}
	if a.Severity == "fatal" {
		s.Log.Error(a.Message, fields...)
		return nil
	}
	s.Log.Warn(a.Message, fields...)
	return nil
}

// SinkFunc adapts a function to AlertSink.
type SinkFunc func(a events.Alert) error

func (f SinkFunc) Send(a events.Alert) error { return f(a) }
