// Package tradelog is the append-only audit trail of every trading
// transition. Recent entries are kept in memory for snapshots; all entries
// are published on the bus and optionally persisted in batches.
package tradelog

import (
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"scalp-core/internal/events"
	"scalp-core/pkg/db"
)

// Kind classifies an entry.
type Kind string

const (
	KindSignal   Kind = "signal"
	KindEntry    Kind = "entry"
	KindFill     Kind = "fill"
	KindCancel   Kind = "cancel"
	KindActivate Kind = "activate"
	KindExit     Kind = "exit"
	KindStop     Kind = "stop"
	KindInfo     Kind = "info"
	KindError    Kind = "error"
	KindFatal    Kind = "fatal"
)

// Entry is one audit record.
type Entry struct {
	Seq     uint64         `json:"seq"`
	Time    time.Time      `json:"time"`
	Kind    Kind           `json:"kind"`
	Symbol  string         `json:"symbol,omitempty"`
	Message string         `json:"message"`
	Fields  map[string]any `json:"fields,omitempty"`
}

// Sink receives every entry for persistence. The batch writer satisfies it.
type Sink interface {
	Write(e db.LogEntry)
}

// Log is a bounded ring of recent entries.
type Log struct {
	bus  *events.Bus
	sink Sink
	log  *zap.Logger
	now  func() time.Time

	mu   sync.Mutex
	buf  []Entry
	next int
	full bool
	seq  uint64
}

// New creates a log keeping the last capacity entries in memory.
func New(capacity int, bus *events.Bus, sink Sink, log *zap.Logger) *Log {
	if capacity <= 0 {
		capacity = 500
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Log{bus: bus, sink: sink, log: log, now: time.Now, buf: make([]Entry, capacity)}
}

// SetClock replaces the wall clock.
func (l *Log) SetClock(now func() time.Time) {
	l.mu.Lock()
	l.now = now
	l.mu.Unlock()
}

// Add appends an entry and returns it with its sequence number.
func (l *Log) Add(kind Kind, symbol, message string, fields map[string]any) Entry {
	l.mu.Lock()
	l.seq++
	e := Entry{Seq: l.seq, Time: l.now(), Kind: kind, Symbol: symbol, Message: message, Fields: fields}
	l.buf[l.next] = e
	l.next = (l.next + 1) % len(l.buf)
	if l.next == 0 {
		l.full = true
	}
	l.mu.Unlock()

	l.mirror(e)
	l.bus.Publish(events.EventTradeLog, e)
	if l.sink != nil {
		l.sink.Write(toRow(e))
	}
	return e
}

// Recent returns up to n entries, oldest first. n <= 0 returns everything held.
func (l *Log) Recent(n int) []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	size := l.next
	start := 0
	if l.full {
		size = len(l.buf)
		start = l.next
	}
	if n <= 0 || n > size {
		n = size
	}
	out := make([]Entry, 0, n)
	for i := size - n; i < size; i++ {
		out = append(out, l.buf[(start+i)%len(l.buf)])
	}
	return out
}

// Len is the number of entries held in memory.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.full {
		return len(l.buf)
	}
	return l.next
}

func (l *Log) mirror(e Entry) {
	fields := []zap.Field{zap.Uint64("seq", e.Seq), zap.String("kind", string(e.Kind))}
	if e.Symbol != "" {
		fields = append(fields, zap.String("symbol", e.Symbol))
	}
	if len(e.Fields) > 0 {
		fields = append(fields, zap.Any("fields", e.Fields))
	}
	switch e.Kind {
	case KindFatal:
		l.log.Error(e.Message, fields...)
	case KindError:
		l.log.Warn(e.Message, fields...)
	default:
		l.log.Info(e.Message, fields...)
	}
}

func toRow(e Entry) db.LogEntry {
	row := db.LogEntry{Seq: e.Seq, Time: e.Time, Kind: string(e.Kind), Symbol: e.Symbol, Message: e.Message}
	if len(e.Fields) > 0 {
		if b, err := json.Marshal(e.Fields); err == nil {
			row.Fields = string(b)
		}
	}
	return row
}
