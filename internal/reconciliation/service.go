// Package reconciliation compares the locally tracked position with what the
// exchange reports and flags any disagreement.
package reconciliation

import (
	"context"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Kind classifies a reconciliation outcome.
type Kind string

const (
	KindOK      Kind = "ok"
	KindDrift   Kind = "drift"   // both sides hold a position but sizes differ
	KindSettled Kind = "settled" // local position is gone on the exchange
	KindOrphan  Kind = "orphan"  // exchange holds a position we do not track
)

// Report is the outcome of one reconciliation pass.
type Report struct {
	Timestamp   time.Time `json:"timestamp"`
	Symbol      string    `json:"symbol"`
	LocalQty    float64   `json:"localQty"`
	ExchangeQty float64   `json:"exchangeQty"`
	Difference  float64   `json:"difference"`
	Kind        Kind      `json:"kind"`
	Skipped     bool      `json:"skipped,omitempty"`
}

// Compare classifies signed local and exchange quantities. Differences within
// tolerance count as equal.
func Compare(symbol string, local, remote, tolerance float64, at time.Time) Report {
	r := Report{
		Timestamp:   at,
		Symbol:      symbol,
		LocalQty:    local,
		ExchangeQty: remote,
		Difference:  remote - local,
		Kind:        KindOK,
	}
	flat := func(v float64) bool { return math.Abs(v) <= tolerance }
	switch {
	case flat(local) && flat(remote):
	case !flat(local) && flat(remote):
		r.Kind = KindSettled
	case flat(local) && !flat(remote):
		r.Kind = KindOrphan
	case math.Signbit(local) != math.Signbit(remote) || !flat(r.Difference):
		r.Kind = KindDrift
	}
	return r
}

// CheckFunc runs one reconciliation pass.
type CheckFunc func(ctx context.Context) (Report, error)

// Service runs a CheckFunc periodically and keeps the latest report.
type Service struct {
	check    CheckFunc
	interval time.Duration
	log      *zap.Logger

	mu   sync.RWMutex
	last Report
	runs int
}

func NewService(check CheckFunc, interval time.Duration, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Service{check: check, interval: interval, log: log}
}

// Start begins periodic reconciliation until ctx is done.
func (s *Service) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := s.RunOnce(ctx); err != nil {
					s.log.Warn("reconciliation failed", zap.Error(err))
				}
			}
		}
	}()
	s.log.Info("reconciliation started", zap.Duration("interval", s.interval))
}

// RunOnce performs a single pass and records its report.
func (s *Service) RunOnce(ctx context.Context) (Report, error) {
	report, err := s.check(ctx)
	if err != nil {
		return Report{}, err
	}
	if report.Skipped {
		return report, nil
	}
	s.mu.Lock()
	s.last = report
	s.runs++
	s.mu.Unlock()

	if report.Kind != KindOK {
		s.log.Warn("position mismatch",
			zap.String("symbol", report.Symbol),
			zap.String("kind", string(report.Kind)),
			zap.Float64("local", report.LocalQty),
			zap.Float64("exchange", report.ExchangeQty))
	}
	return report, nil
}

// LastReport returns the most recent recorded report.
func (s *Service) LastReport() (Report, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last, s.runs > 0
}
