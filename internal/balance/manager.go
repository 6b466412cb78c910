// Package balance caches the quote-asset wallet used to size entries.
package balance

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"scalp-core/internal/events"
	"scalp-core/pkg/exchanges/common"
)

// ErrNotSynced is returned before the first successful sync.
var ErrNotSynced = errors.New("balance not synced yet")

// Source reports the account wallet.
type Source interface {
	GetBalance(ctx context.Context) (common.Balance, error)
}

// Snapshot is the cached wallet view.
type Snapshot struct {
	Asset     string    `json:"asset"`
	Total     float64   `json:"total"`
	Available float64   `json:"available"`
	LastSync  time.Time `json:"lastSync"`
}

// Manager keeps the wallet fresh by polling and by refreshing after every
// completed trade.
type Manager struct {
	source       Source
	syncInterval time.Duration
	log          *zap.Logger
	now          func() time.Time

	mu    sync.RWMutex
	cache Snapshot
}

func NewManager(source Source, syncInterval time.Duration, log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	if syncInterval <= 0 {
		syncInterval = time.Minute
	}
	return &Manager{source: source, syncInterval: syncInterval, log: log, now: time.Now}
}

// Start performs an initial sync and keeps syncing until ctx is done.
func (m *Manager) Start(ctx context.Context, bus *events.Bus) {
	if err := m.Sync(ctx); err != nil {
		m.log.Warn("initial balance sync failed", zap.Error(err))
	}

	var completed <-chan any
	unsub := func() {}
	if bus != nil {
		completed, unsub = bus.Subscribe(events.EventTradeCompleted, 8)
	}

	ticker := time.NewTicker(m.syncInterval)
	go func() {
		defer ticker.Stop()
		defer unsub()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			case _, ok := <-completed:
				if !ok {
					completed = nil
					continue
				}
			}
			if err := m.Sync(ctx); err != nil {
				m.log.Warn("balance sync failed", zap.Error(err))
			}
		}
	}()
}

// Sync fetches the latest wallet from the source.
func (m *Manager) Sync(ctx context.Context) error {
	if m.source == nil {
		return nil
	}
	b, err := m.source.GetBalance(ctx)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.cache = Snapshot{Asset: b.Asset, Total: b.Total, Available: b.Available, LastSync: m.now()}
	m.mu.Unlock()

	m.log.Debug("balance synced",
		zap.String("asset", b.Asset),
		zap.Float64("total", b.Total),
		zap.Float64("available", b.Available))
	return nil
}

// Available returns the cached available balance.
func (m *Manager) Available() (float64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.cache.LastSync.IsZero() {
		return 0, ErrNotSynced
	}
	return m.cache.Available, nil
}

// Snapshot returns the cached wallet view.
func (m *Manager) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cache
}

// GetBalance serves the cached wallet while it is fresh and falls back to the
// source otherwise.
func (m *Manager) GetBalance(ctx context.Context) (common.Balance, error) {
	m.mu.RLock()
	c := m.cache
	m.mu.RUnlock()
	if !c.LastSync.IsZero() && m.now().Sub(c.LastSync) < m.syncInterval {
		return common.Balance{Asset: c.Asset, Total: c.Total, Available: c.Available}, nil
	}
	if err := m.Sync(ctx); err != nil {
		return common.Balance{}, err
	}
	s := m.Snapshot()
	return common.Balance{Asset: s.Asset, Total: s.Total, Available: s.Available}, nil
}
