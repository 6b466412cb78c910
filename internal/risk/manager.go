package risk

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"scalp-core/pkg/db"
)

// Store persists daily aggregates. *db.Database satisfies it.
type Store interface {
	UpsertDailyStats(ctx context.Context, s db.DailyStats) error
	GetDailyStats(ctx context.Context, date string) (db.DailyStats, error)
}

// Manager keeps today's statistics and gates new entries on them.
type Manager struct {
	store Store
	log   *zap.Logger
	now   func() time.Time

	mu    sync.RWMutex
	cfg   Config
	stats DailyStats
}

// NewManager creates a risk manager and loads today's row from store.
func NewManager(ctx context.Context, cfg Config, store Store, log *zap.Logger) (*Manager, error) {
	m := newManager(cfg, store, log)
	if err := m.load(ctx, m.today()); err != nil {
		return nil, fmt.Errorf("load daily stats: %w", err)
	}
	m.log.Info("risk manager initialized",
		zap.String("date", m.stats.Date),
		zap.Int("trades", m.stats.Trades),
		zap.Float64("pnl", m.stats.TotalPnL),
		zap.Int("max_daily_trades", cfg.MaxDailyTrades),
		zap.Float64("max_daily_loss", cfg.MaxDailyLoss))
	return m, nil
}

// NewInMemory creates a risk manager without DB persistence.
func NewInMemory(cfg Config) *Manager {
	m := newManager(cfg, nil, nil)
	m.stats = DailyStats{Date: m.today()}
	return m
}

func newManager(cfg Config, store Store, log *zap.Logger) *Manager {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{store: store, log: log, now: time.Now, cfg: cfg}
}

// SetClock replaces the wall clock; used by tests and replays.
func (m *Manager) SetClock(now func() time.Time) {
	m.mu.Lock()
	m.now = now
	m.mu.Unlock()
}

// GetConfig returns a copy of current config.
func (m *Manager) GetConfig() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

// Allow reports whether a new entry may start today.
func (m *Manager) Allow() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rollLocked()

	if m.cfg.MaxDailyTrades > 0 && m.stats.Trades >= m.cfg.MaxDailyTrades {
		return fmt.Errorf("%w: %d/%d", ErrDailyTradeLimit, m.stats.Trades, m.cfg.MaxDailyTrades)
	}
	if m.cfg.MaxDailyLoss > 0 && -m.stats.TotalPnL >= m.cfg.MaxDailyLoss {
		return fmt.Errorf("%w: %.2f/%.2f", ErrDailyLossLimit, -m.stats.TotalPnL, m.cfg.MaxDailyLoss)
	}
	return nil
}

// Record adds a completed trade to the statistics of the day it closed on
// and persists them. A trade closed before the current day started only
// updates that day's stored row. The in-memory update survives a store
// failure.
func (m *Manager) Record(ctx context.Context, trade TradeResult) (DailyStats, error) {
	m.mu.Lock()
	m.rollLocked()
	day := m.stats.Date
	if !trade.ClosedAt.IsZero() {
		day = trade.ClosedAt.In(m.cfg.Location).Format("2006-01-02")
	}
	if day != m.stats.Date {
		m.mu.Unlock()
		return m.recordOtherDay(ctx, day, trade)
	}
	m.stats.add(trade)
	snap := m.stats
	m.mu.Unlock()

	if m.store == nil {
		return snap, nil
	}
	if err := m.store.UpsertDailyStats(ctx, toRow(snap)); err != nil {
		return snap, fmt.Errorf("persist daily stats: %w", err)
	}
	return snap, nil
}

func (m *Manager) recordOtherDay(ctx context.Context, day string, trade TradeResult) (DailyStats, error) {
	m.log.Info("trade booked on its closing day",
		zap.String("date", day), zap.String("symbol", trade.Symbol), zap.Float64("pnl", trade.PnL))
	stats := DailyStats{Date: day}
	if m.store == nil {
		stats.add(trade)
		return stats, nil
	}
	row, err := m.store.GetDailyStats(ctx, day)
	switch {
	case err == nil:
		stats = fromRow(row)
	case !errors.Is(err, db.ErrNotFound):
		return stats, fmt.Errorf("load daily stats %s: %w", day, err)
	}
	stats.add(trade)
	if err := m.store.UpsertDailyStats(ctx, toRow(stats)); err != nil {
		return stats, fmt.Errorf("persist daily stats: %w", err)
	}
	return stats, nil
}

// Stats returns today's statistics.
func (m *Manager) Stats() DailyStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rollLocked()
	return m.stats
}

func (m *Manager) today() string {
	return m.now().In(m.cfg.Location).Format("2006-01-02")
}

// rollLocked resets the counters at the day boundary.
func (m *Manager) rollLocked() {
	today := m.today()
	if m.stats.Date == today {
		return
	}
	if m.stats.Date != "" {
		m.log.Info("daily stats reset",
			zap.String("prev_date", m.stats.Date),
			zap.Int("trades", m.stats.Trades),
			zap.Float64("pnl", m.stats.TotalPnL))
	}
	m.stats = DailyStats{Date: today}
}

func (m *Manager) load(ctx context.Context, date string) error {
	m.stats = DailyStats{Date: date}
	if m.store == nil {
		return nil
	}
	row, err := m.store.GetDailyStats(ctx, date)
	if errors.Is(err, db.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	m.stats = fromRow(row)
	return nil
}

func fromRow(row db.DailyStats) DailyStats {
	return DailyStats{
		Date:     row.Date,
		Trades:   row.Trades,
		Wins:     row.Wins,
		Losses:   row.Losses,
		TotalPnL: row.TotalPnL,
		Fees:     row.Fees,
	}
}

func toRow(s DailyStats) db.DailyStats {
	return db.DailyStats{
		Date:     s.Date,
		Trades:   s.Trades,
		Wins:     s.Wins,
		Losses:   s.Losses,
		TotalPnL: s.TotalPnL,
		Fees:     s.Fees,
	}
}
