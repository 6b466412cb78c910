// Package state checkpoints the active position so a restarted engine can
// resume monitoring it.
package state

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"scalp-core/internal/position"
	"scalp-core/pkg/db"
)

// Store persists position checkpoints.
type Store interface {
	SavePosition(ctx context.Context, p db.PositionCheckpoint) error
	LoadPosition(ctx context.Context, symbol string) (db.PositionCheckpoint, error)
	DeletePosition(ctx context.Context, symbol string) error
}

// Manager keeps the last checkpoint per symbol in memory and persists it.
// A nil store keeps checkpoints in memory only.
type Manager struct {
	mu    sync.RWMutex
	last  map[string]db.PositionCheckpoint
	store Store
	log   *zap.Logger
}

func NewManager(store Store, log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{
		store: store,
		last:  make(map[string]db.PositionCheckpoint),
		log:   log,
	}
}

// Save checkpoints an active position. Unchanged checkpoints are not rewritten.
func (m *Manager) Save(ctx context.Context, p *position.Position) error {
	if p == nil {
		return nil
	}
	cp := toCheckpoint(p)
	m.mu.Lock()
	defer m.mu.Unlock()
	if prev, ok := m.last[cp.Symbol]; ok && prev == cp {
		return nil
	}
	if m.store != nil {
		if err := m.store.SavePosition(ctx, cp); err != nil {
			return err
		}
	}
	m.last[cp.Symbol] = cp
	return nil
}

// Load returns the checkpointed position for symbol, or nil when there is none.
func (m *Manager) Load(ctx context.Context, symbol string) (*position.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp, ok := m.last[symbol]
	if !ok && m.store != nil {
		var err error
		cp, err = m.store.LoadPosition(ctx, symbol)
		if errors.Is(err, db.ErrNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		m.last[symbol] = cp
		ok = true
	}
	if !ok {
		return nil, nil
	}
	return fromCheckpoint(cp), nil
}

// Clear drops the checkpoint for symbol.
func (m *Manager) Clear(ctx context.Context, symbol string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.last, symbol)
	if m.store == nil {
		return nil
	}
	return m.store.DeletePosition(ctx, symbol)
}

func toCheckpoint(p *position.Position) db.PositionCheckpoint {
	return db.PositionCheckpoint{
		Symbol:      p.Symbol,
		Generation:  p.Generation,
		Side:        string(p.Side),
		Qty:         p.OpenQty,
		AvgPrice:    p.AvgFillPrice,
		PlannedQty:  p.TotalPlannedQty,
		Leverage:    p.Leverage,
		StopLoss:    p.StopLossPrice,
		LowFill:     p.IsLowFillBreakeven,
		PeakPnLPct:  p.PeakPnLPct,
		ActivatedAt: p.ActivatedAt.UTC(),
	}
}

func fromCheckpoint(cp db.PositionCheckpoint) *position.Position {
	return &position.Position{
		Generation:         cp.Generation,
		Symbol:             cp.Symbol,
		Side:               position.Side(cp.Side),
		Leverage:           cp.Leverage,
		AvgFillPrice:       cp.AvgPrice,
		TotalPlannedQty:    cp.PlannedQty,
		FilledQty:          cp.Qty,
		OpenQty:            cp.Qty,
		StartTime:          cp.ActivatedAt,
		ActivatedAt:        cp.ActivatedAt,
		Phase:              position.PhaseActive,
		StopLossPrice:      cp.StopLoss,
		IsLowFillBreakeven: cp.LowFill,
		PeakPnLPct:         cp.PeakPnLPct,
	}
}
