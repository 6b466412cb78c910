// Package journal records completed trades.
package journal

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"scalp-core/internal/position"
	"scalp-core/pkg/db"
)

// Store persists trades. *db.Database satisfies it.
type Store interface {
	InsertTrade(ctx context.Context, t db.Trade) error
	ListTrades(ctx context.Context, limit int) ([]db.Trade, error)
}

// Journal writes one row per closed position. Without a store it keeps the
// most recent trades in memory.
type Journal struct {
	store  Store
	preset string
	log    *zap.Logger

	mu     sync.Mutex
	recent []db.Trade
}

const memoryLimit = 200

func New(store Store, preset string, log *zap.Logger) *Journal {
	if log == nil {
		log = zap.NewNop()
	}
	return &Journal{store: store, preset: preset, log: log}
}

// Record stores res and returns the written row.
func (j *Journal) Record(ctx context.Context, res position.Result) (db.Trade, error) {
	p := res.Position
	if p == nil {
		return db.Trade{}, fmt.Errorf("journal: result without position")
	}
	t := db.Trade{
		ID:          uuid.NewString(),
		Symbol:      p.Symbol,
		Side:        string(p.Side),
		EntryPrice:  p.AvgFillPrice,
		ExitPrice:   res.ExitPrice,
		Qty:         res.ExitQty,
		Leverage:    p.Leverage,
		GrossPnL:    res.GrossPnL,
		Fees:        res.Fees,
		RealizedPnL: res.RealizedPnL,
		Reason:      string(res.Reason),
		LowFill:     p.IsLowFillBreakeven,
		Preset:      j.preset,
		OpenedAt:    p.ActivatedAt,
		ClosedAt:    res.ClosedAt,
	}

	j.mu.Lock()
	j.recent = append([]db.Trade{t}, j.recent...)
	if len(j.recent) > memoryLimit {
		j.recent = j.recent[:memoryLimit]
	}
	j.mu.Unlock()

	if j.store == nil {
		return t, nil
	}
	if err := j.store.InsertTrade(ctx, t); err != nil {
		return t, fmt.Errorf("journal trade: %w", err)
	}
	j.log.Info("trade journaled",
		zap.String("id", t.ID), zap.String("symbol", t.Symbol), zap.String("reason", t.Reason),
		zap.Float64("pnl", t.RealizedPnL))
	return t, nil
}

// Recent returns the newest trades first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]db.Trade, error) {
	if j.store != nil {
		return j.store.ListTrades(ctx, limit)
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if limit <= 0 || limit > len(j.recent) {
		limit = len(j.recent)
	}
	return append([]db.Trade(nil), j.recent[:limit]...), nil
}
