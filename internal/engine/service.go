// Package engine owns the trading state of one account: it turns signals
// into pending signals, confirms them into entries, hands filled entries to
// the exit monitor and books closed trades. The API layer only talks to it
// through Service.
package engine

import (
	"context"
	"errors"

	"scalp-core/internal/risk"
	"scalp-core/internal/tradelog"
	"scalp-core/pkg/db"
)

// Command errors.
var (
	ErrNoPosition      = errors.New("no active position")
	ErrNoPendingSignal = errors.New("no pending signal")
	ErrNoPendingEntry  = errors.New("no entry in progress")
)

// Service defines the interface for trading engine operations.
// The API layer should only interact with the engine through this interface.
type Service interface {
	// Commands
	Toggle(ctx context.Context) (bool, error)
	ManualClose(ctx context.Context) error
	CancelPendingEntry(ctx context.Context) error
	SkipPendingSignal(ctx context.Context) error

	// Queries
	Snapshot() Snapshot
	Stats() risk.DailyStats
	Logs(n int) []tradelog.Entry
	RecentTrades(ctx context.Context, limit int) ([]db.Trade, error)
}

var _ Service = (*Engine)(nil)
