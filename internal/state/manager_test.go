package state

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scalp-core/internal/position"
	"scalp-core/pkg/db"
)

type countingStore struct {
	rows  map[string]db.PositionCheckpoint
	saves int
}

func (s *countingStore) SavePosition(_ context.Context, p db.PositionCheckpoint) error {
	s.saves++
	s.rows[p.Symbol] = p
	return nil
}

func (s *countingStore) LoadPosition(_ context.Context, symbol string) (db.PositionCheckpoint, error) {
	p, ok := s.rows[symbol]
	if !ok {
		return db.PositionCheckpoint{}, db.ErrNotFound
	}
	return p, nil
}

func (s *countingStore) DeletePosition(_ context.Context, symbol string) error {
	delete(s.rows, symbol)
	return nil
}

func activePosition() *position.Position {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return &position.Position{
		Generation:      7,
		Symbol:          "BTCUSDT",
		Side:            position.Short,
		Leverage:        10,
		AvgFillPrice:    100,
		TotalPlannedQty: 10,
		FilledQty:       4,
		OpenQty:         4,
		ActivatedAt:     at,
		Phase:           position.PhaseActive,
		StopLossPrice:   100.5,
		PeakPnLPct:      0.2,
	}
}

func TestSaveLoadClear(t *testing.T) {
	ctx := context.Background()
	store := &countingStore{rows: map[string]db.PositionCheckpoint{}}
	m := NewManager(store, nil)

	p := activePosition()
	require.NoError(t, m.Save(ctx, p))
	require.NoError(t, m.Save(ctx, p))
	assert.Equal(t, 1, store.saves, "unchanged checkpoint is not rewritten")

	p.StopLossPrice = 100.2
	require.NoError(t, m.Save(ctx, p))
	assert.Equal(t, 2, store.saves)

	// a fresh manager reads through to the store
	restored, err := NewManager(store, nil).Load(ctx, "BTCUSDT")
	require.NoError(t, err)
	require.NotNil(t, restored)
	assert.Equal(t, uint64(7), restored.Generation)
	assert.Equal(t, position.Short, restored.Side)
	assert.Equal(t, 4.0, restored.OpenQty)
	assert.Equal(t, 4.0, restored.FilledQty)
	assert.Equal(t, 100.2, restored.StopLossPrice)
	assert.Equal(t, position.PhaseActive, restored.Phase)
	assert.True(t, restored.ActivatedAt.Equal(p.ActivatedAt))

	require.NoError(t, m.Clear(ctx, "BTCUSDT"))
	restored, err = m.Load(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.Nil(t, restored)
}

func TestInMemoryOnly(t *testing.T) {
	ctx := context.Background()
	m := NewManager(nil, nil)
	got, err := m.Load(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, m.Save(ctx, activePosition()))
	got, err = m.Load(ctx, "BTCUSDT")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 100.0, got.AvgFillPrice)
	require.NoError(t, m.Clear(ctx, "BTCUSDT"))
	assert.NoError(t, m.Save(ctx, nil))
}

func TestWithSQLite(t *testing.T) {
	ctx := context.Background()
	database, err := db.New(":memory:")
	require.NoError(t, err)
	defer database.Close()
	require.NoError(t, db.ApplyMigrations(database))

	m := NewManager(database, nil)
	require.NoError(t, m.Save(ctx, activePosition()))

	got, err := NewManager(database, nil).Load(ctx, "BTCUSDT")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 100.5, got.StopLossPrice)
}
