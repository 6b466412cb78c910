package balance

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scalp-core/internal/events"
	"scalp-core/pkg/exchanges/common"
)

type stubSource struct {
	calls atomic.Int32
	avail atomic.Value
	err   error
}

func (s *stubSource) GetBalance(context.Context) (common.Balance, error) {
	s.calls.Add(1)
	if s.err != nil {
		return common.Balance{}, s.err
	}
	v, _ := s.avail.Load().(float64)
	return common.Balance{Asset: "USDT", Total: v + 10, Available: v}, nil
}

func TestSyncAndAvailable(t *testing.T) {
	src := &stubSource{}
	src.avail.Store(500.0)
	m := NewManager(src, time.Minute, nil)

	_, err := m.Available()
	require.ErrorIs(t, err, ErrNotSynced)

	require.NoError(t, m.Sync(context.Background()))
	v, err := m.Available()
	require.NoError(t, err)
	assert.Equal(t, 500.0, v)
	assert.Equal(t, 510.0, m.Snapshot().Total)
}

func TestSyncErrorKeepsCache(t *testing.T) {
	src := &stubSource{}
	src.avail.Store(100.0)
	m := NewManager(src, time.Minute, nil)
	require.NoError(t, m.Sync(context.Background()))

	src.err = errors.New("timeout")
	require.Error(t, m.Sync(context.Background()))
	v, err := m.Available()
	require.NoError(t, err)
	assert.Equal(t, 100.0, v)
}

func TestGetBalanceUsesFreshCache(t *testing.T) {
	src := &stubSource{}
	src.avail.Store(200.0)
	m := NewManager(src, time.Minute, nil)
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }

	b, err := m.GetBalance(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 200.0, b.Available)
	assert.Equal(t, int32(1), src.calls.Load())

	_, err = m.GetBalance(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1), src.calls.Load())

	now = now.Add(2 * time.Minute)
	_, err = m.GetBalance(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(2), src.calls.Load())
}

func TestRefreshOnTradeCompleted(t *testing.T) {
	src := &stubSource{}
	src.avail.Store(100.0)
	bus := events.NewBus()
	m := NewManager(src, time.Hour, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx, bus)

	src.avail.Store(120.0)
	bus.Publish(events.EventTradeCompleted, struct{}{})

	assert.Eventually(t, func() bool {
		v, err := m.Available()
		return err == nil && v == 120.0
	}, time.Second, 5*time.Millisecond)
}
