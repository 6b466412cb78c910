package timers

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTimerFiresOnce(t *testing.T) {
	clock := NewManual(time.Unix(0, 0))
	tm := New("fill", clock)

	fired := 0
	tm.Reset(5*time.Second, func() { fired++ })
	assert.True(t, tm.Armed())

	clock.Advance(4 * time.Second)
	assert.Equal(t, 0, fired)
	clock.Advance(time.Second)
	assert.Equal(t, 1, fired)
	assert.False(t, tm.Armed())

	clock.Advance(time.Minute)
	assert.Equal(t, 1, fired)
}

func TestTimerResetDropsEarlierSchedule(t *testing.T) {
	clock := NewManual(time.Unix(0, 0))
	tm := New("ladder", clock)

	var got []string
	tm.Reset(time.Second, func() { got = append(got, "first") })
	tm.Reset(3*time.Second, func() { got = append(got, "second") })

	clock.Advance(10 * time.Second)
	assert.Equal(t, []string{"second"}, got)
}

func TestStaleCallbackIsNoop(t *testing.T) {
	// Simulates a runtime timer that already fired and is waiting on the
	// owner lock when Stop is called.
	var captured func()
	sched := SchedulerFunc(func(d time.Duration, fn func()) Stopper {
		captured = fn
		return stopFunc(func() bool { return false })
	})
	tm := New("time-stop", sched)

	fired := false
	tm.Reset(time.Minute, func() { fired = true })
	tm.Stop()
	captured()
	assert.False(t, fired)
}

func TestGuardedRunsUnderLock(t *testing.T) {
	var mu sync.Mutex
	clock := NewManual(time.Unix(0, 0))
	g := Guarded(clock, &mu)

	locked := false
	g.After(time.Second, func() {
		locked = !mu.TryLock()
	})
	clock.Advance(time.Second)
	assert.True(t, locked)
}

func TestManualOrdering(t *testing.T) {
	clock := NewManual(time.Unix(0, 0))
	var order []int
	clock.After(2*time.Second, func() { order = append(order, 2) })
	clock.After(time.Second, func() {
		order = append(order, 1)
		clock.After(500*time.Millisecond, func() { order = append(order, 15) })
	})
	clock.Advance(3 * time.Second)
	assert.Equal(t, []int{1, 15, 2}, order)
	assert.Equal(t, time.Unix(3, 0), clock.Now())
	assert.Zero(t, clock.Pending())
}

type stopFunc func() bool

func (f stopFunc) Stop() bool { return f() }
