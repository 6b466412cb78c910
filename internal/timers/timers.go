// Package timers provides restartable, generation-stamped one-shot timers.
// A callback only runs if its timer was not stopped or reset after it was
// scheduled, so a late firing after a state change is a no-op.
package timers

import (
	"sync"
	"time"
)

// Stopper cancels a scheduled callback.
type Stopper interface {
	Stop() bool
}

// Scheduler runs fn once after d.
type Scheduler interface {
	After(d time.Duration, fn func()) Stopper
}

// SchedulerFunc adapts a function to Scheduler.
type SchedulerFunc func(d time.Duration, fn func()) Stopper

func (f SchedulerFunc) After(d time.Duration, fn func()) Stopper { return f(d, fn) }

// Real schedules on the runtime timer heap.
type Real struct{}

func (Real) After(d time.Duration, fn func()) Stopper { return time.AfterFunc(d, fn) }

// Guarded wraps every callback of s with lock/unlock so callbacks run under
// the owner's state lock.
func Guarded(s Scheduler, mu sync.Locker) Scheduler {
	return SchedulerFunc(func(d time.Duration, fn func()) Stopper {
		return s.After(d, func() {
			mu.Lock()
			defer mu.Unlock()
			fn()
		})
	})
}

// Timer is a named one-shot timer. Reset and Stop bump its generation; a
// firing whose generation is stale does nothing. Timer methods must be
// called under the same serialization the callbacks run under.
type Timer struct {
	Name string

	sched  Scheduler
	gen    uint64
	handle Stopper
	armed  bool
}

// New creates a stopped timer.
func New(name string, s Scheduler) *Timer {
	return &Timer{Name: name, sched: s}
}

// Reset (re)arms the timer to run fn after d, dropping any earlier schedule.
func (t *Timer) Reset(d time.Duration, fn func()) {
	t.Stop()
	gen := t.gen
	t.armed = true
	t.handle = t.sched.After(d, func() {
		if t.gen != gen || !t.armed {
			return
		}
		t.armed = false
		fn()
	})
}

// Stop disarms the timer. It is safe to call on a stopped timer.
func (t *Timer) Stop() {
	t.gen++
	t.armed = false
	if t.handle != nil {
		t.handle.Stop()
		t.handle = nil
	}
}

// Armed reports whether a callback is pending.
func (t *Timer) Armed() bool { return t.armed }
