package timers

import (
	"sort"
	"sync"
	"time"
)

// Manual is a deterministic Scheduler driven by Advance. Callbacks run on
// the caller's goroutine.
type Manual struct {
	mu      sync.Mutex
	now     time.Time
	seq     int
	pending []*manualTask
}

type manualTask struct {
	at      time.Time
	seq     int
	fn      func()
	stopped bool
}

func (t *manualTask) Stop() bool {
	was := !t.stopped
	t.stopped = true
	return was
}

// NewManual starts the manual clock at start.
func NewManual(start time.Time) *Manual {
	return &Manual{now: start}
}

// Now returns the manual clock time.
func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// After implements Scheduler.
func (m *Manual) After(d time.Duration, fn func()) Stopper {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	task := &manualTask{at: m.now.Add(d), seq: m.seq, fn: fn}
	m.pending = append(m.pending, task)
	return task
}

// Advance moves the clock forward by d and runs every callback that came due,
// in due order, including ones scheduled by callbacks within the window.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	target := m.now.Add(d)
	m.mu.Unlock()

	for {
		m.mu.Lock()
		sort.SliceStable(m.pending, func(i, j int) bool {
			if m.pending[i].at.Equal(m.pending[j].at) {
				return m.pending[i].seq < m.pending[j].seq
			}
			return m.pending[i].at.Before(m.pending[j].at)
		})
		var next *manualTask
		for len(m.pending) > 0 {
			head := m.pending[0]
			if head.stopped {
				m.pending = m.pending[1:]
				continue
			}
			if head.at.After(target) {
				break
			}
			next = head
			m.pending = m.pending[1:]
			m.now = head.at
			break
		}
		if next == nil {
			m.now = target
			m.mu.Unlock()
			return
		}
		m.mu.Unlock()
		next.fn()
	}
}

// Pending counts armed callbacks.
func (m *Manual) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, t := range m.pending {
		if !t.stopped {
			n++
		}
	}
	return n
}
