package frameloop

import (
	"sync"
	"time"
)

// Manual is a Source fired explicitly, once per host refresh (a window's
// update callback) or per test step.
type Manual struct {
	mu      sync.Mutex
	pending func()
	seq     uint64
}

// NewManual returns a Manual source with nothing pending.
func NewManual() *Manual {
	return &Manual{}
}

func (m *Manual) Request(fn func()) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	seq := m.seq
	m.pending = fn
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.seq == seq {
			m.pending = nil
		}
	}
}

// Fire runs the pending callback, if any, and reports whether one ran.
func (m *Manual) Fire() bool {
	m.mu.Lock()
	fn := m.pending
	m.pending = nil
	m.mu.Unlock()
	if fn == nil {
		return false
	}
	fn()
	return true
}

// Step fires n ticks and returns how many ran.
func (m *Manual) Step(n int) int {
	ran := 0
	for i := 0; i < n; i++ {
		if m.Fire() {
			ran++
		}
	}
	return ran
}

// Pending reports whether a callback is waiting for the next tick.
func (m *Manual) Pending() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pending != nil
}

// Interval is a timer-driven Source for headless hosts.
type Interval struct {
	Period time.Duration
}

// NewInterval ticks hz times per second. Non-positive hz means 60.
func NewInterval(hz int) *Interval {
	if hz <= 0 {
		hz = 60
	}
	return &Interval{Period: time.Second / time.Duration(hz)}
}

func (iv *Interval) Request(fn func()) func() {
	t := time.AfterFunc(iv.Period, fn)
	return func() { t.Stop() }
}
