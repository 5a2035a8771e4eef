// Package frameloop runs one cooperative step per display refresh. The
// refresh notification comes from a pluggable Source so hosts can drive it
// from a window's vsync and tests can step frames by hand.
package frameloop

import (
	"sync"
	"sync/atomic"
)

// Source delivers refresh ticks. Request schedules fn for the next tick and
// returns a function that cancels it. Each request fires at most once.
type Source interface {
	Request(fn func()) (cancel func())
}

// Loop calls step once per tick while running. The next tick is requested
// only after the current step returns, so steps never overlap.
type Loop struct {
	src  Source
	step func()

	mu      sync.Mutex
	running bool
	inStep  bool
	epoch   uint64
	cancel  func()

	frames atomic.Uint64
}

// New creates a stopped loop.
func New(src Source, step func()) *Loop {
	return &Loop{src: src, step: step}
}

// Start begins requesting ticks. Starting a running loop is a no-op.
func (l *Loop) Start() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.running {
		return
	}
	l.running = true
	l.epoch++
	// a step still executing requests the next tick when it returns
	if !l.inStep {
		l.schedule(l.epoch)
	}
}

// Stop cancels the pending tick synchronously. A step already executing
// finishes, but no further step runs until Start.
func (l *Loop) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.running {
		return
	}
	l.running = false
	l.epoch++
	if l.cancel != nil {
		l.cancel()
		l.cancel = nil
	}
}

// Running reports whether ticks are being requested.
func (l *Loop) Running() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.running
}

// Frames is the number of steps executed since creation.
func (l *Loop) Frames() uint64 {
	return l.frames.Load()
}

// schedule must be called with l.mu held.
func (l *Loop) schedule(epoch uint64) {
	l.cancel = l.src.Request(func() { l.tick(epoch) })
}

func (l *Loop) tick(epoch uint64) {
	l.mu.Lock()
	if !l.running || epoch != l.epoch {
		l.mu.Unlock()
		return
	}
	l.cancel = nil
	l.inStep = true
	l.mu.Unlock()

	l.step()
	l.frames.Add(1)

	l.mu.Lock()
	l.inStep = false
	if l.running {
		l.schedule(l.epoch)
	}
	l.mu.Unlock()
}
