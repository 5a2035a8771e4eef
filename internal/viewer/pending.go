package viewer

import "context"

// Pending tracks one Load. It completes when the load is installed, fails,
// or is superseded by a newer Load.
type Pending struct {
	gen  uint64
	done chan struct{}

	err   error
	stale bool
}

func newPending(gen uint64) *Pending {
	return &Pending{gen: gen, done: make(chan struct{})}
}

func (p *Pending) finish(err error, stale bool) {
	p.err, p.stale = err, stale
	close(p.done)
}

// Generation is the load token this request was issued.
func (p *Pending) Generation() uint64 {
	return p.gen
}

// Done is closed when the load settles.
func (p *Pending) Done() <-chan struct{} {
	return p.done
}

// Wait blocks until the load settles and returns its error. A superseded
// load returns ErrSuperseded.
func (p *Pending) Wait(ctx context.Context) error {
	select {
	case <-p.done:
		return p.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stale reports whether the load was superseded. Only meaningful after Done.
func (p *Pending) Stale() bool {
	select {
	case <-p.done:
		return p.stale
	default:
		return false
	}
}
