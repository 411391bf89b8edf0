package records

import (
	"context"
	"sync"
)

// Pending is the handle for an outstanding fetch. Every caller waiting on
// the same (type, id) or query shares one Pending; it resolves or fails
// exactly once, and resolution fans out to all holders.
type Pending struct {
	done    chan struct{}
	once    sync.Once
	records []*Record
	err     error
}

func newPending() *Pending {
	return &Pending{done: make(chan struct{})}
}

// Done returns a channel closed when the pending outcome is available.
func (p *Pending) Done() <-chan struct{} { return p.done }

// Resolved reports whether the outcome is available without blocking.
func (p *Pending) Resolved() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// Wait blocks until resolution or context cancellation and returns the
// resolved records. Cancellation abandons the wait only; the underlying
// request keeps running and other holders still observe its outcome.
func (p *Pending) Wait(ctx context.Context) ([]*Record, error) {
	select {
	case <-p.done:
		return p.records, p.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// WaitOne is Wait for single-record outcomes.
func (p *Pending) WaitOne(ctx context.Context) (*Record, error) {
	resolved, err := p.Wait(ctx)
	if err != nil {
		return nil, err
	}
	if len(resolved) == 0 {
		return nil, nil
	}
	return resolved[0], nil
}

// resolve publishes the outcome. Later calls are no-ops, preserving the
// exactly-once contract.
func (p *Pending) resolve(resolved []*Record, err error) {
	p.once.Do(func() {
		p.records = resolved
		p.err = err
		close(p.done)
	})
}
