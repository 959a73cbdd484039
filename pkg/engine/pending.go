package engine

import (
	"context"
	"sync"
)

// Pending is the result of an asynchronous lint call.
// It settles exactly once; later Resolve/Reject calls are ignored.
type Pending struct {
	once   sync.Once
	done   chan struct{}
	result RawResult
	err    error
}

// NewPending returns an unsettled Pending.
func NewPending() *Pending {
	return &Pending{done: make(chan struct{})}
}

// Resolved returns a Pending already settled with r.
func Resolved(r RawResult) *Pending {
	p := NewPending()
	p.Resolve(r)
	return p
}

// Rejected returns a Pending already settled with err.
func Rejected(err error) *Pending {
	p := NewPending()
	p.Reject(err)
	return p
}

// Resolve settles the pending with a result. Reports whether this call settled it.
func (p *Pending) Resolve(r RawResult) bool {
	return p.settle(r, nil)
}

// Reject settles the pending with an error. Reports whether this call settled it.
func (p *Pending) Reject(err error) bool {
	return p.settle(RawResult{}, err)
}

func (p *Pending) settle(r RawResult, err error) bool {
	settled := false
	p.once.Do(func() {
		p.result, p.err = r, err
		close(p.done)
		settled = true
	})
	return settled
}

// Done is closed once the pending settles.
func (p *Pending) Done() <-chan struct{} {
	return p.done
}

// Result returns the settled outcome. It must only be called after Done is closed.
func (p *Pending) Result() (RawResult, error) {
	return p.result, p.err
}

// Wait blocks until the pending settles or ctx ends.
// Cancelling ctx does not cancel the engine call.
func (p *Pending) Wait(ctx context.Context) (RawResult, error) {
	select {
	case <-p.done:
		return p.result, p.err
	case <-ctx.Done():
		return RawResult{}, ctx.Err()
	}
}
