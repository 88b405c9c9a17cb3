package reactive

import (
	"context"
	"errors"
	"sync"
)

// PromiseState is the settlement state of a Promise.
type PromiseState uint8

const (
	PromisePending PromiseState = iota
	PromiseResolved
	PromiseRejected
)

// String returns a human-readable name for the state.
func (s PromiseState) String() string {
	switch s {
	case PromisePending:
		return "pending"
	case PromiseResolved:
		return "resolved"
	case PromiseRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// ErrPromiseSettled is returned when settling a promise twice.
var ErrPromiseSettled = errors.New("reactive: promise already settled")

// Promise is a value that settles once, either resolved with a value or
// rejected with an error. Settled promises are serializable; pending ones
// only when deferral is allowed.
type Promise struct {
	mu    sync.Mutex
	state PromiseState
	value any
	err   error
	done  chan struct{}
}

// NewPromise returns a pending promise.
func NewPromise() *Promise {
	return &Promise{done: make(chan struct{})}
}

// Resolved returns a promise resolved with v.
func Resolved(v any) *Promise {
	p := NewPromise()
	_ = p.Resolve(v)
	return p
}

// Rejected returns a promise rejected with err.
func Rejected(err error) *Promise {
	p := NewPromise()
	_ = p.Reject(err)
	return p
}

// Resolve settles the promise with v.
func (p *Promise) Resolve(v any) error {
	return p.settle(PromiseResolved, v, nil)
}

// Reject settles the promise with err.
func (p *Promise) Reject(err error) error {
	if err == nil {
		err = errors.New("reactive: promise rejected")
	}
	return p.settle(PromiseRejected, nil, err)
}

func (p *Promise) settle(state PromiseState, v any, err error) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != PromisePending {
		return ErrPromiseSettled
	}
	p.state, p.value, p.err = state, v, err
	close(p.done)
	return nil
}

// State returns the settlement state.
func (p *Promise) State() PromiseState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Result returns the settled value or error. It does not block.
func (p *Promise) Result() (any, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.value, p.err
}

// Done is closed when the promise settles.
func (p *Promise) Done() <-chan struct{} {
	return p.done
}

// Await blocks until the promise settles or ctx is done.
func (p *Promise) Await(ctx context.Context) (any, error) {
	select {
	case <-p.done:
		return p.Result()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
