package reactive

import (
	"context"
	"sync/atomic"
)

// Scope is the tracking context handed to a running subscriber body.
// Reads made through a Scope subscribe its subscriber; a nil Scope reads
// without tracking.
type Scope struct {
	c        *Container
	sub      *subscriber
	ctx      context.Context
	captured []any
	closed   atomic.Bool
}

// Context returns the container context.
func (s *Scope) Context() context.Context {
	if s == nil || s.ctx == nil {
		return context.Background()
	}
	return s.ctx
}

// Container returns the container running this scope.
func (s *Scope) Container() *Container {
	if s == nil {
		return nil
	}
	return s.c
}

// Captured returns the values captured by the body symbol.
func (s *Scope) Captured() []any {
	if s == nil {
		return nil
	}
	return s.captured
}

// Arg returns captured value i, or nil if out of range.
func (s *Scope) Arg(i int) any {
	if s == nil || i < 0 || i >= len(s.captured) {
		return nil
	}
	return s.captured[i]
}

// OnCleanup registers fn to run before the next run of this subscriber or
// when it is disposed.
func (s *Scope) OnCleanup(fn func()) {
	if s == nil || s.sub == nil || fn == nil {
		return
	}
	s.sub.cleanupsMu.Lock()
	s.sub.cleanups = append(s.sub.cleanups, fn)
	s.sub.cleanupsMu.Unlock()
}

// track records a read of cl. Reads after the body returned are ignored.
func (s *Scope) track(cl *cell) {
	if s == nil || s.sub == nil || s.closed.Load() {
		return
	}
	s.sub.addDep(cl)
}

func (s *Scope) close() {
	s.closed.Store(true)
}
