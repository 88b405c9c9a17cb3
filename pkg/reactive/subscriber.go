package reactive

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/vango-dev/resume/pkg/qrl"
)

// Kind is the scheduling class of a subscriber. Lower kinds run first.
type Kind uint8

const (
	KindTask Kind = iota
	KindComputed
	KindRenderer

	numKinds = 3
)

// String returns a human-readable name for the kind.
func (k Kind) String() string {
	switch k {
	case KindTask:
		return "task"
	case KindComputed:
		return "computed"
	case KindRenderer:
		return "renderer"
	default:
		return "unknown"
	}
}

// Subscriber is a Task, Computed, or Renderer.
type Subscriber interface {
	// ID returns a unique identifier for this subscriber.
	ID() uint64

	// Kind returns the scheduling class.
	Kind() Kind

	// Symbol returns the lazy body reference, or nil for Go function bodies.
	Symbol() (*qrl.Symbol, error)

	// Deps returns the dependencies recorded by the most recent run.
	Deps() []DepRef

	// Dispose unsubscribes the subscriber from all its sources.
	Dispose()

	base() *subscriber
}

// subscriber is the state shared by all subscriber kinds.
type subscriber struct {
	id   uint64
	kind Kind
	c    *Container
	self Subscriber

	// sym is the lazy body; symThunk produces it on first use when the
	// subscriber was restored from a snapshot.
	sym      *qrl.Symbol
	symThunk func() (*qrl.Symbol, error)
	symOnce  sync.Once
	symErr   error

	// perform runs the subscriber body once. Set by the concrete kind.
	perform func() error

	// deps are the cells read during the latest run.
	deps   []*cell
	depsMu sync.Mutex

	// restored are snapshot dependencies whose source has not been
	// materialized yet. They are discarded on the first re-run.
	restored []Dep

	// cleanups registered through Scope.OnCleanup during the latest run.
	cleanups   []func()
	cleanupsMu sync.Mutex

	// queued and deferred are guarded by the scheduler mutex.
	queued   bool
	deferred bool

	// dirty is set when a dependency changed and cleared when the body ran.
	dirty atomic.Bool

	// loading is set while the body symbol is being resolved.
	loading atomic.Bool

	disposed atomic.Bool
	runs     atomic.Int64
}

func newSubscriber(c *Container, kind Kind) *subscriber {
	return &subscriber{
		id:   nextID(),
		kind: kind,
		c:    c,
	}
}

// symbol returns the body symbol, decoding it on first use.
func (s *subscriber) symbol() (*qrl.Symbol, error) {
	if s.symThunk == nil {
		return s.sym, nil
	}
	s.symOnce.Do(func() {
		s.sym, s.symErr = s.symThunk()
	})
	return s.sym, s.symErr
}

// symbolKey labels errors. It never forces a lazy decode.
func (s *subscriber) symbolKey() string {
	if s.sym == nil {
		return ""
	}
	return s.sym.Key()
}

// addDep records a dependency in both directions.
func (s *subscriber) addDep(cl *cell) {
	if s.disposed.Load() {
		return
	}

	s.depsMu.Lock()
	for _, existing := range s.deps {
		if existing == cl {
			s.depsMu.Unlock()
			return
		}
	}
	s.deps = append(s.deps, cl)
	s.depsMu.Unlock()

	cl.subscribe(s)
}

// clearDeps drops every dependency, including restored ones, and runs the
// cleanups of the previous run.
func (s *subscriber) clearDeps() {
	s.depsMu.Lock()
	deps := s.deps
	s.deps = nil
	s.restored = nil
	s.depsMu.Unlock()

	for _, cl := range deps {
		cl.unsubscribe(s)
	}

	s.cleanupsMu.Lock()
	cleanups := s.cleanups
	s.cleanups = nil
	s.cleanupsMu.Unlock()

	for i := len(cleanups) - 1; i >= 0; i-- {
		cleanups[i]()
	}
}

// attachRestored subscribes to a restored dependency if it is still current.
func (s *subscriber) attachRestored(d Dep, src Source) {
	s.depsMu.Lock()
	current := false
	for i, r := range s.restored {
		if r == d {
			s.restored = append(s.restored[:i], s.restored[i+1:]...)
			current = true
			break
		}
	}
	s.depsMu.Unlock()

	if current {
		if cl := cellFor(src, d.Key); cl != nil {
			s.addDep(cl)
		}
	}
}

// pendingDeps returns restored dependencies not yet attached.
func (s *subscriber) pendingDeps() []Dep {
	s.depsMu.Lock()
	defer s.depsMu.Unlock()
	out := make([]Dep, len(s.restored))
	copy(out, s.restored)
	return out
}

// depRefs returns the live dependencies.
func (s *subscriber) depRefs() []DepRef {
	s.depsMu.Lock()
	defer s.depsMu.Unlock()
	out := make([]DepRef, 0, len(s.deps))
	for _, cl := range s.deps {
		out = append(out, DepRef{Source: cl.owner, Key: cl.key})
	}
	return out
}

// beginRun drops stale dependencies and returns the scope for a new run.
func (s *subscriber) beginRun(captured []any) *Scope {
	s.clearDeps()
	s.dirty.Store(false)
	s.runs.Add(1)
	return &Scope{
		c:        s.c,
		sub:      s,
		ctx:      s.c.ctx,
		captured: captured,
	}
}

// execute runs the body, converting panics to errors.
func (s *subscriber) execute() (err error) {
	if s.disposed.Load() {
		return &StaleSubscriberError{ID: s.id, Kind: s.kind}
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return s.perform()
}

// invokeSymbol calls the resolved body with the scope followed by the
// captured values. It reports ran=false when the body is still loading.
func (s *subscriber) invokeSymbol() (result any, ran bool, err error) {
	sym, err := s.symbol()
	if err != nil {
		return nil, false, err
	}
	fn, ok := s.c.resolver.Cached(sym)
	if !ok {
		s.c.loadBody(s, sym)
		return nil, false, nil
	}

	captured := sym.Captured()
	scope := s.beginRun(captured)
	defer scope.close()

	args := make([]any, 0, len(captured)+1)
	args = append(args, scope)
	args = append(args, captured...)
	result, err = fn(scope.ctx, args...)
	return result, true, err
}

// invokeFunc runs a Go body with a fresh scope.
func (s *subscriber) invokeFunc(fn func(*Scope) (any, error)) (any, error) {
	scope := s.beginRun(nil)
	defer scope.close()
	return fn(scope)
}

func (s *subscriber) dispose() {
	if s.disposed.Swap(true) {
		return
	}
	s.c.scheduler.remove(s)
	s.clearDeps()
}
