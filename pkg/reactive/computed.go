package reactive

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/vango-dev/resume/pkg/qrl"
)

// Computed is a subscriber that caches a derived value and is itself a
// source. A read of a stale computed recomputes it first, so readers never
// observe a value older than its dependencies.
type Computed struct {
	sub  *subscriber
	cell cell
	fn   ComputeFunc

	// value is the cached result; valid is false until the first run.
	value any
	valid bool
	mu    sync.RWMutex

	// computing guards against a body reading its own computed.
	computing atomic.Bool

	equal func(a, b any) bool
}

// NewComputed creates a computed. body is a *qrl.Symbol, a ComputeFunc, or a
// func(*Scope) any. The value is computed on first read.
func (c *Container) NewComputed(body any) *Computed {
	cm := c.newComputed()
	switch b := body.(type) {
	case *qrl.Symbol:
		cm.sub.sym = b
	case ComputeFunc:
		cm.fn = b
	case func(*Scope) (any, error):
		cm.fn = b
	case func(*Scope) any:
		cm.fn = func(s *Scope) (any, error) { return b(s), nil }
	default:
		panic(fmt.Sprintf("reactive: unsupported computed body %T", body))
	}
	c.addSubscriber(cm.sub)
	return cm
}

// RestoreComputed recreates a computed from a snapshot. The cached value is
// set with Init; a stale computed recomputes on first read.
func (c *Container) RestoreComputed(body func() (*qrl.Symbol, error), stale bool, deps []Dep) *Computed {
	cm := c.newComputed()
	cm.sub.symThunk = body
	cm.valid = true
	cm.sub.dirty.Store(stale)
	c.addSubscriber(cm.sub)
	c.restore(cm.sub, deps)
	return cm
}

func (c *Container) newComputed() *Computed {
	cm := &Computed{sub: newSubscriber(c, KindComputed)}
	cm.sub.self = cm
	cm.sub.perform = cm.perform
	cm.cell.owner = cm
	return cm
}

// Get returns the value, recomputing first if stale, and subscribes the
// scope's subscriber.
func (cm *Computed) Get(scope *Scope) any {
	// Refresh before tracking so the reader is not notified of its own read.
	if cm.needsRun() && !cm.computing.Load() {
		if err := cm.refresh(); err != nil {
			cm.sub.c.report(cm.sub, err)
		}
	}
	scope.track(&cm.cell)
	return cm.Peek()
}

// Peek returns the cached value without subscribing or recomputing.
func (cm *Computed) Peek() any {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.value
}

// Init sets the cached value without notifying readers.
func (cm *Computed) Init(value any) {
	cm.mu.Lock()
	cm.value = value
	cm.valid = true
	cm.mu.Unlock()
}

// Stale reports whether a dependency changed since the cached value was
// computed.
func (cm *Computed) Stale() bool {
	return cm.needsRun()
}

func (cm *Computed) needsRun() bool {
	if cm.sub.dirty.Load() {
		return true
	}
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return !cm.valid
}

func (cm *Computed) perform() error {
	if !cm.needsRun() {
		return nil
	}
	return cm.refresh()
}

// refresh runs the body and notifies readers if the value changed.
func (cm *Computed) refresh() (err error) {
	if cm.sub.disposed.Load() {
		return nil
	}
	if !cm.computing.CompareAndSwap(false, true) {
		return nil
	}
	defer cm.computing.Store(false)
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	var (
		value any
		ran   = true
	)
	if cm.fn != nil {
		value, err = cm.sub.invokeFunc(cm.fn)
	} else {
		value, ran, err = cm.sub.invokeSymbol()
	}
	if err != nil || !ran {
		return err
	}

	cm.mu.Lock()
	changed := !cm.valid || !cm.equals(cm.value, value)
	cm.value = value
	cm.valid = true
	cm.mu.Unlock()

	if changed {
		cm.sub.c.notifyCell(&cm.cell)
	}
	return nil
}

func (cm *Computed) equals(a, b any) bool {
	if cm.equal != nil {
		return cm.equal(a, b)
	}
	return DefaultEquals(a, b)
}

// WithEquals sets a custom equality function and returns the computed.
func (cm *Computed) WithEquals(fn func(a, b any) bool) *Computed {
	cm.mu.Lock()
	cm.equal = fn
	cm.mu.Unlock()
	return cm
}

// ID returns the unique identifier for this computed.
func (cm *Computed) ID() uint64 { return cm.sub.id }

// Kind returns KindComputed.
func (cm *Computed) Kind() Kind { return KindComputed }

// Symbol returns the body symbol, or nil for a Go function body.
func (cm *Computed) Symbol() (*qrl.Symbol, error) { return cm.sub.symbol() }

// Deps returns the dependencies recorded by the most recent run.
func (cm *Computed) Deps() []DepRef { return cm.sub.depRefs() }

// Runs returns how many times the body has run.
func (cm *Computed) Runs() int64 { return cm.sub.runs.Load() }

// SubscriberCount returns the number of subscribers reading this computed.
func (cm *Computed) SubscriberCount() int { return cm.cell.subscriberCount() }

// Dispose unsubscribes the computed from its sources.
func (cm *Computed) Dispose() { cm.sub.dispose() }

func (cm *Computed) base() *subscriber   { return cm.sub }
func (cm *Computed) container() *Container { return cm.sub.c }
func (cm *Computed) cells() []*cell       { return []*cell{&cm.cell} }
