package reactive

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/vango-dev/resume/pkg/qrl"
)

// State is the lifecycle state of a container.
type State int32

const (
	StateBuilding State = iota
	StateActive
	StateSerializing
	StateDisposed
)

// String returns a human-readable name for the state.
func (s State) String() string {
	switch s {
	case StateBuilding:
		return "building"
	case StateActive:
		return "active"
	case StateSerializing:
		return "serializing"
	case StateDisposed:
		return "disposed"
	default:
		return "unknown"
	}
}

// ErrUnknownIndex is returned when a graph index is not bound and no graph
// source can produce it.
var ErrUnknownIndex = errors.New("reactive: unknown graph index")

// GraphSource lazily materializes snapshot entries. The snapshot package
// attaches one to every resumed container.
type GraphSource interface {
	Resolve(index int) (any, error)
}

// Option configures a Container.
type Option func(*Container)

// WithAnchor sets the container anchor id. The default is a random UUID.
func WithAnchor(anchor string) Option {
	return func(c *Container) {
		if anchor != "" {
			c.anchor = anchor
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Container) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithResolver sets the symbol resolver. The default is qrl.Default().
func WithResolver(r *qrl.Resolver) Option {
	return func(c *Container) {
		if r != nil {
			c.resolver = r
		}
	}
}

// WithErrorSink receives every isolated subscriber failure.
func WithErrorSink(fn func(error)) Option {
	return func(c *Container) {
		c.errorSink = fn
	}
}

// WithObserver sets the lifecycle observer.
func WithObserver(o Observer) Option {
	return func(c *Container) {
		c.observer = o
	}
}

// WithContext sets the context passed to subscriber bodies and symbol loads.
func WithContext(ctx context.Context) Option {
	return func(c *Container) {
		if ctx != nil {
			c.ctx = ctx
		}
	}
}

// Container owns one reactive graph: its values, subscribers, graph indices,
// and scheduler.
type Container struct {
	anchor   string
	logger   *slog.Logger
	resolver *qrl.Resolver
	observer Observer
	ctx      context.Context

	errorSink func(error)

	state atomic.Int32
	epoch atomic.Uint64

	// gate orders writes against BeginSerialize. Writers hold it shared;
	// BeginSerialize takes it exclusively to switch state.
	gate sync.RWMutex

	// queued holds writes made while serializing.
	queued   []func()
	queuedMu sync.Mutex

	scheduler  scheduler
	batchDepth atomic.Int32

	// inbox holds continuations posted by symbol loads.
	inbox    []func()
	inboxMu  sync.Mutex
	inflight atomic.Int64
	wake     chan struct{}

	mu sync.Mutex

	// subscribers in creation order.
	subscribers []*subscriber

	// roots by name. A root restored from a snapshot holds only its index
	// until first access.
	roots map[string]*root

	// graph is the lazy entry source of a resumed container.
	graph GraphSource

	// byIndex and indexOf hold the stable graph indices of reactive
	// identities.
	byIndex map[int]any
	indexOf map[any]int

	// pending lists restored subscribers waiting for a source index.
	pending map[int][]*subscriber

	// stores caches store proxies by target identity.
	stores map[any]*Store

	cleanups []func()
}

type root struct {
	value any
	index int
	bound bool
}

// NewContainer creates a container in the building state.
func NewContainer(opts ...Option) *Container {
	c := &Container{
		anchor:  uuid.NewString(),
		logger:  slog.Default(),
		ctx:     context.Background(),
		wake:    make(chan struct{}, 1),
		roots:   make(map[string]*root),
		byIndex: make(map[int]any),
		indexOf: make(map[any]int),
		pending: make(map[int][]*subscriber),
		stores:  make(map[any]*Store),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.resolver == nil {
		c.resolver = qrl.Default()
	}
	c.logger = c.logger.With("component", "reactive", "container", c.anchor)
	return c
}

// Anchor returns the container anchor id.
func (c *Container) Anchor() string { return c.anchor }

// State returns the lifecycle state.
func (c *Container) State() State { return State(c.state.Load()) }

// Epoch returns the number of completed serializations.
func (c *Container) Epoch() uint64 { return c.epoch.Load() }

// Resolver returns the symbol resolver.
func (c *Container) Resolver() *qrl.Resolver { return c.resolver }

// Logger returns the container logger.
func (c *Container) Logger() *slog.Logger { return c.logger }

// Context returns the container context.
func (c *Container) Context() context.Context { return c.ctx }

// IsDisposed reports whether Dispose has been called.
func (c *Container) IsDisposed() bool { return c.State() == StateDisposed }

func (c *Container) transition(from, to State) bool {
	if !c.state.CompareAndSwap(int32(from), int32(to)) {
		return false
	}
	c.logger.Debug("container state changed", "from", from, "to", to)
	if c.observer != nil {
		c.observer.StateChanged(c.anchor, from, to)
	}
	return true
}

// markActive moves a building container to active.
func (c *Container) markActive() {
	if c.State() == StateBuilding {
		c.transition(StateBuilding, StateActive)
	}
}

// mutate applies a write, or queues it while a snapshot is being taken.
func (c *Container) mutate(apply func()) {
	c.gate.RLock()
	if c.State() == StateSerializing {
		c.queuedMu.Lock()
		c.queued = append(c.queued, apply)
		c.queuedMu.Unlock()
		c.gate.RUnlock()
		return
	}
	c.markActive()
	apply()
	c.gate.RUnlock()
}

// ---------------------------------------------------------------------------
// Roots
// ---------------------------------------------------------------------------

// SetRoot names a value as a serialization root.
func (c *Container) SetRoot(name string, v any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.roots[name] = &root{value: v, bound: true}
}

// SetRootIndex names a snapshot entry as a root without materializing it.
func (c *Container) SetRootIndex(name string, index int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.roots[name] = &root{index: index}
}

// DeleteRoot removes a named root.
func (c *Container) DeleteRoot(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.roots, name)
}

// Root returns a root value, materializing it on first access.
func (c *Container) Root(name string) (any, error) {
	c.mu.Lock()
	r, ok := c.roots[name]
	if !ok {
		c.mu.Unlock()
		return nil, fmt.Errorf("reactive: no root named %q", name)
	}
	if r.bound {
		v := r.value
		c.mu.Unlock()
		return v, nil
	}
	index := r.index
	c.mu.Unlock()

	v, err := c.Resolve(index)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	r.value, r.bound = v, true
	c.mu.Unlock()
	return v, nil
}

// Roots returns the root names, sorted.
func (c *Container) Roots() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	names := make([]string, 0, len(c.roots))
	for name := range c.roots {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ---------------------------------------------------------------------------
// Graph indices
// ---------------------------------------------------------------------------

// Resolve returns the live value bound to a graph index, materializing it
// through the attached graph source if needed.
func (c *Container) Resolve(index int) (any, error) {
	c.mu.Lock()
	if v, ok := c.byIndex[index]; ok {
		c.mu.Unlock()
		return v, nil
	}
	g := c.graph
	c.mu.Unlock()

	if g == nil {
		return nil, fmt.Errorf("%w: %d", ErrUnknownIndex, index)
	}
	return g.Resolve(index)
}

// GetOrCreateSignal returns the signal at index, creating a fresh signal
// bound to that index if the graph has no entry for it.
func (c *Container) GetOrCreateSignal(index int) (*Signal, error) {
	v, err := c.Resolve(index)
	switch {
	case err == nil:
		sig, ok := v.(*Signal)
		if !ok {
			return nil, fmt.Errorf("reactive: index %d holds %T, not a signal", index, v)
		}
		return sig, nil
	case errors.Is(err, ErrUnknownIndex):
		sig := c.NewSignal(nil)
		c.BindIndex(sig, index)
		return sig, nil
	default:
		return nil, err
	}
}

// IndexOf returns the stable graph index of a reactive identity.
func (c *Container) IndexOf(v any) (int, bool) {
	if !isIdentity(v) {
		return 0, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	i, ok := c.indexOf[v]
	return i, ok
}

// StableIndices returns a copy of every recorded identity index.
func (c *Container) StableIndices() map[any]int {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[any]int, len(c.indexOf))
	for k, v := range c.indexOf {
		out[k] = v
	}
	return out
}

// BindIndex records the graph index of a reactive identity and attaches any
// restored subscriber waiting for it.
func (c *Container) BindIndex(v any, index int) {
	if !isIdentity(v) {
		return
	}

	if st, ok := v.(*Store); ok {
		c.adopt(st)
	}

	c.mu.Lock()
	c.byIndex[index] = v
	c.indexOf[v] = index
	waiting := c.pending[index]
	delete(c.pending, index)
	c.mu.Unlock()

	src, ok := v.(Source)
	if !ok {
		return
	}
	for _, s := range waiting {
		for _, d := range s.pendingDeps() {
			if d.Index == index {
				s.attachRestored(d, src)
			}
		}
	}
}

// Discard forgets a restored identity that was never bound. A restored
// subscriber is disposed and dropped from the subscriber list and from every
// source it was waiting for.
func (c *Container) Discard(v any) {
	sub, ok := v.(Subscriber)
	if !ok {
		return
	}
	s := sub.base()

	c.mu.Lock()
	for i, cur := range c.subscribers {
		if cur == s {
			c.subscribers = append(c.subscribers[:i], c.subscribers[i+1:]...)
			break
		}
	}
	for index, waiting := range c.pending {
		kept := waiting[:0]
		for _, w := range waiting {
			if w != s {
				kept = append(kept, w)
			}
		}
		if len(kept) == 0 {
			delete(c.pending, index)
		} else {
			c.pending[index] = kept
		}
	}
	c.mu.Unlock()

	s.dispose()
}

// isIdentity reports whether v carries a stable graph index across rounds.
func isIdentity(v any) bool {
	switch v.(type) {
	case *Signal, *Store, *Computed, *Task, *Renderer:
		return true
	}
	return false
}

// ---------------------------------------------------------------------------
// Resume hooks
// ---------------------------------------------------------------------------

// BeginResume attaches the lazy graph of a snapshot and marks the container
// active at the snapshot epoch.
func (c *Container) BeginResume(g GraphSource, epoch uint64) {
	c.mu.Lock()
	c.graph = g
	c.mu.Unlock()
	c.epoch.Store(epoch)
	c.markActive()
}

// restore registers the restored dependencies of s. Sources that are
// already materialized attach immediately.
func (c *Container) restore(s *subscriber, deps []Dep) {
	s.depsMu.Lock()
	s.restored = append([]Dep(nil), deps...)
	s.depsMu.Unlock()

	for _, d := range deps {
		c.mu.Lock()
		v, bound := c.byIndex[d.Index]
		if !bound {
			c.pending[d.Index] = append(c.pending[d.Index], s)
		}
		c.mu.Unlock()

		if bound {
			if src, ok := v.(Source); ok {
				s.attachRestored(d, src)
			}
		}
	}
}

// MaterializePending resolves every source a restored subscriber is still
// waiting for.
func (c *Container) MaterializePending() error {
	c.mu.Lock()
	indices := make([]int, 0, len(c.pending))
	for i := range c.pending {
		indices = append(indices, i)
	}
	c.mu.Unlock()
	sort.Ints(indices)

	for _, i := range indices {
		if _, err := c.Resolve(i); err != nil {
			return err
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// Serialization hooks
// ---------------------------------------------------------------------------

// BeginSerialize moves the container to serializing. Writes made until
// EndSerialize are queued.
func (c *Container) BeginSerialize() error {
	c.gate.Lock()
	defer c.gate.Unlock()

	switch c.State() {
	case StateDisposed:
		return ErrDisposed
	case StateSerializing:
		return ErrSerializing
	}
	from := c.State()
	c.transition(from, StateSerializing)
	return nil
}

// EndSerialize records the indices assigned to reactive identities, bumps
// the epoch, returns to active, and applies queued writes.
func (c *Container) EndSerialize(indices map[any]int) {
	c.mu.Lock()
	for v, i := range indices {
		if isIdentity(v) {
			c.byIndex[i] = v
			c.indexOf[v] = i
		}
	}
	c.mu.Unlock()
	c.epoch.Add(1)
	c.finishSerialize()
}

// AbortSerialize returns to active without recording anything.
func (c *Container) AbortSerialize() {
	c.finishSerialize()
}

func (c *Container) finishSerialize() {
	c.gate.Lock()
	c.transition(StateSerializing, StateActive)
	c.gate.Unlock()

	c.queuedMu.Lock()
	queued := c.queued
	c.queued = nil
	c.queuedMu.Unlock()

	if len(queued) == 0 {
		return
	}
	c.logger.Debug("applying writes queued during serialization", "count", len(queued))
	for _, apply := range queued {
		c.mutate(apply)
	}
}

// Subscribers returns the live subscribers in creation order.
func (c *Container) Subscribers() []Subscriber {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Subscriber, 0, len(c.subscribers))
	for _, s := range c.subscribers {
		if !s.disposed.Load() {
			out = append(out, s.self)
		}
	}
	return out
}

func (c *Container) addSubscriber(s *subscriber) {
	c.mu.Lock()
	c.subscribers = append(c.subscribers, s)
	c.mu.Unlock()
}

// ---------------------------------------------------------------------------
// Scheduling
// ---------------------------------------------------------------------------

// Track runs fn as the body of sub: dependencies from the previous run are
// dropped and every read made through the scope is recorded.
func (c *Container) Track(sub Subscriber, fn func(*Scope)) error {
	s := sub.base()
	if s.c != c {
		return ErrForeignSubscriber
	}
	if c.IsDisposed() || s.disposed.Load() {
		return ErrDisposed
	}
	c.markActive()

	scope := s.beginRun(nil)
	defer scope.close()
	fn(scope)
	return nil
}

// Notify schedules every subscriber of src.
func (c *Container) Notify(src Source) {
	for _, cl := range src.cells() {
		c.notifyCell(cl)
	}
}

func (c *Container) notifyCell(cl *cell) {
	if c.IsDisposed() {
		return
	}
	for _, s := range cl.subscribers() {
		s.c.schedule(s)
	}
}

// schedule marks s dirty and queues it for the next flush.
func (c *Container) schedule(s *subscriber) {
	if c.IsDisposed() {
		return
	}
	if s.disposed.Load() {
		c.logger.Warn("ignoring notification", "error", &StaleSubscriberError{ID: s.id, Kind: s.kind})
		return
	}
	s.dirty.Store(true)
	c.scheduler.push(s)
}

// Batch runs fn and flushes when the outermost batch returns.
func (c *Container) Batch(fn func()) {
	c.batchDepth.Add(1)
	defer func() {
		if c.batchDepth.Add(-1) == 0 {
			c.Flush()
		}
	}()
	fn()
}

// Flush applies posted continuations and runs every dirty subscriber once,
// tasks first, then computeds, then renderers. It returns the number of
// subscriber runs.
func (c *Container) Flush() int {
	if c.IsDisposed() {
		return 0
	}
	c.drainInbox()

	if !c.scheduler.begin() {
		return 0
	}
	start := time.Now()
	runs := 0
	for {
		s := c.scheduler.next()
		if s == nil {
			break
		}
		if c.IsDisposed() {
			break
		}
		runs++
		if err := s.execute(); err != nil {
			c.report(s, err)
		}
	}
	c.scheduler.end()

	if runs > 0 {
		d := time.Since(start)
		c.logger.Debug("flush completed", "runs", runs, "duration", d)
		if c.observer != nil {
			c.observer.FlushCompleted(c.anchor, runs, d)
		}
	}
	return runs
}

// Pending returns the number of subscribers waiting for a flush.
func (c *Container) Pending() int {
	return c.scheduler.pending()
}

// Settle flushes until no subscriber is dirty and no symbol load is in
// flight.
func (c *Container) Settle(ctx context.Context) error {
	for {
		if c.IsDisposed() {
			return ErrDisposed
		}
		c.Flush()

		// inflight is read before the inbox: loads post before they finish.
		if c.inflight.Load() == 0 && !c.hasWork() {
			return nil
		}
		if c.hasWork() {
			continue
		}
		select {
		case <-c.wake:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Container) hasWork() bool {
	if c.scheduler.pending() > 0 {
		return true
	}
	c.inboxMu.Lock()
	defer c.inboxMu.Unlock()
	return len(c.inbox) > 0
}

// report routes an isolated subscriber failure to the log, the observer,
// and the error sink.
func (c *Container) report(s *subscriber, err error) {
	var stale *StaleSubscriberError
	if errors.As(err, &stale) {
		c.logger.Warn("stale subscriber", "error", err)
		return
	}

	serr := &SubscriberError{ID: s.id, Kind: s.kind, Symbol: s.symbolKey(), Err: err}
	c.logger.Error("subscriber failed", "kind", s.kind, "id", s.id, "error", err)
	if c.observer != nil {
		c.observer.SubscriberFailed(c.anchor, s.kind, serr)
	}
	if c.errorSink != nil {
		c.errorSink(serr)
	}
}

// ---------------------------------------------------------------------------
// Symbol loads
// ---------------------------------------------------------------------------

// loadBody resolves a body symbol in the background. When the load
// completes the subscriber is scheduled again on the next flush.
func (c *Container) loadBody(s *subscriber, sym *qrl.Symbol) {
	if !s.loading.CompareAndSwap(false, true) {
		return
	}
	c.inflight.Add(1)

	go func() {
		_, err := c.resolver.Resolve(c.ctx, sym)
		c.post(func() {
			s.loading.Store(false)
			if err != nil {
				c.report(s, err)
				return
			}
			c.schedule(s)
		})
		c.inflight.Add(-1)
		select {
		case c.wake <- struct{}{}:
		default:
		}
	}()
}

// post queues a continuation for the next flush. Continuations posted to a
// disposed container are dropped.
func (c *Container) post(fn func()) {
	if c.IsDisposed() {
		return
	}
	c.inboxMu.Lock()
	c.inbox = append(c.inbox, fn)
	c.inboxMu.Unlock()
}

func (c *Container) drainInbox() {
	c.inboxMu.Lock()
	inbox := c.inbox
	c.inbox = nil
	c.inboxMu.Unlock()

	for _, fn := range inbox {
		if c.IsDisposed() {
			return
		}
		fn()
	}
}

// ---------------------------------------------------------------------------
// Disposal
// ---------------------------------------------------------------------------

// OnCleanup registers fn to run when the container is disposed.
func (c *Container) OnCleanup(fn func()) {
	if c.IsDisposed() {
		fn()
		return
	}
	c.mu.Lock()
	c.cleanups = append(c.cleanups, fn)
	c.mu.Unlock()
}

// Dispose tears the container down: pending flush entries are dropped,
// every subscriber is unsubscribed, and in-flight symbol continuations
// become no-ops. Dispose is idempotent.
func (c *Container) Dispose() {
	c.gate.Lock()
	from := c.State()
	if from == StateDisposed {
		c.gate.Unlock()
		return
	}
	c.transition(from, StateDisposed)
	c.gate.Unlock()

	c.scheduler.clear()

	c.inboxMu.Lock()
	c.inbox = nil
	c.inboxMu.Unlock()

	c.queuedMu.Lock()
	c.queued = nil
	c.queuedMu.Unlock()

	c.mu.Lock()
	subs := c.subscribers
	c.subscribers = nil
	c.pending = make(map[int][]*subscriber)
	cleanups := c.cleanups
	c.cleanups = nil
	c.mu.Unlock()

	for _, s := range subs {
		s.disposed.Store(true)
		s.clearDeps()
	}
	for i := len(cleanups) - 1; i >= 0; i-- {
		cleanups[i]()
	}
	c.logger.Debug("container disposed", "subscribers", len(subs))
}
