package snapshot

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/vango-dev/resume/pkg/qrl"
	"github.com/vango-dev/resume/pkg/reactive"
)

// DecodeContext is handed to Codec.Allocate and Codec.Populate.
type DecodeContext struct {
	g     *Graph
	index int
	tag   string
	kept  any
}

// Resolve returns the value of another entry, materializing it if needed.
// Resolving an object-like entry that is still being populated returns its
// shell.
func (d *DecodeContext) Resolve(index int) (any, error) {
	return d.g.resolve(index)
}

// Index returns the index of the entry being decoded.
func (d *DecodeContext) Index() int { return d.index }

// Container returns the container being resumed, or nil for Decode.
func (d *DecodeContext) Container() *reactive.Container { return d.g.c }

// Bind records v as the live identity of the entry being decoded. The
// container sees the binding once the top-level Resolve succeeds.
func (d *DecodeContext) Bind(v any) {
	d.g.bindings = append(d.g.bindings, binding{value: v, index: d.index})
}

// Keep stores codec state between Allocate and Populate.
func (d *DecodeContext) Keep(v any) { d.kept = v }

// Kept returns the value stored by Keep.
func (d *DecodeContext) Kept() any { return d.kept }

func (d *DecodeContext) requireContainer() (*reactive.Container, error) {
	if d.g.c == nil {
		return nil, fmt.Errorf("reactive entry requires Resume")
	}
	return d.g.c, nil
}

// Graph is the lazily materialized view of a snapshot.
type Graph struct {
	snap *Snapshot
	opts options
	c    *reactive.Container

	mu sync.Mutex

	// values caches materialized entries; shells are cached while their
	// entry is being populated.
	values map[int]any

	// decoding marks entries whose Allocate or scalar Populate is running.
	decoding map[int]bool

	// journal lists the entries cached by the current top-level Resolve,
	// which are discarded if it fails.
	journal []int

	// bindings lists the reactive identities created by the current
	// top-level Resolve, bound into the container only if it succeeds.
	bindings []binding

	deferred map[int]*reactive.Promise
}

type binding struct {
	value any
	index int
}

func newGraph(snap *Snapshot, o options, c *reactive.Container) *Graph {
	return &Graph{
		snap:     snap,
		opts:     o,
		c:        c,
		values:   make(map[int]any),
		decoding: make(map[int]bool),
		deferred: make(map[int]*reactive.Promise),
	}
}

// Resume creates a container from a snapshot. Roots and values are
// materialized on first access; subscribers are restored immediately so
// writes to their sources schedule them.
func Resume(snap *Snapshot, opts ...Option) (*reactive.Container, *Graph, error) {
	o := buildOptions(opts)
	if err := snap.validate(); err != nil {
		return nil, nil, err
	}

	copts := append([]reactive.Option{reactive.WithAnchor(snap.Container)}, o.containerOpts...)
	c := reactive.NewContainer(copts...)

	_, span := tracer.Start(c.Context(), "snapshot.resume")
	defer span.End()
	span.SetAttributes(
		attribute.String("resume.container", c.Anchor()),
		attribute.Int("resume.entries", snap.Len()),
	)

	g := newGraph(snap, o, c)
	c.BeginResume(g, snap.Epoch)
	for name, idx := range snap.Roots {
		c.SetRootIndex(name, idx)
	}
	for _, idx := range snap.Subscribers {
		if _, err := g.Resolve(idx); err != nil {
			c.Dispose()
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, nil, err
		}
	}

	o.logger.Debug("resumed container",
		"container", c.Anchor(),
		"epoch", snap.Epoch,
		"entries", snap.Len(),
		"subscribers", len(snap.Subscribers),
	)
	return c, g, nil
}

// Decode returns a graph for a snapshot of plain values. Reactive entries
// fail to resolve; use Resume for those.
func Decode(snap *Snapshot, opts ...Option) (*Graph, error) {
	o := buildOptions(opts)
	if err := snap.validate(); err != nil {
		return nil, err
	}
	return newGraph(snap, o, nil), nil
}

// Container returns the resumed container, or nil for Decode.
func (g *Graph) Container() *reactive.Container { return g.c }

// Snapshot returns the underlying snapshot.
func (g *Graph) Snapshot() *Snapshot { return g.snap }

// Root resolves a named root.
func (g *Graph) Root(name string) (any, error) {
	idx, ok := g.snap.Roots[name]
	if !ok {
		return nil, fmt.Errorf("snapshot: no root named %q", name)
	}
	return g.Resolve(idx)
}

// Materialized returns the number of entries decoded so far.
func (g *Graph) Materialized() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.values)
}

// Resolve materializes the entry at index. If decoding fails, nothing
// decoded by this call is kept.
func (g *Graph) Resolve(index int) (any, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.journal = g.journal[:0]
	g.bindings = g.bindings[:0]
	v, err := g.resolve(index)
	if err != nil {
		g.rollback()
		return nil, err
	}
	g.commit()
	return v, nil
}

// commit binds the identities created by a successful Resolve.
func (g *Graph) commit() {
	if g.c != nil {
		for _, b := range g.bindings {
			g.c.BindIndex(b.value, b.index)
		}
	}
	g.journal = g.journal[:0]
	g.bindings = g.bindings[:0]
}

// rollback forgets every entry and identity created by a failed Resolve.
func (g *Graph) rollback() {
	for _, i := range g.journal {
		delete(g.values, i)
		delete(g.deferred, i)
	}
	if g.c != nil {
		for _, b := range g.bindings {
			g.c.Discard(b.value)
		}
	}
	clear(g.decoding)
	g.journal = g.journal[:0]
	g.bindings = g.bindings[:0]
}

func (g *Graph) resolve(index int) (any, error) {
	if v, ok := g.values[index]; ok {
		return v, nil
	}
	if index < 0 || index >= len(g.snap.Entries) {
		return nil, &IndexOutOfRangeError{Index: index, Len: len(g.snap.Entries)}
	}

	entry := g.snap.Entries[index]
	tag := g.snap.Tag(index)
	if g.decoding[index] {
		return nil, &CyclicScalarReferenceError{Index: index, Tag: tag}
	}
	codec, ok := g.opts.registry.Lookup(tag)
	if !ok {
		err := &UnknownTagError{Tag: tag, Index: index}
		g.observe(tag, err)
		return nil, err
	}

	d := &DecodeContext{g: g, index: index, tag: tag}
	raw := RawPayload(entry[1:])

	g.decoding[index] = true
	shell, object, err := codec.Allocate(raw, d)
	if err != nil {
		delete(g.decoding, index)
		return nil, g.fail(d, err)
	}
	if object {
		delete(g.decoding, index)
		g.store(index, shell)
	}

	v, err := codec.Populate(shell, raw, d)
	delete(g.decoding, index)
	if err != nil {
		return nil, g.fail(d, err)
	}
	g.store(index, v)
	g.observe(tag, nil)
	return v, nil
}

func (g *Graph) store(index int, v any) {
	if _, exists := g.values[index]; !exists {
		g.journal = append(g.journal, index)
	}
	g.values[index] = v
}

// fail wraps a codec error as a MalformedEntryError unless it is already a
// typed snapshot error.
func (g *Graph) fail(d *DecodeContext, err error) error {
	var (
		cyc  *CyclicScalarReferenceError
		tag  *UnknownTagError
		idx  *IndexOutOfRangeError
		bad  *MalformedEntryError
		nsv  *NonSerializableValueError
		qerr *qrl.SymbolResolutionError
	)
	if errors.As(err, &cyc) || errors.As(err, &tag) || errors.As(err, &idx) ||
		errors.As(err, &bad) || errors.As(err, &nsv) || errors.As(err, &qerr) {
		return err
	}
	wrapped := &MalformedEntryError{Index: d.index, Tag: d.tag, Reason: err.Error()}
	g.observe(d.tag, wrapped)
	return wrapped
}

func (g *Graph) observe(tag string, err error) {
	if g.opts.observer != nil {
		g.opts.observer.Resolved(tag, err)
	}
}

// symbolThunk returns a function that resolves the body symbol at index on
// first use.
func (g *Graph) symbolThunk(index int) func() (*qrl.Symbol, error) {
	return func() (*qrl.Symbol, error) {
		v, err := g.Resolve(index)
		if err != nil {
			return nil, err
		}
		sym, ok := v.(*qrl.Symbol)
		if !ok {
			return nil, &MalformedEntryError{Index: index, Tag: g.snap.Tag(index), Reason: "subscriber body is not a symbol"}
		}
		return sym, nil
	}
}

// Deferred returns the indices of promises that were pending when the
// snapshot was taken.
func (g *Graph) Deferred() []int {
	out := make([]int, len(g.snap.Deferred))
	copy(out, g.snap.Deferred)
	return out
}

// Settle settles the deferred promise at index with value, or with err if
// err is not nil.
func (g *Graph) Settle(index int, value any, err error) error {
	v, rerr := g.Resolve(index)
	if rerr != nil {
		return rerr
	}
	p, ok := v.(*reactive.Promise)
	if !ok {
		return fmt.Errorf("snapshot: entry %d is %T, not a promise", index, v)
	}
	g.mu.Lock()
	_, deferred := g.deferred[index]
	g.mu.Unlock()
	if !deferred {
		return fmt.Errorf("snapshot: entry %d is not a deferred promise", index)
	}
	if err != nil {
		return p.Reject(err)
	}
	return p.Resolve(value)
}

// Await resolves the promise at index and waits for it to settle.
func (g *Graph) Await(ctx context.Context, index int) (any, error) {
	v, err := g.Resolve(index)
	if err != nil {
		return nil, err
	}
	p, ok := v.(*reactive.Promise)
	if !ok {
		return nil, fmt.Errorf("snapshot: entry %d is %T, not a promise", index, v)
	}
	return p.Await(ctx)
}
