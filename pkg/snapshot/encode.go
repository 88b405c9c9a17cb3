package snapshot

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/vango-dev/resume/pkg/reactive"
)

const pendingPromiseType = "pending promise"

// EncodeContext is handed to Codec.Encode. It allocates indices for child
// values and tracks the path used in error messages.
type EncodeContext struct {
	s     *serializer
	path  string
	index int
}

// Ref returns the index of child, allocating and encoding it if it has not
// been seen. The index is allocated before the child is encoded, so cycles
// through object-like values resolve to the same index. segment is appended
// to the current path, for example ".name" or "[3]".
func (e *EncodeContext) Ref(child any, segment string) (int, error) {
	return e.s.ref(child, e.path+segment)
}

// Path returns the path of the value being encoded.
func (e *EncodeContext) Path() string { return e.path }

// Index returns the index allocated to the value being encoded.
func (e *EncodeContext) Index() int { return e.index }

// Fail returns a NonSerializableValueError for the current path.
func (e *EncodeContext) Fail(typ string) error {
	return &NonSerializableValueError{Path: e.path, Type: typ}
}

type serializer struct {
	opts    options
	codecs  []Codec
	entries [][]any

	// index maps value identities to entry indices.
	index map[any]int

	// stable holds indices recorded for reactive identities by earlier
	// rounds; reserved is its inverse set.
	stable   map[any]int
	reserved map[int]bool

	next     int
	deferred []int
}

func newSerializer(o options, stable map[any]int) *serializer {
	s := &serializer{
		opts:     o,
		codecs:   o.registry.encoders(),
		index:    make(map[any]int),
		stable:   stable,
		reserved: make(map[int]bool, len(stable)),
	}
	for _, i := range stable {
		s.reserved[i] = true
	}
	return s
}

// alloc returns the index for a new value: its recorded stable index if it
// has one, otherwise the lowest index not used or reserved.
func (s *serializer) alloc(v any) int {
	idx := -1
	if key, ok := keyOf(v); ok {
		if i, found := s.stable[key]; found {
			idx = i
		}
	}
	if idx < 0 {
		for s.reserved[s.next] || (s.next < len(s.entries) && s.entries[s.next] != nil) {
			s.next++
		}
		idx = s.next
		s.next++
	}
	for len(s.entries) <= idx {
		s.entries = append(s.entries, nil)
	}
	// Placeholder until the entry is encoded.
	s.entries[idx] = []any{}
	return idx
}

func (s *serializer) ref(v any, path string) (int, error) {
	key, ok := keyOf(v)
	if ok {
		if idx, found := s.index[key]; found {
			return idx, nil
		}
	}

	idx := s.alloc(v)
	if ok {
		s.index[key] = idx
	}

	e := &EncodeContext{s: s, path: path, index: idx}
	for _, c := range s.codecs {
		payload, handled, err := c.Encode(v, e)
		if err != nil {
			return 0, err
		}
		if !handled {
			continue
		}
		entry := make([]any, 0, len(payload)+1)
		entry = append(entry, c.Tag())
		entry = append(entry, payload...)
		s.entries[idx] = entry
		return idx, nil
	}
	return 0, &NonSerializableValueError{Path: path, Type: typeName(v)}
}

// finish fills unreached reserved indices with holes and builds the
// snapshot.
func (s *serializer) finish(roots map[string]int, subs []int) *Snapshot {
	for i, e := range s.entries {
		if len(e) == 0 {
			s.entries[i] = []any{tagHole}
		}
	}
	deferred := s.deferred
	if deferred == nil {
		deferred = []int{}
	}
	sort.Ints(deferred)
	if subs == nil {
		subs = []int{}
	}
	return &Snapshot{
		Version:     Version,
		Roots:       roots,
		Subscribers: subs,
		Deferred:    deferred,
		Entries:     s.entries,
	}
}

func (s *serializer) walkRoots(roots map[string]any) (map[string]int, error) {
	names := make([]string, 0, len(roots))
	for name := range roots {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make(map[string]int, len(roots))
	for _, name := range names {
		idx, err := s.ref(roots[name], name)
		if err != nil {
			return nil, err
		}
		out[name] = idx
	}
	return out, nil
}

func (s *serializer) walkSubscribers(subs []reactive.Subscriber) ([]int, error) {
	out := make([]int, 0, len(subs))
	for i, sub := range subs {
		path := fmt.Sprintf("$subscribers[%d]", i)
		sym, err := sub.Symbol()
		if err != nil {
			return nil, err
		}
		if sym == nil {
			if sub.Kind() == reactive.KindRenderer {
				continue
			}
			return nil, &NonSerializableValueError{Path: path + ".body", Type: "func"}
		}
		idx, err := s.ref(sub, path)
		if err != nil {
			return nil, err
		}
		out = append(out, idx)
	}
	return out, nil
}

// Serialize walks the roots and subscribers of c and returns a snapshot.
// Writes made to c while the walk runs are queued and applied afterwards.
func Serialize(c *reactive.Container, opts ...Option) (*Snapshot, error) {
	o := buildOptions(opts)
	_, span := tracer.Start(c.Context(), "snapshot.serialize")
	defer span.End()
	span.SetAttributes(attribute.String("resume.container", c.Anchor()))

	start := time.Now()
	snap, err := serialize(c, o)
	d := time.Since(start)

	if o.observer != nil {
		n := 0
		if snap != nil {
			n = snap.Len()
		}
		o.observer.Serialized(c.Anchor(), n, d, err)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		o.logger.Warn("serialize failed", "container", c.Anchor(), "error", err)
		return nil, err
	}

	span.SetAttributes(attribute.Int("resume.entries", snap.Len()))
	o.logger.Debug("serialized container",
		"container", c.Anchor(),
		"epoch", snap.Epoch,
		"entries", snap.Len(),
		"duration", d,
	)
	return snap, nil
}

func serialize(c *reactive.Container, o options) (*Snapshot, error) {
	if err := c.MaterializePending(); err != nil {
		return nil, err
	}
	roots := make(map[string]any)
	for _, name := range c.Roots() {
		v, err := c.Root(name)
		if err != nil {
			return nil, err
		}
		roots[name] = v
	}

	if err := c.BeginSerialize(); err != nil {
		return nil, err
	}

	s := newSerializer(o, c.StableIndices())
	rootIdx, err := s.walkRoots(roots)
	if err != nil {
		c.AbortSerialize()
		return nil, err
	}
	subIdx, err := s.walkSubscribers(c.Subscribers())
	if err != nil {
		c.AbortSerialize()
		return nil, err
	}

	snap := s.finish(rootIdx, subIdx)
	c.EndSerialize(s.index)
	snap.Epoch = c.Epoch()
	snap.Container = c.Anchor()
	return snap, nil
}

// Encode serializes a plain value graph without a container.
func Encode(roots map[string]any, opts ...Option) (*Snapshot, error) {
	o := buildOptions(opts)
	_, span := tracer.Start(context.Background(), "snapshot.encode")
	defer span.End()

	start := time.Now()
	s := newSerializer(o, nil)
	rootIdx, err := s.walkRoots(roots)
	var snap *Snapshot
	if err == nil {
		snap = s.finish(rootIdx, nil)
	}

	if o.observer != nil {
		n := 0
		if snap != nil {
			n = snap.Len()
		}
		o.observer.Serialized("", n, time.Since(start), err)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return snap, nil
}

type refKey struct {
	typ reflect.Type
	ptr uintptr
	len int
}

// keyOf returns the deduplication key of v: identity for maps and
// non-empty slices, the value itself for comparable values.
func keyOf(v any) (any, bool) {
	if v == nil {
		return nilKey{}, true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Map:
		if rv.IsNil() {
			return nil, false
		}
		return refKey{typ: rv.Type(), ptr: rv.Pointer()}, true
	case reflect.Slice:
		if rv.Len() == 0 {
			return nil, false
		}
		return refKey{typ: rv.Type(), ptr: rv.Pointer(), len: rv.Len()}, true
	}
	if rv.Comparable() {
		return v, true
	}
	return nil, false
}

type nilKey struct{}

func typeName(v any) string {
	if v == nil {
		return "nil"
	}
	t := reflect.TypeOf(v)
	if t.Kind() == reflect.Func {
		return "func"
	}
	return t.String()
}
