package reactive

import (
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"sync"
)

// KeysKey is the structural dependency key of a store. Readers of Keys or
// Len depend on it; adding or removing a property notifies it.
const KeysKey = "$keys"

// Store wraps a map[string]any or []any with per-property tracking.
// Nested maps and slices are exposed as child stores on first access.
type Store struct {
	id uint64
	c  *Container

	// target is the plain shape being tracked.
	target any
	mu     sync.RWMutex

	// byKey holds the per-key subscriber sets, created lazily.
	byKey   map[string]*cell
	cellsMu sync.Mutex

	// children caches child stores by key.
	children map[string]*Store

	// parent is the store this one was first reached through.
	parent    *Store
	parentKey string

	equal func(a, b any) bool
}

// NewStore returns the store for target, creating it if the container has
// none yet. Target must be a map[string]any or []any; a nil map or slice is
// replaced by an empty one.
func (c *Container) NewStore(target any) *Store {
	switch t := target.(type) {
	case map[string]any:
		if t == nil {
			target = map[string]any{}
		}
	case []any:
		if t == nil {
			target = []any{}
		}
	case *Store:
		return t
	default:
		panic(fmt.Sprintf("reactive: store target must be map[string]any or []any, got %T", target))
	}
	return c.storeFor(target)
}

// IsStoreTarget reports whether v can be wrapped in a store.
func IsStoreTarget(v any) bool {
	switch v.(type) {
	case map[string]any, []any:
		return true
	}
	return false
}

// storeFor returns the cached store for target or creates one.
func (c *Container) storeFor(target any) *Store {
	key, ok := identityKey(target)
	if ok {
		c.mu.Lock()
		if s, found := c.stores[key]; found {
			c.mu.Unlock()
			return s
		}
		c.mu.Unlock()
	}

	s := &Store{
		id:       nextID(),
		c:        c,
		target:   target,
		byKey:    make(map[string]*cell),
		children: make(map[string]*Store),
	}

	if ok {
		c.mu.Lock()
		if existing, found := c.stores[key]; found {
			c.mu.Unlock()
			return existing
		}
		c.stores[key] = s
		c.mu.Unlock()
	}
	return s
}

// RestoreStore returns a store with no target, for a snapshot entry whose
// target is decoded after the store itself. Init sets the target; binding
// the store to its graph index caches it by target identity.
func (c *Container) RestoreStore() *Store {
	return &Store{
		id:       nextID(),
		c:        c,
		byKey:    make(map[string]*cell),
		children: make(map[string]*Store),
	}
}

// Init sets the target of a restored store.
func (s *Store) Init(target any) error {
	if !IsStoreTarget(target) {
		return fmt.Errorf("reactive: store target must be map[string]any or []any, got %T", target)
	}
	s.mu.Lock()
	s.target = target
	s.mu.Unlock()
	return nil
}

// adopt caches a restored store by its target identity unless another store
// already wraps that target.
func (c *Container) adopt(s *Store) {
	key, ok := identityKey(s.Target())
	if !ok {
		return
	}
	c.mu.Lock()
	if _, found := c.stores[key]; !found {
		c.stores[key] = s
	}
	c.mu.Unlock()
}

// rekey moves a slice store to the identity of its new backing array.
func (c *Container) rekey(s *Store, old, next any) {
	oldKey, okOld := identityKey(old)
	newKey, okNew := identityKey(next)
	c.mu.Lock()
	defer c.mu.Unlock()
	if okOld && c.stores[oldKey] == s {
		delete(c.stores, oldKey)
	}
	if okNew {
		c.stores[newKey] = s
	}
}

type identity struct {
	kind reflect.Kind
	ptr  uintptr
	len  int
}

// identityKey returns a comparable identity for maps and non-empty slices.
func identityKey(v any) (any, bool) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Map:
		if rv.IsNil() {
			return nil, false
		}
		return identity{kind: reflect.Map, ptr: rv.Pointer()}, true
	case reflect.Slice:
		if rv.Len() == 0 {
			return nil, false
		}
		return identity{kind: reflect.Slice, ptr: rv.Pointer(), len: rv.Len()}, true
	}
	return nil, false
}

// ID returns the unique identifier for this store.
func (s *Store) ID() uint64 { return s.id }

func (s *Store) container() *Container { return s.c }

func (s *Store) cells() []*cell {
	s.cellsMu.Lock()
	defer s.cellsMu.Unlock()
	out := make([]*cell, 0, len(s.byKey))
	keys := make([]string, 0, len(s.byKey))
	for k := range s.byKey {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		out = append(out, s.byKey[k])
	}
	return out
}

// cellFor returns the subscriber set for key, creating it on first use.
func (s *Store) cellFor(key string) *cell {
	s.cellsMu.Lock()
	defer s.cellsMu.Unlock()
	cl, ok := s.byKey[key]
	if !ok {
		cl = &cell{owner: s, key: key}
		s.byKey[key] = cl
	}
	return cl
}

func (s *Store) notify(key string) {
	s.cellsMu.Lock()
	cl, ok := s.byKey[key]
	s.cellsMu.Unlock()
	if ok {
		s.c.notifyCell(cl)
	}
}

// Target returns the plain shape tracked by the store.
func (s *Store) Target() any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.target
}

// IsSlice reports whether the store tracks a slice.
func (s *Store) IsSlice() bool {
	_, ok := s.Target().([]any)
	return ok
}

// WithEquals sets a custom per-property equality function.
func (s *Store) WithEquals(fn func(a, b any) bool) *Store {
	s.mu.Lock()
	s.equal = fn
	s.mu.Unlock()
	return s
}

func (s *Store) equals(a, b any) bool {
	if s.equal != nil {
		return s.equal(a, b)
	}
	return DefaultEquals(a, b)
}

// Get returns the property at key and subscribes the scope's subscriber to
// it. Nested maps and slices are returned as child stores. For slice stores
// key is a decimal index.
func (s *Store) Get(scope *Scope, key string) any {
	scope.track(s.cellFor(key))
	raw, ok := s.raw(key)
	if !ok {
		return nil
	}
	if IsStoreTarget(raw) {
		return s.child(key, raw)
	}
	return raw
}

// Peek returns the property at key without subscribing.
func (s *Store) Peek(key string) any {
	raw, ok := s.raw(key)
	if !ok {
		return nil
	}
	if IsStoreTarget(raw) {
		return s.child(key, raw)
	}
	return raw
}

// Has reports whether key is present, subscribing to it.
func (s *Store) Has(scope *Scope, key string) bool {
	scope.track(s.cellFor(key))
	_, ok := s.raw(key)
	return ok
}

func (s *Store) raw(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	switch t := s.target.(type) {
	case map[string]any:
		v, ok := t[key]
		return v, ok
	case []any:
		i, err := strconv.Atoi(key)
		if err != nil || i < 0 || i >= len(t) {
			return nil, false
		}
		return t[i], true
	}
	return nil, false
}

// child returns the store wrapping a nested target reached through key.
func (s *Store) child(key string, raw any) *Store {
	s.mu.RLock()
	ch, ok := s.children[key]
	s.mu.RUnlock()
	if ok && DefaultEquals(ch.Target(), raw) {
		return ch
	}

	ch = s.c.storeFor(raw)
	ch.mu.Lock()
	if ch.parent == nil && ch != s {
		ch.parent, ch.parentKey = s, key
	}
	ch.mu.Unlock()

	s.mu.Lock()
	s.children[key] = ch
	s.mu.Unlock()
	return ch
}

// Keys returns the property keys, sorted for maps and in index order for
// slices, and subscribes to the key set.
func (s *Store) Keys(scope *Scope) []string {
	scope.track(s.cellFor(KeysKey))
	s.mu.RLock()
	defer s.mu.RUnlock()
	switch t := s.target.(type) {
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		return keys
	case []any:
		keys := make([]string, len(t))
		for i := range t {
			keys[i] = strconv.Itoa(i)
		}
		return keys
	}
	return nil
}

// Len returns the number of properties and subscribes to the key set.
func (s *Store) Len(scope *Scope) int {
	scope.track(s.cellFor(KeysKey))
	s.mu.RLock()
	defer s.mu.RUnlock()
	switch t := s.target.(type) {
	case map[string]any:
		return len(t)
	case []any:
		return len(t)
	}
	return 0
}

// Index returns element i of a slice store.
func (s *Store) Index(scope *Scope, i int) any {
	return s.Get(scope, strconv.Itoa(i))
}

// Set writes the property at key. Child stores are stored as their plain
// target. Subscribers of key are notified if the value changed; subscribers
// of the key set are notified if key is new. Setting an index past the end
// of a slice store appends.
func (s *Store) Set(key string, value any) {
	if ch, ok := value.(*Store); ok {
		value = ch.Target()
	}
	s.c.mutate(func() { s.set(key, value) })
}

func (s *Store) set(key string, value any) {
	s.mu.Lock()
	switch t := s.target.(type) {
	case map[string]any:
		old, existed := t[key]
		if existed && s.equals(old, value) {
			s.mu.Unlock()
			return
		}
		t[key] = value
		s.mu.Unlock()

		s.notify(key)
		if !existed {
			s.notify(KeysKey)
		}
	case []any:
		i, err := strconv.Atoi(key)
		if err != nil || i < 0 {
			s.mu.Unlock()
			panic(fmt.Sprintf("reactive: invalid slice store index %q", key))
		}
		if i >= len(t) {
			s.mu.Unlock()
			pad := make([]any, i-len(t)+1)
			pad[len(pad)-1] = value
			s.appendValues(pad)
			return
		}
		if s.equals(t[i], value) {
			s.mu.Unlock()
			return
		}
		t[i] = value
		s.mu.Unlock()
		s.notify(key)
	default:
		s.mu.Unlock()
	}
}

// SetIndex writes element i of a slice store.
func (s *Store) SetIndex(i int, value any) {
	s.Set(strconv.Itoa(i), value)
}

// Delete removes key from a map store.
func (s *Store) Delete(key string) {
	s.c.mutate(func() {
		s.mu.Lock()
		t, ok := s.target.(map[string]any)
		if !ok {
			s.mu.Unlock()
			return
		}
		if _, existed := t[key]; !existed {
			s.mu.Unlock()
			return
		}
		delete(t, key)
		delete(s.children, key)
		s.mu.Unlock()

		s.notify(key)
		s.notify(KeysKey)
	})
}

// Append adds elements to a slice store.
func (s *Store) Append(values ...any) {
	if len(values) == 0 {
		return
	}
	for i, v := range values {
		if ch, ok := v.(*Store); ok {
			values[i] = ch.Target()
		}
	}
	s.c.mutate(func() { s.appendValues(values) })
}

func (s *Store) appendValues(values []any) {
	s.mu.Lock()
	old, ok := s.target.([]any)
	if !ok {
		s.mu.Unlock()
		return
	}
	start := len(old)
	grown := append(old, values...)
	s.target = grown
	parent, parentKey := s.parent, s.parentKey
	s.mu.Unlock()

	s.c.rekey(s, old, grown)

	// The parent holds the old slice header; point it at the new one
	// without notifying readers of the parent key, which see this store.
	if parent != nil {
		parent.mu.Lock()
		switch pt := parent.target.(type) {
		case map[string]any:
			pt[parentKey] = grown
		case []any:
			if i, err := strconv.Atoi(parentKey); err == nil && i < len(pt) {
				pt[i] = grown
			}
		}
		parent.mu.Unlock()
	}

	for i := start; i < len(grown); i++ {
		s.notify(strconv.Itoa(i))
	}
	s.notify(KeysKey)
}

// SubscriberCount returns the number of subscribers of key.
func (s *Store) SubscriberCount(key string) int {
	s.cellsMu.Lock()
	cl, ok := s.byKey[key]
	s.cellsMu.Unlock()
	if !ok {
		return 0
	}
	return cl.subscriberCount()
}
