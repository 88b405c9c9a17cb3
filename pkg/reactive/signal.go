package reactive

import "sync"

// Signal is a reactive value. Reading it through a Scope subscribes the
// scope's subscriber; writing a different value schedules every subscriber.
type Signal struct {
	id   uint64
	c    *Container
	cell cell

	// value is the current signal value.
	value any

	// mu protects the value.
	mu sync.RWMutex

	// equal decides whether a write changes the value.
	equal func(a, b any) bool
}

// NewSignal creates a signal owned by c.
func (c *Container) NewSignal(initial any) *Signal {
	s := &Signal{
		id:    nextID(),
		c:     c,
		value: initial,
	}
	s.cell.owner = s
	return s
}

// ID returns the unique identifier for this signal.
func (s *Signal) ID() uint64 { return s.id }

func (s *Signal) container() *Container { return s.c }
func (s *Signal) cells() []*cell       { return []*cell{&s.cell} }

// Get returns the current value and subscribes the scope's subscriber.
func (s *Signal) Get(scope *Scope) any {
	s.mu.RLock()
	value := s.value
	s.mu.RUnlock()

	// Track after releasing the value lock.
	scope.track(&s.cell)
	return value
}

// Peek returns the current value without subscribing.
func (s *Signal) Peek() any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.value
}

// Init sets the value without notifying subscribers or queueing. Decoders
// use it to populate restored signals.
func (s *Signal) Init(value any) {
	s.mu.Lock()
	s.value = value
	s.mu.Unlock()
}

// Set updates the value and notifies subscribers if it changed.
// While the container is serializing the write is queued.
func (s *Signal) Set(value any) {
	s.c.mutate(func() { s.set(value) })
}

func (s *Signal) set(value any) {
	s.mu.Lock()
	if s.equals(s.value, value) {
		s.mu.Unlock()
		return
	}
	s.value = value
	s.mu.Unlock()

	s.c.notifyCell(&s.cell)
}

// Update applies fn to the current value and sets the result atomically
// with respect to other writers.
func (s *Signal) Update(fn func(any) any) {
	s.c.mutate(func() {
		s.mu.Lock()
		old := s.value
		value := fn(old)
		if s.equals(old, value) {
			s.mu.Unlock()
			return
		}
		s.value = value
		s.mu.Unlock()

		s.c.notifyCell(&s.cell)
	})
}

// WithEquals sets a custom equality function and returns the signal.
func (s *Signal) WithEquals(fn func(a, b any) bool) *Signal {
	s.mu.Lock()
	s.equal = fn
	s.mu.Unlock()
	return s
}

// SubscriberCount returns the number of subscribers.
func (s *Signal) SubscriberCount() int {
	return s.cell.subscriberCount()
}

func (s *Signal) equals(a, b any) bool {
	if s.equal != nil {
		return s.equal(a, b)
	}
	return DefaultEquals(a, b)
}

// Read returns the value of sig as T, tracking through scope. It returns the
// zero value if the signal holds another type.
func Read[T any](sig *Signal, scope *Scope) T {
	v, _ := sig.Get(scope).(T)
	return v
}
