package reactive

import "sync"

// Source is anything a subscriber can depend on and a container can notify:
// *Signal, *Store, and *Computed.
type Source interface {
	// ID returns a unique identifier for this source.
	ID() uint64

	container() *Container
	cells() []*cell
}

// cell is one unit of subscription. Signals and computeds own a single cell;
// stores own one per property key plus one for their key set.
type cell struct {
	// owner is the *Signal, *Store, or *Computed this cell belongs to.
	owner Source

	// key is the store property key; empty for signals and computeds.
	key string

	// subs are the subscribers that read this cell during their latest run.
	subs  []*subscriber
	subMu sync.RWMutex
}

// subscribe adds a subscriber, deduplicating by ID.
func (c *cell) subscribe(s *subscriber) {
	if s == nil {
		return
	}

	c.subMu.Lock()
	defer c.subMu.Unlock()

	for _, existing := range c.subs {
		if existing.id == s.id {
			return
		}
	}
	c.subs = append(c.subs, s)
}

// unsubscribe removes a subscriber.
func (c *cell) unsubscribe(s *subscriber) {
	if s == nil {
		return
	}

	c.subMu.Lock()
	defer c.subMu.Unlock()

	for i, existing := range c.subs {
		if existing.id == s.id {
			// Keep registration order so notification stays FIFO.
			c.subs = append(c.subs[:i], c.subs[i+1:]...)
			return
		}
	}
}

// subscribers returns a copy of the current subscriber list.
func (c *cell) subscribers() []*subscriber {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	out := make([]*subscriber, len(c.subs))
	copy(out, c.subs)
	return out
}

// subscriberCount returns the number of subscribers.
func (c *cell) subscriberCount() int {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	return len(c.subs)
}

// Dep is one dependency edge as recorded in a snapshot: the graph index of a
// source and, for stores, the property key.
type Dep struct {
	Index int
	Key   string
}

// DepRef is one live dependency edge of a subscriber.
type DepRef struct {
	Source Source
	Key    string
}

// cellFor returns the cell a dependency on (src, key) refers to.
func cellFor(src Source, key string) *cell {
	switch v := src.(type) {
	case *Store:
		return v.cellFor(key)
	case *Signal:
		return &v.cell
	case *Computed:
		return &v.cell
	}
	return nil
}
