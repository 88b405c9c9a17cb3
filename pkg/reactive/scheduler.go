package reactive

import "sync"

// scheduler holds the dirty subscribers of one container in three FIFO
// classes. A flush always takes the next subscriber from the highest
// priority class that is not empty, so computeds dirtied by a task run
// before any renderer.
type scheduler struct {
	mu sync.Mutex

	// queues holds subscribers waiting for the current or next flush,
	// indexed by Kind.
	queues [numKinds][]*subscriber

	// deferred holds subscribers dirtied after they already ran in the
	// flush in progress. They move to queues when that flush ends.
	deferred []*subscriber

	// flushing is true while a flush is running.
	flushing bool

	// ran records the subscribers that ran in the flush in progress.
	ran map[uint64]bool
}

// push enqueues a subscriber. Pushing a subscriber that is already queued
// is a no-op.
func (q *scheduler) push(s *subscriber) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.flushing && q.ran[s.id] {
		if !s.deferred {
			s.deferred = true
			q.deferred = append(q.deferred, s)
		}
		return
	}
	if s.queued {
		return
	}
	s.queued = true
	q.queues[s.kind] = append(q.queues[s.kind], s)
}

// begin marks the start of a flush. It returns false if a flush is already
// running (a nested Flush from inside a subscriber body).
func (q *scheduler) begin() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.flushing {
		return false
	}
	q.flushing = true
	q.ran = make(map[uint64]bool)
	return true
}

// next pops the next subscriber to run, or nil when the flush is done.
func (q *scheduler) next() *subscriber {
	q.mu.Lock()
	defer q.mu.Unlock()

	for k := range q.queues {
		if len(q.queues[k]) == 0 {
			continue
		}
		s := q.queues[k][0]
		q.queues[k][0] = nil
		q.queues[k] = q.queues[k][1:]
		s.queued = false
		q.ran[s.id] = true
		return s
	}
	return nil
}

// end finishes a flush and moves deferred subscribers to their queues.
func (q *scheduler) end() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.flushing = false
	q.ran = nil
	for _, s := range q.deferred {
		s.deferred = false
		if !s.queued {
			s.queued = true
			q.queues[s.kind] = append(q.queues[s.kind], s)
		}
	}
	q.deferred = nil
}

// pending reports whether any subscriber is waiting to run.
func (q *scheduler) pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.deferred)
	for k := range q.queues {
		n += len(q.queues[k])
	}
	return n
}

// remove drops a subscriber from every queue.
func (q *scheduler) remove(s *subscriber) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for k := range q.queues {
		q.queues[k] = removeSubscriber(q.queues[k], s)
	}
	q.deferred = removeSubscriber(q.deferred, s)
	s.queued = false
	s.deferred = false
}

// clear drops every pending entry.
func (q *scheduler) clear() {
	q.mu.Lock()
	defer q.mu.Unlock()

	for k := range q.queues {
		for _, s := range q.queues[k] {
			s.queued = false
		}
		q.queues[k] = nil
	}
	for _, s := range q.deferred {
		s.deferred = false
	}
	q.deferred = nil
}

func removeSubscriber(list []*subscriber, s *subscriber) []*subscriber {
	out := list[:0]
	for _, existing := range list {
		if existing != s {
			out = append(out, existing)
		}
	}
	return out
}
