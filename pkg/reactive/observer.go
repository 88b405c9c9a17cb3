package reactive

import "time"

// Observer receives container lifecycle and scheduling events.
// pkg/metrics provides a Prometheus implementation.
type Observer interface {
	// StateChanged is called on every container state transition.
	StateChanged(anchor string, from, to State)

	// FlushCompleted is called after each flush that ran at least one subscriber.
	FlushCompleted(anchor string, runs int, d time.Duration)

	// SubscriberFailed is called for every isolated subscriber failure.
	SubscriberFailed(anchor string, kind Kind, err error)
}
