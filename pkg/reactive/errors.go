package reactive

import (
	"errors"
	"fmt"

	rerrors "github.com/vango-dev/resume/internal/errors"
)

var (
	// ErrDisposed is returned by operations on a disposed container.
	ErrDisposed = errors.New("reactive: container disposed")

	// ErrSerializing is returned when a snapshot is already being taken.
	ErrSerializing = errors.New("reactive: container is already serializing")

	// ErrForeignSubscriber is returned when a subscriber from another
	// container is passed to Track.
	ErrForeignSubscriber = errors.New("reactive: subscriber belongs to a different container")
)

// StaleSubscriberError reports a subscriber that was notified after it or
// its container was disposed. It is logged and otherwise ignored.
type StaleSubscriberError struct {
	ID   uint64
	Kind Kind
}

func (e *StaleSubscriberError) Error() string {
	return fmt.Sprintf("reactive: %s %d notified after disposal", e.Kind, e.ID)
}

// Diagnostic returns the coded form of the error.
func (e *StaleSubscriberError) Diagnostic() *rerrors.Error {
	return rerrors.New("R300").WithPath(fmt.Sprintf("%s#%d", e.Kind, e.ID))
}

// SubscriberError wraps a failure raised by one subscriber run. The flush
// that ran the subscriber continues with the remaining subscribers.
type SubscriberError struct {
	ID     uint64
	Kind   Kind
	Symbol string
	Err    error
}

func (e *SubscriberError) Error() string {
	if e.Symbol != "" {
		return fmt.Sprintf("reactive: %s %d (%s): %v", e.Kind, e.ID, e.Symbol, e.Err)
	}
	return fmt.Sprintf("reactive: %s %d: %v", e.Kind, e.ID, e.Err)
}

func (e *SubscriberError) Unwrap() error { return e.Err }

// Diagnostic returns the coded form of the error.
func (e *SubscriberError) Diagnostic() *rerrors.Error {
	path := fmt.Sprintf("%s#%d", e.Kind, e.ID)
	if e.Symbol != "" {
		path += " " + e.Symbol
	}
	return rerrors.New("R301").WithPath(path).Wrap(e.Err)
}
