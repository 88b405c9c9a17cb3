// Package reactive provides the resumable reactive core: containers,
// signals, stores, and the subscribers that re-run when they change.
//
// The reactive system provides fine-grained reactivity where dependencies
// are tracked at runtime. Reading a signal through a Scope subscribes the
// scope's subscriber; writing the signal schedules every subscriber that
// read it.
//
// # Core Types
//
// Container owns one reactive graph and its subscriptions:
//
//	c := reactive.NewContainer()
//	count := c.NewSignal(0)
//	count.Set(5)
//
// Store tracks a map or slice per property:
//
//	state := c.NewStore(map[string]any{"count": 0})
//	state.Set("count", 1)     // notifies readers of "count" only
//
// Task, Computed, and Renderer are subscribers. Their bodies are either
// lazy symbol references (resumable) or plain Go functions (not resumable):
//
//	task := c.NewTask(qrl.New("app/counter.js", "double", state))
//
// # Tracking
//
// There is no ambient "current listener". Every tracked read receives the
// Scope handed to the running subscriber:
//
//	c.NewTaskFunc(func(s *reactive.Scope) error {
//	    n := state.Get(s, "count").(int)
//	    state.Set("doubled", n*2)
//	    return nil
//	})
//
// Passing a nil Scope reads without tracking.
//
// # Scheduling
//
// Writes mark subscribers dirty; nothing runs until the host reaches a turn
// boundary and calls Flush (or Batch, which flushes when the outermost batch
// returns). A flush runs tasks, then computeds, then renderers, FIFO within
// each class, and runs every subscriber at most once. Settle flushes until
// the container is quiescent, waiting for symbol loads in flight.
//
// # Thread Safety
//
// Signal and store state is guarded so writes may come from any goroutine;
// writes made while a snapshot is being taken are queued and applied when
// the walk completes. Flush runs subscribers on the calling goroutine, and a
// container should be flushed from one goroutine at a time.
package reactive
