package reactive

import (
	"fmt"

	"github.com/vango-dev/resume/pkg/qrl"
)

// Task is a subscriber that runs a side effect whenever a dependency
// changes. A new task is scheduled for the next flush.
type Task struct {
	sub *subscriber
	fn  TaskFunc
}

// NewTask creates a task. body is a *qrl.Symbol (resumable), a TaskFunc, or
// a func(*Scope). Go function bodies cannot be serialized.
func (c *Container) NewTask(body any) *Task {
	t := c.newTask()
	switch b := body.(type) {
	case *qrl.Symbol:
		t.sub.sym = b
	case TaskFunc:
		t.fn = b
	case func(*Scope) error:
		t.fn = b
	case func(*Scope):
		t.fn = func(s *Scope) error { b(s); return nil }
	default:
		panic(fmt.Sprintf("reactive: unsupported task body %T", body))
	}
	c.addSubscriber(t.sub)
	c.schedule(t.sub)
	return t
}

// RestoreTask recreates a task from a snapshot. The body symbol is decoded
// on first run; deps attach as their sources materialize.
func (c *Container) RestoreTask(body func() (*qrl.Symbol, error), deps []Dep) *Task {
	t := c.newTask()
	t.sub.symThunk = body
	c.addSubscriber(t.sub)
	c.restore(t.sub, deps)
	return t
}

func (c *Container) newTask() *Task {
	t := &Task{sub: newSubscriber(c, KindTask)}
	t.sub.self = t
	t.sub.perform = t.perform
	return t
}

func (t *Task) perform() error {
	if t.fn != nil {
		_, err := t.sub.invokeFunc(func(s *Scope) (any, error) { return nil, t.fn(s) })
		return err
	}
	_, _, err := t.sub.invokeSymbol()
	return err
}

// ID returns the unique identifier for this task.
func (t *Task) ID() uint64 { return t.sub.id }

// Kind returns KindTask.
func (t *Task) Kind() Kind { return KindTask }

// Symbol returns the body symbol, or nil for a Go function body.
func (t *Task) Symbol() (*qrl.Symbol, error) { return t.sub.symbol() }

// Deps returns the dependencies recorded by the most recent run.
func (t *Task) Deps() []DepRef { return t.sub.depRefs() }

// Runs returns how many times the body has run.
func (t *Task) Runs() int64 { return t.sub.runs.Load() }

// Dispose unsubscribes the task.
func (t *Task) Dispose() { t.sub.dispose() }

func (t *Task) base() *subscriber { return t.sub }
