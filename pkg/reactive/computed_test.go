package reactive

import (
	"errors"
	"testing"
)

func TestComputedLazyAndCached(t *testing.T) {
	c := NewContainer()
	s := c.NewSignal(2)

	calls := 0
	sq := c.NewComputed(func(sc *Scope) any {
		calls++
		n := Read[int](s, sc)
		return n * n
	})

	if calls != 0 {
		t.Fatalf("computed ran before first read")
	}
	if sq.Get(nil) != 4 || sq.Get(nil) != 4 {
		t.Errorf("Get() = %v", sq.Peek())
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}

	s.Set(3)
	if !sq.Stale() {
		t.Error("computed not stale after dependency changed")
	}
	if sq.Get(nil) != 9 {
		t.Errorf("Get() = %v, want 9", sq.Peek())
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}

	// The scheduled run finds the value fresh and skips the body.
	c.Flush()
	if calls != 2 {
		t.Errorf("calls = %d after flush, want 2", calls)
	}
}

func TestComputedUnchangedValueDoesNotNotify(t *testing.T) {
	c := NewContainer()
	s := c.NewSignal(1)

	parity := c.NewComputed(func(sc *Scope) any { return Read[int](s, sc) % 2 })
	task := c.NewTask(func(sc *Scope) { _ = parity.Get(sc) })
	c.Flush()

	s.Set(3)
	c.Flush()
	if task.Runs() != 1 {
		t.Errorf("unchanged computed notified readers, runs = %d", task.Runs())
	}

	s.Set(4)
	c.Flush()
	if task.Runs() != 2 {
		t.Errorf("runs = %d, want 2", task.Runs())
	}
}

func TestComputedErrorKeepsLastValue(t *testing.T) {
	var sunk []error
	c := NewContainer(WithErrorSink(func(err error) { sunk = append(sunk, err) }))
	s := c.NewSignal(1)

	cm := c.NewComputed(func(sc *Scope) (any, error) {
		n := Read[int](s, sc)
		if n < 0 {
			return nil, errors.New("negative")
		}
		return n, nil
	})
	if cm.Get(nil) != 1 {
		t.Fatalf("Get() = %v", cm.Peek())
	}

	s.Set(-1)
	if cm.Get(nil) != 1 {
		t.Errorf("Get() = %v, want last good value", cm.Peek())
	}
	if len(sunk) != 1 {
		t.Errorf("sink got %d errors, want 1", len(sunk))
	}
}

func TestComputedSelfReadDoesNotRecurse(t *testing.T) {
	c := NewContainer()
	var self *Computed
	self = c.NewComputed(func(sc *Scope) any {
		prev, _ := self.Get(nil).(int)
		return prev + 1
	})
	if self.Get(nil) != 1 {
		t.Errorf("Get() = %v, want 1", self.Peek())
	}
}
