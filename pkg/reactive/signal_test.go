package reactive

import (
	"errors"
	"testing"
)

func TestSignalGetPeekSet(t *testing.T) {
	c := NewContainer()
	s := c.NewSignal(1)

	if s.Get(nil) != 1 {
		t.Errorf("Get() = %v, want 1", s.Get(nil))
	}

	s.Set(2)
	if s.Peek() != 2 {
		t.Errorf("Peek() = %v, want 2", s.Peek())
	}
	if c.State() != StateActive {
		t.Errorf("state = %s, want active after first write", c.State())
	}
}

func TestSignalUpdate(t *testing.T) {
	c := NewContainer()
	s := c.NewSignal(10)

	s.Update(func(v any) any { return v.(int) + 5 })
	if s.Peek() != 15 {
		t.Errorf("Update() = %v, want 15", s.Peek())
	}
}

func TestSignalMinimalNotification(t *testing.T) {
	c := NewContainer()
	a := c.NewSignal(0)
	b := c.NewSignal(0)

	task := c.NewTask(func(s *Scope) error {
		_ = a.Get(s)
		return nil
	})
	c.Flush()

	if task.Runs() != 1 {
		t.Fatalf("initial runs = %d, want 1", task.Runs())
	}

	b.Set(1)
	c.Flush()
	if task.Runs() != 1 {
		t.Errorf("write to unread signal ran task, runs = %d", task.Runs())
	}

	a.Set(1)
	c.Flush()
	if task.Runs() != 2 {
		t.Errorf("write to read signal: runs = %d, want 2", task.Runs())
	}

	if a.SubscriberCount() != 1 || b.SubscriberCount() != 0 {
		t.Errorf("subscriber counts a=%d b=%d, want 1 and 0", a.SubscriberCount(), b.SubscriberCount())
	}
}

func TestSignalSameValueDoesNotNotify(t *testing.T) {
	c := NewContainer()
	s := c.NewSignal("x")

	task := c.NewTask(func(sc *Scope) { _ = s.Get(sc) })
	c.Flush()

	s.Set("x")
	if c.Pending() != 0 {
		t.Errorf("equal write scheduled %d subscribers", c.Pending())
	}
	c.Flush()
	if task.Runs() != 1 {
		t.Errorf("runs = %d, want 1", task.Runs())
	}
}

func TestSignalWithEquals(t *testing.T) {
	c := NewContainer()
	s := c.NewSignal(1).WithEquals(func(a, b any) bool { return true })

	task := c.NewTask(func(sc *Scope) { _ = s.Get(sc) })
	c.Flush()

	s.Set(2)
	c.Flush()
	if task.Runs() != 1 {
		t.Errorf("custom equality ignored, runs = %d", task.Runs())
	}
	if s.Peek() != 1 {
		t.Errorf("value = %v, want unchanged 1", s.Peek())
	}
}

func TestBatchCoalesces(t *testing.T) {
	c := NewContainer()
	a := c.NewSignal(0)
	b := c.NewSignal(0)

	task := c.NewTask(func(s *Scope) {
		_ = a.Get(s)
		_ = b.Get(s)
	})
	c.Flush()

	c.Batch(func() {
		a.Set(1)
		b.Set(2)
		c.Batch(func() {
			a.Set(3)
		})
		if task.Runs() != 1 {
			t.Errorf("nested batch flushed early, runs = %d", task.Runs())
		}
	})

	if task.Runs() != 2 {
		t.Errorf("runs = %d, want 2 (one coalesced run)", task.Runs())
	}
}

func TestStaleDependenciesDropped(t *testing.T) {
	c := NewContainer()
	useA := c.NewSignal(true)
	a := c.NewSignal(0)
	b := c.NewSignal(0)

	task := c.NewTask(func(s *Scope) {
		if Read[bool](useA, s) {
			_ = a.Get(s)
		} else {
			_ = b.Get(s)
		}
	})
	c.Flush()

	useA.Set(false)
	c.Flush()
	if task.Runs() != 2 {
		t.Fatalf("runs = %d, want 2", task.Runs())
	}

	a.Set(1)
	c.Flush()
	if task.Runs() != 2 {
		t.Errorf("dropped dependency still notifies, runs = %d", task.Runs())
	}

	b.Set(1)
	c.Flush()
	if task.Runs() != 3 {
		t.Errorf("new dependency not tracked, runs = %d", task.Runs())
	}
}

func TestDisposeSilences(t *testing.T) {
	c := NewContainer()
	s := c.NewSignal(0)
	cleaned := false

	task := c.NewTask(func(sc *Scope) {
		_ = s.Get(sc)
		sc.OnCleanup(func() { cleaned = true })
	})
	c.Flush()

	s.Set(1)
	c.Dispose()

	if c.State() != StateDisposed {
		t.Errorf("state = %s, want disposed", c.State())
	}
	if !cleaned {
		t.Error("cleanup did not run on dispose")
	}
	if n := c.Flush(); n != 0 {
		t.Errorf("Flush() after dispose ran %d subscribers", n)
	}
	s.Set(2)
	if task.Runs() != 1 {
		t.Errorf("runs = %d, want 1", task.Runs())
	}
	if s.SubscriberCount() != 0 {
		t.Errorf("disposed container left %d subscribers", s.SubscriberCount())
	}

	// Idempotent.
	c.Dispose()
}

func TestTaskDispose(t *testing.T) {
	c := NewContainer()
	s := c.NewSignal(0)

	task := c.NewTask(func(sc *Scope) { _ = s.Get(sc) })
	c.Flush()
	task.Dispose()

	s.Set(1)
	c.Flush()
	if task.Runs() != 1 {
		t.Errorf("disposed task ran, runs = %d", task.Runs())
	}
	if len(c.Subscribers()) != 0 {
		t.Errorf("Subscribers() = %d, want 0", len(c.Subscribers()))
	}
}

func TestWritesQueuedWhileSerializing(t *testing.T) {
	c := NewContainer()
	s := c.NewSignal(0)

	if err := c.BeginSerialize(); err != nil {
		t.Fatalf("BeginSerialize: %v", err)
	}
	if err := c.BeginSerialize(); !errors.Is(err, ErrSerializing) {
		t.Errorf("second BeginSerialize = %v, want ErrSerializing", err)
	}

	s.Set(5)
	if s.Peek() != 0 {
		t.Errorf("write applied during serialization: %v", s.Peek())
	}

	c.EndSerialize(map[any]int{s: 3, "plain": 4})
	if s.Peek() != 5 {
		t.Errorf("queued write not applied: %v", s.Peek())
	}
	if c.Epoch() != 1 {
		t.Errorf("epoch = %d, want 1", c.Epoch())
	}
	if c.State() != StateActive {
		t.Errorf("state = %s, want active", c.State())
	}
	if i, ok := c.IndexOf(s); !ok || i != 3 {
		t.Errorf("IndexOf = %d, %v; want 3, true", i, ok)
	}
	if _, ok := c.IndexOf("plain"); ok {
		t.Error("plain value recorded as stable identity")
	}
}

func TestBeginSerializeDisposed(t *testing.T) {
	c := NewContainer()
	c.Dispose()
	if err := c.BeginSerialize(); !errors.Is(err, ErrDisposed) {
		t.Errorf("BeginSerialize = %v, want ErrDisposed", err)
	}
}

func TestGetOrCreateSignal(t *testing.T) {
	c := NewContainer()

	s, err := c.GetOrCreateSignal(7)
	if err != nil {
		t.Fatalf("GetOrCreateSignal: %v", err)
	}
	again, err := c.GetOrCreateSignal(7)
	if err != nil {
		t.Fatalf("GetOrCreateSignal: %v", err)
	}
	if s != again {
		t.Error("GetOrCreateSignal returned a different signal for the same index")
	}
	if i, ok := c.IndexOf(s); !ok || i != 7 {
		t.Errorf("IndexOf = %d, %v; want 7, true", i, ok)
	}

	c.BindIndex(c.NewStore(map[string]any{}), 8)
	if _, err := c.GetOrCreateSignal(8); err == nil {
		t.Error("expected error for index bound to a store")
	}
}

func TestRoots(t *testing.T) {
	c := NewContainer()
	c.SetRoot("b", 2)
	c.SetRoot("a", 1)

	names := c.Roots()
	if len(names) != 2 || names[0] != "a" || names[1] != "b" {
		t.Errorf("Roots() = %v", names)
	}
	if v, err := c.Root("a"); err != nil || v != 1 {
		t.Errorf("Root(a) = %v, %v", v, err)
	}
	if _, err := c.Root("missing"); err == nil {
		t.Error("expected error for missing root")
	}
}

func TestDefaultEquals(t *testing.T) {
	m := map[string]any{"a": 1}
	sl := []any{1, 2}

	tests := []struct {
		name string
		a, b any
		want bool
	}{
		{"nil", nil, nil, true},
		{"nil vs value", nil, 0, false},
		{"ints", 1, 1, true},
		{"int vs int64", 1, int64(1), false},
		{"strings", "a", "b", false},
		{"same map", m, m, true},
		{"equal maps", map[string]any{"a": 1}, map[string]any{"a": 1}, false},
		{"same slice", sl, sl, true},
		{"resliced", sl, sl[:1], false},
		{"structs", struct{ A []int }{[]int{1}}, struct{ A []int }{[]int{1}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DefaultEquals(tt.a, tt.b); got != tt.want {
				t.Errorf("DefaultEquals(%v, %v) = %v, want %v", tt.a, tt.b, got, tt.want)
			}
		})
	}
}
