package snapshot

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vango-dev/resume/pkg/qrl"
	"github.com/vango-dev/resume/pkg/reactive"
)

func counterRegistry(runs *atomic.Int64) *qrl.Registry {
	reg := qrl.NewRegistry()
	reg.MustRegister("app/counter.js", "double", reactive.TaskExport(func(s *reactive.Scope) error {
		runs.Add(1)
		state := s.Arg(0).(*reactive.Store)
		n := state.Get(s, "count").(int)
		state.Set("doubled", n*2)
		return nil
	}))
	return reg
}

func settle(t *testing.T, c *reactive.Container) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, c.Settle(ctx))
}

func TestCounterResumesWithoutReplay(t *testing.T) {
	var runs atomic.Int64
	reg := counterRegistry(&runs)

	c := reactive.NewContainer(
		reactive.WithAnchor("c1"),
		reactive.WithResolver(qrl.NewResolver(reg)),
	)
	state := c.NewStore(map[string]any{"count": 0})
	c.SetRoot("state", state)
	settle(t, c)

	c.NewTask(qrl.New("app/counter.js", "double", state))
	settle(t, c)
	runs.Store(0)

	state.Set("count", 5)
	settle(t, c)
	assert.Equal(t, 10, state.Peek("doubled"))
	assert.EqualValues(t, 1, runs.Load())

	snap, err := Serialize(c)
	require.NoError(t, err)
	data, err := snap.Marshal()
	require.NoError(t, err)

	g := goldie.New(t, goldie.WithFixtureDir("testdata"), goldie.WithNameSuffix(".golden"))
	g.Assert(t, "counter", data)

	parsed, err := Parse(data)
	require.NoError(t, err)

	resumed, graph, err := Resume(parsed,
		WithContainerOptions(reactive.WithResolver(qrl.NewResolver(reg))),
	)
	require.NoError(t, err)
	defer resumed.Dispose()

	assert.Equal(t, "c1", resumed.Anchor())
	assert.Equal(t, uint64(1), resumed.Epoch())
	// Only the task entry is decoded eagerly.
	assert.Equal(t, 1, graph.Materialized())
	assert.EqualValues(t, 1, runs.Load(), "resume must not replay the task")

	v, err := resumed.Root("state")
	require.NoError(t, err)
	restored, ok := v.(*reactive.Store)
	require.True(t, ok, "root is %T", v)
	assert.Equal(t, 10, restored.Peek("doubled"))
	assert.Equal(t, 1, restored.SubscriberCount("count"))

	restored.Set("count", 6)
	settle(t, resumed)
	assert.Equal(t, 12, restored.Peek("doubled"))
	assert.EqualValues(t, 2, runs.Load())
}

func TestResumeLazyRoots(t *testing.T) {
	snap, err := Encode(map[string]any{
		"a": map[string]any{"x": 1},
		"b": []any{"one", "two", "three"},
	})
	require.NoError(t, err)

	c, g, err := Resume(snap)
	require.NoError(t, err)
	defer c.Dispose()

	assert.Equal(t, 0, g.Materialized())
	_, err = c.Root("a")
	require.NoError(t, err)
	assert.Equal(t, 2, g.Materialized())

	_, err = c.Root("b")
	require.NoError(t, err)
	assert.Equal(t, snap.Len(), g.Materialized())
}

func TestComputedResumesCachedValue(t *testing.T) {
	var runs atomic.Int64
	reg := qrl.NewRegistry()
	reg.MustRegister("app/sum.js", "sum", reactive.ComputedExport(func(s *reactive.Scope) (any, error) {
		runs.Add(1)
		a := s.Arg(0).(*reactive.Signal)
		return reactive.Read[int](a, s) + 1, nil
	}))

	c := reactive.NewContainer(reactive.WithResolver(qrl.NewResolver(reg)))
	a := c.NewSignal(1)
	comp := c.NewComputed(qrl.New("app/sum.js", "sum", a))
	c.SetRoot("sum", comp)

	// The first read triggers the load; settle and read again.
	comp.Get(nil)
	settle(t, c)
	assert.Equal(t, 2, comp.Get(nil))
	runs.Store(0)

	snap, err := Serialize(c)
	require.NoError(t, err)

	resumed, _, err := Resume(snap, WithContainerOptions(reactive.WithResolver(qrl.NewResolver(reg))))
	require.NoError(t, err)
	defer resumed.Dispose()

	v, err := resumed.Root("sum")
	require.NoError(t, err)
	restored := v.(*reactive.Computed)
	assert.Equal(t, 2, restored.Peek())
	assert.False(t, restored.Stale())
	assert.EqualValues(t, 0, runs.Load())
}

func TestGoTaskBodyIsNotSerializable(t *testing.T) {
	c := reactive.NewContainer()
	sig := c.NewSignal(0)
	c.SetRoot("n", sig)
	c.NewTask(func(s *reactive.Scope) error {
		sig.Get(s)
		return nil
	})
	settle(t, c)

	_, err := Serialize(c)
	var nse *NonSerializableValueError
	require.ErrorAs(t, err, &nse)
	assert.Equal(t, "$subscribers[0].body", nse.Path)
	assert.Equal(t, "R100", nse.Diagnostic().Code)

	// A failed serialization leaves the container usable.
	assert.Equal(t, reactive.StateActive, c.State())
	sig.Set(1)
	assert.Equal(t, 1, sig.Peek())
}

func TestGoRendererIsSkipped(t *testing.T) {
	c := reactive.NewContainer()
	sig := c.NewSignal("x")
	c.SetRoot("s", sig)
	c.NewRenderer(func(s *reactive.Scope) { sig.Get(s) })
	settle(t, c)

	snap, err := Serialize(c)
	require.NoError(t, err)
	assert.Empty(t, snap.Subscribers)
}

func TestStableIndicesAcrossSerializations(t *testing.T) {
	c := reactive.NewContainer()
	sig := c.NewSignal("hello")
	c.SetRoot("a", "first")
	c.SetRoot("b", sig)

	first, err := Serialize(c)
	require.NoError(t, err)
	idx := first.Roots["b"]
	stable, ok := c.IndexOf(sig)
	require.True(t, ok)
	assert.Equal(t, idx, stable)

	// A new root sorted before "b" would take the signal's old slot.
	c.SetRoot("aa", []any{"x", "y", "z"})
	second, err := Serialize(c)
	require.NoError(t, err)
	assert.Equal(t, idx, second.Roots["b"])
	assert.Equal(t, tagSignal, second.Tag(idx))

	// An unreachable identity keeps its slot as a hole.
	c.DeleteRoot("b")
	third, err := Serialize(c)
	require.NoError(t, err)
	assert.Equal(t, tagHole, third.Tag(idx))
	assert.Equal(t, uint64(3), third.Epoch)
}

func TestPendingPromiseRejectedByDefault(t *testing.T) {
	_, err := Encode(map[string]any{"p": reactive.NewPromise()})
	var nse *NonSerializableValueError
	require.ErrorAs(t, err, &nse)
	assert.Equal(t, "p", nse.Path)
	assert.Equal(t, "R103", nse.Diagnostic().Code)
}

func TestDeferredPromiseSettlesAfterDecode(t *testing.T) {
	snap, err := Encode(map[string]any{
		"p":    reactive.NewPromise(),
		"done": reactive.Resolved("ok"),
	}, AllowDeferredPromises())
	require.NoError(t, err)
	require.Len(t, snap.Deferred, 1)

	g, err := Decode(snap)
	require.NoError(t, err)

	done, err := g.Root("done")
	require.NoError(t, err)
	v, err := done.(*reactive.Promise).Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ok", v)

	idx := snap.Deferred[0]
	require.Error(t, g.Settle(snap.Roots["done"], "x", nil))
	require.NoError(t, g.Settle(idx, 42, nil))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	v, err = g.Await(ctx, idx)
	require.NoError(t, err)
	assert.Equal(t, 42, v)
}
