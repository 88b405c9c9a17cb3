package metrics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"

	"github.com/vango-dev/resume/pkg/qrl"
	"github.com/vango-dev/resume/pkg/reactive"
	"github.com/vango-dev/resume/pkg/snapshot"
)

func metricHistogramCount(t *testing.T, h prometheus.Histogram) uint64 {
	t.Helper()
	var m dto.Metric
	if err := h.Write(&m); err != nil {
		t.Fatalf("histogram Write() error: %v", err)
	}
	if m.Histogram == nil {
		t.Fatal("expected histogram metric to have Histogram field")
	}
	return m.GetHistogram().GetSampleCount()
}

func TestCollector_ContainerLifecycle(t *testing.T) {
	m := New(WithRegistry(prometheus.NewRegistry()))
	c := reactive.NewContainer(reactive.WithObserver(m))

	sig := c.NewSignal(0)
	c.SetRoot("n", sig)
	sig.Set(1)
	if got := testutil.ToFloat64(m.containers.WithLabelValues("active")); got != 1 {
		t.Fatalf("containers{active} = %v, want 1", got)
	}

	c.NewTask(func(s *reactive.Scope) error {
		sig.Get(s)
		return errors.New("boom")
	})
	c.Flush()
	if got := testutil.ToFloat64(m.subscriberFailures.WithLabelValues("task", "R301")); got != 1 {
		t.Fatalf("subscriber_failures{task,R301} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.flushes); got != 1 {
		t.Fatalf("flushes_total = %v, want 1", got)
	}
	if got := metricHistogramCount(t, m.flushRuns); got != 1 {
		t.Fatalf("flush_runs count = %d, want 1", got)
	}

	c.Dispose()
	if got := testutil.ToFloat64(m.containers.WithLabelValues("active")); got != 0 {
		t.Fatalf("containers{active} after dispose = %v, want 0", got)
	}
	if got := testutil.ToFloat64(m.transitions.WithLabelValues("active", "disposed")); got != 1 {
		t.Fatalf("transitions{active,disposed} = %v, want 1", got)
	}
}

func TestCollector_Serialization(t *testing.T) {
	m := New(WithRegistry(prometheus.NewRegistry()))
	c := reactive.NewContainer(reactive.WithObserver(m))
	c.SetRoot("a", "x")

	snap, err := snapshot.Serialize(c, snapshot.WithObserver(m))
	if err != nil {
		t.Fatalf("Serialize() error: %v", err)
	}
	if got := testutil.ToFloat64(m.serializations.WithLabelValues("success", "")); got != 1 {
		t.Fatalf("serializations{success} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.containers.WithLabelValues("serializing")); got != 0 {
		t.Fatalf("containers{serializing} = %v, want 0", got)
	}

	_, err = snapshot.Encode(map[string]any{"f": func() {}}, snapshot.WithObserver(m))
	if err == nil {
		t.Fatal("Encode() of a func succeeded")
	}
	if got := testutil.ToFloat64(m.serializations.WithLabelValues("error", "R100")); got != 1 {
		t.Fatalf("serializations{error,R100} = %v, want 1", got)
	}

	g, err := snapshot.Decode(snap, snapshot.WithObserver(m))
	if err != nil {
		t.Fatalf("Decode() error: %v", err)
	}
	if _, err := g.Root("a"); err != nil {
		t.Fatalf("Root() error: %v", err)
	}
	if got := testutil.ToFloat64(m.resolved.WithLabelValues("s", "success")); got != 1 {
		t.Fatalf("entries_resolved{s,success} = %v, want 1", got)
	}
}

func TestCollector_SymbolLoads(t *testing.T) {
	m := New(WithRegistry(prometheus.NewRegistry()))
	reg := qrl.NewRegistry()
	reg.MustRegister("app/a.js", "ok", func(context.Context, ...any) (any, error) { return 1, nil })
	r := qrl.NewResolver(reg, qrl.WithResolverObserver(m))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := r.Resolve(ctx, qrl.New("app/a.js", "ok")); err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}
	if _, err := r.Resolve(ctx, qrl.New("app/a.js", "missing")); err == nil {
		t.Fatal("Resolve(missing) succeeded")
	}

	if got := testutil.ToFloat64(m.symbolLoads.WithLabelValues("success")); got != 1 {
		t.Fatalf("symbol_loads{success} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.symbolLoads.WithLabelValues("error")); got != 1 {
		t.Fatalf("symbol_loads{error} = %v, want 1", got)
	}
}

func TestErrorCode(t *testing.T) {
	if got := errorCode(errors.New("x")); got != "internal" {
		t.Fatalf("errorCode(plain) = %q", got)
	}
	err := &snapshot.UnknownTagError{Tag: "Z", Index: 1}
	if got := errorCode(err); got != "R102" {
		t.Fatalf("errorCode(UnknownTagError) = %q", got)
	}
}
