package snapshot

import (
	"errors"
	"fmt"
	"math"
	"math/big"
	"net/url"
	"reflect"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rerrors "github.com/vango-dev/resume/internal/errors"
	"github.com/vango-dev/resume/pkg/qrl"
	"github.com/vango-dev/resume/pkg/reactive"
)

func roundTrip(t *testing.T, roots map[string]any, opts ...Option) *Graph {
	t.Helper()
	snap, err := Encode(roots, opts...)
	require.NoError(t, err)
	data, err := snap.Marshal()
	require.NoError(t, err)
	parsed, err := Parse(data)
	require.NoError(t, err)
	g, err := Decode(parsed, opts...)
	require.NoError(t, err)
	return g
}

func TestBuiltinValuesRoundTrip(t *testing.T) {
	big1 := new(big.Int).Lsh(big.NewInt(1), 100)
	when := time.Date(2024, 1, 2, 3, 4, 5, 6, time.UTC)
	link, err := url.Parse("https://example.com/a?b=1")
	require.NoError(t, err)

	g := roundTrip(t, map[string]any{"root": map[string]any{
		"nil":   nil,
		"bool":  true,
		"int":   42,
		"long":  int64(1) << 60,
		"float": 1.5,
		"nan":   math.NaN(),
		"inf":   math.Inf(-1),
		"str":   "</script>",
		"big":   big1,
		"time":  when,
		"url":   link,
		"err":   errors.New("boom"),
		"arr":   []any{1, "two", Hole{}},
		"set":   NewSet("a", "b"),
		"map":   map[any]any{1: "one"},
	}})

	v, err := g.Root("root")
	require.NoError(t, err)
	m := v.(map[string]any)

	assert.Nil(t, m["nil"])
	assert.Equal(t, true, m["bool"])
	assert.Equal(t, 42, m["int"])
	assert.Equal(t, int64(1)<<60, m["long"])
	assert.Equal(t, 1.5, m["float"])
	assert.True(t, math.IsNaN(m["nan"].(float64)))
	assert.True(t, math.IsInf(m["inf"].(float64), -1))
	assert.Equal(t, "</script>", m["str"])
	assert.Zero(t, big1.Cmp(m["big"].(*big.Int)))
	assert.True(t, when.Equal(m["time"].(time.Time)))
	assert.Equal(t, link.String(), m["url"].(*url.URL).String())
	assert.Equal(t, "boom", m["err"].(*ErrorValue).Error())
	assert.Equal(t, []any{1, "two", Hole{}}, m["arr"])
	assert.True(t, m["set"].(Set).Has("a"))
	assert.True(t, m["set"].(Set).Has("b"))
	assert.Equal(t, map[any]any{1: "one"}, m["map"])
}

func TestSharedAndCyclicReferences(t *testing.T) {
	a := map[string]any{"name": "a"}
	a["self"] = a
	g := roundTrip(t, map[string]any{"list": []any{a, a}})

	v, err := g.Root("list")
	require.NoError(t, err)
	list := v.([]any)
	require.Len(t, list, 2)

	first := reflect.ValueOf(list[0]).Pointer()
	assert.Equal(t, first, reflect.ValueOf(list[1]).Pointer())
	self := list[0].(map[string]any)["self"]
	assert.Equal(t, first, reflect.ValueOf(self).Pointer())
}

func TestSharedValuesAreWrittenOnce(t *testing.T) {
	shared := []any{"x"}
	snap, err := Encode(map[string]any{"a": shared, "b": shared})
	require.NoError(t, err)
	assert.Equal(t, snap.Roots["a"], snap.Roots["b"])
	assert.Equal(t, 2, snap.Len())
}

func TestNonSerializablePath(t *testing.T) {
	todos := []any{
		map[string]any{"title": "a"},
		map[string]any{"title": "b"},
		map[string]any{"title": "c"},
		map[string]any{"title": "d", "onDelete": func() {}},
	}
	_, err := Encode(map[string]any{"root": map[string]any{"todos": todos}})
	var nse *NonSerializableValueError
	require.ErrorAs(t, err, &nse)
	assert.Equal(t, "root.todos[3].onDelete", nse.Path)
	assert.Equal(t, "func", nse.Type)

	todos[3] = map[string]any{"onDelete": qrl.New("app/todo.js", "remove", make(chan int))}
	_, err = Encode(map[string]any{"root": map[string]any{"todos": todos}})
	require.ErrorAs(t, err, &nse)
	assert.Equal(t, "root.todos[3].onDelete.captured[0]", nse.Path)
}

func TestSymbolRoundTrip(t *testing.T) {
	sym := qrl.New("app/todo.js", "remove", 7, "x")
	g := roundTrip(t, map[string]any{"h": sym})
	v, err := g.Root("h")
	require.NoError(t, err)
	assert.True(t, sym.Equal(v.(*qrl.Symbol)))
}

const manual = `{"v":1,"epoch":0,"container":"","roots":{"r":0},"subs":[],"deferred":[],"entries":%s}`

func parseManual(t *testing.T, entries string) *Snapshot {
	t.Helper()
	snap, err := Parse([]byte(fmt.Sprintf(manual, entries)))
	require.NoError(t, err)
	return snap
}

func TestUnknownTag(t *testing.T) {
	snap := parseManual(t, `[["o","a",1],["Z",1]]`)
	g, err := Decode(snap)
	require.NoError(t, err)

	_, err = g.Root("r")
	var ute *UnknownTagError
	require.ErrorAs(t, err, &ute)
	assert.Equal(t, "Z", ute.Tag)
	assert.Equal(t, 1, ute.Index)
	assert.Equal(t, "R102", ute.Diagnostic().Code)
	// A failed resolution leaves nothing half-built.
	assert.Equal(t, 0, g.Materialized())
}

func TestVersionMismatch(t *testing.T) {
	_, err := Parse([]byte(`{"v":2,"epoch":0,"container":"","roots":{},"subs":[],"deferred":[],"entries":[]}`))
	var ute *UnknownTagError
	require.ErrorAs(t, err, &ute)
	assert.Equal(t, -1, ute.Index)
}

func TestMalformedSnapshot(t *testing.T) {
	_, err := Parse([]byte(`{"v":1,"roots":{"r":3},"entries":[["s","x"]]}`))
	require.Error(t, err)

	_, err = Parse([]byte(`not json`))
	var re *rerrors.Error
	require.ErrorAs(t, err, &re)
	assert.Equal(t, "R120", re.Code)
}

type boxCodec struct{}

type box struct{ inner any }

func (boxCodec) Tag() string { return "Y" }

func (boxCodec) Encode(v any, e *EncodeContext) (Payload, bool, error) {
	b, ok := v.(box)
	if !ok {
		return nil, false, nil
	}
	idx, err := e.Ref(b.inner, ".inner")
	if err != nil {
		return nil, false, err
	}
	return Payload{idx}, true, nil
}

func (boxCodec) Allocate(RawPayload, *DecodeContext) (any, bool, error) {
	return nil, false, nil
}

func (boxCodec) Populate(_ any, p RawPayload, d *DecodeContext) (any, error) {
	idx, err := p.Index(0)
	if err != nil {
		return nil, err
	}
	inner, err := d.Resolve(idx)
	if err != nil {
		return nil, err
	}
	return box{inner: inner}, nil
}

func TestCustomCodec(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(boxCodec{}))
	require.Error(t, reg.Register(boxCodec{}))
	require.Error(t, reg.Register(stringCodec{}))

	g := roundTrip(t, map[string]any{"b": box{inner: "hi"}}, WithRegistry(reg))
	v, err := g.Root("b")
	require.NoError(t, err)
	assert.Equal(t, box{inner: "hi"}, v)
}

func TestCyclicScalarReference(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(boxCodec{}))

	g, err := Decode(parseManual(t, `[["Y",0]]`), WithRegistry(reg))
	require.NoError(t, err)
	_, err = g.Root("r")
	var cse *CyclicScalarReferenceError
	require.ErrorAs(t, err, &cse)
	assert.Equal(t, 0, cse.Index)
	assert.Equal(t, "R101", cse.Diagnostic().Code)
}

func TestIndexOutOfRange(t *testing.T) {
	g, err := Decode(parseManual(t, `[["a",4]]`))
	require.NoError(t, err)
	_, err = g.Root("r")
	require.ErrorIs(t, err, reactive.ErrUnknownIndex)
}

func TestCBORRoundTrip(t *testing.T) {
	snap, err := Encode(map[string]any{"root": map[string]any{"a": 1, "b": "x", "c": []any{2.5, false}}})
	require.NoError(t, err)

	// Start from parsed JSON so numbers arrive as json.Number.
	data, err := snap.Marshal()
	require.NoError(t, err)
	parsed, err := Parse(data)
	require.NoError(t, err)

	bin, err := parsed.MarshalCBOR()
	require.NoError(t, err)
	back, err := UnmarshalCBOR(bin)
	require.NoError(t, err)

	g, err := Decode(back)
	require.NoError(t, err)
	v, err := g.Root("root")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": 1, "b": "x", "c": []any{2.5, false}}, v)
}

func TestSignalAndStoreRoundTrip(t *testing.T) {
	c := reactive.NewContainer()
	st := c.NewStore(map[string]any{"items": []any{"a", "b"}})
	sig := c.NewSignal(st)
	c.SetRoot("sig", sig)
	c.SetRoot("st", st)

	snap, err := Serialize(c)
	require.NoError(t, err)

	resumed, _, err := Resume(snap)
	require.NoError(t, err)
	defer resumed.Dispose()

	v, err := resumed.Root("sig")
	require.NoError(t, err)
	rsig := v.(*reactive.Signal)
	v, err = resumed.Root("st")
	require.NoError(t, err)
	rst := v.(*reactive.Store)

	assert.Same(t, rst, rsig.Peek())
	items := rst.Get(nil, "items").(*reactive.Store)
	assert.Equal(t, 2, items.Len(nil))
	assert.Equal(t, "b", items.Index(nil, 1))
}

func resumeRoundTrip(t *testing.T, c *reactive.Container) *reactive.Container {
	t.Helper()
	snap, err := Serialize(c)
	require.NoError(t, err)
	data, err := snap.Marshal()
	require.NoError(t, err)
	parsed, err := Parse(data)
	require.NoError(t, err)
	resumed, _, err := Resume(parsed)
	require.NoError(t, err)
	t.Cleanup(resumed.Dispose)
	return resumed
}

func TestStoreCapturedBySymbolInItsTarget(t *testing.T) {
	c := reactive.NewContainer()
	todos := c.NewStore(map[string]any{"title": "a"})
	todos.Set("onDelete", qrl.New("app/todo.js", "remove", todos))
	c.SetRoot("todos", todos)

	resumed := resumeRoundTrip(t, c)
	v, err := resumed.Root("todos")
	require.NoError(t, err)
	st := v.(*reactive.Store)

	assert.Equal(t, "a", st.Peek("title"))
	sym := st.Peek("onDelete").(*qrl.Symbol)
	assert.Equal(t, "app/todo.js#remove", sym.Key())
	assert.Same(t, st, sym.CapturedAt(0))
}

func TestStoreReachedThroughSignalInItsTarget(t *testing.T) {
	c := reactive.NewContainer()
	st := c.NewStore(map[string]any{"n": 1})
	sig := c.NewSignal(st)
	st.Set("sig", sig)
	c.SetRoot("st", st)

	resumed := resumeRoundTrip(t, c)
	v, err := resumed.Root("st")
	require.NoError(t, err)
	rst := v.(*reactive.Store)

	rsig := rst.Peek("sig").(*reactive.Signal)
	assert.Same(t, rst, rsig.Peek())
	assert.Equal(t, 1, rst.Peek("n"))

	idx, ok := resumed.IndexOf(rst)
	require.True(t, ok)
	again, err := resumed.Resolve(idx)
	require.NoError(t, err)
	assert.Same(t, rst, again)
}

func TestComputedValueContainsComputed(t *testing.T) {
	c := reactive.NewContainer()
	cm := c.NewComputed(qrl.New("app/self.js", "self"))
	cm.Init(map[string]any{"self": cm})
	c.SetRoot("cm", cm)

	resumed := resumeRoundTrip(t, c)
	v, err := resumed.Root("cm")
	require.NoError(t, err)
	rcm := v.(*reactive.Computed)

	value := rcm.Peek().(map[string]any)
	assert.Same(t, rcm, value["self"])
}

func TestFailedResolveLeavesContainerUnchanged(t *testing.T) {
	c, g, err := Resume(parseManual(t, `[["S",1],["ZZ"]]`))
	require.NoError(t, err)
	defer c.Dispose()

	for i := 0; i < 2; i++ {
		v, err := c.Root("r")
		var ute *UnknownTagError
		require.ErrorAs(t, err, &ute, "attempt %d", i)
		assert.Equal(t, "ZZ", ute.Tag)
		assert.Nil(t, v)
	}
	assert.Equal(t, 0, g.Materialized())
	assert.Empty(t, c.StableIndices())
}

func TestFailedResolveDiscardsRestoredSubscribers(t *testing.T) {
	c, _, err := Resume(parseManual(t, `[["C",1,2,false],["q","app/x.js","f"],["ZZ"]]`))
	require.NoError(t, err)
	defer c.Dispose()

	_, err = c.Root("r")
	require.Error(t, err)
	_, err = c.Root("r")
	require.Error(t, err)

	assert.Empty(t, c.Subscribers())
	assert.Empty(t, c.StableIndices())
}
