package snapshot

import (
	"fmt"
	"strconv"

	"github.com/vango-dev/resume/pkg/qrl"
	"github.com/vango-dev/resume/pkg/reactive"
)

const (
	tagPromise  = "p"
	tagSymbol   = "q"
	tagSignal   = "S"
	tagStore    = "P"
	tagComputed = "C"
	tagTask     = "T"
	tagRenderer = "R"
)

// Promise states as written in "p" payloads.
const (
	promisePending  = 0
	promiseResolved = 1
	promiseRejected = 2
)

// ---------------------------------------------------------------------------
// Promise
// ---------------------------------------------------------------------------

type promiseCodec struct{}

func (promiseCodec) Tag() string { return tagPromise }

func (promiseCodec) Encode(v any, e *EncodeContext) (Payload, bool, error) {
	p, ok := v.(*reactive.Promise)
	if !ok || p == nil {
		return nil, false, nil
	}
	value, err := p.Result()
	switch p.State() {
	case reactive.PromiseResolved:
		idx, rerr := e.Ref(value, ".value")
		if rerr != nil {
			return nil, false, rerr
		}
		return Payload{promiseResolved, idx}, true, nil
	case reactive.PromiseRejected:
		idx, rerr := e.Ref(err, ".reason")
		if rerr != nil {
			return nil, false, rerr
		}
		return Payload{promiseRejected, idx}, true, nil
	}
	if !e.s.opts.allowDeferred {
		return nil, false, e.Fail(pendingPromiseType)
	}
	e.s.deferred = append(e.s.deferred, e.index)
	return Payload{promisePending}, true, nil
}

func (promiseCodec) Allocate(RawPayload, *DecodeContext) (any, bool, error) {
	return reactive.NewPromise(), true, nil
}

func (promiseCodec) Populate(shell any, p RawPayload, d *DecodeContext) (any, error) {
	promise := shell.(*reactive.Promise)
	state, err := p.Int64(0)
	if err != nil {
		return nil, err
	}
	switch state {
	case promisePending:
		d.g.deferred[d.index] = promise
		return promise, nil
	case promiseResolved, promiseRejected:
		idx, err := p.Index(1)
		if err != nil {
			return nil, err
		}
		v, err := d.Resolve(idx)
		if err != nil {
			return nil, err
		}
		if state == promiseResolved {
			_ = promise.Resolve(v)
			return promise, nil
		}
		reason, ok := v.(error)
		if !ok {
			reason = &ErrorValue{Message: fmt.Sprint(v)}
		}
		_ = promise.Reject(reason)
		return promise, nil
	}
	return nil, fmt.Errorf("unknown promise state %d", state)
}

// ---------------------------------------------------------------------------
// Symbol
// ---------------------------------------------------------------------------

type symbolCodec struct{}

func (symbolCodec) Tag() string { return tagSymbol }

func (symbolCodec) Encode(v any, e *EncodeContext) (Payload, bool, error) {
	s, ok := v.(*qrl.Symbol)
	if !ok || s == nil {
		return nil, false, nil
	}
	payload := make(Payload, 0, 2+s.NumCaptured())
	payload = append(payload, s.ModulePath(), s.ExportName())
	for i := 0; i < s.NumCaptured(); i++ {
		idx, err := e.Ref(s.CapturedAt(i), ".captured["+strconv.Itoa(i)+"]")
		if err != nil {
			return nil, false, err
		}
		payload = append(payload, idx)
	}
	return payload, true, nil
}

func (symbolCodec) Allocate(p RawPayload, d *DecodeContext) (any, bool, error) {
	path, err := p.String(0)
	if err != nil {
		return nil, false, err
	}
	name, err := p.String(1)
	if err != nil {
		return nil, false, err
	}
	sym, set := qrl.Restore(path, name, p.Len()-2)
	d.Keep(set)
	return sym, true, nil
}

func (symbolCodec) Populate(shell any, p RawPayload, d *DecodeContext) (any, error) {
	set := d.Kept().(func(int, any))
	for i := 2; i < p.Len(); i++ {
		idx, err := p.Index(i)
		if err != nil {
			return nil, err
		}
		v, err := d.Resolve(idx)
		if err != nil {
			return nil, err
		}
		set(i-2, v)
	}
	return shell, nil
}

// ---------------------------------------------------------------------------
// Signal and Store
// ---------------------------------------------------------------------------

type signalCodec struct{}

func (signalCodec) Tag() string { return tagSignal }

func (signalCodec) Encode(v any, e *EncodeContext) (Payload, bool, error) {
	s, ok := v.(*reactive.Signal)
	if !ok || s == nil {
		return nil, false, nil
	}
	idx, err := e.Ref(s.Peek(), ".value")
	if err != nil {
		return nil, false, err
	}
	return Payload{idx}, true, nil
}

func (signalCodec) Allocate(_ RawPayload, d *DecodeContext) (any, bool, error) {
	c, err := d.requireContainer()
	if err != nil {
		return nil, false, err
	}
	s := c.NewSignal(nil)
	d.Bind(s)
	return s, true, nil
}

func (signalCodec) Populate(shell any, p RawPayload, d *DecodeContext) (any, error) {
	idx, err := p.Index(0)
	if err != nil {
		return nil, err
	}
	v, err := d.Resolve(idx)
	if err != nil {
		return nil, err
	}
	s := shell.(*reactive.Signal)
	s.Init(v)
	return s, nil
}

type storeCodec struct{}

func (storeCodec) Tag() string { return tagStore }

func (storeCodec) Encode(v any, e *EncodeContext) (Payload, bool, error) {
	s, ok := v.(*reactive.Store)
	if !ok || s == nil {
		return nil, false, nil
	}
	// The target keeps the store's path so errors point at user data.
	idx, err := e.Ref(s.Target(), "")
	if err != nil {
		return nil, false, err
	}
	return Payload{idx}, true, nil
}

// Allocate returns an empty store so that the target can reach the store
// again; Populate sets the target.
func (storeCodec) Allocate(_ RawPayload, d *DecodeContext) (any, bool, error) {
	c, err := d.requireContainer()
	if err != nil {
		return nil, false, err
	}
	s := c.RestoreStore()
	d.Bind(s)
	return s, true, nil
}

func (storeCodec) Populate(shell any, p RawPayload, d *DecodeContext) (any, error) {
	idx, err := p.Index(0)
	if err != nil {
		return nil, err
	}
	target, err := d.Resolve(idx)
	if err != nil {
		return nil, err
	}
	s := shell.(*reactive.Store)
	if err := s.Init(target); err != nil {
		return nil, fmt.Errorf("store target is %T", target)
	}
	return s, nil
}

// ---------------------------------------------------------------------------
// Subscribers
// ---------------------------------------------------------------------------

// encodeBody references the body symbol of sub, failing for Go functions.
func encodeBody(sub reactive.Subscriber, e *EncodeContext) (int, error) {
	sym, err := sub.Symbol()
	if err != nil {
		return 0, err
	}
	if sym == nil {
		return 0, &NonSerializableValueError{Path: e.Path() + ".body", Type: "func"}
	}
	return e.Ref(sym, ".body")
}

// encodeDeps appends (source index, key) pairs.
func encodeDeps(payload Payload, deps []reactive.DepRef, e *EncodeContext) (Payload, error) {
	for j, d := range deps {
		idx, err := e.Ref(d.Source, ".deps["+strconv.Itoa(j)+"]")
		if err != nil {
			return nil, err
		}
		payload = append(payload, idx, d.Key)
	}
	return payload, nil
}

// decodeDeps reads (source index, key) pairs starting at element from.
func decodeDeps(p RawPayload, from int) ([]reactive.Dep, error) {
	if (p.Len()-from)%2 != 0 {
		return nil, fmt.Errorf("odd dependency list")
	}
	deps := make([]reactive.Dep, 0, (p.Len()-from)/2)
	for i := from; i < p.Len(); i += 2 {
		idx, err := p.Index(i)
		if err != nil {
			return nil, err
		}
		key, err := p.String(i + 1)
		if err != nil {
			return nil, err
		}
		deps = append(deps, reactive.Dep{Index: idx, Key: key})
	}
	return deps, nil
}

type computedCodec struct{}

func (computedCodec) Tag() string { return tagComputed }

func (computedCodec) Encode(v any, e *EncodeContext) (Payload, bool, error) {
	cm, ok := v.(*reactive.Computed)
	if !ok || cm == nil {
		return nil, false, nil
	}
	body, err := encodeBody(cm, e)
	if err != nil {
		return nil, false, err
	}
	value, err := e.Ref(cm.Peek(), ".value")
	if err != nil {
		return nil, false, err
	}
	payload, err := encodeDeps(Payload{body, value, cm.Stale()}, cm.Deps(), e)
	if err != nil {
		return nil, false, err
	}
	return payload, true, nil
}

func (computedCodec) Allocate(p RawPayload, d *DecodeContext) (any, bool, error) {
	c, err := d.requireContainer()
	if err != nil {
		return nil, false, err
	}
	body, err := p.Index(0)
	if err != nil {
		return nil, false, err
	}
	stale, err := p.Bool(2)
	if err != nil {
		return nil, false, err
	}
	deps, err := decodeDeps(p, 3)
	if err != nil {
		return nil, false, err
	}
	cm := c.RestoreComputed(d.g.symbolThunk(body), stale, deps)
	d.Bind(cm)
	return cm, true, nil
}

func (computedCodec) Populate(shell any, p RawPayload, d *DecodeContext) (any, error) {
	idx, err := p.Index(1)
	if err != nil {
		return nil, err
	}
	v, err := d.Resolve(idx)
	if err != nil {
		return nil, err
	}
	cm := shell.(*reactive.Computed)
	cm.Init(v)
	return cm, nil
}

type taskCodec struct{}

func (taskCodec) Tag() string { return tagTask }

func (taskCodec) Encode(v any, e *EncodeContext) (Payload, bool, error) {
	t, ok := v.(*reactive.Task)
	if !ok || t == nil {
		return nil, false, nil
	}
	body, err := encodeBody(t, e)
	if err != nil {
		return nil, false, err
	}
	payload, err := encodeDeps(Payload{body}, t.Deps(), e)
	if err != nil {
		return nil, false, err
	}
	return payload, true, nil
}

func (taskCodec) Allocate(p RawPayload, d *DecodeContext) (any, bool, error) {
	c, err := d.requireContainer()
	if err != nil {
		return nil, false, err
	}
	body, err := p.Index(0)
	if err != nil {
		return nil, false, err
	}
	deps, err := decodeDeps(p, 1)
	if err != nil {
		return nil, false, err
	}
	t := c.RestoreTask(d.g.symbolThunk(body), deps)
	d.Bind(t)
	return t, true, nil
}

func (taskCodec) Populate(shell any, _ RawPayload, _ *DecodeContext) (any, error) {
	return shell, nil
}

type rendererCodec struct{}

func (rendererCodec) Tag() string { return tagRenderer }

func (rendererCodec) Encode(v any, e *EncodeContext) (Payload, bool, error) {
	r, ok := v.(*reactive.Renderer)
	if !ok || r == nil {
		return nil, false, nil
	}
	body, err := encodeBody(r, e)
	if err != nil {
		return nil, false, err
	}
	payload, err := encodeDeps(Payload{body}, r.Deps(), e)
	if err != nil {
		return nil, false, err
	}
	return payload, true, nil
}

func (rendererCodec) Allocate(p RawPayload, d *DecodeContext) (any, bool, error) {
	c, err := d.requireContainer()
	if err != nil {
		return nil, false, err
	}
	body, err := p.Index(0)
	if err != nil {
		return nil, false, err
	}
	deps, err := decodeDeps(p, 1)
	if err != nil {
		return nil, false, err
	}
	r := c.RestoreRenderer(d.g.symbolThunk(body), deps)
	d.Bind(r)
	return r, true, nil
}

func (rendererCodec) Populate(shell any, _ RawPayload, _ *DecodeContext) (any, error) {
	return shell, nil
}
