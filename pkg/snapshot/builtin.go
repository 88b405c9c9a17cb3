package snapshot

import (
	"fmt"
	"math"
	"math/big"
	"net/url"
	"reflect"
	"sort"
	"strconv"
	"time"
)

const (
	tagNil    = "n"
	tagBool   = "b"
	tagInt    = "i"
	tagInt64  = "l"
	tagFloat  = "f"
	tagString = "s"
	tagBigInt = "B"
	tagHole   = "_"
	tagArray  = "a"
	tagObject = "o"
	tagMap    = "m"
	tagSet    = "e"
	tagTime   = "d"
	tagURL    = "u"
	tagError  = "x"
)

// builtinCodecs returns the built-in codecs in encode order. Set precedes
// the map codecs and error comes last so more specific codecs win.
func builtinCodecs() []Codec {
	return []Codec{
		nilCodec{},
		boolCodec{},
		intCodec{},
		int64Codec{},
		floatCodec{},
		stringCodec{},
		bigIntCodec{},
		holeCodec{},
		timeCodec{},
		urlCodec{},
		promiseCodec{},
		symbolCodec{},
		signalCodec{},
		storeCodec{},
		computedCodec{},
		taskCodec{},
		rendererCodec{},
		setCodec{},
		arrayCodec{},
		objectCodec{},
		mapCodec{},
		errorCodec{},
	}
}

// scalar provides the Allocate of codecs whose values have no identity.
type scalar struct{}

func (scalar) Allocate(RawPayload, *DecodeContext) (any, bool, error) { return nil, false, nil }

// ---------------------------------------------------------------------------
// Primitives
// ---------------------------------------------------------------------------

type nilCodec struct{ scalar }

func (nilCodec) Tag() string { return tagNil }

func (nilCodec) Encode(v any, _ *EncodeContext) (Payload, bool, error) {
	if v == nil {
		return Payload{}, true, nil
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Pointer && rv.IsNil() {
		return Payload{}, true, nil
	}
	return nil, false, nil
}

func (nilCodec) Populate(any, RawPayload, *DecodeContext) (any, error) { return nil, nil }

type boolCodec struct{ scalar }

func (boolCodec) Tag() string { return tagBool }

func (boolCodec) Encode(v any, _ *EncodeContext) (Payload, bool, error) {
	b, ok := v.(bool)
	if !ok {
		return nil, false, nil
	}
	return Payload{b}, true, nil
}

func (boolCodec) Populate(_ any, p RawPayload, _ *DecodeContext) (any, error) {
	return p.Bool(0)
}

// intCodec handles int and the narrower integer kinds, which decode as int.
type intCodec struct{ scalar }

func (intCodec) Tag() string { return tagInt }

func (intCodec) Encode(v any, _ *EncodeContext) (Payload, bool, error) {
	switch n := v.(type) {
	case int:
		return Payload{int64(n)}, true, nil
	case int8:
		return Payload{int64(n)}, true, nil
	case int16:
		return Payload{int64(n)}, true, nil
	case int32:
		return Payload{int64(n)}, true, nil
	case uint8:
		return Payload{int64(n)}, true, nil
	case uint16:
		return Payload{int64(n)}, true, nil
	case uint32:
		return Payload{int64(n)}, true, nil
	}
	return nil, false, nil
}

func (intCodec) Populate(_ any, p RawPayload, _ *DecodeContext) (any, error) {
	n, err := p.Int64(0)
	if err != nil {
		return nil, err
	}
	return int(n), nil
}

// int64Codec writes int64 as a decimal string so readers without 64-bit
// integers keep it exact.
type int64Codec struct{ scalar }

func (int64Codec) Tag() string { return tagInt64 }

func (int64Codec) Encode(v any, e *EncodeContext) (Payload, bool, error) {
	switch n := v.(type) {
	case int64:
		return Payload{strconv.FormatInt(n, 10)}, true, nil
	case uint:
		if uint64(n) > math.MaxInt64 {
			return nil, false, e.Fail("uint out of int64 range")
		}
		return Payload{strconv.FormatUint(uint64(n), 10)}, true, nil
	case uint64:
		if n > math.MaxInt64 {
			return nil, false, e.Fail("uint64 out of int64 range")
		}
		return Payload{strconv.FormatUint(n, 10)}, true, nil
	}
	return nil, false, nil
}

func (int64Codec) Populate(_ any, p RawPayload, _ *DecodeContext) (any, error) {
	s, err := p.String(0)
	if err != nil {
		return nil, err
	}
	return strconv.ParseInt(s, 10, 64)
}

type floatCodec struct{ scalar }

func (floatCodec) Tag() string { return tagFloat }

func (floatCodec) Encode(v any, _ *EncodeContext) (Payload, bool, error) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	default:
		return nil, false, nil
	}
	switch {
	case math.IsNaN(f):
		return Payload{"NaN"}, true, nil
	case math.IsInf(f, 1):
		return Payload{"Inf"}, true, nil
	case math.IsInf(f, -1):
		return Payload{"-Inf"}, true, nil
	}
	return Payload{f}, true, nil
}

func (floatCodec) Populate(_ any, p RawPayload, _ *DecodeContext) (any, error) {
	if s, err := p.String(0); err == nil {
		switch s {
		case "NaN":
			return math.NaN(), nil
		case "Inf":
			return math.Inf(1), nil
		case "-Inf":
			return math.Inf(-1), nil
		}
		return nil, fmt.Errorf("unknown float literal %q", s)
	}
	return p.Float64(0)
}

type stringCodec struct{ scalar }

func (stringCodec) Tag() string { return tagString }

func (stringCodec) Encode(v any, _ *EncodeContext) (Payload, bool, error) {
	s, ok := v.(string)
	if !ok {
		return nil, false, nil
	}
	return Payload{s}, true, nil
}

func (stringCodec) Populate(_ any, p RawPayload, _ *DecodeContext) (any, error) {
	return p.String(0)
}

type bigIntCodec struct{ scalar }

func (bigIntCodec) Tag() string { return tagBigInt }

func (bigIntCodec) Encode(v any, _ *EncodeContext) (Payload, bool, error) {
	n, ok := v.(*big.Int)
	if !ok || n == nil {
		return nil, false, nil
	}
	return Payload{n.String()}, true, nil
}

func (bigIntCodec) Populate(_ any, p RawPayload, _ *DecodeContext) (any, error) {
	s, err := p.String(0)
	if err != nil {
		return nil, err
	}
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid integer %q", s)
	}
	return n, nil
}

type holeCodec struct{ scalar }

func (holeCodec) Tag() string { return tagHole }

func (holeCodec) Encode(v any, _ *EncodeContext) (Payload, bool, error) {
	if _, ok := v.(Hole); !ok {
		return nil, false, nil
	}
	return Payload{}, true, nil
}

func (holeCodec) Populate(any, RawPayload, *DecodeContext) (any, error) { return Hole{}, nil }

type timeCodec struct{ scalar }

func (timeCodec) Tag() string { return tagTime }

func (timeCodec) Encode(v any, _ *EncodeContext) (Payload, bool, error) {
	t, ok := v.(time.Time)
	if !ok {
		return nil, false, nil
	}
	return Payload{t.Format(time.RFC3339Nano)}, true, nil
}

func (timeCodec) Populate(_ any, p RawPayload, _ *DecodeContext) (any, error) {
	s, err := p.String(0)
	if err != nil {
		return nil, err
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return nil, err
	}
	return t.UTC(), nil
}

type urlCodec struct{ scalar }

func (urlCodec) Tag() string { return tagURL }

func (urlCodec) Encode(v any, _ *EncodeContext) (Payload, bool, error) {
	switch u := v.(type) {
	case *url.URL:
		return Payload{u.String()}, true, nil
	case url.URL:
		return Payload{u.String()}, true, nil
	}
	return nil, false, nil
}

func (urlCodec) Populate(_ any, p RawPayload, _ *DecodeContext) (any, error) {
	s, err := p.String(0)
	if err != nil {
		return nil, err
	}
	return url.Parse(s)
}

type errorCodec struct{ scalar }

func (errorCodec) Tag() string { return tagError }

func (errorCodec) Encode(v any, _ *EncodeContext) (Payload, bool, error) {
	err, ok := v.(error)
	if !ok {
		return nil, false, nil
	}
	return Payload{err.Error()}, true, nil
}

func (errorCodec) Populate(_ any, p RawPayload, _ *DecodeContext) (any, error) {
	msg, err := p.String(0)
	if err != nil {
		return nil, err
	}
	return &ErrorValue{Message: msg}, nil
}

// ---------------------------------------------------------------------------
// Containers
// ---------------------------------------------------------------------------

// arrayCodec handles []any and, by reflection, other slices and arrays,
// which decode as []any.
type arrayCodec struct{}

func (arrayCodec) Tag() string { return tagArray }

func (arrayCodec) Encode(v any, e *EncodeContext) (Payload, bool, error) {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false, nil
	}
	payload := make(Payload, rv.Len())
	for i := range payload {
		idx, err := e.Ref(rv.Index(i).Interface(), "["+strconv.Itoa(i)+"]")
		if err != nil {
			return nil, false, err
		}
		payload[i] = idx
	}
	return payload, true, nil
}

func (arrayCodec) Allocate(p RawPayload, _ *DecodeContext) (any, bool, error) {
	return make([]any, p.Len()), true, nil
}

func (arrayCodec) Populate(shell any, p RawPayload, d *DecodeContext) (any, error) {
	out := shell.([]any)
	for i := range out {
		idx, err := p.Index(i)
		if err != nil {
			return nil, err
		}
		v, err := d.Resolve(idx)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// objectCodec handles maps with string keys, which decode as
// map[string]any. Keys are written sorted.
type objectCodec struct{}

func (objectCodec) Tag() string { return tagObject }

func (objectCodec) Encode(v any, e *EncodeContext) (Payload, bool, error) {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Map || rv.Type().Key().Kind() != reflect.String {
		return nil, false, nil
	}
	keys := make([]string, 0, rv.Len())
	for _, k := range rv.MapKeys() {
		keys = append(keys, k.String())
	}
	sort.Strings(keys)

	keyType := rv.Type().Key()
	payload := make(Payload, 0, 2*len(keys))
	for _, k := range keys {
		child := rv.MapIndex(reflect.ValueOf(k).Convert(keyType)).Interface()
		idx, err := e.Ref(child, "."+k)
		if err != nil {
			return nil, false, err
		}
		payload = append(payload, k, idx)
	}
	return payload, true, nil
}

func (objectCodec) Allocate(p RawPayload, _ *DecodeContext) (any, bool, error) {
	if p.Len()%2 != 0 {
		return nil, false, fmt.Errorf("odd payload length %d", p.Len())
	}
	return make(map[string]any, p.Len()/2), true, nil
}

func (objectCodec) Populate(shell any, p RawPayload, d *DecodeContext) (any, error) {
	out := shell.(map[string]any)
	for i := 0; i < p.Len(); i += 2 {
		k, err := p.String(i)
		if err != nil {
			return nil, err
		}
		idx, err := p.Index(i + 1)
		if err != nil {
			return nil, err
		}
		v, err := d.Resolve(idx)
		if err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, nil
}

// mapCodec handles maps with non-string keys, which decode as
// map[any]any. Entries are written in the order of their formatted keys.
type mapCodec struct{}

func (mapCodec) Tag() string { return tagMap }

func (mapCodec) Encode(v any, e *EncodeContext) (Payload, bool, error) {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Map {
		return nil, false, nil
	}
	keys := sortedKeys(rv.MapKeys())
	payload := make(Payload, 0, 2*len(keys))
	for i, k := range keys {
		seg := "[" + strconv.Itoa(i) + "]"
		kidx, err := e.Ref(k.Interface(), seg+".key")
		if err != nil {
			return nil, false, err
		}
		vidx, err := e.Ref(rv.MapIndex(k).Interface(), seg+".value")
		if err != nil {
			return nil, false, err
		}
		payload = append(payload, kidx, vidx)
	}
	return payload, true, nil
}

func (mapCodec) Allocate(p RawPayload, _ *DecodeContext) (any, bool, error) {
	if p.Len()%2 != 0 {
		return nil, false, fmt.Errorf("odd payload length %d", p.Len())
	}
	return make(map[any]any, p.Len()/2), true, nil
}

func (mapCodec) Populate(shell any, p RawPayload, d *DecodeContext) (any, error) {
	out := shell.(map[any]any)
	for i := 0; i < p.Len(); i += 2 {
		k, err := resolveKey(p, i, d)
		if err != nil {
			return nil, err
		}
		vidx, err := p.Index(i + 1)
		if err != nil {
			return nil, err
		}
		v, err := d.Resolve(vidx)
		if err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, nil
}

type setCodec struct{}

func (setCodec) Tag() string { return tagSet }

func (setCodec) Encode(v any, e *EncodeContext) (Payload, bool, error) {
	s, ok := v.(Set)
	if !ok {
		return nil, false, nil
	}
	rv := reflect.ValueOf(s)
	keys := sortedKeys(rv.MapKeys())
	payload := make(Payload, len(keys))
	for i, k := range keys {
		idx, err := e.Ref(k.Interface(), "{"+strconv.Itoa(i)+"}")
		if err != nil {
			return nil, false, err
		}
		payload[i] = idx
	}
	return payload, true, nil
}

func (setCodec) Allocate(p RawPayload, _ *DecodeContext) (any, bool, error) {
	return make(Set, p.Len()), true, nil
}

func (setCodec) Populate(shell any, p RawPayload, d *DecodeContext) (any, error) {
	out := shell.(Set)
	for i := 0; i < p.Len(); i++ {
		k, err := resolveKey(p, i, d)
		if err != nil {
			return nil, err
		}
		out[k] = struct{}{}
	}
	return out, nil
}

// resolveKey resolves element i as a map key, which must be comparable.
func resolveKey(p RawPayload, i int, d *DecodeContext) (any, error) {
	idx, err := p.Index(i)
	if err != nil {
		return nil, err
	}
	k, err := d.Resolve(idx)
	if err != nil {
		return nil, err
	}
	if k != nil && !reflect.ValueOf(k).Comparable() {
		return nil, fmt.Errorf("key %T is not comparable", k)
	}
	return k, nil
}

// sortedKeys orders map keys by type name and formatted value.
func sortedKeys(keys []reflect.Value) []reflect.Value {
	type keyed struct {
		sortKey string
		v       reflect.Value
	}
	ks := make([]keyed, len(keys))
	for i, k := range keys {
		ks[i] = keyed{sortKey: fmt.Sprintf("%T\x00%v", k.Interface(), k.Interface()), v: k}
	}
	sort.Slice(ks, func(i, j int) bool { return ks[i].sortKey < ks[j].sortKey })
	out := make([]reflect.Value, len(ks))
	for i, k := range ks {
		out[i] = k.v
	}
	return out
}
