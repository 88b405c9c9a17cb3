package snapshot

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"sync"
)

// Payload is the encoded form of one value, without its tag. Elements are
// JSON-compatible literals: strings, bools, numbers, and entry indices.
type Payload []any

// Codec converts one family of values to and from snapshot entries.
type Codec interface {
	// Tag returns the entry tag owned by this codec.
	Tag() string

	// Encode returns the payload for v, or false if v is not handled by
	// this codec. Children are referenced with EncodeContext.Ref.
	Encode(v any, e *EncodeContext) (Payload, bool, error)

	// Allocate returns an identity shell for object-like values before
	// their children are resolved, or false for scalars.
	Allocate(p RawPayload, d *DecodeContext) (any, bool, error)

	// Populate fills the shell (nil for scalars) and returns the final
	// value.
	Populate(shell any, p RawPayload, d *DecodeContext) (any, error)
}

// Registry maps tags to codecs. Custom codecs are consulted before the
// built-ins when encoding.
type Registry struct {
	mu      sync.RWMutex
	byTag   map[string]Codec
	custom  []Codec
	builtin []Codec
}

// NewRegistry returns a registry holding the built-in codecs.
func NewRegistry() *Registry {
	r := &Registry{byTag: make(map[string]Codec)}
	for _, c := range builtinCodecs() {
		r.byTag[c.Tag()] = c
		r.builtin = append(r.builtin, c)
	}
	return r
}

// DefaultRegistry is the process-wide registry used unless WithRegistry is
// given.
var DefaultRegistry = NewRegistry()

// Register adds a codec to the default registry.
func Register(c Codec) error {
	return DefaultRegistry.Register(c)
}

// Register adds a codec. Tags must be unique.
func (r *Registry) Register(c Codec) error {
	if c == nil || c.Tag() == "" {
		return fmt.Errorf("snapshot: codec must have a tag")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byTag[c.Tag()]; exists {
		return fmt.Errorf("snapshot: tag %q already registered", c.Tag())
	}
	r.byTag[c.Tag()] = c
	r.custom = append(r.custom, c)
	return nil
}

// Lookup returns the codec for tag.
func (r *Registry) Lookup(tag string) (Codec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.byTag[tag]
	return c, ok
}

// Tags returns every registered tag, sorted.
func (r *Registry) Tags() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tags := make([]string, 0, len(r.byTag))
	for t := range r.byTag {
		tags = append(tags, t)
	}
	sort.Strings(tags)
	return tags
}

// encoders returns the codecs in encode order.
func (r *Registry) encoders() []Codec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Codec, 0, len(r.custom)+len(r.builtin))
	out = append(out, r.custom...)
	return append(out, r.builtin...)
}

// RawPayload is a decoded payload. Its elements come from JSON
// (json.Number) or CBOR (int64, uint64, float64) and are read through the
// typed accessors.
type RawPayload []any

// Len returns the number of payload elements.
func (p RawPayload) Len() int { return len(p) }

// Raw returns element i unconverted.
func (p RawPayload) Raw(i int) (any, error) {
	if i < 0 || i >= len(p) {
		return nil, fmt.Errorf("payload has %d elements, need %d", len(p), i+1)
	}
	return p[i], nil
}

// Int64 returns element i as an integer.
func (p RawPayload) Int64(i int) (int64, error) {
	v, err := p.Raw(i)
	if err != nil {
		return 0, err
	}
	switch n := v.(type) {
	case json.Number:
		return n.Int64()
	case int64:
		return n, nil
	case uint64:
		if n > math.MaxInt64 {
			return 0, fmt.Errorf("element %d overflows int64", i)
		}
		return int64(n), nil
	case int:
		return int64(n), nil
	case float64:
		if n != math.Trunc(n) {
			return 0, fmt.Errorf("element %d is not an integer", i)
		}
		return int64(n), nil
	}
	return 0, fmt.Errorf("element %d is %T, not a number", i, v)
}

// Index returns element i as an entry reference.
func (p RawPayload) Index(i int) (int, error) {
	n, err := p.Int64(i)
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// Float64 returns element i as a float.
func (p RawPayload) Float64(i int) (float64, error) {
	v, err := p.Raw(i)
	if err != nil {
		return 0, err
	}
	switch n := v.(type) {
	case json.Number:
		return n.Float64()
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case uint64:
		return float64(n), nil
	case int:
		return float64(n), nil
	}
	return 0, fmt.Errorf("element %d is %T, not a number", i, v)
}

// String returns element i as a string.
func (p RawPayload) String(i int) (string, error) {
	v, err := p.Raw(i)
	if err != nil {
		return "", err
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("element %d is %T, not a string", i, v)
	}
	return s, nil
}

// Bool returns element i as a bool.
func (p RawPayload) Bool(i int) (bool, error) {
	v, err := p.Raw(i)
	if err != nil {
		return false, err
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("element %d is %T, not a bool", i, v)
	}
	return b, nil
}
