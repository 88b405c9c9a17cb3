package snapshot

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/fxamacker/cbor/v2"

	rerrors "github.com/vango-dev/resume/internal/errors"
)

// Version is the snapshot format version written by this package.
const Version = 1

// Snapshot is the serialized form of a container: an indexed entry table
// plus the roots, subscribers, and deferred promises that point into it.
type Snapshot struct {
	Version     int            `json:"v" cbor:"1,keyasint"`
	Epoch       uint64         `json:"epoch" cbor:"2,keyasint"`
	Container   string         `json:"container" cbor:"3,keyasint"`
	Roots       map[string]int `json:"roots" cbor:"4,keyasint"`
	Subscribers []int          `json:"subs" cbor:"5,keyasint"`
	Deferred    []int          `json:"deferred" cbor:"6,keyasint"`
	Entries     [][]any        `json:"entries" cbor:"7,keyasint"`
}

// Len returns the number of entries.
func (s *Snapshot) Len() int { return len(s.Entries) }

// Tag returns the tag of entry i.
func (s *Snapshot) Tag(i int) string {
	if i < 0 || i >= len(s.Entries) || len(s.Entries[i]) == 0 {
		return ""
	}
	tag, _ := s.Entries[i][0].(string)
	return tag
}

// Payload returns the payload of entry i without its tag.
func (s *Snapshot) Payload(i int) RawPayload {
	if i < 0 || i >= len(s.Entries) || len(s.Entries[i]) == 0 {
		return nil
	}
	return RawPayload(s.Entries[i][1:])
}

// Marshal encodes the snapshot as JSON text.
func (s *Snapshot) Marshal() ([]byte, error) {
	return json.Marshal(s.normalized(false))
}

// MarshalIndent encodes the snapshot as indented JSON text.
func (s *Snapshot) MarshalIndent() ([]byte, error) {
	return json.MarshalIndent(s.normalized(false), "", "  ")
}

// Parse decodes a JSON snapshot. Numbers are kept exact.
func Parse(data []byte) (*Snapshot, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var s Snapshot
	if err := dec.Decode(&s); err != nil {
		return nil, rerrors.New("R120").Wrap(fmt.Errorf("snapshot: parse: %w", err))
	}
	if err := s.validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("snapshot: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// MarshalCBOR encodes the snapshot as canonical CBOR.
func (s *Snapshot) MarshalCBOR() ([]byte, error) {
	type plain Snapshot
	n := s.normalized(true)
	return cborEncMode.Marshal((*plain)(n))
}

// UnmarshalCBOR decodes a CBOR snapshot.
func UnmarshalCBOR(data []byte) (*Snapshot, error) {
	type plain Snapshot
	var p plain
	if err := cbor.Unmarshal(data, &p); err != nil {
		return nil, rerrors.New("R120").Wrap(fmt.Errorf("snapshot: unmarshal cbor: %w", err))
	}
	s := Snapshot(p)
	if err := s.validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// validate checks the envelope. Entries are checked as they are resolved.
func (s *Snapshot) validate() error {
	if s.Version != Version {
		return &UnknownTagError{Tag: fmt.Sprintf("v%d", s.Version), Index: -1}
	}
	for name, i := range s.Roots {
		if i < 0 || i >= len(s.Entries) {
			return rerrors.New("R121").WithPath("roots." + name)
		}
	}
	for _, list := range [][]int{s.Subscribers, s.Deferred} {
		for _, i := range list {
			if i < 0 || i >= len(s.Entries) {
				return &IndexOutOfRangeError{Index: i, Len: len(s.Entries)}
			}
		}
	}
	for i, e := range s.Entries {
		if len(e) == 0 {
			return &MalformedEntryError{Index: i, Reason: "empty entry"}
		}
		if _, ok := e[0].(string); !ok {
			return &MalformedEntryError{Index: i, Reason: "tag is not a string"}
		}
	}
	return nil
}

// normalized returns a copy with empty lists instead of nil and, for
// binary output, json.Number payload elements converted to Go numbers.
func (s *Snapshot) normalized(numbers bool) *Snapshot {
	n := *s
	if n.Roots == nil {
		n.Roots = map[string]int{}
	}
	if n.Subscribers == nil {
		n.Subscribers = []int{}
	}
	if n.Deferred == nil {
		n.Deferred = []int{}
	}
	if n.Entries == nil {
		n.Entries = [][]any{}
	}
	if !numbers {
		return &n
	}

	entries := make([][]any, len(s.Entries))
	for i, e := range s.Entries {
		out := make([]any, len(e))
		for j, v := range e {
			out[j] = fromJSONNumber(v)
		}
		entries[i] = out
	}
	n.Entries = entries
	return &n
}

func fromJSONNumber(v any) any {
	num, ok := v.(json.Number)
	if !ok {
		return v
	}
	if i, err := num.Int64(); err == nil {
		return i
	}
	if f, err := num.Float64(); err == nil {
		return f
	}
	return string(num)
}
