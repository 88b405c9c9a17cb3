package snapshot

// Hole is an absent slot: an undefined array element, or a reserved index
// whose value was not reached by the walk.
type Hole struct{}

// Set is an unordered collection of comparable values.
type Set map[any]struct{}

// NewSet returns a set holding values.
func NewSet(values ...any) Set {
	s := make(Set, len(values))
	for _, v := range values {
		s[v] = struct{}{}
	}
	return s
}

// Has reports whether v is in the set.
func (s Set) Has(v any) bool {
	_, ok := s[v]
	return ok
}

// ErrorValue is the decoded form of a serialized error. Only the message
// survives serialization.
type ErrorValue struct {
	Message string
}

func (e *ErrorValue) Error() string { return e.Message }
