package qrl

import (
	"context"
	"fmt"
	"reflect"
)

// Symbol is an immutable reference to an exported callable in a module.
// Equality is structural: two symbols with the same module path, export
// name, and captured values are interchangeable.
type Symbol struct {
	modulePath string
	exportName string
	captured   []any
}

// New creates a symbol reference. The captured values are copied; they are
// graph values and are written to snapshots alongside the reference.
func New(modulePath, exportName string, captured ...any) *Symbol {
	s := &Symbol{
		modulePath: modulePath,
		exportName: exportName,
	}
	if len(captured) > 0 {
		s.captured = append([]any(nil), captured...)
	}
	return s
}

// Restore creates a symbol whose captured values are filled in afterwards
// through the returned setter. Decoders use it to hand out the symbol's
// identity before its captured values are resolved, which lets captured
// values refer back to the symbol. The setter must not be used once the
// symbol has been shared outside the decoder.
func Restore(modulePath, exportName string, n int) (*Symbol, func(i int, v any)) {
	s := &Symbol{
		modulePath: modulePath,
		exportName: exportName,
	}
	if n > 0 {
		s.captured = make([]any, n)
	}
	return s, func(i int, v any) { s.captured[i] = v }
}

// ModulePath returns the loadable module path.
func (s *Symbol) ModulePath() string { return s.modulePath }

// ExportName returns the export name within the module.
func (s *Symbol) ExportName() string { return s.exportName }

// NumCaptured returns the number of captured values.
func (s *Symbol) NumCaptured() int { return len(s.captured) }

// CapturedAt returns the i-th captured value.
func (s *Symbol) CapturedAt(i int) any { return s.captured[i] }

// Captured returns a copy of the captured values.
func (s *Symbol) Captured() []any {
	if len(s.captured) == 0 {
		return nil
	}
	return append([]any(nil), s.captured...)
}

// Key names the export this symbol resolves to, e.g. "app/todos.js#onDelete".
// It is a label: the resolver memoizes on the path and export name
// separately.
func (s *Symbol) Key() string {
	return s.modulePath + "#" + s.exportName
}

// String returns a human-readable form, e.g. "app/todos.js#onDelete[1]".
func (s *Symbol) String() string {
	if len(s.captured) == 0 {
		return s.Key()
	}
	return fmt.Sprintf("%s[%d]", s.Key(), len(s.captured))
}

// Equal reports whether two symbols are structurally equal.
func (s *Symbol) Equal(other *Symbol) bool {
	if s == other {
		return true
	}
	if s == nil || other == nil {
		return false
	}
	if s.modulePath != other.modulePath || s.exportName != other.exportName {
		return false
	}
	if len(s.captured) != len(other.captured) {
		return false
	}
	return reflect.DeepEqual(s.captured, other.captured)
}

// Invoke resolves the symbol through r and calls it with the captured values
// followed by args.
func (s *Symbol) Invoke(ctx context.Context, r *Resolver, args ...any) (any, error) {
	fn, err := r.Resolve(ctx, s)
	if err != nil {
		return nil, err
	}
	all := make([]any, 0, len(s.captured)+len(args))
	all = append(all, s.captured...)
	all = append(all, args...)
	return fn(ctx, all...)
}
