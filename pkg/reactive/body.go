package reactive

import (
	"context"
	"fmt"

	"github.com/vango-dev/resume/pkg/qrl"
)

// TaskFunc is a Go task body.
type TaskFunc func(s *Scope) error

// ComputeFunc is a Go computed body.
type ComputeFunc func(s *Scope) (any, error)

// RenderFunc is a Go renderer body.
type RenderFunc func(s *Scope)

// TaskExport adapts a task body for registration as a module export.
// Symbol bodies are called with the running Scope followed by the captured
// values; the captured values are also available through Scope.Captured.
func TaskExport(fn TaskFunc) qrl.Callable {
	return func(_ context.Context, args ...any) (any, error) {
		s, err := scopeArg(args)
		if err != nil {
			return nil, err
		}
		return nil, fn(s)
	}
}

// ComputedExport adapts a computed body for registration as a module export.
func ComputedExport(fn ComputeFunc) qrl.Callable {
	return func(_ context.Context, args ...any) (any, error) {
		s, err := scopeArg(args)
		if err != nil {
			return nil, err
		}
		return fn(s)
	}
}

// RendererExport adapts a renderer body for registration as a module export.
func RendererExport(fn RenderFunc) qrl.Callable {
	return func(_ context.Context, args ...any) (any, error) {
		s, err := scopeArg(args)
		if err != nil {
			return nil, err
		}
		fn(s)
		return nil, nil
	}
}

func scopeArg(args []any) (*Scope, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("reactive: body called without a scope")
	}
	s, ok := args[0].(*Scope)
	if !ok {
		return nil, fmt.Errorf("reactive: body called with %T instead of a scope", args[0])
	}
	return s, nil
}
