package qrl

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	// ErrModuleNotFound is returned by loaders when no module exists at the path.
	ErrModuleNotFound = errors.New("qrl: module not found")

	// ErrExportNotFound is returned by loaders when the module has no such export.
	ErrExportNotFound = errors.New("qrl: export not found")
)

// Callable is a resolved export.
type Callable func(ctx context.Context, args ...any) (any, error)

// ModuleLoader loads exports by module path and export name. It is the only
// host capability the runtime depends on for behavior; implementations may
// block on I/O and must honor ctx.
type ModuleLoader interface {
	LoadExport(ctx context.Context, modulePath, exportName string) (Callable, error)
}

// LoaderFunc adapts a function to the ModuleLoader interface.
type LoaderFunc func(ctx context.Context, modulePath, exportName string) (Callable, error)

// LoadExport implements ModuleLoader.
func (f LoaderFunc) LoadExport(ctx context.Context, modulePath, exportName string) (Callable, error) {
	return f(ctx, modulePath, exportName)
}

// Registry is an in-process ModuleLoader: exports are registered up front
// by the code the bundler generated.
type Registry struct {
	mu      sync.RWMutex
	modules map[string]map[string]Callable
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		modules: make(map[string]map[string]Callable),
	}
}

// Register stores fn under (modulePath, exportName) guarding against duplicates.
func (r *Registry) Register(modulePath, exportName string, fn Callable) error {
	if fn == nil {
		return fmt.Errorf("qrl: export %s#%s is nil", modulePath, exportName)
	}
	if modulePath == "" || exportName == "" {
		return fmt.Errorf("qrl: module path and export name must not be empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	mod, ok := r.modules[modulePath]
	if !ok {
		mod = make(map[string]Callable)
		r.modules[modulePath] = mod
	}
	if _, exists := mod[exportName]; exists {
		return fmt.Errorf("qrl: export %s#%s already registered", modulePath, exportName)
	}
	mod[exportName] = fn
	return nil
}

// MustRegister is like Register but panics on error.
func (r *Registry) MustRegister(modulePath, exportName string, fn Callable) {
	if err := r.Register(modulePath, exportName, fn); err != nil {
		panic(err)
	}
}

// LoadExport implements ModuleLoader.
func (r *Registry) LoadExport(ctx context.Context, modulePath, exportName string) (Callable, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	mod, ok := r.modules[modulePath]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrModuleNotFound, modulePath)
	}
	fn, ok := mod[exportName]
	if !ok {
		return nil, fmt.Errorf("%w: %s#%s", ErrExportNotFound, modulePath, exportName)
	}
	return fn, nil
}

// Modules returns the registered module paths, sorted.
func (r *Registry) Modules() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	paths := make([]string, 0, len(r.modules))
	for p := range r.modules {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// DefaultRegistry is the process-wide registry behind Default().
var DefaultRegistry = NewRegistry()

// Register adds an export to DefaultRegistry.
func Register(modulePath, exportName string, fn Callable) error {
	return DefaultRegistry.Register(modulePath, exportName, fn)
}
