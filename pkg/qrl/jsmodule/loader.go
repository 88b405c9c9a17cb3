// Package jsmodule implements a qrl.ModuleLoader that evaluates JavaScript
// modules with goja.
//
// Modules are read from an fs.FS and evaluated in CommonJS form: the source
// assigns to module.exports or to properties of exports. Each module gets its
// own runtime, evaluated once on first load; calls into a module are
// serialized because a goja runtime is not safe for concurrent use.
//
//	loader := jsmodule.New(os.DirFS("dist/modules"))
//	resolver := qrl.NewResolver(loader)
package jsmodule

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"sync"

	"github.com/dop251/goja"

	"github.com/vango-dev/resume/pkg/qrl"
)

// Loader loads exports from JavaScript modules stored in a file system.
type Loader struct {
	fsys fs.FS

	mu      sync.Mutex
	modules map[string]*module
}

type module struct {
	mu      sync.Mutex
	vm      *goja.Runtime
	exports *goja.Object
}

// New creates a loader reading modules from fsys.
func New(fsys fs.FS) *Loader {
	return &Loader{
		fsys:    fsys,
		modules: make(map[string]*module),
	}
}

// LoadExport implements qrl.ModuleLoader.
func (l *Loader) LoadExport(ctx context.Context, modulePath, exportName string) (qrl.Callable, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m, err := l.module(modulePath)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	value := m.exports.Get(exportName)
	m.mu.Unlock()
	if value == nil || goja.IsUndefined(value) {
		return nil, fmt.Errorf("%w: %s#%s", qrl.ErrExportNotFound, modulePath, exportName)
	}
	fn, ok := goja.AssertFunction(value)
	if !ok {
		return nil, fmt.Errorf("jsmodule: export %s#%s is not a function", modulePath, exportName)
	}
	return m.callable(fn), nil
}

// module returns the evaluated module at path, evaluating it on first use.
func (l *Loader) module(path string) (*module, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if m, ok := l.modules[path]; ok {
		return m, nil
	}

	src, err := fs.ReadFile(l.fsys, path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", qrl.ErrModuleNotFound, path)
		}
		return nil, fmt.Errorf("jsmodule: read %s: %w", path, err)
	}

	m, err := evaluate(path, string(src))
	if err != nil {
		return nil, err
	}
	l.modules[path] = m
	return m, nil
}

func evaluate(path, src string) (*module, error) {
	program, err := goja.Compile(path, "(function(module, exports) {\n"+src+"\n})", false)
	if err != nil {
		return nil, fmt.Errorf("jsmodule: compile %s: %w", path, err)
	}

	vm := goja.New()
	wrapperValue, err := vm.RunProgram(program)
	if err != nil {
		return nil, fmt.Errorf("jsmodule: evaluate %s: %w", path, err)
	}
	wrapper, ok := goja.AssertFunction(wrapperValue)
	if !ok {
		return nil, fmt.Errorf("jsmodule: evaluate %s: module wrapper is not a function", path)
	}

	mod := vm.NewObject()
	exports := vm.NewObject()
	if err := mod.Set("exports", exports); err != nil {
		return nil, fmt.Errorf("jsmodule: evaluate %s: %w", path, err)
	}
	if _, err := wrapper(goja.Undefined(), mod, exports); err != nil {
		return nil, fmt.Errorf("jsmodule: evaluate %s: %w", path, err)
	}

	exported := mod.Get("exports")
	if exported == nil || goja.IsUndefined(exported) || goja.IsNull(exported) {
		return nil, fmt.Errorf("jsmodule: %s assigned an empty module.exports", path)
	}
	return &module{vm: vm, exports: exported.ToObject(vm)}, nil
}

// callable wraps a goja function. Arguments are converted with ToValue and
// the result is exported back to Go values; ctx cancellation interrupts the
// running script.
func (m *module) callable(fn goja.Callable) qrl.Callable {
	return func(ctx context.Context, args ...any) (any, error) {
		m.mu.Lock()
		defer m.mu.Unlock()

		stop := context.AfterFunc(ctx, func() {
			m.vm.Interrupt(ctx.Err())
		})
		defer func() {
			stop()
			m.vm.ClearInterrupt()
		}()

		jsArgs := make([]goja.Value, len(args))
		for i, a := range args {
			jsArgs[i] = m.vm.ToValue(a)
		}
		result, err := fn(goja.Undefined(), jsArgs...)
		if err != nil {
			return nil, err
		}
		if result == nil || goja.IsUndefined(result) {
			return nil, nil
		}
		return result.Export(), nil
	}
}
