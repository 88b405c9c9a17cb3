package qrl

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"
)

const tracerName = "github.com/vango-dev/resume/pkg/qrl"

// Observer receives one call per completed module load.
type Observer interface {
	SymbolLoaded(modulePath, exportName string, d time.Duration, err error)
}

// Resolver turns symbols into callables, memoizing per (module path, export
// name). It is safe for concurrent use.
type Resolver struct {
	loader   ModuleLoader
	cache    sync.Map // exportKey -> Callable
	group    singleflight.Group
	logger   *slog.Logger
	observer Observer
	tracer   trace.Tracer
}

// exportKey identifies one export of one module. Module paths and export
// names may contain any character, so the two are kept apart.
type exportKey struct {
	path, name string
}

func keyOf(s *Symbol) exportKey { return exportKey{path: s.modulePath, name: s.exportName} }

// flight is the singleflight key: the path is length-prefixed so that no
// two exports share one.
func (k exportKey) flight() string {
	return strconv.Itoa(len(k.path)) + ":" + k.path + "#" + k.name
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithResolverLogger sets the logger used for load diagnostics.
func WithResolverLogger(logger *slog.Logger) ResolverOption {
	return func(r *Resolver) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithResolverObserver sets the load observer (metrics).
func WithResolverObserver(o Observer) ResolverOption {
	return func(r *Resolver) {
		r.observer = o
	}
}

// NewResolver creates a resolver backed by loader.
func NewResolver(loader ModuleLoader, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		loader: loader,
		logger: slog.Default().With("component", "qrl"),
		tracer: otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

var (
	defaultResolver     *Resolver
	defaultResolverOnce sync.Once
)

// Default returns the process-wide resolver over DefaultRegistry.
func Default() *Resolver {
	defaultResolverOnce.Do(func() {
		defaultResolver = NewResolver(DefaultRegistry)
	})
	return defaultResolver
}

// Cached returns the callable for s if it has already been loaded.
// It never blocks and never starts a load.
func (r *Resolver) Cached(s *Symbol) (Callable, bool) {
	v, ok := r.cache.Load(keyOf(s))
	if !ok {
		return nil, false
	}
	return v.(Callable), true
}

// Resolve returns the callable for s, loading it if necessary.
//
// Concurrent calls for the same export share a single load. If ctx is done
// before the load finishes, Resolve returns ctx.Err(); the load itself keeps
// running and its result is still cached for later callers.
func (r *Resolver) Resolve(ctx context.Context, s *Symbol) (Callable, error) {
	if fn, ok := r.Cached(s); ok {
		return fn, nil
	}

	key := keyOf(s)
	path, name := key.path, key.name
	ch := r.group.DoChan(key.flight(), func() (any, error) {
		if fn, ok := r.Cached(s); ok {
			return fn, nil
		}
		return r.load(context.WithoutCancel(ctx), path, name)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(Callable), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (r *Resolver) load(ctx context.Context, path, name string) (Callable, error) {
	ctx, span := r.tracer.Start(ctx, "qrl.load", trace.WithAttributes(
		attribute.String("qrl.module", path),
		attribute.String("qrl.export", name),
	))
	defer span.End()

	start := time.Now()
	fn, err := r.loader.LoadExport(ctx, path, name)
	if err == nil && fn == nil {
		err = ErrExportNotFound
	}
	elapsed := time.Since(start)

	if r.observer != nil {
		r.observer.SymbolLoaded(path, name, elapsed, err)
	}

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.logger.Warn("symbol load failed",
			"module", path,
			"export", name,
			"error", err)
		return nil, &SymbolResolutionError{ModulePath: path, ExportName: name, Err: err}
	}

	r.cache.Store(exportKey{path: path, name: name}, fn)
	r.logger.Debug("symbol loaded",
		"module", path,
		"export", name,
		"duration", elapsed)
	return fn, nil
}

// Forget drops the memoized callable for s so the next Resolve reloads it.
func (r *Resolver) Forget(s *Symbol) {
	r.cache.Delete(keyOf(s))
}
