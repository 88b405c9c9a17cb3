package snapshot

import (
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/vango-dev/resume/pkg/reactive"
)

var tracer = otel.Tracer("github.com/vango-dev/resume/pkg/snapshot")

// Observer receives serialization and decoding events.
// pkg/metrics provides a Prometheus implementation.
type Observer interface {
	// Serialized is called after every Serialize or Encode call.
	Serialized(anchor string, entries int, d time.Duration, err error)

	// Resolved is called for every entry materialized by a Graph.
	Resolved(tag string, err error)
}

// Option configures serialization and resumption.
type Option func(*options)

type options struct {
	registry      *Registry
	allowDeferred bool
	observer      Observer
	logger        *slog.Logger
	containerOpts []reactive.Option
}

func buildOptions(opts []Option) options {
	o := options{
		registry: DefaultRegistry,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	o.logger = o.logger.With("component", "snapshot")
	return o
}

// WithRegistry selects the codec registry.
func WithRegistry(r *Registry) Option {
	return func(o *options) {
		if r != nil {
			o.registry = r
		}
	}
}

// AllowDeferredPromises lets Serialize emit pending promises as deferred
// placeholders instead of failing.
func AllowDeferredPromises() Option {
	return func(o *options) {
		o.allowDeferred = true
	}
}

// WithObserver sets the serialization observer.
func WithObserver(obs Observer) Option {
	return func(o *options) {
		o.observer = obs
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithContainerOptions passes options to the container created by Resume.
func WithContainerOptions(opts ...reactive.Option) Option {
	return func(o *options) {
		o.containerOpts = append(o.containerOpts, opts...)
	}
}
