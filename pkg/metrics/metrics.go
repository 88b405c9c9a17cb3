package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	rerrors "github.com/vango-dev/resume/internal/errors"
	"github.com/vango-dev/resume/pkg/qrl"
	"github.com/vango-dev/resume/pkg/reactive"
	"github.com/vango-dev/resume/pkg/snapshot"
)

// Config configures the Prometheus collector.
type Config struct {
	// Namespace is the metrics namespace (default: "resume").
	Namespace string

	// Subsystem is the metrics subsystem (default: "").
	Subsystem string

	// ConstLabels are constant labels added to all metrics.
	ConstLabels prometheus.Labels

	// Buckets are the histogram buckets for durations.
	// Default: prometheus.DefBuckets
	Buckets []float64

	// Registry is the Prometheus registry to use.
	// Default: prometheus.DefaultRegisterer
	Registry prometheus.Registerer
}

// Option configures the collector.
type Option func(*Config)

// WithNamespace sets the metrics namespace.
func WithNamespace(namespace string) Option {
	return func(c *Config) {
		c.Namespace = namespace
	}
}

// WithSubsystem sets the metrics subsystem.
func WithSubsystem(subsystem string) Option {
	return func(c *Config) {
		c.Subsystem = subsystem
	}
}

// WithConstLabels sets constant labels for all metrics.
func WithConstLabels(labels prometheus.Labels) Option {
	return func(c *Config) {
		c.ConstLabels = labels
	}
}

// WithBuckets sets the duration histogram buckets.
func WithBuckets(buckets []float64) Option {
	return func(c *Config) {
		c.Buckets = buckets
	}
}

// WithRegistry sets the Prometheus registry.
func WithRegistry(registry prometheus.Registerer) Option {
	return func(c *Config) {
		c.Registry = registry
	}
}

func defaultConfig() Config {
	return Config{
		Namespace: "resume",
		Buckets:   prometheus.DefBuckets,
		Registry:  prometheus.DefaultRegisterer,
	}
}

// Collector records container, serialization, and symbol load metrics.
// It implements reactive.Observer, snapshot.Observer, and qrl.Observer.
//
// Metrics collected:
//   - resume_containers: Gauge of containers by state (active, serializing)
//   - resume_state_transitions_total: Counter of state transitions
//   - resume_flushes_total: Counter of flushes that ran subscribers
//   - resume_flush_runs: Histogram of subscriber runs per flush
//   - resume_flush_duration_seconds: Histogram of flush duration
//   - resume_subscriber_failures_total: Counter of failures by kind and code
//   - resume_serializations_total: Counter of serializations by status
//   - resume_serialize_duration_seconds: Histogram of serialization duration
//   - resume_snapshot_entries: Histogram of entries per snapshot
//   - resume_entries_resolved_total: Counter of decoded entries by tag and status
//   - resume_symbol_loads_total: Counter of module loads by status
//   - resume_symbol_load_duration_seconds: Histogram of module load duration
type Collector struct {
	containers         *prometheus.GaugeVec
	transitions        *prometheus.CounterVec
	flushes            prometheus.Counter
	flushRuns          prometheus.Histogram
	flushDuration      prometheus.Histogram
	subscriberFailures *prometheus.CounterVec
	serializations     *prometheus.CounterVec
	serializeDuration  prometheus.Histogram
	snapshotEntries    prometheus.Histogram
	resolved           *prometheus.CounterVec
	symbolLoads        *prometheus.CounterVec
	symbolLoadDuration prometheus.Histogram
}

var (
	_ reactive.Observer = (*Collector)(nil)
	_ snapshot.Observer = (*Collector)(nil)
	_ qrl.Observer      = (*Collector)(nil)
)

// New creates a collector and registers its metrics.
func New(opts ...Option) *Collector {
	config := defaultConfig()
	for _, opt := range opts {
		opt(&config)
	}
	factory := promauto.With(config.Registry)

	return &Collector{
		containers: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "containers",
			Help:        "Number of live containers by state",
			ConstLabels: config.ConstLabels,
		}, []string{"state"}),

		transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "state_transitions_total",
			Help:        "Total number of container state transitions",
			ConstLabels: config.ConstLabels,
		}, []string{"from", "to"}),

		flushes: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "flushes_total",
			Help:        "Total number of flushes that ran at least one subscriber",
			ConstLabels: config.ConstLabels,
		}),

		flushRuns: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "flush_runs",
			Help:        "Subscriber runs per flush",
			ConstLabels: config.ConstLabels,
			Buckets:     []float64{1, 2, 5, 10, 25, 50, 100, 250},
		}),

		flushDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "flush_duration_seconds",
			Help:        "Flush duration in seconds",
			ConstLabels: config.ConstLabels,
			Buckets:     config.Buckets,
		}),

		subscriberFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "subscriber_failures_total",
			Help:        "Total number of isolated subscriber failures",
			ConstLabels: config.ConstLabels,
		}, []string{"kind", "code"}),

		serializations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "serializations_total",
			Help:        "Total number of snapshot serializations",
			ConstLabels: config.ConstLabels,
		}, []string{"status", "code"}),

		serializeDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "serialize_duration_seconds",
			Help:        "Snapshot serialization duration in seconds",
			ConstLabels: config.ConstLabels,
			Buckets:     config.Buckets,
		}),

		snapshotEntries: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "snapshot_entries",
			Help:        "Entries per serialized snapshot",
			ConstLabels: config.ConstLabels,
			Buckets:     prometheus.ExponentialBuckets(8, 4, 8), // 8 to 131072
		}),

		resolved: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "entries_resolved_total",
			Help:        "Total number of snapshot entries materialized",
			ConstLabels: config.ConstLabels,
		}, []string{"tag", "status"}),

		symbolLoads: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "symbol_loads_total",
			Help:        "Total number of module export loads",
			ConstLabels: config.ConstLabels,
		}, []string{"status"}),

		symbolLoadDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "symbol_load_duration_seconds",
			Help:        "Module export load duration in seconds",
			ConstLabels: config.ConstLabels,
			Buckets:     config.Buckets,
		}),
	}
}

// StateChanged implements reactive.Observer.
func (c *Collector) StateChanged(_ string, from, to reactive.State) {
	c.transitions.WithLabelValues(from.String(), to.String()).Inc()
	if live(from) {
		c.containers.WithLabelValues(from.String()).Dec()
	}
	if live(to) {
		c.containers.WithLabelValues(to.String()).Inc()
	}
}

// live reports whether a state is counted by the containers gauge. Building
// containers never pass through the observer on creation.
func live(s reactive.State) bool {
	return s == reactive.StateActive || s == reactive.StateSerializing
}

// FlushCompleted implements reactive.Observer.
func (c *Collector) FlushCompleted(_ string, runs int, d time.Duration) {
	c.flushes.Inc()
	c.flushRuns.Observe(float64(runs))
	c.flushDuration.Observe(d.Seconds())
}

// SubscriberFailed implements reactive.Observer.
func (c *Collector) SubscriberFailed(_ string, kind reactive.Kind, err error) {
	c.subscriberFailures.WithLabelValues(kind.String(), errorCode(err)).Inc()
}

// Serialized implements snapshot.Observer.
func (c *Collector) Serialized(_ string, entries int, d time.Duration, err error) {
	c.serializeDuration.Observe(d.Seconds())
	if err != nil {
		c.serializations.WithLabelValues("error", errorCode(err)).Inc()
		return
	}
	c.serializations.WithLabelValues("success", "").Inc()
	c.snapshotEntries.Observe(float64(entries))
}

// Resolved implements snapshot.Observer.
func (c *Collector) Resolved(tag string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	c.resolved.WithLabelValues(tag, status).Inc()
}

// SymbolLoaded implements qrl.Observer.
func (c *Collector) SymbolLoaded(_, _ string, d time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	c.symbolLoads.WithLabelValues(status).Inc()
	c.symbolLoadDuration.Observe(d.Seconds())
}

// errorCode returns the diagnostic code for err, or "internal". Codes keep
// label cardinality bounded where raw messages would not.
func errorCode(err error) string {
	var d interface{ Diagnostic() *rerrors.Error }
	if errors.As(err, &d) {
		if e := d.Diagnostic(); e != nil && e.Code != "" {
			return e.Code
		}
	}
	var re *rerrors.Error
	if errors.As(err, &re) && re.Code != "" {
		return re.Code
	}
	return "internal"
}
