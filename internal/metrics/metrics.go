// internal/metrics/metrics.go
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Config configures the collectors.
type Config struct {
	// Namespace is the metrics namespace (default: "domcore").
	Namespace string

	// ConstLabels are constant labels added to all metrics.
	ConstLabels prometheus.Labels

	// Buckets are the histogram buckets for collection and dispatch durations.
	// Default: prometheus.DefBuckets
	Buckets []float64

	// Registry is the Prometheus registry to use.
	// Default: prometheus.DefaultRegisterer
	Registry prometheus.Registerer
}

// Option configures the collectors.
type Option func(*Config)

// WithNamespace sets the metrics namespace.
func WithNamespace(namespace string) Option {
	return func(c *Config) {
		c.Namespace = namespace
	}
}

// WithConstLabels sets constant labels for all metrics.
func WithConstLabels(labels prometheus.Labels) Option {
	return func(c *Config) {
		c.ConstLabels = labels
	}
}

// WithBuckets sets the histogram buckets.
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
		Namespace: "domcore",
		Buckets:   prometheus.DefBuckets,
		Registry:  prometheus.DefaultRegisterer,
	}
}

// Metrics holds the collectors for the arena, the tree engine and the event
// dispatcher. A nil *Metrics is valid and records nothing.
type Metrics struct {
	liveSlots      prometheus.Gauge
	freeSlots      prometheus.Gauge
	allocations    *prometheus.CounterVec
	gcRuns         prometheus.Counter
	gcCollected    prometheus.Counter
	gcDuration     prometheus.Histogram
	compactions    prometheus.Counter
	mutations      *prometheus.CounterVec
	dispatches     *prometheus.CounterVec
	dispatchTime   *prometheus.HistogramVec
	listenerCalls  prometheus.Counter
	listenerErrors *prometheus.CounterVec
}

// New registers the collectors with the configured registry.
func New(opts ...Option) *Metrics {
	config := defaultConfig()
	for _, opt := range opts {
		opt(&config)
	}
	factory := promauto.With(config.Registry)
	ns := config.Namespace
	labels := config.ConstLabels

	return &Metrics{
		liveSlots: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: ns, Subsystem: "arena", Name: "live_slots",
			Help: "Number of live node slots", ConstLabels: labels,
		}),
		freeSlots: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: ns, Subsystem: "arena", Name: "free_slots",
			Help: "Number of free node slots awaiting reuse", ConstLabels: labels,
		}),
		allocations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "arena", Name: "allocations_total",
			Help: "Node allocations by result", ConstLabels: labels,
		}, []string{"result"}),
		gcRuns: factory.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "gc", Name: "runs_total",
			Help: "Completed collection passes", ConstLabels: labels,
		}),
		gcCollected: factory.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "gc", Name: "collected_total",
			Help: "Nodes reclaimed by collection", ConstLabels: labels,
		}),
		gcDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: ns, Subsystem: "gc", Name: "duration_seconds",
			Help: "Collection pass duration in seconds", ConstLabels: labels,
			Buckets: config.Buckets,
		}),
		compactions: factory.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "arena", Name: "compactions_total",
			Help: "Free-list compactions", ConstLabels: labels,
		}),
		mutations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "tree", Name: "mutations_total",
			Help: "Tree mutations by operation and result", ConstLabels: labels,
		}, []string{"op", "result"}),
		dispatches: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "events", Name: "dispatches_total",
			Help: "Event dispatches by result", ConstLabels: labels,
		}, []string{"result"}),
		dispatchTime: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns, Subsystem: "events", Name: "dispatch_duration_seconds",
			Help: "Event dispatch duration in seconds", ConstLabels: labels,
			Buckets: config.Buckets,
		}, []string{"result"}),
		listenerCalls: factory.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "events", Name: "listener_invocations_total",
			Help: "Listener invocations", ConstLabels: labels,
		}),
		listenerErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "events", Name: "listener_errors_total",
			Help: "Listener failures by kind", ConstLabels: labels,
		}, []string{"kind"}),
	}
}

// SetSlots records the arena occupancy.
func (m *Metrics) SetSlots(live, free int) {
	if m == nil {
		return
	}
	m.liveSlots.Set(float64(live))
	m.freeSlots.Set(float64(free))
}

// Allocation counts an allocation attempt.
func (m *Metrics) Allocation(ok bool) {
	if m == nil {
		return
	}
	m.allocations.WithLabelValues(result(ok)).Inc()
}

// Collection records a completed collection pass.
func (m *Metrics) Collection(collected int, d time.Duration) {
	if m == nil {
		return
	}
	m.gcRuns.Inc()
	m.gcCollected.Add(float64(collected))
	m.gcDuration.Observe(d.Seconds())
}

// Compaction counts a compaction.
func (m *Metrics) Compaction() {
	if m == nil {
		return
	}
	m.compactions.Inc()
}

// Mutation counts a tree operation.
func (m *Metrics) Mutation(op string, err error) {
	if m == nil {
		return
	}
	m.mutations.WithLabelValues(op, result(err == nil)).Inc()
}

// Dispatch records a finished event dispatch.
func (m *Metrics) Dispatch(err error, d time.Duration) {
	if m == nil {
		return
	}
	r := result(err == nil)
	m.dispatches.WithLabelValues(r).Inc()
	m.dispatchTime.WithLabelValues(r).Observe(d.Seconds())
}

// ListenerInvoked counts a listener call.
func (m *Metrics) ListenerInvoked() {
	if m == nil {
		return
	}
	m.listenerCalls.Inc()
}

// ListenerFailed counts a listener failure; kind is "error" or "panic".
func (m *Metrics) ListenerFailed(kind string) {
	if m == nil {
		return
	}
	m.listenerErrors.WithLabelValues(kind).Inc()
}

func result(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}
