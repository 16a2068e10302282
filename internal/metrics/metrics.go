// Package metrics holds the Prometheus collectors for the bridge.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"hmibridge/internal/protocol"
)

// Config configures the collectors.
type Config struct {
	// Namespace is the metrics namespace (default: "hmibridge").
	Namespace string

	// ConstLabels are added to every metric, e.g. the agent id.
	ConstLabels prometheus.Labels

	// Registry defaults to prometheus.DefaultRegisterer.
	Registry prometheus.Registerer
}

type Option func(*Config)

func WithNamespace(namespace string) Option {
	return func(c *Config) { c.Namespace = namespace }
}

func WithConstLabels(labels prometheus.Labels) Option {
	return func(c *Config) { c.ConstLabels = labels }
}

func WithRegistry(registry prometheus.Registerer) Option {
	return func(c *Config) { c.Registry = registry }
}

// Bridge is the set of collectors one embodiment reports to. A nil
// *Bridge is valid and records nothing.
type Bridge struct {
	ticks          *prometheus.CounterVec
	errors         *prometheus.CounterVec
	received       *prometheus.CounterVec
	updatesQueued  prometheus.Counter
	updatesApplied prometheus.Counter
	objectsCreated prometheus.Counter
	queueDepth     prometheus.Gauge
	configured     prometheus.Gauge
	frameBytes     prometheus.Histogram
	renderers      prometheus.Gauge
}

func New(opts ...Option) *Bridge {
	cfg := Config{
		Namespace: "hmibridge",
		Registry:  prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	factory := promauto.With(cfg.Registry)
	counter := func(name, help string) prometheus.Counter {
		return factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace, Name: name, Help: help, ConstLabels: cfg.ConstLabels,
		})
	}
	gauge := func(name, help string) prometheus.Gauge {
		return factory.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace, Name: name, Help: help, ConstLabels: cfg.ConstLabels,
		})
	}
	return &Bridge{
		ticks: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Name:        "ticks_total",
			Help:        "Ticks by outcome (published, idle, failed)",
			ConstLabels: cfg.ConstLabels,
		}, []string{"result"}),
		errors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Name:        "errors_total",
			Help:        "Errors by stable code and stage",
			ConstLabels: cfg.ConstLabels,
		}, []string{"stage", "code"}),
		received: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Name:        "messages_received_total",
			Help:        "Inbound bus messages by kind",
			ConstLabels: cfg.ConstLabels,
		}, []string{"kind"}),
		updatesQueued:  counter("world_updates_queued_total", "World object updates accepted into the queue"),
		updatesApplied: counter("world_updates_applied_total", "World object updates applied to the registry"),
		objectsCreated: counter("world_objects_created_total", "World objects created by updates"),
		queueDepth:     gauge("update_queue_depth", "Pending world object updates"),
		configured:     gauge("configured", "1 once an agent spec has been applied"),
		renderers:      gauge("renderers_connected", "Connected renderer sessions"),
		frameBytes: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace:   cfg.Namespace,
			Name:        "state_frame_bytes",
			Help:        "Size of published AGENT_STATE frames",
			ConstLabels: cfg.ConstLabels,
			Buckets:     prometheus.ExponentialBuckets(64, 2, 10),
		}),
	}
}

func (m *Bridge) TickPublished(frameBytes int) {
	if m == nil {
		return
	}
	m.ticks.WithLabelValues("published").Inc()
	m.frameBytes.Observe(float64(frameBytes))
}

func (m *Bridge) TickIdle() {
	if m == nil {
		return
	}
	m.ticks.WithLabelValues("idle").Inc()
}

func (m *Bridge) TickFailed() {
	if m == nil {
		return
	}
	m.ticks.WithLabelValues("failed").Inc()
}

// Error counts one error. Codes outside the stable set are counted as
// E_INTERNAL to keep label cardinality bounded.
func (m *Bridge) Error(stage, code string) {
	if m == nil {
		return
	}
	if !protocol.IsKnownCode(code) {
		code = protocol.CodeInternal
	}
	m.errors.WithLabelValues(stage, code).Inc()
}

func (m *Bridge) Received(kind string) {
	if m == nil {
		return
	}
	m.received.WithLabelValues(kind).Inc()
}

func (m *Bridge) UpdateQueued(depth int) {
	if m == nil {
		return
	}
	m.updatesQueued.Inc()
	m.queueDepth.Set(float64(depth))
}

func (m *Bridge) UpdateApplied(created bool) {
	if m == nil {
		return
	}
	m.updatesApplied.Inc()
	if created {
		m.objectsCreated.Inc()
	}
}

func (m *Bridge) QueueDepth(depth int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(depth))
}

func (m *Bridge) Configured(on bool) {
	if m == nil {
		return
	}
	if on {
		m.configured.Set(1)
	} else {
		m.configured.Set(0)
	}
}

func (m *Bridge) RendererConnected() {
	if m == nil {
		return
	}
	m.renderers.Inc()
}

func (m *Bridge) RendererDisconnected() {
	if m == nil {
		return
	}
	m.renderers.Dec()
}
