package observability

import (
	"context"
	"net/http"
	"sync"

	"github.com/aretw0/tether/pkg/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the engine collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	SessionsOpened prometheus.Counter
	SessionsClosed *prometheus.CounterVec
	SessionsActive prometheus.Gauge
	Batches        *prometheus.CounterVec
	PatchesSent    prometheus.Counter
	InboundPatches *prometheus.CounterVec
	CallbackErrors *prometheus.CounterVec
	TickDuration   prometheus.Histogram
	TickCallbacks  prometheus.Counter

	mu   sync.Mutex
	open map[string]struct{}
}

// MetricsOption configures Metrics.
type MetricsOption func(*metricsConfig)

type metricsConfig struct {
	namespace string
	runtime   bool
}

// WithNamespace prefixes every metric name. Defaults to "tether".
func WithNamespace(ns string) MetricsOption {
	return func(c *metricsConfig) { c.namespace = ns }
}

// WithRuntimeMetrics also registers the Go runtime and process collectors.
func WithRuntimeMetrics() MetricsOption {
	return func(c *metricsConfig) { c.runtime = true }
}

// NewMetrics creates and registers the engine collectors.
func NewMetrics(opts ...MetricsOption) *Metrics {
	cfg := metricsConfig{namespace: "tether"}
	for _, opt := range opts {
		opt(&cfg)
	}
	ns := cfg.namespace
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		open:     make(map[string]struct{}),
		SessionsOpened: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Name: "sessions_opened_total",
			Help: "Sessions that completed the handshake.",
		}),
		SessionsClosed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Name: "sessions_closed_total",
			Help: "Closed sessions by reason.",
		}, []string{"reason"}),
		SessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns, Name: "sessions_active",
			Help: "Sessions currently active.",
		}),
		Batches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Name: "batches_sent_total",
			Help: "Outbound batches by result.",
		}, []string{"result"}),
		PatchesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Name: "messages_sent_total",
			Help: "Messages carried by successful batches.",
		}),
		InboundPatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Name: "inbound_patches_total",
			Help: "Browser patches by result.",
		}, []string{"result"}),
		CallbackErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Name: "callback_errors_total",
			Help: "Failed scheduled callbacks by name.",
		}, []string{"name"}),
		TickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: ns, Name: "tick_duration_seconds",
			Help:    "Time spent in one scheduler tick.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 8),
		}),
		TickCallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Name: "callbacks_total",
			Help: "Callbacks run by the scheduler.",
		}),
	}
	m.registry.MustRegister(
		m.SessionsOpened, m.SessionsClosed, m.SessionsActive,
		m.Batches, m.PatchesSent, m.InboundPatches,
		m.CallbackErrors, m.TickDuration, m.TickCallbacks,
	)
	if cfg.runtime {
		m.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}
	return m
}

// Registry returns the registry holding the collectors.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Hooks returns lifecycle hooks that record into m.
func (m *Metrics) Hooks() domain.LifecycleHooks {
	return domain.LifecycleHooks{
		OnSessionOpen: func(_ context.Context, e *domain.SessionEvent) {
			m.mu.Lock()
			m.open[e.SessionID] = struct{}{}
			m.mu.Unlock()
			m.SessionsOpened.Inc()
			m.SessionsActive.Inc()
		},
		OnSessionClose: func(_ context.Context, e *domain.SessionEvent) {
			m.SessionsClosed.WithLabelValues(e.Reason).Inc()
			m.mu.Lock()
			_, wasOpen := m.open[e.SessionID]
			delete(m.open, e.SessionID)
			m.mu.Unlock()
			if wasOpen {
				m.SessionsActive.Dec()
			}
		},
		OnBatchSent: func(_ context.Context, e *domain.BatchEvent) {
			if e.Err != nil {
				m.Batches.WithLabelValues("error").Inc()
				return
			}
			m.Batches.WithLabelValues("ok").Inc()
			m.PatchesSent.Add(float64(e.Patches))
		},
		OnInboundPatch: func(_ context.Context, e *domain.PatchEvent) {
			if e.Err != nil {
				m.InboundPatches.WithLabelValues("rejected").Inc()
				return
			}
			m.InboundPatches.WithLabelValues("applied").Inc()
		},
		OnCallbackError: func(_ context.Context, e *domain.CallbackEvent) {
			m.CallbackErrors.WithLabelValues(e.Name).Inc()
		},
		OnTick: func(_ context.Context, e *domain.TickEvent) {
			m.TickDuration.Observe(e.Duration.Seconds())
			m.TickCallbacks.Add(float64(e.Callbacks))
		},
	}
}
