// Package metrics holds the Prometheus instruments for the selection service.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all instruments on its own registry so tests and multiple
// managers never collide on registration.
type Metrics struct {
	registry *prometheus.Registry

	ItemsServed        *prometheus.CounterVec
	QueueRebuilds      *prometheus.CounterVec
	TypeRotations      prometheus.Counter
	PersistenceErrors  *prometheus.CounterVec
	PersistLatency     prometheus.Histogram
	SessionsTracked    prometheus.Gauge
	EventsAppended     *prometheus.CounterVec
	CatalogItemsLoaded prometheus.Gauge
}

// New registers every instrument under namespace on a fresh registry.
func New(namespace string) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		ItemsServed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "items_served_total",
			Help:      "Items served by policy and normalized item type.",
		}, []string{"policy", "type"}),
		QueueRebuilds: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_rebuilds_total",
			Help:      "Queue rebuilds by scope.",
		}, []string{"scope"}),
		TypeRotations: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "type_rotations_total",
			Help:      "Simple-policy rotations to the next item type.",
		}),
		PersistenceErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persistence_errors_total",
			Help:      "Persistence failures by backend and operation.",
		}, []string{"backend", "op"}),
		PersistLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "persist_latency_ms",
			Help:      "Latency of selection state saves in milliseconds.",
			Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		}),
		SessionsTracked: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_tracked",
			Help:      "Sessions held in memory by the selection manager.",
		}),
		EventsAppended: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_appended_total",
			Help:      "Attempt events appended by action.",
		}, []string{"action"}),
		CatalogItemsLoaded: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "catalog_items",
			Help:      "Items in the currently loaded catalog.",
		}),
	}
}

// Registry exposes the underlying registry for tests and custom collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves this instance's registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// The helpers below are nil-safe so components can run without metrics.

func (m *Metrics) ObserveServe(policy, itemType string) {
	if m == nil {
		return
	}
	if itemType == "" {
		itemType = "none"
	}
	m.ItemsServed.WithLabelValues(policy, itemType).Inc()
}

func (m *Metrics) ObserveRebuild(scope string) {
	if m == nil {
		return
	}
	m.QueueRebuilds.WithLabelValues(scope).Inc()
}

func (m *Metrics) ObserveRotation() {
	if m == nil {
		return
	}
	m.TypeRotations.Inc()
}

func (m *Metrics) ObservePersistError(backend, op string) {
	if m == nil {
		return
	}
	m.PersistenceErrors.WithLabelValues(backend, op).Inc()
}

func (m *Metrics) ObservePersistLatency(d time.Duration) {
	if m == nil {
		return
	}
	m.PersistLatency.Observe(float64(d.Milliseconds()))
}

func (m *Metrics) SetSessions(n int) {
	if m == nil {
		return
	}
	m.SessionsTracked.Set(float64(n))
}

func (m *Metrics) ObserveEvent(action string) {
	if m == nil {
		return
	}
	m.EventsAppended.WithLabelValues(action).Inc()
}

func (m *Metrics) SetCatalogSize(n int) {
	if m == nil {
		return
	}
	m.CatalogItemsLoaded.Set(float64(n))
}
