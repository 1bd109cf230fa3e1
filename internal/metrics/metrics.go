// Package metrics holds the prometheus collectors. A nil *Metrics records
// nothing, so components can run without a registry in tests.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry    *prometheus.Registry
	operations  *prometheus.CounterVec
	catalog     *prometheus.CounterVec
	subscribers prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pokeroster",
			Name:      "roster_operations_total",
			Help:      "Roster store operations by kind and result.",
		}, []string{"op", "result"}),
		catalog: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pokeroster",
			Name:      "catalog_requests_total",
			Help:      "Catalog lookups by result (hit, miss, error).",
		}, []string{"result"}),
		subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "pokeroster",
			Name:      "feed_subscribers",
			Help:      "Live roster subscriptions currently attached.",
		}),
	}
	m.registry.MustRegister(m.operations, m.catalog, m.subscribers)
	return m
}

func (m *Metrics) Operation(op string, err error) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "error"
	}
	m.operations.WithLabelValues(op, result).Inc()
}

func (m *Metrics) CatalogRequest(result string) {
	if m == nil {
		return
	}
	m.catalog.WithLabelValues(result).Inc()
}

func (m *Metrics) SubscriberJoined() {
	if m != nil {
		m.subscribers.Inc()
	}
}

func (m *Metrics) SubscriberLeft() {
	if m != nil {
		m.subscribers.Dec()
	}
}

// Registry exposes the registry for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
