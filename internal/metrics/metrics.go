// Package metrics registers the Prometheus instrumentation for Pharos.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the service's Prometheus collectors.
type Metrics struct {
	registry *prometheus.Registry

	// Interactions counts ingested reactions by experiment variant and kind.
	Interactions *prometheus.CounterVec

	// RankRequests counts ranking calls by outcome
	// (ok, not_eligible, degraded, unavailable, error).
	RankRequests *prometheus.CounterVec

	// RankLatency observes end-to-end ranking duration in seconds.
	RankLatency prometheus.Histogram

	// ClusterRebuilds counts rebuild attempts by result.
	ClusterRebuilds *prometheus.CounterVec
}

// New creates and registers the service collectors on a fresh registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		registry: registry,
		Interactions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pharos_interactions_total",
			Help: "Ingested interactions by experiment variant and kind.",
		}, []string{"variant", "kind"}),
		RankRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pharos_rank_requests_total",
			Help: "Ranking requests by outcome.",
		}, []string{"outcome"}),
		RankLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "pharos_rank_duration_seconds",
			Help:    "End-to-end ranking request duration.",
			Buckets: prometheus.DefBuckets,
		}),
		ClusterRebuilds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pharos_cluster_rebuilds_total",
			Help: "Cluster rebuild attempts by result.",
		}, []string{"result"}),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.Interactions,
		m.RankRequests,
		m.RankLatency,
		m.ClusterRebuilds,
	)
	return m
}

// Handler serves the registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
