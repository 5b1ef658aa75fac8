// Package metrics exposes Prometheus counters and histograms for query
// volume, response codes, resolution latency, and zone reloads, all
// registered against a private registry rather than the global default so
// multiple in-process servers (as in tests) never collide.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds every collector this server publishes.
type Metrics struct {
	Registry *prometheus.Registry

	QueriesTotal   *prometheus.CounterVec
	ResponsesTotal *prometheus.CounterVec
	ResolveLatency *prometheus.HistogramVec
	ZoneReloads    *prometheus.CounterVec
	TruncatedTotal prometheus.Counter
}

// New creates a Metrics instance registered against a fresh, private
// registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		Registry: reg,
		QueriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dnsauthd_queries_total",
			Help: "Total DNS queries received, labeled by transport.",
		}, []string{"transport"}),
		ResponsesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dnsauthd_responses_total",
			Help: "Total DNS responses sent, labeled by rcode.",
		}, []string{"rcode"}),
		ResolveLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dnsauthd_resolve_duration_seconds",
			Help:    "Time spent resolving a query against the zone store.",
			Buckets: prometheus.DefBuckets,
		}, []string{"transport"}),
		ZoneReloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dnsauthd_zone_reloads_total",
			Help: "Zone reload attempts, labeled by outcome.",
		}, []string{"outcome"}),
		TruncatedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dnsauthd_truncated_responses_total",
			Help: "UDP responses sent with the TC bit set.",
		}),
	}

	reg.MustRegister(m.QueriesTotal, m.ResponsesTotal, m.ResolveLatency, m.ZoneReloads, m.TruncatedTotal)
	return m
}
