// Package metrics exposes Prometheus metrics for the gateway.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the gateway's instruments on a private registry.
type Metrics struct {
	reg *prometheus.Registry

	// UpstreamRequests counts calls to the indices service by
	// operation and outcome.
	UpstreamRequests *prometheus.CounterVec

	// UpstreamDuration observes indices service call latency.
	UpstreamDuration *prometheus.HistogramVec

	// StaleAvailabilityDrops counts availability responses discarded
	// because a later-issued request superseded them.
	StaleAvailabilityDrops prometheus.Counter

	// AvailabilityCache counts cache lookups by result.
	AvailabilityCache *prometheus.CounterVec

	// FetchConflicts counts render fetches rejected because one was
	// already in flight.
	FetchConflicts prometheus.Counter

	// DroppedGeometries counts upstream features dropped for carrying
	// an unsupported geometry kind.
	DroppedGeometries prometheus.Counter

	// ActiveSessions tracks live workflow sessions.
	ActiveSessions prometheus.Gauge
}

// New creates a registry with the standard Go and process collectors
// plus the gateway instruments.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		reg: reg,
		UpstreamRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_upstream_requests_total",
				Help: "Requests to the indices service by operation and outcome.",
			},
			[]string{"op", "outcome"},
		),
		UpstreamDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gateway_upstream_request_duration_seconds",
				Help:    "Latency of indices service requests.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"op"},
		),
		StaleAvailabilityDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gateway_stale_availability_responses_total",
			Help: "Availability responses discarded because a newer request superseded them.",
		}),
		AvailabilityCache: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_availability_cache_lookups_total",
				Help: "Availability cache lookups by result.",
			},
			[]string{"result"},
		),
		FetchConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gateway_fetch_conflicts_total",
			Help: "Render fetches rejected while another was in flight.",
		}),
		DroppedGeometries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gateway_dropped_geometries_total",
			Help: "Upstream features dropped for unsupported geometry kinds.",
		}),
		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gateway_active_sessions",
			Help: "Live workflow sessions.",
		}),
	}

	reg.MustRegister(
		m.UpstreamRequests,
		m.UpstreamDuration,
		m.StaleAvailabilityDrops,
		m.AvailabilityCache,
		m.FetchConflicts,
		m.DroppedGeometries,
		m.ActiveSessions,
	)

	return m
}

// ObserveUpstream records one indices service call.
func (m *Metrics) ObserveUpstream(op string, ok bool, d time.Duration) {
	outcome := "success"
	if !ok {
		outcome = "error"
	}
	m.UpstreamRequests.WithLabelValues(op, outcome).Inc()
	m.UpstreamDuration.WithLabelValues(op).Observe(d.Seconds())
}

// Handler serves the registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// Registerer exposes the underlying registry for additional collectors.
func (m *Metrics) Registerer() prometheus.Registerer {
	return m.reg
}
