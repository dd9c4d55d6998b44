// Package metrics holds the Prometheus collectors for ytdash.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	Registry *prometheus.Registry

	QuotaUnits      *prometheus.CounterVec
	GatewayCalls    *prometheus.CounterVec
	RefreshDecision *prometheus.CounterVec
	CachedVideos    prometheus.Gauge
	FetchDuration   prometheus.Histogram
}

// New creates and registers all collectors on a private registry.
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		QuotaUnits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ytdash_quota_units_total",
				Help: "Estimated YouTube Data API quota units spent, by endpoint.",
			},
			[]string{"endpoint"},
		),
		GatewayCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ytdash_gateway_calls_total",
				Help: "Upstream API calls, by endpoint and outcome.",
			},
			[]string{"endpoint", "outcome"},
		),
		RefreshDecision: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ytdash_refresh_decisions_total",
				Help: "Refresh controller decisions, by path and decision.",
			},
			[]string{"path", "decision"},
		),
		CachedVideos: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "ytdash_cached_videos",
				Help: "Number of videos currently held in the cache.",
			},
		),
		FetchDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "ytdash_fetch_duration_seconds",
				Help:    "Duration of full video refreshes.",
				Buckets: prometheus.DefBuckets,
			},
		),
	}

	m.Registry.MustRegister(
		m.QuotaUnits,
		m.GatewayCalls,
		m.RefreshDecision,
		m.CachedVideos,
		m.FetchDuration,
	)
	return m
}

// AddQuota records units spent on endpoint.
func (m *Metrics) AddQuota(endpoint string, units int) {
	if m == nil {
		return
	}
	m.QuotaUnits.WithLabelValues(endpoint).Add(float64(units))
}

// Call records one upstream call outcome ("ok" or "error").
func (m *Metrics) Call(endpoint, outcome string) {
	if m == nil {
		return
	}
	m.GatewayCalls.WithLabelValues(endpoint, outcome).Inc()
}

// Decision records a refresh controller decision.
func (m *Metrics) Decision(path, decision string) {
	if m == nil {
		return
	}
	m.RefreshDecision.WithLabelValues(path, decision).Inc()
}

// SetCachedVideos updates the cached video gauge.
func (m *Metrics) SetCachedVideos(n int) {
	if m == nil {
		return
	}
	m.CachedVideos.Set(float64(n))
}

// ObserveFetch records the duration of a refresh in seconds.
func (m *Metrics) ObserveFetch(seconds float64) {
	if m == nil {
		return
	}
	m.FetchDuration.Observe(seconds)
}

// WriteTextfile dumps the registry in the node_exporter textfile format.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil || path == "" {
		return nil
	}
	return prometheus.WriteToTextfile(path, m.Registry)
}
