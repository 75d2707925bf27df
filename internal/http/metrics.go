package http

import (
	"net/http"
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"zenify/internal/flood"
	"zenify/pkg/streamlink"
)

const (
	outcomeResolved  = "resolved"
	outcomeExhausted = "exhausted"
	kindOK           = "ok"
	sourceNone       = "none"
)

// Metrics holds the Prometheus collectors of the service on a dedicated registry.
type Metrics struct {
	registry *prometheus.Registry

	ResolutionsTotal   *prometheus.CounterVec
	AttemptsTotal      *prometheus.CounterVec
	ResolutionDuration prometheus.Histogram
	SweptTotal         prometheus.Counter
	RequestsTotal      *prometheus.CounterVec

	// Flood gate collectors, set by WatchFloodgate.
	FloodTracked  prometheus.GaugeFunc
	FloodLimited  prometheus.GaugeFunc
	FloodRejected prometheus.CounterFunc
	floodOnce     sync.Once
}

// NewMetrics creates the collectors and registers them with a fresh registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		ResolutionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "zenify_resolutions_total",
				Help: "Total number of stream resolutions",
			},
			[]string{"outcome", "source"},
		),
		AttemptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "zenify_strategy_attempts_total",
				Help: "Total number of strategy attempts by failure kind",
			},
			[]string{"strategy", "kind"},
		),
		ResolutionDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "zenify_resolution_duration_seconds",
				Help:    "Time spent resolving a stream",
				Buckets: []float64{0.01, 0.05, 0.25, 1, 2.5, 5, 10, 30, 60, 120},
			},
		),
		SweptTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "zenify_cache_sweeps_removed_total",
				Help: "Total number of cache entries removed by sweeps",
			},
		),
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "zenify_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"route", "status"},
		),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.ResolutionsTotal,
		m.AttemptsTotal,
		m.ResolutionDuration,
		m.SweptTotal,
		m.RequestsTotal,
	)

	return m
}

// Registry returns the registry the collectors live in.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveAttempt implements streamlink.Observer.
func (m *Metrics) ObserveAttempt(strategy string, kind streamlink.Kind) {
	label := string(kind)
	if label == "" {
		label = kindOK
	}
	m.AttemptsTotal.WithLabelValues(strategy, label).Inc()
}

// ObserveResolution implements streamlink.Observer.
func (m *Metrics) ObserveResolution(res *streamlink.Resolution) {
	outcome, source := outcomeResolved, res.Source
	if !res.OK() {
		outcome, source = outcomeExhausted, sourceNone
	}
	m.ResolutionsTotal.WithLabelValues(outcome, source).Inc()
	m.ResolutionDuration.Observe(res.Duration.Seconds())
}

// ObserveSweep implements streamlink.Observer.
func (m *Metrics) ObserveSweep(removed int) {
	if removed > 0 {
		m.SweptTotal.Add(float64(removed))
	}
}

// WatchFloodgate exports the counters of gate. Only the first call registers anything.
func (m *Metrics) WatchFloodgate(gate *flood.Floodgate) {
	m.floodOnce.Do(func() {
		m.FloodTracked = prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Name: "zenify_flood_tracked_clients",
				Help: "Client and route pairs the flood gate keeps a history for",
			},
			func() float64 { return float64(gate.Snapshot().TrackedClients) },
		)
		m.FloodLimited = prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Name: "zenify_flood_limited_clients",
				Help: "Client and route pairs currently at their request limit",
			},
			func() float64 { return float64(gate.Snapshot().LimitedClients) },
		)
		m.FloodRejected = prometheus.NewCounterFunc(
			prometheus.CounterOpts{
				Name: "zenify_flood_rejected_total",
				Help: "Total number of requests rejected by the flood gate",
			},
			func() float64 { return float64(gate.Snapshot().Rejected) },
		)
		m.registry.MustRegister(m.FloodTracked, m.FloodLimited, m.FloodRejected)
	})
}

// RecordRequest counts one served request.
func (m *Metrics) RecordRequest(route string, status int) {
	m.RequestsTotal.WithLabelValues(route, strconv.Itoa(status)).Inc()
}

var _ streamlink.Observer = (*Metrics)(nil)
