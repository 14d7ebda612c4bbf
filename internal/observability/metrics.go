package observability

import (
	"net/http"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registry *prometheus.Registry

	// HTTP adapter request rate. Watch for: sudden drops (adapter down) or spikes.
	HTTPRequestsTotal *prometheus.CounterVec

	// HTTP adapter latency. POST /queries includes the whole fallback run.
	HTTPRequestDuration *prometheus.HistogramVec

	// Concurrent adapter requests in flight.
	HTTPRequestsInFlight prometheus.Gauge

	// Adapter requests shed by the token bucket before reaching the orchestrator.
	RateLimitDeniedTotal prometheus.Counter

	// Weather API call rate by status. Watch for: error vs success ratio.
	WeatherAPICallsTotal *prometheus.CounterVec

	// Weather API latency per call. p99 near the 10s budget means timeouts are imminent.
	WeatherAPIDuration *prometheus.HistogramVec

	// Fallback attempts by tier and outcome. A high city/province share means
	// district queries are mostly unsupported upstream.
	CandidateAttemptsTotal *prometheus.CounterVec

	// Completed queries by outcome (succeeded, failed, cancelled, cached).
	QueriesTotal *prometheus.CounterVec

	// End-to-end duration of network-backed queries by outcome.
	QueryDurationSeconds *prometheus.HistogramVec

	// Start calls rejected synchronously (rate_limited, busy, validation).
	QueryRejectionsTotal *prometheus.CounterVec

	// ResultCache hits.
	CacheHitsTotal prometheus.Counter

	// Entries held by ResultCache, expired ones included.
	CacheEntries prometheus.Gauge

	// Per-province query count (allow-list; others go to "other").
	QueriesByProvinceTotal *prometheus.CounterVec

	// trackedProvinces is built from config; used to resolve the province label.
	trackedProvincesMu sync.RWMutex
	trackedProvinces   map[string]struct{}
)

func init() {
	registry = prometheus.NewRegistry()

	registry.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "httpRequestsTotal",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "statusCode"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "httpRequestDurationSeconds",
			Help:    "HTTP request latency in seconds (per request)",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
	HTTPRequestsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "httpRequestsInFlight",
			Help: "Number of HTTP requests currently being served",
		},
	)
	RateLimitDeniedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rateLimitDeniedTotal",
			Help: "HTTP requests rejected by the adapter rate limiter",
		},
	)
	WeatherAPICallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "weatherApiCallsTotal",
			Help: "Total number of weather API calls",
		},
		[]string{"status"},
	)
	WeatherAPIDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "weatherApiDurationSeconds",
			Help:    "Weather API latency in seconds (per call)",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"status"},
	)
	CandidateAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "candidateAttemptsTotal",
			Help: "Fallback candidate attempts by tier and outcome",
		},
		[]string{"tier", "outcome"},
	)
	QueriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queriesTotal",
			Help: "Completed weather queries by outcome",
		},
		[]string{"outcome"},
	)
	QueryDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "queryDurationSeconds",
			Help:    "Duration of network-backed weather queries in seconds",
			Buckets: []float64{.25, .5, 1, 2.5, 5, 10, 20, 30},
		},
		[]string{"outcome"},
	)
	QueryRejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queryRejectionsTotal",
			Help: "Query starts rejected before any network activity",
		},
		[]string{"reason"},
	)
	CacheHitsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cacheHitsTotal",
			Help: "Total number of result cache hits",
		},
	)
	CacheEntries = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "cacheEntries",
			Help: "Entries currently held by the result cache",
		},
	)
	QueriesByProvinceTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queriesByProvinceTotal",
			Help: "Weather queries by province (allow-list; others use province=other)",
		},
		[]string{"province"},
	)

	registry.MustRegister(
		HTTPRequestsTotal, HTTPRequestDuration, HTTPRequestsInFlight, RateLimitDeniedTotal,
		WeatherAPICallsTotal, WeatherAPIDuration,
		CandidateAttemptsTotal, QueriesTotal, QueryDurationSeconds, QueryRejectionsTotal,
		CacheHitsTotal, CacheEntries,
		QueriesByProvinceTotal,
	)
}

// SetTrackedProvinces sets the allow-list for province metrics. Other provinces increment "other".
func SetTrackedProvinces(provinces []string) {
	trackedProvincesMu.Lock()
	defer trackedProvincesMu.Unlock()
	trackedProvinces = make(map[string]struct{}, len(provinces))
	for _, p := range provinces {
		trackedProvinces[strings.TrimSpace(p)] = struct{}{}
	}
}

// RecordQuery records a query for the given province.
func RecordQuery(province string) {
	QueriesByProvinceTotal.WithLabelValues(ProvinceLabel(province)).Inc()
}

// ProvinceLabel returns province if it is on the allow-list, otherwise "other".
func ProvinceLabel(province string) string {
	p := strings.TrimSpace(province)
	trackedProvincesMu.RLock()
	_, ok := trackedProvinces[p] // nil map read is safe in Go
	trackedProvincesMu.RUnlock()
	if ok {
		return p
	}
	return "other"
}

// MetricsHandler returns an http.Handler that serves application and runtime metrics.
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
