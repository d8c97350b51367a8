package main

import (
	"net/http"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// serverMetrics holds the HTTP-side collectors; nwc registers its own
type serverMetrics struct {
	registry *prometheus.Registry

	httpRequestsTotal *prometheus.CounterVec
	httpErrorsTotal   prometheus.Counter
	httpDuration      *prometheus.HistogramVec
	cacheHitsTotal    prometheus.Counter
	cacheMissesTotal  prometheus.Counter
	buildInfo         *prometheus.GaugeVec
}

func newServerMetrics(registry *prometheus.Registry) *serverMetrics {
	m := &serverMetrics{
		registry: registry,
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "wallet",
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total number of HTTP requests handled.",
			},
			[]string{"method", "path", "status"},
		),
		httpErrorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "wallet",
			Subsystem: "http",
			Name:      "errors_total",
			Help:      "HTTP requests answered with a 5xx status.",
		}),
		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "wallet",
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "Duration of HTTP requests.",
				Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~10s
			},
			[]string{"method", "path"},
		),
		cacheHitsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "wallet",
			Subsystem: "cache",
			Name:      "hits_total",
			Help:      "Balance lookups served from cache.",
		}),
		cacheMissesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "wallet",
			Subsystem: "cache",
			Name:      "misses_total",
			Help:      "Balance lookups that went to the wallet.",
		}),
		buildInfo: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "wallet",
				Name:      "build_info",
				Help:      "Build and configuration information.",
			},
			[]string{"cache_backend", "go_version", "simulated"},
		),
	}
	registry.MustRegister(
		m.httpRequestsTotal,
		m.httpErrorsTotal,
		m.httpDuration,
		m.cacheHitsTotal,
		m.cacheMissesTotal,
		m.buildInfo,
	)
	return m
}

// setBuildInfo records the cache backend and simulation mode once at startup
func (m *serverMetrics) setBuildInfo(cacheBackend string, simulated bool) {
	m.buildInfo.WithLabelValues(cacheBackend, runtime.Version(), strconv.FormatBool(simulated)).Set(1)
}

func (m *serverMetrics) observeHTTP(method, path string, status int, elapsed time.Duration) {
	if status >= 500 {
		m.httpErrorsTotal.Inc()
	}
	path = canonicalPath(path)
	m.httpRequestsTotal.WithLabelValues(strings.ToUpper(method), path, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(strings.ToUpper(method), path).Observe(elapsed.Seconds())
}

// handler serves Prometheus exposition for everything in the registry
func (m *serverMetrics) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// canonicalPath keeps label cardinality bounded to known routes
func canonicalPath(raw string) string {
	switch raw {
	case "/wallet/balance", "/wallet/pay", "/wallet/test", "/wallet/transactions", "/wallet/disconnect", "/health", "/metrics":
		return raw
	default:
		return "other"
	}
}
