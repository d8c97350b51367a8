package nwc

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors for wallet sessions.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	requests          *prometheus.CounterVec
	requestDuration   *prometheus.HistogramVec
	pending           prometheus.Gauge
	sessions          prometheus.Gauge
	reconnectAttempts prometheus.Counter
	connects          *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "nwc",
				Name:      "requests_total",
				Help:      "Wallet requests by method and outcome.",
			},
			[]string{"method", "outcome"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "nwc",
				Name:      "request_duration_seconds",
				Help:      "Time from publish to settled wallet request.",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10), // 10ms to ~5s
			},
			[]string{"method"},
		),
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "nwc",
			Name:      "pending_requests",
			Help:      "Requests waiting for a wallet response.",
		}),
		sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "nwc",
			Name:      "sessions",
			Help:      "Open wallet sessions.",
		}),
		reconnectAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "nwc",
			Name:      "reconnect_attempts_total",
			Help:      "Automatic relay reconnection attempts.",
		}),
		connects: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "nwc",
				Name:      "relay_connects_total",
				Help:      "Relay connection attempts by result.",
			},
			[]string{"result"},
		),
	}
	if reg != nil {
		reg.MustRegister(m.requests, m.requestDuration, m.pending, m.sessions, m.reconnectAttempts, m.connects)
	}
	return m
}

func (m *Metrics) observeRequest(method, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(method, outcome).Inc()
	m.requestDuration.WithLabelValues(method).Observe(elapsed.Seconds())
}

func (m *Metrics) pendingAdd(delta float64) {
	if m == nil {
		return
	}
	m.pending.Add(delta)
}

func (m *Metrics) sessionsAdd(delta float64) {
	if m == nil {
		return
	}
	m.sessions.Add(delta)
}

func (m *Metrics) reconnectAttempt() {
	if m == nil {
		return
	}
	m.reconnectAttempts.Inc()
}

func (m *Metrics) connect(err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.connects.WithLabelValues(result).Inc()
}
