package instrument

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics records server calls in Prometheus. A nil *Metrics records nothing.
type Metrics struct {
	requests       *prometheus.CounterVec
	latency        *prometheus.HistogramVec
	formatFailures *prometheus.CounterVec
}

// NewMetrics registers the instrumentation collectors on reg. It panics if
// they are already registered, like promauto.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		requests: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "opcall_server_requests_total",
				Help: "Total number of server operation calls",
			},
			[]string{"operation", "status"},
		),
		latency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "opcall_server_request_duration_seconds",
				Help:    "Server operation latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		formatFailures: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "opcall_server_format_failures_total",
				Help: "Total number of request or response formatting failures",
			},
			[]string{"operation", "direction"},
		),
	}
}

func (m *Metrics) observe(operation, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(operation, status).Inc()
	m.latency.WithLabelValues(operation).Observe(d.Seconds())
}

func (m *Metrics) formatFailed(operation, direction string) {
	if m == nil {
		return
	}
	m.formatFailures.WithLabelValues(operation, direction).Inc()
}
