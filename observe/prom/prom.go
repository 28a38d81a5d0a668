// Package prom exports retry engine events as Prometheus metrics.
package prom

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/aponysus/opcall/observe"
)

// Observer is an observe.Observer that records calls, attempts and backoff
// waits.
type Observer struct {
	observe.BaseObserver

	calls       *prometheus.CounterVec
	attempts    *prometheus.CounterVec
	backoff     *prometheus.HistogramVec
	quotaDenied *prometheus.CounterVec
}

var _ observe.Observer = (*Observer)(nil)

// NewObserver creates the collectors and registers them on reg.
func NewObserver(reg prometheus.Registerer) (*Observer, error) {
	o := &Observer{
		calls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "opcall_client_calls_total",
				Help: "Total number of completed client calls",
			},
			[]string{"operation", "outcome"},
		),
		attempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "opcall_client_attempts_total",
				Help: "Total number of client attempts by retry verdict",
			},
			[]string{"operation", "verdict"},
		),
		backoff: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "opcall_client_backoff_seconds",
				Help:    "Wait scheduled before the next attempt",
				Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
			},
			[]string{"operation"},
		),
		quotaDenied: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "opcall_client_quota_denied_total",
				Help: "Total number of retries refused by the retry quota",
			},
			[]string{"operation"},
		),
	}

	for _, c := range []prometheus.Collector{o.calls, o.attempts, o.backoff, o.quotaDenied} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("prom: register collector: %w", err)
		}
	}
	return o, nil
}

func (o *Observer) OnAttempt(_ context.Context, name string, rec observe.AttemptRecord) {
	o.attempts.WithLabelValues(name, rec.Verdict.Kind.String()).Inc()
	if rec.QuotaDenied {
		o.quotaDenied.WithLabelValues(name).Inc()
	}
	if rec.Backoff > 0 {
		o.backoff.WithLabelValues(name).Observe(rec.Backoff.Seconds())
	}
}

func (o *Observer) OnSuccess(_ context.Context, name string, _ observe.Timeline) {
	o.calls.WithLabelValues(name, "success").Inc()
}

func (o *Observer) OnFailure(_ context.Context, name string, _ observe.Timeline) {
	o.calls.WithLabelValues(name, "failure").Inc()
}

// Calls returns the call counter for one operation and outcome.
func (o *Observer) Calls(name, outcome string) prometheus.Counter {
	return o.calls.WithLabelValues(name, outcome)
}

// Attempts returns the attempt counter for one operation and verdict kind.
func (o *Observer) Attempts(name, verdict string) prometheus.Counter {
	return o.attempts.WithLabelValues(name, verdict)
}
