// Package metrics exposes run counters over a Prometheus registry. The
// /metrics listener is optional; with no address configured the counters
// still accumulate and cost nothing.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles the run-level counters. One instance per process.
type Metrics struct {
	registry *prometheus.Registry

	TasksTotal      *prometheus.CounterVec
	AttemptsTotal   *prometheus.CounterVec
	RecordsTotal    prometheus.Counter
	AttemptDuration prometheus.Histogram
	SessionsStarted prometheus.Counter
}

// New returns a Metrics with its own registry, so tests can create as many
// instances as they need without collisions.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		TasksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "harvest_tasks_total",
			Help: "Tasks finished, by terminal outcome.",
		}, []string{"outcome"}),
		AttemptsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "harvest_attempts_total",
			Help: "Individual attempts, by result.",
		}, []string{"result"}),
		RecordsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "harvest_records_total",
			Help: "Records successfully extracted.",
		}),
		AttemptDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "harvest_attempt_duration_seconds",
			Help:    "Wall time of one navigate+extract attempt.",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
		}),
		SessionsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "harvest_sessions_started_total",
			Help: "Browser sessions launched.",
		}),
	}
	reg.MustRegister(m.TasksTotal, m.AttemptsTotal, m.RecordsTotal, m.AttemptDuration, m.SessionsStarted)
	return m
}

// Handler serves the registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
