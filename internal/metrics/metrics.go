// Package metrics holds the Prometheus collectors for the job scheduler and
// the queue.
//
// Every method is safe on a nil *Metrics, so components can be built without
// a registry in tests.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "regenbot"

// Outcome labels for jobs_finished_total.
const (
	OutcomeDone     = "done"
	OutcomeFailed   = "failed"
	OutcomePanic    = "panic"
	OutcomeRequeued = "requeued"
)

type Metrics struct {
	claimed     prometheus.Counter
	finished    *prometheus.CounterVec
	duration    prometheus.Histogram
	inFlight    prometheus.Gauge
	claimErrors prometheus.Counter
	queueJobs   *prometheus.GaugeVec
	limit       prometheus.Gauge
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		claimed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_claimed_total",
			Help:      "Jobs claimed from the queue.",
		}),
		finished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_finished_total",
			Help:      "Jobs released, by outcome.",
		}, []string{"outcome"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Wall time of one regeneration job.",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "jobs_in_flight",
			Help:      "Jobs currently running.",
		}),
		claimErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_claim_errors_total",
			Help:      "Failed attempts to claim a job from the store.",
		}),
		queueJobs: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_jobs",
			Help:      "Jobs in the store, by status.",
		}, []string{"status"}),
		limit: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "scheduler_limit",
			Help:      "Configured concurrency ceiling.",
		}),
	}
	if reg == nil {
		return m, nil
	}
	for _, c := range []prometheus.Collector{m.claimed, m.finished, m.duration, m.inFlight, m.claimErrors, m.queueJobs, m.limit} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) JobClaimed() {
	if m == nil {
		return
	}
	m.claimed.Inc()
	m.inFlight.Inc()
}

func (m *Metrics) JobFinished(outcome string, took time.Duration) {
	if m == nil {
		return
	}
	m.inFlight.Dec()
	m.finished.WithLabelValues(outcome).Inc()
	m.duration.Observe(took.Seconds())
}

func (m *Metrics) ClaimError() {
	if m == nil {
		return
	}
	m.claimErrors.Inc()
}

func (m *Metrics) SetLimit(n int) {
	if m == nil {
		return
	}
	m.limit.Set(float64(n))
}

// SetQueueCounts replaces the queue_jobs gauge values. Statuses missing from
// counts are reported as zero.
func (m *Metrics) SetQueueCounts(counts map[string]int64, statuses ...string) {
	if m == nil {
		return
	}
	for _, st := range statuses {
		m.queueJobs.WithLabelValues(st).Set(float64(counts[st]))
	}
	for st, n := range counts {
		m.queueJobs.WithLabelValues(st).Set(float64(n))
	}
}
