// Package metrics holds the prometheus collectors for reconciliation passes
// and scheduled jobs. A nil *Metrics records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "natskeeper"

// Item outcomes.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
	ResultSkipped = "skipped"
)

type Metrics struct {
	items        *prometheus.CounterVec
	passDuration *prometheus.HistogramVec
	interrupted  *prometheus.CounterVec
	jobRuns      *prometheus.CounterVec
	jobsDeduped  *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		items: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconcile_items_total",
			Help:      "Pending records processed by reconciliation passes.",
		}, []string{"pass", "result"}),
		passDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "reconcile_pass_duration_seconds",
			Help:      "Wall time of reconciliation passes.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 14),
		}, []string{"pass"}),
		interrupted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconcile_pass_interrupted_total",
			Help:      "Reconciliation passes stopped early by their time budget.",
		}, []string{"pass"}),
		jobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scheduler_job_runs_total",
			Help:      "Scheduled job executions.",
		}, []string{"job", "result"}),
		jobsDeduped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scheduler_job_deduplicated_total",
			Help:      "Job triggers dropped because an instance with the same key was in flight.",
		}, []string{"job"}),
	}
	reg.MustRegister(m.items, m.passDuration, m.interrupted, m.jobRuns, m.jobsDeduped)
	return m
}

func (m *Metrics) RecordItem(pass, result string) {
	if m == nil {
		return
	}
	m.items.WithLabelValues(pass, result).Inc()
}

func (m *Metrics) RecordPass(pass string, d time.Duration, interrupted bool) {
	if m == nil {
		return
	}
	m.passDuration.WithLabelValues(pass).Observe(d.Seconds())
	if interrupted {
		m.interrupted.WithLabelValues(pass).Inc()
	}
}

func (m *Metrics) RecordJobRun(job string, err error) {
	if m == nil {
		return
	}
	result := ResultSuccess
	if err != nil {
		result = ResultFailure
	}
	m.jobRuns.WithLabelValues(job, result).Inc()
}

func (m *Metrics) RecordJobDeduplicated(job string) {
	if m == nil {
		return
	}
	m.jobsDeduped.WithLabelValues(job).Inc()
}
