// Package metrics holds the Prometheus collectors for the pipeline. A nil
// *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "docintel"

type Metrics struct {
	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	polls      *prometheus.CounterVec
	ungrounded prometheus.Counter
	requests   *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_operations_total",
			Help:      "Pipeline operations by stage and outcome.",
		}, []string{"stage", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pipeline_duration_seconds",
			Help:      "Duration of pipeline operations by stage.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 180, 600},
		}, []string{"stage"}),
		polls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_attempts_total",
			Help:      "Status checks made against external jobs.",
		}, []string{"job"}),
		ungrounded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ungrounded_answers_total",
			Help:      "Answers whose content overlap with the retrieved context fell below the threshold.",
		}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"}),
	}
	if reg != nil {
		reg.MustRegister(m.operations, m.duration, m.polls, m.ungrounded, m.requests)
	}
	return m
}

// Observe records one finished operation of stage.
func (m *Metrics) Observe(stage string, start time.Time, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.operations.WithLabelValues(stage, outcome).Inc()
	m.duration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}

func (m *Metrics) PollAttempts(job string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.polls.WithLabelValues(job).Add(float64(n))
}

func (m *Metrics) Ungrounded() {
	if m == nil {
		return
	}
	m.ungrounded.Inc()
}

func (m *Metrics) Request(method, route, status string) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(method, route, status).Inc()
}
