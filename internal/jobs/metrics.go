package jobs

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// JobsMetrics holds Prometheus metrics for background jobs.
type JobsMetrics struct {
	SubmittedTotal *prometheus.CounterVec
	FinishedTotal  *prometheus.CounterVec
}

var (
	jobsMetricsInstance *JobsMetrics
	jobsMetricsOnce     sync.Once
)

// GetJobsMetrics returns the singleton jobs metrics instance.
func GetJobsMetrics() *JobsMetrics {
	jobsMetricsOnce.Do(func() {
		jobsMetricsInstance = newJobsMetrics()
	})
	return jobsMetricsInstance
}

// MustRegister registers all jobs metric collectors with the given
// Prometheus registry.
func (m *JobsMetrics) MustRegister(registry *prometheus.Registry) {
	registry.MustRegister(
		m.SubmittedTotal,
		m.FinishedTotal,
	)
}

func newJobsMetrics() *JobsMetrics {
	return &JobsMetrics{
		SubmittedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "fableforge",
				Subsystem: "jobs",
				Name:      "submitted_total",
				Help:      "Total number of background jobs submitted",
			},
			[]string{"operation"},
		),
		FinishedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "fableforge",
				Subsystem: "jobs",
				Name:      "finished_total",
				Help:      "Total number of background jobs finished",
			},
			[]string{"operation", "status"},
		),
	}
}
