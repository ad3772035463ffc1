package retry

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// RetryMetrics holds Prometheus metrics for retry operations.
type RetryMetrics struct {
	attemptsTotal  *prometheus.CounterVec
	exhaustedTotal *prometheus.CounterVec
}

var (
	retryMetricsInstance *RetryMetrics
	retryMetricsOnce     sync.Once
)

// GetRetryMetrics returns the singleton retry metrics instance.
func GetRetryMetrics() *RetryMetrics {
	retryMetricsOnce.Do(func() {
		retryMetricsInstance = newRetryMetrics()
	})
	return retryMetricsInstance
}

// MustRegister registers all retry metric collectors with the given registry.
func (m *RetryMetrics) MustRegister(registry *prometheus.Registry) {
	registry.MustRegister(
		m.attemptsTotal,
		m.exhaustedTotal,
	)
}

func newRetryMetrics() *RetryMetrics {
	return &RetryMetrics{
		attemptsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "fableforge",
				Subsystem: "retry",
				Name:      "attempts_total",
				Help:      "Total number of failed attempts that consumed retry budget",
			},
			[]string{"operation"},
		),
		exhaustedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "fableforge",
				Subsystem: "retry",
				Name:      "exhausted_total",
				Help:      "Total number of invocations that spent their retry budget",
			},
			[]string{"operation"},
		),
	}
}
