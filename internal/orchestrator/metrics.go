package orchestrator

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// OrchestratorMetrics holds Prometheus metrics for orchestrated invocations.
type OrchestratorMetrics struct {
	requestsTotal         *prometheus.CounterVec
	outcomesTotal         *prometheus.CounterVec
	cacheWriteErrorsTotal *prometheus.CounterVec
}

var (
	orchestratorMetricsInstance *OrchestratorMetrics
	orchestratorMetricsOnce     sync.Once
)

// GetOrchestratorMetrics returns the singleton orchestrator metrics
// instance.
func GetOrchestratorMetrics() *OrchestratorMetrics {
	orchestratorMetricsOnce.Do(func() {
		orchestratorMetricsInstance = newOrchestratorMetrics()
	})
	return orchestratorMetricsInstance
}

// MustRegister registers all orchestrator metric collectors with the given
// registry.
func (m *OrchestratorMetrics) MustRegister(registry *prometheus.Registry) {
	registry.MustRegister(
		m.requestsTotal,
		m.outcomesTotal,
		m.cacheWriteErrorsTotal,
	)
}

func newOrchestratorMetrics() *OrchestratorMetrics {
	return &OrchestratorMetrics{
		requestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "fableforge",
				Subsystem: "orchestrator",
				Name:      "requests_total",
				Help:      "Total number of orchestrated invocations",
			},
			[]string{"operation"},
		),
		outcomesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "fableforge",
				Subsystem: "orchestrator",
				Name:      "outcomes_total",
				Help:      "Invocation outcomes by status",
			},
			[]string{"operation", "status"},
		),
		cacheWriteErrorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "fableforge",
				Subsystem: "orchestrator",
				Name:      "cache_write_errors_total",
				Help:      "Cache writes that failed after a successful invocation",
			},
			[]string{"operation"},
		),
	}
}
