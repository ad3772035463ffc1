package provider

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ProviderMetrics holds Prometheus metrics for provider invocations.
type ProviderMetrics struct {
	invocationsTotal   *prometheus.CounterVec
	invocationDuration *prometheus.HistogramVec
	failoverSkipsTotal *prometheus.CounterVec
	breakerTransitions *prometheus.CounterVec
	healthGauge        *prometheus.GaugeVec
}

var (
	providerMetricsInstance *ProviderMetrics
	providerMetricsOnce     sync.Once
)

// GetProviderMetrics returns the singleton provider metrics instance.
func GetProviderMetrics() *ProviderMetrics {
	providerMetricsOnce.Do(func() {
		providerMetricsInstance = newProviderMetrics()
	})
	return providerMetricsInstance
}

// MustRegister registers all provider metric collectors with the given
// registry.
func (m *ProviderMetrics) MustRegister(registry *prometheus.Registry) {
	registry.MustRegister(
		m.invocationsTotal,
		m.invocationDuration,
		m.failoverSkipsTotal,
		m.breakerTransitions,
		m.healthGauge,
	)
}

func newProviderMetrics() *ProviderMetrics {
	return &ProviderMetrics{
		invocationsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "fableforge",
				Subsystem: "provider",
				Name:      "invocations_total",
				Help:      "Total number of provider invocations",
			},
			[]string{"provider", "capability", "outcome"},
		),
		invocationDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "fableforge",
				Subsystem: "provider",
				Name:      "invocation_duration_seconds",
				Help:      "Provider invocation duration in seconds",
				Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"provider", "capability"},
		),
		failoverSkipsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "fableforge",
				Subsystem: "provider",
				Name:      "failover_skips_total",
				Help:      "Providers skipped during failover because they were unusable",
			},
			[]string{"provider", "capability"},
		),
		breakerTransitions: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "fableforge",
				Subsystem: "provider",
				Name:      "breaker_transitions_total",
				Help:      "Circuit breaker state transitions",
			},
			[]string{"provider", "from", "to"},
		),
		healthGauge: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "fableforge",
				Subsystem: "provider",
				Name:      "healthy",
				Help:      "Last health probe result per provider (1 healthy, 0 unhealthy)",
			},
			[]string{"provider"},
		),
	}
}
