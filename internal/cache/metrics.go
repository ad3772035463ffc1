package cache

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// CacheMetrics holds Prometheus metrics for cache operations.
type CacheMetrics struct {
	hitsTotal          *prometheus.CounterVec
	missesTotal        *prometheus.CounterVec
	evictionsTotal     *prometheus.CounterVec
	invalidationsTotal *prometheus.CounterVec
	sizeGauge          *prometheus.GaugeVec
	operationDuration  *prometheus.HistogramVec
	errorsTotal        *prometheus.CounterVec
}

var (
	cacheMetricsInstance *CacheMetrics
	cacheMetricsOnce     sync.Once
)

// GetCacheMetrics returns the singleton cache metrics instance.
func GetCacheMetrics() *CacheMetrics {
	cacheMetricsOnce.Do(func() {
		cacheMetricsInstance = newCacheMetrics()
	})
	return cacheMetricsInstance
}

// MustRegister registers all cache metric collectors with the given
// Prometheus registry. promauto registers metrics with the default global
// registry, but the service serves /metrics from a custom registry; calling
// MustRegister bridges the two.
func (m *CacheMetrics) MustRegister(registry *prometheus.Registry) {
	registry.MustRegister(
		m.hitsTotal,
		m.missesTotal,
		m.evictionsTotal,
		m.invalidationsTotal,
		m.sizeGauge,
		m.operationDuration,
		m.errorsTotal,
	)
}

func newCacheMetrics() *CacheMetrics {
	return &CacheMetrics{
		hitsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "fableforge",
				Subsystem: "cache",
				Name:      "hits_total",
				Help:      "Total number of cache hits",
			},
			[]string{"backend"},
		),
		missesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "fableforge",
				Subsystem: "cache",
				Name:      "misses_total",
				Help:      "Total number of cache misses",
			},
			[]string{"backend"},
		),
		evictionsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "fableforge",
				Subsystem: "cache",
				Name:      "evictions_total",
				Help:      "Total number of cache evictions",
			},
			[]string{"backend"},
		),
		invalidationsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "fableforge",
				Subsystem: "cache",
				Name:      "invalidations_total",
				Help:      "Total number of entries removed by tag invalidation",
			},
			[]string{"backend"},
		),
		sizeGauge: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "fableforge",
				Subsystem: "cache",
				Name:      "entries",
				Help:      "Current number of cache entries",
			},
			[]string{"backend"},
		),
		operationDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "fableforge",
				Subsystem: "cache",
				Name:      "operation_duration_seconds",
				Help:      "Cache operation duration in seconds",
				Buckets:   []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1},
			},
			[]string{"backend", "operation"},
		),
		errorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "fableforge",
				Subsystem: "cache",
				Name:      "errors_total",
				Help:      "Total number of cache operation errors",
			},
			[]string{"backend", "operation"},
		),
	}
}
