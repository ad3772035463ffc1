package orchestrator

import (
	"sync"
	"sync/atomic"
)

// familyStats holds running counters for one operation family.
type familyStats struct {
	totalRequests atomic.Int64
	cacheHits     atomic.Int64
	cacheMisses   atomic.Int64
	errors        atomic.Int64
	timeouts      atomic.Int64
	retries       atomic.Int64
}

// statsRegistry tracks counters partitioned per operation family.
type statsRegistry struct {
	mu       sync.RWMutex
	families map[string]*familyStats
}

func newStatsRegistry() *statsRegistry {
	return &statsRegistry{families: make(map[string]*familyStats)}
}

func (r *statsRegistry) family(name string) *familyStats {
	r.mu.RLock()
	fs, ok := r.families[name]
	r.mu.RUnlock()
	if ok {
		return fs
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if fs, ok = r.families[name]; ok {
		return fs
	}
	fs = &familyStats{}
	r.families[name] = fs
	return fs
}

// StatsSnapshot is the telemetry surface for one operation family.
type StatsSnapshot struct {
	HitRate       float64 `json:"hitRate"`
	TotalRequests int64   `json:"totalRequests"`
	CacheHits     int64   `json:"cacheHits"`
	CacheMisses   int64   `json:"cacheMisses"`
	Errors        int64   `json:"errors"`
	Timeouts      int64   `json:"timeouts"`
	Retries       int64   `json:"retries"`
}

func (fs *familyStats) snapshot() StatsSnapshot {
	hits := fs.cacheHits.Load()
	misses := fs.cacheMisses.Load()
	var hitRate float64
	if total := hits + misses; total > 0 {
		hitRate = float64(hits) / float64(total)
	}
	return StatsSnapshot{
		HitRate:       hitRate,
		TotalRequests: fs.totalRequests.Load(),
		CacheHits:     hits,
		CacheMisses:   misses,
		Errors:        fs.errors.Load(),
		Timeouts:      fs.timeouts.Load(),
		Retries:       fs.retries.Load(),
	}
}

// Stats returns the snapshot for one operation family.
func (o *Orchestrator) Stats(operation string) StatsSnapshot {
	return o.stats.family(operation).snapshot()
}

// AllStats returns snapshots for every operation family seen so far.
func (o *Orchestrator) AllStats() map[string]StatsSnapshot {
	o.stats.mu.RLock()
	defer o.stats.mu.RUnlock()

	out := make(map[string]StatsSnapshot, len(o.stats.families))
	for name, fs := range o.stats.families {
		out[name] = fs.snapshot()
	}
	return out
}
