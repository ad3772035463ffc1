// Package cache provides the key/value store behind cached invocations,
// with TTL expiry and tag-based bulk invalidation.
package cache

import (
	"context"
	"errors"
	"time"

	"github.com/fableforge/fableforge/internal/config"
	"github.com/fableforge/fableforge/internal/observability"
)

// Common cache errors.
var (
	// ErrCacheMiss indicates that the key was not found in the cache.
	ErrCacheMiss = errors.New("cache miss")

	// ErrInvalidConfig indicates that the cache configuration is invalid.
	ErrInvalidConfig = errors.New("invalid cache configuration")
)

// TTLNever marks an entry that is never evicted by time. Only explicit
// deletion or tag invalidation removes it.
const TTLNever = time.Duration(-1)

// Store is the main interface for the cache.
type Store interface {
	// Get retrieves a value from the cache.
	// Returns ErrCacheMiss if the key is not found or expired; an expired
	// entry is purged on read.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value in the cache. A ttl of 0 uses the store default;
	// TTLNever disables time-based expiry. Tags associate the entry with
	// invalidation groups.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration, tags ...string) error

	// Delete removes a value from the cache.
	Delete(ctx context.Context, key string) error

	// InvalidateByTag removes every entry carrying the tag and returns the
	// number of entries removed.
	InvalidateByTag(ctx context.Context, tag string) (int, error)

	// Close closes the cache.
	Close() error
}

// StoreWithStats extends Store with statistics.
type StoreWithStats interface {
	Store

	// Stats returns cache statistics.
	Stats() Stats
}

// Stats contains cache statistics.
type Stats struct {
	// Hits is the number of cache hits.
	Hits int64

	// Misses is the number of cache misses.
	Misses int64

	// Size is the current number of entries in the cache.
	Size int64
}

// HitRate returns the cache hit rate as a percentage.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total) * 100
}

// New creates a new cache store based on the configuration.
func New(cfg *config.CacheConfig, logger observability.Logger) (Store, error) {
	if cfg == nil {
		return nil, ErrInvalidConfig
	}
	if logger == nil {
		logger = observability.NopLogger()
	}

	switch cfg.Type {
	case config.CacheTypeMemory, "":
		return newMemoryStore(cfg, logger), nil
	case config.CacheTypeRedis:
		return newRedisStore(cfg, logger)
	default:
		return nil, errors.New("unknown cache type: " + cfg.Type)
	}
}
