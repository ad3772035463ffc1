package health

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fableforge/fableforge/internal/cache"
	"github.com/fableforge/fableforge/internal/provider"
)

const checkTimeout = 2 * time.Second

// RedisCheck returns a readiness check that pings redis.
func RedisCheck(client *redis.Client) CheckFunc {
	return func() Check {
		ctx, cancel := context.WithTimeout(context.Background(), checkTimeout)
		defer cancel()

		if err := client.Ping(ctx).Err(); err != nil {
			return Check{Status: StatusUnhealthy, Message: err.Error()}
		}
		return Check{Status: StatusHealthy}
	}
}

// CacheCheck returns a readiness check that round-trips a probe entry
// through the cache store.
func CacheCheck(store cache.Store) CheckFunc {
	const probeKey = "health:probe"

	return func() Check {
		ctx, cancel := context.WithTimeout(context.Background(), checkTimeout)
		defer cancel()

		if err := store.Set(ctx, probeKey, []byte("ok"), time.Minute); err != nil {
			return Check{Status: StatusUnhealthy, Message: fmt.Sprintf("cache write: %v", err)}
		}
		if _, err := store.Get(ctx, probeKey); err != nil {
			return Check{Status: StatusUnhealthy, Message: fmt.Sprintf("cache read: %v", err)}
		}
		return Check{Status: StatusHealthy}
	}
}

// ProviderPoolCheck returns a readiness check that verifies an active
// provider exists for the capability. A pool with no usable providers is
// degraded rather than unhealthy: cached results still serve.
func ProviderPoolCheck(registry *provider.Registry, capability provider.Capability) CheckFunc {
	return func() Check {
		ctx, cancel := context.WithTimeout(context.Background(), checkTimeout)
		defer cancel()

		p, err := registry.GetActive(ctx, capability)
		if err != nil {
			return Check{Status: StatusDegraded, Message: err.Error()}
		}
		return Check{Status: StatusHealthy, Message: p.Name()}
	}
}
