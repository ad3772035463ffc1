package cache

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/fableforge/fableforge/internal/config"
	"github.com/fableforge/fableforge/internal/observability"
)

// tagKeyPrefix namespaces the per-tag membership sets.
const tagKeyPrefix = "tag:"

// redisStore implements a Redis-backed cache with tag indexing via sets.
type redisStore struct {
	logger     observability.Logger
	client     *redis.Client
	keyPrefix  string
	defaultTTL time.Duration

	hits   int64
	misses int64
}

func newRedisStore(cfg *config.CacheConfig, logger observability.Logger) (*redisStore, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, errors.New("invalid redis URL: " + err.Error())
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	logger.Info("redis cache initialized",
		observability.String("addr", opts.Addr),
		observability.Duration("defaultTTL", cfg.DefaultTTL.Duration()))

	return &redisStore{
		logger:     logger,
		client:     client,
		keyPrefix:  cfg.KeyPrefix,
		defaultTTL: cfg.DefaultTTL.Duration(),
	}, nil
}

func (s *redisStore) resolveKey(key string) string {
	return s.keyPrefix + key
}

func (s *redisStore) resolveTag(tag string) string {
	return s.keyPrefix + tagKeyPrefix + tag
}

// Get retrieves a value from the cache.
func (s *redisStore) Get(ctx context.Context, key string) ([]byte, error) {
	ctx, span := otel.Tracer(cacheTracerName).Start(ctx, "cache.Get",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("cache.backend", "redis"),
			attribute.String("cache.key", key),
		),
	)
	defer span.End()

	start := time.Now()
	defer func() {
		GetCacheMetrics().operationDuration.WithLabelValues(
			"redis", "get",
		).Observe(time.Since(start).Seconds())
	}()

	value, err := s.client.Get(ctx, s.resolveKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			atomic.AddInt64(&s.misses, 1)
			GetCacheMetrics().missesTotal.WithLabelValues("redis").Inc()
			span.SetAttributes(attribute.Bool("cache.hit", false))
			return nil, ErrCacheMiss
		}
		GetCacheMetrics().errorsTotal.WithLabelValues("redis", "get").Inc()
		return nil, fmt.Errorf("redis get: %w", err)
	}

	atomic.AddInt64(&s.hits, 1)
	GetCacheMetrics().hitsTotal.WithLabelValues("redis").Inc()
	span.SetAttributes(attribute.Bool("cache.hit", true))

	return value, nil
}

// Set stores a value in the cache. Redis handles time-based expiry itself;
// TTLNever maps to a key without expiration.
func (s *redisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration, tags ...string) error {
	ctx, span := otel.Tracer(cacheTracerName).Start(ctx, "cache.Set",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("cache.backend", "redis"),
			attribute.String("cache.key", key),
			attribute.Int("cache.value_size", len(value)),
		),
	)
	defer span.End()

	start := time.Now()
	defer func() {
		GetCacheMetrics().operationDuration.WithLabelValues(
			"redis", "set",
		).Observe(time.Since(start).Seconds())
	}()

	if ttl == 0 {
		ttl = s.defaultTTL
	}
	if ttl < 0 {
		ttl = 0 // redis: no expiration
	}

	resolved := s.resolveKey(key)

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, resolved, value, ttl)
	for _, tag := range tags {
		pipe.SAdd(ctx, s.resolveTag(tag), resolved)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		GetCacheMetrics().errorsTotal.WithLabelValues("redis", "set").Inc()
		return fmt.Errorf("redis set: %w", err)
	}

	s.logger.Debug("cache set",
		observability.String("key", key),
		observability.Duration("ttl", ttl),
		observability.Strings("tags", tags))

	return nil
}

// Delete removes a value from the cache.
func (s *redisStore) Delete(ctx context.Context, key string) error {
	ctx, span := otel.Tracer(cacheTracerName).Start(ctx, "cache.Delete",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("cache.backend", "redis"),
			attribute.String("cache.key", key),
		),
	)
	defer span.End()

	if err := s.client.Del(ctx, s.resolveKey(key)).Err(); err != nil {
		GetCacheMetrics().errorsTotal.WithLabelValues("redis", "delete").Inc()
		return fmt.Errorf("redis delete: %w", err)
	}
	return nil
}

// InvalidateByTag removes every entry in the tag's membership set, then the
// set itself.
func (s *redisStore) InvalidateByTag(ctx context.Context, tag string) (int, error) {
	ctx, span := otel.Tracer(cacheTracerName).Start(ctx, "cache.InvalidateByTag",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("cache.backend", "redis"),
			attribute.String("cache.tag", tag),
		),
	)
	defer span.End()

	tagKey := s.resolveTag(tag)

	members, err := s.client.SMembers(ctx, tagKey).Result()
	if err != nil {
		GetCacheMetrics().errorsTotal.WithLabelValues("redis", "invalidate").Inc()
		return 0, fmt.Errorf("redis smembers: %w", err)
	}
	if len(members) == 0 {
		return 0, nil
	}

	pipe := s.client.TxPipeline()
	del := pipe.Del(ctx, members...)
	pipe.Del(ctx, tagKey)
	if _, err := pipe.Exec(ctx); err != nil {
		GetCacheMetrics().errorsTotal.WithLabelValues("redis", "invalidate").Inc()
		return 0, fmt.Errorf("redis invalidate: %w", err)
	}

	removed := int(del.Val())
	GetCacheMetrics().invalidationsTotal.WithLabelValues("redis").Add(float64(removed))

	s.logger.Debug("cache invalidated by tag",
		observability.String("tag", tag),
		observability.Int("removed", removed))

	return removed, nil
}

// Close closes the Redis connection.
func (s *redisStore) Close() error {
	return s.client.Close()
}

// Stats returns cache statistics tracked client-side.
func (s *redisStore) Stats() Stats {
	return Stats{
		Hits:   atomic.LoadInt64(&s.hits),
		Misses: atomic.LoadInt64(&s.misses),
	}
}
