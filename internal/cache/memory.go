package cache

import (
	"container/list"
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/fableforge/fableforge/internal/config"
	"github.com/fableforge/fableforge/internal/observability"
)

// cacheTracerName is the OpenTelemetry tracer name for cache operations.
const cacheTracerName = "fableforge/cache"

// memoryStore implements an in-memory LRU cache with tag indexing.
type memoryStore struct {
	logger     observability.Logger
	maxEntries int
	defaultTTL time.Duration

	mu       sync.Mutex
	items    map[string]*list.Element
	eviction *list.List
	tags     map[string]map[string]struct{}

	hits   int64
	misses int64

	stopCh    chan struct{}
	closeOnce sync.Once
}

// memoryEntry represents an entry in the memory store.
type memoryEntry struct {
	key       string
	value     []byte
	expiresAt time.Time
	tags      []string
}

func newMemoryStore(cfg *config.CacheConfig, logger observability.Logger) *memoryStore {
	maxEntries := cfg.MaxEntries
	if maxEntries <= 0 {
		maxEntries = 10000
	}

	s := &memoryStore{
		logger:     logger,
		maxEntries: maxEntries,
		defaultTTL: cfg.DefaultTTL.Duration(),
		items:      make(map[string]*list.Element),
		eviction:   list.New(),
		tags:       make(map[string]map[string]struct{}),
		stopCh:     make(chan struct{}),
	}

	go s.cleanupLoop()

	logger.Info("memory cache initialized",
		observability.Int("maxEntries", maxEntries),
		observability.Duration("defaultTTL", s.defaultTTL))

	return s
}

// Get retrieves a value from the cache.
func (s *memoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	_, span := otel.Tracer(cacheTracerName).Start(ctx, "cache.Get",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("cache.backend", "memory"),
			attribute.String("cache.key", key),
		),
	)
	defer span.End()

	start := time.Now()
	defer func() {
		GetCacheMetrics().operationDuration.WithLabelValues(
			"memory", "get",
		).Observe(time.Since(start).Seconds())
	}()

	s.mu.Lock()
	defer s.mu.Unlock()

	elem, exists := s.items[key]
	if !exists {
		atomic.AddInt64(&s.misses, 1)
		GetCacheMetrics().missesTotal.WithLabelValues("memory").Inc()
		span.SetAttributes(attribute.Bool("cache.hit", false))
		return nil, ErrCacheMiss
	}

	entry := elem.Value.(*memoryEntry)

	// Expired entries behave as absent and are purged on read.
	if entry.expired(time.Now()) {
		s.removeElement(elem)
		atomic.AddInt64(&s.misses, 1)
		GetCacheMetrics().missesTotal.WithLabelValues("memory").Inc()
		span.SetAttributes(attribute.Bool("cache.hit", false))
		return nil, ErrCacheMiss
	}

	s.eviction.MoveToFront(elem)

	atomic.AddInt64(&s.hits, 1)
	GetCacheMetrics().hitsTotal.WithLabelValues("memory").Inc()
	span.SetAttributes(attribute.Bool("cache.hit", true))

	return entry.value, nil
}

// Set stores a value in the cache.
func (s *memoryStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration, tags ...string) error {
	_, span := otel.Tracer(cacheTracerName).Start(ctx, "cache.Set",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("cache.backend", "memory"),
			attribute.String("cache.key", key),
			attribute.Int("cache.value_size", len(value)),
		),
	)
	defer span.End()

	start := time.Now()
	defer func() {
		GetCacheMetrics().operationDuration.WithLabelValues(
			"memory", "set",
		).Observe(time.Since(start).Seconds())
	}()

	if ttl == 0 {
		ttl = s.defaultTTL
	}

	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = time.Now().Add(ttl)
	}

	entry := &memoryEntry{
		key:       key,
		value:     value,
		expiresAt: expiresAt,
		tags:      tags,
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if elem, exists := s.items[key]; exists {
		s.unindexTags(elem.Value.(*memoryEntry))
		s.eviction.MoveToFront(elem)
		elem.Value = entry
		s.indexTags(entry)
		return nil
	}

	elem := s.eviction.PushFront(entry)
	s.items[key] = elem
	s.indexTags(entry)

	for s.eviction.Len() > s.maxEntries {
		s.evictOldest()
	}

	GetCacheMetrics().sizeGauge.WithLabelValues("memory").Set(float64(s.eviction.Len()))

	s.logger.Debug("cache set",
		observability.String("key", key),
		observability.Duration("ttl", ttl),
		observability.Int("size", s.eviction.Len()))

	return nil
}

// Delete removes a value from the cache.
func (s *memoryStore) Delete(ctx context.Context, key string) error {
	_, span := otel.Tracer(cacheTracerName).Start(ctx, "cache.Delete",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("cache.backend", "memory"),
			attribute.String("cache.key", key),
		),
	)
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	if elem, exists := s.items[key]; exists {
		s.removeElement(elem)
	}

	return nil
}

// InvalidateByTag removes every entry carrying the tag.
func (s *memoryStore) InvalidateByTag(ctx context.Context, tag string) (int, error) {
	_, span := otel.Tracer(cacheTracerName).Start(ctx, "cache.InvalidateByTag",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("cache.backend", "memory"),
			attribute.String("cache.tag", tag),
		),
	)
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	keys, exists := s.tags[tag]
	if !exists {
		return 0, nil
	}

	removed := 0
	for key := range keys {
		if elem, ok := s.items[key]; ok {
			s.removeElement(elem)
			removed++
		}
	}
	delete(s.tags, tag)

	GetCacheMetrics().invalidationsTotal.WithLabelValues("memory").Add(float64(removed))

	s.logger.Debug("cache invalidated by tag",
		observability.String("tag", tag),
		observability.Int("removed", removed))

	return removed, nil
}

// Close closes the cache and stops the cleanup goroutine.
func (s *memoryStore) Close() error {
	s.closeOnce.Do(func() {
		close(s.stopCh)
	})

	s.mu.Lock()
	defer s.mu.Unlock()

	s.items = make(map[string]*list.Element)
	s.tags = make(map[string]map[string]struct{})
	s.eviction.Init()

	return nil
}

// Stats returns cache statistics.
func (s *memoryStore) Stats() Stats {
	s.mu.Lock()
	size := int64(s.eviction.Len())
	s.mu.Unlock()

	return Stats{
		Hits:   atomic.LoadInt64(&s.hits),
		Misses: atomic.LoadInt64(&s.misses),
		Size:   size,
	}
}

func (e *memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// indexTags adds the entry's key to the tag index. Must be called with the
// lock held.
func (s *memoryStore) indexTags(entry *memoryEntry) {
	for _, tag := range entry.tags {
		keys, ok := s.tags[tag]
		if !ok {
			keys = make(map[string]struct{})
			s.tags[tag] = keys
		}
		keys[entry.key] = struct{}{}
	}
}

// unindexTags removes the entry's key from the tag index. Must be called
// with the lock held.
func (s *memoryStore) unindexTags(entry *memoryEntry) {
	for _, tag := range entry.tags {
		if keys, ok := s.tags[tag]; ok {
			delete(keys, entry.key)
			if len(keys) == 0 {
				delete(s.tags, tag)
			}
		}
	}
}

// evictOldest removes the oldest entry. Must be called with the lock held.
func (s *memoryStore) evictOldest() {
	elem := s.eviction.Back()
	if elem != nil {
		s.removeElement(elem)
		GetCacheMetrics().evictionsTotal.WithLabelValues("memory").Inc()
	}
}

// removeElement removes an element and its tag index entries. Must be called
// with the lock held.
func (s *memoryStore) removeElement(elem *list.Element) {
	s.eviction.Remove(elem)
	entry := elem.Value.(*memoryEntry)
	s.unindexTags(entry)
	delete(s.items, entry.key)
}

// cleanupLoop periodically removes expired entries.
func (s *memoryStore) cleanupLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.cleanup()
		case <-s.stopCh:
			return
		}
	}
}

// cleanup removes expired entries under a single write lock.
func (s *memoryStore) cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	var toRemove []*list.Element

	for elem := s.eviction.Back(); elem != nil; elem = elem.Prev() {
		if elem.Value.(*memoryEntry).expired(now) {
			toRemove = append(toRemove, elem)
		}
	}

	for _, elem := range toRemove {
		s.removeElement(elem)
	}

	if len(toRemove) > 0 {
		s.logger.Debug("cache cleanup completed",
			observability.Int("removed", len(toRemove)))
	}
}
