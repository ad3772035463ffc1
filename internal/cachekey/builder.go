// Package cachekey turns logical requests into stable cache fingerprints.
//
// A fingerprint is derived from the canonical form of a payload: volatile
// fields are dropped, semantically unordered lists are sorted by a natural
// key, and the result is serialized deterministically and hashed. Two
// requests with the same semantic content always produce the same key,
// regardless of field order or list order.
package cachekey

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// defaultVolatileFields are dropped from payloads before hashing. They carry
// per-request identity, not semantic content.
var defaultVolatileFields = []string{
	"timestamp",
	"requestId",
	"request_id",
	"callbackUrl",
	"callback_url",
	"nonce",
}

// defaultNaturalKeys are tried in order when sorting an unordered list of
// objects.
var defaultNaturalKeys = []string{"name", "title", "id"}

// bucketField carries the coarse time bucket for bounded-staleness keys.
const bucketField = "_bucket"

// Builder generates cache keys of the form "namespace:operation:hexdigest".
type Builder struct {
	volatile    map[string]struct{}
	naturalKeys []string
	now         func() time.Time
}

// Option configures a Builder.
type Option func(*Builder)

// WithVolatileFields replaces the set of fields dropped before hashing.
func WithVolatileFields(fields ...string) Option {
	return func(b *Builder) {
		b.volatile = make(map[string]struct{}, len(fields))
		for _, f := range fields {
			b.volatile[f] = struct{}{}
		}
	}
}

// WithNaturalKeys replaces the candidate keys used to sort unordered lists.
func WithNaturalKeys(keys ...string) Option {
	return func(b *Builder) {
		b.naturalKeys = keys
	}
}

// WithClock replaces the time source used for bucketed keys.
func WithClock(now func() time.Time) Option {
	return func(b *Builder) {
		b.now = now
	}
}

// NewBuilder creates a Builder.
func NewBuilder(opts ...Option) *Builder {
	b := &Builder{
		volatile:    make(map[string]struct{}, len(defaultVolatileFields)),
		naturalKeys: defaultNaturalKeys,
		now:         time.Now,
	}
	for _, f := range defaultVolatileFields {
		b.volatile[f] = struct{}{}
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build returns the cache key for the payload.
func (b *Builder) Build(namespace, operation string, payload any) (string, error) {
	return b.build(namespace, operation, payload, 0)
}

// BuildBucketed returns a cache key that additionally hashes a coarse time
// bucket, so repeated calls within the window share a key while calls across
// windows do not. This is a deliberate bounded-staleness cache for polling
// operations.
func (b *Builder) BuildBucketed(namespace, operation string, payload any, window time.Duration) (string, error) {
	return b.build(namespace, operation, payload, window)
}

func (b *Builder) build(namespace, operation string, payload any, window time.Duration) (string, error) {
	normalized, err := b.normalize(payload)
	if err != nil {
		return "", fmt.Errorf("normalize payload for %s:%s: %w", namespace, operation, err)
	}

	if window > 0 {
		m, ok := normalized.(map[string]any)
		if !ok {
			m = map[string]any{"payload": normalized}
		}
		m[bucketField] = b.now().UnixNano() / int64(window)
		normalized = m
	}

	// encoding/json emits map keys in sorted order, so the serialization
	// of the normalized form is canonical.
	canonical, err := json.Marshal(normalized)
	if err != nil {
		return "", fmt.Errorf("serialize payload for %s:%s: %w", namespace, operation, err)
	}

	digest := sha256.Sum256(canonical)
	return namespace + ":" + operation + ":" + hex.EncodeToString(digest[:]), nil
}

// normalize converts the payload to a generic form with volatile fields
// removed and unordered lists sorted.
func (b *Builder) normalize(payload any) (any, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	var generic any
	if err := json.Unmarshal(data, &generic); err != nil {
		return nil, err
	}
	return b.walk(generic), nil
}

func (b *Builder) walk(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, child := range val {
			if _, volatile := b.volatile[k]; volatile {
				continue
			}
			out[k] = b.walk(child)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, child := range val {
			out[i] = b.walk(child)
		}
		b.sortByNaturalKey(out)
		return out
	default:
		return v
	}
}

// sortByNaturalKey sorts a list of objects in place when every element
// carries the same natural key. Lists of scalars keep their order: position
// may be meaningful there (e.g. scene sequence).
func (b *Builder) sortByNaturalKey(items []any) {
	if len(items) < 2 {
		return
	}
	for _, key := range b.naturalKeys {
		if !allHaveStringKey(items, key) {
			continue
		}
		sort.SliceStable(items, func(i, j int) bool {
			mi := items[i].(map[string]any)
			mj := items[j].(map[string]any)
			return mi[key].(string) < mj[key].(string)
		})
		return
	}
}

func allHaveStringKey(items []any, key string) bool {
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			return false
		}
		if _, ok := m[key].(string); !ok {
			return false
		}
	}
	return true
}
