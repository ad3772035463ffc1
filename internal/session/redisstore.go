package session

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// lockTTL bounds how long a crashed process can wedge a (user, category)
// pair. It must exceed the background invocation deadline so a live clone
// never loses its guard mid-run.
const lockTTL = 15 * time.Minute

// redisStore is a redis-backed Store. Sample sets live in redis sets so
// distinct counting is a server-side SCard, and the in-progress guard is
// a SetNX key so concurrent triggers race safely across replicas.
type redisStore struct {
	client    *redis.Client
	keyPrefix string
}

// NewRedisStore creates a redis-backed Store. The URL is parsed with
// redis.ParseURL and the connection is verified with a ping.
func NewRedisStore(ctx context.Context, url, keyPrefix string) (Store, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}

	return &redisStore{client: client, keyPrefix: keyPrefix}, nil
}

func (s *redisStore) samplesKey(userID, category string) string {
	return s.keyPrefix + "session:samples:" + userID + ":" + category
}

func (s *redisStore) lockKey(userID, category string) string {
	return s.keyPrefix + "session:lock:" + userID + ":" + category
}

func (s *redisStore) AddSample(ctx context.Context, userID, category, sampleID string) (int, error) {
	key := s.samplesKey(userID, category)
	pipe := s.client.TxPipeline()
	pipe.SAdd(ctx, key, sampleID)
	card := pipe.SCard(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("recording sample: %w", err)
	}
	return int(card.Val()), nil
}

func (s *redisStore) Count(ctx context.Context, userID, category string) (int, error) {
	n, err := s.client.SCard(ctx, s.samplesKey(userID, category)).Result()
	if err != nil {
		return 0, fmt.Errorf("counting samples: %w", err)
	}
	return int(n), nil
}

func (s *redisStore) TryLock(ctx context.Context, userID, category string) (bool, error) {
	ok, err := s.client.SetNX(ctx, s.lockKey(userID, category), "1", lockTTL).Result()
	if err != nil {
		return false, fmt.Errorf("acquiring lock: %w", err)
	}
	return ok, nil
}

func (s *redisStore) Unlock(ctx context.Context, userID, category string) error {
	if err := s.client.Del(ctx, s.lockKey(userID, category)).Err(); err != nil {
		return fmt.Errorf("releasing lock: %w", err)
	}
	return nil
}

func (s *redisStore) Locked(ctx context.Context, userID, category string) (bool, error) {
	n, err := s.client.Exists(ctx, s.lockKey(userID, category)).Result()
	if err != nil {
		return false, fmt.Errorf("checking lock: %w", err)
	}
	return n > 0, nil
}

func (s *redisStore) Reset(ctx context.Context, userID, category string) error {
	if err := s.client.Del(ctx, s.samplesKey(userID, category)).Err(); err != nil {
		return fmt.Errorf("resetting samples: %w", err)
	}
	return nil
}
