package lockout

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore implements Store with a sorted set of failure timestamps per
// identifier, scored by unix nanos so pruning is a range removal.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) RecordFailure(ctx context.Context, identifier string, window time.Duration) (int, error) {
	key := redisKey(identifier)
	now := time.Now()
	cutoff := now.Add(-window).UnixNano()

	pipe := s.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, key, "0", strconv.FormatInt(cutoff, 10))
	pipe.ZAdd(ctx, key, redis.Z{
		Score:  float64(now.UnixNano()),
		Member: now.UnixNano(),
	})
	count := pipe.ZCard(ctx, key)
	pipe.Expire(ctx, key, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("record failure for %s: %w", identifier, err)
	}
	return int(count.Val()), nil
}

func (s *RedisStore) Count(ctx context.Context, identifier string, window time.Duration) (int, error) {
	key := redisKey(identifier)
	cutoff := time.Now().Add(-window).UnixNano()

	pipe := s.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, key, "0", strconv.FormatInt(cutoff, 10))
	count := pipe.ZCard(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("count failures for %s: %w", identifier, err)
	}
	return int(count.Val()), nil
}

func (s *RedisStore) Clear(ctx context.Context, identifier string) error {
	if err := s.client.Del(ctx, redisKey(identifier)).Err(); err != nil {
		return fmt.Errorf("clear failures for %s: %w", identifier, err)
	}
	return nil
}

func redisKey(identifier string) string {
	return "lockout:" + identifier
}
