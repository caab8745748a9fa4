package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"ravegate/internal/profile"
	"ravegate/pkg/domain"
)

// RedisCache is a read-through cache in front of another profile store.
// Only hits are cached: absence is never cached, because a missing profile
// is usually a user who is about to register.
type RedisCache struct {
	inner  profile.Store
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

type RedisCacheOption func(*RedisCache)

func WithRedisCacheLogger(logger *slog.Logger) RedisCacheOption {
	return func(c *RedisCache) {
		c.logger = logger
	}
}

func NewRedisCache(inner profile.Store, client *redis.Client, ttl time.Duration, opts ...RedisCacheOption) *RedisCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	c := &RedisCache{
		inner:  inner,
		client: client,
		ttl:    ttl,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *RedisCache) Get(ctx context.Context, id domain.UserID) (*profile.Record, error) {
	key := cacheKey(id)

	raw, err := c.client.Get(ctx, key).Bytes()
	if err == nil {
		var rec profile.Record
		if jsonErr := json.Unmarshal(raw, &rec); jsonErr == nil {
			return &rec, nil
		}
		// Corrupt entry; fall through to the inner store and overwrite.
		c.client.Del(ctx, key)
	} else if !errors.Is(err, redis.Nil) {
		// Cache outage degrades to the inner store, it never fails the read.
		c.logger.Debug("profile cache read failed", "error", err)
	}

	rec, err := c.inner.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if payload, jsonErr := json.Marshal(rec); jsonErr == nil {
		if setErr := c.client.Set(ctx, key, payload, c.ttl).Err(); setErr != nil {
			c.logger.Debug("profile cache write failed", "error", setErr)
		}
	}
	return rec, nil
}

func cacheKey(id domain.UserID) string {
	return fmt.Sprintf("profile:%s", id)
}
