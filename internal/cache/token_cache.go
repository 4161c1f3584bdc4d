package cache

import (
	"context"
	"errors"
	"time"

	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const tokenKeyPrefix = "paycapture:oauth:"

// TokenCache stores processor access tokens until shortly before they expire.
type TokenCache interface {
	Get(ctx context.Context, key string) (string, bool)
	Set(ctx context.Context, key, token string, ttl time.Duration)
}

// NewTokenCache prefers Redis so tokens are shared across instances.
func NewTokenCache(client *redis.Client, log *zap.Logger) TokenCache {
	memory := NewMemoryTokenCache()
	if client == nil {
		return memory
	}
	return &redisTokenCache{
		client:   client,
		fallback: memory,
		log:      log.Named("cache.token"),
	}
}

type memoryTokenCache struct {
	items Cache[string, string]
}

func NewMemoryTokenCache() TokenCache {
	return &memoryTokenCache{items: NewTTLCache[string, string]()}
}

func (c *memoryTokenCache) Get(_ context.Context, key string) (string, bool) {
	return c.items.Get(key)
}

func (c *memoryTokenCache) Set(_ context.Context, key, token string, ttl time.Duration) {
	if token == "" || ttl <= 0 {
		return
	}
	c.items.Set(key, token, ttl)
}

type redisTokenCache struct {
	client   *redis.Client
	fallback TokenCache
	log      *zap.Logger
}

func (c *redisTokenCache) Get(ctx context.Context, key string) (string, bool) {
	token, err := c.client.Get(ctx, tokenKeyPrefix+key).Result()
	if err == nil {
		return token, token != ""
	}
	if !errors.Is(err, redis.Nil) {
		c.log.Warn("token cache read failed", zap.Error(err))
	}
	return c.fallback.Get(ctx, key)
}

func (c *redisTokenCache) Set(ctx context.Context, key, token string, ttl time.Duration) {
	if token == "" || ttl <= 0 {
		return
	}
	if err := c.client.Set(ctx, tokenKeyPrefix+key, token, ttl).Err(); err != nil {
		c.log.Warn("token cache write failed", zap.Error(err))
	}
	c.fallback.Set(ctx, key, token, ttl)
}
