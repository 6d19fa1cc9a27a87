package cache

import (
	"context"
	"errors"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/redis/go-redis/v9"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
)

// Cache stores opaque values for a fixed TTL.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

// New returns a redis backed cache that falls back to an in-process LRU
// when redis errors, or the LRU alone when client is nil.
func New(client *redis.Client, prefix string, size int, ttl time.Duration) Cache {
	local := NewLRU(size, ttl)
	if client == nil {
		return local
	}
	return &fallbackCache{primary: NewRedis(client, prefix, ttl), fallback: local}
}

type lruCache struct {
	lru *expirable.LRU[string, []byte]
}

func NewLRU(size int, ttl time.Duration) Cache {
	if size <= 0 {
		size = 1000
	}
	return &lruCache{lru: expirable.NewLRU[string, []byte](size, nil, ttl)}
}

func (c *lruCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := c.lru.Get(key)
	return v, ok, nil
}

func (c *lruCache) Set(_ context.Context, key string, value []byte) error {
	c.lru.Add(key, value)
	return nil
}

func (c *lruCache) Delete(_ context.Context, key string) error {
	c.lru.Remove(key)
	return nil
}

type redisCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedis(client *redis.Client, prefix string, ttl time.Duration) Cache {
	return &redisCache{client: client, prefix: prefix, ttl: ttl}
}

func (c *redisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	v, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

func (c *redisCache) Set(ctx context.Context, key string, value []byte) error {
	return c.client.Set(ctx, c.prefix+key, value, c.ttl).Err()
}

func (c *redisCache) Delete(ctx context.Context, key string) error {
	return c.client.Del(ctx, c.prefix+key).Err()
}

type fallbackCache struct {
	primary  Cache
	fallback Cache
}

func (c *fallbackCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	v, ok, err := c.primary.Get(ctx, key)
	if err == nil {
		return v, ok, nil
	}
	logutil.GetLogger(ctx).Warn("cache read failed, using local cache", zap.Error(err))
	return c.fallback.Get(ctx, key)
}

func (c *fallbackCache) Set(ctx context.Context, key string, value []byte) error {
	if err := c.primary.Set(ctx, key, value); err != nil {
		logutil.GetLogger(ctx).Warn("cache write failed, using local cache", zap.Error(err))
		return c.fallback.Set(ctx, key, value)
	}
	return nil
}

func (c *fallbackCache) Delete(ctx context.Context, key string) error {
	_ = c.fallback.Delete(ctx, key)
	return c.primary.Delete(ctx, key)
}
