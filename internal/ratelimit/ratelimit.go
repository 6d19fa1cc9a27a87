package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/xxxsen/docchat/internal/config"
)

type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// Limiter is a sliding window counter. Each call to Allow that returns
// Allowed consumes one slot for key.
type Limiter interface {
	Allow(ctx context.Context, key string) (Result, error)
}

// New builds a limiter for rule on the configured backend. client may be
// nil for the memory backend.
func New(backend string, client *redis.Client, name string, rule config.RateLimitRule) (Limiter, error) {
	window := time.Duration(rule.WindowSeconds) * time.Second
	switch backend {
	case "", "memory":
		return NewMemory(rule.Limit, window), nil
	case "redis":
		if client == nil {
			return nil, fmt.Errorf("redis rate limiter requires a client")
		}
		return NewRedis(client, "docchat:ratelimit:"+name+":", rule.Limit, window), nil
	default:
		return nil, fmt.Errorf("unsupported rate limit backend: %s", backend)
	}
}
