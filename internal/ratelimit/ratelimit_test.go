package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xxxsen/docchat/internal/config"
	"github.com/xxxsen/docchat/internal/pkg/redisutil"
	"github.com/xxxsen/docchat/internal/testutil"
)

func newTestMemory(limit int, window time.Duration, clock *time.Time) *memoryLimiter {
	l := NewMemory(limit, window).(*memoryLimiter)
	l.now = func() time.Time { return *clock }
	return l
}

func TestMemoryLimiterSlidingWindow(t *testing.T) {
	clock := time.Unix(1_700_000_000, 0)
	l := newTestMemory(2, 10*time.Second, &clock)
	ctx := context.Background()

	res, err := l.Allow(ctx, "u1")
	require.NoError(t, err)
	require.True(t, res.Allowed)
	require.Equal(t, 1, res.Remaining)
	require.Equal(t, clock.Add(10*time.Second), res.ResetAt)

	clock = clock.Add(4 * time.Second)
	res, _ = l.Allow(ctx, "u1")
	require.True(t, res.Allowed)
	require.Equal(t, 0, res.Remaining)

	res, _ = l.Allow(ctx, "u1")
	require.False(t, res.Allowed)
	require.Equal(t, time.Unix(1_700_000_010, 0), res.ResetAt)

	res, _ = l.Allow(ctx, "u2")
	require.True(t, res.Allowed)

	// the first hit leaves the window, the second is still inside it
	clock = clock.Add(6 * time.Second)
	res, _ = l.Allow(ctx, "u1")
	require.True(t, res.Allowed)
	require.Equal(t, 0, res.Remaining)
}

func TestMemoryLimiterCleanupExpiredLocked(t *testing.T) {
	base := time.Now()
	l := NewMemory(5, 10*time.Second).(*memoryLimiter)
	l.hits["expired"] = []time.Time{base.Add(-20 * time.Second)}
	l.hits["active"] = []time.Time{base.Add(-20 * time.Second), base.Add(-2 * time.Second)}

	l.mu.Lock()
	l.cleanupExpiredLocked(base)
	l.mu.Unlock()

	require.NotContains(t, l.hits, "expired")
	require.Len(t, l.hits["active"], 1)
	require.False(t, l.lastSweep.IsZero())
}

func TestMemoryLimiterDisabled(t *testing.T) {
	l := NewMemory(0, time.Minute)
	for i := 0; i < 5; i++ {
		res, err := l.Allow(context.Background(), "k")
		require.NoError(t, err)
		require.True(t, res.Allowed)
	}
}

func TestNewRejectsUnknownBackend(t *testing.T) {
	_, err := New("memcached", nil, "chat", config.RateLimitRule{Limit: 1, WindowSeconds: 1})
	require.Error(t, err)
	_, err = New("redis", nil, "chat", config.RateLimitRule{Limit: 1, WindowSeconds: 1})
	require.Error(t, err)
}

func TestRedisLimiter(t *testing.T) {
	addr := testutil.RedisAddr(t)
	client, err := redisutil.New(context.Background(), config.RedisConfig{Addr: addr})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	prefix := "docchat:test:" + t.Name() + ":" + time.Now().Format("150405.000000") + ":"
	l := NewRedis(client, prefix, 2, time.Minute)
	ctx := context.Background()

	res, err := l.Allow(ctx, "u1")
	require.NoError(t, err)
	require.True(t, res.Allowed)
	require.Equal(t, 1, res.Remaining)

	res, err = l.Allow(ctx, "u1")
	require.NoError(t, err)
	require.True(t, res.Allowed)

	res, err = l.Allow(ctx, "u1")
	require.NoError(t, err)
	require.False(t, res.Allowed)
	require.Equal(t, 0, res.Remaining)

	n, err := client.ZCard(ctx, prefix+"u1").Result()
	require.NoError(t, err)
	require.Equal(t, int64(2), n)
}

func TestRedisLimiterResult(t *testing.T) {
	l := NewRedis(nil, "p:", 3, time.Minute).(*redisLimiter)
	oldest := time.Unix(1_700_000_000, 0)

	res, err := l.result([]int64{1, 2, oldest.UnixMilli()})
	require.NoError(t, err)
	require.True(t, res.Allowed)
	require.Equal(t, 1, res.Remaining)
	require.Equal(t, oldest.Add(time.Minute), res.ResetAt)

	res, err = l.result([]int64{0, 3, oldest.UnixMilli()})
	require.NoError(t, err)
	require.False(t, res.Allowed)
	require.Equal(t, 0, res.Remaining)

	_, err = l.result([]int64{1})
	require.Error(t, err)
}

func TestRedisLimiterConcurrentCallers(t *testing.T) {
	addr := testutil.RedisAddr(t)
	client, err := redisutil.New(context.Background(), config.RedisConfig{Addr: addr})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	prefix := "docchat:test:" + t.Name() + ":" + time.Now().Format("150405.000000") + ":"
	l := NewRedis(client, prefix, 5, time.Minute)
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := l.Allow(ctx, "u1")
			if err != nil || !res.Allowed {
				return
			}
			mu.Lock()
			allowed++
			mu.Unlock()
		}()
	}
	wg.Wait()
	require.Equal(t, 5, allowed)

	n, err := client.ZCard(ctx, prefix+"u1").Result()
	require.NoError(t, err)
	require.Equal(t, int64(5), n)
}
