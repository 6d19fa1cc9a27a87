package ratelimit

import (
	"context"
	"sync"
	"time"
)

type memoryLimiter struct {
	mu            sync.Mutex
	limit         int
	window        time.Duration
	hits          map[string][]time.Time
	sweepInterval time.Duration
	lastSweep     time.Time
	now           func() time.Time
}

func NewMemory(limit int, window time.Duration) Limiter {
	return &memoryLimiter{
		limit:         limit,
		window:        window,
		hits:          make(map[string][]time.Time),
		sweepInterval: window,
		now:           time.Now,
	}
}

func (l *memoryLimiter) Allow(_ context.Context, key string) (Result, error) {
	if l.limit <= 0 || l.window <= 0 {
		return Result{Allowed: true, Limit: l.limit}, nil
	}
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()
	if now.Sub(l.lastSweep) >= l.sweepInterval {
		l.cleanupExpiredLocked(now)
	}
	hits := pruneBefore(l.hits[key], now.Add(-l.window))
	res := Result{Limit: l.limit}
	if len(hits) >= l.limit {
		l.hits[key] = hits
		res.ResetAt = hits[0].Add(l.window)
		return res, nil
	}
	hits = append(hits, now)
	l.hits[key] = hits
	res.Allowed = true
	res.Remaining = l.limit - len(hits)
	res.ResetAt = hits[0].Add(l.window)
	return res, nil
}

// cleanupExpiredLocked drops keys with no hits inside the window.
func (l *memoryLimiter) cleanupExpiredLocked(now time.Time) {
	cutoff := now.Add(-l.window)
	for key, hits := range l.hits {
		hits = pruneBefore(hits, cutoff)
		if len(hits) == 0 {
			delete(l.hits, key)
			continue
		}
		l.hits[key] = hits
	}
	l.lastSweep = now
}

// pruneBefore keeps the timestamps strictly after cutoff. hits is sorted.
func pruneBefore(hits []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(hits) && !hits[i].After(cutoff) {
		i++
	}
	return hits[i:]
}
