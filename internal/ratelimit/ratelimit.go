// Package ratelimit implements fixed-window request counters, keyed per
// route by user, IP, or globally, backed either by an in-process map or
// a shared Redis store for multi-instance deployments. A store failure
// fails open (request allowed, logged as a warning) rather than taking
// the gateway down with it.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/edgeway/gateway/internal/logging"
)

// Decision is the outcome of a rate-limit check.
type Decision struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// Limiter checks and increments fixed-window counters.
type Limiter interface {
	Allow(ctx context.Context, key string, windowMs int64, max int) Decision
}

// window is one counter bucket.
type window struct {
	count   int
	resetAt time.Time
}

// MemoryLimiter is an in-process fixed-window limiter, one map entry per
// key. Safe for concurrent use.
type MemoryLimiter struct {
	mu      sync.Mutex
	windows map[string]*window
}

// NewMemoryLimiter creates an empty in-process limiter.
func NewMemoryLimiter() *MemoryLimiter {
	return &MemoryLimiter{windows: make(map[string]*window)}
}

// Allow increments key's counter, opening a new window of length windowMs
// when either none exists yet or the previous one has fully elapsed. The
// window resets exactly at its boundary, never one tick early or late.
func (m *MemoryLimiter) Allow(_ context.Context, key string, windowMs int64, max int) Decision {
	now := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.windows[key]
	if !ok || !now.Before(w.resetAt) {
		w = &window{count: 0, resetAt: now.Add(time.Duration(windowMs) * time.Millisecond)}
		m.windows[key] = w
	}
	w.count++
	remaining := max - w.count
	if remaining < 0 {
		remaining = 0
	}
	return Decision{Allowed: w.count <= max, Remaining: remaining, ResetAt: w.resetAt}
}

// RedisLimiter implements the same fixed-window algorithm against a
// shared Redis instance, using INCR + an expiry set only on window
// creation so concurrent gateway instances share one counter per key.
type RedisLimiter struct {
	client *redis.Client
}

// NewRedisLimiter wraps an existing go-redis client.
func NewRedisLimiter(client *redis.Client) *RedisLimiter {
	return &RedisLimiter{client: client}
}

// Allow fails open (Allowed=true) and logs a warning if Redis is
// unreachable, per the gateway's availability-over-strictness stance on
// rate limiting.
func (r *RedisLimiter) Allow(ctx context.Context, key string, windowMs int64, max int) Decision {
	bucket := fmt.Sprintf("ratelimit:%s:%d", key, time.Now().UnixMilli()/windowMs)
	ttl := time.Duration(windowMs) * time.Millisecond

	count, err := r.client.Incr(ctx, bucket).Result()
	if err != nil {
		logging.Warn("ratelimit: redis unavailable, failing open")
		return Decision{Allowed: true, Remaining: max}
	}
	if count == 1 {
		r.client.Expire(ctx, bucket, ttl)
	}

	resetAt := time.UnixMilli((time.Now().UnixMilli()/windowMs + 1) * windowMs)
	remaining := max - int(count)
	if remaining < 0 {
		remaining = 0
	}
	return Decision{Allowed: count <= int64(max), Remaining: remaining, ResetAt: resetAt}
}
