// Package ratelimit provides fixed-window request limits backed by Redis,
// with an in-process fallback for single-node development.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrLimited is returned when the caller has exhausted its window.
var ErrLimited = errors.New("rate limit exceeded")

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

// Err returns ErrLimited when the request was refused.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return fmt.Errorf("%w: retry in %s", ErrLimited, d.RetryAfter.Round(time.Second))
}

// Limiter decides whether a subject may perform one more request.
type Limiter interface {
	Allow(ctx context.Context, scope, subject string) (Decision, error)
}

// windowStart truncates now to the window and returns the time left in it.
func windowStart(now time.Time, window time.Duration) (int64, time.Duration) {
	start := now.Truncate(window)
	return start.Unix(), start.Add(window).Sub(now)
}

// RedisLimiter counts requests with INCR and expires the key with the window.
type RedisLimiter struct {
	client *redis.Client
	limit  int
	window time.Duration
	prefix string
	now    func() time.Time
}

// NewRedisLimiter allows limit requests per window per scope and subject.
func NewRedisLimiter(client *redis.Client, limit int, window time.Duration) *RedisLimiter {
	return &RedisLimiter{
		client: client,
		limit:  limit,
		window: window,
		prefix: "rl:",
		now:    time.Now,
	}
}

func (l *RedisLimiter) key(scope, subject string, start int64) string {
	return l.prefix + scope + ":" + subject + ":" + strconv.FormatInt(start, 10)
}

// Allow increments the counter for the current window.
func (l *RedisLimiter) Allow(ctx context.Context, scope, subject string) (Decision, error) {
	start, left := windowStart(l.now(), l.window)
	key := l.key(scope, subject, start)

	pipe := l.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, l.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return Decision{}, fmt.Errorf("rate limit incr: %w", err)
	}
	return decide(int(incr.Val()), l.limit, left), nil
}

func decide(count, limit int, left time.Duration) Decision {
	d := Decision{Limit: limit, Remaining: limit - count}
	if d.Remaining < 0 {
		d.Remaining = 0
	}
	if count > limit {
		d.RetryAfter = left
		return d
	}
	d.Allowed = true
	return d
}

// MemoryLimiter is the same fixed window kept in a map.
type MemoryLimiter struct {
	limit  int
	window time.Duration
	now    func() time.Time

	mu      sync.Mutex
	counts  map[string]int
	current int64
}

// NewMemoryLimiter allows limit requests per window per scope and subject.
func NewMemoryLimiter(limit int, window time.Duration) *MemoryLimiter {
	return &MemoryLimiter{
		limit:  limit,
		window: window,
		now:    time.Now,
		counts: make(map[string]int),
	}
}

func (l *MemoryLimiter) Allow(_ context.Context, scope, subject string) (Decision, error) {
	start, left := windowStart(l.now(), l.window)

	l.mu.Lock()
	defer l.mu.Unlock()
	if start != l.current {
		l.current = start
		l.counts = make(map[string]int)
	}
	key := scope + ":" + subject
	l.counts[key]++
	return decide(l.counts[key], l.limit, left), nil
}
