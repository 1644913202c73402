// Package ratelimit enforces a per-sender hourly send cap shared by
// every worker process. Correctness rests on the counter store's atomic
// increment; no locking is layered on top.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// CounterTTL keeps a bucket alive slightly past its hour so counts
// survive clock and processing skew at the boundary.
const CounterTTL = time.Hour + 61*time.Second

// CounterStore is the atomic counter backend. Implemented by
// RedisCounters in production and by in-memory fakes in tests.
type CounterStore interface {
	Incr(ctx context.Context, key string) (int64, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error
	Get(ctx context.Context, key string) (int64, error)
}

type Status struct {
	Current   int64 `json:"current"`
	Limit     int64 `json:"limit"`
	Remaining int64 `json:"remaining"`
}

type Limiter struct {
	counters   CounterStore
	limit      int64
	failClosed bool
	log        *zap.Logger

	now func() time.Time
}

// New builds a limiter with the given hourly cap. failClosed selects
// the policy when the counter store is unreachable: false allows the
// send (availability over enforcement), true denies it.
func New(counters CounterStore, limit int, failClosed bool, log *zap.Logger) *Limiter {
	return &Limiter{
		counters:   counters,
		limit:      int64(limit),
		failClosed: failClosed,
		log:        log,
		now:        time.Now,
	}
}

// BucketKey derives the counter key for a sender at time t. The UTC
// calendar hour in the key makes buckets roll over without any reset
// logic.
func BucketKey(sender string, t time.Time) string {
	return fmt.Sprintf("rate:%s:%s", sender, t.UTC().Format("2006-01-02-15"))
}

// CheckAndCharge atomically increments the sender's current-hour
// counter and reports whether the post-increment count is within the
// limit. The counter is charged per attempt, not per confirmed send;
// the TTL is refreshed on every increment.
func (l *Limiter) CheckAndCharge(ctx context.Context, sender string) bool {
	key := BucketKey(sender, l.now())

	current, err := l.counters.Incr(ctx, key)
	if err != nil {
		l.log.Warn("rate counter unreachable",
			zap.String("sender", sender),
			zap.Bool("fail_closed", l.failClosed),
			zap.Error(err),
		)
		return !l.failClosed
	}

	if err := l.counters.Expire(ctx, key, CounterTTL); err != nil {
		l.log.Warn("rate counter expire failed", zap.String("key", key), zap.Error(err))
	}

	return current <= l.limit
}

// Status reads the sender's current-hour count without charging it.
func (l *Limiter) Status(ctx context.Context, sender string) Status {
	key := BucketKey(sender, l.now())

	current, err := l.counters.Get(ctx, key)
	if err != nil {
		l.log.Warn("rate counter read failed", zap.String("sender", sender), zap.Error(err))
		return Status{Current: 0, Limit: l.limit, Remaining: l.limit}
	}

	remaining := l.limit - current
	if remaining < 0 {
		remaining = 0
	}
	return Status{Current: current, Limit: l.limit, Remaining: remaining}
}

// RedisCounters adapts a shared redis client to the CounterStore
// interface.
type RedisCounters struct {
	Client *redis.Client
}

func (r *RedisCounters) Incr(ctx context.Context, key string) (int64, error) {
	return r.Client.Incr(ctx, key).Result()
}

func (r *RedisCounters) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return r.Client.Expire(ctx, key, ttl).Err()
}

func (r *RedisCounters) Get(ctx context.Context, key string) (int64, error) {
	n, err := r.Client.Get(ctx, key).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	return n, err
}
