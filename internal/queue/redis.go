package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// claimScript atomically pops the oldest due member from the delayed
// set and returns its payload. Atomicity here is what makes concurrent
// executors across processes safe without further coordination.
var claimScript = redis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, 1)
if #due == 0 then
  return false
end
redis.call('ZREM', KEYS[1], due[1])
local payload = redis.call('HGET', KEYS[2], due[1])
redis.call('HDEL', KEYS[2], due[1])
return payload
`)

// Redis is a DelayQueue on a redis sorted set: members are dedup keys
// scored by due time in unix milliseconds, payloads live in a hash
// alongside. Consumers poll; the claim is a single round trip.
type Redis struct {
	client *redis.Client
	policy RetryPolicy
	poll   time.Duration
	prefix string
	log    *zap.Logger

	now func() time.Time
}

func NewRedis(client *redis.Client, policy RetryPolicy, poll time.Duration, log *zap.Logger) *Redis {
	if poll <= 0 {
		poll = 250 * time.Millisecond
	}
	return &Redis{
		client: client,
		policy: policy,
		poll:   poll,
		prefix: "emailqueue",
		log:    log,
		now:    time.Now,
	}
}

func (q *Redis) delayedKey() string { return q.prefix + ":delayed" }
func (q *Redis) payloadKey() string { return q.prefix + ":payload" }

func (q *Redis) Enqueue(ctx context.Context, e Entry, delay time.Duration) (string, error) {
	if delay < 0 {
		delay = 0
	}
	now := q.now()
	member := e.DedupKey(now)

	payload, err := json.Marshal(e)
	if err != nil {
		return "", fmt.Errorf("marshal queue entry: %w", err)
	}

	pipe := q.client.TxPipeline()
	pipe.HSetNX(ctx, q.payloadKey(), member, payload)
	pipe.ZAddNX(ctx, q.delayedKey(), redis.Z{
		Score:  float64(now.Add(delay).UnixMilli()),
		Member: member,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("enqueue %s: %w", e.JobID, err)
	}

	return member, nil
}

func (q *Redis) Dequeue(ctx context.Context) (Entry, error) {
	ticker := time.NewTicker(q.poll)
	defer ticker.Stop()

	for {
		e, ok, err := q.claim(ctx)
		if err != nil {
			q.log.Warn("queue claim failed", zap.Error(err))
		} else if ok {
			return e, nil
		}

		select {
		case <-ctx.Done():
			return Entry{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (q *Redis) claim(ctx context.Context) (Entry, bool, error) {
	res, err := claimScript.Run(ctx, q.client,
		[]string{q.delayedKey(), q.payloadKey()},
		q.now().UnixMilli(),
	).Result()
	if err == redis.Nil {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, err
	}

	raw, ok := res.(string)
	if !ok {
		return Entry{}, false, fmt.Errorf("unexpected claim result %T", res)
	}

	var e Entry
	if err := json.Unmarshal([]byte(raw), &e); err != nil {
		return Entry{}, false, fmt.Errorf("unmarshal queue entry: %w", err)
	}
	return e, true, nil
}

func (q *Redis) Reschedule(ctx context.Context, e Entry, delay time.Duration) error {
	_, err := q.Enqueue(ctx, e, delay)
	return err
}

func (q *Redis) Retry(ctx context.Context, e Entry) (bool, error) {
	next, delay, ok := q.policy.Next(e)
	if !ok {
		return false, nil
	}
	_, err := q.Enqueue(ctx, next, delay)
	return err == nil, err
}

func (q *Redis) Ready(ctx context.Context) error {
	return q.client.Ping(ctx).Err()
}

func (q *Redis) Close() error { return nil }
