package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// incrementScript counts a call and arms the window TTL on the first one.
// Returns {count, remaining ttl in ms}.
const incrementScript = `
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
if ttl < 0 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
  ttl = tonumber(ARGV[1])
end
return {current, ttl}
`

const redisKeyPrefix = "rl:"

// Evaler is the subset of the go-redis client used by RedisStore.
type Evaler interface {
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
}

// RedisStore keeps counters in Redis. The Lua script runs atomically on the
// server, so INCR and TTL bookkeeping cannot interleave between callers.
type RedisStore struct {
	client Evaler
}

// NewRedisStore creates a RedisStore.
func NewRedisStore(client Evaler) *RedisStore {
	return &RedisStore{client: client}
}

// Increment implements Store. Window expiry is driven by the Redis clock;
// now is only used to report the window start.
func (s *RedisStore) Increment(ctx context.Context, key string, now time.Time, window time.Duration) (Counter, error) {
	windowMs := window.Milliseconds()
	if windowMs < 1 {
		windowMs = 1
	}

	vals, err := s.client.Eval(ctx, incrementScript, []string{redisKeyPrefix + key}, windowMs).Int64Slice()
	if err != nil {
		return Counter{}, fmt.Errorf("increment rate limit counter %s: %w", key, err)
	}
	if len(vals) != 2 {
		return Counter{}, fmt.Errorf("increment rate limit counter %s: unexpected script result %v", key, vals)
	}

	ttl := time.Duration(vals[1]) * time.Millisecond
	return Counter{
		Count:       int(vals[0]),
		WindowStart: now.Add(ttl - window),
	}, nil
}
