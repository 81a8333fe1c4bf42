// Package redis provides a Redis-backed CounterStore for tutorgate.
//
// Each counter is a Redis hash holding its value and window start. A Lua
// script performs the lazy window reset and the increment atomically, so
// every orchestrator instance sharing the Redis deployment sees one
// linearizable counter per key.
package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/ineyio/tutorgate"
)

// Store is a Redis-backed CounterStore.
type Store struct {
	client    goredis.Cmdable
	keyPrefix string
	now       func() time.Time
}

var _ tutorgate.CounterStore = (*Store)(nil)

// Option configures Store.
type Option func(*Store)

// WithKeyPrefix sets a Redis key prefix prepended to every counter key.
func WithKeyPrefix(prefix string) Option {
	return func(s *Store) { s.keyPrefix = prefix }
}

// WithClock overrides the clock whose readings are passed to the script.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New creates a new Redis-backed CounterStore.
// The client must be a connected *goredis.Client or *goredis.ClusterClient.
func New(client goredis.Cmdable, opts ...Option) *Store {
	s := &Store{
		client: client,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// incrScript atomically resets an elapsed window and increments.
// KEYS[1] = counter hash key
// ARGV[1] = amount
// ARGV[2] = now (unix ms)
// ARGV[3] = ttl (ms)
//
// Returns {value, window_start_ms}.
var incrScript = goredis.NewScript(`
local key = KEYS[1]
local amount = tonumber(ARGV[1])
local now = tonumber(ARGV[2])
local ttl = tonumber(ARGV[3])

local start = tonumber(redis.call("HGET", key, "start") or "-1")
local span = tonumber(redis.call("HGET", key, "ttl") or "0")

-- Lazy window reset
if start < 0 or now - start >= span then
    redis.call("HSET", key, "value", "0", "start", tostring(now), "ttl", tostring(ttl))
    start = now
    span = ttl
end

local value = redis.call("HINCRBY", key, "value", amount)
redis.call("PEXPIREAT", key, start + span)
return {value, start + span}
`)

// getScript reads a counter, treating an elapsed window as zero.
// KEYS[1] = counter hash key
// ARGV[1] = now (unix ms)
var getScript = goredis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])

local vals = redis.call("HMGET", key, "value", "start", "ttl")
if not vals[1] then
    return {0, 0}
end
local reset = tonumber(vals[2]) + tonumber(vals[3])
if now >= reset then
    return {0, 0}
end
return {tonumber(vals[1]), reset}
`)

// IncrementWithExpiry adds amount to key and returns the new value.
func (s *Store) IncrementWithExpiry(ctx context.Context, key string, amount int64, ttl time.Duration) (tutorgate.Counter, error) {
	res, err := incrScript.Run(ctx, s.client,
		[]string{s.keyPrefix + key},
		amount, s.now().UnixMilli(), ttl.Milliseconds(),
	).Int64Slice()
	if err != nil {
		return tutorgate.Counter{}, fmt.Errorf("tutorgate/redis: increment: %w", err)
	}
	return toCounter(res)
}

// Get returns the current value of key.
func (s *Store) Get(ctx context.Context, key string) (tutorgate.Counter, error) {
	res, err := getScript.Run(ctx, s.client,
		[]string{s.keyPrefix + key},
		s.now().UnixMilli(),
	).Int64Slice()
	if err != nil {
		return tutorgate.Counter{}, fmt.Errorf("tutorgate/redis: get: %w", err)
	}
	return toCounter(res)
}

func toCounter(res []int64) (tutorgate.Counter, error) {
	if len(res) != 2 {
		return tutorgate.Counter{}, fmt.Errorf("tutorgate/redis: unexpected script result: %v", res)
	}
	c := tutorgate.Counter{Value: res[0]}
	if res[1] > 0 {
		c.ResetAt = time.UnixMilli(res[1])
	}
	return c, nil
}
