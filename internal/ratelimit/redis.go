package ratelimit

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// KEYS are counter keys. ARGV holds the limits followed by the TTLs in seconds.
// Returns the 1-based indices of rejecting counters; empty means every counter was incremented.
var redisCheckAndIncrScript = redis.NewScript(`
local n = #KEYS
local rejected = {}
for i = 1, n do
  local current = tonumber(redis.call("GET", KEYS[i]) or "0")
  if current + 1 > tonumber(ARGV[i]) then
    table.insert(rejected, i)
  end
end
if #rejected > 0 then
  return rejected
end
for i = 1, n do
  local current = redis.call("INCR", KEYS[i])
  if current == 1 then
    redis.call("EXPIRE", KEYS[i], ARGV[n + i])
  end
end
return rejected
`)

// KEYS are counter keys. ARGV[1] is the amount, ARGV[2..] the TTLs in seconds.
var redisAddScript = redis.NewScript(`
local amount = tonumber(ARGV[1])
for i = 1, #KEYS do
  local current = redis.call("INCRBY", KEYS[i], amount)
  if current == amount then
    redis.call("EXPIRE", KEYS[i], ARGV[i + 1])
  end
end
return #KEYS
`)

// RedisLimiter implements fixed-window counters shared through Redis.
type RedisLimiter struct {
	client *redis.Client
}

// NewRedisLimiter constructs a RedisLimiter.
func NewRedisLimiter(client *redis.Client) *RedisLimiter {
	return &RedisLimiter{client: client}
}

// CheckAndIncrement runs the check and every increment in one script.
func (l *RedisLimiter) CheckAndIncrement(ctx context.Context, counters []counter, now time.Time) ([]int, error) {
	if l == nil || l.client == nil {
		return nil, errors.New("rate limit redis: not initialized")
	}
	if len(counters) == 0 {
		return nil, nil
	}
	keys := make([]string, 0, len(counters))
	args := make([]any, 0, 2*len(counters))
	for _, c := range counters {
		keys = append(keys, c.key)
		args = append(args, c.limit)
	}
	for _, c := range counters {
		args = append(args, ttlSeconds(c.reset, now))
	}
	res, errEval := redisCheckAndIncrScript.Run(ctx, l.client, keys, args...).Result()
	if errEval != nil {
		return nil, errEval
	}
	items, ok := res.([]any)
	if !ok {
		return nil, errors.New("rate limit redis: unexpected response type")
	}
	rejected := make([]int, 0, len(items))
	for _, item := range items {
		idx, okIdx := item.(int64)
		if !okIdx || idx < 1 || int(idx) > len(counters) {
			return nil, errors.New("rate limit redis: unexpected index in response")
		}
		rejected = append(rejected, int(idx)-1)
	}
	return rejected, nil
}

// Exceeded reads every counter and reports those at or above their limit.
func (l *RedisLimiter) Exceeded(ctx context.Context, counters []counter, _ time.Time) ([]int, error) {
	if l == nil || l.client == nil {
		return nil, errors.New("rate limit redis: not initialized")
	}
	if len(counters) == 0 {
		return nil, nil
	}
	keys := make([]string, 0, len(counters))
	for _, c := range counters {
		keys = append(keys, c.key)
	}
	values, errGet := l.client.MGet(ctx, keys...).Result()
	if errGet != nil {
		return nil, errGet
	}
	var exceeded []int
	for i, v := range values {
		current := int64(0)
		if s, ok := v.(string); ok {
			parsed, errParse := strconv.ParseInt(s, 10, 64)
			if errParse != nil {
				return nil, errParse
			}
			current = parsed
		}
		if current >= counters[i].limit {
			exceeded = append(exceeded, i)
		}
	}
	return exceeded, nil
}

// Add increments every counter by amount.
func (l *RedisLimiter) Add(ctx context.Context, counters []counter, amount int64, now time.Time) error {
	if l == nil || l.client == nil {
		return errors.New("rate limit redis: not initialized")
	}
	if amount <= 0 || len(counters) == 0 {
		return nil
	}
	keys := make([]string, 0, len(counters))
	args := make([]any, 0, len(counters)+1)
	args = append(args, amount)
	for _, c := range counters {
		keys = append(keys, c.key)
		args = append(args, ttlSeconds(c.reset, now))
	}
	return redisAddScript.Run(ctx, l.client, keys, args...).Err()
}

func ttlSeconds(reset, now time.Time) int64 {
	secs := int64(reset.Sub(now).Seconds()) + 1
	if secs < 1 {
		return 1
	}
	return secs
}
