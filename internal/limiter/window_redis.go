package limiter

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/and161185/bruh/internal/errs"
)

// admitScript runs check-and-increment in one server-side step.
// KEYS[1] window hash; ARGV: now_ms, window_ms, limit.
// Returns {admitted, count, start_ms}.
var admitScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local v = redis.call('HMGET', KEYS[1], 'count', 'start')
local count = tonumber(v[1])
local start = tonumber(v[2])
if count == nil or start == nil or now >= start + window then
  redis.call('HSET', KEYS[1], 'count', 1, 'start', ARGV[1])
  redis.call('PEXPIRE', KEYS[1], window)
  return {1, 1, now}
end
if count >= limit then
  return {0, count, start}
end
count = redis.call('HINCRBY', KEYS[1], 'count', 1)
return {1, count, start}
`)

// refundScript decrements only if the window started at ARGV[1] is still current.
var refundScript = redis.NewScript(`
local v = redis.call('HMGET', KEYS[1], 'count', 'start')
if v[2] == ARGV[1] and tonumber(v[1]) ~= nil and tonumber(v[1]) > 0 then
  return redis.call('HINCRBY', KEYS[1], 'count', -1)
end
return -1
`)

// RedisWindow keeps send windows in Redis hashes that expire with the window.
type RedisWindow struct {
	rdb    redis.Scripter
	prefix string
	limit  int
	window time.Duration
	now    func() time.Time
}

// NewRedisWindow constructs a Redis-backed window guard. *redis.Client satisfies rdb.
func NewRedisWindow(rdb redis.Scripter, limit int, window time.Duration) *RedisWindow {
	return &RedisWindow{rdb: rdb, prefix: "bruh:rl:", limit: limit, window: window, now: time.Now}
}

func (l *RedisWindow) key(identifier, resource string) string {
	return l.prefix + windowKey(identifier, resource)
}

// Admit implements WindowGuard.
func (l *RedisWindow) Admit(ctx context.Context, identifier, resource string) (Window, error) {
	now := l.now().UnixMilli()
	res, err := admitScript.Run(ctx, l.rdb, []string{l.key(identifier, resource)},
		strconv.FormatInt(now, 10), l.window.Milliseconds(), l.limit).Int64Slice()
	if err != nil {
		return Window{}, fmt.Errorf("redis admit: %w", err)
	}
	if len(res) != 3 {
		return Window{}, fmt.Errorf("redis admit: unexpected reply %v", res)
	}

	start := time.UnixMilli(res[2])
	end := start.Add(l.window)
	if res[0] == 0 {
		return Window{}, &errs.RateLimitError{RetryAfter: end.Sub(time.UnixMilli(now))}
	}
	return Window{
		Identifier: identifier,
		Resource:   resource,
		Count:      int(res[1]),
		Start:      start,
		End:        end,
	}, nil
}

// Refund implements WindowGuard.
func (l *RedisWindow) Refund(ctx context.Context, w Window) error {
	err := refundScript.Run(ctx, l.rdb, []string{l.key(w.Identifier, w.Resource)},
		strconv.FormatInt(w.Start.UnixMilli(), 10)).Err()
	if err != nil {
		return fmt.Errorf("redis refund: %w", err)
	}
	return nil
}
