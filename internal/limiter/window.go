package limiter

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// hitScript increments the window counter and sets its lifetime on the first hit.
var hitScript = redis.NewScript(`
local n = redis.call('INCR', KEYS[1])
if n == 1 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return {n, redis.call('PTTL', KEYS[1])}
`)

// RedisWindow is a fixed-window counter kept in Redis.
// It is best-effort and not linearizable across windows.
type RedisWindow struct {
	rdb    redis.Scripter
	prefix string
}

// NewRedisWindow constructs a Redis-backed window limiter.
func NewRedisWindow(rdb redis.Scripter) *RedisWindow {
	return &RedisWindow{rdb: rdb, prefix: "rl:"}
}

// Hit implements Window.
func (w *RedisWindow) Hit(ctx context.Context, key string, limit int, window time.Duration) (Decision, error) {
	vals, err := hitScript.Run(ctx, w.rdb, []string{w.prefix + key}, window.Milliseconds()).Int64Slice()
	if err != nil {
		return Decision{}, err
	}
	if len(vals) != 2 {
		return Decision{}, fmt.Errorf("rate window: unexpected reply %v", vals)
	}
	d := Decision{Count: vals[0], Limit: limit, Allowed: vals[0] <= int64(limit)}
	if !d.Allowed {
		d.RetryAfter = time.Duration(vals[1]) * time.Millisecond
		if d.RetryAfter <= 0 {
			d.RetryAfter = window
		}
	}
	return d, nil
}
