package httpx

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisLimiter is a fixed-window rate limiter backed by Redis, for
// deployments where multiple service instances share one budget per actor.
type RedisLimiter struct {
	rdb    *redis.Client
	limits map[RouteClass]ClassLimit
	prefix string
}

// The script increments the window counter, arms its expiry on first use, and
// returns the count together with the remaining window so callers can compute
// an accurate retry-after without a second round trip.
var redisFixedWindowScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
return {current, ttl}
`)

func NewRedisLimiter(rdb *redis.Client, limits map[RouteClass]ClassLimit, prefix string) *RedisLimiter {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "rl"
	}
	return &RedisLimiter{rdb: rdb, limits: limits, prefix: prefix}
}

func (l *RedisLimiter) Allow(ctx context.Context, actorKey string, class RouteClass) (Decision, error) {
	limit, ok := l.limits[class]
	if !ok || limit.Limit <= 0 {
		return Decision{Allowed: true}, nil
	}
	window := limit.Window
	if window <= 0 {
		window = time.Minute
	}

	key := l.prefix + ":" + string(class) + ":" + actorKey
	res, err := redisFixedWindowScript.Run(ctx, l.rdb, []string{key}, window.Milliseconds()).Result()
	if err != nil {
		return Decision{}, err
	}

	arr, ok := res.([]interface{})
	if !ok || len(arr) != 2 {
		return Decision{}, fmt.Errorf("unexpected redis script result %#v", res)
	}
	count := toInt64(arr[0])
	ttlMillis := toInt64(arr[1])
	if ttlMillis < 0 {
		ttlMillis = window.Milliseconds()
	}

	if count > int64(limit.Limit) {
		return Decision{
			Allowed:    false,
			RetryAfter: time.Duration(ttlMillis) * time.Millisecond,
		}, nil
	}
	return Decision{Allowed: true, Remaining: limit.Limit - int(count)}, nil
}

func toInt64(v interface{}) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case int:
		return int64(t)
	case string:
		// Lua sometimes returns strings depending on Redis config/driver conversions.
		n, _ := strconv.ParseInt(t, 10, 64)
		return n
	default:
		return 0
	}
}
