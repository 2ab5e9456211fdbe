package modelpool

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
)

// KEYS[1] = per-key hash
// ARGV[1] = limit, ARGV[2] = window seconds, ARGV[3] = now (unix seconds, float)
// Returns 1 when admitted, 0 when the key is at its limit.
const luaWindowScript = `
local key = KEYS[1]
local limit = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local now = tonumber(ARGV[3])

local data = redis.call('HMGET', key, 'count', 'last_call')
local count = tonumber(data[1]) or 0
local last = tonumber(data[2]) or 0

if now - last > window then
    count = 0
end

if count >= limit then
    return 0
end

redis.call('HSET', key, 'count', count + 1, 'last_call', now)
redis.call('EXPIRE', key, math.ceil(window * 2))
return 1
`

// RedisLimiter shares key counters across processes through Redis. It
// applies the same window rule as MemoryLimiter atomically in a Lua script.
type RedisLimiter struct {
	client    redis.Scripter
	script    *redis.Script
	window    time.Duration
	keyPrefix string
	now       func() time.Time
}

// NewRedisLimiter creates a limiter backed by client.
func NewRedisLimiter(client redis.Scripter, window time.Duration) *RedisLimiter {
	if window <= 0 {
		window = 60 * time.Second
	}
	return &RedisLimiter{
		client:    client,
		script:    redis.NewScript(luaWindowScript),
		window:    window,
		keyPrefix: "persona_sim:rate:",
		now:       time.Now,
	}
}

// NewRedisClient parses a redis:// URL into a client.
func NewRedisClient(url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, eris.Wrap(err, "modelpool: parse redis url")
	}
	return redis.NewClient(opts), nil
}

// Acquire implements RateLimiter.
func (l *RedisLimiter) Acquire(ctx context.Context, keyID string, limit int) (bool, error) {
	if limit <= 0 {
		limit = DefaultRateLimit
	}
	now := float64(l.now().UnixNano()) / float64(time.Second)
	res, err := l.script.Run(ctx, l.client, []string{l.keyPrefix + keyID},
		limit, l.window.Seconds(), now).Int()
	if err != nil {
		return false, eris.Wrapf(err, "modelpool: redis acquire %s", l.keyPrefix+keyID)
	}
	return res == 1, nil
}
