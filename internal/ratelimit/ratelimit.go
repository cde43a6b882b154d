// Package ratelimit throttles credential endpoints with a redis-backed
// token bucket, so the budget holds across API replicas. The in-process
// limiter in the app middleware covers global throughput; this one is
// per caller.
package ratelimit

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Limiter allows capacity requests per window for each key.
type Limiter struct {
	rdb      *redis.Client
	capacity int
	window   time.Duration
	prefix   string
}

// New builds a Limiter. prefix namespaces the redis keys so separate
// endpoints can carry separate budgets.
func New(rdb *redis.Client, capacity int, window time.Duration, prefix string) *Limiter {
	return &Limiter{rdb: rdb, capacity: capacity, window: window, prefix: "rl:" + prefix + ":"}
}

// Allow consumes a token for key. Without redis the limiter is inert.
func (l *Limiter) Allow(ctx context.Context, key string) (bool, error) {
	if l == nil || l.rdb == nil || l.capacity <= 0 {
		return true, nil
	}
	now := time.Now().UnixMilli()
	interval := l.window.Milliseconds() / int64(l.capacity)
	res, err := l.rdb.Eval(ctx, bucketScript, []string{l.prefix + key}, l.capacity, interval, now).Int()
	if err != nil {
		return false, err
	}
	return res == 1, nil
}

// ByIP limits on the caller's address, the right key for endpoints hit
// before authentication.
func ByIP(c *gin.Context) string { return c.ClientIP() }

// Middleware rejects callers over budget with the standard envelope.
// Redis trouble fails open: a cache outage must not lock everyone out
// of login.
func (l *Limiter) Middleware(keyFunc func(*gin.Context) string) gin.HandlerFunc {
	return func(c *gin.Context) {
		ok, err := l.Allow(c.Request.Context(), keyFunc(c))
		if err != nil {
			log.Ctx(c.Request.Context()).Error().Err(err).Msg("rate limiter unavailable")
			c.Next()
			return
		}
		if !ok {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"success": false, "message": "too many requests"})
			return
		}
		c.Next()
	}
}

// bucketScript holds remaining tokens and the last refill timestamp in
// a hash per key.
const bucketScript = `
local key = KEYS[1]
local capacity = tonumber(ARGV[1])
local interval = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local data = redis.call('HMGET', key, 'tokens', 'ts')
local tokens = tonumber(data[1])
local ts = tonumber(data[2])
if tokens == nil then
  tokens = capacity
  ts = now
else
  local delta = now - ts
  local add = math.floor(delta / interval)
  if add > 0 then
    tokens = math.min(tokens + add, capacity)
    ts = ts + add * interval
  end
end
local allowed = 0
if tokens > 0 then
  tokens = tokens - 1
  allowed = 1
end
redis.call('HMSET', key, 'tokens', tokens, 'ts', ts)
redis.call('PEXPIRE', key, interval * capacity)
return allowed
`
