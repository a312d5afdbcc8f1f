// Package ratelimit throttles abuse-prone endpoints (login, admin sweeps)
// with a fixed-window counter in Redis, shared across API replicas.
package ratelimit

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

// Limiter counts requests per key per window. A nil Redis client disables it.
type Limiter struct {
	rdb    *redis.Client
	limit  int
	window time.Duration
	prefix string
}

// New returns a Limiter allowing limit requests per window. prefix namespaces
// the Redis keys so independent limiters do not collide.
func New(rdb *redis.Client, limit int, window time.Duration, prefix string) *Limiter {
	if prefix == "" {
		prefix = "rl"
	}
	return &Limiter{rdb: rdb, limit: limit, window: window, prefix: "rl:" + prefix + ":"}
}

// counterScript bumps the window counter, starting the window on first hit.
const counterScript = `
local n = redis.call('INCR', KEYS[1])
if n == 1 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return n
`

// Allow consumes one slot for key. It fails open on Redis errors so a cache
// outage does not lock out logins.
func (l *Limiter) Allow(ctx context.Context, key string) (bool, error) {
	if l.rdb == nil || l.limit <= 0 {
		return true, nil
	}
	n, err := l.rdb.Eval(ctx, counterScript, []string{l.prefix + key}, l.window.Milliseconds()).Int()
	if err != nil {
		return true, err
	}
	return n <= l.limit, nil
}

// Middleware rejects requests over the limit with 429. keyFunc picks the
// client identity, typically the source IP or authenticated user id.
func (l *Limiter) Middleware(keyFunc func(*gin.Context) string) gin.HandlerFunc {
	return func(c *gin.Context) {
		ok, err := l.Allow(c.Request.Context(), keyFunc(c))
		if err != nil {
			c.Next()
			return
		}
		if !ok {
			secs := int(l.window / time.Second)
			if secs < 1 {
				secs = 1
			}
			c.Header("Retry-After", strconv.Itoa(secs))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limited"})
			return
		}
		c.Next()
	}
}

// ByIP keys requests on the client address.
func ByIP(c *gin.Context) string { return c.ClientIP() }
