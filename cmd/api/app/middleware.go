package app

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

const requestIDKey = "request_id"

// RequestID tags each request with an id, reusing a caller-supplied
// X-Request-ID so the id stays stable across proxies, and binds a logger
// carrying it to the request context.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.New().String()
		}
		c.Set(requestIDKey, id)
		c.Writer.Header().Set("X-Request-ID", id)
		logger := log.With().Str("request_id", id).Logger()
		c.Request = c.Request.WithContext(logger.WithContext(c.Request.Context()))
		c.Next()
	}
}

// RateLimit applies a process-wide token bucket. Throttled requests get a
// Retry-After hint rounded up to whole seconds.
func RateLimit(l *rate.Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		r := l.Reserve()
		if d := r.Delay(); d > 0 {
			r.Cancel()
			c.Header("Retry-After", strconv.Itoa(int(d/time.Second)+1))
			c.AbortWithStatusJSON(http.StatusTooManyRequests,
				Envelope{Error: &Error{Code: "rate_limited", Message: "too many requests", RequestID: c.GetString(requestIDKey)}})
			return
		}
		c.Next()
	}
}

// Logger emits one access log line per request using the route template, so
// /tickets/:id aggregates as one route rather than one entry per ticket.
func Logger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		ev := log.Ctx(c.Request.Context()).Info()
		if c.Writer.Status() >= http.StatusInternalServerError {
			ev = log.Ctx(c.Request.Context()).Error()
		}
		ev.Str("method", c.Request.Method).
			Str("route", route).
			Int("status", c.Writer.Status()).
			Dur("duration", time.Since(start)).
			Str("ip", c.ClientIP()).
			Msg("request")
	}
}
