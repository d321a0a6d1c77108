// Package api implements the local REST API and event stream of the
// metaserver client.
package api

import (
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// idleBucket is how long a caller's bucket is kept after its last command.
const idleBucket = 10 * time.Minute

// CommandLimiter throttles API calls that end up as metaserver commands on
// the shared session. Reads are served from the local snapshot and are not
// counted.
type CommandLimiter struct {
	mu      sync.Mutex
	callers map[string]*commandBucket
	rate    float64
	burst   float64
	now     func() time.Time
}

type commandBucket struct {
	tokens float64
	seen   time.Time
}

// NewCommandLimiter allows rps commands per second per caller, with bursts
// of twice that. rps <= 0 disables limiting.
func NewCommandLimiter(rps int) *CommandLimiter {
	return &CommandLimiter{
		callers: make(map[string]*commandBucket),
		rate:    float64(rps),
		burst:   float64(rps * 2),
		now:     time.Now,
	}
}

// allow takes one token from caller's bucket. When it is empty, it returns
// how long until the next token.
func (l *CommandLimiter) allow(caller string) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.callers[caller]
	if !ok {
		l.sweep(now)
		b = &commandBucket{tokens: l.burst, seen: now}
		l.callers[caller] = b
	}

	b.tokens = math.Min(l.burst, b.tokens+now.Sub(b.seen).Seconds()*l.rate)
	b.seen = now
	if b.tokens < 1 {
		wait := time.Duration((1 - b.tokens) / l.rate * float64(time.Second))
		return false, wait
	}
	b.tokens--
	return true, 0
}

func (l *CommandLimiter) sweep(now time.Time) {
	for caller, b := range l.callers {
		if now.Sub(b.seen) > idleBucket {
			delete(l.callers, caller)
		}
	}
}

// Middleware limits the mutating methods of a route group by client IP.
func (l *CommandLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if l.rate <= 0 || c.Request.Method == http.MethodGet || c.Request.Method == http.MethodHead {
			c.Next()
			return
		}

		ok, wait := l.allow(c.ClientIP())
		if !ok {
			secs := int(math.Ceil(wait.Seconds()))
			log.Debug().
				Str("client_ip", c.ClientIP()).
				Str("path", c.Request.URL.Path).
				Msg("metaserver command throttled")
			c.Header("Retry-After", strconv.Itoa(secs))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "too many metaserver commands",
				"retry_after": secs,
			})
			return
		}
		c.Next()
	}
}

// SecurityHeaders adds security-related HTTP headers.
func SecurityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("Referrer-Policy", "no-referrer")
		c.Header("Server", "metaclient")

		if strings.HasPrefix(c.Request.URL.Path, "/api/") {
			// Session state and lobby lists go stale within a tick.
			c.Header("Cache-Control", "no-store")
			c.Header("X-Frame-Options", "DENY")
			c.Header("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		}

		c.Next()
	}
}

// RequestLogger logs API calls. Calls that reached the metaserver are
// logged at info, failures at warn and everything else at debug.
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		status := c.Writer.Status()
		lvl := zerolog.DebugLevel
		switch {
		case status >= http.StatusInternalServerError:
			lvl = zerolog.WarnLevel
		case c.Request.Method == http.MethodPost && status < http.StatusBadRequest:
			lvl = zerolog.InfoLevel
		}

		log.WithLevel(lvl).
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", status).
			Dur("duration", time.Since(start)).
			Str("client_ip", c.ClientIP()).
			Msg("api request")
	}
}
