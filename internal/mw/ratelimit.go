package mw

import (
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// CallerLimiter keeps one token bucket per caller key.
type CallerLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	r        rate.Limit
	b        int
}

// NewCallerLimiter creates a limiter allowing r requests per second with burst b per caller.
func NewCallerLimiter(r rate.Limit, b int) *CallerLimiter {
	return &CallerLimiter{
		limiters: make(map[string]*rate.Limiter),
		r:        r,
		b:        b,
	}
}

// Allow spends one token from key's bucket, creating the bucket on first use.
func (l *CallerLimiter) Allow(key string) bool {
	l.mu.Lock()
	limiter, ok := l.limiters[key]
	if !ok {
		limiter = rate.NewLimiter(l.r, l.b)
		l.limiters[key] = limiter
	}
	l.mu.Unlock()
	return limiter.Allow()
}

// callerKey is the actor when Actor ran earlier in the chain, else the client IP.
func callerKey(c *gin.Context) string {
	if actor := ActorOf(c); actor != "" {
		return "actor:" + actor
	}
	return "ip:" + c.ClientIP()
}

// RateLimiter rejects callers that exceed their bucket with 429.
func RateLimiter(r rate.Limit, b int) gin.HandlerFunc {
	limiter := NewCallerLimiter(r, b)
	return func(c *gin.Context) {
		if !limiter.Allow(callerKey(c)) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded", "code": "RATE_LIMITED"})
			return
		}
		c.Next()
	}
}
