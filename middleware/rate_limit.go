package middleware

import (
	"net/http"
	"sync"
	"time"

	apperrors "order-service/common/errors"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter keeps one token bucket per user.
type RateLimiter struct {
	users map[string]*limiterEntry
	mu    sync.Mutex
	rate  rate.Limit
	burst int
	ttl   time.Duration
	now   func() time.Time
}

// NewRateLimiter allows perMinute requests per user with the given burst.
func NewRateLimiter(perMinute float64, burst int, ttl time.Duration) *RateLimiter {
	return &RateLimiter{
		users: make(map[string]*limiterEntry),
		rate:  rate.Limit(perMinute / 60),
		burst: burst,
		ttl:   ttl,
		now:   time.Now,
	}
}

func (rl *RateLimiter) getLimiter(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	entry, ok := rl.users[key]
	if !ok {
		entry = &limiterEntry{limiter: rate.NewLimiter(rl.rate, rl.burst)}
		rl.users[key] = entry
	}
	entry.lastSeen = now
	return entry.limiter
}

// Cleanup drops buckets idle for longer than the ttl.
func (rl *RateLimiter) Cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	now := rl.now()
	for key, e := range rl.users {
		if now.Sub(e.lastSeen) > rl.ttl {
			delete(rl.users, key)
		}
	}
}

// Middleware limits by authenticated user, falling back to client IP.
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.ClientIP()
		if id, err := GetUserID(c); err == nil {
			key = id.String()
		}
		if !rl.getLimiter(key).Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":  "Too many checkout attempts, please retry later",
				"reason": apperrors.ReasonRateLimited,
			})
			return
		}
		c.Next()
	}
}
