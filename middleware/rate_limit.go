package middleware

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// RateLimiter counts requests per client IP within a sliding window. It
// protects the search endpoint, which fans out to upstream on every cache
// miss.
type RateLimiter struct {
	mu           sync.Mutex
	counts       map[string]*windowCount
	maxRequests  int
	windowPeriod time.Duration
}

type windowCount struct {
	count   int
	firstAt time.Time
}

// NewRateLimiter creates a limiter allowing maxRequests per windowPeriod per
// IP and starts its cleanup loop.
func NewRateLimiter(maxRequests int, windowPeriod time.Duration) *RateLimiter {
	rl := &RateLimiter{
		counts:       make(map[string]*windowCount),
		maxRequests:  maxRequests,
		windowPeriod: windowPeriod,
	}
	go rl.startCleanup()
	return rl
}

func (rl *RateLimiter) startCleanup() {
	ticker := time.NewTicker(10 * time.Minute)
	for range ticker.C {
		rl.cleanup()
	}
}

func (rl *RateLimiter) cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	for ip, wc := range rl.counts {
		if now.Sub(wc.firstAt) > rl.windowPeriod {
			delete(rl.counts, ip)
		}
	}
}

// Allow records one request for ip and reports whether it is within the
// limit. When denied, retryAfter says how long until the window resets.
func (rl *RateLimiter) Allow(ip string) (allowed bool, remaining int, retryAfter time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	wc, exists := rl.counts[ip]
	if !exists || now.Sub(wc.firstAt) > rl.windowPeriod {
		rl.counts[ip] = &windowCount{count: 1, firstAt: now}
		return true, rl.maxRequests - 1, 0
	}

	if wc.count >= rl.maxRequests {
		return false, 0, rl.windowPeriod - now.Sub(wc.firstAt)
	}
	wc.count++
	return true, rl.maxRequests - wc.count, 0
}

// Middleware enforces the limit and sets rate limit headers.
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		allowed, remaining, retryAfter := rl.Allow(c.ClientIP())
		c.Header("X-RateLimit-Remaining", fmt.Sprintf("%d", remaining))

		if !allowed {
			c.Header("Retry-After", fmt.Sprintf("%d", int(retryAfter.Seconds())+1))
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded, slow down"})
			c.Abort()
			return
		}
		c.Next()
	}
}
