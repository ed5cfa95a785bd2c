// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// ratelimit.go holds the process-local token bucket limiter. Autosaving
// clients send a PATCH every few seconds per open form, so the default budget
// is sized for steady draft traffic rather than bursts of reads. Deployments
// with more than one replica should use RedisRateLimiter instead.
package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

const (
	bucketIdleTTL    = 10 * time.Minute
	bucketSweepEvery = 5000
)

// keyFunc maps a request to the identity that owns a bucket.
type keyFunc func(*gin.Context) string

// KeyByClientIP buckets requests by client IP ("ip:203.0.113.7").
//
// Respondents are anonymous and the session id travels in the request body,
// which a client can rotate freely, so the IP is the only identity worth
// limiting on.
func KeyByClientIP() keyFunc {
	return func(c *gin.Context) string {
		return "ip:" + c.ClientIP()
	}
}

type bucket struct {
	lim  *rate.Limiter
	seen time.Time
}

// RateLimiter is a per-key token bucket limiter. It is safe for concurrent use.
type RateLimiter struct {
	every rate.Limit
	burst int
	key   keyFunc

	mu      sync.Mutex
	buckets map[string]*bucket
	idle    time.Duration
	lookups int
}

// NewRateLimiter allows rps requests per second per key with the given burst.
// A burst below one is raised to one.
func NewRateLimiter(rps float64, burst int, key keyFunc) *RateLimiter {
	return &RateLimiter{
		every:   rate.Limit(rps),
		burst:   max(burst, 1),
		key:     key,
		buckets: make(map[string]*bucket),
		idle:    bucketIdleTTL,
	}
}

// limiterFor returns the bucket for key, creating it on first use. Every
// bucketSweepEvery lookups the idle buckets are dropped first, so a stale
// bucket is replaced rather than refreshed.
func (rl *RateLimiter) limiterFor(key string, now time.Time) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if rl.lookups++; rl.lookups >= bucketSweepEvery {
		rl.sweepLocked(now)
		rl.lookups = 0
	}
	b, ok := rl.buckets[key]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(rl.every, rl.burst)}
		rl.buckets[key] = b
	}
	b.seen = now
	return b.lim
}

func (rl *RateLimiter) sweepLocked(now time.Time) {
	for k, b := range rl.buckets {
		if now.Sub(b.seen) >= rl.idle {
			delete(rl.buckets, k)
		}
	}
}

// IsRateBypass reports whether the request was marked as an idempotent
// replay by IdempotencyValidator. Replays of a submission are answered from
// the stored record and do not spend tokens.
func IsRateBypass(c *gin.Context) bool {
	return c.GetBool(ctxKeyRateBypass)
}

// Handler rejects requests over budget with 429 and the shared error
// envelope (code "rate_limited").
func (rl *RateLimiter) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if IsRateBypass(c) || rl.limiterFor(rl.key(c), time.Now()).Allow() {
			c.Next()
			return
		}
		abortRateLimited(c)
	}
}

func abortRateLimited(c *gin.Context) {
	c.Header("Retry-After", "1")
	c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
		"request_id": c.Writer.Header().Get("X-Request-ID"),
		"code":       "rate_limited",
		"message":    "rate limit exceeded",
	})
}
