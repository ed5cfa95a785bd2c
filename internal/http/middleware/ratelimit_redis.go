package middleware

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// RedisRateLimiter is a fixed-window limiter whose counters live in Redis,
// so every instance behind a load balancer shares one budget per key.
//
// Each request increments "<prefix><key>:<window>" and sets its expiry in a
// single pipeline. When Redis is unreachable the limiter fails open and logs
// a warning: autosave traffic must not stop because the limiter's store did.
type RedisRateLimiter struct {
	client *redis.Client
	limit  int64
	window time.Duration
	keyFn  keyFunc
	prefix string
	now    func() time.Time
}

// NewRedisClient parses url, connects and pings the server.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}

// NewRedisRateLimiter allows limit requests per window for each key.
// limit values < 1 are coerced to 1 and window defaults to one second.
func NewRedisRateLimiter(client *redis.Client, limit int, window time.Duration, keyFn keyFunc) *RedisRateLimiter {
	if limit < 1 {
		limit = 1
	}
	if window <= 0 {
		window = time.Second
	}
	return &RedisRateLimiter{
		client: client,
		limit:  int64(limit),
		window: window,
		keyFn:  keyFn,
		prefix: "draftsync:rl:",
		now:    time.Now,
	}
}

// Allow records one hit for key and reports whether it fits the budget.
func (rl *RedisRateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	slot := rl.now().UnixNano() / int64(rl.window)
	k := rl.prefix + key + ":" + strconv.FormatInt(slot, 10)

	var incr *redis.IntCmd
	_, err := rl.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		incr = p.Incr(ctx, k)
		p.Expire(ctx, k, rl.window+time.Second)
		return nil
	})
	if err != nil {
		return true, err
	}
	return incr.Val() <= rl.limit, nil
}

// Handler returns a Gin middleware enforcing the shared limit. Replays
// marked by IdempotencyValidator are not counted.
func (rl *RedisRateLimiter) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if IsRateBypass(c) {
			c.Next()
			return
		}
		ok, err := rl.Allow(c.Request.Context(), rl.keyFn(c))
		if err != nil {
			log.Warn().Err(err).Msg("redis rate limiter unavailable; allowing request")
		}
		if ok {
			c.Next()
			return
		}
		abortRateLimited(c)
	}
}
