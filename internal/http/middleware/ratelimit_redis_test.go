package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

func newMiniRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client, err := NewRedisClient(context.Background(), "redis://"+mr.Addr())
	if err != nil {
		t.Fatalf("NewRedisClient: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestNewRedisClient_BadURL(t *testing.T) {
	if _, err := NewRedisClient(context.Background(), "://nope"); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestRedisRateLimiter_Allow_WindowAndExpiry(t *testing.T) {
	mr, client := newMiniRedis(t)
	rl := NewRedisRateLimiter(client, 2, time.Second, KeyByClientIP())
	fixed := time.Unix(1_700_000_000, 0)
	rl.now = func() time.Time { return fixed }
	ctx := context.Background()

	for i, want := range []bool{true, true, false} {
		ok, err := rl.Allow(ctx, "ip:1.2.3.4")
		if err != nil {
			t.Fatalf("Allow #%d: %v", i, err)
		}
		if ok != want {
			t.Fatalf("Allow #%d = %v; want %v", i, ok, want)
		}
	}

	// Other keys have their own budget.
	if ok, _ := rl.Allow(ctx, "ip:5.6.7.8"); !ok {
		t.Fatalf("independent key should be allowed")
	}

	// Counters carry a TTL so stale windows disappear.
	var counterKey string
	for _, k := range mr.Keys() {
		counterKey = k
		break
	}
	if counterKey == "" || mr.TTL(counterKey) <= 0 {
		t.Fatalf("expected counter with TTL, keys=%v", mr.Keys())
	}

	// The next window starts a fresh count.
	rl.now = func() time.Time { return fixed.Add(time.Second) }
	if ok, _ := rl.Allow(ctx, "ip:1.2.3.4"); !ok {
		t.Fatalf("new window should allow again")
	}
}

func TestRedisRateLimiter_Handler_DenyBypassAndFailOpen(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mr, client := newMiniRedis(t)
	rl := NewRedisRateLimiter(client, 1, time.Minute, KeyByClientIP())

	r := gin.New()
	r.Use(func(c *gin.Context) {
		if c.GetHeader("X-Replay") == "1" {
			c.Set(ctxKeyRateBypass, true)
		}
		c.Next()
	})
	r.Use(rl.Handler())
	r.GET("/ok", func(c *gin.Context) { c.Status(http.StatusOK) })

	do := func(replay bool) int {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/ok", nil)
		if replay {
			req.Header.Set("X-Replay", "1")
		}
		r.ServeHTTP(w, req)
		return w.Code
	}

	if code := do(false); code != http.StatusOK {
		t.Fatalf("first request: %d", code)
	}
	if code := do(false); code != http.StatusTooManyRequests {
		t.Fatalf("second request should be limited, got %d", code)
	}
	if code := do(true); code != http.StatusOK {
		t.Fatalf("replay should bypass limiter, got %d", code)
	}

	// Redis failing: the limiter fails open.
	mr.SetError("LOADING server is loading")
	if code := do(false); code != http.StatusOK {
		t.Fatalf("limiter should fail open when redis errors, got %d", code)
	}
}
