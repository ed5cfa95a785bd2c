package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func draftRouter(mw ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(mw...)
	r.PATCH("/responses", func(c *gin.Context) { c.Status(http.StatusOK) })
	return r
}

func patchFrom(r http.Handler, ip string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPatch, "/responses", nil)
	req.RemoteAddr = ip + ":40000"
	r.ServeHTTP(w, req)
	return w
}

func TestKeyByClientIP(t *testing.T) {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest(http.MethodPatch, "/responses", nil)
	c.Request.RemoteAddr = "198.51.100.4:5555"
	if got := KeyByClientIP()(c); got != "ip:198.51.100.4" {
		t.Fatalf("key = %q", got)
	}
}

func TestRateLimiter_AutosaveBurstPerClient(t *testing.T) {
	rl := NewRateLimiter(0.001, 2, KeyByClientIP())
	r := draftRouter(func(c *gin.Context) { c.Header("X-Request-ID", "req-9"); c.Next() }, rl.Handler())

	for i := 0; i < 2; i++ {
		if w := patchFrom(r, "192.0.2.1"); w.Code != http.StatusOK {
			t.Fatalf("save %d: %d", i, w.Code)
		}
	}
	w := patchFrom(r, "192.0.2.1")
	if w.Code != http.StatusTooManyRequests || w.Header().Get("Retry-After") != "1" {
		t.Fatalf("third save: %d retry-after=%q", w.Code, w.Header().Get("Retry-After"))
	}
	var body map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["code"] != "rate_limited" || body["request_id"] != "req-9" {
		t.Fatalf("body = %v", body)
	}

	// another respondent has its own bucket
	if w := patchFrom(r, "192.0.2.2"); w.Code != http.StatusOK {
		t.Fatalf("other client: %d", w.Code)
	}
}

func TestRateLimiter_ZeroBurstAllowsOne(t *testing.T) {
	rl := NewRateLimiter(0.001, 0, KeyByClientIP())
	r := draftRouter(rl.Handler())
	if w := patchFrom(r, "192.0.2.1"); w.Code != http.StatusOK {
		t.Fatalf("first: %d", w.Code)
	}
	if w := patchFrom(r, "192.0.2.1"); w.Code != http.StatusTooManyRequests {
		t.Fatalf("second: %d", w.Code)
	}
}

func TestRateLimiter_ReplayDoesNotSpendTokens(t *testing.T) {
	rl := NewRateLimiter(0.001, 1, KeyByClientIP())
	replay := func(c *gin.Context) { c.Set(ctxKeyRateBypass, true); c.Next() }
	r := draftRouter(replay, rl.Handler())
	for i := 0; i < 3; i++ {
		if w := patchFrom(r, "192.0.2.1"); w.Code != http.StatusOK {
			t.Fatalf("replay %d: %d", i, w.Code)
		}
	}
	if n := len(rl.buckets); n != 0 {
		t.Fatalf("replays created %d buckets", n)
	}
}

func TestRateLimiter_SweepDropsIdleBuckets(t *testing.T) {
	rl := NewRateLimiter(1, 1, KeyByClientIP())
	start := time.Now()
	stale := rl.limiterFor("ip:stale", start)
	rl.limiterFor("ip:fresh", start.Add(bucketIdleTTL))

	rl.lookups = bucketSweepEvery - 1
	if got := rl.limiterFor("ip:stale", start.Add(bucketIdleTTL)); got == stale {
		t.Fatalf("stale bucket survived the sweep")
	}
	if _, ok := rl.buckets["ip:fresh"]; !ok {
		t.Fatalf("fresh bucket was swept")
	}
	if rl.lookups != 0 {
		t.Fatalf("lookups not reset: %d", rl.lookups)
	}
}

func TestIsRateBypass_IgnoresNonBool(t *testing.T) {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	if IsRateBypass(c) {
		t.Fatalf("unset should not bypass")
	}
	c.Set(ctxKeyRateBypass, "yes")
	if IsRateBypass(c) {
		t.Fatalf("non-bool should not bypass")
	}
}
