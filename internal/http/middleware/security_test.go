package middleware

import (
	"crypto/tls"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func securedDraftGet(opt SecurityOptions, prep func(*http.Request), pre ...gin.HandlerFunc) http.Header {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(pre...)
	r.Use(SecurityHeaders(opt))
	r.GET("/api/v1/responses", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"answers": gin.H{}}) })

	req := httptest.NewRequest(http.MethodGet, "/api/v1/responses?questionnaire_id=q1", nil)
	if prep != nil {
		prep(req)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w.Header()
}

func overTLS(r *http.Request)     { r.TLS = &tls.ConnectionState{} }
func viaTLSProxy(r *http.Request) { r.Header.Set("X-Forwarded-Proto", "HTTPS") }

func TestSecurityHeaders(t *testing.T) {
	cases := []struct {
		name string
		opt  SecurityOptions
		prep func(*http.Request)
		want map[string]string
	}{
		{
			name: "baseline only",
			want: map[string]string{
				"X-Content-Type-Options":    "nosniff",
				"X-Frame-Options":           "DENY",
				"Referrer-Policy":           "no-referrer",
				"Cache-Control":             "",
				"Permissions-Policy":        "",
				"Strict-Transport-Security": "",
			},
		},
		{
			name: "draft reads are not cached",
			opt:  SecurityOptions{NoStore: true},
			want: map[string]string{"Cache-Control": "no-store", "Pragma": "no-cache", "Expires": "0"},
		},
		{
			name: "browser policy",
			opt:  SecurityOptions{EnablePolicy: true},
			want: map[string]string{"X-Permitted-Cross-Domain-Policies": "none"},
		},
		{
			name: "hsts skipped on plain http",
			opt:  SecurityOptions{EnableHSTS: true},
			want: map[string]string{"Strict-Transport-Security": ""},
		},
		{
			name: "hsts over tls",
			opt:  SecurityOptions{EnableHSTS: true, HSTSMaxAge: 24 * time.Hour},
			prep: overTLS,
			want: map[string]string{"Strict-Transport-Security": "max-age=86400; includeSubDomains; preload"},
		},
		{
			name: "hsts behind tls proxy with default age",
			opt:  SecurityOptions{EnableHSTS: true},
			prep: viaTLSProxy,
			want: map[string]string{"Strict-Transport-Security": "max-age=15552000; includeSubDomains; preload"},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := securedDraftGet(tc.opt, tc.prep)
			for k, v := range tc.want {
				if got := h.Get(k); got != v {
					t.Fatalf("%s = %q; want %q", k, got, v)
				}
			}
		})
	}
}

func TestSecurityHeaders_ExposesRequestID(t *testing.T) {
	withHeaders := func(kv ...string) gin.HandlerFunc {
		return func(c *gin.Context) {
			for i := 0; i+1 < len(kv); i += 2 {
				c.Header(kv[i], kv[i+1])
			}
			c.Next()
		}
	}
	cases := []struct {
		name string
		pre  gin.HandlerFunc
		want string
	}{
		{"no request id", withHeaders(), ""},
		{"fresh", withHeaders(requestIDHeader, "rid-1"), "X-Request-ID"},
		{"appended", withHeaders(requestIDHeader, "rid-1", "Access-Control-Expose-Headers", "ETag"), "ETag, X-Request-ID"},
		{"kept once", withHeaders(requestIDHeader, "rid-1", "Access-Control-Expose-Headers", "X-Request-ID, ETag"), "X-Request-ID, ETag"},
	}
	for _, tc := range cases {
		h := securedDraftGet(SecurityOptions{}, nil, tc.pre)
		if got := h.Get("Access-Control-Expose-Headers"); got != tc.want {
			t.Fatalf("%s: expose = %q; want %q", tc.name, got, tc.want)
		}
	}
}

func Test_isHTTPS(t *testing.T) {
	plain := httptest.NewRequest(http.MethodGet, "/", nil)
	direct := httptest.NewRequest(http.MethodGet, "/", nil)
	overTLS(direct)
	proxied := httptest.NewRequest(http.MethodGet, "/", nil)
	viaTLSProxy(proxied)

	if isHTTPS(plain) || !isHTTPS(direct) || !isHTTPS(proxied) {
		t.Fatalf("isHTTPS: plain=%v direct=%v proxied=%v", isHTTPS(plain), isHTTPS(direct), isHTTPS(proxied))
	}
}
