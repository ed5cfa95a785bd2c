// Package httpapi wires the HTTP transport (Gin) to the draft and submission
// services. It owns middleware ordering: tracing, correlation IDs, redacted
// logging, panic recovery, metrics, body limits, idempotency, rate limiting,
// CORS and security headers.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	_ "github.com/tbourn/go-draftsync/docs"
	"github.com/tbourn/go-draftsync/internal/config"
	"github.com/tbourn/go-draftsync/internal/domain"
	"github.com/tbourn/go-draftsync/internal/http/handlers"
	"github.com/tbourn/go-draftsync/internal/http/middleware"
	"github.com/tbourn/go-draftsync/internal/repo"
	"github.com/tbourn/go-draftsync/internal/services"
)

// draftRepoShim adapts the repository free functions to services.DraftRepo.
type draftRepoShim struct{}

// GetDraft proxies repo.GetDraft.
func (draftRepoShim) GetDraft(ctx context.Context, db *gorm.DB, scope domain.DraftScope) (*domain.Response, error) {
	return repo.GetDraft(ctx, db, scope)
}

// UpdateDraftAnswers proxies repo.UpdateDraftAnswers.
func (draftRepoShim) UpdateDraftAnswers(ctx context.Context, db *gorm.DB, scope domain.DraftScope, answers domain.Answers, at time.Time) (int64, error) {
	return repo.UpdateDraftAnswers(ctx, db, scope, answers, at)
}

// InsertDraft proxies repo.InsertDraft.
func (draftRepoShim) InsertDraft(ctx context.Context, db *gorm.DB, scope domain.DraftScope, answers domain.Answers, at time.Time) (*domain.Response, error) {
	return repo.InsertDraft(ctx, db, scope, answers, at)
}

// RegisterRoutes attaches all middleware and HTTP endpoints to the given Gin
// engine. rdb is optional: when non-nil the rate limit is shared through
// Redis, otherwise each process keeps its own token buckets.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. RedactingLogger (or plain Logger): structured logs
//  4. Recovery: capture panics after logger
//  5. Body size limiter
//  6. Metrics
//  7. Idempotency validator (before rate limiter to allow bypass on replay)
//  8. Rate limiter (per client IP, bypass on replay)
//  9. CORS and Security headers
func RegisterRoutes(r *gin.Engine, db *gorm.DB, rdb *redis.Client, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	// Dependency injection: services ← repo/db
	drafts := services.NewDraftService(db, draftRepoShim{})
	subs := services.NewSubmissionService(db)
	if cfg.MaxAnswers > 0 {
		drafts.MaxAnswers = cfg.MaxAnswers
		subs.MaxAnswers = cfg.MaxAnswers
	}
	if cfg.IdempotencyTTL > 0 {
		subs.IdempotencyTTL = cfg.IdempotencyTTL
	}
	h := handlers.New(drafts, subs)

	// 1) Trace all HTTP requests
	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))

	// 2) Correlate requests and logs
	r.Use(middleware.RequestID())

	// 3) Structured logging, redacted unless LOG_REDACT=false
	if cfg.LogRedact {
		r.Use(middleware.RedactingLogger(middleware.RedactOptions{}))
	} else {
		r.Use(middleware.Logger())
	}

	// 4) Panic recovery to JSON 500 (with request id)
	r.Use(middleware.Recovery())

	// 5) Global body size limit
	maxBody := cfg.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = 1 << 20
	}
	r.Use(limitBody(maxBody))

	// 6) Prometheus metrics and /metrics endpoint
	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 7) Idempotency validation (before rate limiting)
	r.Use(middleware.IdempotencyValidator(
		middleware.IdempotencyOptions{MaxLen: 200},
		func(ctx context.Context, key string, _ time.Time) (bool, error) {
			return subs.IdempotencyKeySeen(ctx, key)
		},
	))

	// 8) Rate limiting per client IP
	if rdb != nil {
		limit := cfg.RateBurst
		if int(cfg.RateRPS) > limit {
			limit = int(cfg.RateRPS)
		}
		r.Use(middleware.NewRedisRateLimiter(rdb, limit, time.Second, middleware.KeyByClientIP()).Handler())
	} else {
		r.Use(middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByClientIP()).Handler())
	}

	// 9) CORS posture (allow all if none configured; no credentials either way)
	corsCfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "If-None-Match", middleware.HeaderIdempotencyKey},
		ExposeHeaders:    []string{"X-Request-ID", "Content-Length", "ETag", "Retry-After", "Idempotent-Replayed"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}
	if len(cfg.CORS.AllowedOrigins) == 0 {
		// Force ACAO: * even for requests without an Origin header.
		r.Use(func(c *gin.Context) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
			c.Next()
		})
		corsCfg.AllowAllOrigins = true
	} else {
		// Echo ACAO for allowlisted origins, including same-host ones that
		// gin-contrib/cors skips.
		allowed := make(map[string]struct{}, len(cfg.CORS.AllowedOrigins))
		for _, o := range cfg.CORS.AllowedOrigins {
			allowed[o] = struct{}{}
		}
		r.Use(func(c *gin.Context) {
			if origin := c.GetHeader("Origin"); origin != "" {
				if _, ok := allowed[origin]; ok {
					h := c.Writer.Header()
					h.Set("Access-Control-Allow-Origin", origin)
					h.Add("Vary", "Origin")
				}
			}
			c.Next()
		})
		corsCfg.AllowOrigins = cfg.CORS.AllowedOrigins
	}
	r.Use(cors.New(corsCfg))

	// Security headers (HSTS only when enabled and request is HTTPS)
	security := middleware.SecurityOptions{
		EnableHSTS:   cfg.Security.EnableHSTS,
		HSTSMaxAge:   cfg.Security.HSTSMaxAge,
		EnablePolicy: true,
	}
	r.Use(middleware.SecurityHeaders(security))

	// Fallbacks
	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	// Liveness/health
	r.GET("/health", health(db))

	if cfg.SwaggerEnabled {
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	// Public API
	api := groupWithPrefix(r, cfg.APIBasePath)
	{
		// Drafts and submissions; draft reads must never be cached.
		noStore := security
		noStore.NoStore = true
		responses := api.Group("/responses", middleware.SecurityHeaders(noStore))
		responses.GET("", h.GetDraft)
		responses.PATCH("", h.SaveDraft)
		responses.POST("", h.Submit)

		// Submission listing, compressed
		api.GET("/questionnaires/:id/responses", gzip.Gzip(gzip.DefaultCompression), h.ListSubmissions)
	}
}

// health reports liveness and whether the response store answers a ping.
func health(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		now := time.Now().UTC()
		if err := repo.Ping(ctx, db); err != nil {
			middleware.LoggerFrom(c).Warn().Err(err).Msg("health: store ping failed")
			c.Header("Retry-After", "5")
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "timestamp": now})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "timestamp": now})
	}
}

// limitBody returns a Gin middleware that caps the request body size for all
// endpoints to maxBytes using http.MaxBytesReader. Requests exceeding the cap
// will cause downstream body reads to error.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}
