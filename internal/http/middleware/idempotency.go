package middleware

import (
	"context"
	"net/http"
	"regexp"
	"time"

	"github.com/gin-gonic/gin"
)

// HeaderIdempotencyKey carries the client's retry key for a final
// submission. The autosave client generates one per submit attempt and
// reuses it when it retries the same attempt.
const HeaderIdempotencyKey = "Idempotency-Key"

const (
	ctxKeyIdemKey    = "idem.key"
	ctxKeyIdemReplay = "idem.replay"
	ctxKeyRateBypass = "rate.bypass"

	defaultIdemKeyLen = 200
)

var defaultIdemKeyPattern = regexp.MustCompile(`^[A-Za-z0-9._~\-:]+$`)

// GetIdempotencyKey returns the key accepted by IdempotencyValidator.
func GetIdempotencyKey(c *gin.Context) (string, bool) {
	k := c.GetString(ctxKeyIdemKey)
	return k, k != ""
}

// IsReplay reports whether the key was already used by an earlier
// submission.
func IsReplay(c *gin.Context) bool {
	return c.GetBool(ctxKeyIdemReplay)
}

// IdempotencyOptions bounds the accepted keys. Zero values fall back to 200
// characters of [A-Za-z0-9._~-:].
type IdempotencyOptions struct {
	MaxLen  int
	Pattern *regexp.Regexp
}

// IdempotencyLookup reports whether key was recorded by a submission that is
// still within its TTL at now.
//
// The header does not say which draft scope it belongs to (that is in the
// body), so a hit is only a hint. The submission service repeats the scoped
// check inside its transaction and decides the outcome.
type IdempotencyLookup func(ctx context.Context, key string, now time.Time) (bool, error)

// IdempotencyValidator checks the Idempotency-Key header and stores it on the
// context. Requests without the header pass through untouched. A malformed
// key is rejected with 400 "bad_idempotency_key". When lookup finds the key,
// the request is marked as a replay and skips rate limiting; lookup errors
// are ignored so a slow store never blocks a submission.
func IdempotencyValidator(opts IdempotencyOptions, lookup IdempotencyLookup) gin.HandlerFunc {
	maxLen := opts.MaxLen
	if maxLen <= 0 {
		maxLen = defaultIdemKeyLen
	}
	pat := opts.Pattern
	if pat == nil {
		pat = defaultIdemKeyPattern
	}

	return func(c *gin.Context) {
		key := c.GetHeader(HeaderIdempotencyKey)
		if key == "" {
			c.Next()
			return
		}
		if len(key) > maxLen || !pat.MatchString(key) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"request_id": c.Writer.Header().Get("X-Request-ID"),
				"code":       "bad_idempotency_key",
				"message":    "invalid Idempotency-Key",
			})
			return
		}
		c.Set(ctxKeyIdemKey, key)

		if lookup != nil {
			if seen, err := lookup(c.Request.Context(), key, time.Now().UTC()); err == nil && seen {
				c.Set(ctxKeyIdemReplay, true)
				c.Set(ctxKeyRateBypass, true)
			}
		}
		c.Next()
	}
}
