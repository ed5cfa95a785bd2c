// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements RedactingLogger, the access logger used in front of
// the draft endpoints. Respondents are anonymous, so the identifiers that
// matter here are the ones that grant write access to a draft: the session
// respondent id (sent as ?respondent_id= on draft reads) and the
// Idempotency-Key of a submission. Both are scrubbed together with the usual
// e-mail, phone and UUID patterns. Bodies are never logged.
//
// Usage:
//
//	r.Use(middleware.RedactingLogger(middleware.RedactOptions{
//	    MaskHeaders: []string{"X-Api-Key"},
//	}))
package middleware

import (
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// RedactOptions configures additional scrub behavior for RedactingLogger.
//
// MaskHeaders lists extra header names (case-insensitive) whose values are
// replaced with "[REDACTED]", on top of Authorization, Cookie, Set-Cookie
// and Idempotency-Key. MaskParams lists extra query parameters masked the
// same way, on top of respondent_id.
type RedactOptions struct {
	MaskHeaders []string
	MaskParams  []string
}

var (
	// UUIDs are matched before phone numbers so the phone pattern cannot
	// swallow the digit groups of an id.
	uuidRE  = regexp.MustCompile(`(?i)\b[0-9a-f]{8}\-[0-9a-f]{4}\-[1-5][0-9a-f]{3}\-[89ab][0-9a-f]{3}\-[0-9a-f]{12}\b`)
	emailRE = regexp.MustCompile(`(?i)\b[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}\b`)
	phoneRE = regexp.MustCompile(`\b(?:\+?\d{1,3}[ .-]?)?(?:\(?\d{2,4}\)?[ .-]?)?\d{3,4}[ .-]?\d{4}\b`)
)

func redactPII(s string) string {
	if s == "" {
		return s
	}
	s = uuidRE.ReplaceAllString(s, "[REDACTED:id]")
	s = emailRE.ReplaceAllString(s, "[REDACTED:email]")
	return phoneRE.ReplaceAllString(s, "[REDACTED:phone]")
}

func lowerSet(base, extra []string) map[string]struct{} {
	set := make(map[string]struct{}, len(base)+len(extra))
	for _, v := range append(append([]string{}, base...), extra...) {
		if v = strings.ToLower(strings.TrimSpace(v)); v != "" {
			set[v] = struct{}{}
		}
	}
	return set
}

// redactQuery masks listed parameters and pattern-scrubs the rest. A query
// that does not parse is scrubbed as plain text.
func redactQuery(raw string, maskParams map[string]struct{}) string {
	if raw == "" {
		return raw
	}
	values, err := url.ParseQuery(raw)
	if err != nil {
		return redactPII(raw)
	}
	for k, vv := range values {
		_, masked := maskParams[strings.ToLower(k)]
		for i := range vv {
			if masked {
				vv[i] = "[REDACTED]"
			} else {
				vv[i] = redactPII(vv[i])
			}
		}
	}
	// Encode escapes brackets; logs are for humans.
	out, err := url.QueryUnescape(values.Encode())
	if err != nil {
		return values.Encode()
	}
	return out
}

// RedactingLogger returns a Gin middleware that logs each request with
// sensitive values scrubbed.
//
// Logged fields: request_id (response header first, then request header),
// method, route path, redacted query, status, bytes, latency and the
// redacted request headers. Level is info, warn for 4xx, error for 5xx.
func RedactingLogger(opts RedactOptions) gin.HandlerFunc {
	maskHeaders := lowerSet([]string{"authorization", "cookie", "set-cookie", "idempotency-key"}, opts.MaskHeaders)
	maskParams := lowerSet([]string{"respondent_id"}, opts.MaskParams)

	return func(c *gin.Context) {
		start := time.Now()

		path := routeLabel(c)
		safeQuery := redactQuery(c.Request.URL.RawQuery, maskParams)

		safeHeaders := make(map[string]string, len(c.Request.Header))
		for k, vv := range c.Request.Header {
			if _, ok := maskHeaders[strings.ToLower(k)]; ok {
				safeHeaders[k] = "[REDACTED]"
				continue
			}
			safeHeaders[k] = redactPII(strings.Join(vv, ", "))
		}

		c.Next()

		reqID := c.Writer.Header().Get(requestIDHeader)
		if reqID == "" {
			reqID = c.GetHeader(requestIDHeader)
		}

		status := c.Writer.Status()
		ev := log.Info()
		switch {
		case status >= 500:
			ev = log.Error()
		case status >= 400:
			ev = log.Warn()
		}

		ev.
			Str("request_id", reqID).
			Str("method", c.Request.Method).
			Str("path", path).
			Str("query", truncate(safeQuery, maxQueryLogLength)).
			Int("status", status).
			Int("bytes", c.Writer.Size()).
			Dur("latency", time.Since(start)).
			Interface("headers", safeHeaders).
			Msg("http_request")
	}
}
