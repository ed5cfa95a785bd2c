// Package handlers provides HTTP handler implementations for the public API.
//
// This file defines the shared response helpers: the ErrorResponse envelope,
// fail/Fail for errors, ok for success bodies, and failService, which maps
// service-layer sentinels to a status and code in one place.
//
// Example error response:
//
//	HTTP/1.1 503 Service Unavailable
//	Retry-After: 2
//	{
//	  "request_id": "123e4567-e89b-12d3-a456-426614174000",
//	  "code": "store_unavailable",
//	  "message": "store temporarily unavailable"
//	}
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-draftsync/internal/http/middleware"
	"github.com/tbourn/go-draftsync/internal/services"
)

// retryAfterSeconds is advertised on 503 responses.
const retryAfterSeconds = "2"

// ErrorResponse is the standard error envelope returned by all endpoints.
type ErrorResponse struct {
	// Correlates server logs and client errors
	RequestID string `json:"request_id,omitempty" example:"123e4567-e89b-12d3-a456-426614174000"`
	// Stable, machine-readable code (see errors.go constants)
	Code string `json:"code" example:"nothing_to_save"`
	// Human-readable message (safe to show to users)
	Message string `json:"message" example:"no answers to save"`
}

// fail aborts the request with a structured error. Server errors (>=500) are
// logged with the request-scoped logger.
func fail(c *gin.Context, status int, code, msg string) {
	resp := ErrorResponse{
		RequestID: c.Writer.Header().Get("X-Request-ID"),
		Code:      code,
		Message:   msg,
	}

	if status >= http.StatusInternalServerError {
		lg := middleware.LoggerFrom(c)
		lg.Error().
			Int("status", status).
			Str("code", code).
			Str("message", msg).
			Msg("api error")
	}

	c.AbortWithStatusJSON(status, resp)
}

// Fail is the exported variant of fail() for the router's fallbacks.
func Fail(c *gin.Context, status int, code, msg string) { fail(c, status, code, msg) }

// ok writes a success JSON response.
func ok(c *gin.Context, status int, body any) {
	c.JSON(status, body)
}

// failService translates a service error into the HTTP contract:
//
//	ErrNothingToSave                          400 nothing_to_save
//	ErrInvalidScope/InvalidAnswer/TooMany     400 bad_request
//	ErrAlreadySubmitted                       409 already_submitted
//	ErrStoreUnavailable                       503 store_unavailable + Retry-After
//	anything else                             500 internal_error
//
// Store details are logged, never returned to the client.
func failService(c *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrNothingToSave):
		fail(c, http.StatusBadRequest, ErrCodeNothingToSave, "no answers to save")
	case errors.Is(err, services.ErrInvalidScope),
		errors.Is(err, services.ErrInvalidAnswer),
		errors.Is(err, services.ErrTooManyAnswers):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
	case errors.Is(err, services.ErrAlreadySubmitted):
		fail(c, http.StatusConflict, ErrCodeAlreadySubmitted, "response already submitted")
	case errors.Is(err, services.ErrStoreUnavailable):
		_ = c.Error(err)
		c.Header("Retry-After", retryAfterSeconds)
		fail(c, http.StatusServiceUnavailable, ErrCodeStoreUnavailable, "store temporarily unavailable")
	default:
		_ = c.Error(err)
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "internal server error")
	}
}

// failBind reports a request body that could not be decoded.
func failBind(c *gin.Context, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		fail(c, http.StatusRequestEntityTooLarge, ErrCodePayloadTooLarge, "request body too large")
		return
	}
	fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
}
