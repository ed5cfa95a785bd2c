// Package handlers defines HTTP-layer error codes used across all API endpoints.
//
// Codes are stable, lowercase snake_case strings returned in the `code` field
// of ErrorResponse. Clients branch on them; the autosave client in particular
// treats store_unavailable as "retry on the next tick" and already_submitted
// as "complete".
//
// Example response:
//
//	{
//	  "request_id": "e1b9be03-4999-4289-9f03-999b042d65d6",
//	  "code": "nothing_to_save",
//	  "message": "no answers to save"
//	}
package handlers

const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeNotFound         = "not_found"
	ErrCodeMethodNotAllowed = "method_not_allowed"
	ErrCodePayloadTooLarge  = "payload_too_large"
	ErrCodeInternal         = "internal_error"

	// Domain-specific:
	ErrCodeNothingToSave    = "nothing_to_save"
	ErrCodeAlreadySubmitted = "already_submitted"
	ErrCodeStoreUnavailable = "store_unavailable"
)
