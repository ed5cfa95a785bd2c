// Package services defines the business logic for draft saves and final
// submissions. This file centralizes common service-level error values so
// that they can be consistently returned by service methods and checked by
// callers.
//
// These errors are intended for internal use by the service layer and translation
// into user-facing messages or HTTP status codes should be performed at the
// handler/controller layer.
package services

import (
	"errors"
	"fmt"

	"github.com/tbourn/go-draftsync/internal/domain"
)

// Draft and submission errors.
var (
	// ErrNothingToSave is returned when a payload has no non-empty answers
	// after filtering.
	ErrNothingToSave = errors.New("nothing to save")

	// ErrInvalidScope is returned when the questionnaire or respondent id
	// cannot address a draft.
	ErrInvalidScope = domain.ErrInvalidScope

	// ErrInvalidAnswer is returned for malformed question ids or value shapes.
	ErrInvalidAnswer = domain.ErrInvalidAnswer

	// ErrTooManyAnswers is returned when a payload exceeds the configured
	// number of question ids.
	ErrTooManyAnswers = errors.New("too many answers")

	// ErrDraftNotFound indicates that a scope has no live draft.
	ErrDraftNotFound = errors.New("draft not found")

	// ErrAlreadySubmitted is returned when a submission was already recorded
	// for the same respondent or the same Idempotency-Key.
	ErrAlreadySubmitted = errors.New("response already submitted")

	// ErrStoreUnavailable wraps store failures the caller may retry.
	ErrStoreUnavailable = errors.New("store unavailable")
)

func unavailable(err error) error {
	return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}
