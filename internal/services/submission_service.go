// Package services – SubmissionService
//
// This file implements the SubmissionService, which promotes the answers of a
// scope into an immutable final submission. Promotion runs in one
// transaction: the scope's live draft is retired, the final row is inserted
// and the optional Idempotency-Key is recorded. Either all of it commits or
// none of it does, so a failed submission leaves the draft in place.
package services

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/go-draftsync/internal/domain"
	"github.com/tbourn/go-draftsync/internal/repo"
)

// SubmissionService promotes drafts and lists final submissions.
type SubmissionService struct {
	// DB is the database handle; each Submit opens its own transaction.
	DB *gorm.DB

	// MaxAnswers caps question ids per payload; 0 disables the check.
	MaxAnswers int
	// IdempotencyTTL is how long a recorded Idempotency-Key is honored.
	IdempotencyTTL time.Duration
	// Now is the clock; defaults to time.Now in UTC.
	Now func() time.Time
}

// NewSubmissionService constructs a SubmissionService with default limits.
func NewSubmissionService(db *gorm.DB) *SubmissionService {
	return &SubmissionService{
		DB:             db,
		MaxAnswers:     500,
		IdempotencyTTL: 24 * time.Hour,
		Now:            func() time.Time { return time.Now().UTC() },
	}
}

// Submit records answers as the final submission of scope.
//
// Semantics:
//   - answers are validated and filtered like a draft save; an empty result
//     is ErrNothingToSave.
//   - every in-progress row of the scope is deleted.
//   - a submitted row is inserted under scope.FinalRespondentID(): the
//     session id, or a fresh "submitted_<uuid>" in collaborative mode.
//   - when idemKey is non-empty it is recorded for the scope; a key already
//     recorded, or a second submission of the same session, yields
//     ErrAlreadySubmitted.
//
// Concurrency & atomicity:
//   - The steps run inside a single transaction. The draft delete comes
//     first so the transaction takes the write lock before it reads.
func (s *SubmissionService) Submit(ctx context.Context, scope domain.DraftScope, answers domain.Answers, idemKey string) (*domain.Response, error) {
	tr := otel.Tracer("services/SubmissionService")
	ctx, span := tr.Start(ctx, "Submit",
		trace.WithAttributes(append(scopeAttrs(scope),
			attribute.Bool("idempotency.key_present", idemKey != ""))...),
	)
	defer span.End()

	if err := scope.Validate(); err != nil {
		submissions.WithLabelValues("rejected").Inc()
		return nil, err
	}
	clean, err := prepareAnswers(answers, s.MaxAnswers)
	if err != nil {
		submissions.WithLabelValues("rejected").Inc()
		return nil, err
	}

	at := s.now()
	var created *domain.Response
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// 1) Retire the live draft.
		if _, err := repo.DeleteDrafts(ctx, tx, scope); err != nil {
			return err
		}

		// 2) A replayed key means this scope already submitted.
		if idemKey != "" {
			_, err := repo.GetIdempotency(ctx, tx, scope.QuestionnaireID, scope.DraftRespondentID(), idemKey, at)
			if err == nil {
				return ErrAlreadySubmitted
			}
			if !errors.Is(err, repo.ErrNotFound) {
				return err
			}
		}

		// 3) Insert the final row.
		r, err := repo.CreateSubmission(ctx, tx, scope.QuestionnaireID, scope.FinalRespondentID(), clean, at)
		if errors.Is(err, repo.ErrDuplicate) {
			return ErrAlreadySubmitted
		}
		if err != nil {
			return err
		}

		// 4) Record the key in the same transaction.
		if idemKey != "" {
			_, err := repo.CreateIdempotency(ctx, tx, scope.QuestionnaireID, scope.DraftRespondentID(), idemKey, r.ID, http.StatusCreated, at, s.ttl())
			if errors.Is(err, repo.ErrDuplicate) {
				return ErrAlreadySubmitted
			}
			if err != nil {
				return err
			}
		}
		created = r
		return nil
	})

	switch {
	case err == nil:
		submissions.WithLabelValues("submitted").Inc()
		span.SetAttributes(attribute.String("response.id", created.ID))
		log.Debug().
			Str("questionnaire_id", scope.QuestionnaireID).
			Str("mode", string(scope.Mode)).
			Str("response_id", created.ID).
			Msg("response submitted")
		return created, nil
	case errors.Is(err, ErrAlreadySubmitted):
		submissions.WithLabelValues("duplicate").Inc()
		return nil, err
	default:
		submissions.WithLabelValues("error").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, unavailable(err)
	}
}

// ListPage returns final submissions of a questionnaire, newest first.
func (s *SubmissionService) ListPage(ctx context.Context, questionnaireID string, page, pageSize int) ([]domain.Response, int64, error) {
	tr := otel.Tracer("services/SubmissionService")
	ctx, span := tr.Start(ctx, "ListPage",
		trace.WithAttributes(
			attribute.String("questionnaire.id", questionnaireID),
			attribute.Int("page", page),
			attribute.Int("page_size", pageSize),
		),
	)
	defer span.End()

	if questionnaireID == "" {
		return nil, 0, ErrInvalidScope
	}
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	total, err := repo.CountSubmissions(ctx, s.DB, questionnaireID)
	if err != nil {
		return nil, 0, unavailable(err)
	}
	if total == 0 {
		return []domain.Response{}, 0, nil
	}
	items, err := repo.ListSubmissionsPage(ctx, s.DB, questionnaireID, offset, pageSize)
	if err != nil {
		return nil, 0, unavailable(err)
	}
	return items, total, nil
}

// Stats returns the submission count and latest update time of a
// questionnaire, used for ETags.
func (s *SubmissionService) Stats(ctx context.Context, questionnaireID string) (int64, *time.Time, error) {
	return repo.SubmissionsStats(ctx, s.DB, questionnaireID)
}

// IdempotencyKeySeen reports whether key was recorded by any scope. It
// backs the HTTP replay hint.
func (s *SubmissionService) IdempotencyKeySeen(ctx context.Context, key string) (bool, error) {
	return repo.IdempotencyKeySeen(ctx, s.DB, key, s.now())
}

func (s *SubmissionService) ttl() time.Duration {
	if s.IdempotencyTTL > 0 {
		return s.IdempotencyTTL
	}
	return 24 * time.Hour
}

func (s *SubmissionService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}
