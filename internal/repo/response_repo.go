// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Response
// model: the live draft of a scope and final submissions.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions or connection-scoped operations.
// They follow the "thin repository" approach: no business logic, only
// persistence and query composition. The decision of what to do when an
// update matches nothing, or an insert collides, belongs to the services.
//
// Error semantics:
//   - When a row is not found, functions return gorm.ErrRecordNotFound
//     (also exported here as ErrNotFound for convenience).
//   - When an insert violates a unique index (including the partial
//     indexes on live drafts and final submissions), functions return
//     ErrDuplicate regardless of the underlying driver.
//   - On other DB errors the raw gorm error is propagated.
//
// Functions:
//
//   - GetDraft(ctx, db, scope) -> *domain.Response, error
//     Returns the in-progress row of a scope, or ErrNotFound.
//
//   - UpdateDraftAnswers(ctx, db, scope, answers, at) -> (int64, error)
//     Overwrites answers and last_saved_at of the live draft. Returns the
//     number of rows affected (0 when no draft exists).
//
//   - InsertDraft(ctx, db, scope, answers, at) -> *domain.Response, error
//     Creates the live draft. Returns ErrDuplicate when one already exists.
//
//   - DeleteDrafts(ctx, db, scope) -> (int64, error)
//     Removes every in-progress row of a scope.
//
//   - CreateSubmission(ctx, db, questionnaireID, respondentID, answers, at)
//     Inserts a submitted row. Returns ErrDuplicate when that respondent
//     already submitted.
//
//   - CountSubmissions / ListSubmissionsPage
//     Read helpers for the submissions listing.
//
// Usage:
//
//	n, err := repo.UpdateDraftAnswers(ctx, tx, scope, answers, now)
//	if err == nil && n == 0 {
//	    _, err = repo.InsertDraft(ctx, tx, scope, answers, now)
//	    if errors.Is(err, repo.ErrDuplicate) {
//	        // someone else created the draft first
//	    }
//	}
package repo

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/tbourn/go-draftsync/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the service layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// pgUniqueViolation is the SQLSTATE for unique_violation.
const pgUniqueViolation = "23505"

// IsUniqueViolation reports whether err came from a unique index, across
// the translated GORM error, PostgreSQL (pgx) and SQLite text errors.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) || errors.Is(err, ErrDuplicate) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolation
	}
	// glebarez/sqlite often returns plain-text errors for UNIQUE violations.
	low := strings.ToLower(err.Error())
	return strings.Contains(low, "unique constraint failed") ||
		strings.Contains(low, "constraint failed: unique")
}

func draftQuery(ctx context.Context, db *gorm.DB, scope domain.DraftScope) *gorm.DB {
	return db.WithContext(ctx).
		Model(&domain.Response{}).
		Where("questionnaire_id = ? AND respondent_id = ? AND status = ?",
			scope.QuestionnaireID, scope.DraftRespondentID(), domain.StatusInProgress)
}

// GetDraft returns the live draft of scope or ErrNotFound.
func GetDraft(ctx context.Context, db *gorm.DB, scope domain.DraftScope) (*domain.Response, error) {
	var r domain.Response
	if err := draftQuery(ctx, db, scope).First(&r).Error; err != nil {
		return nil, err
	}
	return &r, nil
}

// UpdateDraftAnswers overwrites the live draft of scope and reports how many
// rows matched. A zero count with a nil error means there was no draft.
func UpdateDraftAnswers(ctx context.Context, db *gorm.DB, scope domain.DraftScope, answers domain.Answers, at time.Time) (int64, error) {
	res := draftQuery(ctx, db, scope).Updates(map[string]any{
		"answers":       datatypes.NewJSONType(answers),
		"last_saved_at": at,
		"updated_at":    at,
	})
	return res.RowsAffected, res.Error
}

// InsertDraft creates the live draft of scope. It returns ErrDuplicate when
// the partial unique index reports an existing draft.
func InsertDraft(ctx context.Context, db *gorm.DB, scope domain.DraftScope, answers domain.Answers, at time.Time) (*domain.Response, error) {
	r := &domain.Response{
		ID:              uuid.NewString(),
		QuestionnaireID: scope.QuestionnaireID,
		RespondentID:    scope.DraftRespondentID(),
		Answers:         datatypes.NewJSONType(answers),
		Status:          domain.StatusInProgress,
		LastSavedAt:     &at,
		CreatedAt:       at,
		UpdatedAt:       at,
	}
	if err := db.WithContext(ctx).Create(r).Error; err != nil {
		if IsUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return r, nil
}

// DeleteDrafts removes the in-progress rows of scope and returns how many
// were deleted.
func DeleteDrafts(ctx context.Context, db *gorm.DB, scope domain.DraftScope) (int64, error) {
	res := db.WithContext(ctx).
		Where("questionnaire_id = ? AND respondent_id = ? AND status = ?",
			scope.QuestionnaireID, scope.DraftRespondentID(), domain.StatusInProgress).
		Delete(&domain.Response{})
	return res.RowsAffected, res.Error
}

// CreateSubmission inserts a submitted response. It returns ErrDuplicate
// when respondentID already has a submitted row for the questionnaire.
func CreateSubmission(ctx context.Context, db *gorm.DB, questionnaireID, respondentID string, answers domain.Answers, at time.Time) (*domain.Response, error) {
	r := &domain.Response{
		ID:              uuid.NewString(),
		QuestionnaireID: questionnaireID,
		RespondentID:    respondentID,
		Answers:         datatypes.NewJSONType(answers),
		Status:          domain.StatusSubmitted,
		LastSavedAt:     &at,
		SubmittedAt:     &at,
		CreatedAt:       at,
		UpdatedAt:       at,
	}
	if err := db.WithContext(ctx).Create(r).Error; err != nil {
		if IsUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return r, nil
}

func submissionsQuery(ctx context.Context, db *gorm.DB, questionnaireID string) *gorm.DB {
	return db.WithContext(ctx).
		Model(&domain.Response{}).
		Where("questionnaire_id = ? AND status = ?", questionnaireID, domain.StatusSubmitted)
}

// CountSubmissions returns the number of final submissions of a
// questionnaire.
func CountSubmissions(ctx context.Context, db *gorm.DB, questionnaireID string) (int64, error) {
	var total int64
	err := submissionsQuery(ctx, db, questionnaireID).Count(&total).Error
	return total, err
}

// ListSubmissionsPage returns a page of final submissions, newest first.
// The caller is responsible for computing offset and limit.
func ListSubmissionsPage(ctx context.Context, db *gorm.DB, questionnaireID string, offset, limit int) ([]domain.Response, error) {
	var out []domain.Response
	err := submissionsQuery(ctx, db, questionnaireID).
		Order("submitted_at desc").
		Order("id").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}
