// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository helpers for the Idempotency
// model used to make final submissions safe to retry.
package repo

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-draftsync/internal/domain"
)

// ErrDuplicate indicates that a unique index rejected an insert: an
// idempotency record for the same (questionnaire_id, scope_key, key), a
// second live draft, or a second final submission.
var ErrDuplicate = errors.New("duplicate")

// GetIdempotency returns a non-expired record or ErrNotFound.
func GetIdempotency(ctx context.Context, db *gorm.DB, questionnaireID, scopeKey, key string, now time.Time) (*domain.Idempotency, error) {
	if strings.TrimSpace(key) == "" {
		return nil, ErrNotFound
	}
	var rec domain.Idempotency
	err := db.WithContext(ctx).
		Where("questionnaire_id = ? AND scope_key = ? AND key = ? AND expires_at > ?", questionnaireID, scopeKey, key, now).
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// IdempotencyKeySeen reports whether any non-expired record carries key.
// It backs the HTTP replay hint, which only knows the header value.
func IdempotencyKeySeen(ctx context.Context, db *gorm.DB, key string, now time.Time) (bool, error) {
	var n int64
	err := db.WithContext(ctx).
		Model(&domain.Idempotency{}).
		Where("key = ? AND expires_at > ?", key, now).
		Limit(1).
		Count(&n).Error
	return n > 0, err
}

// CreateIdempotency records key at time at, replacing an expired record of
// the same (questionnaire_id, scope_key, key) that the purge has not yet
// removed. A live record yields ErrDuplicate. Call it inside the
// submission transaction.
func CreateIdempotency(ctx context.Context, db *gorm.DB, questionnaireID, scopeKey, key, responseID string, status int, at time.Time, ttl time.Duration) (*domain.Idempotency, error) {
	now := at.UTC()
	err := db.WithContext(ctx).
		Where("questionnaire_id = ? AND scope_key = ? AND key = ? AND expires_at <= ?", questionnaireID, scopeKey, key, now).
		Delete(&domain.Idempotency{}).Error
	if err != nil {
		return nil, err
	}
	rec := &domain.Idempotency{
		ID:              uuid.NewString(),
		QuestionnaireID: questionnaireID,
		ScopeKey:        scopeKey,
		Key:             key,
		ResponseID:      responseID,
		Status:          status,
		CreatedAt:       now,
		ExpiresAt:       now.Add(ttl),
	}
	if err := db.WithContext(ctx).Create(rec).Error; err != nil {
		if IsUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return rec, nil
}

// PurgeExpiredIdempotency deletes records whose window has closed.
func PurgeExpiredIdempotency(ctx context.Context, db *gorm.DB, now time.Time) (int64, error) {
	res := db.WithContext(ctx).
		Where("expires_at <= ?", now).
		Delete(&domain.Idempotency{})
	return res.RowsAffected, res.Error
}
