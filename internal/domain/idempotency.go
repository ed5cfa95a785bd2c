package domain

import "time"

// Idempotency records a submission already produced for a client-supplied
// Idempotency-Key, keyed by (questionnaire_id, scope_key, key). ScopeKey is
// the draft respondent id of the submitting scope, so a retried submission
// from the same session or shared draft is recognized without re-executing
// the promotion.
type Idempotency struct {
	ID              string    `gorm:"type:TEXT NOT NULL;primaryKey"`
	QuestionnaireID string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_idem_scope_key,priority:1"`
	ScopeKey        string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_idem_scope_key,priority:2"`
	Key             string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_idem_scope_key,priority:3;index:idx_idem_key"`
	ResponseID      string    `gorm:"type:TEXT NOT NULL"`
	Status          int       `gorm:"type:INTEGER NOT NULL"`
	CreatedAt       time.Time `gorm:"not null;autoCreateTime"`
	ExpiresAt       time.Time `gorm:"not null;index"`
}

// TableName implements the GORM tabler interface.
func (Idempotency) TableName() string { return "idempotency" }
