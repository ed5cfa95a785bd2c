// Package domain defines the persistence models and value types for
// questionnaire responses. Responses are mapped with GORM and form the core
// data layer of the draft synchronization service.
package domain

import (
	"time"

	"gorm.io/datatypes"
)

// Status is the lifecycle state of a stored response.
type Status string

const (
	// StatusInProgress marks the single live draft of a scope.
	StatusInProgress Status = "in-progress"
	// StatusSubmitted marks an immutable final submission.
	StatusSubmitted Status = "submitted"
)

// Response is a stored set of answers to one questionnaire. A response is
// either the live draft of a scope (in-progress) or a final submission.
//
// Two partial unique indexes are created next to the table by the repo layer:
//   - ux_responses_live_draft: at most one in-progress row per
//     (questionnaire_id, respondent_id).
//   - ux_responses_final: at most one submitted row per
//     (questionnaire_id, respondent_id).
//
// Fields:
//   - ID: stable UUID primary key (char(36)).
//   - QuestionnaireID: questionnaire the answers belong to.
//   - RespondentID: session id, "collaborative_<qid>" for shared drafts or
//     "submitted_<uuid>" for collaborative submissions.
//   - Answers: filtered question id to value map stored as JSON.
//   - Status: "in-progress" or "submitted" (enforced by DB constraint).
//   - LastSavedAt: time of the last applied draft save.
//   - SubmittedAt: set once the response is promoted.
//   - CreatedAt / UpdatedAt: timestamps managed by GORM.
type Response struct {
	ID              string                      `json:"id"               gorm:"type:char(36);primaryKey"`
	QuestionnaireID string                      `json:"questionnaire_id" gorm:"type:varchar(64);not null;index:idx_responses_listing,priority:1"`
	RespondentID    string                      `json:"respondent_id"    gorm:"type:varchar(160);not null"`
	Answers         datatypes.JSONType[Answers] `json:"answers"`
	Status          Status                      `json:"status"           gorm:"type:varchar(16);not null;index:idx_responses_listing,priority:2;check:status IN ('in-progress','submitted')"`
	LastSavedAt     *time.Time                  `json:"last_saved_at,omitempty"`
	SubmittedAt     *time.Time                  `json:"submitted_at,omitempty" gorm:"index:idx_responses_listing,priority:3"`
	CreatedAt       time.Time                   `json:"created_at"`
	UpdatedAt       time.Time                   `json:"updated_at"`
}

// TableName returns the database table name for Response.
func (Response) TableName() string { return "responses" }

// AnswerMap returns the stored answers, never nil.
func (r Response) AnswerMap() Answers {
	a := r.Answers.Data()
	if a == nil {
		return Answers{}
	}
	return a
}
