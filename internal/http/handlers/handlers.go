package handlers

import (
	"context"
	"time"

	"github.com/tbourn/go-draftsync/internal/domain"
	"github.com/tbourn/go-draftsync/internal/services"
)

//
// Service contracts (context-aware)
//

// DraftService reads and saves live drafts.
//
// Implementations should be safe for concurrent use and must honor the
// provided context for cancellation and timeouts.
type DraftService interface {
	// Get returns the live draft of scope or services.ErrDraftNotFound.
	Get(ctx context.Context, scope domain.DraftScope) (*domain.Response, error)
	// Save resolves an autosave into an update, insert or lost race.
	Save(ctx context.Context, scope domain.DraftScope, answers domain.Answers) (services.SaveResult, error)
}

// SubmissionService promotes drafts and lists final submissions.
type SubmissionService interface {
	// Submit records the final submission of scope.
	Submit(ctx context.Context, scope domain.DraftScope, answers domain.Answers, idemKey string) (*domain.Response, error)
	// ListPage returns a page of submissions and the total count.
	ListPage(ctx context.Context, questionnaireID string, page, pageSize int) ([]domain.Response, int64, error)
	// Stats returns the submission count and newest update, for ETags.
	Stats(ctx context.Context, questionnaireID string) (int64, *time.Time, error)
}

//
// Handler wiring
//

// Handlers groups the draft and submission endpoints.
type Handlers struct {
	drafts DraftService
	subs   SubmissionService
}

// New constructs and returns a Handlers instance bound to the given services.
func New(drafts DraftService, subs SubmissionService) *Handlers {
	return &Handlers{drafts: drafts, subs: subs}
}

//
// DTOs
//

// ResponseRequest is the body of PATCH and POST /responses.
//
// An empty RespondentID addresses the questionnaire's collaborative draft;
// otherwise it is the respondent's session id.
type ResponseRequest struct {
	QuestionnaireID string         `json:"questionnaire_id" example:"onboarding-2024"`
	RespondentID    string         `json:"respondent_id,omitempty" example:"7f0e3c1a-2b55-4f6e-9d0a-3a8c1f5e2b10"`
	Answers         domain.Answers `json:"answers" swaggertype:"object"`
}

// scope resolves and validates the draft scope addressed by the request.
func (r ResponseRequest) scope() (domain.DraftScope, error) {
	return domain.ResolveScope(r.QuestionnaireID, r.RespondentID)
}

// DraftView is the body of GET /responses. All fields are omitted when the
// scope has no draft, so the body is "{}".
type DraftView struct {
	ID          string         `json:"id,omitempty" example:"141add05-4415-4938-b5a1-17e0d3171aff"`
	Answers     domain.Answers `json:"answers,omitempty" swaggertype:"object"`
	LastSavedAt *time.Time     `json:"last_saved_at,omitempty"`
}

// SaveResponse is the body of PATCH /responses.
type SaveResponse struct {
	ID      string    `json:"id" example:"141add05-4415-4938-b5a1-17e0d3171aff"`
	Message string    `json:"message" example:"Progress saved"`
	SavedAt time.Time `json:"saved_at"`
	// Applied is false when a concurrent save created the draft first; the
	// caller should send its answers again.
	Applied bool   `json:"applied" example:"true"`
	Outcome string `json:"outcome" example:"updated" enums:"updated,inserted,race_lost"`
}

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

// ListSubmissionsResponse wraps a page of submissions.
type ListSubmissionsResponse struct {
	Responses  []domain.Response `json:"responses"`
	Pagination Pagination        `json:"pagination"`
}
