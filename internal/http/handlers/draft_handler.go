// Draft HTTP handlers.
//
// This file exposes the autosave endpoints:
//   - GET    /responses   (fetch the live draft of a scope)
//   - PATCH  /responses   (autosave or manual save)
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-draftsync/internal/domain"
	"github.com/tbourn/go-draftsync/internal/http/middleware"
	"github.com/tbourn/go-draftsync/internal/services"
)

// GetDraft godoc
// @ID          getDraft
// @Summary     Fetch the live draft
// @Description Returns the in-progress response of a scope, or {} when none exists. Omit respondent_id for the collaborative draft.
// @Tags        Responses
// @Produce     json
//
// @Param       questionnaire_id  query  string  true   "Questionnaire ID"  example(onboarding-2024)
// @Param       respondent_id     query  string  false  "Session respondent ID"
//
// @Success     200  {object}  handlers.DraftView
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     503  {object}  handlers.ErrorResponse  "Store unavailable"
// @Router      /responses [get]
func (h *Handlers) GetDraft(c *gin.Context) {
	scope, err := domain.ResolveScope(c.Query("questionnaire_id"), c.Query("respondent_id"))
	if err != nil {
		failService(c, err)
		return
	}

	d, err := h.drafts.Get(c.Request.Context(), scope)
	if errors.Is(err, services.ErrDraftNotFound) {
		ok(c, http.StatusOK, DraftView{})
		return
	}
	if err != nil {
		failService(c, err)
		return
	}
	ok(c, http.StatusOK, DraftView{
		ID:          d.ID,
		Answers:     d.AnswerMap(),
		LastSavedAt: d.LastSavedAt,
	})
}

// SaveDraft godoc
// @ID          saveDraft
// @Summary     Save draft answers
// @Description Stores the answers as the live draft of the scope. Returns 201 when the draft was created, 200 when it was updated or when a concurrent save created it first (applied=false).
// @Tags        Responses
// @Accept      json
// @Produce     json
//
// @Param       body  body  handlers.ResponseRequest  true  "Draft payload"
//
// @Success     200  {object}  handlers.SaveResponse
// @Success     201  {object}  handlers.SaveResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request or nothing to save"
// @Failure     413  {object}  handlers.ErrorResponse  "Body too large"
// @Failure     503  {object}  handlers.ErrorResponse  "Store unavailable"
// @Router      /responses [patch]
func (h *Handlers) SaveDraft(c *gin.Context) {
	var req ResponseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		failBind(c, err)
		return
	}

	scope, err := req.scope()
	if err != nil {
		failService(c, err)
		return
	}

	res, err := h.drafts.Save(c.Request.Context(), scope, req.Answers)
	if err != nil {
		failService(c, err)
		return
	}

	status := http.StatusOK
	msg := "Progress saved"
	switch res.Outcome {
	case services.OutcomeInserted:
		status = http.StatusCreated
	case services.OutcomeRaceLost:
		msg = "Draft was created concurrently; resend to apply"
		middleware.LoggerFrom(c).Info().
			Str("draft_id", res.ID).
			Msg("draft save lost insert race")
	}

	ok(c, status, SaveResponse{
		ID:      res.ID,
		Message: msg,
		SavedAt: res.SavedAt,
		Applied: res.Applied(),
		Outcome: string(res.Outcome),
	})
}
