// Submission HTTP handlers.
//
// This file exposes the final-submission endpoints:
//   - POST   /responses                        (promote a draft)
//   - GET    /questionnaires/{id}/responses    (list submissions, paginated, ETag)
package handlers

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-draftsync/internal/http/middleware"
	"github.com/tbourn/go-draftsync/internal/services"
	"github.com/tbourn/go-draftsync/internal/utils"
)

// headerIdempotentReplayed marks a 409 caused by a retried Idempotency-Key
// rather than a different submission.
const headerIdempotentReplayed = "Idempotent-Replayed"

// Submit godoc
// @ID          submitResponse
// @Summary     Submit the final response
// @Description Retires the scope's live draft and stores the answers as an immutable submission, atomically. A repeated Idempotency-Key, or a second submission of the same session, returns 409.
// @Tags        Responses
// @Accept      json
// @Produce     json
//
// @Param       Idempotency-Key  header  string                    false  "Client retry key"  example(5b8f0c3e-submit)
// @Param       body             body    handlers.ResponseRequest  true   "Final payload"
//
// @Success     201  {object}  domain.Response
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request or nothing to save"
// @Failure     409  {object}  handlers.ErrorResponse  "Already submitted"
// @Header      409  {string}  Idempotent-Replayed  "true when the Idempotency-Key was already used"
// @Failure     413  {object}  handlers.ErrorResponse  "Body too large"
// @Failure     503  {object}  handlers.ErrorResponse  "Store unavailable"
// @Router      /responses [post]
func (h *Handlers) Submit(c *gin.Context) {
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
	key, _ := middleware.GetIdempotencyKey(c)

	r, err := h.subs.Submit(c.Request.Context(), scope, req.Answers, key)
	if err != nil {
		if errors.Is(err, services.ErrAlreadySubmitted) && middleware.IsReplay(c) {
			c.Header(headerIdempotentReplayed, "true")
			middleware.LoggerFrom(c).Info().
				Str("questionnaire_id", scope.QuestionnaireID).
				Str("idempotency_key", key).
				Msg("submission retry replayed")
		}
		failService(c, err)
		return
	}
	ok(c, http.StatusCreated, r)
}

// ListSubmissions godoc
// @ID          listSubmissions
// @Summary     List submissions (paginated)
// @Description Returns final submissions of a questionnaire, newest first. Drafts are never listed. Supports weak ETag via If-None-Match and may return 304.
// @Tags        Questionnaires
// @Produce     json
//
// @Param       id             path    string  true   "Questionnaire ID"
// @Param       If-None-Match  header  string  false  "Return 304 if ETag matches"
// @Param       page           query   int     false  "Page number"     minimum(1) default(1)
// @Param       page_size      query   int     false  "Items per page"  minimum(1) maximum(100) default(20)
//
// @Success     200  {object}  handlers.ListSubmissionsResponse
// @Header      200  {string}  ETag  "Weak ETag for current result"
// @Success     304  {string}  string  "Not Modified"
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     503  {object}  handlers.ErrorResponse  "Store unavailable"
// @Router      /questionnaires/{id}/responses [get]
func (h *Handlers) ListSubmissions(c *gin.Context) {
	ctx := c.Request.Context()
	qid := c.Param("id")
	page, pageSize := utils.ClampPage(c.Query("page"), c.Query("page_size"))

	// ETag pre-check (best effort).
	if count, maxTS, err := h.subs.Stats(ctx, qid); err == nil {
		var ts int64
		if maxTS != nil {
			ts = maxTS.UnixNano()
		}
		etag := fmt.Sprintf(`W/"submissions:%s:%d:%d:%d:%d"`, qid, count, ts, page, pageSize)
		c.Header("ETag", etag)
		if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
			c.Status(http.StatusNotModified)
			return
		}
	}

	items, total, err := h.subs.ListPage(ctx, qid, page, pageSize)
	if err != nil {
		failService(c, err)
		return
	}

	totalPages := utils.TotalPages(total, pageSize)
	ok(c, http.StatusOK, ListSubmissionsResponse{
		Responses: items,
		Pagination: Pagination{
			Page:       page,
			PageSize:   pageSize,
			Total:      total,
			TotalPages: totalPages,
			HasNext:    page < totalPages,
		},
	})
}
