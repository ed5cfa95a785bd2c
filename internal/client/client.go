// Package client is the respondent-side HTTP client of the draft API. It
// implements autosave.Remote, so a Scheduler can drive it directly.
package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-draftsync/internal/autosave"
	"github.com/tbourn/go-draftsync/internal/domain"
)

const (
	defaultBasePath = "/api/v1"
	defaultTimeout  = 10 * time.Second
	userAgent       = "go-draftsync-respondent/1.0"

	codeNothingToSave    = "nothing_to_save"
	codeAlreadySubmitted = "already_submitted"
)

// ErrUnavailable marks failures worth retrying later: 5xx answers and 429.
var ErrUnavailable = errors.New("draft api unavailable")

// Config configures a Client.
type Config struct {
	BaseURL  string
	BasePath string // defaults to /api/v1
	Timeout  time.Duration
	// Retries is the number of extra attempts on 503 or a transport error.
	// Autosave already retries on its next tick, so the default is 0.
	Retries int
	Logger  *zerolog.Logger
}

// Client talks to the draft API.
type Client struct {
	http     *resty.Client
	basePath string
}

var _ autosave.Remote = (*Client)(nil)

// New builds a Client for cfg.BaseURL.
func New(cfg Config) *Client {
	basePath := strings.TrimRight(cfg.BasePath, "/")
	if basePath == "" {
		basePath = defaultBasePath
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	l := log.Logger
	if cfg.Logger != nil {
		l = *cfg.Logger
	}
	l = l.With().Str("component", "client").Logger()

	rc := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetHeader("User-Agent", userAgent).
		SetHeader("Accept", "application/json").
		SetTimeout(timeout).
		SetLogger(restyLogger{l}).
		SetError(&apiErrorBody{}).
		OnAfterResponse(func(_ *resty.Client, r *resty.Response) error {
			l.Debug().
				Str("method", r.Request.Method).
				Str("url", r.Request.URL).
				Int("status", r.StatusCode()).
				Dur("latency", r.Time()).
				Msg("draft api call")
			return nil
		})
	if cfg.Retries > 0 {
		rc.SetRetryCount(cfg.Retries).
			SetRetryWaitTime(200 * time.Millisecond).
			SetRetryMaxWaitTime(2 * time.Second).
			AddRetryCondition(func(r *resty.Response, err error) bool {
				return err != nil || (r != nil && r.StatusCode() == http.StatusServiceUnavailable)
			})
	}
	return &Client{http: rc, basePath: basePath}
}

// Draft is the live draft of a scope as returned by GET /responses.
type Draft struct {
	ID          string         `json:"id"`
	Answers     domain.Answers `json:"answers"`
	LastSavedAt *time.Time     `json:"last_saved_at"`
}

type saveBody struct {
	QuestionnaireID string         `json:"questionnaire_id"`
	RespondentID    string         `json:"respondent_id,omitempty"`
	Answers         domain.Answers `json:"answers"`
}

func newSaveBody(scope domain.DraftScope, answers domain.Answers) saveBody {
	b := saveBody{QuestionnaireID: scope.QuestionnaireID, Answers: answers}
	if scope.Mode == domain.ModeSession {
		b.RespondentID = scope.SessionID
	}
	return b
}

type saveResult struct {
	ID      string    `json:"id"`
	Message string    `json:"message"`
	SavedAt time.Time `json:"saved_at"`
	Applied bool      `json:"applied"`
	Outcome string    `json:"outcome"`
}

// GetDraft fetches the live draft of scope. It returns nil when the scope
// has none.
func (c *Client) GetDraft(ctx context.Context, scope domain.DraftScope) (*Draft, error) {
	q := map[string]string{"questionnaire_id": scope.QuestionnaireID}
	if scope.Mode == domain.ModeSession {
		q["respondent_id"] = scope.SessionID
	}

	var d Draft
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(q).
		SetResult(&d).
		Get(c.basePath + "/responses")
	if err != nil {
		return nil, fmt.Errorf("get draft: %w", err)
	}
	if resp.IsError() {
		return nil, newAPIError(resp)
	}
	if d.ID == "" {
		return nil, nil
	}
	return &d, nil
}

// SaveDraft sends answers as the live draft of scope.
func (c *Client) SaveDraft(ctx context.Context, scope domain.DraftScope, answers domain.Answers) (autosave.Receipt, error) {
	var out saveResult
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(newSaveBody(scope, answers)).
		SetResult(&out).
		Patch(c.basePath + "/responses")
	if err != nil {
		return autosave.Receipt{}, fmt.Errorf("save draft: %w", err)
	}
	if resp.IsError() {
		return autosave.Receipt{}, newAPIError(resp)
	}
	return autosave.Receipt{ID: out.ID, SavedAt: out.SavedAt, Applied: out.Applied}, nil
}

// Submit promotes answers to the final submission of scope. A non-empty
// idempotencyKey is sent as the Idempotency-Key header.
func (c *Client) Submit(ctx context.Context, scope domain.DraftScope, answers domain.Answers, idempotencyKey string) (*domain.Response, error) {
	var out domain.Response
	req := c.http.R().
		SetContext(ctx).
		SetBody(newSaveBody(scope, answers)).
		SetResult(&out)
	if idempotencyKey != "" {
		req.SetHeader("Idempotency-Key", idempotencyKey)
	}
	resp, err := req.Post(c.basePath + "/responses")
	if err != nil {
		return nil, fmt.Errorf("submit: %w", err)
	}
	if resp.IsError() {
		return nil, newAPIError(resp)
	}
	return &out, nil
}

// ListOptions selects a page of submissions.
type ListOptions struct {
	Page     int
	PageSize int
	// IfNoneMatch is a previously returned ETag.
	IfNoneMatch string
}

// Pagination mirrors the server's pagination block.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

// SubmissionPage is one page of final submissions.
type SubmissionPage struct {
	Responses  []domain.Response `json:"responses"`
	Pagination Pagination        `json:"pagination"`
	ETag       string            `json:"-"`
	// NotModified is set when IfNoneMatch still matched; the page is empty.
	NotModified bool `json:"-"`
}

// ListSubmissions fetches final submissions of a questionnaire.
func (c *Client) ListSubmissions(ctx context.Context, questionnaireID string, opts ListOptions) (*SubmissionPage, error) {
	var page SubmissionPage
	req := c.http.R().
		SetContext(ctx).
		SetPathParam("id", questionnaireID).
		SetResult(&page)
	if opts.Page > 0 {
		req.SetQueryParam("page", strconv.Itoa(opts.Page))
	}
	if opts.PageSize > 0 {
		req.SetQueryParam("page_size", strconv.Itoa(opts.PageSize))
	}
	if opts.IfNoneMatch != "" {
		req.SetHeader("If-None-Match", opts.IfNoneMatch)
	}

	resp, err := req.Get(c.basePath + "/questionnaires/{id}/responses")
	if err != nil {
		return nil, fmt.Errorf("list submissions: %w", err)
	}
	switch {
	case resp.StatusCode() == http.StatusNotModified:
		return &SubmissionPage{ETag: opts.IfNoneMatch, NotModified: true}, nil
	case resp.IsError():
		return nil, newAPIError(resp)
	}
	page.ETag = resp.Header().Get("ETag")
	return &page, nil
}

type apiErrorBody struct {
	RequestID string `json:"request_id"`
	Code      string `json:"code"`
	Message   string `json:"message"`
}

// APIError is a non-2xx answer of the draft API.
type APIError struct {
	Status     int
	Code       string
	Message    string
	RequestID  string
	RetryAfter time.Duration
}

func newAPIError(resp *resty.Response) *APIError {
	e := &APIError{Status: resp.StatusCode()}
	if body, ok := resp.Error().(*apiErrorBody); ok && body != nil {
		e.Code = body.Code
		e.Message = body.Message
		e.RequestID = body.RequestID
	}
	if e.Message == "" {
		e.Message = http.StatusText(e.Status)
	}
	if secs, err := strconv.Atoi(resp.Header().Get("Retry-After")); err == nil && secs > 0 {
		e.RetryAfter = time.Duration(secs) * time.Second
	}
	return e
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("draft api: %d %s", e.Status, e.Message)
	}
	return fmt.Sprintf("draft api: %d %s: %s", e.Status, e.Code, e.Message)
}

// Unwrap maps the answer to the scheduler's error categories.
func (e *APIError) Unwrap() error {
	switch {
	case e.Code == codeNothingToSave:
		return autosave.ErrNothingToSave
	case e.Status == http.StatusConflict || e.Code == codeAlreadySubmitted:
		return autosave.ErrAlreadySubmitted
	case e.Status == http.StatusTooManyRequests || e.Status >= http.StatusInternalServerError:
		return ErrUnavailable
	case e.Status == http.StatusBadRequest || e.Status == http.StatusRequestEntityTooLarge:
		return autosave.ErrRejected
	}
	return nil
}

// restyLogger routes resty's own diagnostics to zerolog.
type restyLogger struct{ l zerolog.Logger }

func (r restyLogger) Errorf(format string, v ...any) { r.l.Error().Msgf(format, v...) }
func (r restyLogger) Warnf(format string, v ...any)  { r.l.Warn().Msgf(format, v...) }
func (r restyLogger) Debugf(format string, v ...any) { r.l.Debug().Msgf(format, v...) }
