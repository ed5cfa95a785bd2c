// Package services – DraftService
//
// This file implements the DraftService, which resolves a draft save into an
// update of the scope's live draft, the creation of that draft, or a lost
// race against a concurrent creator. The store's partial unique index is the
// arbiter: whichever insert lands first wins, and the loser reports the
// winner's draft without applying its own answers. The caller (the autosave
// scheduler) then re-sends its payload, which becomes a plain update.
//
// Observability: public methods are OpenTelemetry-instrumented and every
// resolved save increments draft_saves_total{outcome}.
package services

import (
	"context"
	"errors"
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

// DraftRepo defines the repository contract required by DraftService.
type DraftRepo interface {
	// GetDraft returns the live draft of scope or repo.ErrNotFound.
	GetDraft(ctx context.Context, db *gorm.DB, scope domain.DraftScope) (*domain.Response, error)

	// UpdateDraftAnswers overwrites the live draft and reports rows affected.
	UpdateDraftAnswers(ctx context.Context, db *gorm.DB, scope domain.DraftScope, answers domain.Answers, at time.Time) (int64, error)

	// InsertDraft creates the live draft or returns repo.ErrDuplicate.
	InsertDraft(ctx context.Context, db *gorm.DB, scope domain.DraftScope, answers domain.Answers, at time.Time) (*domain.Response, error)
}

// SaveOutcome names the branch a save resolved through.
type SaveOutcome string

const (
	OutcomeUpdated  SaveOutcome = "updated"
	OutcomeInserted SaveOutcome = "inserted"
	// OutcomeRaceLost means a concurrent save created the draft first and
	// this payload was not applied.
	OutcomeRaceLost SaveOutcome = "race_lost"
)

// SaveResult describes a resolved save.
type SaveResult struct {
	// ID of the live draft. Empty only if the draft vanished mid-save
	// (promoted by a concurrent submission).
	ID      string
	SavedAt time.Time
	Outcome SaveOutcome
}

// Applied reports whether this save's answers are now stored.
func (r SaveResult) Applied() bool { return r.Outcome != OutcomeRaceLost }

// DraftService saves and reads live drafts.
type DraftService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Repo is the draft repository used by this service.
	Repo DraftRepo

	// MaxAnswers caps question ids per payload; 0 disables the check.
	MaxAnswers int
	// Now is the clock; defaults to time.Now in UTC.
	Now func() time.Time
}

// NewDraftService constructs a DraftService with default limits.
func NewDraftService(db *gorm.DB, r DraftRepo) *DraftService {
	return &DraftService{
		DB:         db,
		Repo:       r,
		MaxAnswers: 500,
		Now:        func() time.Time { return time.Now().UTC() },
	}
}

// Get returns the live draft of scope or ErrDraftNotFound.
func (s *DraftService) Get(ctx context.Context, scope domain.DraftScope) (*domain.Response, error) {
	tr := otel.Tracer("services/DraftService")
	ctx, span := tr.Start(ctx, "Get", trace.WithAttributes(scopeAttrs(scope)...))
	defer span.End()

	if err := scope.Validate(); err != nil {
		return nil, err
	}
	d, err := s.Repo.GetDraft(ctx, s.DB, scope)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrDraftNotFound
		}
		span.SetStatus(codes.Error, err.Error())
		return nil, unavailable(err)
	}
	return d, nil
}

type upsertStep int

const (
	stepUpdate upsertStep = iota
	stepInsert
	stepRaceLost
)

// Save stores answers as the live draft of scope.
//
// Resolution:
//  1. update the in-progress row of the scope; if a row matched, done (updated).
//  2. otherwise insert a new in-progress row; if it landed, done (inserted).
//  3. if the insert hit the live-draft unique index, another writer won:
//     return that writer's draft with Applied() == false (race lost).
//
// Validation errors (ErrInvalidScope, ErrInvalidAnswer, ErrTooManyAnswers,
// ErrNothingToSave) are returned before touching the store. Any store
// failure is wrapped in ErrStoreUnavailable.
func (s *DraftService) Save(ctx context.Context, scope domain.DraftScope, answers domain.Answers) (SaveResult, error) {
	tr := otel.Tracer("services/DraftService")
	ctx, span := tr.Start(ctx, "Save", trace.WithAttributes(scopeAttrs(scope)...))
	defer span.End()

	if err := scope.Validate(); err != nil {
		draftSaves.WithLabelValues("rejected").Inc()
		return SaveResult{}, err
	}
	clean, err := prepareAnswers(answers, s.MaxAnswers)
	if err != nil {
		draftSaves.WithLabelValues("rejected").Inc()
		return SaveResult{}, err
	}

	at := s.now()
	step := stepUpdate
	for {
		switch step {
		case stepUpdate:
			n, err := s.Repo.UpdateDraftAnswers(ctx, s.DB, scope, clean, at)
			if err != nil {
				return s.failed(span, err)
			}
			if n == 0 {
				step = stepInsert
				continue
			}
			d, err := s.Repo.GetDraft(ctx, s.DB, scope)
			if errors.Is(err, repo.ErrNotFound) {
				// Promoted between our update and this read.
				return s.resolved(span, scope, SaveResult{SavedAt: at, Outcome: OutcomeRaceLost})
			}
			if err != nil {
				return s.failed(span, err)
			}
			return s.resolved(span, scope, SaveResult{ID: d.ID, SavedAt: at, Outcome: OutcomeUpdated})

		case stepInsert:
			d, err := s.Repo.InsertDraft(ctx, s.DB, scope, clean, at)
			if errors.Is(err, repo.ErrDuplicate) {
				step = stepRaceLost
				continue
			}
			if err != nil {
				return s.failed(span, err)
			}
			return s.resolved(span, scope, SaveResult{ID: d.ID, SavedAt: at, Outcome: OutcomeInserted})

		case stepRaceLost:
			res := SaveResult{SavedAt: at, Outcome: OutcomeRaceLost}
			winner, err := s.Repo.GetDraft(ctx, s.DB, scope)
			switch {
			case err == nil:
				res.ID = winner.ID
				if winner.LastSavedAt != nil {
					res.SavedAt = *winner.LastSavedAt
				}
			case !errors.Is(err, repo.ErrNotFound):
				return s.failed(span, err)
			}
			return s.resolved(span, scope, res)
		}
	}
}

func (s *DraftService) resolved(span trace.Span, scope domain.DraftScope, res SaveResult) (SaveResult, error) {
	span.SetAttributes(attribute.String("draft.outcome", string(res.Outcome)))
	draftSaves.WithLabelValues(string(res.Outcome)).Inc()
	log.Debug().
		Str("questionnaire_id", scope.QuestionnaireID).
		Str("mode", string(scope.Mode)).
		Str("outcome", string(res.Outcome)).
		Str("draft_id", res.ID).
		Msg("draft save resolved")
	return res, nil
}

func (s *DraftService) failed(span trace.Span, err error) (SaveResult, error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	draftSaves.WithLabelValues("error").Inc()
	return SaveResult{}, unavailable(err)
}

func (s *DraftService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}

// prepareAnswers validates and filters a payload shared by saves and
// submissions. The limit applies to answered questions; blank entries are
// bounded by the request body limit instead.
func prepareAnswers(answers domain.Answers, maxAnswers int) (domain.Answers, error) {
	clean, err := answers.Normalize()
	if err != nil {
		return nil, err
	}
	if len(clean) == 0 {
		return nil, ErrNothingToSave
	}
	if maxAnswers > 0 && len(clean) > maxAnswers {
		return nil, ErrTooManyAnswers
	}
	return clean, nil
}

func scopeAttrs(scope domain.DraftScope) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("questionnaire.id", scope.QuestionnaireID),
		attribute.String("draft.mode", string(scope.Mode)),
	}
}
