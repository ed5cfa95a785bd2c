// Package autosave implements the respondent-side scheduler that keeps a
// server draft in step with local form state.
//
// Policy: a single debounce timer. Every edit re-arms it; when it fires the
// filtered answers are sent if they differ from the last server-confirmed
// snapshot. A failed save, or a save the server reports as not applied
// (it lost the draft-creation race), re-arms the same timer, so there is
// never more than one pending fire.
//
// A newer autosave cancels the one in flight. Submission cancels both
// autosave and manual saves and suppresses the scheduler for good once it
// succeeds. Cancellations carry a cause (ErrSuperseded, ErrSubmitting,
// ErrClosed) and are never reported as failures.
package autosave

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-draftsync/internal/domain"
)

// Defaults used when Options leaves a field zero.
const (
	DefaultDebounce         = 3 * time.Second
	DefaultFailureThreshold = 3
)

var (
	// ErrSuperseded is the cancellation cause of an autosave replaced by a
	// newer one or by a manual save.
	ErrSuperseded = errors.New("autosave: superseded by a newer save")
	// ErrSubmitting is the cancellation cause of saves interrupted by a
	// final submission, and the error of SaveNow while one is running.
	ErrSubmitting = errors.New("autosave: submission in progress")
	// ErrClosed is returned by every operation after Close.
	ErrClosed = errors.New("autosave: scheduler closed")

	// ErrNothingToSave is returned when the filtered answers are empty.
	ErrNothingToSave = errors.New("nothing to save")
	// ErrAlreadySubmitted means the scope's final submission exists.
	ErrAlreadySubmitted = errors.New("response already submitted")
	// ErrBusy is returned when a manual save or submission is already running.
	ErrBusy = errors.New("autosave: another save is in flight")
	// ErrRejected marks a save the server refused as malformed. The
	// scheduler does not retry it until the answers change.
	ErrRejected = errors.New("autosave: payload rejected")
)

// Receipt is the server's answer to a draft save.
type Receipt struct {
	ID      string
	SavedAt time.Time
	// Applied is false when a concurrent writer created the draft first and
	// this payload was not stored.
	Applied bool
}

// Remote is the draft API the scheduler talks to.
type Remote interface {
	SaveDraft(ctx context.Context, scope domain.DraftScope, answers domain.Answers) (Receipt, error)
	Submit(ctx context.Context, scope domain.DraftScope, answers domain.Answers, idempotencyKey string) (*domain.Response, error)
}

// Status is the passive save indicator shown to the respondent.
type Status string

const (
	StatusIdle       Status = "idle"
	StatusPending    Status = "pending"
	StatusSaving     Status = "saving"
	StatusSaved      Status = "saved"
	StatusFailed     Status = "failed"
	StatusSubmitting Status = "submitting"
	StatusSubmitted  Status = "submitted"
	StatusClosed     Status = "closed"
)

// Options tunes a Scheduler. Zero values select the defaults.
type Options struct {
	// Debounce is the quiet period after the last edit before a save fires.
	Debounce time.Duration
	// FailureThreshold is the number of consecutive failed saves after
	// which the status turns to StatusFailed.
	FailureThreshold int
	// OnStatus is called after each status change, outside the scheduler's
	// lock. Calls may arrive from timer goroutines.
	OnStatus func(Status)
	// OnSubmitted is called once when the scope has a final submission:
	// with the stored response, or nil when the server reports one was
	// already recorded.
	OnSubmitted func(*domain.Response)
	// Logger receives debug records; defaults to the global logger.
	Logger *zerolog.Logger
}

// Scheduler owns the autosave state of one scope.
type Scheduler struct {
	remote Remote
	scope  domain.DraftScope
	opts   Options
	log    zerolog.Logger

	ctx  context.Context
	stop context.CancelFunc
	wg   sync.WaitGroup

	mu       sync.Mutex
	current  domain.Answers
	savedFP  string
	savedAt  time.Time
	status   Status
	failures int
	notify   []Status

	timer    *time.Timer
	timerGen uint64

	// autosave in flight
	seq        uint64
	inflight   context.CancelCauseFunc
	inflightFP string

	manual       context.CancelCauseFunc
	submitting   bool
	submitCancel context.CancelCauseFunc
	submitted    bool
	closed       bool
	// reused across retries so a submission that committed but whose
	// response was lost is recognized by the server
	idemKey string
}

// New returns a Scheduler for scope. It does nothing until Update is called.
func New(remote Remote, scope domain.DraftScope, opts Options) *Scheduler {
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if opts.FailureThreshold <= 0 {
		opts.FailureThreshold = DefaultFailureThreshold
	}
	l := log.Logger
	if opts.Logger != nil {
		l = *opts.Logger
	}
	ctx, stop := context.WithCancel(context.Background())
	return &Scheduler{
		remote:  remote,
		scope:   scope,
		opts:    opts,
		log:     l.With().Str("component", "autosave").Str("scope", scope.String()).Logger(),
		ctx:     ctx,
		stop:    stop,
		current: domain.Answers{},
		savedFP: domain.Answers{}.Fingerprint(),
		status:  StatusIdle,
	}
}

// Hydrate seeds the form state and the saved snapshot from a draft fetched
// from the server, so reopening a form does not resend it.
func (s *Scheduler) Hydrate(answers domain.Answers, savedAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.submitted {
		return
	}
	s.current = answers.Clone()
	s.savedFP = answers.Fingerprint()
	s.savedAt = savedAt
}

// Update replaces the form state and restarts the debounce window.
// Updates after Close or a successful submission are ignored.
func (s *Scheduler) Update(answers domain.Answers) {
	s.mu.Lock()
	if s.closed || s.submitted {
		s.mu.Unlock()
		return
	}
	s.current = answers.Clone()
	if s.submitting {
		s.mu.Unlock()
		return
	}
	if s.current.Fingerprint() != s.savedFP && s.status != StatusFailed {
		s.setStatusLocked(StatusPending)
	}
	s.armLocked()
	s.unlockAndNotify()
}

// Answers returns a copy of the current form state.
func (s *Scheduler) Answers() domain.Answers {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current.Clone()
}

// Status returns the current save indicator.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// LastSavedAt returns the server time of the last applied save.
func (s *Scheduler) LastSavedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.savedAt
}

// Dirty reports whether the form state differs from the saved snapshot.
func (s *Scheduler) Dirty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current.Fingerprint() != s.savedFP
}

func (s *Scheduler) armLocked() {
	s.timerGen++
	gen := s.timerGen
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(s.opts.Debounce, func() { s.fire(gen) })
}

func (s *Scheduler) disarmLocked() {
	s.timerGen++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (s *Scheduler) fire(gen uint64) {
	s.mu.Lock()
	if gen != s.timerGen || s.closed || s.submitting || s.submitted {
		s.mu.Unlock()
		return
	}
	s.timer = nil
	if s.manual != nil {
		// The manual save re-arms when it settles.
		s.mu.Unlock()
		return
	}

	payload := s.current.Filter()
	fp := payload.Fingerprint()
	switch {
	case len(payload) == 0:
		s.mu.Unlock()
		return
	case s.inflight != nil && fp == s.inflightFP:
		s.mu.Unlock()
		return
	case s.inflight == nil && fp == s.savedFP:
		s.mu.Unlock()
		return
	}

	if s.inflight != nil {
		s.inflight(ErrSuperseded)
	}
	ctx, cancel := context.WithCancelCause(s.ctx)
	s.seq++
	seq := s.seq
	s.inflight = cancel
	s.inflightFP = fp
	if s.status != StatusFailed {
		s.setStatusLocked(StatusSaving)
	}
	s.wg.Add(1)
	s.unlockAndNotify()

	go s.autosave(ctx, cancel, seq, payload, fp)
}

func (s *Scheduler) autosave(ctx context.Context, cancel context.CancelCauseFunc, seq uint64, payload domain.Answers, fp string) {
	defer s.wg.Done()
	defer cancel(nil)

	rcpt, err := s.remote.SaveDraft(ctx, s.scope, payload)

	s.mu.Lock()
	if cause := context.Cause(ctx); isCancelCause(cause) {
		// Whoever cancelled us owns the state now.
		s.mu.Unlock()
		s.log.Debug().Err(cause).Msg("autosave cancelled")
		return
	}
	if seq != s.seq {
		s.mu.Unlock()
		return
	}
	s.inflight = nil
	s.inflightFP = ""
	s.settleLocked(rcpt, err, fp)
	s.unlockAndNotify()
}

// settleLocked applies the outcome of a save to the scheduler state.
func (s *Scheduler) settleLocked(rcpt Receipt, err error, fp string) {
	if err != nil {
		s.failures++
		lvl := zerolog.DebugLevel
		if s.failures >= s.opts.FailureThreshold {
			lvl = zerolog.WarnLevel
			s.setStatusLocked(StatusFailed)
		} else if s.status != StatusFailed {
			s.setStatusLocked(StatusPending)
		}
		s.log.WithLevel(lvl).Err(err).Int("failures", s.failures).Msg("autosave failed")
		if !errors.Is(err, ErrRejected) && !errors.Is(err, ErrNothingToSave) {
			s.armLocked()
		}
		return
	}

	s.failures = 0
	if !rcpt.Applied {
		s.log.Debug().Str("draft_id", rcpt.ID).Msg("draft created concurrently; resending")
		s.setStatusLocked(StatusPending)
		s.armLocked()
		return
	}

	s.savedFP = fp
	s.savedAt = rcpt.SavedAt
	if s.current.Fingerprint() != fp {
		s.setStatusLocked(StatusPending)
		if s.timer == nil {
			s.armLocked()
		}
		return
	}
	s.setStatusLocked(StatusSaved)
}

// SaveNow sends the current answers immediately, superseding any pending or
// in-flight autosave. The returned Receipt has Applied == false when a
// concurrent writer created the draft first; the scheduler then resends on
// its next tick.
func (s *Scheduler) SaveNow(ctx context.Context) (Receipt, error) {
	s.mu.Lock()
	switch {
	case s.closed:
		s.mu.Unlock()
		return Receipt{}, ErrClosed
	case s.submitted:
		s.mu.Unlock()
		return Receipt{}, ErrAlreadySubmitted
	case s.submitting:
		s.mu.Unlock()
		return Receipt{}, ErrSubmitting
	case s.manual != nil:
		s.mu.Unlock()
		return Receipt{}, ErrBusy
	}
	payload := s.current.Filter()
	if len(payload) == 0 {
		s.mu.Unlock()
		return Receipt{}, ErrNothingToSave
	}
	fp := payload.Fingerprint()

	s.disarmLocked()
	if s.inflight != nil {
		s.inflight(ErrSuperseded)
		s.inflight = nil
		s.inflightFP = ""
	}
	s.seq++
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	s.manual = cancel
	s.setStatusLocked(StatusSaving)
	s.unlockAndNotify()

	rcpt, err := s.remote.SaveDraft(ctx, s.scope, payload)

	s.mu.Lock()
	s.manual = nil
	if cause := context.Cause(ctx); isCancelCause(cause) {
		s.mu.Unlock()
		return Receipt{}, cause
	}
	if err != nil && ctx.Err() != nil {
		// The caller gave up; leave the retry to autosave.
		s.setStatusLocked(StatusPending)
		s.armLocked()
		s.unlockAndNotify()
		return Receipt{}, err
	}
	s.settleLocked(rcpt, err, fp)
	s.unlockAndNotify()
	if err != nil {
		return Receipt{}, err
	}
	return rcpt, nil
}

// Submit promotes the current answers to the final submission.
//
// Autosave is suspended for the duration and any save in flight is
// cancelled. On success the scheduler is finished: later edits are ignored.
// On failure the draft is left as it was, autosave resumes and the same
// idempotency key is reused by the next attempt. ErrAlreadySubmitted also
// finishes the scheduler since the server already holds the submission.
func (s *Scheduler) Submit(ctx context.Context) (*domain.Response, error) {
	s.mu.Lock()
	switch {
	case s.closed:
		s.mu.Unlock()
		return nil, ErrClosed
	case s.submitted:
		s.mu.Unlock()
		return nil, ErrAlreadySubmitted
	case s.submitting:
		s.mu.Unlock()
		return nil, ErrBusy
	}
	payload := s.current.Filter()
	if len(payload) == 0 {
		s.mu.Unlock()
		return nil, ErrNothingToSave
	}

	s.submitting = true
	s.disarmLocked()
	if s.inflight != nil {
		s.inflight(ErrSubmitting)
		s.inflight = nil
		s.inflightFP = ""
	}
	if s.manual != nil {
		s.manual(ErrSubmitting)
	}
	s.seq++
	if s.idemKey == "" {
		s.idemKey = uuid.NewString()
	}
	key := s.idemKey
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	s.submitCancel = cancel
	s.setStatusLocked(StatusSubmitting)
	s.unlockAndNotify()

	resp, err := s.remote.Submit(ctx, s.scope, payload, key)

	s.mu.Lock()
	s.submitting = false
	s.submitCancel = nil
	if err == nil || errors.Is(err, ErrAlreadySubmitted) {
		s.submitted = true
		s.current = payload
		s.setStatusLocked(StatusSubmitted)
		s.unlockAndNotify()
		if err != nil {
			s.log.Info().Msg("submission already recorded")
			resp = nil
		} else {
			s.log.Info().Str("response_id", resp.ID).Msg("response submitted")
		}
		if s.opts.OnSubmitted != nil {
			s.opts.OnSubmitted(resp)
		}
		if err != nil {
			return nil, ErrAlreadySubmitted
		}
		return resp, nil
	}

	s.log.Warn().Err(err).Msg("submission failed; draft kept")
	if s.closed {
		s.mu.Unlock()
		return nil, err
	}
	if s.current.Fingerprint() != s.savedFP {
		s.setStatusLocked(StatusPending)
		s.armLocked()
	} else {
		s.setStatusLocked(StatusSaved)
	}
	s.unlockAndNotify()
	return nil, err
}

// Close stops the timer, cancels saves in flight and waits for autosave
// goroutines to return. It is safe to call more than once.
func (s *Scheduler) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.disarmLocked()
	if s.inflight != nil {
		s.inflight(ErrClosed)
		s.inflight = nil
	}
	if s.manual != nil {
		s.manual(ErrClosed)
	}
	if s.submitCancel != nil {
		s.submitCancel(ErrClosed)
	}
	if !s.submitted {
		s.setStatusLocked(StatusClosed)
	}
	s.unlockAndNotify()

	s.stop()
	s.wg.Wait()
	return nil
}

func (s *Scheduler) setStatusLocked(st Status) {
	if s.status == st {
		return
	}
	s.status = st
	if s.opts.OnStatus != nil {
		s.notify = append(s.notify, st)
	}
}

func (s *Scheduler) unlockAndNotify() {
	pending := s.notify
	s.notify = nil
	s.mu.Unlock()
	for _, st := range pending {
		s.opts.OnStatus(st)
	}
}

func isCancelCause(err error) bool {
	return errors.Is(err, ErrSuperseded) || errors.Is(err, ErrSubmitting) || errors.Is(err, ErrClosed)
}
