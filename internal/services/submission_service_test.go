package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/tbourn/go-draftsync/internal/domain"
	"github.com/tbourn/go-draftsync/internal/repo"
)

func countRows(t *testing.T, svc *SubmissionService, qid string, status domain.Status) int64 {
	t.Helper()
	var n int64
	if err := svc.DB.Model(&domain.Response{}).
		Where("questionnaire_id = ? AND status = ?", qid, status).
		Count(&n).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	return n
}

func TestNewSubmissionService_Defaults(t *testing.T) {
	s := NewSubmissionService(nil)
	if s.MaxAnswers != 500 || s.IdempotencyTTL != 24*time.Hour || s.Now == nil {
		t.Fatalf("unexpected defaults: %+v", s)
	}
}

func TestSubmit_Collaborative_RetiresSharedDraftAndAllowsRepeats(t *testing.T) {
	db := newTestDB(t)
	drafts := NewDraftService(db, storeRepo{})
	svc := NewSubmissionService(db)
	ctx := context.Background()
	scope := domain.CollaborativeScope("q1")

	if _, err := drafts.Save(ctx, scope, domain.Answers{"q1": "draft"}); err != nil {
		t.Fatalf("seed draft: %v", err)
	}

	r1, err := svc.Submit(ctx, scope, domain.Answers{"q1": "final", "q2": ""}, "")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if r1.Status != domain.StatusSubmitted || !strings.HasPrefix(r1.RespondentID, "submitted_") || r1.SubmittedAt == nil {
		t.Fatalf("unexpected submission: %+v", r1)
	}
	if a := r1.AnswerMap(); len(a) != 1 || a["q1"] != "final" {
		t.Fatalf("submitted answers should be filtered, got %#v", a)
	}
	if n := countRows(t, svc, "q1", domain.StatusInProgress); n != 0 {
		t.Fatalf("shared draft should be retired, %d left", n)
	}

	// A second collaborative submission is a separate final row.
	r2, err := svc.Submit(ctx, scope, domain.Answers{"q1": "again"}, "")
	if err != nil {
		t.Fatalf("second Submit: %v", err)
	}
	if r2.RespondentID == r1.RespondentID {
		t.Fatalf("collaborative submissions must get distinct respondent ids")
	}
	if n := countRows(t, svc, "q1", domain.StatusSubmitted); n != 2 {
		t.Fatalf("submitted rows = %d; want 2", n)
	}
}

func TestSubmit_Session_SecondSubmissionRejectedAndRolledBack(t *testing.T) {
	db := newTestDB(t)
	drafts := NewDraftService(db, storeRepo{})
	svc := NewSubmissionService(db)
	ctx := context.Background()
	scope := domain.SessionScope("q1", "sess-A")

	if _, err := svc.Submit(ctx, scope, domain.Answers{"q1": "yes"}, ""); err != nil {
		t.Fatalf("first Submit: %v", err)
	}

	// The respondent starts a new draft and tries to submit again.
	if _, err := drafts.Save(ctx, scope, domain.Answers{"q1": "changed"}); err != nil {
		t.Fatalf("new draft: %v", err)
	}
	_, err := svc.Submit(ctx, scope, domain.Answers{"q1": "changed"}, "")
	if !errors.Is(err, ErrAlreadySubmitted) {
		t.Fatalf("want ErrAlreadySubmitted, got %v", err)
	}
	// The rejected promotion must not have deleted the draft.
	if _, err := drafts.Get(ctx, scope); err != nil {
		t.Fatalf("draft should survive a rejected submission: %v", err)
	}
	if n := countRows(t, svc, "q1", domain.StatusSubmitted); n != 1 {
		t.Fatalf("submitted rows = %d; want 1", n)
	}
}

func TestSubmit_IdempotencyKey_ReplayRejectedWithoutSideEffects(t *testing.T) {
	db := newTestDB(t)
	drafts := NewDraftService(db, storeRepo{})
	svc := NewSubmissionService(db)
	ctx := context.Background()
	scope := domain.CollaborativeScope("q1")

	first, err := svc.Submit(ctx, scope, domain.Answers{"q1": "a"}, "key-1")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	seen, err := svc.IdempotencyKeySeen(ctx, "key-1")
	if err != nil || !seen {
		t.Fatalf("key should be recorded, got (%v, %v)", seen, err)
	}
	rec, err := repo.GetIdempotency(ctx, db, "q1", "collaborative_q1", "key-1", time.Now().UTC())
	if err != nil || rec.ResponseID != first.ID {
		t.Fatalf("idempotency record = (%+v, %v)", rec, err)
	}

	// Someone keeps editing; then the original submit is retried.
	if _, err := drafts.Save(ctx, scope, domain.Answers{"q1": "b"}); err != nil {
		t.Fatalf("draft: %v", err)
	}
	if _, err := svc.Submit(ctx, scope, domain.Answers{"q1": "a"}, "key-1"); !errors.Is(err, ErrAlreadySubmitted) {
		t.Fatalf("replay: want ErrAlreadySubmitted, got %v", err)
	}
	if n := countRows(t, svc, "q1", domain.StatusSubmitted); n != 1 {
		t.Fatalf("replay must not create a row, have %d", n)
	}
	if _, err := drafts.Get(ctx, scope); err != nil {
		t.Fatalf("replay must not retire the new draft: %v", err)
	}

	// The same key from a different scope is independent.
	if _, err := svc.Submit(ctx, domain.SessionScope("q1", "sess-Z"), domain.Answers{"q1": "z"}, "key-1"); err != nil {
		t.Fatalf("same key other scope: %v", err)
	}
}

func TestSubmit_IdempotencyKey_ReusableAfterTTL(t *testing.T) {
	db := newTestDB(t)
	svc := NewSubmissionService(db)
	svc.IdempotencyTTL = time.Minute
	clock := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	svc.Now = func() time.Time { return clock }
	ctx := context.Background()
	scope := domain.CollaborativeScope("q1")

	if _, err := svc.Submit(ctx, scope, domain.Answers{"q1": "a"}, "key-1"); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	rec, err := repo.GetIdempotency(ctx, db, "q1", "collaborative_q1", "key-1", clock)
	if err != nil || !rec.CreatedAt.Equal(clock) || !rec.ExpiresAt.Equal(clock.Add(time.Minute)) {
		t.Fatalf("record should follow the service clock: (%+v, %v)", rec, err)
	}

	// the purge has not run yet, so the expired row is still stored
	clock = clock.Add(2 * time.Hour)
	if seen, err := svc.IdempotencyKeySeen(ctx, "key-1"); err != nil || seen {
		t.Fatalf("expired key seen = (%v, %v)", seen, err)
	}
	again, err := svc.Submit(ctx, scope, domain.Answers{"q1": "b"}, "key-1")
	if err != nil {
		t.Fatalf("Submit with expired key: %v", err)
	}
	if n := countRows(t, svc, "q1", domain.StatusSubmitted); n != 2 {
		t.Fatalf("submitted rows = %d; want 2", n)
	}
	rec, err = repo.GetIdempotency(ctx, db, "q1", "collaborative_q1", "key-1", clock)
	if err != nil || rec.ResponseID != again.ID {
		t.Fatalf("key should now point at the new submission: (%+v, %v)", rec, err)
	}
}

func TestSubmit_ValidationErrors(t *testing.T) {
	svc := NewSubmissionService(newTestDB(t))
	svc.MaxAnswers = 1
	ctx := context.Background()
	if _, err := svc.Submit(ctx, domain.CollaborativeScope("q1"), domain.Answers{"q1": ""}, ""); !errors.Is(err, ErrNothingToSave) {
		t.Fatalf("want ErrNothingToSave, got %v", err)
	}
	if _, err := svc.Submit(ctx, domain.SessionScope("q1", ""), domain.Answers{"q1": "a"}, ""); !errors.Is(err, ErrInvalidScope) {
		t.Fatalf("want ErrInvalidScope, got %v", err)
	}
	if _, err := svc.Submit(ctx, domain.CollaborativeScope("q1"), domain.Answers{"a": "1", "b": "2"}, ""); !errors.Is(err, ErrTooManyAnswers) {
		t.Fatalf("want ErrTooManyAnswers, got %v", err)
	}
}

func TestSubmit_StoreFailure_IsUnavailable(t *testing.T) {
	db := newTestDB(t)
	if err := db.Migrator().DropTable(&domain.Response{}); err != nil {
		t.Fatalf("drop: %v", err)
	}
	_, err := NewSubmissionService(db).Submit(context.Background(), domain.CollaborativeScope("q1"), domain.Answers{"a": "1"}, "")
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("want ErrStoreUnavailable, got %v", err)
	}
}

func TestListPage_And_Stats(t *testing.T) {
	db := newTestDB(t)
	svc := NewSubmissionService(db)
	ctx := context.Background()
	base := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	i := 0
	svc.Now = func() time.Time {
		i++
		return base.Add(time.Duration(i) * time.Minute)
	}

	items, total, err := svc.ListPage(ctx, "q1", 0, 0)
	if err != nil || total != 0 || len(items) != 0 {
		t.Fatalf("empty ListPage = (%v, %d, %v)", items, total, err)
	}
	if _, _, err := svc.ListPage(ctx, "", 1, 10); !errors.Is(err, ErrInvalidScope) {
		t.Fatalf("blank questionnaire: want ErrInvalidScope, got %v", err)
	}

	for n := 0; n < 3; n++ {
		if _, err := svc.Submit(ctx, domain.SessionScope("q1", fmt.Sprintf("s%d", n)), domain.Answers{"n": float64(n)}, ""); err != nil {
			t.Fatalf("seed %d: %v", n, err)
		}
	}

	items, total, err = svc.ListPage(ctx, "q1", 1, 2)
	if err != nil || total != 3 || len(items) != 2 {
		t.Fatalf("ListPage = (%d items, %d, %v)", len(items), total, err)
	}
	if items[0].RespondentID != "s2" {
		t.Fatalf("newest first expected, got %q", items[0].RespondentID)
	}

	count, latest, err := svc.Stats(ctx, "q1")
	if err != nil || count != 3 || latest == nil {
		t.Fatalf("Stats = (%d, %v, %v)", count, latest, err)
	}
}
