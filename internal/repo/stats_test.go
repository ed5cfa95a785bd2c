package repo

import (
	"context"
	"testing"
	"time"

	"github.com/tbourn/go-draftsync/internal/domain"
)

func TestSubmissionsStats_CountError_NoTable(t *testing.T) {
	db := newRepoDB(t, &domain.Idempotency{}) // no responses table
	_, _, err := SubmissionsStats(context.Background(), db, "q1")
	if err == nil {
		t.Fatalf("expected error due to missing responses table")
	}
}

func TestSubmissionsStats_ZeroRows_IgnoresDrafts(t *testing.T) {
	db := newRepoDB(t)
	ctx := context.Background()
	if _, err := InsertDraft(ctx, db, domain.CollaborativeScope("q1"), domain.Answers{"a": "1"}, time.Now().UTC()); err != nil {
		t.Fatalf("seed draft: %v", err)
	}
	count, maxAt, err := SubmissionsStats(ctx, db, "q1")
	if err != nil {
		t.Fatalf("SubmissionsStats error: %v", err)
	}
	if count != 0 || maxAt != nil {
		t.Fatalf("expected (0, nil), got (%d, %v)", count, maxAt)
	}
}

func TestSubmissionsStats_Success_FilterAndMax(t *testing.T) {
	db := newRepoDB(t)
	ctx := context.Background()

	t1 := time.Date(2025, 1, 2, 15, 0, 0, 0, time.UTC)
	t2 := time.Date(2025, 3, 4, 10, 30, 0, 0, time.UTC) // max for q1
	t3 := time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)   // other questionnaire

	for _, seed := range []struct {
		qid, rid string
		at       time.Time
	}{
		{"q1", "s1", t1},
		{"q1", "s2", t2},
		{"q2", "s1", t3},
	} {
		if _, err := CreateSubmission(ctx, db, seed.qid, seed.rid, domain.Answers{"a": "1"}, seed.at); err != nil {
			t.Fatalf("seed %+v: %v", seed, err)
		}
	}

	count, maxAt, err := SubmissionsStats(ctx, db, "q1")
	if err != nil {
		t.Fatalf("SubmissionsStats error: %v", err)
	}
	if count != 2 {
		t.Fatalf("count = %d; want 2", count)
	}
	if maxAt == nil || !maxAt.Equal(t2) {
		t.Fatalf("maxUpdatedAt = %v; want %v", maxAt, t2)
	}
}

func TestPing(t *testing.T) {
	db := newRepoDB(t)
	if err := Ping(context.Background(), db); err != nil {
		t.Fatalf("Ping: %v", err)
	}
}
