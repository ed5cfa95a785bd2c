package repo

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-draftsync/internal/domain"
)

// newRepoDB opens a per-test in-memory database. Without arguments it runs
// the full AutoMigrate (tables plus partial indexes).
func newRepoDB(t *testing.T, migrate ...any) *gorm.DB {
	t.Helper()
	// Use a unique in-memory database per test to avoid schema leakage across tests.
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	if len(migrate) == 0 {
		if err := AutoMigrate(db); err != nil {
			t.Fatalf("automigrate: %v", err)
		}
		return db
	}
	if err := db.AutoMigrate(migrate...); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func TestGetIdempotency_BlankKey_ReturnsNotFound(t *testing.T) {
	db := newRepoDB(t, &domain.Idempotency{})
	rec, err := GetIdempotency(context.Background(), db, "q1", "sess-1", "   ", time.Now().UTC())
	if rec != nil || err != ErrNotFound {
		t.Fatalf("expected (nil, ErrNotFound) for blank key, got (%v, %v)", rec, err)
	}
}

func TestGetIdempotency_ExpiredOrMissing_ReturnsNotFound(t *testing.T) {
	db := newRepoDB(t, &domain.Idempotency{})
	now := time.Now().UTC()

	exp := &domain.Idempotency{
		ID:              "expired",
		QuestionnaireID: "q1",
		ScopeKey:        "sess-1",
		Key:             "k1",
		ResponseID:      "r1",
		Status:          201,
		CreatedAt:       now.Add(-2 * time.Hour),
		ExpiresAt:       now.Add(-time.Hour),
	}
	if err := db.Create(exp).Error; err != nil {
		t.Fatalf("seed expired: %v", err)
	}

	rec, err := GetIdempotency(context.Background(), db, "q1", "sess-1", "k1", now)
	if rec != nil || err != ErrNotFound {
		t.Fatalf("expected (nil, ErrNotFound) for expired, got (%v, %v)", rec, err)
	}
	rec2, err2 := GetIdempotency(context.Background(), db, "q1", "sess-1", "missing", now)
	if rec2 != nil || err2 != ErrNotFound {
		t.Fatalf("expected (nil, ErrNotFound) for missing, got (%v, %v)", rec2, err2)
	}

	n, err := PurgeExpiredIdempotency(context.Background(), db, now)
	if err != nil || n != 1 {
		t.Fatalf("PurgeExpiredIdempotency = (%d, %v); want (1, nil)", n, err)
	}
}

func TestCreateIdempotency_SuccessDuplicateAndSeen(t *testing.T) {
	db := newRepoDB(t, &domain.Idempotency{})
	ctx := context.Background()
	ttl := 90 * time.Minute
	start := time.Now().UTC()

	rec, err := CreateIdempotency(ctx, db, "q9", "collaborative_q9", "k9", "r9", 201, start, ttl)
	if err != nil {
		t.Fatalf("CreateIdempotency error: %v", err)
	}
	if rec == nil || rec.ID == "" || rec.ScopeKey != "collaborative_q9" || rec.ResponseID != "r9" || rec.Status != 201 {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if !rec.CreatedAt.Equal(start) || !rec.ExpiresAt.Equal(start.Add(ttl)) {
		t.Fatalf("unexpected ExpiresAt: %v", rec.ExpiresAt)
	}

	got, err := GetIdempotency(ctx, db, "q9", "collaborative_q9", "k9", time.Now().UTC())
	if err != nil || got.ResponseID != "r9" {
		t.Fatalf("GetIdempotency = (%+v, %v)", got, err)
	}

	_, err = CreateIdempotency(ctx, db, "q9", "collaborative_q9", "k9", "rX", 201, start.Add(time.Minute), ttl)
	if !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}

	seen, err := IdempotencyKeySeen(ctx, db, "k9", time.Now().UTC())
	if err != nil || !seen {
		t.Fatalf("IdempotencyKeySeen(k9) = (%v, %v); want true", seen, err)
	}
	seen, err = IdempotencyKeySeen(ctx, db, "other", time.Now().UTC())
	if err != nil || seen {
		t.Fatalf("IdempotencyKeySeen(other) = (%v, %v); want false", seen, err)
	}
}

func TestCreateIdempotency_ReplacesExpiredRecord(t *testing.T) {
	db := newRepoDB(t, &domain.Idempotency{})
	ctx := context.Background()
	t0 := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

	if _, err := CreateIdempotency(ctx, db, "q1", "sess-1", "k1", "r1", 201, t0, time.Minute); err != nil {
		t.Fatalf("first: %v", err)
	}
	// another scope's expired record with the same key must survive
	if _, err := CreateIdempotency(ctx, db, "q1", "sess-2", "k1", "r2", 201, t0, time.Minute); err != nil {
		t.Fatalf("other scope: %v", err)
	}

	later := t0.Add(2 * time.Hour)
	rec, err := CreateIdempotency(ctx, db, "q1", "sess-1", "k1", "r3", 201, later, time.Minute)
	if err != nil {
		t.Fatalf("reuse after expiry: %v", err)
	}
	if rec.ResponseID != "r3" || !rec.ExpiresAt.Equal(later.Add(time.Minute)) {
		t.Fatalf("record = %+v", rec)
	}

	var n int64
	if err := db.Model(&domain.Idempotency{}).Where("key = ?", "k1").Count(&n).Error; err != nil || n != 2 {
		t.Fatalf("k1 rows = (%d, %v); want 2", n, err)
	}
	got, err := GetIdempotency(ctx, db, "q1", "sess-1", "k1", later)
	if err != nil || got.ResponseID != "r3" {
		t.Fatalf("GetIdempotency = (%+v, %v)", got, err)
	}
}

// Generic DB error path: attempt insert without migrating the table.
func TestCreateIdempotency_Error_NoTable(t *testing.T) {
	db := newRepoDB(t, &domain.Response{}) // intentionally NOT migrating idempotency
	_, err := CreateIdempotency(context.Background(), db, "qX", "sX", "kX", "rX", 201, time.Now(), time.Minute)
	if err == nil {
		t.Fatalf("expected error when table is missing")
	}
	if errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected non-duplicate error, got ErrDuplicate")
	}
}
