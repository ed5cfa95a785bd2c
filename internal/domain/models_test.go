package domain

import (
	"testing"
	"time"

	"gorm.io/datatypes"
)

func TestTableNames(t *testing.T) {
	if (Response{}).TableName() != "responses" {
		t.Fatalf("Response.TableName() = %q; want %q", (Response{}).TableName(), "responses")
	}
	if (Idempotency{}).TableName() != "idempotency" {
		t.Fatalf("Idempotency.TableName() = %q; want %q", (Idempotency{}).TableName(), "idempotency")
	}
}

func TestResponse_Migration_AnswersRoundTrip_AndStatusCheck(t *testing.T) {
	db := newTestDB(t)
	if err := db.AutoMigrate(&Response{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	if !db.Migrator().HasIndex(&Response{}, "idx_responses_listing") {
		t.Fatalf("expected index idx_responses_listing on responses")
	}

	now := time.Now().UTC()
	r := Response{
		ID:              "r-1",
		QuestionnaireID: "q1",
		RespondentID:    "collaborative_q1",
		Answers:         datatypes.NewJSONType(Answers{"q1": "yes", "q2": []string{"a", "b"}, "q3": 4.5}),
		Status:          StatusInProgress,
		LastSavedAt:     &now,
	}
	if err := db.Create(&r).Error; err != nil {
		t.Fatalf("create: %v", err)
	}

	var got Response
	if err := db.First(&got, "id = ?", "r-1").Error; err != nil {
		t.Fatalf("readback: %v", err)
	}
	a := got.AnswerMap()
	if a["q1"] != "yes" || a["q3"] != 4.5 {
		t.Fatalf("answers not round-tripped: %#v", a)
	}
	if l, ok := a["q2"].([]any); !ok || len(l) != 2 || l[0] != "a" {
		t.Fatalf("list answer not round-tripped: %#v", a["q2"])
	}
	if got.LastSavedAt == nil || got.SubmittedAt != nil {
		t.Fatalf("timestamps unexpected: %+v", got)
	}

	bad := Response{ID: "r-2", QuestionnaireID: "q1", RespondentID: "s", Status: Status("archived")}
	if err := db.Create(&bad).Error; err == nil {
		t.Fatalf("expected CHECK constraint violation for unknown status")
	}
}

func TestResponse_AnswerMap_NeverNil(t *testing.T) {
	if (Response{}).AnswerMap() == nil {
		t.Fatalf("AnswerMap on zero Response must not be nil")
	}
}
