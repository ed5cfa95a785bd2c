package domain

import (
	"errors"
	"strings"
	"testing"
)

func TestResolveScope(t *testing.T) {
	s, err := ResolveScope(" q1 ", "")
	if err != nil {
		t.Fatalf("collaborative: %v", err)
	}
	if s.Mode != ModeCollaborative || s.DraftRespondentID() != "collaborative_q1" {
		t.Fatalf("unexpected collaborative scope: %+v", s)
	}

	s, err = ResolveScope("q1", " sess-42 ")
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	if s.Mode != ModeSession || s.DraftRespondentID() != "sess-42" || s.FinalRespondentID() != "sess-42" {
		t.Fatalf("unexpected session scope: %+v", s)
	}
}

func TestResolveScope_Invalid(t *testing.T) {
	cases := []struct{ qid, rid string }{
		{"", ""},
		{"   ", "sess"},
		{strings.Repeat("q", 65), ""},
		{"q1", "collaborative_q1"},
		{"q1", "submitted_abc"},
		{"q1", strings.Repeat("s", 129)},
	}
	for _, c := range cases {
		if _, err := ResolveScope(c.qid, c.rid); !errors.Is(err, ErrInvalidScope) {
			t.Fatalf("ResolveScope(%q,%q) err = %v; want ErrInvalidScope", c.qid, c.rid, err)
		}
	}
	if err := (DraftScope{Mode: "broadcast", QuestionnaireID: "q"}).Validate(); !errors.Is(err, ErrInvalidScope) {
		t.Fatalf("unknown mode should be invalid, got %v", err)
	}
}

func TestFinalRespondentID_CollaborativeIsFreshEachTime(t *testing.T) {
	s := CollaborativeScope("q1")
	a, b := s.FinalRespondentID(), s.FinalRespondentID()
	if !strings.HasPrefix(a, "submitted_") || !strings.HasPrefix(b, "submitted_") {
		t.Fatalf("final ids must use the submitted_ prefix: %q %q", a, b)
	}
	if a == b {
		t.Fatalf("collaborative final ids must be unique, got %q twice", a)
	}
	if a == s.DraftRespondentID() {
		t.Fatalf("final id must differ from the shared draft id")
	}
}
