package domain

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Mode selects how drafts of a questionnaire are keyed.
type Mode string

const (
	// ModeSession keys drafts by a per-respondent session id.
	ModeSession Mode = "session"
	// ModeCollaborative shares one draft among everyone editing the
	// questionnaire.
	ModeCollaborative Mode = "collaborative"
)

const (
	collaborativePrefix = "collaborative_"
	submittedPrefix     = "submitted_"

	maxQuestionnaireIDLen = 64
	maxSessionIDLen       = 128
)

// ErrInvalidScope is returned for a scope that cannot address a draft.
var ErrInvalidScope = errors.New("invalid draft scope")

// DraftScope identifies the single live draft a save or submission targets.
type DraftScope struct {
	Mode            Mode
	QuestionnaireID string
	// SessionID is only meaningful in ModeSession.
	SessionID string
}

// SessionScope returns a scope keyed by an individual respondent session.
func SessionScope(questionnaireID, sessionID string) DraftScope {
	return DraftScope{Mode: ModeSession, QuestionnaireID: questionnaireID, SessionID: sessionID}
}

// CollaborativeScope returns the shared scope of a questionnaire.
func CollaborativeScope(questionnaireID string) DraftScope {
	return DraftScope{Mode: ModeCollaborative, QuestionnaireID: questionnaireID}
}

// ResolveScope builds a scope from request values. An empty respondent id
// selects collaborative mode; anything else is a session id.
func ResolveScope(questionnaireID, respondentID string) (DraftScope, error) {
	qid := strings.TrimSpace(questionnaireID)
	rid := strings.TrimSpace(respondentID)
	s := CollaborativeScope(qid)
	if rid != "" {
		s = SessionScope(qid, rid)
	}
	return s, s.Validate()
}

// Validate checks ids and rejects session ids that collide with the
// generated respondent id namespaces.
func (s DraftScope) Validate() error {
	if s.QuestionnaireID == "" {
		return fmt.Errorf("%w: questionnaire_id is required", ErrInvalidScope)
	}
	if len(s.QuestionnaireID) > maxQuestionnaireIDLen {
		return fmt.Errorf("%w: questionnaire_id too long", ErrInvalidScope)
	}
	switch s.Mode {
	case ModeCollaborative:
		return nil
	case ModeSession:
		if s.SessionID == "" {
			return fmt.Errorf("%w: respondent_id is required in session mode", ErrInvalidScope)
		}
		if len(s.SessionID) > maxSessionIDLen {
			return fmt.Errorf("%w: respondent_id too long", ErrInvalidScope)
		}
		if strings.HasPrefix(s.SessionID, collaborativePrefix) || strings.HasPrefix(s.SessionID, submittedPrefix) {
			return fmt.Errorf("%w: respondent_id uses a reserved prefix", ErrInvalidScope)
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown mode %q", ErrInvalidScope, s.Mode)
	}
}

// DraftRespondentID is the respondent id under which the scope's live draft
// is stored.
func (s DraftScope) DraftRespondentID() string {
	if s.Mode == ModeCollaborative {
		return collaborativePrefix + s.QuestionnaireID
	}
	return s.SessionID
}

// FinalRespondentID is the respondent id of a new submission. Collaborative
// submissions get a fresh id each time so they never collide with the shared
// draft or with each other.
func (s DraftScope) FinalRespondentID() string {
	if s.Mode == ModeCollaborative {
		return submittedPrefix + uuid.NewString()
	}
	return s.SessionID
}

func (s DraftScope) String() string {
	return string(s.Mode) + ":" + s.QuestionnaireID + "/" + s.DraftRespondentID()
}
