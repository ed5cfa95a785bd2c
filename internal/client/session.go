package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
)

// SessionStore persists one respondent session id per questionnaire in a
// JSON file. The id is created on first use and deleted after a successful
// submission, so the next visit starts a fresh response.
type SessionStore struct {
	path string
	mu   sync.Mutex
}

// NewSessionStore returns a store backed by path. The file and its
// directory are created on the first write.
func NewSessionStore(path string) *SessionStore {
	return &SessionStore{path: path}
}

// DefaultSessionPath is sessions.json under the user's config directory.
func DefaultSessionPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "draftsync", "sessions.json"), nil
}

// Get returns the session id of questionnaireID, creating one if needed.
func (s *SessionStore) Get(questionnaireID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.load()
	if err != nil {
		return "", err
	}
	if id, ok := m[questionnaireID]; ok && id != "" {
		return id, nil
	}
	id := uuid.NewString()
	m[questionnaireID] = id
	if err := s.save(m); err != nil {
		return "", err
	}
	return id, nil
}

// Delete forgets the session of questionnaireID. Deleting a missing entry
// is not an error.
func (s *SessionStore) Delete(questionnaireID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.load()
	if err != nil {
		return err
	}
	if _, ok := m[questionnaireID]; !ok {
		return nil
	}
	delete(m, questionnaireID)
	return s.save(m)
}

func (s *SessionStore) load() (map[string]string, error) {
	b, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read sessions: %w", err)
	}
	m := map[string]string{}
	if len(b) == 0 {
		return m, nil
	}
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("decode sessions %s: %w", s.path, err)
	}
	return m, nil
}

// save replaces the file atomically through a temp file and rename.
func (s *SessionStore) save(m map[string]string) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("create sessions dir: %w", err)
	}
	b, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".sessions-*.json")
	if err != nil {
		return fmt.Errorf("write sessions: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		return fmt.Errorf("write sessions: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write sessions: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("write sessions: %w", err)
	}
	return nil
}
