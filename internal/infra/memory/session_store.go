package memory

import (
	"context"
	"sync"

	"testpass-service/internal/domain"
)

// SessionStore is an in-memory implementation of app.SessionStore. It keeps
// one mirrored session per test plus a pointer to the active attempt for the
// navigation guard.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]domain.Session
	activeID string
}

func NewSessionStore() *SessionStore {
	return &SessionStore{
		sessions: make(map[string]domain.Session),
	}
}

func (s *SessionStore) Save(_ context.Context, session domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[session.TestID] = session.Clone()
	s.activeID = session.TestID
	return nil
}

func (s *SessionStore) Load(_ context.Context, testID string) (domain.Session, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[testID]
	if !ok {
		return domain.Session{}, false, nil
	}
	return session.Clone(), true, nil
}

func (s *SessionStore) Clear(_ context.Context, testID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, testID)
	if s.activeID == testID {
		s.activeID = ""
	}
	return nil
}

func (s *SessionStore) Active(_ context.Context) (domain.Session, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.activeID == "" {
		return domain.Session{}, false, nil
	}
	session, ok := s.sessions[s.activeID]
	if !ok {
		return domain.Session{}, false, nil
	}
	return session.Clone(), true, nil
}
