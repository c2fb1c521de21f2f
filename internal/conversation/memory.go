package conversation

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore keeps all sessions in process memory. The session table is
// guarded by its own mutex; each session carries a second mutex so that
// appends on one session serialize without blocking other sessions.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*session
}

type session struct {
	mu    sync.Mutex
	turns []Turn
	prefs Preferences
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]*session)}
}

// Start creates the session, issuing a UUID when no identifier is supplied.
// Restarting a live session resets its transcript and preferences.
func (s *MemoryStore) Start(_ context.Context, id string) (string, error) {
	if id == "" {
		id = uuid.NewString()
	}
	s.mu.Lock()
	s.sessions[id] = &session{prefs: make(Preferences)}
	s.mu.Unlock()
	return id, nil
}

func (s *MemoryStore) get(id string) (*session, error) {
	s.mu.RLock()
	sess, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrSessionNotFound
	}
	return sess, nil
}

func (s *MemoryStore) Append(_ context.Context, id string, role Role, text string) error {
	sess, err := s.get(id)
	if err != nil {
		return err
	}
	sess.mu.Lock()
	sess.turns = append(sess.turns, Turn{Role: role, Content: text, CreatedAt: time.Now().UTC()})
	sess.mu.Unlock()
	return nil
}

func (s *MemoryStore) Read(_ context.Context, id string) ([]Turn, error) {
	sess, err := s.get(id)
	if err != nil {
		return nil, err
	}
	sess.mu.Lock()
	turns := append([]Turn(nil), sess.turns...)
	sess.mu.Unlock()
	return turns, nil
}

func (s *MemoryStore) MergePreferences(_ context.Context, id string, prefs Preferences) error {
	sess, err := s.get(id)
	if err != nil {
		return err
	}
	sess.mu.Lock()
	sess.prefs.Merge(prefs)
	sess.mu.Unlock()
	return nil
}

func (s *MemoryStore) Preferences(_ context.Context, id string) (Preferences, error) {
	sess, err := s.get(id)
	if err != nil {
		return nil, err
	}
	sess.mu.Lock()
	prefs := sess.prefs.Clone()
	sess.mu.Unlock()
	return prefs, nil
}

// Clear drops the session entirely. Unknown identifiers are a no-op.
func (s *MemoryStore) Clear(_ context.Context, id string) error {
	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()
	return nil
}
