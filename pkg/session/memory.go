package session

import (
	"context"
	"sort"
	"sync"

	"github.com/evanrhodes/tern/internal/observability"
)

// MemoryStore keeps sessions in a map. It is the reference
// implementation for tests and ephemeral runs.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewMemoryStore builds an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]*Session)}
}

func (m *MemoryStore) Create(ctx context.Context, systemPrompt string) (*Session, error) {
	s := newSessionWithPrompt(systemPrompt)
	m.mu.Lock()
	m.sessions[s.Meta.ID] = s.Clone()
	count := len(m.sessions)
	m.mu.Unlock()
	observability.SetActiveSessions(count)
	return s, nil
}

func (m *MemoryStore) Load(ctx context.Context, id string) (*Session, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound(id)
	}
	return s.Clone(), nil
}

func (m *MemoryStore) Save(ctx context.Context, s *Session) error {
	if err := validateID(s.Meta.ID); err != nil {
		return err
	}
	m.mu.Lock()
	m.sessions[s.Meta.ID] = s.Clone()
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Exists(ctx context.Context, id string) (bool, error) {
	if err := validateID(id); err != nil {
		return false, err
	}
	m.mu.RLock()
	_, ok := m.sessions[id]
	m.mu.RUnlock()
	return ok, nil
}

func (m *MemoryStore) Delete(ctx context.Context, id string) error {
	if err := validateID(id); err != nil {
		return err
	}
	m.mu.Lock()
	delete(m.sessions, id)
	count := len(m.sessions)
	m.mu.Unlock()
	observability.SetActiveSessions(count)
	return nil
}

func (m *MemoryStore) List(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.RUnlock()
	sort.Strings(ids)
	return ids, nil
}
