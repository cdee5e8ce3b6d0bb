package sessionstore

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/yanqian/sqlassistant/internal/domain/conversation"
)

// MemoryStore keeps sessions in process memory. History is lost on restart.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID]*memorySession
}

type memorySession struct {
	session conversation.Session
	entries []conversation.Entry
}

// NewMemoryStore constructs an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[uuid.UUID]*memorySession)}
}

func (s *MemoryStore) Create(_ context.Context, session conversation.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[session.ID]; !ok {
		s.sessions[session.ID] = &memorySession{session: session}
	}
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id uuid.UUID) (conversation.Session, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stored, ok := s.sessions[id]
	if !ok {
		return conversation.Session{}, false, nil
	}
	return stored.session, true, nil
}

func (s *MemoryStore) Append(_ context.Context, id uuid.UUID, entry conversation.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.sessions[id]
	if !ok {
		return conversation.ErrSessionNotFound
	}
	stored.entries = append(stored.entries, entry)
	return nil
}

func (s *MemoryStore) List(_ context.Context, id uuid.UUID) ([]conversation.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stored, ok := s.sessions[id]
	if !ok {
		return nil, conversation.ErrSessionNotFound
	}
	out := make([]conversation.Entry, len(stored.entries))
	copy(out, stored.entries)
	return out, nil
}

var _ conversation.Store = (*MemoryStore)(nil)
