package credential

import (
	"context"
	"sync"
)

var _ SessionStore = (*MemorySessionStore)(nil)

// MemorySessionStore keeps session tokens in process memory (tests, dev mode).
type MemorySessionStore struct {
	mu   sync.RWMutex
	toks map[string]SessionToken
}

func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{toks: make(map[string]SessionToken)}
}

func (s *MemorySessionStore) Upsert(ctx context.Context, tok SessionToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.toks[tok.UserID] = tok
	return nil
}

func (s *MemorySessionStore) Find(ctx context.Context, userID string) (SessionToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tok, ok := s.toks[userID]
	if !ok {
		return SessionToken{}, ErrNoSession
	}
	return tok, nil
}
