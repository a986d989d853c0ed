package transcript

import (
	"context"
	"sync"
	"time"
)

// InMemoryStore keeps transcripts in process for local/dev use.
type InMemoryStore struct {
	mu     sync.RWMutex
	byID   map[string]Transcript
	byUser map[string][]string
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		byID:   make(map[string]Transcript),
		byUser: make(map[string][]string),
	}
}

func (s *InMemoryStore) Save(_ context.Context, t Transcript) error {
	if t.CompletedAt.IsZero() {
		t.CompletedAt = time.Now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, exists := s.byID[t.RequestID]; exists {
		ids := s.byUser[prev.UserID]
		for i, id := range ids {
			if id == t.RequestID {
				s.byUser[prev.UserID] = append(ids[:i:i], ids[i+1:]...)
				break
			}
		}
	}
	s.byUser[t.UserID] = append(s.byUser[t.UserID], t.RequestID)
	s.byID[t.RequestID] = t
	return nil
}

func (s *InMemoryStore) Get(_ context.Context, requestID string) (Transcript, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.byID[requestID]
	if !ok {
		return Transcript{}, ErrNotFound
	}
	return t, nil
}

// Recent returns the user's latest transcripts, newest first.
func (s *InMemoryStore) Recent(_ context.Context, userID string, limit int) ([]Transcript, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.byUser[userID]
	if limit <= 0 || limit > len(ids) {
		limit = len(ids)
	}
	out := make([]Transcript, 0, limit)
	for i := len(ids) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.byID[ids[i]])
	}
	return out, nil
}

func (s *InMemoryStore) Close() error { return nil }
