package selection

import (
	"context"
	"sync"
)

// MemoryStore keeps selections in process. It backs tests and the render CLI.
type MemoryStore struct {
	mu    sync.RWMutex
	users map[string]map[string]Selection
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{users: map[string]map[string]Selection{}}
}

func (s *MemoryStore) Load(_ context.Context, userID string) (map[string]Selection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]Selection, len(s.users[userID]))
	for k, v := range s.users[userID] {
		out[k] = v
	}
	return out, nil
}

func (s *MemoryStore) Save(_ context.Context, userID, stepName string, sel Selection) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	steps, ok := s.users[userID]
	if !ok {
		steps = map[string]Selection{}
		s.users[userID] = steps
	}
	steps[stepName] = sel
	return nil
}
