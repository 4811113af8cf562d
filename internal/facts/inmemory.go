package facts

import (
	"context"
	"sync"
	"time"
)

// InMemoryStore is a simple in-process fact store for local/dev use.
type InMemoryStore struct {
	mu      sync.RWMutex
	byID    map[string]map[string]bool // callerID -> fact id -> recorded
	records map[string][]Fact
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		byID:    make(map[string]map[string]bool),
		records: make(map[string][]Fact),
	}
}

func (s *InMemoryStore) Record(_ context.Context, fact Fact) (bool, error) {
	if fact.ID == "" {
		return false, ErrMissingID
	}
	if fact.CreatedAt.IsZero() {
		fact.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	seen := s.byID[fact.CallerID]
	if seen == nil {
		seen = make(map[string]bool)
		s.byID[fact.CallerID] = seen
	}
	if seen[fact.ID] {
		return false, nil
	}
	seen[fact.ID] = true
	s.records[fact.CallerID] = append(s.records[fact.CallerID], fact)
	return true, nil
}

func (s *InMemoryStore) List(_ context.Context, callerID string) ([]Fact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	arr := s.records[callerID]
	out := make([]Fact, len(arr))
	copy(out, arr)
	return out, nil
}

func (s *InMemoryStore) ClearThread(_ context.Context, callerID, threadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.records[callerID][:0]
	seen := make(map[string]bool)
	for _, f := range s.records[callerID] {
		if f.ThreadID == threadID {
			continue
		}
		kept = append(kept, f)
		seen[f.ID] = true
	}
	s.records[callerID] = kept
	s.byID[callerID] = seen
	return nil
}

func (s *InMemoryStore) Close() error { return nil }
