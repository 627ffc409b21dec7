package memory

import (
	"context"
	"sync"

	"github.com/JakeFAU/sitegraph/internal/store"
)

// EventStore keeps job event history in memory.
type EventStore struct {
	mu     sync.RWMutex
	events map[string][]store.EventRecord
}

// NewEventStore constructs an empty EventStore.
func NewEventStore() *EventStore {
	return &EventStore{events: make(map[string][]store.EventRecord)}
}

// AppendEvents records the batch in order.
func (s *EventStore) AppendEvents(_ context.Context, events []store.EventRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, evt := range events {
		s.events[evt.JobID] = append(s.events[evt.JobID], evt)
	}
	return nil
}

// ListEvents returns up to limit events, oldest first. limit <= 0 means all.
func (s *EventStore) ListEvents(_ context.Context, jobID string, limit int) ([]store.EventRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	events := s.events[jobID]
	if limit > 0 && len(events) > limit {
		events = events[:limit]
	}
	out := make([]store.EventRecord, len(events))
	copy(out, events)
	return out, nil
}
