package memory

import (
	"context"
	"sync"

	"github.com/JakeFAU/sitegraph/internal/crawler"
)

// StoredResult is the latest graph persisted for one grouping key.
type StoredResult struct {
	GroupingKey string
	Graph       crawler.Graph
	Counts      crawler.ResultCounts
}

// ResultStore keeps the latest result per grouping key.
type ResultStore struct {
	mu      sync.RWMutex
	results map[string]StoredResult
}

// NewResultStore constructs an empty ResultStore.
func NewResultStore() *ResultStore {
	return &ResultStore{results: make(map[string]StoredResult)}
}

// Persist replaces any previous result for groupingKey.
func (s *ResultStore) Persist(_ context.Context, groupingKey string, graph crawler.Graph, counts crawler.ResultCounts) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[groupingKey] = StoredResult{GroupingKey: groupingKey, Graph: graph, Counts: counts}
	return nil
}

// Result returns the latest result for groupingKey.
func (s *ResultStore) Result(groupingKey string) (StoredResult, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	res, ok := s.results[groupingKey]
	return res, ok
}
