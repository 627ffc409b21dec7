// Package results fans a finished graph out to every configured result sink.
package results

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/JakeFAU/sitegraph/internal/crawler"
)

// Multi persists to each sink in order and stops at the first failure.
type Multi []crawler.ResultSink

// Persist implements crawler.ResultSink.
func (m Multi) Persist(ctx context.Context, groupingKey string, graph crawler.Graph, counts crawler.ResultCounts) error {
	for i, sink := range m {
		if sink == nil {
			continue
		}
		if err := sink.Persist(ctx, groupingKey, graph, counts); err != nil {
			return fmt.Errorf("result sink %d (%T): %w", i, sink, err)
		}
	}
	return nil
}

// BlobSink exports the graph JSON to a BlobStore under <prefix>/<grouping key>.json.
type BlobSink struct {
	store  crawler.BlobStore
	prefix string
}

// NewBlobSink builds a BlobSink; an empty prefix means "graphs".
func NewBlobSink(store crawler.BlobStore, prefix string) *BlobSink {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = "graphs"
	}
	return &BlobSink{store: store, prefix: prefix}
}

type exported struct {
	GroupingKey string               `json:"grouping_key"`
	Counts      crawler.ResultCounts `json:"counts"`
	crawler.Graph
}

// Persist implements crawler.ResultSink.
func (s *BlobSink) Persist(ctx context.Context, groupingKey string, graph crawler.Graph, counts crawler.ResultCounts) error {
	if s.store == nil {
		return fmt.Errorf("blob store is not configured")
	}
	data, err := json.Marshal(exported{GroupingKey: groupingKey, Counts: counts, Graph: graph})
	if err != nil {
		return fmt.Errorf("marshal graph: %w", err)
	}
	if _, err := s.store.PutObject(ctx, s.Path(groupingKey), "application/json", data); err != nil {
		return fmt.Errorf("put graph object: %w", err)
	}
	return nil
}

// Path returns the object path used for groupingKey.
func (s *BlobSink) Path(groupingKey string) string {
	return fmt.Sprintf("%s/%s.json", s.prefix, groupingKey)
}
