package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/JakeFAU/sitegraph/internal/crawler"
)

const defaultResultsTable = "crawl_results"

// ResultStore upserts the finished graph and page counts for a grouping key.
type ResultStore struct {
	pool  querier
	table string
}

// NewResultStore wraps an existing pool.
func NewResultStore(pool querier, table string) (*ResultStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	name, err := tableName(table, defaultResultsTable)
	if err != nil {
		return nil, err
	}
	return &ResultStore{pool: pool, table: name}, nil
}

// Persist writes the graph as JSONB and flags the row as the latest result.
func (s *ResultStore) Persist(
	ctx context.Context,
	groupingKey string,
	graph crawler.Graph,
	counts crawler.ResultCounts,
) error {
	if groupingKey == "" {
		return fmt.Errorf("grouping key is required")
	}
	graphJSON, err := json.Marshal(graph)
	if err != nil {
		return fmt.Errorf("marshal graph: %w", err)
	}
	query := fmt.Sprintf(`
INSERT INTO %s (id, status, total_pages, successful_pages, failed_pages, is_latest, graph, completed_at)
VALUES ($1, 'completed', $2, $3, $4, true, $5, now())
ON CONFLICT (id) DO UPDATE SET
	status = EXCLUDED.status,
	total_pages = EXCLUDED.total_pages,
	successful_pages = EXCLUDED.successful_pages,
	failed_pages = EXCLUDED.failed_pages,
	is_latest = true,
	graph = EXCLUDED.graph,
	completed_at = EXCLUDED.completed_at`, s.table)
	if _, err := s.pool.Exec(ctx, query,
		groupingKey,
		counts.TotalPages,
		counts.SuccessfulPages,
		counts.FailedPages,
		graphJSON,
	); err != nil {
		return fmt.Errorf("upsert crawl result: %w", err)
	}
	return nil
}
