package postgres

import (
	"context"
	"fmt"

	"github.com/JakeFAU/sitegraph/internal/store"
)

const defaultEventsTable = "crawl_job_events"

// EventStore implements store.EventRepository using Postgres.
type EventStore struct {
	pool  querier
	table string
}

// NewEventStore wraps an existing pool.
func NewEventStore(pool querier, table string) (*EventStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	name, err := tableName(table, defaultEventsTable)
	if err != nil {
		return nil, err
	}
	return &EventStore{pool: pool, table: name}, nil
}

// AppendEvents inserts each event in batch order.
func (s *EventStore) AppendEvents(ctx context.Context, events []store.EventRecord) error {
	query := fmt.Sprintf(`
INSERT INTO %s (job_id, stage, progress, note, at)
VALUES ($1, $2, $3, $4, $5)`, s.table)
	for _, evt := range events {
		if _, err := s.pool.Exec(ctx, query, evt.JobID, evt.Stage, evt.Progress, evt.Note, evt.At); err != nil {
			return fmt.Errorf("insert job event: %w", err)
		}
	}
	return nil
}

// ListEvents returns a job's events oldest first.
func (s *EventStore) ListEvents(ctx context.Context, jobID string, limit int) ([]store.EventRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	query := fmt.Sprintf(`
SELECT job_id, stage, progress, note, at
FROM %s
WHERE job_id = $1
ORDER BY at ASC
LIMIT $2`, s.table)
	rows, err := s.pool.Query(ctx, query, jobID, limit)
	if err != nil {
		return nil, fmt.Errorf("list job events: %w", err)
	}
	defer rows.Close()

	events := make([]store.EventRecord, 0)
	for rows.Next() {
		var evt store.EventRecord
		if err := rows.Scan(&evt.JobID, &evt.Stage, &evt.Progress, &evt.Note, &evt.At); err != nil {
			return nil, fmt.Errorf("scan job event: %w", err)
		}
		events = append(events, evt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list job events: %w", err)
	}
	return events, nil
}
