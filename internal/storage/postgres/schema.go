package postgres

import (
	"context"
	"fmt"
)

// Tables names the relations the stores write to.
type Tables struct {
	Jobs    string
	Results string
	Events  string
}

// EnsureSchema creates the tables and indexes when they do not exist yet.
func EnsureSchema(ctx context.Context, db querier, tables Tables) error {
	jobs, err := tableName(tables.Jobs, defaultJobsTable)
	if err != nil {
		return err
	}
	results, err := tableName(tables.Results, defaultResultsTable)
	if err != nil {
		return err
	}
	events, err := tableName(tables.Events, defaultEventsTable)
	if err != nil {
		return err
	}
	statements := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id            TEXT PRIMARY KEY,
	owner_id      TEXT NOT NULL,
	grouping_key  TEXT NOT NULL,
	site_url      TEXT NOT NULL,
	max_pages     INTEGER NOT NULL DEFAULT 20,
	status        TEXT NOT NULL DEFAULT 'pending',
	progress      INTEGER NOT NULL DEFAULT 0,
	error_message TEXT,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	started_at    TIMESTAMPTZ,
	completed_at  TIMESTAMPTZ
)`, jobs),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_status_created_idx ON %s (status, created_at)`, jobs, jobs),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_owner_idx ON %s (owner_id, created_at DESC)`, jobs, jobs),
		fmt.Sprintf(`CREATE UNIQUE INDEX IF NOT EXISTS %s_active_key_idx ON %s (grouping_key)
	WHERE status IN ('pending', 'running')`, jobs, jobs),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id               TEXT PRIMARY KEY,
	status           TEXT NOT NULL,
	total_pages      INTEGER NOT NULL DEFAULT 0,
	successful_pages INTEGER NOT NULL DEFAULT 0,
	failed_pages     INTEGER NOT NULL DEFAULT 0,
	is_latest        BOOLEAN NOT NULL DEFAULT true,
	graph            JSONB,
	completed_at     TIMESTAMPTZ
)`, results),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	job_id   TEXT NOT NULL,
	stage    TEXT NOT NULL,
	progress INTEGER NOT NULL DEFAULT 0,
	note     TEXT NOT NULL DEFAULT '',
	at       TIMESTAMPTZ NOT NULL
)`, events),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_job_idx ON %s (job_id, at)`, events, events),
	}
	for _, stmt := range statements {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}
