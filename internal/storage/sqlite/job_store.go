// Package sqlite provides a single-file JobStore for deployments without Postgres.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	msqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/JakeFAU/sitegraph/internal/crawler"
)

var schema = []string{`
CREATE TABLE IF NOT EXISTS crawl_jobs (
	id            TEXT PRIMARY KEY,
	owner_id      TEXT NOT NULL,
	grouping_key  TEXT NOT NULL,
	site_url      TEXT NOT NULL,
	max_pages     INTEGER NOT NULL DEFAULT 20,
	status        TEXT NOT NULL DEFAULT 'pending',
	progress      INTEGER NOT NULL DEFAULT 0,
	error_message TEXT NOT NULL DEFAULT '',
	created_at    INTEGER NOT NULL,
	started_at    INTEGER,
	completed_at  INTEGER
)`,
	`CREATE INDEX IF NOT EXISTS idx_crawl_jobs_status ON crawl_jobs(status, created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_crawl_jobs_owner ON crawl_jobs(owner_id, created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_crawl_jobs_key ON crawl_jobs(grouping_key, status)`,
	// one pending or running job per grouping key, across processes
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_crawl_jobs_active_key ON crawl_jobs(grouping_key)
	WHERE status IN ('pending', 'running')`,
}

const selectJob = `SELECT id, owner_id, grouping_key, site_url, max_pages, status, progress,
	error_message, created_at, started_at, completed_at FROM crawl_jobs`

// timestamps are stored as unix nanoseconds
type jobRow struct {
	ID           string        `db:"id"`
	OwnerID      string        `db:"owner_id"`
	GroupingKey  string        `db:"grouping_key"`
	SiteURL      string        `db:"site_url"`
	MaxPages     int           `db:"max_pages"`
	Status       string        `db:"status"`
	Progress     int           `db:"progress"`
	ErrorMessage string        `db:"error_message"`
	CreatedAt    int64         `db:"created_at"`
	StartedAt    sql.NullInt64 `db:"started_at"`
	CompletedAt  sql.NullInt64 `db:"completed_at"`
}

func (r jobRow) job() crawler.Job {
	return crawler.Job{
		ID:           r.ID,
		OwnerID:      r.OwnerID,
		GroupingKey:  r.GroupingKey,
		SiteURL:      r.SiteURL,
		MaxPages:     r.MaxPages,
		Status:       crawler.JobStatus(r.Status),
		Progress:     r.Progress,
		ErrorMessage: r.ErrorMessage,
		CreatedAt:    time.Unix(0, r.CreatedAt).UTC(),
		StartedAt:    fromNull(r.StartedAt),
		CompletedAt:  fromNull(r.CompletedAt),
	}
}

// JobStore persists jobs in a SQLite database file.
type JobStore struct {
	db *sqlx.DB
}

// NewJobStore opens (or creates) the database at path, enables WAL and applies the schema.
func NewJobStore(path string) (*JobStore, error) {
	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// one writer at a time keeps conditional updates serial
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("set WAL mode: %w (also failed to close db: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			if closeErr := db.Close(); closeErr != nil {
				return nil, fmt.Errorf("apply schema: %w (also failed to close db: %v)", err, closeErr)
			}
			return nil, fmt.Errorf("apply schema: %w", err)
		}
	}
	return &JobStore{db: db}, nil
}

// Close closes the database.
func (s *JobStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close sqlite: %w", err)
	}
	return nil
}

// Insert writes a new job row.
func (s *JobStore) Insert(ctx context.Context, job crawler.Job) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO crawl_jobs (id, owner_id, grouping_key, site_url, max_pages, status, progress, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.OwnerID, job.GroupingKey, job.SiteURL, job.MaxPages,
		string(job.Status), job.Progress, job.CreatedAt.UnixNano())
	if err != nil {
		var sqlErr *msqlite.Error
		if errors.As(err, &sqlErr) && sqlErr.Code()&0xff == sqlite3.SQLITE_CONSTRAINT &&
			strings.Contains(sqlErr.Error(), "crawl_jobs.grouping_key") {
			return fmt.Errorf("insert job: %w", crawler.ErrActiveKeyTaken)
		}
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// Claim flips a pending job to running; ErrClaimLost when it is no longer pending.
func (s *JobStore) Claim(ctx context.Context, jobID string, startedAt time.Time) (crawler.Job, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE crawl_jobs SET status = 'running', started_at = ? WHERE id = ? AND status = 'pending'`,
		startedAt.UnixNano(), jobID)
	if err != nil {
		return crawler.Job{}, fmt.Errorf("claim job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return crawler.Job{}, fmt.Errorf("claim job: %w", err)
	}
	if n == 0 {
		return crawler.Job{}, crawler.ErrClaimLost
	}
	return s.Get(ctx, jobID)
}

// OldestPending returns the earliest created pending job.
func (s *JobStore) OldestPending(ctx context.Context) (crawler.Job, error) {
	return s.one(ctx, "select oldest pending",
		selectJob+` WHERE status = 'pending' ORDER BY created_at ASC, rowid ASC LIMIT 1`)
}

// Get loads one job.
func (s *JobStore) Get(ctx context.Context, jobID string) (crawler.Job, error) {
	return s.one(ctx, "get job", selectJob+` WHERE id = ?`, jobID)
}

// ListByOwner returns the owner's jobs newest first.
func (s *JobStore) ListByOwner(ctx context.Context, ownerID string) ([]crawler.Job, error) {
	return s.many(ctx, "list owner jobs",
		selectJob+` WHERE owner_id = ? ORDER BY created_at DESC, rowid DESC`, ownerID)
}

// FindActiveByGroupingKey returns the pending or running job for key.
func (s *JobStore) FindActiveByGroupingKey(ctx context.Context, groupingKey string) (crawler.Job, error) {
	return s.one(ctx, "find active job",
		selectJob+` WHERE grouping_key = ? AND status IN ('pending', 'running') ORDER BY created_at ASC LIMIT 1`,
		groupingKey)
}

// ListRunning returns every running job.
func (s *JobStore) ListRunning(ctx context.Context) ([]crawler.Job, error) {
	return s.many(ctx, "list running jobs", selectJob+` WHERE status = 'running' ORDER BY created_at ASC`)
}

// UpdateProgress raises progress; lower values are ignored.
func (s *JobStore) UpdateProgress(ctx context.Context, jobID string, progress int) error {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE crawl_jobs SET progress = ? WHERE id = ? AND progress <= ?`,
		progress, jobID, progress); err != nil {
		return fmt.Errorf("update progress: %w", err)
	}
	return nil
}

// Complete marks a running job completed at full progress.
func (s *JobStore) Complete(ctx context.Context, jobID string, completedAt time.Time) error {
	return s.terminal(ctx, "complete job", jobID,
		`UPDATE crawl_jobs SET status = 'completed', progress = 100, error_message = '', completed_at = ?
		WHERE id = ? AND status = 'running'`,
		completedAt.UnixNano(), jobID)
}

// Fail marks a running job failed; progress keeps its last value.
func (s *JobStore) Fail(ctx context.Context, jobID string, message string, completedAt time.Time) error {
	return s.terminal(ctx, "fail job", jobID,
		`UPDATE crawl_jobs SET status = 'failed', error_message = ?, completed_at = ? WHERE id = ? AND status = 'running'`,
		message, completedAt.UnixNano(), jobID)
}

func (s *JobStore) terminal(ctx context.Context, op, jobID, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n > 0 {
		return nil
	}
	job, err := s.Get(ctx, jobID)
	if err != nil {
		return err
	}
	return fmt.Errorf("%s: status %s: %w", op, job.Status, crawler.ErrNotRunning)
}

func (s *JobStore) one(ctx context.Context, op, query string, args ...any) (crawler.Job, error) {
	var row jobRow
	if err := s.db.GetContext(ctx, &row, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return crawler.Job{}, crawler.ErrNotFound
		}
		return crawler.Job{}, fmt.Errorf("%s: %w", op, err)
	}
	return row.job(), nil
}

func (s *JobStore) many(ctx context.Context, op, query string, args ...any) ([]crawler.Job, error) {
	var rows []jobRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	jobs := make([]crawler.Job, 0, len(rows))
	for _, r := range rows {
		jobs = append(jobs, r.job())
	}
	return jobs, nil
}

func fromNull(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.Unix(0, v.Int64).UTC()
	return &t
}
