package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/JakeFAU/sitegraph/internal/crawler"
)

const (
	defaultJobsTable = "crawl_jobs"
	uniqueViolation  = "23505"
)

const jobColumns = `id, owner_id, grouping_key, site_url, max_pages, status, progress,
	COALESCE(error_message, ''), created_at, started_at, completed_at`

// JobStore persists crawl jobs in Postgres.
type JobStore struct {
	pool  querier
	table string
}

// NewJobStore wraps an existing pool. Passing a pgxmock pool is how tests drive it.
func NewJobStore(pool querier, table string) (*JobStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	name, err := tableName(table, defaultJobsTable)
	if err != nil {
		return nil, err
	}
	return &JobStore{pool: pool, table: name}, nil
}

// Close releases the underlying pool resources.
func (s *JobStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Insert writes a new job row.
func (s *JobStore) Insert(ctx context.Context, job crawler.Job) error {
	query := fmt.Sprintf(`
INSERT INTO %s (id, owner_id, grouping_key, site_url, max_pages, status, progress, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`, s.table)
	if _, err := s.pool.Exec(ctx, query,
		job.ID,
		job.OwnerID,
		job.GroupingKey,
		job.SiteURL,
		job.MaxPages,
		string(job.Status),
		job.Progress,
		job.CreatedAt,
	); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation && pgErr.ConstraintName == s.table+"_active_key_idx" {
			return fmt.Errorf("insert job: %w", crawler.ErrActiveKeyTaken)
		}
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// Claim flips a pending job to running in one conditional update.
func (s *JobStore) Claim(ctx context.Context, jobID string, startedAt time.Time) (crawler.Job, error) {
	query := fmt.Sprintf(`
UPDATE %s SET status = 'running', started_at = $2
WHERE id = $1 AND status = 'pending'
RETURNING %s`, s.table, jobColumns)
	job, err := scanJob(s.pool.QueryRow(ctx, query, jobID, startedAt))
	if errors.Is(err, pgx.ErrNoRows) {
		return crawler.Job{}, crawler.ErrClaimLost
	}
	if err != nil {
		return crawler.Job{}, fmt.Errorf("claim job: %w", err)
	}
	return job, nil
}

// OldestPending returns the earliest created pending job.
func (s *JobStore) OldestPending(ctx context.Context) (crawler.Job, error) {
	query := fmt.Sprintf(`
SELECT %s FROM %s
WHERE status = 'pending'
ORDER BY created_at ASC
LIMIT 1`, jobColumns, s.table)
	return s.queryOne(ctx, "select oldest pending", query)
}

// Get loads one job.
func (s *JobStore) Get(ctx context.Context, jobID string) (crawler.Job, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, jobColumns, s.table)
	return s.queryOne(ctx, "get job", query, jobID)
}

// ListByOwner returns the owner's jobs newest first.
func (s *JobStore) ListByOwner(ctx context.Context, ownerID string) ([]crawler.Job, error) {
	query := fmt.Sprintf(`
SELECT %s FROM %s
WHERE owner_id = $1
ORDER BY created_at DESC`, jobColumns, s.table)
	return s.queryMany(ctx, "list owner jobs", query, ownerID)
}

// FindActiveByGroupingKey returns the pending or running job for key.
func (s *JobStore) FindActiveByGroupingKey(ctx context.Context, groupingKey string) (crawler.Job, error) {
	query := fmt.Sprintf(`
SELECT %s FROM %s
WHERE grouping_key = $1 AND status IN ('pending', 'running')
ORDER BY created_at ASC
LIMIT 1`, jobColumns, s.table)
	return s.queryOne(ctx, "find active job", query, groupingKey)
}

// ListRunning returns every running job.
func (s *JobStore) ListRunning(ctx context.Context) ([]crawler.Job, error) {
	query := fmt.Sprintf(`
SELECT %s FROM %s
WHERE status = 'running'
ORDER BY created_at ASC`, jobColumns, s.table)
	return s.queryMany(ctx, "list running jobs", query)
}

// UpdateProgress raises progress; a lower value matches no row and is ignored.
func (s *JobStore) UpdateProgress(ctx context.Context, jobID string, progress int) error {
	query := fmt.Sprintf(`UPDATE %s SET progress = $2 WHERE id = $1 AND progress <= $2`, s.table)
	if _, err := s.pool.Exec(ctx, query, jobID, progress); err != nil {
		return fmt.Errorf("update progress: %w", err)
	}
	return nil
}

// Complete marks a running job completed at full progress.
func (s *JobStore) Complete(ctx context.Context, jobID string, completedAt time.Time) error {
	query := fmt.Sprintf(`
UPDATE %s SET status = 'completed', progress = 100, error_message = NULL, completed_at = $2
WHERE id = $1 AND status = 'running'`, s.table)
	tag, err := s.pool.Exec(ctx, query, jobID, completedAt)
	if err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.terminalMiss(ctx, "complete job", jobID)
	}
	return nil
}

// Fail marks a running job failed; progress keeps its last value.
func (s *JobStore) Fail(ctx context.Context, jobID string, message string, completedAt time.Time) error {
	query := fmt.Sprintf(`
UPDATE %s SET status = 'failed', error_message = $2, completed_at = $3
WHERE id = $1 AND status = 'running'`, s.table)
	tag, err := s.pool.Exec(ctx, query, jobID, message, completedAt)
	if err != nil {
		return fmt.Errorf("fail job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.terminalMiss(ctx, "fail job", jobID)
	}
	return nil
}

// terminalMiss tells a missing job from one that is not running.
func (s *JobStore) terminalMiss(ctx context.Context, op, jobID string) error {
	var status string
	query := fmt.Sprintf(`SELECT status FROM %s WHERE id = $1`, s.table)
	if err := s.pool.QueryRow(ctx, query, jobID).Scan(&status); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return crawler.ErrNotFound
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: status %s: %w", op, status, crawler.ErrNotRunning)
}

func (s *JobStore) queryOne(ctx context.Context, op string, query string, args ...any) (crawler.Job, error) {
	job, err := scanJob(s.pool.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return crawler.Job{}, crawler.ErrNotFound
	}
	if err != nil {
		return crawler.Job{}, fmt.Errorf("%s: %w", op, err)
	}
	return job, nil
}

func (s *JobStore) queryMany(ctx context.Context, op string, query string, args ...any) ([]crawler.Job, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	jobs := make([]crawler.Job, 0)
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: scan: %w", op, err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return jobs, nil
}

func scanJob(row pgx.Row) (crawler.Job, error) {
	var (
		job    crawler.Job
		status string
	)
	if err := row.Scan(
		&job.ID,
		&job.OwnerID,
		&job.GroupingKey,
		&job.SiteURL,
		&job.MaxPages,
		&status,
		&job.Progress,
		&job.ErrorMessage,
		&job.CreatedAt,
		&job.StartedAt,
		&job.CompletedAt,
	); err != nil {
		return crawler.Job{}, err //nolint:wrapcheck // callers wrap with the operation name
	}
	job.Status = crawler.JobStatus(status)
	return job, nil
}
