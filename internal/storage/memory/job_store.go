package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/sitegraph/internal/crawler"
)

// JobStore provides an in-memory implementation for development/testing.
type JobStore struct {
	mu   sync.RWMutex
	jobs map[string]crawler.Job
	// seq breaks created_at ties so OldestPending stays FIFO.
	seq   map[string]uint64
	nextN uint64
}

// NewJobStore constructs a JobStore.
func NewJobStore() *JobStore {
	return &JobStore{
		jobs: make(map[string]crawler.Job),
		seq:  make(map[string]uint64),
	}
}

// Insert stores a new job row.
func (s *JobStore) Insert(_ context.Context, job crawler.Job) error {
	if job.ID == "" {
		return errors.New("job id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("insert job %s: already exists", job.ID)
	}
	if job.Status.Active() {
		for _, other := range s.jobs {
			if other.GroupingKey == job.GroupingKey && other.Status.Active() {
				return fmt.Errorf("insert job %s: %w", job.ID, crawler.ErrActiveKeyTaken)
			}
		}
	}
	s.nextN++
	s.seq[job.ID] = s.nextN
	s.jobs[job.ID] = job
	return nil
}

// Claim moves a pending job to running. Any other current status loses the claim.
func (s *JobStore) Claim(_ context.Context, jobID string, startedAt time.Time) (crawler.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return crawler.Job{}, crawler.ErrNotFound
	}
	if job.Status != crawler.JobStatusPending {
		return crawler.Job{}, crawler.ErrClaimLost
	}
	job.Status = crawler.JobStatusRunning
	job.StartedAt = pointerTime(startedAt)
	s.jobs[jobID] = job
	return job, nil
}

// OldestPending returns the pending job with the earliest creation time.
func (s *JobStore) OldestPending(_ context.Context) (crawler.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pending := s.filterLocked(func(j crawler.Job) bool { return j.Status == crawler.JobStatusPending })
	if len(pending) == 0 {
		return crawler.Job{}, crawler.ErrNotFound
	}
	return pending[0], nil
}

// Get fetches a job by ID.
func (s *JobStore) Get(_ context.Context, jobID string) (crawler.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return crawler.Job{}, crawler.ErrNotFound
	}
	return job, nil
}

// ListByOwner returns the owner's jobs, newest first.
func (s *JobStore) ListByOwner(_ context.Context, ownerID string) ([]crawler.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	jobs := s.filterLocked(func(j crawler.Job) bool { return j.OwnerID == ownerID })
	for i, j := 0, len(jobs)-1; i < j; i, j = i+1, j-1 {
		jobs[i], jobs[j] = jobs[j], jobs[i]
	}
	return jobs, nil
}

// FindActiveByGroupingKey returns the pending or running job for key.
func (s *JobStore) FindActiveByGroupingKey(_ context.Context, groupingKey string) (crawler.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	active := s.filterLocked(func(j crawler.Job) bool {
		return j.GroupingKey == groupingKey && j.Status.Active()
	})
	if len(active) == 0 {
		return crawler.Job{}, crawler.ErrNotFound
	}
	return active[0], nil
}

// ListRunning returns every job currently marked running.
func (s *JobStore) ListRunning(_ context.Context) ([]crawler.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.filterLocked(func(j crawler.Job) bool { return j.Status == crawler.JobStatusRunning }), nil
}

// UpdateProgress raises the progress of a job; lower values are ignored.
func (s *JobStore) UpdateProgress(_ context.Context, jobID string, progress int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return crawler.ErrNotFound
	}
	if progress > job.Progress {
		job.Progress = progress
		s.jobs[jobID] = job
	}
	return nil
}

// Complete marks a running job completed with full progress.
func (s *JobStore) Complete(_ context.Context, jobID string, completedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return crawler.ErrNotFound
	}
	if job.Status != crawler.JobStatusRunning {
		return crawler.ErrNotRunning
	}
	job.Status = crawler.JobStatusCompleted
	job.Progress = crawler.ProgressPersisted
	job.ErrorMessage = ""
	job.CompletedAt = pointerTime(completedAt)
	s.jobs[jobID] = job
	return nil
}

// Fail marks a running job failed and leaves its progress where it stopped.
func (s *JobStore) Fail(_ context.Context, jobID string, message string, completedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return crawler.ErrNotFound
	}
	if job.Status != crawler.JobStatusRunning {
		return crawler.ErrNotRunning
	}
	job.Status = crawler.JobStatusFailed
	job.ErrorMessage = message
	job.CompletedAt = pointerTime(completedAt)
	s.jobs[jobID] = job
	return nil
}

// filterLocked returns matching jobs oldest first; callers hold mu.
func (s *JobStore) filterLocked(match func(crawler.Job) bool) []crawler.Job {
	out := make([]crawler.Job, 0)
	for _, job := range s.jobs {
		if match(job) {
			out = append(out, job)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return s.seq[out[i].ID] < s.seq[out[j].ID]
	})
	return out
}

func pointerTime(t time.Time) *time.Time {
	ts := t
	return &ts
}
