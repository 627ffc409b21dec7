// Package dispatcher drives the job state machine: it accepts new jobs, claims
// pending ones in FIFO order and hands them to the executor while keeping the
// number of running jobs at or below the configured concurrency.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitegraph/internal/crawler"
	"github.com/JakeFAU/sitegraph/internal/metrics"
)

const (
	defaultConcurrency  = 1
	defaultPollInterval = 30 * time.Second
	defaultRepollDelay  = time.Second

	orphanMessage = "orphaned by worker restart"
)

// Executor runs one claimed job to a terminal state.
type Executor interface {
	Execute(ctx context.Context, job crawler.Job, progress crawler.ProgressFunc) error
}

// Config controls scheduling.
//   - Concurrency: maximum jobs running at once (default 1).
//   - PollInterval: periodic poll trigger (default 30s).
//   - RepollDelay: delay before re-polling after a job finishes (default 1s).
//   - StaleAfter: running jobs older than this are failed on start-up; zero disables the sweep.
//   - DefaultMaxPages: budget for requests that omit one (default crawler.DefaultMaxPages).
//   - SubmitOnly: Enqueue inserts without polling and Poll claims nothing. One-shot
//     processes use it to hand work to a long-running scheduler.
type Config struct {
	Concurrency     int
	PollInterval    time.Duration
	RepollDelay     time.Duration
	StaleAfter      time.Duration
	DefaultMaxPages int
	SubmitOnly      bool
}

func (c Config) withDefaults() Config {
	if c.Concurrency <= 0 {
		c.Concurrency = defaultConcurrency
	}
	if c.PollInterval <= 0 {
		c.PollInterval = defaultPollInterval
	}
	if c.RepollDelay <= 0 {
		c.RepollDelay = defaultRepollDelay
	}
	return c
}

// Dispatcher is the job scheduler. Create it with New; the zero value is not usable.
type Dispatcher struct {
	store  crawler.JobStore
	exec   Executor
	ids    crawler.IDGenerator
	clock  crawler.Clock
	cfg    Config
	logger *zap.Logger

	running *inflight
	pollMu  sync.Mutex
	rerun   atomic.Bool
	// find-then-insert must not interleave for the same grouping key
	enqueueMu sync.Mutex
	stopping  atomic.Bool
	jobs      sync.WaitGroup
}

// New constructs a Dispatcher.
func New(
	store crawler.JobStore,
	exec Executor,
	ids crawler.IDGenerator,
	clock crawler.Clock,
	cfg Config,
	logger *zap.Logger,
) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		store:   store,
		exec:    exec,
		ids:     ids,
		clock:   clock,
		cfg:     cfg.withDefaults(),
		logger:  logger,
		running: newInflight(),
	}
}

// Concurrency returns the configured ceiling.
func (d *Dispatcher) Concurrency() int {
	return d.cfg.Concurrency
}

// Running returns the ids of jobs currently executing.
func (d *Dispatcher) Running() []string {
	return d.running.IDs()
}

// Enqueue validates req and inserts a pending job. When a pending or running job
// already holds the grouping key its id is returned with created=false. The
// store's one-active-job-per-key constraint keeps this true across processes.
func (d *Dispatcher) Enqueue(ctx context.Context, req crawler.JobRequest) (string, bool, error) {
	if req.MaxPages == 0 && d.cfg.DefaultMaxPages > 0 {
		req.MaxPages = d.cfg.DefaultMaxPages
	}
	req, err := crawler.ValidateRequest(req)
	if err != nil {
		metrics.ObserveEnqueue("invalid")
		return "", false, err
	}

	d.enqueueMu.Lock()
	id, created, err := d.insertOnce(ctx, req)
	d.enqueueMu.Unlock()
	if err != nil {
		metrics.ObserveEnqueue("error")
		return "", false, err
	}
	if !created {
		metrics.ObserveEnqueue("duplicate")
		d.logger.Info("duplicate job request",
			zap.String("job_id", id),
			zap.String("grouping_key", req.GroupingKey))
		return id, false, nil
	}

	metrics.ObserveEnqueue("created")
	d.logger.Info("job enqueued",
		zap.String("job_id", id),
		zap.String("owner_id", req.OwnerID),
		zap.String("grouping_key", req.GroupingKey),
		zap.String("site_url", req.SiteURL),
		zap.Int("max_pages", req.MaxPages))
	if !d.cfg.SubmitOnly {
		go d.Poll(context.WithoutCancel(ctx))
	}
	return id, true, nil
}

func (d *Dispatcher) insertOnce(ctx context.Context, req crawler.JobRequest) (string, bool, error) {
	existing, err := d.store.FindActiveByGroupingKey(ctx, req.GroupingKey)
	switch {
	case err == nil:
		return existing.ID, false, nil
	case !errors.Is(err, crawler.ErrNotFound):
		return "", false, fmt.Errorf("find active job: %w", err)
	}

	id, err := d.ids.NewID()
	if err != nil {
		return "", false, fmt.Errorf("generate job id: %w", err)
	}
	job := crawler.Job{
		ID:          id,
		OwnerID:     req.OwnerID,
		GroupingKey: req.GroupingKey,
		SiteURL:     req.SiteURL,
		MaxPages:    req.MaxPages,
		Status:      crawler.JobStatusPending,
		CreatedAt:   d.clock.Now(),
	}
	err = d.store.Insert(ctx, job)
	if errors.Is(err, crawler.ErrActiveKeyTaken) {
		// another process inserted the key between our lookup and insert
		existing, findErr := d.store.FindActiveByGroupingKey(ctx, req.GroupingKey)
		if findErr == nil {
			return existing.ID, false, nil
		}
		return "", false, fmt.Errorf("find active job after conflict: %w", findErr)
	}
	if err != nil {
		return "", false, fmt.Errorf("%w: insert job: %w", crawler.ErrPersistence, err)
	}
	return id, true, nil
}

// Poll claims pending jobs oldest first until the ceiling is reached or the
// queue is empty, and returns how many it started. A poll that overlaps one
// already underway returns 0 immediately; the running poll then makes one more
// pass so work enqueued meanwhile is not left for the next tick.
func (d *Dispatcher) Poll(ctx context.Context) int {
	if d.cfg.SubmitOnly {
		return 0
	}
	d.rerun.Store(true)
	started := 0
	for d.rerun.Load() {
		if !d.pollMu.TryLock() {
			return started
		}
		d.rerun.Store(false)
		started += d.pollOnce(ctx)
		d.pollMu.Unlock()
	}
	return started
}

func (d *Dispatcher) pollOnce(ctx context.Context) int {
	started := 0
	for d.running.Len() < d.cfg.Concurrency {
		if d.stopping.Load() || ctx.Err() != nil {
			break
		}
		job, err := d.store.OldestPending(ctx)
		if errors.Is(err, crawler.ErrNotFound) {
			break
		}
		if err != nil {
			d.logger.Error("select pending job failed", zap.Error(err))
			break
		}
		claimed, err := d.store.Claim(ctx, job.ID, d.clock.Now())
		if errors.Is(err, crawler.ErrClaimLost) {
			d.logger.Debug("claim lost", zap.String("job_id", job.ID))
			continue
		}
		if err != nil {
			d.logger.Error("claim job failed", zap.String("job_id", job.ID), zap.Error(err))
			break
		}
		if !d.running.TryAdd(claimed.ID) {
			d.logger.Warn("claimed job already in flight", zap.String("job_id", claimed.ID))
			continue
		}
		metrics.SetInflight(d.running.Len())
		d.jobs.Add(1)
		started++
		go d.execute(context.WithoutCancel(ctx), claimed)
	}
	return started
}

func (d *Dispatcher) execute(ctx context.Context, job crawler.Job) {
	defer d.jobs.Done()
	defer func() {
		d.running.Remove(job.ID)
		metrics.SetInflight(d.running.Len())
		d.repoll()
	}()

	logger := d.logger.With(zap.String("job_id", job.ID))
	logger.Info("job claimed", zap.String("site_url", job.SiteURL))
	if err := d.exec.Execute(ctx, job, d.progressFor(job.ID)); err != nil {
		logger.Warn("job failed", zap.Error(err))
		return
	}
	logger.Info("job completed")
}

// progressFor binds checkpoint writes to one job's execution.
func (d *Dispatcher) progressFor(jobID string) crawler.ProgressFunc {
	return func(ctx context.Context, progress int) error {
		if err := d.store.UpdateProgress(ctx, jobID, progress); err != nil {
			return fmt.Errorf("%w: update progress %d: %w", crawler.ErrPersistence, progress, err)
		}
		return nil
	}
}

func (d *Dispatcher) repoll() {
	if d.stopping.Load() {
		return
	}
	time.AfterFunc(d.cfg.RepollDelay, func() {
		d.Poll(context.Background())
	})
}

// SweepOrphans fails running jobs whose start time is older than StaleAfter.
// They were left behind by a previous process; nothing requeues them.
func (d *Dispatcher) SweepOrphans(ctx context.Context) (int, error) {
	if d.cfg.StaleAfter <= 0 {
		return 0, nil
	}
	jobs, err := d.store.ListRunning(ctx)
	if err != nil {
		return 0, fmt.Errorf("list running jobs: %w", err)
	}
	now := d.clock.Now()
	cutoff := now.Add(-d.cfg.StaleAfter)
	swept := 0
	for _, job := range jobs {
		if job.StartedAt != nil && job.StartedAt.After(cutoff) {
			continue
		}
		if err := d.store.Fail(ctx, job.ID, orphanMessage, now); err != nil {
			return swept, fmt.Errorf("fail orphaned job %s: %w", job.ID, err)
		}
		metrics.ObserveJob(string(crawler.JobStatusFailed))
		d.logger.Warn("orphaned job failed", zap.String("job_id", job.ID))
		swept++
	}
	return swept, nil
}

// Run sweeps orphans, polls once and then on every PollInterval until ctx ends.
// It returns after in-flight jobs have finished.
func (d *Dispatcher) Run(ctx context.Context) error {
	if n, err := d.SweepOrphans(ctx); err != nil {
		d.logger.Error("orphan sweep failed", zap.Error(err))
	} else if n > 0 {
		d.logger.Info("orphan sweep finished", zap.Int("failed", n))
	}

	c := cron.New()
	spec := fmt.Sprintf("@every %s", d.cfg.PollInterval)
	if _, err := c.AddFunc(spec, func() { d.Poll(ctx) }); err != nil {
		return fmt.Errorf("schedule poll %q: %w", spec, err)
	}
	c.Start()
	d.logger.Info("scheduler started",
		zap.Int("concurrency", d.cfg.Concurrency),
		zap.Duration("poll_interval", d.cfg.PollInterval))
	d.Poll(ctx)

	<-ctx.Done()
	d.stopping.Store(true)
	<-c.Stop().Done()
	// wait out a poll that may still be adding jobs
	d.pollMu.Lock()
	d.pollMu.Unlock() //nolint:staticcheck // empty critical section is the barrier
	d.jobs.Wait()
	d.logger.Info("scheduler stopped")
	return nil
}
