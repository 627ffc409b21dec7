// Package worker executes one claimed job: crawl, merge, build, lay out and
// persist the site graph, reporting checkpoints along the way.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/sitegraph/internal/crawler"
	"github.com/JakeFAU/sitegraph/internal/graph"
	"github.com/JakeFAU/sitegraph/internal/metrics"
	"github.com/JakeFAU/sitegraph/internal/progress"
)

const noPagesMessage = "no pages were crawled: check the site URL"

// Config controls Worker behavior.
type Config struct {
	// SortByDepth orders merged pages by depth before building.
	SortByDepth bool
	Layout      graph.LayoutOptions
	// Topic receives terminal job events; empty disables publishing.
	Topic string
}

// Worker runs the per-job pipeline. It is safe for concurrent use; every call
// to Execute works on its own job.
type Worker struct {
	store     crawler.JobStore
	runner    crawler.CrawlRunner
	sink      crawler.ResultSink
	publisher crawler.Publisher
	events    progress.Emitter
	clock     crawler.Clock
	cfg       Config
	logger    *zap.Logger
}

// New constructs a Worker. publisher and events may be nil.
func New(
	store crawler.JobStore,
	runner crawler.CrawlRunner,
	sink crawler.ResultSink,
	publisher crawler.Publisher,
	events progress.Emitter,
	clock crawler.Clock,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if events == nil {
		events = progress.NopEmitter{}
	}
	return &Worker{
		store:     store,
		runner:    runner,
		sink:      sink,
		publisher: publisher,
		events:    events,
		clock:     clock,
		cfg:       cfg,
		logger:    logger,
	}
}

// run is the state of one Execute call.
type run struct {
	job     crawler.Job
	report  crawler.ProgressFunc
	reached int
	started time.Time
	logger  *zap.Logger
}

// Execute drives job to completed or failed. The returned error is the cause of
// a failure; the job row already reflects it.
func (w *Worker) Execute(ctx context.Context, job crawler.Job, report crawler.ProgressFunc) error {
	r := &run{
		job:     job,
		report:  report,
		reached: job.Progress,
		started: w.clock.Now(),
		logger:  w.logger.With(zap.String("job_id", job.ID), zap.String("grouping_key", job.GroupingKey)),
	}
	w.emit(r, progress.StageJobStart, "")

	if err := w.pipeline(ctx, r); err != nil {
		return w.fail(ctx, r, err)
	}
	if err := w.store.Complete(ctx, job.ID, w.clock.Now()); err != nil {
		if !w.completed(ctx, job.ID) {
			return w.fail(ctx, r, fmt.Errorf("%w: complete job: %w", crawler.ErrPersistence, err))
		}
		r.logger.Warn("complete reported an error after it was applied", zap.Error(err))
	}
	r.reached = crawler.ProgressPersisted

	metrics.ObserveJob(string(crawler.JobStatusCompleted))
	w.emit(r, progress.StageJobDone, "")
	w.publish(ctx, r, crawler.JobStatusCompleted, "")
	r.logger.Info("job completed", zap.Duration("elapsed", w.clock.Now().Sub(r.started)))
	return nil
}

func (w *Worker) pipeline(ctx context.Context, r *run) error {
	if err := w.checkpoint(ctx, r, crawler.ProgressCrawlStarted); err != nil {
		return err
	}

	pages, stats, err := w.runner.Run(ctx, crawler.CrawlRequest{
		JobID:    r.job.ID,
		SiteURL:  r.job.SiteURL,
		MaxPages: r.job.MaxPages,
	})
	if err != nil {
		return &jobError{kind: crawler.ErrCrawlFailure, msg: fmt.Sprintf("crawl site: %v", err)}
	}
	r.logger.Info("crawl finished",
		zap.Int("pages", len(pages)),
		zap.Int("requests_finished", stats.RequestsFinished),
		zap.Int("requests_failed", stats.RequestsFailed))
	if stats.RequestsFinished == 0 {
		return &jobError{kind: crawler.ErrCrawlFailure, msg: noPagesMessage}
	}

	pages = graph.Merge(pages, w.cfg.SortByDepth)
	if err := w.checkpoint(ctx, r, crawler.ProgressMergeComplete); err != nil {
		return err
	}

	g := graph.Build(pages)
	graph.Layout(&g, w.cfg.Layout)
	if err := w.checkpoint(ctx, r, crawler.ProgressLayoutComplete); err != nil {
		return err
	}

	counts := crawler.CountResults(pages)
	if err := w.sink.Persist(ctx, r.job.GroupingKey, g, counts); err != nil {
		return fmt.Errorf("%w: persist results: %w", crawler.ErrPersistence, err)
	}
	r.logger.Debug("graph persisted",
		zap.Int("nodes", g.Metadata.TotalNodes),
		zap.Int("edges", g.Metadata.TotalEdges),
		zap.Int("successful_pages", counts.SuccessfulPages))
	return nil
}

func (w *Worker) checkpoint(ctx context.Context, r *run, value int) error {
	if r.report != nil {
		if err := r.report(ctx, value); err != nil {
			return err
		}
	}
	if value > r.reached {
		r.reached = value
	}
	w.emit(r, progress.StageJobProgress, "")
	return nil
}

// completed reports whether the stored row already reached completed.
func (w *Worker) completed(ctx context.Context, jobID string) bool {
	job, err := w.store.Get(ctx, jobID)
	return err == nil && job.Status == crawler.JobStatusCompleted
}

func (w *Worker) fail(ctx context.Context, r *run, cause error) error {
	msg := cause.Error()
	if err := w.store.Fail(ctx, r.job.ID, msg, w.clock.Now()); err != nil {
		r.logger.Error("mark job failed", zap.Error(err))
		cause = errors.Join(cause, fmt.Errorf("%w: fail job: %w", crawler.ErrPersistence, err))
	}
	metrics.ObserveJob(string(crawler.JobStatusFailed))
	w.emit(r, progress.StageJobError, msg)
	w.publish(ctx, r, crawler.JobStatusFailed, msg)
	r.logger.Warn("job failed", zap.Int("progress", r.reached), zap.String("error", msg))
	return cause
}

func (w *Worker) emit(r *run, stage progress.Stage, note string) {
	now := w.clock.Now()
	evt := progress.Event{
		JobID:       r.job.ID,
		GroupingKey: r.job.GroupingKey,
		TS:          now,
		Stage:       stage,
		Progress:    r.reached,
		URL:         r.job.SiteURL,
		Note:        note,
	}
	if stage == progress.StageJobDone || stage == progress.StageJobError {
		evt.Dur = now.Sub(r.started)
	}
	w.events.Emit(evt)
}

// publish announces a terminal transition. Failures never change the outcome.
func (w *Worker) publish(ctx context.Context, r *run, status crawler.JobStatus, msg string) {
	if w.publisher == nil || w.cfg.Topic == "" {
		return
	}
	id, err := w.publisher.Publish(ctx, w.cfg.Topic, crawler.JobEvent{
		JobID:       r.job.ID,
		GroupingKey: r.job.GroupingKey,
		Status:      status,
		Error:       msg,
		At:          w.clock.Now(),
	})
	if err != nil {
		r.logger.Warn("publish job event failed", zap.String("topic", w.cfg.Topic), zap.Error(err))
		return
	}
	r.logger.Debug("job event published", zap.String("topic", w.cfg.Topic), zap.String("message_id", id))
}

// jobError carries a user-facing message while still matching its sentinel.
type jobError struct {
	kind error
	msg  string
}

func (e *jobError) Error() string { return e.msg }

func (e *jobError) Unwrap() error { return e.kind }
