package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitegraph/internal/crawler"
	"github.com/JakeFAU/sitegraph/internal/progress/sinks"
	"github.com/JakeFAU/sitegraph/internal/store"
)

const (
	defaultEventLimit = 100
	maxEventLimit     = 1000
	progressTimeout   = 3 * time.Second
)

// StatusReader returns the cached latest milestone of a job.
type StatusReader interface {
	Status(ctx context.Context, jobID string) (sinks.JobStatus, bool, error)
}

// ProgressHandler exposes read-only job progress endpoints.
type ProgressHandler struct {
	events  store.EventRepository
	status  StatusReader
	jobs    crawler.JobStore
	timeout time.Duration
	logger  *zap.Logger
}

// NewProgressHandler wires the event history and the live status cache. Either may be nil.
func NewProgressHandler(events store.EventRepository, status StatusReader, logger *zap.Logger) *ProgressHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProgressHandler{
		events:  events,
		status:  status,
		timeout: progressTimeout,
		logger:  logger,
	}
}

// WithJobStore lets GetProgress fall back to the job row when no cached status exists.
func (h *ProgressHandler) WithJobStore(jobs crawler.JobStore) *ProgressHandler {
	h.jobs = jobs
	return h
}

// ListEvents handles GET /v1/jobs/{job_id}/events?limit=. It returns
// {"events": [...]} oldest first, 400 for a bad limit, or 503 when no history is kept.
func (h *ProgressHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	if h.events == nil {
		writeError(w, http.StatusServiceUnavailable, "event history unavailable")
		return
	}
	jobID := chi.URLParam(r, "job_id")
	limit, err := parseLimit(r, defaultEventLimit, maxEventLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	events, err := h.events.ListEvents(ctx, jobID, limit)
	if err != nil {
		h.logger.Error("list events failed", zap.String("job_id", jobID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list events")
		return
	}
	if events == nil {
		events = []store.EventRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

// GetProgress handles GET /v1/jobs/{job_id}/progress. The cached status wins;
// otherwise the job row's progress is reported with source "job".
func (h *ProgressHandler) GetProgress(w http.ResponseWriter, r *http.Request) {
	if h.status == nil && h.jobs == nil {
		writeError(w, http.StatusServiceUnavailable, "progress unavailable")
		return
	}
	jobID := chi.URLParam(r, "job_id")
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	if h.status != nil {
		status, ok, err := h.status.Status(ctx, jobID)
		if err != nil {
			h.logger.Warn("status cache read failed", zap.String("job_id", jobID), zap.Error(err))
		} else if ok {
			writeJSON(w, http.StatusOK, progressDTO{
				JobID:    jobID,
				Stage:    status.Stage,
				Progress: status.Progress,
				Note:     status.Note,
				At:       &status.At,
				Source:   "cache",
			})
			return
		}
	}
	if h.jobs == nil {
		writeError(w, http.StatusNotFound, "progress not found")
		return
	}
	job, err := h.jobs.Get(ctx, jobID)
	if err != nil {
		if errors.Is(err, crawler.ErrNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		h.logger.Error("get job failed", zap.String("job_id", jobID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load progress")
		return
	}
	writeJSON(w, http.StatusOK, progressDTO{
		JobID:    jobID,
		Stage:    string(job.Status),
		Progress: job.Progress,
		Note:     job.ErrorMessage,
		Source:   "job",
	})
}

func parseLimit(r *http.Request, def, maxLimit int) (int, error) {
	limStr := r.URL.Query().Get("limit")
	if limStr == "" {
		return def, nil
	}
	val, err := strconv.Atoi(limStr)
	if err != nil || val <= 0 {
		return 0, errors.New("invalid limit")
	}
	if val > maxLimit {
		val = maxLimit
	}
	return val, nil
}

type progressDTO struct {
	JobID    string     `json:"job_id"`
	Stage    string     `json:"stage"`
	Progress int        `json:"progress"`
	Note     string     `json:"note,omitempty"`
	At       *time.Time `json:"at,omitempty"`
	Source   string     `json:"source"`
}
