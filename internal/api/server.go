package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/didip/tollbooth/v8"
	"github.com/didip/tollbooth/v8/limiter"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitegraph/internal/crawler"
	"github.com/JakeFAU/sitegraph/internal/metrics"
)

const maxBodyBytes = 64 * 1024

// Scheduler is the part of the dispatcher the API drives.
type Scheduler interface {
	Enqueue(ctx context.Context, req crawler.JobRequest) (string, bool, error)
	Concurrency() int
	Running() []string
}

// Pusher accepts raw record-change notifications for asynchronous handling.
type Pusher interface {
	Push(ctx context.Context, body []byte) error
}

// ReadyFunc reports whether a downstream dependency is usable.
type ReadyFunc func(ctx context.Context) error

// Options configures middleware.
//   - APIKey: required on /v1 routes when non-empty.
//   - RequestsPerSecond: per remote address on /v1 routes; zero disables the limit.
//   - Timeout: per-request deadline (default 60s).
//   - Notifications: when set, POST /v1/notifications pushes bodies onto it.
type Options struct {
	APIKey            string
	RequestsPerSecond float64
	Timeout           time.Duration
	Ready             []ReadyFunc
	Notifications     Pusher
}

// Server wires HTTP handlers to the scheduler and stores.
type Server struct {
	router   chi.Router
	jobStore crawler.JobStore
	sched    Scheduler
	progress *ProgressHandler
	notify   Pusher
	ready    []ReadyFunc
	logger   *zap.Logger
}

// NewServer constructs a Server with middleware and routes. progress may be nil,
// in which case the progress routes answer 503.
func NewServer(
	jobStore crawler.JobStore,
	sched Scheduler,
	progress *ProgressHandler,
	opts Options,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if progress == nil {
		progress = NewProgressHandler(nil, nil, logger)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	s := &Server{
		jobStore: jobStore,
		sched:    sched,
		progress: progress,
		notify:   opts.Notifications,
		ready:    opts.Ready,
		logger:   logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(timeoutMiddleware(opts.Timeout))
		if opts.RequestsPerSecond > 0 {
			r.Use(rateLimitMiddleware(opts.RequestsPerSecond))
		}
		if opts.APIKey != "" {
			r.Use(apiKeyMiddleware(opts.APIKey))
		}
		r.Post("/jobs", s.submitJob)
		r.Route("/jobs/{job_id}", func(r chi.Router) {
			r.Get("/", s.getJob)
			r.Get("/progress", s.progress.GetProgress)
			r.Get("/events", s.progress.ListEvents)
		})
		r.Get("/owners/{owner_id}/jobs", s.listOwnerJobs)
		r.Get("/scheduler", s.scheduler)
		if s.notify != nil {
			r.Post("/notifications", s.pushNotification)
		}
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	for _, check := range s.ready {
		if err := check(ctx); err != nil {
			s.logger.Warn("readiness check failed", zap.Error(err))
			writeError(w, http.StatusServiceUnavailable, "not ready")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type submitJobRequest struct {
	OwnerID     string `json:"owner_id"`
	GroupingKey string `json:"grouping_key"`
	SiteURL     string `json:"site_url"`
	MaxPages    int    `json:"max_pages"`
}

type submitJobResponse struct {
	JobID   string `json:"job_id"`
	Created bool   `json:"created"`
}

func (s *Server) submitJob(w http.ResponseWriter, r *http.Request) {
	var req submitJobRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	jobID, created, err := s.sched.Enqueue(r.Context(), crawler.JobRequest{
		OwnerID:     req.OwnerID,
		GroupingKey: req.GroupingKey,
		SiteURL:     req.SiteURL,
		MaxPages:    req.MaxPages,
	})
	if err != nil {
		s.writeEnqueueError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, submitJobResponse{JobID: jobID, Created: created})
}

func (s *Server) writeEnqueueError(w http.ResponseWriter, err error) {
	var verr *crawler.ValidationError
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": verr.Error(),
			"field": verr.Field,
		})
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, "enqueue timed out")
	default:
		s.logger.Error("enqueue failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to enqueue job")
	}
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	job, err := s.jobStore.Get(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, crawler.ErrNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		s.logger.Error("get job failed", zap.String("job_id", jobID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load job")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) listOwnerJobs(w http.ResponseWriter, r *http.Request) {
	ownerID := chi.URLParam(r, "owner_id")
	jobs, err := s.jobStore.ListByOwner(r.Context(), ownerID)
	if err != nil {
		s.logger.Error("list owner jobs failed", zap.String("owner_id", ownerID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}
	if jobs == nil {
		jobs = []crawler.Job{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

func (s *Server) scheduler(w http.ResponseWriter, _ *http.Request) {
	running := s.sched.Running()
	if running == nil {
		running = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"concurrency": s.sched.Concurrency(),
		"running":     running,
	})
}

func (s *Server) pushNotification(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "body too large")
		return
	}
	if !json.Valid(body) {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if err := s.notify.Push(r.Context(), body); err != nil {
		s.logger.Warn("notification push failed", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "notification queue unavailable")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			reqID, _ := r.Context().Value(requestIDKey{}).(string)
			logger.Info("request completed",
				zap.String("request_id", reqID),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered", zap.Any("error", rec), zap.String("path", r.URL.Path))
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

func rateLimitMiddleware(rps float64) func(http.Handler) http.Handler {
	lmt := tollbooth.NewLimiter(rps, nil)
	lmt.SetIPLookup(limiter.IPLookup{Name: "RemoteAddr"})
	lmt.SetMessageContentType("application/json")
	lmt.SetMessage(`{"error":"rate limit exceeded"}`)
	return func(next http.Handler) http.Handler {
		return tollbooth.HTTPMiddleware(lmt)(next)
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

type requestIDKey struct{}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload) //nolint:errchkjson // the client is gone if this fails
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
