package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitegraph/internal/crawler"
	"github.com/JakeFAU/sitegraph/internal/progress/sinks"
	"github.com/JakeFAU/sitegraph/internal/storage/memory"
	"github.com/JakeFAU/sitegraph/internal/store"
)

func TestProgressHandlerListEvents(t *testing.T) {
	t.Parallel()

	events := memory.NewEventStore()
	at := time.Unix(100, 0).UTC()
	require.NoError(t, events.AppendEvents(context.Background(), []store.EventRecord{
		{JobID: "job-1", Stage: "CRAWL_STARTED", Progress: 10, At: at},
		{JobID: "job-1", Stage: "CRAWL_COMPLETE", Progress: 40, At: at.Add(time.Second)},
		{JobID: "job-2", Stage: "CRAWL_STARTED", Progress: 10, At: at},
	}))
	server := NewServer(memory.NewJobStore(), &fakeScheduler{},
		NewProgressHandler(events, nil, zap.NewNop()), Options{}, zap.NewNop())

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/jobs/job-1/events?limit=10", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Events []store.EventRecord `json:"events"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Events, 2)
	assert.Equal(t, "CRAWL_STARTED", body.Events[0].Stage)
	assert.Equal(t, 40, body.Events[1].Progress)
}

func TestProgressHandlerListEventsErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		handler  *ProgressHandler
		path     string
		wantCode int
	}{
		{
			name:     "no history",
			handler:  NewProgressHandler(nil, nil, nil),
			path:     "/v1/jobs/job-1/events",
			wantCode: http.StatusServiceUnavailable,
		},
		{
			name:     "bad limit",
			handler:  NewProgressHandler(memory.NewEventStore(), nil, nil),
			path:     "/v1/jobs/job-1/events?limit=-1",
			wantCode: http.StatusBadRequest,
		},
		{
			name:     "repository failure",
			handler:  NewProgressHandler(failingEvents{}, nil, nil),
			path:     "/v1/jobs/job-1/events",
			wantCode: http.StatusInternalServerError,
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			server := NewServer(memory.NewJobStore(), &fakeScheduler{}, tt.handler, Options{}, zap.NewNop())
			rec := httptest.NewRecorder()
			server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))
			require.Equal(t, tt.wantCode, rec.Code)
		})
	}
}

func TestProgressHandlerGetProgress(t *testing.T) {
	t.Parallel()

	jobs := memory.NewJobStore()
	require.NoError(t, jobs.Insert(context.Background(), crawler.Job{
		ID:          "job-db",
		OwnerID:     "u1",
		GroupingKey: "r1",
		SiteURL:     "https://example.com",
		Status:      crawler.JobStatusPending,
		CreatedAt:   time.Unix(100, 0).UTC(),
	}))
	status := &fakeStatus{statuses: map[string]sinks.JobStatus{
		"job-cached": {Stage: "GRAPH_BUILT", Progress: 60, At: time.Unix(200, 0).UTC()},
	}}
	handler := NewProgressHandler(nil, status, zap.NewNop()).WithJobStore(jobs)
	server := NewServer(jobs, &fakeScheduler{}, handler, Options{}, zap.NewNop())

	tests := []struct {
		name       string
		path       string
		wantCode   int
		wantSource string
		wantStage  string
	}{
		{name: "cached", path: "/v1/jobs/job-cached/progress", wantCode: http.StatusOK, wantSource: "cache", wantStage: "GRAPH_BUILT"},
		{name: "job row fallback", path: "/v1/jobs/job-db/progress", wantCode: http.StatusOK, wantSource: "job", wantStage: "pending"},
		{name: "unknown", path: "/v1/jobs/nope/progress", wantCode: http.StatusNotFound},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rec := httptest.NewRecorder()
			server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))
			require.Equal(t, tt.wantCode, rec.Code)
			if tt.wantCode != http.StatusOK {
				return
			}
			var dto progressDTO
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &dto))
			assert.Equal(t, tt.wantSource, dto.Source)
			assert.Equal(t, tt.wantStage, dto.Stage)
		})
	}
}

func TestProgressHandlerCacheErrorFallsBack(t *testing.T) {
	t.Parallel()

	jobs := memory.NewJobStore()
	require.NoError(t, jobs.Insert(context.Background(), crawler.Job{
		ID:        "job-1",
		OwnerID:   "u1",
		SiteURL:   "https://example.com",
		Status:    crawler.JobStatusRunning,
		Progress:  40,
		CreatedAt: time.Unix(100, 0).UTC(),
	}))
	handler := NewProgressHandler(nil, &fakeStatus{err: errors.New("redis down")}, nil).WithJobStore(jobs)
	server := NewServer(jobs, &fakeScheduler{}, handler, Options{}, zap.NewNop())

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/jobs/job-1/progress", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"progress":40`)
}

func TestProgressHandlerUnavailable(t *testing.T) {
	t.Parallel()

	server := NewServer(memory.NewJobStore(), &fakeScheduler{}, nil, Options{}, zap.NewNop())
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/jobs/job-1/progress", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

type fakeStatus struct {
	statuses map[string]sinks.JobStatus
	err      error
}

func (f *fakeStatus) Status(_ context.Context, jobID string) (sinks.JobStatus, bool, error) {
	if f.err != nil {
		return sinks.JobStatus{}, false, f.err
	}
	s, ok := f.statuses[jobID]
	return s, ok, nil
}

type failingEvents struct{}

func (failingEvents) AppendEvents(context.Context, []store.EventRecord) error {
	return errors.New("db down")
}

func (failingEvents) ListEvents(context.Context, string, int) ([]store.EventRecord, error) {
	return nil, errors.New("db down")
}
