package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// jobsRouter mirrors the nesting of the public API so route labels carry the
// full templated pattern rather than the concrete path.
func jobsRouter() http.Handler {
	ok := func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) }
	r := chi.NewRouter()
	r.Use(Middleware)
	r.Route("/v1", func(r chi.Router) {
		r.Route("/jobs/{job_id}", func(r chi.Router) {
			r.Get("/", ok)
			r.Get("/progress", ok)
			r.Get("/events", func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusNotFound)
			})
		})
		r.Get("/owners/{owner_id}/jobs", ok)
	})
	return r
}

func routeSamples(t *testing.T, method, route string) uint64 {
	t.Helper()
	h, ok := httpRequestDurationSeconds.WithLabelValues(method, route).(prometheus.Histogram)
	require.True(t, ok)
	var m dto.Metric
	require.NoError(t, h.Write(&m))
	return m.GetHistogram().GetSampleCount()
}

func TestMiddlewareLabelsRoutePattern(t *testing.T) {
	Init()
	handler := jobsRouter()

	tests := []struct {
		name      string
		path      string
		wantRoute string
		wantCode  string
	}{
		{name: "job", path: "/v1/jobs/abc/", wantRoute: "/v1/jobs/{job_id}/", wantCode: "200"},
		{name: "progress", path: "/v1/jobs/abc/progress", wantRoute: "/v1/jobs/{job_id}/progress", wantCode: "200"},
		{name: "owner jobs", path: "/v1/owners/u1/jobs", wantRoute: "/v1/owners/{owner_id}/jobs", wantCode: "200"},
		{name: "missing events", path: "/v1/jobs/gone/events", wantRoute: "/v1/jobs/{job_id}/events", wantCode: "404"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			beforeRoute := routeSamples(t, http.MethodGet, tt.wantRoute)
			beforeCode := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, tt.wantCode))

			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))

			assert.Equal(t, beforeRoute+1, routeSamples(t, http.MethodGet, tt.wantRoute))
			assert.Equal(t, beforeCode+1, testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, tt.wantCode)))
		})
	}
}

func TestMiddlewareDoesNotLabelConcretePaths(t *testing.T) {
	Init()
	handler := jobsRouter()

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/jobs/job-42/progress", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Zero(t, routeSamples(t, http.MethodGet, "/v1/jobs/job-42/progress"))
}
