package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSanitizeSite(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"standard http", "http://example.com/path", "example.com"},
		{"standard https", "https://Example.com/path", "example.com"},
		{"no scheme", "example.com/path", "example.com"},
		{"just host", "example.com", "example.com"},
		{"host with port", "example.com:8080", "example.com"},
		{"ip address", "192.168.1.1", "192.168.1.1"},
		{"invalid url", "http://%", "unknown"},
		{"empty string", "", "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SanitizeSite(tc.input); got != tc.expected {
				t.Errorf("SanitizeSite(%q) = %q; want %q", tc.input, got, tc.expected)
			}
		})
	}
}

func TestInit(t *testing.T) {
	// Call Init multiple times to test idempotency.
	Init()
	Init()

	if pagesTotal == nil || bytesTotal == nil || jobsTotal == nil ||
		httpRequestsTotal == nil || httpRequestDurationSeconds == nil || inflightJobs == nil {
		t.Fatal("Init() did not initialize metrics collectors")
	}

	ObservePage("https://init-test.example/a", "2xx", 10)
	if val := testutil.ToFloat64(pagesTotal.WithLabelValues("init-test.example", "2xx")); val != 1 {
		t.Errorf("Expected pagesTotal to be 1, got %f", val)
	}
	if val := testutil.ToFloat64(bytesTotal.WithLabelValues("init-test.example")); val != 10 {
		t.Errorf("Expected bytesTotal to be 10, got %f", val)
	}
}

func TestJobAndSchedulerMetrics(t *testing.T) {
	before := func() float64 {
		Init()
		return testutil.ToFloat64(jobsTotal.WithLabelValues("test-status"))
	}()
	ObserveJob("test-status")
	if val := testutil.ToFloat64(jobsTotal.WithLabelValues("test-status")); val != before+1 {
		t.Errorf("Expected jobsTotal to increase by 1, got %f", val-before)
	}

	SetInflight(3)
	if val := testutil.ToFloat64(inflightJobs); val != 3 {
		t.Errorf("Expected inflight gauge 3, got %f", val)
	}
	SetInflight(0)

	ObserveEnqueue("test-outcome")
	if val := testutil.ToFloat64(enqueueTotal.WithLabelValues("test-outcome")); val != 1 {
		t.Errorf("Expected enqueueTotal to be 1, got %f", val)
	}

	ObserveRateLimitDelay("delay-test.example", 150*time.Millisecond)
	if val := testutil.CollectAndCount(rateLimitDelaysSeconds); val <= 0 {
		t.Errorf("Expected rate limit histogram to be observed, got %d", val)
	}
}

// Fuzz test for SanitizeSite.
func FuzzSanitizeSite(f *testing.F) {
	testcases := []string{"http://example.com", "https://google.com", "ftp://example.com"}
	for _, tc := range testcases {
		f.Add(tc)
	}
	f.Fuzz(func(t *testing.T, orig string) {
		sanitized := SanitizeSite(orig)
		if sanitized == "" {
			t.Errorf("SanitizeSite(%q) returned an empty string", orig)
		}
	})

	ObservePromotion("test-promotion")
	if val := testutil.ToFloat64(promotionsTotal.WithLabelValues("test-promotion")); val != 1 {
		f.Errorf("Expected promotionsTotal to be 1, got %f", val)
	}
}
