// Package promote combines a static fetcher with a browser fetcher, rendering
// only the pages that look client rendered.
package promote

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/sitegraph/internal/crawler"
	"github.com/JakeFAU/sitegraph/internal/metrics"
)

// Detector decides whether a static response needs a browser render.
type Detector interface {
	ShouldPromote(resp crawler.FetchResponse) bool
}

// Fetcher probes with a static fetcher and promotes to a browser when the detector asks.
type Fetcher struct {
	probe   crawler.Fetcher
	browser crawler.Fetcher
	detect  Detector
	logger  *zap.Logger
}

// New builds a promoting fetcher.
func New(probe, browser crawler.Fetcher, detect Detector, logger *zap.Logger) (*Fetcher, error) {
	if probe == nil || browser == nil {
		return nil, fmt.Errorf("probe and browser fetchers are required")
	}
	if detect == nil {
		return nil, fmt.Errorf("detector is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{probe: probe, browser: browser, detect: detect, logger: logger}, nil
}

// Fetch returns the browser render when promoted and the probe response otherwise.
// A failed render falls back to the probe response.
func (f *Fetcher) Fetch(ctx context.Context, req crawler.FetchRequest) (crawler.FetchResponse, error) {
	resp, err := f.probe.Fetch(ctx, req)
	if err != nil {
		return crawler.FetchResponse{}, err //nolint:wrapcheck // probe errors are already wrapped
	}
	if !f.detect.ShouldPromote(resp) {
		return resp, nil
	}

	rendered, err := f.browser.Fetch(ctx, req)
	if err != nil {
		metrics.ObservePromotion("error")
		f.logger.Warn("browser render failed, keeping static response",
			zap.String("job_id", req.JobID),
			zap.String("url", req.URL),
			zap.Error(err))
		return resp, nil
	}
	metrics.ObservePromotion("rendered")
	f.logger.Debug("page promoted to browser render", zap.String("job_id", req.JobID), zap.String("url", req.URL))
	rendered.Duration += resp.Duration
	return rendered, nil
}
