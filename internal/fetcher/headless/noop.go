package headless

import (
	"context"
	"errors"

	"github.com/JakeFAU/sitegraph/internal/crawler"
)

// ErrNotConfigured is returned by Noop.
var ErrNotConfigured = errors.New("headless fetcher not configured")

// Noop stands in when the configured engine needs a browser that is not
// available; every fetch fails, so jobs fail with a clear message.
type Noop struct{}

// NewNoop creates a new Noop fetcher.
func NewNoop() *Noop {
	return &Noop{}
}

// Fetch always returns ErrNotConfigured.
func (Noop) Fetch(_ context.Context, _ crawler.FetchRequest) (crawler.FetchResponse, error) {
	return crawler.FetchResponse{}, ErrNotConfigured
}
