package headless

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

const defaultNavigationTimeout = 45 * time.Second

// Config controls the behavior of the headless fetchers.
type Config struct {
	MaxParallel       int
	UserAgent         string
	NavigationTimeout time.Duration
}

func (c Config) validate() (Config, error) {
	if c.MaxParallel < 0 {
		return c, fmt.Errorf("max parallel must be >= 0")
	}
	if c.NavigationTimeout <= 0 {
		c.NavigationTimeout = defaultNavigationTimeout
	}
	return c, nil
}

// slots bounds concurrent browser pages; a nil channel means unbounded.
type slots chan struct{}

func newSlots(n int) slots {
	if n <= 0 {
		return nil
	}
	return make(slots, n)
}

func (s slots) acquire(ctx context.Context) error {
	if s == nil {
		return nil
	}
	select {
	case s <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("headless slot wait canceled: %w", ctx.Err())
	}
}

func (s slots) release() {
	if s == nil {
		return
	}
	select {
	case <-s:
	default:
	}
}

func cloneHeader(src http.Header) http.Header {
	if src == nil {
		return nil
	}
	dst := make(http.Header, len(src))
	for k, values := range src {
		for _, v := range values {
			dst.Add(k, v)
		}
	}
	return dst
}

// flattenHeaders joins repeated values, which is what browser header APIs accept.
func flattenHeaders(h http.Header) map[string]string {
	if len(h) == 0 {
		return nil
	}
	out := make(map[string]string, len(h))
	for key := range h {
		out[key] = h.Get(key)
		if values := h.Values(key); len(values) > 1 {
			joined := values[0]
			for _, v := range values[1:] {
				joined += ", " + v
			}
			out[key] = joined
		}
	}
	return out
}
