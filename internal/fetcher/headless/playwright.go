package headless

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/JakeFAU/sitegraph/internal/crawler"
)

// pageSession is one isolated browser context with a single page.
type pageSession interface {
	navigate(url string, timeout time.Duration) (status int, headers map[string]string, err error)
	content() (string, error)
	title() (string, error)
	location() string
	close() error
}

type sessionFactory func(userAgent string, headers map[string]string) (pageSession, error)

// Playwright implements crawler.Fetcher with a playwright-managed Chromium.
type Playwright struct {
	cfg     Config
	limiter slots
	open    sessionFactory
	stop    func() error
}

// NewPlaywright starts the playwright driver and launches headless Chromium.
// The driver and browsers must already be installed on the host.
func NewPlaywright(cfg Config) (*Playwright, error) {
	cfg, err := cfg.validate()
	if err != nil {
		return nil, err
	}
	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("start playwright: %w", err)
	}
	browser, err := pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(true),
	})
	if err != nil {
		_ = pw.Stop()
		return nil, fmt.Errorf("launch chromium: %w", err)
	}

	open := func(userAgent string, headers map[string]string) (pageSession, error) {
		opts := playwright.BrowserNewContextOptions{ExtraHttpHeaders: headers}
		if userAgent != "" {
			opts.UserAgent = playwright.String(userAgent)
		}
		bctx, err := browser.NewContext(opts)
		if err != nil {
			return nil, fmt.Errorf("new browser context: %w", err)
		}
		page, err := bctx.NewPage()
		if err != nil {
			_ = bctx.Close()
			return nil, fmt.Errorf("new page: %w", err)
		}
		return &playwrightSession{bctx: bctx, page: page}, nil
	}
	stop := func() error {
		if err := browser.Close(); err != nil {
			_ = pw.Stop()
			return fmt.Errorf("close chromium: %w", err)
		}
		if err := pw.Stop(); err != nil {
			return fmt.Errorf("stop playwright: %w", err)
		}
		return nil
	}
	return newPlaywright(cfg, open, stop), nil
}

func newPlaywright(cfg Config, open sessionFactory, stop func() error) *Playwright {
	return &Playwright{
		cfg:     cfg,
		limiter: newSlots(cfg.MaxParallel),
		open:    open,
		stop:    stop,
	}
}

// Close shuts the browser and the driver down.
func (p *Playwright) Close() error {
	if p.stop == nil {
		return nil
	}
	return p.stop()
}

type fetchResult struct {
	resp crawler.FetchResponse
	err  error
}

// Fetch loads the page, waits for DOMContentLoaded and returns the rendered DOM.
func (p *Playwright) Fetch(ctx context.Context, request crawler.FetchRequest) (crawler.FetchResponse, error) {
	if err := p.limiter.acquire(ctx); err != nil {
		return crawler.FetchResponse{}, err
	}

	// playwright calls are not context aware; the goroutine owns the slot
	done := make(chan fetchResult, 1)
	go func() {
		defer p.limiter.release()
		resp, err := p.fetch(request)
		done <- fetchResult{resp: resp, err: err}
	}()

	select {
	case res := <-done:
		return res.resp, res.err
	case <-ctx.Done():
		return crawler.FetchResponse{}, fmt.Errorf("playwright fetch %s: %w", request.URL, ctx.Err())
	}
}

func (p *Playwright) fetch(request crawler.FetchRequest) (crawler.FetchResponse, error) {
	session, err := p.open(p.cfg.UserAgent, flattenHeaders(request.Headers))
	if err != nil {
		return crawler.FetchResponse{}, err
	}
	defer func() { _ = session.close() }()

	start := time.Now()
	status, rawHeaders, err := session.navigate(request.URL, p.cfg.NavigationTimeout)
	if err != nil {
		return crawler.FetchResponse{}, fmt.Errorf("playwright goto %s: %w", request.URL, err)
	}
	html, err := session.content()
	if err != nil {
		return crawler.FetchResponse{}, fmt.Errorf("read page content: %w", err)
	}
	title, err := session.title()
	if err != nil {
		return crawler.FetchResponse{}, fmt.Errorf("read page title: %w", err)
	}

	headers := http.Header{}
	for k, v := range rawHeaders {
		headers.Set(k, v)
	}
	if status == 0 {
		status = http.StatusOK
	}
	finalURL := session.location()
	if finalURL == "" {
		finalURL = request.URL
	}
	return crawler.FetchResponse{
		URL:        finalURL,
		StatusCode: status,
		Headers:    headers,
		Body:       []byte(html),
		Title:      title,
		Duration:   time.Since(start),
	}, nil
}

type playwrightSession struct {
	bctx playwright.BrowserContext
	page playwright.Page
}

func (s *playwrightSession) navigate(url string, timeout time.Duration) (int, map[string]string, error) {
	resp, err := s.page.Goto(url, playwright.PageGotoOptions{
		Timeout:   playwright.Float(float64(timeout.Milliseconds())),
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
	})
	if err != nil {
		return 0, nil, err //nolint:wrapcheck // wrapped by Fetch
	}
	// about:blank and same-document navigations have no response
	if resp == nil {
		return 0, nil, nil
	}
	return resp.Status(), resp.Headers(), nil
}

func (s *playwrightSession) content() (string, error) { return s.page.Content() }

func (s *playwrightSession) title() (string, error) { return s.page.Title() }

func (s *playwrightSession) location() string { return s.page.URL() }

func (s *playwrightSession) close() error {
	if err := s.bctx.Close(); err != nil {
		return fmt.Errorf("close browser context: %w", err)
	}
	return nil
}
