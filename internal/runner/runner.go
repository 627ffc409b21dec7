// Package runner implements crawler.CrawlRunner as a level-by-level BFS over
// one site's same-domain links, bounded by the job's page budget.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-pkgz/repeater"
	"github.com/go-pkgz/repeater/strategy"
	"github.com/go-pkgz/syncs"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitegraph/internal/crawler"
	"github.com/JakeFAU/sitegraph/internal/metrics"
	"github.com/JakeFAU/sitegraph/internal/progress"
)

const (
	defaultConcurrency = 4
	defaultMaxRetries  = 2
	defaultRetryDelay  = 500 * time.Millisecond
	defaultHTMLPrefix  = "pages"
)

// Config tunes a Runner.
type Config struct {
	Concurrency int
	MaxRetries  int
	RetryDelay  time.Duration
	UserAgent   string
	// StoreHTML writes each fetched body to <HTMLPrefix>/<jobID>/<sha256>.html.
	StoreHTML  bool
	HTMLPrefix string
}

func (c Config) withDefaults() Config {
	if c.Concurrency <= 0 {
		c.Concurrency = defaultConcurrency
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	} else if c.MaxRetries == 0 {
		c.MaxRetries = defaultMaxRetries
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = defaultRetryDelay
	}
	if c.HTMLPrefix == "" {
		c.HTMLPrefix = defaultHTMLPrefix
	}
	return c
}

// Waiter blocks until a request to rawURL is allowed.
type Waiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// Runner crawls a single site per call to Run.
type Runner struct {
	fetcher crawler.Fetcher
	limiter Waiter
	blobs   crawler.BlobStore
	hasher  crawler.Hasher
	events  progress.Emitter
	clock   crawler.Clock
	cfg     Config
	logger  *zap.Logger
}

// New wires a Runner. limiter, blobs, hasher and events may be nil.
func New(
	fetcher crawler.Fetcher,
	limiter Waiter,
	blobs crawler.BlobStore,
	hasher crawler.Hasher,
	events progress.Emitter,
	clock crawler.Clock,
	cfg Config,
	logger *zap.Logger,
) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if events == nil {
		events = progress.NopEmitter{}
	}
	return &Runner{
		fetcher: fetcher,
		limiter: limiter,
		blobs:   blobs,
		hasher:  hasher,
		events:  events,
		clock:   clock,
		cfg:     cfg.withDefaults(),
		logger:  logger,
	}
}

// visit is the outcome of one page.
type visit struct {
	record  *crawler.PageRecord
	links   []string
	failed  bool
	skipped bool
}

// Run crawls req.SiteURL breadth first. Each level is fetched concurrently and
// links are admitted in frontier order afterwards, so the same site yields the
// same page order on every run.
func (r *Runner) Run(ctx context.Context, req crawler.CrawlRequest) ([]crawler.PageRecord, crawler.CrawlStats, error) {
	seed, err := crawler.NormalizeURL(req.SiteURL)
	if err != nil {
		return nil, crawler.CrawlStats{}, fmt.Errorf("normalize site url: %w", err)
	}
	base, err := url.Parse(seed)
	if err != nil || base.Host == "" {
		return nil, crawler.CrawlStats{}, fmt.Errorf("invalid site url %q", req.SiteURL)
	}
	budget := req.MaxPages
	if budget <= 0 {
		budget = crawler.DefaultMaxPages
	}

	seen := map[string]struct{}{seed: {}}
	frontier := []string{seed}
	var (
		records []crawler.PageRecord
		stats   crawler.CrawlStats
	)
	for len(frontier) > 0 {
		if err := ctx.Err(); err != nil {
			return records, stats, fmt.Errorf("crawl canceled: %w", err)
		}
		results := r.crawlLevel(ctx, req.JobID, frontier)

		var next []string
		for _, res := range results {
			switch {
			case res.failed:
				stats.RequestsFailed++
			case res.skipped:
				stats.RequestsFinished++
			case res.record != nil:
				stats.RequestsFinished++
				records = append(records, *res.record)
			}
			for _, link := range res.links {
				if len(seen) >= budget {
					break
				}
				if r.admit(base, link, seen) {
					next = append(next, link)
				}
			}
		}
		frontier = next
	}

	r.logger.Info("site crawl finished",
		zap.String("job_id", req.JobID),
		zap.String("site", seed),
		zap.Int("pages", len(records)),
		zap.Int("finished", stats.RequestsFinished),
		zap.Int("failed", stats.RequestsFailed))
	return records, stats, nil
}

func (r *Runner) admit(base *url.URL, link string, seen map[string]struct{}) bool {
	u, err := url.Parse(link)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return false
	}
	if !crawler.SameSite(base, u) || crawler.Excluded(u) {
		return false
	}
	if _, ok := seen[link]; ok {
		return false
	}
	seen[link] = struct{}{}
	return true
}

func (r *Runner) crawlLevel(ctx context.Context, jobID string, frontier []string) []visit {
	results := make([]visit, len(frontier))
	grp := syncs.NewSizedGroup(r.cfg.Concurrency, syncs.Context(ctx))
	for i, pageURL := range frontier {
		i, pageURL := i, pageURL
		grp.Go(func(ctx context.Context) {
			results[i] = r.visit(ctx, jobID, pageURL)
		})
	}
	grp.Wait()
	return results
}

// errServer marks 5xx responses so they are retried like transport errors.
var errServer = errors.New("server error")

func (r *Runner) visit(ctx context.Context, jobID, pageURL string) visit {
	var resp crawler.FetchResponse
	rptr := repeater.New(&strategy.Backoff{
		Repeats:  r.cfg.MaxRetries + 1,
		Duration: r.cfg.RetryDelay,
		Factor:   2,
		Jitter:   true,
	})
	err := rptr.Do(ctx, func() error {
		if r.limiter != nil {
			if err := r.limiter.Wait(ctx, pageURL); err != nil {
				return err //nolint:wrapcheck // already wrapped by the limiter
			}
		}
		var fetchErr error
		resp, fetchErr = r.fetcher.Fetch(ctx, crawler.FetchRequest{
			JobID:   jobID,
			URL:     pageURL,
			Headers: r.headers(),
		})
		if fetchErr != nil {
			return fmt.Errorf("fetch %s: %w", pageURL, fetchErr)
		}
		if resp.StatusCode >= http.StatusInternalServerError {
			return fmt.Errorf("fetch %s: %w: status %d", pageURL, errServer, resp.StatusCode)
		}
		return nil
	})
	if err != nil {
		status := "error"
		if errors.Is(err, errServer) {
			status = strconv.Itoa(resp.StatusCode)
		}
		metrics.ObservePage(metrics.SanitizeSite(pageURL), status, 0)
		r.logger.Warn("page failed", zap.String("job_id", jobID), zap.String("url", pageURL), zap.Error(err))
		return visit{failed: true}
	}

	r.observe(jobID, pageURL, resp)
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		r.logger.Debug("page skipped", zap.String("job_id", jobID), zap.String("url", pageURL),
			zap.Int("status", resp.StatusCode))
		return visit{skipped: true}
	}

	record, links := r.extract(pageURL, resp)
	r.storeHTML(ctx, jobID, pageURL, resp.Body)
	return visit{record: &record, links: links}
}

func (r *Runner) headers() http.Header {
	if r.cfg.UserAgent == "" {
		return nil
	}
	return http.Header{"User-Agent": {r.cfg.UserAgent}}
}

func (r *Runner) observe(jobID, pageURL string, resp crawler.FetchResponse) {
	site := metrics.SanitizeSite(pageURL)
	metrics.ObservePage(site, strconv.Itoa(resp.StatusCode), len(resp.Body))
	r.events.Emit(progress.Event{
		JobID:       jobID,
		TS:          r.now(),
		Stage:       progress.StageFetchDone,
		Site:        site,
		URL:         pageURL,
		StatusClass: progress.ClassifyStatus(resp.StatusCode),
		Bytes:       int64(len(resp.Body)),
		Dur:         resp.Duration,
	})
}

// extract builds the page record and the page's absolute, fragment-free links.
func (r *Runner) extract(pageURL string, resp crawler.FetchResponse) (crawler.PageRecord, []string) {
	recordURL := strings.TrimSuffix(pageURL, "/")
	depth, parent, err := crawler.DepthAndParent(recordURL)
	if err != nil {
		r.logger.Debug("depth lookup failed", zap.String("url", pageURL), zap.Error(err))
	}
	record := crawler.PageRecord{
		URL:        recordURL,
		Title:      strings.TrimSpace(resp.Title),
		Depth:      depth,
		ParentURL:  parent,
		StatusCode: resp.StatusCode,
		Timestamp:  r.now(),
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body))
	if err != nil {
		return record, nil
	}
	if record.Title == "" {
		record.Title = strings.TrimSpace(doc.Find("title").First().Text())
	}

	// relative links resolve against where the fetch ended up
	baseURL := pageURL
	if resp.URL != "" {
		baseURL = resp.URL
	}
	pageBase, err := url.Parse(baseURL)
	if err != nil {
		return record, nil
	}
	if href, ok := doc.Find("base[href]").First().Attr("href"); ok {
		if b, err := pageBase.Parse(strings.TrimSpace(href)); err == nil {
			pageBase = b
		}
	}
	var links []string
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		href = strings.TrimSpace(href)
		if href == "" || strings.HasPrefix(href, "#") {
			return
		}
		abs, err := pageBase.Parse(href)
		if err != nil {
			return
		}
		normalized, err := crawler.NormalizeURL(abs.String())
		if err != nil {
			return
		}
		links = append(links, normalized)
	})
	return record, links
}

func (r *Runner) storeHTML(ctx context.Context, jobID, pageURL string, body []byte) {
	if !r.cfg.StoreHTML || r.blobs == nil || r.hasher == nil || len(body) == 0 {
		return
	}
	sum, err := r.hasher.Hash(body)
	if err != nil {
		r.logger.Warn("hash page body", zap.String("url", pageURL), zap.Error(err))
		return
	}
	key := path.Join(r.cfg.HTMLPrefix, jobID, sum+".html")
	if _, err := r.blobs.PutObject(ctx, key, "text/html; charset=utf-8", body); err != nil {
		r.logger.Warn("store page html", zap.String("url", pageURL), zap.String("key", key), zap.Error(err))
	}
}

func (r *Runner) now() time.Time {
	if r.clock == nil {
		return time.Now().UTC()
	}
	return r.clock.Now().UTC()
}
