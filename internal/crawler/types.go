package crawler

import (
	"net/http"
	"time"
)

// JobStatus represents the lifecycle state of a crawl job.
type JobStatus string

// Job status values persisted in the job store. The only legal transitions are
// pending -> running -> completed|failed.
const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// Terminal reports whether no further transitions are possible.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// Active reports whether the job still occupies its grouping key.
func (s JobStatus) Active() bool {
	return s == JobStatusPending || s == JobStatusRunning
}

// Progress checkpoints reported by the pipeline.
const (
	ProgressCrawlStarted   = 10
	ProgressMergeComplete  = 60
	ProgressLayoutComplete = 80
	ProgressPersisted      = 100
)

// DefaultMaxPages is applied when a job does not specify a page budget.
const DefaultMaxPages = 20

// JobRequest is the caller-supplied input for a new job.
type JobRequest struct {
	OwnerID     string `json:"owner_id" yaml:"owner_id"`
	GroupingKey string `json:"grouping_key" yaml:"grouping_key"`
	SiteURL     string `json:"site_url" yaml:"site_url"`
	MaxPages    int    `json:"max_pages" yaml:"max_pages"`
}

// Job is one crawl-and-build-graph unit of work.
type Job struct {
	ID           string     `json:"id" db:"id"`
	OwnerID      string     `json:"owner_id" db:"owner_id"`
	GroupingKey  string     `json:"grouping_key" db:"grouping_key"`
	SiteURL      string     `json:"site_url" db:"site_url"`
	MaxPages     int        `json:"max_pages" db:"max_pages"`
	Status       JobStatus  `json:"status" db:"status"`
	Progress     int        `json:"progress" db:"progress"`
	ErrorMessage string     `json:"error_message,omitempty" db:"error_message"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
	StartedAt    *time.Time `json:"started_at,omitempty" db:"started_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty" db:"completed_at"`
}

// PageRecord describes one crawled page.
type PageRecord struct {
	URL        string    `json:"url"`
	Title      string    `json:"title"`
	Depth      int       `json:"depth"`
	ParentURL  string    `json:"parentUrl,omitempty"`
	StatusCode int       `json:"statusCode"`
	Timestamp  time.Time `json:"timestamp"`
}

// CrawlRequest asks a CrawlRunner to crawl one site.
type CrawlRequest struct {
	JobID    string
	SiteURL  string
	MaxPages int
}

// CrawlStats summarizes request outcomes inside one crawl.
type CrawlStats struct {
	RequestsFinished int `json:"requestsFinished"`
	RequestsFailed   int `json:"requestsFailed"`
}

// ResultCounts are the page tallies persisted alongside a graph.
type ResultCounts struct {
	TotalPages      int `json:"total_pages"`
	SuccessfulPages int `json:"successful_pages"`
	FailedPages     int `json:"failed_pages"`
}

// CountResults tallies pages by status code; only 200 counts as successful.
func CountResults(pages []PageRecord) ResultCounts {
	counts := ResultCounts{TotalPages: len(pages)}
	for _, p := range pages {
		if p.StatusCode == http.StatusOK {
			counts.SuccessfulPages++
		} else {
			counts.FailedPages++
		}
	}
	return counts
}

// FetchRequest captures everything needed to fetch a URL.
type FetchRequest struct {
	JobID   string
	URL     string
	Headers http.Header
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Title      string
	Duration   time.Duration
}

// JobEvent is published after a job reaches a terminal state.
type JobEvent struct {
	JobID       string    `json:"job_id"`
	GroupingKey string    `json:"grouping_key"`
	Status      JobStatus `json:"status"`
	Error       string    `json:"error,omitempty"`
	At          time.Time `json:"at"`
}

// Key is the partition or ordering key for the event: the job id.
func (e JobEvent) Key() string {
	return e.JobID
}
