package store

import (
	"context"
	"time"
)

// EventRecord is one persisted progress milestone of a job.
type EventRecord struct {
	JobID    string    `json:"job_id"`
	Stage    string    `json:"stage"`
	Progress int       `json:"progress"`
	Note     string    `json:"note,omitempty"`
	At       time.Time `json:"at"`
}

// EventRepository persists the progress history of jobs.
type EventRepository interface {
	// AppendEvents stores a batch in order.
	AppendEvents(ctx context.Context, events []EventRecord) error
	// ListEvents returns up to limit events for one job, oldest first.
	ListEvents(ctx context.Context, jobID string, limit int) ([]EventRecord, error)
}
