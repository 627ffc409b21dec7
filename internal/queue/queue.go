// Package queue turns upstream crawl notifications into scheduler enqueues.
// Transports live in subpackages; they share the decoding and ack rules here.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/sitegraph/internal/crawler"
)

// Notification is the JSON body upstream systems publish when a result record
// needs a (re)crawl.
type Notification struct {
	RecordID string `json:"record_id"`
	OwnerID  string `json:"owner_id"`
	SiteURL  string `json:"site_url"`
	MaxPages int    `json:"max_pages"`
}

// Request maps the notification onto a job request keyed by the record id.
func (n Notification) Request() crawler.JobRequest {
	return crawler.JobRequest{
		OwnerID:     n.OwnerID,
		GroupingKey: n.RecordID,
		SiteURL:     n.SiteURL,
		MaxPages:    n.MaxPages,
	}
}

// Enqueuer is satisfied by the dispatcher.
type Enqueuer interface {
	Enqueue(ctx context.Context, req crawler.JobRequest) (string, bool, error)
}

// Consumer pulls notifications until ctx ends.
type Consumer interface {
	Run(ctx context.Context) error
}

// Handler decodes one message body and enqueues it.
type Handler struct {
	enq    Enqueuer
	logger *zap.Logger
}

// NewHandler builds a Handler.
func NewHandler(enq Enqueuer, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{enq: enq, logger: logger}
}

// Handle returns nil when the message should be acknowledged: it was enqueued,
// was a duplicate, or is malformed and was dropped. A non-nil error means a
// transient failure and the message must be redelivered.
func (h *Handler) Handle(ctx context.Context, body []byte) error {
	var n Notification
	if err := json.Unmarshal(body, &n); err != nil {
		h.logger.Warn("dropping undecodable notification", zap.Error(err), zap.Int("bytes", len(body)))
		return nil
	}
	jobID, created, err := h.enq.Enqueue(ctx, n.Request())
	var verr *crawler.ValidationError
	switch {
	case errors.As(err, &verr):
		h.logger.Warn("dropping invalid notification",
			zap.String("record_id", n.RecordID),
			zap.String("field", verr.Field),
			zap.String("reason", verr.Reason))
		return nil
	case err != nil:
		return fmt.Errorf("enqueue record %s: %w", n.RecordID, err)
	}
	h.logger.Info("notification enqueued",
		zap.String("record_id", n.RecordID),
		zap.String("job_id", jobID),
		zap.Bool("created", created))
	return nil
}
