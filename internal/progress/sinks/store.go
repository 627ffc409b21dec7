package sinks

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/sitegraph/internal/progress"
	"github.com/JakeFAU/sitegraph/internal/store"
)

// StoreSink appends job-level milestones to the event history. Fetch events are
// too chatty for the history table and are skipped.
type StoreSink struct {
	repo   store.EventRepository
	logger *zap.Logger
}

// NewStoreSink constructs a StoreSink for the provided repository.
func NewStoreSink(repo store.EventRepository, logger *zap.Logger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{repo: repo, logger: logger}
}

// Consume forwards the job events of the batch in one AppendEvents call.
func (s *StoreSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.repo == nil {
		return nil
	}
	records := make([]store.EventRecord, 0, len(batch))
	for _, evt := range batch {
		if evt.Stage == progress.StageFetchDone {
			continue
		}
		records = append(records, store.EventRecord{
			JobID:    evt.JobID,
			Stage:    string(evt.Stage),
			Progress: evt.Progress,
			Note:     evt.Note,
			At:       evt.TS,
		})
	}
	if len(records) == 0 {
		return nil
	}
	if err := s.repo.AppendEvents(ctx, records); err != nil {
		return fmt.Errorf("append job events: %w", err)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *StoreSink) Close(context.Context) error {
	return nil
}
