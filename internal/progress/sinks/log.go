package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/sitegraph/internal/progress"
)

// LogSink writes job milestones to the structured log. Fetch events go to debug.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event in the batch.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("job_id", evt.JobID),
			zap.String("stage", string(evt.Stage)),
			zap.Int("progress", evt.Progress),
		}
		switch evt.Stage {
		case progress.StageFetchDone:
			s.logger.Debug("page fetched", append(fields,
				zap.String("url", evt.URL),
				zap.String("status_class", string(evt.StatusClass)),
				zap.Int64("bytes", evt.Bytes),
				zap.Duration("dur", evt.Dur),
			)...)
		case progress.StageJobError:
			s.logger.Warn("job progress", append(fields, zap.String("note", evt.Note))...)
		default:
			if evt.GroupingKey != "" {
				fields = append(fields, zap.String("grouping_key", evt.GroupingKey))
			}
			s.logger.Info("job progress", fields...)
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
