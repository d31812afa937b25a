package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/thehouseofbailey/personamapper/internal/progress"
)

// LogSink writes progress events as structured logs. Useful in development
// and when auditing a crawl without scraping metrics.
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
		s.logger.Info("progress event",
			zap.String("job_id", evt.JobID),
			zap.String("stage", string(evt.Stage)),
			zap.String("site", evt.Site),
			zap.String("url", evt.URL),
			zap.String("fetch_status", evt.FetchStatus),
			zap.Int64("bytes", evt.Bytes),
			zap.String("strategy", evt.Strategy),
			zap.Int("mappings", evt.Mappings),
			zap.Duration("dur", evt.Dur),
			zap.String("note", evt.Note),
		)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
