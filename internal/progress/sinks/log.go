package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/crawlrules/internal/progress"
)

// LogSink logs run milestones at info and item completions at debug.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume implements progress.Sink.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("run_id", evt.RunID),
			zap.String("stage", string(evt.Stage)),
		}
		if evt.Stage != progress.StageItemDone {
			if evt.Dur > 0 {
				fields = append(fields, zap.Duration("dur", evt.Dur))
			}
			if evt.Note != "" {
				fields = append(fields, zap.String("note", evt.Note))
			}
			s.logger.Info("crawl run", fields...)
			continue
		}
		fields = append(fields,
			zap.String("host", evt.Host),
			zap.String("url", evt.URL),
			zap.String("outcome", evt.Outcome),
			zap.String("status_class", string(evt.Status)),
			zap.Int64("bytes", evt.Bytes),
			zap.Duration("dur", evt.Dur),
		)
		s.logger.Debug("crawl item", fields...)
	}
	return nil
}

// Close implements progress.Sink.
func (s *LogSink) Close(context.Context) error {
	return nil
}
