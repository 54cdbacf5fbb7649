package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/shotbatch/internal/logging"
	"github.com/JakeFAU/shotbatch/internal/progress"
)

// LogSink writes each event as a debug log line.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logging.OrNop(logger).Named("events")}
}

// Consume logs each event in the batch using structured fields.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.Stringer("run_id", evt.RunUUID()),
			zap.String("stage", string(evt.Stage)),
			zap.Int("pass", evt.Pass),
		}
		switch evt.Stage {
		case progress.StageCaptureDone, progress.StageCaptureError:
			fields = append(fields,
				logging.URL(evt.URL),
				zap.Int("attempt", evt.Attempt),
				zap.Int("worker", evt.Worker),
				zap.String("status_class", string(evt.StatusClass)),
				zap.Int64("bytes", evt.Bytes),
				zap.Duration("dur", evt.Dur),
			)
			if evt.Kind != "" {
				fields = append(fields, zap.String("kind", evt.Kind))
			}
		case progress.StagePassDone, progress.StageRunDone:
			fields = append(fields,
				zap.Int("successes", evt.Successes),
				zap.Int("failures", evt.Failures),
				zap.Duration("dur", evt.Dur),
			)
		}
		if evt.Note != "" {
			fields = append(fields, zap.String("note", logging.Truncate(evt.Note, logging.ErrorWidth)))
		}
		s.logger.Debug("progress event", fields...)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
