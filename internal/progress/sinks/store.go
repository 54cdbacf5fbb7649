package sinks

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/shotbatch/internal/logging"
	"github.com/JakeFAU/shotbatch/internal/progress"
	"github.com/JakeFAU/shotbatch/internal/store"
)

// StoreSink persists runs and capture attempts through a repository. Attempts
// in one batch are written together, after any RUN_START and before RUN_DONE.
type StoreSink struct {
	repo   store.AttemptRepository
	logger *zap.Logger
}

// NewStoreSink constructs a StoreSink for repo.
func NewStoreSink(repo store.AttemptRepository, logger *zap.Logger) *StoreSink {
	return &StoreSink{repo: repo, logger: logging.OrNop(logger).Named("store_sink")}
}

// Consume forwards the batch to the repository and returns its errors wrapped.
func (s *StoreSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.repo == nil {
		return nil
	}
	var (
		attempts []store.Attempt
		finished []progress.Event
	)
	for _, evt := range batch {
		switch evt.Stage {
		case progress.StageRunStart:
			if err := s.repo.StartRun(ctx, evt.RunUUID(), evt.TS); err != nil {
				return fmt.Errorf("start run: %w", err)
			}
		case progress.StageCaptureDone, progress.StageCaptureError:
			attempts = append(attempts, attemptFrom(evt))
		case progress.StageRunDone:
			finished = append(finished, evt)
		}
	}
	if err := s.repo.RecordAttempts(ctx, attempts); err != nil {
		return fmt.Errorf("record attempts: %w", err)
	}
	for _, evt := range finished {
		status := store.StatusFor(evt.Failures, evt.Kind == "canceled")
		if err := s.repo.FinishRun(ctx, evt.RunUUID(), evt.TS, status, evt.Successes, evt.Failures); err != nil {
			return fmt.Errorf("finish run: %w", err)
		}
		s.logger.Debug("run persisted",
			zap.Stringer("run_id", evt.RunUUID()),
			zap.String("status", string(status)),
		)
	}
	return nil
}

func attemptFrom(evt progress.Event) store.Attempt {
	a := store.Attempt{
		RunID:      evt.RunUUID(),
		URL:        evt.URL,
		Site:       evt.Site,
		Attempt:    evt.Attempt,
		Pass:       evt.Pass,
		Worker:     evt.Worker,
		Succeeded:  evt.Stage == progress.StageCaptureDone,
		Kind:       evt.Kind,
		StatusCode: evt.StatusCode,
		Bytes:      evt.Bytes,
		Digest:     evt.Digest,
		Duration:   evt.Dur,
		At:         evt.TS,
	}
	if !a.Succeeded && evt.Note != "" {
		note := evt.Note
		a.Error = &note
	}
	return a
}

// Close implements the Sink interface; it performs no action.
func (s *StoreSink) Close(context.Context) error {
	return nil
}
