// Package worker runs one browser session against the shared job queue.
package worker

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/shotbatch/internal/clock/system"
	"github.com/JakeFAU/shotbatch/internal/logging"
	"github.com/JakeFAU/shotbatch/internal/metrics"
	"github.com/JakeFAU/shotbatch/internal/progress"
	"github.com/JakeFAU/shotbatch/internal/screenshot"
	"github.com/JakeFAU/shotbatch/internal/telemetry"
)

const defaultDrainTimeout = time.Second

// Config controls Worker behavior.
type Config struct {
	// DrainTimeout is how long the worker waits on an empty queue before it
	// decides the pass has drained and exits.
	DrainTimeout time.Duration
	// Pass is stamped on emitted progress events.
	Pass int
}

// Deps groups the collaborators shared by every worker of a pass.
type Deps struct {
	Backend screenshot.Backend
	Queue   screenshot.Queue
	Emitter progress.Emitter
	Hasher  screenshot.Hasher
	Clock   screenshot.Clock
}

// Worker owns one browser session and captures jobs sequentially.
type Worker struct {
	id     int
	deps   Deps
	out    chan<- screenshot.Outcome
	cfg    Config
	logger *zap.Logger
}

// New constructs a Worker. Outcomes are sent on out, which must have room for
// every job the worker can take plus one synthetic outcome.
func New(id int, deps Deps, out chan<- screenshot.Outcome, cfg Config, logger *zap.Logger) *Worker {
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = defaultDrainTimeout
	}
	if deps.Emitter == nil {
		deps.Emitter = progress.Nop{}
	}
	if deps.Clock == nil {
		deps.Clock = system.New()
	}
	return &Worker{
		id:     id,
		deps:   deps,
		out:    out,
		cfg:    cfg,
		logger: logging.OrNop(logger).Named("worker").With(zap.Int("worker", id)),
	}
}

// Run launches the session and consumes jobs until the queue drains, the
// queue closes, or ctx ends. A launch failure produces one synthetic outcome
// and ends the worker; job failures never do.
func (w *Worker) Run(ctx context.Context) {
	session, err := w.deps.Backend.Launch(ctx)
	if err != nil {
		w.logger.Error("browser launch failed", logging.Err(err))
		w.out <- screenshot.Outcome{
			Err:    err,
			Kind:   screenshot.KindBackendInit,
			Worker: w.id,
		}
		metrics.ObserveOutcome(string(screenshot.KindBackendInit))
		return
	}
	defer func() {
		if cerr := session.Close(); cerr != nil {
			w.logger.Warn("browser close failed", logging.Err(cerr))
		}
	}()
	w.logger.Debug("worker started")

	for ctx.Err() == nil {
		job, ok, err := w.deps.Queue.Dequeue(ctx, w.cfg.DrainTimeout)
		if err != nil {
			if ctx.Err() == nil {
				w.logger.Warn("queue dequeue failed", logging.Err(err))
			}
			return
		}
		if !ok {
			w.logger.Debug("queue drained, worker exiting")
			return
		}
		outcome := w.capture(ctx, session, job)
		w.out <- outcome
		w.emit(outcome)
	}
}

func (w *Worker) capture(ctx context.Context, session screenshot.Session, job screenshot.Job) screenshot.Outcome {
	ctx, span := telemetry.Tracer().Start(ctx, "capture", trace.WithAttributes(
		attribute.String("url.full", job.URL),
		attribute.Int("shotbatch.attempt", job.Attempt),
		attribute.Int("shotbatch.worker", w.id),
	))
	defer span.End()

	start := w.deps.Clock.Now()
	shot, err := session.Capture(ctx, job.URL)
	elapsed := w.deps.Clock.Now().Sub(start)
	if err != nil {
		outcome := screenshot.Failed(job, err, w.id, elapsed)
		span.RecordError(err)
		span.SetStatus(codes.Error, string(outcome.Kind))
		if outcome.StatusCode > 0 {
			span.SetAttributes(attribute.Int("http.response.status_code", outcome.StatusCode))
		}
		w.logger.Warn("capture failed",
			logging.URL(job.URL),
			zap.Int("attempt", job.Attempt),
			zap.String("kind", string(outcome.Kind)),
			logging.Err(err),
		)
		metrics.ObserveOutcome(string(outcome.Kind))
		return outcome
	}
	w.logger.Info("captured",
		logging.URL(job.URL),
		zap.Int("attempt", job.Attempt),
		zap.Int("bytes", len(shot.Image)),
		zap.Duration("dur", elapsed),
	)
	span.SetAttributes(
		attribute.Int("http.response.status_code", shot.StatusCode),
		attribute.Int("shotbatch.bytes", len(shot.Image)),
	)
	metrics.ObserveOutcome("")
	return screenshot.Succeeded(job, shot, w.id, elapsed)
}

func (w *Worker) emit(o screenshot.Outcome) {
	evt := progress.Event{
		Stage:      progress.StageCaptureDone,
		Pass:       w.cfg.Pass,
		Site:       progress.SiteOf(o.Job.URL),
		URL:        o.Job.URL,
		Attempt:    o.Job.Attempt,
		Worker:     o.Worker,
		StatusCode: o.StatusCode,
		Dur:        o.Duration,
	}
	if o.Succeeded || o.StatusCode > 0 {
		evt.StatusClass = progress.ClassifyStatus(o.StatusCode)
	}
	if o.Succeeded {
		evt.Bytes = int64(len(o.Image))
		if w.deps.Hasher != nil {
			digest, err := w.deps.Hasher.Hash(o.Image)
			if err != nil {
				w.logger.Debug("image hash failed", logging.Err(err))
			}
			evt.Digest = digest
		}
	} else {
		evt.Stage = progress.StageCaptureError
		evt.Kind = string(o.Kind)
		evt.Note = o.ErrorText()
	}
	w.deps.Emitter.Emit(evt)
}
