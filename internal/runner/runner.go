// Package runner coordinates a batch run: the initial pass, the cooldown, and
// the retry passes that follow.
package runner

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/shotbatch/internal/collector"
	"github.com/JakeFAU/shotbatch/internal/dispatcher"
	"github.com/JakeFAU/shotbatch/internal/logging"
	"github.com/JakeFAU/shotbatch/internal/metrics"
	"github.com/JakeFAU/shotbatch/internal/progress"
	"github.com/JakeFAU/shotbatch/internal/screenshot"
	"github.com/JakeFAU/shotbatch/internal/telemetry"
)

// Config sets the retry policy.
type Config struct {
	RetryAttempts int
	Cooldown      time.Duration
	StaleTimeout  time.Duration
	// SinglePass limits the run to one retry pass whose outcomes are all
	// terminal.
	SinglePass bool
}

// Starter launches a capture pass. *dispatcher.Dispatcher satisfies it.
type Starter interface {
	Start(ctx context.Context, number int, jobs []screenshot.Job) (*dispatcher.Pass, error)
}

// Clock is the time source and cooldown sleeper.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

// Status is the live view of a run served by the ops API.
type Status struct {
	Running bool               `json:"running"`
	Pass    int                `json:"pass"`
	Counts  collector.Snapshot `json:"counts"`
}

// Runner executes batch runs. A Runner runs one batch at a time.
type Runner struct {
	cfg     Config
	starter Starter
	clock   Clock
	emitter progress.Emitter
	logger  *zap.Logger

	running   atomic.Bool
	pass      atomic.Int32
	collector atomic.Pointer[collector.Collector]
}

// New creates a Runner.
func New(cfg Config, starter Starter, clock Clock, emitter progress.Emitter, logger *zap.Logger) (*Runner, error) {
	if starter == nil {
		return nil, errors.New("starter is required")
	}
	if clock == nil {
		return nil, errors.New("clock is required")
	}
	if cfg.RetryAttempts < 0 {
		return nil, fmt.Errorf("retry attempts must be >= 0, got %d", cfg.RetryAttempts)
	}
	if emitter == nil {
		emitter = progress.Nop{}
	}
	return &Runner{
		cfg:     cfg,
		starter: starter,
		clock:   clock,
		emitter: emitter,
		logger:  logging.OrNop(logger).Named("runner"),
	}, nil
}

// Run captures urls and returns their ResultSet. Every URL ends up in
// exactly one of Successes or Failures. Cancellation stops new passes and
// fails outstanding work; the partial ResultSet is still returned.
func (r *Runner) Run(ctx context.Context, urls []string) (screenshot.ResultSet, error) {
	if !r.running.CompareAndSwap(false, true) {
		return screenshot.ResultSet{}, errors.New("a run is already in progress")
	}
	defer r.running.Store(false)

	col := collector.New(collector.Config{
		RetryLimit:   r.cfg.RetryAttempts,
		StaleTimeout: r.cfg.StaleTimeout,
	}, len(urls), r.logger)
	r.collector.Store(col)
	r.pass.Store(0)

	started := r.clock.Now()
	r.emitter.Emit(progress.Event{Stage: progress.StageRunStart, Note: fmt.Sprintf("%d urls", len(urls))})

	jobs := screenshot.NewJobs(urls)
	for number := 0; len(jobs) > 0; number++ {
		r.pass.Store(int32(number))
		final := r.cfg.SinglePass && number > 0

		next, err := r.runPass(ctx, col, number, jobs, final)
		if err != nil {
			col.Abandon(jobs)
			r.finish(ctx, col, started, len(urls))
			return col.Results(), err
		}
		jobs = next
		if len(jobs) == 0 {
			break
		}
		metrics.ObserveRetries(len(jobs))
		if ctx.Err() != nil {
			col.Abandon(jobs)
			break
		}
		r.logger.Info("retrying failed urls after cooldown",
			zap.Int("urls", len(jobs)),
			zap.Duration("cooldown", r.cfg.Cooldown),
			zap.Int("next_pass", number+1),
		)
		if err := r.clock.Sleep(ctx, r.cfg.Cooldown); err != nil {
			r.logger.Warn("cooldown interrupted", logging.Err(err))
			col.Abandon(jobs)
			break
		}
	}

	r.finish(ctx, col, started, len(urls))
	return col.Results(), nil
}

func (r *Runner) runPass(
	ctx context.Context,
	col *collector.Collector,
	number int,
	jobs []screenshot.Job,
	final bool,
) ([]screenshot.Job, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "pass", trace.WithAttributes(
		attribute.Int("shotbatch.pass", number),
		attribute.Int("shotbatch.jobs", len(jobs)),
	))
	defer span.End()

	start := r.clock.Now()
	r.emitter.Emit(progress.Event{Stage: progress.StagePassStart, Pass: number})

	pass, err := r.starter.Start(ctx, number, jobs)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("start pass %d: %w", number, err)
	}
	retry := col.Collect(ctx, pass, jobs, final)
	<-pass.Done()

	elapsed := r.clock.Now().Sub(start)
	metrics.ObservePass(number, elapsed)
	span.SetAttributes(attribute.Int("shotbatch.retry_candidates", len(retry)))
	snap := col.Snapshot()
	r.emitter.Emit(progress.Event{
		Stage:     progress.StagePassDone,
		Pass:      number,
		Dur:       elapsed,
		Successes: snap.Successes,
		Failures:  snap.Failures,
		Note:      fmt.Sprintf("%d retry candidates", len(retry)),
	})
	r.logger.Info("pass finished",
		zap.Int("pass", number),
		zap.Int("jobs", len(jobs)),
		zap.Int("retry_candidates", len(retry)),
		zap.Duration("dur", elapsed),
	)
	return retry, nil
}

func (r *Runner) finish(ctx context.Context, col *collector.Collector, started time.Time, total int) {
	elapsed := r.clock.Now().Sub(started)
	snap := col.Snapshot()
	evt := progress.Event{
		Stage:     progress.StageRunDone,
		Pass:      int(r.pass.Load()),
		Dur:       elapsed,
		Successes: snap.Successes,
		Failures:  snap.Failures,
	}
	if ctx.Err() != nil {
		evt.Kind = string(screenshot.KindCanceled)
	}
	r.emitter.Emit(evt)

	avg := 0.0
	if total > 0 {
		avg = elapsed.Seconds() / float64(total)
	}
	r.logger.Info("run finished",
		zap.Int("urls", total),
		zap.Int("successes", snap.Successes),
		zap.Int("failures", snap.Failures),
		zap.Int("passes", int(r.pass.Load())+1),
		zap.Duration("dur", elapsed),
		zap.Float64("avg_seconds_per_url", avg),
		zap.Bool("canceled", ctx.Err() != nil),
	)
}

// Status reports the current or last run.
func (r *Runner) Status() Status {
	st := Status{
		Running: r.running.Load(),
		Pass:    int(r.pass.Load()),
	}
	if col := r.collector.Load(); col != nil {
		st.Counts = col.Snapshot()
	}
	return st
}
