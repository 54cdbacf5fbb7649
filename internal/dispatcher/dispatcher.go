// Package dispatcher runs one bounded capture pass: it fills a fresh queue,
// fans the jobs out to a pool of workers, and accounts for every job.
package dispatcher

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/shotbatch/internal/logging"
	"github.com/JakeFAU/shotbatch/internal/metrics"
	"github.com/JakeFAU/shotbatch/internal/progress"
	"github.com/JakeFAU/shotbatch/internal/queue/memory"
	"github.com/JakeFAU/shotbatch/internal/screenshot"
	"github.com/JakeFAU/shotbatch/internal/worker"
)

// Config sizes the worker pool.
type Config struct {
	Workers      int
	DrainTimeout time.Duration
}

// Dispatcher starts capture passes.
type Dispatcher struct {
	cfg    Config
	deps   worker.Deps
	logger *zap.Logger
}

// New creates a Dispatcher. deps.Queue is ignored; each pass gets its own.
func New(cfg Config, deps worker.Deps, logger *zap.Logger) (*Dispatcher, error) {
	if cfg.Workers <= 0 {
		return nil, fmt.Errorf("workers must be > 0, got %d", cfg.Workers)
	}
	if deps.Backend == nil {
		return nil, fmt.Errorf("backend is required")
	}
	if deps.Emitter == nil {
		deps.Emitter = progress.Nop{}
	}
	return &Dispatcher{
		cfg:    cfg,
		deps:   deps,
		logger: logging.OrNop(logger),
	}, nil
}

// Pass is one running batch of workers.
type Pass struct {
	number  int
	workers int
	outcome chan screenshot.Outcome
	alive   atomic.Int32
	done    chan struct{}
}

// Outcomes yields one outcome per job plus one synthetic outcome per worker
// whose browser failed to launch. It is closed after every worker exits.
func (p *Pass) Outcomes() <-chan screenshot.Outcome { return p.outcome }

// Alive reports workers that have not exited yet.
func (p *Pass) Alive() int { return int(p.alive.Load()) }

// Workers reports how many workers the pass spawned.
func (p *Pass) Workers() int { return p.workers }

// Number is the zero-based pass number.
func (p *Pass) Number() int { return p.number }

// Done is closed once the workers have exited and the queue is empty.
func (p *Pass) Done() <-chan struct{} { return p.done }

// Start enqueues jobs and spawns min(Workers, len(jobs)) workers. With no
// jobs it returns a pass that is already finished.
func (d *Dispatcher) Start(ctx context.Context, number int, jobs []screenshot.Job) (*Pass, error) {
	n := min(d.cfg.Workers, len(jobs))
	pass := &Pass{
		number:  number,
		workers: n,
		outcome: make(chan screenshot.Outcome, len(jobs)+n),
		done:    make(chan struct{}),
	}
	if n == 0 {
		close(pass.outcome)
		close(pass.done)
		return pass, nil
	}

	queue := memory.NewQueue(len(jobs))
	for _, job := range jobs {
		if err := queue.Enqueue(job); err != nil {
			return nil, fmt.Errorf("enqueue pass %d: %w", number, err)
		}
	}

	deps := d.deps
	deps.Queue = queue
	wcfg := worker.Config{DrainTimeout: d.cfg.DrainTimeout, Pass: number}

	d.logger.Info("pass started",
		zap.Int("pass", number),
		zap.Int("jobs", len(jobs)),
		zap.Int("workers", n),
	)

	var wg sync.WaitGroup
	pass.alive.Store(int32(n))
	for id := 1; id <= n; id++ {
		w := worker.New(id, deps, pass.outcome, wcfg, d.logger)
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer pass.alive.Add(-1)
			metrics.IncActiveWorkers()
			defer metrics.DecActiveWorkers()
			w.Run(ctx)
		}()
	}

	go func() {
		wg.Wait()
		d.sweep(ctx, pass, queue)
		queue.Close()
		close(pass.outcome)
		close(pass.done)
	}()
	return pass, nil
}

// sweep fails every job left in the queue once no worker can take it.
func (d *Dispatcher) sweep(ctx context.Context, pass *Pass, queue *memory.Queue) {
	orphans := queue.Drain()
	if len(orphans) == 0 {
		return
	}
	var err error = screenshot.ErrNoWorker
	if ctxErr := ctx.Err(); ctxErr != nil {
		err = fmt.Errorf("%w: %w", screenshot.ErrNoWorker, ctxErr)
	}
	d.logger.Warn("failing jobs no worker could take",
		zap.Int("pass", pass.number),
		zap.Int("orphaned", len(orphans)),
		logging.Err(err),
	)
	for _, job := range orphans {
		outcome := screenshot.Failed(job, err, 0, 0)
		pass.outcome <- outcome
		metrics.ObserveOutcome(string(outcome.Kind))
		d.deps.Emitter.Emit(progress.Event{
			Stage:   progress.StageCaptureError,
			Pass:    pass.number,
			Site:    progress.SiteOf(job.URL),
			URL:     job.URL,
			Attempt: job.Attempt,
			Kind:    string(outcome.Kind),
			Note:    outcome.ErrorText(),
		})
	}
}
