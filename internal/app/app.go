// Package app builds the long-lived services of a batch run from config and
// drives one run end to end: capture, report, notification, metrics flush.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	gpubsub "cloud.google.com/go/pubsub"

	"github.com/JakeFAU/shotbatch/internal/api"
	"github.com/JakeFAU/shotbatch/internal/backend/headless"
	"github.com/JakeFAU/shotbatch/internal/clock/system"
	"github.com/JakeFAU/shotbatch/internal/config"
	"github.com/JakeFAU/shotbatch/internal/dispatcher"
	"github.com/JakeFAU/shotbatch/internal/hash/sha256"
	idgen "github.com/JakeFAU/shotbatch/internal/id/uuid"
	"github.com/JakeFAU/shotbatch/internal/logging"
	"github.com/JakeFAU/shotbatch/internal/metrics"
	"github.com/JakeFAU/shotbatch/internal/progress"
	"github.com/JakeFAU/shotbatch/internal/progress/sinks"
	pubsubpublisher "github.com/JakeFAU/shotbatch/internal/publisher/pubsub"
	"github.com/JakeFAU/shotbatch/internal/report"
	"github.com/JakeFAU/shotbatch/internal/runner"
	"github.com/JakeFAU/shotbatch/internal/screenshot"
	"github.com/JakeFAU/shotbatch/internal/storage"
	"github.com/JakeFAU/shotbatch/internal/storage/postgres"
	"github.com/JakeFAU/shotbatch/internal/store"
	"github.com/JakeFAU/shotbatch/internal/telemetry"
	"github.com/JakeFAU/shotbatch/internal/worker"
)

const (
	serviceName     = "shotbatch"
	finalizeTimeout = 30 * time.Second
	hubCloseTimeout = 10 * time.Second
)

// Clock is the time source and cooldown sleeper.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

// Summary is the run notification published when a topic is configured.
type Summary struct {
	RunID      string   `json:"run_id"`
	StartedAt  string   `json:"started_at"`
	Total      int      `json:"total"`
	Successes  int      `json:"successes"`
	Failures   int      `json:"failures"`
	FailedURLs []string `json:"failed_urls,omitempty"`
	DurationS  float64  `json:"duration_seconds"`
	Report     string   `json:"report,omitempty"`
	Canceled   bool     `json:"canceled"`
}

type options struct {
	backend        screenshot.Backend
	publisher      screenshot.Publisher
	attempts       store.AttemptRepository
	clock          Clock
	registerer     prometheus.Registerer
	storageOptions []option.ClientOption
	pubsubOptions  []option.ClientOption
}

// Option overrides a service New would otherwise build from config.
type Option func(*options)

// WithBackend replaces the chromedp backend.
func WithBackend(b screenshot.Backend) Option { return func(o *options) { o.backend = b } }

// WithPublisher replaces the Pub/Sub publisher.
func WithPublisher(p screenshot.Publisher) Option { return func(o *options) { o.publisher = p } }

// WithAttemptRepository replaces the Postgres attempt store.
func WithAttemptRepository(r store.AttemptRepository) Option {
	return func(o *options) { o.attempts = r }
}

// WithClock replaces the system clock.
func WithClock(c Clock) Option { return func(o *options) { o.clock = c } }

// WithRegisterer registers the progress collectors somewhere other than the
// default registry.
func WithRegisterer(r prometheus.Registerer) Option { return func(o *options) { o.registerer = r } }

// WithStorageOptions passes client options to Cloud Storage.
func WithStorageOptions(opts ...option.ClientOption) Option {
	return func(o *options) { o.storageOptions = opts }
}

// WithPubSubOptions passes client options to Pub/Sub.
func WithPubSubOptions(opts ...option.ClientOption) Option {
	return func(o *options) { o.pubsubOptions = opts }
}

// App holds the services of one batch run.
type App struct {
	cfg       config.Config
	logger    *zap.Logger
	runID     uuid.UUID
	clock     Clock
	hub       *progress.Hub
	runner    *runner.Runner
	server    *api.Server
	publisher screenshot.Publisher
	storage   []option.ClientOption
	closers   []func()
}

// New builds every service the configuration enables. It fails fast when a
// configured dependency cannot be reached.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	logger = logging.OrNop(logger)
	if o.clock == nil {
		o.clock = system.New()
	}

	runID, err := idgen.New().NewRunID()
	if err != nil {
		return nil, err
	}
	a := &App{
		cfg:     cfg,
		logger:  logger.With(zap.String("run_id", runID.String())),
		runID:   runID,
		clock:   o.clock,
		storage: o.storageOptions,
	}
	if err := a.init(ctx, o); err != nil {
		a.Close(ctx)
		return nil, err
	}
	return a, nil
}

func (a *App) init(ctx context.Context, o options) error {
	cfg := a.cfg
	metrics.Init()

	tp, err := telemetry.InitTracerProvider(ctx, serviceName)
	if err != nil {
		return fmt.Errorf("tracing: %w", err)
	}
	a.closers = append(a.closers, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), hubCloseTimeout)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			a.logger.Warn("tracer shutdown failed", logging.Err(err))
		}
	})

	promSink, err := sinks.NewPrometheusSink(o.registerer)
	if err != nil {
		return fmt.Errorf("progress metrics: %w", err)
	}
	progressSinks := []progress.Sink{sinks.NewLogSink(a.logger), promSink}

	attempts := o.attempts
	if attempts == nil && cfg.DB.DSN != "" {
		pg, err := postgres.NewAttemptStore(ctx, postgres.Config{DSN: cfg.DB.DSN, Table: cfg.DB.Table})
		if err != nil {
			return fmt.Errorf("attempt store: %w", err)
		}
		a.closers = append(a.closers, pg.Close)
		attempts = pg
		a.logger.Info("persisting capture attempts", zap.String("table", cfg.DB.Table))
	}
	if attempts != nil {
		progressSinks = append(progressSinks, sinks.NewStoreSink(attempts, a.logger))
	}

	a.hub = progress.NewHub(progress.Config{Logger: a.logger}, progressSinks...)
	emitter := progress.Stamp{Next: a.hub, RunID: progress.UUIDToBytes(a.runID), Now: a.clock.Now}

	backend := o.backend
	if backend == nil {
		backend, err = headless.New(headless.Config{
			Headless:        cfg.Capture.Headless,
			ViewportWidth:   cfg.Capture.ViewportWidth,
			ViewportHeight:  cfg.Capture.ViewportHeight,
			Timeout:         cfg.CaptureTimeout(),
			Proxy:           cfg.Capture.Proxy,
			UserAgent:       cfg.Capture.UserAgent,
			SettleDelay:     cfg.SettleDelay(),
			IgnoreTLSErrors: cfg.Capture.IgnoreTLSErrors,
			BrowserArgs:     cfg.Capture.BrowserArgs,
			ExecPath:        cfg.Capture.ExecPath,
			DomainQPS:       cfg.Capture.DomainQPS,
		}, a.logger)
		if err != nil {
			return fmt.Errorf("capture backend: %w", err)
		}
	}

	d, err := dispatcher.New(
		dispatcher.Config{Workers: cfg.Capture.Workers, DrainTimeout: cfg.DrainTimeout()},
		worker.Deps{Backend: backend, Emitter: emitter, Hasher: sha256.New(), Clock: a.clock},
		a.logger,
	)
	if err != nil {
		return fmt.Errorf("dispatcher: %w", err)
	}
	a.runner, err = runner.New(runner.Config{
		RetryAttempts: cfg.Retry.Attempts,
		Cooldown:      cfg.RetryCooldown(),
		StaleTimeout:  cfg.StaleTimeout(),
		SinglePass:    cfg.Retry.SinglePass,
	}, d, a.clock, emitter, a.logger)
	if err != nil {
		return fmt.Errorf("runner: %w", err)
	}

	a.publisher = o.publisher
	if a.publisher == nil && cfg.PubSub.Topic != "" {
		client, err := gpubsub.NewClient(ctx, cfg.PubSub.ProjectID, o.pubsubOptions...)
		if err != nil {
			return fmt.Errorf("pubsub client: %w", err)
		}
		pub := pubsubpublisher.New(client)
		a.closers = append(a.closers, func() {
			pub.Close()
			if err := client.Close(); err != nil {
				a.logger.Warn("pubsub client close failed", logging.Err(err))
			}
		})
		a.publisher = pub
	}

	a.server = api.NewServer(a.runner, a.runID.String(), a.logger)
	return nil
}

// RunID identifies this run in events, rows, and notifications.
func (a *App) RunID() uuid.UUID { return a.runID }

// Handler exposes the ops routes, mainly for tests.
func (a *App) Handler() http.Handler { return a.server.Handler() }

// Run captures urls and finalizes the run. The report, notification, and
// metrics flush happen even when ctx is canceled mid-run, so a partial batch
// still yields its report. Only a report failure is returned as an error.
func (a *App) Run(ctx context.Context, urls []string) (Summary, error) {
	a.logStartup(len(urls))

	if addr := a.cfg.Server.Addr; addr != "" {
		srvCtx, stopServer := context.WithCancel(ctx)
		srvDone := make(chan struct{})
		go func() {
			defer close(srvDone)
			if err := a.server.Serve(srvCtx, addr); err != nil {
				a.logger.Error("ops server failed", logging.Err(err))
			}
		}()
		defer func() {
			stopServer()
			<-srvDone
		}()
		a.server.SetReady(true)
	}

	started := a.clock.Now()
	rs, runErr := a.runner.Run(ctx, urls)
	if runErr != nil {
		a.logger.Error("batch run aborted", logging.Err(runErr))
	}
	elapsed := a.clock.Now().Sub(started)

	finalCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer cancel()

	summary := Summary{
		RunID:      a.runID.String(),
		StartedAt:  started.UTC().Format(time.RFC3339),
		Total:      rs.Total(),
		Successes:  len(rs.Successes),
		Failures:   len(rs.Failures),
		FailedURLs: rs.Failures,
		DurationS:  elapsed.Seconds(),
		Canceled:   ctx.Err() != nil,
	}

	loc, reportErr := a.writeReport(finalCtx, rs, elapsed)
	if reportErr == nil {
		summary.Report = loc
		a.logger.Info("report written", zap.String("location", loc))
	}

	a.publish(finalCtx, summary)
	a.flushMetrics()

	if reportErr != nil {
		return summary, reportErr
	}
	return summary, nil
}

func (a *App) writeReport(ctx context.Context, rs screenshot.ResultSet, elapsed time.Duration) (string, error) {
	target, err := storage.Open(ctx, a.cfg.Output.Path, a.reportAttributes(rs), a.storage...)
	if err != nil {
		return "", fmt.Errorf("open report output: %w", err)
	}
	defer func() {
		if err := target.Close(); err != nil {
			a.logger.Warn("report storage close failed", logging.Err(err))
		}
	}()
	meta := report.Metadata{
		GeneratedAt:   a.clock.Now(),
		RetryAttempts: a.cfg.Retry.Attempts,
		RetryCooldown: a.cfg.RetryCooldown(),
		Workers:       a.cfg.Capture.Workers,
		Headless:      a.cfg.Capture.Headless,
		Duration:      elapsed,
	}
	return report.Write(ctx, target.Store, target.Object, rs, meta)
}

// reportAttributes labels the stored report object with its run.
func (a *App) reportAttributes(rs screenshot.ResultSet) map[string]string {
	return map[string]string{
		"run_id":         a.runID.String(),
		"successes":      strconv.Itoa(len(rs.Successes)),
		"failures":       strconv.Itoa(len(rs.Failures)),
		"retry_attempts": strconv.Itoa(a.cfg.Retry.Attempts),
	}
}

func (a *App) publish(ctx context.Context, summary Summary) {
	if a.publisher == nil || a.cfg.PubSub.Topic == "" {
		return
	}
	id, err := a.publisher.Publish(ctx, a.cfg.PubSub.Topic, summary)
	if err != nil {
		a.logger.Warn("run summary publish failed", zap.String("topic", a.cfg.PubSub.Topic), logging.Err(err))
		return
	}
	a.logger.Info("run summary published", zap.String("topic", a.cfg.PubSub.Topic), zap.String("message_id", id))
}

func (a *App) flushMetrics() {
	path := a.cfg.Metrics.Textfile
	if path == "" {
		return
	}
	if err := metrics.WriteTextfile(path); err != nil {
		a.logger.Warn("metrics flush failed", zap.String("path", path), logging.Err(err))
	}
}

func (a *App) logStartup(urls int) {
	proxy := a.cfg.Capture.Proxy
	if proxy == "" {
		proxy = "none"
	}
	a.logger.Info("starting batch",
		zap.Int("urls", urls),
		zap.Int("workers", a.cfg.Capture.Workers),
		zap.Bool("headless", a.cfg.Capture.Headless),
		zap.String("proxy", proxy),
		zap.Int("retry_attempts", a.cfg.Retry.Attempts),
		zap.Duration("retry_cooldown", a.cfg.RetryCooldown()),
		zap.Bool("retry_single_pass", a.cfg.Retry.SinglePass),
		zap.Duration("timeout", a.cfg.CaptureTimeout()),
		zap.String("output", a.cfg.Output.Path),
	)
}

// Close drains the progress hub and releases clients.
func (a *App) Close(ctx context.Context) {
	if a.hub != nil {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), hubCloseTimeout)
		defer cancel()
		if err := a.hub.Close(closeCtx); err != nil && !errors.Is(err, context.Canceled) {
			a.logger.Warn("progress hub close failed", logging.Err(err))
		}
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
