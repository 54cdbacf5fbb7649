// Package collector turns a pass's outcomes into terminal dispositions and
// retry candidates. It owns the retry ledger for the whole run.
package collector

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/shotbatch/internal/logging"
	"github.com/JakeFAU/shotbatch/internal/screenshot"
)

const defaultStaleTimeout = 30 * time.Second

// Config holds the retry budget and staleness detection window.
type Config struct {
	// RetryLimit is the number of additional attempts each URL may receive.
	RetryLimit int
	// StaleTimeout is how long Collect waits for an outcome before checking
	// whether any worker is still alive.
	StaleTimeout time.Duration
}

// Source is the collector's view of a running pass.
type Source interface {
	Outcomes() <-chan screenshot.Outcome
	Alive() int
}

// Snapshot is a point-in-time view of run accounting.
type Snapshot struct {
	Total      int `json:"total"`
	Completed  int `json:"completed"`
	Successes  int `json:"successes"`
	Failures   int `json:"failures"`
	Retrying   int `json:"retrying"`
	RetriesRun int `json:"retries_run"`
}

// Collector accumulates the ResultSet of one run. Collect and Abandon must be
// called from a single goroutine; Snapshot is safe from any goroutine.
type Collector struct {
	cfg    Config
	logger *zap.Logger

	ledger map[int]int

	mu      sync.Mutex
	results screenshot.ResultSet

	total      int
	completed  atomic.Int64
	successes  atomic.Int64
	failures   atomic.Int64
	retrying   atomic.Int64
	retriesRun atomic.Int64
}

// New creates a Collector for a run over total URLs.
func New(cfg Config, total int, logger *zap.Logger) *Collector {
	if cfg.StaleTimeout <= 0 {
		cfg.StaleTimeout = defaultStaleTimeout
	}
	if cfg.RetryLimit < 0 {
		cfg.RetryLimit = 0
	}
	return &Collector{
		cfg:    cfg,
		logger: logging.OrNop(logger).Named("collector"),
		ledger: make(map[int]int),
		total:  total,
	}
}

// Collect reads src until every job of the pass has an outcome, the outcome
// channel closes, or the stale timeout fires with no live workers. Failures
// with budget left are returned as retry jobs unless final is set or ctx is
// done; everything else becomes terminal.
func (c *Collector) Collect(ctx context.Context, src Source, jobs []screenshot.Job, final bool) []screenshot.Job {
	pending := make(map[int]screenshot.Job, len(jobs))
	for _, job := range jobs {
		pending[job.Index] = job
	}
	c.retrying.Store(0)

	var retry []screenshot.Job
	timer := time.NewTimer(c.cfg.StaleTimeout)
	defer timer.Stop()

	for len(pending) > 0 {
		select {
		case o, ok := <-src.Outcomes():
			if !ok {
				c.recordShortfall(pending, "outcome channel closed")
				return retry
			}
			resetTimer(timer, c.cfg.StaleTimeout)
			if o.Synthetic() {
				c.logger.Warn("worker lost before taking jobs",
					zap.Int("worker", o.Worker),
					zap.String("kind", string(o.Kind)),
					logging.Err(o.Err),
				)
				continue
			}
			if _, ok := pending[o.Job.Index]; !ok {
				c.logger.Warn("dropping outcome for a job not in this pass", logging.URL(o.Job.URL))
				continue
			}
			delete(pending, o.Job.Index)
			if next, again := c.route(o, final || ctx.Err() != nil); again {
				retry = append(retry, next)
			}
		case <-timer.C:
			if src.Alive() > 0 {
				c.logger.Debug("no outcome within stale timeout, workers still alive",
					zap.Int("pending", len(pending)),
					zap.Int("alive", src.Alive()),
				)
				timer.Reset(c.cfg.StaleTimeout)
				continue
			}
			c.recordShortfall(pending, "no live workers")
			return retry
		}
	}
	return retry
}

func (c *Collector) route(o screenshot.Outcome, final bool) (screenshot.Job, bool) {
	c.completed.Add(1)
	if o.Succeeded {
		c.appendSuccess(screenshot.Success{URL: o.Job.URL, Image: o.Image, Title: o.Title})
		c.logProgress(o)
		return screenshot.Job{}, false
	}
	used := c.ledger[o.Job.Index]
	if !final && used < c.cfg.RetryLimit {
		c.ledger[o.Job.Index] = used + 1
		c.retrying.Add(1)
		c.retriesRun.Add(1)
		c.logger.Info("scheduled for retry",
			logging.URL(o.Job.URL),
			zap.Int("attempt", used+1),
			zap.Int("limit", c.cfg.RetryLimit),
			logging.Err(o.Err),
		)
		return o.Job.Next(), true
	}
	c.appendFailure(o.Job.URL)
	c.logProgress(o)
	return screenshot.Job{}, false
}

func (c *Collector) recordShortfall(pending map[int]screenshot.Job, reason string) {
	if len(pending) == 0 {
		return
	}
	indexes := make([]int, 0, len(pending))
	for idx := range pending {
		indexes = append(indexes, idx)
	}
	slices.Sort(indexes)
	c.logger.Warn("pass ended before every job reported",
		zap.String("reason", reason),
		zap.Int("missing", len(pending)),
	)
	for _, idx := range indexes {
		c.completed.Add(1)
		c.appendFailure(pending[idx].URL)
	}
}

// Abandon marks jobs as permanently failed, for retry candidates that will
// never run because the run was canceled.
func (c *Collector) Abandon(jobs []screenshot.Job) {
	if len(jobs) == 0 {
		return
	}
	c.logger.Warn("abandoning retry candidates", zap.Int("jobs", len(jobs)))
	for _, job := range jobs {
		c.appendFailure(job.URL)
	}
	c.retrying.Store(0)
}

// Results returns a copy of the accumulated ResultSet.
func (c *Collector) Results() screenshot.ResultSet {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.results.Clone()
}

// Snapshot reports live counters.
func (c *Collector) Snapshot() Snapshot {
	return Snapshot{
		Total:      c.total,
		Completed:  int(c.completed.Load()),
		Successes:  int(c.successes.Load()),
		Failures:   int(c.failures.Load()),
		Retrying:   int(c.retrying.Load()),
		RetriesRun: int(c.retriesRun.Load()),
	}
}

// Attempts reports retries consumed by the job at index.
func (c *Collector) Attempts(index int) int {
	return c.ledger[index]
}

func (c *Collector) appendSuccess(s screenshot.Success) {
	c.mu.Lock()
	c.results.Successes = append(c.results.Successes, s)
	c.mu.Unlock()
	c.successes.Add(1)
}

func (c *Collector) appendFailure(url string) {
	c.mu.Lock()
	c.results.Failures = append(c.results.Failures, url)
	c.mu.Unlock()
	c.failures.Add(1)
}

func (c *Collector) logProgress(o screenshot.Outcome) {
	done := c.successes.Load() + c.failures.Load()
	fields := []zap.Field{
		zap.Int64("done", done),
		zap.Int("total", c.total),
		zap.Int64("successes", c.successes.Load()),
		zap.Int64("failures", c.failures.Load()),
		logging.URL(o.Job.URL),
	}
	if o.Succeeded {
		c.logger.Info("capture succeeded", fields...)
		return
	}
	c.logger.Warn("capture failed permanently", append(fields, logging.Err(o.Err))...)
}

func resetTimer(timer *time.Timer, d time.Duration) {
	if !timer.Stop() {
		select {
		case <-timer.C:
		default:
		}
	}
	timer.Reset(d)
}
