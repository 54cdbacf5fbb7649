package collector

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/shotbatch/internal/screenshot"
)

type fakeSource struct {
	ch    chan screenshot.Outcome
	alive atomic.Int32
}

func newFakeSource(alive int, outcomes ...screenshot.Outcome) *fakeSource {
	src := &fakeSource{ch: make(chan screenshot.Outcome, len(outcomes)+1)}
	src.alive.Store(int32(alive))
	for _, o := range outcomes {
		src.ch <- o
	}
	return src
}

func (f *fakeSource) Outcomes() <-chan screenshot.Outcome { return f.ch }
func (f *fakeSource) Alive() int                          { return int(f.alive.Load()) }

var errNav = errors.New("navigation failed: net::ERR_NAME_NOT_RESOLVED")

func ok(job screenshot.Job) screenshot.Outcome {
	return screenshot.Succeeded(job, screenshot.Capture{Image: []byte("png"), Title: "t"}, 1, time.Millisecond)
}

func fail(job screenshot.Job) screenshot.Outcome {
	return screenshot.Failed(job, errNav, 1, time.Millisecond)
}

func TestCollectRoutesOutcomes(t *testing.T) {
	t.Parallel()

	jobs := screenshot.NewJobs([]string{"https://a.example", "https://b.example", "https://c.example"})
	src := newFakeSource(1, ok(jobs[0]), fail(jobs[1]), fail(jobs[2]))
	c := New(Config{RetryLimit: 1, StaleTimeout: time.Second}, len(jobs), nil)

	retry := c.Collect(context.Background(), src, jobs, false)
	require.Equal(t, []screenshot.Job{jobs[1].Next(), jobs[2].Next()}, retry)

	rs := c.Results()
	require.Len(t, rs.Successes, 1)
	require.Equal(t, "https://a.example", rs.Successes[0].URL)
	require.Empty(t, rs.Failures)
	require.Equal(t, 1, c.Attempts(1))

	snap := c.Snapshot()
	require.Equal(t, Snapshot{Total: 3, Completed: 3, Successes: 1, Retrying: 2, RetriesRun: 2}, snap)
}

func TestCollectFinalPassIsTerminal(t *testing.T) {
	t.Parallel()

	jobs := screenshot.NewJobs([]string{"https://a.example", "https://b.example"})
	src := newFakeSource(1, fail(jobs[0]), ok(jobs[1]))
	c := New(Config{RetryLimit: 3, StaleTimeout: time.Second}, len(jobs), nil)

	retry := c.Collect(context.Background(), src, jobs, true)
	require.Empty(t, retry)
	rs := c.Results()
	require.Equal(t, []string{"https://a.example"}, rs.Failures)
	require.Len(t, rs.Successes, 1)
}

func TestLedgerCapsRetriesAcrossPasses(t *testing.T) {
	t.Parallel()

	jobs := screenshot.NewJobs([]string{"https://down.example"})
	c := New(Config{RetryLimit: 2, StaleTimeout: time.Second}, 1, nil)

	passes := 0
	for len(jobs) > 0 {
		passes++
		require.LessOrEqual(t, passes, 10, "ledger never exhausted")
		jobs = c.Collect(context.Background(), newFakeSource(1, fail(jobs[0])), jobs, false)
	}
	require.Equal(t, 3, passes, "initial attempt plus exactly two retries")
	require.Equal(t, 2, c.Attempts(0))
	require.Equal(t, []string{"https://down.example"}, c.Results().Failures)
}

func TestDuplicateURLsKeepSeparateBudgets(t *testing.T) {
	t.Parallel()

	jobs := screenshot.NewJobs([]string{"https://same.example", "https://same.example"})
	c := New(Config{RetryLimit: 1, StaleTimeout: time.Second}, 2, nil)

	retry := c.Collect(context.Background(), newFakeSource(1, fail(jobs[0]), fail(jobs[1])), jobs, false)
	require.Len(t, retry, 2)
	require.Equal(t, 1, c.Attempts(0))
	require.Equal(t, 1, c.Attempts(1))
}

func TestSyntheticOutcomesAreNotCounted(t *testing.T) {
	t.Parallel()

	jobs := screenshot.NewJobs([]string{"https://a.example"})
	synthetic := screenshot.Outcome{Err: screenshot.ErrBackendInit, Kind: screenshot.KindBackendInit, Worker: 2}
	src := newFakeSource(1, synthetic, ok(jobs[0]))
	c := New(Config{StaleTimeout: time.Second}, 1, nil)

	require.Empty(t, c.Collect(context.Background(), src, jobs, false))
	require.Equal(t, 1, c.Snapshot().Completed)
	require.Len(t, c.Results().Successes, 1)
}

func TestClosedChannelRecordsShortfall(t *testing.T) {
	t.Parallel()

	jobs := screenshot.NewJobs([]string{"https://a.example", "https://b.example", "https://c.example"})
	src := newFakeSource(0, ok(jobs[1]))
	close(src.ch)
	c := New(Config{StaleTimeout: time.Second}, 3, nil)

	require.Empty(t, c.Collect(context.Background(), src, jobs, false))
	rs := c.Results()
	require.Len(t, rs.Successes, 1)
	require.Equal(t, []string{"https://a.example", "https://c.example"}, rs.Failures)
	require.Equal(t, 3, rs.Total())
}

func TestStaleTimeoutWaitsForLiveWorkers(t *testing.T) {
	t.Parallel()

	jobs := screenshot.NewJobs([]string{"https://slow.example"})
	src := newFakeSource(1)
	c := New(Config{StaleTimeout: 10 * time.Millisecond}, 1, nil)

	go func() {
		time.Sleep(50 * time.Millisecond)
		src.ch <- ok(jobs[0])
	}()
	require.Empty(t, c.Collect(context.Background(), src, jobs, false))
	require.Len(t, c.Results().Successes, 1)
	require.Empty(t, c.Results().Failures)
}

func TestStaleTimeoutWithNoWorkersEndsPass(t *testing.T) {
	t.Parallel()

	jobs := screenshot.NewJobs([]string{"https://lost.example"})
	src := newFakeSource(0)
	c := New(Config{StaleTimeout: 10 * time.Millisecond}, 1, nil)

	start := time.Now()
	require.Empty(t, c.Collect(context.Background(), src, jobs, false))
	require.Less(t, time.Since(start), time.Second)
	require.Equal(t, []string{"https://lost.example"}, c.Results().Failures)
}

func TestCanceledContextSuppressesRetries(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	jobs := screenshot.NewJobs([]string{"https://a.example"})
	c := New(Config{RetryLimit: 3, StaleTimeout: time.Second}, 1, nil)

	require.Empty(t, c.Collect(ctx, newFakeSource(1, fail(jobs[0])), jobs, false))
	require.Equal(t, []string{"https://a.example"}, c.Results().Failures)
}

func TestAbandon(t *testing.T) {
	t.Parallel()

	c := New(Config{}, 2, nil)
	c.Abandon(nil)
	c.Abandon(screenshot.NewJobs([]string{"https://a.example", "https://b.example"}))
	require.Equal(t, []string{"https://a.example", "https://b.example"}, c.Results().Failures)
	require.Equal(t, 2, c.Snapshot().Failures)
	require.Zero(t, c.Snapshot().Retrying)
}
