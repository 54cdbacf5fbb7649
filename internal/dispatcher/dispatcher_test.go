package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/shotbatch/internal/progress"
	"github.com/JakeFAU/shotbatch/internal/screenshot"
	"github.com/JakeFAU/shotbatch/internal/screenshot/screenshottest"
	"github.com/JakeFAU/shotbatch/internal/worker"
)

func collect(t *testing.T, pass *Pass) []screenshot.Outcome {
	t.Helper()
	var outcomes []screenshot.Outcome
	timeout := time.After(5 * time.Second)
	for {
		select {
		case o, ok := <-pass.Outcomes():
			if !ok {
				return outcomes
			}
			outcomes = append(outcomes, o)
		case <-timeout:
			t.Fatal("pass never closed its outcome channel")
		}
	}
}

func urls(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("https://site%d.example", i)
	}
	return out
}

func TestNewValidation(t *testing.T) {
	t.Parallel()

	_, err := New(Config{Workers: 0}, worker.Deps{Backend: screenshottest.NewBackend(nil)}, nil)
	require.ErrorContains(t, err, "workers")
	_, err = New(Config{Workers: 1}, worker.Deps{}, nil)
	require.ErrorContains(t, err, "backend")
}

func TestStartSpawnsMinOfWorkersAndJobs(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name    string
		workers int
		jobs    int
		want    int
	}{
		{"one url five workers", 5, 1, 1},
		{"more urls than workers", 2, 7, 2},
		{"no urls", 3, 0, 0},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			backend := screenshottest.NewBackend(nil)
			d, err := New(Config{Workers: tc.workers, DrainTimeout: 20 * time.Millisecond},
				worker.Deps{Backend: backend}, zap.NewNop())
			require.NoError(t, err)

			pass, err := d.Start(context.Background(), 0, screenshot.NewJobs(urls(tc.jobs)))
			require.NoError(t, err)
			require.Equal(t, tc.want, pass.Workers())

			outcomes := collect(t, pass)
			require.Len(t, outcomes, tc.jobs)
			<-pass.Done()
			require.Equal(t, tc.want, backend.Launches())
			require.Zero(t, pass.Alive())
			require.Zero(t, backend.Open())
		})
	}
}

func TestEveryJobGetsExactlyOneOutcome(t *testing.T) {
	t.Parallel()

	targets := urls(25)
	backend := screenshottest.NewBackend(screenshottest.FailURLs(targets[3], targets[17]))
	d, err := New(Config{Workers: 4, DrainTimeout: 20 * time.Millisecond}, worker.Deps{Backend: backend}, nil)
	require.NoError(t, err)

	pass, err := d.Start(context.Background(), 0, screenshot.NewJobs(targets))
	require.NoError(t, err)

	seen := make(map[int]int)
	failed := 0
	for _, o := range collect(t, pass) {
		seen[o.Job.Index]++
		if !o.Succeeded {
			failed++
		}
	}
	require.Len(t, seen, len(targets))
	for idx, count := range seen {
		require.Equal(t, 1, count, "job %d", idx)
	}
	require.Equal(t, 2, failed)
}

func TestLaunchFailuresOrphanJobs(t *testing.T) {
	t.Parallel()

	backend := screenshottest.NewBackend(nil)
	backend.LaunchErr = errors.New("chrome not found")
	emitter := &screenshottest.Emitter{}
	d, err := New(Config{Workers: 2, DrainTimeout: 20 * time.Millisecond},
		worker.Deps{Backend: backend, Emitter: emitter}, nil)
	require.NoError(t, err)

	pass, err := d.Start(context.Background(), 1, screenshot.NewJobs(urls(3)))
	require.NoError(t, err)

	var synthetic, orphaned int
	for _, o := range collect(t, pass) {
		switch {
		case o.Synthetic():
			synthetic++
			require.Equal(t, screenshot.KindBackendInit, o.Kind)
		default:
			orphaned++
			require.ErrorIs(t, o.Err, screenshot.ErrNoWorker)
		}
	}
	require.Equal(t, 2, synthetic)
	require.Equal(t, 3, orphaned)

	events := emitter.Events()
	require.Len(t, events, 3)
	for _, evt := range events {
		require.Equal(t, progress.StageCaptureError, evt.Stage)
		require.Equal(t, 1, evt.Pass)
	}
}

func TestCancelFailsRemainingJobs(t *testing.T) {
	t.Parallel()

	backend := screenshottest.NewBackend(nil)
	backend.Delay = time.Minute
	d, err := New(Config{Workers: 1, DrainTimeout: time.Minute}, worker.Deps{Backend: backend}, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	targets := urls(3)
	pass, err := d.Start(ctx, 0, screenshot.NewJobs(targets))
	require.NoError(t, err)

	require.Eventually(t, func() bool { return backend.Calls(targets[0]) == 1 }, time.Second, 5*time.Millisecond)
	cancel()

	outcomes := collect(t, pass)
	require.Len(t, outcomes, 3)
	for _, o := range outcomes {
		require.False(t, o.Succeeded)
		require.Equal(t, screenshot.KindCanceled, o.Kind)
	}
}
