package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/shotbatch/internal/progress"
	"github.com/JakeFAU/shotbatch/internal/store"
)

func TestStoreSinkPersistsRun(t *testing.T) {
	t.Parallel()

	repo := &fakeAttemptRepo{}
	sink := NewStoreSink(repo, nil)
	runUUID := uuid.New()
	runID := progress.UUIDToBytes(runUUID)
	now := time.Now()

	batch := []progress.Event{
		{RunID: runID, Stage: progress.StageRunStart, TS: now},
		{
			RunID:       runID,
			Stage:       progress.StageCaptureDone,
			URL:         "https://example.com",
			Site:        "example.com",
			Bytes:       100,
			StatusClass: progress.Status2xx,
			StatusCode:  200,
			Digest:      "abc",
			TS:          now.Add(time.Second),
		},
		{
			RunID:   runID,
			Stage:   progress.StageCaptureError,
			URL:     "https://example.com/missing",
			Site:    "example.com",
			Attempt: 1,
			Kind:    "http",
			Note:    "HTTP 404",
			TS:      now.Add(2 * time.Second),
		},
		{RunID: runID, Stage: progress.StageRunDone, TS: now.Add(3 * time.Second), Successes: 1, Failures: 1},
	}

	require.NoError(t, sink.Consume(context.Background(), batch))

	require.Equal(t, []uuid.UUID{runUUID}, repo.starts)
	require.Len(t, repo.attempts, 2)
	require.True(t, repo.attempts[0].Succeeded)
	require.Nil(t, repo.attempts[0].Error)
	require.False(t, repo.attempts[1].Succeeded)
	require.Equal(t, "HTTP 404", *repo.attempts[1].Error)
	require.Equal(t, 1, repo.attempts[1].Attempt)
	require.Len(t, repo.finishes, 1)
	require.Equal(t, store.RunPartial, repo.finishes[0].status)
	require.NoError(t, sink.Close(context.Background()))
}

func TestStoreSinkHandlesErrors(t *testing.T) {
	t.Parallel()

	repo := &fakeAttemptRepo{fail: true}
	sink := NewStoreSink(repo, zap.NewNop())
	runID := progress.UUIDToBytes(uuid.New())
	err := sink.Consume(context.Background(), []progress.Event{
		{RunID: runID, Stage: progress.StageRunStart, TS: time.Now()},
	})
	require.ErrorContains(t, err, "start run")
}

func TestStoreSinkNilRepo(t *testing.T) {
	t.Parallel()

	var sink *StoreSink
	require.NoError(t, sink.Consume(context.Background(), nil))
	require.NoError(t, NewStoreSink(nil, nil).Consume(context.Background(), nil))
}

type fakeAttemptRepo struct {
	fail     bool
	starts   []uuid.UUID
	attempts []store.Attempt
	finishes []finishCall
}

type finishCall struct {
	runID     uuid.UUID
	status    store.RunStatus
	successes int
	failures  int
}

func (f *fakeAttemptRepo) StartRun(_ context.Context, runID uuid.UUID, _ time.Time) error {
	if f.fail {
		return assertErr("start")
	}
	f.starts = append(f.starts, runID)
	return nil
}

func (f *fakeAttemptRepo) RecordAttempts(_ context.Context, attempts []store.Attempt) error {
	if f.fail {
		return assertErr("attempts")
	}
	f.attempts = append(f.attempts, attempts...)
	return nil
}

func (f *fakeAttemptRepo) FinishRun(
	_ context.Context,
	runID uuid.UUID,
	_ time.Time,
	status store.RunStatus,
	successes int,
	failures int,
) error {
	if f.fail {
		return assertErr("finish")
	}
	f.finishes = append(f.finishes, finishCall{runID: runID, status: status, successes: successes, failures: failures})
	return nil
}

type assertErr string

func (e assertErr) Error() string { return string(e) }
