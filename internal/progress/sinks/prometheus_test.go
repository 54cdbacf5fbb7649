package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/shotbatch/internal/progress"
)

func TestPrometheusSinkRecordsMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	runID := progress.UUIDToBytes(uuid.New())
	now := time.Now()
	batch := []progress.Event{
		{RunID: runID, TS: now, Stage: progress.StageRunStart},
		{RunID: runID, TS: now, Stage: progress.StagePassStart},
		{
			RunID:       runID,
			TS:          now.Add(time.Second),
			Stage:       progress.StageCaptureDone,
			URL:         "https://example.com",
			Site:        "example.com",
			Bytes:       1024,
			StatusClass: progress.Status2xx,
			Dur:         2 * time.Second,
		},
		{
			RunID:       runID,
			TS:          now.Add(2 * time.Second),
			Stage:       progress.StageCaptureError,
			URL:         "https://example.com/missing",
			Site:        "example.com",
			StatusClass: progress.Status4xx,
			Kind:        "http",
			Dur:         time.Second,
		},
		{RunID: runID, TS: now.Add(3 * time.Second), Stage: progress.StageCaptureError, URL: "https://down.example"},
		{RunID: runID, TS: now.Add(4 * time.Second), Stage: progress.StageRunDone, Successes: 1, Failures: 2, Dur: 4 * time.Second},
	}

	require.NoError(t, sink.Consume(context.Background(), batch))

	require.Equal(t, 1.0, testutil.ToFloat64(sink.runsStarted))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.passes))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.runsCompleted.WithLabelValues("partial")))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.runsCompleted.WithLabelValues("success")))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.captures.WithLabelValues("example.com", "2xx", "success")))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.captures.WithLabelValues("example.com", "4xx", "error")))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.captures.WithLabelValues("unknown", "other", "error")))
	require.InDelta(t, 1024.0, testutil.ToFloat64(sink.captureBytes.WithLabelValues("example.com")), 1e-9)
	require.Equal(t, 2, testutil.CollectAndCount(sink.captureDuration, "shotbatch_capture_duration_seconds"))
	require.Equal(t, 1, testutil.CollectAndCount(sink.runDuration, "shotbatch_run_duration_seconds"))
	require.NoError(t, sink.Close(context.Background()))
}

func TestPrometheusSinkCanceledRun(t *testing.T) {
	t.Parallel()

	sink, err := NewPrometheusSink(prometheus.NewRegistry())
	require.NoError(t, err)

	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{RunID: progress.UUIDToBytes(uuid.New()), TS: time.Now(), Stage: progress.StageRunDone, Kind: "canceled"},
	}))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.runsCompleted.WithLabelValues("canceled")))
}

func TestPrometheusSinkDuplicateRegistration(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	_, err := NewPrometheusSink(reg)
	require.NoError(t, err)
	_, err = NewPrometheusSink(reg)
	require.ErrorContains(t, err, "register progress collector")
}
