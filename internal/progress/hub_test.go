package progress

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestHubBatchBySize(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{
		BufferSize:     8,
		MaxBatchEvents: 2,
		MaxBatchWait:   time.Minute,
	}, sink)
	defer func() {
		require.NoError(t, hub.Close(context.Background()))
	}()

	hub.Emit(sampleEvent(StageCaptureDone))
	hub.Emit(sampleEvent(StageCaptureError))
	require.Eventually(t, func() bool {
		batches := sink.Batches()
		return len(batches) == 1 && len(batches[0]) == 2
	}, time.Second, 10*time.Millisecond)
}

func TestHubBatchByTimer(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{
		BufferSize:     4,
		MaxBatchEvents: 10,
		MaxBatchWait:   25 * time.Millisecond,
	}, sink)
	defer func() {
		require.NoError(t, hub.Close(context.Background()))
	}()

	hub.Emit(sampleEvent(StageRunStart))
	require.Eventually(t, func() bool {
		return len(sink.Batches()) == 1
	}, time.Second, 5*time.Millisecond)

	// A second batch arms a fresh timer.
	hub.Emit(sampleEvent(StagePassStart))
	require.Eventually(t, func() bool {
		return len(sink.Batches()) == 2
	}, time.Second, 5*time.Millisecond)
}

func TestHubEmitNonBlockingWithoutConsumers(t *testing.T) {
	t.Parallel()

	hub := &Hub{
		cfg:     Config{},
		events:  make(chan Event),
		logger:  zap.NewNop(),
		dropLog: newSometimes(),
	}
	start := time.Now()
	hub.Emit(sampleEvent(StageRunStart))
	hub.Emit(sampleEvent(StageRunStart))
	require.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestHubDiscardsInvalidEvents(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{MaxBatchEvents: 1}, sink)

	hub.Emit(Event{Stage: StageRunStart, TS: time.Now()})
	evt := sampleEvent(StageCaptureDone)
	evt.StatusClass = ""
	hub.Emit(evt)

	require.NoError(t, hub.Close(context.Background()))
	require.Empty(t, sink.Batches())
}

func TestHubFlushOnCloseAndIgnoresLateEvents(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{
		BufferSize:     4,
		MaxBatchEvents: 100,
		MaxBatchWait:   time.Minute,
	}, sink)

	hub.Emit(sampleEvent(StageRunDone))
	require.NoError(t, hub.Close(context.Background()))
	require.Len(t, sink.Batches(), 1)
	require.Len(t, sink.Batches()[0], 1)
	require.True(t, sink.Closed())

	hub.Emit(sampleEvent(StageRunDone))
	require.NoError(t, hub.Close(context.Background()))
	require.Len(t, sink.Batches(), 1)
}

func TestHubSinkErrorsDoNotStopFanOut(t *testing.T) {
	t.Parallel()

	failing := &failingSink{}
	ok := newStubSink()
	hub := NewHub(Config{MaxBatchEvents: 1}, failing, nil, ok)

	hub.Emit(sampleEvent(StageRunStart))
	require.NoError(t, hub.Close(context.Background()))
	require.Len(t, ok.Batches(), 1)
}

func TestStampFillsRunIDAndTimestamp(t *testing.T) {
	t.Parallel()

	sink := &recordingEmitter{}
	runID := UUIDToBytes(uuid.New())
	frozen := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	stamp := Stamp{Next: sink, RunID: runID, Now: func() time.Time { return frozen }}

	stamp.Emit(Event{Stage: StageRunStart})
	require.Len(t, sink.events, 1)
	require.Equal(t, runID, sink.events[0].RunID)
	require.Equal(t, frozen, sink.events[0].TS)

	Stamp{}.Emit(Event{Stage: StageRunStart})
	Nop{}.Emit(Event{})
}

func TestEventHelpers(t *testing.T) {
	t.Parallel()

	require.Equal(t, "example.com", SiteOf("https://Example.COM:8443/path"))
	require.Equal(t, "unknown", SiteOf("not a url"))
	require.Equal(t, Status2xx, ClassifyStatus(204))
	require.Equal(t, Status3xx, ClassifyStatus(301))
	require.Equal(t, Status4xx, ClassifyStatus(404))
	require.Equal(t, Status5xx, ClassifyStatus(503))
	require.Equal(t, StatusOther, ClassifyStatus(0))

	id := uuid.New()
	require.Equal(t, id, Event{RunID: UUIDToBytes(id)}.RunUUID())

	bad := sampleEvent(StageRunStart)
	bad.Stage = "BOGUS"
	require.ErrorContains(t, bad.Validate(), "unknown stage")
	bad = sampleEvent(StageCaptureError)
	bad.URL = ""
	require.ErrorContains(t, bad.Validate(), "requires url")
	bad = sampleEvent(StageRunDone)
	bad.Dur = -time.Second
	require.ErrorContains(t, bad.Validate(), "duration")
}

type stubSink struct {
	mu      sync.Mutex
	batches [][]Event
	closed  bool
}

func newStubSink() *stubSink {
	return &stubSink{batches: [][]Event{}}
}

func (s *stubSink) Consume(_ context.Context, batch []Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, append([]Event(nil), batch...))
	return nil
}

func (s *stubSink) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *stubSink) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *stubSink) Batches() [][]Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]Event, len(s.batches))
	for i, b := range s.batches {
		out[i] = append([]Event(nil), b...)
	}
	return out
}

type failingSink struct{}

func (failingSink) Consume(context.Context, []Event) error { return errors.New("sink down") }
func (failingSink) Close(context.Context) error            { return errors.New("close failed") }

type recordingEmitter struct {
	events []Event
}

func (r *recordingEmitter) Emit(evt Event) {
	r.events = append(r.events, evt)
}

func sampleEvent(stage Stage) Event {
	evt := Event{
		RunID: UUIDToBytes(uuid.New()),
		TS:    time.Now(),
		Stage: stage,
	}
	switch stage {
	case StageCaptureDone:
		evt.URL = "https://example.com"
		evt.Site = "example.com"
		evt.StatusClass = Status2xx
	case StageCaptureError:
		evt.URL = "https://example.com/missing"
		evt.Site = "example.com"
		evt.Kind = "http"
	}
	return evt
}
