package progress

import (
	"context"
	"time"
)

// Sink consumes batches of progress events. Implementations must honor ctx
// deadlines and tolerate repeated Consume calls.
type Sink interface {
	Consume(ctx context.Context, batch []Event) error
	Close(ctx context.Context) error
}

// Emitter publishes individual events.
type Emitter interface {
	Emit(evt Event)
}

// Nop discards every event.
type Nop struct{}

// Emit implements Emitter.
func (Nop) Emit(Event) {}

// Stamp fills RunID and TS on events emitted through it, so workers only
// describe what happened.
type Stamp struct {
	Next  Emitter
	RunID [16]byte
	Now   func() time.Time
}

// Emit implements Emitter.
func (s Stamp) Emit(evt Event) {
	if s.Next == nil {
		return
	}
	if evt.RunID == [16]byte{} {
		evt.RunID = s.RunID
	}
	if evt.TS.IsZero() && s.Now != nil {
		evt.TS = s.Now()
	}
	s.Next.Emit(evt)
}
