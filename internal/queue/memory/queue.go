// Package memory provides the in-process job queue used by a capture pass.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/JakeFAU/shotbatch/internal/screenshot"
)

// Queue errors.
var (
	ErrQueueFull   = errors.New("queue full")
	ErrQueueClosed = errors.New("queue closed")
)

// Queue is a bounded FIFO of jobs. Enqueue never blocks; Dequeue waits up to
// a timeout so idle workers can detect that the pass has drained.
type Queue struct {
	ch      chan screenshot.Job
	closeMu sync.RWMutex
	closed  bool
}

// NewQueue constructs a queue holding at most capacity pending jobs.
func NewQueue(capacity int) *Queue {
	if capacity < 1 {
		capacity = 1
	}
	return &Queue{
		ch: make(chan screenshot.Job, capacity),
	}
}

// Enqueue appends job, failing fast when the queue is full or closed.
func (q *Queue) Enqueue(job screenshot.Job) error {
	q.closeMu.RLock()
	defer q.closeMu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}
	select {
	case q.ch <- job:
		return nil
	default:
		return fmt.Errorf("enqueue %s: %w", job.URL, ErrQueueFull)
	}
}

// Dequeue pops the next job. It returns ok=false once timeout elapses with
// nothing to hand out.
func (q *Queue) Dequeue(ctx context.Context, timeout time.Duration) (screenshot.Job, bool, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return screenshot.Job{}, false, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case job, ok := <-q.ch:
		if !ok {
			return screenshot.Job{}, false, ErrQueueClosed
		}
		return job, true, nil
	case <-timer.C:
		return screenshot.Job{}, false, nil
	}
}

// Drain removes and returns every pending job without blocking.
func (q *Queue) Drain() []screenshot.Job {
	var jobs []screenshot.Job
	for {
		select {
		case job, ok := <-q.ch:
			if !ok {
				return jobs
			}
			jobs = append(jobs, job)
		default:
			return jobs
		}
	}
}

// Len reports the number of pending jobs.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Close closes the underlying channel. Pending jobs stay readable.
func (q *Queue) Close() {
	q.closeMu.Lock()
	defer q.closeMu.Unlock()
	if q.closed {
		return
	}
	close(q.ch)
	q.closed = true
}
