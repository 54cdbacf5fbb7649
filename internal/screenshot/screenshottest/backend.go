// Package screenshottest provides a scripted in-memory capture backend for
// tests of the worker pool and retry coordinator.
package screenshottest

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/JakeFAU/shotbatch/internal/progress"
	"github.com/JakeFAU/shotbatch/internal/screenshot"
)

// PNG is a minimal image payload returned for successful captures.
var PNG = []byte("\x89PNG\r\n\x1a\nfake")

// Script decides the result of the n-th capture (zero-based) of a URL.
type Script func(url string, n int) (screenshot.Capture, error)

// Backend is a screenshot.Backend whose sessions follow a Script.
type Backend struct {
	script Script
	// Delay is applied to every capture and honors ctx cancellation.
	Delay time.Duration
	// LaunchErr, when set, fails the first LaunchFailures launches.
	LaunchErr      error
	LaunchFailures int

	mu       sync.Mutex
	calls    map[string]int
	launches atomic.Int32
	open     atomic.Int32
	closed   atomic.Int32
}

// NewBackend returns a Backend that follows script, or always succeeds when
// script is nil.
func NewBackend(script Script) *Backend {
	if script == nil {
		script = AlwaysSucceed
	}
	return &Backend{script: script, calls: make(map[string]int)}
}

// AlwaysSucceed captures every URL with PNG and a title derived from it.
func AlwaysSucceed(url string, _ int) (screenshot.Capture, error) {
	return screenshot.Capture{Image: PNG, Title: "Title of " + url, StatusCode: 200}, nil
}

// FailURLs fails the listed URLs forever with HTTP 500 and succeeds otherwise.
func FailURLs(urls ...string) Script {
	failing := make(map[string]bool, len(urls))
	for _, u := range urls {
		failing[u] = true
	}
	return func(url string, n int) (screenshot.Capture, error) {
		if failing[url] {
			return screenshot.Capture{}, &screenshot.HTTPStatusError{StatusCode: 500}
		}
		return AlwaysSucceed(url, n)
	}
}

// SucceedOnAttempt fails url until its n-th capture (zero-based) and
// succeeds every other URL immediately.
func SucceedOnAttempt(url string, attempt int) Script {
	return func(u string, n int) (screenshot.Capture, error) {
		if u == url && n < attempt {
			return screenshot.Capture{}, fmt.Errorf("%w: net::ERR_CONNECTION_RESET", screenshot.ErrNavigation)
		}
		return AlwaysSucceed(u, n)
	}
}

// Launch implements screenshot.Backend.
func (b *Backend) Launch(ctx context.Context) (screenshot.Session, error) {
	n := int(b.launches.Add(1))
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", screenshot.ErrBackendInit, err)
	}
	if b.LaunchErr != nil && (b.LaunchFailures <= 0 || n <= b.LaunchFailures) {
		return nil, fmt.Errorf("%w: %w", screenshot.ErrBackendInit, b.LaunchErr)
	}
	b.open.Add(1)
	return &session{backend: b}, nil
}

// Calls reports how many captures url has received.
func (b *Backend) Calls(url string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls[url]
}

// Launches reports how many sessions were requested.
func (b *Backend) Launches() int { return int(b.launches.Load()) }

// Open reports sessions launched and not yet closed.
func (b *Backend) Open() int { return int(b.open.Load() - b.closed.Load()) }

func (b *Backend) next(url string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := b.calls[url]
	b.calls[url] = n + 1
	return n
}

type session struct {
	backend *Backend
	once    sync.Once
}

func (s *session) Capture(ctx context.Context, url string) (screenshot.Capture, error) {
	n := s.backend.next(url)
	if d := s.backend.Delay; d > 0 {
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return screenshot.Capture{}, fmt.Errorf("%w: %w", screenshot.ErrNavigation, ctx.Err())
		case <-timer.C:
		}
	}
	if err := ctx.Err(); err != nil {
		return screenshot.Capture{}, fmt.Errorf("%w: %w", screenshot.ErrNavigation, err)
	}
	return s.backend.script(url, n)
}

func (s *session) Close() error {
	s.once.Do(func() { s.backend.closed.Add(1) })
	return nil
}

// Emitter records progress events. It is safe for concurrent use.
type Emitter struct {
	mu     sync.Mutex
	events []progress.Event
}

// Emit implements progress.Emitter.
func (e *Emitter) Emit(evt progress.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, evt)
}

// Events returns a copy of recorded events.
func (e *Emitter) Events() []progress.Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]progress.Event(nil), e.events...)
}

// Stages returns the stage of every recorded event in order.
func (e *Emitter) Stages() []progress.Stage {
	events := e.Events()
	stages := make([]progress.Stage, 0, len(events))
	for _, evt := range events {
		stages = append(stages, evt.Stage)
	}
	return stages
}
