package store

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// RunStatus mirrors the status column of the runs table.
type RunStatus string

// Run statuses.
const (
	RunRunning RunStatus = "running"
	// RunSuccess means every URL was captured.
	RunSuccess RunStatus = "success"
	// RunPartial means at least one URL failed permanently.
	RunPartial RunStatus = "partial"
	RunError   RunStatus = "error"
)

// StatusFor derives the final run status from its failure count.
func StatusFor(failures int, canceled bool) RunStatus {
	switch {
	case canceled:
		return RunError
	case failures > 0:
		return RunPartial
	default:
		return RunSuccess
	}
}

// Attempt is one capture try persisted for auditing.
type Attempt struct {
	RunID      uuid.UUID
	URL        string
	Site       string
	Attempt    int
	Pass       int
	Worker     int
	Succeeded  bool
	Kind       string
	StatusCode int
	Bytes      int64
	Digest     string
	Duration   time.Duration
	// Error is nil for successful attempts.
	Error *string
	At    time.Time
}

// AttemptRepository records runs and their capture attempts.
type AttemptRepository interface {
	StartRun(ctx context.Context, runID uuid.UUID, startedAt time.Time) error
	RecordAttempts(ctx context.Context, attempts []Attempt) error
	FinishRun(
		ctx context.Context,
		runID uuid.UUID,
		finishedAt time.Time,
		status RunStatus,
		successes int,
		failures int,
	) error
}
