package progress

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Stage denotes the milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageRunStart     Stage = "RUN_START"
	StagePassStart    Stage = "PASS_START"
	StagePassDone     Stage = "PASS_DONE"
	StageCaptureDone  Stage = "CAPTURE_DONE"
	StageCaptureError Stage = "CAPTURE_ERROR"
	StageRunDone      Stage = "RUN_DONE"
)

// StatusClass is a coarse HTTP response grouping.
type StatusClass string

// HTTP status classes recorded for captures.
const (
	Status2xx   StatusClass = "2xx"
	Status3xx   StatusClass = "3xx"
	Status4xx   StatusClass = "4xx"
	Status5xx   StatusClass = "5xx"
	StatusOther StatusClass = "other"
)

// Event is one progress milestone.
type Event struct {
	// RunID identifies the batch run in 16-byte UUID form.
	RunID [16]byte
	TS    time.Time
	Stage Stage
	// Pass is the zero-based pass number (0 is the initial pass).
	Pass int
	// Site is the lower-cased host of URL for capture stages.
	Site    string
	URL     string
	Attempt int
	Worker  int
	// Bytes is the encoded image size of a successful capture.
	Bytes       int64
	StatusClass StatusClass
	StatusCode  int
	// Kind is the failure classification for CAPTURE_ERROR.
	Kind   string
	Dur    time.Duration
	Digest string
	// Note carries low-volume context such as error text or run totals.
	Note string
	// Successes and Failures are run totals, set on RUN_DONE and PASS_DONE.
	Successes int
	Failures  int
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == [16]byte{} {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageRunStart, StagePassStart, StagePassDone, StageRunDone:
	case StageCaptureDone:
		if e.URL == "" {
			return errors.New("capture done requires url")
		}
		if e.StatusClass == "" {
			return errors.New("capture done requires status class")
		}
	case StageCaptureError:
		if e.URL == "" {
			return errors.New("capture error requires url")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// RunUUID converts the binary run ID to uuid.UUID for repositories.
func (e Event) RunUUID() uuid.UUID {
	return uuid.UUID(e.RunID)
}

// UUIDToBytes encodes a uuid.UUID into the Event form.
func UUIDToBytes(id uuid.UUID) [16]byte {
	return [16]byte(id)
}

// SiteOf returns the lower-cased host of rawURL, or "unknown".
func SiteOf(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return "unknown"
	}
	return strings.ToLower(parsed.Hostname())
}

// ClassifyStatus groups HTTP status codes for capture events.
func ClassifyStatus(code int) StatusClass {
	switch {
	case code >= 200 && code < 300:
		return Status2xx
	case code >= 300 && code < 400:
		return Status3xx
	case code >= 400 && code < 500:
		return Status4xx
	case code >= 500 && code < 600:
		return Status5xx
	default:
		return StatusOther
	}
}
