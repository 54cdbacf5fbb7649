package screenshot

import (
	"context"
	"errors"
	"fmt"
)

// Sentinel errors used to classify capture failures.
var (
	ErrNavigation  = errors.New("navigation failed")
	ErrCapture     = errors.New("capture failed")
	ErrBackendInit = errors.New("backend init failed")
	ErrNoWorker    = errors.New("no worker available")
)

// ErrorKind groups failures for logging, metrics, and persistence.
type ErrorKind string

// Failure kinds. KindNone marks a success.
const (
	KindNone        ErrorKind = ""
	KindNavigation  ErrorKind = "navigation"
	KindHTTP        ErrorKind = "http"
	KindCapture     ErrorKind = "capture"
	KindBackendInit ErrorKind = "backend_init"
	KindCanceled    ErrorKind = "canceled"
)

// HTTPStatusError reports a main-document response with status >= 400.
type HTTPStatusError struct {
	StatusCode int
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("HTTP %d", e.StatusCode)
}

// AsHTTPStatus is errors.As specialised for HTTPStatusError.
func AsHTTPStatus(err error, target **HTTPStatusError) bool {
	return errors.As(err, target)
}

// Classify maps an error returned by a Session (or the pool) to an ErrorKind.
// Unrecognised errors count as navigation failures.
func Classify(err error) ErrorKind {
	var statusErr *HTTPStatusError
	switch {
	case err == nil:
		return KindNone
	case errors.As(err, &statusErr):
		return KindHTTP
	case errors.Is(err, context.Canceled):
		return KindCanceled
	case errors.Is(err, ErrBackendInit), errors.Is(err, ErrNoWorker):
		return KindBackendInit
	case errors.Is(err, ErrCapture):
		return KindCapture
	default:
		return KindNavigation
	}
}
