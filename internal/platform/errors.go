package platform

import (
	"errors"
	"fmt"
	"time"
)

// ErrNotReady means the analytics endpoint has no settled metrics for the
// content yet. Callers skip and try again on a later sweep.
var ErrNotReady = errors.New("metrics not ready")

// TransientError is a failure worth retrying: timeouts, connection trouble,
// 408/429 and server-side 5xx responses.
type TransientError struct {
	Op     string
	Status int // 0 when no HTTP response was received
	// RetryAfter carries the server's Retry-After hint on 429 responses,
	// zero otherwise.
	RetryAfter time.Duration
	Err        error
}

func (e *TransientError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("%s: transient: http %d: %v", e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: transient: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError is a failure retrying cannot fix (4xx other than 408/429).
type PermanentError struct {
	Op     string
	Status int
	Err    error
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("%s: permanent: http %d: %v", e.Op, e.Status, e.Err)
}

func (e *PermanentError) Unwrap() error { return e.Err }

// IsTransient reports whether err should be retried with backoff.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// IsPermanent reports whether err is a hard rejection.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}

// classifyStatus wraps a non-2xx response into the matching error class.
func classifyStatus(op string, status int, retryAfter time.Duration, err error) error {
	switch {
	case status == 408 || status == 429 || status >= 500:
		return &TransientError{Op: op, Status: status, RetryAfter: retryAfter, Err: err}
	case status >= 400:
		return &PermanentError{Op: op, Status: status, Err: err}
	default:
		return err
	}
}
