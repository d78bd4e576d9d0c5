package worker

import (
	"errors"
	"fmt"
)

// ErrBackendUnavailable means no reachable Pluto server. It is surfaced to
// the caller and not retried automatically outside the explicit restart
// recovery flow.
var ErrBackendUnavailable = errors.New("pluto backend unavailable")

// SessionCreateError means the backend was reachable but refused or failed
// to create a session for the given notebook.
type SessionCreateError struct {
	Path string
	Err  error
}

func (e *SessionCreateError) Error() string {
	return fmt.Sprintf("create session for %s: %v", e.Path, e.Err)
}

func (e *SessionCreateError) Unwrap() error { return e.Err }

// CellNotFoundError means an operation referenced a cell id absent from the
// session's current state.
type CellNotFoundError struct {
	CellID string
}

func (e *CellNotFoundError) Error() string {
	return "cell not found: " + e.CellID
}

// TimeoutError means an idle-wait exceeded its bound. It is distinct from a
// backend-reported execution error.
type TimeoutError struct {
	Op string
}

func (e *TimeoutError) Error() string {
	return "timed out waiting for " + e.Op
}

// IsTimeout reports whether err is (or wraps) a TimeoutError.
func IsTimeout(err error) bool {
	var te *TimeoutError
	return errors.As(err, &te)
}
