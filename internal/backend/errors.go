package backend

import (
	"errors"
	"fmt"
)

// ErrNotConnected is returned by operations on a backend whose connection
// has not been established or has been closed.
var ErrNotConnected = errors.New("backend not connected")

// ErrContinuationExpired is returned when a cursor or offset is no longer
// valid, typically after the remote result set has aged out.
var ErrContinuationExpired = errors.New("continuation expired")

// ErrNoContinuation is returned when a continuation page is requested from
// a cursor-paginated backend without a cursor token. The coordinator only
// resumes fetches from stored state, so hitting this is a programming error.
var ErrNoContinuation = errors.New("continuation requested without a cursor token")

// QueryError wraps a query rejection, preserving the backend-native error
// text for user-facing remediation.
type QueryError struct {
	Backend string // engine identifier
	Query   string
	Err     error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("%s: query failed: %v", e.Backend, e.Err)
}

func (e *QueryError) Unwrap() error {
	return e.Err
}
