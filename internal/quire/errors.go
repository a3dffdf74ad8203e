// Package quire provides the HTTP client for the Quire REST API.
package quire

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a failed Quire API call. The set is closed:
// callers switch on the kind to pick the user-facing message and never
// implement their own retry logic.
type ErrorKind string

const (
	// KindUnauthorized means the bearer token was rejected (HTTP 401).
	// The request executor reacts with a single refresh-and-retry.
	KindUnauthorized ErrorKind = "unauthorized"
	// KindForbidden means the user lacks permission (HTTP 403).
	KindForbidden ErrorKind = "forbidden"
	// KindNotFound means the resource does not exist (HTTP 404).
	KindNotFound ErrorKind = "not_found"
	// KindTimeout means a bounded listing call did not finish in time.
	KindTimeout ErrorKind = "timeout"
	// KindUnavailable covers transport failures and transient remote
	// conditions (no response, 429, 503, unexpected statuses).
	KindUnavailable ErrorKind = "unavailable"
)

// String returns the kind's wire name.
func (k ErrorKind) String() string {
	return string(k)
}

// APIError is the classified failure of a Quire API call.
type APIError struct {
	Kind       ErrorKind
	StatusCode int
	Err        error
}

func (e *APIError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("quire: %s (status %d)", e.Kind, e.StatusCode)
	}
	if e.Err != nil {
		return fmt.Sprintf("quire: %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("quire: %s", e.Kind)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// IsKind reports whether err is an APIError of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Kind == kind
}

// IsUnauthorized reports whether err is a 401 classification.
func IsUnauthorized(err error) bool {
	return IsKind(err, KindUnauthorized)
}
