package store

import (
	"errors"
	"fmt"
)

// StatusError is a non-2xx response from the remote store.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("remote store returned %d: %s", e.StatusCode, e.Body)
}

// IsRetryable reports whether a request failure is worth retrying: no
// response at all (network error, timeout) or a 5xx from the store.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode >= 500
	}
	return true
}

// IsPermanent reports whether a request failure must not be retried (4xx,
// validation rejection).
func IsPermanent(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode >= 400 && se.StatusCode < 500
	}
	return false
}
