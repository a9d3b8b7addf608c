package reclameaqui

import (
	"errors"
	"fmt"
)

var (
	// ErrUpstreamRejected is a definitive refusal: a 4xx other than 429, or
	// an anti-bot challenge that survived a re-challenge.
	ErrUpstreamRejected = errors.New("upstream rejected request")
	// ErrTransientUpstreamFailure is returned once the retry budget for
	// network errors, 5xx and 429 responses is spent.
	ErrTransientUpstreamFailure = errors.New("transient upstream failure")
	// ErrMalformedResponse means the body is not JSON of the expected shape.
	ErrMalformedResponse = errors.New("malformed upstream response")
)

// StatusError carries the HTTP status of a failed call.
type StatusError struct {
	Endpoint   string
	StatusCode int
	Reason     string
	Err        error
}

func (e *StatusError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%s: %s (status %d): %s", e.Endpoint, e.Err.Error(), e.StatusCode, e.Reason)
	}
	return fmt.Sprintf("%s: %s (status %d)", e.Endpoint, e.Err.Error(), e.StatusCode)
}

func (e *StatusError) Unwrap() error {
	return e.Err
}

func malformed(endpoint string, format string, args ...any) error {
	return fmt.Errorf("%w: %s: %s", ErrMalformedResponse, endpoint, fmt.Sprintf(format, args...))
}
