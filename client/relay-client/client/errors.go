package client

import (
	"errors"
	"fmt"
)

// RemoteError represents a non-success response from the object store or the API
type RemoteError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *RemoteError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("%s: remote returned status %d: %s", e.Op, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("%s: remote returned status %d", e.Op, e.StatusCode)
}

// NewRemoteError creates a new RemoteError; the body is truncated for logging
func NewRemoteError(op string, statusCode int, body string) *RemoteError {
	if len(body) > 256 {
		body = body[:256]
	}
	return &RemoteError{Op: op, StatusCode: statusCode, Body: body}
}

// IsRemoteError checks if the error chain contains a RemoteError
func IsRemoteError(err error) bool {
	var e *RemoteError
	return errors.As(err, &e)
}

// StatusCodeOf returns the remote status code carried by err, or 0
func StatusCodeOf(err error) int {
	var e *RemoteError
	if errors.As(err, &e) {
		return e.StatusCode
	}
	return 0
}
