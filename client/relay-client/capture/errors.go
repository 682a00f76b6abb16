package capture

import (
	"errors"
	"fmt"
)

// CaptureError is returned when no image could be produced for a tick
type CaptureError struct {
	Reason string
	Err    error
}

func (e *CaptureError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("capture failed: %s: %v", e.Reason, e.Err)
	}
	return "capture failed: " + e.Reason
}

func (e *CaptureError) Unwrap() error { return e.Err }

func newCaptureError(reason string, err error) *CaptureError {
	return &CaptureError{Reason: reason, Err: err}
}

// IsCaptureError checks if the error chain contains a CaptureError
func IsCaptureError(err error) bool {
	var e *CaptureError
	return errors.As(err, &e)
}
