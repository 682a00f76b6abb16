package common

import (
	"errors"
	"fmt"
)

// HardwareUnavailableError reports a missing capture or location device.
// The caller degrades to a substitute.
type HardwareUnavailableError struct {
	Device     string
	InnerError error
}

func (e *HardwareUnavailableError) Error() string {
	if e.InnerError != nil {
		return fmt.Sprintf("hardware unavailable (%s): %v", e.Device, e.InnerError)
	}
	return fmt.Sprintf("hardware unavailable (%s)", e.Device)
}

func (e *HardwareUnavailableError) Unwrap() error { return e.InnerError }

// NewHardwareUnavailableError creates a new HardwareUnavailableError
func NewHardwareUnavailableError(device string, inner error) *HardwareUnavailableError {
	return &HardwareUnavailableError{Device: device, InnerError: inner}
}

// IsHardwareUnavailable checks if the error chain contains a HardwareUnavailableError
func IsHardwareUnavailable(err error) bool {
	var e *HardwareUnavailableError
	return errors.As(err, &e)
}

// TransientNetworkError covers interface bring-up, probe, upload and API
// failures, including timeouts. These are retried with a bounded budget.
type TransientNetworkError struct {
	Op         string
	InnerError error
}

func (e *TransientNetworkError) Error() string {
	return fmt.Sprintf("transient network failure during %s: %v", e.Op, e.InnerError)
}

func (e *TransientNetworkError) Unwrap() error { return e.InnerError }

// NewTransientNetworkError creates a new TransientNetworkError
func NewTransientNetworkError(op string, inner error) *TransientNetworkError {
	return &TransientNetworkError{Op: op, InnerError: inner}
}

// IsTransientNetwork checks if the error chain contains a TransientNetworkError
func IsTransientNetwork(err error) bool {
	var e *TransientNetworkError
	return errors.As(err, &e)
}

// PermanentDeliveryError is recorded on a record whose retry budget is exhausted
type PermanentDeliveryError struct {
	RecordID   string
	Attempts   int
	InnerError error
}

func (e *PermanentDeliveryError) Error() string {
	return fmt.Sprintf("record %s permanently failed after %d attempts: %v", e.RecordID, e.Attempts, e.InnerError)
}

func (e *PermanentDeliveryError) Unwrap() error { return e.InnerError }

// NewPermanentDeliveryError creates a new PermanentDeliveryError
func NewPermanentDeliveryError(recordID string, attempts int, inner error) *PermanentDeliveryError {
	return &PermanentDeliveryError{RecordID: recordID, Attempts: attempts, InnerError: inner}
}

// IsPermanentDelivery checks if the error chain contains a PermanentDeliveryError
func IsPermanentDelivery(err error) bool {
	var e *PermanentDeliveryError
	return errors.As(err, &e)
}

// ResourceExhaustionError describes a critical local resource (disk, memory)
type ResourceExhaustionError struct {
	Resource string
	Percent  float64
}

func (e *ResourceExhaustionError) Error() string {
	return fmt.Sprintf("resource exhausted: %s at %.1f%%", e.Resource, e.Percent)
}

// IsResourceExhaustion checks if the error chain contains a ResourceExhaustionError
func IsResourceExhaustion(err error) bool {
	var e *ResourceExhaustionError
	return errors.As(err, &e)
}

// ConfigurationError is fatal at startup
type ConfigurationError struct {
	Problems []string
}

func (e *ConfigurationError) Error() string {
	if len(e.Problems) == 1 {
		return "invalid configuration: " + e.Problems[0]
	}
	return fmt.Sprintf("invalid configuration: %d problems: %v", len(e.Problems), e.Problems)
}

// IsConfigurationError checks if the error chain contains a ConfigurationError
func IsConfigurationError(err error) bool {
	var e *ConfigurationError
	return errors.As(err, &e)
}
