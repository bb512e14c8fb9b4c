package hardware

import (
	"context"
	"errors"
	"fmt"
)

// Domain-specific errors for hardware operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrWriteFailed is returned when colours cannot be staged on a device.
	ErrWriteFailed = errors.New("hardware: write failed")

	// ErrFlushFailed is returned when staged colours cannot be committed.
	ErrFlushFailed = errors.New("hardware: flush failed")

	// ErrTimeout is returned when a write or flush exceeds its deadline.
	ErrTimeout = errors.New("hardware: operation timed out")

	// ErrUnknownDevice is returned for a device index that is not attached.
	ErrUnknownDevice = errors.New("hardware: unknown device")

	// ErrClosed is returned when using a controller after Close.
	ErrClosed = errors.New("hardware: controller closed")

	// ErrUnknownBackend is returned by New for an unsupported backend name.
	ErrUnknownBackend = errors.New("hardware: unknown backend")

	// ErrNoPublisher is returned by New when the mqtt backend has no client.
	ErrNoPublisher = errors.New("hardware: mqtt publisher not available")
)

// Operation names used in Error.
const (
	OpList  = "list"
	OpWrite = "write"
	OpFlush = "flush"
)

// Error describes a failed hardware operation.
type Error struct {
	Op     string
	Device int // -1 when the operation is not device specific
	Err    error
}

func (e *Error) Error() string {
	if e.Device < 0 {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s device %d: %v", e.Op, e.Device, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// newError classifies cause under the sentinel for op. Context deadline
// expiry is reported as ErrTimeout.
func newError(op string, device int, cause error) *Error {
	sentinel := ErrWriteFailed
	switch {
	case errors.Is(cause, context.DeadlineExceeded), isNetTimeout(cause):
		sentinel = ErrTimeout
	case op == OpFlush:
		sentinel = ErrFlushFailed
	}

	if cause == nil || errors.Is(cause, sentinel) {
		return &Error{Op: op, Device: device, Err: sentinel}
	}
	return &Error{Op: op, Device: device, Err: fmt.Errorf("%w: %w", sentinel, cause)}
}

type timeoutError interface {
	Timeout() bool
}

func isNetTimeout(err error) bool {
	var te timeoutError
	return errors.As(err, &te) && te.Timeout()
}
