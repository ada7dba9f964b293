package backend

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
)

// ErrNotFound is returned when a container does not exist.
var ErrNotFound = errors.New("container not found")

// Error is a failed backend call. Transient errors may succeed on retry.
type Error struct {
	Op        string
	Container string
	Transient bool
	Err       error
}

func (e *Error) Error() string {
	kind := "fatal"
	if e.Transient {
		kind = "transient"
	}
	if e.Container != "" {
		return fmt.Sprintf("%s %s: %s: %v", e.Op, e.Container, kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Transientf builds a transient Error.
func Transientf(op, container, format string, args ...any) *Error {
	return &Error{Op: op, Container: container, Transient: true, Err: fmt.Errorf(format, args...)}
}

// Fatalf builds a non-transient Error.
func Fatalf(op, container, format string, args ...any) *Error {
	return &Error{Op: op, Container: container, Err: fmt.Errorf(format, args...)}
}

// IsTransient reports whether err is worth retrying: a transient Error, a
// deadline, a connection reset or a network timeout. Cancellation is never
// transient.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var be *Error
	if errors.As(err, &be) && be.Transient {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
