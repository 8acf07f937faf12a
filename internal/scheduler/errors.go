package scheduler

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidArgument is returned for bad constructor or call arguments.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrIllegalState is returned when an operation is not allowed in the
	// current state, e.g. creating more work units than a task has sub-tasks.
	ErrIllegalState = errors.New("illegal state")

	// ErrAborted matches every *AbortedError.
	ErrAborted = errors.New("aborted")

	// ErrCancelled resolves the future of an item removed from the queue
	// before it was ever scheduled, and is the abort cause used by Future.Cancel.
	ErrCancelled = errors.New("cancelled")
)

// AbortedError is returned to every party blocked in (or arriving at) an
// aborted Latch. Cause is the error the latch was first aborted with.
type AbortedError struct {
	Cause error
}

func (e *AbortedError) Error() string {
	if e.Cause == nil {
		return "aborted"
	}
	return fmt.Sprintf("aborted: %v", e.Cause)
}

// Unwrap exposes the abort cause so errors.Is/As see through the wrapper.
func (e *AbortedError) Unwrap() error { return e.Cause }

// Is reports whether target is ErrAborted.
func (e *AbortedError) Is(target error) bool { return target == ErrAborted }

// abortCause returns the innermost cause of nested AbortedErrors.
func abortCause(err error) error {
	var ae *AbortedError
	for errors.As(err, &ae) && ae.Cause != nil {
		err = ae.Cause
		ae = nil
	}
	return err
}
