package executor

import (
	"errors"
	"fmt"
)

// ErrPoolClosed is reported when work is submitted after Shutdown.
var ErrPoolClosed = errors.New("executor: pool closed")

// ExecutionFailure wraps any error raised by, or while waiting for, a unit
// submitted through Call: the unit's own error, a recovered panic, a context
// deadline, or ErrPoolClosed.
type ExecutionFailure struct {
	Lane string
	Err  error
}

func (e *ExecutionFailure) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("executor: %s: %v", e.Lane, e.Err)
}

func (e *ExecutionFailure) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// PanicError carries a value recovered from a panicking unit.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string { return fmt.Sprintf("panic: %v", e.Value) }
