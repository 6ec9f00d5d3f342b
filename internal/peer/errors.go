package peer

import (
	"errors"
	"fmt"
)

// errLeaseGone signals that the lease row was already closed by the time
// the submit transaction ran. Surfaced to callers as a WorkflowError.
var errLeaseGone = errors.New("review lease already closed")

// The engine distinguishes three error kinds because the caller's response
// differs: request errors go back to the learner as actionable messages,
// workflow errors mean "state is out of sync, reload", internal errors are
// logged and surfaced generically. None are retried inside the engine;
// writes are at-most-once.

// RequestError: the caller supplied invalid input.
type RequestError struct {
	Msg string
	Err error
}

func (e *RequestError) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *RequestError) Unwrap() error { return e.Err }

func requestErrorf(format string, args ...any) error {
	return &RequestError{Msg: fmt.Sprintf(format, args...)}
}

// WorkflowError: the operation is well-formed but inconsistent with the
// current workflow state.
type WorkflowError struct {
	Msg string
	Err error
}

func (e *WorkflowError) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *WorkflowError) Unwrap() error { return e.Err }

func workflowErrorf(format string, args ...any) error {
	return &WorkflowError{Msg: fmt.Sprintf(format, args...)}
}

// InternalError: storage or transaction failure.
type InternalError struct {
	Msg string
	Err error
}

func (e *InternalError) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *InternalError) Unwrap() error { return e.Err }
