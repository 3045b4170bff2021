package runtime

import (
	"fmt"
	"strings"
)

// CancelledError is delivered to a task when the scope it's running under
// has been cancelled. It is only ever caught by the scope that called
// Cancel(), or implicitly by a scope whose deadline fired.
type CancelledError struct{}

func (CancelledError) Error() string { return "runtime: cancelled" }

// Cancelled is the sentinel CancelledError value.
var Cancelled error = CancelledError{}

// ClosedResourceError indicates an attempt to use a channel endpoint after
// it (or its local clone) was closed.
type ClosedResourceError struct{}

func (ClosedResourceError) Error() string { return "runtime: resource already closed" }

// BrokenResourceError indicates the peer side of a channel is gone.
type BrokenResourceError struct{}

func (BrokenResourceError) Error() string { return "runtime: peer has closed its end" }

// EndOfChannelError indicates a receive on a channel with no more senders
// and an empty buffer.
type EndOfChannelError struct{}

func (EndOfChannelError) Error() string { return "runtime: end of channel" }

// WouldBlockError is returned by non-blocking try-variants when the
// operation cannot complete immediately.
type WouldBlockError struct{}

func (WouldBlockError) Error() string { return "runtime: operation would block" }

// RunFinishedError indicates an operation was attempted against a Runner
// after its Run (or guest run) has already finished.
type RunFinishedError struct{}

func (RunFinishedError) Error() string { return "runtime: run has already finished" }

// KeyboardInterruptError is delivered to the main task in place of
// CancelledError when a keyboard interrupt was requested via
// Runner.DeliverKI. Its delivery bypasses cancel scopes, shielded ones
// included.
type KeyboardInterruptError struct{}

func (KeyboardInterruptError) Error() string { return "runtime: keyboard interrupt" }

// ErrKeyboardInterrupt is the sentinel KeyboardInterruptError value.
var ErrKeyboardInterrupt error = KeyboardInterruptError{}

// InternalError wraps a violated invariant discovered by the run loop
// itself, as opposed to an error produced by user code.
type InternalError struct {
	Cause error
}

func (e *InternalError) Error() string {
	if e.Cause == nil {
		return "runtime: internal error"
	}
	return fmt.Sprintf("runtime: internal error: %v", e.Cause)
}

func (e *InternalError) Unwrap() error { return e.Cause }

// RuntimeError reports a structured-concurrency protocol violation: a
// cancel scope closed out of order, a nursery reused after closing, a
// Start() child that never called TaskStatus.Started, and similar bugs in
// caller code. Cause, when set, is the error that was in flight when the
// violation was discovered.
type RuntimeError struct {
	Msg   string
	Cause error
}

func (e *RuntimeError) Error() string {
	if e.Cause == nil {
		return "runtime: " + e.Msg
	}
	return fmt.Sprintf("runtime: %s: %v", e.Msg, e.Cause)
}

func (e *RuntimeError) Unwrap() error { return e.Cause }

const misnestingAdvice = "this is probably a bug in your code, related to either a missing 'await', or using a nursery or cancel scope outside of the 'with' block that created it"

func newMisnestingError(msg string, cause error) *RuntimeError {
	return &RuntimeError{Msg: msg + " (" + misnestingAdvice + ")", Cause: cause}
}

// MultiError aggregates more than one error raised concurrently by
// sibling tasks in the same nursery. It is always flat: constructing a
// MultiError from a slice that itself contains MultiErrors splices their
// leaves in, rather than nesting.
type MultiError struct {
	Errors []error
}

// NewMultiError builds an error from zero or more leaves: zero leaves
// yields nil, exactly one leaf is returned unwrapped, and two or more are
// flattened into a single *MultiError.
func NewMultiError(errs []error) error {
	flat := make([]error, 0, len(errs))
	for _, e := range errs {
		if e == nil {
			continue
		}
		if me, ok := e.(*MultiError); ok {
			flat = append(flat, me.Errors...)
			continue
		}
		flat = append(flat, e)
	}
	switch len(flat) {
	case 0:
		return nil
	case 1:
		return flat[0]
	default:
		return &MultiError{Errors: flat}
	}
}

func (e *MultiError) Error() string {
	parts := make([]string, len(e.Errors))
	for i, err := range e.Errors {
		parts[i] = err.Error()
	}
	return fmt.Sprintf("%d errors occurred: [%s]", len(e.Errors), strings.Join(parts, "; "))
}

// FilterMultiError applies keep to every leaf of err (or to err itself if
// it isn't a *MultiError). Leaves for which keep returns false are
// dropped; the result collapses exactly like NewMultiError.
func FilterMultiError(err error, keep func(error) bool) error {
	if err == nil {
		return nil
	}
	me, ok := err.(*MultiError)
	if !ok {
		if keep(err) {
			return err
		}
		return nil
	}
	kept := make([]error, 0, len(me.Errors))
	for _, e := range me.Errors {
		if keep(e) {
			kept = append(kept, e)
		}
	}
	return NewMultiError(kept)
}
