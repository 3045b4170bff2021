package runtime

import "context"

// CancelScope is a lexical cancellation unit: a deadline, an optional
// shield against ancestor cancellation, and a one-shot cancel bit. Every
// Nursery owns one; application code can also open scopes directly to
// bound an arbitrary span of work with a deadline or manual Cancel().
//
// A CancelScope is entered at most once. Enter/Close are the functional
// analogue of Python's "with" block; Run is the idiomatic Go convenience
// that does both around a closure.
type CancelScope struct {
	deadline           float64
	shield             bool
	cancelCalled       bool
	CancelledCaught    bool
	hasBeenEntered     bool
	registeredDeadline float64

	task   *Task
	status *cancelStatus
}

// ScopeOption configures a CancelScope at construction time.
type ScopeOption func(*CancelScope)

// WithDeadline sets an absolute deadline, expressed in the same units as
// CurrentTime.
func WithDeadline(deadline float64) ScopeOption {
	return func(s *CancelScope) { s.deadline = deadline }
}

// WithShield starts the scope with cancellation shielding enabled.
func WithShield(shield bool) ScopeOption {
	return func(s *CancelScope) { s.shield = shield }
}

// NewCancelScope constructs an unentered scope.
func NewCancelScope(opts ...ScopeOption) *CancelScope {
	s := &CancelScope{deadline: posInf, registeredDeadline: posInf}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Enter activates the scope under the task carried by ctx, parenting it to
// that task's current cancel status.
func (s *CancelScope) Enter(ctx context.Context) error {
	if s.hasBeenEntered {
		return &RuntimeError{Msg: "cancel scope has already been entered"}
	}
	s.hasBeenEntered = true
	task := mustTask(ctx)
	s.task = task

	if task.runner.currentTime() >= s.deadline {
		s.cancelCalled = true
	}
	s.status = newCancelStatus(s, task.cancelStatus)
	task.activateCancelStatus(s.status)
	s.registerDeadline()
	return nil
}

func (s *CancelScope) registerDeadline() {
	want := posInf
	if !s.cancelCalled {
		want = s.deadline
	}
	if want == s.registeredDeadline {
		return
	}
	r := s.task.runner
	if s.registeredDeadline != posInf {
		r.deadlines.remove(s.registeredDeadline, s)
	}
	if want != posInf {
		r.deadlines.add(want, s)
	}
	oldMin := s.registeredDeadline
	s.registeredDeadline = want
	if r.isGuest && want < oldMin {
		r.forceGuestTickASAP()
	}
}

// Close exits the scope: it restores the task's active cancel status to
// our parent, unregisters our deadline, and filters a now-in-flight
// Cancelled out of exc if this scope (and not some outer one) is the scope
// responsible for it.
func (s *CancelScope) Close(ctx context.Context, exc error) error {
	task := mustTask(ctx)

	if s.status == nil {
		return newMisnestingError("cancel scope stack corrupted: attempted to exit a scope that was never entered, or already exited", exc)
	}
	if task.cancelStatus != s.status {
		switch {
		case s.status.abandonedByMisnesting:
			// An ancestor scope already reported the mis-nesting; stay quiet.
		case !s.status.encloses(task.cancelStatus):
			return newMisnestingError("cancel scope stack corrupted: attempted to exit a scope that doesn't enclose the current scope", exc)
		default:
			replacement := newMisnestingError("cancel scope stack corrupted: still-open child scope leaked out of its 'with' block", exc)
			exc = replacement
			task.activateCancelStatus(s.status.parent)
		}
	} else {
		task.activateCancelStatus(s.status.parent)
	}

	if exc != nil && s.status.effectivelyCancelled && !s.status.parentCancellationVisible() {
		exc = FilterMultiError(exc, func(e error) bool {
			if _, ok := e.(CancelledError); ok {
				s.CancelledCaught = true
				return false
			}
			return true
		})
	}

	s.status.close()
	if s.registeredDeadline != posInf {
		task.runner.deadlines.remove(s.registeredDeadline, s)
		s.registeredDeadline = posInf
	}
	s.status = nil
	return exc
}

// Run enters the scope, invokes fn, and closes the scope with fn's
// result — the Go substitute for Python's "with scope:" block. A panic
// inside fn still runs Close via a deferred recover, then re-panics once
// cleanup is done.
func (s *CancelScope) Run(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if enterErr := s.Enter(ctx); enterErr != nil {
		return enterErr
	}
	defer func() {
		if r := recover(); r != nil {
			s.Close(ctx, nil)
			panic(r)
		}
	}()
	err = fn(ctx)
	return s.Close(ctx, err)
}

// Deadline returns the scope's current deadline.
func (s *CancelScope) Deadline() float64 { return s.deadline }

// SetDeadline changes the scope's deadline, re-registering it with the
// run loop if the scope is currently active.
func (s *CancelScope) SetDeadline(deadline float64) {
	s.deadline = deadline
	if s.status != nil {
		s.registerDeadline()
	}
}

// Shield reports whether the scope currently shields its contents from
// ancestor cancellation.
func (s *CancelScope) Shield() bool { return s.shield }

// SetShield enables or disables shielding, re-evaluating effective
// cancellation for everything under this scope.
func (s *CancelScope) SetShield(shield bool) {
	if s.shield == shield {
		return
	}
	s.shield = shield
	if s.status != nil {
		s.status.recalculate()
	}
}

// Cancel marks the scope (and everything effectively nested under it,
// unless shielded) cancelled. Idempotent.
func (s *CancelScope) Cancel() {
	if s.cancelCalled {
		return
	}
	s.cancelCalled = true
	if s.status != nil {
		s.registerDeadline()
		s.status.recalculate()
	}
}

// CancelCalled reports whether Cancel has been called (directly, or
// implicitly because the deadline already passed at Enter time).
func (s *CancelScope) CancelCalled() bool { return s.cancelCalled }
