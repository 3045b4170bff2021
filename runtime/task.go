package runtime

import (
	"context"
	"fmt"
	"math"
)

// Abort is the result a parked task's abort function returns when the
// runner asks it to unwind early (almost always because of cancellation).
type Abort int

const (
	// AbortFailed means the waiting primitive cannot be aborted right now
	// and retains responsibility for eventually rescheduling the task.
	AbortFailed Abort = iota
	// AbortSucceeded means the abort took effect; the runner will
	// reschedule the task with a Cancelled (or KeyboardInterrupt) outcome.
	AbortSucceeded
)

type abortFunc func(raiseCancel func() error) Abort

type trapKind int

const (
	trapCancelShielded trapKind = iota
	trapWaitRescheduled
	trapDetach
	trapExited
)

type trapMsg struct {
	kind    trapKind
	abort   abortFunc
	outcome Outcome
}

// Func is the body of a task: a nursery child, the main task, or a system
// task. It receives a context carrying the running Task and returns an
// error, following the same convention as golang.org/x/sync/errgroup.
type Func func(ctx context.Context) error

// Task is a single schedulable unit of work: a goroutine driven one step
// at a time by the Runner through a strict request/response channel pair,
// so that at most one task's code ever executes at a time.
type Task struct {
	id   uint64
	name string

	runner        *Runner
	parentNursery *Nursery

	cancelStatus          *cancelStatus
	childNurseries        []*Nursery
	eventualParentNursery *Nursery

	resumeCh chan Outcome
	trapCh   chan trapMsg

	pendingOutcome Outcome
	scheduled      bool
	abortFn        abortFunc

	customSleepData any

	counter uint64
}

// Name returns the task's diagnostic name.
func (t *Task) Name() string { return t.name }

func (t *Task) run(ctx context.Context, fn Func) {
	<-t.resumeCh
	outcome := captureRun(fn, ctx)
	t.trapCh <- trapMsg{kind: trapExited, outcome: outcome}
}

func captureRun(fn Func, ctx context.Context) (outcome Outcome) {
	defer func() {
		if r := recover(); r != nil {
			if e, ok := r.(error); ok {
				outcome = ErrorOutcome(fmt.Errorf("panic: %w", e))
			} else {
				outcome = ErrorOutcome(fmt.Errorf("panic: %v", r))
			}
		}
	}()
	if err := fn(ctx); err != nil {
		return ErrorOutcome(err)
	}
	return ValueOutcome(nil)
}

// sendTrap hands a trap to the runner and blocks until the runner resumes
// this task with an Outcome.
func (t *Task) sendTrap(msg trapMsg) Outcome {
	t.trapCh <- msg
	return <-t.resumeCh
}

// cancelShieldedCheckpoint yields once, unconditionally, without checking
// for cancellation — used both standalone and as the first half of
// checkpoint.
func (t *Task) cancelShieldedCheckpoint() error {
	outcome := t.sendTrap(trapMsg{kind: trapCancelShielded})
	_, err := outcome.Unwrap()
	return err
}

// waitTaskRescheduled parks the task: abort is installed as the task's
// abort function and will be invoked if the runner needs to force a wake
// up (cancellation, or a keyboard interrupt on the main task). A normal
// wake-up, such as a channel handing over a value, reschedules the task
// directly without calling abort.
func (t *Task) waitTaskRescheduled(abort abortFunc) (any, error) {
	outcome := t.sendTrap(trapMsg{kind: trapWaitRescheduled, abort: abort})
	return outcome.Unwrap()
}

// checkpointIfCancelled performs a checkpoint only if cancellation (or
// pending keyboard interrupt on the main task) is already effective;
// otherwise it's a cheap no-op.
func (t *Task) checkpointIfCancelled() error {
	if t.cancelStatus.effectivelyCancelled || (t == t.runner.mainTask && t.runner.kiPending) {
		return t.checkpoint()
	}
	return nil
}

// checkpoint is a full sanctioned suspension point: it always yields once
// (cancelShieldedCheckpoint), then, if cancellation is in effect, opens a
// throwaway scope with an already-passed deadline and parks in it so that
// the resulting Cancelled is correctly attributed to (and absorbed by)
// whichever real scope requested the cancellation, rather than leaking an
// un-owned Cancelled out of this function.
func (t *Task) checkpoint() error {
	if err := t.cancelShieldedCheckpoint(); err != nil {
		return err
	}
	if !(t.cancelStatus.effectivelyCancelled || (t == t.runner.mainTask && t.runner.kiPending)) {
		return nil
	}
	ctx := withTask(context.Background(), t)
	inner := NewCancelScope(WithDeadline(math.Inf(-1)))
	if err := inner.Enter(ctx); err != nil {
		return err
	}
	_, werr := t.waitTaskRescheduled(func(func() error) Abort { return AbortSucceeded })
	return inner.Close(ctx, werr)
}

func (t *Task) activateCancelStatus(status *cancelStatus) {
	if t.cancelStatus != nil {
		delete(t.cancelStatus.tasks, t)
	}
	t.cancelStatus = status
	if status != nil {
		status.tasks[t] = struct{}{}
		if status.effectivelyCancelled {
			t.attemptDeliveryOfAnyPendingCancel()
		}
	}
}

// attemptDeliveryOfAnyPendingCancel asks the task's currently-parked abort
// function to unwind for cancellation, if one is installed and
// cancellation is in effect.
func (t *Task) attemptDeliveryOfAnyPendingCancel() {
	if t.abortFn == nil {
		return
	}
	if t.cancelStatus == nil || !t.cancelStatus.effectivelyCancelled {
		return
	}
	t.attemptAbort(func() error { return Cancelled })
}

// attemptDeliveryOfPendingKI bypasses cancel scopes entirely and, if the
// main task is parked, wakes it with a keyboard interrupt.
func (t *Task) attemptDeliveryOfPendingKI() {
	if t.abortFn == nil || !t.runner.kiPending {
		return
	}
	if t.attemptAbort(func() error { return ErrKeyboardInterrupt }) {
		t.runner.kiPending = false
	}
}

func (t *Task) attemptAbort(raiseCancel func() error) bool {
	result := t.abortFn(raiseCancel)
	if result == AbortSucceeded {
		t.abortFn = nil
		t.runner.reschedule(t, ErrorOutcome(raiseCancel()))
		return true
	}
	return false
}
