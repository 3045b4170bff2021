package runtime

import "context"

// Checkpoint is a full sanctioned suspension point: other runnable tasks
// get a chance to run, and cancellation is delivered if in effect.
func Checkpoint(ctx context.Context) error { return mustTask(ctx).checkpoint() }

// CheckpointIfCancelled delivers cancellation if already in effect;
// otherwise it's a cheap no-op that does not yield.
func CheckpointIfCancelled(ctx context.Context) error { return mustTask(ctx).checkpointIfCancelled() }

// CancelShieldedCheckpoint yields once, unconditionally, without itself
// being cancellable.
func CancelShieldedCheckpoint(ctx context.Context) error { return mustTask(ctx).cancelShieldedCheckpoint() }

// WaitTaskRescheduled parks the calling task until the runner explicitly
// reschedules it, installing abort as the function invoked if the runner
// needs to force an early wake-up.
func WaitTaskRescheduled(ctx context.Context, abort func(raiseCancel func() error) Abort) (any, error) {
	return mustTask(ctx).waitTaskRescheduled(abort)
}

// SleepForever blocks until cancelled; it never returns except via a
// Cancelled error.
func SleepForever(ctx context.Context) error {
	_, err := mustTask(ctx).waitTaskRescheduled(func(func() error) Abort { return AbortSucceeded })
	return err
}

// SleepUntil blocks until CurrentTime(ctx) reaches deadline, or the
// enclosing scope tree is cancelled first. A deadline that has already
// passed is equivalent to a single checkpoint.
func SleepUntil(ctx context.Context, deadline float64) error {
	scope := NewCancelScope(WithDeadline(deadline))
	return scope.Run(ctx, func(ctx context.Context) error {
		return SleepForever(ctx)
	})
}

// Sleep blocks for d, rounded down to a single checkpoint for d <= 0.
func Sleep(ctx context.Context, d float64) error {
	if d <= 0 {
		return Checkpoint(ctx)
	}
	return SleepUntil(ctx, CurrentTime(ctx)+d)
}
