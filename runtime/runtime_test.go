package runtime

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestRunReturnsValue(t *testing.T) {
	got, err := Run(func(ctx context.Context) (int, error) {
		return 42, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 42 {
		t.Fatalf("got %d, want 42", got)
	}
}

func TestRunPropagatesMainError(t *testing.T) {
	want := errors.New("boom")
	_, err := Run(func(ctx context.Context) (int, error) {
		return 0, want
	})
	if !errors.Is(err, want) {
		t.Fatalf("got %v, want %v", err, want)
	}
}

func TestDeadlineCancelsSleep(t *testing.T) {
	var cancelledCaught bool
	err := RunVoid(func(ctx context.Context) error {
		scope := NewCancelScope(WithDeadline(CurrentTime(ctx) + 0.01))
		runErr := scope.Run(ctx, func(ctx context.Context) error {
			return SleepForever(ctx)
		})
		cancelledCaught = scope.CancelledCaught
		return runErr
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !cancelledCaught {
		t.Fatalf("expected scope to have caught its own deadline cancellation")
	}
}

func TestShieldBlocksParentCancel(t *testing.T) {
	var afterShieldErr error
	err := RunVoid(func(ctx context.Context) error {
		outer := NewCancelScope()
		return outer.Run(ctx, func(ctx context.Context) error {
			inner := NewCancelScope(WithShield(true))
			innerErr := inner.Run(ctx, func(ctx context.Context) error {
				outer.Cancel()
				return Checkpoint(ctx)
			})
			if innerErr != nil {
				t.Errorf("shielded inner scope observed cancellation: %v", innerErr)
			}
			// Once we leave the shield, the outer cancellation becomes visible.
			afterShieldErr = Checkpoint(ctx)
			return afterShieldErr
		})
	})
	if !errors.Is(afterShieldErr, Cancelled) {
		t.Fatalf("expected outer cancellation to surface after shield exit, got %v", afterShieldErr)
	}
	if err != nil {
		t.Fatalf("expected the outer scope to absorb its own cancellation, got %v", err)
	}
}

func TestNurseryAggregatesErrors(t *testing.T) {
	errA := errors.New("task a failed")
	errB := errors.New("task b failed")

	err := RunVoid(func(ctx context.Context) error {
		return OpenNursery(ctx, func(ctx context.Context, n *Nursery) error {
			n.StartSoon(ctx, func(ctx context.Context) error { return errA }, "a")
			n.StartSoon(ctx, func(ctx context.Context) error { return errB }, "b")
			return nil
		})
	})

	me, ok := err.(*MultiError)
	if !ok {
		t.Fatalf("expected *MultiError, got %T (%v)", err, err)
	}
	if len(me.Errors) != 2 {
		t.Fatalf("expected 2 leaves, got %d", len(me.Errors))
	}
}

func TestNurseryStartReparents(t *testing.T) {
	var gotValue any
	var childDone bool
	err := RunVoid(func(ctx context.Context) error {
		return OpenNursery(ctx, func(ctx context.Context, n *Nursery) error {
			v, startErr := n.Start(ctx, func(ctx context.Context, ts *TaskStatus) error {
				ts.Started(42)
				childDone = true
				return nil
			}, "child")
			if startErr != nil {
				return startErr
			}
			gotValue = v
			return nil
		})
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotValue != 42 {
		t.Fatalf("got %v, want 42", gotValue)
	}
	if !childDone {
		t.Fatalf("expected child body to have run to completion")
	}
}

func TestMisnestingDetected(t *testing.T) {
	err := RunVoid(func(ctx context.Context) error {
		task := mustTask(ctx)
		outer := NewCancelScope()
		if enterErr := outer.Enter(ctx); enterErr != nil {
			return enterErr
		}
		inner := NewCancelScope()
		if enterErr := inner.Enter(ctx); enterErr != nil {
			return enterErr
		}
		// Close outer while inner is still active: mis-nesting. Close
		// already resets task.cancelStatus to the sane ancestor (outer's
		// own parent) as part of reporting the mis-nesting, so there is
		// nothing left for the test to restore here.
		closeErr := outer.Close(ctx, nil)
		var rerr *RuntimeError
		if !errors.As(closeErr, &rerr) {
			t.Fatalf("expected *RuntimeError, got %v", closeErr)
		}
		if task.cancelStatus == inner.status || task.cancelStatus == outer.status {
			t.Fatalf("expected Close to reset the task onto a sane ancestor, got %v", task.cancelStatus)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected top-level error: %v", err)
	}
}
