package errgroup

import (
	"context"
	"errors"
	"testing"

	"github.com/katunaran/scoperun/runtime"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestRunHappyPath(t *testing.T) {
	var a, b bool
	err := runtime.RunVoid(func(ctx context.Context) error {
		return Run(ctx, func(ctx context.Context, g *Group) error {
			g.Go(func(ctx context.Context) error { a = true; return nil })
			g.Go(func(ctx context.Context) error {
				if serr := runtime.Sleep(ctx, 0.001); serr != nil {
					return serr
				}
				b = true
				return nil
			})
			return nil
		})
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !a || !b {
		t.Fatalf("expected both tasks to have run, got a=%v b=%v", a, b)
	}
}

func TestRunErrorCancelsSiblings(t *testing.T) {
	boom := errors.New("boom")
	var siblingCancelled bool

	err := runtime.RunVoid(func(ctx context.Context) error {
		return Run(ctx, func(ctx context.Context, g *Group) error {
			g.Go(func(ctx context.Context) error { return boom })
			g.Go(func(ctx context.Context) error {
				serr := runtime.SleepForever(ctx)
				siblingCancelled = errors.Is(serr, runtime.Cancelled)
				return serr
			})
			return nil
		})
	})

	// The sibling's Cancelled is absorbed by the group's own cancel scope,
	// leaving boom as the only error, which is returned unwrapped.
	if _, ok := err.(*runtime.MultiError); ok {
		t.Fatalf("expected a single error, got *runtime.MultiError (%v)", err)
	}
	if err != boom {
		t.Fatalf("expected the group error to be %v, got %T (%v)", boom, err, err)
	}
	if !siblingCancelled {
		t.Fatalf("expected the sibling task to observe cancellation")
	}
}

func TestSetLimitBoundsConcurrency(t *testing.T) {
	var current, maxSeen int

	err := runtime.RunVoid(func(ctx context.Context) error {
		return Run(ctx, func(ctx context.Context, g *Group) error {
			g.SetLimit(2)
			for i := 0; i < 6; i++ {
				g.Go(func(ctx context.Context) error {
					current++
					if current > maxSeen {
						maxSeen = current
					}
					if err := runtime.Checkpoint(ctx); err != nil {
						return err
					}
					current--
					return nil
				})
			}
			return nil
		})
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if maxSeen > 2 {
		t.Fatalf("observed %d tasks running at once, SetLimit(2) should cap at 2", maxSeen)
	}
}
