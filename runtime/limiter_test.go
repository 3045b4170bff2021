package runtime

import (
	"context"
	"testing"
)

func TestCapacityLimiterBoundsConcurrency(t *testing.T) {
	limiter := NewCapacityLimiter(2)
	var current, maxSeen int

	err := RunVoid(func(ctx context.Context) error {
		return OpenNursery(ctx, func(ctx context.Context, n *Nursery) error {
			for i := 0; i < 6; i++ {
				n.StartSoon(ctx, func(ctx context.Context) error {
					if err := limiter.Acquire(ctx); err != nil {
						return err
					}
					defer limiter.Release()
					current++
					if current > maxSeen {
						maxSeen = current
					}
					if err := Checkpoint(ctx); err != nil {
						return err
					}
					current--
					return nil
				}, "worker")
			}
			return nil
		})
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if maxSeen > 2 {
		t.Fatalf("observed %d tasks holding capacity at once, limiter allows 2", maxSeen)
	}
	if limiter.BorrowedTokens() != 0 {
		t.Fatalf("expected all tokens released, got %d borrowed", limiter.BorrowedTokens())
	}
}

func TestCapacityLimiterTryAcquireWouldBlock(t *testing.T) {
	limiter := NewCapacityLimiter(1)
	if err := limiter.TryAcquire(); err != nil {
		t.Fatalf("first TryAcquire: %v", err)
	}
	if err := limiter.TryAcquire(); err == nil {
		t.Fatalf("expected WouldBlockError on exhausted limiter")
	}
	limiter.Release()
	if limiter.AvailableTokens() != 1 {
		t.Fatalf("got %d available, want 1", limiter.AvailableTokens())
	}
}

func TestCapacityLimiterReleaseWithoutAcquirePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected Release without a matching Acquire to panic")
		}
	}()
	NewCapacityLimiter(1).Release()
}
