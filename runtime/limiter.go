package runtime

import "context"

// CapacityLimiter bounds how many tasks may hold a unit of capacity at
// once — the structured-concurrency analogue of the teacher's
// channel-backed semaphore Limiter. It cannot be implemented on top of a
// buffered channel or an OS semaphore here: a blocking Acquire call made
// directly from inside a task body would stall the single goroutine that
// drives every task in the scheduler, since nothing else can run to
// Release capacity while that goroutine is parked outside the trap
// protocol. Acquire instead parks the calling task through the same
// wait/reschedule mechanism a MemoryChannel uses, so other tasks keep
// running while one waits for capacity.
type CapacityLimiter struct {
	total    int
	borrowed int
	waiters  *orderedTaskMap[struct{}]
}

// NewCapacityLimiter constructs a limiter allowing at most total
// concurrent holders.
func NewCapacityLimiter(total int) *CapacityLimiter {
	return &CapacityLimiter{total: total, waiters: newOrderedTaskMap[struct{}]()}
}

// TotalTokens returns the configured capacity.
func (l *CapacityLimiter) TotalTokens() int { return l.total }

// BorrowedTokens returns how many units are currently held.
func (l *CapacityLimiter) BorrowedTokens() int { return l.borrowed }

// AvailableTokens returns how many units could be acquired immediately.
func (l *CapacityLimiter) AvailableTokens() int { return l.total - l.borrowed }

// TryAcquire acquires one unit without blocking, or returns
// WouldBlockError if none are available.
func (l *CapacityLimiter) TryAcquire() error {
	if l.borrowed >= l.total {
		return WouldBlockError{}
	}
	l.borrowed++
	return nil
}

// Acquire blocks until a unit of capacity is available. It is always a
// checkpoint.
func (l *CapacityLimiter) Acquire(ctx context.Context) error {
	if err := CheckpointIfCancelled(ctx); err != nil {
		return err
	}
	if err := l.TryAcquire(); err == nil {
		return CancelShieldedCheckpoint(ctx)
	}

	task := mustTask(ctx)
	l.waiters.set(task, struct{}{})
	abort := func(func() error) Abort {
		l.waiters.delete(task)
		return AbortSucceeded
	}
	_, err := task.waitTaskRescheduled(abort)
	return err
}

// Release returns one unit of capacity, waking the longest-waiting
// parked Acquire if any. Panics if called more times than Acquire
// succeeded, mirroring the teacher's own defensive Limiter contract.
func (l *CapacityLimiter) Release() {
	if l.borrowed <= 0 {
		panic(&RuntimeError{Msg: "CapacityLimiter.Release called without a matching Acquire"})
	}
	l.borrowed--
	if task, _, ok := l.waiters.popFront(); ok {
		l.borrowed++
		task.runner.reschedule(task, ValueOutcome(nil))
	}
}
