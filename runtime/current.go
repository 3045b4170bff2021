package runtime

import "context"

type taskCtxKey struct{}

func withTask(ctx context.Context, t *Task) context.Context {
	return context.WithValue(ctx, taskCtxKey{}, t)
}

// CurrentTask returns the Task running on the calling goroutine's logical
// thread of execution, or nil if ctx was not produced by this runtime.
func CurrentTask(ctx context.Context) *Task {
	t, _ := ctx.Value(taskCtxKey{}).(*Task)
	return t
}

func mustTask(ctx context.Context) *Task {
	t := CurrentTask(ctx)
	if t == nil {
		panic(&RuntimeError{Msg: "must be called from a task running under runtime.Run or runtime.StartGuestRun"})
	}
	return t
}

// CurrentTime returns the runner's clock reading for the calling task.
func CurrentTime(ctx context.Context) float64 {
	return mustTask(ctx).runner.currentTime()
}

// CurrentEffectiveDeadline returns the tightest deadline that currently
// applies to the calling task, taking shields into account, or negInf if
// the task is already effectively cancelled.
func CurrentEffectiveDeadline(ctx context.Context) float64 {
	return mustTask(ctx).cancelStatus.effectiveDeadline()
}
