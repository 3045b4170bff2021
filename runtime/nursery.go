package runtime

import "context"

// Nursery is a structured-concurrency join point: every task started
// through it is guaranteed to have finished by the time the enclosing
// OpenNursery call returns, and any errors they raised are aggregated
// into a single returned error.
type Nursery struct {
	parentTask   *Task
	CancelScope  *CancelScope
	cancelStatus *cancelStatus

	children           map[*Task]struct{}
	pendingExcs        []error
	nestedChildRunning bool
	pendingStarts      int
	closed             bool
	parentWaitingInAexit bool

	limiter *CapacityLimiter
}

// NurseryOption configures a Nursery at OpenNursery time.
type NurseryOption func(*nurseryConfig)

type nurseryConfig struct {
	maxConcurrency int
}

// WithMaxConcurrency bounds how many StartSoon bodies may be underway at
// once inside this nursery, backed by a CapacityLimiter.
func WithMaxConcurrency(n int) NurseryOption {
	return func(c *nurseryConfig) { c.maxConcurrency = n }
}

// OpenNursery opens a nursery scoped to fn: fn runs synchronously (as the
// nursery's "nested child"), typically calling StartSoon/Start a few
// times and returning immediately, after which OpenNursery blocks until
// every spawned task has finished. The returned error aggregates fn's own
// error together with every child's error.
func OpenNursery(ctx context.Context, fn func(ctx context.Context, n *Nursery) error, opts ...NurseryOption) error {
	cfg := nurseryConfig{}
	for _, o := range opts {
		o(&cfg)
	}

	task := mustTask(ctx)
	scope := NewCancelScope()
	if err := scope.Enter(ctx); err != nil {
		return err
	}

	n := &Nursery{
		parentTask:         task,
		CancelScope:        scope,
		cancelStatus:       task.cancelStatus,
		children:           map[*Task]struct{}{},
		nestedChildRunning: true,
	}
	if cfg.maxConcurrency > 0 {
		n.limiter = NewCapacityLimiter(cfg.maxConcurrency)
	}
	task.childNurseries = append(task.childNurseries, n)

	var nestedExc error
	func() {
		defer func() {
			if r := recover(); r != nil {
				combined := n.nestedChildFinished(ctx, nil)
				scope.Close(ctx, combined)
				panic(r)
			}
		}()
		nestedExc = fn(ctx, n)
	}()

	combined := n.nestedChildFinished(ctx, nestedExc)
	return scope.Close(ctx, combined)
}

func (n *Nursery) addExc(exc error) {
	if exc == nil {
		return
	}
	n.pendingExcs = append(n.pendingExcs, exc)
	n.CancelScope.Cancel()
}

func (n *Nursery) checkNurseryClosed() {
	if n.nestedChildRunning || len(n.children) > 0 || n.pendingStarts > 0 {
		return
	}
	n.closed = true
	if n.parentWaitingInAexit {
		n.parentWaitingInAexit = false
		n.parentTask.runner.reschedule(n.parentTask, ValueOutcome(nil))
	}
}

func (n *Nursery) childFinished(task *Task, outcome Outcome) {
	delete(n.children, task)
	if _, err := outcome.Unwrap(); err != nil {
		n.addExc(err)
	}
	n.checkNurseryClosed()
}

// nestedChildFinished folds nestedExc (fn's own return value) into the
// pending errors, then waits for any still-running children before
// returning the aggregated result.
func (n *Nursery) nestedChildFinished(ctx context.Context, nestedExc error) error {
	n.addExc(nestedExc)
	n.nestedChildRunning = false
	n.checkNurseryClosed()

	if !n.closed {
		n.parentWaitingInAexit = true
		n.parentTask.waitTaskRescheduled(func(raiseCancel func() error) Abort {
			n.addExc(raiseCancel())
			return AbortFailed
		})
	} else if err := n.parentTask.checkpoint(); err != nil {
		n.addExc(err)
	}

	last := len(n.parentTask.childNurseries) - 1
	n.parentTask.childNurseries = n.parentTask.childNurseries[:last]

	return NewMultiError(n.pendingExcs)
}

// StartSoon schedules fn to run as a new child task of the nursery. It
// returns immediately; fn begins running no earlier than the next run
// loop iteration.
func (n *Nursery) StartSoon(ctx context.Context, fn Func, name string) {
	body := fn
	if n.limiter != nil {
		limiter := n.limiter
		body = func(ctx context.Context) error {
			if err := limiter.Acquire(ctx); err != nil {
				return err
			}
			defer limiter.Release()
			return fn(ctx)
		}
	}
	n.parentTask.runner.spawnImpl(ctx, body, n, name)
}

// TaskStatus is handed to the body of a task started via Nursery.Start; it
// must call Started exactly once to hand the task off to the target
// nursery.
type TaskStatus struct {
	oldNursery    *Nursery
	newNursery    *Nursery
	calledStarted bool
	value         any
}

// Started reparents the calling task from the temporary staging nursery
// used by Start into the real target nursery, and unblocks Start with
// value.
func (ts *TaskStatus) Started(value any) {
	if ts.calledStarted {
		panic(&RuntimeError{Msg: "called Started() twice on the same task status"})
	}
	ts.calledStarted = true
	ts.value = value

	if ts.oldNursery.cancelStatus.effectivelyCancelled {
		return
	}

	tasks := ts.oldNursery.children
	ts.oldNursery.children = map[*Task]struct{}{}
	for t := range tasks {
		t.parentNursery = ts.newNursery
		t.eventualParentNursery = nil
		ts.newNursery.children[t] = struct{}{}
	}

	csChildren := make([]*cancelStatus, 0, len(ts.oldNursery.cancelStatus.children))
	for c := range ts.oldNursery.cancelStatus.children {
		csChildren = append(csChildren, c)
	}
	csTasks := make([]*Task, 0, len(ts.oldNursery.cancelStatus.tasks))
	for t := range ts.oldNursery.cancelStatus.tasks {
		if t == ts.oldNursery.parentTask {
			continue
		}
		csTasks = append(csTasks, t)
	}

	// Detach everything from the old side before attaching anything to
	// the new side: attaching under a cancelled target nursery can invoke
	// an abort function synchronously, which must not see half-migrated
	// state.
	for _, c := range csChildren {
		c.setParent(nil)
	}
	for _, t := range csTasks {
		t.activateCancelStatus(nil)
	}
	for _, c := range csChildren {
		c.setParent(ts.newNursery.cancelStatus)
	}
	for _, t := range csTasks {
		t.activateCancelStatus(ts.newNursery.cancelStatus)
	}

	ts.oldNursery.checkNurseryClosed()
}

// Start spawns fn as a new task and blocks until it calls
// TaskStatus.Started(value), returning that value. The task keeps running
// afterwards, now parented to n rather than to any scope local to this
// call — the structured-concurrency equivalent of a handshake-gated
// spawn, used when the caller needs to know the child reached a certain
// point (e.g. a listener is bound) before continuing.
func (n *Nursery) Start(ctx context.Context, fn func(ctx context.Context, ts *TaskStatus) error, name string) (any, error) {
	if n.closed {
		return nil, &RuntimeError{Msg: "nursery is closed to new arrivals"}
	}
	n.pendingStarts++
	defer func() {
		n.pendingStarts--
		n.checkNurseryClosed()
	}()

	var ts *TaskStatus
	err := OpenNursery(ctx, func(ctx context.Context, staging *Nursery) error {
		ts = &TaskStatus{oldNursery: staging, newNursery: n}
		t := staging.parentTask.runner.spawnImpl(ctx, func(ctx context.Context) error {
			return fn(ctx, ts)
		}, staging, name)
		t.eventualParentNursery = n
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !ts.calledStarted {
		return nil, &RuntimeError{Msg: "child exited without calling task_status.Started()"}
	}
	return ts.value, nil
}
