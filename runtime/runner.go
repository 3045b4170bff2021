package runtime

import (
	"context"
	"math/rand"
	"sort"
)

type idleWaiter struct {
	cushion float64
	counter uint64
	task    *Task
}

// RunStatistics is a point-in-time snapshot of scheduler health, returned
// by Runner.CurrentStatistics.
type RunStatistics struct {
	TasksLiving           int
	TasksRunnable         int
	SecondsToNextDeadline float64
	RunSyncSoonQueueSize  int
	IO                    IOStatistics
}

// Runner owns every piece of mutable scheduler state: the run queue, the
// live task set, the deadline heap, and the clock/IO/instrument
// collaborators. There is exactly one Runner per Run (or StartGuestRun)
// call, enforced by the package-level activeRun flag.
type Runner struct {
	clock      Clock
	io         IOManager
	instrument Instrument

	runq  []*Task
	tasks map[*Task]struct{}

	deadlines      deadlines
	waitingForIdle []idleWaiter

	initTask        *Task
	systemNursery   *Nursery
	mainTask        *Task
	mainTaskOutcome Outcome

	isGuest            bool
	guestTickScheduled bool
	kiPending          bool
	finished           bool

	taskCounter uint64
	idleCounter uint64

	deterministic bool
	shuffleRand   *rand.Rand

	clockAutojumpThreshold float64
}

func (r *Runner) currentTime() float64 { return r.clock.CurrentTime() }

func (r *Runner) forceGuestTickASAP() {
	if r.guestTickScheduled {
		return
	}
	r.guestTickScheduled = true
	r.io.ForceWakeup()
}

// DeliverKI requests that a keyboard interrupt be delivered to the main
// task at the next opportunity, bypassing cancel scopes.
func (r *Runner) DeliverKI() error {
	if r.finished {
		return RunFinishedError{}
	}
	r.kiPending = true
	return nil
}

// CurrentStatistics snapshots scheduler health.
func (r *Runner) CurrentStatistics() RunStatistics {
	return RunStatistics{
		TasksLiving:           len(r.tasks),
		TasksRunnable:         len(r.runq),
		SecondsToNextDeadline: r.deadlines.nextDeadline() - r.currentTime(),
		RunSyncSoonQueueSize:  0,
		IO:                    r.io.Statistics(),
	}
}

// reschedule marks task runnable again with the given resume outcome. It
// must not already be runnable.
func (r *Runner) reschedule(task *Task, outcome Outcome) {
	if task.scheduled {
		panic(&InternalError{Cause: errf("attempted to reschedule already-runnable task %q", task.name)})
	}
	task.pendingOutcome = outcome
	task.abortFn = nil
	task.scheduled = true
	if r.isGuest && len(r.runq) == 0 {
		r.forceGuestTickASAP()
	}
	r.runq = append(r.runq, task)
	if r.instrument != nil {
		r.instrument.TaskScheduled(task)
	}
}

func (r *Runner) spawnImpl(ctx context.Context, fn Func, nursery *Nursery, name string) *Task {
	if nursery != nil && nursery.closed {
		panic(&RuntimeError{Msg: "nursery is closed to new arrivals"})
	}
	r.taskCounter++
	t := &Task{
		id:            r.taskCounter,
		name:          name,
		runner:        r,
		parentNursery: nursery,
		resumeCh:      make(chan Outcome),
		trapCh:        make(chan trapMsg),
		counter:       r.taskCounter,
	}
	r.tasks[t] = struct{}{}
	if nursery != nil {
		nursery.children[t] = struct{}{}
		t.activateCancelStatus(nursery.cancelStatus)
	}
	if r.instrument != nil {
		r.instrument.TaskSpawned(t)
	}

	go t.run(withTask(ctx, t), fn)
	r.reschedule(t, ValueOutcome(nil))
	return t
}

func (r *Runner) stepTask(task *Task) {
	send := task.pendingOutcome
	task.pendingOutcome = Outcome{}
	task.scheduled = false

	if r.instrument != nil {
		r.instrument.BeforeTaskStep(task)
	}
	task.resumeCh <- send
	msg := <-task.trapCh

	switch msg.kind {
	case trapExited, trapDetach:
		r.taskExited(task, msg.outcome)
	case trapCancelShielded:
		r.reschedule(task, ValueOutcome(nil))
	case trapWaitRescheduled:
		task.abortFn = msg.abort
		if r.kiPending && task == r.mainTask {
			task.attemptDeliveryOfPendingKI()
		}
		task.attemptDeliveryOfAnyPendingCancel()
	default:
		r.reschedule(task, ErrorOutcome(errf("received unrecognized trap from task %q", task.name)))
	}
	if r.instrument != nil {
		r.instrument.AfterTaskStep(task)
	}
}

func (r *Runner) taskExited(task *Task, outcome Outcome) {
	if task.cancelStatus != nil && task.cancelStatus.abandonedByMisnesting && task.cancelStatus.parent == nil {
		_, origErr := outcome.Unwrap()
		outcome = ErrorOutcome(newMisnestingError(
			"cancel scope surrounding "+task.name+" was closed before the task exited", origErr))
	}
	task.activateCancelStatus(nil)
	delete(r.tasks, task)

	switch task {
	case r.initTask:
		if _, err := outcome.Unwrap(); err != nil {
			panic(&InternalError{Cause: err})
		}
		if len(r.tasks) != 0 {
			panic(&InternalError{Cause: errf("init task exited with %d tasks still alive", len(r.tasks))})
		}
	case r.mainTask:
		r.mainTaskOutcome = outcome
		task.parentNursery.childFinished(task, ValueOutcome(nil))
	default:
		task.parentNursery.childFinished(task, outcome)
	}

	if r.instrument != nil {
		r.instrument.TaskExited(task)
	}
}

// WaitAllTasksBlocked parks the calling task until every other task is
// blocked waiting on something for at least cushion seconds (or the run
// loop is about to idle), then resumes it. Used by tests that need to
// synchronize with "nothing else can make progress right now" rather than
// a fixed sleep.
func WaitAllTasksBlocked(ctx context.Context, cushionSeconds float64) error {
	task := mustTask(ctx)
	r := task.runner
	r.idleCounter++
	w := idleWaiter{cushion: cushionSeconds, counter: r.idleCounter, task: task}
	r.waitingForIdle = append(r.waitingForIdle, w)
	sort.Slice(r.waitingForIdle, func(i, j int) bool {
		a, b := r.waitingForIdle[i], r.waitingForIdle[j]
		if a.cushion != b.cushion {
			return a.cushion < b.cushion
		}
		return a.counter < b.counter
	})
	abort := func(func() error) Abort {
		r.removeIdleWaiter(w)
		return AbortSucceeded
	}
	_, err := task.waitTaskRescheduled(abort)
	return err
}

func (r *Runner) removeIdleWaiter(w idleWaiter) {
	for i, cur := range r.waitingForIdle {
		if cur.task == w.task && cur.counter == w.counter {
			r.waitingForIdle = append(r.waitingForIdle[:i], r.waitingForIdle[i+1:]...)
			return
		}
	}
}
