package runtime

// Instrument receives lifecycle events from the run loop: task spawn/
// schedule/step/exit and IO-wait bracketing. A nil Instrument disables all
// hooks at zero cost; implementations should return quickly since they
// run inline in the scheduler's single logical thread.
type Instrument interface {
	BeforeRun()
	AfterRun()
	TaskSpawned(task *Task)
	TaskScheduled(task *Task)
	BeforeTaskStep(task *Task)
	AfterTaskStep(task *Task)
	TaskExited(task *Task)
	BeforeIOWait(timeoutSeconds float64)
	AfterIOWait(timeoutSeconds float64)
}
