package runtime

import "context"

// GuestRunOptions wires the scheduler into a foreign host event loop.
// RunSyncSoonThreadsafe must be safe to call from another goroutine (it's
// used to deliver the result of an offloaded blocking I/O poll);
// RunSyncSoonNotThreadsafe is only ever called from the host loop's own
// goroutine. Done fires exactly once, when the guest run finishes.
type GuestRunOptions struct {
	RunSyncSoonThreadsafe    func(func())
	RunSyncSoonNotThreadsafe func(func())
	Done                     func(error)
}

type guestState struct {
	runner *Runner
	opts   GuestRunOptions
}

// StartGuestRun installs a Runner and drives it as a series of callbacks
// on a foreign host event loop rather than blocking the calling
// goroutine. It returns immediately after scheduling the first tick;
// opts.Done fires once the run finishes.
func StartGuestRun(fn Func, opts GuestRunOptions, runOpts ...RunOption) {
	if !activeRun.CompareAndSwap(false, true) {
		panic(&RuntimeError{Msg: "Run reentered: only one run may be active per process"})
	}

	cfg := runConfig{}
	for _, o := range runOpts {
		o(&cfg)
	}
	r := newRunner(cfg)
	r.isGuest = true
	if r.instrument != nil {
		r.instrument.BeforeRun()
	}

	gs := &guestState{runner: r, opts: opts}

	r.clock.StartClock()
	r.initTask = r.spawnImpl(context.Background(), func(ctx context.Context) error {
		return r.initFn(ctx, fn)
	}, nil, "<init>")

	gs.tick()
}

func (gs *guestState) finish() {
	r := gs.runner
	if r.instrument != nil {
		r.instrument.AfterRun()
	}
	r.finished = true
	r.io.Close()
	activeRun.Store(false)
	_, err := r.mainTaskOutcome.Unwrap()
	gs.opts.Done(err)
}

// tick advances the run loop by exactly one iteration, then arranges for
// the next tick: immediately (via the host's non-threadsafe scheduler) if
// there's no reason to block, or after offloading a blocking I/O poll to
// a throwaway goroutine otherwise. This mirrors the source's generator-
// based guest_tick trampoline using plain callbacks instead.
func (gs *guestState) tick() {
	r := gs.runner
	if len(r.tasks) == 0 {
		gs.finish()
		return
	}

	r.guestTickScheduled = false
	timeout, idlePrimed := r.prepareIteration()

	events, _ := r.io.GetEvents(0)
	if timeout <= 0 || !events.IsEmpty() {
		r.completeIteration(events, idlePrimed)
		r.guestTickScheduled = true
		gs.opts.RunSyncSoonNotThreadsafe(gs.tick)
		return
	}

	go func() {
		polled, _ := r.io.GetEvents(durationFromSeconds(timeout))
		gs.opts.RunSyncSoonThreadsafe(func() {
			r.completeIteration(polled, idlePrimed)
			r.guestTickScheduled = true
			gs.tick()
		})
	}()
}
