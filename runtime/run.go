package runtime

import (
	"context"
	"sync/atomic"
	"time"
)

type idlePrimedType int

const (
	idlePrimedNone idlePrimedType = iota
	idlePrimedWaitingForIdle
	idlePrimedAutojump
)

// activeRun enforces that only one Run or StartGuestRun executes per
// process at a time — the closest faithful analogue of a per-OS-thread
// reentrancy guard, given that goroutines aren't bound to OS threads.
var activeRun atomic.Bool

// runConfig collects the options a RunOption may set.
type runConfig struct {
	clock                  Clock
	io                     IOManager
	instrument             Instrument
	clockAutojumpThreshold float64
	deterministic          bool
	seed                   int64
}

// RunOption configures a Run or StartGuestRun call.
type RunOption func(*runConfig)

// WithClock overrides the default SystemClock.
func WithClock(c Clock) RunOption { return func(cfg *runConfig) { cfg.clock = c } }

// WithIOManager overrides the default non-polling IOManager with a real
// platform reactor.
func WithIOManager(io IOManager) RunOption { return func(cfg *runConfig) { cfg.io = io } }

// WithInstrument attaches an observability plugin to the run.
func WithInstrument(i Instrument) RunOption { return func(cfg *runConfig) { cfg.instrument = i } }

// WithClockAutojumpThreshold enables the clock-autojump idle-priming path:
// once every task has been idle for this many seconds, an
// autojumpClock-implementing Clock is asked to jump forward to the next
// deadline instead of burning wall-clock time.
func WithClockAutojumpThreshold(d time.Duration) RunOption {
	return func(cfg *runConfig) { cfg.clockAutojumpThreshold = d.Seconds() }
}

// WithDeterministicScheduling replaces the default randomized batch order
// with a seeded, reproducible shuffle — for tests that need repeatable
// interleavings.
func WithDeterministicScheduling(seed int64) RunOption {
	return func(cfg *runConfig) { cfg.deterministic = true; cfg.seed = seed }
}

func newRunner(cfg runConfig) *Runner {
	r := &Runner{
		clock:                  cfg.clock,
		io:                     cfg.io,
		instrument:             cfg.instrument,
		tasks:                  map[*Task]struct{}{},
		clockAutojumpThreshold: cfg.clockAutojumpThreshold,
		deterministic:          cfg.deterministic,
	}
	if r.clock == nil {
		r.clock = NewSystemClock()
	}
	if r.io == nil {
		r.io = newNullIOManager()
	}
	if r.clockAutojumpThreshold == 0 {
		r.clockAutojumpThreshold = posInf
	}
	if r.deterministic {
		r.shuffleRand = deterministicRand(cfg.seed)
	}
	return r
}

func (r *Runner) initFn(ctx context.Context, mainFn Func) error {
	return OpenNursery(ctx, func(ctx context.Context, sysNursery *Nursery) error {
		r.systemNursery = sysNursery
		err := OpenNursery(ctx, func(ctx context.Context, mainNursery *Nursery) error {
			r.mainTask = r.spawnImpl(ctx, mainFn, mainNursery, "main")
			return nil
		})
		sysNursery.CancelScope.Cancel()
		return err
	})
}

// Run executes fn to completion on a fresh Runner and returns its result
// together with any error. Only one Run (or StartGuestRun) may be active
// per process.
func Run[T any](fn func(ctx context.Context) (T, error), opts ...RunOption) (T, error) {
	var zero, result T
	wrapped := func(ctx context.Context) error {
		v, err := fn(ctx)
		result = v
		return err
	}
	err := runVoid(wrapped, opts...)
	if err != nil {
		return zero, err
	}
	return result, nil
}

// RunVoid is the error-only form of Run, for callers with no result
// value to thread through.
func RunVoid(fn Func, opts ...RunOption) error {
	return runVoid(fn, opts...)
}

func runVoid(fn Func, opts ...RunOption) error {
	if !activeRun.CompareAndSwap(false, true) {
		panic(&RuntimeError{Msg: "Run reentered: only one run may be active per process"})
	}
	defer activeRun.Store(false)

	cfg := runConfig{}
	for _, o := range opts {
		o(&cfg)
	}
	r := newRunner(cfg)
	if r.instrument != nil {
		r.instrument.BeforeRun()
	}
	defer func() {
		if r.instrument != nil {
			r.instrument.AfterRun()
		}
		r.finished = true
		r.io.Close()
	}()

	r.clock.StartClock()
	r.initTask = r.spawnImpl(context.Background(), func(ctx context.Context) error {
		return r.initFn(ctx, fn)
	}, nil, "<init>")

	for len(r.tasks) > 0 {
		timeout, idlePrimed := r.prepareIteration()
		if r.instrument != nil {
			r.instrument.BeforeIOWait(timeout)
		}
		events, _ := r.io.GetEvents(durationFromSeconds(timeout))
		if r.instrument != nil {
			r.instrument.AfterIOWait(timeout)
		}
		r.completeIteration(events, idlePrimed)
	}

	_, err := r.mainTaskOutcome.Unwrap()
	return err
}

// prepareIteration computes how long the run loop may block for I/O
// before something else needs attention (steps 1-3 of the loop
// algorithm).
func (r *Runner) prepareIteration() (float64, idlePrimedType) {
	var timeout float64
	if len(r.runq) > 0 {
		timeout = 0
	} else {
		timeout = clamp(r.clock.DeadlineToSleepTime(r.deadlines.nextDeadline()), 0, maxTimeoutSeconds)
	}

	idlePrimed := idlePrimedNone
	if len(r.waitingForIdle) > 0 {
		if cushion := r.waitingForIdle[0].cushion; cushion < timeout {
			timeout = cushion
			idlePrimed = idlePrimedWaitingForIdle
		}
	} else if r.clockAutojumpThreshold < timeout {
		timeout = r.clockAutojumpThreshold
		idlePrimed = idlePrimedAutojump
	}
	return timeout, idlePrimed
}

// completeIteration processes a batch of I/O events fetched for the
// timeout prepareIteration computed, expires deadlines, handles idle
// priming, and steps every task that was runnable at the start of the
// iteration (steps 5-9).
func (r *Runner) completeIteration(events Events, idlePrimed idlePrimedType) {
	r.io.ProcessEvents(events)

	now := r.clock.CurrentTime()
	if r.deadlines.expire(now) {
		idlePrimed = idlePrimedNone
	}

	if idlePrimed != idlePrimedNone && len(r.runq) == 0 && events.IsEmpty() {
		switch idlePrimed {
		case idlePrimedWaitingForIdle:
			cushion := r.waitingForIdle[0].cushion
			for len(r.waitingForIdle) > 0 && r.waitingForIdle[0].cushion == cushion {
				w := r.waitingForIdle[0]
				r.waitingForIdle = r.waitingForIdle[1:]
				r.reschedule(w.task, ValueOutcome(nil))
			}
		case idlePrimedAutojump:
			if aj, ok := r.clock.(autojumpClock); ok {
				aj.Autojump()
			}
		}
	}

	batch := r.runq
	r.runq = nil
	shuffleBatch(batch, r.deterministic, r.shuffleRand)

	for _, task := range batch {
		r.stepTask(task)
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func durationFromSeconds(s float64) time.Duration {
	if s <= 0 {
		return 0
	}
	return time.Duration(s * float64(time.Second))
}
