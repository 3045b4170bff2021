package runtime

import (
	"math/rand"
	"time"
)

// Clock abstracts wall-clock access so tests can substitute a virtual
// clock without the run loop knowing the difference.
type Clock interface {
	StartClock()
	CurrentTime() float64
	DeadlineToSleepTime(deadline float64) float64
}

// autojumpClock is implemented by clocks that support the run loop's
// idle-autojump feature (skip forward to the next deadline instead of
// burning wall-clock time waiting for it).
type autojumpClock interface {
	Autojump()
}

// SystemClock is the default Clock: wall-clock time with a random
// per-clock offset (each Run without WithClock creates a fresh one), so
// that two runs' CurrentTime readings are never
// comparable and tests can't accidentally depend on absolute values.
type SystemClock struct {
	offset float64
}

// NewSystemClock constructs a SystemClock with a random offset.
func NewSystemClock() *SystemClock {
	return &SystemClock{offset: rand.Float64() * 10000}
}

func (c *SystemClock) StartClock() {}

func (c *SystemClock) CurrentTime() float64 {
	return c.offset + float64(time.Now().UnixNano())/1e9
}

func (c *SystemClock) DeadlineToSleepTime(deadline float64) float64 {
	return deadline - c.CurrentTime()
}
