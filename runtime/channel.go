package runtime

import (
	"container/list"
	"context"
	"math"
)

type orderedTaskEntry[T any] struct {
	task  *Task
	value T
}

// orderedTaskMap is an insertion-ordered map keyed by *Task, giving FIFO
// semantics to the parked-sender/parked-receiver queues a memory channel
// needs.
type orderedTaskMap[T any] struct {
	order *list.List
	index map[*Task]*list.Element
}

func newOrderedTaskMap[T any]() *orderedTaskMap[T] {
	return &orderedTaskMap[T]{order: list.New(), index: map[*Task]*list.Element{}}
}

func (m *orderedTaskMap[T]) set(t *Task, v T) {
	if e, ok := m.index[t]; ok {
		e.Value = orderedTaskEntry[T]{task: t, value: v}
		return
	}
	m.index[t] = m.order.PushBack(orderedTaskEntry[T]{task: t, value: v})
}

func (m *orderedTaskMap[T]) delete(t *Task) {
	if e, ok := m.index[t]; ok {
		m.order.Remove(e)
		delete(m.index, t)
	}
}

func (m *orderedTaskMap[T]) len() int { return m.order.Len() }

func (m *orderedTaskMap[T]) popFront() (*Task, T, bool) {
	e := m.order.Front()
	if e == nil {
		var zero T
		return nil, zero, false
	}
	entry := e.Value.(orderedTaskEntry[T])
	m.order.Remove(e)
	delete(m.index, entry.task)
	return entry.task, entry.value, true
}

func (m *orderedTaskMap[T]) tasks() []*Task {
	out := make([]*Task, 0, m.order.Len())
	for e := m.order.Front(); e != nil; e = e.Next() {
		out = append(out, e.Value.(orderedTaskEntry[T]).task)
	}
	return out
}

// MemoryChannelStats reports point-in-time channel state for
// introspection, mirroring the fields a caller would want to export as
// metrics.
type MemoryChannelStats struct {
	CurrentBufferUsed   int
	MaxBufferSize       float64
	OpenSendChannels    int
	OpenReceiveChannels int
	TasksWaitingSend    int
	TasksWaitingReceive int
}

type memoryChannelState[T any] struct {
	maxBufferSize       float64
	data                *list.List
	openSendChannels    int
	openReceiveChannels int
	sendTasks           *orderedTaskMap[T]
	receiveTasks        *orderedTaskMap[struct{}]
}

func (s *memoryChannelState[T]) statistics() MemoryChannelStats {
	return MemoryChannelStats{
		CurrentBufferUsed:   s.data.Len(),
		MaxBufferSize:       s.maxBufferSize,
		OpenSendChannels:    s.openSendChannels,
		OpenReceiveChannels: s.openReceiveChannels,
		TasksWaitingSend:    s.sendTasks.len(),
		TasksWaitingReceive: s.receiveTasks.len(),
	}
}

// MemorySendChannel is the sending half of an in-memory MPMC channel.
type MemorySendChannel[T any] struct {
	state  *memoryChannelState[T]
	closed bool
	tasks  map[*Task]struct{}
}

// MemoryReceiveChannel is the receiving half of an in-memory MPMC channel.
type MemoryReceiveChannel[T any] struct {
	state  *memoryChannelState[T]
	closed bool
	tasks  map[*Task]struct{}
}

// OpenMemoryChannel creates a linked send/receive channel pair with room
// for maxBufferSize buffered values (0 means pure rendezvous; math.Inf(1)
// means unbounded).
func OpenMemoryChannel[T any](maxBufferSize float64) (*MemorySendChannel[T], *MemoryReceiveChannel[T]) {
	if maxBufferSize != math.Inf(1) && maxBufferSize != math.Trunc(maxBufferSize) {
		panic(&RuntimeError{Msg: "memory channel max_buffer_size must be an integer or +Inf"})
	}
	if maxBufferSize < 0 {
		panic(&RuntimeError{Msg: "memory channel max_buffer_size must be >= 0"})
	}
	state := &memoryChannelState[T]{
		maxBufferSize: maxBufferSize,
		data:          list.New(),
		sendTasks:     newOrderedTaskMap[T](),
		receiveTasks:  newOrderedTaskMap[struct{}](),
	}
	state.openSendChannels = 1
	state.openReceiveChannels = 1
	return &MemorySendChannel[T]{state: state}, &MemoryReceiveChannel[T]{state: state}
}

// Statistics reports the shared channel state.
func (c *MemorySendChannel[T]) Statistics() MemoryChannelStats { return c.state.statistics() }

// TrySend attempts to hand v to a waiting receiver or the buffer without
// blocking, returning WouldBlockError if neither is available.
func (c *MemorySendChannel[T]) TrySend(v T) error {
	if c.closed {
		return ClosedResourceError{}
	}
	if c.state.openReceiveChannels == 0 {
		return BrokenResourceError{}
	}
	if c.state.receiveTasks.len() > 0 {
		task, _, _ := c.state.receiveTasks.popFront()
		delete(task.customSleepData.(*MemoryReceiveChannel[T]).tasks, task)
		task.runner.reschedule(task, ValueOutcome(v))
		return nil
	}
	if float64(c.state.data.Len()) < c.state.maxBufferSize {
		c.state.data.PushBack(v)
		return nil
	}
	return WouldBlockError{}
}

// Send delivers v, blocking until a receiver or buffer slot is available.
// It is always a checkpoint.
func (c *MemorySendChannel[T]) Send(ctx context.Context, v T) error {
	if err := CheckpointIfCancelled(ctx); err != nil {
		return err
	}
	err := c.TrySend(v)
	if err == nil {
		return CancelShieldedCheckpoint(ctx)
	}
	if _, ok := err.(WouldBlockError); !ok {
		if serr := CancelShieldedCheckpoint(ctx); serr != nil {
			return serr
		}
		return err
	}

	task := mustTask(ctx)
	if c.tasks == nil {
		c.tasks = map[*Task]struct{}{}
	}
	c.tasks[task] = struct{}{}
	c.state.sendTasks.set(task, v)
	task.customSleepData = c

	abort := func(func() error) Abort {
		delete(c.tasks, task)
		c.state.sendTasks.delete(task)
		return AbortSucceeded
	}
	_, werr := task.waitTaskRescheduled(abort)
	return werr
}

// Clone returns a new send endpoint sharing the same underlying state,
// incrementing the open-sender count.
func (c *MemorySendChannel[T]) Clone() (*MemorySendChannel[T], error) {
	if c.closed {
		return nil, ClosedResourceError{}
	}
	c.state.openSendChannels++
	return &MemorySendChannel[T]{state: c.state}, nil
}

// Close closes this sender. Any of its own parked Send calls wake with
// ClosedResourceError; if this was the last open sender, every parked
// receiver wakes with EndOfChannelError.
func (c *MemorySendChannel[T]) Close(ctx context.Context) error {
	if c.closed {
		return Checkpoint(ctx)
	}
	c.closed = true
	for task := range c.tasks {
		c.state.sendTasks.delete(task)
		task.runner.reschedule(task, ErrorOutcome(ClosedResourceError{}))
	}
	c.tasks = nil
	c.state.openSendChannels--
	if c.state.openSendChannels == 0 {
		for _, task := range c.state.receiveTasks.tasks() {
			delete(task.customSleepData.(*MemoryReceiveChannel[T]).tasks, task)
			task.runner.reschedule(task, ErrorOutcome(EndOfChannelError{}))
		}
		c.state.receiveTasks = newOrderedTaskMap[struct{}]()
	}
	return Checkpoint(ctx)
}

// Statistics reports the shared channel state.
func (c *MemoryReceiveChannel[T]) Statistics() MemoryChannelStats { return c.state.statistics() }

// TryReceive attempts to pull a value from a waiting sender or the buffer
// without blocking, returning WouldBlockError if neither is available.
func (c *MemoryReceiveChannel[T]) TryReceive() (T, error) {
	var zero T
	if c.closed {
		return zero, ClosedResourceError{}
	}
	if c.state.sendTasks.len() > 0 {
		task, v, _ := c.state.sendTasks.popFront()
		delete(task.customSleepData.(*MemorySendChannel[T]).tasks, task)
		task.runner.reschedule(task, ValueOutcome(nil))
		c.state.data.PushBack(v)
	}
	if c.state.data.Len() > 0 {
		e := c.state.data.Front()
		c.state.data.Remove(e)
		return e.Value.(T), nil
	}
	if c.state.openSendChannels == 0 {
		return zero, EndOfChannelError{}
	}
	return zero, WouldBlockError{}
}

// Receive pulls the next value, blocking until a sender or buffered value
// is available. It is always a checkpoint.
func (c *MemoryReceiveChannel[T]) Receive(ctx context.Context) (T, error) {
	var zero T
	if err := CheckpointIfCancelled(ctx); err != nil {
		return zero, err
	}
	v, err := c.TryReceive()
	if err == nil {
		if serr := CancelShieldedCheckpoint(ctx); serr != nil {
			return zero, serr
		}
		return v, nil
	}
	if _, ok := err.(WouldBlockError); !ok {
		if serr := CancelShieldedCheckpoint(ctx); serr != nil {
			return zero, serr
		}
		return zero, err
	}

	task := mustTask(ctx)
	if c.tasks == nil {
		c.tasks = map[*Task]struct{}{}
	}
	c.tasks[task] = struct{}{}
	c.state.receiveTasks.set(task, struct{}{})
	task.customSleepData = c

	abort := func(func() error) Abort {
		delete(c.tasks, task)
		c.state.receiveTasks.delete(task)
		return AbortSucceeded
	}
	res, werr := task.waitTaskRescheduled(abort)
	if werr != nil {
		return zero, werr
	}
	rv, _ := res.(T)
	return rv, nil
}

// Clone returns a new receive endpoint sharing the same underlying state,
// incrementing the open-receiver count.
func (c *MemoryReceiveChannel[T]) Clone() (*MemoryReceiveChannel[T], error) {
	if c.closed {
		return nil, ClosedResourceError{}
	}
	c.state.openReceiveChannels++
	return &MemoryReceiveChannel[T]{state: c.state}, nil
}

// Close closes this receiver. Any of its own parked Receive calls wake
// with ClosedResourceError; if this was the last open receiver, every
// parked sender wakes with BrokenResourceError and the buffer is cleared.
func (c *MemoryReceiveChannel[T]) Close(ctx context.Context) error {
	if c.closed {
		return Checkpoint(ctx)
	}
	c.closed = true
	for task := range c.tasks {
		c.state.receiveTasks.delete(task)
		task.runner.reschedule(task, ErrorOutcome(ClosedResourceError{}))
	}
	c.tasks = nil
	c.state.openReceiveChannels--
	if c.state.openReceiveChannels == 0 {
		for _, task := range c.state.sendTasks.tasks() {
			delete(task.customSleepData.(*MemorySendChannel[T]).tasks, task)
			task.runner.reschedule(task, ErrorOutcome(BrokenResourceError{}))
		}
		c.state.sendTasks = newOrderedTaskMap[T]()
		c.state.data.Init()
	}
	return Checkpoint(ctx)
}
