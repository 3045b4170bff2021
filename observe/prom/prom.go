// Package prom is a prometheus-backed runtime.Instrument implementation:
// register it with any prometheus.Registerer to expose scheduler health
// (task churn, step latency, IO-wait latency) alongside the rest of a
// service's metrics.
package prom

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/katunaran/scoperun/runtime"
)

// Metrics implements runtime.Instrument on top of real prometheus
// collectors, replacing the hand-rolled atomic counters an
// observer-without-external-dependencies design would otherwise need.
type Metrics struct {
	tasksSpawned   prometheus.Counter
	tasksExited    prometheus.Counter
	tasksScheduled prometheus.Counter
	liveTasks      prometheus.Gauge
	stepDuration   prometheus.Histogram
	ioWaitDuration prometheus.Histogram

	stepStart   map[*runtime.Task]time.Time
	ioWaitStart time.Time
}

// New constructs a Metrics instrument and, if reg is non-nil, registers
// its collectors.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		tasksSpawned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scoperun_tasks_spawned_total",
			Help: "Total tasks spawned into any nursery.",
		}),
		tasksExited: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scoperun_tasks_exited_total",
			Help: "Total tasks that have run to completion (success, error, or panic).",
		}),
		tasksScheduled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scoperun_tasks_scheduled_total",
			Help: "Total times a task was placed back on the run queue.",
		}),
		liveTasks: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "scoperun_tasks_live",
			Help: "Tasks currently spawned but not yet exited.",
		}),
		stepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "scoperun_task_step_seconds",
			Help:    "Wall-clock time a single task step (resume to next trap) took.",
			Buckets: prometheus.DefBuckets,
		}),
		ioWaitDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "scoperun_io_wait_seconds",
			Help:    "Wall-clock time spent blocked in the I/O manager per run-loop iteration.",
			Buckets: prometheus.DefBuckets,
		}),
		stepStart: map[*runtime.Task]time.Time{},
	}
	if reg != nil {
		reg.MustRegister(
			m.tasksSpawned, m.tasksExited, m.tasksScheduled,
			m.liveTasks, m.stepDuration, m.ioWaitDuration,
		)
	}
	return m
}

func (m *Metrics) BeforeRun() {}
func (m *Metrics) AfterRun()  {}

func (m *Metrics) TaskSpawned(*runtime.Task) {
	m.tasksSpawned.Inc()
	m.liveTasks.Inc()
}

func (m *Metrics) TaskScheduled(*runtime.Task) { m.tasksScheduled.Inc() }

// BeforeTaskStep and AfterTaskStep run inline in the scheduler's single
// logical thread, so the stepStart map needs no locking.
func (m *Metrics) BeforeTaskStep(t *runtime.Task) { m.stepStart[t] = time.Now() }

func (m *Metrics) AfterTaskStep(t *runtime.Task) {
	if start, ok := m.stepStart[t]; ok {
		m.stepDuration.Observe(time.Since(start).Seconds())
		delete(m.stepStart, t)
	}
}

func (m *Metrics) TaskExited(t *runtime.Task) {
	m.tasksExited.Inc()
	m.liveTasks.Dec()
	delete(m.stepStart, t)
}

func (m *Metrics) BeforeIOWait(timeoutSeconds float64) { m.ioWaitStart = time.Now() }

func (m *Metrics) AfterIOWait(timeoutSeconds float64) {
	m.ioWaitDuration.Observe(time.Since(m.ioWaitStart).Seconds())
}
