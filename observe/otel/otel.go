package otel

import "github.com/katunaran/scoperun/runtime"

// Nop is a no-op implementation of runtime.Instrument.
type Nop struct{}

// NewNop returns a no-op instrument.
func NewNop() *Nop { return &Nop{} }

func (*Nop) BeforeRun() {}
func (*Nop) AfterRun()  {}

func (*Nop) TaskSpawned(*runtime.Task)   {}
func (*Nop) TaskScheduled(*runtime.Task) {}

func (*Nop) BeforeTaskStep(*runtime.Task) {}
func (*Nop) AfterTaskStep(*runtime.Task)  {}

func (*Nop) TaskExited(*runtime.Task) {}

func (*Nop) BeforeIOWait(timeoutSeconds float64) {}
func (*Nop) AfterIOWait(timeoutSeconds float64)  {}
