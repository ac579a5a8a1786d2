package process

import (
	"github.com/gocrash/crashwalk/pkg/module"
	"github.com/gocrash/crashwalk/pkg/supplier"
)

// CallStack is one thread's reconstructed call stack.
type CallStack struct {
	ThreadID uint32
	Frames   []module.StackFrame
}

// Exploitability is always NotAnalyzed: spec.md 6 lists it as a produced
// field but exploitability ranking is out of this engine's scope.
type Exploitability int

const NotAnalyzed Exploitability = 0

func (Exploitability) String() string { return "not_analyzed" }

// ProcessState is spec.md 6's Process-state record, populated by
// Processor.Process.
type ProcessState struct {
	SystemInfo        supplier.SystemInfo
	Crashed           bool
	CrashReason       string
	CrashAddress      uint64
	TimeDateStamp     uint32
	ProcessCreateTime uint32
	RequestingThread  int
	Threads           []CallStack
	Modules           []supplier.ModuleIdentity
	UnloadedModules   []supplier.ModuleIdentity
	Exploitability    Exploitability
}
