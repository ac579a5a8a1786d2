// Package process implements the processor driver of spec.md 4.9: iterate
// a minidump's threads, select a stackwalk.CallerUnwinder by CPU
// architecture, walk and symbolize every thread, and assemble a
// ProcessState -- grounded on the teacher's top-level driver idiom
// (pkg/proc's single-dump-at-a-time, synchronous command loop) generalized
// from "control a live process" to "replay a captured one."
package process

// Status is the closed outcome set Process returns, per spec.md 4.9/6.
// It is a small Go type rather than a generic error so callers can switch
// over it exhaustively, per SPEC_FULL.md 5's error-handling design.
type Status int

const (
	OK Status = iota
	MinidumpNotFound
	NoHeader
	NoThreadList
	NoMemoryList
	NoSystemInfo
	NoExceptionOrAssertion
	SymbolSupplierInterrupted
)

func (s Status) String() string {
	switch s {
	case OK:
		return "ok"
	case MinidumpNotFound:
		return "minidump_not_found"
	case NoHeader:
		return "no_header"
	case NoThreadList:
		return "no_thread_list"
	case NoMemoryList:
		return "no_memory_list"
	case NoSystemInfo:
		return "no_system_info"
	case NoExceptionOrAssertion:
		return "no_exception_or_assertion"
	case SymbolSupplierInterrupted:
		return "symbol_supplier_interrupted"
	default:
		return "unknown"
	}
}
