// Package supplier declares the external collaborators the engine consumes
// but never implements: the symbol supplier, the minidump reader, and the
// memory-region reader. Parsing the raw dump container, discovering symbol
// files on disk, and humanizing OS exception codes are all out of scope for
// this module (see spec.md 1); only the interfaces those collaborators must
// satisfy live here.
package supplier

import "context"

// Result is the closed outcome set a SymbolSupplier call can return.
type Result int

const (
	Found Result = iota
	NotFound
	Interrupt
)

func (r Result) String() string {
	switch r {
	case Found:
		return "found"
	case NotFound:
		return "not_found"
	case Interrupt:
		return "interrupt"
	default:
		return "unknown"
	}
}

// ModuleIdentity is spec.md 3's Module: identified by the (CodeFile,
// DebugID) pair for symbol-supplier lookups, and carrying the load address
// range pkg/process needs to attribute an instruction pointer to it. Two
// distinct modules must never overlap in address space in the active
// module set of one dump.
type ModuleIdentity struct {
	CodeFile  string
	DebugFile string
	DebugID   string
	Base      uint64
	Size      uint64
}

// SystemInfo describes the crashing machine, as much as the resolver needs
// to pick a symbol file or a walker.
type SystemInfo struct {
	OS      string
	OSShort string
	Version string
	CPU     string // "x86", "amd64", "arm", "arm64", "mips", "ppc64", "riscv64"
	CPUInfo string
	CPUs    uint32
}

// SymbolSupplier resolves a module to its symbol data. The engine calls
// FreeSymbolData exactly once per successful GetCStringSymbolData, when the
// module is evicted from the registry.
type SymbolSupplier interface {
	GetSymbolFile(ctx context.Context, m ModuleIdentity, sys SystemInfo) (Result, string, error)
	GetCStringSymbolData(ctx context.Context, m ModuleIdentity, sys SystemInfo) (Result, []byte, error)
	FreeSymbolData(m ModuleIdentity)
}

// DumpHeader is the minidump header's timestamp, the only field the engine
// itself reads from it.
type DumpHeader struct {
	TimeDateStamp uint32
}

// MiscInfo carries the process create time used to compute uptime-at-crash.
type MiscInfo struct {
	ProcessCreateTime uint32
}

// ExceptionInfo is the raw exception record: code, sub-code, and the
// faulting address before any architecture-specific fixup.
type ExceptionInfo struct {
	ThreadID    uint32
	ExceptionCode    uint32
	ExceptionFlags   uint32
	ExceptionAddress uint64
	Parameters       []uint64
}

// AssertionInfo is present when the crash was a debug assertion rather than
// a hardware exception.
type AssertionInfo struct {
	Expression string
	Function   string
	File       string
	Line       uint32
}

// Thread is one thread's context and stack memory window.
type Thread struct {
	ThreadID   uint32
	Context    RegisterContext
	StackBase  uint64
	StackSize  uint64
	Memory     MemoryRegion // nil if the thread has no dedicated memory region
}

// RegisterContext is an architecture-tagged register snapshot, keyed by the
// same breakpad-style names ("$rax", "$rsp", "$r11", ...) the CFI rule text
// and pkg/stackwalk's per-architecture register keys use. The engine only
// interprets PC/SP/FP directly; every other register is opaque and passed
// through to CFI rule evaluation by name via All.
type RegisterContext interface {
	Arch() string
	PC() uint64
	SP() uint64
	FP() uint64
	Get(name string) (uint64, bool)
	Set(name string, v uint64)
	// All returns every register this context captured, keyed by name.
	// The walker seeds its initial Registers snapshot from this rather
	// than PC/SP/FP alone, since a CFI rule may reference any
	// callee-saved register by name.
	All() map[string]uint64
}

// MemoryRegion is a bounded window of process memory. All reads must be
// bounded by Base()/Size(); an implementation must never read past its own
// window even if the underlying storage happens to extend further.
type MemoryRegion interface {
	Base() uint64
	Size() uint64
	ReadU8(addr uint64) (uint8, bool)
	ReadU16(addr uint64) (uint16, bool)
	ReadU32(addr uint64) (uint32, bool)
	ReadU64(addr uint64) (uint64, bool)
}

// MinidumpReader exposes the subset of a parsed dump the engine consumes.
// Every accessor's second return value is false if the corresponding
// stream is absent from the dump. Per spec.md 4.9's status set, Header,
// SystemInfo, ThreadList, MemoryList, and at least one of Exception/
// Assertion absent are each fatal to processing (see pkg/process.Status);
// ModuleList, UnloadedModuleList, and MiscInfo absent are tolerated as
// empty/zero.
type MinidumpReader interface {
	Header() (DumpHeader, bool)
	SystemInfo() (SystemInfo, bool)
	ModuleList() ([]ModuleIdentity, bool)
	UnloadedModuleList() ([]ModuleIdentity, bool)
	ThreadList() ([]Thread, bool)
	MemoryList() ([]MemoryRegion, bool)
	MiscInfo() (MiscInfo, bool)
	Exception() (ExceptionInfo, bool)
	Assertion() (AssertionInfo, bool)
}
