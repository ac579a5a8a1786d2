// Package module implements the per-module symbol resolver: the data types
// of spec.md 3 (Function, Line, Inline, InlineOrigin, File, PublicSymbol,
// WindowsFrameInfo, StackFrame) and the lookup operations of spec.md 4.4-4.5
// (LookupAddress, FindWindowsFrameInfo, FindCFIFrameInfo, inline frame
// construction) against the addrmap containers a symbol file was parsed or
// loaded into.
package module

import "github.com/gocrash/crashwalk/pkg/addrmap"

// Addr is a module-relative byte offset.
type Addr = addrmap.Addr

// Trust is the ordinal confidence that a recovered frame is correct.
// Smaller values are stronger; the zero value is the strongest possible
// trust so an uninitialized StackFrame reads as suspiciously confident
// rather than silently weak.
type Trust int

const (
	TrustContext Trust = iota
	TrustPrewalked
	TrustCFI
	TrustFramePointer
	TrustScanPrologue
	TrustScan
	TrustInline
)

func (t Trust) String() string {
	switch t {
	case TrustContext:
		return "context"
	case TrustPrewalked:
		return "prewalked"
	case TrustCFI:
		return "cfi"
	case TrustFramePointer:
		return "frame_pointer"
	case TrustScanPrologue:
		return "scan_prologue"
	case TrustScan:
		return "scan"
	case TrustInline:
		return "inline"
	default:
		return "unknown"
	}
}

// File is a source file referenced by a FILE record.
type File struct {
	ID   uint32
	Path string
}

// InlineOrigin is the source-level identity shared by every inline site
// that expands the same function.
type InlineOrigin struct {
	ID   uint32
	Name string
}

// Line is a disjoint sub-range of a Function's extent mapped to one source
// line.
type Line struct {
	Addr         Addr
	Size         Addr
	SourceFileID uint32
	LineNumber   uint32
}

// InlineRange is one of the (possibly several) disjoint address ranges an
// Inline record covers.
type InlineRange struct {
	Addr Addr
	Size Addr
}

// Inline is one INLINE record: a call site inside an enclosing function (or
// enclosing inline) that was expanded by the compiler.
type Inline struct {
	Depth          uint32
	CallSiteLine   uint32
	CallSiteFileID uint32
	HasCallSiteFileID bool
	OriginID       uint32
	Ranges         []InlineRange
}

// Function is one FUNC record plus its attached LINE and INLINE records.
// Lines and Inlines are nil for a Function that declared neither.
type Function struct {
	Addr          Addr
	Size          Addr
	ParameterSize uint32
	Name          string
	IsMultiple    bool
	Lines         *addrmap.RangeMapReader[Line]
	Inlines       *addrmap.ContainedRangeMapReader[Inline]
}

// PublicSymbol is one PUBLIC record, a point with an implicit extent
// running to the next symbol or function, whichever is lower.
type PublicSymbol struct {
	Addr          Addr
	ParameterSize uint32
	Name          string
	IsMultiple    bool
}

// WindowsFrameType distinguishes the two STACK WIN record kinds.
type WindowsFrameType int

const (
	StackInfoFPO WindowsFrameType = iota
	StackInfoFrameData
)

// WindowsFrameInfoValid bits mark which WindowsFrameInfo fields a partial
// lookup actually populated.
type WindowsFrameInfoValid uint32

const (
	ValidParameterSize WindowsFrameInfoValid = 1 << iota
	ValidPrologSize
	ValidEpilogSize
	ValidSavedRegisterSize
	ValidLocalSize
	ValidMaxStackSize
	ValidAllocatesBasePointer
	ValidProgramString
)

// WindowsFrameInfo is a STACK WIN record: a Windows-style frame-layout
// hint.
type WindowsFrameInfo struct {
	Type                 WindowsFrameType
	Valid                WindowsFrameInfoValid
	PrologSize           uint32
	EpilogSize           uint32
	ParameterSize        uint32
	SavedRegisterSize    uint32
	LocalSize            uint32
	MaxStackSize         uint32
	AllocatesBasePointer bool
	ProgramString        string
}

// StackFrame is one entry of a reconstructed call stack. Inlined frames
// carry Trust == TrustInline and are ordered innermost-first, immediately
// following the frame that contains them.
type StackFrame struct {
	Instruction      uint64
	ModuleBase       uint64
	ModuleName       string
	FunctionName     string
	FunctionBase     uint64
	SourceFileName   string
	SourceLine       uint32
	SourceLineBase   uint64
	IsMultiple       bool
	Trust            Trust
	InlineDepth      uint32
	CallSiteLine     uint32
	CallSiteFileName string
}
