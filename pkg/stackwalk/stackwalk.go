// Package stackwalk implements the architecture-parameterized stack walker
// of spec.md 4.7-4.8: a single Walker driver that repeatedly recovers the
// caller of the current frame by trying, in order, CFI rules, Windows frame
// data, a frame-pointer chain, and finally bounded stack scanning, stopping
// at spec.md 4.7's termination conditions. Per-architecture differences
// (register names, frame-pointer layout, scan heuristics) live behind the
// CallerUnwinder interface; spec.md 9's "no inheritance chain" redesign
// flag is realized with Go struct embedding in place of the teacher's
// single concrete stackIterator (pkg/proc/stack.go), composing a shared
// base (CFI + Windows frame data, which are architecture-generic once the
// PC/SP register names are known) with an architecture-specific
// frame-pointer/scan strategy, instead of a class hierarchy.
package stackwalk

import (
	"errors"

	"github.com/gocrash/crashwalk/pkg/logflags"
	"github.com/gocrash/crashwalk/pkg/module"
)

// Registers is a named register snapshot. It reuses the same flat
// string-keyed representation pkg/cfi evaluates rules against, plus the
// ".cfa"/".ra" synthetic entries a CFI or frame-data recovery leaves
// behind for the next technique in the chain to read back.
type Registers map[string]uint64

// Memory is the minimal window onto a thread's stack (and, transitively,
// any other mapped memory the dump captured) a recovery technique may
// dereference. Implementations must never read outside the region they
// were constructed over; a failed read is reported, never panics.
type Memory interface {
	ReadU64(addr uint64) (uint64, bool)
	ReadU32(addr uint64) (uint32, bool)
	ReadByte(addr uint64) (byte, bool)
}

// Module describes one loaded module's address range and resolver, as the
// walker's ModuleSet reports it.
type Module struct {
	Base     uint64
	Size     uint64
	Name     string
	Resolver *module.Resolver
}

// ModuleSet answers "what module, if any, contains this address" --
// pkg/process supplies one backed by the minidump's module list.
type ModuleSet interface {
	Find(pc uint64) (Module, bool)
}

// CallerUnwinder is the per-architecture strategy spec.md 9's redesign flag
// calls for in place of the teacher's single concrete stackIterator: one
// implementation per architecture, composed by Walker rather than
// subclassed.
type CallerUnwinder interface {
	// PCKey and SPKey name the registers holding the program counter and
	// stack pointer in this architecture's register-snapshot convention.
	PCKey() string
	SPKey() string

	TryCFI(callee Registers, mem Memory, mod Module) (Registers, bool)
	TryFrameData(callee Registers, mem Memory, mod Module) (Registers, bool)
	TryFramePointer(callee Registers, mem Memory) (Registers, bool)

	// TryScan implements both of spec.md 4.7's scan techniques: it first
	// looks for a candidate return address whose preceding bytes look like
	// a call site (ScanPrologue, the stronger of the two), and only if
	// none is found falls back to the first in-module pointer-aligned word
	// at all (plain Scan). The returned trust tells the caller which of
	// the two actually matched.
	TryScan(callee Registers, mem Memory, modules ModuleSet, maxWords int) (Registers, module.Trust, bool)
}

// Symbolizer populates a frame's name/file/line fields and expands any
// inline frames covering it, per spec.md 4.4-4.5. A true interrupted
// return halts the walk; pkg/process turns that into
// SymbolSupplierInterrupted.
type Symbolizer interface {
	Symbolize(frame *module.StackFrame) (inlines []module.StackFrame, interrupted bool)
}

// ErrInterrupted is returned by Walk when the Symbolizer reports that the
// backing symbol supplier asked the walk to stop, per spec.md 4.7's "if the
// symbol supplier answers interrupt, walking halts" clause.
var ErrInterrupted = errors.New("stackwalk: symbol supplier interrupted")

// Walker drives one architecture's CallerUnwinder across a thread's stack.
type Walker struct {
	Arch         CallerUnwinder
	Modules      ModuleSet
	Sym          Symbolizer
	MaxDepth     int
	MaxScanWords int
	ScanEnabled  bool
}

// New builds a Walker with spec.md 4.7/5's default caps (1024 frames, 1024
// scan words); callers with a pkg/config-loaded MaxStackDepth/MaxScanWords
// should set those fields directly after construction.
func New(arch CallerUnwinder, modules ModuleSet, sym Symbolizer) *Walker {
	return &Walker{
		Arch:         arch,
		Modules:      modules,
		Sym:          sym,
		MaxDepth:     1024,
		MaxScanWords: 1024,
		ScanEnabled:  true,
	}
}

// Walk reconstructs the call stack starting from ctx, the thread's captured
// register context, against mem. It implements spec.md 4.7's loop exactly:
// emit the context frame at TrustContext, then repeatedly try CFI, Windows
// frame data, the frame pointer chain, a bounded prologue-aware scan, and
// finally a plain scan, stopping at the first technique that produces a
// frame and feeding that frame back in as the next iteration's callee.
func (w *Walker) Walk(ctx Registers, mem Memory) ([]module.StackFrame, error) {
	var out []module.StackFrame

	pc := ctx[w.Arch.PCKey()]
	sp := ctx[w.Arch.SPKey()]
	frame := w.makeFrame(pc, module.TrustContext)
	if err := w.symbolize(&frame, &out); err != nil {
		return out, err
	}

	callee := ctx
	prevSP := sp
	for len(out) < w.MaxDepth {
		caller, trust, ok := w.tryUnwind(callee, mem)
		if !ok {
			break
		}
		callerPC := caller[w.Arch.PCKey()]
		callerSP := caller[w.Arch.SPKey()]

		if callerPC == 0 {
			break
		}
		if callerSP <= prevSP {
			break
		}
		if _, inModule := w.Modules.Find(callerPC); !inModule && !w.ScanEnabled {
			break
		}

		f := w.makeFrame(callerPC, trust)
		if err := w.symbolize(&f, &out); err != nil {
			return out, err
		}

		callee = caller
		prevSP = callerSP
	}

	return out, nil
}

func (w *Walker) tryUnwind(callee Registers, mem Memory) (Registers, module.Trust, bool) {
	pc := callee[w.Arch.PCKey()]
	mod, haveModule := w.Modules.Find(pc)

	if haveModule {
		if caller, ok := w.Arch.TryCFI(callee, mem, mod); ok {
			return caller, module.TrustCFI, true
		}
		if logflags.Stackwalk() {
			logflags.StackwalkLogger().Debugf("no CFI at %#x, falling back to frame data", pc)
		}
		if caller, ok := w.Arch.TryFrameData(callee, mem, mod); ok {
			return caller, module.TrustCFI, true
		}
		if logflags.Stackwalk() {
			logflags.StackwalkLogger().Debugf("no frame data at %#x, falling back to frame pointer", pc)
		}
	}
	if caller, ok := w.Arch.TryFramePointer(callee, mem); ok {
		return caller, module.TrustFramePointer, true
	}
	if !w.ScanEnabled {
		return nil, 0, false
	}
	if logflags.Stackwalk() {
		logflags.StackwalkLogger().Debugf("no frame pointer at %#x, falling back to stack scan", pc)
	}
	if caller, trust, ok := w.Arch.TryScan(callee, mem, w.Modules, w.MaxScanWords); ok {
		return caller, trust, true
	}
	return nil, 0, false
}

func (w *Walker) makeFrame(pc uint64, trust module.Trust) module.StackFrame {
	f := module.StackFrame{Instruction: pc, Trust: trust}
	if mod, ok := w.Modules.Find(pc); ok {
		f.ModuleBase = mod.Base
		f.ModuleName = mod.Name
	}
	return f
}

func (w *Walker) symbolize(f *module.StackFrame, out *[]module.StackFrame) error {
	if w.Sym != nil {
		inlines, interrupted := w.Sym.Symbolize(f)
		if interrupted {
			return ErrInterrupted
		}
		*out = append(*out, *f)
		*out = append(*out, inlines...)
		return nil
	}
	*out = append(*out, *f)
	return nil
}
