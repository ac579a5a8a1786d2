package stackwalk

import (
	"github.com/gocrash/crashwalk/pkg/cfi"
	"github.com/gocrash/crashwalk/pkg/module"
)

// base carries the architecture-generic parts of CallerUnwinder: CFI and
// Windows frame-data recovery only need to know the PC/SP register names
// and the pointer width, never anything else architecture-specific, so
// every concrete architecture embeds a base instead of reimplementing
// these two methods -- the composition spec.md 9's redesign flag asks for
// in place of the teacher's single concrete stackIterator.
type base struct {
	pcKey, spKey string
	ptrSize      int
}

func (b base) PCKey() string { return b.pcKey }
func (b base) SPKey() string { return b.spKey }

// TryCFI resolves the merged STACK CFI rule text covering callee's PC and
// evaluates it per pkg/cfi, exactly spec.md 4.6.
func (b base) TryCFI(callee Registers, mem Memory, mod Module) (Registers, bool) {
	if mod.Resolver == nil {
		return nil, false
	}
	pc := callee[b.pcKey]
	if pc < mod.Base {
		return nil, false
	}
	initial, deltas, ok := mod.Resolver.FindCFIFrameInfo(module.Addr(pc - mod.Base))
	if !ok {
		return nil, false
	}
	texts := make([]string, len(deltas))
	for i, d := range deltas {
		texts[i] = d.Rules
	}
	rs, err := cfi.MergeRules(initial, texts)
	if err != nil {
		return nil, false
	}
	caller, ok := rs.Eval(cfi.Registers(callee), memoryReader{mem})
	if !ok {
		return nil, false
	}
	return registersFrom(caller, b.pcKey, b.spKey), true
}

// TryFrameData resolves a STACK WIN record covering callee's PC. A
// program_string, when present, is just another postfix rule set and is
// evaluated the same way CFI rules are; otherwise the frame is
// reconstructed from the record's size fields under the assumption of a
// standard push-based prologue (current SP, plus locals, plus saved
// registers, plus one return-address slot, is the caller's SP).
func (b base) TryFrameData(callee Registers, mem Memory, mod Module) (Registers, bool) {
	if mod.Resolver == nil {
		return nil, false
	}
	pc := callee[b.pcKey]
	if pc < mod.Base {
		return nil, false
	}
	info, ok := mod.Resolver.FindWindowsFrameInfo(module.Addr(pc - mod.Base))
	if !ok {
		return nil, false
	}

	if info.Valid&module.ValidProgramString != 0 && info.ProgramString != "" {
		if rs, err := cfi.ParseRules(info.ProgramString); err == nil {
			if caller, ok := rs.Eval(cfi.Registers(callee), memoryReader{mem}); ok {
				return registersFrom(caller, b.pcKey, b.spKey), true
			}
		}
	}

	if info.Valid&module.ValidParameterSize == 0 {
		return nil, false
	}
	sp := callee[b.spKey]
	frameSize := uint64(info.LocalSize) + uint64(info.SavedRegisterSize) + uint64(b.ptrSize)
	cfa := sp + frameSize
	ra, ok := readPtr(mem, cfa-uint64(b.ptrSize), b.ptrSize)
	if !ok {
		return nil, false
	}
	return Registers{".cfa": cfa, ".ra": ra, b.pcKey: ra, b.spKey: cfa}, true
}

// registersFrom converts an evaluated CFI Registers set into the next
// frame's Registers, mapping the synthetic ".ra"/".cfa" outputs onto the
// architecture's real PC/SP register names.
func registersFrom(caller cfi.Registers, pcKey, spKey string) Registers {
	out := make(Registers, len(caller)+2)
	for k, v := range caller {
		out[k] = v
	}
	out[pcKey] = caller[".ra"]
	out[spKey] = caller[".cfa"]
	return out
}

func readPtr(mem Memory, addr uint64, ptrSize int) (uint64, bool) {
	if ptrSize == 4 {
		v, ok := mem.ReadU32(addr)
		return uint64(v), ok
	}
	return mem.ReadU64(addr)
}

// memoryReader adapts stackwalk.Memory to cfi.MemoryReader.
type memoryReader struct{ Memory }

func (m memoryReader) ReadU64(addr uint64) (uint64, bool) { return m.Memory.ReadU64(addr) }
