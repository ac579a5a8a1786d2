package stackwalk

import "github.com/gocrash/crashwalk/pkg/module"

// PPC64 is the CallerUnwinder for 64-bit PowerPC (ELFv2 ABI) targets. Its
// frame-pointer recovery differs structurally from the other
// architectures: PowerPC has no hardware frame-pointer register, so the
// stack itself is a back-chain linked list (the doubleword at [sp] is the
// caller's sp) and the link register is saved at a fixed offset from the
// caller's frame rather than alongside a saved frame pointer.
type PPC64 struct{ base }

// NewPPC64 builds a PPC64 unwinder.
func NewPPC64() PPC64 {
	return PPC64{base{pcKey: "$pc", spKey: "$sp", ptrSize: 8}}
}

// TryFramePointer walks the ELFv2 ABI back-chain: [sp] is the caller's sp,
// and the caller's saved link register lives at callerSP+16 (the fixed LR
// save doubleword of the ELFv2 stack frame layout).
func (a PPC64) TryFramePointer(callee Registers, mem Memory) (Registers, bool) {
	sp, ok := callee["$sp"]
	if !ok || sp == 0 {
		return nil, false
	}
	callerSP, ok := mem.ReadU64(sp)
	if !ok || callerSP <= sp {
		return nil, false
	}
	ra, ok := mem.ReadU64(callerSP + 16)
	if !ok || ra == 0 {
		return nil, false
	}
	return Registers{"$sp": callerSP, "$pc": ra}, true
}

func (a PPC64) TryScan(callee Registers, mem Memory, modules ModuleSet, maxWords int) (Registers, module.Trust, bool) {
	sp := callee["$sp"]
	ra, newSP, prologue, ok := scanStack(mem, sp, 8, maxWords, modules, ppc64LooksLikeBL)
	if !ok {
		return nil, 0, false
	}
	trust := module.TrustScan
	if prologue {
		trust = module.TrustScanPrologue
	}
	return Registers{"$sp": newSP, "$pc": ra}, trust, true
}

// ppc64LooksLikeBL checks the preceding instruction word for PowerPC's "bl"
// form: primary opcode field (bits 31:26) equal to 18, with the link bit
// (bit 0) set.
func ppc64LooksLikeBL(mem Memory, candidate uint64) bool {
	if candidate < 4 {
		return false
	}
	w, ok := mem.ReadU32(candidate - 4)
	return ok && (w>>26) == 18 && w&1 == 1
}
