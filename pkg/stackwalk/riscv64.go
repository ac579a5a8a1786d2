package stackwalk

import "github.com/gocrash/crashwalk/pkg/module"

// RISCV64 is the CallerUnwinder for 64-bit RISC-V targets.
type RISCV64 struct{ base }

// NewRISCV64 builds a RISCV64 unwinder.
func NewRISCV64() RISCV64 {
	return RISCV64{base{pcKey: "$pc", spKey: "$sp", ptrSize: 8}}
}

// TryFramePointer walks the RISC-V psABI's frame-pointer convention: the
// saved frame pointer lives at [fp-16] and the saved return address at
// [fp-8]; the caller's stack pointer is this frame's own fp.
func (a RISCV64) TryFramePointer(callee Registers, mem Memory) (Registers, bool) {
	fp, ok := callee["$fp"]
	if !ok || fp < 16 {
		return nil, false
	}
	callerFP, ok := mem.ReadU64(fp - 16)
	if !ok {
		return nil, false
	}
	ra, ok := mem.ReadU64(fp - 8)
	if !ok || ra == 0 {
		return nil, false
	}
	return Registers{"$fp": callerFP, "$sp": fp, "$pc": ra}, true
}

func (a RISCV64) TryScan(callee Registers, mem Memory, modules ModuleSet, maxWords int) (Registers, module.Trust, bool) {
	sp := callee["$sp"]
	ra, newSP, prologue, ok := scanStack(mem, sp, 8, maxWords, modules, riscv64LooksLikeCall)
	if !ok {
		return nil, 0, false
	}
	trust := module.TrustScan
	if prologue {
		trust = module.TrustScanPrologue
	}
	return Registers{"$sp": newSP, "$pc": ra}, trust, true
}

// riscv64LooksLikeCall checks the preceding instruction word for RISC-V's
// JAL (opcode 0x6F) or JALR-with-rd=ra (opcode 0x67, rd field == x1), the
// two encodings the standard calling convention uses for calls that save a
// return address.
func riscv64LooksLikeCall(mem Memory, candidate uint64) bool {
	if candidate < 4 {
		return false
	}
	w, ok := mem.ReadU32(candidate - 4)
	if !ok {
		return false
	}
	opcode := w & 0x7F
	if opcode == 0x6F {
		return true
	}
	if opcode == 0x67 && (w>>7)&0x1F == 1 {
		return true
	}
	return false
}
