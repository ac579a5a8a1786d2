package stackwalk

import "github.com/gocrash/crashwalk/pkg/module"

// ARM is the CallerUnwinder for 32-bit ARM targets. Register names follow
// breakpad's AAPCS convention: "$r11" as the frame pointer, "$lr" as the
// link register, "$pc"/"$sp" for program counter and stack pointer.
type ARM struct{ base }

// NewARM builds an ARM unwinder.
func NewARM() ARM {
	return ARM{base{pcKey: "$pc", spKey: "$sp", ptrSize: 4}}
}

func (a ARM) TryFramePointer(callee Registers, mem Memory) (Registers, bool) {
	fp, ok := callee["$r11"]
	if !ok || fp == 0 {
		return nil, false
	}
	callerFP, ok := mem.ReadU32(fp)
	if !ok {
		return nil, false
	}
	ra, ok := mem.ReadU32(fp + 4)
	if !ok || ra == 0 {
		return nil, false
	}
	return Registers{"$r11": uint64(callerFP), "$sp": fp + 8, "$pc": uint64(ra)}, true
}

func (a ARM) TryScan(callee Registers, mem Memory, modules ModuleSet, maxWords int) (Registers, module.Trust, bool) {
	sp := callee["$sp"]
	ra, newSP, prologue, ok := scanStack(mem, sp, 4, maxWords, modules, armLooksLikeBL)
	if !ok {
		return nil, 0, false
	}
	trust := module.TrustScan
	if prologue {
		trust = module.TrustScanPrologue
	}
	return Registers{"$sp": newSP, "$pc": ra}, trust, true
}

// armLooksLikeBL checks the 4-byte-aligned word preceding candidate for
// ARM's BL (Branch with Link) opcode nibble: bits 27-24 equal 0b1011,
// regardless of the condition code occupying bits 31-28.
func armLooksLikeBL(mem Memory, candidate uint64) bool {
	if candidate < 4 {
		return false
	}
	w, ok := mem.ReadU32(candidate - 4)
	return ok && w&0x0F000000 == 0x0B000000
}
