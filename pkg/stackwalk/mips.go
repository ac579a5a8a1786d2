package stackwalk

import "github.com/gocrash/crashwalk/pkg/module"

// MIPS is the CallerUnwinder for 32-bit MIPS (o32) targets.
type MIPS struct{ base }

// NewMIPS builds a MIPS unwinder.
func NewMIPS() MIPS {
	return MIPS{base{pcKey: "$pc", spKey: "$sp", ptrSize: 4}}
}

func (a MIPS) TryFramePointer(callee Registers, mem Memory) (Registers, bool) {
	fp, ok := callee["$fp"]
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
	return Registers{"$fp": uint64(callerFP), "$sp": fp + 8, "$pc": uint64(ra)}, true
}

func (a MIPS) TryScan(callee Registers, mem Memory, modules ModuleSet, maxWords int) (Registers, module.Trust, bool) {
	sp := callee["$sp"]
	ra, newSP, prologue, ok := scanStack(mem, sp, 4, maxWords, modules, mipsLooksLikeJAL)
	if !ok {
		return nil, 0, false
	}
	trust := module.TrustScan
	if prologue {
		trust = module.TrustScanPrologue
	}
	return Registers{"$sp": newSP, "$pc": ra}, trust, true
}

// mipsLooksLikeJAL checks the word two instructions before candidate (MIPS
// return addresses land two instructions past the JAL because of the
// architecture's branch-delay slot) for JAL's primary opcode field
// (bits 31:26 == 0b000011).
func mipsLooksLikeJAL(mem Memory, candidate uint64) bool {
	if candidate < 8 {
		return false
	}
	w, ok := mem.ReadU32(candidate - 8)
	return ok && (w>>26) == 0x03
}
