package stackwalk

import "github.com/gocrash/crashwalk/pkg/module"

// ARM64 is the CallerUnwinder for AArch64 targets.
type ARM64 struct{ base }

// NewARM64 builds an ARM64 unwinder.
func NewARM64() ARM64 {
	return ARM64{base{pcKey: "$pc", spKey: "$sp", ptrSize: 8}}
}

// TryFramePointer walks the standard AArch64 frame record: [x29] holds the
// caller's saved x29, [x29+8] holds the saved x30 (the return address), and
// x29+16 is the caller's stack pointer.
func (a ARM64) TryFramePointer(callee Registers, mem Memory) (Registers, bool) {
	fp, ok := callee["$x29"]
	if !ok || fp == 0 {
		return nil, false
	}
	callerFP, ok := mem.ReadU64(fp)
	if !ok {
		return nil, false
	}
	ra, ok := mem.ReadU64(fp + 8)
	if !ok || ra == 0 {
		return nil, false
	}
	return Registers{"$x29": callerFP, "$sp": fp + 16, "$pc": ra}, true
}

func (a ARM64) TryScan(callee Registers, mem Memory, modules ModuleSet, maxWords int) (Registers, module.Trust, bool) {
	sp := callee["$sp"]
	ra, newSP, prologue, ok := scanStack(mem, sp, 8, maxWords, modules, arm64LooksLikeBL)
	if !ok {
		return nil, 0, false
	}
	trust := module.TrustScan
	if prologue {
		trust = module.TrustScanPrologue
	}
	return Registers{"$sp": newSP, "$pc": ra}, trust, true
}

// arm64LooksLikeBL checks the preceding 4-byte-aligned instruction word for
// AArch64's BL opcode: the top 6 bits (31:26) equal 0b100101.
func arm64LooksLikeBL(mem Memory, candidate uint64) bool {
	if candidate < 4 {
		return false
	}
	w, ok := mem.ReadU32(candidate - 4)
	return ok && (w>>26) == 0x25
}
