package stackwalk

import "github.com/gocrash/crashwalk/pkg/module"

// X86 is the CallerUnwinder for 32-bit x86 targets.
type X86 struct{ base }

// NewX86 builds an X86 unwinder.
func NewX86() X86 {
	return X86{base{pcKey: "$eip", spKey: "$esp", ptrSize: 4}}
}

// TryFramePointer mirrors AMD64.TryFramePointer with 4-byte slots: [ebp] is
// the caller's saved ebp, [ebp+4] is the return address, ebp+8 is the
// caller's stack pointer.
func (a X86) TryFramePointer(callee Registers, mem Memory) (Registers, bool) {
	fp, ok := callee["$ebp"]
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
	return Registers{"$ebp": uint64(callerFP), "$esp": fp + 8, "$eip": uint64(ra)}, true
}

func (a X86) TryScan(callee Registers, mem Memory, modules ModuleSet, maxWords int) (Registers, module.Trust, bool) {
	sp := callee["$esp"]
	ra, newSP, prologue, ok := scanStack(mem, sp, 4, maxWords, modules, amd64LooksLikeCall)
	if !ok {
		return nil, 0, false
	}
	trust := module.TrustScan
	if prologue {
		trust = module.TrustScanPrologue
	}
	return Registers{"$esp": newSP, "$eip": ra}, trust, true
}
