package stackwalk

import "github.com/gocrash/crashwalk/pkg/module"

// AMD64 is the CallerUnwinder for x86-64 targets. Register names follow
// breakpad's STACK CFI convention for this architecture ("$rax", "$rbp",
// "$rsp", "$rip", ...).
type AMD64 struct{ base }

// NewAMD64 builds an AMD64 unwinder.
func NewAMD64() AMD64 {
	return AMD64{base{pcKey: "$rip", spKey: "$rsp", ptrSize: 8}}
}

// TryFramePointer walks the classic amd64 push-rbp/push-return-address
// prologue: [rbp] is the caller's saved rbp, [rbp+8] is the return
// address, and rbp+16 is the caller's stack pointer.
func (a AMD64) TryFramePointer(callee Registers, mem Memory) (Registers, bool) {
	fp, ok := callee["$rbp"]
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
	return Registers{"$rbp": callerFP, "$rsp": fp + 16, "$rip": ra}, true
}

func (a AMD64) TryScan(callee Registers, mem Memory, modules ModuleSet, maxWords int) (Registers, module.Trust, bool) {
	sp := callee["$rsp"]
	ra, newSP, prologue, ok := scanStack(mem, sp, 8, maxWords, modules, amd64LooksLikeCall)
	if !ok {
		return nil, 0, false
	}
	trust := module.TrustScan
	if prologue {
		trust = module.TrustScanPrologue
	}
	return Registers{"$rsp": newSP, "$rip": ra}, trust, true
}

// amd64LooksLikeCall checks for the 5-byte encoding of a near relative
// CALL (opcode 0xE8) immediately before candidate -- the common case for
// calls within the same module, and the only encoding cheap enough to
// check without a disassembler.
func amd64LooksLikeCall(mem Memory, candidate uint64) bool {
	if candidate < 5 {
		return false
	}
	b, ok := mem.ReadByte(candidate - 5)
	return ok && b == 0xE8
}
