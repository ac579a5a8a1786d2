package process

import (
	"fmt"

	"github.com/gocrash/crashwalk/pkg/supplier"
)

// Windows exception codes this engine recognizes by name. The full set
// Windows defines is much larger; unrecognized codes fall back to a
// formatted hex string, which keeps an unrecognized exception from being a
// processing failure (spec.md 7's "a single bad record never terminates a
// dump" extends to an unrecognized crash reason).
const (
	excAccessViolation    = 0xC0000005
	excBreakpoint         = 0x80000003
	excStackOverflow      = 0xC00000FD
	excIllegalInstruction = 0xC000001D
	excIntDivideByZero    = 0xC0000094
	excFastFail           = 0xC0000409
)

// crashReason derives spec.md 6's crash_reason string from the raw
// exception record, distinguishing the three EXCEPTION_ACCESS_VIOLATION_*
// sub-reasons by the first exception parameter (0 = read, 1 = write,
// 8 = execute/DEP), Windows' own convention for that record.
func crashReason(e supplier.ExceptionInfo) string {
	switch e.ExceptionCode {
	case excAccessViolation:
		if len(e.Parameters) > 0 {
			switch e.Parameters[0] {
			case 1:
				return "EXCEPTION_ACCESS_VIOLATION_WRITE"
			case 8:
				return "EXCEPTION_ACCESS_VIOLATION_EXEC"
			}
		}
		return "EXCEPTION_ACCESS_VIOLATION_READ"
	case excBreakpoint:
		return "EXCEPTION_BREAKPOINT"
	case excStackOverflow:
		return "EXCEPTION_STACK_OVERFLOW"
	case excIllegalInstruction:
		return "EXCEPTION_ILLEGAL_INSTRUCTION"
	case excIntDivideByZero:
		return "EXCEPTION_INT_DIVIDE_BY_ZERO"
	case excFastFail:
		// Every STATUS_FASTFAIL subcode is reported under one name; the
		// subcode (carried in Parameters[0]) distinguishes which fast-fail
		// check tripped but isn't part of the crash_reason vocabulary.
		return "FAST_FAIL_FATAL_APP_EXIT"
	default:
		return fmt.Sprintf("0x%08X", e.ExceptionCode)
	}
}

// assertionReason formats spec.md 6's crash_reason for a dump that carries
// an assertion record instead of (or in addition to) a hardware exception.
func assertionReason(a supplier.AssertionInfo) string {
	return fmt.Sprintf("Assertion failed: %s (%s:%d)", a.Expression, a.File, a.Line)
}

// fixupFaultAddress corrects the one architecture-specific non-canonical-
// address bug spec.md 4.9/8 calls out: on amd64, Windows has been observed
// to report a faulting address with bit 63 cleared when bit 62 is set --
// the top bit of what should have been a sign-extended kernel-range
// address gets dropped. Bits 63:62 == 0b01 is exactly that corrupted
// pattern (a canonical address never has bit 62 set with bit 63 clear), so
// restoring bit 63 recovers the original value.
func fixupFaultAddress(cpu string, addr uint64) uint64 {
	if cpu == "amd64" && addr>>62 == 0x1 {
		return addr | (1 << 63)
	}
	return addr
}
