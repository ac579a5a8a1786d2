package module

import "github.com/gocrash/crashwalk/pkg/addrmap"

// FindWindowsFrameInfo resolves a STACK WIN record covering addr, preferring
// the more detailed FrameData record over an FPO record when both ranges
// happen to contain addr. Failing that, a containing function's own
// parameter_size still tells the caller how much stack the callee's
// parameters consume, even with no STACK WIN record at all; failing that
// too, a PUBLIC symbol's parameter_size is the last resort.
//
// The original breakpad source line resolver has a latent bug in this last
// resort: its public-symbol fallback branch populates a WindowsFrameInfo
// (parameter size only, derived from the public symbol rather than a STACK
// WIN record) and then discards it, returning nullptr instead. This
// implementation returns that populated result instead of discarding it,
// since nothing in the data model distinguishes "no STACK WIN record, but
// we inferred a parameter size from the public symbol" from "no
// information at all," and callers are already required to check the Valid
// bitmask before trusting any individual field.
func (r *Resolver) FindWindowsFrameInfo(addr Addr) (WindowsFrameInfo, bool) {
	if info, _, _, ok := r.WindowsFrameInfo[StackInfoFrameData].RetrieveRange(addr); ok {
		return info, true
	}
	if info, _, _, ok := r.WindowsFrameInfo[StackInfoFPO].RetrieveRange(addr); ok {
		return info, true
	}

	if r.Functions != nil {
		if fn, base, size, ok := r.Functions.RetrieveNearestRange(addr); ok && addrmap.Contains(addr, base, size) {
			return WindowsFrameInfo{
				Type:          StackInfoFPO,
				Valid:         ValidParameterSize,
				ParameterSize: fn.ParameterSize,
			}, true
		}
	}

	if pub, _, ok := r.PublicSymbols.Retrieve(addr); ok {
		return WindowsFrameInfo{
			Type:          StackInfoFPO,
			Valid:         ValidParameterSize,
			ParameterSize: pub.ParameterSize,
		}, true
	}

	return WindowsFrameInfo{}, false
}

// FindCFIFrameInfo resolves the merged CFI rule text in effect at addr: the
// STACK CFI INIT rule set covering addr, refined by every STACK CFI delta
// record from that range's base through addr inclusive, in address order,
// per the "later deltas override earlier ones, including the initial rule
// for the same register" merge semantics a CFI evaluator expects.
func (r *Resolver) FindCFIFrameInfo(addr Addr) (initial string, deltas []CFIDeltaRule, ok bool) {
	init, ibase, isize, found := r.CFIInitialRules.RetrieveRange(addr)
	if !found {
		return "", nil, false
	}
	limit := ibase + isize - 1
	if r.CFIDeltaRules != nil {
		deltas = r.CFIDeltaRules.InRange(ibase, minAddr(addr, limit))
	}
	return init, deltas, true
}

func minAddr(a, b Addr) Addr {
	if a < b {
		return a
	}
	return b
}
