package module

import "github.com/gocrash/crashwalk/pkg/addrmap"

// Resolver holds the seven maps spec.md 2 describes for one loaded module
// and answers LookupAddress/FindWindowsFrameInfo/FindCFIFrameInfo queries.
// Whether those maps were built in memory while parsing a symbol file or
// mounted read-only over a previously serialized image (spec.md 9's
// Built/Loaded sum type) is invisible here: addrmap's NewXxxReader
// constructors (fed from a builder's sorted entries) and LoadXxx
// constructors both produce the same reader types, so Resolver is
// written once against those readers regardless of which byte buffer (an
// owned []byte or an mmap'd one) backs them.
type Resolver struct {
	IsCorrupt bool

	Files         *addrmap.StaticMapReader[uint32, File]
	InlineOrigins *addrmap.StaticMapReader[uint32, InlineOrigin]
	Functions     *addrmap.RangeMapReader[Function]
	PublicSymbols *addrmap.AddressMapReader[PublicSymbol]

	// WindowsFrameInfo[StackInfoFPO] and [StackInfoFrameData] are disjoint
	// range maps; FindWindowsFrameInfo prefers FrameData.
	WindowsFrameInfo [2]*addrmap.RangeMapReader[WindowsFrameInfo]

	CFIInitialRules *addrmap.RangeMapReader[string]
	CFIDeltaRules   *CFIDeltaRules
}

// LookupOptions controls how much work LookupAddress does beyond the
// function/line lookup that is always performed.
type LookupOptions struct {
	WithInlines bool
}
