package stackwalk

import "github.com/gocrash/crashwalk/pkg/module"

// AddressListWalker is the degenerate walker of spec.md 4.8, grounded
// directly on original_source/src/processor/stackwalker_address_list.cc's
// GetContextFrame/GetCallerFrame: every supplied address becomes one
// TrustPrewalked frame, in order, with no stack or CFI access at all.
type AddressListWalker struct {
	addrs []uint64
	sym   Symbolizer
	modules ModuleSet
}

// NewAddressListWalker builds a walker that emits one prewalked frame per
// entry of addrs, for clients (such as a native-language VM) that already
// know their own call stack and only need it symbolized against the
// dump's modules.
func NewAddressListWalker(addrs []uint64, modules ModuleSet, sym Symbolizer) *AddressListWalker {
	return &AddressListWalker{addrs: addrs, modules: modules, sym: sym}
}

// Walk emits frames for every address NewAddressListWalker was given, in
// order, each at TrustPrewalked, the same way the address count is
// exhausted in the original GetCallerFrame.
func (w *AddressListWalker) Walk() ([]module.StackFrame, error) {
	var out []module.StackFrame
	for _, addr := range w.addrs {
		f := module.StackFrame{Instruction: addr, Trust: module.TrustPrewalked}
		if w.modules != nil {
			if mod, ok := w.modules.Find(addr); ok {
				f.ModuleBase = mod.Base
				f.ModuleName = mod.Name
			}
		}
		if w.sym != nil {
			inlines, interrupted := w.sym.Symbolize(&f)
			if interrupted {
				return out, ErrInterrupted
			}
			out = append(out, f)
			out = append(out, inlines...)
			continue
		}
		out = append(out, f)
	}
	return out, nil
}
