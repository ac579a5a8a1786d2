package module

// LookupAddress resolves addr, a module-relative offset (instruction minus
// the module's load base), against a Resolver's function and public-symbol
// maps and fills in the function/line fields of frame. It never touches
// frame.Instruction or frame.ModuleBase: those are the caller's to set.
//
// The function map is queried first since it carries line-number detail a
// public symbol never does. A public symbol is only allowed to override an
// already-found function when its address is strictly greater than the
// function's base -- a public symbol sitting exactly on a function's entry
// point is assumed to be that function's exported alias, not a better
// match.
func (r *Resolver) LookupAddress(addr Addr, frame *StackFrame, opts LookupOptions) {
	fn, fbase, fsize, foundFunc := r.Functions.RetrieveNearestRange(addr)
	haveFunc := foundFunc && addrInRange(addr, fbase, fsize)

	if haveFunc {
		frame.FunctionName = fn.Name
		frame.FunctionBase = uint64(fbase)
		frame.IsMultiple = fn.IsMultiple
		if fn.Lines != nil {
			if line, lbase, _, ok := fn.Lines.RetrieveRange(addr); ok {
				frame.SourceLine = line.LineNumber
				frame.SourceLineBase = uint64(lbase)
				if path, ok := r.Files.Get(line.SourceFileID); ok {
					frame.SourceFileName = path.Path
				}
			}
		}
	}

	pub, paddr, foundPub := r.PublicSymbols.Retrieve(addr)
	if foundPub && (!haveFunc || paddr > fbase) {
		frame.FunctionName = pub.Name
		frame.FunctionBase = uint64(paddr)
		frame.IsMultiple = pub.IsMultiple
		frame.SourceFileName = ""
		frame.SourceLine = 0
		frame.SourceLineBase = 0
	}

	if opts.WithInlines && haveFunc && fn.Inlines != nil {
		frame.InlineDepth = uint32(len(fn.Inlines.RetrieveRanges(addr)))
	}
}

func addrInRange(addr, base, size Addr) bool {
	return addr >= base && addr-base < size
}
