package module

// BuildInlineFrames expands the inline call chain covering addr inside fn
// into a slice of synthetic StackFrames, innermost first, and shifts real's
// own source location to match.
//
// ContainedRangeMapReader.RetrieveRanges returns the chain outermost first.
// Walking it in reverse carries a (file, line) value representing "the
// location this level was called from" up the chain: the innermost inline
// frame receives the actual leaf location (addr's own line, as recorded by
// fn.Lines), each frame above it receives the call site of the frame below,
// and what's left over after the walk is the call site of the outermost
// inline -- which is where inlining began inside the real, non-inlined
// function, so it replaces real's SourceFileName/SourceLine rather than the
// leaf location real originally carried.
func (r *Resolver) BuildInlineFrames(addr Addr, fn Function, real *StackFrame) []StackFrame {
	if fn.Inlines == nil {
		return nil
	}
	chain := fn.Inlines.RetrieveRanges(addr)
	if len(chain) == 0 {
		return nil
	}

	curFile := real.SourceFileName
	curLine := real.SourceLine

	// chain is outermost first; walking it back to front and appending as
	// we go yields innermost-first output, matching StackFrame's ordering
	// contract.
	frames := make([]StackFrame, 0, len(chain))
	for i := len(chain) - 1; i >= 0; i-- {
		in := chain[i]

		name := "<name omitted>"
		if origin, ok := r.InlineOrigins.Get(in.OriginID); ok {
			name = origin.Name
		}

		f := StackFrame{
			Instruction:    real.Instruction,
			ModuleBase:     real.ModuleBase,
			ModuleName:     real.ModuleName,
			FunctionName:   name,
			FunctionBase:   real.FunctionBase,
			SourceFileName: curFile,
			SourceLine:     curLine,
			Trust:          TrustInline,
			InlineDepth:    in.Depth,
			CallSiteLine:   in.CallSiteLine,
		}
		if in.HasCallSiteFileID {
			if file, ok := r.Files.Get(in.CallSiteFileID); ok {
				f.CallSiteFileName = file.Path
			}
		}
		frames = append(frames, f)

		curLine = in.CallSiteLine
		curFile = f.CallSiteFileName
	}

	real.SourceFileName = curFile
	real.SourceLine = curLine
	return frames
}
