package module

// Symbolize is the combined spec.md 4.4+4.5 operation pkg/process drives
// per frame: resolve frame's function/line/public-symbol fields, then, if
// the resolved function has inline records covering addr, expand them into
// the innermost-first chain BuildInlineFrames produces. It returns only
// the inline frames; frame itself is mutated in place exactly as
// LookupAddress always does.
func (r *Resolver) Symbolize(addr Addr, frame *StackFrame) []StackFrame {
	r.LookupAddress(addr, frame, LookupOptions{WithInlines: true})

	fn, fbase, fsize, ok := r.Functions.RetrieveNearestRange(addr)
	if !ok || !addrInRange(addr, fbase, fsize) || fn.Inlines == nil {
		return nil
	}
	return r.BuildInlineFrames(addr, fn, frame)
}
