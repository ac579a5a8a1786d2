package stackwalk

// callLooksValid recognizes whether the bytes immediately preceding a
// candidate return address could plausibly be the tail of a CALL
// instruction, per architecture. This is deliberately not a disassembler:
// spec.md 1's non-goal is "no speculative disassembly beyond bounded stack
// scanning," so every implementation below is a fixed, architecture-typical
// byte/bit pattern check against a handful of bytes, not instruction
// decoding, which is why golang.org/x/arch/x86/x86asm (which the teacher
// uses elsewhere, for register-number translation rather than decoding
// call sites) isn't pulled in here.
type callLooksValid func(mem Memory, candidate uint64) bool

// scanStack implements spec.md 4.7's scanning discipline: read pointer-
// aligned words from sp upward, up to maxWords, and prefer (in order) a
// word that (a) lands inside a known module and (b) whose preceding bytes
// look like a call site, over merely (a) alone. It returns the matched
// return address, the stack address it adjusted SP to right past, the
// trust tier the match earned, and whether anything matched at all.
func scanStack(mem Memory, sp uint64, ptrSize int, maxWords int, modules ModuleSet, looksLikeCall callLooksValid) (ra uint64, newSP uint64, trustIsPrologue bool, ok bool) {
	var plainRA, plainSP uint64
	havePlain := false

	for i := 0; i < maxWords; i++ {
		addr := sp + uint64(i*ptrSize)
		word, readOK := readPtr(mem, addr, ptrSize)
		if !readOK {
			break
		}
		if word == 0 {
			continue
		}
		if _, inModule := modules.Find(word); !inModule {
			continue
		}
		if !havePlain {
			plainRA, plainSP = word, addr+uint64(ptrSize)
			havePlain = true
		}
		if looksLikeCall != nil && looksLikeCall(mem, word) {
			return word, addr + uint64(ptrSize), true, true
		}
	}
	if havePlain {
		return plainRA, plainSP, false, true
	}
	return 0, 0, false, false
}
