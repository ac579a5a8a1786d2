package cfi

import (
	"strconv"

	"github.com/gocrash/crashwalk/pkg/logflags"
)

// Registers is a named u64 register snapshot, keyed by the same register
// names the symbol file's rule text uses ("$rax", "$rsp", ...) plus the
// two synthetic names ".cfa" and ".ra".
type Registers map[string]uint64

// MemoryReader is the minimal capability Eval needs to evaluate the '@'
// dereference operator; pkg/stackwalk supplies one backed by the thread's
// stack memory window.
type MemoryReader interface {
	ReadU64(addr uint64) (uint64, bool)
}

// Eval evaluates every rule against callee (the current frame's already-
// known registers) plus whatever this evaluation has itself resolved so
// far, and returns the resulting caller register set. ok is false unless
// both ".cfa" and ".ra" ended up defined, per spec.md 4.6's "a frame
// survives as long as .cfa and .ra are defined."
func (rs *RuleSet) Eval(callee Registers, mem MemoryReader) (Registers, bool) {
	caller := make(Registers)
	for _, r := range rs.ordered() {
		v, ok, reason := evalExpr(r.Expr, callee, caller, mem)
		if !ok {
			if reason != "" {
				logflags.CFILogger().Warnf("skipping rule for %s: %s", r.Register, reason)
			}
			continue
		}
		caller[r.Register] = v
	}
	if _, ok := caller[".cfa"]; !ok {
		return nil, false
	}
	if _, ok := caller[".ra"]; !ok {
		return nil, false
	}
	return caller, true
}

// evalExpr runs one rule's postfix expression. The returned reason is
// non-empty only for the three failure modes spec.md 4.6 calls out as
// warning-worthy (stack underflow, division by zero, memory read failure);
// an unknown register is a silent skip, since a rule referencing a register
// this evaluation doesn't track is the expected steady state for most
// frames, not a sign of a malformed rule.
func evalExpr(tokens []string, callee, caller Registers, mem MemoryReader) (result uint64, ok bool, reason string) {
	var stack []uint64
	for _, tok := range tokens {
		switch tok {
		case "+", "-", "*", "/", "%":
			if len(stack) < 2 {
				return 0, false, "stack underflow"
			}
			b := stack[len(stack)-1]
			a := stack[len(stack)-2]
			stack = stack[:len(stack)-2]
			switch tok {
			case "+":
				stack = append(stack, a+b)
			case "-":
				stack = append(stack, a-b)
			case "*":
				stack = append(stack, a*b)
			case "/":
				if b == 0 {
					return 0, false, "division by zero"
				}
				stack = append(stack, a/b)
			case "%":
				if b == 0 {
					return 0, false, "division by zero"
				}
				stack = append(stack, a%b)
			}
		case "@":
			if len(stack) < 1 {
				return 0, false, "stack underflow"
			}
			addr := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			v, ok := mem.ReadU64(addr)
			if !ok {
				return 0, false, "memory read failure"
			}
			stack = append(stack, v)
		default:
			if v, err := strconv.ParseUint(tok, 0, 64); err == nil {
				stack = append(stack, v)
				continue
			}
			if v, ok := caller[tok]; ok {
				stack = append(stack, v)
				continue
			}
			if v, ok := callee[tok]; ok {
				stack = append(stack, v)
				continue
			}
			return 0, false, ""
		}
	}
	if len(stack) != 1 {
		return 0, false, "stack underflow"
	}
	return stack[0], true, ""
}
