// Package cfi parses and evaluates Call Frame Information register-recovery
// rule sets: the `.cfa: expr` / `reg: expr` text carried by STACK CFI INIT
// and STACK CFI records. Evaluation follows the instruction-dispatch idiom
// of the teacher's DWARF expression evaluator (pkg/dwarf/op/op.go's
// context+stack machine) and its CFA rule representation
// (pkg/dwarf/frame/table.go's Rule/DWRule), adapted from DWARF opcode bytes
// to the whitespace-tokenized postfix text breakpad symbol files use.
package cfi

import (
	"fmt"
	"strings"
)

// Rule is one `reg: expr` clause: a target register and the postfix
// expression tokens that compute its value.
type Rule struct {
	Register string
	Expr     []string
}

// RuleSet is a parsed, unordered collection of rules for one CFI record
// (either an initial rule set or the rules merged from it plus deltas).
type RuleSet struct {
	Rules []Rule
}

// ParseRules tokenizes rule text into a RuleSet. Every token ending in ':'
// starts a new rule; every token up to the next such token (or end of
// input) is that rule's postfix expression.
func ParseRules(text string) (*RuleSet, error) {
	fields := strings.Fields(text)
	var rules []Rule
	i := 0
	for i < len(fields) {
		tok := fields[i]
		if !strings.HasSuffix(tok, ":") {
			return nil, fmt.Errorf("cfi: expected a register name ending in ':', got %q", tok)
		}
		reg := strings.TrimSuffix(tok, ":")
		i++
		start := i
		for i < len(fields) && !strings.HasSuffix(fields[i], ":") {
			i++
		}
		rules = append(rules, Rule{Register: reg, Expr: fields[start:i]})
	}
	return &RuleSet{Rules: rules}, nil
}

// ordered returns the rule set with any ".cfa" rule moved first, since
// every other rule's expression is allowed to dereference through ".cfa"
// and must see it already resolved.
func (rs *RuleSet) ordered() []Rule {
	out := make([]Rule, 0, len(rs.Rules))
	cfaIdx := -1
	for i, r := range rs.Rules {
		if r.Register == ".cfa" {
			cfaIdx = i
		}
	}
	if cfaIdx >= 0 {
		out = append(out, rs.Rules[cfaIdx])
	}
	for i, r := range rs.Rules {
		if i != cfaIdx {
			out = append(out, r)
		}
	}
	return out
}

// MergeRules parses the initial rule set and applies each delta rule text
// over it in order, a later rule for the same register replacing an
// earlier one, per spec.md 4.4/4.6's "iterate deltas in address order,
// merging" contract. A delta that fails to parse is dropped rather than
// aborting the merge -- a single bad STACK CFI line should not cost every
// rule ahead of it in the range.
func MergeRules(initial string, deltas []string) (*RuleSet, error) {
	rs, err := ParseRules(initial)
	if err != nil {
		return nil, err
	}
	byReg := make(map[string]Rule, len(rs.Rules))
	order := make([]string, 0, len(rs.Rules))
	for _, r := range rs.Rules {
		byReg[r.Register] = r
		order = append(order, r.Register)
	}
	for _, d := range deltas {
		drs, err := ParseRules(d)
		if err != nil {
			continue
		}
		for _, r := range drs.Rules {
			if _, exists := byReg[r.Register]; !exists {
				order = append(order, r.Register)
			}
			byReg[r.Register] = r
		}
	}
	merged := make([]Rule, len(order))
	for i, reg := range order {
		merged[i] = byReg[reg]
	}
	return &RuleSet{Rules: merged}, nil
}
