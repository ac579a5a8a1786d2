package cfi

import "testing"

type fakeMem map[uint64]uint64

func (m fakeMem) ReadU64(addr uint64) (uint64, bool) {
	v, ok := m[addr]
	return v, ok
}

func TestParseRulesSplitsOnColonTokens(t *testing.T) {
	rs, err := ParseRules(".cfa: $rsp 16 + .ra: .cfa 8 - @ $rbx: $rbx")
	if err != nil {
		t.Fatalf("ParseRules: %v", err)
	}
	if len(rs.Rules) != 3 {
		t.Fatalf("got %d rules, want 3", len(rs.Rules))
	}
	if rs.Rules[0].Register != ".cfa" || len(rs.Rules[0].Expr) != 3 {
		t.Errorf("rule 0 = %+v", rs.Rules[0])
	}
	if rs.Rules[1].Register != ".ra" || len(rs.Rules[1].Expr) != 4 {
		t.Errorf("rule 1 = %+v", rs.Rules[1])
	}
}

func TestEvalComputesCFAAndRA(t *testing.T) {
	rs, err := ParseRules(".cfa: $rsp 16 + .ra: .cfa 8 - @")
	if err != nil {
		t.Fatalf("ParseRules: %v", err)
	}
	mem := fakeMem{0x2010 - 8: 0xdeadbeef}
	callee := Registers{"$rsp": 0x2000}

	caller, ok := rs.Eval(callee, mem)
	if !ok {
		t.Fatal("Eval returned ok=false")
	}
	if caller[".cfa"] != 0x2010 {
		t.Errorf(".cfa = %#x, want 0x2010", caller[".cfa"])
	}
	if caller[".ra"] != 0xdeadbeef {
		t.Errorf(".ra = %#x, want 0xdeadbeef", caller[".ra"])
	}
}

func TestEvalFailsWithoutCFAOrRA(t *testing.T) {
	rs, err := ParseRules("$rbx: $rbx")
	if err != nil {
		t.Fatalf("ParseRules: %v", err)
	}
	if _, ok := rs.Eval(Registers{"$rbx": 1}, fakeMem{}); ok {
		t.Error("Eval should fail without .cfa/.ra defined")
	}
}

func TestEvalSkipsUnknownRegisterRuleButKeepsOthers(t *testing.T) {
	rs, err := ParseRules(".cfa: $rsp 8 + .ra: .cfa 8 - @ $unknownreg: $nosuchreg")
	if err != nil {
		t.Fatalf("ParseRules: %v", err)
	}
	mem := fakeMem{0x1008 - 8: 0x42}
	caller, ok := rs.Eval(Registers{"$rsp": 0x1000}, mem)
	if !ok {
		t.Fatal("Eval should still succeed: .cfa/.ra are defined")
	}
	if _, present := caller["$unknownreg"]; present {
		t.Error("$unknownreg should have been skipped, not set")
	}
}

func TestEvalDivideByZeroSkipsRule(t *testing.T) {
	rs, err := ParseRules(".cfa: 1 0 /")
	if err != nil {
		t.Fatalf("ParseRules: %v", err)
	}
	if _, ok := rs.Eval(Registers{}, fakeMem{}); ok {
		t.Error("Eval should fail: .cfa rule divides by zero and is skipped, leaving .cfa undefined")
	}
}

func TestMergeRulesDeltaOverridesInitial(t *testing.T) {
	rs, err := MergeRules(".cfa: $rsp 8 + .ra: .cfa 8 - @", []string{".cfa: $rsp 16 +"})
	if err != nil {
		t.Fatalf("MergeRules: %v", err)
	}
	var cfaExpr []string
	for _, r := range rs.Rules {
		if r.Register == ".cfa" {
			cfaExpr = r.Expr
		}
	}
	if len(cfaExpr) != 3 || cfaExpr[1] != "16" {
		t.Errorf(".cfa expr = %v, want the delta's [$rsp 16 +]", cfaExpr)
	}
}
