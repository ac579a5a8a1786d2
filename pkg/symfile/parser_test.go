package symfile

import (
	"strings"
	"testing"
)

const sampleSym = `MODULE windows x86 000000000000000000000000000000000 test_app.pdb
FILE 0 c:\test_app.cc
FILE 1 c:\inline.cc
INLINE_ORIGIN 0 StaticInlineFunction
FUNC 401000 100 0 main
401000 10 10 0
401010 f0 11 1
INLINE 0 20 1 0 401010 30
PUBLIC 402000 0 _exported_helper
STACK WIN 4 401000 100 a 5 8 0 0 20 0 0
STACK CFI INIT 401000 100 .cfa: $esp 4 + .ra: .cfa 4 - @
STACK CFI 401050 $ebx: .cfa 8 - @
`

func TestParseBuildsExpectedResolver(t *testing.T) {
	b, header, err := Parse(strings.NewReader(sampleSym))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if header.OS != "windows" || header.Arch != "x86" {
		t.Errorf("header = %+v", header)
	}
	if b.IsCorrupt {
		t.Fatal("well-formed input marked corrupt")
	}

	r, err := b.Finish()
	if err != nil {
		t.Fatalf("Finish: %v", err)
	}

	fn, base, size, ok := r.Functions.RetrieveRange(0x401020)
	if !ok || base != 0x401000 || size != 0x100 || fn.Name != "main" {
		t.Fatalf("functions lookup = %+v, %x, %x, %v", fn, base, size, ok)
	}

	line, lbase, _, ok := fn.Lines.RetrieveRange(0x401020)
	if !ok || lbase != 0x401010 || line.LineNumber != 11 {
		t.Fatalf("line lookup = %+v, %x, %v", line, lbase, ok)
	}

	pub, paddr, ok := r.PublicSymbols.Retrieve(0x402000)
	if !ok || paddr != 0x402000 || pub.Name != "_exported_helper" {
		t.Fatalf("public lookup = %+v, %x, %v", pub, paddr, ok)
	}

	initial, deltas, ok := r.FindCFIFrameInfo(0x401060)
	if !ok {
		t.Fatal("FindCFIFrameInfo: no rules found")
	}
	if !strings.Contains(initial, ".cfa:") {
		t.Errorf("initial rules = %q", initial)
	}
	if len(deltas) != 1 || deltas[0].Addr != 0x401050 {
		t.Errorf("deltas = %+v", deltas)
	}

	win, ok := r.FindWindowsFrameInfo(0x401020)
	if !ok || win.ParameterSize != 8 {
		t.Fatalf("windows frame info = %+v, %v", win, ok)
	}

	chain := fn.Inlines.RetrieveRanges(0x401020)
	if len(chain) != 1 || chain[0].CallSiteLine != 20 {
		t.Fatalf("inline chain = %+v", chain)
	}
}

func TestParseMarksCorruptOnTruncatedLineAndDuplicateFunc(t *testing.T) {
	text := `MODULE linux x86_64 0 a.out
FUNC 1000 10 0 f
1000 4
FUNC 1000 10 0 f
`
	b, _, err := Parse(strings.NewReader(text))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !b.IsCorrupt {
		t.Error("truncated LINE + duplicate FUNC should mark is_corrupt")
	}
	if _, err := b.Finish(); err != nil {
		t.Fatalf("Finish should still succeed on a corrupt module: %v", err)
	}
}

func TestParseIgnoresUnknownKeyword(t *testing.T) {
	text := `MODULE linux x86_64 0 a.out
BOGUS_RECORD 1 2 3
FUNC 1000 10 0 f
`
	b, _, err := Parse(strings.NewReader(text))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !b.IsCorrupt {
		t.Error("unknown keyword should still mark is_corrupt")
	}
	r, err := b.Finish()
	if err != nil {
		t.Fatalf("Finish: %v", err)
	}
	if fn, _, _, ok := r.Functions.RetrieveRange(0x1005); !ok || fn.Name != "f" {
		t.Errorf("function after bad record = %+v, %v", fn, ok)
	}
}
