package stackwalk

import (
	"encoding/binary"
	"strings"
	"testing"

	"github.com/gocrash/crashwalk/pkg/module"
	"github.com/gocrash/crashwalk/pkg/symfile"
)

// byteMemory is a flat little-endian memory window starting at base,
// enough to exercise frame-pointer chains and scanning without a real
// minidump memory region.
type byteMemory struct {
	base uint64
	buf  []byte
}

func (m byteMemory) ReadU64(addr uint64) (uint64, bool) {
	if addr < m.base || addr+8 > m.base+uint64(len(m.buf)) {
		return 0, false
	}
	return binary.LittleEndian.Uint64(m.buf[addr-m.base:]), true
}

func (m byteMemory) ReadU32(addr uint64) (uint32, bool) {
	if addr < m.base || addr+4 > m.base+uint64(len(m.buf)) {
		return 0, false
	}
	return binary.LittleEndian.Uint32(m.buf[addr-m.base:]), true
}

func (m byteMemory) ReadByte(addr uint64) (byte, bool) {
	if addr < m.base || addr+1 > m.base+uint64(len(m.buf)) {
		return 0, false
	}
	return m.buf[addr-m.base], true
}

func (m *byteMemory) putU64(addr, v uint64) {
	binary.LittleEndian.PutUint64(m.buf[addr-m.base:], v)
}

type fakeModules []Module

func (f fakeModules) Find(pc uint64) (Module, bool) {
	for _, m := range f {
		if pc >= m.Base && pc < m.Base+m.Size {
			return m, true
		}
	}
	return Module{}, false
}

type recordingSymbolizer struct{ frames []module.StackFrame }

func (s *recordingSymbolizer) Symbolize(f *module.StackFrame) ([]module.StackFrame, bool) {
	s.frames = append(s.frames, *f)
	return nil, false
}

func TestWalkerAMD64FramePointerChain(t *testing.T) {
	// Stack layout (growing up in address, as laid out here for the test):
	// sp0 -> [rbp0 region] rbp0 -> saved rbp1, rbp0+8 -> return addr ra1
	// rbp1 -> saved rbp2 (0, terminal), rbp1+8 -> return addr ra2
	mem := &byteMemory{base: 0x1000, buf: make([]byte, 0x100)}
	rbp0 := uint64(0x1010)
	rbp1 := uint64(0x1030)
	mem.putU64(rbp0, rbp1)
	mem.putU64(rbp0+8, 0x5002) // ra1
	mem.putU64(rbp1, 0)        // terminal: no further frame pointer
	mem.putU64(rbp1+8, 0x5004) // ra2

	modules := fakeModules{{Base: 0x5000, Size: 0x1000, Name: "a.out"}}
	sym := &recordingSymbolizer{}
	w := New(NewAMD64(), modules, sym)

	ctx := Registers{"$rip": 0x5000, "$rsp": 0x1008, "$rbp": rbp0}
	frames, err := w.Walk(ctx, mem)
	if err != nil {
		t.Fatalf("Walk: %v", err)
	}
	if len(frames) != 3 {
		t.Fatalf("got %d frames, want 3 (context + 2 unwound)", len(frames))
	}
	if frames[0].Trust != module.TrustContext || frames[0].Instruction != 0x5000 {
		t.Errorf("frame 0 = %+v", frames[0])
	}
	if frames[1].Trust != module.TrustFramePointer || frames[1].Instruction != 0x5002 {
		t.Errorf("frame 1 = %+v", frames[1])
	}
	if frames[2].Trust != module.TrustFramePointer || frames[2].Instruction != 0x5004 {
		t.Errorf("frame 2 = %+v", frames[2])
	}
}

func TestWalkerTerminatesOnNoProgress(t *testing.T) {
	mem := &byteMemory{base: 0x1000, buf: make([]byte, 0x100)}
	rbp := uint64(0x1010)
	mem.putU64(rbp, rbp)        // caller fp == same fp: no progress
	mem.putU64(rbp+8, 0x5002)

	modules := fakeModules{{Base: 0x5000, Size: 0x1000}}
	w := New(NewAMD64(), modules, nil)
	w.ScanEnabled = false

	ctx := Registers{"$rip": 0x5000, "$rsp": 0x1000, "$rbp": rbp}
	frames, err := w.Walk(ctx, mem)
	if err != nil {
		t.Fatalf("Walk: %v", err)
	}
	if len(frames) != 2 {
		t.Fatalf("got %d frames, want 2 (context + one unwind, then stop on no SP progress)", len(frames))
	}
}

const cfiSymText = `MODULE linux x86_64 0 a.out
FUNC 0 100 0 crashed
STACK CFI INIT 0 100 .cfa: $rsp 8 + .ra: .cfa 8 - @
`

func TestWalkerAMD64CFI(t *testing.T) {
	b, _, err := symfile.Parse(strings.NewReader(cfiSymText))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	resolver, err := b.Finish()
	if err != nil {
		t.Fatalf("Finish: %v", err)
	}

	mem := &byteMemory{base: 0x1000, buf: make([]byte, 0x100)}
	// .cfa = $rsp + 8 = 0x1008; .ra = deref(.cfa - 8) = deref(0x1000).
	mem.putU64(0x1000, 0x5123)

	modules := fakeModules{{Base: 0x5000, Size: 0x1000, Name: "a.out", Resolver: resolver}}
	w := New(NewAMD64(), modules, nil)
	w.ScanEnabled = false

	ctx := Registers{"$rip": 0x5000, "$rsp": 0x1000}
	frames, err := w.Walk(ctx, mem)
	if err != nil {
		t.Fatalf("Walk: %v", err)
	}
	if len(frames) != 2 {
		t.Fatalf("got %d frames, want 2", len(frames))
	}
	if frames[1].Trust != module.TrustCFI || frames[1].Instruction != 0x5123 {
		t.Errorf("frame 1 = %+v", frames[1])
	}
}

func TestAddressListWalker(t *testing.T) {
	modules := fakeModules{{Base: 0x5000, Size: 0x1000, Name: "a.out"}}
	sym := &recordingSymbolizer{}
	w := NewAddressListWalker([]uint64{0x5010, 0x5020, 0x5030}, modules, sym)

	frames, err := w.Walk()
	if err != nil {
		t.Fatalf("Walk: %v", err)
	}
	if len(frames) != 3 {
		t.Fatalf("got %d frames, want 3", len(frames))
	}
	for _, f := range frames {
		if f.Trust != module.TrustPrewalked {
			t.Errorf("frame %+v: trust = %v, want prewalked", f, f.Trust)
		}
	}
}
