package process

import (
	"context"
	"testing"

	"github.com/gocrash/crashwalk/pkg/supplier"
)

type fakeRegContext struct {
	arch string
	regs map[string]uint64
}

func (c fakeRegContext) Arch() string { return c.arch }
func (c fakeRegContext) PC() uint64   { return c.regs["$rip"] }
func (c fakeRegContext) SP() uint64   { return c.regs["$rsp"] }
func (c fakeRegContext) FP() uint64   { return c.regs["$rbp"] }
func (c fakeRegContext) Get(name string) (uint64, bool) {
	v, ok := c.regs[name]
	return v, ok
}
func (c fakeRegContext) Set(name string, v uint64) { c.regs[name] = v }
func (c fakeRegContext) All() map[string]uint64     { return c.regs }

type fakeMemRegion struct {
	base uint64
	buf  []byte
}

func (m fakeMemRegion) Base() uint64 { return m.base }
func (m fakeMemRegion) Size() uint64 { return uint64(len(m.buf)) }
func (m fakeMemRegion) ReadU8(addr uint64) (uint8, bool) {
	if addr < m.base || addr-m.base >= uint64(len(m.buf)) {
		return 0, false
	}
	return m.buf[addr-m.base], true
}
func (m fakeMemRegion) ReadU16(addr uint64) (uint16, bool) {
	v, ok := m.read(addr, 2)
	return uint16(v), ok
}
func (m fakeMemRegion) ReadU32(addr uint64) (uint32, bool) {
	v, ok := m.read(addr, 4)
	return uint32(v), ok
}
func (m fakeMemRegion) ReadU64(addr uint64) (uint64, bool) {
	return m.read(addr, 8)
}
func (m fakeMemRegion) read(addr uint64, n int) (uint64, bool) {
	if addr < m.base || addr-m.base+uint64(n) > uint64(len(m.buf)) {
		return 0, false
	}
	off := addr - m.base
	var v uint64
	for i := 0; i < n; i++ {
		v |= uint64(m.buf[off+uint64(i)]) << (8 * i)
	}
	return v, true
}

type fakeDump struct {
	header    supplier.DumpHeader
	haveHdr   bool
	sysInfo   supplier.SystemInfo
	haveSys   bool
	modules   []supplier.ModuleIdentity
	haveMods  bool
	unloaded  []supplier.ModuleIdentity
	threads   []supplier.Thread
	haveThr   bool
	memory    []supplier.MemoryRegion
	haveMem   bool
	misc      supplier.MiscInfo
	exc       supplier.ExceptionInfo
	haveExc   bool
	assertion supplier.AssertionInfo
	haveAssrt bool
}

func (d fakeDump) Header() (supplier.DumpHeader, bool)   { return d.header, d.haveHdr }
func (d fakeDump) SystemInfo() (supplier.SystemInfo, bool) { return d.sysInfo, d.haveSys }
func (d fakeDump) ModuleList() ([]supplier.ModuleIdentity, bool) {
	return d.modules, d.haveMods
}
func (d fakeDump) UnloadedModuleList() ([]supplier.ModuleIdentity, bool) {
	return d.unloaded, d.unloaded != nil
}
func (d fakeDump) ThreadList() ([]supplier.Thread, bool) { return d.threads, d.haveThr }
func (d fakeDump) MemoryList() ([]supplier.MemoryRegion, bool) {
	return d.memory, d.haveMem
}
func (d fakeDump) MiscInfo() (supplier.MiscInfo, bool)         { return d.misc, true }
func (d fakeDump) Exception() (supplier.ExceptionInfo, bool)   { return d.exc, d.haveExc }
func (d fakeDump) Assertion() (supplier.AssertionInfo, bool)   { return d.assertion, d.haveAssrt }

const testAppSymText = `MODULE windows x86_64 0000000000000000000000000000000A test_app.pdb
FUNC 100a 30 0 anonymous namespace'::CrashFunction
FUNC 113f 20 0 main
FUNC 12c5 10 0 __tmainCRTStartup
`

type fakeSupplier struct {
	result supplier.Result
	data   []byte
	calls  int
}

func (s *fakeSupplier) GetSymbolFile(ctx context.Context, m supplier.ModuleIdentity, sys supplier.SystemInfo) (supplier.Result, string, error) {
	return supplier.NotFound, "", nil
}
func (s *fakeSupplier) GetCStringSymbolData(ctx context.Context, m supplier.ModuleIdentity, sys supplier.SystemInfo) (supplier.Result, []byte, error) {
	s.calls++
	return s.result, s.data, nil
}
func (s *fakeSupplier) FreeSymbolData(m supplier.ModuleIdentity) {}

func baseDump() fakeDump {
	return fakeDump{
		header:   supplier.DumpHeader{TimeDateStamp: 1},
		haveHdr:  true,
		sysInfo:  supplier.SystemInfo{CPU: "amd64", OS: "windows"},
		haveSys:  true,
		haveMods: true,
		haveThr:  true,
		haveMem:  true,
		haveExc:  true,
	}
}

func TestProcessScenario1SymbolizedCrash(t *testing.T) {
	dump := baseDump()
	mod := supplier.ModuleIdentity{CodeFile: `c:\test_app.exe`, DebugID: "A", Base: 0x400000, Size: 0x10000}
	dump.modules = []supplier.ModuleIdentity{mod}
	dump.exc = supplier.ExceptionInfo{ThreadID: 1, ExceptionCode: excAccessViolation, ExceptionAddress: 0x45, Parameters: []uint64{1}}

	stack := make([]byte, 0x40)
	mem := fakeMemRegion{base: 0x1000, buf: stack}
	ctx := fakeRegContext{arch: "amd64", regs: map[string]uint64{
		"$rip": 0x40100a, "$rsp": 0x1000, "$rbp": 0,
	}}
	dump.threads = []supplier.Thread{{ThreadID: 1, Context: ctx, StackBase: 0x1000, StackSize: 0x40, Memory: mem}}
	dump.memory = []supplier.MemoryRegion{mem}

	sup := &fakeSupplier{result: supplier.Found, data: []byte(testAppSymText)}
	p := New(sup)
	var state ProcessState
	status, err := p.Process(context.Background(), "dump1", dump, &state)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status != OK {
		t.Fatalf("status = %v, want OK", status)
	}
	if state.CrashReason != "EXCEPTION_ACCESS_VIOLATION_WRITE" {
		t.Fatalf("crash reason = %q", state.CrashReason)
	}
	if state.CrashAddress != 0x45 {
		t.Fatalf("crash address = %#x", state.CrashAddress)
	}
	if len(state.Threads) != 1 || len(state.Threads[0].Frames) == 0 {
		t.Fatalf("expected at least a context frame, got %+v", state.Threads)
	}
	if got := state.Threads[0].Frames[0].FunctionName; got != "anonymous namespace'::CrashFunction" {
		t.Fatalf("frame 0 function = %q", got)
	}
}

func TestProcessScenario2MissingStackMemory(t *testing.T) {
	dump := baseDump()
	mod := supplier.ModuleIdentity{CodeFile: `c:\test_app.exe`, DebugID: "A", Base: 0x400000, Size: 0x10000}
	dump.modules = []supplier.ModuleIdentity{mod}
	dump.exc = supplier.ExceptionInfo{ThreadID: 1, ExceptionCode: excAccessViolation, ExceptionAddress: 0x400020}

	ctx := fakeRegContext{arch: "amd64", regs: map[string]uint64{"$rip": 0x40100a, "$rsp": 0x2000}}
	dump.threads = []supplier.Thread{{ThreadID: 1, Context: ctx, StackBase: 0x9999}}
	dump.memory = nil

	sup := &fakeSupplier{result: supplier.NotFound}
	p := New(sup)
	var state ProcessState
	status, err := p.Process(context.Background(), "dump2", dump, &state)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status != OK {
		t.Fatalf("status = %v, want OK", status)
	}
	if len(state.Threads) != 1 || len(state.Threads[0].Frames) != 1 {
		t.Fatalf("expected exactly one frame, got %+v", state.Threads)
	}
}

func TestProcessScenario3MissingContext(t *testing.T) {
	dump := baseDump()
	dump.exc = supplier.ExceptionInfo{ThreadID: 1, ExceptionCode: excAccessViolation}
	dump.threads = []supplier.Thread{{ThreadID: 1, Context: nil}}
	dump.memory = nil

	sup := &fakeSupplier{result: supplier.NotFound}
	p := New(sup)
	var state ProcessState
	status, err := p.Process(context.Background(), "dump3", dump, &state)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status != OK {
		t.Fatalf("status = %v, want OK", status)
	}
	if len(state.Threads) != 1 || len(state.Threads[0].Frames) != 0 {
		t.Fatalf("expected zero frames, got %+v", state.Threads)
	}
}

func TestProcessScenario4UnloadedModuleAttribution(t *testing.T) {
	dump := baseDump()
	dump.modules = nil
	dump.unloaded = []supplier.ModuleIdentity{{CodeFile: `c:\unloaded.dll`, Base: 0x500000, Size: 0x1000}}
	dump.exc = supplier.ExceptionInfo{ThreadID: 1, ExceptionCode: excAccessViolation, ExceptionAddress: 0x500010}

	mem := fakeMemRegion{base: 0x2000, buf: make([]byte, 0x20)}
	ctx := fakeRegContext{arch: "amd64", regs: map[string]uint64{"$rip": 0x500010, "$rsp": 0x2000}}
	dump.threads = []supplier.Thread{{ThreadID: 1, Context: ctx, StackBase: 0x2000, Memory: mem}}
	dump.memory = []supplier.MemoryRegion{mem}

	sup := &fakeSupplier{result: supplier.NotFound}
	p := New(sup)
	var state ProcessState
	status, err := p.Process(context.Background(), "dump4", dump, &state)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status != OK {
		t.Fatalf("status = %v, want OK", status)
	}
	if len(state.UnloadedModules) != 1 || state.UnloadedModules[0].CodeFile != `c:\unloaded.dll` {
		t.Fatalf("unloaded modules = %+v", state.UnloadedModules)
	}
	if len(state.Threads[0].Frames) != 1 || state.Threads[0].Frames[0].ModuleName != `c:\unloaded.dll` {
		t.Fatalf("expected context frame attributed to unloaded module, got %+v", state.Threads[0].Frames)
	}
}

func TestProcessScenario5SupplierInterrupted(t *testing.T) {
	dump := baseDump()
	mod := supplier.ModuleIdentity{CodeFile: `c:\test_app.exe`, DebugID: "A", Base: 0x400000, Size: 0x10000}
	dump.modules = []supplier.ModuleIdentity{mod}
	dump.exc = supplier.ExceptionInfo{ThreadID: 1, ExceptionCode: excAccessViolation, ExceptionAddress: 0x400010}
	dump.threads = nil

	sup := &fakeSupplier{result: supplier.Interrupt}
	p := New(sup)
	var state ProcessState
	status, err := p.Process(context.Background(), "dump5", dump, &state)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status != SymbolSupplierInterrupted {
		t.Fatalf("status = %v, want SymbolSupplierInterrupted", status)
	}
}

func TestProcessScenario6NonCanonicalFaultAddressFixup(t *testing.T) {
	dump := baseDump()
	dump.exc = supplier.ExceptionInfo{ThreadID: 1, ExceptionCode: excAccessViolation, ExceptionAddress: 0x7efefefefefefefe}
	dump.threads = []supplier.Thread{{ThreadID: 1, Context: nil}}

	sup := &fakeSupplier{result: supplier.NotFound}
	p := New(sup)
	var state ProcessState
	_, err := p.Process(context.Background(), "dump6", dump, &state)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if state.CrashAddress != 0xfefefefefefefefe {
		t.Fatalf("crash address = %#x, want 0xfefefefefefefefe", state.CrashAddress)
	}
}

func TestProcessScenario7CorruptSymbolFileStillQueryable(t *testing.T) {
	dump := baseDump()
	mod := supplier.ModuleIdentity{CodeFile: `c:\test_app.exe`, DebugID: "A", Base: 0x400000, Size: 0x10000}
	dump.modules = []supplier.ModuleIdentity{mod}
	dump.exc = supplier.ExceptionInfo{ThreadID: 1, ExceptionCode: excAccessViolation, ExceptionAddress: 0x400010}

	corrupt := "MODULE windows x86_64 A test_app.pdb\nFUNC 1a 10 0 first\nnot a real record at all\nFUNC 2a 10 0 second\n"
	mem := fakeMemRegion{base: 0x3000, buf: make([]byte, 0x20)}
	ctx := fakeRegContext{arch: "amd64", regs: map[string]uint64{"$rip": 0x40001a, "$rsp": 0x3000}}
	dump.threads = []supplier.Thread{{ThreadID: 1, Context: ctx, StackBase: 0x3000, Memory: mem}}
	dump.memory = []supplier.MemoryRegion{mem}

	sup := &fakeSupplier{result: supplier.Found, data: []byte(corrupt)}
	p := New(sup)
	var state ProcessState
	status, err := p.Process(context.Background(), "dump7", dump, &state)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status != OK {
		t.Fatalf("status = %v, want OK", status)
	}
	if len(state.Threads[0].Frames) == 0 || state.Threads[0].Frames[0].FunctionName != "first" {
		t.Fatalf("expected the function before the corrupt line to still resolve, got %+v", state.Threads[0].Frames)
	}
}

func TestProcessScenario8FastFailSubcode(t *testing.T) {
	dump := baseDump()
	dump.exc = supplier.ExceptionInfo{ThreadID: 1, ExceptionCode: excFastFail, Parameters: []uint64{7}}
	dump.threads = []supplier.Thread{{ThreadID: 1, Context: nil}}

	sup := &fakeSupplier{result: supplier.NotFound}
	p := New(sup)
	var state ProcessState
	_, err := p.Process(context.Background(), "dump8", dump, &state)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if state.CrashReason != "FAST_FAIL_FATAL_APP_EXIT" {
		t.Fatalf("crash reason = %q", state.CrashReason)
	}
}

func TestProcessMissingHeaderIsFatal(t *testing.T) {
	dump := baseDump()
	dump.haveHdr = false
	sup := &fakeSupplier{result: supplier.NotFound}
	p := New(sup)
	var state ProcessState
	status, err := p.Process(context.Background(), "dump9", dump, &state)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status != NoHeader {
		t.Fatalf("status = %v, want NoHeader", status)
	}
}

func TestProcessSymbolSupplierCalledOncePerModule(t *testing.T) {
	dump := baseDump()
	mod := supplier.ModuleIdentity{CodeFile: `c:\test_app.exe`, DebugID: "A", Base: 0x400000, Size: 0x10000}
	dump.modules = []supplier.ModuleIdentity{mod}
	dump.exc = supplier.ExceptionInfo{ThreadID: 1, ExceptionCode: excAccessViolation, ExceptionAddress: 0x400010}
	dump.threads = []supplier.Thread{
		{ThreadID: 1, Context: nil},
		{ThreadID: 2, Context: nil},
	}

	sup := &fakeSupplier{result: supplier.Found, data: []byte(testAppSymText)}
	p := New(sup)
	var state ProcessState
	if _, err := p.Process(context.Background(), "dump10", dump, &state); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sup.calls != 1 {
		t.Fatalf("supplier called %d times, want 1", sup.calls)
	}
}
