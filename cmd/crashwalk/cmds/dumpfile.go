package cmds

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gocrash/crashwalk/pkg/supplier"
)

// fileSupplier is a supplier.SymbolSupplier over a directory laid out the
// way breakpad's own SimpleSymbolSupplier expects a symbol store:
// <root>/<debug_file>/<debug_id>/<debug_file>.sym. It is demo glue for the
// CLI, not part of the engine: the engine only ever consumes the
// supplier.SymbolSupplier interface.
type fileSupplier struct {
	root string
}

func (s fileSupplier) path(m supplier.ModuleIdentity) string {
	return filepath.Join(s.root, m.DebugFile, m.DebugID, m.DebugFile+".sym")
}

func (s fileSupplier) GetSymbolFile(ctx context.Context, m supplier.ModuleIdentity, sys supplier.SystemInfo) (supplier.Result, string, error) {
	p := s.path(m)
	if _, err := os.Stat(p); err != nil {
		return supplier.NotFound, "", nil
	}
	return supplier.Found, p, nil
}

func (s fileSupplier) GetCStringSymbolData(ctx context.Context, m supplier.ModuleIdentity, sys supplier.SystemInfo) (supplier.Result, []byte, error) {
	data, err := os.ReadFile(s.path(m))
	if err != nil {
		return supplier.NotFound, nil, nil
	}
	return supplier.Found, data, nil
}

func (s fileSupplier) FreeSymbolData(m supplier.ModuleIdentity) {}

// jsonDump is a demo-only supplier.MinidumpReader loaded from a small JSON
// document instead of a real minidump container, since parsing the
// minidump wire format itself is out of this engine's scope (spec.md 1).
// It exists only so `crashwalk process` has something to feed the engine.
type jsonDump struct {
	doc dumpDocument
}

// dumpDocument and its nested types are JSON-shaped mirrors of the
// supplier types, not the supplier types themselves: pkg/supplier's
// interfaces stay free of any particular wire format, and this demo
// format converts into them once at load time.
type dumpDocument struct {
	TimeDateStamp     uint32          `json:"time_date_stamp"`
	ProcessCreateTime uint32          `json:"process_create_time"`
	SystemInfo        dumpSystemInfo  `json:"system_info"`
	Modules           []dumpModule    `json:"modules"`
	UnloadedModules   []dumpModule    `json:"unloaded_modules"`
	Threads           []dumpThread    `json:"threads"`
	Exception         *dumpException  `json:"exception,omitempty"`
	Assertion         *dumpAssertion  `json:"assertion,omitempty"`
}

type dumpSystemInfo struct {
	OS      string `json:"os"`
	OSShort string `json:"os_short,omitempty"`
	Version string `json:"version,omitempty"`
	CPU     string `json:"cpu"`
	CPUInfo string `json:"cpu_info,omitempty"`
	CPUs    uint32 `json:"cpus,omitempty"`
}

func (s dumpSystemInfo) toSupplier() supplier.SystemInfo {
	return supplier.SystemInfo{OS: s.OS, OSShort: s.OSShort, Version: s.Version, CPU: s.CPU, CPUInfo: s.CPUInfo, CPUs: s.CPUs}
}

type dumpModule struct {
	CodeFile  string `json:"code_file"`
	DebugFile string `json:"debug_file"`
	DebugID   string `json:"debug_id"`
	Base      uint64 `json:"base"`
	Size      uint64 `json:"size"`
}

func (m dumpModule) toSupplier() supplier.ModuleIdentity {
	return supplier.ModuleIdentity{CodeFile: m.CodeFile, DebugFile: m.DebugFile, DebugID: m.DebugID, Base: m.Base, Size: m.Size}
}

type dumpException struct {
	ThreadID         uint32   `json:"thread_id"`
	ExceptionCode    uint32   `json:"exception_code"`
	ExceptionFlags   uint32   `json:"exception_flags,omitempty"`
	ExceptionAddress uint64   `json:"exception_address"`
	Parameters       []uint64 `json:"parameters,omitempty"`
}

func (e dumpException) toSupplier() supplier.ExceptionInfo {
	return supplier.ExceptionInfo{ThreadID: e.ThreadID, ExceptionCode: e.ExceptionCode, ExceptionFlags: e.ExceptionFlags, ExceptionAddress: e.ExceptionAddress, Parameters: e.Parameters}
}

type dumpAssertion struct {
	Expression string `json:"expression"`
	Function   string `json:"function,omitempty"`
	File       string `json:"file"`
	Line       uint32 `json:"line"`
}

func (a dumpAssertion) toSupplier() supplier.AssertionInfo {
	return supplier.AssertionInfo{Expression: a.Expression, Function: a.Function, File: a.File, Line: a.Line}
}

type dumpThread struct {
	ThreadID  uint32            `json:"thread_id"`
	Context   map[string]uint64 `json:"context,omitempty"`
	Arch      string            `json:"arch,omitempty"`
	StackBase uint64            `json:"stack_base"`
	StackSize uint64            `json:"stack_size"`
	StackHex  string            `json:"stack_hex,omitempty"`
}

func loadJSONDump(path string) (*jsonDump, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading dump: %w", err)
	}
	var doc dumpDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decoding dump: %w", err)
	}
	return &jsonDump{doc: doc}, nil
}

func (d *jsonDump) Header() (supplier.DumpHeader, bool) {
	return supplier.DumpHeader{TimeDateStamp: d.doc.TimeDateStamp}, true
}

func (d *jsonDump) SystemInfo() (supplier.SystemInfo, bool) {
	return d.doc.SystemInfo.toSupplier(), d.doc.SystemInfo.CPU != ""
}

func (d *jsonDump) ModuleList() ([]supplier.ModuleIdentity, bool) {
	mods := make([]supplier.ModuleIdentity, len(d.doc.Modules))
	for i, m := range d.doc.Modules {
		mods[i] = m.toSupplier()
	}
	return mods, true
}

func (d *jsonDump) UnloadedModuleList() ([]supplier.ModuleIdentity, bool) {
	mods := make([]supplier.ModuleIdentity, len(d.doc.UnloadedModules))
	for i, m := range d.doc.UnloadedModules {
		mods[i] = m.toSupplier()
	}
	return mods, true
}

func (d *jsonDump) ThreadList() ([]supplier.Thread, bool) {
	threads := make([]supplier.Thread, 0, len(d.doc.Threads))
	for _, t := range d.doc.Threads {
		var ctx supplier.RegisterContext
		if t.Context != nil {
			ctx = &jsonRegisterContext{arch: t.Arch, regs: t.Context}
		}
		var mem supplier.MemoryRegion
		if t.StackHex != "" {
			if buf, err := decodeHex(t.StackHex); err == nil {
				mem = &byteMemoryRegion{base: t.StackBase, buf: buf}
			}
		}
		threads = append(threads, supplier.Thread{
			ThreadID:  t.ThreadID,
			Context:   ctx,
			StackBase: t.StackBase,
			StackSize: t.StackSize,
			Memory:    mem,
		})
	}
	return threads, true
}

func (d *jsonDump) MemoryList() ([]supplier.MemoryRegion, bool) {
	var regions []supplier.MemoryRegion
	for _, t := range d.doc.Threads {
		if t.StackHex == "" {
			continue
		}
		if buf, err := decodeHex(t.StackHex); err == nil {
			regions = append(regions, &byteMemoryRegion{base: t.StackBase, buf: buf})
		}
	}
	return regions, true
}

func (d *jsonDump) MiscInfo() (supplier.MiscInfo, bool) {
	return supplier.MiscInfo{ProcessCreateTime: d.doc.ProcessCreateTime}, true
}

func (d *jsonDump) Exception() (supplier.ExceptionInfo, bool) {
	if d.doc.Exception == nil {
		return supplier.ExceptionInfo{}, false
	}
	return d.doc.Exception.toSupplier(), true
}

func (d *jsonDump) Assertion() (supplier.AssertionInfo, bool) {
	if d.doc.Assertion == nil {
		return supplier.AssertionInfo{}, false
	}
	return d.doc.Assertion.toSupplier(), true
}

// jsonRegisterContext implements supplier.RegisterContext over the flat
// register map a dumpThread decodes from JSON, using the same breakpad
// "$reg" naming convention pkg/stackwalk's per-architecture unwinders key
// on.
type jsonRegisterContext struct {
	arch string
	regs map[string]uint64
}

func (c *jsonRegisterContext) Arch() string { return c.arch }
func (c *jsonRegisterContext) PC() uint64   { return c.pick("$rip", "$eip", "$pc") }
func (c *jsonRegisterContext) SP() uint64   { return c.pick("$rsp", "$esp", "$sp") }
func (c *jsonRegisterContext) FP() uint64   { return c.pick("$rbp", "$ebp", "$r11", "$x29", "$fp") }
func (c *jsonRegisterContext) Get(name string) (uint64, bool) {
	v, ok := c.regs[name]
	return v, ok
}
func (c *jsonRegisterContext) Set(name string, v uint64) { c.regs[name] = v }
func (c *jsonRegisterContext) All() map[string]uint64     { return c.regs }

func (c *jsonRegisterContext) pick(names ...string) uint64 {
	for _, n := range names {
		if v, ok := c.regs[n]; ok {
			return v
		}
	}
	return 0
}

// byteMemoryRegion implements supplier.MemoryRegion over a flat byte slice
// decoded from the dump document's hex-encoded stack bytes.
type byteMemoryRegion struct {
	base uint64
	buf  []byte
}

func (m *byteMemoryRegion) Base() uint64 { return m.base }
func (m *byteMemoryRegion) Size() uint64 { return uint64(len(m.buf)) }
func (m *byteMemoryRegion) ReadU8(addr uint64) (uint8, bool) {
	if addr < m.base || addr-m.base >= uint64(len(m.buf)) {
		return 0, false
	}
	return m.buf[addr-m.base], true
}
func (m *byteMemoryRegion) ReadU16(addr uint64) (uint16, bool) {
	v, ok := m.read(addr, 2)
	return uint16(v), ok
}
func (m *byteMemoryRegion) ReadU32(addr uint64) (uint32, bool) {
	v, ok := m.read(addr, 4)
	return uint32(v), ok
}
func (m *byteMemoryRegion) ReadU64(addr uint64) (uint64, bool) {
	return m.read(addr, 8)
}
func (m *byteMemoryRegion) read(addr uint64, n int) (uint64, bool) {
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

func decodeHex(s string) ([]byte, error) {
	if len(s)%2 != 0 {
		return nil, fmt.Errorf("odd-length hex string")
	}
	buf := make([]byte, len(s)/2)
	for i := range buf {
		hi, err := hexDigit(s[2*i])
		if err != nil {
			return nil, err
		}
		lo, err := hexDigit(s[2*i+1])
		if err != nil {
			return nil, err
		}
		buf[i] = hi<<4 | lo
	}
	return buf, nil
}

func hexDigit(b byte) (byte, error) {
	switch {
	case b >= '0' && b <= '9':
		return b - '0', nil
	case b >= 'a' && b <= 'f':
		return b - 'a' + 10, nil
	case b >= 'A' && b <= 'F':
		return b - 'A' + 10, nil
	default:
		return 0, fmt.Errorf("invalid hex digit %q", b)
	}
}
