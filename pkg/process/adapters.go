package process

import (
	"github.com/gocrash/crashwalk/pkg/module"
	"github.com/gocrash/crashwalk/pkg/stackwalk"
	"github.com/gocrash/crashwalk/pkg/supplier"
)

// archFor selects the stackwalk.CallerUnwinder for system_info.cpu, per
// spec.md 4.9 step 3.
func archFor(cpu string) (stackwalk.CallerUnwinder, bool) {
	switch cpu {
	case "amd64":
		return stackwalk.NewAMD64(), true
	case "x86":
		return stackwalk.NewX86(), true
	case "arm":
		return stackwalk.NewARM(), true
	case "arm64":
		return stackwalk.NewARM64(), true
	case "mips":
		return stackwalk.NewMIPS(), true
	case "ppc64":
		return stackwalk.NewPPC64(), true
	case "riscv64":
		return stackwalk.NewRISCV64(), true
	default:
		return nil, false
	}
}

// memAdapter adapts supplier.MemoryRegion to stackwalk.Memory.
type memAdapter struct{ supplier.MemoryRegion }

func (m memAdapter) ReadU64(addr uint64) (uint64, bool)  { return m.MemoryRegion.ReadU64(addr) }
func (m memAdapter) ReadU32(addr uint64) (uint32, bool)  { return m.MemoryRegion.ReadU32(addr) }
func (m memAdapter) ReadByte(addr uint64) (byte, bool) {
	v, ok := m.MemoryRegion.ReadU8(addr)
	return byte(v), ok
}

// resolvedModule is one entry of a moduleSet: an address range plus
// whatever resolver (possibly nil, when symbols were unavailable)
// pkg/registry produced for it.
type resolvedModule struct {
	identity supplier.ModuleIdentity
	resolver *module.Resolver
}

// moduleSet implements stackwalk.ModuleSet over a dump's loaded-module
// list, falling back to the unloaded-module list per spec.md 4.9 step 4
// ("resolve frame's module via the loaded-module list, fall back to the
// unloaded-module list ... if no loaded match"). Unloaded modules never
// carry a resolver: the engine doesn't request symbols for modules that
// had already been unloaded by the time of the crash.
type moduleSet struct {
	loaded   []resolvedModule
	unloaded []supplier.ModuleIdentity
}

func (s *moduleSet) Find(pc uint64) (stackwalk.Module, bool) {
	for _, m := range s.loaded {
		if pc >= m.identity.Base && pc-m.identity.Base < m.identity.Size {
			return stackwalk.Module{
				Base:     m.identity.Base,
				Size:     m.identity.Size,
				Name:     m.identity.CodeFile,
				Resolver: m.resolver,
			}, true
		}
	}
	for _, id := range s.unloaded {
		if pc >= id.Base && pc-id.Base < id.Size {
			return stackwalk.Module{Base: id.Base, Size: id.Size, Name: id.CodeFile}, true
		}
	}
	return stackwalk.Module{}, false
}

// frameSymbolizer implements stackwalk.Symbolizer, resolving each frame
// against whichever module in modules contains it and building any inline
// frames that cover it, per spec.md 4.4-4.5.
type frameSymbolizer struct {
	modules *moduleSet
}

func (s *frameSymbolizer) Symbolize(f *module.StackFrame) ([]module.StackFrame, bool) {
	mod, ok := s.modules.Find(f.Instruction)
	if !ok || mod.Resolver == nil {
		return nil, false
	}
	addr := module.Addr(f.Instruction - mod.Base)
	return mod.Resolver.Symbolize(addr, f), false
}
