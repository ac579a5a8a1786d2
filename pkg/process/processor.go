package process

import (
	"context"
	"errors"

	"github.com/gocrash/crashwalk/pkg/logflags"
	"github.com/gocrash/crashwalk/pkg/module"
	"github.com/gocrash/crashwalk/pkg/registry"
	"github.com/gocrash/crashwalk/pkg/stackwalk"
	"github.com/gocrash/crashwalk/pkg/supplier"
)

// Processor drives one minidump through spec.md 4.9's pipeline. A single
// Processor must only be used by one goroutine at a time; per SPEC_FULL.md
// 5/spec.md 5, concurrent dumps each get their own Processor (and
// therefore their own registry.Registry), so the module cache is never
// shared, and no caching survives across two Process calls even on the
// same Processor -- matching spec.md 8's "invoked exactly twice across two
// successive Process calls" supplier-idempotence property.
type Processor struct {
	Supplier        supplier.SymbolSupplier
	ModuleCacheSize int
	CacheDir        string
	MaxStackDepth   int
	MaxScanWords    int
}

// New builds a Processor with spec.md 5's defaults.
func New(sup supplier.SymbolSupplier) *Processor {
	return &Processor{
		Supplier:        sup,
		ModuleCacheSize: 64,
		MaxStackDepth:   1024,
		MaxScanWords:    1024,
	}
}

// Process reconstructs state from dump, per spec.md 4.9.
func (p *Processor) Process(ctx context.Context, dumpID string, dump supplier.MinidumpReader, state *ProcessState) (Status, error) {
	header, ok := dump.Header()
	if !ok {
		return NoHeader, nil
	}
	sysInfo, ok := dump.SystemInfo()
	if !ok {
		return NoSystemInfo, nil
	}
	threads, ok := dump.ThreadList()
	if !ok {
		return NoThreadList, nil
	}
	memRegions, haveMemList := dump.MemoryList()
	if !haveMemList {
		return NoMemoryList, nil
	}
	exc, haveExc := dump.Exception()
	assertion, haveAssertion := dump.Assertion()
	if !haveExc && !haveAssertion {
		return NoExceptionOrAssertion, nil
	}
	loadedIDs, _ := dump.ModuleList()
	unloadedIDs, _ := dump.UnloadedModuleList()
	misc, _ := dump.MiscInfo()

	state.SystemInfo = sysInfo
	state.TimeDateStamp = header.TimeDateStamp
	state.ProcessCreateTime = misc.ProcessCreateTime
	state.Modules = loadedIDs
	state.UnloadedModules = unloadedIDs
	state.RequestingThread = -1

	if haveExc {
		state.Crashed = true
		state.CrashReason = crashReason(exc)
		state.CrashAddress = fixupFaultAddress(sysInfo.CPU, exc.ExceptionAddress)
		for i, th := range threads {
			if th.ThreadID == exc.ThreadID {
				state.RequestingThread = i
				break
			}
		}
	} else {
		state.Crashed = true
		state.CrashReason = assertionReason(assertion)
	}

	reg, err := registry.New(p.Supplier, p.ModuleCacheSize, p.CacheDir)
	if err != nil {
		return OK, err
	}

	modules := &moduleSet{unloaded: unloadedIDs}
	for _, id := range loadedIDs {
		resolver, err := reg.Resolve(ctx, dumpID, id, sysInfo)
		if err != nil {
			if errors.Is(err, registry.ErrInterrupted) {
				return SymbolSupplierInterrupted, nil
			}
			if logflags.Process() {
				logflags.ProcessLogger().Warnf("module %s left un-symbolicated: %v", id.CodeFile, err)
			}
			resolver = nil
		}
		modules.loaded = append(modules.loaded, resolvedModule{identity: id, resolver: resolver})
	}

	sym := &frameSymbolizer{modules: modules}
	arch, haveArch := archFor(sysInfo.CPU)

	for _, th := range threads {
		cs := CallStack{ThreadID: th.ThreadID}
		if th.Context == nil {
			state.Threads = append(state.Threads, cs)
			continue
		}

		mem := acquireMemory(th, memRegions)
		if mem == nil {
			f := contextFrame(th.Context, modules)
			inlines, interrupted := sym.Symbolize(&f)
			if interrupted {
				return SymbolSupplierInterrupted, nil
			}
			cs.Frames = append(cs.Frames, f)
			cs.Frames = append(cs.Frames, inlines...)
			state.Threads = append(state.Threads, cs)
			continue
		}

		if !haveArch {
			if logflags.Process() {
				logflags.ProcessLogger().Warnf("unrecognized cpu %q, thread %d gets context frame only", sysInfo.CPU, th.ThreadID)
			}
			f := contextFrame(th.Context, modules)
			inlines, interrupted := sym.Symbolize(&f)
			if interrupted {
				return SymbolSupplierInterrupted, nil
			}
			cs.Frames = append(cs.Frames, f)
			cs.Frames = append(cs.Frames, inlines...)
			state.Threads = append(state.Threads, cs)
			continue
		}

		w := stackwalk.New(arch, modules, sym)
		w.MaxDepth = p.MaxStackDepth
		w.MaxScanWords = p.MaxScanWords

		frames, werr := w.Walk(stackwalk.Registers(th.Context.All()), memAdapter{mem})
		if werr != nil {
			if errors.Is(werr, stackwalk.ErrInterrupted) {
				return SymbolSupplierInterrupted, nil
			}
			return OK, werr
		}
		cs.Frames = frames
		state.Threads = append(state.Threads, cs)
	}

	return OK, nil
}

// acquireMemory finds the stack memory window for th, preferring its own
// dedicated region and falling back to the dump's memory list by matching
// stack base, per spec.md 4.9 step 4.
func acquireMemory(th supplier.Thread, memList []supplier.MemoryRegion) supplier.MemoryRegion {
	if th.Memory != nil {
		return th.Memory
	}
	for _, r := range memList {
		if r.Base() == th.StackBase {
			return r
		}
	}
	return nil
}

func contextFrame(ctx supplier.RegisterContext, modules *moduleSet) module.StackFrame {
	f := module.StackFrame{Instruction: ctx.PC(), Trust: module.TrustContext}
	if mod, ok := modules.Find(ctx.PC()); ok {
		f.ModuleBase = mod.Base
		f.ModuleName = mod.Name
	}
	return f
}
