// Package registry implements the module cache spec.md 4.9/5 describes: it
// sits between the processor driver and a supplier.SymbolSupplier, ensuring
// each (dump, module) pair asks the supplier for symbol data at most once,
// evicting least-recently-used modules under an hashicorp/golang-lru bound,
// and persisting a spec.md 4.3 byte image of whatever it parses so the next
// run can mmap it back in without re-parsing breakpad text.
package registry

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	lru "github.com/hashicorp/golang-lru"

	"github.com/gocrash/crashwalk/pkg/logflags"
	"github.com/gocrash/crashwalk/pkg/module"
	"github.com/gocrash/crashwalk/pkg/supplier"
	"github.com/gocrash/crashwalk/pkg/symfile"
)

// ErrAlreadyRequested is returned when Resolve is called a second time for
// the same (dumpID, module identity) pair and the module is not in the
// in-memory cache (the first call failed, or the module has since been
// evicted), per spec.md 5's "the supplier is consulted at most once per
// module per dump" invariant. A second call that finds the module cached
// returns the cached resolver instead.
var ErrAlreadyRequested = errors.New("registry: module already requested for this dump")

// ErrSymbolDataUnavailable is returned when the supplier reports NotFound
// for both GetSymbolFile and GetCStringSymbolData.
var ErrSymbolDataUnavailable = errors.New("registry: no symbol data available")

// ErrInterrupted is returned when the supplier reports Interrupt from
// either GetSymbolFile or GetCStringSymbolData. pkg/process checks for
// this specifically to produce SymbolSupplierInterrupted, per spec.md 4.9's
// "cancellation may be signaled at any supplier call" contract.
var ErrInterrupted = errors.New("registry: symbol supplier interrupted")

type dumpModuleKey struct {
	dumpID   string
	identity supplier.ModuleIdentity
}

// evictEntry bundles a cached resolver with the mmap closer (if any) that
// must run when it's evicted, and whether the supplier's FreeSymbolData
// owes a call: per supplier.SymbolSupplier's contract, that's true only
// when the symbol data actually came from a successful
// GetCStringSymbolData call, never for an on-disk image mounted by
// loadImage or symbol text read via GetSymbolFile.
type evictEntry struct {
	resolver    *module.Resolver
	closer      func()
	freeOnEvict bool
}

// Registry caches module.Resolvers across a batch of dumps, keyed by
// supplier.ModuleIdentity. One Registry may be shared by concurrent
// Process calls over distinct dumps; requested guards against the same
// Registry being asked to resolve the same module twice for one dump,
// independent of cache hits/misses.
type Registry struct {
	mu        sync.RWMutex
	cache     *lru.Cache
	supplier  supplier.SymbolSupplier
	cacheDir  string
	requested map[dumpModuleKey]bool
}

// New builds a Registry backed by sup. size bounds the module cache
// (SPEC_FULL.md's ModuleCacheSize config field; spec.md 5 default 64).
// cacheDir, if non-empty, is where serialized byte images are read from and
// written to; an empty cacheDir disables on-disk image caching and every
// resolve reparses breakpad text.
func New(sup supplier.SymbolSupplier, size int, cacheDir string) (*Registry, error) {
	r := &Registry{
		supplier:  sup,
		cacheDir:  cacheDir,
		requested: make(map[dumpModuleKey]bool),
	}
	cache, err := lru.NewWithEvict(size, r.onEvict)
	if err != nil {
		return nil, fmt.Errorf("registry: %w", err)
	}
	r.cache = cache
	return r, nil
}

func (r *Registry) onEvict(key, value interface{}) {
	identity := key.(supplier.ModuleIdentity)
	entry := value.(evictEntry)
	if entry.closer != nil {
		entry.closer()
	}
	if entry.freeOnEvict {
		r.supplier.FreeSymbolData(identity)
	}
	if logflags.Registry() {
		logflags.RegistryLogger().Debugf("evicted module %s", identity.CodeFile)
	}
}

// Resolve returns the module.Resolver for m, consulting the in-memory
// cache, then an on-disk serialized image, then the supplier, in that
// order. A cache hit always returns the cached resolver. On a cache miss,
// resolving a (dumpID, m) pair that was already requested returns
// ErrAlreadyRequested, whether the first call failed or its module was
// evicted: the pair is remembered for the lifetime of the Registry, not
// retried.
func (r *Registry) Resolve(ctx context.Context, dumpID string, m supplier.ModuleIdentity, sys supplier.SystemInfo) (*module.Resolver, error) {
	if v, ok := r.cache.Get(m); ok {
		return v.(evictEntry).resolver, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if v, ok := r.cache.Get(m); ok {
		return v.(evictEntry).resolver, nil
	}

	key := dumpModuleKey{dumpID: dumpID, identity: m}
	if r.requested[key] {
		return nil, ErrAlreadyRequested
	}
	r.requested[key] = true

	if r.cacheDir != "" {
		if resolver, closer, ok := r.loadImage(m); ok {
			r.cache.Add(m, evictEntry{resolver: resolver, closer: closer})
			return resolver, nil
		}
	}

	b, freeOnEvict, err := r.parseSymbolText(ctx, m, sys)
	if err != nil {
		return nil, err
	}
	resolver, err := b.Finish()
	if err != nil {
		return nil, fmt.Errorf("registry: building resolver for %s: %w", m.CodeFile, err)
	}
	if resolver.IsCorrupt && logflags.Registry() {
		logflags.RegistryLogger().Warnf("module %s loaded with corrupt symbol data", m.CodeFile)
	}

	if r.cacheDir != "" {
		r.storeImage(m, b)
	}

	r.cache.Add(m, evictEntry{resolver: resolver, freeOnEvict: freeOnEvict})
	return resolver, nil
}

// parseSymbolText asks the supplier for breakpad-format symbol text,
// preferring a file path (mmapped and parsed while the mapping is live,
// then unmapped -- the parser copies everything it needs into the returned
// Builder, so the mapping need not outlive this call) over the in-memory
// GetCStringSymbolData form. The returned bool reports whether the data
// came from GetCStringSymbolData: only then does the registry owe the
// supplier a matching FreeSymbolData call on eviction.
func (r *Registry) parseSymbolText(ctx context.Context, m supplier.ModuleIdentity, sys supplier.SystemInfo) (*symfile.Builder, bool, error) {
	res, path, err := r.supplier.GetSymbolFile(ctx, m, sys)
	if err != nil {
		return nil, false, err
	}
	if res == supplier.Interrupt {
		return nil, false, ErrInterrupted
	}
	if res == supplier.Found {
		if data, closer, err := mmapFile(path); err == nil {
			b, _, perr := symfile.Parse(bytes.NewReader(data))
			closer()
			if perr != nil {
				return nil, false, fmt.Errorf("registry: parsing symbols for %s: %w", m.CodeFile, perr)
			}
			return b, false, nil
		} else if logflags.Registry() {
			logflags.RegistryLogger().Warnf("mmap of %s failed, falling back to read: %v", path, err)
		}
		if data, err := os.ReadFile(path); err == nil {
			b, _, perr := symfile.Parse(bytes.NewReader(data))
			if perr != nil {
				return nil, false, fmt.Errorf("registry: parsing symbols for %s: %w", m.CodeFile, perr)
			}
			return b, false, nil
		}
	}

	res, data, err := r.supplier.GetCStringSymbolData(ctx, m, sys)
	if err != nil {
		return nil, false, err
	}
	if res == supplier.Interrupt {
		return nil, false, ErrInterrupted
	}
	if res != supplier.Found {
		return nil, false, ErrSymbolDataUnavailable
	}
	b, _, perr := symfile.Parse(bytes.NewReader(data))
	if perr != nil {
		return nil, false, fmt.Errorf("registry: parsing symbols for %s: %w", m.CodeFile, perr)
	}
	return b, true, nil
}

// loadImage mmaps and mounts a previously serialized byte image for m from
// the cache directory, if one exists and is well-formed.
func (r *Registry) loadImage(m supplier.ModuleIdentity) (*module.Resolver, func(), bool) {
	path := r.imagePath(m)
	data, closer, err := mmapFile(path)
	if err != nil {
		return nil, nil, false
	}
	resolver, err := symfile.Load(data)
	if err != nil {
		if closer != nil {
			closer()
		}
		if logflags.Registry() {
			logflags.RegistryLogger().Warnf("discarding stale image %s: %v", path, err)
		}
		return nil, nil, false
	}
	return resolver, closer, true
}

// storeImage writes b's serialized image to the cache directory, best
// effort: a write failure is logged but never fails the resolve that
// triggered it.
func (r *Registry) storeImage(m supplier.ModuleIdentity, b *symfile.Builder) {
	path := r.imagePath(m)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		if logflags.Registry() {
			logflags.RegistryLogger().Warnf("creating image cache dir: %v", err)
		}
		return
	}
	if err := os.WriteFile(path, b.Serialize(), 0o644); err != nil && logflags.Registry() {
		logflags.RegistryLogger().Warnf("writing image cache for %s: %v", m.CodeFile, err)
	}
}

func (r *Registry) imagePath(m supplier.ModuleIdentity) string {
	sum := sha256.Sum256([]byte(m.CodeFile + "\x00" + m.DebugFile + "\x00" + m.DebugID))
	return filepath.Join(r.cacheDir, hex.EncodeToString(sum[:])+".symcache")
}

// Len reports how many modules are currently cached in memory.
func (r *Registry) Len() int { return r.cache.Len() }
