// Package symfile implements the breakpad-style symbol text format parser
// and the serialized byte-image writer/loader described in spec.md 4.2/4.3:
// it is the only place that constructs a module.Resolver, either by
// streaming a text file through Parse or by mounting a previously written
// image through Load.
package symfile

import (
	"github.com/gocrash/crashwalk/pkg/addrmap"
	"github.com/gocrash/crashwalk/pkg/module"
)

// ModuleHeader is the MODULE record's fields, kept separate from
// module.Resolver because the resolver only cares about the seven lookup
// maps -- identity belongs to whatever owns the (code_file, debug_id) key
// space, pkg/registry in this codebase.
type ModuleHeader struct {
	OS       string
	Arch     string
	DebugID  string
	DebugFile string
}

type inlineSlot struct {
	base, size module.Addr
	child      *addrmap.ContainedRangeMapBuilder[module.Inline]
}

// Builder accumulates one module's records as they stream in from Parse,
// in any order LINE/INLINE-follows-FUNC allows. Finish compiles it into a
// module.Resolver; Serialize (image.go) writes the spec.md 4.3 byte image
// directly from the same accumulated state.
type Builder struct {
	Header    ModuleHeader
	IsCorrupt bool

	files         *addrmap.StaticMapBuilder[uint32, module.File]
	inlineOrigins *addrmap.StaticMapBuilder[uint32, module.InlineOrigin]
	functions     *addrmap.RangeMapBuilder[module.Function]
	publicSymbols *addrmap.AddressMapBuilder[module.PublicSymbol]
	windowsFrame  [2]*addrmap.RangeMapBuilder[module.WindowsFrameInfo]
	cfiInitial    *addrmap.RangeMapBuilder[string]
	cfiDelta      *module.CFIDeltaRulesBuilder

	curFunc   *module.Function
	curLines  *addrmap.RangeMapBuilder[module.Line]
	curInline *addrmap.ContainedRangeMapBuilder[module.Inline]
	curSlots  map[uint32][]inlineSlot
}

// NewBuilder returns an empty Builder ready to accept records.
func NewBuilder() *Builder {
	return &Builder{
		files:         addrmap.NewStaticMapBuilder[uint32, module.File](module.FileCodec{}),
		inlineOrigins: addrmap.NewStaticMapBuilder[uint32, module.InlineOrigin](module.InlineOriginCodec{}),
		functions:     addrmap.NewRangeMapBuilder[module.Function](),
		publicSymbols: addrmap.NewAddressMapBuilder[module.PublicSymbol](),
		windowsFrame: [2]*addrmap.RangeMapBuilder[module.WindowsFrameInfo]{
			addrmap.NewRangeMapBuilder[module.WindowsFrameInfo](),
			addrmap.NewRangeMapBuilder[module.WindowsFrameInfo](),
		},
		cfiInitial: addrmap.NewRangeMapBuilder[string](),
		cfiDelta:   module.NewCFIDeltaRulesBuilder(),
	}
}

// flushFunc closes out the function currently being accumulated (its LINE
// and INLINE records included) and commits it to the functions map, unless
// its range overlaps one already committed, in which case it is dropped
// and IsCorrupt is set -- first occurrence wins, per spec.md 4.2.
func (b *Builder) flushFunc() {
	if b.curFunc == nil {
		return
	}
	fn := *b.curFunc
	if b.functions.Overlaps(fn.Addr, fn.Size) {
		b.IsCorrupt = true
		b.curFunc = nil
		return
	}
	if b.curLines.Len() > 0 {
		lines, err := addrmap.NewRangeMapReader(b.curLines.Entries())
		if err == nil {
			fn.Lines = lines
		} else {
			b.IsCorrupt = true
		}
	}
	if b.curInline.Len() > 0 {
		inlines, err := b.curInline.Finish()
		if err == nil {
			fn.Inlines = inlines
		} else {
			b.IsCorrupt = true
		}
	}
	b.functions.Put(fn.Addr, fn.Size, fn)
	b.curFunc = nil
	b.curLines = nil
	b.curInline = nil
	b.curSlots = nil
}

func (b *Builder) startFunc(fn module.Function) {
	b.flushFunc()
	b.curFunc = &fn
	b.curLines = addrmap.NewRangeMapBuilder[module.Line]()
	b.curInline = addrmap.NewContainedRangeMapBuilder[module.Inline]()
	b.curSlots = map[uint32][]inlineSlot{}
}

func (b *Builder) addLine(l module.Line) {
	if b.curFunc == nil || b.curLines.Overlaps(l.Addr, l.Size) {
		b.IsCorrupt = true
		return
	}
	b.curLines.Put(l.Addr, l.Size, l)
}

// addInline inserts in at every one of its ranges under the correct parent
// builder for its depth: depth 0 inserts directly into the function's
// inline tree; depth d>0 must fall within a range recorded for some depth
// d-1 inline, the slot search below.
func (b *Builder) addInline(in module.Inline) {
	if b.curFunc == nil {
		b.IsCorrupt = true
		return
	}
	for _, rng := range in.Ranges {
		var parent *addrmap.ContainedRangeMapBuilder[module.Inline]
		if in.Depth == 0 {
			parent = b.curInline
		} else {
			for _, slot := range b.curSlots[in.Depth-1] {
				if rng.Addr >= slot.base && rng.Addr-slot.base < slot.size {
					parent = slot.child
					break
				}
			}
			if parent == nil {
				b.IsCorrupt = true
				continue
			}
		}
		if parent.Overlaps(rng.Addr, rng.Size) {
			b.IsCorrupt = true
			continue
		}
		child := parent.Insert(rng.Addr, rng.Size, in)
		b.curSlots[in.Depth] = append(b.curSlots[in.Depth], inlineSlot{base: rng.Addr, size: rng.Size, child: child})
	}
}

func (b *Builder) addFile(f module.File) {
	if !b.files.Put(f.ID, f) {
		b.IsCorrupt = true
	}
}

func (b *Builder) addInlineOrigin(o module.InlineOrigin) {
	if !b.inlineOrigins.Put(o.ID, o) {
		b.IsCorrupt = true
	}
}

func (b *Builder) addPublic(p module.PublicSymbol) {
	if !b.publicSymbols.Put(p.Addr, p) {
		b.IsCorrupt = true
	}
}

func (b *Builder) addWindowsFrame(idx int, base, size module.Addr, info module.WindowsFrameInfo) {
	if b.windowsFrame[idx].Overlaps(base, size) {
		b.IsCorrupt = true
		return
	}
	b.windowsFrame[idx].Put(base, size, info)
}

func (b *Builder) addCFIInitial(base, size module.Addr, rules string) {
	if b.cfiInitial.Overlaps(base, size) {
		b.IsCorrupt = true
		return
	}
	b.cfiInitial.Put(base, size, rules)
}

func (b *Builder) addCFIDelta(addr module.Addr, rules string) {
	b.cfiDelta.Put(addr, rules)
}

// Finish compiles every accumulated record into a read-only module.Resolver.
func (b *Builder) Finish() (*module.Resolver, error) {
	b.flushFunc()

	files, err := buildStaticMap(b.files, encodeU32, decodeU32, module.FileCodec{})
	if err != nil {
		return nil, err
	}
	origins, err := buildStaticMap(b.inlineOrigins, encodeU32, decodeU32, module.InlineOriginCodec{})
	if err != nil {
		return nil, err
	}
	functions, err := addrmap.NewRangeMapReader(b.functions.Entries())
	if err != nil {
		return nil, err
	}
	publics, err := buildAddressMap(b.publicSymbols)
	if err != nil {
		return nil, err
	}
	fpo, err := addrmap.NewRangeMapReader(b.windowsFrame[0].Entries())
	if err != nil {
		return nil, err
	}
	frameData, err := addrmap.NewRangeMapReader(b.windowsFrame[1].Entries())
	if err != nil {
		return nil, err
	}
	cfiInit, err := addrmap.NewRangeMapReader(b.cfiInitial.Entries())
	if err != nil {
		return nil, err
	}

	return &module.Resolver{
		IsCorrupt:        b.IsCorrupt,
		Files:            files,
		InlineOrigins:    origins,
		Functions:        functions,
		PublicSymbols:    publics,
		WindowsFrameInfo: [2]*addrmap.RangeMapReader[module.WindowsFrameInfo]{fpo, frameData},
		CFIInitialRules:  cfiInit,
		CFIDeltaRules:    b.cfiDelta.Finish(),
	}, nil
}

func buildStaticMap[V any](b *addrmap.StaticMapBuilder[uint32, V], encode func(uint32) []byte, decode func([]byte) uint32, codec addrmap.Codec[V]) (*addrmap.StaticMapReader[uint32, V], error) {
	buf := b.Serialize(encode)
	return addrmap.NewStaticMapReader[uint32, V](buf, 4, decode, codec)
}

func buildAddressMap(b *addrmap.AddressMapBuilder[module.PublicSymbol]) (*addrmap.AddressMapReader[module.PublicSymbol], error) {
	entries := b.Entries()
	addrs := make([]module.Addr, len(entries))
	vals := make([]module.PublicSymbol, len(entries))
	for i, e := range entries {
		addrs[i] = e.Addr
		vals[i] = e.Value
	}
	return addrmap.NewAddressMapReader(addrs, vals)
}

func encodeU32(k uint32) []byte {
	return []byte{byte(k), byte(k >> 8), byte(k >> 16), byte(k >> 24)}
}

func decodeU32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}
