package symfile

import (
	"encoding/binary"
	"fmt"

	"github.com/gocrash/crashwalk/pkg/addrmap"
	"github.com/gocrash/crashwalk/pkg/module"
)

// numMaps is spec.md 4.3's kNumberMaps: files, functions, public_symbols,
// two windows_frame_info maps (StackInfoFPO, StackInfoFrameData),
// cfi_initial, cfi_delta, inline_origins. The image has no separate map
// for each of the five STACK WIN type codes: parseStackWin files codes 0-3
// under StackInfoFPO and code 4 under StackInfoFrameData.
const numMaps = 8

// Serialize writes the spec.md 4.3 byte image for everything accumulated so
// far: [is_corrupt:u8] [size[numMaps]:u64] [map bytes, in the same order as
// numMaps lists them]. It can be called without first calling Finish --
// Finish and Serialize both read the same builder state, one producing an
// in-memory Resolver and the other its on-disk form.
func (b *Builder) Serialize() []byte {
	b.flushFunc()

	maps := [numMaps][]byte{
		b.files.Serialize(encodeU32),
		b.functions.Serialize(module.FunctionCodec{}),
		b.publicSymbols.Serialize(module.PublicSymbolCodec{}),
		b.windowsFrame[0].Serialize(module.WindowsFrameInfoCodec{}),
		b.windowsFrame[1].Serialize(module.WindowsFrameInfoCodec{}),
		b.cfiInitial.Serialize(stringCodec{}),
		b.cfiDelta.Serialize(),
		b.inlineOrigins.Serialize(encodeU32),
	}

	out := make([]byte, 0, 1+8*numMaps)
	corrupt := byte(0)
	if b.IsCorrupt {
		corrupt = 1
	}
	out = append(out, corrupt)
	for _, m := range maps {
		out = binary.LittleEndian.AppendUint64(out, uint64(len(m)))
	}
	for _, m := range maps {
		out = append(out, m...)
	}
	return out
}

// Load mounts a byte image produced by Serialize into a read-only
// module.Resolver without copying the map payloads: each sub-map's Reader
// is a view into the slice Load hands it.
//
// buf is usually backed by an mmap (pkg/registry uses
// golang.org/x/sys/unix.Mmap for file-sourced images), so Load never
// retains a reference past what the returned Resolver's readers need.
func Load(buf []byte) (*module.Resolver, error) {
	headerLen := 1 + 8*numMaps
	if len(buf) < headerLen {
		return nil, &addrmap.ErrOutOfBounds{Offset: headerLen, Limit: len(buf)}
	}
	isCorrupt := buf[0] != 0
	var sizes [numMaps]uint64
	var total uint64
	pos := 1
	for i := range sizes {
		sizes[i] = binary.LittleEndian.Uint64(buf[pos:])
		total += sizes[i]
		pos += 8
	}

	want := uint64(headerLen) + total
	got := uint64(len(buf))
	// one trailing NUL is tolerated, per spec.md 4.3.
	if got != want {
		if got != want+1 || buf[len(buf)-1] != 0 {
			return nil, fmt.Errorf("symfile: image length %d does not match header (want %d or %d with a trailing NUL)", got, want, want+1)
		}
	}

	blobs := make([][]byte, numMaps)
	for i, size := range sizes {
		end := pos + int(size)
		if end > len(buf) {
			return nil, &addrmap.ErrOutOfBounds{Offset: end, Limit: len(buf)}
		}
		blobs[i] = buf[pos:end]
		pos = end
	}

	files, err := addrmap.NewStaticMapReader[uint32, module.File](blobs[0], 4, decodeU32, module.FileCodec{})
	if err != nil {
		return nil, err
	}
	functions, err := addrmap.LoadRangeMap[module.Function](blobs[1], module.FunctionCodec{})
	if err != nil {
		return nil, err
	}
	publicSymbols, err := addrmap.LoadAddressMap[module.PublicSymbol](blobs[2], module.PublicSymbolCodec{})
	if err != nil {
		return nil, err
	}
	fpo, err := addrmap.LoadRangeMap[module.WindowsFrameInfo](blobs[3], module.WindowsFrameInfoCodec{})
	if err != nil {
		return nil, err
	}
	frameData, err := addrmap.LoadRangeMap[module.WindowsFrameInfo](blobs[4], module.WindowsFrameInfoCodec{})
	if err != nil {
		return nil, err
	}
	cfiInitial, err := addrmap.LoadRangeMap[string](blobs[5], stringCodec{})
	if err != nil {
		return nil, err
	}
	cfiDelta, err := module.LoadCFIDeltaRules(blobs[6])
	if err != nil {
		return nil, err
	}
	inlineOrigins, err := addrmap.NewStaticMapReader[uint32, module.InlineOrigin](blobs[7], 4, decodeU32, module.InlineOriginCodec{})
	if err != nil {
		return nil, err
	}

	return &module.Resolver{
		IsCorrupt:        isCorrupt,
		Files:            files,
		InlineOrigins:    inlineOrigins,
		Functions:        functions,
		PublicSymbols:    publicSymbols,
		WindowsFrameInfo: [2]*addrmap.RangeMapReader[module.WindowsFrameInfo]{fpo, frameData},
		CFIInitialRules:  cfiInitial,
		CFIDeltaRules:    cfiDelta,
	}, nil
}

// stringCodec is the addrmap.Codec[string] the cfi_initial_rules map uses:
// rule text is already a plain byte sequence, so the codec is a no-op copy.
type stringCodec struct{}

func (stringCodec) Encode(s string) []byte { return []byte(s) }

func (stringCodec) Decode(b []byte) (string, error) { return string(b), nil }
