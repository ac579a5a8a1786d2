package module

import (
	"encoding/binary"

	"github.com/gocrash/crashwalk/pkg/addrmap"
)

// The Codec implementations below give every module.* value type the
// Encode/Decode pair addrmap's Static* builders and readers need to move
// between the in-memory and serialized-image representations (spec.md 4.1,
// 4.3). Strings are length-prefixed; everything else is fixed-width little
// endian, matching the byte order the rest of the package uses.

func appendString(b []byte, s string) []byte {
	b = binary.LittleEndian.AppendUint32(b, uint32(len(s)))
	return append(b, s...)
}

func readString(b []byte, pos int) (string, int, error) {
	if pos+4 > len(b) {
		return "", 0, &addrmap.ErrOutOfBounds{Offset: pos + 4, Limit: len(b)}
	}
	n := int(binary.LittleEndian.Uint32(b[pos:]))
	pos += 4
	if pos+n > len(b) {
		return "", 0, &addrmap.ErrOutOfBounds{Offset: pos + n, Limit: len(b)}
	}
	return string(b[pos : pos+n]), pos + n, nil
}

type FileCodec struct{}

func (FileCodec) Encode(f File) []byte {
	out := binary.LittleEndian.AppendUint32(nil, f.ID)
	return appendString(out, f.Path)
}

func (FileCodec) Decode(b []byte) (File, error) {
	if len(b) < 4 {
		return File{}, &addrmap.ErrOutOfBounds{Offset: 4, Limit: len(b)}
	}
	id := binary.LittleEndian.Uint32(b)
	path, _, err := readString(b, 4)
	if err != nil {
		return File{}, err
	}
	return File{ID: id, Path: path}, nil
}

type InlineOriginCodec struct{}

func (InlineOriginCodec) Encode(o InlineOrigin) []byte {
	out := binary.LittleEndian.AppendUint32(nil, o.ID)
	return appendString(out, o.Name)
}

func (InlineOriginCodec) Decode(b []byte) (InlineOrigin, error) {
	if len(b) < 4 {
		return InlineOrigin{}, &addrmap.ErrOutOfBounds{Offset: 4, Limit: len(b)}
	}
	id := binary.LittleEndian.Uint32(b)
	name, _, err := readString(b, 4)
	if err != nil {
		return InlineOrigin{}, err
	}
	return InlineOrigin{ID: id, Name: name}, nil
}

type LineCodec struct{}

func (LineCodec) Encode(l Line) []byte {
	out := make([]byte, 0, 24)
	out = binary.LittleEndian.AppendUint64(out, l.Addr)
	out = binary.LittleEndian.AppendUint64(out, l.Size)
	out = binary.LittleEndian.AppendUint32(out, l.SourceFileID)
	out = binary.LittleEndian.AppendUint32(out, l.LineNumber)
	return out
}

func (LineCodec) Decode(b []byte) (Line, error) {
	if len(b) < 24 {
		return Line{}, &addrmap.ErrOutOfBounds{Offset: 24, Limit: len(b)}
	}
	return Line{
		Addr:         binary.LittleEndian.Uint64(b[0:]),
		Size:         binary.LittleEndian.Uint64(b[8:]),
		SourceFileID: binary.LittleEndian.Uint32(b[16:]),
		LineNumber:   binary.LittleEndian.Uint32(b[20:]),
	}, nil
}

type InlineCodec struct{}

func (InlineCodec) Encode(in Inline) []byte {
	out := binary.LittleEndian.AppendUint32(nil, in.Depth)
	out = binary.LittleEndian.AppendUint32(out, in.CallSiteLine)
	out = binary.LittleEndian.AppendUint32(out, in.CallSiteFileID)
	hasFile := byte(0)
	if in.HasCallSiteFileID {
		hasFile = 1
	}
	out = append(out, hasFile)
	out = binary.LittleEndian.AppendUint32(out, in.OriginID)
	out = binary.LittleEndian.AppendUint32(out, uint32(len(in.Ranges)))
	for _, r := range in.Ranges {
		out = binary.LittleEndian.AppendUint64(out, r.Addr)
		out = binary.LittleEndian.AppendUint64(out, r.Size)
	}
	return out
}

func (InlineCodec) Decode(b []byte) (Inline, error) {
	if len(b) < 21 {
		return Inline{}, &addrmap.ErrOutOfBounds{Offset: 21, Limit: len(b)}
	}
	in := Inline{
		Depth:             binary.LittleEndian.Uint32(b[0:]),
		CallSiteLine:      binary.LittleEndian.Uint32(b[4:]),
		CallSiteFileID:    binary.LittleEndian.Uint32(b[8:]),
		HasCallSiteFileID: b[12] != 0,
		OriginID:          binary.LittleEndian.Uint32(b[13:]),
	}
	count := int(binary.LittleEndian.Uint32(b[17:]))
	pos := 21
	for i := 0; i < count; i++ {
		end := pos + 16
		if end > len(b) {
			return Inline{}, &addrmap.ErrOutOfBounds{Offset: end, Limit: len(b)}
		}
		in.Ranges = append(in.Ranges, InlineRange{
			Addr: binary.LittleEndian.Uint64(b[pos:]),
			Size: binary.LittleEndian.Uint64(b[pos+8:]),
		})
		pos = end
	}
	return in, nil
}

type PublicSymbolCodec struct{}

func (PublicSymbolCodec) Encode(p PublicSymbol) []byte {
	out := binary.LittleEndian.AppendUint64(nil, p.Addr)
	out = binary.LittleEndian.AppendUint32(out, p.ParameterSize)
	multiple := byte(0)
	if p.IsMultiple {
		multiple = 1
	}
	out = append(out, multiple)
	return appendString(out, p.Name)
}

func (PublicSymbolCodec) Decode(b []byte) (PublicSymbol, error) {
	if len(b) < 13 {
		return PublicSymbol{}, &addrmap.ErrOutOfBounds{Offset: 13, Limit: len(b)}
	}
	name, _, err := readString(b, 13)
	if err != nil {
		return PublicSymbol{}, err
	}
	return PublicSymbol{
		Addr:          binary.LittleEndian.Uint64(b[0:]),
		ParameterSize: binary.LittleEndian.Uint32(b[8:]),
		IsMultiple:    b[12] != 0,
		Name:          name,
	}, nil
}

type WindowsFrameInfoCodec struct{}

func (WindowsFrameInfoCodec) Encode(w WindowsFrameInfo) []byte {
	out := binary.LittleEndian.AppendUint32(nil, uint32(w.Type))
	out = binary.LittleEndian.AppendUint32(out, uint32(w.Valid))
	out = binary.LittleEndian.AppendUint32(out, w.PrologSize)
	out = binary.LittleEndian.AppendUint32(out, w.EpilogSize)
	out = binary.LittleEndian.AppendUint32(out, w.ParameterSize)
	out = binary.LittleEndian.AppendUint32(out, w.SavedRegisterSize)
	out = binary.LittleEndian.AppendUint32(out, w.LocalSize)
	out = binary.LittleEndian.AppendUint32(out, w.MaxStackSize)
	allocates := byte(0)
	if w.AllocatesBasePointer {
		allocates = 1
	}
	out = append(out, allocates)
	return appendString(out, w.ProgramString)
}

func (WindowsFrameInfoCodec) Decode(b []byte) (WindowsFrameInfo, error) {
	if len(b) < 33 {
		return WindowsFrameInfo{}, &addrmap.ErrOutOfBounds{Offset: 33, Limit: len(b)}
	}
	prog, _, err := readString(b, 33)
	if err != nil {
		return WindowsFrameInfo{}, err
	}
	return WindowsFrameInfo{
		Type:                 WindowsFrameType(binary.LittleEndian.Uint32(b[0:])),
		Valid:                WindowsFrameInfoValid(binary.LittleEndian.Uint32(b[4:])),
		PrologSize:           binary.LittleEndian.Uint32(b[8:]),
		EpilogSize:           binary.LittleEndian.Uint32(b[12:]),
		ParameterSize:        binary.LittleEndian.Uint32(b[16:]),
		SavedRegisterSize:    binary.LittleEndian.Uint32(b[20:]),
		LocalSize:            binary.LittleEndian.Uint32(b[24:]),
		MaxStackSize:         binary.LittleEndian.Uint32(b[28:]),
		AllocatesBasePointer: b[32] != 0,
		ProgramString:        prog,
	}, nil
}

// FunctionCodec serializes a Function together with its nested Lines range
// map and Inlines contained-range map, so that the functions StaticRangeMap
// reconstructs a fully-formed Function -- lines and inlines included --
// from a single value blob without a second top-level map lookup.
type FunctionCodec struct{}

func (FunctionCodec) Encode(f Function) []byte {
	out := make([]byte, 0, 32)
	out = binary.LittleEndian.AppendUint64(out, f.Addr)
	out = binary.LittleEndian.AppendUint64(out, f.Size)
	out = binary.LittleEndian.AppendUint32(out, f.ParameterSize)
	multiple := byte(0)
	if f.IsMultiple {
		multiple = 1
	}
	out = append(out, multiple)
	out = appendString(out, f.Name)

	var linesBytes []byte
	if f.Lines != nil {
		linesBytes = f.Lines.Serialize(LineCodec{})
	}
	out = binary.LittleEndian.AppendUint32(out, uint32(len(linesBytes)))
	out = append(out, linesBytes...)

	var inlinesBytes []byte
	if f.Inlines != nil {
		inlinesBytes = f.Inlines.Serialize(InlineCodec{})
	}
	out = binary.LittleEndian.AppendUint32(out, uint32(len(inlinesBytes)))
	out = append(out, inlinesBytes...)
	return out
}

func (FunctionCodec) Decode(b []byte) (Function, error) {
	if len(b) < 21 {
		return Function{}, &addrmap.ErrOutOfBounds{Offset: 21, Limit: len(b)}
	}
	addr := binary.LittleEndian.Uint64(b[0:])
	size := binary.LittleEndian.Uint64(b[8:])
	paramSize := binary.LittleEndian.Uint32(b[16:])
	multiple := b[20] != 0
	name, pos, err := readString(b, 21)
	if err != nil {
		return Function{}, err
	}
	if pos+4 > len(b) {
		return Function{}, &addrmap.ErrOutOfBounds{Offset: pos + 4, Limit: len(b)}
	}
	linesLen := int(binary.LittleEndian.Uint32(b[pos:]))
	pos += 4
	var lines *addrmap.RangeMapReader[Line]
	if linesLen > 0 {
		if pos+linesLen > len(b) {
			return Function{}, &addrmap.ErrOutOfBounds{Offset: pos + linesLen, Limit: len(b)}
		}
		lines, err = addrmap.LoadRangeMap[Line](b[pos:pos+linesLen], LineCodec{})
		if err != nil {
			return Function{}, err
		}
		pos += linesLen
	}
	if pos+4 > len(b) {
		return Function{}, &addrmap.ErrOutOfBounds{Offset: pos + 4, Limit: len(b)}
	}
	inlinesLen := int(binary.LittleEndian.Uint32(b[pos:]))
	pos += 4
	var inlines *addrmap.ContainedRangeMapReader[Inline]
	if inlinesLen > 0 {
		if pos+inlinesLen > len(b) {
			return Function{}, &addrmap.ErrOutOfBounds{Offset: pos + inlinesLen, Limit: len(b)}
		}
		inlines, _, err = addrmap.LoadContainedRangeMap[Inline](b[pos:pos+inlinesLen], InlineCodec{})
		if err != nil {
			return Function{}, err
		}
	}
	return Function{
		Addr: addr, Size: size, ParameterSize: paramSize, IsMultiple: multiple, Name: name,
		Lines: lines, Inlines: inlines,
	}, nil
}
