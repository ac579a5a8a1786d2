package addrmap

import (
	"encoding/binary"
	"sort"
)

// RangeEntry is one disjoint interval of a StaticRangeMap, before or after
// serialization.
type RangeEntry[V any] struct {
	Base  Addr
	Size  Addr
	Value V
}

// RangeMapBuilder accumulates disjoint address intervals. Intervals are
// sorted by base address by Entries and Serialize; since they are required
// to be disjoint, sorting by base also sorts by high endpoint (base+size),
// which is the key RangeMapReader's RetrieveRange searches on, per
// spec.md 4.1.
type RangeMapBuilder[V any] struct {
	entries []RangeEntry[V]
}

func NewRangeMapBuilder[V any]() *RangeMapBuilder[V] {
	return &RangeMapBuilder[V]{}
}

func (b *RangeMapBuilder[V]) Len() int { return len(b.entries) }

// Put adds an interval. It is the caller's responsibility (the symbol file
// parser, which must implement first-occurrence-wins) to reject overlap
// before calling Put; Put itself does not scan for it, to stay O(1).
func (b *RangeMapBuilder[V]) Put(base, size Addr, v V) {
	b.entries = append(b.entries, RangeEntry[V]{Base: base, Size: size, Value: v})
}

// Overlaps reports whether [base, base+size) overlaps any interval already
// in the builder. O(n); used by callers building from an unordered input
// (symbol file FUNC records may arrive in any order) to enforce disjointness
// before insertion.
func (b *RangeMapBuilder[V]) Overlaps(base, size Addr) bool {
	for _, e := range b.entries {
		if base < e.Base+e.Size && e.Base < base+size {
			return true
		}
	}
	return false
}

func (b *RangeMapBuilder[V]) sorted() []RangeEntry[V] {
	out := make([]RangeEntry[V], len(b.entries))
	copy(out, b.entries)
	sort.Slice(out, func(i, j int) bool { return out[i].Base < out[j].Base })
	return out
}

// Entries returns the builder's intervals sorted by base.
func (b *RangeMapBuilder[V]) Entries() []RangeEntry[V] { return b.sorted() }

// RangeMapReader answers RetrieveRange and RetrieveNearestRange queries
// over a sorted, disjoint interval set, matching the semantics of
// google-breakpad's StaticRangeMap (see fast_source_line_resolver.cc).
type RangeMapReader[V any] struct {
	entries []RangeEntry[V]
}

func NewRangeMapReader[V any](entries []RangeEntry[V]) (*RangeMapReader[V], error) {
	for i := 1; i < len(entries); i++ {
		if entries[i-1].Base+entries[i-1].Size > entries[i].Base {
			return nil, &ErrNotIncreasing{Index: i}
		}
	}
	return &RangeMapReader[V]{entries: entries}, nil
}

func (r *RangeMapReader[V]) Len() int { return len(r.entries) }

// Entries returns the reader's intervals, already sorted by base.
func (r *RangeMapReader[V]) Entries() []RangeEntry[V] { return r.entries }

// Serialize re-encodes a mounted reader back to the byte layout
// RangeMapBuilder.Serialize produces, letting a value type that embeds a
// *RangeMapReader (module.Function's Lines, for instance) re-serialize its
// nested map without reconstructing a builder.
func (r *RangeMapReader[V]) Serialize(codec Codec[V]) []byte {
	var valuesBlob []byte
	offsets := make([]uint32, len(r.entries))
	for i, e := range r.entries {
		offsets[i] = uint32(len(valuesBlob))
		valuesBlob = append(valuesBlob, codec.Encode(e.Value)...)
	}
	out := make([]byte, 0, 4+20*len(r.entries)+len(valuesBlob))
	out = binary.LittleEndian.AppendUint32(out, uint32(len(r.entries)))
	for i, e := range r.entries {
		out = binary.LittleEndian.AppendUint64(out, e.Base)
		out = binary.LittleEndian.AppendUint64(out, e.Size)
		out = binary.LittleEndian.AppendUint32(out, offsets[i])
	}
	out = append(out, valuesBlob...)
	return out
}

// RetrieveRange returns the interval containing addr, if one exists.
func (r *RangeMapReader[V]) RetrieveRange(addr Addr) (v V, base, size Addr, ok bool) {
	i := sort.Search(len(r.entries), func(i int) bool {
		return r.entries[i].Base > addr || addr-r.entries[i].Base < r.entries[i].Size
	})
	if i == len(r.entries) || !Contains(addr, r.entries[i].Base, r.entries[i].Size) {
		return v, 0, 0, false
	}
	e := r.entries[i]
	return e.Value, e.Base, e.Size, true
}

// RetrieveNearestRange returns the interval with the greatest base <= addr,
// whether or not it actually contains addr.
func (r *RangeMapReader[V]) RetrieveNearestRange(addr Addr) (v V, base, size Addr, ok bool) {
	i := sort.Search(len(r.entries), func(i int) bool { return r.entries[i].Base > addr }) - 1
	if i < 0 {
		return v, 0, 0, false
	}
	e := r.entries[i]
	return e.Value, e.Base, e.Size, true
}

// Serialize writes the byte layout:
//
//	[count:u32] [(base:u64,size:u64,offset:u32) x count] [values: concatenated bytes]
//
// offset[i] locates value i within the values blob, mirroring the layout
// StaticMap uses, extended with the interval's base/size per spec.md 4.1.
func (b *RangeMapBuilder[V]) Serialize(codec Codec[V]) []byte {
	entries := b.sorted()
	var valuesBlob []byte
	offsets := make([]uint32, len(entries))
	for i, e := range entries {
		offsets[i] = uint32(len(valuesBlob))
		valuesBlob = append(valuesBlob, codec.Encode(e.Value)...)
	}
	out := make([]byte, 0, 4+20*len(entries)+len(valuesBlob))
	out = binary.LittleEndian.AppendUint32(out, uint32(len(entries)))
	for i, e := range entries {
		out = binary.LittleEndian.AppendUint64(out, e.Base)
		out = binary.LittleEndian.AppendUint64(out, e.Size)
		out = binary.LittleEndian.AppendUint32(out, offsets[i])
	}
	out = append(out, valuesBlob...)
	return out
}

// LoadRangeMap mounts a byte buffer produced by RangeMapBuilder.Serialize.
func LoadRangeMap[V any](buf []byte, codec Codec[V]) (*RangeMapReader[V], error) {
	if len(buf) < 4 {
		return nil, &ErrOutOfBounds{Offset: 4, Limit: len(buf)}
	}
	count := int(binary.LittleEndian.Uint32(buf))
	pos := 4
	type rec struct {
		base, size Addr
		offset     uint32
	}
	recs := make([]rec, count)
	for i := 0; i < count; i++ {
		end := pos + 20
		if end > len(buf) {
			return nil, &ErrOutOfBounds{Offset: end, Limit: len(buf)}
		}
		recs[i] = rec{
			base:   binary.LittleEndian.Uint64(buf[pos:]),
			size:   binary.LittleEndian.Uint64(buf[pos+8:]),
			offset: binary.LittleEndian.Uint32(buf[pos+16:]),
		}
		pos = end
	}
	values := buf[pos:]
	entries := make([]RangeEntry[V], count)
	for i, r := range recs {
		end := uint32(len(values))
		if i+1 < count {
			end = recs[i+1].offset
		}
		if r.offset > uint32(len(values)) || end > uint32(len(values)) {
			return nil, &ErrOutOfBounds{Offset: int(r.offset), Limit: len(values)}
		}
		v, err := codec.Decode(values[r.offset:end])
		if err != nil {
			return nil, err
		}
		entries[i] = RangeEntry[V]{Base: r.base, Size: r.size, Value: v}
	}
	return NewRangeMapReader(entries)
}
