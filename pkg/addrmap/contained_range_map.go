package addrmap

import "encoding/binary"

// ContainedRangeMap is the nested-interval container used for inline call
// sites: each node owns a RangeMap of the children immediately nested
// inside it, so RetrieveRanges walks down one level of binary search at a
// time rather than scanning every inline record in a function.
type containedNode[V any] struct {
	Value    V
	Children *ContainedRangeMapBuilder[V]
}

// ContainedRangeMapBuilder accumulates a tree of nested, disjoint intervals.
type ContainedRangeMapBuilder[V any] struct {
	ranges *RangeMapBuilder[*containedNode[V]]
}

func NewContainedRangeMapBuilder[V any]() *ContainedRangeMapBuilder[V] {
	return &ContainedRangeMapBuilder[V]{ranges: NewRangeMapBuilder[*containedNode[V]]()}
}

// Insert adds [base,base+size) at this level and returns the builder for
// its children, so that ranges nested one depth deeper can be inserted by
// calling Insert again on the returned builder. Overlap among siblings at
// the same level must be checked by the caller with Overlaps on the
// returned child builder's parent scope before use.
func (b *ContainedRangeMapBuilder[V]) Insert(base, size Addr, value V) *ContainedRangeMapBuilder[V] {
	node := &containedNode[V]{Value: value, Children: NewContainedRangeMapBuilder[V]()}
	b.ranges.Put(base, size, node)
	return node.Children
}

// Overlaps reports whether [base,base+size) overlaps a sibling already
// inserted at this level.
func (b *ContainedRangeMapBuilder[V]) Overlaps(base, size Addr) bool {
	return b.ranges.Overlaps(base, size)
}

func (b *ContainedRangeMapBuilder[V]) Len() int { return b.ranges.Len() }

// Finish compiles the builder tree into a read-only ContainedRangeMapReader.
func (b *ContainedRangeMapBuilder[V]) Finish() (*ContainedRangeMapReader[V], error) {
	srcEntries := b.ranges.Entries()
	dstEntries := make([]RangeEntry[*containedNodeR[V]], len(srcEntries))
	for i, e := range srcEntries {
		childReader, err := e.Value.Children.Finish()
		if err != nil {
			return nil, err
		}
		dstEntries[i] = RangeEntry[*containedNodeR[V]]{
			Base: e.Base, Size: e.Size,
			Value: &containedNodeR[V]{Value: e.Value.Value, Children: childReader},
		}
	}
	rm, err := NewRangeMapReader(dstEntries)
	if err != nil {
		return nil, err
	}
	return &ContainedRangeMapReader[V]{ranges: rm}, nil
}

type containedNodeR[V any] struct {
	Value    V
	Children *ContainedRangeMapReader[V]
}

// ContainedRangeMapReader answers RetrieveRanges queries over a tree of
// nested intervals.
type ContainedRangeMapReader[V any] struct {
	ranges *RangeMapReader[*containedNodeR[V]]
}

// RetrieveRanges returns, outermost first, every value whose interval
// contains addr, descending one nesting level per RangeMap binary search.
func (r *ContainedRangeMapReader[V]) RetrieveRanges(addr Addr) []V {
	var out []V
	cur := r
	for cur != nil {
		node, _, _, ok := cur.ranges.RetrieveRange(addr)
		if !ok {
			break
		}
		out = append(out, node.Value)
		cur = node.Children
	}
	return out
}

func (r *ContainedRangeMapReader[V]) Len() int { return r.ranges.Len() }

// Serialize re-encodes a mounted reader back to the byte layout
// ContainedRangeMapBuilder.Serialize produces, for value types (module.
// Function's Inlines) that hold a reader rather than a builder once parsed.
func (r *ContainedRangeMapReader[V]) Serialize(codec Codec[V]) []byte {
	entries := r.ranges.Entries()
	out := binary.LittleEndian.AppendUint32(nil, uint32(len(entries)))
	for _, e := range entries {
		valBytes := codec.Encode(e.Value.Value)
		childBytes := e.Value.Children.Serialize(codec)
		out = binary.LittleEndian.AppendUint64(out, e.Base)
		out = binary.LittleEndian.AppendUint64(out, e.Size)
		out = binary.LittleEndian.AppendUint32(out, uint32(len(valBytes)))
		out = append(out, valBytes...)
		out = binary.LittleEndian.AppendUint32(out, uint32(len(childBytes)))
		out = append(out, childBytes...)
	}
	return out
}

// Serialize writes a self-describing recursive record:
//
//	[count:u32]
//	for each entry, ordered by base:
//	  [base:u64] [size:u64] [valueLen:u32] [value bytes] [childLen:u32] [child bytes]
//
// This trades StaticMap's offset-table indirection at each nesting level
// for a simpler recursive format; lookups still binary search within a
// level via RangeMapReader, only the on-disk framing between levels differs
// from a literal StaticRangeMap-of-StaticRangeMap layout.
func (b *ContainedRangeMapBuilder[V]) Serialize(codec Codec[V]) []byte {
	entries := b.ranges.Entries()
	out := binary.LittleEndian.AppendUint32(nil, uint32(len(entries)))
	for _, e := range entries {
		valBytes := codec.Encode(e.Value.Value)
		childBytes := e.Value.Children.Serialize(codec)
		out = binary.LittleEndian.AppendUint64(out, e.Base)
		out = binary.LittleEndian.AppendUint64(out, e.Size)
		out = binary.LittleEndian.AppendUint32(out, uint32(len(valBytes)))
		out = append(out, valBytes...)
		out = binary.LittleEndian.AppendUint32(out, uint32(len(childBytes)))
		out = append(out, childBytes...)
	}
	return out
}

// LoadContainedRangeMap mounts a byte buffer produced by
// ContainedRangeMapBuilder.Serialize, returning the reader and the number
// of bytes consumed.
func LoadContainedRangeMap[V any](buf []byte, codec Codec[V]) (*ContainedRangeMapReader[V], int, error) {
	if len(buf) < 4 {
		return nil, 0, &ErrOutOfBounds{Offset: 4, Limit: len(buf)}
	}
	count := int(binary.LittleEndian.Uint32(buf))
	pos := 4
	entries := make([]RangeEntry[*containedNodeR[V]], count)
	for i := 0; i < count; i++ {
		if pos+20 > len(buf) {
			return nil, 0, &ErrOutOfBounds{Offset: pos + 20, Limit: len(buf)}
		}
		base := binary.LittleEndian.Uint64(buf[pos:])
		size := binary.LittleEndian.Uint64(buf[pos+8:])
		valLen := int(binary.LittleEndian.Uint32(buf[pos+16:]))
		pos += 20
		if pos+valLen > len(buf) {
			return nil, 0, &ErrOutOfBounds{Offset: pos + valLen, Limit: len(buf)}
		}
		val, err := codec.Decode(buf[pos : pos+valLen])
		if err != nil {
			return nil, 0, err
		}
		pos += valLen
		if pos+4 > len(buf) {
			return nil, 0, &ErrOutOfBounds{Offset: pos + 4, Limit: len(buf)}
		}
		childLen := int(binary.LittleEndian.Uint32(buf[pos:]))
		pos += 4
		if pos+childLen > len(buf) {
			return nil, 0, &ErrOutOfBounds{Offset: pos + childLen, Limit: len(buf)}
		}
		childReader, consumed, err := LoadContainedRangeMap[V](buf[pos:pos+childLen], codec)
		if err != nil {
			return nil, 0, err
		}
		_ = consumed
		pos += childLen
		entries[i] = RangeEntry[*containedNodeR[V]]{Base: base, Size: size, Value: &containedNodeR[V]{Value: val, Children: childReader}}
	}
	rm, err := NewRangeMapReader(entries)
	if err != nil {
		return nil, 0, err
	}
	return &ContainedRangeMapReader[V]{ranges: rm}, pos, nil
}
