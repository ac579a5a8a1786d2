package addrmap

import (
	"encoding/binary"
	"sort"
)

// Codec knows how to turn a value into bytes and back. Implementations are
// expected to be stateless and produce self-delimiting encodings only when
// paired with the offset table StaticMap maintains alongside the values
// blob -- the codec itself never needs to know where a value ends.
type Codec[V any] interface {
	Encode(v V) []byte
	Decode(b []byte) (V, error)
}

// Map is the read side of the static map: a point lookup plus an entry
// count. StaticMapBuilder and StaticMapReader both satisfy it, so a caller
// can be written once against either the in-memory or the mmap-backed
// representation. The range, address and contained-range containers do
// not implement it.
type Map[K comparable, V any] interface {
	Get(key K) (V, bool)
	Len() int
}

// StaticMapBuilder accumulates key/value pairs in memory and serializes them
// into the layout StaticMapReader expects:
//
//	[count:u32] [offset[count]:u32] [keys[count]:K] [values: concatenated bytes]
//
// offset[i] is the byte offset of value i within the values blob; offset[count]
// (implicit, equal to len(values blob)) is never written but is recoverable
// from the blob length, matching the invariant in spec.md 4.1.
type StaticMapBuilder[K Ordered, V any] struct {
	pairs map[K]V
	order []K // insertion order, for first-occurrence-wins semantics
	codec Codec[V]
}

// Ordered is satisfied by every key type used in this package. It is
// defined locally (rather than imported from the standard library cmp
// package) so StaticMap can also be keyed by types with custom encodings,
// such as a 96-bit address pair, in the future.
type Ordered interface {
	~uint64 | ~uint32 | ~int | ~string
}

func NewStaticMapBuilder[K Ordered, V any](codec Codec[V]) *StaticMapBuilder[K, V] {
	return &StaticMapBuilder[K, V]{pairs: make(map[K]V), codec: codec}
}

// Put inserts key/value unless key is already present, in which case it is
// dropped and ok is false -- callers use this to implement "first occurrence
// wins" for duplicate FILE/INLINE_ORIGIN ids per spec.md 4.2.
func (b *StaticMapBuilder[K, V]) Put(key K, val V) (ok bool) {
	if _, exists := b.pairs[key]; exists {
		return false
	}
	b.pairs[key] = val
	b.order = append(b.order, key)
	return true
}

func (b *StaticMapBuilder[K, V]) Len() int { return len(b.pairs) }

func (b *StaticMapBuilder[K, V]) Get(key K) (V, bool) {
	v, ok := b.pairs[key]
	return v, ok
}

// sortedKeys returns the builder's keys in ascending order.
func (b *StaticMapBuilder[K, V]) sortedKeys() []K {
	keys := make([]K, 0, len(b.pairs))
	for k := range b.pairs {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return less(keys[i], keys[j]) })
	return keys
}

func less[K Ordered](a, b K) bool { return a < b }

// Serialize writes the StaticMap byte layout for this builder's contents to
// buf, encoding keys with encodeKey.
func (b *StaticMapBuilder[K, V]) Serialize(encodeKey func(K) []byte) []byte {
	keys := b.sortedKeys()
	count := uint32(len(keys))

	var valuesBlob []byte
	offsets := make([]uint32, count)
	for i, k := range keys {
		offsets[i] = uint32(len(valuesBlob))
		valuesBlob = append(valuesBlob, b.codec.Encode(b.pairs[k])...)
	}

	keyWidth := 0
	if count > 0 {
		keyWidth = len(encodeKey(keys[0]))
	}

	out := make([]byte, 0, 4+4*int(count)+keyWidth*int(count)+len(valuesBlob))
	out = binary.LittleEndian.AppendUint32(out, count)
	for _, off := range offsets {
		out = binary.LittleEndian.AppendUint32(out, off)
	}
	for _, k := range keys {
		out = append(out, encodeKey(k)...)
	}
	out = append(out, valuesBlob...)
	return out
}

// StaticMapReader is a zero-copy view over a byte buffer produced by
// StaticMapBuilder.Serialize. It never allocates during lookups beyond the
// copy the Codec itself performs to produce a detached V.
type StaticMapReader[K Ordered, V any] struct {
	keys    []K
	offsets []uint32
	values  []byte
	codec   Codec[V]
}

// NewStaticMapReader mounts buf, which must have been produced by
// Serialize with a key codec matching decodeKey/keyWidth.
func NewStaticMapReader[K Ordered, V any](buf []byte, keyWidth int, decodeKey func([]byte) K, codec Codec[V]) (*StaticMapReader[K, V], error) {
	if len(buf) < 4 {
		return nil, &ErrOutOfBounds{Offset: 4, Limit: len(buf)}
	}
	count := int(binary.LittleEndian.Uint32(buf))
	pos := 4
	offsetsEnd := pos + 4*count
	if offsetsEnd > len(buf) {
		return nil, &ErrOutOfBounds{Offset: offsetsEnd, Limit: len(buf)}
	}
	offsets := make([]uint32, count)
	for i := 0; i < count; i++ {
		offsets[i] = binary.LittleEndian.Uint32(buf[pos : pos+4])
		pos += 4
	}
	keysEnd := pos + keyWidth*count
	if keysEnd > len(buf) {
		return nil, &ErrOutOfBounds{Offset: keysEnd, Limit: len(buf)}
	}
	keys := make([]K, count)
	for i := 0; i < count; i++ {
		keys[i] = decodeKey(buf[pos : pos+keyWidth])
		pos += keyWidth
		if i > 0 && !less(keys[i-1], keys[i]) {
			return nil, &ErrNotIncreasing{Index: i}
		}
	}
	values := buf[pos:]
	for i, off := range offsets {
		limit := len(values)
		if i+1 < len(offsets) {
			limit = int(offsets[i+1])
		}
		if int(off) > limit || int(off) > len(values) {
			return nil, &ErrOutOfBounds{Offset: int(off), Limit: len(values)}
		}
	}
	return &StaticMapReader[K, V]{keys: keys, offsets: offsets, values: values, codec: codec}, nil
}

func (r *StaticMapReader[K, V]) Len() int { return len(r.keys) }

func (r *StaticMapReader[K, V]) Get(key K) (V, bool) {
	i := sort.Search(len(r.keys), func(i int) bool { return !less(r.keys[i], key) })
	if i >= len(r.keys) || r.keys[i] != key {
		var zero V
		return zero, false
	}
	return r.decodeAt(i)
}

func (r *StaticMapReader[K, V]) decodeAt(i int) (V, bool) {
	start := r.offsets[i]
	end := uint32(len(r.values))
	if i+1 < len(r.offsets) {
		end = r.offsets[i+1]
	}
	v, err := r.codec.Decode(r.values[start:end])
	if err != nil {
		var zero V
		return zero, false
	}
	return v, true
}
