package addrmap

import (
	"encoding/binary"
	"sort"
)

// AddressMapBuilder accumulates point-indexed values (public symbols),
// sorted by address by Entries and Serialize.
type AddressMapBuilder[V any] struct {
	points map[Addr]V
	order  []Addr
}

func NewAddressMapBuilder[V any]() *AddressMapBuilder[V] {
	return &AddressMapBuilder[V]{points: make(map[Addr]V)}
}

func (b *AddressMapBuilder[V]) Len() int { return len(b.points) }

// Put inserts a point unless it is already present, returning false if it
// was dropped -- PUBLIC records at a duplicate address follow the same
// first-occurrence-wins rule as FUNC/FILE records.
func (b *AddressMapBuilder[V]) Put(addr Addr, v V) bool {
	if _, exists := b.points[addr]; exists {
		return false
	}
	b.points[addr] = v
	b.order = append(b.order, addr)
	return true
}

func (b *AddressMapBuilder[V]) Entries() []struct {
	Addr  Addr
	Value V
} {
	addrs := make([]Addr, 0, len(b.points))
	for a := range b.points {
		addrs = append(addrs, a)
	}
	sort.Slice(addrs, func(i, j int) bool { return addrs[i] < addrs[j] })
	out := make([]struct {
		Addr  Addr
		Value V
	}, len(addrs))
	for i, a := range addrs {
		out[i].Addr = a
		out[i].Value = b.points[a]
	}
	return out
}

// AddressMapReader answers nearest-predecessor-by-point queries, matching
// google-breakpad's StaticAddressMap.
type AddressMapReader[V any] struct {
	addrs  []Addr
	values []V
}

func NewAddressMapReader[V any](addrs []Addr, values []V) (*AddressMapReader[V], error) {
	for i := 1; i < len(addrs); i++ {
		if addrs[i-1] >= addrs[i] {
			return nil, &ErrNotIncreasing{Index: i}
		}
	}
	return &AddressMapReader[V]{addrs: addrs, values: values}, nil
}

func (r *AddressMapReader[V]) Len() int { return len(r.addrs) }

// Retrieve returns the greatest point <= addr, if any.
func (r *AddressMapReader[V]) Retrieve(addr Addr) (v V, point Addr, ok bool) {
	i := sort.Search(len(r.addrs), func(i int) bool { return r.addrs[i] > addr }) - 1
	if i < 0 {
		return v, 0, false
	}
	return r.values[i], r.addrs[i], true
}

// Serialize writes [count:u32] [(addr:u64,offset:u32) x count] [values blob],
// the point-indexed analogue of RangeMapBuilder.Serialize.
func (b *AddressMapBuilder[V]) Serialize(codec Codec[V]) []byte {
	entries := b.Entries()
	var valuesBlob []byte
	offsets := make([]uint32, len(entries))
	for i, e := range entries {
		offsets[i] = uint32(len(valuesBlob))
		valuesBlob = append(valuesBlob, codec.Encode(e.Value)...)
	}
	out := make([]byte, 0, 4+12*len(entries)+len(valuesBlob))
	out = binary.LittleEndian.AppendUint32(out, uint32(len(entries)))
	for i, e := range entries {
		out = binary.LittleEndian.AppendUint64(out, e.Addr)
		out = binary.LittleEndian.AppendUint32(out, offsets[i])
	}
	out = append(out, valuesBlob...)
	return out
}

// LoadAddressMap mounts a byte buffer produced by AddressMapBuilder.Serialize.
func LoadAddressMap[V any](buf []byte, codec Codec[V]) (*AddressMapReader[V], error) {
	if len(buf) < 4 {
		return nil, &ErrOutOfBounds{Offset: 4, Limit: len(buf)}
	}
	count := int(binary.LittleEndian.Uint32(buf))
	pos := 4
	type rec struct {
		addr   Addr
		offset uint32
	}
	recs := make([]rec, count)
	for i := 0; i < count; i++ {
		end := pos + 12
		if end > len(buf) {
			return nil, &ErrOutOfBounds{Offset: end, Limit: len(buf)}
		}
		recs[i] = rec{addr: binary.LittleEndian.Uint64(buf[pos:]), offset: binary.LittleEndian.Uint32(buf[pos+8:])}
		pos = end
	}
	values := buf[pos:]
	addrs := make([]Addr, count)
	vals := make([]V, count)
	for i, r := range recs {
		end := uint32(len(values))
		if i+1 < count {
			end = recs[i+1].offset
		}
		v, err := codec.Decode(values[r.offset:end])
		if err != nil {
			return nil, err
		}
		addrs[i] = r.addr
		vals[i] = v
	}
	return NewAddressMapReader(addrs, vals)
}
