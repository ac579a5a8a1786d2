package addrmap

import (
	"math"
	"testing"
)

func TestContainsOverflowSafe(t *testing.T) {
	tests := []struct {
		addr, base, size Addr
		want             bool
	}{
		{10, 5, 10, true},
		{5, 5, 10, true},
		{15, 5, 10, false},
		{4, 5, 10, false},
		// base+size would overflow uint64; Contains must not use that form.
		{math.MaxUint64, math.MaxUint64 - 1, 5, true},
		{math.MaxUint64 - 2, math.MaxUint64 - 1, 5, false},
	}
	for _, tt := range tests {
		if got := Contains(tt.addr, tt.base, tt.size); got != tt.want {
			t.Errorf("Contains(%d,%d,%d) = %v, want %v", tt.addr, tt.base, tt.size, got, tt.want)
		}
	}
}

type stringCodec struct{}

func (stringCodec) Encode(v string) []byte   { return []byte(v) }
func (stringCodec) Decode(b []byte) (string, error) { return string(b), nil }

func TestStaticMapRoundTrip(t *testing.T) {
	b := NewStaticMapBuilder[uint64, string](stringCodec{})
	b.Put(30, "thirty")
	b.Put(10, "ten")
	b.Put(20, "twenty")
	// duplicate key: first occurrence wins
	if ok := b.Put(10, "ten-again"); ok {
		t.Fatal("expected duplicate Put to be rejected")
	}

	encodeKey := func(k uint64) []byte {
		out := make([]byte, 8)
		for i := 0; i < 8; i++ {
			out[i] = byte(k >> (8 * i))
		}
		return out
	}
	decodeKey := func(b []byte) uint64 {
		var k uint64
		for i := 0; i < 8; i++ {
			k |= uint64(b[i]) << (8 * i)
		}
		return k
	}

	buf := b.Serialize(encodeKey)
	r, err := NewStaticMapReader[uint64, string](buf, 8, decodeKey, stringCodec{})
	if err != nil {
		t.Fatal(err)
	}
	if r.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", r.Len())
	}
	for k, want := range map[uint64]string{10: "ten", 20: "twenty", 30: "thirty"} {
		got, ok := r.Get(k)
		if !ok || got != want {
			t.Errorf("Get(%d) = %q,%v want %q,true", k, got, ok, want)
		}
	}
	if _, ok := r.Get(99); ok {
		t.Errorf("Get(99) should miss")
	}
}

func TestRangeMapRetrieve(t *testing.T) {
	b := NewRangeMapBuilder[string]()
	b.Put(100, 50, "fn-a") // [100,150)
	b.Put(200, 10, "fn-b") // [200,210)
	r, err := NewRangeMapReader(b.Entries())
	if err != nil {
		t.Fatal(err)
	}

	if v, base, _, ok := r.RetrieveRange(120); !ok || v != "fn-a" || base != 100 {
		t.Errorf("RetrieveRange(120) = %q,%d,%v", v, base, ok)
	}
	if _, _, _, ok := r.RetrieveRange(160); ok {
		t.Errorf("RetrieveRange(160) should miss (gap between functions)")
	}
	if v, base, _, ok := r.RetrieveNearestRange(160); !ok || v != "fn-a" || base != 100 {
		t.Errorf("RetrieveNearestRange(160) = %q,%d,%v, want fn-a,100,true", v, base, ok)
	}
	if _, _, _, ok := r.RetrieveNearestRange(50); ok {
		t.Errorf("RetrieveNearestRange(50) should miss (before first range)")
	}
}

func TestRangeMapSerializeRoundTrip(t *testing.T) {
	b := NewRangeMapBuilder[string]()
	b.Put(100, 50, "fn-a")
	b.Put(200, 10, "fn-b")
	buf := b.Serialize(stringCodec{})
	r, err := LoadRangeMap[string](buf, stringCodec{})
	if err != nil {
		t.Fatal(err)
	}
	want, err := NewRangeMapReader(b.Entries())
	if err != nil {
		t.Fatal(err)
	}
	for _, addr := range []Addr{0, 100, 120, 149, 150, 199, 200, 209, 210} {
		gv, gb, gs, gok := r.RetrieveRange(addr)
		wv, wb, ws, wok := want.RetrieveRange(addr)
		if gv != wv || gb != wb || gs != ws || gok != wok {
			t.Errorf("addr %d: loaded=(%q,%d,%d,%v) want=(%q,%d,%d,%v)", addr, gv, gb, gs, gok, wv, wb, ws, wok)
		}
	}
}

func TestAddressMapRetrieve(t *testing.T) {
	b := NewAddressMapBuilder[string]()
	b.Put(10, "a")
	b.Put(20, "b")
	b.Put(30, "c")
	buf := b.Serialize(stringCodec{})
	r, err := LoadAddressMap[string](buf, stringCodec{})
	if err != nil {
		t.Fatal(err)
	}
	if v, p, ok := r.Retrieve(25); !ok || v != "b" || p != 20 {
		t.Errorf("Retrieve(25) = %q,%d,%v, want b,20,true", v, p, ok)
	}
	if _, _, ok := r.Retrieve(5); ok {
		t.Errorf("Retrieve(5) should miss")
	}
}

func TestContainedRangeMapOrdering(t *testing.T) {
	root := NewContainedRangeMapBuilder[string]()
	inner := root.Insert(100, 100, "outer") // [100,200)
	inner.Insert(110, 20, "inner")          // [110,130) nested

	reader, err := root.Finish()
	if err != nil {
		t.Fatal(err)
	}

	got := reader.RetrieveRanges(115)
	want := []string{"outer", "inner"}
	if len(got) != len(want) {
		t.Fatalf("RetrieveRanges(115) = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("RetrieveRanges(115)[%d] = %q, want %q", i, got[i], want[i])
		}
	}

	if got := reader.RetrieveRanges(150); len(got) != 1 || got[0] != "outer" {
		t.Errorf("RetrieveRanges(150) = %v, want [outer]", got)
	}
}

func TestContainedRangeMapSerializeRoundTrip(t *testing.T) {
	root := NewContainedRangeMapBuilder[string]()
	inner := root.Insert(100, 100, "outer")
	inner.Insert(110, 20, "inner")

	buf := root.Serialize(stringCodec{})
	reader, _, err := LoadContainedRangeMap[string](buf, stringCodec{})
	if err != nil {
		t.Fatal(err)
	}
	got := reader.RetrieveRanges(115)
	if len(got) != 2 || got[0] != "outer" || got[1] != "inner" {
		t.Errorf("RetrieveRanges(115) after round-trip = %v", got)
	}
}
