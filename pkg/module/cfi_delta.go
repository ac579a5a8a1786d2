package module

import (
	"encoding/binary"
	"sort"

	"github.com/gocrash/crashwalk/pkg/addrmap"
)

// CFIDeltaRule is one STACK CFI record: incremental register-recovery rules
// applied at a single address within the range an initial STACK CFI INIT
// record established.
type CFIDeltaRule struct {
	Addr  Addr
	Rules string
}

// CFIDeltaRulesBuilder accumulates STACK CFI records in any order.
type CFIDeltaRulesBuilder struct {
	byAddr map[Addr]string
	order  []Addr
}

func NewCFIDeltaRulesBuilder() *CFIDeltaRulesBuilder {
	return &CFIDeltaRulesBuilder{byAddr: make(map[Addr]string)}
}

// Put records a delta rule at addr, overwriting any earlier rule at the
// same address -- unlike FUNC/FILE records, repeated STACK CFI lines at the
// same address in breakpad-format symbol files are legitimate (later
// deltas refine earlier ones at the same address) so this is last-write-
// wins, not first-occurrence-wins.
func (b *CFIDeltaRulesBuilder) Put(addr Addr, rules string) {
	if _, exists := b.byAddr[addr]; !exists {
		b.order = append(b.order, addr)
	}
	b.byAddr[addr] = rules
}

func (b *CFIDeltaRulesBuilder) Len() int { return len(b.byAddr) }

// Finish compiles the builder into a CFIDeltaRules sorted by address.
func (b *CFIDeltaRulesBuilder) Finish() *CFIDeltaRules {
	addrs := make([]Addr, 0, len(b.byAddr))
	for a := range b.byAddr {
		addrs = append(addrs, a)
	}
	sort.Slice(addrs, func(i, j int) bool { return addrs[i] < addrs[j] })
	rules := make([]string, len(addrs))
	for i, a := range addrs {
		rules[i] = b.byAddr[a]
	}
	return &CFIDeltaRules{addrs: addrs, rules: rules}
}

// Serialize writes [count:u32] [(addr:u64,len:u32) x count] [rule text
// blob], mirroring the StaticMap layout but kept distinct because deltas
// are iterated in a bounded range rather than point-queried.
func (b *CFIDeltaRulesBuilder) Serialize() []byte {
	return b.Finish().serialize()
}

// CFIDeltaRules answers "every delta from base through addr inclusive",
// the query FindCFIFrameInfo needs to merge into an initial rule set.
type CFIDeltaRules struct {
	addrs []Addr
	rules []string
}

// InRange returns the delta rules with base <= addr <= limit, in address
// order, per spec.md 4.4's "iterate cfi_delta_rules in key order from ibase
// through addr inclusive" merge step.
func (d *CFIDeltaRules) InRange(base, limit Addr) []CFIDeltaRule {
	lo := sort.Search(len(d.addrs), func(i int) bool { return d.addrs[i] >= base })
	hi := sort.Search(len(d.addrs), func(i int) bool { return d.addrs[i] > limit })
	if lo >= hi {
		return nil
	}
	out := make([]CFIDeltaRule, hi-lo)
	for i := lo; i < hi; i++ {
		out[i-lo] = CFIDeltaRule{Addr: d.addrs[i], Rules: d.rules[i]}
	}
	return out
}

func (d *CFIDeltaRules) Len() int { return len(d.addrs) }

func (d *CFIDeltaRules) serialize() []byte {
	var blob []byte
	lens := make([]uint32, len(d.addrs))
	for i, r := range d.rules {
		lens[i] = uint32(len(r))
		blob = append(blob, r...)
	}
	out := binary.LittleEndian.AppendUint32(nil, uint32(len(d.addrs)))
	for i, a := range d.addrs {
		out = binary.LittleEndian.AppendUint64(out, a)
		out = binary.LittleEndian.AppendUint32(out, lens[i])
	}
	out = append(out, blob...)
	return out
}

// LoadCFIDeltaRules mounts a byte buffer produced by
// CFIDeltaRulesBuilder.Serialize.
func LoadCFIDeltaRules(buf []byte) (*CFIDeltaRules, error) {
	if len(buf) < 4 {
		return nil, &addrmap.ErrOutOfBounds{Offset: 4, Limit: len(buf)}
	}
	count := int(binary.LittleEndian.Uint32(buf))
	pos := 4
	type rec struct {
		addr Addr
		n    uint32
	}
	recs := make([]rec, count)
	for i := 0; i < count; i++ {
		end := pos + 12
		if end > len(buf) {
			return nil, &addrmap.ErrOutOfBounds{Offset: end, Limit: len(buf)}
		}
		recs[i] = rec{addr: binary.LittleEndian.Uint64(buf[pos:]), n: binary.LittleEndian.Uint32(buf[pos+8:])}
		pos = end
	}
	addrs := make([]Addr, count)
	rules := make([]string, count)
	blobPos := pos
	for i, r := range recs {
		end := blobPos + int(r.n)
		if end > len(buf) {
			return nil, &addrmap.ErrOutOfBounds{Offset: end, Limit: len(buf)}
		}
		addrs[i] = r.addr
		rules[i] = string(buf[blobPos:end])
		blobPos = end
	}
	return &CFIDeltaRules{addrs: addrs, rules: rules}, nil
}
