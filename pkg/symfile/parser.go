package symfile

import (
	"bufio"
	"io"
	"strings"

	"github.com/gocrash/crashwalk/pkg/logflags"
	"github.com/gocrash/crashwalk/pkg/module"
)

// Parse streams a breakpad-format symbol file and returns the Builder that
// accumulated its records plus the MODULE record's header fields. It never
// buffers the whole file: each line is tokenized, dispatched, and folded
// into the Builder's in-progress state, matching the bufio.Scanner-over-
// dispatch-table idiom pkg/dwarf/line/state_machine.go uses to walk a DWARF
// line program one opcode at a time.
//
// A malformed record never aborts the parse; it is recorded by setting
// b.IsCorrupt and, for an unrecognized keyword, logged through
// logflags.SymFileLogger and otherwise skipped, per spec.md 4.2's "load
// succeeds with is_corrupt=true" contract.
func Parse(r io.Reader) (*Builder, ModuleHeader, error) {
	b := NewBuilder()

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "MODULE":
			b.Header = parseModule(fields)
		case "FILE":
			parseFile(b, fields)
		case "INLINE_ORIGIN":
			parseInlineOrigin(b, fields)
		case "FUNC":
			parseFunc(b, fields)
		case "INLINE":
			parseInline(b, fields)
		case "PUBLIC":
			parsePublic(b, fields)
		case "STACK":
			parseStack(b, fields)
		default:
			if _, isLine := parseHex(fields[0]); isLine {
				parseLine(b, fields)
				continue
			}
			b.IsCorrupt = true
			if logflags.SymFile() {
				logflags.SymFileLogger().Warnf("unrecognized record keyword %q", fields[0])
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, ModuleHeader{}, err
	}
	return b, b.Header, nil
}

// parseModule parses "MODULE <os> <arch> <debug_id> <debug_file...>". The
// debug file name, like FUNC/PUBLIC names, runs to the end of the line and
// may itself contain spaces.
func parseModule(fields []string) ModuleHeader {
	var h ModuleHeader
	if len(fields) > 1 {
		h.OS = fields[1]
	}
	if len(fields) > 2 {
		h.Arch = fields[2]
	}
	if len(fields) > 3 {
		h.DebugID = fields[3]
	}
	if len(fields) > 4 {
		h.DebugFile = strings.Join(fields[4:], " ")
	}
	return h
}

// parseFile parses "FILE <id:dec> <path...>".
func parseFile(b *Builder, fields []string) {
	if len(fields) < 3 {
		b.IsCorrupt = true
		return
	}
	id, ok := parseDec(fields[1])
	if !ok {
		b.IsCorrupt = true
		return
	}
	b.addFile(module.File{ID: uint32(id), Path: strings.Join(fields[2:], " ")})
}

// parseInlineOrigin parses "INLINE_ORIGIN <id:dec> <name...>".
func parseInlineOrigin(b *Builder, fields []string) {
	if len(fields) < 3 {
		b.IsCorrupt = true
		return
	}
	id, ok := parseDec(fields[1])
	if !ok {
		b.IsCorrupt = true
		return
	}
	b.addInlineOrigin(module.InlineOrigin{ID: uint32(id), Name: strings.Join(fields[2:], " ")})
}

// parseFunc parses "FUNC [m] <addr> <size> <param_size> <name...>".
func parseFunc(b *Builder, fields []string) {
	idx := 1
	multiple := false
	if idx < len(fields) && fields[idx] == "m" {
		multiple = true
		idx++
	}
	if idx+3 > len(fields) {
		b.IsCorrupt = true
		return
	}
	addr, ok1 := parseHex(fields[idx])
	size, ok2 := parseHex(fields[idx+1])
	paramSize, ok3 := parseHex(fields[idx+2])
	if !ok1 || !ok2 || !ok3 {
		b.IsCorrupt = true
		return
	}
	name := strings.Join(fields[idx+3:], " ")
	b.startFunc(module.Function{
		Addr: addr, Size: size, ParameterSize: uint32(paramSize),
		Name: name, IsMultiple: multiple,
	})
}

// parseLine parses the implicit-keyword "<addr> <size> <line:dec> <file_id:dec>"
// record; it must follow a FUNC record.
func parseLine(b *Builder, fields []string) {
	if len(fields) < 4 {
		b.IsCorrupt = true
		return
	}
	addr, ok1 := parseHex(fields[0])
	size, ok2 := parseHex(fields[1])
	line, ok3 := parseDec(fields[2])
	fileID, ok4 := parseDec(fields[3])
	if !ok1 || !ok2 || !ok3 || !ok4 {
		b.IsCorrupt = true
		return
	}
	b.addLine(module.Line{Addr: addr, Size: size, LineNumber: uint32(line), SourceFileID: uint32(fileID)})
}

// parseInline parses
// "INLINE <depth:dec> <call_site_line:dec> <call_site_file_id:dec-or--1> <origin_id:dec> (<addr> <size>)+".
// A call_site_file_id of "-1" means the compiler didn't record one.
func parseInline(b *Builder, fields []string) {
	if len(fields) < 7 {
		b.IsCorrupt = true
		return
	}
	depth, ok1 := parseDec(fields[1])
	callSiteLine, ok2 := parseDec(fields[2])
	originID, ok3 := parseDec(fields[4])
	if !ok1 || !ok2 || !ok3 {
		b.IsCorrupt = true
		return
	}
	var fileID uint64
	hasFileID := fields[3] != "-1"
	if hasFileID {
		var ok bool
		fileID, ok = parseDec(fields[3])
		if !ok {
			b.IsCorrupt = true
			return
		}
	}
	rest := fields[5:]
	if len(rest) == 0 || len(rest)%2 != 0 {
		b.IsCorrupt = true
		return
	}
	ranges := make([]module.InlineRange, 0, len(rest)/2)
	for i := 0; i < len(rest); i += 2 {
		addr, ok1 := parseHex(rest[i])
		size, ok2 := parseHex(rest[i+1])
		if !ok1 || !ok2 {
			b.IsCorrupt = true
			return
		}
		ranges = append(ranges, module.InlineRange{Addr: addr, Size: size})
	}
	b.addInline(module.Inline{
		Depth: uint32(depth), CallSiteLine: uint32(callSiteLine),
		CallSiteFileID: uint32(fileID), HasCallSiteFileID: hasFileID,
		OriginID: uint32(originID), Ranges: ranges,
	})
}

// parsePublic parses "PUBLIC [m] <addr> <param_size> <name...>".
func parsePublic(b *Builder, fields []string) {
	idx := 1
	multiple := false
	if idx < len(fields) && fields[idx] == "m" {
		multiple = true
		idx++
	}
	if idx+2 > len(fields) {
		b.IsCorrupt = true
		return
	}
	addr, ok1 := parseHex(fields[idx])
	paramSize, ok2 := parseHex(fields[idx+1])
	if !ok1 || !ok2 {
		b.IsCorrupt = true
		return
	}
	name := strings.Join(fields[idx+2:], " ")
	b.addPublic(module.PublicSymbol{Addr: addr, ParameterSize: uint32(paramSize), Name: name, IsMultiple: multiple})
}

// parseStack dispatches "STACK WIN ...", "STACK CFI INIT ..." and
// "STACK CFI ...".
func parseStack(b *Builder, fields []string) {
	if len(fields) < 2 {
		b.IsCorrupt = true
		return
	}
	switch fields[1] {
	case "WIN":
		parseStackWin(b, fields)
	case "CFI":
		if len(fields) >= 3 && fields[2] == "INIT" {
			parseStackCFIInit(b, fields)
		} else {
			parseStackCFIDelta(b, fields)
		}
	default:
		if logflags.SymFile() {
			logflags.SymFileLogger().Warnf("unrecognized STACK record kind %q", fields[1])
		}
	}
}

// parseStackWin parses:
//
//	STACK WIN <type:dec> <addr> <size> <prolog> <epilog> <params>
//	          <saved_regs> <locals> <max_stack> <has_program_string:0|1>
//	          <program_string-or-allocates_base_pointer>
func parseStackWin(b *Builder, fields []string) {
	if len(fields) < 12 {
		b.IsCorrupt = true
		return
	}
	typ, ok := parseDec(fields[2])
	addr, ok1 := parseHex(fields[3])
	size, ok2 := parseHex(fields[4])
	prolog, ok3 := parseHex(fields[5])
	epilog, ok4 := parseHex(fields[6])
	params, ok5 := parseHex(fields[7])
	savedRegs, ok6 := parseHex(fields[8])
	locals, ok7 := parseHex(fields[9])
	maxStack, ok8 := parseHex(fields[10])
	hasProg, ok9 := parseDec(fields[11])
	if !ok || !ok1 || !ok2 || !ok3 || !ok4 || !ok5 || !ok6 || !ok7 || !ok8 || !ok9 {
		b.IsCorrupt = true
		return
	}

	// The wire format carries breakpad's five-way STACK_INFO type code
	// (FPO=0, TRAP=1, TSS=2, STANDARD=3, FRAME_DATA=4); module.WindowsFrameType
	// only distinguishes FPO-like records from FRAME_DATA records, so every
	// code other than 4 buckets into StackInfoFPO.
	bucket := module.StackInfoFPO
	if typ == 4 {
		bucket = module.StackInfoFrameData
	}

	info := module.WindowsFrameInfo{
		Type: bucket,
		Valid: module.ValidPrologSize | module.ValidEpilogSize | module.ValidParameterSize |
			module.ValidSavedRegisterSize | module.ValidLocalSize | module.ValidMaxStackSize,
		PrologSize: uint32(prolog), EpilogSize: uint32(epilog), ParameterSize: uint32(params),
		SavedRegisterSize: uint32(savedRegs), LocalSize: uint32(locals), MaxStackSize: uint32(maxStack),
	}
	if hasProg == 1 {
		info.ProgramString = strings.Join(fields[12:], " ")
		info.Valid |= module.ValidProgramString
	} else if len(fields) > 12 {
		allocates, ok := parseDec(fields[12])
		if !ok {
			b.IsCorrupt = true
			return
		}
		info.AllocatesBasePointer = allocates != 0
		info.Valid |= module.ValidAllocatesBasePointer
	}

	b.addWindowsFrame(int(bucket), addr, size, info)
}

// parseStackCFIInit parses "STACK CFI INIT <addr> <size> <rules...>".
func parseStackCFIInit(b *Builder, fields []string) {
	if len(fields) < 6 {
		b.IsCorrupt = true
		return
	}
	addr, ok1 := parseHex(fields[3])
	size, ok2 := parseHex(fields[4])
	if !ok1 || !ok2 {
		b.IsCorrupt = true
		return
	}
	b.addCFIInitial(addr, size, strings.Join(fields[5:], " "))
}

// parseStackCFIDelta parses "STACK CFI <addr> <rules...>".
func parseStackCFIDelta(b *Builder, fields []string) {
	if len(fields) < 4 {
		b.IsCorrupt = true
		return
	}
	addr, ok := parseHex(fields[2])
	if !ok {
		b.IsCorrupt = true
		return
	}
	b.addCFIDelta(addr, strings.Join(fields[3:], " "))
}
