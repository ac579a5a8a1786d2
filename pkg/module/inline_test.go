package module

import (
	"testing"

	"github.com/gocrash/crashwalk/pkg/addrmap"
)

func TestBuildInlineFramesShiftsLocationsAndOrdersInnermostFirst(t *testing.T) {
	const (
		fileMainID  = 10
		fileOuterID = 20
		originOuter = 1
		originInner = 2
	)

	files := addrmap.NewStaticMapBuilder[uint32, File](FileCodec{})
	files.Put(fileMainID, File{ID: fileMainID, Path: "main.go"})
	files.Put(fileOuterID, File{ID: fileOuterID, Path: "outer.go"})
	filesBuf := files.Serialize(encodeU32Key)
	filesReader, err := addrmap.NewStaticMapReader[uint32, File](filesBuf, 4, decodeU32Key, FileCodec{})
	if err != nil {
		t.Fatalf("files: %v", err)
	}

	origins := addrmap.NewStaticMapBuilder[uint32, InlineOrigin](InlineOriginCodec{})
	origins.Put(originOuter, InlineOrigin{ID: originOuter, Name: "pkg.Outer"})
	origins.Put(originInner, InlineOrigin{ID: originInner, Name: "pkg.Inner"})
	originsBuf := origins.Serialize(encodeU32Key)
	originsReader, err := addrmap.NewStaticMapReader[uint32, InlineOrigin](originsBuf, 4, decodeU32Key, InlineOriginCodec{})
	if err != nil {
		t.Fatalf("origins: %v", err)
	}

	inlines := addrmap.NewContainedRangeMapBuilder[Inline]()
	child := inlines.Insert(0x1000, 0x100, Inline{
		Depth: 0, CallSiteLine: 10, CallSiteFileID: fileMainID, HasCallSiteFileID: true, OriginID: originOuter,
	})
	child.Insert(0x1010, 0x20, Inline{
		Depth: 1, CallSiteLine: 20, CallSiteFileID: fileOuterID, HasCallSiteFileID: true, OriginID: originInner,
	})
	inlinesReader, err := inlines.Finish()
	if err != nil {
		t.Fatalf("inlines.Finish: %v", err)
	}

	r := &Resolver{Files: filesReader, InlineOrigins: originsReader}
	fn := Function{Addr: 0x1000, Size: 0x100, Name: "pkg.Real", Inlines: inlinesReader}

	real := StackFrame{
		Instruction: 0x1015, ModuleBase: 0, ModuleName: "mod",
		FunctionName: "pkg.Real", FunctionBase: uint64(fn.Addr),
		SourceFileName: "leaf.go", SourceLine: 99,
	}

	frames := r.BuildInlineFrames(0x1015, fn, &real)
	if len(frames) != 2 {
		t.Fatalf("got %d inline frames, want 2", len(frames))
	}

	inner, outer := frames[0], frames[1]

	if inner.FunctionName != "pkg.Inner" || inner.SourceFileName != "leaf.go" || inner.SourceLine != 99 {
		t.Errorf("inner frame = %+v, want pkg.Inner at leaf.go:99", inner)
	}
	if inner.CallSiteLine != 20 || inner.CallSiteFileName != "outer.go" {
		t.Errorf("inner call site = %s:%d, want outer.go:20", inner.CallSiteFileName, inner.CallSiteLine)
	}
	if inner.Trust != TrustInline {
		t.Errorf("inner.Trust = %v, want TrustInline", inner.Trust)
	}

	if outer.FunctionName != "pkg.Outer" || outer.SourceFileName != "outer.go" || outer.SourceLine != 20 {
		t.Errorf("outer frame = %+v, want pkg.Outer at outer.go:20 (inner's call site)", outer)
	}
	if outer.CallSiteLine != 10 || outer.CallSiteFileName != "main.go" {
		t.Errorf("outer call site = %s:%d, want main.go:10", outer.CallSiteFileName, outer.CallSiteLine)
	}

	if real.SourceFileName != "main.go" || real.SourceLine != 10 {
		t.Errorf("real frame shifted to %s:%d, want main.go:10 (outer's call site)", real.SourceFileName, real.SourceLine)
	}
}

func TestBuildInlineFramesNoInlinesIsNoOp(t *testing.T) {
	r := &Resolver{}
	fn := Function{Addr: 0x1000, Size: 0x100}
	real := StackFrame{SourceFileName: "leaf.go", SourceLine: 5}
	frames := r.BuildInlineFrames(0x1050, fn, &real)
	if frames != nil {
		t.Errorf("got %d frames, want nil for a function with no inlines", len(frames))
	}
	if real.SourceFileName != "leaf.go" || real.SourceLine != 5 {
		t.Errorf("real frame mutated despite no inlines: %+v", real)
	}
}

func TestBuildInlineFramesDanglingOriginIDOmitsName(t *testing.T) {
	origins := addrmap.NewStaticMapBuilder[uint32, InlineOrigin](InlineOriginCodec{})
	origins.Put(1, InlineOrigin{ID: 1, Name: "pkg.Known"})
	originsBuf := origins.Serialize(encodeU32Key)
	originsReader, err := addrmap.NewStaticMapReader[uint32, InlineOrigin](originsBuf, 4, decodeU32Key, InlineOriginCodec{})
	if err != nil {
		t.Fatalf("origins: %v", err)
	}

	inlines := addrmap.NewContainedRangeMapBuilder[Inline]()
	inlines.Insert(0x1000, 0x100, Inline{Depth: 0, OriginID: 99})
	inlinesReader, err := inlines.Finish()
	if err != nil {
		t.Fatalf("inlines.Finish: %v", err)
	}

	r := &Resolver{InlineOrigins: originsReader}
	fn := Function{Addr: 0x1000, Size: 0x100, Inlines: inlinesReader}
	real := StackFrame{SourceFileName: "leaf.go", SourceLine: 5}

	frames := r.BuildInlineFrames(0x1010, fn, &real)
	if len(frames) != 1 {
		t.Fatalf("got %d inline frames, want 1", len(frames))
	}
	if frames[0].FunctionName != "<name omitted>" {
		t.Errorf("FunctionName = %q, want %q for a dangling OriginID", frames[0].FunctionName, "<name omitted>")
	}
}

func encodeU32Key(k uint32) []byte {
	return []byte{byte(k), byte(k >> 8), byte(k >> 16), byte(k >> 24)}
}

func decodeU32Key(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}
