package cmds

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/gocrash/crashwalk/pkg/process"
)

const demoDumpJSON = `{
  "time_date_stamp": 12345,
  "system_info": {"os": "windows", "cpu": "amd64"},
  "modules": [{"code_file":"test_app.exe","debug_file":"test_app.pdb","debug_id":"ABC","base":4194304,"size":65536}],
  "exception": {"thread_id": 1, "exception_code": 3221225477, "exception_address": 4194314, "parameters": [1]},
  "threads": [
    {"thread_id": 1, "arch": "amd64", "context": {"$rip": 4194314, "$rsp": 4096}, "stack_base": 4096, "stack_size": 16, "stack_hex": "0000000000000000"}
  ]
}`

const demoSymText = "MODULE windows x86_64 ABC test_app.pdb\nFUNC a 10 0 CrashFunction\n"

func TestLoadJSONDumpRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dump.json")
	if err := os.WriteFile(path, []byte(demoDumpJSON), 0o644); err != nil {
		t.Fatal(err)
	}

	d, err := loadJSONDump(path)
	if err != nil {
		t.Fatalf("loadJSONDump: %v", err)
	}
	sys, ok := d.SystemInfo()
	if !ok || sys.CPU != "amd64" {
		t.Fatalf("system info = %+v, ok=%v", sys, ok)
	}
	mods, _ := d.ModuleList()
	if len(mods) != 1 || mods[0].CodeFile != "test_app.exe" {
		t.Fatalf("modules = %+v", mods)
	}
	threads, _ := d.ThreadList()
	if len(threads) != 1 || threads[0].Context.PC() != 0x40000a {
		t.Fatalf("threads = %+v", threads)
	}
}

func TestFileSupplierResolvesFromSymbolStore(t *testing.T) {
	dir := t.TempDir()
	symDir := filepath.Join(dir, "test_app.pdb", "ABC")
	if err := os.MkdirAll(symDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(symDir, "test_app.pdb.sym"), []byte(demoSymText), 0o644); err != nil {
		t.Fatal(err)
	}

	dumpPath := filepath.Join(dir, "dump.json")
	if err := os.WriteFile(dumpPath, []byte(demoDumpJSON), 0o644); err != nil {
		t.Fatal(err)
	}

	dump, err := loadJSONDump(dumpPath)
	if err != nil {
		t.Fatal(err)
	}

	sup := fileSupplier{root: dir}
	p := process.New(sup)
	var state process.ProcessState
	status, err := p.Process(context.Background(), "t", dump, &state)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if status != process.OK {
		t.Fatalf("status = %v", status)
	}
	if state.CrashReason != "EXCEPTION_ACCESS_VIOLATION_WRITE" {
		t.Fatalf("crash reason = %q", state.CrashReason)
	}
}
