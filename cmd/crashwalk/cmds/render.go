package cmds

import (
	"fmt"
	"io"
	"os"

	"github.com/mattn/go-isatty"

	"github.com/gocrash/crashwalk/pkg/module"
	"github.com/gocrash/crashwalk/pkg/process"
)

const (
	ansiRed    = 31
	ansiGreen  = 32
	ansiYellow = 33
	ansiBlue   = 34
	ansiReset  = 0
)

// trustColor picks an ANSI color for a trust level: strong trust reads as
// green, frame-pointer-recovered frames as yellow, scan-recovered frames as
// red, anything else (or inline, which always rides along with a stronger
// real frame) as plain text -- this is cosmetic only, not part of the engine.
func trustColor(t module.Trust) int {
	switch t {
	case module.TrustContext, module.TrustPrewalked, module.TrustCFI:
		return ansiGreen
	case module.TrustFramePointer:
		return ansiYellow
	case module.TrustScanPrologue, module.TrustScan:
		return ansiRed
	default:
		return ansiReset
	}
}

// writer picks a colorable stdout writer and reports whether it should
// actually emit color escapes: only when stdout is a real terminal, per
// mattn/go-isatty, and the output isn't being piped or redirected.
func writer() (io.Writer, bool) {
	color := isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd())
	if !color {
		return os.Stdout, false
	}
	return getColorableWriter(), true
}

func colorize(w io.Writer, color bool, code int, format string, args ...interface{}) {
	if color && code != ansiReset {
		fmt.Fprintf(w, "\033[%dm", code)
		fmt.Fprintf(w, format, args...)
		fmt.Fprint(w, "\033[0m")
		return
	}
	fmt.Fprintf(w, format, args...)
}

// renderState writes a plain-text rendition of a ProcessState, the CLI's
// only output format -- there is no machine-readable mode, since this
// binary exists to exercise the engine, not to be a production crash
// triage tool.
func renderState(status process.Status, state *process.ProcessState) {
	w, color := writer()

	fmt.Fprintf(w, "status: %s\n", status)
	if status != process.OK {
		return
	}
	fmt.Fprintf(w, "os: %s %s  cpu: %s\n", state.SystemInfo.OS, state.SystemInfo.Version, state.SystemInfo.CPU)
	if state.Crashed {
		fmt.Fprintf(w, "crash reason: %s\n", state.CrashReason)
		fmt.Fprintf(w, "crash address: %#x\n", state.CrashAddress)
	}
	fmt.Fprintf(w, "exploitability: %s\n\n", state.Exploitability)

	for i, cs := range state.Threads {
		marker := ""
		if i == state.RequestingThread {
			marker = " (crashed)"
		}
		fmt.Fprintf(w, "thread %d%s\n", cs.ThreadID, marker)
		for n, f := range cs.Frames {
			loc := f.FunctionName
			if loc == "" {
				loc = "<unknown>"
			}
			if f.SourceFileName != "" {
				loc = fmt.Sprintf("%s (%s:%d)", loc, f.SourceFileName, f.SourceLine)
			}
			modName := f.ModuleName
			if modName == "" {
				modName = "<unknown module>"
			}
			fmt.Fprintf(w, " %2d  %s  %#016x  ", n, modName, f.Instruction)
			colorize(w, color, trustColor(f.Trust), "%-14s", f.Trust.String())
			fmt.Fprintf(w, "  %s\n", loc)
		}
		fmt.Fprintln(w)
	}
}
