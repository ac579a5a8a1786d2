//go:build !windows

package cmds

import (
	"io"
	"os"
)

// getColorableWriter simply returns stdout on *nix machines, which already
// interpret ANSI escapes natively.
func getColorableWriter() io.Writer {
	return os.Stdout
}
