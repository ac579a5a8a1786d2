//go:build windows

package cmds

import (
	"io"
	"os"

	"github.com/mattn/go-colorable"
)

// getColorableWriter wraps stdout so ANSI escapes render correctly on
// legacy Windows consoles that don't interpret them natively.
func getColorableWriter() io.Writer {
	return colorable.NewColorableStdout()
}
