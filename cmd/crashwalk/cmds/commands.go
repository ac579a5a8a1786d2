// Package cmds implements crashwalk's command tree, grounded on the
// teacher's cmd/dlv/cmds/commands.go: a package-level cobra.Command tree
// built by New, package-level flag variables bound with pflag, and a
// PersistentPreRunE that wires pkg/logflags before any subcommand runs.
package cmds

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/gocrash/crashwalk/pkg/config"
	"github.com/gocrash/crashwalk/pkg/logflags"
	"github.com/gocrash/crashwalk/pkg/process"
	"github.com/gocrash/crashwalk/pkg/registry"
	"github.com/gocrash/crashwalk/pkg/supplier"
)

var (
	// log is whether to log debug statements.
	log bool
	// logOutput is a comma separated list of components that should produce debug output.
	logOutput string
	// symbolsDir is the root of the breakpad-layout symbol store consulted
	// for both 'process' and 'query'.
	symbolsDir string
	// cacheDir, if set, persists resolved symbol images across runs.
	cacheDir string
	// maxStackDepth overrides config.Config.MaxStackDepth.
	maxStackDepth int
	// maxScanWords overrides config.Config.MaxScanWords.
	maxScanWords int
	// queryCPU selects the architecture assumed for a `query` session's
	// symbol lookups (breakpad symbol files aren't architecture-specific
	// in the fields `query` reads, but the supplier interface always
	// takes a SystemInfo).
	queryCPU string

	conf *config.Config
)

const crashwalkLongDesc = `crashwalk is a post-mortem crash-dump symbolication and stack-unwinding
engine in the style of Google Breakpad's processor.

It never parses a live process or a raw minidump container; it consumes
whatever supplier.MinidumpReader and supplier.SymbolSupplier the caller
hands it and reconstructs symbolized call stacks from breakpad-format
symbol files.`

// New returns crashwalk's root command.
func New() *cobra.Command {
	conf = config.LoadConfig()

	root := &cobra.Command{
		Use:   "crashwalk",
		Short: "A post-mortem crash-dump symbolication engine.",
		Long:  crashwalkLongDesc,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return logflags.Setup(log, logOutput, nil)
		},
	}
	root.PersistentFlags().BoolVarP(&log, "log", "", false, "Enable debug logging.")
	root.PersistentFlags().StringVarP(&logOutput, "log-output", "", "", "Comma separated list of components that should produce debug output (symfile, cfi, stackwalk, registry, process, all).")
	root.PersistentFlags().StringVar(&symbolsDir, "symbols", "", "Root of a breakpad-layout symbol store.")
	root.PersistentFlags().StringVar(&cacheDir, "symbol-cache", "", "Directory for cached serialized symbol images.")
	root.PersistentFlags().IntVar(&maxStackDepth, "max-stack-depth", 0, "Override the configured maximum stack depth (0 keeps the config/default value).")
	root.PersistentFlags().IntVar(&maxScanWords, "max-scan-words", 0, "Override the configured maximum stack-scan word count.")

	queryCmd := queryCommand()
	root.AddCommand(processCommand())
	root.AddCommand(queryCmd)
	root.AddCommand(versionCommand())
	hideIrrelevantFlags(queryCmd, "max-stack-depth", "max-scan-words")
	return root
}

// hideIrrelevantFlags hides inherited persistent flags that don't apply to
// cmd, the way the teacher's cmd/dlv/cmds/helphelpers.hideAllFlags walks a
// command's flag set with pflag.FlagSet.VisitAll rather than looking each
// name up individually: query never walks a stack, so the process-only
// depth/scan-word overrides would otherwise show up in its --help output.
func hideIrrelevantFlags(cmd *cobra.Command, names ...string) {
	hide := make(map[string]bool, len(names))
	for _, n := range names {
		hide[n] = true
	}
	cmd.InheritedFlags().VisitAll(func(flag *pflag.Flag) {
		if hide[flag.Name] {
			flag.Hidden = true
		}
	})
}

func versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print crashwalk's version.",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("crashwalk development build")
		},
	}
}

func processCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "process <dump.json>",
		Short: "Reconstruct and print the symbolized call stacks in a dump.",
		Long: `Reconstructs a ProcessState from a dump and prints a plain-text
rendition of its crash reason, modules, and per-thread call stacks.

The dump argument is a small JSON document (not a real minidump -- parsing
that container format is outside this engine's scope); see
cmd/crashwalk/cmds/dumpfile.go for its shape.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProcess(args[0])
		},
	}
	return cmd
}

func runProcess(path string) error {
	dump, err := loadJSONDump(path)
	if err != nil {
		return err
	}

	sup := fileSupplier{root: symbolsDir}
	p := process.New(sup)
	p.CacheDir = cacheDir
	p.ModuleCacheSize = config.IntOr(conf.ModuleCacheSize, 64)
	p.MaxStackDepth = config.IntOr(conf.MaxStackDepth, 1024)
	p.MaxScanWords = config.IntOr(conf.MaxScanWords, 1024)
	if maxStackDepth > 0 {
		p.MaxStackDepth = maxStackDepth
	}
	if maxScanWords > 0 {
		p.MaxScanWords = maxScanWords
	}

	var state process.ProcessState
	status, err := p.Process(context.Background(), path, dump, &state)
	if err != nil {
		return err
	}
	renderState(status, &state)
	return nil
}

func queryCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "query",
		Short: "Open an interactive (module, address) lookup REPL.",
		Long: `Opens a REPL for ad-hoc symbol lookups against the configured symbol
store, independent of any particular dump.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := registry.New(fileSupplier{root: symbolsDir}, config.IntOr(conf.ModuleCacheSize, 64), cacheDir)
			if err != nil {
				return err
			}
			repl := newQueryREPL(reg, supplier.SystemInfo{CPU: queryCPU})
			return repl.Run(os.Stdout)
		},
	}
	cmd.Flags().StringVar(&queryCPU, "cpu", "amd64", "Architecture to report to the symbol supplier during lookups.")
	return cmd
}
