package cmds

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/cosiner/argv"
	"github.com/derekparker/trie"
	"github.com/go-delve/liner"

	"github.com/gocrash/crashwalk/pkg/module"
	"github.com/gocrash/crashwalk/pkg/registry"
	"github.com/gocrash/crashwalk/pkg/supplier"
)

// queryfunc is one REPL verb's implementation, in the same shape the
// teacher's pkg/terminal command table uses: the raw (already
// argv-split) argument list in, a line of output or an error out.
type queryfunc func(args []string) (string, error)

type queryVerb struct {
	name string
	fn   queryfunc
	help string
}

// queryREPL is the ad-hoc (module, address) lookup shell `crashwalk query`
// opens: `load` resolves a module's symbols through a shared
// registry.Registry, `addr` looks the resolved function/line/inline chain
// up for a module-relative offset. It is demo tooling for the CLI, not
// part of the engine -- the engine never runs interactively.
type queryREPL struct {
	reg       *registry.Registry
	sysInfo   supplier.SystemInfo
	resolvers map[string]*module.Resolver
	verbs     []queryVerb
	completer *trie.Trie
}

func newQueryREPL(reg *registry.Registry, sysInfo supplier.SystemInfo) *queryREPL {
	r := &queryREPL{
		reg:       reg,
		sysInfo:   sysInfo,
		resolvers: make(map[string]*module.Resolver),
		completer: trie.New(),
	}
	r.verbs = []queryVerb{
		{"help", r.cmdHelp, "help                      list commands"},
		{"load", r.cmdLoad, "load <codefile> <debugid> resolve a module's symbols"},
		{"addr", r.cmdAddr, "addr <codefile> <hexaddr> look up a module-relative offset"},
		{"list", r.cmdList, "list                      list loaded modules"},
		{"quit", nil, "quit                      exit the REPL"},
	}
	for _, v := range r.verbs {
		r.completer.Add(v.name, v.name)
	}
	return r
}

func (r *queryREPL) find(name string) *queryVerb {
	for i := range r.verbs {
		if r.verbs[i].name == name {
			return &r.verbs[i]
		}
	}
	return nil
}

// Run drives the REPL against in/out, splitting each entered line with
// cosiner/argv (the same quoted-argument splitter the teacher's
// pkg/terminal/command.go uses for its `call` command) and completing
// verbs with a derekparker/trie over the verb set.
func (r *queryREPL) Run(out io.Writer) error {
	line := liner.NewLiner()
	defer line.Close()
	line.SetCompleter(func(partial string) []string {
		return r.completer.PrefixSearch(partial)
	})

	for {
		text, err := line.Prompt("crashwalk> ")
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		line.AppendHistory(text)

		fields, err := argv.Argv(text, nil, nil)
		if err != nil || len(fields) == 0 || len(fields[0]) == 0 {
			fmt.Fprintf(out, "parse error: %v\n", err)
			continue
		}
		args := fields[0]
		verb := r.find(args[0])
		if verb == nil {
			fmt.Fprintf(out, "unknown command %q, try \"help\"\n", args[0])
			continue
		}
		if verb.name == "quit" {
			return nil
		}
		result, err := verb.fn(args[1:])
		if err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
			continue
		}
		fmt.Fprintln(out, result)
	}
}

func (r *queryREPL) cmdHelp(args []string) (string, error) { return r.helpText(), nil }

func (r *queryREPL) helpText() string {
	var b strings.Builder
	for _, v := range r.verbs {
		b.WriteString(v.help)
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}

func (r *queryREPL) cmdLoad(args []string) (string, error) {
	if len(args) < 2 {
		return "", fmt.Errorf("usage: load <codefile> <debugid>")
	}
	m := supplier.ModuleIdentity{CodeFile: args[0], DebugFile: args[0], DebugID: args[1]}
	resolver, err := r.reg.Resolve(context.Background(), "query", m, r.sysInfo)
	if err != nil {
		return "", err
	}
	r.resolvers[args[0]] = resolver
	corrupt := ""
	if resolver.IsCorrupt {
		corrupt = " (corrupt)"
	}
	return fmt.Sprintf("loaded %s%s", args[0], corrupt), nil
}

func (r *queryREPL) cmdList(args []string) (string, error) {
	if len(r.resolvers) == 0 {
		return "(no modules loaded)", nil
	}
	var b strings.Builder
	for name := range r.resolvers {
		fmt.Fprintf(&b, "%s\n", name)
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func (r *queryREPL) cmdAddr(args []string) (string, error) {
	if len(args) < 2 {
		return "", fmt.Errorf("usage: addr <codefile> <hexaddr>")
	}
	resolver, ok := r.resolvers[args[0]]
	if !ok {
		return "", fmt.Errorf("module %q not loaded, run \"load\" first", args[0])
	}
	offset, err := strconv.ParseUint(strings.TrimPrefix(args[1], "0x"), 16, 64)
	if err != nil {
		return "", fmt.Errorf("invalid address %q: %w", args[1], err)
	}
	var frame module.StackFrame
	inlines := resolver.Symbolize(module.Addr(offset), &frame)
	if frame.FunctionName == "" {
		return "(no symbol found)", nil
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s", frame.FunctionName)
	if frame.SourceFileName != "" {
		fmt.Fprintf(&b, " (%s:%d)", frame.SourceFileName, frame.SourceLine)
	}
	for _, in := range inlines {
		fmt.Fprintf(&b, "\n  inlined into %s", in.FunctionName)
	}
	return b.String(), nil
}
