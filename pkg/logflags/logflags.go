// Package logflags controls and provides logging for the parts of
// crashwalk that must keep running past a recoverable error: a malformed
// symbol record, a CFI rule that fails to evaluate, a recovery technique
// that falls through to the next one. Each subsystem has its own flag and
// logger; a logger is either fully live or silenced to PanicLevel, never in
// between.
package logflags

import (
	"errors"
	"io"
	"log"
	"strings"

	"github.com/sirupsen/logrus"
)

var symFile = false
var cfi = false
var stackwalk = false
var registry = false
var process = false

func makeLogger(flag bool, fields logrus.Fields) *logrus.Entry {
	logger := logrus.New().WithFields(fields)
	logger.Logger.Level = logrus.DebugLevel
	if !flag {
		logger.Logger.Level = logrus.PanicLevel
	}
	return logger
}

// SymFile returns true if pkg/symfile should log parse warnings.
func SymFile() bool {
	return symFile
}

// SymFileLogger returns a logger for symbol-file parsing warnings.
func SymFileLogger() *logrus.Entry {
	return makeLogger(symFile, logrus.Fields{"layer": "symfile"})
}

// CFI returns true if pkg/cfi should log rule-evaluation warnings.
func CFI() bool {
	return cfi
}

// CFILogger returns a logger for CFI rule evaluation.
func CFILogger() *logrus.Entry {
	return makeLogger(cfi, logrus.Fields{"layer": "cfi"})
}

// Stackwalk returns true if pkg/stackwalk should log recovery-technique
// fallbacks.
func Stackwalk() bool {
	return stackwalk
}

// StackwalkLogger returns a logger for the stack walker.
func StackwalkLogger() *logrus.Entry {
	return makeLogger(stackwalk, logrus.Fields{"layer": "stackwalk"})
}

// Registry returns true if pkg/registry should log module load/evict
// activity.
func Registry() bool {
	return registry
}

// RegistryLogger returns a logger for the resolver registry.
func RegistryLogger() *logrus.Entry {
	return makeLogger(registry, logrus.Fields{"layer": "registry"})
}

// Process returns true if pkg/process should log driver-level status.
func Process() bool {
	return process
}

// ProcessLogger returns a logger for the processor driver.
func ProcessLogger() *logrus.Entry {
	return makeLogger(process, logrus.Fields{"layer": "process"})
}

var errLogstrWithoutLog = errors.New("--log-output specified without --log")

// Setup sets subsystem flags based on the contents of logstr, a
// comma-separated list of subsystem names ("symfile", "cfi", "stackwalk",
// "registry", "process", or "all").
func Setup(logFlag bool, logstr string, out io.Writer) error {
	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
	if !logFlag {
		log.SetOutput(io.Discard)
		if logstr != "" {
			return errLogstrWithoutLog
		}
		return nil
	}
	if out != nil {
		log.SetOutput(out)
	}
	if logstr == "" {
		logstr = "process"
	}
	for _, name := range strings.Split(logstr, ",") {
		switch name {
		case "symfile":
			symFile = true
		case "cfi":
			cfi = true
		case "stackwalk":
			stackwalk = true
		case "registry":
			registry = true
		case "process":
			process = true
		case "all":
			symFile, cfi, stackwalk, registry, process = true, true, true, true, true
		}
	}
	return nil
}
