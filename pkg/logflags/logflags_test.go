package logflags

import (
	"testing"

	"github.com/sirupsen/logrus"
)

func resetFlags() {
	symFile, cfi, stackwalk, registry, process = false, false, false, false, false
}

func TestSetupAll(t *testing.T) {
	resetFlags()
	defer resetFlags()

	if err := Setup(true, "all", nil); err != nil {
		t.Fatal(err)
	}
	if !SymFile() || !CFI() || !Stackwalk() || !Registry() || !Process() {
		t.Errorf("Setup(true, \"all\") did not enable every subsystem")
	}
}

func TestSetupSubset(t *testing.T) {
	resetFlags()
	defer resetFlags()

	if err := Setup(true, "cfi,registry", nil); err != nil {
		t.Fatal(err)
	}
	if CFI() != true || Registry() != true {
		t.Errorf("expected cfi and registry enabled")
	}
	if SymFile() || Stackwalk() || Process() {
		t.Errorf("expected symfile, stackwalk, process to remain disabled")
	}
}

func TestSetupLogstrWithoutLogFlag(t *testing.T) {
	resetFlags()
	defer resetFlags()

	if err := Setup(false, "cfi", nil); err == nil {
		t.Errorf("expected error for logstr without log flag")
	}
}

func TestMakeLoggerLevel(t *testing.T) {
	enabled := makeLogger(true, logrus.Fields{"foo": "bar"})
	if enabled.Logger.Level != logrus.DebugLevel {
		t.Errorf("enabled logger level = %v, want DebugLevel", enabled.Logger.Level)
	}

	disabled := makeLogger(false, logrus.Fields{"foo": "bar"})
	if disabled.Logger.Level != logrus.PanicLevel {
		t.Errorf("disabled logger level = %v, want PanicLevel", disabled.Logger.Level)
	}
}
