// Package config loads and saves crashwalk's on-disk configuration: a
// yaml.v2-tagged struct read from a config directory under the user's home,
// seeded with a commented default file the first time none exists there.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v2"
)

const (
	configDirName  = ".crashwalk"
	configFileName = "config.yml"
)

// Config defines all configuration options the processor driver and the
// crashwalk CLI read at startup, per SPEC_FULL.md 5's ambient-stack
// configuration section.
type Config struct {
	// MaxStackDepth bounds how many frames Walker.Walk will unwind for any
	// one thread, per spec.md 4.7's frame-count termination condition.
	MaxStackDepth *int `yaml:"max-stack-depth,omitempty"`

	// MaxScanWords bounds how many pointer-aligned words a stack scan will
	// examine before giving up, per spec.md 4.7.
	MaxScanWords *int `yaml:"max-scan-words,omitempty"`

	// ModuleCacheSize bounds how many modules' resolved symbols
	// pkg/registry keeps in memory at once, per spec.md 5.
	ModuleCacheSize *int `yaml:"module-cache-size,omitempty"`

	// DebugInfoDirectories is a list of directories holding serialized
	// symbol images. It is loaded and saved with the rest of the file; no
	// crashwalk command or engine package reads it, so these directories
	// are never searched.
	DebugInfoDirectories []string `yaml:"debug-info-directories"`

	// ScanEnabled is a switch for the stack-scan fallback techniques
	// (ScanPrologue, Scan). It is loaded and saved with the rest of the
	// file; no crashwalk command or engine package reads it, so the
	// walker's scan fallbacks stay enabled whatever it is set to.
	ScanEnabled *bool `yaml:"scan-enabled,omitempty"`
}

const defaultConfigYAML = `# Configuration file for crashwalk.

# This is the default configuration file. Available options are provided,
# but disabled. Delete the leading hash mark to enable an item.

# Maximum number of frames the stack walker will unwind for one thread.
# max-stack-depth: 1024

# Maximum number of pointer-aligned words a stack scan will examine.
# max-scan-words: 1024

# Maximum number of modules' resolved symbols kept in memory at once.
# module-cache-size: 64

# List of directories holding cached symbol images (not read by crashwalk
# at present).
debug-info-directories: []

# Stack-scan fallback switch (not read by crashwalk at present).
# scan-enabled: false
`

// LoadConfig reads Config from config.yml in the crashwalk config
// directory, writing out defaultConfigYAML there first if nothing exists
// yet. Any failure along the way is logged and answered with a zero-value
// Config rather than propagated, since every field is read through IntOr/
// BoolOr and a caller with no config file should behave exactly like one
// whose config file sets nothing.
func LoadConfig() *Config {
	path, err := configFilePath()
	if err != nil {
		fmt.Printf("crashwalk: resolving config path: %v\n", err)
		return &Config{}
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		data, err = seedDefaultConfig(path)
	}
	if err != nil {
		fmt.Printf("crashwalk: loading config: %v\n", err)
		return &Config{}
	}

	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		fmt.Printf("crashwalk: parsing %s: %v\n", path, err)
		return &Config{}
	}
	return &c
}

// SaveConfig marshals conf back to config.yml.
func SaveConfig(conf *Config) error {
	path, err := configFilePath()
	if err != nil {
		return err
	}
	out, err := yaml.Marshal(*conf)
	if err != nil {
		return fmt.Errorf("crashwalk: marshaling config: %w", err)
	}
	return os.WriteFile(path, out, 0o644)
}

// seedDefaultConfig creates the config directory and writes
// defaultConfigYAML to path, returning its contents so LoadConfig can parse
// the same bytes it just wrote without a second read.
func seedDefaultConfig(path string) ([]byte, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}
	data := []byte(defaultConfigYAML)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return nil, fmt.Errorf("writing default config: %w", err)
	}
	return data, nil
}

// configFilePath returns the full path to config.yml under the user's
// config directory, falling back to the working directory if the home
// directory can't be determined.
func configFilePath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, configDirName, configFileName), nil
}

// IntOr returns *v if v is non-nil, def otherwise. Every Processor field
// sourced from a Config pointer goes through this rather than repeating
// the nil check at each call site.
func IntOr(v *int, def int) int {
	if v == nil {
		return def
	}
	return *v
}

// BoolOr mirrors IntOr for ScanEnabled.
func BoolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}
