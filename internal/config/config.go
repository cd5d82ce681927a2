// Package config loads the YAML-based engine tunables: hart count, RAM
// size, reset vector, JIT hotness threshold, and code-heap size. Grounded
// on the teacher's SiteConfig (cmd/ccapp/site_config.go) and
// internal/bundle/bundle.go: a plain struct with yaml tags, loaded with
// gopkg.in/yaml.v3, defaulted rather than erroring when the file or a
// field is absent.
package config

import (
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"
)

// Filename is the conventional config file name a machine's working
// directory may carry.
const Filename = "rvengine.yml"

// Config mirrors vm.Config but in its wire (YAML) form; XLen and hart
// count are the two fields a deployment most commonly overrides.
type Config struct {
	HartCount        int    `yaml:"hart_count"`
	RAMSizeMB        int    `yaml:"ram_size_mb"`
	ResetVector      uint64 `yaml:"reset_vector"`
	XLen             int    `yaml:"xlen"`
	CodeHeapSizeMB   int    `yaml:"code_heap_size_mb"`
	HotnessThreshold int    `yaml:"hotness_threshold"`
	EnableJIT        bool   `yaml:"enable_jit"`
	ConsolePort      int    `yaml:"console_port"`
}

// Default returns the built-in configuration used when no file is present.
func Default() Config {
	return Config{
		HartCount:        1,
		RAMSizeMB:        128,
		ResetVector:      0x8000_0000,
		XLen:             64,
		CodeHeapSizeMB:   16,
		HotnessThreshold: 50,
		EnableJIT:        true,
	}
}

// Load reads path and merges it over Default(), returning the defaults
// unchanged if path does not exist. A malformed file is a hard error: an
// engine should never start from config it couldn't parse.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			slog.Debug("config: no file found, using defaults", "path", path)
			return cfg, nil
		}
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}

	var onDisk Config
	if err := yaml.Unmarshal(data, &onDisk); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}

	mergeNonZero(&cfg, onDisk)

	// A false bool cannot be told apart from an absent key in onDisk, so
	// enable_jit is read on its own to let a file turn the JIT off.
	var jitKey struct {
		EnableJIT *bool `yaml:"enable_jit"`
	}
	if err := yaml.Unmarshal(data, &jitKey); err == nil && jitKey.EnableJIT != nil {
		cfg.EnableJIT = *jitKey.EnableJIT
	}
	return cfg, cfg.Validate()
}

func mergeNonZero(dst *Config, src Config) {
	if src.HartCount != 0 {
		dst.HartCount = src.HartCount
	}
	if src.RAMSizeMB != 0 {
		dst.RAMSizeMB = src.RAMSizeMB
	}
	if src.ResetVector != 0 {
		dst.ResetVector = src.ResetVector
	}
	if src.XLen != 0 {
		dst.XLen = src.XLen
	}
	if src.CodeHeapSizeMB != 0 {
		dst.CodeHeapSizeMB = src.CodeHeapSizeMB
	}
	if src.HotnessThreshold != 0 {
		dst.HotnessThreshold = src.HotnessThreshold
	}
	dst.EnableJIT = src.EnableJIT || dst.EnableJIT
	if src.ConsolePort != 0 {
		dst.ConsolePort = src.ConsolePort
	}
}

// Validate rejects a configuration the engine cannot boot with.
func (c Config) Validate() error {
	if c.HartCount < 1 {
		return fmt.Errorf("config: hart_count must be at least 1")
	}
	if c.RAMSizeMB < 1 {
		return fmt.Errorf("config: ram_size_mb must be at least 1")
	}
	if c.XLen != 32 && c.XLen != 64 {
		return fmt.Errorf("config: xlen must be 32 or 64, got %d", c.XLen)
	}
	return nil
}
