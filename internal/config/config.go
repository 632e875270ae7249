// Package config loads and validates the optional .c0check YAML file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"
)

// Default resource ceilings. Run-phase values are per the fastest backend;
// the VM and interpreter backends scale the run timeout up.
const (
	DefaultTestTime    = 10 * time.Second
	DefaultCompileTime = 20 * time.Second
	DefaultMaxOutput   = 1 << 20 // 1 MB per captured stream pair
)

// Default memory ceilings. The compiler never needs much, but a limit is
// set anyway; test programs under the non-collecting backends can eat a lot.
const (
	DefaultTestMemory    = 2 << 30 // 2 GB
	DefaultCompileMemory = 4 << 30 // 4 GB
)

// Config holds the parsed .c0check configuration.
// All fields are optional; zero values represent defaults.
type Config struct {
	Version int `yaml:"version"`

	// C0Home is the toolchain install prefix, holding bin/cc0,
	// bin/coin-exec, and vm/c0vm. Falls back to $C0_HOME.
	C0Home string `yaml:"c0_home"`

	RawTestTime    string `yaml:"test_time"`    // e.g. "10s"
	RawCompileTime string `yaml:"compile_time"` // e.g. "20s"

	RawTestMemory    string `yaml:"test_memory"`    // e.g. "2 GB"
	RawCompileMemory string `yaml:"compile_memory"` // e.g. "4 GB"

	RawWorkers   int `yaml:"workers"`    // worker count, default host parallelism
	RawMaxOutput int `yaml:"max_output"` // captured bytes per test phase

	Seccomp SeccompConfig `yaml:"seccomp"`
}

// SeccompConfig optionally confines test children with a syscall
// deny list. Disabled unless names are listed.
type SeccompConfig struct {
	DenySyscalls []string `yaml:"deny_syscalls"`
}

// Home returns the configured toolchain prefix, preferring the config
// file over $C0_HOME.
func (c *Config) Home() string {
	if c.C0Home != "" {
		return c.C0Home
	}
	return os.Getenv("C0_HOME")
}

// TestTime returns the run-phase CPU-time ceiling or the default.
func (c *Config) TestTime() time.Duration {
	return durationOr(c.RawTestTime, DefaultTestTime)
}

// CompileTime returns the compile-phase CPU-time ceiling or the default.
func (c *Config) CompileTime() time.Duration {
	return durationOr(c.RawCompileTime, DefaultCompileTime)
}

// TestMemory returns the run-phase address-space ceiling in bytes.
func (c *Config) TestMemory() uint64 {
	return sizeOr(c.RawTestMemory, DefaultTestMemory)
}

// CompileMemory returns the compile-phase address-space ceiling in bytes.
func (c *Config) CompileMemory() uint64 {
	return sizeOr(c.RawCompileMemory, DefaultCompileMemory)
}

// Workers returns the configured worker count or the host parallelism.
func (c *Config) Workers() int {
	if c.RawWorkers > 0 {
		return c.RawWorkers
	}
	return runtime.NumCPU()
}

// MaxOutputBytes returns the configured output cap or the default.
func (c *Config) MaxOutputBytes() int {
	if c.RawMaxOutput > 0 {
		return c.RawMaxOutput
	}
	return DefaultMaxOutput
}

func durationOr(raw string, def time.Duration) time.Duration {
	if raw != "" {
		if d, err := time.ParseDuration(raw); err == nil && d > 0 {
			return d
		}
	}
	return def
}

func sizeOr(raw string, def uint64) uint64 {
	if raw != "" {
		if n, err := humanize.ParseBytes(raw); err == nil && n > 0 {
			return n
		}
	}
	return def
}

// Load reads the .c0check file from dir, then from the current directory.
// If neither exists, a default Config is returned.
func Load(dir string) (*Config, error) {
	for _, candidate := range candidates(dir) {
		data, err := os.ReadFile(candidate)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("reading %s: %w", candidate, err)
		}

		cfg := &Config{}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", candidate, err)
		}
		return cfg, nil
	}
	return &Config{}, nil
}

func candidates(dir string) []string {
	paths := []string{}
	if dir != "" {
		paths = append(paths, filepath.Join(dir, ".c0check"))
	}
	if cwd, err := os.Getwd(); err == nil && cwd != dir {
		paths = append(paths, filepath.Join(cwd, ".c0check"))
	}
	return paths
}
