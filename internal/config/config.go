// Package config loads interpreter settings from an optional kuroko.toml.
package config

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config is the interpreter configuration surface. Flags override these, and
// KUROKO_PATH extends ModulePaths at runtime.
type Config struct {
	ModulePaths  []string `toml:"module-paths"`
	MaxCallDepth int      `toml:"max-call-depth"`
	StressGC     bool     `toml:"stress-gc"`
	ReportGC     bool     `toml:"report-gc"`
	NoColor      bool     `toml:"no-color"`
}

// Default returns the configuration used when no kuroko.toml is present.
func Default() *Config {
	return &Config{MaxCallDepth: 64}
}

// FindAndLoad walks up from dir looking for a kuroko.toml. Returns the
// default configuration when none is found.
func FindAndLoad(dir string) (*Config, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return Default(), err
	}
	for {
		candidate := filepath.Join(abs, "kuroko.toml")
		if info, statErr := os.Stat(candidate); statErr == nil && !info.IsDir() {
			return Load(candidate)
		}
		parent := filepath.Dir(abs)
		if parent == abs {
			return Default(), nil
		}
		abs = parent
	}
}

// Load reads one configuration file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return Default(), err
	}
	if cfg.MaxCallDepth <= 0 {
		cfg.MaxCallDepth = 64
	}
	return cfg, nil
}
