// Package config loads the optional project file unitforge.yaml.
//
// Every field has a default, so a project without the file builds the same
// as one with an empty file. Command-line flags override whatever is loaded
// here.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/hashicorp/go-hclog"
	"gopkg.in/yaml.v3"

	"unitforge/internal/build"
	"unitforge/internal/shell"
)

// FileName is looked up in the work dir when no explicit path is given.
const FileName = "unitforge.yaml"

// DefaultCacheDir is relative to the work dir.
const DefaultCacheDir = ".unitforge/fingerprints"

// Config models unitforge.yaml.
type Config struct {
	Jobs      int    `yaml:"jobs"`
	Verbose   bool   `yaml:"verbose"`
	Quiet     bool   `yaml:"quiet"`
	Release   bool   `yaml:"release"`
	OptLevel  *int   `yaml:"opt_level"`
	DebugInfo *bool  `yaml:"debuginfo"`
	CacheDir  string `yaml:"cache_dir"`
	LogLevel  string `yaml:"log_level"`
	Color     string `yaml:"color"`
}

// Default returns the configuration used when no file exists.
func Default() Config {
	return Config{
		Jobs:     runtime.NumCPU(),
		CacheDir: DefaultCacheDir,
		LogLevel: "off",
		Color:    "auto",
	}
}

// Load reads path. A missing file yields Default(); unknown keys are an
// error so typos do not silently change a build.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}

	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

// LoadDir loads FileName from dir.
func LoadDir(dir string) (Config, error) {
	return Load(filepath.Join(dir, FileName))
}

func (c *Config) normalize() {
	c.CacheDir = strings.TrimSpace(c.CacheDir)
	if c.CacheDir == "" {
		c.CacheDir = DefaultCacheDir
	}
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	if c.LogLevel == "" {
		c.LogLevel = "off"
	}
	c.Color = strings.ToLower(strings.TrimSpace(c.Color))
	if c.Color == "" {
		c.Color = "auto"
	}
	if c.Jobs == 0 {
		c.Jobs = runtime.NumCPU()
	}
}

// Validate reports the first invalid field.
func (c Config) Validate() error {
	if c.Jobs < 1 {
		return fmt.Errorf("jobs must be >= 1 (got %d)", c.Jobs)
	}
	if c.Verbose && c.Quiet {
		return fmt.Errorf("verbose and quiet are mutually exclusive")
	}
	if c.OptLevel != nil && (*c.OptLevel < 0 || *c.OptLevel > 3) {
		return fmt.Errorf("opt_level must be between 0 and 3 (got %d)", *c.OptLevel)
	}
	if _, err := shell.ParseColor(c.Color); err != nil {
		return err
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// Profile is what the final summary line describes. Release builds are
// optimized without debuginfo unless the file says otherwise; dev builds
// are the reverse.
func (c Config) Profile() build.Profile {
	opt := 0
	if c.Release {
		opt = 3
	}
	if c.OptLevel != nil {
		opt = *c.OptLevel
	}
	debug := !c.Release
	if c.DebugInfo != nil {
		debug = *c.DebugInfo
	}
	return build.Profile{Release: c.Release, Optimized: opt > 0, DebugInfo: debug}
}

// ProfileName is "release" or "dev"; it becomes part of every unit key.
func (c Config) ProfileName() string {
	if c.Release {
		return "release"
	}
	return "dev"
}

// Verbosity maps the verbose/quiet pair to the executor's setting.
func (c Config) Verbosity() build.Verbosity {
	switch {
	case c.Quiet:
		return build.Quiet
	case c.Verbose:
		return build.Verbose
	default:
		return build.Normal
	}
}

// ParseLogLevel accepts trace, debug, info, warn, error and off.
func ParseLogLevel(s string) (hclog.Level, error) {
	n := strings.ToLower(strings.TrimSpace(s))
	if n == "" || n == "off" {
		return hclog.Off, nil
	}
	lvl := hclog.LevelFromString(n)
	if lvl == hclog.NoLevel {
		return hclog.NoLevel, fmt.Errorf("invalid log level %q (expected trace|debug|info|warn|error|off)", s)
	}
	return lvl, nil
}
