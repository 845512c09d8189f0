// Package config handles vsp.toml runtime configuration.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/psilLang/sil/pkg/cycle"
	"github.com/psilLang/sil/pkg/micro"
)

// FileName is the configuration file looked up by FindAndLoad.
const FileName = "vsp.toml"

// Config represents a vsp.toml file.
type Config struct {
	Machine Machine `toml:"machine"`
	Cycle   Cycle   `toml:"cycle"`
	Log     Log     `toml:"log"`
	Trace   Trace   `toml:"trace"`

	// Path is the file the config was read from, empty for defaults.
	Path string `toml:"-"`
}

// Machine configures the VM.
type Machine struct {
	Mode string `toml:"mode"` // M8..M128
	Gas  int    `toml:"gas"`  // 0 is unlimited
}

// Cycle configures the cycle engine.
type Cycle struct {
	MaxCycles      int     `toml:"max_cycles"`
	DetectStable   bool    `toml:"detect_stable"`
	KeepHistory    bool    `toml:"keep_history"`
	HistoryLimit   int     `toml:"history_limit"`
	FeedbackFactor float64 `toml:"feedback_factor"`
	Workers        int     `toml:"workers"`
}

// Log configures the log handler.
type Log struct {
	Level string `toml:"level"` // debug, info, warn, error
}

// Trace configures the execution trace store.
type Trace struct {
	Path string `toml:"path"` // sqlite file; empty disables tracing
}

// Default returns the built-in configuration.
func Default() *Config {
	cc := cycle.DefaultConfig()
	return &Config{
		Machine: Machine{Mode: "M128", Gas: 1_000_000},
		Cycle: Cycle{
			MaxCycles:      cc.MaxCycles,
			DetectStable:   cc.DetectStable,
			KeepHistory:    cc.KeepHistory,
			HistoryLimit:   cc.HistoryLimit,
			FeedbackFactor: cc.FeedbackFactor,
			Workers:        4,
		},
		Log: Log{Level: "info"},
	}
}

// Load reads path over the defaults. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	c := Default()
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return c, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	if _, err := toml.Decode(string(data), c); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}
	c.Path = path
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

// FindAndLoad walks up from startDir to find vsp.toml. Without one it
// returns the defaults.
func FindAndLoad(startDir string) (*Config, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return Default(), nil
		}
		dir = parent
	}
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	if _, err := c.Mode(); err != nil {
		return err
	}
	if _, err := c.LogLevel(); err != nil {
		return err
	}
	if c.Machine.Gas < 0 {
		return fmt.Errorf("machine.gas must not be negative, got %d", c.Machine.Gas)
	}
	if c.Cycle.MaxCycles < 0 || c.Cycle.HistoryLimit < 0 {
		return fmt.Errorf("cycle limits must not be negative")
	}
	if f := c.Cycle.FeedbackFactor; f < 0 || f > 1 {
		return fmt.Errorf("cycle.feedback_factor must be in [0,1], got %v", f)
	}
	return nil
}

// Mode parses machine.mode.
func (c *Config) Mode() (micro.Mode, error) {
	return micro.ParseMode(c.Machine.Mode)
}

// CycleConfig converts the [cycle] table.
func (c *Config) CycleConfig() cycle.Config {
	return cycle.Config{
		MaxCycles:      c.Cycle.MaxCycles,
		DetectStable:   c.Cycle.DetectStable,
		KeepHistory:    c.Cycle.KeepHistory,
		HistoryLimit:   c.Cycle.HistoryLimit,
		FeedbackFactor: c.Cycle.FeedbackFactor,
	}
}

// LogLevel parses log.level.
func (c *Config) LogLevel() (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.ToUpper(c.Log.Level))); err != nil {
		return 0, fmt.Errorf("log.level: %w", err)
	}
	return l, nil
}
