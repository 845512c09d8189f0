package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/psilLang/sil/pkg/cycle"
	"github.com/psilLang/sil/pkg/micro"
)

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, FileName)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, t.TempDir(), `
[machine]
mode = "M32"
gas = 500

[cycle]
max_cycles = 42
detect_stable = false
keep_history = true
history_limit = 8
feedback_factor = 0.25
workers = 2

[log]
level = "debug"

[trace]
path = "runs.db"
`)

	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if m, _ := c.Mode(); m != micro.Mode32 {
		t.Errorf("mode = %s, want SIL-32", m)
	}
	if c.Machine.Gas != 500 {
		t.Errorf("gas = %d, want 500", c.Machine.Gas)
	}
	want := cycle.Config{MaxCycles: 42, KeepHistory: true, HistoryLimit: 8, FeedbackFactor: 0.25}
	if got := c.CycleConfig(); got != want {
		t.Errorf("cycle config = %+v, want %+v", got, want)
	}
	if c.Cycle.Workers != 2 {
		t.Errorf("workers = %d, want 2", c.Cycle.Workers)
	}
	if l, _ := c.LogLevel(); l != slog.LevelDebug {
		t.Errorf("log level = %s, want DEBUG", l)
	}
	if c.Trace.Path != "runs.db" {
		t.Errorf("trace path = %q, want runs.db", c.Trace.Path)
	}
	if c.Path != path {
		t.Errorf("path = %q, want %q", c.Path, path)
	}
}

func TestLoadPartialKeepsDefaults(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "[machine]\nmode = \"M8\"\n")
	c, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if c.Cycle.MaxCycles != 1000 || !c.Cycle.DetectStable || c.Cycle.FeedbackFactor != 0.5 {
		t.Errorf("cycle defaults lost: %+v", c.Cycle)
	}
	if c.Machine.Gas != Default().Machine.Gas {
		t.Errorf("gas = %d, want default", c.Machine.Gas)
	}
}

func TestLoadMissingFile(t *testing.T) {
	c, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	if err != nil {
		t.Fatal(err)
	}
	if c.Path != "" || c.CycleConfig() != cycle.DefaultConfig() {
		t.Errorf("expected defaults, got %+v", c)
	}
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"syntax", "[machine\nmode = 1"},
		{"mode", "[machine]\nmode = \"M12\""},
		{"level", "[log]\nlevel = \"chatty\""},
		{"feedback", "[cycle]\nfeedback_factor = 1.5"},
		{"gas", "[machine]\ngas = -1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, t.TempDir(), tt.content)
			if _, err := Load(path); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestFindAndLoad(t *testing.T) {
	root := t.TempDir()
	writeConfig(t, root, "[machine]\ngas = 7\n")
	nested := filepath.Join(root, "a", "b")
	if err := os.MkdirAll(nested, 0755); err != nil {
		t.Fatal(err)
	}

	c, err := FindAndLoad(nested)
	if err != nil {
		t.Fatal(err)
	}
	if c.Machine.Gas != 7 {
		t.Errorf("gas = %d, want 7 from parent config", c.Machine.Gas)
	}
}
