package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
	if cfg.Output.FlushInterval.Std() != 50*time.Millisecond {
		t.Errorf("expected 50ms flush interval, got %s", cfg.Output.FlushInterval.Std())
	}
	if cfg.Elision.Capacity != 1024 {
		t.Errorf("expected elision capacity 1024, got %d", cfg.Elision.Capacity)
	}
}

func TestLoad(t *testing.T) {
	t.Run("explicit file overrides defaults", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "config.yaml")
		content := `
server:
  addr: "127.0.0.1:9999"
output:
  flushInterval: 10ms
print:
  length: 5
`
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}

		cfg, err := NewLoader("").Load(path)
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}

		if cfg.Server.Addr != "127.0.0.1:9999" {
			t.Errorf("expected overridden addr, got %q", cfg.Server.Addr)
		}
		if cfg.Output.FlushInterval.Std() != 10*time.Millisecond {
			t.Errorf("expected 10ms, got %s", cfg.Output.FlushInterval.Std())
		}
		if cfg.Print.Length != 5 {
			t.Errorf("expected print length 5, got %d", cfg.Print.Length)
		}
		// Untouched keys keep defaults
		if cfg.Print.Depth != 8 {
			t.Errorf("expected default depth 8, got %d", cfg.Print.Depth)
		}
	})

	t.Run("global file merges under explicit file", func(t *testing.T) {
		home := t.TempDir()
		if err := os.MkdirAll(filepath.Join(home, ".remux"), 0o755); err != nil {
			t.Fatal(err)
		}
		global := `
elision:
  capacity: 64
session:
  retained: 2
`
		if err := os.WriteFile(filepath.Join(home, ".remux", "config.yaml"), []byte(global), 0o644); err != nil {
			t.Fatal(err)
		}

		project := filepath.Join(t.TempDir(), "remux.yaml")
		if err := os.WriteFile(project, []byte("elision:\n  capacity: 128\n"), 0o644); err != nil {
			t.Fatal(err)
		}

		cfg, err := NewLoader(home).Load(project)
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if cfg.Elision.Capacity != 128 {
			t.Errorf("explicit file should win, got capacity %d", cfg.Elision.Capacity)
		}
		if cfg.Session.Retained != 2 {
			t.Errorf("global value should survive, got retained %d", cfg.Session.Retained)
		}
	})

	t.Run("missing global file is not an error", func(t *testing.T) {
		cfg, err := NewLoader(t.TempDir()).Load("")
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if cfg.Server.Addr == "" {
			t.Error("expected default addr")
		}
	})

	t.Run("missing explicit file is an error", func(t *testing.T) {
		if _, err := NewLoader("").Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
			t.Fatal("expected error for missing explicit file")
		}
	})

	t.Run("bad duration is an error", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		if err := os.WriteFile(path, []byte("output:\n  flushInterval: soon\n"), 0o644); err != nil {
			t.Fatal(err)
		}
		if _, err := NewLoader("").Load(path); err == nil {
			t.Fatal("expected error for invalid duration")
		}
	})
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty addr", func(c *Config) { c.Server.Addr = "" }},
		{"zero flush interval", func(c *Config) { c.Output.FlushInterval = 0 }},
		{"zero capacity", func(c *Config) { c.Elision.Capacity = 0 }},
		{"zero print length", func(c *Config) { c.Print.Length = 0 }},
		{"zero print depth", func(c *Config) { c.Print.Depth = 0 }},
		{"zero print text", func(c *Config) { c.Print.Text = 0 }},
		{"negative retained", func(c *Config) { c.Session.Retained = -1 }},
		{"unknown log format", func(c *Config) { c.Log.Format = "xml" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}
