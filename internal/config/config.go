// Package config provides server configuration loading for remux.
package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full remux server configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Output  OutputConfig  `yaml:"output"`
	Elision ElisionConfig `yaml:"elision"`
	Print   PrintConfig   `yaml:"print"`
	Session SessionConfig `yaml:"session"`
	Log     LogConfig     `yaml:"log"`
}

// ServerConfig configures the listener.
type ServerConfig struct {
	// Addr is the listen address, either "host:port" or "unix:/path/to.sock".
	Addr string `yaml:"addr"`

	// LockFile guards against two servers sharing one address. Empty means
	// a default under the temp dir derived from Addr.
	LockFile string `yaml:"lockFile,omitempty"`
}

// OutputConfig configures the coalescing output layer.
type OutputConfig struct {
	// FlushInterval bounds output latency: buffered out/err text becomes a
	// wire message at most this long after it was written.
	FlushInterval Duration `yaml:"flushInterval"`
}

// ElisionConfig configures the elision store.
type ElisionConfig struct {
	// Capacity is the maximum number of retained elided values. The oldest
	// entries are reclaimed when the store grows past it.
	Capacity int `yaml:"capacity"`
}

// PrintConfig holds the default per-session print limits.
type PrintConfig struct {
	// Length is the maximum number of sequence elements rendered before
	// the tail is elided.
	Length int `yaml:"length"`
	// Depth is the maximum nesting depth rendered before a subtree is elided.
	Depth int `yaml:"depth"`
	// Text is the maximum string length rendered before the rest is elided.
	Text int `yaml:"text"`
}

// SessionConfig configures session retention.
type SessionConfig struct {
	// Retained is how many closed sessions are kept around for output
	// reattachment before the oldest are disposed.
	Retained int `yaml:"retained"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Duration wraps time.Duration so YAML accepts "50ms" style values.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr: "127.0.0.1:7575",
		},
		Output: OutputConfig{
			FlushInterval: Duration(50 * time.Millisecond),
		},
		Elision: ElisionConfig{
			Capacity: 1024,
		},
		Print: PrintConfig{
			Length: 32,
			Depth:  8,
			Text:   140,
		},
		Session: SessionConfig{
			Retained: 16,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Validate validates the loaded configuration.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server: addr is required")
	}
	if c.Output.FlushInterval.Std() <= 0 {
		return fmt.Errorf("output: flushInterval must be positive, got %s", c.Output.FlushInterval.Std())
	}
	if c.Elision.Capacity <= 0 {
		return fmt.Errorf("elision: capacity must be positive, got %d", c.Elision.Capacity)
	}
	if c.Print.Length <= 0 {
		return fmt.Errorf("print: length must be positive, got %d", c.Print.Length)
	}
	if c.Print.Depth <= 0 {
		return fmt.Errorf("print: depth must be positive, got %d", c.Print.Depth)
	}
	if c.Print.Text <= 0 {
		return fmt.Errorf("print: text must be positive, got %d", c.Print.Text)
	}
	if c.Session.Retained < 0 {
		return fmt.Errorf("session: retained must not be negative, got %d", c.Session.Retained)
	}
	switch c.Log.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("log: unknown format %q", c.Log.Format)
	}
	return nil
}
