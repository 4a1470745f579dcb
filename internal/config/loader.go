package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Loader resolves configuration from defaults, the global config file, and
// an optional explicit file, in that order of precedence.
type Loader struct {
	homeDir string
}

// NewLoader creates a configuration loader. homeDir may be empty to skip
// the global file.
func NewLoader(homeDir string) *Loader {
	return &Loader{homeDir: homeDir}
}

// Load builds the effective configuration. Later layers override earlier
// ones; keys absent from a file keep the value from the layer below.
func (l *Loader) Load(path string) (*Config, error) {
	cfg := Default()

	if l.homeDir != "" {
		globalPath := filepath.Join(l.homeDir, ".remux", "config.yaml")
		if err := loadFile(globalPath, cfg); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to load global config: %w", err)
		}
	}

	if path != "" {
		if err := loadFile(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return nil
}
