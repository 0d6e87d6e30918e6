// Package config loads the urkel CLI's optional YAML configuration file.
// Flags always take precedence: File only fills in defaults for flags the
// caller left at their default value.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// File is the on-disk shape of urkel.yaml.
type File struct {
	// DB is the default store directory, overridden by -db.
	DB string `yaml:"db"`
	// Listen is the default HTTP listen address for "urkel serve",
	// overridden by -listen.
	Listen string `yaml:"listen"`
	// LogLevel is one of "debug", "info", "warn", "error".
	LogLevel string `yaml:"log_level"`
	// ConsoleLimit caps concurrent /logz SSE clients.
	ConsoleLimit int `yaml:"console_limit"`
}

// Load reads and parses path. A missing file is not an error: it returns a
// zero-value File, so every setting falls back to its flag default.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &File{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("urkel: reading config %s: %w", path, err)
	}
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("urkel: parsing config %s: %w", path, err)
	}
	return &f, nil
}

// StringOr returns flagValue if it differs from flagDefault (meaning the
// caller set it explicitly), else fileValue if set, else flagDefault.
func StringOr(flagValue, flagDefault, fileValue string) string {
	if flagValue != flagDefault {
		return flagValue
	}
	if fileValue != "" {
		return fileValue
	}
	return flagDefault
}

// IntOr is StringOr for integer settings.
func IntOr(flagValue, flagDefault, fileValue int) int {
	if flagValue != flagDefault {
		return flagValue
	}
	if fileValue != 0 {
		return fileValue
	}
	return flagDefault
}
