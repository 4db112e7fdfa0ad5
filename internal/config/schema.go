// Package config handles YAML configuration loading, environment variable
// expansion, and structural validation for linebridge.
package config

import (
	"slices"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration structure.
type Config struct {
	// Version is the config format version. Currently only "1" is supported.
	Version string `yaml:"version"`

	// Log holds process-wide logging settings.
	Log LogConfig `yaml:"log,omitempty"`

	// Modules maps module IDs to their raw YAML configuration.
	// Keys must match registered module IDs (e.g. "responder.ollama").
	Modules map[string]yaml.Node `yaml:"modules"`
}

// ModuleIDs returns the configured module IDs in sorted order. The
// deterministic order keeps loading reproducible; modules bind to each other
// lazily through the service registry, so load order carries no dependency
// meaning.
func (c *Config) ModuleIDs() []string {
	ids := make([]string, 0, len(c.Modules))
	for id := range c.Modules {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// LogConfig controls the process logger.
type LogConfig struct {
	// Level is the minimum level: "debug", "info", "warn", or "error".
	// Defaults to "info".
	Level string `yaml:"level,omitempty"`
}
