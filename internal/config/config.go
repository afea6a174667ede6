// Package config loads the strata.yaml configuration used by the strata
// command: the backends to open, the identity map capacity and logging.
package config

import (
	"time"
)

// Config is the root configuration.
type Config struct {
	// Schema is the path of the YAML model file.
	Schema   string          `yaml:"schema" mapstructure:"schema"`
	Default  string          `yaml:"default" mapstructure:"default"`
	Backends []BackendConfig `yaml:"backends" mapstructure:"backends"`
	Identity IdentityConfig  `yaml:"identity" mapstructure:"identity"`
	Log      LogConfig       `yaml:"log" mapstructure:"log"`
}

// BackendConfig describes one database.
type BackendConfig struct {
	Name    string `yaml:"name" mapstructure:"name"`
	Dialect string `yaml:"dialect" mapstructure:"dialect"`
	DSN     string `yaml:"dsn" mapstructure:"dsn"`
	// Stats wraps the backend in a statistics backend.
	Stats bool `yaml:"stats" mapstructure:"stats"`
	// SlowQuery is the slow statement threshold of the statistics backend.
	SlowQuery time.Duration `yaml:"slow_query" mapstructure:"slow_query"`
}

// IdentityConfig sizes the identity map.
type IdentityConfig struct {
	Capacity int `yaml:"capacity" mapstructure:"capacity"`
}

// LogConfig configures the slog handler.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`   // debug, info, warn, error
	Format string `yaml:"format" mapstructure:"format"` // text or json
}

// Default returns the configuration used when no file is found: one
// in-memory SQLite database.
func Default() *Config {
	return &Config{
		Schema:  "schema.yaml",
		Default: "main",
		Backends: []BackendConfig{
			{Name: "main", Dialect: "sqlite", DSN: ":memory:"},
		},
		Identity: IdentityConfig{Capacity: 10000},
		Log:      LogConfig{Level: "info", Format: "text"},
	}
}
