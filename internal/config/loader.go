package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Loader provides configuration loading capabilities.
type Loader interface {
	// Load loads configuration from file and environment variables.
	// Priority: defaults → config file → environment variables (env wins)
	Load() (*Config, error)
}

type loader struct {
	rootDir string
	file    string
}

// NewLoader creates a loader that looks for strata.yaml or strata.yml in
// rootDir.
func NewLoader(rootDir string) Loader {
	return &loader{rootDir: rootDir}
}

// NewFileLoader creates a loader reading the given file. The file must
// exist.
func NewFileLoader(path string) Loader {
	return &loader{file: path}
}

// Load loads configuration with the following priority (highest to lowest):
// 1. Environment variables (STRATA_*)
// 2. Config file (strata.yaml or strata.yml)
// 3. Default values
//
// Backends can only be listed in the file; STRATA_DSN overrides the DSN of
// the default backend.
func (l *loader) Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	if l.file != "" {
		v.SetConfigFile(l.file)
	} else {
		v.SetConfigName("strata")
		v.AddConfigPath(l.rootDir)
	}

	v.SetEnvPrefix("STRATA")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	for _, key := range []string{"schema", "default", "identity.capacity", "log.level", "log.format", "dsn"} {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) || l.file != "" {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if dsn := v.GetString("dsn"); dsn != "" {
		for i := range cfg.Backends {
			if cfg.Backends[i].Name == cfg.Default {
				cfg.Backends[i].DSN = dsn
			}
		}
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// setDefaults configures viper with default values.
func setDefaults(v *viper.Viper) {
	defaults := Default()

	v.SetDefault("schema", defaults.Schema)
	v.SetDefault("default", defaults.Default)
	v.SetDefault("backends", []map[string]any{
		{"name": defaults.Backends[0].Name, "dialect": defaults.Backends[0].Dialect, "dsn": defaults.Backends[0].DSN},
	})
	v.SetDefault("identity.capacity", defaults.Identity.Capacity)
	v.SetDefault("log.level", defaults.Log.Level)
	v.SetDefault("log.format", defaults.Log.Format)
}

// LoadConfig loads configuration from the current working directory.
func LoadConfig() (*Config, error) {
	wd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to get working directory: %w", err)
	}
	return NewLoader(wd).Load()
}
