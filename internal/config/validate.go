package config

import (
	"errors"
	"fmt"
	"slices"
)

var (
	// ErrNoBackends indicates an empty backend list
	ErrNoBackends = errors.New("no backends configured")

	// ErrInvalidBackend indicates a backend without a name, dialect or DSN
	ErrInvalidBackend = errors.New("invalid backend")

	// ErrUnknownDefault indicates a default backend that is not listed
	ErrUnknownDefault = errors.New("unknown default backend")

	// ErrInvalidCapacity indicates a negative identity map capacity
	ErrInvalidCapacity = errors.New("invalid identity capacity")

	// ErrInvalidLog indicates an unknown log level or format
	ErrInvalidLog = errors.New("invalid log settings")
)

var (
	dialects = []string{"mysql", "postgres", "pgx", "sqlite", "sqlite3"}
	levels   = []string{"debug", "info", "warn", "error"}
	formats  = []string{"text", "json"}
)

// Validate checks that the configuration is valid and complete.
func Validate(cfg *Config) error {
	var errs []error

	if len(cfg.Backends) == 0 {
		errs = append(errs, ErrNoBackends)
	}
	seen := make(map[string]bool)
	for i, b := range cfg.Backends {
		switch {
		case b.Name == "":
			errs = append(errs, fmt.Errorf("%w: backends[%d] has no name", ErrInvalidBackend, i))
		case seen[b.Name]:
			errs = append(errs, fmt.Errorf("%w: duplicate backend %q", ErrInvalidBackend, b.Name))
		}
		seen[b.Name] = true
		if !slices.Contains(dialects, b.Dialect) {
			errs = append(errs, fmt.Errorf("%w: backend %q: dialect %q must be one of %v", ErrInvalidBackend, b.Name, b.Dialect, dialects))
		}
		if b.DSN == "" {
			errs = append(errs, fmt.Errorf("%w: backend %q has no dsn", ErrInvalidBackend, b.Name))
		}
		if b.SlowQuery < 0 {
			errs = append(errs, fmt.Errorf("%w: backend %q: negative slow_query", ErrInvalidBackend, b.Name))
		}
	}
	if cfg.Default != "" && len(cfg.Backends) > 0 && !seen[cfg.Default] {
		errs = append(errs, fmt.Errorf("%w: %q", ErrUnknownDefault, cfg.Default))
	}

	if cfg.Identity.Capacity < 0 {
		errs = append(errs, fmt.Errorf("%w: %d", ErrInvalidCapacity, cfg.Identity.Capacity))
	}

	if !slices.Contains(levels, cfg.Log.Level) {
		errs = append(errs, fmt.Errorf("%w: level %q must be one of %v", ErrInvalidLog, cfg.Log.Level, levels))
	}
	if !slices.Contains(formats, cfg.Log.Format) {
		errs = append(errs, fmt.Errorf("%w: format %q must be one of %v", ErrInvalidLog, cfg.Log.Format, formats))
	}

	return errors.Join(errs...)
}
