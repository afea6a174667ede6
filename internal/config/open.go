package config

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/syssam/strata/dialect"
	"github.com/syssam/strata/dialect/sql"
	"github.com/syssam/strata/orm"
)

// Logger returns a logger writing to w at the configured level and format.
func (c *Config) Logger(w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(c.Log.Level))); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.Log.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// Open opens every configured backend, in configuration order. Backends
// with stats enabled are wrapped in a statistics backend. Nothing is
// connected yet.
func (c *Config) Open(logger *slog.Logger) ([]dialect.Backend, error) {
	out := make([]dialect.Backend, 0, len(c.Backends))
	for _, bc := range c.Backends {
		b, err := sql.Open(bc.Name, bc.Dialect, bc.DSN, sql.WithLogger(logger))
		if err != nil {
			closeAll(out)
			return nil, fmt.Errorf("backend %q: %w", bc.Name, err)
		}
		if !bc.Stats {
			out = append(out, b)
			continue
		}
		opts := []sql.StatsOption{sql.WithSlowQueryLog(logger)}
		if bc.SlowQuery > 0 {
			opts = append(opts, sql.WithSlowThreshold(bc.SlowQuery))
		}
		out = append(out, sql.NewStatsBackend(b, opts...))
	}
	return out, nil
}

func closeAll(bs []dialect.Backend) {
	for _, b := range bs {
		_ = b.Close()
	}
}

// Options returns the orm options the configuration describes. backends
// are the ones returned by Open.
func (c *Config) Options(backends []dialect.Backend, logger *slog.Logger) []orm.Option {
	opts := []orm.Option{
		orm.WithLogger(logger),
		orm.WithIdentityCapacity(c.Identity.Capacity),
	}
	for _, b := range backends {
		opts = append(opts, orm.WithBackend(b))
	}
	if c.Default != "" {
		opts = append(opts, orm.WithDefaultBackend(c.Default))
	}
	if c.Log.Level == "debug" {
		opts = append(opts, orm.Debug())
	}
	return opts
}
