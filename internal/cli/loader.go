package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/syssam/strata/compiler"
	"github.com/syssam/strata/dialect"
	"github.com/syssam/strata/expr"
	"github.com/syssam/strata/internal/config"
	"github.com/syssam/strata/schema"
)

// loadConfig loads the file named by --config, or strata.yaml from the
// working directory.
func loadConfig(opts *RootOptions) (*config.Config, error) {
	if opts.Config != "" {
		return config.NewFileLoader(opts.Config).Load()
	}
	return config.LoadConfig()
}

// logger returns the configured logger. Verbose output lowers the level to
// debug.
func logger(opts *RootOptions, cfg *config.Config, w io.Writer) *slog.Logger {
	if opts.Verbose {
		cfg.Log.Level = "debug"
	}
	return cfg.Logger(w)
}

// loadRegistry reads a YAML schema file and validates its models.
func loadRegistry(path string) (*schema.Registry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	models, err := schema.LoadYAML(f)
	if err != nil {
		return nil, err
	}
	reg := schema.NewRegistry()
	if err := reg.Register(models...); err != nil {
		return nil, err
	}
	if err := reg.Validate(); err != nil {
		return nil, err
	}
	return reg, nil
}

// compilerFor returns a compiler configuration for the named dialect.
func compilerFor(reg *schema.Registry, name string) (compiler.Config, error) {
	if name == "sqlite" {
		name = dialect.SQLite
	}
	flavor, err := compiler.FlavorOf(name)
	if err != nil {
		return compiler.Config{}, fmt.Errorf("--dialect: %w", err)
	}
	return compiler.Config{Registry: reg, Lookups: expr.NewRegistry(), Flavor: flavor}, nil
}
