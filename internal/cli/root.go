// Package cli implements the strata command.
package cli

import (
	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Config  string // explicit config file; strata.yaml in the working directory otherwise
	Verbose bool
}

// NewRootCommand creates the root command of the strata CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "strata",
		Short: "strata - models, queries and units of work over SQL",
		Long: `Inspect strata schemas and the databases they map to.

Schemas are YAML model files. Backends are configured in strata.yaml and
may be overridden with STRATA_* environment variables.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.Config, "config", "c", "", "config file (default strata.yaml)")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")

	cmd.AddCommand(NewDDLCommand(opts))
	cmd.AddCommand(NewSQLCommand(opts))
	cmd.AddCommand(NewPingCommand(opts))
	cmd.AddCommand(NewMigrateCommand(opts))

	return cmd
}
