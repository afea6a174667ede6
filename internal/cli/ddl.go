package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/syssam/strata/dialect"
)

// DDLOptions holds the flags of the ddl command.
type DDLOptions struct {
	Dialect string
	Drop    bool
}

// NewDDLCommand creates the ddl command.
func NewDDLCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DDLOptions{}
	cmd := &cobra.Command{
		Use:   "ddl <schema.yaml>",
		Short: "Print the CREATE TABLE statements of a schema",
		Long: `Print the CREATE TABLE statements of every concrete model in a schema
file, referenced tables first. With --drop the DROP TABLE statements are
printed instead, referencing tables first.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDDL(cmd, opts, args[0])
		},
	}
	cmd.Flags().StringVarP(&opts.Dialect, "dialect", "d", dialect.SQLite, "SQL dialect (mysql|postgres|sqlite3)")
	cmd.Flags().BoolVar(&opts.Drop, "drop", false, "print DROP TABLE statements")
	return cmd
}

func runDDL(cmd *cobra.Command, opts *DDLOptions, path string) error {
	reg, err := loadRegistry(path)
	if err != nil {
		return err
	}
	cfg, err := compilerFor(reg, opts.Dialect)
	if err != nil {
		return err
	}
	stmts, err := cfg.CreateTables()
	if opts.Drop {
		stmts, err = cfg.DropTables()
	}
	if err != nil {
		return err
	}
	for _, s := range stmts {
		fmt.Fprintf(cmd.OutOrStdout(), "%s;\n", s)
	}
	return nil
}
