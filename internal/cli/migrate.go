package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/syssam/strata/orm"
)

// NewMigrateCommand creates the migrate command.
func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate [schema.yaml]",
		Short: "Create the tables of a schema on the configured backends",
		Long: `Create the tables of every concrete model on the backend the model is
routed to. Existing tables are left alone. The schema defaults to the
schema file named in the configuration.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(rootOpts)
			if err != nil {
				return err
			}
			path := cfg.Schema
			if len(args) == 1 {
				path = args[0]
			}
			reg, err := loadRegistry(path)
			if err != nil {
				return err
			}
			log := logger(rootOpts, cfg, cmd.ErrOrStderr())
			backends, err := cfg.Open(log)
			if err != nil {
				return err
			}
			db, err := orm.New(reg, cfg.Options(backends, log)...)
			if err != nil {
				for _, b := range backends {
					b.Close()
				}
				return err
			}
			defer db.Close()

			ctx := cmd.Context()
			if err := db.Connect(ctx); err != nil {
				return err
			}
			if err := db.CreateTables(ctx); err != nil {
				return err
			}
			tables := make(map[string][]string)
			for _, name := range reg.Models() {
				meta := reg.MustMetadata(name)
				if meta.Abstract || meta.View {
					continue
				}
				b, err := db.Backend(name)
				if err != nil {
					return err
				}
				tables[b.Name()] = append(tables[b.Name()], meta.Table)
			}
			for _, name := range db.Backends() {
				if len(tables[name]) > 0 {
					fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", name, strings.Join(tables[name], ", "))
				}
			}
			return nil
		},
	}
}
