package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/syssam/strata/dialect"
	"github.com/syssam/strata/query"
)

// SQLOptions holds the flags of the sql command.
type SQLOptions struct {
	Dialect string
	Where   []string
	Exclude []string
	Order   []string
	Values  []string
	Limit   int
	Count   bool
}

// NewSQLCommand creates the sql command.
func NewSQLCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SQLOptions{}
	cmd := &cobra.Command{
		Use:   "sql <schema.yaml> <model>",
		Short: "Compile a query against a schema and print the statement",
		Long: `Compile a query against a schema file and print the SQL and its
arguments. Conditions are path=value pairs; values are YAML scalars or
flow sequences, so --where 'id__in=[1, 2]' compares against a list.`,
		Example: `  strata sql schema.yaml Order --where customer__name=Ann --order -id --limit 10`,
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSQL(cmd, opts, args[0], args[1])
		},
	}
	cmd.Flags().StringVarP(&opts.Dialect, "dialect", "d", dialect.SQLite, "SQL dialect (mysql|postgres|sqlite3)")
	cmd.Flags().StringArrayVarP(&opts.Where, "where", "w", nil, "filter condition path=value (repeatable)")
	cmd.Flags().StringArrayVar(&opts.Exclude, "exclude", nil, "negated condition path=value (repeatable)")
	cmd.Flags().StringSliceVarP(&opts.Order, "order", "o", nil, "order keys; a leading - sorts descending")
	cmd.Flags().StringSliceVar(&opts.Values, "values", nil, "select these paths instead of models")
	cmd.Flags().IntVarP(&opts.Limit, "limit", "l", 0, "maximum number of rows")
	cmd.Flags().BoolVar(&opts.Count, "count", false, "compile the count of the query")
	return cmd
}

func runSQL(cmd *cobra.Command, opts *SQLOptions, path, model string) error {
	reg, err := loadRegistry(path)
	if err != nil {
		return err
	}
	if _, err := reg.Metadata(model); err != nil {
		return err
	}
	cfg, err := compilerFor(reg, opts.Dialect)
	if err != nil {
		return err
	}

	q := query.New(nil, model)
	where, err := parseConds(opts.Where)
	if err != nil {
		return err
	}
	if len(where) > 0 {
		q = q.Filter(where)
	}
	exclude, err := parseConds(opts.Exclude)
	if err != nil {
		return err
	}
	if len(exclude) > 0 {
		q = q.Exclude(exclude)
	}
	if cmd.Flags().Changed("order") {
		keys := make([]any, len(opts.Order))
		for i, k := range opts.Order {
			keys[i] = k
		}
		q = q.OrderBy(keys...)
	}
	if len(opts.Values) > 0 {
		q = q.Select(opts.Values...)
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}

	stmt, err := cfg.Select(q)
	if opts.Count {
		stmt, err = cfg.Count(q)
	}
	if err != nil {
		return err
	}
	w := cmd.OutOrStdout()
	fmt.Fprintln(w, stmt.SQL)
	for i, arg := range stmt.Args {
		fmt.Fprintf(w, "  :%d = %#v\n", i+1, arg)
	}
	return nil
}

// parseConds parses path=value pairs. Values are decoded as YAML.
func parseConds(pairs []string) (map[string]any, error) {
	out := make(map[string]any, len(pairs))
	for _, p := range pairs {
		key, raw, ok := strings.Cut(p, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("condition %q: want path=value", p)
		}
		var v any
		if err := yaml.Unmarshal([]byte(raw), &v); err != nil {
			return nil, fmt.Errorf("condition %q: %w", p, err)
		}
		out[key] = v
	}
	return out, nil
}
