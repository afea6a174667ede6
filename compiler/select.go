package compiler

import (
	"fmt"
	"slices"
	"strings"

	"github.com/syssam/strata"
	"github.com/syssam/strata/dialect"
	"github.com/syssam/strata/expr"
	"github.com/syssam/strata/query"
	"github.com/syssam/strata/schema"
)

type selectOpts struct {
	// count selects the primary key only, without ordering or locking.
	count bool
	// keys selects the primary key only, aliased by column name.
	keys bool
	// branch marks a member of a compound select: the model default
	// ordering does not apply.
	branch bool
	// nested marks a subquery: no locking clause, and no model default
	// ordering unless a window needs it.
	nested bool
}

type selection struct {
	sql      string
	columns  []string
	fieldMap []dialect.FieldMapEntry
}

// Select compiles q into a SELECT statement.
func (cfg Config) Select(q *query.Query) (*dialect.Statement, error) {
	c := newCompiler(cfg, nil)
	sel, err := c.compound(q, selectOpts{})
	if err != nil {
		return nil, err
	}
	return &dialect.Statement{SQL: sel.sql, Args: c.st.args, Columns: sel.columns, FieldMap: sel.fieldMap}, nil
}

// Count compiles a statement returning the number of rows q selects.
func (cfg Config) Count(q *query.Query) (*dialect.Statement, error) {
	c := newCompiler(cfg, nil)
	opts := selectOpts{count: true, nested: true}
	var (
		sel *selection
		err error
	)
	if len(q.Unions()) > 0 {
		sel, err = c.compound(q, opts)
	} else {
		sel, err = c.selectSQL(q, opts)
	}
	if err != nil {
		return nil, err
	}
	return &dialect.Statement{
		SQL:     "SELECT COUNT(*) FROM (" + sel.sql + ") AS _",
		Args:    c.st.args,
		Columns: []string{"count"},
	}, nil
}

// compound compiles q and the queries combined with it.
func (c *Compiler) compound(q *query.Query, opts selectOpts) (*selection, error) {
	unions := q.Unions()
	if len(unions) == 0 {
		return c.selectSQL(q, opts)
	}
	bopts := opts
	bopts.branch = true
	first, err := c.selectSQL(q, bopts)
	if err != nil {
		return nil, err
	}
	wrap := ordered(q)
	parts := []string{first.sql}
	ops := make([]string, 0, len(unions))
	for _, u := range unions {
		bc := newCompiler(c.cfg, nil)
		sel, err := bc.compound(u.Query, bopts)
		if err != nil {
			return nil, err
		}
		if len(sel.columns) != len(first.columns) {
			return nil, strata.NewQueryError(q.ModelName(), "union",
				fmt.Errorf("branches select %d and %d columns", len(first.columns), len(sel.columns)))
		}
		wrap = wrap || ordered(u.Query)
		parts = append(parts, renumber(sel.sql, len(c.st.args)))
		c.st.args = append(c.st.args, bc.st.args...)
		if u.All {
			ops = append(ops, " UNION ALL ")
		} else {
			ops = append(ops, " UNION ")
		}
	}
	var b strings.Builder
	for i, p := range parts {
		if i > 0 {
			b.WriteString(ops[i-1])
		}
		if wrap {
			p = c.cfg.Flavor.UnionBranch(p)
		}
		b.WriteString(p)
	}
	return &selection{sql: b.String(), columns: first.columns, fieldMap: first.fieldMap}, nil
}

// ordered reports whether a compound member needs its own parentheses.
func ordered(q *query.Query) bool {
	keys, _ := q.Ordering()
	return len(keys) > 0 || q.Windowed()
}

// selectSQL compiles a single SELECT.
func (c *Compiler) selectSQL(q *query.Query, opts selectOpts) (*selection, error) {
	meta, err := c.prepare(q)
	if err != nil {
		return nil, err
	}
	var (
		items, group []string
		sel          = &selection{}
		selected     = make(map[string]bool)
		aggregate    bool
	)
	for _, a := range q.Annotations() {
		aggregate = aggregate || expr.IsAggregate(a.Expr)
	}
	addAnnotation := func(alias string) error {
		op, _, err := c.annotationOperand(c.annotations[alias], nil)
		if err != nil {
			return err
		}
		items = append(items, op.SQL+" AS "+c.quote(alias))
		if !expr.IsAggregate(c.annotations[alias]) {
			group = append(group, op.SQL)
		}
		selected[alias] = true
		sel.columns = append(sel.columns, alias)
		return nil
	}
	switch proj := q.Projection(); {
	case opts.count || opts.keys:
		for _, name := range meta.PrimaryKey {
			d, _ := meta.Field(name)
			col := c.operand(c.base.alias, d).SQL
			if opts.keys {
				items = append(items, col+" AS "+c.quote(d.StorageKey()))
			} else {
				items = append(items, col)
			}
			group = append(group, col)
			sel.columns = append(sel.columns, d.StorageKey())
		}
	case len(proj) > 0:
		for _, p := range proj {
			if _, ok := c.annotations[p]; ok {
				if err := addAnnotation(p); err != nil {
					return nil, err
				}
				continue
			}
			s, err := expr.F(p).SQL(c)
			if err != nil {
				return nil, err
			}
			items = append(items, s+" AS "+c.quote(p))
			group = append(group, s)
			sel.columns = append(sel.columns, p)
		}
	default:
		fields, err := loadFields(meta, q)
		if err != nil {
			return nil, err
		}
		root := dialect.FieldMapEntry{Model: meta.Name, Fields: fields}
		for _, name := range fields {
			d, _ := meta.Field(name)
			col := c.operand(c.base.alias, d).SQL
			items = append(items, col)
			group = append(group, col)
			sel.columns = append(sel.columns, name)
		}
		for _, a := range q.Annotations() {
			if err := addAnnotation(a.Alias); err != nil {
				return nil, err
			}
			root.Annotations = append(root.Annotations, a.Alias)
		}
		sel.fieldMap = append(sel.fieldMap, root)
		for _, path := range expandRelated(q.Related()) {
			s, err := c.relatedScope(path)
			if err != nil {
				return nil, err
			}
			fields := defaultFields(s.meta, nil)
			for _, name := range fields {
				d, _ := s.meta.Field(name)
				col := c.operand(s.alias, d).SQL
				items = append(items, col)
				group = append(group, col)
				sel.columns = append(sel.columns, path+"__"+name)
			}
			sel.fieldMap = append(sel.fieldMap, dialect.FieldMapEntry{
				Model:  s.meta.Name,
				Fields: fields,
				Path:   strings.Split(path, "__"),
			})
		}
	}

	where, having, err := c.whereSQL(q.Filters())
	if err != nil {
		return nil, err
	}
	if having != "" && !aggregate {
		return nil, strata.NewQueryError(meta.Name, "filter", fmt.Errorf("aggregate condition without aggregate annotations"))
	}

	var orderBy []string
	if !opts.count {
		keys, disabled := q.Ordering()
		if len(keys) == 0 && !disabled && !opts.branch && (!opts.nested || q.Windowed()) {
			for _, k := range meta.Ordering {
				keys = append(keys, expr.ParseOrder(k))
			}
		}
		for _, o := range keys {
			var s string
			if p, ok := expr.Path(o.Expr); ok && selected[p] {
				s = c.quote(p)
			} else if s, err = o.Expr.SQL(c); err != nil {
				return nil, err
			}
			if o.Desc {
				s += " DESC"
			}
			orderBy = append(orderBy, s)
		}
	}

	var b strings.Builder
	b.WriteString("SELECT ")
	if q.IsDistinct() || (c.many && !aggregate && len(q.Projection()) == 0) {
		b.WriteString("DISTINCT ")
	}
	b.WriteString(strings.Join(items, ", "))
	b.WriteString(" FROM " + c.base.alias)
	b.WriteString(c.joinSQL())
	if where != "" {
		b.WriteString(" WHERE " + where)
	}
	if aggregate && len(group) > 0 {
		b.WriteString(" GROUP BY " + strings.Join(group, ", "))
	}
	if having != "" {
		b.WriteString(" HAVING " + having)
	}
	if len(orderBy) > 0 {
		b.WriteString(" ORDER BY " + strings.Join(orderBy, ", "))
	}
	limit, offset := q.Window()
	b.WriteString(c.cfg.Flavor.Window(limit, offset))
	if !opts.count && !opts.nested {
		b.WriteString(c.cfg.Flavor.Lock(q.LockMode()))
	}
	sel.sql = b.String()
	return sel, nil
}

// relatedScope joins every relationship of a select-related path. Only
// to-one relationships can be loaded this way.
func (c *Compiler) relatedScope(path string) (scope, error) {
	s := *c.base
	for _, seg := range strings.Split(path, "__") {
		j, ok, err := s.meta.Join(seg)
		if err != nil {
			return scope{}, err
		}
		if !ok {
			return scope{}, &strata.LookupError{Model: s.meta.Name, Segment: seg, Path: path}
		}
		if j.Many {
			return scope{}, strata.NewQueryError(c.base.meta.Name, "select related", fmt.Errorf("%q is a to-many relation", path))
		}
		target, err := c.cfg.Registry.Metadata(j.Target)
		if err != nil {
			return scope{}, err
		}
		if s, err = c.join(s, j, target); err != nil {
			return scope{}, err
		}
	}
	return s, nil
}

// expandRelated adds the intermediate paths of every path, keeping the
// first occurrence order.
func expandRelated(paths []string) []string {
	var out []string
	for _, p := range paths {
		segs := strings.Split(p, "__")
		for i := range segs {
			sub := strings.Join(segs[:i+1], "__")
			if !slices.Contains(out, sub) {
				out = append(out, sub)
			}
		}
	}
	return out
}

// loadFields returns the fields a model select loads.
func loadFields(meta *schema.Metadata, q *query.Query) ([]string, error) {
	only, deferred := q.LoadFields()
	for _, name := range slices.Concat(only, deferred) {
		if _, ok := meta.Field(name); !ok {
			return nil, &strata.LookupError{Model: meta.Name, Segment: name, Path: name}
		}
	}
	if len(only) == 0 {
		return defaultFields(meta, deferred), nil
	}
	var out []string
	for _, d := range meta.Fields() {
		if meta.IsPrimaryKey(d.Name) || slices.Contains(only, d.Name) {
			out = append(out, d.Name)
		}
	}
	return out, nil
}

// defaultFields returns every field of meta except the deferred ones. The
// primary key is never deferred.
func defaultFields(meta *schema.Metadata, deferred []string) []string {
	var out []string
	for _, d := range meta.Fields() {
		skip := slices.Contains(meta.Deferred, d.Name) || slices.Contains(deferred, d.Name)
		if !skip || meta.IsPrimaryKey(d.Name) {
			out = append(out, d.Name)
		}
	}
	return out
}
