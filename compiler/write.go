package compiler

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/syssam/strata"
	"github.com/syssam/strata/dialect"
	"github.com/syssam/strata/expr"
	"github.com/syssam/strata/query"
	"github.com/syssam/strata/record"
	"github.com/syssam/strata/schema"
	"github.com/syssam/strata/schema/field"
)

// ErrNoChanges is returned when compiling an UPDATE for an instance without
// dirty fields.
var ErrNoChanges = errors.New("compiler: no changed fields")

// Insert compiles the INSERT of a new instance. An unset auto-increment key
// is left to the database; with a flavor that supports RETURNING the
// statement yields it as a row.
func (cfg Config) Insert(inst *record.Instance) (*dialect.Statement, error) {
	c := newCompiler(cfg, nil)
	meta := inst.Meta()
	auto, hasAuto := meta.AutoIncrement()
	dirty := inst.Dirty()
	values := inst.Values()
	var cols, vals []string
	for _, d := range meta.Fields() {
		if _, ok := dirty[d.Name]; !ok {
			continue
		}
		v := values[d.Name]
		if hasAuto && d == auto && v == nil {
			continue
		}
		p, err := c.param(d, v)
		if err != nil {
			return nil, err
		}
		cols = append(cols, c.quote(d.StorageKey()))
		vals = append(vals, p)
	}
	stmt := &dialect.Statement{SQL: cfg.Flavor.Insert(c.quote(meta.Table), cols, vals)}
	if hasAuto && values[auto.Name] == nil && cfg.Flavor.Returning() {
		stmt.SQL += " RETURNING " + c.quote(auto.StorageKey())
		stmt.Returning = true
		stmt.Columns = []string{auto.Name}
	}
	stmt.Args = c.st.args
	return stmt, nil
}

// Update compiles the UPDATE of the dirty fields of inst. The row is
// addressed by the primary key it had before any change.
func (cfg Config) Update(inst *record.Instance) (*dialect.Statement, error) {
	c := newCompiler(cfg, nil)
	meta := inst.Meta()
	dirty := inst.Dirty()
	values := inst.Values()
	var sets []string
	for _, d := range meta.Fields() {
		if _, ok := dirty[d.Name]; !ok {
			continue
		}
		p, err := c.param(d, values[d.Name])
		if err != nil {
			return nil, err
		}
		sets = append(sets, c.quote(d.StorageKey())+" = "+p)
	}
	if len(sets) == 0 {
		return nil, strata.NewQueryError(meta.Name, "update", ErrNoChanges)
	}
	where, err := c.keyWhere(meta, originalKey(inst, dirty))
	if err != nil {
		return nil, err
	}
	return &dialect.Statement{
		SQL:  "UPDATE " + c.quote(meta.Table) + " SET " + strings.Join(sets, ", ") + " WHERE " + where,
		Args: c.st.args,
	}, nil
}

// Delete compiles the DELETE of one persisted instance.
func (cfg Config) Delete(inst *record.Instance) (*dialect.Statement, error) {
	c := newCompiler(cfg, nil)
	meta := inst.Meta()
	where, err := c.keyWhere(meta, originalKey(inst, inst.Dirty()))
	if err != nil {
		return nil, err
	}
	return &dialect.Statement{SQL: "DELETE FROM " + c.quote(meta.Table) + " WHERE " + where, Args: c.st.args}, nil
}

// Exists compiles a probe returning one row when a row with the primary key
// pk exists.
func (cfg Config) Exists(meta *schema.Metadata, pk []any) (*dialect.Statement, error) {
	c := newCompiler(cfg, nil)
	where, err := c.keyWhere(meta, pk)
	if err != nil {
		return nil, err
	}
	return &dialect.Statement{SQL: "SELECT 1 FROM " + c.quote(meta.Table) + " WHERE " + where, Args: c.st.args}, nil
}

// Refresh compiles a select of fields of the row with the primary key pk.
func (cfg Config) Refresh(meta *schema.Metadata, pk []any, fields []string) (*dialect.Statement, error) {
	c := newCompiler(cfg, nil)
	cols := make([]string, 0, len(fields))
	for _, name := range fields {
		d, ok := meta.Field(name)
		if !ok {
			return nil, &strata.LookupError{Model: meta.Name, Segment: name, Path: name}
		}
		cols = append(cols, c.quote(d.StorageKey()))
	}
	where, err := c.keyWhere(meta, pk)
	if err != nil {
		return nil, err
	}
	return &dialect.Statement{
		SQL:      "SELECT " + strings.Join(cols, ", ") + " FROM " + c.quote(meta.Table) + " WHERE " + where,
		Args:     c.st.args,
		Columns:  fields,
		FieldMap: []dialect.FieldMapEntry{{Model: meta.Name, Fields: fields}},
	}, nil
}

// BulkUpdate compiles an UPDATE of every row q selects. Values may be
// expressions, e.g. expr.Sub(expr.F("stock"), 1). Fields with an update
// default that are not in values are set too.
func (cfg Config) BulkUpdate(q *query.Query, values map[string]any) (*dialect.Statement, error) {
	c := newCompiler(cfg, nil)
	meta, err := c.prepare(q)
	if err != nil {
		return nil, err
	}
	for name := range values {
		if _, ok := meta.Field(name); !ok {
			return nil, &strata.LookupError{Model: meta.Name, Segment: name, Path: name}
		}
	}
	values = maps.Clone(values)
	for _, d := range meta.Fields() {
		if _, ok := values[d.Name]; !ok && d.UpdateDefault != nil {
			values[d.Name] = d.UpdateDefault()
		}
	}
	var sets []string
	for _, d := range meta.Fields() {
		v, ok := values[d.Name]
		if !ok {
			continue
		}
		var (
			p   string
			err error
		)
		if e, ok := v.(expr.Expr); ok {
			p, err = e.SQL(c)
		} else {
			p, err = c.param(d, v)
		}
		if err != nil {
			return nil, err
		}
		sets = append(sets, c.quote(d.StorageKey())+" = "+p)
	}
	where, err := c.bulkWhere(meta, q)
	if err != nil {
		return nil, err
	}
	return &dialect.Statement{
		SQL:  "UPDATE " + c.quote(meta.Table) + " SET " + strings.Join(sets, ", ") + where,
		Args: c.st.args,
	}, nil
}

// BulkDelete compiles a DELETE of every row q selects.
func (cfg Config) BulkDelete(q *query.Query) (*dialect.Statement, error) {
	c := newCompiler(cfg, nil)
	meta, err := c.prepare(q)
	if err != nil {
		return nil, err
	}
	where, err := c.bulkWhere(meta, q)
	if err != nil {
		return nil, err
	}
	return &dialect.Statement{SQL: "DELETE FROM " + c.quote(meta.Table) + where, Args: c.st.args}, nil
}

// bulkWhere renders the WHERE clause of a bulk statement. Conditions that
// need joins, a window or aggregates select the keys in a derived table,
// which MySQL requires to read the table being modified.
func (c *Compiler) bulkWhere(meta *schema.Metadata, q *query.Query) (string, error) {
	trial := newCompiler(c.cfg, nil)
	if _, err := trial.prepare(q); err != nil {
		return "", err
	}
	_, having, err := trial.whereSQL(q.Filters())
	if err != nil {
		return "", err
	}
	if !trial.hasJoins() && !q.Windowed() && having == "" && len(q.Unions()) == 0 {
		where, _, err := c.whereSQL(q.Filters())
		if err != nil || where == "" {
			return "", err
		}
		return " WHERE " + where, nil
	}
	if !q.Windowed() {
		q = q.OrderBy()
	}
	sel, err := c.child().compound(q, selectOpts{keys: true, nested: true})
	if err != nil {
		return "", err
	}
	cols := make([]string, len(meta.PrimaryKey))
	for i, name := range meta.PrimaryKey {
		d, _ := meta.Field(name)
		cols[i] = c.quote(d.StorageKey())
	}
	lhs := cols[0]
	if len(cols) > 1 {
		lhs = "(" + strings.Join(cols, ", ") + ")"
	}
	return " WHERE " + lhs + " IN (SELECT * FROM (" + sel.sql + ") AS _)", nil
}

// keyWhere renders "pk = :N" for every primary key field.
func (c *Compiler) keyWhere(meta *schema.Metadata, pk []any) (string, error) {
	if len(pk) != len(meta.PrimaryKey) || slices.Contains(pk, nil) {
		return "", strata.NewQueryError(meta.Name, "locate", fmt.Errorf("incomplete primary key %v", pk))
	}
	conds := make([]string, len(pk))
	for i, name := range meta.PrimaryKey {
		d, _ := meta.Field(name)
		p, err := c.param(d, pk[i])
		if err != nil {
			return "", err
		}
		conds[i] = c.quote(d.StorageKey()) + " = " + p
	}
	return strings.Join(conds, " AND "), nil
}

// param binds v in the storage form of d.
func (c *Compiler) param(d *field.Descriptor, v any) (string, error) {
	dbv, err := d.ToDB(v)
	if err != nil {
		return "", &strata.ValidationError{Name: d.Name, Err: err}
	}
	c.st.args = append(c.st.args, dbv)
	return fmt.Sprintf(":%d", len(c.st.args)), nil
}

// originalKey returns the primary key inst was loaded with.
func originalKey(inst *record.Instance, dirty map[string]any) []any {
	pk := inst.PrimaryKey()
	if inst.IsNew() {
		return pk
	}
	for i, name := range inst.Meta().PrimaryKey {
		if old, ok := dirty[name]; ok && old != nil {
			pk[i] = old
		}
	}
	return pk
}
