package query

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/syssam/strata"
	"github.com/syssam/strata/dialect"
	"github.com/syssam/strata/expr"
	"github.com/syssam/strata/record"
)

// ErrNoExecutor is returned by terminal operations of a query that is not
// bound to a database.
var ErrNoExecutor = errors.New("query: no executor")

// Executor runs compiled queries. It is implemented by the database object
// queries are created from.
type Executor interface {
	Compile(q *Query) (*dialect.Statement, error)
	Iterate(ctx context.Context, q *Query) (*record.Cursor, error)
	Count(ctx context.Context, q *Query) (int64, error)
	Values(ctx context.Context, q *Query) ([]map[string]any, error)
	UpdateAll(ctx context.Context, q *Query, values map[string]any) (int64, error)
	DeleteAll(ctx context.Context, q *Query) (int64, error)
}

// LockMode is the row locking clause of a select.
type LockMode uint8

// Lock modes.
const (
	LockNone LockMode = iota
	LockShare
	LockUpdate
)

// Annotation is a computed column added to every row.
type Annotation struct {
	Alias string
	Expr  expr.Expr
}

// Union is a query combined with the receiver by a set operation.
type Union struct {
	Query *Query
	All   bool
}

// Constraint is an extra condition on the join of one relationship path.
type Constraint struct {
	Path string
	Q    *expr.Q
}

// Query describes a select over one model. Builder methods return modified
// copies, so a Query can be shared and extended freely. Nothing runs until
// a terminal operation is called.
type Query struct {
	exec        Executor
	model       string
	where       *expr.Q
	order       []expr.Order
	noOrder     bool
	limit       int
	offset      int
	related     []string
	fields      []string
	deferred    []string
	annotations []Annotation
	projection  []string
	distinct    bool
	lock        LockMode
	unions      []Union
	constraints []Constraint
}

// New returns a query over all rows of model.
func New(exec Executor, model string) *Query {
	return &Query{exec: exec, model: model, limit: -1}
}

// Clone returns a duplicate of the query.
func (q *Query) Clone() *Query {
	c := *q
	c.order = slices.Clone(q.order)
	c.related = slices.Clone(q.related)
	c.fields = slices.Clone(q.fields)
	c.deferred = slices.Clone(q.deferred)
	c.annotations = slices.Clone(q.annotations)
	c.projection = slices.Clone(q.projection)
	c.unions = slices.Clone(q.unions)
	c.constraints = slices.Clone(q.constraints)
	return &c
}

// ModelName returns the model the query selects.
func (q *Query) ModelName() string { return q.model }

// Executor returns the executor the query is bound to.
func (q *Query) Executor() Executor { return q.exec }

// Bind returns a copy of the query bound to exec.
func (q *Query) Bind(exec Executor) *Query {
	c := q.Clone()
	c.exec = exec
	return c
}

// Where adds constraints that must all hold.
func (q *Query) Where(qs ...*expr.Q) *Query {
	c := q.Clone()
	for _, x := range qs {
		if x.Empty() {
			continue
		}
		if c.where == nil {
			c.where = x
		} else {
			c.where = expr.And(c.where, x)
		}
	}
	return c
}

// Filter adds one constraint per map entry, e.g.
// Filter(map[string]any{"price__gt": 2}).
func (q *Query) Filter(m map[string]any) *Query { return q.Where(expr.Match(m)) }

// Exclude adds the negation of the constraints in m.
func (q *Query) Exclude(m map[string]any) *Query { return q.Where(expr.Not(expr.Match(m))) }

// OrderBy appends sort keys. A key is a path optionally prefixed with "-"
// for descending order, an expr.Order, or an expression sorted ascending.
// Calling OrderBy with no keys disables the default model ordering.
func (q *Query) OrderBy(keys ...any) *Query {
	c := q.Clone()
	if len(keys) == 0 {
		c.order, c.noOrder = nil, true
		return c
	}
	for _, k := range keys {
		switch k := k.(type) {
		case string:
			c.order = append(c.order, expr.ParseOrder(k))
		case expr.Order:
			c.order = append(c.order, k)
		case expr.Expr:
			c.order = append(c.order, expr.Asc(k))
		default:
			panic(fmt.Sprintf("query: invalid sort key %T", k))
		}
	}
	return c
}

// Limit caps the number of rows.
func (q *Query) Limit(n int) *Query {
	c := q.Clone()
	c.limit = n
	return c
}

// Offset skips the first n rows.
func (q *Query) Offset(n int) *Query {
	c := q.Clone()
	c.offset = n
	return c
}

// SelectRelated loads to-one relationships with the same statement. Paths
// may traverse several relationships, e.g. "order__customer".
func (q *Query) SelectRelated(paths ...string) *Query {
	c := q.Clone()
	for _, p := range paths {
		if !slices.Contains(c.related, p) {
			c.related = append(c.related, p)
		}
	}
	return c
}

// Fields restricts the loaded fields to names and the primary key. The
// other fields are deferred.
func (q *Query) Fields(names ...string) *Query {
	c := q.Clone()
	c.fields = append(c.fields, names...)
	return c
}

// Defer excludes fields from loading in addition to the model defaults.
func (q *Query) Defer(names ...string) *Query {
	c := q.Clone()
	c.deferred = append(c.deferred, names...)
	return c
}

// Annotate adds a computed column. With an aggregate expression the rows
// are grouped.
func (q *Query) Annotate(alias string, e expr.Expr) *Query {
	c := q.Clone()
	c.annotations = append(c.annotations, Annotation{Alias: alias, Expr: e})
	return c
}

// Select projects the query onto paths and annotation aliases. Values
// returns one map per row; a projected query can also be used as a
// subquery value.
func (q *Query) Select(paths ...string) *Query {
	c := q.Clone()
	c.projection = append(c.projection, paths...)
	return c
}

// Distinct removes duplicate rows.
func (q *Query) Distinct() *Query {
	c := q.Clone()
	c.distinct = true
	return c
}

// ForUpdate locks the selected rows for writing.
func (q *Query) ForUpdate() *Query {
	c := q.Clone()
	c.lock = LockUpdate
	return c
}

// ForShare locks the selected rows for reading.
func (q *Query) ForShare() *Query {
	c := q.Clone()
	c.lock = LockShare
	return c
}

// Union combines the rows of q and other. Both queries must project the
// same number of columns.
func (q *Query) Union(other *Query, all bool) *Query {
	c := q.Clone()
	c.unions = append(c.unions, Union{Query: other, All: all})
	return c
}

// Constrain adds a condition to the ON clause of the join for path.
func (q *Query) Constrain(path string, cond *expr.Q) *Query {
	c := q.Clone()
	c.constraints = append(c.constraints, Constraint{Path: path, Q: cond})
	return c
}

// Filters returns the constraint tree, or nil.
func (q *Query) Filters() *expr.Q { return q.where }

// Ordering returns the explicit sort keys and whether the default model
// ordering was disabled.
func (q *Query) Ordering() ([]expr.Order, bool) { return q.order, q.noOrder }

// Window returns the limit (-1 for none) and offset.
func (q *Query) Window() (limit, offset int) { return q.limit, q.offset }

// Windowed reports whether a limit or offset is set.
func (q *Query) Windowed() bool { return q.limit >= 0 || q.offset > 0 }

// Related returns the select-related paths.
func (q *Query) Related() []string { return q.related }

// LoadFields returns the fields restricted by Fields and Defer.
func (q *Query) LoadFields() (only, deferred []string) { return q.fields, q.deferred }

// Annotations returns the computed columns.
func (q *Query) Annotations() []Annotation { return q.annotations }

// Projection returns the selected paths.
func (q *Query) Projection() []string { return q.projection }

// IsDistinct reports whether duplicate rows are removed.
func (q *Query) IsDistinct() bool { return q.distinct }

// LockMode returns the row locking mode.
func (q *Query) LockMode() LockMode { return q.lock }

// Unions returns the combined queries.
func (q *Query) Unions() []Union { return q.unions }

// JoinConstraints returns the per-path join conditions.
func (q *Query) JoinConstraints() []Constraint { return q.constraints }

// SQL compiles the query.
func (q *Query) SQL() (*dialect.Statement, error) {
	if q.exec == nil {
		return nil, ErrNoExecutor
	}
	return q.exec.Compile(q)
}

// String returns the compiled SQL, or a description of the error.
func (q *Query) String() string {
	stmt, err := q.SQL()
	if err != nil {
		return fmt.Sprintf("%s query: %v", q.model, err)
	}
	return stmt.SQL
}

// Iter runs the query and returns a cursor over its models. The caller must
// close the cursor.
func (q *Query) Iter(ctx context.Context) (*record.Cursor, error) {
	if q.exec == nil {
		return nil, ErrNoExecutor
	}
	return q.exec.Iterate(ctx, q)
}

// All returns every model the query selects.
func (q *Query) All(ctx context.Context) ([]record.Model, error) {
	cur, err := q.Iter(ctx)
	if err != nil {
		return nil, err
	}
	return cur.All()
}

// AllX is like All, but panics if an error occurs.
func (q *Query) AllX(ctx context.Context) []record.Model {
	ms, err := q.All(ctx)
	if err != nil {
		panic(err)
	}
	return ms
}

// First returns the first model of the query.
// Returns a *NotFoundError when the query selects nothing.
func (q *Query) First(ctx context.Context) (record.Model, error) {
	ms, err := q.Limit(1).All(ctx)
	if err != nil {
		return nil, err
	}
	if len(ms) == 0 {
		return nil, strata.NewNotFoundError(q.model)
	}
	return ms[0], nil
}

// FirstX is like First, but panics if an error occurs.
func (q *Query) FirstX(ctx context.Context) record.Model {
	m, err := q.First(ctx)
	if err != nil && !strata.IsNotFound(err) {
		panic(err)
	}
	return m
}

// Find returns the single model the query selects. ok is false when there
// is none. More than one model is a *NotSingularError.
func (q *Query) Find(ctx context.Context) (m record.Model, ok bool, err error) {
	ms, err := q.Limit(2).All(ctx)
	if err != nil {
		return nil, false, err
	}
	switch len(ms) {
	case 0:
		return nil, false, nil
	case 1:
		return ms[0], true, nil
	}
	return nil, false, strata.NewNotSingularError(q.model, len(ms))
}

// Only returns a single model found by the query, ensuring it only returns
// one. Returns a *NotSingularError when more than one model is found.
// Returns a *NotFoundError when no models are found.
func (q *Query) Only(ctx context.Context) (record.Model, error) {
	m, ok, err := q.Find(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, strata.NewNotFoundError(q.model)
	}
	return m, nil
}

// OnlyX is like Only, but panics if an error occurs.
func (q *Query) OnlyX(ctx context.Context) record.Model {
	m, err := q.Only(ctx)
	if err != nil {
		panic(err)
	}
	return m
}

// Count returns the number of rows the query selects.
func (q *Query) Count(ctx context.Context) (int64, error) {
	if q.exec == nil {
		return 0, ErrNoExecutor
	}
	return q.exec.Count(ctx, q)
}

// CountX is like Count, but panics if an error occurs.
func (q *Query) CountX(ctx context.Context) int64 {
	n, err := q.Count(ctx)
	if err != nil {
		panic(err)
	}
	return n
}

// Exist reports whether the query selects any row.
func (q *Query) Exist(ctx context.Context) (bool, error) {
	n, err := q.Limit(1).Count(ctx)
	return n > 0, err
}

// ExistX is like Exist, but panics if an error occurs.
func (q *Query) ExistX(ctx context.Context) bool {
	ok, err := q.Exist(ctx)
	if err != nil {
		panic(err)
	}
	return ok
}

// Values returns the projected rows keyed by path or annotation alias. A
// query without a projection returns every loaded field and annotation.
func (q *Query) Values(ctx context.Context, paths ...string) ([]map[string]any, error) {
	if q.exec == nil {
		return nil, ErrNoExecutor
	}
	if len(paths) > 0 {
		q = q.Select(paths...)
	}
	return q.exec.Values(ctx, q)
}

// Update sets fields on every row the query selects and returns the number
// of affected rows as the database reports it.
func (q *Query) Update(ctx context.Context, values map[string]any) (int64, error) {
	if q.exec == nil {
		return 0, ErrNoExecutor
	}
	if len(values) == 0 {
		return 0, strata.NewQueryError(q.model, "update", errors.New("no values"))
	}
	return q.exec.UpdateAll(ctx, q, values)
}

// Delete removes every row the query selects.
func (q *Query) Delete(ctx context.Context) (int64, error) {
	if q.exec == nil {
		return 0, ErrNoExecutor
	}
	return q.exec.DeleteAll(ctx, q)
}

// Describe returns a readable outline of the query without compiling it.
func (q *Query) Describe() string {
	var b strings.Builder
	b.WriteString(q.model)
	if q.where != nil {
		fmt.Fprintf(&b, " where %s", q.where)
	}
	if len(q.order) > 0 {
		b.WriteString(" order by")
		for _, o := range q.order {
			if p, ok := expr.Path(o.Expr); ok {
				if o.Desc {
					p = "-" + p
				}
				b.WriteString(" " + p)
			} else {
				b.WriteString(" <expr>")
			}
		}
	}
	if q.limit >= 0 {
		fmt.Fprintf(&b, " limit %d", q.limit)
	}
	if q.offset > 0 {
		fmt.Fprintf(&b, " offset %d", q.offset)
	}
	return b.String()
}
