package compiler

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/syssam/strata"
	"github.com/syssam/strata/expr"
	"github.com/syssam/strata/query"
	"github.com/syssam/strata/schema"
	"github.com/syssam/strata/schema/field"
)

// Config is what compilers need to know about a database. It is safe for
// concurrent use; every statement gets its own Compiler.
type Config struct {
	Registry *schema.Registry
	Lookups  *expr.Registry
	Flavor   Flavor
}

// state is shared between a compiler and the compilers of its subqueries so
// that parameters and aliases are numbered once per statement.
type state struct {
	args    []any
	aliases int
	derived int
}

// scope is the model a relative path starts from.
type scope struct {
	meta     *schema.Metadata
	alias    string
	path     string
	nullable bool
}

type joinRef struct {
	table string
	alias string
	left  bool
	on    string
}

// Compiler compiles exactly one statement. Joins, aliases and parameters
// accumulate as the statement is built and are never reused.
type Compiler struct {
	cfg         Config
	st          *state
	base        *scope
	scope       *scope
	joins       map[string]*joinRef
	order       []*joinRef
	derived     []string
	annotations map[string]expr.Expr
	constraints map[string][]*expr.Q
	many        bool
}

func newCompiler(cfg Config, st *state) *Compiler {
	if st == nil {
		st = &state{}
	}
	return &Compiler{
		cfg:         cfg,
		st:          st,
		joins:       make(map[string]*joinRef),
		annotations: make(map[string]expr.Expr),
		constraints: make(map[string][]*expr.Q),
	}
}

// child returns a compiler for a subquery of the statement c builds.
func (c *Compiler) child() *Compiler { return newCompiler(c.cfg, c.st) }

// Flavor implements expr.Compiler.
func (c *Compiler) Flavor() expr.Flavor { return c.cfg.Flavor }

// Lookups implements expr.Compiler.
func (c *Compiler) Lookups() *expr.Registry { return c.cfg.Lookups }

// Args returns the parameters added so far.
func (c *Compiler) Args() []any { return c.st.args }

func (c *Compiler) quote(ident string) string { return c.cfg.Flavor.Quote(ident) }

// init prepares the root scope for a statement over model.
func (c *Compiler) init(model string) (*schema.Metadata, error) {
	meta, err := c.cfg.Registry.Metadata(model)
	if err != nil {
		return nil, err
	}
	if meta.Abstract {
		return nil, strata.NewConfigError(meta.Name, "abstract models cannot be queried")
	}
	c.base = &scope{meta: meta, alias: c.quote(meta.Table)}
	c.scope = c.base
	return meta, nil
}

// prepare registers the annotations and join constraints of q.
func (c *Compiler) prepare(q *query.Query) (*schema.Metadata, error) {
	meta, err := c.init(q.ModelName())
	if err != nil {
		return nil, err
	}
	for _, a := range q.Annotations() {
		if _, ok := meta.Field(a.Alias); ok || meta.HasJoin(a.Alias) {
			return nil, strata.NewQueryError(meta.Name, "annotate", fmt.Errorf("alias %q clashes with a field", a.Alias))
		}
		c.annotations[a.Alias] = a.Expr
	}
	for _, jc := range q.JoinConstraints() {
		c.constraints[jc.Path] = append(c.constraints[jc.Path], jc.Q)
	}
	return meta, nil
}

// Input implements expr.Compiler. Expressions and queries are rendered in
// place; every other value becomes a parameter.
func (c *Compiler) Input(v any) (string, error) {
	switch x := v.(type) {
	case expr.Expr:
		return x.SQL(c)
	case *query.Query:
		sql, _, err := c.subselect(x)
		if err != nil {
			return "", err
		}
		return "(" + sql + ")", nil
	case expr.Keyed:
		pk := x.PrimaryKey()
		if len(pk) != 1 {
			return "", fmt.Errorf("compiler: instance with a %d-column primary key used as a value", len(pk))
		}
		v = pk[0]
	}
	c.st.args = append(c.st.args, v)
	return ":" + strconv.Itoa(len(c.st.args)), nil
}

// Resolve implements expr.Compiler. It walks the relationship part of path
// from the current scope, joining every relationship it passes.
func (c *Compiler) Resolve(path string) (expr.Operand, []string, error) {
	segs := strings.Split(path, "__")
	if c.scope == c.base {
		if e, ok := c.annotations[segs[0]]; ok {
			return c.annotationOperand(e, segs[1:])
		}
	}
	s := *c.scope
	for i, seg := range segs {
		if d, ok := s.meta.Field(seg); ok {
			return c.operand(s.alias, d), segs[i+1:], nil
		}
		j, ok, err := s.meta.Join(seg)
		if err != nil {
			return expr.Operand{}, nil, err
		}
		if !ok {
			return expr.Operand{}, nil, &strata.LookupError{Model: s.meta.Name, Segment: seg, Path: path}
		}
		target, err := c.cfg.Registry.Metadata(j.Target)
		if err != nil {
			return expr.Operand{}, nil, err
		}
		rest := segs[i+1:]
		if j.Kind == schema.JoinDirect && len(j.Local) == 1 && !continues(target, rest) {
			d, _ := s.meta.Field(j.Local[0])
			return c.operand(s.alias, d), rest, nil
		}
		if s, err = c.join(s, j, target); err != nil {
			return expr.Operand{}, nil, err
		}
		if !continues(target, rest) {
			if len(target.PrimaryKey) != 1 {
				return expr.Operand{}, nil, strata.NewQueryError(s.meta.Name, "filter", fmt.Errorf("%s cannot be compared as a value", target.Name))
			}
			d, _ := target.Field(target.PrimaryKey[0])
			return c.operand(s.alias, d), rest, nil
		}
	}
	return expr.Operand{}, nil, &strata.LookupError{Model: s.meta.Name, Segment: segs[len(segs)-1], Path: path}
}

// annotationOperand renders an annotation in place. Annotations cannot refer
// to other annotations.
func (c *Compiler) annotationOperand(e expr.Expr, rest []string) (expr.Operand, []string, error) {
	root := *c.base
	saved := c.scope
	c.scope = &root
	defer func() { c.scope = saved }()
	sql, err := e.SQL(c)
	if err != nil {
		return expr.Operand{}, nil, err
	}
	op := expr.Operand{SQL: sql, Kind: field.KindAny}
	if p, ok := expr.Path(e); ok {
		if ref, tail, err := c.Resolve(p); err == nil && len(tail) == 0 {
			op.Kind, op.Field = ref.Kind, ref.Field
		}
	}
	return op, rest, nil
}

func (c *Compiler) operand(alias string, d *field.Descriptor) expr.Operand {
	return expr.Operand{SQL: alias + "." + c.quote(d.StorageKey()), Kind: d.Kind, Field: d}
}

// continues reports whether the next segment names a field or relationship
// of meta rather than a transform or lookup.
func continues(meta *schema.Metadata, rest []string) bool {
	if len(rest) == 0 {
		return false
	}
	if _, ok := meta.Field(rest[0]); ok {
		return true
	}
	return meta.HasJoin(rest[0])
}

// nextAlias returns A0 ... A8, B0 ... in statement order.
func (c *Compiler) nextAlias() string {
	n := c.st.aliases
	c.st.aliases++
	return c.quote(fmt.Sprintf("%c%d", 'A'+n/9, n%9))
}

// join returns the scope of the model j reaches from s, adding one join per
// hop the first time the path is seen. Once a LEFT join is introduced every
// later join on the same path is a LEFT join too.
func (c *Compiler) join(s scope, j *schema.Join, target *schema.Metadata) (scope, error) {
	key := s.path + j.Name
	nullable := s.nullable || j.Nullable
	alias, prev := s.alias, s.meta
	for n, hop := range j.Hops {
		hkey := key
		if n < len(j.Hops)-1 {
			hkey += "#" + strconv.Itoa(n)
		}
		hm, err := c.cfg.Registry.Metadata(hop.Model)
		if err != nil {
			return scope{}, err
		}
		ref, ok := c.joins[hkey]
		if !ok {
			ref = &joinRef{table: c.quote(hm.Table), alias: c.nextAlias(), left: nullable}
			c.joins[hkey] = ref
			c.order = append(c.order, ref)
			conds := make([]string, 0, len(hop.On)+1)
			for _, p := range hop.On {
				pd, _ := prev.Field(p.Parent)
				cd, _ := hm.Field(p.Child)
				conds = append(conds, alias+"."+c.quote(pd.StorageKey())+" = "+ref.alias+"."+c.quote(cd.StorageKey()))
			}
			if n == len(j.Hops)-1 {
				for _, q := range c.constraints[key] {
					saved := c.scope
					c.scope = &scope{meta: target, alias: ref.alias, path: key + "__", nullable: nullable}
					sql, err := q.SQL(c)
					c.scope = saved
					if err != nil {
						return scope{}, err
					}
					if sql != "" {
						conds = append(conds, "("+sql+")")
					}
				}
			}
			ref.on = strings.Join(conds, " AND ")
		}
		alias, prev = ref.alias, hm
	}
	if j.Many {
		c.many = true
	}
	return scope{meta: target, alias: alias, path: key + "__", nullable: nullable}, nil
}

func (c *Compiler) joinSQL() string {
	var b strings.Builder
	for _, ref := range c.order {
		if ref.left {
			b.WriteString(" LEFT JOIN ")
		} else {
			b.WriteString(" INNER JOIN ")
		}
		b.WriteString(ref.table + " AS " + ref.alias + " ON " + ref.on)
	}
	for _, d := range c.derived {
		b.WriteString(" " + d)
	}
	return b.String()
}

func (c *Compiler) hasJoins() bool { return len(c.order) > 0 || len(c.derived) > 0 }

// InSubquery implements expr.Compiler. A subquery that is windowed, selects
// several columns or is compound is joined as a derived table; others are
// rendered as IN (SELECT ...).
func (c *Compiler) InSubquery(lhs string, sub any) (string, bool, error) {
	q, ok := sub.(*query.Query)
	if !ok {
		return "", false, nil
	}
	sql, cols, err := c.subselect(q)
	if err != nil {
		return "", true, err
	}
	if !q.Windowed() && len(cols) == 1 && len(q.Unions()) == 0 {
		return lhs + " IN (" + sql + ")", true, nil
	}
	alias := c.quote("S" + strconv.Itoa(c.st.derived))
	c.st.derived++
	w, col := c.quote("_w"), c.quote(cols[0])
	c.derived = append(c.derived, fmt.Sprintf("LEFT JOIN (SELECT DISTINCT %s.%s FROM (%s) AS %s) AS %s ON %s = %s.%s",
		w, col, sql, w, alias, lhs, alias, col))
	return alias + "." + col + " IS NOT NULL", true, nil
}

// subselect compiles q as a subquery selecting its projection or its
// primary key.
func (c *Compiler) subselect(q *query.Query) (string, []string, error) {
	sub := c.child()
	sel, err := sub.compound(q, selectOpts{keys: len(q.Projection()) == 0, nested: true})
	if err != nil {
		return "", nil, err
	}
	return sel.sql, sel.columns, nil
}

// whereSQL compiles the conjuncts of q that do not reference aggregates and,
// separately, those that do.
func (c *Compiler) whereSQL(q *expr.Q) (where, having string, err error) {
	var wh, hv []string
	for _, cj := range q.Conjuncts() {
		sql, err := cj.SQL(c)
		if err != nil {
			return "", "", err
		}
		if sql == "" {
			continue
		}
		if !cj.IsLeaf() && cj.IsOr() && !cj.Negated() {
			sql = "(" + sql + ")"
		}
		if c.aggregated(cj) {
			hv = append(hv, sql)
		} else {
			wh = append(wh, sql)
		}
	}
	return strings.Join(wh, " AND "), strings.Join(hv, " AND "), nil
}

// aggregated reports whether q references an aggregate annotation or
// compares against an aggregate.
func (c *Compiler) aggregated(q *expr.Q) bool {
	if q.IsLeaf() {
		path, v := q.Leaf()
		if e, ok := c.annotations[strings.SplitN(path, "__", 2)[0]]; ok && expr.IsAggregate(e) {
			return true
		}
		e, ok := v.(expr.Expr)
		return ok && expr.IsAggregate(e)
	}
	for _, ch := range q.Children() {
		if c.aggregated(ch) {
			return true
		}
	}
	return false
}

// renumber shifts the :N placeholders of sql by offset. Quoted strings and
// identifiers are copied unchanged.
func renumber(sql string, offset int) string {
	if offset == 0 {
		return sql
	}
	var b strings.Builder
	for i := 0; i < len(sql); i++ {
		ch := sql[i]
		switch {
		case ch == '\'' || ch == '"' || ch == '`':
			end := strings.IndexByte(sql[i+1:], ch)
			if end < 0 {
				b.WriteString(sql[i:])
				return b.String()
			}
			b.WriteString(sql[i : i+end+2])
			i += end + 1
		case ch == ':' && i+1 < len(sql) && isDigit(sql[i+1]):
			j := i + 1
			for j < len(sql) && isDigit(sql[j]) {
				j++
			}
			n, _ := strconv.Atoi(sql[i+1 : j])
			b.WriteString(":" + strconv.Itoa(n+offset))
			i = j - 1
		default:
			b.WriteByte(ch)
		}
	}
	return b.String()
}

func isDigit(b byte) bool { return b >= '0' && b <= '9' }
