package expr

import (
	"errors"
	"fmt"
	"strings"

	"github.com/syssam/strata/schema/field"
)

// ErrAggregateEval is returned when an aggregate is evaluated against a
// single record.
var ErrAggregateEval = errors.New("expr: aggregates cannot be evaluated per record")

// Expr is a value expression. It renders itself as SQL against a compiler,
// or evaluates itself against an in-memory record.
type Expr interface {
	SQL(c Compiler) (string, error)
	Eval(env Env) (any, error)
}

// Compiler is the statement-building side expressions render against. A
// compiler is scoped to a single statement.
type Compiler interface {
	Flavor() Flavor
	Lookups() *Registry
	// Input binds v as a new positional parameter and returns its
	// placeholder. Expressions and subqueries passed as v are rendered in
	// place instead.
	Input(v any) (string, error)
	// Resolve walks the relationship part of path, emitting joins as needed,
	// and returns the column or annotation it ends at together with the
	// segments left unconsumed (transforms and the lookup name).
	Resolve(path string) (Operand, []string, error)
	// InSubquery renders "lhs IN sub" when sub is a query; ok is false for
	// every other value.
	InSubquery(lhs string, sub any) (sql string, ok bool, err error)
}

// Env resolves field paths against an in-memory record.
type Env interface {
	Lookups() *Registry
	// Resolve returns the values the relationship part of path reaches
	// (several across to-many relations), the operand describing them and
	// the unconsumed segments.
	Resolve(path string) ([]any, Operand, []string, error)
}

// Operand is the left-hand side of a lookup.
type Operand struct {
	// SQL is the rendered column reference. It is empty during in-memory
	// evaluation.
	SQL  string
	Kind field.Kind
	// Field is the described column, or nil for annotations and transform
	// outputs.
	Field *field.Descriptor
}

type (
	fieldRef struct{ path string }
	value    struct{ v any }
	raw      struct {
		sql  string
		args []any
	}
	call struct {
		name string
		args []any
	}
	arith struct {
		op   string
		l, r any
	}
)

// F references the field, relation path or annotation alias named by path.
func F(path string) Expr { return fieldRef{path: path} }

// V wraps a constant so it is bound as a parameter.
func V(v any) Expr { return value{v: v} }

// Raw is literal SQL. Each "?" is replaced by the next argument, bound as a
// parameter.
func Raw(sql string, args ...any) Expr { return raw{sql: sql, args: args} }

// Func calls the SQL function name. Arguments that are not expressions are
// bound as parameters.
func Func(name string, args ...any) Expr { return call{name: name, args: args} }

// Add returns l + r.
func Add(l, r any) Expr { return arith{op: "+", l: l, r: r} }

// Sub returns l - r.
func Sub(l, r any) Expr { return arith{op: "-", l: l, r: r} }

// Mul returns l * r.
func Mul(l, r any) Expr { return arith{op: "*", l: l, r: r} }

// Div returns l / r.
func Div(l, r any) Expr { return arith{op: "/", l: l, r: r} }

// Path returns the path of a field reference.
func Path(e Expr) (string, bool) {
	f, ok := e.(fieldRef)
	return f.path, ok
}

func (f fieldRef) SQL(c Compiler) (string, error) {
	op, rest, err := c.Resolve(f.path)
	if err != nil {
		return "", err
	}
	if len(rest) == 0 {
		return op.SQL, nil
	}
	out, err := applyTransforms(c.Lookups(), op, rest, c.Flavor())
	if err != nil {
		return "", err
	}
	return out.SQL, nil
}

func (f fieldRef) Eval(env Env) (any, error) {
	vals, op, rest, err := env.Resolve(f.path)
	if err != nil {
		return nil, err
	}
	var v any
	if len(vals) > 0 {
		v = vals[0]
	}
	if len(rest) == 0 {
		return v, nil
	}
	ts, err := transformChain(env.Lookups(), op.Kind, rest)
	if err != nil {
		return nil, err
	}
	for _, t := range ts {
		if v == nil {
			return nil, nil
		}
		if v, err = t.Eval(v); err != nil {
			return nil, err
		}
	}
	return v, nil
}

func (v value) SQL(c Compiler) (string, error) { return c.Input(v.v) }
func (v value) Eval(Env) (any, error)          { return v.v, nil }

func (r raw) SQL(c Compiler) (string, error) {
	if len(r.args) == 0 {
		return r.sql, nil
	}
	var b strings.Builder
	i := 0
	for _, ch := range r.sql {
		if ch != '?' {
			b.WriteRune(ch)
			continue
		}
		if i >= len(r.args) {
			return "", fmt.Errorf("expr: raw sql %q has more placeholders than arguments", r.sql)
		}
		p, err := c.Input(r.args[i])
		if err != nil {
			return "", err
		}
		b.WriteString(p)
		i++
	}
	if i != len(r.args) {
		return "", fmt.Errorf("expr: raw sql %q has %d placeholders for %d arguments", r.sql, i, len(r.args))
	}
	return b.String(), nil
}

func (r raw) Eval(Env) (any, error) {
	return nil, fmt.Errorf("expr: raw sql %q cannot be evaluated in memory", r.sql)
}

func (f call) SQL(c Compiler) (string, error) {
	args := make([]string, len(f.args))
	for i, a := range f.args {
		s, err := c.Input(a)
		if err != nil {
			return "", err
		}
		args[i] = s
	}
	return f.name + "(" + strings.Join(args, ", ") + ")", nil
}

func (f call) Eval(env Env) (any, error) {
	args := make([]any, len(f.args))
	for i, a := range f.args {
		v, err := evalOperand(env, a)
		if err != nil {
			return nil, err
		}
		args[i] = v
	}
	switch strings.ToUpper(f.name) {
	case "COALESCE":
		for _, a := range args {
			if a != nil {
				return a, nil
			}
		}
		return nil, nil
	case "LOWER":
		if s, ok := args[0].(string); ok {
			return strings.ToLower(s), nil
		}
	case "UPPER":
		if s, ok := args[0].(string); ok {
			return strings.ToUpper(s), nil
		}
	}
	return nil, fmt.Errorf("expr: function %s cannot be evaluated in memory", f.name)
}

func (a arith) SQL(c Compiler) (string, error) {
	l, err := c.Input(a.l)
	if err != nil {
		return "", err
	}
	r, err := c.Input(a.r)
	if err != nil {
		return "", err
	}
	return "(" + l + " " + a.op + " " + r + ")", nil
}

func (a arith) Eval(env Env) (any, error) {
	l, err := evalOperand(env, a.l)
	if err != nil {
		return nil, err
	}
	r, err := evalOperand(env, a.r)
	if err != nil {
		return nil, err
	}
	if l == nil || r == nil {
		return nil, nil
	}
	li, lok := l.(int64)
	ri, rok := r.(int64)
	if lok && rok && a.op != "/" {
		switch a.op {
		case "+":
			return li + ri, nil
		case "-":
			return li - ri, nil
		case "*":
			return li * ri, nil
		}
	}
	ld, err := field.AsDecimal(l)
	if err != nil {
		return nil, err
	}
	rd, err := field.AsDecimal(r)
	if err != nil {
		return nil, err
	}
	switch a.op {
	case "+":
		return ld.Add(rd), nil
	case "-":
		return ld.Sub(rd), nil
	case "*":
		return ld.Mul(rd), nil
	}
	if rd.IsZero() {
		return nil, nil
	}
	return ld.DivRound(rd, 16), nil
}

func evalOperand(env Env, v any) (any, error) {
	if e, ok := v.(Expr); ok {
		return e.Eval(env)
	}
	return v, nil
}

// Aggregate is an expression computed over a group of rows.
type Aggregate struct {
	Func     string
	Arg      Expr
	Distinct bool
}

// Sum returns SUM(e). Strings are field paths.
func Sum(e any) *Aggregate { return &Aggregate{Func: "SUM", Arg: toExpr(e)} }

// Avg returns AVG(e).
func Avg(e any) *Aggregate { return &Aggregate{Func: "AVG", Arg: toExpr(e)} }

// Min returns MIN(e).
func Min(e any) *Aggregate { return &Aggregate{Func: "MIN", Arg: toExpr(e)} }

// Max returns MAX(e).
func Max(e any) *Aggregate { return &Aggregate{Func: "MAX", Arg: toExpr(e)} }

// Count returns COUNT(e), or COUNT(*) when e is nil.
func Count(e any) *Aggregate {
	if e == nil {
		return &Aggregate{Func: "COUNT"}
	}
	return &Aggregate{Func: "COUNT", Arg: toExpr(e)}
}

// CountDistinct returns COUNT(DISTINCT e).
func CountDistinct(e any) *Aggregate {
	return &Aggregate{Func: "COUNT", Arg: toExpr(e), Distinct: true}
}

func toExpr(v any) Expr {
	switch v := v.(type) {
	case Expr:
		return v
	case string:
		return F(v)
	}
	return V(v)
}

// SQL implements Expr.
func (a *Aggregate) SQL(c Compiler) (string, error) {
	if a.Arg == nil {
		return a.Func + "(*)", nil
	}
	s, err := a.Arg.SQL(c)
	if err != nil {
		return "", err
	}
	if a.Distinct {
		s = "DISTINCT " + s
	}
	return a.Func + "(" + s + ")", nil
}

// Eval implements Expr.
func (a *Aggregate) Eval(Env) (any, error) { return nil, ErrAggregateEval }

// IsAggregate reports whether e is or contains an aggregate.
func IsAggregate(e Expr) bool {
	switch e := e.(type) {
	case *Aggregate:
		return true
	case arith:
		return isAggregateOperand(e.l) || isAggregateOperand(e.r)
	case call:
		for _, a := range e.args {
			if isAggregateOperand(a) {
				return true
			}
		}
	}
	return false
}

func isAggregateOperand(v any) bool {
	e, ok := v.(Expr)
	return ok && IsAggregate(e)
}

// Order is a sort key.
type Order struct {
	Expr Expr
	Desc bool
}

// Asc sorts by e ascending. Strings are field paths.
func Asc(e any) Order { return Order{Expr: toExpr(e)} }

// Desc sorts by e descending.
func Desc(e any) Order { return Order{Expr: toExpr(e), Desc: true} }

// ParseOrder turns "field" or "-field" into an Order.
func ParseOrder(key string) Order {
	if p, ok := strings.CutPrefix(key, "-"); ok {
		return Desc(F(p))
	}
	return Asc(F(key))
}
