package expr

import (
	"fmt"
	"slices"
	"strings"
)

// Q is a boolean tree of field constraints. A leaf holds one "path__lookup"
// constraint; inner nodes combine their children with AND or OR. Any node
// may be negated. Q values are immutable.
type Q struct {
	path     string
	value    any
	children []*Q
	or       bool
	not      bool
}

// Cond returns a leaf constraint, e.g. Cond("price__gt", 2).
func Cond(path string, value any) *Q {
	return &Q{path: path, value: value}
}

// Match returns the AND of one leaf per map entry, in key order.
func Match(m map[string]any) *Q {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	q := &Q{}
	for _, k := range keys {
		q.children = append(q.children, Cond(k, m[k]))
	}
	return q
}

// And returns the conjunction of qs.
func And(qs ...*Q) *Q { return &Q{children: compact(qs)} }

// Or returns the disjunction of qs.
func Or(qs ...*Q) *Q { return &Q{children: compact(qs), or: true} }

// Not returns the negation of q.
func Not(q *Q) *Q {
	c := *q
	c.not = !c.not
	return &c
}

func compact(qs []*Q) []*Q {
	out := make([]*Q, 0, len(qs))
	for _, q := range qs {
		if q != nil {
			out = append(out, q)
		}
	}
	return out
}

// And returns the conjunction of q and others.
func (q *Q) And(others ...*Q) *Q { return And(append([]*Q{q}, others...)...) }

// Or returns the disjunction of q and others.
func (q *Q) Or(others ...*Q) *Q { return Or(append([]*Q{q}, others...)...) }

// IsLeaf reports whether q is a single constraint.
func (q *Q) IsLeaf() bool { return q.path != "" }

// Leaf returns the path and value of a leaf.
func (q *Q) Leaf() (string, any) { return q.path, q.value }

// Children returns the children of an inner node.
func (q *Q) Children() []*Q { return q.children }

// IsOr reports whether an inner node is a disjunction.
func (q *Q) IsOr() bool { return q.or }

// Negated reports whether q is negated.
func (q *Q) Negated() bool { return q.not }

// Empty reports whether q constrains nothing.
func (q *Q) Empty() bool {
	if q == nil {
		return true
	}
	if q.IsLeaf() {
		return false
	}
	for _, c := range q.children {
		if !c.Empty() {
			return false
		}
	}
	return true
}

// Paths returns the field paths of every leaf below q.
func (q *Q) Paths() []string {
	if q == nil {
		return nil
	}
	if q.IsLeaf() {
		return []string{q.path}
	}
	var out []string
	for _, c := range q.children {
		out = append(out, c.Paths()...)
	}
	return out
}

// Conjuncts splits q into the parts of its top-level AND. A negated node
// or a disjunction is a single conjunct.
func (q *Q) Conjuncts() []*Q {
	if q == nil {
		return nil
	}
	if q.IsLeaf() || q.not || q.or {
		return []*Q{q}
	}
	var out []*Q
	for _, c := range q.children {
		out = append(out, c.Conjuncts()...)
	}
	return out
}

// String returns a readable form of q for diagnostics.
func (q *Q) String() string {
	var s string
	switch {
	case q.IsLeaf():
		s = fmt.Sprintf("%s=%v", q.path, q.value)
	default:
		parts := make([]string, len(q.children))
		for i, c := range q.children {
			parts[i] = c.String()
		}
		sep := " AND "
		if q.or {
			sep = " OR "
		}
		s = "(" + strings.Join(parts, sep) + ")"
	}
	if q.not {
		return "NOT " + s
	}
	return s
}

// SQL renders q as a predicate. An empty tree renders as "".
func (q *Q) SQL(c Compiler) (string, error) {
	s, _, err := q.sql(c)
	return s, err
}

func (q *Q) sql(c Compiler) (s string, atomic bool, err error) {
	if q == nil {
		return "", true, nil
	}
	if q.IsLeaf() {
		if s, err = compileLeaf(c, q.path, q.value); err != nil {
			return "", false, err
		}
		atomic = true
	} else {
		parts := make([]string, 0, len(q.children))
		for _, ch := range q.children {
			cs, a, err := ch.sql(c)
			if err != nil {
				return "", false, err
			}
			if cs == "" {
				continue
			}
			if !a {
				cs = "(" + cs + ")"
			}
			parts = append(parts, cs)
		}
		switch len(parts) {
		case 0:
			return "", true, nil
		case 1:
			s, atomic = parts[0], true
		default:
			sep := " AND "
			if q.or {
				sep = " OR "
			}
			s = strings.Join(parts, sep)
		}
	}
	if q.not {
		return "NOT (" + s + ")", true, nil
	}
	return s, atomic, nil
}

func compileLeaf(c Compiler, path string, v any) (string, error) {
	op, rest, err := c.Resolve(path)
	if err != nil {
		return "", err
	}
	ts, l, err := splitLookup(c.Lookups(), op.Kind, rest)
	if err != nil {
		return "", err
	}
	for _, t := range ts {
		op = Operand{SQL: t.SQL(c.Flavor(), op.SQL), Kind: t.Output}
	}
	if v == nil {
		if l.Name != "exact" && !l.NullSafe {
			return "", fmt.Errorf("expr: nil value for lookup %q on %q", l.Name, path)
		}
		if l.Name == "exact" {
			return isNullLookup.SQL(c, op, true)
		}
	}
	if !l.Raw && op.Field != nil {
		conv := func(x any) (any, error) { return storeValue(op.Field, x) }
		if l.Multi {
			v, err = mapList(v, conv)
		} else {
			v, err = conv(v)
		}
		if err != nil {
			return "", fmt.Errorf("expr: %s: %w", path, err)
		}
	}
	return l.SQL(c, op, v)
}

type truth int8

const (
	unknown truth = iota
	no
	yes
)

func (t truth) not() truth {
	switch t {
	case yes:
		return no
	case no:
		return yes
	}
	return unknown
}

// Eval evaluates q against an in-memory record with the same three-valued
// logic SQL applies to NULLs: the record matches only when q is true.
func (q *Q) Eval(env Env) (bool, error) {
	t, err := q.eval(env)
	return t == yes, err
}

func (q *Q) eval(env Env) (truth, error) {
	if q == nil {
		return yes, nil
	}
	var t truth
	if q.IsLeaf() {
		var err error
		if t, err = evalLeaf(env, q.path, q.value); err != nil {
			return unknown, err
		}
	} else {
		t = yes
		if q.or {
			t = no
		}
		nonEmpty := false
		for _, ch := range q.children {
			if ch.Empty() {
				continue
			}
			nonEmpty = true
			ct, err := ch.eval(env)
			if err != nil {
				return unknown, err
			}
			t = combine(t, ct, q.or)
		}
		if !nonEmpty {
			t = yes
		}
	}
	if q.not {
		return t.not(), nil
	}
	return t, nil
}

func combine(a, b truth, or bool) truth {
	if or {
		if a == yes || b == yes {
			return yes
		}
		if a == unknown || b == unknown {
			return unknown
		}
		return no
	}
	if a == no || b == no {
		return no
	}
	if a == unknown || b == unknown {
		return unknown
	}
	return yes
}

func evalLeaf(env Env, path string, v any) (truth, error) {
	vals, op, rest, err := env.Resolve(path)
	if err != nil {
		return unknown, err
	}
	ts, l, err := splitLookup(env.Lookups(), op.Kind, rest)
	if err != nil {
		return unknown, err
	}
	d := op.Field
	kind := op.Kind
	if len(ts) > 0 {
		d, kind = nil, ts[len(ts)-1].Output
	}
	switch x := v.(type) {
	case Expr:
		if v, err = x.Eval(env); err != nil {
			return unknown, err
		}
	case Subquery:
		return unknown, fmt.Errorf("expr: %s: subqueries cannot be evaluated in memory", path)
	}
	if v == nil {
		if l.Name != "exact" && !l.NullSafe {
			return unknown, fmt.Errorf("expr: nil value for lookup %q on %q", l.Name, path)
		}
		if l.Name == "exact" {
			l, v = isNullLookup, true
		}
	}
	if !l.Raw {
		conv := func(x any) (any, error) { return hostValue(d, x) }
		if l.Multi {
			v, err = mapList(v, conv)
		} else {
			v, err = conv(v)
		}
		if err != nil {
			return unknown, fmt.Errorf("expr: %s: %w", path, err)
		}
	}
	if len(vals) == 0 {
		vals = []any{nil}
	}
	lhs := Operand{Kind: kind, Field: d}
	result := no
	for _, x := range vals {
		for _, tr := range ts {
			if x == nil {
				break
			}
			if x, err = tr.Eval(x); err != nil {
				return unknown, err
			}
		}
		t := no
		switch {
		case l.Name == "in" && isEmptyList(v):
		case x == nil && !l.NullSafe:
			t = unknown
		default:
			ok, err := l.Eval(lhs, x, v)
			if err != nil {
				return unknown, err
			}
			if ok {
				t = yes
			}
		}
		result = combine(result, t, true)
	}
	return result, nil
}

func isEmptyList(v any) bool {
	l, ok := listOf(v)
	return ok && len(l) == 0
}
