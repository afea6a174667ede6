package expr

import (
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/syssam/strata"
	"github.com/syssam/strata/schema/field"
)

// Flavor renders the dialect-specific parts of lookups and transforms.
type Flavor interface {
	Name() string
	Quote(ident string) string
	// Fold renders a case-insensitive comparison of two text operands.
	Fold(lhs, op, rhs string) string
	// FoldIn renders a case-insensitive IN over text operands.
	FoldIn(lhs string, list []string) string
	// Like renders a case-insensitive LIKE whose pattern escapes with "\".
	Like(lhs, pattern string) string
	// Regex renders a case-sensitive regular expression match.
	Regex(lhs, pattern string) string
	// Extract renders the year, month or day of a datetime as an integer.
	Extract(unit, lhs string) string
	// Length renders the character length of a text operand.
	Length(lhs string) string
}

// Lookup is a comparison operator usable as the last segment of a field
// path, e.g. "price__gt".
type Lookup struct {
	Name string
	// Raw lookups receive the right-hand side as given. Others receive it
	// converted to the storage form of the field.
	Raw bool
	// Multi lookups take a list on the right-hand side.
	Multi bool
	// NullSafe lookups are evaluated against a nil left-hand side instead of
	// yielding an unknown result.
	NullSafe bool
	SQL      func(c Compiler, lhs Operand, rhs any) (string, error)
	Eval     func(lhs Operand, l, r any) (bool, error)
}

// Transform maps a value to another one before it is compared, e.g.
// "created__year__gte".
type Transform struct {
	Name   string
	Output field.Kind
	SQL    func(f Flavor, lhs string) string
	Eval   func(v any) (any, error)
}

// Registry maps field kinds to the lookups and transforms valid for them. A
// name registered for a kind applies to all kinds below it. It is safe for
// concurrent use.
type Registry struct {
	mu         sync.RWMutex
	lookups    map[field.Kind]map[string]*Lookup
	transforms map[field.Kind]map[string]*Transform
}

// NewRegistry returns a registry holding the builtin lookups and transforms.
func NewRegistry() *Registry {
	r := &Registry{
		lookups:    make(map[field.Kind]map[string]*Lookup),
		transforms: make(map[field.Kind]map[string]*Transform),
	}
	for _, l := range []*Lookup{exactLookup, inLookup, rangeLookup, isNullLookup} {
		r.Register(field.KindAny, l)
	}
	for _, op := range []struct{ name, op string }{{"gt", ">"}, {"gte", ">="}, {"lt", "<"}, {"lte", "<="}} {
		r.Register(field.KindAny, compareLookup(op.name, op.op))
	}
	for _, l := range []*Lookup{
		patternLookup("contains", func(s string) string { return "%" + escapeLike(s) + "%" }, strings.Contains),
		patternLookup("startswith", func(s string) string { return escapeLike(s) + "%" }, strings.HasPrefix),
		patternLookup("endswith", func(s string) string { return "%" + escapeLike(s) }, strings.HasSuffix),
		likeLookup,
		regexLookup,
	} {
		r.Register(field.KindText, l)
	}
	r.Register(field.KindInteger, hasBitLookup)
	for _, unit := range []string{"year", "month", "day"} {
		r.RegisterTransform(field.KindTime, extractTransform(unit))
	}
	r.RegisterTransform(field.KindText, lengthTransform)
	return r
}

// Register adds a lookup for kind and its descendants, replacing any lookup
// of the same name registered for kind itself.
func (r *Registry) Register(kind field.Kind, l *Lookup) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.lookups[kind] == nil {
		r.lookups[kind] = make(map[string]*Lookup)
	}
	r.lookups[kind][l.Name] = l
}

// RegisterTransform adds a transform for kind and its descendants.
func (r *Registry) RegisterTransform(kind field.Kind, t *Transform) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.transforms[kind] == nil {
		r.transforms[kind] = make(map[string]*Transform)
	}
	r.transforms[kind][t.Name] = t
}

// Lookup returns the lookup name for kind, searching up the kind tree.
func (r *Registry) Lookup(kind field.Kind, name string) (*Lookup, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for k := kind; k != field.KindInvalid; k = k.Parent() {
		if l, ok := r.lookups[k][name]; ok {
			return l, nil
		}
	}
	return nil, &strata.UnsupportedLookupError{Lookup: name, Kind: kind.String()}
}

// Transform returns the transform name for kind, searching up the kind tree.
func (r *Registry) Transform(kind field.Kind, name string) (*Transform, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for k := kind; k != field.KindInvalid; k = k.Parent() {
		if t, ok := r.transforms[k][name]; ok {
			return t, true
		}
	}
	return nil, false
}

// splitLookup interprets the segments left after path resolution: any
// number of transforms followed by at most one lookup, "exact" by default.
func splitLookup(reg *Registry, kind field.Kind, rest []string) ([]*Transform, *Lookup, error) {
	var ts []*Transform
	for i, seg := range rest {
		if t, ok := reg.Transform(kind, seg); ok {
			ts = append(ts, t)
			kind = t.Output
			continue
		}
		if i != len(rest)-1 {
			return nil, nil, &strata.UnsupportedLookupError{Lookup: seg, Kind: kind.String()}
		}
		l, err := reg.Lookup(kind, seg)
		return ts, l, err
	}
	l, err := reg.Lookup(kind, "exact")
	return ts, l, err
}

func transformChain(reg *Registry, kind field.Kind, rest []string) ([]*Transform, error) {
	ts := make([]*Transform, 0, len(rest))
	for _, seg := range rest {
		t, ok := reg.Transform(kind, seg)
		if !ok {
			return nil, &strata.UnsupportedLookupError{Lookup: seg, Kind: kind.String()}
		}
		ts = append(ts, t)
		kind = t.Output
	}
	return ts, nil
}

func applyTransforms(reg *Registry, op Operand, rest []string, f Flavor) (Operand, error) {
	ts, err := transformChain(reg, op.Kind, rest)
	if err != nil {
		return op, err
	}
	for _, t := range ts {
		op = Operand{SQL: t.SQL(f, op.SQL), Kind: t.Output}
	}
	return op, nil
}

// Keyed is implemented by model instances. Comparing a relationship to an
// instance compares against its primary key.
type Keyed interface {
	PrimaryKey() []any
}

func keyOf(v any) (any, error) {
	k, ok := v.(Keyed)
	if !ok {
		return v, nil
	}
	pk := k.PrimaryKey()
	if len(pk) != 1 {
		return nil, fmt.Errorf("expr: instance with a %d-column primary key used as a value", len(pk))
	}
	return pk[0], nil
}

// Subquery is implemented by query descriptors. A subquery used as a value
// is rendered in place by the compiler.
type Subquery interface {
	ModelName() string
}

// storeValue converts a right-hand side value to the storage form of d.
func storeValue(d *field.Descriptor, v any) (any, error) {
	switch v.(type) {
	case nil, Expr, Subquery:
		return v, nil
	}
	v, err := keyOf(v)
	if err != nil {
		return nil, err
	}
	n, err := d.Normalize(v)
	if err != nil {
		return nil, err
	}
	return d.ToDB(n)
}

// hostValue converts a right-hand side value to the canonical host form of d.
func hostValue(d *field.Descriptor, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	v, err := keyOf(v)
	if err != nil {
		return nil, err
	}
	if d == nil {
		return v, nil
	}
	return d.Normalize(v)
}

// listOf returns the elements of a slice value. Byte slices and strings are
// scalars.
func listOf(v any) ([]any, bool) {
	if l, ok := v.([]any); ok {
		return l, true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	if rv.Type().Elem().Kind() == reflect.Uint8 {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

func mapList(v any, fn func(any) (any, error)) (any, error) {
	list, ok := listOf(v)
	if !ok {
		return v, nil
	}
	out := make([]any, len(list))
	for i, x := range list {
		y, err := fn(x)
		if err != nil {
			return nil, err
		}
		out[i] = y
	}
	return out, nil
}

// folds reports whether comparisons on kind ignore case.
func folds(k field.Kind) bool { return k == field.KindText }

func textOf(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case []byte:
		return string(x)
	case fmt.Stringer:
		return x.String()
	}
	return fmt.Sprint(v)
}

var exactLookup = &Lookup{
	Name: "exact",
	SQL: func(c Compiler, lhs Operand, rhs any) (string, error) {
		p, err := c.Input(rhs)
		if err != nil {
			return "", err
		}
		if folds(lhs.Kind) {
			return c.Flavor().Fold(lhs.SQL, "=", p), nil
		}
		return lhs.SQL + " = " + p, nil
	},
	Eval: func(lhs Operand, l, r any) (bool, error) {
		if folds(lhs.Kind) {
			return Fold(textOf(l)) == Fold(textOf(r)), nil
		}
		return Equal(l, r), nil
	},
}

func compareLookup(name, op string) *Lookup {
	return &Lookup{
		Name: name,
		SQL: func(c Compiler, lhs Operand, rhs any) (string, error) {
			p, err := c.Input(rhs)
			if err != nil {
				return "", err
			}
			if folds(lhs.Kind) {
				return c.Flavor().Fold(lhs.SQL, op, p), nil
			}
			return lhs.SQL + " " + op + " " + p, nil
		},
		Eval: func(lhs Operand, l, r any) (bool, error) {
			var (
				n   int
				err error
			)
			if folds(lhs.Kind) {
				n = CompareFolded(textOf(l), textOf(r))
			} else if n, err = Compare(l, r); err != nil {
				return false, err
			}
			switch op {
			case ">":
				return n > 0, nil
			case ">=":
				return n >= 0, nil
			case "<":
				return n < 0, nil
			}
			return n <= 0, nil
		},
	}
}

var inLookup = &Lookup{
	Name:  "in",
	Multi: true,
	SQL: func(c Compiler, lhs Operand, rhs any) (string, error) {
		if sql, ok, err := c.InSubquery(lhs.SQL, rhs); ok || err != nil {
			return sql, err
		}
		list, ok := listOf(rhs)
		if !ok {
			return "", fmt.Errorf("expr: in lookup needs a list or a query, got %T", rhs)
		}
		if len(list) == 0 {
			return "1=0", nil
		}
		ps := make([]string, len(list))
		for i, v := range list {
			p, err := c.Input(v)
			if err != nil {
				return "", err
			}
			ps[i] = p
		}
		if folds(lhs.Kind) {
			return c.Flavor().FoldIn(lhs.SQL, ps), nil
		}
		return lhs.SQL + " IN (" + strings.Join(ps, ", ") + ")", nil
	},
	Eval: func(lhs Operand, l, r any) (bool, error) {
		list, ok := listOf(r)
		if !ok {
			return false, fmt.Errorf("expr: in lookup needs a list, got %T", r)
		}
		for _, x := range list {
			if x == nil {
				continue
			}
			if ok, _ := exactLookup.Eval(lhs, l, x); ok {
				return true, nil
			}
		}
		return false, nil
	},
}

func rangeBounds(rhs any) (lo, hi any, err error) {
	list, ok := listOf(rhs)
	if !ok || len(list) != 2 {
		return nil, nil, fmt.Errorf("expr: range lookup needs exactly two values, got %v", rhs)
	}
	return list[0], list[1], nil
}

var rangeLookup = &Lookup{
	Name:  "range",
	Multi: true,
	SQL: func(c Compiler, lhs Operand, rhs any) (string, error) {
		lo, hi, err := rangeBounds(rhs)
		if err != nil {
			return "", err
		}
		pl, err := c.Input(lo)
		if err != nil {
			return "", err
		}
		ph, err := c.Input(hi)
		if err != nil {
			return "", err
		}
		if folds(lhs.Kind) {
			f := c.Flavor()
			return "(" + f.Fold(lhs.SQL, ">=", pl) + " AND " + f.Fold(lhs.SQL, "<=", ph) + ")", nil
		}
		return lhs.SQL + " BETWEEN " + pl + " AND " + ph, nil
	},
	Eval: func(lhs Operand, l, r any) (bool, error) {
		lo, hi, err := rangeBounds(r)
		if err != nil {
			return false, err
		}
		gte, lte := compareLookup("gte", ">="), compareLookup("lte", "<=")
		ok, err := gte.Eval(lhs, l, lo)
		if err != nil || !ok {
			return false, err
		}
		return lte.Eval(lhs, l, hi)
	},
}

var isNullLookup = &Lookup{
	Name:     "isnull",
	Raw:      true,
	NullSafe: true,
	SQL: func(_ Compiler, lhs Operand, rhs any) (string, error) {
		b, ok := rhs.(bool)
		if !ok {
			return "", fmt.Errorf("expr: isnull lookup needs a bool, got %T", rhs)
		}
		if b {
			return lhs.SQL + " IS NULL", nil
		}
		return lhs.SQL + " IS NOT NULL", nil
	},
	Eval: func(_ Operand, l, r any) (bool, error) {
		b, ok := r.(bool)
		if !ok {
			return false, fmt.Errorf("expr: isnull lookup needs a bool, got %T", r)
		}
		return (l == nil) == b, nil
	},
}

func patternLookup(name string, pattern func(string) string, match func(s, sub string) bool) *Lookup {
	return &Lookup{
		Name: name,
		Raw:  true,
		SQL: func(c Compiler, lhs Operand, rhs any) (string, error) {
			s, ok := rhs.(string)
			if !ok {
				return "", fmt.Errorf("expr: %s lookup needs a string, got %T", name, rhs)
			}
			p, err := c.Input(pattern(s))
			if err != nil {
				return "", err
			}
			return c.Flavor().Like(lhs.SQL, p), nil
		},
		Eval: func(_ Operand, l, r any) (bool, error) {
			s, ok := r.(string)
			if !ok {
				return false, fmt.Errorf("expr: %s lookup needs a string, got %T", name, r)
			}
			return match(Fold(textOf(l)), Fold(s)), nil
		},
	}
}

var likeLookup = &Lookup{
	Name: "like",
	Raw:  true,
	SQL: func(c Compiler, lhs Operand, rhs any) (string, error) {
		s, ok := rhs.(string)
		if !ok {
			return "", fmt.Errorf("expr: like lookup needs a string, got %T", rhs)
		}
		p, err := c.Input(s)
		if err != nil {
			return "", err
		}
		return c.Flavor().Like(lhs.SQL, p), nil
	},
	Eval: func(_ Operand, l, r any) (bool, error) {
		s, ok := r.(string)
		if !ok {
			return false, fmt.Errorf("expr: like lookup needs a string, got %T", r)
		}
		re, err := likeRegexp(Fold(s))
		if err != nil {
			return false, err
		}
		return re.MatchString(Fold(textOf(l))), nil
	},
}

var regexLookup = &Lookup{
	Name: "regex",
	Raw:  true,
	SQL: func(c Compiler, lhs Operand, rhs any) (string, error) {
		s, ok := rhs.(string)
		if !ok {
			return "", fmt.Errorf("expr: regex lookup needs a string, got %T", rhs)
		}
		if _, err := regexp.Compile(s); err != nil {
			return "", fmt.Errorf("expr: regex lookup: %w", err)
		}
		p, err := c.Input(s)
		if err != nil {
			return "", err
		}
		return c.Flavor().Regex(lhs.SQL, p), nil
	},
	Eval: func(_ Operand, l, r any) (bool, error) {
		s, ok := r.(string)
		if !ok {
			return false, fmt.Errorf("expr: regex lookup needs a string, got %T", r)
		}
		re, err := regexp.Compile(s)
		if err != nil {
			return false, fmt.Errorf("expr: regex lookup: %w", err)
		}
		return re.MatchString(textOf(l)), nil
	},
}

var hasBitLookup = &Lookup{
	Name: "hasbit",
	SQL: func(c Compiler, lhs Operand, rhs any) (string, error) {
		p, err := c.Input(rhs)
		if err != nil {
			return "", err
		}
		return "(" + lhs.SQL + " & " + p + ") <> 0", nil
	},
	Eval: func(_ Operand, l, r any) (bool, error) {
		li, err := field.AsInt64(l)
		if err != nil {
			return false, err
		}
		ri, err := field.AsInt64(r)
		if err != nil {
			return false, err
		}
		return li&ri != 0, nil
	},
}

func extractTransform(unit string) *Transform {
	return &Transform{
		Name:   unit,
		Output: field.KindInteger,
		SQL:    func(f Flavor, lhs string) string { return f.Extract(unit, lhs) },
		Eval: func(v any) (any, error) {
			t, ok := v.(time.Time)
			if !ok {
				return nil, fmt.Errorf("expr: %s transform needs a time, got %T", unit, v)
			}
			switch unit {
			case "year":
				return int64(t.Year()), nil
			case "month":
				return int64(t.Month()), nil
			}
			return int64(t.Day()), nil
		},
	}
}

var lengthTransform = &Transform{
	Name:   "length",
	Output: field.KindInteger,
	SQL:    func(f Flavor, lhs string) string { return f.Length(lhs) },
	Eval: func(v any) (any, error) {
		return int64(len([]rune(textOf(v)))), nil
	},
}

// escapeLike escapes the LIKE wildcards of s with backslashes.
func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

// likeRegexp translates a LIKE pattern into an anchored, case-insensitive
// regular expression.
func likeRegexp(pattern string) (*regexp.Regexp, error) {
	var b strings.Builder
	b.WriteString(`(?is)^`)
	escaped := false
	for _, r := range pattern {
		switch {
		case escaped:
			b.WriteString(regexp.QuoteMeta(string(r)))
			escaped = false
		case r == '\\':
			escaped = true
		case r == '%':
			b.WriteString(".*")
		case r == '_':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteString("$")
	return regexp.Compile(b.String())
}
