package record

import (
	"fmt"
	"strings"

	"github.com/syssam/strata"
	"github.com/syssam/strata/expr"
	"github.com/syssam/strata/schema"
	"github.com/syssam/strata/schema/field"
)

// Matcher evaluates constraint trees against loaded models with the same
// lookup semantics the SQL compiler uses.
type Matcher struct {
	Registry *schema.Registry
	Lookups  *expr.Registry
}

// Match reports whether m satisfies q. Relationships referenced by q must
// have been loaded, except that a direct relationship compared as a whole
// uses the local foreign key.
func (mt *Matcher) Match(m Model, q *expr.Q) (bool, error) {
	return q.Eval(&env{mt: mt, root: m})
}

// Filter returns the models of ms that satisfy q.
func (mt *Matcher) Filter(ms []Model, q *expr.Q) ([]Model, error) {
	out := make([]Model, 0, len(ms))
	for _, m := range ms {
		ok, err := mt.Match(m, q)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, m)
		}
	}
	return out, nil
}

type env struct {
	mt   *Matcher
	root Model
}

func (e *env) Lookups() *expr.Registry { return e.mt.Lookups }

func (e *env) Resolve(path string) ([]any, expr.Operand, []string, error) {
	segs := strings.Split(path, "__")
	if o, ok := e.root.(*Overlay); ok {
		if v, ok := o.Annotation(segs[0]); ok {
			return []any{v}, expr.Operand{Kind: field.KindAny}, segs[1:], nil
		}
	}
	meta := e.root.Meta()
	current := []*Instance{e.root.Instance()}
	for i, seg := range segs {
		if d, ok := meta.Field(seg); ok {
			vals := make([]any, 0, len(current))
			for _, inst := range current {
				v, err := inst.Get(seg)
				if err != nil {
					return nil, expr.Operand{}, nil, err
				}
				vals = append(vals, v)
			}
			return vals, expr.Operand{Kind: d.Kind, Field: d}, segs[i+1:], nil
		}
		j, ok, err := meta.Join(seg)
		if err != nil {
			return nil, expr.Operand{}, nil, err
		}
		if !ok {
			return nil, expr.Operand{}, nil, &strata.LookupError{Model: meta.Name, Segment: seg, Path: path}
		}
		target, err := e.mt.Registry.Metadata(j.Target)
		if err != nil {
			return nil, expr.Operand{}, nil, err
		}
		rest := segs[i+1:]
		if j.Kind == schema.JoinDirect && len(j.Local) == 1 && !continues(target, rest) {
			d, _ := meta.Field(j.Local[0])
			vals := make([]any, 0, len(current))
			for _, inst := range current {
				vals = append(vals, inst.values[j.Local[0]])
			}
			return vals, expr.Operand{Kind: d.Kind, Field: d}, rest, nil
		}
		var next []*Instance
		for _, inst := range current {
			targets, ok := inst.Related(seg)
			if !ok {
				return nil, expr.Operand{}, nil, fmt.Errorf("%w: %s.%s", ErrNotLoaded, inst.meta.Name, seg)
			}
			next = append(next, targets...)
		}
		current, meta = next, target
		if !continues(target, rest) {
			if len(target.PrimaryKey) != 1 {
				return nil, expr.Operand{}, nil, fmt.Errorf("record: %s cannot be compared as a value", target.Name)
			}
			pk := target.PrimaryKey[0]
			d, _ := target.Field(pk)
			vals := make([]any, 0, len(current))
			for _, inst := range current {
				vals = append(vals, inst.values[pk])
			}
			return vals, expr.Operand{Kind: d.Kind, Field: d}, rest, nil
		}
	}
	return nil, expr.Operand{}, nil, &strata.LookupError{Model: meta.Name, Segment: segs[len(segs)-1], Path: path}
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
