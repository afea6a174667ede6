package record

import (
	"fmt"
	"strings"

	"github.com/syssam/strata/dialect"
	"github.com/syssam/strata/schema"
)

// Materializer turns result rows into linked instances.
type Materializer struct {
	Registry *schema.Registry
	// Identity is consulted and filled for every row. It may be nil.
	Identity *IdentityMap
	// Store is bound to every instance the materializer creates.
	Store Store
}

// Row builds the models of one result row. The first field map entry must
// describe the root model; every later entry is attached to the instance
// built for its parent path. A joined model whose primary key is NULL
// becomes an empty relation.
//
// Row panics if the field map does not start with the root model.
func (m *Materializer) Row(fm []dialect.FieldMapEntry, row []any) (Model, error) {
	if len(fm) == 0 || len(fm[0].Path) != 0 {
		panic("record: field map must start with the root model")
	}
	var (
		root  Model
		built = make(map[string]*Instance, len(fm))
		off   int
	)
	for n, e := range fm {
		if off+e.Width() > len(row) {
			return nil, fmt.Errorf("record: row has %d columns, field map needs more than %d", len(row), off)
		}
		cols := row[off : off+len(e.Fields)]
		ann := row[off+len(e.Fields) : off+e.Width()]
		off += e.Width()

		var parent *Instance
		if n > 0 {
			var ok bool
			if parent, ok = built[pathKey(e.Path[:len(e.Path)-1])]; !ok {
				// the parent itself was an empty relation
				continue
			}
		}
		meta, err := m.Registry.Metadata(e.Model)
		if err != nil {
			return nil, err
		}
		values := make(map[string]any, len(e.Fields))
		for i, name := range e.Fields {
			d, ok := meta.Field(name)
			if !ok {
				return nil, fmt.Errorf("record: %s has no field %q", meta.Name, name)
			}
			if values[name], err = d.FromDB(cols[i]); err != nil {
				return nil, fmt.Errorf("record: %s.%s: %w", meta.Name, name, err)
			}
		}
		inst := m.instance(meta, values, n > 0)
		if n == 0 {
			root = inst
			if len(e.Annotations) > 0 {
				root = NewOverlay(inst, e.Annotations, annotationValues(ann))
			}
			built[""] = inst
			continue
		}
		rel := e.Path[len(e.Path)-1]
		if inst == nil {
			parent.SetRelated(rel)
			continue
		}
		parent.SetRelated(rel, inst)
		built[pathKey(e.Path)] = inst
	}
	return root, nil
}

// instance returns the cached instance for the row or hydrates a new one.
// It returns nil for a joined model with a NULL key.
func (m *Materializer) instance(meta *schema.Metadata, values map[string]any, joined bool) *Instance {
	pk := make([]any, len(meta.PrimaryKey))
	for i, name := range meta.PrimaryKey {
		pk[i] = values[name]
	}
	key, ok := KeyOf(meta.Name, pk)
	if !ok {
		if joined && len(pk) > 0 {
			return nil
		}
		inst := Hydrate(meta, values)
		inst.Bind(m.Store)
		return inst
	}
	if m.Identity != nil {
		if cur, ok := m.Identity.Get(key); ok {
			cur.Refill(values)
			if cur.store == nil {
				cur.Bind(m.Store)
			}
			return cur
		}
	}
	inst := Hydrate(meta, values)
	inst.Bind(m.Store)
	if m.Identity != nil {
		return m.Identity.Add(inst)
	}
	return inst
}

func annotationValues(vals []any) []any {
	out := make([]any, len(vals))
	for i, v := range vals {
		if b, ok := v.([]byte); ok {
			v = string(b)
		}
		out[i] = v
	}
	return out
}

func pathKey(path []string) string { return strings.Join(path, "__") }
