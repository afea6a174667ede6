package schema

import (
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/go-openapi/inflect"

	"github.com/syssam/strata"
	"github.com/syssam/strata/schema/edge"
	"github.com/syssam/strata/schema/field"
)

// Registry holds model declarations and memoizes their built Metadata.
// It is safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	decls map[string]*Model
	built map[string]*Metadata
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		decls: make(map[string]*Model),
		built: make(map[string]*Metadata),
	}
}

// Register adds model declarations. Registering a name twice is an error.
// Metadata is built lazily; use Validate to build everything eagerly.
func (r *Registry) Register(models ...*Model) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range models {
		if m == nil || m.Name == "" {
			return strata.NewConfigError("?", "model without a name")
		}
		if _, ok := r.decls[m.Name]; ok {
			return strata.NewConfigError(m.Name, "registered twice")
		}
		r.decls[m.Name] = m
	}
	return nil
}

// Models returns the registered model names, sorted.
func (r *Registry) Models() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.decls))
	for name := range r.decls {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Metadata returns the built metadata of the named model.
func (r *Registry) Metadata(name string) (*Metadata, error) {
	r.mu.RLock()
	m, ok := r.built[name]
	r.mu.RUnlock()
	if ok {
		return m, nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.built[name]; ok {
		return m, nil
	}
	decl, ok := r.decls[name]
	if !ok {
		return nil, strata.NewConfigError(name, "not registered")
	}
	m, err := r.build(decl)
	if err != nil {
		return nil, err
	}
	r.built[name] = m
	return m, nil
}

// Validate builds every model and resolves every relationship.
func (r *Registry) Validate() error {
	for _, name := range r.Models() {
		m, err := r.Metadata(name)
		if err != nil {
			return err
		}
		for _, j := range m.JoinNames() {
			if _, _, err := m.Join(j); err != nil {
				return err
			}
		}
	}
	return nil
}

// Invalidate drops all built metadata, e.g. after a migration changed the
// declarations.
func (r *Registry) Invalidate() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.built = make(map[string]*Metadata)
}

// TableName returns the default table name of a model name.
func TableName(model string) string {
	return inflect.Underscore(inflect.Pluralize(model))
}

func (r *Registry) build(decl *Model) (*Metadata, error) {
	m := &Metadata{
		Name:     decl.Name,
		Table:    decl.Table,
		Ordering: decl.Ordering,
		Deferred: decl.Deferred,
		Backend:  decl.Backend,
		Abstract: decl.Abstract,
		View:     decl.View,
		byName:   make(map[string]*field.Descriptor),
		byColumn: make(map[string]*field.Descriptor),
		edges:    make(map[string]edge.Edge),
		registry: r,
		joins:    make(map[string]*Join),
	}
	if m.Table == "" && !m.Abstract {
		m.Table = TableName(decl.Name)
	}
	var all []field.Field
	for _, mx := range decl.Mixins {
		all = append(all, mx.Fields()...)
	}
	all = append(all, decl.Fields...)
	for _, f := range all {
		d := f.Descriptor()
		if d.Err != nil {
			return nil, strata.NewConfigError(m.Name, "field %q: %v", d.Name, d.Err)
		}
		if d.Name == "" || strings.Contains(d.Name, "__") {
			return nil, strata.NewConfigError(m.Name, "invalid field name %q", d.Name)
		}
		if _, ok := m.byName[d.Name]; ok {
			return nil, strata.NewConfigError(m.Name, "duplicate field %q", d.Name)
		}
		m.fields = append(m.fields, d)
		m.byName[d.Name] = d
		m.byColumn[d.StorageKey()] = d
	}
	for _, e := range decl.Edges {
		name := e.EdgeName()
		if name == "" || strings.Contains(name, "__") {
			return nil, strata.NewConfigError(m.Name, "invalid edge name %q", name)
		}
		if _, ok := m.byName[name]; ok {
			return nil, strata.NewConfigError(m.Name, "edge %q shadows a field", name)
		}
		if _, ok := m.edges[name]; ok {
			return nil, strata.NewConfigError(m.Name, "duplicate edge %q", name)
		}
		m.edges[name] = e
		m.edgeList = append(m.edgeList, name)
	}
	if err := m.setPrimaryKey(decl.PrimaryKey); err != nil {
		return nil, err
	}
	for _, o := range m.Ordering {
		if _, ok := m.byName[strings.TrimPrefix(o, "-")]; !ok {
			return nil, strata.NewConfigError(m.Name, "ordering by unknown field %q", o)
		}
	}
	for _, d := range m.Deferred {
		if _, ok := m.byName[d]; !ok {
			return nil, strata.NewConfigError(m.Name, "deferred unknown field %q", d)
		}
		if m.IsPrimaryKey(d) {
			return nil, strata.NewConfigError(m.Name, "primary key field %q cannot be deferred", d)
		}
	}
	return m, nil
}

func (m *Metadata) setPrimaryKey(pk []string) error {
	if len(pk) == 0 {
		for _, f := range m.fields {
			if f.Kind == field.KindAutoID {
				pk = []string{f.Name}
				break
			}
		}
	}
	if len(pk) == 0 {
		if _, ok := m.byName["id"]; ok {
			pk = []string{"id"}
		}
	}
	if len(pk) == 0 {
		if m.Abstract || m.View {
			return nil
		}
		return strata.NewConfigError(m.Name, "no primary key")
	}
	for _, name := range pk {
		f, ok := m.byName[name]
		if !ok {
			return strata.NewConfigError(m.Name, "primary key names unknown field %q", name)
		}
		if f.Nullable {
			return strata.NewConfigError(m.Name, "primary key field %q is nullable", name)
		}
	}
	if slices.ContainsFunc(m.fields, func(f *field.Descriptor) bool {
		return f.Kind == field.KindAutoID && !slices.Contains(pk, f.Name)
	}) {
		return strata.NewConfigError(m.Name, "auto-id field outside the primary key")
	}
	m.PrimaryKey = pk
	return nil
}

// MustMetadata is like Metadata but panics on error. It is meant for tests
// and package-level initialization.
func (r *Registry) MustMetadata(name string) *Metadata {
	m, err := r.Metadata(name)
	if err != nil {
		panic(fmt.Sprintf("schema: %v", err))
	}
	return m
}
