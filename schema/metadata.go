package schema

import (
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/syssam/strata"
	"github.com/syssam/strata/schema/edge"
	"github.com/syssam/strata/schema/field"
)

// JoinKind tells which declaration a Join was resolved from.
type JoinKind uint8

// Join kinds.
const (
	JoinDirect JoinKind = iota + 1
	JoinReverse
	JoinThrough
)

// Pair constrains one field of the previous model in a path (Parent) to one
// field of the model joined by the hop (Child).
type Pair struct {
	Parent string
	Child  string
}

// Hop is one table joined while following a relationship.
type Hop struct {
	Model string
	On    []Pair
}

// Join is the normalized form of every relationship declaration.
type Join struct {
	Name     string
	Kind     JoinKind
	Target   string
	Many     bool
	Nullable bool
	// Hops lists the joined tables in order; the last hop joins Target.
	// Direct and reverse joins have one hop, through joins two.
	Hops []Hop
	// Local holds the owner's foreign key fields of a direct join.
	Local []string
	// Foreign holds the target fields referenced by a direct join.
	Foreign []string
	// OnDelete and OnUpdate are the referential actions of a direct join.
	OnDelete edge.Action
	OnUpdate edge.Action
}

// Metadata is the built description of a model. It is immutable apart from
// the lazily resolved join table.
type Metadata struct {
	Name       string
	Table      string
	PrimaryKey []string
	Ordering   []string
	Deferred   []string
	Backend    string
	Abstract   bool
	View       bool

	fields   []*field.Descriptor
	byName   map[string]*field.Descriptor
	byColumn map[string]*field.Descriptor
	edges    map[string]edge.Edge
	edgeList []string
	registry *Registry

	mu    sync.Mutex
	joins map[string]*Join
}

// Fields returns the field descriptors in declaration order.
func (m *Metadata) Fields() []*field.Descriptor { return m.fields }

// FieldNames returns the field names in declaration order.
func (m *Metadata) FieldNames() []string {
	names := make([]string, len(m.fields))
	for i, f := range m.fields {
		names[i] = f.Name
	}
	return names
}

// Field returns the field with the given name.
func (m *Metadata) Field(name string) (*field.Descriptor, bool) {
	f, ok := m.byName[name]
	return f, ok
}

// FieldByColumn returns the field stored in the given column.
func (m *Metadata) FieldByColumn(column string) (*field.Descriptor, bool) {
	f, ok := m.byColumn[column]
	return f, ok
}

// HasJoin reports whether name is a declared relationship.
func (m *Metadata) HasJoin(name string) bool {
	_, ok := m.edges[name]
	return ok
}

// JoinNames returns the declared relationship names in declaration order.
func (m *Metadata) JoinNames() []string { return m.edgeList }

// IsPrimaryKey reports whether name is part of the primary key.
func (m *Metadata) IsPrimaryKey(name string) bool {
	return slices.Contains(m.PrimaryKey, name)
}

// AutoIncrement returns the auto-id primary key field, if any.
func (m *Metadata) AutoIncrement() (*field.Descriptor, bool) {
	if len(m.PrimaryKey) != 1 {
		return nil, false
	}
	f := m.byName[m.PrimaryKey[0]]
	return f, f.Kind == field.KindAutoID
}

// Join resolves the relationship named name. The second result is false when
// the model declares no such relationship. Resolution happens on first use
// because the peer model may not have been inspected yet.
func (m *Metadata) Join(name string) (*Join, bool, error) {
	decl, ok := m.edges[name]
	if !ok {
		return nil, false, nil
	}
	m.mu.Lock()
	j, ok := m.joins[name]
	m.mu.Unlock()
	if ok {
		return j, true, nil
	}
	// Resolution may consult this model again (self-referencing edges), so
	// the lock is not held while resolving.
	var err error
	switch d := decl.(type) {
	case *edge.Direct:
		j, err = m.resolveDirect(d)
	case *edge.Reverse:
		j, err = m.resolveReverse(d)
	case *edge.Through:
		j, err = m.resolveThrough(d)
	default:
		err = strata.NewConfigError(m.Name, "unknown edge type %T", decl)
	}
	if err != nil {
		return nil, true, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if prev, ok := m.joins[name]; ok {
		return prev, true, nil
	}
	m.joins[name] = j
	return j, true, nil
}

func (m *Metadata) resolveDirect(d *edge.Direct) (*Join, error) {
	target, err := m.registry.Metadata(d.Model)
	if err != nil {
		return nil, strata.NewConfigError(m.Name, "edge %q: %v", d.Name, err)
	}
	local := d.Local
	if len(local) == 0 {
		local = []string{d.Name + "_id"}
	}
	foreign := d.Foreign
	if len(foreign) == 0 {
		foreign = target.PrimaryKey
	}
	if len(local) != len(foreign) {
		return nil, strata.NewConfigError(m.Name, "edge %q: %d local fields for %d foreign fields", d.Name, len(local), len(foreign))
	}
	j := &Join{
		Name:     d.Name,
		Kind:     JoinDirect,
		Target:   target.Name,
		Nullable: d.Nullable,
		Local:    local,
		Foreign:  foreign,
		OnDelete: d.OnDeleteAction,
		OnUpdate: d.OnUpdateAction,
	}
	hop := Hop{Model: target.Name}
	for i := range local {
		lf, ok := m.byName[local[i]]
		if !ok {
			return nil, strata.NewConfigError(m.Name, "edge %q: no local field %q", d.Name, local[i])
		}
		if _, ok := target.byName[foreign[i]]; !ok {
			return nil, strata.NewConfigError(m.Name, "edge %q: %s has no field %q", d.Name, target.Name, foreign[i])
		}
		j.Nullable = j.Nullable || lf.Nullable
		hop.On = append(hop.On, Pair{Parent: local[i], Child: foreign[i]})
	}
	j.Hops = []Hop{hop}
	return j, nil
}

// peerDirect resolves the direct edge name on model peer and checks that it
// points at want.
func (m *Metadata) peerDirect(peer, name, want, edgeName string) (*Metadata, *Join, error) {
	pm, err := m.registry.Metadata(peer)
	if err != nil {
		return nil, nil, strata.NewConfigError(m.Name, "edge %q: %v", edgeName, err)
	}
	if _, ok := pm.edges[name].(*edge.Direct); !ok {
		return nil, nil, strata.NewConfigError(m.Name, "edge %q: %s.%s is not a direct edge", edgeName, peer, name)
	}
	pj, _, err := pm.Join(name)
	if err != nil {
		return nil, nil, err
	}
	if pj.Target != want {
		return nil, nil, strata.NewConfigError(m.Name, "edge %q: %s.%s points at %s, not %s", edgeName, peer, name, pj.Target, want)
	}
	return pm, pj, nil
}

func (m *Metadata) resolveReverse(d *edge.Reverse) (*Join, error) {
	if d.RefTo == "" {
		return nil, strata.NewConfigError(m.Name, "edge %q: reverse edge without Ref", d.Name)
	}
	peer, pj, err := m.peerDirect(d.Model, d.RefTo, m.Name, d.Name)
	if err != nil {
		return nil, err
	}
	hop := Hop{Model: peer.Name}
	for i := range pj.Local {
		hop.On = append(hop.On, Pair{Parent: pj.Foreign[i], Child: pj.Local[i]})
	}
	return &Join{
		Name:     d.Name,
		Kind:     JoinReverse,
		Target:   peer.Name,
		Many:     !d.Single,
		Nullable: true,
		Hops:     []Hop{hop},
	}, nil
}

func (m *Metadata) resolveThrough(d *edge.Through) (*Join, error) {
	if d.RefTo == "" || d.ToField == "" {
		return nil, strata.NewConfigError(m.Name, "edge %q: through edge needs Ref and Target", d.Name)
	}
	via, back, err := m.peerDirect(d.Via, d.RefTo, m.Name, d.Name)
	if err != nil {
		return nil, err
	}
	_, fwd, err := m.peerDirect(d.Via, d.ToField, d.Model, d.Name)
	if err != nil {
		return nil, err
	}
	first := Hop{Model: via.Name}
	for i := range back.Local {
		first.On = append(first.On, Pair{Parent: back.Foreign[i], Child: back.Local[i]})
	}
	second := Hop{Model: fwd.Target}
	for i := range fwd.Local {
		second.On = append(second.On, Pair{Parent: fwd.Local[i], Child: fwd.Foreign[i]})
	}
	return &Join{
		Name:     d.Name,
		Kind:     JoinThrough,
		Target:   fwd.Target,
		Many:     true,
		Nullable: true,
		Hops:     []Hop{first, second},
	}, nil
}

// String returns a short description used in logs.
func (m *Metadata) String() string {
	return fmt.Sprintf("%s(%s)", m.Name, strings.Join(m.PrimaryKey, ","))
}
