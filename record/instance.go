package record

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/syssam/strata"
	"github.com/syssam/strata/expr"
	"github.com/syssam/strata/schema"
)

var (
	// ErrDeferred is returned when reading a deferred field that was not
	// loaded.
	ErrDeferred = errors.New("record: deferred field not loaded")

	// ErrNotLoaded is returned when reading a relationship that was not
	// fetched with the instance.
	ErrNotLoaded = errors.New("record: relation not loaded")

	// ErrNoStore is returned by ActiveRecord methods on an instance that is
	// not bound to a database.
	ErrNoStore = errors.New("record: instance is not bound to a store")
)

// Model is implemented by *Instance and *Overlay.
type Model interface {
	Meta() *schema.Metadata
	Get(name string) (any, error)
	Set(name string, v any) error
	PrimaryKey() []any
	Instance() *Instance
}

// Store persists instances. It is implemented by the database object the
// instance was created or loaded by.
type Store interface {
	Save(ctx context.Context, inst *Instance) (bool, error)
	Delete(ctx context.Context, inst *Instance) (bool, error)
	Refresh(ctx context.Context, inst *Instance, fields ...string) error
}

// Key identifies an instance: its model and primary key.
type Key struct {
	Model string
	PK    string
}

// KeyOf returns the key of a primary key tuple. ok is false when any part
// of the key is nil.
func KeyOf(model string, pk []any) (k Key, ok bool) {
	parts := make([]string, len(pk))
	for i, v := range pk {
		if v == nil {
			return Key{}, false
		}
		parts[i] = keyPart(v)
	}
	return Key{Model: model, PK: strings.Join(parts, "\x1f")}, len(pk) > 0
}

func keyPart(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case decimal.Decimal:
		return x.String()
	case uuid.UUID:
		return x.String()
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano)
	case []byte:
		return fmt.Sprintf("%x", x)
	}
	return fmt.Sprint(v)
}

// Change is one modified field of an instance.
type Change struct {
	Field string
	Old   any
	New   any
}

// Instance is a model row held in memory. It tracks which fields changed
// since it was loaded or last saved.
//
// The dirty set records the value a field held before its first change and
// is only cleared by a save: setting a field back to its original value
// leaves it dirty.
type Instance struct {
	meta    *schema.Metadata
	store   Store
	values  map[string]any
	loaded  map[string]bool
	related map[string][]*Instance
	dirty   map[string]any
	isNew   bool
	deleted bool
}

// New returns a new, unsaved instance. Fields start at their defaults and
// every field is dirty. values are then applied with Set.
func New(meta *schema.Metadata, values map[string]any) (*Instance, error) {
	inst := &Instance{
		meta:    meta,
		values:  make(map[string]any, len(meta.Fields())),
		loaded:  make(map[string]bool, len(meta.Fields())),
		related: make(map[string][]*Instance),
		dirty:   make(map[string]any, len(meta.Fields())),
		isNew:   true,
	}
	for _, d := range meta.Fields() {
		v, err := d.DefaultValue()
		if err != nil {
			return nil, strata.NewConfigError(meta.Name, "%v", err)
		}
		inst.values[d.Name] = v
		inst.loaded[d.Name] = true
		inst.dirty[d.Name] = nil
	}
	for name, v := range values {
		if err := inst.Set(name, v); err != nil {
			return nil, err
		}
	}
	return inst, nil
}

// Hydrate returns a persisted instance holding values, which must be in
// host form. Fields missing from values are treated as deferred.
func Hydrate(meta *schema.Metadata, values map[string]any) *Instance {
	inst := &Instance{
		meta:    meta,
		values:  make(map[string]any, len(meta.Fields())),
		loaded:  make(map[string]bool, len(values)),
		related: make(map[string][]*Instance),
		dirty:   make(map[string]any),
	}
	for name, v := range values {
		if _, ok := meta.Field(name); ok {
			inst.values[name] = v
			inst.loaded[name] = true
		}
	}
	return inst
}

// Meta returns the model metadata.
func (i *Instance) Meta() *schema.Metadata { return i.meta }

// Instance returns i.
func (i *Instance) Instance() *Instance { return i }

// Bind attaches the store used by Save, Delete and Load.
func (i *Instance) Bind(s Store) { i.store = s }

// Store returns the store the instance is bound to, if any.
func (i *Instance) Store() Store { return i.store }

// IsNew reports whether the instance has not been inserted yet.
func (i *Instance) IsNew() bool { return i.isNew }

// IsDeleted reports whether the instance was deleted.
func (i *Instance) IsDeleted() bool { return i.deleted }

// IsDirty reports whether any field changed since the last save.
func (i *Instance) IsDirty() bool { return len(i.dirty) > 0 }

// Loaded reports whether the field was loaded.
func (i *Instance) Loaded(name string) bool { return i.loaded[name] }

// Dirty returns the changed fields mapped to the values they held before
// their first change. A nil previous value is distinct from "not dirty".
func (i *Instance) Dirty() map[string]any { return maps.Clone(i.dirty) }

// Changes returns the changed fields in declaration order.
func (i *Instance) Changes() []Change {
	var out []Change
	for _, d := range i.meta.Fields() {
		if old, ok := i.dirty[d.Name]; ok {
			out = append(out, Change{Field: d.Name, Old: old, New: i.values[d.Name]})
		}
	}
	return out
}

// Values returns a copy of the loaded field values.
func (i *Instance) Values() map[string]any { return maps.Clone(i.values) }

// PrimaryKey returns the primary key values in key order.
func (i *Instance) PrimaryKey() []any {
	pk := make([]any, len(i.meta.PrimaryKey))
	for n, name := range i.meta.PrimaryKey {
		pk[n] = i.values[name]
	}
	return pk
}

// Key returns the identity of the instance. ok is false while the primary
// key is unset.
func (i *Instance) Key() (Key, bool) { return KeyOf(i.meta.Name, i.PrimaryKey()) }

// Get returns a field value, or the loaded target of a relationship: an
// *Instance (nil for an empty to-one relation) or a []*Instance.
func (i *Instance) Get(name string) (any, error) {
	if _, ok := i.meta.Field(name); ok {
		if !i.loaded[name] {
			return nil, fmt.Errorf("%w: %s.%s", ErrDeferred, i.meta.Name, name)
		}
		return i.values[name], nil
	}
	if i.meta.HasJoin(name) {
		targets, ok := i.related[name]
		if !ok {
			return nil, fmt.Errorf("%w: %s.%s", ErrNotLoaded, i.meta.Name, name)
		}
		j, _, err := i.meta.Join(name)
		if err != nil {
			return nil, err
		}
		if j.Many {
			return targets, nil
		}
		if len(targets) == 0 {
			return (*Instance)(nil), nil
		}
		return targets[0], nil
	}
	return nil, &strata.LookupError{Model: i.meta.Name, Segment: name, Path: name}
}

// Related returns the loaded targets of a relationship.
func (i *Instance) Related(name string) ([]*Instance, bool) {
	t, ok := i.related[name]
	return t, ok
}

// SetRelated records targets as the loaded value of a relationship without
// changing any field.
func (i *Instance) SetRelated(name string, targets ...*Instance) {
	i.related[name] = targets
}

// Set changes a field, or assigns the target of a direct relationship.
func (i *Instance) Set(name string, v any) error {
	if i.deleted {
		return fmt.Errorf("%w: %s", strata.ErrDeleted, i.meta.Name)
	}
	d, ok := i.meta.Field(name)
	if !ok {
		if i.meta.HasJoin(name) {
			return i.setRelation(name, v)
		}
		return &strata.LookupError{Model: i.meta.Name, Segment: name, Path: name}
	}
	n, err := d.Normalize(v)
	if err != nil {
		return &strata.ValidationError{Name: name, Err: err}
	}
	cur, loaded := i.values[name], i.loaded[name]
	if loaded && sameValue(cur, n) {
		return nil
	}
	if d.Immutable && !i.isNew {
		return fmt.Errorf("record: field %s.%s is immutable", i.meta.Name, name)
	}
	if _, dirty := i.dirty[name]; !dirty {
		i.dirty[name] = cur
	}
	i.values[name] = n
	i.loaded[name] = true
	i.dropStaleRelations(name)
	return nil
}

func sameValue(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return expr.Equal(a, b)
}

// dropStaleRelations forgets loaded direct relations whose foreign key no
// longer matches the target.
func (i *Instance) dropStaleRelations(fieldName string) {
	for name, targets := range i.related {
		j, _, err := i.meta.Join(name)
		if err != nil || j.Kind != schema.JoinDirect || len(targets) != 1 {
			continue
		}
		for n, local := range j.Local {
			if local == fieldName && !sameValue(i.values[local], targets[0].values[j.Foreign[n]]) {
				delete(i.related, name)
				break
			}
		}
	}
}

func (i *Instance) setRelation(name string, v any) error {
	j, _, err := i.meta.Join(name)
	if err != nil {
		return err
	}
	if j.Kind != schema.JoinDirect {
		return fmt.Errorf("record: only direct relations can be assigned, %s.%s is not", i.meta.Name, name)
	}
	if v == nil || v == (*Instance)(nil) {
		for _, local := range j.Local {
			if err := i.Set(local, nil); err != nil {
				return err
			}
		}
		i.related[name] = nil
		return nil
	}
	m, ok := v.(Model)
	if !ok {
		return fmt.Errorf("record: relation %s.%s needs a model, got %T", i.meta.Name, name, v)
	}
	target := m.Instance()
	if target.meta.Name != j.Target {
		return fmt.Errorf("record: relation %s.%s needs a %s, got a %s", i.meta.Name, name, j.Target, target.meta.Name)
	}
	for n, local := range j.Local {
		if fv := target.values[j.Foreign[n]]; fv != nil {
			if err := i.Set(local, fv); err != nil {
				return err
			}
		} else if err := i.Set(local, nil); err != nil {
			return err
		}
	}
	i.related[name] = []*Instance{target}
	return nil
}

// SyncRelations copies the keys of assigned targets that were saved after
// the assignment into the local foreign key fields.
func (i *Instance) SyncRelations() error {
	for name, targets := range i.related {
		j, _, err := i.meta.Join(name)
		if err != nil {
			return err
		}
		if j.Kind != schema.JoinDirect || len(targets) != 1 {
			continue
		}
		for n, local := range j.Local {
			if i.values[local] != nil {
				continue
			}
			if fv := targets[0].values[j.Foreign[n]]; fv != nil {
				if err := i.Set(local, fv); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// Dependencies returns the unsaved targets of assigned direct relations
// whose keys have not been copied into i yet. They must be inserted
// before i.
func (i *Instance) Dependencies() []*Instance {
	var out []*Instance
	for _, name := range i.meta.JoinNames() {
		targets := i.related[name]
		if len(targets) != 1 || !targets[0].isNew {
			continue
		}
		j, _, err := i.meta.Join(name)
		if err != nil || j.Kind != schema.JoinDirect {
			continue
		}
		for _, local := range j.Local {
			if i.values[local] == nil {
				out = append(out, targets[0])
				break
			}
		}
	}
	return out
}

// Clone returns a new, unsaved copy of i with the primary key cleared.
func (i *Instance) Clone() *Instance {
	c := &Instance{
		meta:    i.meta,
		store:   i.store,
		values:  maps.Clone(i.values),
		loaded:  maps.Clone(i.loaded),
		related: make(map[string][]*Instance),
		dirty:   make(map[string]any, len(i.values)),
		isNew:   true,
	}
	for _, name := range i.meta.PrimaryKey {
		c.values[name] = nil
	}
	for name := range c.values {
		c.dirty[name] = nil
	}
	return c
}

// State is a snapshot of the in-memory state of an instance.
type State struct {
	values  map[string]any
	loaded  map[string]bool
	dirty   map[string]any
	isNew   bool
	deleted bool
}

// Snapshot captures the current state of i.
func (i *Instance) Snapshot() State {
	return State{
		values:  maps.Clone(i.values),
		loaded:  maps.Clone(i.loaded),
		dirty:   maps.Clone(i.dirty),
		isNew:   i.isNew,
		deleted: i.deleted,
	}
}

// Values returns the field values of the snapshot.
func (s State) Values() map[string]any { return maps.Clone(s.values) }

// IsNew reports whether the instance was unsaved when the snapshot was
// taken.
func (s State) IsNew() bool { return s.isNew }

// Restore resets i to a snapshot.
func (i *Instance) Restore(s State) {
	i.values = maps.Clone(s.values)
	i.loaded = maps.Clone(s.loaded)
	i.dirty = maps.Clone(s.dirty)
	i.isNew = s.isNew
	i.deleted = s.deleted
}

// Revert discards the pending changes of a persisted instance: every dirty
// field gets the value it had before its first change.
func (i *Instance) Revert() {
	if i.isNew {
		return
	}
	for name, old := range i.dirty {
		i.values[name] = old
		i.dropStaleRelations(name)
	}
	i.dirty = make(map[string]any)
}

// MarkPersisted records a successful insert or update: the instance is no
// longer new and no field is dirty.
func (i *Instance) MarkPersisted() {
	i.isNew = false
	i.dirty = make(map[string]any)
}

// MarkDeleted records a successful delete. Later writes fail.
func (i *Instance) MarkDeleted() { i.deleted = true }

// Refill replaces the values of the given fields with freshly loaded ones
// and marks them clean. Fields that are dirty in memory are kept.
func (i *Instance) Refill(values map[string]any) {
	for name, v := range values {
		if _, ok := i.meta.Field(name); !ok {
			continue
		}
		if _, dirty := i.dirty[name]; dirty {
			continue
		}
		i.values[name] = v
		i.loaded[name] = true
	}
}

// Save persists the instance through its store. It returns false without
// an error when the database reported no change.
func (i *Instance) Save(ctx context.Context) (bool, error) {
	if i.store == nil {
		return false, ErrNoStore
	}
	return i.store.Save(ctx, i)
}

// Delete removes the instance through its store.
func (i *Instance) Delete(ctx context.Context) (bool, error) {
	if i.store == nil {
		return false, ErrNoStore
	}
	return i.store.Delete(ctx, i)
}

// Load fetches deferred fields. With no names, every unloaded field is
// fetched.
func (i *Instance) Load(ctx context.Context, fields ...string) error {
	if i.store == nil {
		return ErrNoStore
	}
	if len(fields) == 0 {
		for _, d := range i.meta.Fields() {
			if !i.loaded[d.Name] {
				fields = append(fields, d.Name)
			}
		}
		if len(fields) == 0 {
			return nil
		}
	}
	return i.store.Refresh(ctx, i, fields...)
}

// String returns "Model(pk)".
func (i *Instance) String() string {
	parts := make([]string, len(i.meta.PrimaryKey))
	for n, v := range i.PrimaryKey() {
		parts[n] = fmt.Sprint(v)
	}
	return i.meta.Name + "(" + strings.Join(parts, ",") + ")"
}
