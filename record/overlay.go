package record

import (
	"fmt"
	"maps"

	"github.com/syssam/strata/schema"
)

// Overlay wraps an instance with the computed annotation values of one query
// row. Annotations are read-only; every other read and write goes to the
// wrapped instance, which is shared with the identity map.
type Overlay struct {
	base  *Instance
	extra map[string]any
	order []string
}

// NewOverlay returns base extended with the annotations in names order.
func NewOverlay(base *Instance, names []string, values []any) *Overlay {
	o := &Overlay{
		base:  base,
		extra: make(map[string]any, len(names)),
		order: names,
	}
	for i, name := range names {
		o.extra[name] = values[i]
	}
	return o
}

// Meta returns the model metadata of the wrapped instance.
func (o *Overlay) Meta() *schema.Metadata { return o.base.meta }

// Instance returns the wrapped instance.
func (o *Overlay) Instance() *Instance { return o.base }

// PrimaryKey returns the primary key of the wrapped instance.
func (o *Overlay) PrimaryKey() []any { return o.base.PrimaryKey() }

// Get returns an annotation, or the field or relation of the wrapped
// instance.
func (o *Overlay) Get(name string) (any, error) {
	if v, ok := o.extra[name]; ok {
		return v, nil
	}
	return o.base.Get(name)
}

// Set changes a field of the wrapped instance. Annotations cannot be set.
func (o *Overlay) Set(name string, v any) error {
	if _, ok := o.extra[name]; ok {
		return fmt.Errorf("record: annotation %q is read-only", name)
	}
	return o.base.Set(name, v)
}

// Annotation returns one annotation value.
func (o *Overlay) Annotation(name string) (any, bool) {
	v, ok := o.extra[name]
	return v, ok
}

// Annotations returns a copy of the annotation values.
func (o *Overlay) Annotations() map[string]any { return maps.Clone(o.extra) }

// AnnotationNames returns the annotation names in query order.
func (o *Overlay) AnnotationNames() []string { return o.order }

func (o *Overlay) String() string { return o.base.String() }
