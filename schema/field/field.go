package field

import (
	"errors"
	"fmt"
	"reflect"
	"unicode/utf8"
)

// Kind is the semantic type of a field. Kinds form a tree rooted at KindAny;
// lookups registered for a kind apply to every kind below it.
type Kind uint8

// Field kinds.
const (
	KindInvalid Kind = iota
	KindAny
	KindInteger
	KindAutoID
	KindForeignKey
	KindBool
	KindFloat
	KindDecimal
	KindText
	KindJSON
	KindUUID
	KindTime
	KindBytes
)

var kindNames = [...]string{
	KindInvalid:    "invalid",
	KindAny:        "any",
	KindInteger:    "integer",
	KindAutoID:     "auto_id",
	KindForeignKey: "foreign_key",
	KindBool:       "bool",
	KindFloat:      "float",
	KindDecimal:    "decimal",
	KindText:       "text",
	KindJSON:       "json",
	KindUUID:       "uuid",
	KindTime:       "time",
	KindBytes:      "bytes",
}

var kindParents = map[Kind]Kind{
	KindInteger:    KindAny,
	KindAutoID:     KindInteger,
	KindForeignKey: KindInteger,
	KindBool:       KindAny,
	KindFloat:      KindAny,
	KindDecimal:    KindAny,
	KindText:       KindAny,
	KindJSON:       KindText,
	KindUUID:       KindAny,
	KindTime:       KindAny,
	KindBytes:      KindAny,
}

// String returns the kind name.
func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", k)
}

// Parent returns the kind k inherits lookups from, or KindInvalid for the root.
func (k Kind) Parent() Kind { return kindParents[k] }

// Is reports whether k is other or descends from it.
func (k Kind) Is(other Kind) bool {
	for c := k; c != KindInvalid; c = c.Parent() {
		if c == other {
			return true
		}
	}
	return false
}

// ParseKind returns the kind with the given name.
func ParseKind(name string) (Kind, error) {
	for k, n := range kindNames {
		if n == name && Kind(k) != KindInvalid {
			return Kind(k), nil
		}
	}
	return KindInvalid, fmt.Errorf("field: unknown kind %q", name)
}

// Field is implemented by the field builders.
type Field interface {
	Descriptor() *Descriptor
}

// Descriptor describes one column of a model.
type Descriptor struct {
	Name          string
	Column        string
	Kind          Kind
	Nullable      bool
	Immutable     bool
	Default       any
	UpdateDefault func() any
	Size          int
	Precision     int
	Scale         int
	SchemaType    map[string]string
	Comment       string
	Validators    []func(any) error
	Err           error
}

// Descriptor implements Field.
func (d *Descriptor) Descriptor() *Descriptor { return d }

// StorageKey returns the column name.
func (d *Descriptor) StorageKey() string {
	if d.Column != "" {
		return d.Column
	}
	return d.Name
}

// HasDefault reports whether the field declares a default value.
func (d *Descriptor) HasDefault() bool { return d.Default != nil }

// DefaultValue evaluates the field default. Zero-argument functions are
// called; other values are normalized and returned as-is.
func (d *Descriptor) DefaultValue() (any, error) {
	if d.Default == nil {
		return nil, nil
	}
	v := d.Default
	if rv := reflect.ValueOf(v); rv.Kind() == reflect.Func {
		if rv.Type().NumIn() != 0 || rv.Type().NumOut() != 1 {
			return nil, fmt.Errorf("field: default of %q must be func() T", d.Name)
		}
		v = rv.Call(nil)[0].Interface()
	}
	return d.Normalize(v)
}

// Validate runs the field validators on a normalized value.
func (d *Descriptor) Validate(v any) error {
	if v == nil {
		return nil
	}
	if d.Size > 0 && d.Kind.Is(KindText) && !d.Kind.Is(KindJSON) {
		if s, ok := v.(string); ok && utf8.RuneCountInString(s) > d.Size {
			return fmt.Errorf("value is longer than %d characters", d.Size)
		}
	}
	var errs []error
	for _, fn := range d.Validators {
		if err := fn(v); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Builder is the fluent field builder.
type Builder struct {
	desc *Descriptor
}

func newBuilder(name string, kind Kind) *Builder {
	return &Builder{desc: &Descriptor{Name: name, Kind: kind}}
}

// Int returns a new integer field.
func Int(name string) *Builder { return newBuilder(name, KindInteger) }

// AutoID returns a new auto-incrementing integer primary key field.
func AutoID(name string) *Builder { return newBuilder(name, KindAutoID) }

// ForeignKey returns a new integer field referencing another model.
func ForeignKey(name string) *Builder { return newBuilder(name, KindForeignKey) }

// Bool returns a new boolean field.
func Bool(name string) *Builder { return newBuilder(name, KindBool) }

// Float returns a new floating point field.
func Float(name string) *Builder { return newBuilder(name, KindFloat) }

// Decimal returns a new fixed-point field, stored as decimal(20,6) unless
// Precision is set.
func Decimal(name string) *Builder {
	b := newBuilder(name, KindDecimal)
	b.desc.Precision, b.desc.Scale = 20, 6
	return b
}

// String returns a new bounded text field (255 characters by default).
func String(name string) *Builder {
	b := newBuilder(name, KindText)
	b.desc.Size = 255
	return b
}

// Text returns a new unbounded text field.
func Text(name string) *Builder { return newBuilder(name, KindText) }

// JSON returns a new field holding a JSON document.
func JSON(name string) *Builder { return newBuilder(name, KindJSON) }

// UUID returns a new UUID field.
func UUID(name string) *Builder { return newBuilder(name, KindUUID) }

// Time returns a new datetime field.
func Time(name string) *Builder { return newBuilder(name, KindTime) }

// Bytes returns a new binary field.
func Bytes(name string) *Builder { return newBuilder(name, KindBytes) }

// Optional marks the field as nullable.
func (b *Builder) Optional() *Builder {
	b.desc.Nullable = true
	return b
}

// Nillable is an alias of Optional.
func (b *Builder) Nillable() *Builder { return b.Optional() }

// Immutable prevents the field from being changed after creation.
func (b *Builder) Immutable() *Builder {
	b.desc.Immutable = true
	return b
}

// Default sets the default value. v may be a value or a func() T.
func (b *Builder) Default(v any) *Builder {
	b.desc.Default = v
	return b
}

// UpdateDefault sets a function evaluated on every update of the model.
func (b *Builder) UpdateDefault(fn func() any) *Builder {
	b.desc.UpdateDefault = fn
	return b
}

// StorageKey sets the column name.
func (b *Builder) StorageKey(column string) *Builder {
	b.desc.Column = column
	return b
}

// MaxLen sets the maximum text length.
func (b *Builder) MaxLen(n int) *Builder {
	if n <= 0 {
		b.desc.Err = fmt.Errorf("field: MaxLen of %q must be positive", b.desc.Name)
	}
	b.desc.Size = n
	return b
}

// Precision sets decimal precision and scale.
func (b *Builder) Precision(precision, scale int) *Builder {
	if scale > precision {
		b.desc.Err = fmt.Errorf("field: scale of %q exceeds precision", b.desc.Name)
	}
	b.desc.Precision, b.desc.Scale = precision, scale
	return b
}

// SchemaType overrides the column type per dialect.
func (b *Builder) SchemaType(types map[string]string) *Builder {
	b.desc.SchemaType = types
	return b
}

// Comment sets the column comment.
func (b *Builder) Comment(c string) *Builder {
	b.desc.Comment = c
	return b
}

// Validate adds a validator run on save.
func (b *Builder) Validate(fn func(any) error) *Builder {
	b.desc.Validators = append(b.desc.Validators, fn)
	return b
}

// Descriptor implements Field.
func (b *Builder) Descriptor() *Descriptor { return b.desc }

var _ Field = (*Builder)(nil)
