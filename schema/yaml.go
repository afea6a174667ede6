package schema

import (
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/syssam/strata/schema/edge"
	"github.com/syssam/strata/schema/field"
)

// File is the YAML form of a set of model declarations:
//
//	models:
//	  - name: Order
//	    fields:
//	      - {name: id, kind: auto_id}
//	      - {name: total, kind: decimal, precision: 10, scale: 2}
//	      - {name: customer_id, kind: foreign_key, nullable: true}
//	    edges:
//	      - {name: customer, kind: direct, model: Customer, fields: [customer_id]}
type File struct {
	Models []ModelSpec `yaml:"models"`
}

// ModelSpec is one model in a schema file.
type ModelSpec struct {
	Name       string      `yaml:"name"`
	Table      string      `yaml:"table,omitempty"`
	PrimaryKey []string    `yaml:"primary_key,omitempty"`
	Ordering   []string    `yaml:"ordering,omitempty"`
	Deferred   []string    `yaml:"deferred,omitempty"`
	Backend    string      `yaml:"backend,omitempty"`
	Abstract   bool        `yaml:"abstract,omitempty"`
	View       bool        `yaml:"view,omitempty"`
	Fields     []FieldSpec `yaml:"fields"`
	Edges      []EdgeSpec  `yaml:"edges,omitempty"`
}

// FieldSpec is one field in a schema file.
type FieldSpec struct {
	Name      string `yaml:"name"`
	Kind      string `yaml:"kind"`
	Column    string `yaml:"column,omitempty"`
	Nullable  bool   `yaml:"nullable,omitempty"`
	Default   any    `yaml:"default,omitempty"`
	Size      int    `yaml:"size,omitempty"`
	Precision int    `yaml:"precision,omitempty"`
	Scale     int    `yaml:"scale,omitempty"`
}

// EdgeSpec is one relationship in a schema file. Kind is direct, reverse or
// through.
type EdgeSpec struct {
	Name       string   `yaml:"name"`
	Kind       string   `yaml:"kind"`
	Model      string   `yaml:"model"`
	Fields     []string `yaml:"fields,omitempty"`
	References []string `yaml:"references,omitempty"`
	Optional   bool     `yaml:"optional,omitempty"`
	Unique     bool     `yaml:"unique,omitempty"`
	Ref        string   `yaml:"ref,omitempty"`
	Via        string   `yaml:"via,omitempty"`
	Target     string   `yaml:"target,omitempty"`
	OnDelete   string   `yaml:"on_delete,omitempty"`
	OnUpdate   string   `yaml:"on_update,omitempty"`
}

// LoadYAML decodes model declarations from r.
func LoadYAML(r io.Reader) ([]*Model, error) {
	var f File
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("schema: decode yaml: %w", err)
	}
	models := make([]*Model, 0, len(f.Models))
	for _, ms := range f.Models {
		m, err := ms.model()
		if err != nil {
			return nil, err
		}
		models = append(models, m)
	}
	return models, nil
}

func (ms ModelSpec) model() (*Model, error) {
	m := &Model{
		Name:       ms.Name,
		Table:      ms.Table,
		PrimaryKey: ms.PrimaryKey,
		Ordering:   ms.Ordering,
		Deferred:   ms.Deferred,
		Backend:    ms.Backend,
		Abstract:   ms.Abstract,
		View:       ms.View,
	}
	for _, fs := range ms.Fields {
		f, err := fs.field()
		if err != nil {
			return nil, fmt.Errorf("schema: model %s: %w", ms.Name, err)
		}
		m.Fields = append(m.Fields, f)
	}
	for _, es := range ms.Edges {
		e, err := es.edge()
		if err != nil {
			return nil, fmt.Errorf("schema: model %s: %w", ms.Name, err)
		}
		m.Edges = append(m.Edges, e)
	}
	return m, nil
}

func (fs FieldSpec) field() (field.Field, error) {
	kind, err := field.ParseKind(fs.Kind)
	if err != nil {
		return nil, err
	}
	var b *field.Builder
	switch kind {
	case field.KindInteger:
		b = field.Int(fs.Name)
	case field.KindAutoID:
		b = field.AutoID(fs.Name)
	case field.KindForeignKey:
		b = field.ForeignKey(fs.Name)
	case field.KindBool:
		b = field.Bool(fs.Name)
	case field.KindFloat:
		b = field.Float(fs.Name)
	case field.KindDecimal:
		b = field.Decimal(fs.Name)
	case field.KindText:
		b = field.Text(fs.Name)
	case field.KindJSON:
		b = field.JSON(fs.Name)
	case field.KindUUID:
		b = field.UUID(fs.Name)
	case field.KindTime:
		b = field.Time(fs.Name)
	case field.KindBytes:
		b = field.Bytes(fs.Name)
	default:
		return nil, fmt.Errorf("field %q: kind %s cannot be declared", fs.Name, kind)
	}
	if fs.Column != "" {
		b.StorageKey(fs.Column)
	}
	if fs.Nullable {
		b.Optional()
	}
	if fs.Default != nil {
		b.Default(fs.Default)
	}
	if fs.Size > 0 {
		b.MaxLen(fs.Size)
	}
	if fs.Precision > 0 {
		b.Precision(fs.Precision, fs.Scale)
	}
	return b, nil
}

func (es EdgeSpec) edge() (edge.Edge, error) {
	switch es.Kind {
	case "direct", "":
		d := edge.To(es.Name, es.Model).Field(es.Fields...).References(es.References...)
		if es.Optional {
			d.Optional()
		}
		var err error
		if d.OnDeleteAction, err = parseAction(es.OnDelete); err != nil {
			return nil, fmt.Errorf("edge %q: on_delete: %w", es.Name, err)
		}
		if d.OnUpdateAction, err = parseAction(es.OnUpdate); err != nil {
			return nil, fmt.Errorf("edge %q: on_update: %w", es.Name, err)
		}
		return d, nil
	case "reverse":
		r := edge.From(es.Name, es.Model).Ref(es.Ref)
		if es.Unique {
			r.Unique()
		}
		return r, nil
	case "through":
		return edge.ThroughModel(es.Name, es.Model, es.Via).Ref(es.Ref).Target(es.Target), nil
	}
	return nil, fmt.Errorf("edge %q: unknown kind %q", es.Name, es.Kind)
}

func parseAction(s string) (edge.Action, error) {
	if s == "" {
		return "", nil
	}
	a := edge.Action(strings.ToUpper(strings.ReplaceAll(s, "_", " ")))
	switch a {
	case edge.Cascade, edge.SetNull, edge.Restrict, edge.SetDefault, edge.NoAction:
		return a, nil
	}
	return "", fmt.Errorf("unknown action %q", s)
}
