package schema

import (
	"github.com/syssam/strata/schema/edge"
	"github.com/syssam/strata/schema/field"
)

// Mixin is a reusable set of fields added in front of a model's own fields.
type Mixin interface {
	Fields() []field.Field
}

// Model declares a model type: its table, fields, relationships and defaults.
type Model struct {
	// Name identifies the model in the registry and in query paths.
	Name string
	// Table defaults to the pluralized snake_case Name.
	Table  string
	Fields []field.Field
	Edges  []edge.Edge
	Mixins []Mixin
	// PrimaryKey defaults to the first auto-id field, or "id".
	PrimaryKey []string
	// Ordering is applied to selects that do not set their own. A leading
	// "-" sorts descending.
	Ordering []string
	// Deferred fields are not loaded by default selects.
	Deferred []string
	// Backend names the backend that stores the model; empty means default.
	Backend string
	// Abstract and View models are not required to have a table or key.
	Abstract bool
	View     bool
}
