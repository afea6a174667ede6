// Package mixin provides reusable field sets for model declarations.
//
//	schema.Model{
//	    Name:   "Order",
//	    Mixins: []schema.Mixin{mixin.Time{}},
//	    Fields: []field.Field{field.AutoID("id")},
//	}
//
// Mixin fields are placed in front of the model's own fields, in the order
// the mixins are listed. A model field with the same name as a mixin field
// is a configuration error.
package mixin
