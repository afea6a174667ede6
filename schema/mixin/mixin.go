package mixin

import (
	"time"

	"github.com/google/uuid"

	"github.com/syssam/strata/schema"
	"github.com/syssam/strata/schema/field"
)

// Schema is the default implementation of schema.Mixin. Embed it in custom
// mixins and override Fields.
//
//	type Audit struct {
//	    mixin.Schema
//	}
//
//	func (Audit) Fields() []field.Field {
//	    return []field.Field{
//	        field.String("created_by").Optional(),
//	    }
//	}
type Schema struct{}

// Fields returns the fields of the mixin.
func (Schema) Fields() []field.Field { return nil }

var _ schema.Mixin = (*Schema)(nil)

func now() any { return time.Now().UTC() }

// Time adds created_at and updated_at timestamp fields to a model.
// created_at is set on creation and is immutable; updated_at is refreshed on
// every update.
type Time struct {
	Schema
}

// Fields returns the time tracking fields.
func (Time) Fields() []field.Field {
	return append(CreateTime{}.Fields(), UpdateTime{}.Fields()...)
}

// CreateTime adds only the created_at field.
type CreateTime struct {
	Schema
}

// Fields returns the created_at field.
func (CreateTime) Fields() []field.Field {
	return []field.Field{
		field.Time("created_at").
			Default(time.Now).
			Immutable().
			Comment("Timestamp when the row was created"),
	}
}

// UpdateTime adds only the updated_at field.
type UpdateTime struct {
	Schema
}

// Fields returns the updated_at field.
func (UpdateTime) Fields() []field.Field {
	return []field.Field{
		field.Time("updated_at").
			Default(time.Now).
			UpdateDefault(now).
			Comment("Timestamp when the row was last updated"),
	}
}

// SoftDelete adds a nullable deleted_at field.
type SoftDelete struct {
	Schema
}

// Fields returns the soft delete field.
func (SoftDelete) Fields() []field.Field {
	return []field.Field{
		field.Time("deleted_at").
			Optional().
			Comment("Timestamp when the row was soft deleted"),
	}
}

// TimeSoftDelete combines Time and SoftDelete.
type TimeSoftDelete struct {
	Schema
}

// Fields returns all timestamp fields.
func (TimeSoftDelete) Fields() []field.Field {
	return append(Time{}.Fields(), SoftDelete{}.Fields()...)
}

// ID adds a UUID primary key generated on creation.
type ID struct {
	Schema
}

// Fields returns the id field.
func (ID) Fields() []field.Field {
	return []field.Field{
		field.UUID("id").
			Default(uuid.New).
			Immutable(),
	}
}

// TenantID adds an immutable tenant_id field for multi-tenant tables.
type TenantID struct {
	Schema
}

// Fields returns the tenant field.
func (TenantID) Fields() []field.Field {
	return []field.Field{
		field.String("tenant_id").
			Immutable().
			Comment("Tenant owning the row"),
	}
}

// Comment wraps a mixin and prefixes the comment of each of its fields.
func Comment(m schema.Mixin, prefix string) schema.Mixin {
	return commenter{Mixin: m, prefix: prefix}
}

type commenter struct {
	schema.Mixin
	prefix string
}

func (c commenter) Fields() []field.Field {
	fields := c.Mixin.Fields()
	for _, f := range fields {
		d := f.Descriptor()
		d.Comment = c.prefix + d.Comment
	}
	return fields
}
