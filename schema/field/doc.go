// Package field describes model columns.
//
// Fields are declared with fluent builders:
//
//	field.AutoID("id")
//	field.String("name").MaxLen(100)
//	field.Decimal("price").Precision(10, 2).Default("0")
//	field.ForeignKey("customer_id").Optional()
//	field.Time("created_at").Default(time.Now).Immutable()
//
// Every field has a Kind. Kinds form a tree (auto_id and foreign_key are
// integers, json is text), and lookups registered for a kind apply to all
// kinds below it.
//
// A Descriptor converts values between three forms: the canonical host form
// (Normalize), the form bound as a statement parameter (ToDB / FromDB) and a
// portable export form made of strings, numbers and booleans (ToExport /
// FromExport). FromExport(ToExport(v)) returns v for every kind.
package field
