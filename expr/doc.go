// Package expr holds the value expressions, lookups and constraint trees
// that queries are built from.
//
// A constraint names a field path and a lookup:
//
//	expr.Cond("customer__name__startswith", "a")
//	expr.Cond("created__year__gte", 2020)
//	expr.Or(expr.Cond("price__lt", 1), expr.Not(expr.Cond("stock__isnull", true)))
//
// The path is resolved by the caller: a compiler turns relationship
// segments into joins, and an in-memory environment follows loaded
// relations. What is left of the path after resolution is a chain of
// transforms ("year", "length") and at most one lookup ("exact" when none is
// given).
//
// Each lookup has a SQL rendering and an in-memory evaluation with the same
// semantics. Text comparisons (exact, in, gt..lte, range, contains,
// startswith, endswith, like) ignore case on every dialect; regex does not.
// In-memory evaluation follows SQL's three-valued logic, so a record with a
// NULL field matches neither price__gt=1 nor its negation.
//
// Lookups and transforms are registered per field kind in a Registry and
// are inherited along the kind tree: hasbit is registered for integers and
// so applies to auto_id and foreign_key fields too.
package expr
