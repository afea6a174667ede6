// Package query provides the immutable query descriptor.
//
// A Query names a model and accumulates constraints, ordering, a window,
// related models to load, computed columns and set operations. Builder
// methods never modify the receiver:
//
//	cheap := db.Query("Product").Filter(map[string]any{"price__lt": 5})
//	first := cheap.OrderBy("-price").Limit(10)
//
// Terminal operations (All, Iter, Only, Find, Count, Values, Update,
// Delete) compile and run the query through the Executor it is bound to.
package query
