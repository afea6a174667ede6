// Package record holds model instances in memory.
//
// An Instance carries the field values of one row together with its
// lifecycle state: new (not inserted yet), dirty fields and deleted. The
// IdentityMap guarantees that while a row is cached every load of it
// yields the same *Instance. The Materializer builds instances from result
// rows described by a field map, linking joined models and wrapping rows
// that carry computed columns in an Overlay. A Cursor streams the models
// of a result set and a Matcher evaluates constraint trees in memory.
package record
