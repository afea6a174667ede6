// Package compiler translates query descriptors and instance changes into
// SQL statements.
//
// A Config ties a schema registry and lookup registry to a Flavor. Every
// statement is built by a fresh Compiler that resolves relationship paths
// into joins (each path joined once), numbers its parameters :1, :2, ...
// and records the field map the materializer needs to rebuild models from
// result rows. Backends rebind the placeholders to their driver's style.
//
//	cfg := compiler.Config{Registry: reg, Lookups: expr.NewRegistry(), Flavor: compiler.SQLite{}}
//	stmt, err := cfg.Select(q)
//
// The package also renders CREATE TABLE and DROP TABLE statements for the
// registered models, in foreign key order.
package compiler
