// Package sql implements dialect backends on top of database/sql.
//
// A Backend runs compiled statements for one database. Statements carry
// :N placeholders; the backend rebinds them to the driver's markers before
// execution ($N for Postgres, positional ? for MySQL and SQLite).
//
//	b, err := sql.OpenSQLite("main", "file:app.db")
//	if err != nil {
//		return err
//	}
//	if err := b.Connect(ctx); err != nil {
//		return err
//	}
//	rows, err := b.Query(ctx, &dialect.Statement{
//		SQL:  `SELECT "id" FROM "products" WHERE "name" = :1`,
//		Args: []any{"Prune Juice"},
//	})
//
// # Transactions
//
// A Backend holds at most one open transaction. Plain transactions use
// BeginTransaction, Commit and Rollback. MySQL and Postgres backends also
// implement dialect.Distributed: MySQL through XA statements and Postgres
// through PREPARE TRANSACTION. SQLite has no two-phase protocol.
//
// # Errors
//
// Driver errors that report a constraint violation are wrapped in a
// strata.ConstraintError. ConstraintKind tells unique, foreign key, check
// and not-null violations apart for all three drivers.
//
// # Statistics
//
// StatsBackend counts statements and reports slow ones through a hook or
// a slog.Logger. DebugBackend logs every statement.
package sql
