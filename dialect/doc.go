// Package dialect defines the boundary between the strata core and the
// database backends it talks to.
//
// The core never speaks a wire protocol. It compiles a Statement (SQL text
// with :N placeholders, its arguments, and a field map describing which result
// columns belong to which model) and hands it to a Backend:
//
//	type Backend interface {
//	    Name() string
//	    Dialect() string
//	    Connect(ctx context.Context) error
//	    Exec(ctx context.Context, stmt *Statement) (Result, error)
//	    Query(ctx context.Context, stmt *Statement) (Rows, error)
//	    Escape(v any) string
//	    Close() error
//	}
//
// # Transactions
//
// Backends that support transactions implement Transactional. Backends that
// can join a distributed transaction implement Distributed, a simplified
// two-phase protocol:
//
//	id, _ := b.StartDistributed(ctx) // begin, tagged with id
//	b.TryCommit(ctx, id)             // phase 1: prepare
//	b.FinishCommit(ctx, id)          // phase 2: commit the prepared work
//	b.UndoCommit(ctx, id)            // abort, prepared or not
//
// # Dialects
//
//	dialect.MySQL    = "mysql"
//	dialect.SQLite   = "sqlite3"
//	dialect.Postgres = "postgres"
//
// The database/sql implementations live in dialect/sql.
package dialect
