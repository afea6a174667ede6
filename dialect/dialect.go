package dialect

import (
	"context"
	"errors"
)

// Dialect names.
const (
	MySQL    = "mysql"
	SQLite   = "sqlite3"
	Postgres = "postgres"
)

// ErrTwoPhaseUnsupported is returned by backends that cannot take part in a
// distributed transaction.
var ErrTwoPhaseUnsupported = errors.New("dialect: backend does not support two-phase commit")

// FieldMapEntry describes a contiguous run of result columns that belongs to
// one model. Path is the relationship path from the root model; it is empty for
// the root entry, which always comes first.
type FieldMapEntry struct {
	Model       string
	Fields      []string
	Path        []string
	Annotations []string
}

// Width returns the number of result columns covered by the entry.
func (e FieldMapEntry) Width() int { return len(e.Fields) + len(e.Annotations) }

// Statement is a compiled SQL statement. Parameters are referenced in SQL as
// :1, :2, ... and Args holds their values in that order. A Statement is never
// mutated once the compiler returns it.
type Statement struct {
	SQL      string
	Args     []any
	Columns  []string
	FieldMap []FieldMapEntry
	// Returning is set when the statement yields the generated key as a row
	// instead of through LastInsertId.
	Returning bool
}

// String returns the SQL text.
func (s *Statement) String() string { return s.SQL }

// Rows is a forward-only cursor over a statement's result set.
type Rows interface {
	Next() bool
	// Values returns the current row as driver values.
	Values() ([]any, error)
	Columns() ([]string, error)
	Err() error
	Close() error
}

// Result describes the outcome of a write statement.
type Result interface {
	RowsAffected() (int64, error)
	LastInsertId() (int64, error)
}

// Backend is a database connection the core compiles statements for.
type Backend interface {
	// Name identifies the backend within a DB; distinct names mean distinct
	// connections for transaction bookkeeping.
	Name() string
	Dialect() string
	// Connect establishes the connection. It is a no-op when connected.
	Connect(ctx context.Context) error
	Exec(ctx context.Context, stmt *Statement) (Result, error)
	Query(ctx context.Context, stmt *Statement) (Rows, error)
	// Escape renders v as a SQL literal. It is used for diagnostics only;
	// compiled statements always bind values as parameters.
	Escape(v any) string
	Close() error
}

// Transactional is a backend with plain single-connection transactions.
type Transactional interface {
	Backend
	BeginTransaction(ctx context.Context) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Distributed is a backend that can take part in a two-phase commit.
type Distributed interface {
	Transactional
	StartDistributed(ctx context.Context) (string, error)
	TryCommit(ctx context.Context, txnID string) error
	FinishCommit(ctx context.Context, txnID string) error
	UndoCommit(ctx context.Context, txnID string) error
}

// SupportsTwoPhase reports whether b can take part in a distributed
// transaction. Backends whose support depends on the database they are
// connected to implement TwoPhase.
func SupportsTwoPhase(b Backend) bool {
	if _, ok := b.(Distributed); !ok {
		return false
	}
	if t, ok := b.(interface{ TwoPhase() bool }); ok {
		return t.TwoPhase()
	}
	return true
}
