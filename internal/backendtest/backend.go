// Package backendtest provides a scriptable in-memory backend for tests.
package backendtest

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/syssam/strata/dialect"
)

// Backend implements dialect.Distributed without a database. It records
// every call and statement, and fails the methods it was told to fail.
type Backend struct {
	name    string
	dialect string

	mu         sync.Mutex
	calls      []string
	statements []*dialect.Statement
	failures   map[string][]error
	rows       map[string][][]any
	lastID     int64
}

// New returns a SQLite-flavored backend called name.
func New(name string) *Backend {
	return &Backend{
		name:     name,
		dialect:  dialect.SQLite,
		failures: make(map[string][]error),
		rows:     make(map[string][][]any),
	}
}

// FailOn makes the next calls of method fail with errs, one per call.
func (b *Backend) FailOn(method string, errs ...error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures[method] = append(b.failures[method], errs...)
}

// ReturnRows makes queries whose SQL is sql return rows.
func (b *Backend) ReturnRows(sql string, rows ...[]any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rows[sql] = rows
}

// Calls returns the names of the methods called so far, in order.
func (b *Backend) Calls() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Clone(b.calls)
}

// Count returns how often method was called.
func (b *Backend) Count(method string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, c := range b.calls {
		if c == method {
			n++
		}
	}
	return n
}

// Statements returns the executed and queried statements.
func (b *Backend) Statements() []*dialect.Statement {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Clone(b.statements)
}

// SQL returns the text of the executed and queried statements.
func (b *Backend) SQL() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.statements))
	for i, s := range b.statements {
		out[i] = s.SQL
	}
	return out
}

func (b *Backend) call(method string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = append(b.calls, method)
	if errs := b.failures[method]; len(errs) > 0 {
		b.failures[method] = errs[1:]
		return errs[0]
	}
	return nil
}

func (b *Backend) Name() string    { return b.name }
func (b *Backend) Dialect() string { return b.dialect }

func (b *Backend) Connect(context.Context) error { return b.call("Connect") }

func (b *Backend) Exec(_ context.Context, stmt *dialect.Statement) (dialect.Result, error) {
	if err := b.call("Exec"); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.statements = append(b.statements, stmt)
	b.lastID++
	return result{id: b.lastID}, nil
}

func (b *Backend) Query(_ context.Context, stmt *dialect.Statement) (dialect.Rows, error) {
	if err := b.call("Query"); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.statements = append(b.statements, stmt)
	return &Rows{columns: stmt.Columns, rows: b.rows[stmt.SQL]}, nil
}

func (b *Backend) Escape(v any) string { return fmt.Sprintf("'%v'", v) }

func (b *Backend) Close() error { return b.call("Close") }

func (b *Backend) BeginTransaction(context.Context) error { return b.call("BeginTransaction") }
func (b *Backend) Commit(context.Context) error           { return b.call("Commit") }
func (b *Backend) Rollback(context.Context) error         { return b.call("Rollback") }

func (b *Backend) StartDistributed(context.Context) (string, error) {
	if err := b.call("StartDistributed"); err != nil {
		return "", err
	}
	return b.name + "-" + uuid.NewString(), nil
}

func (b *Backend) TryCommit(context.Context, string) error    { return b.call("TryCommit") }
func (b *Backend) FinishCommit(context.Context, string) error { return b.call("FinishCommit") }
func (b *Backend) UndoCommit(context.Context, string) error   { return b.call("UndoCommit") }

type result struct{ id int64 }

func (r result) RowsAffected() (int64, error) { return 1, nil }
func (r result) LastInsertId() (int64, error) { return r.id, nil }

// Rows is a fixed result set.
type Rows struct {
	columns []string
	rows    [][]any
	cur     []any
	closed  bool
}

// NewRows returns a result set of rows with the given columns.
func NewRows(columns []string, rows ...[]any) *Rows {
	return &Rows{columns: columns, rows: rows}
}

func (r *Rows) Next() bool {
	if r.closed || len(r.rows) == 0 {
		return false
	}
	r.cur, r.rows = r.rows[0], r.rows[1:]
	return true
}

func (r *Rows) Values() ([]any, error)     { return r.cur, nil }
func (r *Rows) Columns() ([]string, error) { return r.columns, nil }
func (r *Rows) Err() error                 { return nil }

func (r *Rows) Close() error {
	r.closed = true
	return nil
}

var _ dialect.Distributed = (*Backend)(nil)
