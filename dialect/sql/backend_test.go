package sql

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/strata"
	"github.com/syssam/strata/dialect"
)

func mockBackend(t *testing.T, name string, opts ...Option) (*Backend, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return OpenDB("main", name, db, opts...), mock
}

func fixedXID() Option { return WithXID(func() string { return "x1" }) }

func TestRebind(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		dialect  string
		query    string
		args     []any
		want     string
		wantArgs []any
	}{
		{
			name:     "sqlite",
			dialect:  dialect.SQLite,
			query:    `"a" = :2 AND "b" = :1 AND "c" = :2`,
			args:     []any{"x", "y"},
			want:     `"a" = ? AND "b" = ? AND "c" = ?`,
			wantArgs: []any{"y", "x", "y"},
		},
		{
			name:     "postgres",
			dialect:  dialect.Postgres,
			query:    `"a" = :2 AND "b" = :1 AND "c" = :2`,
			args:     []any{"x", "y"},
			want:     `"a" = $2 AND "b" = $1 AND "c" = $2`,
			wantArgs: []any{"x", "y"},
		},
		{
			name:     "quoted",
			dialect:  dialect.MySQL,
			query:    "`t:1`.`c` = ':1' AND `d` LIKE :1 ESCAPE '\\'",
			args:     []any{"%a%"},
			want:     "`t:1`.`c` = ':1' AND `d` LIKE ? ESCAPE '\\'",
			wantArgs: []any{"%a%"},
		},
		{
			name:     "cast",
			dialect:  dialect.Postgres,
			query:    `"a"::text = :1`,
			args:     []any{"1"},
			want:     `"a"::text = $1`,
			wantArgs: []any{"1"},
		},
		{
			name:    "none",
			dialect: dialect.SQLite,
			query:   `SELECT 1`,
			want:    `SELECT 1`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, args, err := rebind(tt.dialect, tt.query, tt.args)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.wantArgs, args)
		})
	}

	_, _, err := rebind(dialect.SQLite, "a = :2", []any{1})
	assert.ErrorContains(t, err, "out of range")
}

func TestBackendQuery(t *testing.T) {
	t.Parallel()
	b, mock := mockBackend(t, dialect.SQLite)
	mock.ExpectQuery(`SELECT "id", "name" FROM "users" WHERE "name" = ? AND "id" > ?`).
		WithArgs("ann", int64(3)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).
			AddRow(int64(4), "ann").
			AddRow(int64(5), nil))

	rows, err := b.Query(context.Background(), &dialect.Statement{
		SQL:  `SELECT "id", "name" FROM "users" WHERE "name" = :1 AND "id" > :2`,
		Args: []any{"ann", int64(3)},
	})
	require.NoError(t, err)
	var got [][]any
	for rows.Next() {
		vals, err := rows.Values()
		require.NoError(t, err)
		got = append(got, vals)
	}
	require.NoError(t, rows.Err())
	require.NoError(t, rows.Close())
	assert.Equal(t, [][]any{{int64(4), "ann"}, {int64(5), nil}}, got)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBackendExec(t *testing.T) {
	t.Parallel()

	t.Run("LastInsertId", func(t *testing.T) {
		t.Parallel()
		b, mock := mockBackend(t, dialect.MySQL)
		mock.ExpectExec("INSERT INTO `users` SET `name` = ?").
			WithArgs("ann").
			WillReturnResult(sqlmock.NewResult(7, 1))

		res, err := b.Exec(context.Background(), &dialect.Statement{
			SQL:  "INSERT INTO `users` SET `name` = :1",
			Args: []any{"ann"},
		})
		require.NoError(t, err)
		id, err := res.LastInsertId()
		require.NoError(t, err)
		assert.Equal(t, int64(7), id)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Returning", func(t *testing.T) {
		t.Parallel()
		b, mock := mockBackend(t, dialect.Postgres)
		mock.ExpectQuery(`INSERT INTO "users" ("name") VALUES ($1) RETURNING "id"`).
			WithArgs("ann").
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(9)))

		res, err := b.Exec(context.Background(), &dialect.Statement{
			SQL:       `INSERT INTO "users" ("name") VALUES (:1) RETURNING "id"`,
			Args:      []any{"ann"},
			Returning: true,
		})
		require.NoError(t, err)
		id, err := res.LastInsertId()
		require.NoError(t, err)
		assert.Equal(t, int64(9), id)
		n, err := res.RowsAffected()
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Constraint", func(t *testing.T) {
		t.Parallel()
		b, mock := mockBackend(t, dialect.MySQL)
		mock.ExpectExec("INSERT INTO `users` SET `name` = ?").
			WithArgs("ann").
			WillReturnError(&mysql.MySQLError{Number: 1062, Message: "Duplicate entry 'ann'"})

		_, err := b.Exec(context.Background(), &dialect.Statement{
			SQL:  "INSERT INTO `users` SET `name` = :1",
			Args: []any{"ann"},
		})
		assert.True(t, strata.IsConstraintError(err))
		assert.True(t, IsUniqueConstraintError(err))
		var merr *mysql.MySQLError
		assert.ErrorAs(t, err, &merr)
	})
}

func TestTransaction(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	b, mock := mockBackend(t, dialect.SQLite)
	stmt := &dialect.Statement{SQL: `DELETE FROM "users" WHERE "id" = :1`, Args: []any{int64(1)}}

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM "users" WHERE "id" = ?`).WithArgs(int64(1)).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	require.NoError(t, b.BeginTransaction(ctx))
	assert.True(t, b.InTx())
	assert.ErrorIs(t, b.BeginTransaction(ctx), ErrTxOpen)
	_, err := b.Exec(ctx, stmt)
	require.NoError(t, err)
	require.NoError(t, b.Commit(ctx))
	assert.False(t, b.InTx())
	assert.ErrorIs(t, b.Commit(ctx), ErrNoTx)

	mock.ExpectBegin()
	mock.ExpectRollback()
	require.NoError(t, b.BeginTransaction(ctx))
	require.NoError(t, b.Rollback(ctx))
	require.NoError(t, b.Rollback(ctx), "rollback without a transaction is a no-op")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTwoPhase(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	insert := &dialect.Statement{SQL: `INSERT INTO t (a) VALUES (:1)`, Args: []any{int64(1)}}

	tests := []struct {
		dialect string
		undo    bool
		prepare bool
		want    []string
	}{
		{
			dialect: dialect.MySQL,
			prepare: true,
			want:    []string{"XA START 'x1'", "INSERT", "XA END 'x1'", "XA PREPARE 'x1'", "XA COMMIT 'x1'"},
		},
		{
			dialect: dialect.MySQL,
			undo:    true,
			want:    []string{"XA START 'x1'", "INSERT", "XA END 'x1'", "XA ROLLBACK 'x1'"},
		},
		{
			dialect: dialect.MySQL,
			undo:    true,
			prepare: true,
			want:    []string{"XA START 'x1'", "INSERT", "XA END 'x1'", "XA PREPARE 'x1'", "XA ROLLBACK 'x1'"},
		},
		{
			dialect: dialect.Postgres,
			prepare: true,
			want:    []string{"BEGIN", "INSERT", "PREPARE TRANSACTION 'x1'", "COMMIT PREPARED 'x1'"},
		},
		{
			dialect: dialect.Postgres,
			undo:    true,
			prepare: true,
			want:    []string{"BEGIN", "INSERT", "PREPARE TRANSACTION 'x1'", "ROLLBACK PREPARED 'x1'"},
		},
		{
			dialect: dialect.Postgres,
			undo:    true,
			want:    []string{"BEGIN", "INSERT", "ROLLBACK"},
		},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s/undo=%t/prepare=%t", tt.dialect, tt.undo, tt.prepare), func(t *testing.T) {
			t.Parallel()
			b, mock := mockBackend(t, tt.dialect, fixedXID())
			for _, q := range tt.want {
				if q == "INSERT" {
					q, _, _ = rebind(tt.dialect, insert.SQL, insert.Args)
					mock.ExpectExec(q).WithArgs(int64(1)).WillReturnResult(sqlmock.NewResult(1, 1))
					continue
				}
				mock.ExpectExec(q).WillReturnResult(sqlmock.NewResult(0, 0))
			}

			id, err := b.StartDistributed(ctx)
			require.NoError(t, err)
			assert.Equal(t, "x1", id)
			assert.True(t, b.InTx())
			_, err = b.Exec(ctx, insert)
			require.NoError(t, err)
			if tt.prepare {
				require.NoError(t, b.TryCommit(ctx, id))
			}
			if tt.undo {
				require.NoError(t, b.UndoCommit(ctx, id))
			} else {
				require.NoError(t, b.FinishCommit(ctx, id))
			}
			assert.False(t, b.InTx())
			require.NoError(t, mock.ExpectationsWereMet())
		})
	}

	t.Run("WrongID", func(t *testing.T) {
		t.Parallel()
		b, mock := mockBackend(t, dialect.MySQL, fixedXID())
		mock.ExpectExec("XA START 'x1'").WillReturnResult(sqlmock.NewResult(0, 0))
		_, err := b.StartDistributed(ctx)
		require.NoError(t, err)
		assert.ErrorIs(t, b.TryCommit(ctx, "x2"), ErrXIDState)
		_, err = b.StartDistributed(ctx)
		assert.ErrorIs(t, err, ErrTxOpen)
	})

	t.Run("SQLite", func(t *testing.T) {
		t.Parallel()
		b, _ := mockBackend(t, dialect.SQLite)
		_, err := b.StartDistributed(ctx)
		assert.ErrorIs(t, err, dialect.ErrTwoPhaseUnsupported)
		assert.False(t, dialect.SupportsTwoPhase(b))
	})
}

func TestConstraintKind(t *testing.T) {
	t.Parallel()
	tests := []struct {
		err  error
		want string
	}{
		{err: &mysql.MySQLError{Number: 1062}, want: ConstraintUnique},
		{err: &mysql.MySQLError{Number: 1452}, want: ConstraintForeignKey},
		{err: &mysql.MySQLError{Number: 1146}, want: ""},
		{err: &pq.Error{Code: "23505"}, want: ConstraintUnique},
		{err: &pq.Error{Code: "23514"}, want: ConstraintCheck},
		{err: fmt.Errorf("wrapped: %w", &pq.Error{Code: "23502"}), want: ConstraintNotNull},
		{err: errors.New("constraint failed: FOREIGN KEY constraint failed (787)"), want: ConstraintForeignKey},
		{err: errors.New("UNIQUE constraint failed: users.name"), want: ConstraintUnique},
		{err: errors.New("no such table: users"), want: ""},
		{err: nil, want: ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ConstraintKind(tt.err), "%v", tt.err)
	}
}

func TestEscape(t *testing.T) {
	t.Parallel()
	ts := time.Date(2024, 3, 1, 10, 30, 0, 0, time.UTC)
	tests := []struct {
		dialect string
		in      any
		want    string
	}{
		{dialect.MySQL, `it's \`, `'it''s \\'`},
		{dialect.Postgres, `it's \`, `'it''s \'`},
		{dialect.SQLite, nil, "NULL"},
		{dialect.SQLite, true, "1"},
		{dialect.Postgres, false, "FALSE"},
		{dialect.SQLite, int64(42), "42"},
		{dialect.SQLite, []byte{0xca, 0xfe}, "X'cafe'"},
		{dialect.Postgres, []byte{0xca, 0xfe}, `'\xcafe'`},
		{dialect.MySQL, ts, "'2024-03-01 10:30:00'"},
	}
	for _, tt := range tests {
		b := OpenDB("main", tt.dialect, nil)
		assert.Equal(t, tt.want, b.Escape(tt.in), "%s %v", tt.dialect, tt.in)
	}
}

func TestNormalize(t *testing.T) {
	t.Parallel()
	for in, want := range map[string]string{
		"sqlite":   dialect.SQLite,
		"sqlite3":  dialect.SQLite,
		"mysql":    dialect.MySQL,
		"postgres": dialect.Postgres,
		"pgx":      dialect.Postgres,
		"oracle":   "oracle",
	} {
		assert.Equal(t, want, normalize(in), in)
	}
	_, err := Open("main", "oracle", "")
	assert.ErrorContains(t, err, "unsupported dialect")
}

func TestWithVars(t *testing.T) {
	t.Parallel()
	b, mock := mockBackend(t, dialect.Postgres)
	ctx := context.Background()
	selectOne := &dialect.Statement{SQL: "SELECT 1"}

	mock.ExpectExec("SET foo = 'bar'").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT 1").WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(int64(1)))
	mock.ExpectExec("RESET foo").WillReturnResult(sqlmock.NewResult(0, 0))
	rows, err := b.Query(WithVar(ctx, "foo", "bar"), selectOne)
	require.NoError(t, err)
	require.NoError(t, rows.Close(), "rows should be closed to release the connection")
	require.NoError(t, mock.ExpectationsWereMet())

	mock.ExpectExec("SET foo = 'bar'").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("SET foo = 'baz'").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT 1").WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(int64(1)))
	mock.ExpectExec("RESET foo").WillReturnResult(sqlmock.NewResult(0, 0))
	rows, err = b.Query(WithVar(WithVar(ctx, "foo", "bar"), "foo", "baz"), selectOne)
	require.NoError(t, err)
	require.NoError(t, rows.Close())
	require.NoError(t, mock.ExpectationsWereMet())

	// Inside a transaction the variables stay on its connection.
	mock.ExpectBegin()
	mock.ExpectExec("SET foo = 'bar'").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT 1").WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(int64(1)))
	mock.ExpectCommit()
	require.NoError(t, b.BeginTransaction(ctx))
	rows, err = b.Query(WithVar(ctx, "foo", "bar"), selectOne)
	require.NoError(t, err)
	require.NoError(t, rows.Close())
	require.NoError(t, b.Commit(ctx))
	require.NoError(t, mock.ExpectationsWereMet())

	mock.ExpectExec("SET foo = 'it''s escaped'").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO users DEFAULT VALUES").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("RESET foo").WillReturnResult(sqlmock.NewResult(0, 0))
	_, err = b.Exec(WithVar(ctx, "foo", "it's escaped"), &dialect.Statement{SQL: "INSERT INTO users DEFAULT VALUES"})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())

	v, ok := VarFromContext(WithIntVar(ctx, "statement_timeout", 10), "statement_timeout")
	assert.True(t, ok)
	assert.Equal(t, "10", v)

	_, err = b.Query(WithVar(ctx, "foo; DROP TABLE users; --", "bar"), selectOne)
	assert.ErrorContains(t, err, "invalid session variable name")
}

func TestIsValidIdentifier(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		input    string
		expected bool
	}{
		{"valid_simple", "foo", true},
		{"valid_with_dot", "schema.table", true},
		{"valid_starting_underscore", "_private", true},
		{"invalid_empty", "", false},
		{"invalid_starting_number", "123foo", false},
		{"invalid_with_quote", "foo'bar", false},
		{"invalid_with_semicolon", "foo;DROP TABLE", false},
		{"invalid_too_long", string(make([]byte, 129)), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, isValidIdentifier(tt.input))
		})
	}
}

func TestStatsBackend(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	b, mock := mockBackend(t, dialect.SQLite)
	var slow []string
	sb := NewStatsBackend(b, WithSlowQueryHook(func(_ context.Context, query string, _ []any, _ time.Duration) {
		slow = append(slow, query)
	}))
	sb.SetSlowThreshold(-1)
	assert.Equal(t, time.Duration(-1), sb.SlowThreshold())

	mock.ExpectQuery("SELECT 1").WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(int64(1)))
	mock.ExpectExec("DELETE FROM t").WillReturnError(errors.New("locked"))
	rows, err := sb.Query(ctx, &dialect.Statement{SQL: "SELECT 1"})
	require.NoError(t, err)
	require.NoError(t, rows.Close())
	_, err = sb.Exec(ctx, &dialect.Statement{SQL: "DELETE FROM t"})
	require.Error(t, err)

	stats := sb.QueryStats().Stats()
	assert.Equal(t, int64(1), stats.TotalQueries)
	assert.Equal(t, int64(1), stats.TotalExecs)
	assert.Equal(t, int64(1), stats.Errors)
	assert.Equal(t, int64(2), stats.SlowQueries)
	assert.Equal(t, []string{"SELECT 1", "DELETE FROM t"}, slow)
	assert.Contains(t, stats.String(), "queries=1 execs=1")

	sb.QueryStats().Reset()
	assert.Zero(t, sb.QueryStats().Stats().TotalQueries)
	assert.True(t, dialect.SupportsTwoPhase(NewStatsBackend(OpenDB("pg", dialect.Postgres, nil))))
}

func TestDebugBackend(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	b, mock := mockBackend(t, dialect.SQLite)
	var logged []string
	db := NewDebugBackend(b, DebugWithLog(func(_ context.Context, v ...any) {
		logged = append(logged, fmt.Sprint(v...))
	}))

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM t WHERE id = ?").WithArgs(int64(2)).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectRollback()
	require.NoError(t, db.BeginTransaction(ctx))
	_, err := db.Exec(ctx, &dialect.Statement{SQL: "DELETE FROM t WHERE id = :1", Args: []any{int64(2)}})
	require.NoError(t, err)
	require.NoError(t, db.Rollback(ctx))
	require.NoError(t, mock.ExpectationsWereMet())
	assert.Equal(t, []string{
		"begin transaction",
		"exec: DELETE FROM t WHERE id = :1 args: [2]",
		"rollback transaction",
	}, logged)
}

func TestSQLite(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	b, err := OpenSQLite("main", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })
	require.NoError(t, b.Connect(ctx))
	require.NoError(t, b.Connect(ctx))

	exec := func(sql string, args ...any) error {
		_, err := b.Exec(ctx, &dialect.Statement{SQL: sql, Args: args})
		return err
	}
	require.NoError(t, exec(`CREATE TABLE "users" ("id" integer PRIMARY KEY AUTOINCREMENT, "name" varchar(255) NOT NULL UNIQUE)`))
	require.NoError(t, exec(`INSERT INTO "users" ("name") VALUES (:1)`, "Ann"))
	require.NoError(t, exec(`INSERT INTO "users" ("name") VALUES (:1)`, "bob"))

	err = exec(`INSERT INTO "users" ("name") VALUES (:1)`, "Ann")
	assert.True(t, strata.IsConstraintError(err))
	assert.True(t, IsUniqueConstraintError(err))

	rows, err := b.Query(ctx, &dialect.Statement{
		SQL:  `SELECT "id", "name" FROM "users" WHERE "name" REGEXP :1 ORDER BY "id"`,
		Args: []any{"^[A-Z]"},
	})
	require.NoError(t, err)
	defer rows.Close()
	require.True(t, rows.Next())
	vals, err := rows.Values()
	require.NoError(t, err)
	assert.Equal(t, []any{int64(1), "Ann"}, vals)
	assert.False(t, rows.Next())
	require.NoError(t, rows.Err())
}

func TestSQLiteDSN(t *testing.T) {
	t.Parallel()
	for in, want := range map[string]string{
		":memory:":                           ":memory:?_time_format=sqlite",
		"file:app.db?mode=rwc":               "file:app.db?mode=rwc&_time_format=sqlite",
		"file:app.db?_time_format=sqlite":    "file:app.db?_time_format=sqlite",
		"file::memory:?_pragma=foreign_keys": "file::memory:?_pragma=foreign_keys&_time_format=sqlite",
	} {
		assert.Equal(t, want, sqliteDSN(in), in)
	}
}

func TestSQLiteTextAndTime(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	b, err := OpenSQLite("main", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })

	at := time.Date(2026, 10, 17, 3, 55, 10, 684895187, time.UTC)
	_, err = b.Exec(ctx, &dialect.Statement{SQL: `CREATE TABLE "notes" ("body" text, "at" datetime)`})
	require.NoError(t, err)
	_, err = b.Exec(ctx, &dialect.Statement{SQL: `INSERT INTO "notes" ("body", "at") VALUES (:1, :2)`, Args: []any{"Ärger Zebra", at}})
	require.NoError(t, err)

	scalar := func(t *testing.T, sql string, args ...any) any {
		t.Helper()
		rows, err := b.Query(ctx, &dialect.Statement{SQL: sql, Args: args})
		require.NoError(t, err)
		defer rows.Close()
		require.True(t, rows.Next())
		vals, err := rows.Values()
		require.NoError(t, err)
		require.NoError(t, rows.Err())
		return vals[0]
	}

	tests := []struct {
		name string
		sql  string
		args []any
		want any
	}{
		{name: "year", sql: `SELECT CAST(strftime('%Y', "at") AS INTEGER) FROM "notes"`, want: int64(2026)},
		{name: "month", sql: `SELECT CAST(strftime('%m', "at") AS INTEGER) FROM "notes"`, want: int64(10)},
		{name: "day", sql: `SELECT CAST(strftime('%d', "at") AS INTEGER) FROM "notes"`, want: int64(17)},
		{name: "fold_collation", sql: `SELECT COUNT(*) FROM "notes" WHERE "body" = :1 COLLATE FOLD`, args: []any{"ärger zebra"}, want: int64(1)},
		{name: "fold_order", sql: `SELECT COUNT(*) FROM "notes" WHERE "body" > :1 COLLATE FOLD`, args: []any{"ärger"}, want: int64(1)},
		{name: "fold_like", sql: `SELECT COUNT(*) FROM "notes" WHERE fold("body") LIKE fold(:1) ESCAPE '\'`, args: []any{"ÄRG%"}, want: int64(1)},
		{name: "nocase_is_ascii", sql: `SELECT COUNT(*) FROM "notes" WHERE "body" = :1 COLLATE NOCASE`, args: []any{"ärger zebra"}, want: int64(0)},
		{name: "fold_null", sql: `SELECT fold(NULL)`, want: nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, scalar(t, tt.sql, tt.args...))
		})
	}
}
