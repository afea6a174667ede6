package sql

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"modernc.org/sqlite"

	"github.com/syssam/strata/dialect"
	"github.com/syssam/strata/expr"
)

// Transaction errors.
var (
	ErrTxOpen   = errors.New("dialect/sql: transaction already open")
	ErrNoTx     = errors.New("dialect/sql: no open transaction")
	ErrXIDState = errors.New("dialect/sql: distributed transaction id does not match")
)

// Option configures a Backend.
type Option func(*Backend)

// WithLogger sets the logger transactions are traced on. The default is
// slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(b *Backend) { b.logger = l }
}

// WithXID sets the generator of distributed transaction ids. The default
// generates random UUIDs.
func WithXID(gen func() string) Option {
	return func(b *Backend) { b.xid = gen }
}

// Backend is a dialect.Distributed backed by a database/sql pool.
//
// At most one transaction is open at a time. While it is open every
// statement runs on it: a *sql.Tx for plain transactions, a pinned
// connection for distributed ones.
//
// A Backend is not safe for concurrent use while a transaction is open.
type Backend struct {
	name    string
	dialect string
	db      *sql.DB
	logger  *slog.Logger
	xid     func() string

	connected bool
	tx        *sql.Tx
	pinned    *sql.Conn
	txID      string
	prepared  bool
}

// Open opens a backend called name for the dialect. The driver is chosen
// by dialect: go-sql-driver/mysql for MySQL, lib/pq for Postgres and
// modernc.org/sqlite for SQLite.
func Open(name, dialectName, dsn string, opts ...Option) (*Backend, error) {
	switch normalize(dialectName) {
	case dialect.MySQL:
		return OpenMySQL(name, dsn, opts...)
	case dialect.Postgres:
		return OpenPostgres(name, dsn, opts...)
	case dialect.SQLite:
		return OpenSQLite(name, dsn, opts...)
	}
	return nil, fmt.Errorf("dialect/sql: unsupported dialect %q", dialectName)
}

// OpenMySQL opens a MySQL backend. Times are always parsed into time.Time.
func OpenMySQL(name, dsn string, opts ...Option) (*Backend, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("dialect/sql: mysql dsn: %w", err)
	}
	cfg.ParseTime = true
	connector, err := mysql.NewConnector(cfg)
	if err != nil {
		return nil, fmt.Errorf("dialect/sql: mysql connector: %w", err)
	}
	return OpenDB(name, dialect.MySQL, sql.OpenDB(connector), opts...), nil
}

// OpenPostgres opens a Postgres backend.
func OpenPostgres(name, dsn string, opts ...Option) (*Backend, error) {
	connector, err := pq.NewConnector(dsn)
	if err != nil {
		return nil, fmt.Errorf("dialect/sql: postgres connector: %w", err)
	}
	return OpenDB(name, dialect.Postgres, sql.OpenDB(connector), opts...), nil
}

// registerFunctions adds the functions and collations the SQLite flavor
// renders to every connection opened afterwards.
var registerFunctions = sync.OnceValue(func() error {
	if err := sqlite.RegisterDeterministicScalarFunction("regexp", 2, sqliteRegexp); err != nil {
		return err
	}
	if err := sqlite.RegisterDeterministicScalarFunction("fold", 1, sqliteFold); err != nil {
		return err
	}
	return sqlite.RegisterCollationUtf8("FOLD", expr.CompareFolded)
})

// sqliteRegexp implements "x REGEXP pattern", which SQLite calls as
// regexp(pattern, x).
func sqliteRegexp(_ *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
	if args[0] == nil || args[1] == nil {
		return nil, nil
	}
	re, err := regexp.Compile(text(args[0]))
	if err != nil {
		return nil, err
	}
	if re.MatchString(text(args[1])) {
		return int64(1), nil
	}
	return int64(0), nil
}

func sqliteFold(_ *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
	if args[0] == nil {
		return nil, nil
	}
	return expr.Fold(text(args[0])), nil
}

func text(v driver.Value) string {
	switch x := v.(type) {
	case string:
		return x
	case []byte:
		return string(x)
	}
	return fmt.Sprint(v)
}

// OpenSQLite opens a SQLite backend with the regexp and fold functions. The
// pool holds a single connection, so an in-memory database is shared by
// every statement. Times are written in a form the SQLite date functions
// parse.
func OpenSQLite(name, dsn string, opts ...Option) (*Backend, error) {
	if err := registerFunctions(); err != nil {
		return nil, fmt.Errorf("dialect/sql: register functions: %w", err)
	}
	db, err := sql.Open("sqlite", sqliteDSN(dsn))
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	return OpenDB(name, dialect.SQLite, db, opts...), nil
}

// sqliteDSN sets the time format of dsn unless it names one.
func sqliteDSN(dsn string) string {
	if strings.Contains(dsn, "_time_format=") {
		return dsn
	}
	if strings.Contains(dsn, "?") {
		return dsn + "&_time_format=sqlite"
	}
	return dsn + "?_time_format=sqlite"
}

// OpenDB wraps an opened pool.
func OpenDB(name, dialectName string, db *sql.DB, opts ...Option) *Backend {
	b := &Backend{
		name:    name,
		dialect: normalize(dialectName),
		db:      db,
		logger:  slog.Default(),
		xid:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// normalize maps driver names such as "sqlite" or "pgx" to dialect names.
func normalize(name string) string {
	switch {
	case strings.HasPrefix(name, dialect.MySQL):
		return dialect.MySQL
	case strings.HasPrefix(name, "sqlite"):
		return dialect.SQLite
	case strings.HasPrefix(name, dialect.Postgres), name == "pgx":
		return dialect.Postgres
	}
	return name
}

// Name returns the backend name.
func (b *Backend) Name() string { return b.name }

// Dialect returns the dialect name.
func (b *Backend) Dialect() string { return b.dialect }

// DB returns the underlying pool.
func (b *Backend) DB() *sql.DB { return b.db }

// TwoPhase reports whether the database supports distributed transactions.
func (b *Backend) TwoPhase() bool { return b.dialect != dialect.SQLite }

// InTx reports whether a transaction is open.
func (b *Backend) InTx() bool { return b.tx != nil || b.pinned != nil }

// Connect verifies the connection. SQLite connections get foreign keys
// enforced.
func (b *Backend) Connect(ctx context.Context) error {
	if b.connected {
		return nil
	}
	if err := b.db.PingContext(ctx); err != nil {
		return fmt.Errorf("dialect/sql: connect %s: %w", b.name, err)
	}
	if b.dialect == dialect.SQLite {
		if _, err := b.db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
			return fmt.Errorf("dialect/sql: connect %s: %w", b.name, err)
		}
	}
	b.connected = true
	return nil
}

func (b *Backend) conn() conn {
	switch {
	case b.tx != nil:
		return conn{b.tx, b.dialect}
	case b.pinned != nil:
		return conn{b.pinned, b.dialect}
	}
	return conn{b.db, b.dialect}
}

// Exec runs a write statement. Statements that return the generated key
// are run as queries and the key is reported as LastInsertId.
func (b *Backend) Exec(ctx context.Context, stmt *dialect.Statement) (dialect.Result, error) {
	query, args, err := rebind(b.dialect, stmt.SQL, stmt.Args)
	if err != nil {
		return nil, err
	}
	if stmt.Returning {
		rows, err := b.conn().query(ctx, query, args)
		if err != nil {
			return nil, err
		}
		defer rows.Close()
		res := &returning{}
		for rows.Next() {
			if err := rows.Scan(&res.id); err != nil {
				return nil, err
			}
			res.affected++
		}
		return res, rows.Err()
	}
	return b.conn().exec(ctx, query, args)
}

// Query runs a statement that returns rows.
func (b *Backend) Query(ctx context.Context, stmt *dialect.Statement) (dialect.Rows, error) {
	query, args, err := rebind(b.dialect, stmt.SQL, stmt.Args)
	if err != nil {
		return nil, err
	}
	rows, err := b.conn().query(ctx, query, args)
	if err != nil {
		return nil, err
	}
	return NewRows(rows), nil
}

type returning struct {
	id       int64
	affected int64
}

func (r *returning) RowsAffected() (int64, error) { return r.affected, nil }
func (r *returning) LastInsertId() (int64, error) { return r.id, nil }

// Escape renders v as a SQL literal.
func (b *Backend) Escape(v any) string {
	switch x := v.(type) {
	case nil:
		return "NULL"
	case bool:
		if b.dialect == dialect.Postgres {
			return strings.ToUpper(strconv.FormatBool(x))
		}
		if x {
			return "1"
		}
		return "0"
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return fmt.Sprint(x)
	case []byte:
		if b.dialect == dialect.Postgres {
			return `'\x` + hex.EncodeToString(x) + `'`
		}
		return "X'" + hex.EncodeToString(x) + "'"
	case time.Time:
		return "'" + x.UTC().Format("2006-01-02 15:04:05.999999") + "'"
	case string:
		if b.dialect == dialect.MySQL {
			return "'" + escapeStringValue(x) + "'"
		}
		return "'" + strings.ReplaceAll(x, "'", "''") + "'"
	}
	return b.Escape(fmt.Sprint(v))
}

// Close closes the pool.
func (b *Backend) Close() error { return b.db.Close() }

// BeginTransaction opens a plain transaction.
func (b *Backend) BeginTransaction(ctx context.Context) error {
	if b.InTx() {
		return ErrTxOpen
	}
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("dialect/sql: begin: %w", err)
	}
	b.tx = tx
	b.logger.Debug("dialect/sql: begin", "backend", b.name)
	return nil
}

// Commit commits the open transaction.
func (b *Backend) Commit(context.Context) error {
	if b.tx == nil {
		return ErrNoTx
	}
	tx := b.tx
	b.tx = nil
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("dialect/sql: commit: %w", classify(err))
	}
	b.logger.Debug("dialect/sql: commit", "backend", b.name)
	return nil
}

// Rollback rolls back the open transaction, plain or distributed. It is a
// no-op when none is open.
func (b *Backend) Rollback(ctx context.Context) error {
	switch {
	case b.tx != nil:
		tx := b.tx
		b.tx = nil
		b.logger.Debug("dialect/sql: rollback", "backend", b.name)
		if err := tx.Rollback(); err != nil {
			return fmt.Errorf("dialect/sql: rollback: %w", err)
		}
	case b.pinned != nil:
		return b.UndoCommit(ctx, b.txID)
	}
	return nil
}

// xaStatements are the statements of the two-phase protocol per dialect.
type xaStatements struct {
	start, end, prepare, commit, rollback, rollbackPrepared string
}

var protocols = map[string]xaStatements{
	dialect.MySQL: {
		start:            "XA START %s",
		end:              "XA END %s",
		prepare:          "XA PREPARE %s",
		commit:           "XA COMMIT %s",
		rollback:         "XA ROLLBACK %s",
		rollbackPrepared: "XA ROLLBACK %s",
	},
	dialect.Postgres: {
		start:            "BEGIN",
		prepare:          "PREPARE TRANSACTION %s",
		commit:           "COMMIT PREPARED %s",
		rollback:         "ROLLBACK",
		rollbackPrepared: "ROLLBACK PREPARED %s",
	},
}

func (b *Backend) protocol() (xaStatements, error) {
	p, ok := protocols[b.dialect]
	if !ok {
		return p, fmt.Errorf("%s: %w", b.dialect, dialect.ErrTwoPhaseUnsupported)
	}
	return p, nil
}

// xa runs one statement of the protocol on the pinned connection.
func (b *Backend) xa(ctx context.Context, format string) error {
	if format == "" {
		return nil
	}
	query := format
	if strings.Contains(format, "%s") {
		query = fmt.Sprintf(format, b.Escape(b.txID))
	}
	if _, err := b.pinned.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("dialect/sql: %s: %w", query, classify(err))
	}
	return nil
}

// StartDistributed opens a distributed transaction on a dedicated
// connection and returns its id.
func (b *Backend) StartDistributed(ctx context.Context) (string, error) {
	p, err := b.protocol()
	if err != nil {
		return "", err
	}
	if b.InTx() {
		return "", ErrTxOpen
	}
	c, err := b.db.Conn(ctx)
	if err != nil {
		return "", fmt.Errorf("dialect/sql: start distributed: %w", err)
	}
	b.pinned, b.txID, b.prepared = c, b.xid(), false
	if err := b.xa(ctx, p.start); err != nil {
		b.release()
		return "", err
	}
	b.logger.Debug("dialect/sql: distributed begin", "backend", b.name, "xid", b.txID)
	return b.txID, nil
}

// TryCommit runs the first phase: the transaction is prepared and survives
// until FinishCommit or UndoCommit.
func (b *Backend) TryCommit(ctx context.Context, txnID string) error {
	p, err := b.distributed(txnID)
	if err != nil {
		return err
	}
	if err := b.xa(ctx, p.end); err != nil {
		return err
	}
	if err := b.xa(ctx, p.prepare); err != nil {
		return err
	}
	b.prepared = true
	return nil
}

// FinishCommit commits a prepared transaction.
func (b *Backend) FinishCommit(ctx context.Context, txnID string) error {
	p, err := b.distributed(txnID)
	if err != nil {
		return err
	}
	defer b.release()
	if !b.prepared {
		return fmt.Errorf("dialect/sql: %s is not prepared", txnID)
	}
	return b.xa(ctx, p.commit)
}

// UndoCommit rolls back a distributed transaction, prepared or not.
func (b *Backend) UndoCommit(ctx context.Context, txnID string) error {
	p, err := b.distributed(txnID)
	if err != nil {
		return err
	}
	defer b.release()
	b.logger.Debug("dialect/sql: distributed rollback", "backend", b.name, "xid", txnID, "prepared", b.prepared)
	if b.prepared {
		return b.xa(ctx, p.rollbackPrepared)
	}
	if err := b.xa(ctx, p.end); err != nil {
		return err
	}
	return b.xa(ctx, p.rollback)
}

func (b *Backend) distributed(txnID string) (xaStatements, error) {
	p, err := b.protocol()
	if err != nil {
		return p, err
	}
	if b.pinned == nil {
		return p, ErrNoTx
	}
	if txnID != b.txID {
		return p, fmt.Errorf("%w: %q", ErrXIDState, txnID)
	}
	return p, nil
}

func (b *Backend) release() {
	if b.pinned != nil {
		if err := b.pinned.Close(); err != nil {
			b.logger.Warn("dialect/sql: release connection", "backend", b.name, "error", err)
		}
	}
	b.pinned, b.txID, b.prepared = nil, "", false
}

var _ dialect.Distributed = (*Backend)(nil)
