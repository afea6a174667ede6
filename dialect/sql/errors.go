package sql

import (
	"errors"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"

	"github.com/syssam/strata"
)

// PostgreSQL SQLSTATE codes for constraint violations (Class 23).
const (
	pgNotNullViolation    = "23502"
	pgForeignKeyViolation = "23503"
	pgUniqueViolation     = "23505"
	pgCheckViolation      = "23514"
)

// MySQL error numbers for constraint violations.
const (
	mysqlNotNull                = 1048
	mysqlDuplicateEntry         = 1062
	mysqlForeignKeyParent       = 1451 // Cannot delete or update a parent row
	mysqlForeignKeyChild        = 1452 // Cannot add or update a child row
	mysqlCheckConstraintViolate = 3819
)

// Constraint kinds.
const (
	ConstraintUnique     = "unique"
	ConstraintForeignKey = "foreign key"
	ConstraintCheck      = "check"
	ConstraintNotNull    = "not null"
)

// ConstraintKind returns the kind of constraint err reports a violation
// of, or "" when it reports none.
func ConstraintKind(err error) string {
	if err == nil {
		return ""
	}
	if e, ok := asError[*pq.Error](err); ok {
		switch string(e.Code) {
		case pgUniqueViolation:
			return ConstraintUnique
		case pgForeignKeyViolation:
			return ConstraintForeignKey
		case pgCheckViolation:
			return ConstraintCheck
		case pgNotNullViolation:
			return ConstraintNotNull
		}
		return ""
	}
	if e, ok := asError[*mysql.MySQLError](err); ok {
		switch e.Number {
		case mysqlDuplicateEntry:
			return ConstraintUnique
		case mysqlForeignKeyParent, mysqlForeignKeyChild:
			return ConstraintForeignKey
		case mysqlCheckConstraintViolate:
			return ConstraintCheck
		case mysqlNotNull:
			return ConstraintNotNull
		}
		return ""
	}
	// SQLite reports constraints in the message only.
	msg := err.Error()
	switch {
	case strings.Contains(msg, "UNIQUE constraint failed"):
		return ConstraintUnique
	case strings.Contains(msg, "FOREIGN KEY constraint failed"):
		return ConstraintForeignKey
	case strings.Contains(msg, "CHECK constraint failed"):
		return ConstraintCheck
	case strings.Contains(msg, "NOT NULL constraint failed"):
		return ConstraintNotNull
	}
	return ""
}

// IsUniqueConstraintError reports if the error resulted from a DB uniqueness constraint violation.
func IsUniqueConstraintError(err error) bool { return ConstraintKind(err) == ConstraintUnique }

// IsForeignKeyConstraintError reports if the error resulted from a foreign-key constraint violation.
func IsForeignKeyConstraintError(err error) bool { return ConstraintKind(err) == ConstraintForeignKey }

// classify wraps driver errors that report a constraint violation in a
// strata.ConstraintError.
func classify(err error) error {
	if kind := ConstraintKind(err); kind != "" && !strata.IsConstraintError(err) {
		return strata.NewConstraintError(kind+": "+err.Error(), err)
	}
	return err
}

// asError attempts to extract an error of type T from the error chain.
func asError[T error](err error) (T, bool) {
	var target T
	ok := errors.As(err, &target)
	return target, ok
}
