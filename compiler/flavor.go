package compiler

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/lib/pq"

	"github.com/syssam/strata/dialect"
	"github.com/syssam/strata/expr"
	"github.com/syssam/strata/query"
	"github.com/syssam/strata/schema/field"
)

// Flavor holds everything that differs between SQL dialects. The shared
// compilation algorithm only calls these hooks.
type Flavor interface {
	expr.Flavor
	// Window renders the LIMIT/OFFSET clause with a leading space. A
	// negative limit means no limit.
	Window(limit, offset int) string
	// Lock renders the row locking clause with a leading space.
	Lock(mode query.LockMode) string
	// Insert renders an INSERT of vals into cols of table.
	Insert(table string, cols, vals []string) string
	// Returning reports whether generated keys are read with RETURNING.
	Returning() bool
	// UnionBranch wraps one member of a compound select.
	UnionBranch(sql string) string
	// ColumnType returns the DDL type of a field.
	ColumnType(d *field.Descriptor) string
	// AutoIncrement returns the full DDL column type of an auto
	// incrementing primary key, and whether it includes the primary key
	// constraint.
	AutoIncrement() (typ string, inline bool)
}

// FlavorOf returns the flavor of a dialect name.
func FlavorOf(name string) (Flavor, error) {
	switch name {
	case dialect.MySQL:
		return MySQL{}, nil
	case dialect.SQLite:
		return SQLite{}, nil
	case dialect.Postgres:
		return Postgres{}, nil
	}
	return nil, fmt.Errorf("compiler: unsupported dialect %q", name)
}

// base holds the rendering shared by all flavors.
type base struct{}

func (base) Regex(lhs, pattern string) string { return lhs + " REGEXP " + pattern }

func (base) Extract(unit, lhs string) string {
	return "EXTRACT(" + strings.ToUpper(unit) + " FROM " + lhs + ")"
}

func (base) Length(lhs string) string { return "LENGTH(" + lhs + ")" }

func (base) Lock(mode query.LockMode) string {
	switch mode {
	case query.LockUpdate:
		return " FOR UPDATE"
	case query.LockShare:
		return " FOR SHARE"
	}
	return ""
}

func (base) Insert(table string, cols, vals []string) string {
	if len(cols) == 0 {
		return "INSERT INTO " + table + " DEFAULT VALUES"
	}
	return "INSERT INTO " + table + " (" + strings.Join(cols, ", ") + ") VALUES (" + strings.Join(vals, ", ") + ")"
}

func (base) Returning() bool { return false }

func (base) UnionBranch(sql string) string { return "(" + sql + ")" }

func window(limit, offset int, noLimit string) string {
	var b strings.Builder
	switch {
	case limit >= 0:
		b.WriteString(" LIMIT " + strconv.Itoa(limit))
	case offset > 0 && noLimit != "":
		b.WriteString(" LIMIT " + noLimit)
	}
	if offset > 0 {
		b.WriteString(" OFFSET " + strconv.Itoa(offset))
	}
	return b.String()
}

func columnType(d *field.Descriptor, dialect string, types map[field.Kind]string, text func(size int) string) string {
	if t, ok := d.SchemaType[dialect]; ok {
		return t
	}
	switch {
	case d.Kind == field.KindDecimal && d.Precision > 0:
		return fmt.Sprintf("%s(%d,%d)", types[field.KindDecimal], d.Precision, d.Scale)
	case d.Kind == field.KindText:
		return text(d.Size)
	case d.Kind.Is(field.KindInteger):
		return types[field.KindInteger]
	}
	if t, ok := types[d.Kind]; ok {
		return t
	}
	return types[field.KindText]
}

// MySQL is the MySQL and MariaDB flavor. Text comparisons rely on the
// case-insensitive default collation.
type MySQL struct{ base }

var mysqlTypes = map[field.Kind]string{
	field.KindInteger: "bigint",
	field.KindBool:    "boolean",
	field.KindFloat:   "double",
	field.KindDecimal: "decimal",
	field.KindText:    "longtext",
	field.KindJSON:    "json",
	field.KindUUID:    "char(36)",
	field.KindTime:    "datetime(6)",
	field.KindBytes:   "longblob",
	field.KindAny:     "longtext",
}

func (MySQL) Name() string { return dialect.MySQL }

func (MySQL) Quote(ident string) string {
	return "`" + strings.ReplaceAll(ident, "`", "``") + "`"
}

func (MySQL) Fold(lhs, op, rhs string) string { return lhs + " " + op + " " + rhs }

func (MySQL) FoldIn(lhs string, list []string) string {
	return lhs + " IN (" + strings.Join(list, ", ") + ")"
}

func (MySQL) Like(lhs, pattern string) string { return lhs + " LIKE " + pattern }

func (MySQL) Regex(lhs, pattern string) string {
	return "REGEXP_LIKE(" + lhs + ", " + pattern + ", 'c')"
}

func (MySQL) Length(lhs string) string { return "CHAR_LENGTH(" + lhs + ")" }

func (MySQL) Window(limit, offset int) string {
	return window(limit, offset, "18446744073709551615")
}

func (MySQL) Insert(table string, cols, vals []string) string {
	if len(cols) == 0 {
		return "INSERT INTO " + table + " () VALUES ()"
	}
	sets := make([]string, len(cols))
	for i := range cols {
		sets[i] = cols[i] + " = " + vals[i]
	}
	return "INSERT INTO " + table + " SET " + strings.Join(sets, ", ")
}

func (MySQL) ColumnType(d *field.Descriptor) string {
	return columnType(d, dialect.MySQL, mysqlTypes, func(size int) string {
		if size > 0 {
			return fmt.Sprintf("varchar(%d)", size)
		}
		return "longtext"
	})
}

func (MySQL) AutoIncrement() (string, bool) { return "bigint AUTO_INCREMENT", false }

// SQLite is the SQLite flavor. NOCASE and LIKE fold ASCII only, so text
// comparisons use the FOLD collation and the fold function instead. Both,
// and the regexp function, must be registered on the connection.
type SQLite struct{ base }

var sqliteTypes = map[field.Kind]string{
	field.KindInteger: "integer",
	field.KindBool:    "bool",
	field.KindFloat:   "real",
	field.KindDecimal: "decimal",
	field.KindText:    "text",
	field.KindJSON:    "json",
	field.KindUUID:    "uuid",
	field.KindTime:    "datetime",
	field.KindBytes:   "blob",
	field.KindAny:     "text",
}

var sqliteUnits = map[string]string{"year": "%Y", "month": "%m", "day": "%d"}

func (SQLite) Name() string { return dialect.SQLite }

func (SQLite) Quote(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

func (SQLite) Fold(lhs, op, rhs string) string {
	return lhs + " " + op + " " + rhs + " COLLATE FOLD"
}

func (SQLite) FoldIn(lhs string, list []string) string {
	return lhs + " COLLATE FOLD IN (" + strings.Join(list, ", ") + ")"
}

func (SQLite) Like(lhs, pattern string) string {
	return "fold(" + lhs + ") LIKE fold(" + pattern + `) ESCAPE '\'`
}

func (SQLite) Extract(unit, lhs string) string {
	return "CAST(strftime('" + sqliteUnits[unit] + "', " + lhs + ") AS INTEGER)"
}

func (SQLite) Lock(query.LockMode) string { return "" }

func (SQLite) Window(limit, offset int) string { return window(limit, offset, "-1") }

func (SQLite) UnionBranch(sql string) string { return "SELECT * FROM (" + sql + ")" }

func (SQLite) ColumnType(d *field.Descriptor) string {
	return columnType(d, dialect.SQLite, sqliteTypes, func(size int) string {
		if size > 0 {
			return fmt.Sprintf("varchar(%d)", size)
		}
		return "text"
	})
}

func (SQLite) AutoIncrement() (string, bool) { return "integer PRIMARY KEY AUTOINCREMENT", true }

// Postgres is the PostgreSQL flavor. Generated keys are read back with
// RETURNING.
type Postgres struct{ base }

var postgresTypes = map[field.Kind]string{
	field.KindInteger: "bigint",
	field.KindBool:    "boolean",
	field.KindFloat:   "double precision",
	field.KindDecimal: "numeric",
	field.KindText:    "text",
	field.KindJSON:    "jsonb",
	field.KindUUID:    "uuid",
	field.KindTime:    "timestamptz",
	field.KindBytes:   "bytea",
	field.KindAny:     "text",
}

func (Postgres) Name() string { return dialect.Postgres }

func (Postgres) Quote(ident string) string { return pq.QuoteIdentifier(ident) }

func (Postgres) Fold(lhs, op, rhs string) string {
	return "LOWER(" + lhs + ") " + op + " LOWER(" + rhs + ")"
}

func (Postgres) FoldIn(lhs string, list []string) string {
	lowered := make([]string, len(list))
	for i, p := range list {
		lowered[i] = "LOWER(" + p + ")"
	}
	return "LOWER(" + lhs + ") IN (" + strings.Join(lowered, ", ") + ")"
}

func (Postgres) Like(lhs, pattern string) string { return lhs + " ILIKE " + pattern }

func (Postgres) Regex(lhs, pattern string) string { return lhs + " ~ " + pattern }

func (Postgres) Extract(unit, lhs string) string {
	return "CAST(EXTRACT(" + strings.ToUpper(unit) + " FROM " + lhs + ") AS INTEGER)"
}

func (Postgres) Window(limit, offset int) string { return window(limit, offset, "") }

func (Postgres) Returning() bool { return true }

func (Postgres) ColumnType(d *field.Descriptor) string {
	return columnType(d, dialect.Postgres, postgresTypes, func(size int) string {
		if size > 0 {
			return fmt.Sprintf("varchar(%d)", size)
		}
		return "text"
	})
}

func (Postgres) AutoIncrement() (string, bool) { return "bigserial", false }
