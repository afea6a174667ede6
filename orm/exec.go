package orm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/syssam/strata"
	"github.com/syssam/strata/compiler"
	"github.com/syssam/strata/dialect"
	"github.com/syssam/strata/privacy"
	"github.com/syssam/strata/query"
	"github.com/syssam/strata/record"
	"github.com/syssam/strata/schema"
	"github.com/syssam/strata/schema/field"
)

// ErrProjection is returned when iterating models of a query that selects
// values.
var ErrProjection = errors.New("orm: query selects values, not models")

// Compile compiles the select of q for the backend of its model.
func (db *DB) Compile(q *query.Query) (*dialect.Statement, error) {
	_, _, cfg, err := db.target(q.ModelName())
	if err != nil {
		return nil, err
	}
	return cfg.Select(q)
}

// compile compiles q with fn and returns the backend to run it on.
func (db *DB) compile(q *query.Query, fn func(compiler.Config) (*dialect.Statement, error)) (*schema.Metadata, dialect.Backend, *dialect.Statement, error) {
	meta, b, cfg, err := db.target(q.ModelName())
	if err != nil {
		return nil, nil, nil, err
	}
	stmt, err := fn(cfg)
	if err != nil {
		return nil, nil, nil, err
	}
	return meta, b, stmt, nil
}

// Iterate runs q and returns a cursor over its models.
func (db *DB) Iterate(ctx context.Context, q *query.Query) (*record.Cursor, error) {
	q, err := db.authorizeQuery(ctx, q)
	if err != nil {
		return nil, err
	}
	_, b, stmt, err := db.compile(q, func(cfg compiler.Config) (*dialect.Statement, error) { return cfg.Select(q) })
	if err != nil {
		return nil, err
	}
	if len(stmt.FieldMap) == 0 {
		return nil, strata.NewQueryError(q.ModelName(), "iterate", ErrProjection)
	}
	rows, err := db.query(ctx, b, stmt)
	if err != nil {
		return nil, err
	}
	return record.NewCursor(rows, stmt.FieldMap, db.materializer()), nil
}

func (db *DB) materializer() *record.Materializer {
	return &record.Materializer{Registry: db.reg, Identity: db.identity, Store: db}
}

// Count runs the count of q.
func (db *DB) Count(ctx context.Context, q *query.Query) (int64, error) {
	q, err := db.authorizeQuery(ctx, q)
	if err != nil {
		return 0, err
	}
	_, b, stmt, err := db.compile(q, func(cfg compiler.Config) (*dialect.Statement, error) { return cfg.Count(q) })
	if err != nil {
		return 0, err
	}
	rows, err := db.query(ctx, b, stmt)
	if err != nil {
		return 0, err
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return 0, err
		}
		return 0, strata.NewQueryError(q.ModelName(), "count", errors.New("no result row"))
	}
	vals, err := rows.Values()
	if err != nil {
		return 0, err
	}
	return field.AsInt64(vals[0])
}

// Values runs q and returns its rows keyed by column name. Columns that
// name a field, directly or through relationships, hold host values.
func (db *DB) Values(ctx context.Context, q *query.Query) ([]map[string]any, error) {
	q, err := db.authorizeQuery(ctx, q)
	if err != nil {
		return nil, err
	}
	meta, b, stmt, err := db.compile(q, func(cfg compiler.Config) (*dialect.Statement, error) { return cfg.Select(q) })
	if err != nil {
		return nil, err
	}
	rows, err := db.query(ctx, b, stmt)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	descs := make([]*field.Descriptor, len(stmt.Columns))
	for i, col := range stmt.Columns {
		descs[i] = db.fieldAt(meta, col)
	}
	var out []map[string]any
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return nil, err
		}
		row := make(map[string]any, len(vals))
		for i, v := range vals {
			if i >= len(stmt.Columns) {
				break
			}
			if d := descs[i]; d != nil {
				if v, err = d.FromDB(v); err != nil {
					return nil, fmt.Errorf("orm: %s: %w", stmt.Columns[i], err)
				}
			} else if raw, ok := v.([]byte); ok {
				v = string(raw)
			}
			row[stmt.Columns[i]] = v
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// fieldAt returns the field a column path names, or nil when it names an
// annotation, a transform or anything else.
func (db *DB) fieldAt(meta *schema.Metadata, path string) *field.Descriptor {
	segs := strings.Split(path, "__")
	for _, seg := range segs[:len(segs)-1] {
		j, ok, err := meta.Join(seg)
		if !ok || err != nil {
			return nil
		}
		if meta, err = db.reg.Metadata(j.Target); err != nil {
			return nil
		}
	}
	d, _ := meta.Field(segs[len(segs)-1])
	return d
}

// UpdateAll runs a bulk update of the rows q selects.
func (db *DB) UpdateAll(ctx context.Context, q *query.Query, values map[string]any) (int64, error) {
	q, err := db.authorizeBulk(ctx, privacy.OpUpdateMany, q, values)
	if err != nil {
		return 0, err
	}
	_, b, stmt, err := db.compile(q, func(cfg compiler.Config) (*dialect.Statement, error) { return cfg.BulkUpdate(q, values) })
	if err != nil {
		return 0, err
	}
	res, err := db.exec(ctx, b, stmt)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// DeleteAll runs a bulk delete of the rows q selects. Cached instances of the
// deleted rows are not marked deleted.
func (db *DB) DeleteAll(ctx context.Context, q *query.Query) (int64, error) {
	q, err := db.authorizeBulk(ctx, privacy.OpDeleteMany, q, nil)
	if err != nil {
		return 0, err
	}
	_, b, stmt, err := db.compile(q, func(cfg compiler.Config) (*dialect.Statement, error) { return cfg.BulkDelete(q) })
	if err != nil {
		return 0, err
	}
	res, err := db.exec(ctx, b, stmt)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (db *DB) exec(ctx context.Context, b dialect.Backend, stmt *dialect.Statement) (dialect.Result, error) {
	if db.debug {
		db.logger.DebugContext(ctx, "orm: exec", "backend", b.Name(), "sql", stmt.SQL, "args", stmt.Args)
	}
	return b.Exec(ctx, stmt)
}

func (db *DB) query(ctx context.Context, b dialect.Backend, stmt *dialect.Statement) (dialect.Rows, error) {
	if db.debug {
		db.logger.DebugContext(ctx, "orm: query", "backend", b.Name(), "sql", stmt.SQL, "args", stmt.Args)
	}
	return b.Query(ctx, stmt)
}
