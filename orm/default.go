package orm

import (
	"context"
	"sync/atomic"

	"github.com/syssam/strata/query"
	"github.com/syssam/strata/record"
)

var std atomic.Pointer[DB]

// SetDefault makes db the DB of the package-level helpers.
func SetDefault(db *DB) { std.Store(db) }

// Default returns the DB set by SetDefault, or nil.
func Default() *DB { return std.Load() }

// Q returns a query over model on the default DB. Without a default DB the
// query is unbound and its terminal operations fail with
// query.ErrNoExecutor.
func Q(model string) *query.Query {
	if db := Default(); db != nil {
		return db.Query(model)
	}
	return query.New(nil, model)
}

// Get returns an instance of model by primary key from the default DB.
func Get(ctx context.Context, model string, pk ...any) (*record.Instance, bool, error) {
	db := Default()
	if db == nil {
		return nil, false, query.ErrNoExecutor
	}
	return db.Get(ctx, model, pk...)
}

// Make returns a new instance of model bound to the default DB.
func Make(model string, values map[string]any) (*record.Instance, error) {
	db := Default()
	if db == nil {
		return nil, query.ErrNoExecutor
	}
	return db.NewInstance(model, values)
}
