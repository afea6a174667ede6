package orm

import (
	"context"
	"errors"
	"fmt"

	"github.com/syssam/strata"
	"github.com/syssam/strata/expr"
	"github.com/syssam/strata/record"
)

// ErrPrefetch is returned when prefetching a relationship that joins more
// than one table or more than one column.
var ErrPrefetch = errors.New("orm: only single-column, single-table relationships can be prefetched")

// GetMany returns the instances of model with the given primary keys in
// key order, using one query for the keys the identity map does not hold.
// A key without a row has a nil instance and a NotFoundError at its index
// in errs. The model must have a single-column primary key.
func (db *DB) GetMany(ctx context.Context, model string, pks ...any) (insts []*record.Instance, errs []error, err error) {
	meta, err := db.reg.Metadata(model)
	if err != nil {
		return nil, nil, err
	}
	if len(meta.PrimaryKey) != 1 {
		return nil, nil, strata.NewQueryError(model, "get many", fmt.Errorf("%d-column primary key", len(meta.PrimaryKey)))
	}
	keys := make([]record.Key, len(pks))
	var missing []any
	found := make([]*record.Instance, 0, len(pks))
	for i, pk := range pks {
		norm := normalizeKey(meta, []any{pk})
		k, ok := record.KeyOf(model, norm)
		if !ok {
			return nil, nil, strata.NewQueryError(model, "get many", fmt.Errorf("nil key at %d", i))
		}
		keys[i] = k
		if inst, ok := db.identity.Get(k); ok && !db.guarded(model) {
			found = append(found, inst)
			continue
		}
		missing = append(missing, norm[0])
	}
	if len(missing) > 0 {
		ms, err := db.Query(model).
			Where(expr.Cond(meta.PrimaryKey[0]+"__in", missing)).
			OrderBy().
			All(ctx)
		if err != nil {
			return nil, nil, err
		}
		for _, m := range ms {
			found = append(found, m.Instance())
		}
	}
	insts, errs = orderByKeys(keys, found, func(inst *record.Instance) record.Key {
		k, _ := inst.Key()
		return k
	})
	for i := range errs {
		if errs[i] != nil {
			errs[i] = strata.NewNotFoundError(model)
		}
	}
	return insts, errs, nil
}

// Prefetch loads relationship name of every instance with one query and
// records the targets with SetRelated. The instances must share a model.
func (db *DB) Prefetch(ctx context.Context, insts []*record.Instance, name string) error {
	if len(insts) == 0 {
		return nil
	}
	meta := insts[0].Meta()
	j, ok, err := meta.Join(name)
	if err != nil {
		return err
	}
	if !ok {
		return &strata.LookupError{Model: meta.Name, Segment: name, Path: name}
	}
	if len(j.Hops) != 1 || len(j.Hops[0].On) != 1 {
		return strata.NewQueryError(meta.Name, "prefetch", fmt.Errorf("%w: %s", ErrPrefetch, name))
	}
	on := j.Hops[0].On[0]

	var values []any
	seen := make(map[record.Key]bool)
	for _, inst := range insts {
		if inst.Meta() != meta {
			return strata.NewQueryError(meta.Name, "prefetch", fmt.Errorf("instance of %s", inst.Meta().Name))
		}
		v, err := inst.Get(on.Parent)
		if err != nil {
			return err
		}
		if k, ok := record.KeyOf(j.Target, []any{v}); ok && !seen[k] {
			seen[k] = true
			values = append(values, v)
		}
	}
	var targets []*record.Instance
	if len(values) > 0 {
		ms, err := db.Query(j.Target).Where(expr.Cond(on.Child+"__in", values)).All(ctx)
		if err != nil {
			return err
		}
		for _, m := range ms {
			targets = append(targets, m.Instance())
		}
	}
	groups := groupByKey(targets, func(t *record.Instance) record.Key {
		v, _ := t.Get(on.Child)
		k, _ := record.KeyOf(j.Target, []any{v})
		return k
	})
	for _, inst := range insts {
		v, _ := inst.Get(on.Parent)
		k, ok := record.KeyOf(j.Target, []any{v})
		if !ok {
			inst.SetRelated(name)
			continue
		}
		inst.SetRelated(name, groups[k]...)
	}
	return nil
}

var errMissing = errors.New("missing")

// orderByKeys reorders values to match keys. Keys with no value get a zero
// value and an error at their index.
func orderByKeys[K comparable, V any](keys []K, values []V, keyFn func(V) K) ([]V, []error) {
	lookup := make(map[K]V, len(values))
	for _, v := range values {
		lookup[keyFn(v)] = v
	}
	result := make([]V, len(keys))
	errs := make([]error, len(keys))
	for i, key := range keys {
		if v, ok := lookup[key]; ok {
			result[i] = v
		} else {
			errs[i] = errMissing
		}
	}
	return result, errs
}

// groupByKey groups values by key, keeping their order within a group.
func groupByKey[K comparable, V any](values []V, keyFn func(V) K) map[K][]V {
	result := make(map[K][]V)
	for _, v := range values {
		key := keyFn(v)
		result[key] = append(result[key], v)
	}
	return result
}
