package orm

import (
	"context"
	"errors"
	"fmt"

	"github.com/syssam/strata"
	"github.com/syssam/strata/compiler"
	"github.com/syssam/strata/dialect"
	"github.com/syssam/strata/privacy"
	"github.com/syssam/strata/record"
	"github.com/syssam/strata/schema"
	"github.com/syssam/strata/uow"
)

// Save inserts a new instance or updates the changed fields of a loaded
// one. It reports false when nothing was written: the instance was clean,
// or the database changed no row.
//
// With a session in ctx the instance is journaled instead.
func (db *DB) Save(ctx context.Context, inst *record.Instance) (bool, error) {
	if s := uow.FromContext(ctx); s != nil {
		return s.Save(ctx, inst)
	}
	if inst.IsDeleted() {
		return false, strata.NewTransactionError("save", false, fmt.Errorf("%w: %s", strata.ErrDeleted, inst))
	}
	if err := inst.SyncRelations(); err != nil {
		return false, err
	}
	switch {
	case inst.IsNew():
		return db.Send(ctx, uow.OpInsert, inst)
	case inst.IsDirty():
		return db.Send(ctx, uow.OpUpdate, inst)
	}
	return false, nil
}

// Delete deletes a persisted instance. Deleting an unsaved instance writes
// nothing and reports false.
//
// With a session in ctx the delete is journaled instead.
func (db *DB) Delete(ctx context.Context, inst *record.Instance) (bool, error) {
	if s := uow.FromContext(ctx); s != nil {
		return s.Delete(ctx, inst)
	}
	if inst.IsDeleted() {
		return false, strata.NewTransactionError("delete", false, fmt.Errorf("%w: %s", strata.ErrDeleted, inst))
	}
	if inst.IsNew() {
		return false, nil
	}
	return db.Send(ctx, uow.OpDelete, inst)
}

// Send writes inst with op and updates its in-memory state and the
// identity map. Listeners are notified of every successful write.
func (db *DB) Send(ctx context.Context, op uow.Op, inst *record.Instance) (bool, error) {
	meta, b, cfg, err := db.target(inst.Meta().Name)
	if err != nil {
		return false, err
	}
	if meta.Abstract || meta.View {
		return false, strata.NewConfigError(meta.Name, "model has no table to write")
	}
	if err := db.authorizeWrite(ctx, privacy.NewMutation(writeOps[op], inst)); err != nil {
		return false, err
	}
	var ok bool
	switch op {
	case uow.OpInsert:
		ok, err = db.insert(ctx, b, cfg, inst)
	case uow.OpUpdate:
		ok, err = db.update(ctx, b, cfg, inst)
	case uow.OpDelete:
		ok, err = db.remove(ctx, b, cfg, inst)
	default:
		return false, fmt.Errorf("orm: unknown operation %d", op)
	}
	if err != nil || !ok {
		return ok, err
	}
	db.signal(ctx, op, inst)
	return true, nil
}

func (db *DB) insert(ctx context.Context, b dialect.Backend, cfg compiler.Config, inst *record.Instance) (bool, error) {
	stmt, err := cfg.Insert(inst)
	if err != nil {
		return false, err
	}
	res, err := db.exec(ctx, b, stmt)
	if err != nil {
		return false, err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		db.logger.WarnContext(ctx, "orm: insert changed no row", "instance", inst.String())
		return false, nil
	}
	meta := inst.Meta()
	if auto, ok := meta.AutoIncrement(); ok {
		if v, _ := inst.Get(auto.Name); v == nil {
			id, err := res.LastInsertId()
			if err != nil {
				return false, fmt.Errorf("orm: %s: generated key: %w", meta.Name, err)
			}
			if err := inst.Set(auto.Name, id); err != nil {
				return false, err
			}
		}
	}
	inst.MarkPersisted()
	db.identity.Put(inst)
	return true, nil
}

func (db *DB) update(ctx context.Context, b dialect.Backend, cfg compiler.Config, inst *record.Instance) (bool, error) {
	meta := inst.Meta()
	dirty := inst.Dirty()
	for _, d := range meta.Fields() {
		if _, ok := dirty[d.Name]; !ok && d.UpdateDefault != nil {
			if err := inst.Set(d.Name, d.UpdateDefault()); err != nil {
				return false, err
			}
		}
	}
	stmt, err := cfg.Update(inst)
	if errors.Is(err, compiler.ErrNoChanges) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	key := loadedKey(meta, inst)
	res, err := db.exec(ctx, b, stmt)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	switch {
	case n == 0:
		// MySQL reports rows whose values did not change as unaffected.
		found, err := db.exists(ctx, b, cfg, meta, key)
		if err != nil {
			return false, err
		}
		if !found {
			db.logger.WarnContext(ctx, "orm: update matched no row", "instance", inst.String())
			return false, nil
		}
		db.logger.DebugContext(ctx, "orm: update unnecessary", "instance", inst.String())
	case n > 1:
		db.logger.WarnContext(ctx, "orm: update changed more than one row", "instance", inst.String(), "rows", n)
		return false, nil
	}
	if old, ok := record.KeyOf(meta.Name, key); ok {
		if cur, _ := inst.Key(); cur != old {
			db.identity.Remove(old)
		}
	}
	inst.MarkPersisted()
	db.identity.Put(inst)
	return true, nil
}

func (db *DB) remove(ctx context.Context, b dialect.Backend, cfg compiler.Config, inst *record.Instance) (bool, error) {
	stmt, err := cfg.Delete(inst)
	if err != nil {
		return false, err
	}
	res, err := db.exec(ctx, b, stmt)
	if err != nil {
		return false, err
	}
	if n, err := res.RowsAffected(); err != nil {
		return false, err
	} else if n != 1 {
		db.logger.WarnContext(ctx, "orm: delete changed unexpected rows", "instance", inst.String(), "rows", n)
		return false, nil
	}
	db.identity.Forget(inst)
	inst.MarkDeleted()
	return true, nil
}

func (db *DB) exists(ctx context.Context, b dialect.Backend, cfg compiler.Config, meta *schema.Metadata, pk []any) (bool, error) {
	stmt, err := cfg.Exists(meta, pk)
	if err != nil {
		return false, err
	}
	rows, err := db.query(ctx, b, stmt)
	if err != nil {
		return false, err
	}
	defer rows.Close()
	found := rows.Next()
	return found, rows.Err()
}

// loadedKey returns the primary key inst has in the database.
func loadedKey(meta *schema.Metadata, inst *record.Instance) []any {
	pk := inst.PrimaryKey()
	dirty := inst.Dirty()
	for i, name := range meta.PrimaryKey {
		if old, ok := dirty[name]; ok && old != nil {
			pk[i] = old
		}
	}
	return pk
}

// Refresh loads fields of inst from the database. With no names every
// field is loaded. Fields changed in memory keep their values.
func (db *DB) Refresh(ctx context.Context, inst *record.Instance, fields ...string) error {
	meta, b, cfg, err := db.target(inst.Meta().Name)
	if err != nil {
		return err
	}
	if inst.IsNew() {
		return strata.NewQueryError(meta.Name, "refresh", errors.New("instance is not saved"))
	}
	if len(fields) == 0 {
		fields = meta.FieldNames()
	}
	stmt, err := cfg.Refresh(meta, loadedKey(meta, inst), fields)
	if err != nil {
		return err
	}
	rows, err := db.query(ctx, b, stmt)
	if err != nil {
		return err
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return err
		}
		return strata.NewNotFoundError(meta.Name)
	}
	vals, err := rows.Values()
	if err != nil {
		return err
	}
	values := make(map[string]any, len(fields))
	for i, name := range fields {
		d, _ := meta.Field(name)
		if values[name], err = d.FromDB(vals[i]); err != nil {
			return fmt.Errorf("orm: %s.%s: %w", meta.Name, name, err)
		}
	}
	inst.Refill(values)
	return nil
}

// Reload discards the changes of inst and loads every field again.
func (db *DB) Reload(ctx context.Context, inst *record.Instance) error {
	inst.Revert()
	return db.Refresh(ctx, inst)
}
