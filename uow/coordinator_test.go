package uow_test

import (
	"bytes"
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/strata"
	"github.com/syssam/strata/dialect"
	"github.com/syssam/strata/internal/backendtest"
	"github.com/syssam/strata/record"
	"github.com/syssam/strata/schema"
	"github.com/syssam/strata/schema/edge"
	"github.com/syssam/strata/schema/field"
	"github.com/syssam/strata/uow"
)

var errBoom = errors.New("boom")

// target writes nothing: it assigns keys, updates instance state and
// records one statement per send on the model's backend.
type target struct {
	reg      *schema.Registry
	backends map[string]dialect.Backend
	identity *record.IdentityMap
	sent     []string
	order    []*record.Instance
	reject   map[*record.Instance]bool
	nextID   int64
}

func newTarget(t *testing.T) (*target, *backendtest.Backend, *backendtest.Backend) {
	t.Helper()
	reg := schema.NewRegistry()
	require.NoError(t, reg.Register(
		&schema.Model{
			Name: "Customer",
			Fields: []field.Field{
				field.AutoID("id"),
				field.String("name"),
			},
			Edges: []edge.Edge{
				edge.From("orders", "Order").Ref("customer"),
			},
		},
		&schema.Model{
			Name: "Order",
			Fields: []field.Field{
				field.AutoID("id"),
				field.ForeignKey("customer_id"),
				field.Int("qty"),
			},
			Edges: []edge.Edge{
				edge.To("customer", "Customer").Field("customer_id"),
			},
		},
		&schema.Model{
			Name: "Invoice",
			Fields: []field.Field{
				field.AutoID("id"),
				field.Int("amount"),
			},
		},
	))
	identity, err := record.NewIdentityMap(100)
	require.NoError(t, err)
	t.Cleanup(identity.Close)
	main, billing := backendtest.New("main"), backendtest.New("billing")
	return &target{
		reg: reg,
		backends: map[string]dialect.Backend{
			"Customer": main,
			"Order":    main,
			"Invoice":  billing,
		},
		identity: identity,
		reject:   make(map[*record.Instance]bool),
	}, main, billing
}

func (tg *target) Backend(model string) (dialect.Backend, error) {
	return tg.backends[model], nil
}

func (tg *target) Send(ctx context.Context, op uow.Op, inst *record.Instance) (bool, error) {
	if tg.reject[inst] {
		return false, nil
	}
	model := inst.Meta().Name
	if _, err := tg.backends[model].Exec(ctx, &dialect.Statement{SQL: op.String() + " " + model}); err != nil {
		return false, err
	}
	switch op {
	case uow.OpInsert:
		if id, _ := inst.Get("id"); id == nil {
			tg.nextID++
			if err := inst.Set("id", tg.nextID); err != nil {
				return false, err
			}
		}
		inst.MarkPersisted()
		tg.identity.Add(inst)
	case uow.OpUpdate:
		inst.MarkPersisted()
	case uow.OpDelete:
		tg.identity.Forget(inst)
		inst.MarkDeleted()
	}
	tg.sent = append(tg.sent, op.String()+" "+model)
	tg.order = append(tg.order, inst)
	return true, nil
}

func (tg *target) Identity() *record.IdentityMap { return tg.identity }

func (tg *target) create(t *testing.T, model string, values map[string]any) *record.Instance {
	t.Helper()
	inst, err := record.New(tg.reg.MustMetadata(model), values)
	require.NoError(t, err)
	return inst
}

func (tg *target) load(model string, values map[string]any) *record.Instance {
	inst := record.Hydrate(tg.reg.MustMetadata(model), values)
	return tg.identity.Add(inst)
}

// transactional hides the two-phase methods of a backend.
type transactional struct{ dialect.Transactional }

func TestAddIgnoresCleanInstances(t *testing.T) {
	t.Parallel()
	tg, main, _ := newTarget(t)
	c := uow.New(tg)
	ann := tg.load("Customer", map[string]any{"id": int64(1), "name": "Ann"})

	require.NoError(t, c.Add(context.Background(), ann))
	assert.Equal(t, uow.Idle, c.State())
	assert.Zero(t, c.Log().Len())
	require.NoError(t, c.Commit(context.Background()))
	assert.Empty(t, main.Calls())
}

func TestFlushOrdersDependencies(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	tg, main, _ := newTarget(t)
	c := uow.New(tg)

	ann := tg.create(t, "Customer", map[string]any{"name": "Ann"})
	order := tg.create(t, "Order", map[string]any{"qty": 2})
	require.NoError(t, order.Set("customer", ann))
	other := tg.create(t, "Order", map[string]any{"qty": 1, "customer_id": int64(7)})

	require.NoError(t, c.Add(ctx, order))
	require.NoError(t, c.Add(ctx, other))
	require.NoError(t, c.Add(ctx, ann))
	assert.Equal(t, 0, main.Count("BeginTransaction"), "backends begin on the first send")

	require.NoError(t, c.Flush(ctx))
	assert.ElementsMatch(t, []string{"insert Order", "insert Customer", "insert Order"}, tg.sent)
	assert.Less(t, slices.Index(tg.order, ann), slices.Index(tg.order, order))
	assert.Equal(t, []string{"BeginTransaction", "Exec", "Exec", "Exec"}, main.Calls())

	annID, err := ann.Get("id")
	require.NoError(t, err)
	fk, err := order.Get("customer_id")
	require.NoError(t, err)
	assert.Equal(t, annID, fk)
	assert.Equal(t, uow.Started, c.State())

	require.NoError(t, c.Commit(ctx))
	assert.Equal(t, uow.Committed, c.State())
	assert.Equal(t, 1, main.Count("Commit"))
	assert.Len(t, c.History(), 1)
}

func TestFlushDependencyChain(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	tg, _, _ := newTarget(t)
	c := uow.New(tg)

	first := tg.create(t, "Order", map[string]any{"qty": 1})
	ann := tg.create(t, "Customer", map[string]any{"name": "Ann"})
	require.NoError(t, first.Set("customer", ann))
	require.NoError(t, c.Add(ctx, first))
	require.NoError(t, c.Add(ctx, ann))
	require.NoError(t, c.Flush(ctx))
	assert.Equal(t, []string{"insert Customer", "insert Order"}, tg.sent)

	entries := c.Log().Entries()
	require.Len(t, entries, 2)
	assert.Same(t, first, entries[0].Inst, "log keeps join order")
	assert.False(t, entries[0].Pending())
}

func TestDeleteWins(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	tg, _, _ := newTarget(t)
	c := uow.New(tg)
	ann := tg.load("Customer", map[string]any{"id": int64(1), "name": "Ann"})

	require.NoError(t, ann.Set("name", "Anne"))
	require.NoError(t, c.Add(ctx, ann))
	require.NoError(t, c.Delete(ctx, ann))
	require.NoError(t, c.Add(ctx, ann))
	require.Equal(t, 1, c.Log().Len())

	e, ok := c.Log().Entry(ann)
	require.True(t, ok)
	assert.Equal(t, uow.OpDelete, e.Op)
	assert.Equal(t, "Ann", e.Old["name"], "deletes keep the stored values")

	require.NoError(t, c.Flush(ctx))
	assert.Equal(t, []string{"delete Customer"}, tg.sent)
	assert.True(t, ann.IsDeleted())

	err := c.Add(ctx, ann)
	assert.ErrorIs(t, err, strata.ErrDeleted)
	assert.True(t, strata.IsTransactionError(err))
}

func TestDeleteCancelsUnsentInsert(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	tg, main, _ := newTarget(t)
	c := uow.New(tg)
	ann := tg.create(t, "Customer", map[string]any{"name": "Ann"})

	require.NoError(t, c.Add(ctx, ann))
	require.NoError(t, c.Delete(ctx, ann))
	assert.Zero(t, c.Log().Len())
	require.NoError(t, c.Commit(ctx))
	assert.Empty(t, tg.sent)
	assert.Equal(t, []string(nil), main.Calls())
}

func TestMergedUpdate(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	tg, _, _ := newTarget(t)
	c := uow.New(tg)
	ann := tg.load("Customer", map[string]any{"id": int64(1), "name": "Ann"})

	require.NoError(t, ann.Set("name", "Anne"))
	require.NoError(t, c.Add(ctx, ann))
	require.NoError(t, c.Flush(ctx))
	require.NoError(t, ann.Set("name", "Annie"))
	require.NoError(t, c.Add(ctx, ann))
	require.NoError(t, c.Flush(ctx))

	assert.Equal(t, []string{"update Customer", "update Customer"}, tg.sent)
	e, ok := c.Log().Entry(ann)
	require.True(t, ok)
	assert.Equal(t, map[string]any{"name": "Ann"}, e.Old)
	assert.Equal(t, map[string]any{"name": "Annie"}, e.New)
}

func TestSameRowObjects(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	row := map[string]any{"id": int64(1), "name": "Ann"}

	t.Run("Update", func(t *testing.T) {
		t.Parallel()
		tg, _, _ := newTarget(t)
		c := uow.New(tg)
		first := tg.load("Customer", row)
		// Loaded again after the identity map lost the first object.
		second := record.Hydrate(tg.reg.MustMetadata("Customer"), row)

		require.NoError(t, first.Set("name", "Anne"))
		require.NoError(t, c.Add(ctx, first))
		require.NoError(t, second.Set("name", "Annie"))
		require.NoError(t, c.Add(ctx, second))
		require.NoError(t, c.Flush(ctx))

		assert.Equal(t, []string{"update Customer"}, tg.sent)
		assert.Equal(t, 1, c.Log().Len())
		e, ok := c.Log().Entry(second)
		require.True(t, ok)
		assert.Same(t, first, e.Inst)
		assert.Equal(t, map[string]any{"name": "Ann"}, e.Old)
		assert.Equal(t, map[string]any{"name": "Annie"}, e.New)
		for _, inst := range []*record.Instance{first, second} {
			name, err := inst.Get("name")
			require.NoError(t, err)
			assert.Equal(t, "Annie", name)
			assert.False(t, inst.IsDirty())
		}

		require.NoError(t, c.Rollback(ctx, true))
		for _, inst := range []*record.Instance{first, second} {
			name, err := inst.Get("name")
			require.NoError(t, err)
			assert.Equal(t, "Ann", name)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		t.Parallel()
		tg, _, _ := newTarget(t)
		c := uow.New(tg)
		first := tg.load("Customer", row)
		second := record.Hydrate(tg.reg.MustMetadata("Customer"), row)

		require.NoError(t, first.Set("name", "Anne"))
		require.NoError(t, c.Add(ctx, first))
		require.NoError(t, c.Delete(ctx, second))
		require.NoError(t, c.Flush(ctx))

		assert.Equal(t, []string{"delete Customer"}, tg.sent)
		assert.True(t, first.IsDeleted())
		assert.True(t, second.IsDeleted())
	})

	t.Run("AfterInsert", func(t *testing.T) {
		t.Parallel()
		tg, _, _ := newTarget(t)
		c := uow.New(tg)
		ann := tg.create(t, "Customer", map[string]any{"name": "Ann"})
		require.NoError(t, c.Add(ctx, ann))
		require.NoError(t, c.Flush(ctx))

		again := record.Hydrate(tg.reg.MustMetadata("Customer"), map[string]any{"id": int64(1), "name": "Ann"})
		require.NoError(t, again.Set("name", "Anna"))
		require.NoError(t, c.Add(ctx, again))
		require.NoError(t, c.Flush(ctx))

		assert.Equal(t, []string{"insert Customer", "update Customer"}, tg.sent)
		assert.Equal(t, 1, c.Log().Len())
		name, err := ann.Get("name")
		require.NoError(t, err)
		assert.Equal(t, "Anna", name)
	})
}

func TestAutoflush(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	tg, _, _ := newTarget(t)
	c := uow.New(tg, uow.WithAutoflush())

	ann := tg.create(t, "Customer", map[string]any{"name": "Ann"})
	require.NoError(t, c.Add(ctx, ann))
	assert.Equal(t, []string{"insert Customer"}, tg.sent)
	assert.False(t, ann.IsNew())
}

func TestSendRejected(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	tg, _, _ := newTarget(t)
	c := uow.New(tg)
	ann := tg.load("Customer", map[string]any{"id": int64(1), "name": "Ann"})
	tg.reject[ann] = true

	require.NoError(t, c.Delete(ctx, ann))
	err := c.Flush(ctx)
	assert.ErrorIs(t, err, uow.ErrNotSent)
	assert.False(t, ann.IsDeleted())
}

func TestBackendCapture(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("SecondBackend", func(t *testing.T) {
		t.Parallel()
		tg, _, _ := newTarget(t)
		c := uow.New(tg)
		require.NoError(t, c.Add(ctx, tg.create(t, "Customer", map[string]any{"name": "Ann"})))
		err := c.Add(ctx, tg.create(t, "Invoice", map[string]any{"amount": 3}))
		assert.ErrorIs(t, err, strata.ErrSecondBackend)
		assert.True(t, strata.IsTransactionError(err))
		assert.False(t, strata.IsFatal(err))
		assert.Equal(t, 1, c.Log().Len())
	})

	t.Run("Distributed", func(t *testing.T) {
		t.Parallel()
		tg, main, billing := newTarget(t)
		c := uow.New(tg)
		require.NoError(t, c.BeginDistributed())
		require.NoError(t, c.Add(ctx, tg.create(t, "Customer", map[string]any{"name": "Ann"})))
		require.NoError(t, c.Add(ctx, tg.create(t, "Invoice", map[string]any{"amount": 3})))
		require.NoError(t, c.Commit(ctx))
		for _, b := range []*backendtest.Backend{main, billing} {
			assert.Equal(t, []string{"StartDistributed", "Exec", "TryCommit", "FinishCommit"}, b.Calls(), b.Name())
		}
	})

	t.Run("DistributedOption", func(t *testing.T) {
		t.Parallel()
		tg, _, billing := newTarget(t)
		c := uow.New(tg, uow.Distributed())
		require.NoError(t, c.Add(ctx, tg.create(t, "Customer", map[string]any{"name": "Ann"})))
		require.NoError(t, c.Add(ctx, tg.create(t, "Invoice", map[string]any{"amount": 3})))
		require.NoError(t, c.Flush(ctx))
		assert.Equal(t, 1, billing.Count("StartDistributed"))
	})

	t.Run("TwoPhaseUnsupported", func(t *testing.T) {
		t.Parallel()
		tg, _, billing := newTarget(t)
		tg.backends["Invoice"] = transactional{billing}
		c := uow.New(tg)
		require.NoError(t, c.BeginDistributed())
		err := c.Add(ctx, tg.create(t, "Invoice", map[string]any{"amount": 3}))
		assert.ErrorIs(t, err, dialect.ErrTwoPhaseUnsupported)
	})

	t.Run("AlreadyStarted", func(t *testing.T) {
		t.Parallel()
		tg, _, _ := newTarget(t)
		c := uow.New(tg)
		require.NoError(t, c.Begin())
		assert.ErrorIs(t, c.Begin(), strata.ErrTxStarted)
	})
}

func TestDistributedCommitFailure(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	tg, main, billing := newTarget(t)
	billing.FailOn("TryCommit", errBoom)
	c := uow.New(tg, uow.Distributed())

	require.NoError(t, c.Add(ctx, tg.create(t, "Customer", map[string]any{"name": "Ann"})))
	require.NoError(t, c.Add(ctx, tg.create(t, "Invoice", map[string]any{"amount": 3})))
	err := c.Commit(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, errBoom)
	assert.True(t, strata.IsFatal(err))

	for _, b := range []*backendtest.Backend{main, billing} {
		assert.Equal(t, 1, b.Count("TryCommit"), b.Name())
		assert.Equal(t, 1, b.Count("UndoCommit"), b.Name())
		assert.Zero(t, b.Count("FinishCommit"), b.Name())
	}
	assert.Equal(t, uow.Started, c.State(), "a failed commit is not rolled back")
	assert.Empty(t, c.History())
}

func TestCommitRetry(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("Replayed", func(t *testing.T) {
		t.Parallel()
		tg, main, _ := newTarget(t)
		main.FailOn("Commit", errBoom)
		c := uow.New(tg, uow.WithRetry())
		ann := tg.create(t, "Customer", map[string]any{"name": "Ann"})
		bob := tg.load("Customer", map[string]any{"id": int64(50), "name": "Bob"})
		require.NoError(t, bob.Set("name", "Rob"))

		require.NoError(t, c.Add(ctx, ann))
		require.NoError(t, c.Add(ctx, bob))
		require.NoError(t, c.Commit(ctx))
		assert.Equal(t, []string{
			"BeginTransaction", "Exec", "Exec", "Commit",
			"Rollback",
			"BeginTransaction", "Exec", "Exec", "Commit",
		}, main.Calls())
		assert.Equal(t, []string{"insert Customer", "update Customer", "insert Customer", "update Customer"}, tg.sent)

		id, err := ann.Get("id")
		require.NoError(t, err)
		assert.Equal(t, int64(2), id, "the replayed insert gets a fresh key")
		_, ok := tg.identity.Get(record.Key{Model: "Customer", PK: "1"})
		assert.False(t, ok)
		cached, ok := tg.identity.Get(record.Key{Model: "Customer", PK: "2"})
		require.True(t, ok)
		assert.Same(t, ann, cached)

		e, ok := c.Log().Entry(bob)
		require.True(t, ok)
		assert.Equal(t, map[string]any{"name": "Bob"}, e.Old)
		assert.Equal(t, uow.Committed, c.State())
	})

	t.Run("Exhausted", func(t *testing.T) {
		t.Parallel()
		tg, main, billing := newTarget(t)
		billing.FailOn("TryCommit", errBoom, errBoom)
		c := uow.New(tg, uow.Distributed(), uow.WithRetry())
		require.NoError(t, c.Add(ctx, tg.create(t, "Customer", map[string]any{"name": "Ann"})))
		require.NoError(t, c.Add(ctx, tg.create(t, "Invoice", map[string]any{"amount": 3})))

		err := c.Commit(ctx)
		assert.True(t, strata.IsFatal(err))
		assert.Equal(t, 2, main.Count("UndoCommit"))
		assert.Equal(t, 2, billing.Count("StartDistributed"))
	})

	t.Run("PlainFailure", func(t *testing.T) {
		t.Parallel()
		tg, main, _ := newTarget(t)
		main.FailOn("Commit", errBoom)
		c := uow.New(tg)
		require.NoError(t, c.Add(ctx, tg.create(t, "Customer", map[string]any{"name": "Ann"})))

		err := c.Commit(ctx)
		assert.ErrorIs(t, err, errBoom)
		assert.True(t, strata.IsTransactionError(err))
		assert.False(t, strata.IsFatal(err))
		require.NoError(t, c.Rollback(ctx, false))
		assert.Equal(t, 1, main.Count("Rollback"))
		assert.Equal(t, uow.RolledBack, c.State())
	})
}

func TestRollback(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("Idle", func(t *testing.T) {
		t.Parallel()
		tg, main, _ := newTarget(t)
		require.NoError(t, uow.New(tg).Rollback(ctx, true))
		assert.Empty(t, main.Calls())
	})

	t.Run("Revert", func(t *testing.T) {
		t.Parallel()
		tg, main, _ := newTarget(t)
		c := uow.New(tg)
		ann := tg.create(t, "Customer", map[string]any{"name": "Ann"})
		bob := tg.load("Customer", map[string]any{"id": int64(50), "name": "Bob"})
		cid := tg.load("Customer", map[string]any{"id": int64(51), "name": "Cid"})

		require.NoError(t, c.Add(ctx, ann))
		require.NoError(t, bob.Set("name", "Rob"))
		require.NoError(t, c.Add(ctx, bob))
		require.NoError(t, c.Delete(ctx, cid))
		require.NoError(t, c.Flush(ctx))
		require.False(t, ann.IsNew())
		require.True(t, cid.IsDeleted())

		require.NoError(t, c.Rollback(ctx, true))
		assert.Equal(t, 1, main.Count("Rollback"))
		assert.Equal(t, uow.RolledBack, c.State())

		assert.True(t, ann.IsNew())
		assert.Equal(t, []any{nil}, ann.PrimaryKey())
		_, ok := tg.identity.Get(record.Key{Model: "Customer", PK: "1"})
		assert.False(t, ok, "inserted instances leave the identity map")

		name, err := bob.Get("name")
		require.NoError(t, err)
		assert.Equal(t, "Bob", name)
		assert.False(t, bob.IsDirty())

		assert.False(t, cid.IsDeleted())
		cached, ok := tg.identity.Get(record.Key{Model: "Customer", PK: "51"})
		require.True(t, ok, "deleted instances return to the identity map")
		assert.Same(t, cid, cached)
	})

	t.Run("BackendFailure", func(t *testing.T) {
		t.Parallel()
		tg, main, billing := newTarget(t)
		main.FailOn("Rollback", errBoom)
		c := uow.New(tg, uow.Distributed())
		require.NoError(t, c.Add(ctx, tg.create(t, "Customer", map[string]any{"name": "Ann"})))
		require.NoError(t, c.Add(ctx, tg.create(t, "Invoice", map[string]any{"amount": 3})))
		require.NoError(t, c.Flush(ctx))

		err := c.Rollback(ctx, false)
		var rerr *strata.RollbackError
		require.ErrorAs(t, err, &rerr)
		assert.Equal(t, "main", rerr.Backend)
		assert.Equal(t, 1, billing.Count("Rollback"), "every backend is rolled back")
	})
}

func TestUndoCommit(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	tg, main, _ := newTarget(t)
	c := uow.New(tg)

	err := c.UndoCommit(ctx)
	assert.ErrorIs(t, err, uow.ErrNoHistory)

	ann := tg.create(t, "Customer", map[string]any{"name": "Ann"})
	bob := tg.load("Customer", map[string]any{"id": int64(50), "name": "Bob"})
	cid := tg.load("Customer", map[string]any{"id": int64(51), "name": "Cid"})
	require.NoError(t, c.Add(ctx, ann))
	require.NoError(t, bob.Set("name", "Rob"))
	require.NoError(t, c.Add(ctx, bob))
	require.NoError(t, c.Delete(ctx, cid))
	require.NoError(t, c.Commit(ctx))
	tg.sent = nil

	require.NoError(t, c.UndoCommit(ctx))
	assert.Equal(t, uow.Started, c.State())
	assert.Equal(t, []string{"insert Customer", "update Customer", "delete Customer"}, tg.sent)
	assert.Equal(t, 1, main.Count("Commit"), "undo does not commit")
	assert.Empty(t, c.History())

	assert.True(t, ann.IsDeleted())
	name, err := bob.Get("name")
	require.NoError(t, err)
	assert.Equal(t, "Bob", name)
	restored, ok := tg.identity.Get(record.Key{Model: "Customer", PK: "51"})
	require.True(t, ok)
	assert.NotSame(t, cid, restored)
	name, err = restored.Get("name")
	require.NoError(t, err)
	assert.Equal(t, "Cid", name)

	assert.ErrorIs(t, c.UndoCommit(ctx), strata.ErrTxStarted)
}

func TestJournal(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	tg, _, _ := newTarget(t)
	var buf bytes.Buffer
	c := uow.New(tg, uow.WithJournal(&buf))

	ann := tg.create(t, "Customer", map[string]any{"name": "Ann"})
	bob := tg.load("Customer", map[string]any{"id": int64(50), "name": "Bob"})
	gone := tg.create(t, "Customer", map[string]any{"name": "Gone"})
	require.NoError(t, c.Add(ctx, ann))
	require.NoError(t, c.Add(ctx, gone))
	require.NoError(t, c.Flush(ctx))
	require.NoError(t, c.Delete(ctx, gone))
	require.NoError(t, bob.Set("name", "Rob"))
	require.NoError(t, c.Add(ctx, bob))
	require.NoError(t, c.Commit(ctx))

	records, err := uow.ReadJournal(&buf)
	require.NoError(t, err)
	assert.Equal(t, []uow.Record{
		{Op: "insert", Model: "Customer", PK: []any{int64(1)}, Changes: map[string]any{"id": int64(1), "name": "Ann"}},
		{Op: "update", Model: "Customer", PK: []any{int64(50)}, Changes: map[string]any{"name": "Rob"}},
	}, records)
}

func TestSession(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("Commit", func(t *testing.T) {
		t.Parallel()
		tg, main, _ := newTarget(t)
		s := uow.NewSession(uow.New(tg), nil)
		ann := tg.create(t, "Customer", map[string]any{"name": "Ann"})
		s.Bind(ann)

		err := s.Run(ctx, func(ctx context.Context) error {
			require.Same(t, s, uow.FromContext(ctx))
			saved, err := ann.Save(ctx)
			assert.True(t, saved)
			return err
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"insert Customer"}, tg.sent)
		assert.Equal(t, 1, main.Count("Commit"))
	})

	t.Run("Rollback", func(t *testing.T) {
		t.Parallel()
		tg, main, _ := newTarget(t)
		s := uow.NewSession(uow.New(tg), nil)
		bob := tg.load("Customer", map[string]any{"id": int64(50), "name": "Bob"})
		s.Bind(bob)

		err := s.Run(ctx, func(ctx context.Context) error {
			if err := bob.Set("name", "Rob"); err != nil {
				return err
			}
			if _, err := bob.Save(ctx); err != nil {
				return err
			}
			if err := s.Flush(ctx); err != nil {
				return err
			}
			return errBoom
		})
		assert.ErrorIs(t, err, errBoom)
		assert.Equal(t, 1, main.Count("Rollback"))
		name, err := bob.Get("name")
		require.NoError(t, err)
		assert.Equal(t, "Bob", name)
	})

	assert.Nil(t, uow.FromContext(ctx))
}
