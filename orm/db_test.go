package orm_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/strata"
	"github.com/syssam/strata/dialect"
	"github.com/syssam/strata/dialect/sql"
	"github.com/syssam/strata/expr"
	"github.com/syssam/strata/internal/backendtest"
	"github.com/syssam/strata/orm"
	"github.com/syssam/strata/privacy"
	"github.com/syssam/strata/query"
	"github.com/syssam/strata/record"
	"github.com/syssam/strata/schema"
	"github.com/syssam/strata/schema/edge"
	"github.com/syssam/strata/schema/field"
	"github.com/syssam/strata/schema/mixin"
	"github.com/syssam/strata/uow"
)

func newRegistry(t *testing.T) *schema.Registry {
	t.Helper()
	reg := schema.NewRegistry()
	require.NoError(t, reg.Register(
		&schema.Model{
			Name: "Product",
			Fields: []field.Field{
				field.AutoID("id"),
				field.String("name"),
				field.Decimal("price"),
				field.Text("notes").Optional(),
			},
			Deferred: []string{"notes"},
			Ordering: []string{"id"},
		},
		&schema.Model{
			Name: "Sale",
			Fields: []field.Field{
				field.AutoID("id"),
				field.Int("emp"),
				field.Int("qty"),
			},
		},
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
			Name:   "Invoice",
			Mixins: []schema.Mixin{mixin.TenantID{}},
			Fields: []field.Field{
				field.AutoID("id"),
				field.Int("total"),
			},
		},
		&schema.Model{
			Name:   "Note",
			Mixins: []schema.Mixin{mixin.UpdateTime{}},
			Fields: []field.Field{
				field.AutoID("id"),
				field.String("body"),
			},
		},
	))
	return reg
}

// openSQLite returns a DB over a fresh in-memory SQLite database with every
// table created.
func openSQLite(t *testing.T, opts ...orm.Option) *orm.DB {
	t.Helper()
	ctx := context.Background()
	b, err := sql.OpenSQLite("main", ":memory:")
	require.NoError(t, err)
	db, err := orm.New(newRegistry(t), append([]orm.Option{orm.WithBackend(b)}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Connect(ctx))
	require.NoError(t, db.CreateTables(ctx))
	return db
}

func openScripted(t *testing.T) (*orm.DB, *backendtest.Backend) {
	t.Helper()
	b := backendtest.New("main")
	db, err := orm.New(newRegistry(t), orm.WithBackend(b))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db, b
}

func TestNew(t *testing.T) {
	t.Parallel()
	reg := newRegistry(t)

	_, err := orm.New(reg)
	assert.True(t, strata.IsConfigError(err))

	_, err = orm.New(reg, orm.WithBackend(backendtest.New("main")), orm.WithDefaultBackend("other"))
	assert.True(t, strata.IsConfigError(err))

	_, err = orm.New(reg, orm.WithBackend(backendtest.New("main")), orm.WithBackend(backendtest.New("main")))
	assert.ErrorContains(t, err, "duplicate backend")

	routed := schema.NewRegistry()
	require.NoError(t, routed.Register(&schema.Model{
		Name:    "Invoice",
		Backend: "billing",
		Fields:  []field.Field{field.AutoID("id")},
	}))
	_, err = orm.New(routed, orm.WithBackend(backendtest.New("main")))
	assert.True(t, strata.IsConfigError(err))

	db, err := orm.New(routed, orm.WithBackend(backendtest.New("main")), orm.WithBackend(backendtest.New("billing")))
	require.NoError(t, err)
	defer db.Close()
	b, err := db.Backend("Invoice")
	require.NoError(t, err)
	assert.Equal(t, "billing", b.Name())
	assert.Equal(t, []string{"main", "billing"}, db.Backends())
}

func TestCRUD(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db := openSQLite(t)

	juice, err := db.NewInstance("Product", map[string]any{"name": "Prune Juice", "price": 2.39})
	require.NoError(t, err)
	ok, err := juice.Save(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.False(t, juice.IsNew())
	assert.Equal(t, []any{int64(1)}, juice.PrimaryKey())

	ok, err = juice.Save(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "a clean instance writes nothing")

	require.NoError(t, juice.Set("price", "2.49"))
	ok, err = juice.Save(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	rows, err := db.Query("Product").Values(ctx, "id", "price")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(1), rows[0]["id"], "update must not insert a second row")
	assert.True(t, decimal.RequireFromString("2.49").Equal(rows[0]["price"].(decimal.Decimal)))

	ok, err = juice.Delete(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, juice.IsDeleted())
	_, err = juice.Save(ctx)
	assert.True(t, strata.IsTransactionError(err))
	assert.ErrorIs(t, err, strata.ErrDeleted)
	_, err = juice.Delete(ctx)
	assert.ErrorIs(t, err, strata.ErrDeleted)

	n, err := db.Query("Product").Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSaveMissingRow(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db := openSQLite(t)

	p, err := db.Create(ctx, "Product", map[string]any{"name": "Tea", "price": 3})
	require.NoError(t, err)
	n, err := db.Query("Product").Delete(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	require.NoError(t, p.Set("price", 4))
	ok, err := p.Save(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "the row is gone")
	ok, err = p.Delete(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestIdentity(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db := openSQLite(t)
	_, err := db.Create(ctx, "Product", map[string]any{"name": "Tea", "price": 3})
	require.NoError(t, err)
	db.Identity().Clear()

	first, err := db.Query("Product").First(ctx)
	require.NoError(t, err)
	again, err := db.Query("Product").Filter(map[string]any{"name": "tea"}).Only(ctx)
	require.NoError(t, err)
	assert.Same(t, first.Instance(), again.Instance())

	got, ok, err := db.Get(ctx, "Product", 1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Same(t, first.Instance(), got)

	_, ok, err = db.Get(ctx, "Product", 2)
	require.NoError(t, err)
	assert.False(t, ok)
	_, err = db.Query("Product").Filter(map[string]any{"id": 2}).Only(ctx)
	assert.True(t, strata.IsNotFound(err))
}

func TestGetFromIdentityMap(t *testing.T) {
	t.Parallel()
	db, b := openScripted(t)
	meta := db.Registry().MustMetadata("Product")
	cached := db.Identity().Add(record.Hydrate(meta, map[string]any{"id": int64(7), "name": "Tea"}))

	got, ok, err := db.Get(context.Background(), "Product", 7)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Same(t, cached, got)
	assert.Zero(t, b.Count("Query"))

	_, _, err = db.Get(context.Background(), "Product", 1, 2)
	assert.True(t, strata.IsQueryError(err))
}

func TestGetMany(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("SQLite", func(t *testing.T) {
		t.Parallel()
		db := openSQLite(t)
		for _, name := range []string{"Tea", "Coffee", "Cocoa"} {
			_, err := db.Create(ctx, "Product", map[string]any{"name": name, "price": 1})
			require.NoError(t, err)
		}
		db.Identity().Clear()
		coffee, ok, err := db.Get(ctx, "Product", 2)
		require.NoError(t, err)
		require.True(t, ok)

		insts, errs, err := db.GetMany(ctx, "Product", 3, 2, 9, 1)
		require.NoError(t, err)
		require.Len(t, insts, 4)
		require.Len(t, errs, 4)
		name, err := insts[0].Get("name")
		require.NoError(t, err)
		assert.Equal(t, "Cocoa", name)
		assert.Same(t, coffee, insts[1])
		assert.Nil(t, insts[2])
		assert.True(t, strata.IsNotFound(errs[2]))
		name, err = insts[3].Get("name")
		require.NoError(t, err)
		assert.Equal(t, "Tea", name)
		assert.NoError(t, errs[0])
		assert.NoError(t, errs[3])
	})

	t.Run("Cached", func(t *testing.T) {
		t.Parallel()
		db, b := openScripted(t)
		meta := db.Registry().MustMetadata("Product")
		cached := db.Identity().Add(record.Hydrate(meta, map[string]any{"id": int64(7), "name": "Tea"}))
		insts, errs, err := db.GetMany(ctx, "Product", 7)
		require.NoError(t, err)
		assert.Same(t, cached, insts[0])
		assert.NoError(t, errs[0])
		assert.Zero(t, b.Count("Query"))

		_, _, err = db.GetMany(ctx, "Product", nil)
		assert.True(t, strata.IsQueryError(err))
	})
}

func TestPrefetch(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db := openSQLite(t)
	ann, err := db.Create(ctx, "Customer", map[string]any{"name": "Ann"})
	require.NoError(t, err)
	_, err = db.Create(ctx, "Customer", map[string]any{"name": "Bob"})
	require.NoError(t, err)
	for _, qty := range []int{1, 2} {
		_, err := db.Create(ctx, "Order", map[string]any{"customer_id": ann.PrimaryKey()[0], "qty": qty})
		require.NoError(t, err)
	}

	customers, err := db.Query("Customer").OrderBy("id").All(ctx)
	require.NoError(t, err)
	insts := make([]*record.Instance, len(customers))
	for i, m := range customers {
		insts[i] = m.Instance()
	}
	require.NoError(t, db.Prefetch(ctx, insts, "orders"))
	orders, ok := insts[0].Related("orders")
	require.True(t, ok)
	assert.Len(t, orders, 2)
	orders, ok = insts[1].Related("orders")
	require.True(t, ok)
	assert.Empty(t, orders)

	require.NoError(t, db.Prefetch(ctx, orders, "customer"), "no instances is a no-op")
	all, err := db.Query("Order").All(ctx)
	require.NoError(t, err)
	owned := make([]*record.Instance, len(all))
	for i, m := range all {
		owned[i] = m.Instance()
	}
	require.NoError(t, db.Prefetch(ctx, owned, "customer"))
	for _, o := range owned {
		got, ok := o.Related("customer")
		require.True(t, ok)
		require.Len(t, got, 1)
		assert.Same(t, ann, got[0])
	}

	var lookup *strata.LookupError
	assert.True(t, errors.As(db.Prefetch(ctx, insts, "invoices"), &lookup))
}

func TestPolicy(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db := openSQLite(t, orm.WithPolicy(privacy.Policy{
		Query: privacy.QueryPolicy{
			privacy.TenantQueryRule("tenant_id"),
		},
		Mutation: privacy.MutationPolicy{
			privacy.DenyIfNoViewer(),
			privacy.TenantRule("tenant_id"),
			privacy.AlwaysDenyRule(),
		},
	}, "Invoice"))
	acme := privacy.WithViewer(ctx, &privacy.SimpleViewer{UserID: "1", TenantID: "acme"})
	globex := privacy.WithViewer(ctx, &privacy.SimpleViewer{UserID: "2", TenantID: "globex"})
	system := privacy.DecisionContext(ctx, privacy.Allow)

	inv, err := db.Create(acme, "Invoice", map[string]any{"tenant_id": "acme", "total": 10})
	require.NoError(t, err)
	_, err = db.Create(globex, "Invoice", map[string]any{"tenant_id": "globex", "total": 7})
	require.NoError(t, err)
	_, err = db.Create(acme, "Invoice", map[string]any{"tenant_id": "globex", "total": 5})
	assert.ErrorIs(t, err, privacy.Deny)
	assert.True(t, strata.IsQueryError(err))
	_, err = db.Create(ctx, "Invoice", map[string]any{"tenant_id": "acme", "total": 1})
	assert.ErrorIs(t, err, privacy.Deny)
	_, err = db.Create(ctx, "Product", map[string]any{"name": "Tea", "price": 1})
	require.NoError(t, err, "other models are not guarded")

	n, err := db.Query("Invoice").Count(acme)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	n, err = db.Query("Invoice").Count(system)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	_, err = db.Query("Invoice").Count(ctx)
	assert.ErrorIs(t, err, privacy.Deny)

	_, ok, err := db.Get(globex, "Invoice", inv.PrimaryKey()...)
	require.NoError(t, err)
	assert.False(t, ok, "the identity map must not leak rows of another tenant")
	got, ok, err := db.Get(acme, "Invoice", inv.PrimaryKey()...)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Same(t, inv, got)

	n, err = db.Query("Invoice").Update(acme, map[string]any{"total": 0})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	_, err = db.Query("Invoice").Update(acme, map[string]any{"tenant_id": "globex"})
	assert.ErrorIs(t, err, privacy.Deny)
	rows, err := db.Query("Invoice").OrderBy("id").Values(system, "tenant_id", "total")
	require.NoError(t, err)
	assert.Equal(t, []map[string]any{
		{"tenant_id": "acme", "total": int64(0)},
		{"tenant_id": "globex", "total": int64(7)},
	}, rows)

	s := db.Session()
	require.NoError(t, s.Begin())
	stray, err := db.NewInstance("Invoice", map[string]any{"tenant_id": "globex", "total": 3})
	require.NoError(t, err)
	_, err = stray.Save(uow.NewContext(acme, s))
	require.NoError(t, err, "the write is journaled")
	err = s.Commit(acme)
	assert.ErrorIs(t, err, privacy.Deny)
	require.NoError(t, s.Rollback(ctx, true))
	assert.True(t, stray.IsNew())
}

func TestAggregate(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db := openSQLite(t)
	for _, s := range []map[string]any{{"emp": 1, "qty": 10}, {"emp": 1, "qty": 5}, {"emp": 2, "qty": 7}} {
		_, err := db.Create(ctx, "Sale", s)
		require.NoError(t, err)
	}
	rows, err := db.Query("Sale").
		Annotate("total", expr.Sum("qty")).
		OrderBy("-total").
		Limit(1).
		Values(ctx, "emp", "total")
	require.NoError(t, err)
	assert.Equal(t, []map[string]any{{"emp": int64(1), "total": int64(15)}}, rows)
}

func TestLookupParity(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db := openSQLite(t)
	insts := make(map[string]*record.Instance)
	for model, values := range map[string]map[string]any{
		"Product": {"name": "Prune Juice", "price": 2.39},
		"Note":    {"body": "Ärger Zebra", "updated_at": time.Date(2026, 10, 17, 3, 55, 10, 684895187, time.UTC)},
		"Sale":    {"emp": 1, "qty": 6},
	} {
		inst, err := db.Create(ctx, model, values)
		require.NoError(t, err)
		insts[model] = inst
	}
	mt := db.Matcher()

	tests := []struct {
		model  string
		filter map[string]any
	}{
		{"Product", map[string]any{"name": "prune juice"}},
		{"Product", map[string]any{"name": "Prune"}},
		{"Product", map[string]any{"name__in": []string{"PRUNE JUICE", "Tea"}}},
		{"Product", map[string]any{"name__in": []string{"Tea"}}},
		{"Product", map[string]any{"name__contains": "JUICE"}},
		{"Product", map[string]any{"name__contains": "apple"}},
		{"Product", map[string]any{"name__startswith": "prune"}},
		{"Product", map[string]any{"name__endswith": "juice"}},
		{"Product", map[string]any{"name__endswith": "prune"}},
		{"Product", map[string]any{"name__like": "P%e J%"}},
		{"Product", map[string]any{"name__regex": "^P"}},
		{"Product", map[string]any{"name__regex": "^p"}},
		{"Product", map[string]any{"name__gt": "prune"}},
		{"Product", map[string]any{"name__lt": "PRUNE"}},
		{"Product", map[string]any{"name__lte": "prune juice"}},
		{"Product", map[string]any{"name__range": []string{"P", "q"}}},
		{"Product", map[string]any{"name__isnull": false}},
		{"Product", map[string]any{"name__isnull": true}},
		{"Product", map[string]any{"name__length__gt": 5}},
		{"Product", map[string]any{"name__length": 11}},
		{"Product", map[string]any{"price__gt": 2}},
		{"Product", map[string]any{"price__gte": "2.39"}},
		{"Product", map[string]any{"price__lt": 2.39}},
		{"Product", map[string]any{"price__range": []any{2, 3}}},
		{"Product", map[string]any{"price__range": []any{3, 4}}},
		{"Product", map[string]any{"id": 1}},
		{"Product", map[string]any{"id__in": []int{2, 3}}},
		{"Note", map[string]any{"body": "ärger zebra"}},
		{"Note", map[string]any{"body": "ÄRGER"}},
		{"Note", map[string]any{"body__in": []string{"ÄRGER ZEBRA"}}},
		{"Note", map[string]any{"body__startswith": "ärg"}},
		{"Note", map[string]any{"body__contains": "GER Z"}},
		{"Note", map[string]any{"body__endswith": "ZEBRA"}},
		{"Note", map[string]any{"body__like": "ä%a"}},
		{"Note", map[string]any{"body__gt": "ärger"}},
		{"Note", map[string]any{"body__lt": "ärger"}},
		{"Note", map[string]any{"body__length": 11}},
		{"Note", map[string]any{"updated_at__year": 2026}},
		{"Note", map[string]any{"updated_at__year": 2025}},
		{"Note", map[string]any{"updated_at__year__gt": 2025}},
		{"Note", map[string]any{"updated_at__year__lte": 2025}},
		{"Note", map[string]any{"updated_at__month": 10}},
		{"Note", map[string]any{"updated_at__month__in": []int{1, 2}}},
		{"Note", map[string]any{"updated_at__day": 17}},
		{"Note", map[string]any{"updated_at__day__range": []int{1, 16}}},
		{"Note", map[string]any{"updated_at__gt": time.Date(2026, 10, 17, 0, 0, 0, 0, time.UTC)}},
		{"Sale", map[string]any{"qty__hasbit": 2}},
		{"Sale", map[string]any{"qty__hasbit": 1}},
		{"Sale", map[string]any{"qty__hasbit": 12}},
	}
	for _, tt := range tests {
		t.Run(tt.model+fmt.Sprint(tt.filter), func(t *testing.T) {
			n, err := db.Query(tt.model).Filter(tt.filter).Count(ctx)
			require.NoError(t, err)
			inMemory, err := mt.Match(insts[tt.model], expr.Match(tt.filter))
			require.NoError(t, err)
			assert.Equal(t, n == 1, inMemory)
		})
	}
}

func TestSession(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("Commit", func(t *testing.T) {
		t.Parallel()
		db := openSQLite(t)
		ann, err := db.NewInstance("Customer", map[string]any{"name": "Ann"})
		require.NoError(t, err)
		order, err := db.NewInstance("Order", map[string]any{"qty": 2})
		require.NoError(t, err)
		require.NoError(t, order.Set("customer", ann))

		err = db.Tx(ctx, func(ctx context.Context) error {
			// The order is journaled first, but inserted after its customer.
			if _, err := order.Save(ctx); err != nil {
				return err
			}
			_, err := ann.Save(ctx)
			return err
		})
		require.NoError(t, err)
		assert.False(t, ann.IsNew())
		assert.False(t, order.IsNew())
		fk, err := order.Get("customer_id")
		require.NoError(t, err)
		assert.Equal(t, ann.PrimaryKey()[0], fk)

		n, err := db.Query("Order").Filter(map[string]any{"customer__name": "Ann"}).Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
	})

	t.Run("Rollback", func(t *testing.T) {
		t.Parallel()
		db := openSQLite(t)
		ann, err := db.Create(ctx, "Customer", map[string]any{"name": "Ann"})
		require.NoError(t, err)
		errStop := errors.New("stop")

		err = db.Tx(ctx, func(ctx context.Context) error {
			if err := ann.Set("name", "Anna"); err != nil {
				return err
			}
			if _, err := ann.Save(ctx); err != nil {
				return err
			}
			s := uow.FromContext(ctx)
			if err := s.Flush(ctx); err != nil {
				return err
			}
			return errStop
		})
		require.ErrorIs(t, err, errStop)
		name, err := ann.Get("name")
		require.NoError(t, err)
		assert.Equal(t, "Ann", name)

		rows, err := db.Query("Customer").Values(ctx, "name")
		require.NoError(t, err)
		assert.Equal(t, []map[string]any{{"name": "Ann"}}, rows)
	})

	t.Run("Delete", func(t *testing.T) {
		t.Parallel()
		db := openSQLite(t)
		ann, err := db.Create(ctx, "Customer", map[string]any{"name": "Ann"})
		require.NoError(t, err)
		var deleted []string
		db.OnDelete(func(_ context.Context, inst *record.Instance) { deleted = append(deleted, inst.String()) })

		s := db.Session()
		sctx := uow.NewContext(ctx, s)
		ok, err := ann.Delete(sctx)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Empty(t, deleted, "nothing is written before the session flushes")
		require.NoError(t, s.Commit(sctx))
		assert.Equal(t, []string{"Customer(1)"}, deleted)
		assert.True(t, ann.IsDeleted())
	})
}

func TestListeners(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db := openSQLite(t)
	var events []string
	db.OnSave(func(_ context.Context, inst *record.Instance) { events = append(events, "save "+inst.String()) })
	db.OnDelete(func(_ context.Context, inst *record.Instance) { events = append(events, "delete "+inst.String()) })

	tea, err := db.Create(ctx, "Product", map[string]any{"name": "Tea", "price": 3})
	require.NoError(t, err)
	require.NoError(t, tea.Set("name", "Green Tea"))
	_, err = tea.Save(ctx)
	require.NoError(t, err)
	_, err = tea.Save(ctx)
	require.NoError(t, err)
	_, err = tea.Delete(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"save Product(1)", "save Product(1)", "delete Product(1)"}, events)
}

func TestDeferredLoad(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db := openSQLite(t)
	_, err := db.Create(ctx, "Product", map[string]any{"name": "Tea", "price": 3, "notes": "green"})
	require.NoError(t, err)
	db.Identity().Clear()

	m, err := db.Query("Product").First(ctx)
	require.NoError(t, err)
	p := m.Instance()
	assert.False(t, p.Loaded("notes"))
	_, err = p.Get("notes")
	assert.ErrorIs(t, err, record.ErrDeferred)

	require.NoError(t, p.Load(ctx))
	notes, err := p.Get("notes")
	require.NoError(t, err)
	assert.Equal(t, "green", notes)

	require.NoError(t, p.Set("name", "Black Tea"))
	require.NoError(t, db.Reload(ctx, p))
	name, err := p.Get("name")
	require.NoError(t, err)
	assert.Equal(t, "Tea", name)
	assert.False(t, p.IsDirty())
}

func TestBulk(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db := openSQLite(t)
	for i, name := range []string{"Tea", "Coffee", "Cocoa"} {
		_, err := db.Create(ctx, "Product", map[string]any{"name": name, "price": i + 1})
		require.NoError(t, err)
	}

	n, err := db.Query("Product").
		Filter(map[string]any{"name__startswith": "co"}).
		Update(ctx, map[string]any{"price": expr.Mul(expr.F("price"), 10)})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	rows, err := db.Query("Product").OrderBy("name").Values(ctx, "name", "price")
	require.NoError(t, err)
	var got []string
	for _, r := range rows {
		got = append(got, fmt.Sprintf("%s=%s", r["name"], r["price"].(decimal.Decimal)))
	}
	assert.Equal(t, []string{"Cocoa=30", "Coffee=20", "Tea=1"}, got)

	n, err = db.Query("Product").Filter(map[string]any{"price__gt": 10}).Delete(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.Equal(t, int64(1), db.Query("Product").CountX(ctx))
}

func TestIterateProjection(t *testing.T) {
	t.Parallel()
	db := openSQLite(t)
	_, err := db.Query("Product").Select("name").All(context.Background())
	assert.ErrorIs(t, err, orm.ErrProjection)
}

func TestUpdateDefault(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db, b := openScripted(t)
	meta := db.Registry().MustMetadata("Note")
	note := db.Identity().Add(record.Hydrate(meta, map[string]any{"id": int64(1), "body": "a"}))
	note.Bind(db)

	require.NoError(t, note.Set("body", "b"))
	ok, err := note.Save(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	stmts := b.SQL()
	require.Len(t, stmts, 1)
	assert.True(t, strings.HasPrefix(stmts[0], `UPDATE "notes" SET `))
	assert.Contains(t, stmts[0], `"updated_at" = `)
	assert.Contains(t, stmts[0], `"body" = `)
}

func TestSessionOverScriptedBackend(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db, b := openScripted(t)
	b.FailOn("Commit", errors.New("disk full"))

	ann, err := db.NewInstance("Customer", map[string]any{"name": "Ann"})
	require.NoError(t, err)
	s := db.Session()
	_, err = s.Save(ctx, ann)
	require.NoError(t, err)
	err = s.Commit(ctx)
	require.Error(t, err)
	assert.True(t, strata.IsTransactionError(err))
	assert.False(t, strata.IsFatal(err))
	assert.Equal(t, []string{"BeginTransaction", "Exec", "Commit"}, b.Calls())

	require.NoError(t, s.Rollback(ctx, true))
	assert.True(t, ann.IsNew())
	assert.Equal(t, uow.RolledBack, s.State())
}

func TestDefault(t *testing.T) {
	ctx := context.Background()
	orm.SetDefault(nil)
	_, err := orm.Q("Product").Count(ctx)
	assert.ErrorIs(t, err, query.ErrNoExecutor)
	_, _, err = orm.Get(ctx, "Product", 1)
	assert.ErrorIs(t, err, query.ErrNoExecutor)

	db := openSQLite(t)
	orm.SetDefault(db)
	t.Cleanup(func() { orm.SetDefault(nil) })
	p, err := orm.Make("Product", map[string]any{"name": "Tea", "price": 1})
	require.NoError(t, err)
	_, err = p.Save(ctx)
	require.NoError(t, err)
	got, ok, err := orm.Get(ctx, "Product", 1)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Same(t, p, got)
	assert.Equal(t, int64(1), orm.Q("Product").CountX(ctx))
	assert.Same(t, db, orm.Default())
}

var _ dialect.Backend = (*backendtest.Backend)(nil)
