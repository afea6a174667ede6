package query_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/strata"
	"github.com/syssam/strata/dialect"
	"github.com/syssam/strata/expr"
	"github.com/syssam/strata/query"
	"github.com/syssam/strata/record"
	"github.com/syssam/strata/schema"
	"github.com/syssam/strata/schema/field"
)

type rows struct {
	data [][]any
	pos  int
}

func (r *rows) Next() bool                 { r.pos++; return r.pos <= len(r.data) }
func (r *rows) Values() ([]any, error)     { return r.data[r.pos-1], nil }
func (r *rows) Columns() ([]string, error) { return []string{"id", "name"}, nil }
func (r *rows) Err() error                 { return nil }
func (r *rows) Close() error               { return nil }

// fakeExec serves a fixed set of rows and records the last query.
type fakeExec struct {
	mat  *record.Materializer
	data [][]any
	last *query.Query
	set  map[string]any
}

var fm = []dialect.FieldMapEntry{{Model: "Tag", Fields: []string{"id", "name"}}}

func (e *fakeExec) Compile(q *query.Query) (*dialect.Statement, error) {
	e.last = q
	return &dialect.Statement{SQL: "SELECT id, name FROM tags"}, nil
}

func (e *fakeExec) Iterate(_ context.Context, q *query.Query) (*record.Cursor, error) {
	e.last = q
	data := e.data
	if limit, _ := q.Window(); limit >= 0 && limit < len(data) {
		data = data[:limit]
	}
	return record.NewCursor(&rows{data: data}, fm, e.mat), nil
}

func (e *fakeExec) Count(_ context.Context, q *query.Query) (int64, error) {
	e.last = q
	return int64(len(e.data)), nil
}

func (e *fakeExec) Values(_ context.Context, q *query.Query) ([]map[string]any, error) {
	e.last = q
	out := make([]map[string]any, len(e.data))
	for i, r := range e.data {
		out[i] = map[string]any{"name": r[1]}
	}
	return out, nil
}

func (e *fakeExec) UpdateAll(_ context.Context, q *query.Query, values map[string]any) (int64, error) {
	e.last, e.set = q, values
	return int64(len(e.data)), nil
}

func (e *fakeExec) DeleteAll(_ context.Context, q *query.Query) (int64, error) {
	e.last = q
	return int64(len(e.data)), nil
}

func newExec(t *testing.T, data ...[]any) *fakeExec {
	t.Helper()
	reg := schema.NewRegistry()
	require.NoError(t, reg.Register(&schema.Model{
		Name:   "Tag",
		Fields: []field.Field{field.AutoID("id"), field.String("name")},
	}))
	return &fakeExec{mat: &record.Materializer{Registry: reg}, data: data}
}

func TestBuilderIsImmutable(t *testing.T) {
	t.Parallel()
	base := query.New(nil, "Tag")
	filtered := base.Filter(map[string]any{"name": "go"})
	ordered := filtered.OrderBy("-name", expr.Asc("id"))
	limited := ordered.Limit(5).Offset(10)

	assert.Nil(t, base.Filters())
	assert.NotNil(t, filtered.Filters())
	keys, _ := filtered.Ordering()
	assert.Empty(t, keys)
	keys, _ = ordered.Ordering()
	require.Len(t, keys, 2)
	assert.True(t, keys[0].Desc)
	limit, offset := ordered.Window()
	assert.Equal(t, -1, limit)
	assert.Zero(t, offset)
	assert.False(t, ordered.Windowed())
	limit, offset = limited.Window()
	assert.Equal(t, 5, limit)
	assert.Equal(t, 10, offset)
	assert.True(t, limited.Windowed())

	_, disabled := base.OrderBy().Ordering()
	assert.True(t, disabled)

	a := base.SelectRelated("x")
	b := a.SelectRelated("y", "x")
	assert.Equal(t, []string{"x"}, a.Related())
	assert.Equal(t, []string{"x", "y"}, b.Related())
}

func TestBuilderAccessors(t *testing.T) {
	t.Parallel()
	other := query.New(nil, "Tag").Select("name")
	q := query.New(nil, "Tag").
		Where(expr.Cond("id__gt", 1), nil, expr.And()).
		Exclude(map[string]any{"name": "x"}).
		Fields("name").
		Defer("bio").
		Annotate("n", expr.Count(nil)).
		Distinct().
		ForUpdate().
		Union(other, true).
		Constrain("posts", expr.Cond("draft", false))

	assert.Equal(t, []string{"id__gt", "name"}, q.Filters().Paths())
	only, deferred := q.LoadFields()
	assert.Equal(t, []string{"name"}, only)
	assert.Equal(t, []string{"bio"}, deferred)
	require.Len(t, q.Annotations(), 1)
	assert.Equal(t, "n", q.Annotations()[0].Alias)
	assert.True(t, q.IsDistinct())
	assert.Equal(t, query.LockUpdate, q.LockMode())
	assert.Equal(t, query.LockShare, q.ForShare().LockMode())
	require.Len(t, q.Unions(), 1)
	assert.True(t, q.Unions()[0].All)
	assert.Equal(t, "posts", q.JoinConstraints()[0].Path)
	assert.Equal(t, "Tag", q.ModelName())
	assert.Equal(t, "Tag where (id__gt=1 AND NOT (name=x))", q.Describe())
}

func TestNoExecutor(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	q := query.New(nil, "Tag")
	_, err := q.All(ctx)
	assert.ErrorIs(t, err, query.ErrNoExecutor)
	_, err = q.Count(ctx)
	assert.ErrorIs(t, err, query.ErrNoExecutor)
	_, err = q.SQL()
	assert.ErrorIs(t, err, query.ErrNoExecutor)
	assert.Contains(t, q.String(), "no executor")
	_, err = q.Delete(ctx)
	assert.ErrorIs(t, err, query.ErrNoExecutor)
}

func TestTerminals(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("All", func(t *testing.T) {
		exec := newExec(t, []any{int64(1), "go"}, []any{int64(2), "sql"})
		ms, err := query.New(exec, "Tag").All(ctx)
		require.NoError(t, err)
		assert.Len(t, ms, 2)
		assert.Equal(t, "SELECT id, name FROM tags", query.New(exec, "Tag").String())
	})
	t.Run("Only", func(t *testing.T) {
		exec := newExec(t, []any{int64(1), "go"})
		m, err := query.New(exec, "Tag").Only(ctx)
		require.NoError(t, err)
		assert.Equal(t, []any{int64(1)}, m.PrimaryKey())
		limit, _ := exec.last.Window()
		assert.Equal(t, 2, limit)

		_, err = query.New(newExec(t), "Tag").Only(ctx)
		assert.True(t, strata.IsNotFound(err))

		exec = newExec(t, []any{int64(1), "go"}, []any{int64(2), "sql"}, []any{int64(3), "db"})
		_, err = query.New(exec, "Tag").Only(ctx)
		assert.True(t, strata.IsNotSingular(err))
		assert.Panics(t, func() { query.New(exec, "Tag").OnlyX(ctx) })
	})
	t.Run("Find", func(t *testing.T) {
		m, ok, err := query.New(newExec(t), "Tag").Find(ctx)
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Nil(t, m)
	})
	t.Run("First", func(t *testing.T) {
		exec := newExec(t, []any{int64(1), "go"}, []any{int64(2), "sql"})
		m, err := query.New(exec, "Tag").First(ctx)
		require.NoError(t, err)
		assert.Equal(t, []any{int64(1)}, m.PrimaryKey())
		assert.Nil(t, query.New(newExec(t), "Tag").FirstX(ctx))
	})
	t.Run("Count", func(t *testing.T) {
		exec := newExec(t, []any{int64(1), "go"})
		assert.Equal(t, int64(1), query.New(exec, "Tag").CountX(ctx))
		assert.True(t, query.New(exec, "Tag").ExistX(ctx))
		assert.False(t, query.New(newExec(t), "Tag").ExistX(ctx))
	})
	t.Run("Values", func(t *testing.T) {
		exec := newExec(t, []any{int64(1), "go"})
		vals, err := query.New(exec, "Tag").Values(ctx, "name")
		require.NoError(t, err)
		assert.Equal(t, []map[string]any{{"name": "go"}}, vals)
		assert.Equal(t, []string{"name"}, exec.last.Projection())
	})
	t.Run("Update", func(t *testing.T) {
		exec := newExec(t, []any{int64(1), "go"})
		n, err := query.New(exec, "Tag").Update(ctx, map[string]any{"name": "golang"})
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
		assert.Equal(t, map[string]any{"name": "golang"}, exec.set)
		_, err = query.New(exec, "Tag").Update(ctx, nil)
		assert.True(t, strata.IsQueryError(err))
	})
	t.Run("Delete", func(t *testing.T) {
		exec := newExec(t, []any{int64(1), "go"}, []any{int64(2), "sql"})
		n, err := query.New(exec, "Tag").Filter(map[string]any{"id__in": []int{1, 2}}).Delete(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)
		assert.NotNil(t, exec.last.Filters())
	})
}
