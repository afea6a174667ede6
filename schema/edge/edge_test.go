package edge_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/strata/schema/edge"
)

func TestDirect(t *testing.T) {
	t.Parallel()
	e := edge.To("customer", "Customer").
		Field("customer_id").
		References("id").
		Optional().
		Comment("buyer")
	assert.Equal(t, "customer", e.EdgeName())
	assert.Equal(t, "Customer", e.Model)
	assert.Equal(t, []string{"customer_id"}, e.Local)
	assert.Equal(t, []string{"id"}, e.Foreign)
	assert.True(t, e.Nullable)
	assert.Equal(t, "buyer", e.CommentStr)

	bare := edge.To("owner", "User")
	assert.Empty(t, bare.Local)
	assert.Empty(t, bare.Foreign)
	assert.False(t, bare.Nullable)
}

func TestReverse(t *testing.T) {
	t.Parallel()
	e := edge.From("orders", "Order").Ref("customer")
	assert.Equal(t, "orders", e.EdgeName())
	assert.Equal(t, "customer", e.RefTo)
	assert.False(t, e.Single)
	assert.True(t, e.Unique().Single)
}

func TestThrough(t *testing.T) {
	t.Parallel()
	e := edge.ThroughModel("tags", "Tag", "ProductTag").Ref("product").Target("tag")
	assert.Equal(t, "tags", e.EdgeName())
	assert.Equal(t, "Tag", e.Model)
	assert.Equal(t, "ProductTag", e.Via)
	assert.Equal(t, "product", e.RefTo)
	assert.Equal(t, "tag", e.ToField)
}

func TestEdgeUnion(t *testing.T) {
	t.Parallel()
	edges := []edge.Edge{
		edge.To("a", "A"),
		edge.From("b", "B"),
		edge.ThroughModel("c", "C", "AC"),
	}
	var names []string
	for _, e := range edges {
		switch d := e.(type) {
		case *edge.Direct:
			names = append(names, "direct:"+d.Name)
		case *edge.Reverse:
			names = append(names, "reverse:"+d.Name)
		case *edge.Through:
			names = append(names, "through:"+d.Name)
		}
	}
	require.Len(t, names, 3)
	assert.Equal(t, []string{"direct:a", "reverse:b", "through:c"}, names)
}
