// Package schema declares models and builds their metadata.
//
// A Model lists fields, relationships (edges) and defaults. A Registry
// holds the declarations of one database and turns them into Metadata on
// first use:
//
//	reg := schema.NewRegistry()
//	reg.Register(
//	    &schema.Model{
//	        Name: "Customer",
//	        Fields: []field.Field{
//	            field.AutoID("id"),
//	            field.String("name"),
//	        },
//	        Edges: []edge.Edge{
//	            edge.From("orders", "Order").Ref("customer"),
//	        },
//	    },
//	    &schema.Model{
//	        Name: "Order",
//	        Fields: []field.Field{
//	            field.AutoID("id"),
//	            field.ForeignKey("customer_id").Optional(),
//	            field.Decimal("total"),
//	        },
//	        Edges: []edge.Edge{
//	            edge.To("customer", "Customer").Field("customer_id").Optional(),
//	        },
//	    },
//	)
//
// Relationships are resolved lazily into a normalized Join. A reverse edge
// needs the peer's direct edge, and the peer may be registered or inspected
// after the declaring model, so neither side is resolved until a query or
// Validate asks for it.
//
// Model declarations can also be read from YAML with LoadYAML.
package schema
