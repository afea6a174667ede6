// Package edge declares relationships between models.
//
// There are three kinds of declaration:
//
//	// Order owns customer_id, which references Customer's primary key.
//	edge.To("customer", "Customer").Field("customer_id").Optional()
//
//	// Customer sees the orders pointing at it.
//	edge.From("orders", "Order").Ref("customer")
//
//	// Product reaches Tag through the ProductTag association model, which
//	// declares the direct edges "product" and "tag".
//	edge.ThroughModel("tags", "Tag", "ProductTag").Ref("product").Target("tag")
//
// The schema registry resolves each declaration into one normalized join
// description on first use.
package edge
