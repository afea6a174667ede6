// Package orm ties models, queries and backends together.
//
// A DB owns the model registry, the lookup registry, the identity map and
// the backends. It compiles and runs queries, materializes their rows into
// cached instances and writes instances back:
//
//	b, _ := sql.OpenSQLite("main", "file:shop.db")
//	db, err := orm.New(reg, orm.WithBackend(b))
//	if err != nil {
//		return err
//	}
//	juice, err := db.Create(ctx, "Product", map[string]any{"name": "Prune Juice", "price": 2.39})
//	cheap, err := db.Query("Product").Filter(map[string]any{"price__lt": 3}).All(ctx)
//
// Writes go to the database at once unless the context carries a session,
// in which case they are journaled and sent when the session flushes or
// commits:
//
//	err = db.Tx(ctx, func(ctx context.Context) error {
//		juice.Set("price", 2.49)
//		_, err := juice.Save(ctx)
//		return err
//	})
//
// Policies added with WithPolicy are evaluated before every read and write
// of the models they guard; see package privacy.
package orm
