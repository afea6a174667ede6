// Package privacy evaluates row-level policies before queries and writes
// reach the database.
//
// Rules return one of three decisions:
//
//   - Allow grants access and stops evaluation
//   - Deny rejects the operation and stops evaluation
//   - Skip passes to the next rule
//
// A Policy holds a query policy and a mutation policy. Policies are attached
// to a database with orm.WithPolicy, either for every model or for some:
//
//	db, err := orm.New(reg,
//		orm.WithBackend(b),
//		orm.WithPolicy(privacy.Policy{
//			Query: privacy.QueryPolicy{
//				privacy.HasRole("admin"),
//				privacy.TenantQueryRule("tenant_id"),
//			},
//			Mutation: privacy.MutationPolicy{
//				privacy.DenyIfNoViewer(),
//				privacy.TenantRule("tenant_id"),
//				privacy.AlwaysDenyRule(),
//			},
//		}, "Invoice"),
//	)
//
// Query rules see the select before it is compiled and may narrow it with
// Where, so row-level filtering happens in SQL. Mutation rules see every
// insert, update and delete of an instance, including the ones a session
// flushes at commit, and every bulk update and delete. Bulk writes can be
// narrowed like queries.
//
// The viewer an operation runs for travels in the context:
//
//	ctx = privacy.WithViewer(ctx, &privacy.SimpleViewer{UserID: "7", TenantID: "acme"})
//
// DecisionContext attaches a fixed decision that bypasses evaluation, for
// example for system jobs:
//
//	ctx = privacy.DecisionContext(ctx, privacy.Allow)
package privacy
