package orm

import (
	"context"
	"slices"

	"github.com/syssam/strata"
	"github.com/syssam/strata/privacy"
	"github.com/syssam/strata/query"
	"github.com/syssam/strata/uow"
)

// WithPolicy attaches a privacy policy to the named models, or to every
// model when none is named. Policies of every model run before the
// model's own, in the order they were added.
func WithPolicy(p privacy.QueryMutationRule, models ...string) Option {
	return func(c *config) {
		if c.policies == nil {
			c.policies = make(map[string]privacy.Policies)
		}
		if len(models) == 0 {
			models = []string{""}
		}
		for _, m := range models {
			c.policies[m] = append(c.policies[m], p)
		}
	}
}

func (db *DB) policyOf(model string) privacy.Policies {
	all, own := db.policies[""], db.policies[model]
	if len(own) == 0 {
		return all
	}
	return append(slices.Clone(all), own...)
}

// guarded reports whether reads of model go through a policy, in which
// case the identity map cannot answer them.
func (db *DB) guarded(model string) bool { return len(db.policyOf(model)) > 0 }

// authorizeQuery evaluates the query policy of q and returns q narrowed by
// the rules.
func (db *DB) authorizeQuery(ctx context.Context, q *query.Query) (*query.Query, error) {
	ps := db.policyOf(q.ModelName())
	if len(ps) == 0 {
		return q, nil
	}
	pq := privacy.NewQuery(q)
	if err := ps.EvalQuery(ctx, pq); err != nil {
		return nil, strata.NewQueryError(q.ModelName(), "authorize", err)
	}
	if _, ok := privacy.DecisionFromContext(ctx); !ok {
		for _, u := range q.Unions() {
			if db.guarded(u.Query.ModelName()) {
				return nil, strata.NewQueryError(q.ModelName(), "authorize",
					privacy.Denyf("union with %s is not filtered", u.Query.ModelName()))
			}
		}
	}
	return pq.Unwrap(), nil
}

// authorizeBulk evaluates the mutation policy of a bulk write and returns
// the rows it may write.
func (db *DB) authorizeBulk(ctx context.Context, op privacy.Op, q *query.Query, values map[string]any) (*query.Query, error) {
	ps := db.policyOf(q.ModelName())
	if len(ps) == 0 {
		return q, nil
	}
	m := privacy.NewBulkMutation(op, q, values)
	if err := ps.EvalMutation(ctx, m); err != nil {
		return nil, strata.NewQueryError(q.ModelName(), "authorize", err)
	}
	return m.Query().Unwrap(), nil
}

var writeOps = map[uow.Op]privacy.Op{
	uow.OpInsert: privacy.OpCreate,
	uow.OpUpdate: privacy.OpUpdate,
	uow.OpDelete: privacy.OpDelete,
}

func (db *DB) authorizeWrite(ctx context.Context, m *privacy.Mutation) error {
	ps := db.policyOf(m.Model())
	if len(ps) == 0 {
		return nil
	}
	if err := ps.EvalMutation(ctx, m); err != nil {
		return strata.NewQueryError(m.Model(), "authorize", err)
	}
	return nil
}
