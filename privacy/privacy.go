package privacy

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/syssam/strata/expr"
	"github.com/syssam/strata/query"
	"github.com/syssam/strata/record"
)

// Policy decision sentinel errors. Rules return them, possibly wrapped, and
// callers test them with errors.Is.
var (
	// Allow ends the evaluation and permits the operation.
	Allow = errors.New("strata/privacy: allow rule")

	// Deny ends the evaluation and rejects the operation.
	Deny = errors.New("strata/privacy: deny rule")

	// Skip passes the decision to the next rule.
	Skip = errors.New("strata/privacy: skip rule")
)

// Allowf returns a formatted wrapped Allow decision.
func Allowf(format string, a ...any) error {
	return fmt.Errorf(format+": %w", append(a, Allow)...)
}

// Denyf returns a formatted wrapped Deny decision.
func Denyf(format string, a ...any) error {
	return fmt.Errorf(format+": %w", append(a, Deny)...)
}

// Skipf returns a formatted wrapped Skip decision.
func Skipf(format string, a ...any) error {
	return fmt.Errorf(format+": %w", append(a, Skip)...)
}

// Op is the kind of a write. Ops are bit flags, so a rule can be bound to
// several of them with OpUpdate|OpUpdateMany.
type Op uint

// Write operations.
const (
	OpCreate Op = 1 << iota
	OpUpdate
	OpDelete
	OpUpdateMany
	OpDeleteMany
)

// Is reports whether o shares a flag with op.
func (o Op) Is(op Op) bool { return o&op != 0 }

var opNames = [...]string{"Create", "Update", "Delete", "UpdateMany", "DeleteMany"}

func (o Op) String() string {
	var names []string
	for i, name := range opNames {
		if o&(1<<i) != 0 {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return fmt.Sprintf("Op(%d)", uint(o))
	}
	return strings.Join(names, "|")
}

// Filter narrows the rows an operation reads or writes.
type Filter interface {
	Model() string
	Where(qs ...*expr.Q)
}

// Query is a select under evaluation. Rules may narrow it with Where.
type Query struct {
	q *query.Query
}

// NewQuery returns q wrapped for evaluation.
func NewQuery(q *query.Query) *Query { return &Query{q: q} }

// Model returns the name of the queried model.
func (q *Query) Model() string { return q.q.ModelName() }

// Where adds constraints every returned row must satisfy.
func (q *Query) Where(qs ...*expr.Q) { q.q = q.q.Where(qs...) }

// Unwrap returns the query with every constraint added by the rules.
func (q *Query) Unwrap() *query.Query { return q.q }

// Mutation is a write under evaluation. It writes either one instance, or
// the rows of a query for OpUpdateMany and OpDeleteMany.
type Mutation struct {
	op     Op
	inst   *record.Instance
	q      *Query
	values map[string]any
}

// NewMutation returns the write of one instance.
func NewMutation(op Op, inst *record.Instance) *Mutation {
	return &Mutation{op: op, inst: inst}
}

// NewBulkMutation returns the write of every row q selects. values holds
// the assignments of a bulk update.
func NewBulkMutation(op Op, q *query.Query, values map[string]any) *Mutation {
	return &Mutation{op: op, q: NewQuery(q), values: values}
}

// Op returns the operation.
func (m *Mutation) Op() Op { return m.op }

// Model returns the name of the written model.
func (m *Mutation) Model() string {
	if m.inst != nil {
		return m.inst.Meta().Name
	}
	return m.q.Model()
}

// Instance returns the written instance, or nil for a bulk write.
func (m *Mutation) Instance() *record.Instance { return m.inst }

// Query returns the rows of a bulk write, or nil.
func (m *Mutation) Query() *Query { return m.q }

// Field returns the value written to a field: the instance's value, or the
// assignment of a bulk update.
func (m *Mutation) Field(name string) (any, bool) {
	if m.inst != nil {
		v, err := m.inst.Get(name)
		return v, err == nil
	}
	v, ok := m.values[name]
	return v, ok
}

type (
	// QueryRule decides whether a query is allowed, and may narrow it.
	QueryRule interface {
		EvalQuery(context.Context, *Query) error
	}

	// QueryPolicy combines multiple query rules into a single policy.
	QueryPolicy []QueryRule

	// MutationRule decides whether a write is allowed, and may narrow a
	// bulk write.
	MutationRule interface {
		EvalMutation(context.Context, *Mutation) error
	}

	// MutationPolicy combines multiple mutation rules into a single policy.
	MutationPolicy []MutationRule

	// QueryMutationRule is an interface which groups query and mutation rules.
	QueryMutationRule interface {
		QueryRule
		MutationRule
	}
)

// AlwaysAllowRule returns a rule that always returns an Allow decision.
func AlwaysAllowRule() QueryMutationRule {
	return fixedDecision{Allow}
}

// AlwaysDenyRule returns a rule that always returns a Deny decision.
func AlwaysDenyRule() QueryMutationRule {
	return fixedDecision{Deny}
}

// ContextQueryMutationRule creates a query/mutation rule from a context
// evaluation function. A nil result counts as Skip.
func ContextQueryMutationRule(eval func(context.Context) error) QueryMutationRule {
	return contextDecision{eval}
}

// QueryRuleFunc type is an adapter which allows the use of ordinary
// functions as query rules.
type QueryRuleFunc func(context.Context, *Query) error

// EvalQuery returns f(ctx, q).
func (f QueryRuleFunc) EvalQuery(ctx context.Context, q *Query) error {
	return f(ctx, q)
}

// MutationRuleFunc type is an adapter which allows the use of
// ordinary functions as mutation rules.
type MutationRuleFunc func(context.Context, *Mutation) error

// EvalMutation returns f(ctx, m).
func (f MutationRuleFunc) EvalMutation(ctx context.Context, m *Mutation) error {
	return f(ctx, m)
}

// OnMutationOperation evaluates the given rule only on a given mutation operation.
func OnMutationOperation(rule MutationRule, op Op) MutationRule {
	return MutationRuleFunc(func(ctx context.Context, m *Mutation) error {
		if m.Op().Is(op) {
			return rule.EvalMutation(ctx, m)
		}
		return Skip
	})
}

// DenyMutationOperationRule returns a rule denying specified mutation operation.
func DenyMutationOperationRule(op Op) MutationRule {
	rule := MutationRuleFunc(func(_ context.Context, m *Mutation) error {
		return Denyf("strata/privacy: operation %s on %s is not allowed", m.Op(), m.Model())
	})
	return OnMutationOperation(rule, op)
}

// AllowMutationOperationRule returns a rule allowing specified mutation operation.
func AllowMutationOperationRule(op Op) MutationRule {
	rule := MutationRuleFunc(func(context.Context, *Mutation) error {
		return Allow
	})
	return OnMutationOperation(rule, op)
}

// Policy groups query and mutation policies.
type Policy struct {
	Query    QueryPolicy
	Mutation MutationPolicy
}

// EvalQuery forwards evaluation to the query policy.
func (p Policy) EvalQuery(ctx context.Context, q *Query) error {
	return p.Query.EvalQuery(ctx, q)
}

// EvalMutation forwards evaluation to the mutation policy.
func (p Policy) EvalMutation(ctx context.Context, m *Mutation) error {
	return p.Mutation.EvalMutation(ctx, m)
}

// EvalQuery evaluates the rules in order and returns the first decision
// that is not Skip.
func (policies QueryPolicy) EvalQuery(ctx context.Context, q *Query) error {
	for _, policy := range policies {
		switch decision := policy.EvalQuery(ctx, q); {
		case decision == nil || errors.Is(decision, Skip):
		default:
			return decision
		}
	}
	return nil
}

// EvalMutation evaluates the rules in order and returns the first decision
// that is not Skip.
func (policies MutationPolicy) EvalMutation(ctx context.Context, m *Mutation) error {
	for _, policy := range policies {
		switch decision := policy.EvalMutation(ctx, m); {
		case decision == nil || errors.Is(decision, Skip):
		default:
			return decision
		}
	}
	return nil
}

// Policies is the final decision over a list of policies. Unlike a single
// policy, it returns nil for Allow, so any non-nil result rejects the
// operation.
type Policies []QueryMutationRule

// EvalQuery evaluates the query policies. If the Allow error is returned
// from one of the policies, it stops the evaluation with a nil error.
func (policies Policies) EvalQuery(ctx context.Context, q *Query) error {
	return policies.eval(ctx, func(policy QueryMutationRule) error {
		return policy.EvalQuery(ctx, q)
	})
}

// EvalMutation evaluates the mutation policies. If the Allow error is returned
// from one of the policies, it stops the evaluation with a nil error.
func (policies Policies) EvalMutation(ctx context.Context, m *Mutation) error {
	return policies.eval(ctx, func(policy QueryMutationRule) error {
		return policy.EvalMutation(ctx, m)
	})
}

func (policies Policies) eval(ctx context.Context, eval func(QueryMutationRule) error) error {
	if decision, ok := DecisionFromContext(ctx); ok {
		return decision
	}
	for _, policy := range policies {
		switch decision := eval(policy); {
		case decision == nil || errors.Is(decision, Skip):
		case errors.Is(decision, Allow):
			return nil
		default:
			return decision
		}
	}
	return nil
}

type decisionCtxKey struct{}

// DecisionContext creates a new context from the given parent context with
// a policy decision attach to it. Operations run with the context skip
// policy evaluation and take the decision.
func DecisionContext(parent context.Context, decision error) context.Context {
	if decision == nil || errors.Is(decision, Skip) {
		return parent
	}
	return context.WithValue(parent, decisionCtxKey{}, decision)
}

// DecisionFromContext retrieves the policy decision from the context.
// An Allow decision is returned as nil.
func DecisionFromContext(ctx context.Context) (error, bool) {
	decision, ok := ctx.Value(decisionCtxKey{}).(error)
	if ok && errors.Is(decision, Allow) {
		decision = nil
	}
	return decision, ok
}

type fixedDecision struct {
	decision error
}

func (f fixedDecision) EvalQuery(context.Context, *Query) error {
	return f.decision
}

func (f fixedDecision) EvalMutation(context.Context, *Mutation) error {
	return f.decision
}

type contextDecision struct {
	eval func(context.Context) error
}

func (c contextDecision) EvalQuery(ctx context.Context, _ *Query) error {
	return c.eval(ctx)
}

func (c contextDecision) EvalMutation(ctx context.Context, _ *Mutation) error {
	return c.eval(ctx)
}

// FilterFunc is an adapter that allows using ordinary functions as
// query/mutation rules that narrow the rows read or written.
//
//	privacy.FilterFunc(func(ctx context.Context, f privacy.Filter) error {
//		f.Where(expr.Cond("workspace_id", workspaceID))
//		return privacy.Skip
//	})
//
// The write of a single instance cannot be narrowed and is denied.
type FilterFunc func(context.Context, Filter) error

// EvalQuery calls f(ctx, q).
func (f FilterFunc) EvalQuery(ctx context.Context, q *Query) error {
	return f(ctx, q)
}

// EvalMutation calls f with the rows of a bulk write.
func (f FilterFunc) EvalMutation(ctx context.Context, m *Mutation) error {
	if m.Query() == nil {
		return Denyf("strata/privacy: %s of one %s cannot be filtered", m.Op(), m.Model())
	}
	return f(ctx, m.Query())
}

var (
	_ QueryMutationRule = FilterFunc(nil)
	_ QueryMutationRule = Policy{}
	_ QueryMutationRule = Policies(nil)
	_ Filter            = (*Query)(nil)
)
