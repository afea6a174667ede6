package privacy

import (
	"context"
	"fmt"
	"slices"

	"github.com/syssam/strata/expr"
)

// Viewer is the authenticated user an operation runs for.
type Viewer interface {
	GetID() string
	GetRoles() []string
	// GetTenantID returns "" when tenants are not used.
	GetTenantID() string
}

type viewerCtxKey struct{}

// WithViewer returns a new context with the viewer attached.
func WithViewer(ctx context.Context, viewer Viewer) context.Context {
	return context.WithValue(ctx, viewerCtxKey{}, viewer)
}

// ViewerFromContext returns the viewer of ctx, or nil.
func ViewerFromContext(ctx context.Context) Viewer {
	v, _ := ctx.Value(viewerCtxKey{}).(Viewer)
	return v
}

// SimpleViewer is a basic implementation of the Viewer interface.
type SimpleViewer struct {
	UserID   string
	Roles    []string
	TenantID string
}

// GetID returns the user ID.
func (v *SimpleViewer) GetID() string { return v.UserID }

// GetRoles returns the user's roles.
func (v *SimpleViewer) GetRoles() []string { return v.Roles }

// GetTenantID returns the tenant ID.
func (v *SimpleViewer) GetTenantID() string { return v.TenantID }

// DenyIfNoViewer returns a rule that denies access if no viewer is present
// in the context. It usually comes first in a policy:
//
//	privacy.Policy{Mutation: privacy.MutationPolicy{
//		privacy.DenyIfNoViewer(),
//		privacy.HasRole("admin"),
//		privacy.AlwaysDenyRule(),
//	}}
func DenyIfNoViewer() QueryMutationRule {
	return ContextQueryMutationRule(func(ctx context.Context) error {
		if ViewerFromContext(ctx) == nil {
			return Denyf("strata/privacy: viewer required")
		}
		return Skip
	})
}

// HasRole returns a rule that allows access if the viewer has role, and
// skips otherwise.
func HasRole(role string) QueryMutationRule {
	return HasAnyRole(role)
}

// HasAnyRole returns a rule that allows access if the viewer has one of
// roles, and skips otherwise.
func HasAnyRole(roles ...string) QueryMutationRule {
	return ContextQueryMutationRule(func(ctx context.Context) error {
		viewer := ViewerFromContext(ctx)
		if viewer == nil {
			return Skip
		}
		for _, role := range roles {
			if slices.Contains(viewer.GetRoles(), role) {
				return Allow
			}
		}
		return Skip
	})
}

// IsOwner returns a mutation rule that allows writes of rows whose field
// holds the viewer's ID. Instances owned by someone else are skipped; bulk
// writes are narrowed to the viewer's rows.
func IsOwner(field string) MutationRule {
	return MutationRuleFunc(func(ctx context.Context, m *Mutation) error {
		viewer := ViewerFromContext(ctx)
		if viewer == nil {
			return Skip
		}
		if q := m.Query(); q != nil {
			if v, ok := m.Field(field); ok && idString(v) != viewer.GetID() {
				return Denyf("strata/privacy: %s reassigns %s", m.Op(), field)
			}
			q.Where(expr.Cond(field, viewer.GetID()))
			return Allow
		}
		if v, ok := m.Field(field); ok && v != nil && idString(v) == viewer.GetID() {
			return Allow
		}
		return Skip
	})
}

// OwnerQueryRule returns a query rule that narrows queries to the rows
// whose field holds the viewer's ID. Queries without a viewer are denied.
func OwnerQueryRule(field string) QueryRule {
	return QueryRuleFunc(func(ctx context.Context, q *Query) error {
		viewer := ViewerFromContext(ctx)
		if viewer == nil {
			return Denyf("strata/privacy: viewer required for owner-filtered query")
		}
		q.Where(expr.Cond(field, viewer.GetID()))
		return Skip
	})
}

// TenantRule returns a mutation rule that allows writes inside the
// viewer's tenant and denies writes to any other. Bulk writes are narrowed
// to the tenant. Viewers without a tenant are skipped.
func TenantRule(field string) MutationRule {
	return MutationRuleFunc(func(ctx context.Context, m *Mutation) error {
		viewer := ViewerFromContext(ctx)
		if viewer == nil || viewer.GetTenantID() == "" {
			return Skip
		}
		tenant := viewer.GetTenantID()
		v, ok := m.Field(field)
		if q := m.Query(); q != nil {
			if ok && idString(v) != tenant {
				return Denyf("strata/privacy: tenant mismatch")
			}
			q.Where(expr.Cond(field, tenant))
			return Allow
		}
		if !ok {
			return Skip
		}
		if idString(v) == tenant {
			return Allow
		}
		return Denyf("strata/privacy: tenant mismatch")
	})
}

// TenantQueryRule returns a query rule that narrows queries to the
// viewer's tenant. Queries without a viewer or tenant are denied.
func TenantQueryRule(field string) QueryRule {
	return QueryRuleFunc(func(ctx context.Context, q *Query) error {
		viewer := ViewerFromContext(ctx)
		if viewer == nil {
			return Denyf("strata/privacy: viewer required for tenant-filtered query")
		}
		if viewer.GetTenantID() == "" {
			return Denyf("strata/privacy: tenant required")
		}
		q.Where(expr.Cond(field, viewer.GetTenantID()))
		return Skip
	})
}

// idString formats an identifier for comparison with viewer IDs.
func idString(v any) string {
	switch v := v.(type) {
	case nil:
		return ""
	case string:
		return v
	case []byte:
		return string(v)
	default:
		return fmt.Sprint(v)
	}
}
