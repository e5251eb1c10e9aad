package tenant

import "context"

// ID identifies one tenant. The zero value means "no tenant" and is used by
// single-tenant deployments; it is a valid scope, not an error.
type ID string

// None is the tenant of a single-tenant deployment.
const None ID = ""

// String returns the raw tenant identifier.
func (id ID) String() string { return string(id) }

// Resolver yields the tenant scoping the current operation. Implementations
// typically read it from the request context populated by HTTP middleware.
type Resolver interface {
	CurrentTenant(ctx context.Context) (ID, error)
}

// ContextResolver resolves the tenant from the context, falling back to a
// fixed default when the context carries none.
type ContextResolver struct {
	Default ID
}

// CurrentTenant implements Resolver.
func (r ContextResolver) CurrentTenant(ctx context.Context) (ID, error) {
	if id, ok := FromContext(ctx); ok {
		return id, nil
	}
	return r.Default, nil
}

type contextKey struct{}

// NewContext returns a context scoped to the given tenant.
func NewContext(ctx context.Context, id ID) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

// FromContext extracts the tenant from the context.
func FromContext(ctx context.Context) (ID, bool) {
	id, ok := ctx.Value(contextKey{}).(ID)
	return id, ok
}
