package tenant

import (
	"context"

	"github.com/google/uuid"
)

// Scope captures the tenant and acting user a request operates on behalf of.
// It is attached to the context by middleware once the request headers have
// been resolved; every prompt operation is scoped to exactly one tenant.
type Scope struct {
	TenantID uuid.UUID
	// ActorID identifies the user performing the request. uuid.Nil when the
	// caller did not identify itself; creation paths require a real actor.
	ActorID uuid.UUID
}

type ctxKey struct{}

// WithScope returns a derived context carrying the tenant Scope.
func WithScope(ctx context.Context, scope Scope) context.Context {
	return context.WithValue(ctx, ctxKey{}, scope)
}

// FromContext extracts the tenant Scope and a boolean indicating presence.
func FromContext(ctx context.Context) (Scope, bool) {
	scope, ok := ctx.Value(ctxKey{}).(Scope)
	return scope, ok
}
