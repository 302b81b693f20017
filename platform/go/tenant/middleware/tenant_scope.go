package middleware

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/promptdeck/promptdeck/platform/go/tenant"
)

// Header names resolved into the tenant Scope. Tenant identity is asserted by
// the fronting gateway; this service only requires that it is present and well
// formed.
const (
	TenantHeader = "X-Tenant-ID"
	ActorHeader  = "X-Actor-ID"
)

// WithTenantScope parses the tenant and actor headers and attaches a
// tenant.Scope to the request context. Requests without a valid tenant id are
// rejected before reaching any handler.
func WithTenantScope() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := r.Header.Get(TenantHeader)
			if raw == "" {
				http.Error(w, "tenant required", http.StatusBadRequest)
				return
			}

			tenantID, err := uuid.Parse(raw)
			if err != nil || tenantID == uuid.Nil {
				http.Error(w, "invalid tenant id", http.StatusBadRequest)
				return
			}

			scope := tenant.Scope{TenantID: tenantID}
			if rawActor := r.Header.Get(ActorHeader); rawActor != "" {
				actorID, err := uuid.Parse(rawActor)
				if err != nil {
					http.Error(w, "invalid actor id", http.StatusBadRequest)
					return
				}
				scope.ActorID = actorID
			}

			ctx := tenant.WithScope(r.Context(), scope)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
