package rbac

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gaspipe/docvault/pkg/httputil"
	"github.com/gaspipe/docvault/pkg/identity"
	"github.com/gaspipe/docvault/pkg/observability"
)

// Checker answers single capability checks
type Checker interface {
	UserHasPermission(ctx context.Context, userID int64, module, action string) (bool, error)
}

// PermissionMiddleware guards routes by capability
type PermissionMiddleware struct {
	checker  Checker
	registry *Registry
}

// NewPermissionMiddleware creates a guard. registry may be nil to skip
// route validation.
func NewPermissionMiddleware(checker Checker, registry *Registry) *PermissionMiddleware {
	return &PermissionMiddleware{checker: checker, registry: registry}
}

// Require returns middleware admitting only principals holding module:action.
// Guarding a route with an unregistered capability is a programming error
// and panics at registration time.
func (pm *PermissionMiddleware) Require(module, action string) func(http.Handler) http.Handler {
	if pm.registry != nil && !pm.registry.Valid(module, action) {
		panic(fmt.Sprintf("rbac: route guarded by unregistered capability %s:%s", module, action))
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, ok := identity.PrincipalFromContext(r.Context())
			if !ok {
				httputil.WriteUnauthorized(w, "authentication required")
				return
			}

			allowed, err := pm.checker.UserHasPermission(r.Context(), principal.UserID, module, action)
			if err != nil {
				observability.FromContext(r.Context()).WithError(err).
					WithField("capability", module+":"+action).
					Error("permission check failed")
				httputil.WriteInternalError(w)
				return
			}
			if !allowed {
				httputil.WriteForbidden(w, "insufficient permissions")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
