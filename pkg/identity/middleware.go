package identity

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gaspipe/docvault/pkg/contextkeys"
	"github.com/gaspipe/docvault/pkg/httputil"
	"github.com/gaspipe/docvault/pkg/observability"
)

// UserLookup loads the account named by a token
type UserLookup interface {
	GetUser(ctx context.Context, id int64) (*User, error)
}

// AuthMiddleware authenticates requests by bearer token
type AuthMiddleware struct {
	tokens *TokenManager
	users  UserLookup
}

// NewAuthMiddleware creates a new authentication middleware
func NewAuthMiddleware(tokens *TokenManager, users UserLookup) *AuthMiddleware {
	return &AuthMiddleware{tokens: tokens, users: users}
}

// Handler rejects requests without a valid token for an active account
// with 401 and otherwise places the principal on the request context.
func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			httputil.WriteUnauthorized(w, "missing authorization header")
			return
		}

		scheme, token, ok := strings.Cut(authHeader, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") {
			httputil.WriteUnauthorized(w, "invalid authorization header format")
			return
		}

		principal, err := m.tokens.Parse(token)
		if err != nil {
			httputil.WriteUnauthorized(w, "invalid or expired token")
			return
		}

		// Status is re-checked on every request so suspending an account
		// takes effect before its tokens expire.
		user, err := m.users.GetUser(r.Context(), principal.UserID)
		if errors.Is(err, ErrNotFound) {
			httputil.WriteUnauthorized(w, "invalid or expired token")
			return
		}
		if err != nil {
			observability.FromContext(r.Context()).WithError(err).Error("failed to load authenticated user")
			httputil.WriteInternalError(w)
			return
		}
		if user.Status != StatusActive {
			httputil.WriteUnauthorized(w, "account is not active")
			return
		}

		principal.Username = user.Username
		ctx := WithPrincipal(r.Context(), principal)
		ctx = contextkeys.WithUserID(ctx, strconv.FormatInt(principal.UserID, 10))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
