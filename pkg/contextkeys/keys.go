// Package contextkeys provides centralized context key definitions
//
// All context keys used across the service are defined here so handlers,
// middleware and the audit trail agree on names and value types.
//
// USAGE PATTERN:
//
//	import "github.com/gaspipe/docvault/pkg/contextkeys"
//	ctx = contextkeys.WithPrincipal(ctx, principal)
//	p, ok := ctx.Value(contextkeys.PrincipalKey).(*identity.Principal)
package contextkeys

import "context"

// Key is the type for context keys to prevent collisions
type Key string

const (
	// PrincipalKey contains *identity.Principal
	// Set by: identity.AuthMiddleware after bearer token validation
	// Required by: rbac.PermissionMiddleware, every scoped listing
	PrincipalKey Key = "principal"

	// RequestIDKey contains request ID string (UUID)
	// Set by: httputil.RequestIDMiddleware
	// Used by: Logger, audit trail
	RequestIDKey Key = "request_id"

	// UserIDKey contains the authenticated user id formatted as a string
	// Set by: identity.AuthMiddleware
	// Used by: Logger
	UserIDKey Key = "user_id"

	// LoggerKey contains *observability.Logger
	LoggerKey Key = "logger"

	// ClientInfoKey contains audit.ClientInfo (IP and user agent)
	// Set by: audit.ClientInfoMiddleware
	ClientInfoKey Key = "client_info"
)

// WithPrincipal adds the authenticated principal to the context
func WithPrincipal(ctx context.Context, principal interface{}) context.Context {
	return context.WithValue(ctx, PrincipalKey, principal)
}

// WithRequestID adds request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// WithUserID adds user ID to the context
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}

// WithLogger adds logger to the context
func WithLogger(ctx context.Context, logger interface{}) context.Context {
	return context.WithValue(ctx, LoggerKey, logger)
}

// WithClientInfo adds client connection details to the context
func WithClientInfo(ctx context.Context, info interface{}) context.Context {
	return context.WithValue(ctx, ClientInfoKey, info)
}

// GetRequestID retrieves request ID from context
func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		return requestID
	}
	return ""
}

// GetUserID retrieves user ID from context
func GetUserID(ctx context.Context) string {
	if userID, ok := ctx.Value(UserIDKey).(string); ok {
		return userID
	}
	return ""
}
