package rbac

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/gaspipe/docvault/pkg/cache"
	"github.com/gaspipe/docvault/pkg/observability"
	"github.com/lib/pq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Resolver computes a user's roles and effective permissions
type Resolver struct {
	db      *sql.DB
	cache   cache.Cache
	metrics *observability.Metrics
	tracer  trace.Tracer
}

// NewResolver creates a resolver. c and metrics may be nil.
func NewResolver(db *sql.DB, c cache.Cache, metrics *observability.Metrics) *Resolver {
	if c == nil {
		c = cache.NewNoop()
	}
	return &Resolver{
		db:      db,
		cache:   c,
		metrics: metrics,
		tracer:  otel.Tracer("github.com/gaspipe/docvault/pkg/rbac"),
	}
}

// GetUserRoles returns every role assigned to the user. Unknown users have none.
func (r *Resolver) GetUserRoles(ctx context.Context, userID int64) ([]Role, error) {
	return cache.Fetch(ctx, r.cache, cache.UserKey(cache.KindRoles, userID), func(ctx context.Context) ([]Role, error) {
		return r.loadUserRoles(ctx, userID)
	})
}

func (r *Resolver) loadUserRoles(ctx context.Context, userID int64) ([]Role, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT r.id, r.name, r.description, r.is_system, r.created_at, r.updated_at
		FROM roles r
		JOIN user_roles ur ON ur.role_id = r.id
		WHERE ur.user_id = $1
		ORDER BY r.name`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get user roles: %w", err)
	}
	defer rows.Close()

	roles := make([]Role, 0)
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan role: %w", err)
		}
		roles = append(roles, *role)
	}
	return roles, rows.Err()
}

// GetUserPermissions returns the union of permissions over the user's roles
func (r *Resolver) GetUserPermissions(ctx context.Context, userID int64) ([]Permission, error) {
	return cache.Fetch(ctx, r.cache, cache.UserKey(cache.KindPermissions, userID), func(ctx context.Context) ([]Permission, error) {
		return r.loadUserPermissions(ctx, userID)
	})
}

func (r *Resolver) loadUserPermissions(ctx context.Context, userID int64) ([]Permission, error) {
	roles, err := r.GetUserRoles(ctx, userID)
	if err != nil {
		return nil, err
	}
	// No roles means no permissions; skip the union query entirely.
	if len(roles) == 0 {
		return []Permission{}, nil
	}

	roleIDs := make([]int64, len(roles))
	for i, role := range roles {
		roleIDs[i] = role.ID
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT DISTINCT p.id, p.module, p.action, p.description
		FROM permissions p
		JOIN role_permissions rp ON rp.permission_id = p.id
		WHERE rp.role_id = ANY($1)
		ORDER BY p.module, p.action, p.id`, pq.Array(roleIDs))
	if err != nil {
		return nil, fmt.Errorf("failed to get user permissions: %w", err)
	}
	defer rows.Close()
	return scanPermissions(rows)
}

// UserHasPermission reports whether any of the user's roles grants exactly
// (module, action). Matching is case-sensitive.
func (r *Resolver) UserHasPermission(ctx context.Context, userID int64, module, action string) (bool, error) {
	ctx, span := r.tracer.Start(ctx, "rbac.UserHasPermission", trace.WithAttributes(
		attribute.Int64("user.id", userID),
		attribute.String("permission.module", module),
		attribute.String("permission.action", action),
	))
	defer span.End()

	perms, err := r.GetUserPermissions(ctx, userID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "permission lookup failed")
		r.record(module, action, "error")
		return false, err
	}

	allowed := false
	for _, p := range perms {
		if p.Module == module && p.Action == action {
			allowed = true
			break
		}
	}

	span.SetAttributes(attribute.Bool("permission.allowed", allowed))
	if allowed {
		r.record(module, action, "allowed")
	} else {
		r.record(module, action, "denied")
	}
	return allowed, nil
}

func (r *Resolver) record(module, action, result string) {
	if r.metrics != nil {
		r.metrics.PermissionChecksTotal.WithLabelValues(module, action, result).Inc()
	}
}
