package rbac

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gaspipe/docvault/pkg/cache"
	"github.com/gaspipe/docvault/pkg/observability"
	"github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	roleCols       = []string{"id", "name", "description", "is_system", "created_at", "updated_at"}
	permissionCols = []string{"id", "module", "action", "description"}
	rolesQuery     = regexp.QuoteMeta("JOIN user_roles ur ON ur.role_id = r.id")
	permsQuery     = regexp.QuoteMeta("WHERE rp.role_id = ANY($1)")
)

func setupMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db, mock
}

func roleRows(roles ...Role) *sqlmock.Rows {
	rows := sqlmock.NewRows(roleCols)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for _, r := range roles {
		rows.AddRow(r.ID, r.Name, r.Description, r.IsSystem, now, now)
	}
	return rows
}

func permissionRows(perms ...Permission) *sqlmock.Rows {
	rows := sqlmock.NewRows(permissionCols)
	for _, p := range perms {
		rows.AddRow(p.ID, p.Module, p.Action, p.Description)
	}
	return rows
}

func TestResolver_UnknownUserHasNothing(t *testing.T) {
	db, mock := setupMockDB(t)
	resolver := NewResolver(db, nil, nil)

	mock.ExpectQuery(rolesQuery).WithArgs(int64(404)).WillReturnRows(roleRows())

	perms, err := resolver.GetUserPermissions(context.Background(), 404)
	require.NoError(t, err)
	assert.Empty(t, perms)
	assert.NotNil(t, perms)

	// the permission union query must not run for a user without roles
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestResolver_PermissionsAreUnionOfRoles(t *testing.T) {
	db, mock := setupMockDB(t)
	resolver := NewResolver(db, nil, nil)

	mock.ExpectQuery(rolesQuery).WithArgs(int64(1)).
		WillReturnRows(roleRows(Role{ID: 3, Name: "engineer"}, Role{ID: 5, Name: "reader"}))
	mock.ExpectQuery(permsQuery).WithArgs(pq.Array([]int64{3, 5})).
		WillReturnRows(permissionRows(
			Permission{ID: 10, Module: "documents", Action: "edit"},
			Permission{ID: 11, Module: "documents", Action: "view"},
		))

	perms, err := resolver.GetUserPermissions(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, perms, 2)
	assert.Equal(t, "documents:edit", perms[0].String())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestResolver_GetUserRoles(t *testing.T) {
	db, mock := setupMockDB(t)
	resolver := NewResolver(db, nil, nil)

	mock.ExpectQuery(rolesQuery).WithArgs(int64(2)).
		WillReturnRows(roleRows(Role{ID: 1, Name: "admin", IsSystem: true}))
	mock.ExpectQuery(rolesQuery).WithArgs(int64(3)).
		WillReturnError(errors.New("connection refused"))

	roles, err := resolver.GetUserRoles(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, roles, 1)
	assert.True(t, roles[0].IsSystem)

	_, err = resolver.GetUserRoles(context.Background(), 3)
	assert.Error(t, err)
}

func TestResolver_UserHasPermissionIsExact(t *testing.T) {
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	ctx := context.Background()

	tests := []struct {
		module, action string
		want           bool
	}{
		{"documents", "view", true},
		{"Documents", "view", false},
		{"documents", "VIEW", false},
		{"documents", "edit", false},
		{"objects", "view", false},
	}
	for _, tt := range tests {
		t.Run(tt.module+":"+tt.action, func(t *testing.T) {
			db, mock := setupMockDB(t)
			resolver := NewResolver(db, nil, metrics)

			mock.ExpectQuery(rolesQuery).WithArgs(int64(1)).WillReturnRows(roleRows(Role{ID: 2, Name: "viewer"}))
			mock.ExpectQuery(permsQuery).WillReturnRows(permissionRows(Permission{ID: 1, Module: "documents", Action: "view"}))

			got, err := resolver.UserHasPermission(ctx, 1, tt.module, tt.action)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.PermissionChecksTotal.WithLabelValues("documents", "view", "allowed")))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.PermissionChecksTotal.WithLabelValues("Documents", "view", "denied")))
}

func TestResolver_UserHasPermissionFailsClosed(t *testing.T) {
	db, mock := setupMockDB(t)
	resolver := NewResolver(db, nil, nil)

	mock.ExpectQuery(rolesQuery).WillReturnError(errors.New("timeout"))

	allowed, err := resolver.UserHasPermission(context.Background(), 1, "documents", "view")
	assert.Error(t, err)
	assert.False(t, allowed)
}

func TestResolver_UsesCacheUntilInvalidated(t *testing.T) {
	db, mock := setupMockDB(t)
	local := cache.NewLocal(64, time.Minute, nil)
	resolver := NewResolver(db, local, nil)
	ctx := context.Background()

	mock.ExpectQuery(rolesQuery).WithArgs(int64(1)).WillReturnRows(roleRows(Role{ID: 2, Name: "viewer"}))
	mock.ExpectQuery(permsQuery).WillReturnRows(permissionRows(Permission{ID: 1, Module: "documents", Action: "view"}))

	for i := 0; i < 3; i++ {
		ok, err := resolver.UserHasPermission(ctx, 1, "documents", "view")
		require.NoError(t, err)
		assert.True(t, ok)
	}
	require.NoError(t, mock.ExpectationsWereMet())

	// a revocation invalidates the cache and the next check sees it
	require.NoError(t, local.Invalidate(ctx))
	mock.ExpectQuery(rolesQuery).WithArgs(int64(1)).WillReturnRows(roleRows())

	ok, err := resolver.UserHasPermission(ctx, 1, "documents", "view")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}
