//go:build integration

package rbac

import (
	"context"
	"testing"
	"time"

	"github.com/gaspipe/docvault/pkg/cache"
	"github.com/gaspipe/docvault/pkg/storage/postgres/pgtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIntegration_RolePermissionResolution(t *testing.T) {
	ctx := context.Background()
	db := pgtest.Setup(t)
	pgtest.Truncate(t, db, "user_roles", "role_permissions", "permissions", "roles", "users")

	c := cache.NewLocal(100, time.Minute, nil)
	store := NewStore(db, NewRegistry(nil, nil), c)
	resolver := NewResolver(db, c, nil)

	newUser := func(name string) int64 {
		var id int64
		require.NoError(t, db.QueryRow(`INSERT INTO users (username, password_hash) VALUES ($1, 'x') RETURNING id`, name).Scan(&id))
		return id
	}

	t.Run("a user without roles has nothing", func(t *testing.T) {
		carol := newUser("carol")
		perms, err := resolver.GetUserPermissions(ctx, carol)
		require.NoError(t, err)
		assert.Empty(t, perms)

		for _, c := range NewRegistry(nil, nil).Capabilities() {
			ok, err := resolver.UserHasPermission(ctx, carol, c.Module, c.Action)
			require.NoError(t, err)
			assert.False(t, ok, c.String())
		}
	})

	t.Run("engineer sees objects but cannot edit them", func(t *testing.T) {
		engineer, err := store.CreateRole(ctx, CreateRoleRequest{
			Name:        "Engineer",
			Permissions: []Capability{{Module: "objects", Action: "view"}},
		})
		require.NoError(t, err)

		bob := newUser("bob")
		require.NoError(t, store.AssignRole(ctx, bob, engineer.ID, nil))

		ok, err := resolver.UserHasPermission(ctx, bob, "objects", "view")
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = resolver.UserHasPermission(ctx, bob, "objects", "edit")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("permissions are the union of roles", func(t *testing.T) {
		reader, err := store.CreateRole(ctx, CreateRoleRequest{
			Name:        "Reader",
			Permissions: []Capability{{Module: "documents", Action: "view"}},
		})
		require.NoError(t, err)
		editor, err := store.CreateRole(ctx, CreateRoleRequest{
			Name:        "Editor",
			Permissions: []Capability{{Module: "documents", Action: "edit"}, {Module: "documents", Action: "view"}},
		})
		require.NoError(t, err)

		dave := newUser("dave")
		require.NoError(t, store.AssignRole(ctx, dave, reader.ID, nil))

		ok, err := resolver.UserHasPermission(ctx, dave, "documents", "edit")
		require.NoError(t, err)
		require.False(t, ok)

		// The cached answer must not survive the assignment.
		require.NoError(t, store.AssignRole(ctx, dave, editor.ID, nil))
		ok, err = resolver.UserHasPermission(ctx, dave, "documents", "edit")
		require.NoError(t, err)
		assert.True(t, ok)

		perms, err := resolver.GetUserPermissions(ctx, dave)
		require.NoError(t, err)
		caps := make([]string, 0, len(perms))
		for _, p := range perms {
			caps = append(caps, p.Module+":"+p.Action)
		}
		assert.ElementsMatch(t, []string{"documents:edit", "documents:view"}, caps)
	})

	t.Run("system roles are seeded and protected", func(t *testing.T) {
		require.NoError(t, store.SeedSystemRoles(ctx))
		id, err := store.RoleID(ctx, RoleAdmin)
		require.NoError(t, err)
		assert.ErrorIs(t, store.DeleteRole(ctx, id), ErrSystemRole)

		n, err := store.RoleMemberCount(ctx, RoleAdmin)
		require.NoError(t, err)
		assert.Zero(t, n)
	})
}
