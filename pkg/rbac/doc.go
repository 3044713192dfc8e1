// Package rbac implements docvault's role-based permission model.
//
// # Model
//
// A permission is a (module, action) pair such as documents:view. Users
// never hold permissions directly: permissions belong to roles and users
// are assigned roles. The effective permission set of a user is the union
// over all assigned roles.
//
//	users --< user_roles >-- roles --< role_permissions >-- permissions
//
// # Capability registry
//
// The Registry is the closed set of modules and actions the system knows.
// It validates writes (creating permissions, guarding routes) but is never
// consulted during resolution, so a permission row that predates a
// registry change still resolves exactly as stored.
//
// Defaults are built in and may be extended from a YAML file:
//
//	modules:
//	  - name: documents
//	    actions: [view, create, edit, delete, upload, export, manage]
//	  - name: training
//	    actions: [view, export]
//
// With DOCVAULT_WATCH_CAPABILITIES enabled the file is reloaded on change.
//
// # Resolution
//
// Resolver answers GetUserRoles, GetUserPermissions and UserHasPermission.
// Results are computed from the database on each call unless a cache is
// configured; every mutation of role permissions, role assignments or
// scope grants invalidates the whole cache. Unknown users resolve to empty
// sets rather than errors.
//
// # Guarding routes
//
//	guard := rbac.NewPermissionMiddleware(resolver, registry)
//	router.Handle("/api/roles", guard.Require("roles", "view")(handler))
//
// A request without a principal gets 401 before any permission check; a
// principal lacking the capability gets 403.
//
// # System roles
//
// The admin and viewer roles are seeded at startup and marked as system
// roles. They cannot be deleted, renamed, or have their permissions edited
// through the API.
package rbac
