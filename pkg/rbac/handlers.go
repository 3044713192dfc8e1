package rbac

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gaspipe/docvault/pkg/audit"
	"github.com/gaspipe/docvault/pkg/httputil"
	"github.com/gaspipe/docvault/pkg/identity"
	"github.com/gaspipe/docvault/pkg/observability"
	"github.com/gorilla/mux"
)

// Handlers provides HTTP handlers for role administration
type Handlers struct {
	store    *Store
	resolver *Resolver
	registry *Registry
	users    identity.UserLookup
	recorder *audit.Recorder
}

// NewHandlers creates new RBAC handlers
func NewHandlers(store *Store, resolver *Resolver, registry *Registry, users identity.UserLookup, recorder *audit.Recorder) *Handlers {
	if recorder == nil {
		recorder = audit.NewRecorder(nil, nil, nil)
	}
	return &Handlers{store: store, resolver: resolver, registry: registry, users: users, recorder: recorder}
}

// RegisterRoutes registers all RBAC routes
func (h *Handlers) RegisterRoutes(router *mux.Router, guard httputil.Guard) {
	router.HandleFunc("/api/auth/me", h.Me).Methods("GET")

	// Role management
	router.Handle("/api/roles", httputil.Protect(guard, "roles", "view", h.ListRoles)).Methods("GET")
	router.Handle("/api/roles", httputil.Protect(guard, "roles", "create", h.CreateRole)).Methods("POST")
	router.Handle("/api/roles/{id}", httputil.Protect(guard, "roles", "view", h.GetRole)).Methods("GET")
	router.Handle("/api/roles/{id}", httputil.Protect(guard, "roles", "edit", h.UpdateRole)).Methods("PUT")
	router.Handle("/api/roles/{id}", httputil.Protect(guard, "roles", "delete", h.DeleteRole)).Methods("DELETE")

	// Role permissions
	router.Handle("/api/roles/{id}/permissions", httputil.Protect(guard, "roles", "manage", h.SetRolePermissions)).Methods("PUT")
	router.Handle("/api/roles/{id}/permissions", httputil.Protect(guard, "roles", "manage", h.AddRolePermission)).Methods("POST")
	router.Handle("/api/roles/{id}/permissions/{permissionId}", httputil.Protect(guard, "roles", "manage", h.RemoveRolePermission)).Methods("DELETE")

	// Permission catalogue
	router.Handle("/api/permissions", httputil.Protect(guard, "roles", "view", h.ListPermissions)).Methods("GET")
	router.Handle("/api/permissions", httputil.Protect(guard, "roles", "manage", h.CreatePermission)).Methods("POST")
	router.Handle("/api/capabilities", httputil.Protect(guard, "roles", "view", h.ListCapabilities)).Methods("GET")

	// User role assignments
	router.Handle("/api/users/{id}/roles", httputil.Protect(guard, "roles", "view", h.GetUserRoles)).Methods("GET")
	router.Handle("/api/users/{id}/roles", httputil.Protect(guard, "roles", "manage", h.AssignRole)).Methods("POST")
	router.Handle("/api/users/{id}/roles/{roleId}", httputil.Protect(guard, "roles", "manage", h.RevokeRole)).Methods("DELETE")
	router.Handle("/api/users/{id}/permissions", httputil.Protect(guard, "roles", "view", h.GetUserPermissions)).Methods("GET")
}

// MeResponse describes the caller
type MeResponse struct {
	User        *identity.User `json:"user"`
	Roles       []Role         `json:"roles"`
	Permissions []Permission   `json:"permissions"`
}

// Me returns the authenticated user with their roles and permissions
func (h *Handlers) Me(w http.ResponseWriter, r *http.Request) {
	principal, ok := identity.PrincipalFromContext(r.Context())
	if !ok {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}

	user, err := h.users.GetUser(r.Context(), principal.UserID)
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			httputil.WriteUnauthorized(w, "authentication required")
			return
		}
		writeError(w, r, err)
		return
	}
	roles, err := h.resolver.GetUserRoles(r.Context(), principal.UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	perms, err := h.resolver.GetUserPermissions(r.Context(), principal.UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	httputil.WriteSuccess(w, MeResponse{User: user, Roles: roles, Permissions: perms})
}

// ListRoles lists all roles
func (h *Handlers) ListRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := h.store.ListRoles(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, httputil.ListResponse{Items: roles, Total: int64(len(roles))})
}

// GetRole returns one role with its permissions
func (h *Handlers) GetRole(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	role, err := h.store.GetRole(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, role)
}

// CreateRole creates a custom role
func (h *Handlers) CreateRole(w http.ResponseWriter, r *http.Request) {
	var req CreateRoleRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	role, err := h.store.CreateRole(r.Context(), req)
	entry := audit.Entry{
		UserID:   identity.ActorID(r.Context()),
		Action:   audit.ActionCreate,
		Resource: audit.ResourceRole,
		Details:  map[string]interface{}{"name": req.Name, "permissions": capabilityNames(req.Permissions)},
	}
	if role != nil {
		entry.ResourceID = strconv.FormatInt(role.ID, 10)
	}
	if outcome := h.recorder.Record(r.Context(), entry, err); !outcome.OK() {
		writeError(w, r, err)
		return
	}
	httputil.WriteCreated(w, role)
}

// UpdateRole changes role metadata
func (h *Handlers) UpdateRole(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	var req UpdateRoleRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	role, err := h.store.UpdateRole(r.Context(), id, req)
	outcome := h.recorder.Record(r.Context(), audit.Entry{
		UserID:     identity.ActorID(r.Context()),
		Action:     audit.ActionUpdate,
		Resource:   audit.ResourceRole,
		ResourceID: strconv.FormatInt(id, 10),
	}, err)
	if !outcome.OK() {
		writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, role)
}

// DeleteRole deletes a custom role
func (h *Handlers) DeleteRole(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	err := h.store.DeleteRole(r.Context(), id)
	outcome := h.recorder.Record(r.Context(), audit.Entry{
		UserID:     identity.ActorID(r.Context()),
		Action:     audit.ActionDelete,
		Resource:   audit.ResourceRole,
		ResourceID: strconv.FormatInt(id, 10),
	}, err)
	if !outcome.OK() {
		writeError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

type setPermissionsRequest struct {
	Permissions []Capability `json:"permissions"`
}

// SetRolePermissions replaces the permissions of a custom role
func (h *Handlers) SetRolePermissions(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	var req setPermissionsRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	perms, err := h.store.SetRolePermissions(r.Context(), id, req.Permissions)
	outcome := h.recorder.Record(r.Context(), audit.Entry{
		UserID:     identity.ActorID(r.Context()),
		Action:     audit.ActionSetPermissions,
		Resource:   audit.ResourceRole,
		ResourceID: strconv.FormatInt(id, 10),
		Details:    map[string]interface{}{"permissions": capabilityNames(req.Permissions)},
	}, err)
	if !outcome.OK() {
		writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, perms)
}

type addPermissionRequest struct {
	PermissionID int64 `json:"permission_id"`
}

// AddRolePermission grants a stored permission to a role
func (h *Handlers) AddRolePermission(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	var req addPermissionRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequirePositive(w, req.PermissionID, "permission_id") {
		return
	}

	err := h.store.AddRolePermission(r.Context(), id, req.PermissionID)
	outcome := h.recorder.Record(r.Context(), audit.Entry{
		UserID:     identity.ActorID(r.Context()),
		Action:     audit.ActionSetPermissions,
		Resource:   audit.ResourceRole,
		ResourceID: strconv.FormatInt(id, 10),
		Details:    map[string]interface{}{"added_permission_id": req.PermissionID},
	}, err)
	if !outcome.OK() {
		writeError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

// RemoveRolePermission revokes a permission from a role
func (h *Handlers) RemoveRolePermission(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	permissionID, ok := httputil.ParsePathInt64OrError(w, r, "permissionId")
	if !ok {
		return
	}

	err := h.store.RemoveRolePermission(r.Context(), id, permissionID)
	outcome := h.recorder.Record(r.Context(), audit.Entry{
		UserID:     identity.ActorID(r.Context()),
		Action:     audit.ActionSetPermissions,
		Resource:   audit.ResourceRole,
		ResourceID: strconv.FormatInt(id, 10),
		Details:    map[string]interface{}{"removed_permission_id": permissionID},
	}, err)
	if !outcome.OK() {
		writeError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

// ListPermissions lists stored permission rows
func (h *Handlers) ListPermissions(w http.ResponseWriter, r *http.Request) {
	perms, err := h.store.ListPermissions(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, httputil.ListResponse{Items: perms, Total: int64(len(perms))})
}

type createPermissionRequest struct {
	Module      string `json:"module"`
	Action      string `json:"action"`
	Description string `json:"description"`
}

// CreatePermission stores a registered capability
func (h *Handlers) CreatePermission(w http.ResponseWriter, r *http.Request) {
	var req createPermissionRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	perm, err := h.store.CreatePermission(r.Context(), Capability{Module: req.Module, Action: req.Action}, req.Description)
	entry := audit.Entry{
		UserID:   identity.ActorID(r.Context()),
		Action:   audit.ActionCreate,
		Resource: audit.ResourcePermission,
		Details:  map[string]interface{}{"module": req.Module, "action": req.Action},
	}
	if perm != nil {
		entry.ResourceID = strconv.FormatInt(perm.ID, 10)
	}
	if outcome := h.recorder.Record(r.Context(), entry, err); !outcome.OK() {
		writeError(w, r, err)
		return
	}
	httputil.WriteCreated(w, perm)
}

// ListCapabilities lists the registered capabilities
func (h *Handlers) ListCapabilities(w http.ResponseWriter, r *http.Request) {
	caps := h.registry.Capabilities()
	httputil.WriteSuccess(w, httputil.ListResponse{Items: caps, Total: int64(len(caps))})
}

// GetUserRoles lists a user's roles
func (h *Handlers) GetUserRoles(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	roles, err := h.resolver.GetUserRoles(r.Context(), userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, httputil.ListResponse{Items: roles, Total: int64(len(roles))})
}

// GetUserPermissions lists a user's effective permissions
func (h *Handlers) GetUserPermissions(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	perms, err := h.resolver.GetUserPermissions(r.Context(), userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, httputil.ListResponse{Items: perms, Total: int64(len(perms))})
}

type assignRoleRequest struct {
	RoleID int64 `json:"role_id"`
}

// AssignRole assigns a role to a user
func (h *Handlers) AssignRole(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	var req assignRoleRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequirePositive(w, req.RoleID, "role_id") {
		return
	}

	actor := identity.ActorID(r.Context())
	err := h.store.AssignRole(r.Context(), userID, req.RoleID, actor)
	outcome := h.recorder.Record(r.Context(), audit.Entry{
		UserID:     actor,
		Action:     audit.ActionAssignRole,
		Resource:   audit.ResourceUser,
		ResourceID: strconv.FormatInt(userID, 10),
		Details:    map[string]interface{}{"role_id": req.RoleID},
	}, err)
	if !outcome.OK() {
		writeError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

// RevokeRole removes a role from a user
func (h *Handlers) RevokeRole(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	roleID, ok := httputil.ParsePathInt64OrError(w, r, "roleId")
	if !ok {
		return
	}

	err := h.store.RevokeRole(r.Context(), userID, roleID)
	outcome := h.recorder.Record(r.Context(), audit.Entry{
		UserID:     identity.ActorID(r.Context()),
		Action:     audit.ActionRevokeRole,
		Resource:   audit.ResourceUser,
		ResourceID: strconv.FormatInt(userID, 10),
		Details:    map[string]interface{}{"role_id": roleID},
	}, err)
	if !outcome.OK() {
		writeError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

func capabilityNames(caps []Capability) []string {
	names := make([]string, len(caps))
	for i, c := range caps {
		names[i] = c.String()
	}
	return names
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		httputil.WriteNotFound(w, err.Error())
	case errors.Is(err, ErrAlreadyExists):
		httputil.WriteConflict(w, err.Error())
	case errors.Is(err, ErrSystemRole):
		httputil.WriteForbidden(w, err.Error())
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrUnknownCapability):
		httputil.WriteBadRequest(w, err.Error())
	default:
		observability.FromContext(r.Context()).WithError(err).Error("rbac request failed")
		httputil.WriteInternalError(w)
	}
}
