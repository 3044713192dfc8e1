package rbac

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gaspipe/docvault/pkg/audit"
	"github.com/gaspipe/docvault/pkg/identity"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryAudit struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (m *memoryAudit) Log(ctx context.Context, entry *audit.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, *entry)
	return nil
}

func (m *memoryAudit) Close() error { return nil }

type allowGuard struct{}

func (allowGuard) Require(module, action string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler { return next }
}

type fakeUsers map[int64]*identity.User

func (f fakeUsers) GetUser(ctx context.Context, id int64) (*identity.User, error) {
	if u, ok := f[id]; ok {
		return u, nil
	}
	return nil, identity.ErrNotFound
}

func setupHandlers(t *testing.T) (*mux.Router, sqlmock.Sqlmock, *memoryAudit) {
	db, mock := setupMockDB(t)
	registry := NewRegistry(quietLogger(), nil)
	trail := &memoryAudit{}
	users := fakeUsers{1: {ID: 1, Username: "ivanov", Status: identity.StatusActive}}

	h := NewHandlers(NewStore(db, registry, nil), NewResolver(db, nil, nil), registry, users,
		audit.NewRecorder(trail, nil, nil))
	router := mux.NewRouter()
	h.RegisterRoutes(router, allowGuard{})
	return router, mock, trail
}

func serve(router http.Handler, method, path string, body interface{}, principal *identity.Principal) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	if principal != nil {
		req = req.WithContext(identity.WithPrincipal(req.Context(), principal))
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestHandlers_Me(t *testing.T) {
	router, mock, _ := setupHandlers(t)

	mock.ExpectQuery(rolesQuery).WithArgs(int64(1)).WillReturnRows(roleRows(Role{ID: 2, Name: "viewer", IsSystem: true}))
	mock.ExpectQuery(rolesQuery).WithArgs(int64(1)).WillReturnRows(roleRows(Role{ID: 2, Name: "viewer", IsSystem: true}))
	mock.ExpectQuery(permsQuery).WillReturnRows(permissionRows(Permission{ID: 1, Module: "documents", Action: "view"}))

	w := serve(router, http.MethodGet, "/api/auth/me", nil, &identity.Principal{UserID: 1})
	require.Equal(t, http.StatusOK, w.Code)

	var resp MeResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "ivanov", resp.User.Username)
	require.Len(t, resp.Roles, 1)
	require.Len(t, resp.Permissions, 1)
	assert.Equal(t, "documents", resp.Permissions[0].Module)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHandlers_MeRequiresPrincipal(t *testing.T) {
	router, _, _ := setupHandlers(t)
	w := serve(router, http.MethodGet, "/api/auth/me", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestHandlers_SetPermissionsOnSystemRole(t *testing.T) {
	router, mock, trail := setupHandlers(t)

	mock.ExpectBegin()
	mock.ExpectQuery(isSystemQuery).WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"is_system"}).AddRow(true))
	mock.ExpectRollback()

	w := serve(router, http.MethodPut, "/api/roles/1/permissions",
		setPermissionsRequest{Permissions: []Capability{{Module: "documents", Action: "view"}}},
		&identity.Principal{UserID: 1})
	assert.Equal(t, http.StatusForbidden, w.Code)

	require.Len(t, trail.entries, 1)
	entry := trail.entries[0]
	assert.Equal(t, audit.ActionSetPermissions, entry.Action)
	assert.False(t, entry.Success)
	assert.Equal(t, []string{"documents:view"}, entry.Details["permissions"])
}

func TestHandlers_SetPermissionsUnknownCapability(t *testing.T) {
	router, _, _ := setupHandlers(t)

	w := serve(router, http.MethodPut, "/api/roles/4/permissions",
		setPermissionsRequest{Permissions: []Capability{{Module: "reports", Action: "view"}}}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandlers_AssignRole(t *testing.T) {
	router, mock, trail := setupHandlers(t)
	actor := int64(1)

	mock.ExpectExec("INSERT INTO user_roles").WithArgs(int64(5), int64(2), &actor).
		WillReturnResult(sqlmock.NewResult(0, 1))

	w := serve(router, http.MethodPost, "/api/users/5/roles", assignRoleRequest{RoleID: 2}, &identity.Principal{UserID: 1})
	assert.Equal(t, http.StatusNoContent, w.Code)

	require.Len(t, trail.entries, 1)
	assert.Equal(t, audit.ActionAssignRole, trail.entries[0].Action)
	assert.Equal(t, "5", trail.entries[0].ResourceID)
	assert.True(t, trail.entries[0].Success)
}

func TestHandlers_ListCapabilities(t *testing.T) {
	router, _, _ := setupHandlers(t)

	w := serve(router, http.MethodGet, "/api/capabilities", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Items []Capability `json:"items"`
		Total int          `json:"total"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, len(resp.Items), resp.Total)
	assert.Contains(t, resp.Items, Capability{Module: "documents", Action: "view"})
}
