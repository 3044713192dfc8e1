package orgs

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

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

func setupHandlers(t *testing.T) (*mux.Router, sqlmock.Sqlmock, *memoryAudit) {
	db, mock := setupMockDB(t)
	trail := &memoryAudit{}
	h := NewHandlers(NewStore(db, nil), audit.NewRecorder(trail, nil, nil))
	router := mux.NewRouter()
	h.RegisterRoutes(router, allowGuard{})
	return router, mock, trail
}

func serve(router http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req = req.WithContext(identity.WithPrincipal(req.Context(), &identity.Principal{UserID: 1, Username: "admin"}))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestHandlers_CreateUmg(t *testing.T) {
	router, mock, trail := setupHandlers(t)

	mock.ExpectQuery("INSERT INTO umgs").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(3, time.Now()))

	w := serve(router, http.MethodPost, "/api/umgs", CreateUmgRequest{Name: "UMG North", Code: "N"})
	require.Equal(t, http.StatusCreated, w.Code)

	require.Len(t, trail.entries, 1)
	entry := trail.entries[0]
	assert.Equal(t, audit.ActionCreate, entry.Action)
	assert.Equal(t, audit.ResourceUmg, entry.Resource)
	assert.Equal(t, "3", entry.ResourceID)
	assert.True(t, entry.Success)
	require.NotNil(t, entry.UserID)
	assert.Equal(t, int64(1), *entry.UserID)
}

func TestHandlers_DeleteUmgInUse(t *testing.T) {
	router, mock, trail := setupHandlers(t)

	mock.ExpectQuery("SELECT").WithArgs(int64(3)).
		WillReturnRows(sqlmock.NewRows([]string{"services", "objects", "documents", "grants"}).AddRow(1, 0, 0, 0))

	w := serve(router, http.MethodDelete, "/api/umgs/3", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	require.Len(t, trail.entries, 1)
	assert.False(t, trail.entries[0].Success)
}

func TestHandlers_ListServicesByUmg(t *testing.T) {
	router, mock, _ := setupHandlers(t)

	mock.ExpectQuery("FROM services WHERE umg_id").WithArgs(int64(2)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "umg_id", "name", "code", "description", "created_at"}).
			AddRow(5, 2, "LPDS", "L1", "", time.Now()))

	w := serve(router, http.MethodGet, "/api/umgs/2/services", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Items []Service `json:"items"`
		Total int64     `json:"total"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, int64(1), resp.Total)
	assert.Equal(t, "LPDS", resp.Items[0].Name)
}

func TestHandlers_ListServicesBadFilter(t *testing.T) {
	router, _, _ := setupHandlers(t)
	w := serve(router, http.MethodGet, "/api/services?umg_id=abc", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandlers_MoveDepartmentCycle(t *testing.T) {
	router, mock, trail := setupHandlers(t)

	a := Department{ID: 1, ServiceID: 1, Name: "A"}
	b := Department{ID: 2, ServiceID: 1, ParentID: ptr(1), Level: 1, Name: "B"}
	expectServiceTree(mock, a, a, b)
	mock.ExpectRollback()

	w := serve(router, http.MethodPut, "/api/departments/1/parent", map[string]int64{"parent_id": 2})
	assert.Equal(t, http.StatusConflict, w.Code)
	require.Len(t, trail.entries, 1)
	assert.Equal(t, audit.ResourceDepartment, trail.entries[0].Resource)
	assert.False(t, trail.entries[0].Success)
}

func TestHandlers_GrantServiceAccess(t *testing.T) {
	router, mock, trail := setupHandlers(t)

	mock.ExpectExec("INSERT INTO user_service_access").WithArgs(int64(7), int64(2), int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	w := serve(router, http.MethodPost, "/api/users/7/services", map[string]int64{"service_id": 2})
	assert.Equal(t, http.StatusNoContent, w.Code)
	require.Len(t, trail.entries, 1)
	assert.Equal(t, audit.ActionGrantAccess, trail.entries[0].Action)
	assert.Equal(t, "7", trail.entries[0].ResourceID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHandlers_GrantRequiresTarget(t *testing.T) {
	router, _, trail := setupHandlers(t)

	w := serve(router, http.MethodPost, "/api/users/7/umgs", map[string]int64{"service_id": 2})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, trail.entries)
}

func TestHandlers_RevokeMissingGrant(t *testing.T) {
	router, mock, trail := setupHandlers(t)

	mock.ExpectExec("DELETE FROM user_umg_access").WithArgs(int64(7), int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	w := serve(router, http.MethodDelete, "/api/users/7/umgs/3", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	require.Len(t, trail.entries, 1)
	assert.Equal(t, audit.ActionRevokeAccess, trail.entries[0].Action)
}

func TestHandlers_GetUserAccess(t *testing.T) {
	router, mock, _ := setupHandlers(t)

	mock.ExpectQuery("SELECT service_id FROM user_service_access").WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"service_id"}).AddRow(2))
	mock.ExpectQuery("SELECT umg_id FROM user_umg_access").WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"umg_id"}).AddRow(1))

	w := serve(router, http.MethodGet, "/api/users/7/access", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var access UserAccess
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &access))
	assert.Equal(t, []int64{2}, access.ServiceIDs)
	assert.Equal(t, []int64{1}, access.UmgIDs)
}
