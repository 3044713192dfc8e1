package rbac

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gaspipe/docvault/pkg/identity"
	"github.com/stretchr/testify/assert"
)

type fakeChecker struct {
	grants map[string]bool
	err    error
	calls  int
}

func (f *fakeChecker) UserHasPermission(ctx context.Context, userID int64, module, action string) (bool, error) {
	f.calls++
	if f.err != nil {
		return false, f.err
	}
	return f.grants[module+":"+action], nil
}

func TestPermissionMiddleware_Require(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	withPrincipal := identity.WithPrincipal(context.Background(), &identity.Principal{UserID: 1})

	tests := []struct {
		name      string
		ctx       context.Context
		checker   *fakeChecker
		status    int
		wantCalls int
	}{
		{"unauthenticated", context.Background(), &fakeChecker{}, http.StatusUnauthorized, 0},
		{"denied", withPrincipal, &fakeChecker{}, http.StatusForbidden, 1},
		{"allowed", withPrincipal, &fakeChecker{grants: map[string]bool{"documents:view": true}}, http.StatusOK, 1},
		{"check failed", withPrincipal, &fakeChecker{err: errors.New("db down")}, http.StatusInternalServerError, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			guard := NewPermissionMiddleware(tt.checker, NewRegistry(quietLogger(), nil))
			handler := guard.Require("documents", "view")(ok)

			req := httptest.NewRequest(http.MethodGet, "/api/documents", nil).WithContext(tt.ctx)
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, tt.wantCalls, tt.checker.calls)
		})
	}
}

func TestPermissionMiddleware_UnregisteredCapabilityPanics(t *testing.T) {
	guard := NewPermissionMiddleware(&fakeChecker{}, NewRegistry(quietLogger(), nil))
	assert.Panics(t, func() { guard.Require("documents", "approve") })

	unchecked := NewPermissionMiddleware(&fakeChecker{}, nil)
	assert.NotPanics(t, func() { unchecked.Require("documents", "approve") })
}
