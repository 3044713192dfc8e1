package httputil

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gaspipe/docvault/pkg/contextkeys"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteJSON(t *testing.T) {
	w := httptest.NewRecorder()

	err := WriteJSON(w, http.StatusOK, map[string]string{"message": "success"})

	assert.NoError(t, err)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Body.String(), "success")
}

func TestErrorWriters(t *testing.T) {
	tests := []struct {
		name   string
		write  func(w http.ResponseWriter)
		status int
		body   string
	}{
		{"bad request", func(w http.ResponseWriter) { WriteBadRequest(w, "bad input") }, http.StatusBadRequest, "bad input"},
		{"unauthorized", func(w http.ResponseWriter) { WriteUnauthorized(w, "login required") }, http.StatusUnauthorized, "login required"},
		{"forbidden", func(w http.ResponseWriter) { WriteForbidden(w, "denied") }, http.StatusForbidden, "denied"},
		{"not found", func(w http.ResponseWriter) { WriteNotFound(w, "no such role") }, http.StatusNotFound, "no such role"},
		{"conflict", func(w http.ResponseWriter) { WriteConflict(w, "in use") }, http.StatusConflict, "in use"},
		{"internal", func(w http.ResponseWriter) { WriteInternalError(w) }, http.StatusInternalServerError, "internal server error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			tt.write(w)
			assert.Equal(t, tt.status, w.Code)
			assert.Contains(t, w.Body.String(), tt.body)
		})
	}
}

func TestWriteNoContent(t *testing.T) {
	w := httptest.NewRecorder()
	WriteNoContent(w)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Empty(t, w.Body.String())
}

func TestParseJSONOrError(t *testing.T) {
	var dest struct {
		Name string `json:"name"`
	}

	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"engineer"}`))
	w := httptest.NewRecorder()
	require.True(t, ParseJSONOrError(w, r, &dest))
	assert.Equal(t, "engineer", dest.Name)

	r = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{not json`))
	w = httptest.NewRecorder()
	assert.False(t, ParseJSONOrError(w, r, &dest))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestParsePathInt64(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/roles/42", nil)
	r = mux.SetURLVars(r, map[string]string{"id": "42"})

	id, err := ParsePathInt64(r, "id")
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)

	r = mux.SetURLVars(r, map[string]string{"id": "abc"})
	_, err = ParsePathInt64(r, "id")
	assert.Error(t, err)

	_, err = ParsePathInt64(r, "missing")
	assert.Error(t, err)
}

func TestParseQueryHelpers(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/?limit=5&categoryId=7&dateFrom=2024-01-02&tags=a,b&tags=c&tags=", nil)

	limit, err := ParseQueryInt(r, "limit", 20)
	require.NoError(t, err)
	assert.Equal(t, 5, limit)

	offset, err := ParseQueryInt(r, "offset", 0)
	require.NoError(t, err)
	assert.Equal(t, 0, offset)

	cat, err := ParseQueryInt64Ptr(r, "categoryId")
	require.NoError(t, err)
	require.NotNil(t, cat)
	assert.Equal(t, int64(7), *cat)

	obj, err := ParseQueryInt64Ptr(r, "objectId")
	require.NoError(t, err)
	assert.Nil(t, obj)

	from, err := ParseQueryDate(r, "dateFrom")
	require.NoError(t, err)
	require.NotNil(t, from)
	assert.Equal(t, 2024, from.Year())

	assert.Equal(t, []string{"a", "b", "c"}, ParseQueryList(r, "tags"))
	assert.Nil(t, ParseQueryList(r, "absent"))

	bad := httptest.NewRequest(http.MethodGet, "/?dateTo=yesterday", nil)
	_, err = ParseQueryDate(bad, "dateTo")
	assert.Error(t, err)
}

func TestRequestIDMiddleware(t *testing.T) {
	var seen string
	h := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = contextkeys.GetRequestID(r.Context())
	}))

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("X-Request-ID", "req-1")
	h.ServeHTTP(w, r)
	assert.Equal(t, "req-1", seen)
	assert.Equal(t, "req-1", w.Header().Get("X-Request-ID"))

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.NotEmpty(t, seen)
	assert.NotEqual(t, "req-1", seen)
}

func TestRecoveryMiddleware(t *testing.T) {
	h := RecoveryMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestChainOrder(t *testing.T) {
	var order []string
	mw := func(name string) func(http.Handler) http.Handler {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	h := Chain(mw("outer"), mw("inner"))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		order = append(order, "handler")
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, []string{"outer", "inner", "handler"}, order)
}
