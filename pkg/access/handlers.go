package access

import (
	"net/http"

	"github.com/gaspipe/docvault/pkg/documents"
	"github.com/gaspipe/docvault/pkg/httputil"
	"github.com/gaspipe/docvault/pkg/identity"
	"github.com/gaspipe/docvault/pkg/observability"
	"github.com/gorilla/mux"
)

const maxListLimit = 500

// Handlers serves the scoped listings
type Handlers struct {
	gate *Gate
}

// NewHandlers creates scoped listing handlers
func NewHandlers(gate *Gate) *Handlers {
	return &Handlers{gate: gate}
}

// RegisterRoutes registers the scoped listing routes
func (h *Handlers) RegisterRoutes(router *mux.Router, guard httputil.Guard) {
	router.Handle("/api/documents", httputil.Protect(guard, "documents", "view", h.ListDocuments)).Methods("GET")
	router.Handle("/api/objects", httputil.Protect(guard, "objects", "view", h.ListObjects)).Methods("GET")
	router.HandleFunc("/api/auth/me/scope", h.MyScope).Methods("GET")
}

func parseListFilter(r *http.Request) (ListFilter, error) {
	var (
		f   ListFilter
		err error
	)
	if f.CategoryID, err = httputil.ParseQueryInt64Ptr(r, "category_id"); err != nil {
		return f, err
	}
	if f.ObjectID, err = httputil.ParseQueryInt64Ptr(r, "object_id"); err != nil {
		return f, err
	}
	if f.UmgID, err = httputil.ParseQueryInt64Ptr(r, "umg_id"); err != nil {
		return f, err
	}
	if f.Limit, err = httputil.ParseQueryInt(r, "limit", 0); err != nil {
		return f, err
	}
	if f.Offset, err = httputil.ParseQueryInt(r, "offset", 0); err != nil {
		return f, err
	}
	if f.Limit > maxListLimit {
		f.Limit = maxListLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	f.Status = documents.ObjectStatus(r.URL.Query().Get("status"))
	if f.Status != "" && !f.Status.Valid() {
		return f, documents.ErrInvalidInput
	}
	return f, nil
}

// ListDocuments lists the documents visible to the caller
func (h *Handlers) ListDocuments(w http.ResponseWriter, r *http.Request) {
	principal, ok := identity.PrincipalFromContext(r.Context())
	if !ok {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}
	filter, err := parseListFilter(r)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	docs, err := h.gate.ListDocuments(r.Context(), principal.UserID, filter)
	if err != nil {
		observability.FromContext(r.Context()).WithError(err).Error("failed to list documents")
		httputil.WriteInternalError(w)
		return
	}
	httputil.WriteSuccess(w, httputil.ListResponse{Items: docs, Total: int64(len(docs)), Limit: filter.Limit, Offset: filter.Offset})
}

// ListObjects lists the pipeline objects visible to the caller
func (h *Handlers) ListObjects(w http.ResponseWriter, r *http.Request) {
	principal, ok := identity.PrincipalFromContext(r.Context())
	if !ok {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}
	filter, err := parseListFilter(r)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	objects, err := h.gate.ListObjects(r.Context(), principal.UserID, filter)
	if err != nil {
		observability.FromContext(r.Context()).WithError(err).Error("failed to list objects")
		httputil.WriteInternalError(w)
		return
	}
	httputil.WriteSuccess(w, httputil.ListResponse{Items: objects, Total: int64(len(objects)), Limit: filter.Limit, Offset: filter.Offset})
}

// ScopeResponse describes the caller's resolved scope
type ScopeResponse struct {
	Policy     Policy  `json:"policy"`
	ServiceIDs []int64 `json:"service_ids"`
}

// MyScope returns the services the caller can see through
func (h *Handlers) MyScope(w http.ResponseWriter, r *http.Request) {
	principal, ok := identity.PrincipalFromContext(r.Context())
	if !ok {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}
	scope, err := h.gate.VisibleServiceIDs(r.Context(), principal.UserID)
	if err != nil {
		observability.FromContext(r.Context()).WithError(err).Error("failed to resolve scope")
		httputil.WriteInternalError(w)
		return
	}
	httputil.WriteSuccess(w, ScopeResponse{Policy: h.gate.Policy(), ServiceIDs: scope})
}
