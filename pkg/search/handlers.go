package search

import (
	"net/http"
	"time"

	"github.com/gaspipe/docvault/pkg/httputil"
	"github.com/gaspipe/docvault/pkg/identity"
	"github.com/gaspipe/docvault/pkg/observability"
	"github.com/gorilla/mux"
)

// Handlers provides HTTP handlers for document search
type Handlers struct {
	service *Service
}

// NewHandlers creates new search handlers
func NewHandlers(service *Service) *Handlers {
	return &Handlers{service: service}
}

// RegisterRoutes registers search routes. They must be registered before
// any /api/documents/{id} route.
func (h *Handlers) RegisterRoutes(router *mux.Router, guard httputil.Guard) {
	router.Handle("/api/documents/search", httputil.Protect(guard, "documents", "view", h.Search)).Methods("GET")
	router.Handle("/api/documents/search/count", httputil.Protect(guard, "documents", "view", h.Count)).Methods("GET")
}

// CountResponse is the body of the count endpoint
type CountResponse struct {
	Query string `json:"query"`
	Total int64  `json:"total"`
}

// parseRequest reads q, category_id, object_id, date_from, date_to, tags,
// limit and offset. date_to covers the whole named day.
func parseRequest(r *http.Request, userID int64) (Request, error) {
	var (
		req = Request{Query: r.URL.Query().Get("q"), UserID: userID}
		err error
	)
	if req.CategoryID, err = httputil.ParseQueryInt64Ptr(r, "category_id"); err != nil {
		return req, err
	}
	if req.ObjectID, err = httputil.ParseQueryInt64Ptr(r, "object_id"); err != nil {
		return req, err
	}
	if req.DateFrom, err = httputil.ParseQueryDate(r, "date_from"); err != nil {
		return req, err
	}
	if req.DateTo, err = httputil.ParseQueryDate(r, "date_to"); err != nil {
		return req, err
	}
	if req.DateTo != nil {
		end := req.DateTo.Add(24*time.Hour - time.Nanosecond)
		req.DateTo = &end
	}
	req.Tags = httputil.ParseQueryList(r, "tags")
	if req.Limit, err = httputil.ParseQueryInt(r, "limit", 0); err != nil {
		return req, err
	}
	if req.Offset, err = httputil.ParseQueryInt(r, "offset", 0); err != nil {
		return req, err
	}
	return req, nil
}

// Search handles GET /api/documents/search
func (h *Handlers) Search(w http.ResponseWriter, r *http.Request) {
	principal, ok := identity.PrincipalFromContext(r.Context())
	if !ok {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}
	req, err := parseRequest(r, principal.UserID)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	resp, err := h.service.SearchDocuments(r.Context(), req)
	if err != nil {
		observability.FromContext(r.Context()).WithError(err).Error("document search failed")
		httputil.WriteInternalError(w)
		return
	}
	httputil.WriteSuccess(w, resp)
}

// Count handles GET /api/documents/search/count
func (h *Handlers) Count(w http.ResponseWriter, r *http.Request) {
	principal, ok := identity.PrincipalFromContext(r.Context())
	if !ok {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}
	req, err := parseRequest(r, principal.UserID)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	total, err := h.service.SearchDocumentsCount(r.Context(), req)
	if err != nil {
		observability.FromContext(r.Context()).WithError(err).Error("document search count failed")
		httputil.WriteInternalError(w)
		return
	}
	httputil.WriteSuccess(w, CountResponse{Query: Sanitize(req.Query), Total: total})
}
