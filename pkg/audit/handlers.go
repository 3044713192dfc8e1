package audit

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gaspipe/docvault/pkg/httputil"
	"github.com/gorilla/mux"
)

// Searcher lists stored audit entries
type Searcher interface {
	Search(ctx context.Context, filter SearchFilter) ([]*Entry, int64, error)
}

// Handlers serves the audit viewer
type Handlers struct {
	searcher Searcher
}

// NewHandlers creates audit HTTP handlers
func NewHandlers(searcher Searcher) *Handlers {
	return &Handlers{searcher: searcher}
}

// RegisterRoutes registers the audit viewer route behind audit:view
func (h *Handlers) RegisterRoutes(router *mux.Router, guard httputil.Guard) {
	router.Handle("/api/audit", httputil.Protect(guard, "audit", "view", h.list)).Methods("GET")
}

func (h *Handlers) list(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	entries, total, err := h.searcher.Search(r.Context(), filter)
	if err != nil {
		httputil.WriteInternalError(w)
		return
	}

	httputil.WriteSuccess(w, httputil.ListResponse{
		Items:  entries,
		Total:  total,
		Limit:  filter.normalizedLimit(),
		Offset: filter.Offset,
	})
}

func parseFilter(r *http.Request) (SearchFilter, error) {
	var (
		filter SearchFilter
		err    error
	)

	if filter.Limit, err = httputil.ParseQueryInt(r, "limit", defaultSearchLimit); err != nil {
		return filter, err
	}
	if filter.Offset, err = httputil.ParseQueryInt(r, "offset", 0); err != nil {
		return filter, err
	}
	if filter.UserID, err = httputil.ParseQueryInt64Ptr(r, "userId"); err != nil {
		return filter, err
	}
	if filter.StartTime, err = parseTime(r, "from"); err != nil {
		return filter, err
	}
	if filter.EndTime, err = parseTime(r, "to"); err != nil {
		return filter, err
	}
	for _, a := range httputil.ParseQueryList(r, "action") {
		filter.Actions = append(filter.Actions, Action(a))
	}
	filter.Resource = Resource(r.URL.Query().Get("resource"))
	filter.ResourceID = r.URL.Query().Get("resourceId")
	if raw := r.URL.Query().Get("success"); raw != "" {
		ok, err := strconv.ParseBool(raw)
		if err != nil {
			return filter, err
		}
		filter.Success = &ok
	}

	return filter, nil
}

// parseTime accepts RFC 3339 timestamps or plain dates
func parseTime(r *http.Request, key string) (*time.Time, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return &t, nil
	}
	return httputil.ParseQueryDate(r, key)
}
