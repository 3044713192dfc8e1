package identity

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gaspipe/docvault/pkg/audit"
	"github.com/gaspipe/docvault/pkg/httputil"
	"github.com/gaspipe/docvault/pkg/observability"
	"github.com/gorilla/mux"
)

// Handlers serves sign-in and user administration
type Handlers struct {
	store    *Store
	auth     *Authenticator
	recorder *audit.Recorder
}

// NewHandlers creates identity HTTP handlers
func NewHandlers(store *Store, auth *Authenticator, recorder *audit.Recorder) *Handlers {
	if recorder == nil {
		recorder = audit.NewRecorder(nil, nil, nil)
	}
	return &Handlers{store: store, auth: auth, recorder: recorder}
}

// RegisterPublicRoutes registers routes reachable without a token
func (h *Handlers) RegisterPublicRoutes(router *mux.Router) {
	router.HandleFunc("/api/auth/login", h.login).Methods("POST")
}

// RegisterRoutes registers authenticated routes
func (h *Handlers) RegisterRoutes(router *mux.Router, guard httputil.Guard) {
	router.HandleFunc("/api/auth/logout", h.logout).Methods("POST")

	router.Handle("/api/users", httputil.Protect(guard, "users", "view", h.listUsers)).Methods("GET")
	router.Handle("/api/users", httputil.Protect(guard, "users", "create", h.createUser)).Methods("POST")
	router.Handle("/api/users/{id}", httputil.Protect(guard, "users", "view", h.getUser)).Methods("GET")
	router.Handle("/api/users/{id}", httputil.Protect(guard, "users", "edit", h.updateUser)).Methods("PUT")
	router.Handle("/api/users/{id}", httputil.Protect(guard, "users", "delete", h.deleteUser)).Methods("DELETE")
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (h *Handlers) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.Username, "username") || !httputil.RequireNonEmpty(w, req.Password, "password") {
		return
	}

	result, user, err := h.auth.Login(r.Context(), req.Username, req.Password)

	entry := audit.Entry{
		Action:   audit.ActionLogin,
		Resource: audit.ResourceSession,
		Details:  map[string]interface{}{"username": req.Username},
	}
	if user != nil {
		id := user.ID
		entry.UserID = &id
		entry.ResourceID = strconv.FormatInt(id, 10)
	}

	switch {
	case errors.Is(err, ErrInvalidCredentials):
		entry.Action = audit.ActionLoginFailed
		h.recorder.Record(r.Context(), entry, err)
		httputil.WriteUnauthorized(w, ErrInvalidCredentials.Error())
		return
	case errors.Is(err, ErrInactive):
		entry.Action = audit.ActionLoginFailed
		h.recorder.Record(r.Context(), entry, err)
		httputil.WriteForbidden(w, ErrInactive.Error())
		return
	case err != nil:
		observability.FromContext(r.Context()).WithError(err).Error("login failed")
		httputil.WriteInternalError(w)
		return
	}

	h.recorder.Record(r.Context(), entry, nil)
	httputil.WriteSuccess(w, result)
}

// logout only records the event; tokens are stateless and expire on their own
func (h *Handlers) logout(w http.ResponseWriter, r *http.Request) {
	entry := audit.Entry{
		UserID:   ActorID(r.Context()),
		Action:   audit.ActionLogout,
		Resource: audit.ResourceSession,
	}
	if entry.UserID != nil {
		entry.ResourceID = strconv.FormatInt(*entry.UserID, 10)
	}
	h.recorder.Record(r.Context(), entry, nil)
	httputil.WriteNoContent(w)
}

func (h *Handlers) listUsers(w http.ResponseWriter, r *http.Request) {
	limit, err := httputil.ParseQueryInt(r, "limit", 100)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	offset, err := httputil.ParseQueryInt(r, "offset", 0)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	users, err := h.store.ListUsers(r.Context(), limit, offset)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, httputil.ListResponse{Items: users, Total: int64(len(users)), Limit: limit, Offset: offset})
}

func (h *Handlers) getUser(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	user, err := h.store.GetUser(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, user)
}

func (h *Handlers) createUser(w http.ResponseWriter, r *http.Request) {
	var req CreateUserRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	user, err := h.store.CreateUser(r.Context(), req)
	entry := audit.Entry{
		UserID:   ActorID(r.Context()),
		Action:   audit.ActionCreate,
		Resource: audit.ResourceUser,
		Details:  map[string]interface{}{"username": req.Username},
	}
	if user != nil {
		entry.ResourceID = strconv.FormatInt(user.ID, 10)
	}
	if outcome := h.recorder.Record(r.Context(), entry, err); !outcome.OK() {
		writeError(w, r, err)
		return
	}
	httputil.WriteCreated(w, user)
}

func (h *Handlers) updateUser(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	var req UpdateUserRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	user, err := h.store.UpdateUser(r.Context(), id, req)

	action := audit.ActionUpdate
	details := map[string]interface{}{}
	if req.Status != nil {
		action = audit.ActionStatusChange
		details["status"] = string(*req.Status)
	}
	if req.Password != nil {
		details["password_changed"] = true
	}
	outcome := h.recorder.Record(r.Context(), audit.Entry{
		UserID:     ActorID(r.Context()),
		Action:     action,
		Resource:   audit.ResourceUser,
		ResourceID: strconv.FormatInt(id, 10),
		Details:    details,
	}, err)
	if !outcome.OK() {
		writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, user)
}

func (h *Handlers) deleteUser(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	err := h.store.DeleteUser(r.Context(), id)
	outcome := h.recorder.Record(r.Context(), audit.Entry{
		UserID:     ActorID(r.Context()),
		Action:     audit.ActionDelete,
		Resource:   audit.ResourceUser,
		ResourceID: strconv.FormatInt(id, 10),
	}, err)
	if !outcome.OK() {
		writeError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		httputil.WriteNotFound(w, err.Error())
	case errors.Is(err, ErrAlreadyExists), errors.Is(err, ErrResourceInUse):
		httputil.WriteConflict(w, err.Error())
	case errors.Is(err, ErrInvalidInput):
		httputil.WriteBadRequest(w, err.Error())
	default:
		observability.FromContext(r.Context()).WithError(err).Error("user request failed")
		httputil.WriteInternalError(w)
	}
}
