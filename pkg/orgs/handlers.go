package orgs

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gaspipe/docvault/pkg/audit"
	"github.com/gaspipe/docvault/pkg/httputil"
	"github.com/gaspipe/docvault/pkg/identity"
	"github.com/gaspipe/docvault/pkg/observability"
	"github.com/gorilla/mux"
)

const module = "orgstructure"

// Handlers provides HTTP handlers for the organizational structure
type Handlers struct {
	store    *Store
	recorder *audit.Recorder
}

// NewHandlers creates org structure handlers
func NewHandlers(store *Store, recorder *audit.Recorder) *Handlers {
	if recorder == nil {
		recorder = audit.NewRecorder(nil, nil, nil)
	}
	return &Handlers{store: store, recorder: recorder}
}

// RegisterRoutes registers org structure and scope grant routes
func (h *Handlers) RegisterRoutes(router *mux.Router, guard httputil.Guard) {
	router.Handle("/api/umgs", httputil.Protect(guard, module, "view", h.ListUmgs)).Methods("GET")
	router.Handle("/api/umgs", httputil.Protect(guard, module, "create", h.CreateUmg)).Methods("POST")
	router.Handle("/api/umgs/{id}", httputil.Protect(guard, module, "delete", h.DeleteUmg)).Methods("DELETE")
	router.Handle("/api/umgs/{id}/services", httputil.Protect(guard, module, "view", h.ListUmgServices)).Methods("GET")

	router.Handle("/api/services", httputil.Protect(guard, module, "view", h.ListServices)).Methods("GET")
	router.Handle("/api/services", httputil.Protect(guard, module, "create", h.CreateService)).Methods("POST")
	router.Handle("/api/services/{id}", httputil.Protect(guard, module, "delete", h.DeleteService)).Methods("DELETE")
	router.Handle("/api/services/{id}/departments", httputil.Protect(guard, module, "view", h.ListDepartments)).Methods("GET")
	router.Handle("/api/services/{id}/departments/tree", httputil.Protect(guard, module, "view", h.DepartmentTree)).Methods("GET")

	router.Handle("/api/departments", httputil.Protect(guard, module, "create", h.CreateDepartment)).Methods("POST")
	router.Handle("/api/departments/{id}/parent", httputil.Protect(guard, module, "edit", h.MoveDepartment)).Methods("PUT")
	router.Handle("/api/departments/{id}", httputil.Protect(guard, module, "delete", h.DeleteDepartment)).Methods("DELETE")

	// Scope grants
	router.Handle("/api/users/{id}/access", httputil.Protect(guard, module, "view", h.GetUserAccess)).Methods("GET")
	router.Handle("/api/users/{id}/services", httputil.Protect(guard, module, "manage", h.SetUserServices)).Methods("PUT")
	router.Handle("/api/users/{id}/services", httputil.Protect(guard, module, "manage", h.GrantServiceAccess)).Methods("POST")
	router.Handle("/api/users/{id}/services/{serviceId}", httputil.Protect(guard, module, "manage", h.RevokeServiceAccess)).Methods("DELETE")
	router.Handle("/api/users/{id}/umgs", httputil.Protect(guard, module, "manage", h.GrantUmgAccess)).Methods("POST")
	router.Handle("/api/users/{id}/umgs/{umgId}", httputil.Protect(guard, module, "manage", h.RevokeUmgAccess)).Methods("DELETE")
}

// ListUmgs lists all UMGs
func (h *Handlers) ListUmgs(w http.ResponseWriter, r *http.Request) {
	umgs, err := h.store.ListUmgs(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, httputil.ListResponse{Items: umgs, Total: int64(len(umgs))})
}

// CreateUmg creates a UMG
func (h *Handlers) CreateUmg(w http.ResponseWriter, r *http.Request) {
	var req CreateUmgRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	umg, err := h.store.CreateUmg(r.Context(), req)
	entry := audit.Entry{
		UserID:   identity.ActorID(r.Context()),
		Action:   audit.ActionCreate,
		Resource: audit.ResourceUmg,
		Details:  map[string]interface{}{"code": req.Code},
	}
	if umg != nil {
		entry.ResourceID = strconv.FormatInt(umg.ID, 10)
	}
	if outcome := h.recorder.Record(r.Context(), entry, err); !outcome.OK() {
		writeError(w, r, err)
		return
	}
	httputil.WriteCreated(w, umg)
}

// DeleteUmg deletes an unreferenced UMG
func (h *Handlers) DeleteUmg(w http.ResponseWriter, r *http.Request) {
	h.deleteResource(w, r, audit.ResourceUmg, h.store.DeleteUmg)
}

// ListUmgServices lists the services of one UMG
func (h *Handlers) ListUmgServices(w http.ResponseWriter, r *http.Request) {
	umgID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	h.writeServices(w, r, &umgID)
}

// ListServices lists services, filtered by the umg_id query parameter when given
func (h *Handlers) ListServices(w http.ResponseWriter, r *http.Request) {
	umgID, err := httputil.ParseQueryInt64Ptr(r, "umg_id")
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	h.writeServices(w, r, umgID)
}

func (h *Handlers) writeServices(w http.ResponseWriter, r *http.Request, umgID *int64) {
	services, err := h.store.ListServices(r.Context(), umgID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, httputil.ListResponse{Items: services, Total: int64(len(services))})
}

// CreateService creates a service under a UMG
func (h *Handlers) CreateService(w http.ResponseWriter, r *http.Request) {
	var req CreateServiceRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	svc, err := h.store.CreateService(r.Context(), req)
	entry := audit.Entry{
		UserID:   identity.ActorID(r.Context()),
		Action:   audit.ActionCreate,
		Resource: audit.ResourceService,
		Details:  map[string]interface{}{"umg_id": req.UmgID, "code": req.Code},
	}
	if svc != nil {
		entry.ResourceID = strconv.FormatInt(svc.ID, 10)
	}
	if outcome := h.recorder.Record(r.Context(), entry, err); !outcome.OK() {
		writeError(w, r, err)
		return
	}
	httputil.WriteCreated(w, svc)
}

// DeleteService deletes an unreferenced service
func (h *Handlers) DeleteService(w http.ResponseWriter, r *http.Request) {
	h.deleteResource(w, r, audit.ResourceService, h.store.DeleteService)
}

// ListDepartments lists a service's departments as a flat list
func (h *Handlers) ListDepartments(w http.ResponseWriter, r *http.Request) {
	serviceID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	depts, err := h.store.ListDepartments(r.Context(), serviceID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, httputil.ListResponse{Items: depts, Total: int64(len(depts))})
}

// DepartmentTree returns a service's departments as a tree
func (h *Handlers) DepartmentTree(w http.ResponseWriter, r *http.Request) {
	serviceID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	tree, err := h.store.DepartmentTree(r.Context(), serviceID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, tree)
}

// CreateDepartment creates a department
func (h *Handlers) CreateDepartment(w http.ResponseWriter, r *http.Request) {
	var req CreateDepartmentRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	dept, err := h.store.CreateDepartment(r.Context(), req)
	entry := audit.Entry{
		UserID:   identity.ActorID(r.Context()),
		Action:   audit.ActionCreate,
		Resource: audit.ResourceDepartment,
		Details:  map[string]interface{}{"service_id": req.ServiceID, "parent_id": req.ParentID},
	}
	if dept != nil {
		entry.ResourceID = strconv.FormatInt(dept.ID, 10)
	}
	if outcome := h.recorder.Record(r.Context(), entry, err); !outcome.OK() {
		writeError(w, r, err)
		return
	}
	httputil.WriteCreated(w, dept)
}

type moveDepartmentRequest struct {
	ParentID *int64 `json:"parent_id"`
}

// MoveDepartment changes a department's parent
func (h *Handlers) MoveDepartment(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	var req moveDepartmentRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	dept, err := h.store.MoveDepartment(r.Context(), id, req.ParentID)
	outcome := h.recorder.Record(r.Context(), audit.Entry{
		UserID:     identity.ActorID(r.Context()),
		Action:     audit.ActionUpdate,
		Resource:   audit.ResourceDepartment,
		ResourceID: strconv.FormatInt(id, 10),
		Details:    map[string]interface{}{"parent_id": req.ParentID},
	}, err)
	if !outcome.OK() {
		writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, dept)
}

// DeleteDepartment deletes a department without children
func (h *Handlers) DeleteDepartment(w http.ResponseWriter, r *http.Request) {
	h.deleteResource(w, r, audit.ResourceDepartment, h.store.DeleteDepartment)
}

func (h *Handlers) deleteResource(w http.ResponseWriter, r *http.Request, resource audit.Resource, del func(ctx context.Context, id int64) error) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	err := del(r.Context(), id)
	outcome := h.recorder.Record(r.Context(), audit.Entry{
		UserID:     identity.ActorID(r.Context()),
		Action:     audit.ActionDelete,
		Resource:   resource,
		ResourceID: strconv.FormatInt(id, 10),
	}, err)
	if !outcome.OK() {
		writeError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

// GetUserAccess returns a user's direct service and UMG grants
func (h *Handlers) GetUserAccess(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	access, err := h.store.GetUserAccess(r.Context(), userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, access)
}

type setServicesRequest struct {
	ServiceIDs []int64 `json:"service_ids"`
}

// SetUserServices replaces a user's service grants
func (h *Handlers) SetUserServices(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	var req setServicesRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	actor := identity.ActorID(r.Context())
	err := h.store.SetUserServices(r.Context(), userID, req.ServiceIDs, actor)
	outcome := h.recorder.Record(r.Context(), audit.Entry{
		UserID:     actor,
		Action:     audit.ActionSetServices,
		Resource:   audit.ResourceUser,
		ResourceID: strconv.FormatInt(userID, 10),
		Details:    map[string]interface{}{"service_ids": req.ServiceIDs},
	}, err)
	if !outcome.OK() {
		writeError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

type grantRequest struct {
	ServiceID int64 `json:"service_id"`
	UmgID     int64 `json:"umg_id"`
}

// GrantServiceAccess grants a user one service
func (h *Handlers) GrantServiceAccess(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	var req grantRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequirePositive(w, req.ServiceID, "service_id") {
		return
	}

	actor := identity.ActorID(r.Context())
	err := h.store.GrantServiceAccess(r.Context(), userID, req.ServiceID, actor)
	h.finishGrant(w, r, audit.ActionGrantAccess, userID, "service_id", req.ServiceID, err)
}

// RevokeServiceAccess revokes a user's service grant
func (h *Handlers) RevokeServiceAccess(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	serviceID, ok := httputil.ParsePathInt64OrError(w, r, "serviceId")
	if !ok {
		return
	}

	err := h.store.RevokeServiceAccess(r.Context(), userID, serviceID)
	h.finishGrant(w, r, audit.ActionRevokeAccess, userID, "service_id", serviceID, err)
}

// GrantUmgAccess grants a user a whole UMG
func (h *Handlers) GrantUmgAccess(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	var req grantRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequirePositive(w, req.UmgID, "umg_id") {
		return
	}

	actor := identity.ActorID(r.Context())
	err := h.store.GrantUmgAccess(r.Context(), userID, req.UmgID, actor)
	h.finishGrant(w, r, audit.ActionGrantAccess, userID, "umg_id", req.UmgID, err)
}

// RevokeUmgAccess revokes a user's UMG grant
func (h *Handlers) RevokeUmgAccess(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	umgID, ok := httputil.ParsePathInt64OrError(w, r, "umgId")
	if !ok {
		return
	}

	err := h.store.RevokeUmgAccess(r.Context(), userID, umgID)
	h.finishGrant(w, r, audit.ActionRevokeAccess, userID, "umg_id", umgID, err)
}

func (h *Handlers) finishGrant(w http.ResponseWriter, r *http.Request, action audit.Action, userID int64, field string, target int64, err error) {
	outcome := h.recorder.Record(r.Context(), audit.Entry{
		UserID:     identity.ActorID(r.Context()),
		Action:     action,
		Resource:   audit.ResourceUser,
		ResourceID: strconv.FormatInt(userID, 10),
		Details:    map[string]interface{}{field: target},
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
	case errors.Is(err, ErrAlreadyExists), errors.Is(err, ErrResourceInUse), errors.Is(err, ErrCycle):
		httputil.WriteConflict(w, err.Error())
	case errors.Is(err, ErrInvalidInput):
		httputil.WriteBadRequest(w, err.Error())
	default:
		observability.FromContext(r.Context()).WithError(err).Error("org structure request failed")
		httputil.WriteInternalError(w)
	}
}
