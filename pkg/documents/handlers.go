package documents

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gaspipe/docvault/pkg/audit"
	"github.com/gaspipe/docvault/pkg/httputil"
	"github.com/gaspipe/docvault/pkg/identity"
	"github.com/gaspipe/docvault/pkg/observability"
	"github.com/gorilla/mux"
)

// errOutOfScope is returned when a visible document or object is not
// granted the requested right through any of the caller's services
var errOutOfScope = errors.New("not permitted through any of your services")

// Handlers provides HTTP handlers for documents and pipeline objects
type Handlers struct {
	store    *Store
	scope    ScopeChecker
	recorder *audit.Recorder
}

// NewHandlers creates document handlers. Every single-item route is
// checked against scope.
func NewHandlers(store *Store, scope ScopeChecker, recorder *audit.Recorder) *Handlers {
	if recorder == nil {
		recorder = audit.NewRecorder(nil, nil, nil)
	}
	return &Handlers{store: store, scope: scope, recorder: recorder}
}

// RegisterRoutes registers document, category and object routes. Scoped
// listings and search are registered by their own packages.
func (h *Handlers) RegisterRoutes(router *mux.Router, guard httputil.Guard) {
	router.Handle("/api/categories", httputil.Protect(guard, "documents", "view", h.ListCategories)).Methods("GET")
	router.Handle("/api/categories", httputil.Protect(guard, "documents", "manage", h.CreateCategory)).Methods("POST")

	router.Handle("/api/documents", httputil.Protect(guard, "documents", "create", h.CreateDocument)).Methods("POST")
	router.Handle("/api/documents/{id:[0-9]+}", httputil.Protect(guard, "documents", "view", h.GetDocument)).Methods("GET")
	router.Handle("/api/documents/{id:[0-9]+}", httputil.Protect(guard, "documents", "edit", h.UpdateDocument)).Methods("PUT")
	router.Handle("/api/documents/{id:[0-9]+}", httputil.Protect(guard, "documents", "delete", h.DeleteDocument)).Methods("DELETE")
	router.Handle("/api/documents/{id:[0-9]+}/download", httputil.Protect(guard, "documents", "view", h.DownloadDocument)).Methods("GET")
	router.Handle("/api/documents/{id:[0-9]+}/services", httputil.Protect(guard, "documents", "view", h.GetDocumentServices)).Methods("GET")
	router.Handle("/api/documents/{id:[0-9]+}/services", httputil.Protect(guard, "documents", "manage", h.SetDocumentServices)).Methods("PUT")

	router.Handle("/api/objects", httputil.Protect(guard, "objects", "create", h.CreateObject)).Methods("POST")
	router.Handle("/api/objects/qr/{code}", httputil.Protect(guard, "objects", "view", h.ScanObject)).Methods("GET")
	router.Handle("/api/objects/{id:[0-9]+}", httputil.Protect(guard, "objects", "view", h.GetObject)).Methods("GET")
	router.Handle("/api/objects/{id:[0-9]+}", httputil.Protect(guard, "objects", "edit", h.UpdateObject)).Methods("PUT")
	router.Handle("/api/objects/{id:[0-9]+}", httputil.Protect(guard, "objects", "delete", h.DeleteObject)).Methods("DELETE")
	router.Handle("/api/objects/{id:[0-9]+}/services", httputil.Protect(guard, "objects", "view", h.GetObjectServices)).Methods("GET")
	router.Handle("/api/objects/{id:[0-9]+}/services", httputil.Protect(guard, "objects", "edit", h.SetObjectServices)).Methods("PUT")
}

func callerID(ctx context.Context) (int64, error) {
	p, ok := identity.PrincipalFromContext(ctx)
	if !ok {
		return 0, errUnauthenticated
	}
	return p.UserID, nil
}

var errUnauthenticated = errors.New("authentication required")

// authorize checks right on one item. Items the caller cannot see at all
// are reported as not found.
func authorize(ctx context.Context, id int64, right Right, allowed func(ctx context.Context, userID, id int64, right Right) (bool, error)) error {
	userID, err := callerID(ctx)
	if err != nil {
		return err
	}
	ok, err := allowed(ctx, userID, id, RightView)
	if err != nil {
		return fmt.Errorf("failed to check scope: %w", err)
	}
	if !ok {
		return fmt.Errorf("%d: %w", id, ErrNotFound)
	}
	if right == RightView {
		return nil
	}
	ok, err = allowed(ctx, userID, id, right)
	if err != nil {
		return fmt.Errorf("failed to check scope: %w", err)
	}
	if !ok {
		return fmt.Errorf("%s on %d: %w", right, id, errOutOfScope)
	}
	return nil
}

func (h *Handlers) authorizeDocument(ctx context.Context, id int64, right Right) error {
	return authorize(ctx, id, right, h.scope.DocumentAllowed)
}

func (h *Handlers) authorizeObject(ctx context.Context, id int64, right Right) error {
	return authorize(ctx, id, right, h.scope.ObjectAllowed)
}

// ListCategories lists document categories
func (h *Handlers) ListCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := h.store.ListCategories(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, httputil.ListResponse{Items: categories, Total: int64(len(categories))})
}

// CreateCategory creates a document category
func (h *Handlers) CreateCategory(w http.ResponseWriter, r *http.Request) {
	var req CreateCategoryRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	category, err := h.store.CreateCategory(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteCreated(w, category)
}

// CreateDocument registers a document uploaded by the caller
func (h *Handlers) CreateDocument(w http.ResponseWriter, r *http.Request) {
	var req CreateDocumentRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	actor := identity.ActorID(r.Context())
	doc, err := h.store.CreateDocument(r.Context(), req, actor)
	entry := audit.Entry{
		UserID:   actor,
		Action:   audit.ActionCreate,
		Resource: audit.ResourceDocument,
		Details:  map[string]interface{}{"name": req.Name, "services": documentServiceIDs(req.Services)},
	}
	if doc != nil {
		entry.ResourceID = strconv.FormatInt(doc.ID, 10)
	}
	if outcome := h.recorder.Record(r.Context(), entry, err); !outcome.OK() {
		writeError(w, r, err)
		return
	}
	httputil.WriteCreated(w, doc)
}

// GetDocument returns one document visible to the caller
func (h *Handlers) GetDocument(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	if err := h.authorizeDocument(r.Context(), id, RightView); err != nil {
		writeError(w, r, err)
		return
	}
	doc, err := h.store.GetDocument(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, doc)
}

// UpdateDocument edits a document and bumps its version
func (h *Handlers) UpdateDocument(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	var req UpdateDocumentRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	var doc *Document
	err := h.authorizeDocument(r.Context(), id, RightEdit)
	if err == nil {
		doc, err = h.store.UpdateDocument(r.Context(), id, req)
	}
	entry := audit.Entry{
		UserID:     identity.ActorID(r.Context()),
		Action:     audit.ActionUpdate,
		Resource:   audit.ResourceDocument,
		ResourceID: strconv.FormatInt(id, 10),
	}
	if doc != nil {
		entry.Details = map[string]interface{}{"version": doc.Version}
	}
	if outcome := h.recorder.Record(r.Context(), entry, err); !outcome.OK() {
		writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, doc)
}

// DeleteDocument deletes a document
func (h *Handlers) DeleteDocument(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	err := h.authorizeDocument(r.Context(), id, RightDelete)
	if err == nil {
		err = h.store.DeleteDocument(r.Context(), id)
	}
	outcome := h.recorder.Record(r.Context(), audit.Entry{
		UserID:     identity.ActorID(r.Context()),
		Action:     audit.ActionDelete,
		Resource:   audit.ResourceDocument,
		ResourceID: strconv.FormatInt(id, 10),
	}, err)
	if !outcome.OK() {
		writeError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

// DownloadDocument records a download and returns the document for the
// file service to stream
func (h *Handlers) DownloadDocument(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	var doc *Document
	err := h.authorizeDocument(r.Context(), id, RightView)
	if err == nil {
		doc, err = h.store.GetDocument(r.Context(), id)
	}
	entry := audit.Entry{
		UserID:     identity.ActorID(r.Context()),
		Action:     audit.ActionDownload,
		Resource:   audit.ResourceDocument,
		ResourceID: strconv.FormatInt(id, 10),
	}
	if doc != nil {
		entry.Details = map[string]interface{}{"file_name": doc.FileName, "version": doc.Version}
	}
	if outcome := h.recorder.Record(r.Context(), entry, err); !outcome.OK() {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", doc.FileName))
	httputil.WriteSuccess(w, doc)
}

// GetDocumentServices lists a document's service grants
func (h *Handlers) GetDocumentServices(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	if err := h.authorizeDocument(r.Context(), id, RightView); err != nil {
		writeError(w, r, err)
		return
	}
	grants, err := h.store.DocumentServices(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, grants)
}

type setDocumentServicesRequest struct {
	Services []DocumentService `json:"services"`
}

// SetDocumentServices replaces a document's service grants
func (h *Handlers) SetDocumentServices(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	var req setDocumentServicesRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	err := h.store.SetDocumentServices(r.Context(), id, req.Services)
	outcome := h.recorder.Record(r.Context(), audit.Entry{
		UserID:     identity.ActorID(r.Context()),
		Action:     audit.ActionSetServices,
		Resource:   audit.ResourceDocument,
		ResourceID: strconv.FormatInt(id, 10),
		Details:    map[string]interface{}{"services": documentServiceIDs(req.Services)},
	}, err)
	if !outcome.OK() {
		writeError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

// CreateObject registers a pipeline object
func (h *Handlers) CreateObject(w http.ResponseWriter, r *http.Request) {
	var req CreateObjectRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	obj, err := h.store.CreateObject(r.Context(), req)
	entry := audit.Entry{
		UserID:   identity.ActorID(r.Context()),
		Action:   audit.ActionCreate,
		Resource: audit.ResourceObject,
		Details:  map[string]interface{}{"name": req.Name, "services": objectServiceIDs(req.Services)},
	}
	if obj != nil {
		entry.ResourceID = strconv.FormatInt(obj.ID, 10)
		entry.Details["qr_code"] = obj.QRCode
	}
	if outcome := h.recorder.Record(r.Context(), entry, err); !outcome.OK() {
		writeError(w, r, err)
		return
	}
	httputil.WriteCreated(w, obj)
}

// GetObject returns one object visible to the caller
func (h *Handlers) GetObject(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	if err := h.authorizeObject(r.Context(), id, RightView); err != nil {
		writeError(w, r, err)
		return
	}
	obj, err := h.store.GetObject(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, obj)
}

// ScanObject resolves a scanned QR code. Every scan is audited, including
// codes that resolve to nothing the caller may see.
func (h *Handlers) ScanObject(w http.ResponseWriter, r *http.Request) {
	code := mux.Vars(r)["code"]

	obj, err := h.store.GetObjectByQR(r.Context(), code)
	if err == nil {
		if err = h.authorizeObject(r.Context(), obj.ID, RightView); err != nil {
			obj = nil
		}
	}
	entry := audit.Entry{
		UserID:   identity.ActorID(r.Context()),
		Action:   audit.ActionQRScan,
		Resource: audit.ResourceObject,
		Details:  map[string]interface{}{"qr_code": code},
	}
	if obj != nil {
		entry.ResourceID = strconv.FormatInt(obj.ID, 10)
	}
	if outcome := h.recorder.Record(r.Context(), entry, err); !outcome.OK() {
		writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, obj)
}

// UpdateObject edits an object
func (h *Handlers) UpdateObject(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	var req UpdateObjectRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	var obj *PipelineObject
	err := h.authorizeObject(r.Context(), id, RightEdit)
	if err == nil {
		obj, err = h.store.UpdateObject(r.Context(), id, req)
	}
	entry := audit.Entry{
		UserID:     identity.ActorID(r.Context()),
		Action:     audit.ActionUpdate,
		Resource:   audit.ResourceObject,
		ResourceID: strconv.FormatInt(id, 10),
	}
	if req.Status != nil {
		entry.Action = audit.ActionStatusChange
		entry.Details = map[string]interface{}{"status": *req.Status}
	}
	if outcome := h.recorder.Record(r.Context(), entry, err); !outcome.OK() {
		writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, obj)
}

// DeleteObject deletes an object
func (h *Handlers) DeleteObject(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	err := h.authorizeObject(r.Context(), id, RightDelete)
	if err == nil {
		err = h.store.DeleteObject(r.Context(), id)
	}
	outcome := h.recorder.Record(r.Context(), audit.Entry{
		UserID:     identity.ActorID(r.Context()),
		Action:     audit.ActionDelete,
		Resource:   audit.ResourceObject,
		ResourceID: strconv.FormatInt(id, 10),
	}, err)
	if !outcome.OK() {
		writeError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

// GetObjectServices lists an object's service grants
func (h *Handlers) GetObjectServices(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	if err := h.authorizeObject(r.Context(), id, RightView); err != nil {
		writeError(w, r, err)
		return
	}
	grants, err := h.store.ObjectServices(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, grants)
}

type setObjectServicesRequest struct {
	Services []ObjectService `json:"services"`
}

// SetObjectServices replaces an object's service grants
func (h *Handlers) SetObjectServices(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	var req setObjectServicesRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	err := h.authorizeObject(r.Context(), id, RightEdit)
	if err == nil {
		err = h.store.SetObjectServices(r.Context(), id, req.Services)
	}
	outcome := h.recorder.Record(r.Context(), audit.Entry{
		UserID:     identity.ActorID(r.Context()),
		Action:     audit.ActionSetServices,
		Resource:   audit.ResourceObject,
		ResourceID: strconv.FormatInt(id, 10),
		Details:    map[string]interface{}{"services": objectServiceIDs(req.Services)},
	}, err)
	if !outcome.OK() {
		writeError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, errUnauthenticated):
		httputil.WriteUnauthorized(w, err.Error())
	case errors.Is(err, ErrNotFound):
		httputil.WriteNotFound(w, err.Error())
	case errors.Is(err, errOutOfScope):
		httputil.WriteForbidden(w, err.Error())
	case errors.Is(err, ErrAlreadyExists):
		httputil.WriteConflict(w, err.Error())
	case errors.Is(err, ErrInvalidInput):
		httputil.WriteBadRequest(w, err.Error())
	default:
		observability.FromContext(r.Context()).WithError(err).Error("document request failed")
		httputil.WriteInternalError(w)
	}
}
