// Package documents stores pipeline objects, the documents attached to
// them and the per-service grants that decide who can see either.
//
// Scoped listings live in package access; this package only checks a
// single document or object against the caller's scope through the
// ScopeChecker it is given.
package documents

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrInvalidInput  = errors.New("invalid input")
)

// ObjectStatus is the operating state of a pipeline object
type ObjectStatus string

const (
	ObjectActive      ObjectStatus = "active"
	ObjectMaintenance ObjectStatus = "maintenance"
	ObjectInactive    ObjectStatus = "inactive"
)

// Valid reports whether s is a known status
func (s ObjectStatus) Valid() bool {
	switch s {
	case ObjectActive, ObjectMaintenance, ObjectInactive:
		return true
	}
	return false
}

// Right is one per-service grant flag
type Right string

const (
	RightView   Right = "view"
	RightEdit   Right = "edit"
	RightDelete Right = "delete"
)

// ScopeChecker decides whether a user reaches a single document or object
// through one of their services
type ScopeChecker interface {
	DocumentAllowed(ctx context.Context, userID, documentID int64, right Right) (bool, error)
	ObjectAllowed(ctx context.Context, userID, objectID int64, right Right) (bool, error)
}

// Category classifies documents
type Category struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	Code string `json:"code"`
}

// PipelineObject is a physical asset such as a pipeline section or station
type PipelineObject struct {
	ID        int64        `json:"id"`
	UmgID     int64        `json:"umg_id"`
	Name      string       `json:"name"`
	Type      string       `json:"type"`
	QRCode    string       `json:"qr_code"`
	Status    ObjectStatus `json:"status"`
	Location  string       `json:"location,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// Document is a stored document's metadata and extracted text
type Document struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	FileName    string    `json:"file_name"`
	CategoryID  int64     `json:"category_id"`
	UmgID       int64     `json:"umg_id"`
	ObjectID    *int64    `json:"object_id,omitempty"`
	Version     int       `json:"version"`
	Tags        []string  `json:"tags"`
	UploadedBy  *int64    `json:"uploaded_by,omitempty"`
	TextContent string    `json:"text_content,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// DocumentService grants one service rights on a document
type DocumentService struct {
	DocumentID int64 `json:"document_id"`
	ServiceID  int64 `json:"service_id"`
	CanView    bool  `json:"can_view"`
	CanEdit    bool  `json:"can_edit"`
	CanDelete  bool  `json:"can_delete"`
}

// ObjectService grants one service rights on a pipeline object
type ObjectService struct {
	ObjectID  int64 `json:"object_id"`
	ServiceID int64 `json:"service_id"`
	CanView   bool  `json:"can_view"`
	CanEdit   bool  `json:"can_edit"`
}

// CreateCategoryRequest creates a category
type CreateCategoryRequest struct {
	Name string `json:"name"`
	Code string `json:"code"`
}

// CreateDocumentRequest registers a document together with its service grants
type CreateDocumentRequest struct {
	Name        string            `json:"name"`
	FileName    string            `json:"file_name"`
	CategoryID  int64             `json:"category_id"`
	UmgID       int64             `json:"umg_id"`
	ObjectID    *int64            `json:"object_id,omitempty"`
	Tags        []string          `json:"tags"`
	TextContent string            `json:"text_content"`
	Services    []DocumentService `json:"services"`
}

// UpdateDocumentRequest changes document fields; nil fields are left
// untouched. Every successful update bumps the version.
type UpdateDocumentRequest struct {
	Name        *string   `json:"name,omitempty"`
	FileName    *string   `json:"file_name,omitempty"`
	CategoryID  *int64    `json:"category_id,omitempty"`
	ObjectID    *int64    `json:"object_id,omitempty"`
	Tags        *[]string `json:"tags,omitempty"`
	TextContent *string   `json:"text_content,omitempty"`
}

// CreateObjectRequest registers a pipeline object. The QR code is generated.
type CreateObjectRequest struct {
	UmgID    int64           `json:"umg_id"`
	Name     string          `json:"name"`
	Type     string          `json:"type"`
	Status   ObjectStatus    `json:"status"`
	Location string          `json:"location"`
	Services []ObjectService `json:"services"`
}

// UpdateObjectRequest changes object fields; nil fields are left untouched
type UpdateObjectRequest struct {
	Name     *string       `json:"name,omitempty"`
	Type     *string       `json:"type,omitempty"`
	Status   *ObjectStatus `json:"status,omitempty"`
	Location *string       `json:"location,omitempty"`
}
