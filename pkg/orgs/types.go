package orgs

import (
	"errors"
	"time"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrInvalidInput  = errors.New("invalid input")
	ErrResourceInUse = errors.New("resource is in use")
	ErrCycle         = errors.New("department hierarchy would contain a cycle")
)

// Umg is a regional unit of the operator
type Umg struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Code        string    `json:"code"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Service is an operational service inside one UMG. Document and object
// visibility is granted per service.
type Service struct {
	ID          int64     `json:"id"`
	UmgID       int64     `json:"umg_id"`
	Name        string    `json:"name"`
	Code        string    `json:"code"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Department is a node in a service's department tree
type Department struct {
	ID        int64     `json:"id"`
	ServiceID int64     `json:"service_id"`
	ParentID  *int64    `json:"parent_id,omitempty"`
	Level     int       `json:"level"`
	Name      string    `json:"name"`
	Code      string    `json:"code,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// DepartmentNode is a department with its children, for tree responses
type DepartmentNode struct {
	Department
	Children []*DepartmentNode `json:"children"`
}

// UserAccess is the set of direct scope grants held by one user
type UserAccess struct {
	UserID     int64   `json:"user_id"`
	ServiceIDs []int64 `json:"service_ids"`
	UmgIDs     []int64 `json:"umg_ids"`
}

// CreateUmgRequest creates a UMG
type CreateUmgRequest struct {
	Name        string `json:"name"`
	Code        string `json:"code"`
	Description string `json:"description"`
}

// CreateServiceRequest creates a service under a UMG
type CreateServiceRequest struct {
	UmgID       int64  `json:"umg_id"`
	Name        string `json:"name"`
	Code        string `json:"code"`
	Description string `json:"description"`
}

// CreateDepartmentRequest creates a department, optionally under a parent
type CreateDepartmentRequest struct {
	ServiceID int64  `json:"service_id"`
	ParentID  *int64 `json:"parent_id,omitempty"`
	Name      string `json:"name"`
	Code      string `json:"code"`
}
