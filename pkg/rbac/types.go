package rbac

import (
	"errors"
	"time"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrAlreadyExists     = errors.New("already exists")
	ErrInvalidInput      = errors.New("invalid input")
	ErrSystemRole        = errors.New("system roles cannot be modified")
	ErrUnknownCapability = errors.New("unknown capability")
)

// System role names
const (
	RoleAdmin  = "admin"
	RoleViewer = "viewer"
)

// Capability names one (module, action) pair
type Capability struct {
	Module string `json:"module" yaml:"module"`
	Action string `json:"action" yaml:"action"`
}

// String returns "module:action"
func (c Capability) String() string {
	return c.Module + ":" + c.Action
}

// Permission is a stored capability row
type Permission struct {
	ID          int64  `json:"id"`
	Module      string `json:"module"`
	Action      string `json:"action"`
	Description string `json:"description,omitempty"`
}

// String returns "module:action"
func (p Permission) String() string {
	return p.Capability().String()
}

// Capability returns the pair this permission grants
func (p Permission) Capability() Capability {
	return Capability{Module: p.Module, Action: p.Action}
}

// Role is a named set of permissions
type Role struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	IsSystem    bool      `json:"is_system"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// RoleDetail is a role together with its permissions
type RoleDetail struct {
	Role
	Permissions []Permission `json:"permissions"`
}

// UserRole is a role assignment
type UserRole struct {
	UserID     int64     `json:"user_id"`
	RoleID     int64     `json:"role_id"`
	AssignedAt time.Time `json:"assigned_at"`
	AssignedBy *int64    `json:"assigned_by,omitempty"`
}

// CreateRoleRequest creates a custom role, optionally with its permissions
type CreateRoleRequest struct {
	Name        string       `json:"name"`
	Description string       `json:"description"`
	Permissions []Capability `json:"permissions,omitempty"`
}

// UpdateRoleRequest changes role metadata; nil fields are left untouched
type UpdateRoleRequest struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
}
