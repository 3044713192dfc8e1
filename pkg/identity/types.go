// Package identity owns docvault user accounts: credentials, account
// status, bearer tokens and the authenticated principal carried on
// each request.
package identity

import (
	"context"
	"errors"
	"time"

	"github.com/gaspipe/docvault/pkg/contextkeys"
)

var (
	ErrNotFound           = errors.New("user not found")
	ErrAlreadyExists      = errors.New("username already exists")
	ErrInvalidInput       = errors.New("invalid input")
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrInactive           = errors.New("account is not active")
	ErrResourceInUse      = errors.New("user is referenced by documents")
	ErrInvalidToken       = errors.New("invalid token")
)

// Status is the account lifecycle state. Only active accounts may sign in.
type Status string

const (
	StatusActive    Status = "active"
	StatusInactive  Status = "inactive"
	StatusSuspended Status = "suspended"
)

// Valid reports whether s is a known status
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusInactive, StatusSuspended:
		return true
	}
	return false
}

// User is a docvault account
type User struct {
	ID           int64      `json:"id"`
	Username     string     `json:"username"`
	PasswordHash string     `json:"-"`
	FullName     string     `json:"full_name"`
	Email        string     `json:"email,omitempty"`
	Status       Status     `json:"status"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	LastLoginAt  *time.Time `json:"last_login_at,omitempty"`
}

// CreateUserRequest is the input for creating an account
type CreateUserRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	FullName string `json:"full_name"`
	Email    string `json:"email"`
}

// UpdateUserRequest changes profile fields; nil fields are left untouched
type UpdateUserRequest struct {
	FullName *string `json:"full_name,omitempty"`
	Email    *string `json:"email,omitempty"`
	Password *string `json:"password,omitempty"`
	Status   *Status `json:"status,omitempty"`
}

// Principal identifies the authenticated caller of a request
type Principal struct {
	UserID   int64
	Username string
}

// WithPrincipal stores the principal on the context
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return contextkeys.WithPrincipal(ctx, p)
}

// PrincipalFromContext returns the authenticated principal, if any
func PrincipalFromContext(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(contextkeys.PrincipalKey).(*Principal)
	return p, ok && p != nil
}

// ActorID returns a pointer to the caller's user id for audit entries,
// or nil when the request is anonymous
func ActorID(ctx context.Context) *int64 {
	if p, ok := PrincipalFromContext(ctx); ok {
		id := p.UserID
		return &id
	}
	return nil
}
