package identity

import (
	"context"
	"errors"
	"time"
)

// UserStore is the part of Store the authenticator needs
type UserStore interface {
	GetUserByUsername(ctx context.Context, username string) (*User, error)
	TouchLastLogin(ctx context.Context, id int64) error
}

// LoginResult is returned to a client after a successful sign-in
type LoginResult struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	User      *User     `json:"user"`
}

// Authenticator checks credentials and issues bearer tokens
type Authenticator struct {
	users  UserStore
	tokens *TokenManager
}

// NewAuthenticator creates an authenticator
func NewAuthenticator(users UserStore, tokens *TokenManager) *Authenticator {
	return &Authenticator{users: users, tokens: tokens}
}

// Login verifies the password and issues a token. The user is returned
// alongside ErrInactive and wrong-password failures so the caller can
// attribute the failed attempt.
func (a *Authenticator) Login(ctx context.Context, username, password string) (*LoginResult, *User, error) {
	user, err := a.users.GetUserByUsername(ctx, username)
	if errors.Is(err, ErrNotFound) {
		burnPasswordCheck(password)
		return nil, nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, nil, err
	}

	if err := VerifyPassword(user.PasswordHash, password); err != nil {
		return nil, user, ErrInvalidCredentials
	}
	if user.Status != StatusActive {
		return nil, user, ErrInactive
	}

	if err := a.users.TouchLastLogin(ctx, user.ID); err != nil {
		return nil, user, err
	}

	token, expiresAt, err := a.tokens.Issue(user)
	if err != nil {
		return nil, user, err
	}
	return &LoginResult{Token: token, ExpiresAt: expiresAt, User: user}, user, nil
}
