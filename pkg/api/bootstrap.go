package api

import (
	"context"
	"errors"
	"fmt"

	"github.com/gaspipe/docvault/pkg/identity"
	"github.com/gaspipe/docvault/pkg/rbac"
)

// Bootstrap seeds the system roles and, when configured, the first
// administrator
func (s *Server) Bootstrap(ctx context.Context) error {
	if err := s.Roles.SeedSystemRoles(ctx); err != nil {
		return fmt.Errorf("failed to seed system roles: %w", err)
	}
	auth := s.cfg.Auth
	if auth.BootstrapAdminUsername == "" {
		return nil
	}
	return s.EnsureAdmin(ctx, auth.BootstrapAdminUsername, auth.BootstrapAdminPassword)
}

// EnsureAdmin grants the admin role to username unless some user already
// holds it. The user is created with password when missing.
func (s *Server) EnsureAdmin(ctx context.Context, username, password string) error {
	n, err := s.Roles.RoleMemberCount(ctx, rbac.RoleAdmin)
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}

	user, err := s.Users.GetUserByUsername(ctx, username)
	if errors.Is(err, identity.ErrNotFound) {
		user, err = s.Users.CreateUser(ctx, identity.CreateUserRequest{
			Username: username,
			Password: password,
			FullName: "Administrator",
		})
	}
	if err != nil {
		return fmt.Errorf("failed to prepare bootstrap admin: %w", err)
	}

	roleID, err := s.Roles.RoleID(ctx, rbac.RoleAdmin)
	if err != nil {
		return err
	}
	if err := s.Roles.AssignRole(ctx, user.ID, roleID, nil); err != nil {
		return fmt.Errorf("failed to assign admin role: %w", err)
	}
	s.logger.WithField("username", username).Info("Bootstrap administrator granted admin role")
	return nil
}
