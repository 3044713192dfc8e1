package cli

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"

	"github.com/gaspipe/docvault/pkg/identity"
	"github.com/gaspipe/docvault/pkg/orgs"
	"github.com/gaspipe/docvault/pkg/rbac"
)

func newCreateUserCommand(env *Env) *Command {
	cmd := &Command{
		Name:        "create-user",
		Description: "Create an account",
		Flags:       flag.NewFlagSet("create-user", flag.ContinueOnError),
	}
	username := cmd.Flags.String("username", "", "Login name")
	password := cmd.Flags.String("password", "", "Initial password")
	fullName := cmd.Flags.String("full-name", "", "Display name")
	email := cmd.Flags.String("email", "", "Email address")
	role := cmd.Flags.String("role", "", "Role to assign after creation")

	cmd.Run = func(ctx context.Context, args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}
		if *username == "" || *password == "" {
			return errors.New("--username and --password are required")
		}

		return withDB(ctx, env, func(db *sql.DB) error {
			user, err := identity.NewStore(db, nil).CreateUser(ctx, identity.CreateUserRequest{
				Username: *username,
				Password: *password,
				FullName: *fullName,
				Email:    *email,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(env.Out, "Created user %s (id %d)\n", user.Username, user.ID)

			if *role == "" {
				return nil
			}
			return assignRole(ctx, env, db, user, *role)
		})
	}
	return cmd
}

func newAssignRoleCommand(env *Env) *Command {
	cmd := &Command{
		Name:        "assign-role",
		Description: "Give an account a role",
		Flags:       flag.NewFlagSet("assign-role", flag.ContinueOnError),
	}
	username := cmd.Flags.String("username", "", "Login name")
	role := cmd.Flags.String("role", "", "Role name")

	cmd.Run = func(ctx context.Context, args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}
		if *username == "" || *role == "" {
			return errors.New("--username and --role are required")
		}

		return withDB(ctx, env, func(db *sql.DB) error {
			user, err := identity.NewStore(db, nil).GetUserByUsername(ctx, *username)
			if err != nil {
				return fmt.Errorf("user %s: %w", *username, err)
			}
			return assignRole(ctx, env, db, user, *role)
		})
	}
	return cmd
}

func assignRole(ctx context.Context, env *Env, db *sql.DB, user *identity.User, role string) error {
	roles := rbac.NewStore(db, env.Registry, nil)
	roleID, err := roles.RoleID(ctx, role)
	if err != nil {
		return err
	}
	if err := roles.AssignRole(ctx, user.ID, roleID, nil); err != nil {
		return err
	}
	fmt.Fprintf(env.Out, "Assigned role %s to %s\n", role, user.Username)
	return nil
}

func newGrantScopeCommand(env *Env) *Command {
	cmd := &Command{
		Name:        "grant-scope",
		Description: "Grant an account a service or UMG",
		Flags:       flag.NewFlagSet("grant-scope", flag.ContinueOnError),
	}
	username := cmd.Flags.String("username", "", "Login name")
	serviceID := cmd.Flags.Int64("service", 0, "Service id to grant")
	umgID := cmd.Flags.Int64("umg", 0, "UMG id to grant")

	cmd.Run = func(ctx context.Context, args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}
		if *username == "" {
			return errors.New("--username is required")
		}
		if *serviceID <= 0 && *umgID <= 0 {
			return errors.New("one of --service or --umg is required")
		}

		return withDB(ctx, env, func(db *sql.DB) error {
			user, err := identity.NewStore(db, nil).GetUserByUsername(ctx, *username)
			if err != nil {
				return fmt.Errorf("user %s: %w", *username, err)
			}
			store := orgs.NewStore(db, nil)
			if *serviceID > 0 {
				if err := store.GrantServiceAccess(ctx, user.ID, *serviceID, nil); err != nil {
					return err
				}
				fmt.Fprintf(env.Out, "Granted service %d to %s\n", *serviceID, user.Username)
			}
			if *umgID > 0 {
				if err := store.GrantUmgAccess(ctx, user.ID, *umgID, nil); err != nil {
					return err
				}
				fmt.Fprintf(env.Out, "Granted UMG %d to %s\n", *umgID, user.Username)
			}
			return nil
		})
	}
	return cmd
}
