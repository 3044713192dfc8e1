package cli

import (
	"context"
	"database/sql"
	"flag"
	"fmt"

	"github.com/gaspipe/docvault/pkg/rbac"
	"github.com/gaspipe/docvault/pkg/storage/postgres"
)

func newMigrateCommand(env *Env) *Command {
	cmd := &Command{
		Name:        "migrate",
		Description: "Apply database schema migrations",
		Flags:       flag.NewFlagSet("migrate", flag.ContinueOnError),
	}
	cmd.Run = func(ctx context.Context, args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}
		return withDB(ctx, env, func(db *sql.DB) error {
			if err := postgres.Migrate(ctx, db); err != nil {
				return err
			}
			fmt.Fprintln(env.Out, "Migrations applied")
			return nil
		})
	}
	return cmd
}

func newSeedRolesCommand(env *Env) *Command {
	cmd := &Command{
		Name:        "seed-roles",
		Description: "Create or refresh the admin and viewer roles",
		Flags:       flag.NewFlagSet("seed-roles", flag.ContinueOnError),
	}
	capsFile := cmd.Flags.String("capabilities", "", "Capabilities file to load before seeding")

	cmd.Run = func(ctx context.Context, args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}
		if *capsFile != "" {
			if err := env.Registry.LoadFile(*capsFile); err != nil {
				return err
			}
		}
		return withDB(ctx, env, func(db *sql.DB) error {
			if err := rbac.NewStore(db, env.Registry, nil).SeedSystemRoles(ctx); err != nil {
				return err
			}
			fmt.Fprintf(env.Out, "Seeded roles %s and %s\n", rbac.RoleAdmin, rbac.RoleViewer)
			return nil
		})
	}
	return cmd
}
