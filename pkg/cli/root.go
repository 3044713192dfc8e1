package cli

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/gaspipe/docvault/pkg/rbac"
)

// Env supplies what commands need at run time
type Env struct {
	Open     func(ctx context.Context) (*sql.DB, error)
	Registry *rbac.Registry
	Out      io.Writer
}

// Command represents a CLI command
type Command struct {
	Name        string
	Description string
	Run         func(ctx context.Context, args []string) error
	Subcommands map[string]*Command
	Flags       *flag.FlagSet
}

// NewRootCommand creates the root command
func NewRootCommand(env *Env) *Command {
	if env.Out == nil {
		env.Out = os.Stdout
	}
	if env.Registry == nil {
		env.Registry = rbac.NewRegistry(nil, nil)
	}

	root := &Command{
		Name:        "docvault-admin",
		Description: "DocVault administration",
		Subcommands: make(map[string]*Command),
		Flags:       flag.NewFlagSet("docvault-admin", flag.ContinueOnError),
	}

	for _, cmd := range []*Command{
		newMigrateCommand(env),
		newSeedRolesCommand(env),
		newCreateUserCommand(env),
		newAssignRoleCommand(env),
		newGrantScopeCommand(env),
		newCapabilitiesCommand(env),
	} {
		cmd.Flags.SetOutput(env.Out)
		root.Subcommands[cmd.Name] = cmd
	}
	root.Flags.SetOutput(env.Out)
	return root
}

// Execute runs the subcommand named by args[0]
func (c *Command) Execute(ctx context.Context, args []string) error {
	if len(args) == 0 || args[0] == "-h" || args[0] == "--help" {
		return c.usage()
	}
	if subcmd, ok := c.Subcommands[args[0]]; ok {
		return subcmd.Run(ctx, args[1:])
	}
	return fmt.Errorf("unknown command: %s", args[0])
}

// usage prints the command usage
func (c *Command) usage() error {
	out := c.Flags.Output()
	fmt.Fprintf(out, "Usage: %s <command> [args]\n\n", c.Name)
	fmt.Fprintf(out, "Commands:\n")
	names := make([]string, 0, len(c.Subcommands))
	for name := range c.Subcommands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(out, "  %-15s %s\n", name, c.Subcommands[name].Description)
	}
	return nil
}

// withDB opens the database for the duration of fn
func withDB(ctx context.Context, env *Env, fn func(db *sql.DB) error) error {
	if env.Open == nil {
		return errors.New("no database configured")
	}
	db, err := env.Open(ctx)
	if err != nil {
		return err
	}
	defer db.Close()
	return fn(db)
}
