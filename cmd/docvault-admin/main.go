package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gaspipe/docvault/pkg/cli"
	"github.com/gaspipe/docvault/pkg/storage/postgres"
)

var dbURL = flag.String("db-url", os.Getenv("DOCVAULT_POSTGRES_URL"), "PostgreSQL connection URL")

func main() {
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := cli.NewRootCommand(&cli.Env{
		Open: func(ctx context.Context) (*sql.DB, error) {
			if *dbURL == "" {
				return nil, fmt.Errorf("database URL is required (--db-url or DOCVAULT_POSTGRES_URL)")
			}
			return postgres.Open(ctx, postgres.DefaultConnectionConfig(*dbURL))
		},
	})

	if err := root.Execute(ctx, flag.Args()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
