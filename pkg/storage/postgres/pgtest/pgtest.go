//go:build integration

// Package pgtest starts a migrated PostgreSQL database for integration tests.
package pgtest

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	"github.com/gaspipe/docvault/pkg/storage/postgres"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// DatabaseURLEnv points the integration tests at an existing database
// instead of a container, as CI does.
const DatabaseURLEnv = "DOCVAULT_TEST_DATABASE_URL"

// Setup returns a migrated database. It connects to DOCVAULT_TEST_DATABASE_URL
// when set and otherwise starts a throwaway container, skipping the test when
// no container runtime is available. Cleanup is registered on t.
func Setup(t *testing.T) *sql.DB {
	t.Helper()
	ctx := context.Background()

	connStr := os.Getenv(DatabaseURLEnv)
	if connStr == "" {
		connStr = startContainer(t)
	}

	db, err := postgres.Open(ctx, postgres.DefaultConnectionConfig(connStr))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, postgres.Migrate(ctx, db), "failed to run migrations")
	return db
}

// Truncate empties the given tables between tests sharing one database
func Truncate(t *testing.T, db *sql.DB, tables ...string) {
	t.Helper()
	for _, table := range tables {
		_, err := db.Exec("TRUNCATE " + table + " RESTART IDENTITY CASCADE")
		require.NoError(t, err)
	}
}

func startContainer(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	provider, err := testcontainers.ProviderDocker.GetProvider()
	if err != nil {
		t.Skip("Docker/Podman not available, skipping integration tests")
	}
	provider.Close()

	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("docvault_test"),
		tcpostgres.WithUsername("docvault"),
		tcpostgres.WithPassword("docvault_test_password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	if err != nil {
		t.Skipf("Failed to start PostgreSQL container: %v", err)
	}
	t.Cleanup(func() {
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := container.Terminate(cleanupCtx); err != nil {
			t.Logf("Warning: failed to terminate container: %v", err)
		}
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	return connStr
}
