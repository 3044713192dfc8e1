package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log"
)

// migrationLockID is the advisory lock key held while migrating so that
// concurrently starting replicas apply the schema once.
const migrationLockID = 7461203

// Migration represents a database migration
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// Migrations returns the docvault schema in application order
func Migrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create users table",
			SQL: `
				CREATE TABLE IF NOT EXISTS users (
					id BIGSERIAL PRIMARY KEY,
					username VARCHAR(100) NOT NULL UNIQUE,
					password_hash TEXT NOT NULL,
					full_name VARCHAR(255) NOT NULL DEFAULT '',
					email VARCHAR(255) NOT NULL DEFAULT '',
					status VARCHAR(20) NOT NULL DEFAULT 'active'
						CHECK (status IN ('active', 'inactive', 'suspended')),
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					last_login_at TIMESTAMPTZ
				);
			`,
		},
		{
			Version:     2,
			Description: "Create role and permission graph",
			SQL: `
				CREATE TABLE IF NOT EXISTS roles (
					id BIGSERIAL PRIMARY KEY,
					name VARCHAR(100) NOT NULL UNIQUE,
					description TEXT NOT NULL DEFAULT '',
					is_system BOOLEAN NOT NULL DEFAULT FALSE,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);

				-- (module, action) is deliberately not unique; the capability
				-- registry guards writes instead.
				CREATE TABLE IF NOT EXISTS permissions (
					id BIGSERIAL PRIMARY KEY,
					module VARCHAR(50) NOT NULL,
					action VARCHAR(50) NOT NULL,
					description TEXT NOT NULL DEFAULT '',
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);
				CREATE INDEX IF NOT EXISTS idx_permissions_module_action ON permissions(module, action);

				CREATE TABLE IF NOT EXISTS role_permissions (
					role_id BIGINT NOT NULL REFERENCES roles(id) ON DELETE CASCADE,
					permission_id BIGINT NOT NULL REFERENCES permissions(id) ON DELETE CASCADE,
					PRIMARY KEY (role_id, permission_id)
				);

				CREATE TABLE IF NOT EXISTS user_roles (
					user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
					role_id BIGINT NOT NULL REFERENCES roles(id) ON DELETE CASCADE,
					assigned_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					assigned_by BIGINT REFERENCES users(id) ON DELETE SET NULL,
					PRIMARY KEY (user_id, role_id)
				);
				CREATE INDEX IF NOT EXISTS idx_user_roles_role_id ON user_roles(role_id);
			`,
		},
		{
			Version:     3,
			Description: "Create organizational structure",
			SQL: `
				CREATE TABLE IF NOT EXISTS umgs (
					id BIGSERIAL PRIMARY KEY,
					name VARCHAR(255) NOT NULL,
					code VARCHAR(50) NOT NULL UNIQUE,
					description TEXT NOT NULL DEFAULT '',
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);

				CREATE TABLE IF NOT EXISTS services (
					id BIGSERIAL PRIMARY KEY,
					umg_id BIGINT NOT NULL REFERENCES umgs(id),
					name VARCHAR(255) NOT NULL,
					code VARCHAR(50) NOT NULL,
					description TEXT NOT NULL DEFAULT '',
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					UNIQUE (umg_id, code)
				);

				-- The composite key lets the parent reference pin the parent
				-- to the child's service.
				CREATE TABLE IF NOT EXISTS departments (
					id BIGSERIAL PRIMARY KEY,
					service_id BIGINT NOT NULL REFERENCES services(id),
					parent_id BIGINT,
					level INT NOT NULL DEFAULT 0,
					name VARCHAR(255) NOT NULL,
					code VARCHAR(50) NOT NULL DEFAULT '',
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					UNIQUE (id, service_id),
					FOREIGN KEY (parent_id, service_id) REFERENCES departments(id, service_id)
				);
				CREATE INDEX IF NOT EXISTS idx_departments_service_id ON departments(service_id);

				CREATE TABLE IF NOT EXISTS user_service_access (
					user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
					service_id BIGINT NOT NULL REFERENCES services(id),
					granted_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					granted_by BIGINT REFERENCES users(id) ON DELETE SET NULL,
					PRIMARY KEY (user_id, service_id)
				);

				CREATE TABLE IF NOT EXISTS user_umg_access (
					user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
					umg_id BIGINT NOT NULL REFERENCES umgs(id),
					granted_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					granted_by BIGINT REFERENCES users(id) ON DELETE SET NULL,
					PRIMARY KEY (user_id, umg_id)
				);
			`,
		},
		{
			Version:     4,
			Description: "Create pipeline objects and documents",
			SQL: `
				CREATE EXTENSION IF NOT EXISTS pg_trgm;

				CREATE TABLE IF NOT EXISTS document_categories (
					id BIGSERIAL PRIMARY KEY,
					name VARCHAR(255) NOT NULL,
					code VARCHAR(50) NOT NULL UNIQUE
				);

				CREATE TABLE IF NOT EXISTS pipeline_objects (
					id BIGSERIAL PRIMARY KEY,
					umg_id BIGINT NOT NULL REFERENCES umgs(id),
					name VARCHAR(255) NOT NULL,
					type VARCHAR(50) NOT NULL,
					qr_code VARCHAR(64) NOT NULL UNIQUE,
					status VARCHAR(20) NOT NULL DEFAULT 'active'
						CHECK (status IN ('active', 'maintenance', 'inactive')),
					location TEXT NOT NULL DEFAULT '',
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);

				CREATE TABLE IF NOT EXISTS documents (
					id BIGSERIAL PRIMARY KEY,
					name VARCHAR(500) NOT NULL,
					file_name VARCHAR(500) NOT NULL,
					category_id BIGINT NOT NULL REFERENCES document_categories(id),
					umg_id BIGINT NOT NULL REFERENCES umgs(id),
					object_id BIGINT REFERENCES pipeline_objects(id) ON DELETE SET NULL,
					version INT NOT NULL DEFAULT 1,
					tags TEXT[] NOT NULL DEFAULT '{}',
					uploaded_by BIGINT REFERENCES users(id),
					text_content TEXT NOT NULL DEFAULT '',
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					search_vector tsvector GENERATED ALWAYS AS (
						setweight(to_tsvector('russian'::regconfig, coalesce(name, '')), 'A') ||
						setweight(to_tsvector('russian'::regconfig, coalesce(file_name, '')), 'B') ||
						setweight(to_tsvector('russian'::regconfig, coalesce(text_content, '')), 'C')
					) STORED
				);
				CREATE INDEX IF NOT EXISTS idx_documents_search_vector ON documents USING GIN(search_vector);
				CREATE INDEX IF NOT EXISTS idx_documents_name_trgm ON documents USING GIN(name gin_trgm_ops);
				CREATE INDEX IF NOT EXISTS idx_documents_tags ON documents USING GIN(tags);
				CREATE INDEX IF NOT EXISTS idx_documents_created_at ON documents(created_at DESC);

				CREATE TABLE IF NOT EXISTS document_services (
					document_id BIGINT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
					service_id BIGINT NOT NULL REFERENCES services(id),
					can_view BOOLEAN NOT NULL DEFAULT TRUE,
					can_edit BOOLEAN NOT NULL DEFAULT FALSE,
					can_delete BOOLEAN NOT NULL DEFAULT FALSE,
					PRIMARY KEY (document_id, service_id)
				);
				CREATE INDEX IF NOT EXISTS idx_document_services_service ON document_services(service_id) WHERE can_view;

				CREATE TABLE IF NOT EXISTS object_services (
					object_id BIGINT NOT NULL REFERENCES pipeline_objects(id) ON DELETE CASCADE,
					service_id BIGINT NOT NULL REFERENCES services(id),
					can_view BOOLEAN NOT NULL DEFAULT TRUE,
					can_edit BOOLEAN NOT NULL DEFAULT FALSE,
					PRIMARY KEY (object_id, service_id)
				);
				CREATE INDEX IF NOT EXISTS idx_object_services_service ON object_services(service_id) WHERE can_view;
			`,
		},
		{
			Version:     5,
			Description: "Create append-only audit log",
			SQL: `
				CREATE TABLE IF NOT EXISTS audit_logs (
					id BIGSERIAL PRIMARY KEY,
					user_id BIGINT,
					action VARCHAR(100) NOT NULL,
					resource VARCHAR(100) NOT NULL,
					resource_id VARCHAR(100) NOT NULL DEFAULT '',
					success BOOLEAN NOT NULL,
					timestamp TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					details JSONB NOT NULL DEFAULT '{}',
					ip_address VARCHAR(64) NOT NULL DEFAULT '',
					user_agent TEXT NOT NULL DEFAULT ''
				);
				CREATE INDEX IF NOT EXISTS idx_audit_logs_timestamp ON audit_logs(timestamp DESC);
				CREATE INDEX IF NOT EXISTS idx_audit_logs_user_id ON audit_logs(user_id);
				CREATE INDEX IF NOT EXISTS idx_audit_logs_resource ON audit_logs(resource, resource_id);

				CREATE OR REPLACE FUNCTION audit_logs_immutable() RETURNS trigger AS $$
				BEGIN
					RAISE EXCEPTION 'audit_logs is append-only';
				END;
				$$ LANGUAGE plpgsql;

				DROP TRIGGER IF EXISTS trg_audit_logs_immutable ON audit_logs;
				CREATE TRIGGER trg_audit_logs_immutable
					BEFORE UPDATE OR DELETE ON audit_logs
					FOR EACH ROW EXECUTE FUNCTION audit_logs_immutable();
			`,
		},
	}
}

// Migrate applies every pending migration, each in its own transaction
func Migrate(ctx context.Context, db *sql.DB) error {
	conn, err := db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire connection: %w", err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, "SELECT pg_advisory_lock($1)", migrationLockID); err != nil {
		return fmt.Errorf("failed to acquire migration lock: %w", err)
	}
	defer conn.ExecContext(context.Background(), "SELECT pg_advisory_unlock($1)", migrationLockID)

	if _, err := conn.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INT PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	applied, err := appliedVersions(ctx, conn)
	if err != nil {
		return err
	}

	for _, migration := range Migrations() {
		if applied[migration.Version] {
			continue
		}

		log.Printf("Running migration %d: %s", migration.Version, migration.Description)

		tx, err := conn.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to start transaction: %w", err)
		}
		if _, err := tx.ExecContext(ctx, migration.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to execute migration %d: %w", migration.Version, err)
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO schema_migrations (version, description) VALUES ($1, $2)",
			migration.Version, migration.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, err)
		}
	}

	return nil
}

func appliedVersions(ctx context.Context, conn *sql.Conn) (map[int]bool, error) {
	rows, err := conn.QueryContext(ctx, "SELECT version FROM schema_migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to query applied migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			return nil, fmt.Errorf("failed to scan migration version: %w", err)
		}
		applied[version] = true
	}
	return applied, rows.Err()
}
