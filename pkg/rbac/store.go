package rbac

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/gaspipe/docvault/pkg/cache"
	"github.com/gaspipe/docvault/pkg/storage/postgres"
	"github.com/lib/pq"
)

const roleColumns = `id, name, description, is_system, created_at, updated_at`

// queryer is satisfied by both *sql.DB and *sql.Tx
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Store administers roles, permissions and role assignments
type Store struct {
	db       *sql.DB
	registry *Registry
	cache    cache.Cache
}

// NewStore creates an RBAC store. Writes are validated against registry and
// every change to the role graph invalidates c.
func NewStore(db *sql.DB, registry *Registry, c cache.Cache) *Store {
	if c == nil {
		c = cache.NewNoop()
	}
	return &Store{db: db, registry: registry, cache: c}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRole(row rowScanner) (*Role, error) {
	var r Role
	if err := row.Scan(&r.ID, &r.Name, &r.Description, &r.IsSystem, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *Store) validate(caps []Capability) error {
	if s.registry == nil {
		return nil
	}
	for _, c := range caps {
		if err := s.registry.Validate(c.Module, c.Action); err != nil {
			return err
		}
	}
	return nil
}

// ListRoles returns all roles ordered by name
func (s *Store) ListRoles(ctx context.Context) ([]Role, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+roleColumns+` FROM roles ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list roles: %w", err)
	}
	defer rows.Close()

	roles := make([]Role, 0)
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan role: %w", err)
		}
		roles = append(roles, *role)
	}
	return roles, rows.Err()
}

// GetRole returns a role with its permissions
func (s *Store) GetRole(ctx context.Context, id int64) (*RoleDetail, error) {
	role, err := scanRole(s.db.QueryRowContext(ctx, `SELECT `+roleColumns+` FROM roles WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("role %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get role: %w", err)
	}

	perms, err := rolePermissions(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	return &RoleDetail{Role: *role, Permissions: perms}, nil
}

func rolePermissions(ctx context.Context, q queryer, roleID int64) ([]Permission, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT p.id, p.module, p.action, p.description
		FROM permissions p
		JOIN role_permissions rp ON rp.permission_id = p.id
		WHERE rp.role_id = $1
		ORDER BY p.module, p.action, p.id`, roleID)
	if err != nil {
		return nil, fmt.Errorf("failed to load role permissions: %w", err)
	}
	defer rows.Close()
	return scanPermissions(rows)
}

func scanPermissions(rows *sql.Rows) ([]Permission, error) {
	perms := make([]Permission, 0)
	for rows.Next() {
		var p Permission
		if err := rows.Scan(&p.ID, &p.Module, &p.Action, &p.Description); err != nil {
			return nil, fmt.Errorf("failed to scan permission: %w", err)
		}
		perms = append(perms, p)
	}
	return perms, rows.Err()
}

// CreateRole inserts a custom role and its initial permissions
func (s *Store) CreateRole(ctx context.Context, req CreateRoleRequest) (*RoleDetail, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: role name is required", ErrInvalidInput)
	}
	if err := s.validate(req.Permissions); err != nil {
		return nil, err
	}

	var detail *RoleDetail
	err := postgres.InTx(ctx, s.db, func(tx *sql.Tx) error {
		role, err := scanRole(tx.QueryRowContext(ctx, `
			INSERT INTO roles (name, description, is_system)
			VALUES ($1, $2, FALSE)
			RETURNING `+roleColumns, name, strings.TrimSpace(req.Description)))
		if err != nil {
			if postgres.IsUniqueViolation(err) {
				return fmt.Errorf("role %q: %w", name, ErrAlreadyExists)
			}
			return fmt.Errorf("failed to create role: %w", err)
		}

		perms, err := replaceRolePermissions(ctx, tx, role.ID, req.Permissions)
		if err != nil {
			return err
		}
		detail = &RoleDetail{Role: *role, Permissions: perms}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return detail, nil
}

// UpdateRole changes a role's name or description. System roles keep their name.
func (s *Store) UpdateRole(ctx context.Context, id int64, req UpdateRoleRequest) (*Role, error) {
	current, err := scanRole(s.db.QueryRowContext(ctx, `SELECT `+roleColumns+` FROM roles WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("role %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get role: %w", err)
	}

	name := current.Name
	if req.Name != nil {
		name = strings.TrimSpace(*req.Name)
		if name == "" {
			return nil, fmt.Errorf("%w: role name is required", ErrInvalidInput)
		}
		if current.IsSystem && name != current.Name {
			return nil, ErrSystemRole
		}
	}
	description := current.Description
	if req.Description != nil {
		description = strings.TrimSpace(*req.Description)
	}

	role, err := scanRole(s.db.QueryRowContext(ctx, `
		UPDATE roles SET name = $1, description = $2, updated_at = NOW()
		WHERE id = $3
		RETURNING `+roleColumns, name, description, id))
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return nil, fmt.Errorf("role %q: %w", name, ErrAlreadyExists)
		}
		return nil, fmt.Errorf("failed to update role: %w", err)
	}
	return role, nil
}

// DeleteRole removes a custom role along with its grants and assignments
func (s *Store) DeleteRole(ctx context.Context, id int64) error {
	if err := s.requireMutable(ctx, s.db, id); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM roles WHERE id = $1 AND NOT is_system`, id); err != nil {
		return fmt.Errorf("failed to delete role: %w", err)
	}
	cache.Bust(ctx, s.cache)
	return nil
}

// requireMutable fails with ErrNotFound or ErrSystemRole unless the role may be changed
func (s *Store) requireMutable(ctx context.Context, q queryer, roleID int64) error {
	var isSystem bool
	err := q.QueryRowContext(ctx, `SELECT is_system FROM roles WHERE id = $1`, roleID).Scan(&isSystem)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("role %d: %w", roleID, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to get role: %w", err)
	}
	if isSystem {
		return ErrSystemRole
	}
	return nil
}

// ListPermissions returns every stored permission row
func (s *Store) ListPermissions(ctx context.Context) ([]Permission, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, module, action, description FROM permissions ORDER BY module, action, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list permissions: %w", err)
	}
	defer rows.Close()
	return scanPermissions(rows)
}

// CreatePermission stores a registered capability, returning the existing
// row when the pair is already present
func (s *Store) CreatePermission(ctx context.Context, c Capability, description string) (*Permission, error) {
	if err := s.validate([]Capability{c}); err != nil {
		return nil, err
	}
	return ensurePermission(ctx, s.db, c, description)
}

func ensurePermission(ctx context.Context, q queryer, c Capability, description string) (*Permission, error) {
	p := Permission{Module: c.Module, Action: c.Action}
	err := q.QueryRowContext(ctx, `
		SELECT id, description FROM permissions
		WHERE module = $1 AND action = $2
		ORDER BY id
		LIMIT 1`, c.Module, c.Action).Scan(&p.ID, &p.Description)
	if err == nil {
		return &p, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to look up permission %s: %w", c, err)
	}

	p.Description = description
	if err := q.QueryRowContext(ctx, `
		INSERT INTO permissions (module, action, description)
		VALUES ($1, $2, $3)
		RETURNING id`, c.Module, c.Action, description).Scan(&p.ID); err != nil {
		return nil, fmt.Errorf("failed to create permission %s: %w", c, err)
	}
	return &p, nil
}

// replaceRolePermissions makes caps the exact permission set of roleID
func replaceRolePermissions(ctx context.Context, tx *sql.Tx, roleID int64, caps []Capability) ([]Permission, error) {
	if _, err := tx.ExecContext(ctx, `DELETE FROM role_permissions WHERE role_id = $1`, roleID); err != nil {
		return nil, fmt.Errorf("failed to clear role permissions: %w", err)
	}

	seen := make(map[Capability]bool, len(caps))
	perms := make([]Permission, 0, len(caps))
	for _, c := range caps {
		if seen[c] {
			continue
		}
		seen[c] = true

		p, err := ensurePermission(ctx, tx, c, "")
		if err != nil {
			return nil, err
		}
		perms = append(perms, *p)
	}
	if len(perms) == 0 {
		return perms, nil
	}

	ids := make([]int64, len(perms))
	for i, p := range perms {
		ids[i] = p.ID
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO role_permissions (role_id, permission_id)
		SELECT $1::bigint, unnest($2::bigint[])`, roleID, pq.Array(ids)); err != nil {
		return nil, fmt.Errorf("failed to grant role permissions: %w", err)
	}
	return perms, nil
}

// SetRolePermissions replaces the permission set of a custom role
func (s *Store) SetRolePermissions(ctx context.Context, roleID int64, caps []Capability) ([]Permission, error) {
	if err := s.validate(caps); err != nil {
		return nil, err
	}

	var perms []Permission
	err := postgres.InTx(ctx, s.db, func(tx *sql.Tx) error {
		if err := s.requireMutable(ctx, tx, roleID); err != nil {
			return err
		}
		var err error
		perms, err = replaceRolePermissions(ctx, tx, roleID, caps)
		return err
	})
	if err != nil {
		return nil, err
	}
	cache.Bust(ctx, s.cache)
	return perms, nil
}

// AddRolePermission grants one stored permission to a custom role
func (s *Store) AddRolePermission(ctx context.Context, roleID, permissionID int64) error {
	if err := s.requireMutable(ctx, s.db, roleID); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO role_permissions (role_id, permission_id)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING`, roleID, permissionID)
	if err != nil {
		if postgres.IsForeignKeyViolation(err) {
			return fmt.Errorf("permission %d: %w", permissionID, ErrNotFound)
		}
		return fmt.Errorf("failed to add role permission: %w", err)
	}
	cache.Bust(ctx, s.cache)
	return nil
}

// RemoveRolePermission revokes one permission from a custom role
func (s *Store) RemoveRolePermission(ctx context.Context, roleID, permissionID int64) error {
	if err := s.requireMutable(ctx, s.db, roleID); err != nil {
		return err
	}
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM role_permissions WHERE role_id = $1 AND permission_id = $2`, roleID, permissionID)
	if err != nil {
		return fmt.Errorf("failed to remove role permission: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("permission %d on role %d: %w", permissionID, roleID, ErrNotFound)
	}
	cache.Bust(ctx, s.cache)
	return nil
}

// AssignRole gives a user a role. Assigning an already held role is a no-op.
func (s *Store) AssignRole(ctx context.Context, userID, roleID int64, assignedBy *int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_roles (user_id, role_id, assigned_by)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, role_id) DO NOTHING`, userID, roleID, assignedBy)
	if err != nil {
		if postgres.IsForeignKeyViolation(err) {
			return fmt.Errorf("user %d or role %d: %w", userID, roleID, ErrNotFound)
		}
		return fmt.Errorf("failed to assign role: %w", err)
	}
	cache.Bust(ctx, s.cache)
	return nil
}

// RevokeRole removes a role from a user
func (s *Store) RevokeRole(ctx context.Context, userID, roleID int64) error {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM user_roles WHERE user_id = $1 AND role_id = $2`, userID, roleID)
	if err != nil {
		return fmt.Errorf("failed to revoke role: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("role %d for user %d: %w", roleID, userID, ErrNotFound)
	}
	cache.Bust(ctx, s.cache)
	return nil
}

// SeedSystemRoles creates or refreshes the admin and viewer roles so that
// admin holds every registered capability and viewer every view capability
func (s *Store) SeedSystemRoles(ctx context.Context) error {
	if s.registry == nil {
		return fmt.Errorf("%w: seeding system roles requires a capability registry", ErrInvalidInput)
	}
	all := s.registry.Capabilities()
	views := make([]Capability, 0)
	for _, c := range all {
		if c.Action == "view" {
			views = append(views, c)
		}
	}

	seeds := []struct {
		name, description string
		caps              []Capability
	}{
		{RoleAdmin, "Full access to every module", all},
		{RoleViewer, "Read-only access to every module", views},
	}

	err := postgres.InTx(ctx, s.db, func(tx *sql.Tx) error {
		for _, seed := range seeds {
			var roleID int64
			if err := tx.QueryRowContext(ctx, `
				INSERT INTO roles (name, description, is_system)
				VALUES ($1, $2, TRUE)
				ON CONFLICT (name) DO UPDATE SET is_system = TRUE, updated_at = NOW()
				RETURNING id`, seed.name, seed.description).Scan(&roleID); err != nil {
				return fmt.Errorf("failed to seed role %s: %w", seed.name, err)
			}
			if _, err := replaceRolePermissions(ctx, tx, roleID, seed.caps); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	cache.Bust(ctx, s.cache)
	return nil
}

// RoleID looks up a role by name
func (s *Store) RoleID(ctx context.Context, name string) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `SELECT id FROM roles WHERE name = $1`, name).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("role %q: %w", name, ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get role: %w", err)
	}
	return id, nil
}

// RoleMemberCount returns how many users hold the named role
func (s *Store) RoleMemberCount(ctx context.Context, name string) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM user_roles ur
		JOIN roles r ON r.id = ur.role_id
		WHERE r.name = $1`, name).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count role members: %w", err)
	}
	return n, nil
}
