package orgs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/gaspipe/docvault/pkg/cache"
	"github.com/gaspipe/docvault/pkg/storage/postgres"
)

// Store persists the organizational structure and scope grants
type Store struct {
	db    *sql.DB
	cache cache.Cache
}

// NewStore creates an org store. Grant changes invalidate c.
func NewStore(db *sql.DB, c cache.Cache) *Store {
	if c == nil {
		c = cache.NewNoop()
	}
	return &Store{db: db, cache: c}
}

// ListUmgs returns all UMGs ordered by name
func (s *Store) ListUmgs(ctx context.Context) ([]Umg, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, code, description, created_at FROM umgs ORDER BY name, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list umgs: %w", err)
	}
	defer rows.Close()

	umgs := make([]Umg, 0)
	for rows.Next() {
		var u Umg
		if err := rows.Scan(&u.ID, &u.Name, &u.Code, &u.Description, &u.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan umg: %w", err)
		}
		umgs = append(umgs, u)
	}
	return umgs, rows.Err()
}

// CreateUmg inserts a UMG; codes are unique
func (s *Store) CreateUmg(ctx context.Context, req CreateUmgRequest) (*Umg, error) {
	name, code := strings.TrimSpace(req.Name), strings.TrimSpace(req.Code)
	if name == "" || code == "" {
		return nil, fmt.Errorf("%w: name and code are required", ErrInvalidInput)
	}

	u := Umg{Name: name, Code: code, Description: strings.TrimSpace(req.Description)}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO umgs (name, code, description)
		VALUES ($1, $2, $3)
		RETURNING id, created_at`, u.Name, u.Code, u.Description).Scan(&u.ID, &u.CreatedAt)
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return nil, fmt.Errorf("umg code %q: %w", code, ErrAlreadyExists)
		}
		return nil, fmt.Errorf("failed to create umg: %w", err)
	}
	return &u, nil
}

// DeleteUmg removes a UMG that nothing references
func (s *Store) DeleteUmg(ctx context.Context, id int64) error {
	var services, objects, documents, grants int64
	err := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM services WHERE umg_id = $1),
			(SELECT COUNT(*) FROM pipeline_objects WHERE umg_id = $1),
			(SELECT COUNT(*) FROM documents WHERE umg_id = $1),
			(SELECT COUNT(*) FROM user_umg_access WHERE umg_id = $1)`, id).
		Scan(&services, &objects, &documents, &grants)
	if err != nil {
		return fmt.Errorf("failed to check umg references: %w", err)
	}
	if refs := describeRefs(map[string]int64{
		"services": services, "objects": objects, "documents": documents, "user grants": grants,
	}); refs != "" {
		return fmt.Errorf("umg %d is referenced by %s: %w", id, refs, ErrResourceInUse)
	}

	return s.deleteByID(ctx, "umgs", id)
}

// ListServices returns services, optionally restricted to one UMG
func (s *Store) ListServices(ctx context.Context, umgID *int64) ([]Service, error) {
	query := `SELECT id, umg_id, name, code, description, created_at FROM services`
	var args []interface{}
	if umgID != nil {
		query += ` WHERE umg_id = $1`
		args = append(args, *umgID)
	}
	query += ` ORDER BY name, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list services: %w", err)
	}
	defer rows.Close()

	services := make([]Service, 0)
	for rows.Next() {
		var svc Service
		if err := rows.Scan(&svc.ID, &svc.UmgID, &svc.Name, &svc.Code, &svc.Description, &svc.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan service: %w", err)
		}
		services = append(services, svc)
	}
	return services, rows.Err()
}

// CreateService inserts a service under an existing UMG
func (s *Store) CreateService(ctx context.Context, req CreateServiceRequest) (*Service, error) {
	name, code := strings.TrimSpace(req.Name), strings.TrimSpace(req.Code)
	if name == "" || code == "" || req.UmgID <= 0 {
		return nil, fmt.Errorf("%w: umg_id, name and code are required", ErrInvalidInput)
	}

	svc := Service{UmgID: req.UmgID, Name: name, Code: code, Description: strings.TrimSpace(req.Description)}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO services (umg_id, name, code, description)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at`, svc.UmgID, svc.Name, svc.Code, svc.Description).Scan(&svc.ID, &svc.CreatedAt)
	if err != nil {
		switch {
		case postgres.IsUniqueViolation(err):
			return nil, fmt.Errorf("service code %q in umg %d: %w", code, req.UmgID, ErrAlreadyExists)
		case postgres.IsForeignKeyViolation(err):
			return nil, fmt.Errorf("umg %d: %w", req.UmgID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to create service: %w", err)
	}
	// UMG-derived scopes now include the new service
	cache.Bust(ctx, s.cache)
	return &svc, nil
}

// DeleteService removes a service that nothing references
func (s *Store) DeleteService(ctx context.Context, id int64) error {
	var departments, documents, objects, grants int64
	err := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM departments WHERE service_id = $1),
			(SELECT COUNT(*) FROM document_services WHERE service_id = $1),
			(SELECT COUNT(*) FROM object_services WHERE service_id = $1),
			(SELECT COUNT(*) FROM user_service_access WHERE service_id = $1)`, id).
		Scan(&departments, &documents, &objects, &grants)
	if err != nil {
		return fmt.Errorf("failed to check service references: %w", err)
	}
	if refs := describeRefs(map[string]int64{
		"departments": departments, "documents": documents, "objects": objects, "user grants": grants,
	}); refs != "" {
		return fmt.Errorf("service %d is referenced by %s: %w", id, refs, ErrResourceInUse)
	}

	if err := s.deleteByID(ctx, "services", id); err != nil {
		return err
	}
	cache.Bust(ctx, s.cache)
	return nil
}

// deleteByID deletes one row; a foreign key failure from a reference added
// after validation is still reported as ErrResourceInUse
func (s *Store) deleteByID(ctx context.Context, table string, id int64) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM `+table+` WHERE id = $1`, id)
	if err != nil {
		if postgres.IsForeignKeyViolation(err) {
			return fmt.Errorf("%s %d: %w", table, id, ErrResourceInUse)
		}
		return fmt.Errorf("failed to delete from %s: %w", table, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s %d: %w", table, id, ErrNotFound)
	}
	return nil
}

// describeRefs renders non-zero reference counts in a stable order
func describeRefs(counts map[string]int64) string {
	order := []string{"services", "departments", "child departments", "objects", "documents", "user grants"}
	var parts []string
	for _, name := range order {
		if n := counts[name]; n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", n, name))
		}
	}
	return strings.Join(parts, ", ")
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
