package orgs

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/gaspipe/docvault/pkg/storage/postgres"
)

const departmentColumns = `id, service_id, parent_id, level, name, code, created_at`

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanDepartment(row rowScanner) (*Department, error) {
	var (
		d        Department
		parentID sql.NullInt64
	)
	if err := row.Scan(&d.ID, &d.ServiceID, &parentID, &d.Level, &d.Name, &d.Code, &d.CreatedAt); err != nil {
		return nil, err
	}
	if parentID.Valid {
		id := parentID.Int64
		d.ParentID = &id
	}
	return &d, nil
}

func getDepartment(ctx context.Context, q queryer, id int64) (*Department, error) {
	d, err := scanDepartment(q.QueryRowContext(ctx,
		`SELECT `+departmentColumns+` FROM departments WHERE id = $1`, id))
	if isNoRows(err) {
		return nil, fmt.Errorf("department %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get department: %w", err)
	}
	return d, nil
}

func listDepartments(ctx context.Context, q queryer, serviceID int64) ([]Department, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT `+departmentColumns+` FROM departments WHERE service_id = $1 ORDER BY level, name, id`, serviceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list departments: %w", err)
	}
	defer rows.Close()

	depts := make([]Department, 0)
	for rows.Next() {
		d, err := scanDepartment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan department: %w", err)
		}
		depts = append(depts, *d)
	}
	return depts, rows.Err()
}

// ListDepartments returns the departments of a service ordered by level
func (s *Store) ListDepartments(ctx context.Context, serviceID int64) ([]Department, error) {
	return listDepartments(ctx, s.db, serviceID)
}

// DepartmentTree returns the department forest of a service
func (s *Store) DepartmentTree(ctx context.Context, serviceID int64) ([]*DepartmentNode, error) {
	depts, err := listDepartments(ctx, s.db, serviceID)
	if err != nil {
		return nil, err
	}
	return BuildTree(depts), nil
}

// CreateDepartment inserts a department. A parent must belong to the same service.
func (s *Store) CreateDepartment(ctx context.Context, req CreateDepartmentRequest) (*Department, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" || req.ServiceID <= 0 {
		return nil, fmt.Errorf("%w: service_id and name are required", ErrInvalidInput)
	}

	level := 0
	if req.ParentID != nil {
		parent, err := getDepartment(ctx, s.db, *req.ParentID)
		if err != nil {
			return nil, err
		}
		if parent.ServiceID != req.ServiceID {
			return nil, fmt.Errorf("%w: parent department %d belongs to service %d", ErrInvalidInput, parent.ID, parent.ServiceID)
		}
		level = parent.Level + 1
	}

	d, err := scanDepartment(s.db.QueryRowContext(ctx, `
		INSERT INTO departments (service_id, parent_id, level, name, code)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+departmentColumns,
		req.ServiceID, req.ParentID, level, name, strings.TrimSpace(req.Code)))
	if err != nil {
		if postgres.IsForeignKeyViolation(err) {
			return nil, fmt.Errorf("service %d: %w", req.ServiceID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to create department: %w", err)
	}
	return d, nil
}

// MoveDepartment re-parents a department within its service. A nil parent
// makes it a root. Levels of the moved subtree are recomputed.
func (s *Store) MoveDepartment(ctx context.Context, id int64, parentID *int64) (*Department, error) {
	var moved *Department
	err := postgres.InTx(ctx, s.db, func(tx *sql.Tx) error {
		dept, err := getDepartment(ctx, tx, id)
		if err != nil {
			return err
		}

		// Lock the service's tree so concurrent moves cannot interleave into a cycle.
		if _, err := tx.ExecContext(ctx,
			`SELECT id FROM departments WHERE service_id = $1 FOR UPDATE`, dept.ServiceID); err != nil {
			return fmt.Errorf("failed to lock departments: %w", err)
		}
		depts, err := listDepartments(ctx, tx, dept.ServiceID)
		if err != nil {
			return err
		}
		tree := newForest(depts)

		if parentID != nil {
			parent, ok := tree[*parentID]
			if !ok {
				if _, err := getDepartment(ctx, tx, *parentID); err != nil {
					return err
				}
				return fmt.Errorf("%w: parent department %d belongs to another service", ErrInvalidInput, *parentID)
			}
			if tree.wouldCycle(id, parent.ID) {
				return ErrCycle
			}
		}

		before := tree.levels()
		tree[id].ParentID = parentID
		after := tree.levels()

		if _, err := tx.ExecContext(ctx,
			`UPDATE departments SET parent_id = $1, level = $2 WHERE id = $3`, parentID, after[id], id); err != nil {
			return fmt.Errorf("failed to move department: %w", err)
		}
		for deptID, level := range after {
			if deptID == id || before[deptID] == level {
				continue
			}
			if _, err := tx.ExecContext(ctx,
				`UPDATE departments SET level = $1 WHERE id = $2`, level, deptID); err != nil {
				return fmt.Errorf("failed to update department level: %w", err)
			}
		}

		moved = tree[id]
		moved.Level = after[id]
		return nil
	})
	if err != nil {
		return nil, err
	}
	return moved, nil
}

// DeleteDepartment removes a department without children
func (s *Store) DeleteDepartment(ctx context.Context, id int64) error {
	var children int64
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM departments WHERE parent_id = $1`, id).Scan(&children); err != nil {
		return fmt.Errorf("failed to check department children: %w", err)
	}
	if children > 0 {
		return fmt.Errorf("department %d is referenced by %s: %w", id,
			describeRefs(map[string]int64{"child departments": children}), ErrResourceInUse)
	}
	return s.deleteByID(ctx, "departments", id)
}
