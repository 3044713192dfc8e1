package documents

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/gaspipe/docvault/pkg/storage/postgres"
	"github.com/google/uuid"
	"github.com/lib/pq"
)

// ObjectColumns selects every object field from a table aliased o,
// in the order ScanObject expects
const ObjectColumns = `o.id, o.umg_id, o.name, o.type, o.qr_code, o.status, o.location, o.created_at, o.updated_at`

// qrPrefix marks codes printed on docvault object labels
const qrPrefix = "DV-"

// ScanObject reads one row selected with ObjectColumns
func ScanObject(row RowScanner) (*PipelineObject, error) {
	var (
		o      PipelineObject
		status string
	)
	if err := row.Scan(&o.ID, &o.UmgID, &o.Name, &o.Type, &o.QRCode, &status,
		&o.Location, &o.CreatedAt, &o.UpdatedAt); err != nil {
		return nil, err
	}
	o.Status = ObjectStatus(status)
	return &o, nil
}

// NewQRCode returns a fresh label code for an object
func NewQRCode() string {
	return qrPrefix + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))
}

// GetObject returns one object regardless of scope
func (s *Store) GetObject(ctx context.Context, id int64) (*PipelineObject, error) {
	return s.getObject(ctx, `o.id = $1`, id)
}

// GetObjectByQR resolves a scanned label code
func (s *Store) GetObjectByQR(ctx context.Context, code string) (*PipelineObject, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, fmt.Errorf("%w: qr code is required", ErrInvalidInput)
	}
	return s.getObject(ctx, `o.qr_code = $1`, code)
}

func (s *Store) getObject(ctx context.Context, where string, arg interface{}) (*PipelineObject, error) {
	o, err := ScanObject(s.db.QueryRowContext(ctx,
		`SELECT `+ObjectColumns+` FROM pipeline_objects o WHERE `+where, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("object %v: %w", arg, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get object: %w", err)
	}
	return o, nil
}

// CreateObject inserts an object with a generated QR code and its service grants
func (s *Store) CreateObject(ctx context.Context, req CreateObjectRequest) (*PipelineObject, error) {
	name, typ := strings.TrimSpace(req.Name), strings.TrimSpace(req.Type)
	if name == "" || typ == "" || req.UmgID <= 0 {
		return nil, fmt.Errorf("%w: umg_id, name and type are required", ErrInvalidInput)
	}
	status := req.Status
	if status == "" {
		status = ObjectActive
	}
	if !status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidInput, status)
	}
	if err := checkDistinctServices(objectServiceIDs(req.Services)); err != nil {
		return nil, err
	}

	var obj *PipelineObject
	err := postgres.InTx(ctx, s.db, func(tx *sql.Tx) error {
		var err error
		obj, err = ScanObject(tx.QueryRowContext(ctx, `
			INSERT INTO pipeline_objects AS o (umg_id, name, type, qr_code, status, location)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING `+ObjectColumns,
			req.UmgID, name, typ, NewQRCode(), string(status), strings.TrimSpace(req.Location)))
		if err != nil {
			switch {
			case postgres.IsForeignKeyViolation(err):
				return fmt.Errorf("umg %d: %w", req.UmgID, ErrNotFound)
			case postgres.IsUniqueViolation(err):
				return fmt.Errorf("qr code collision: %w", ErrAlreadyExists)
			}
			return fmt.Errorf("failed to create object: %w", err)
		}
		return insertObjectServices(ctx, tx, obj.ID, req.Services)
	})
	if err != nil {
		return nil, err
	}
	return obj, nil
}

// UpdateObject applies the non-nil fields of req
func (s *Store) UpdateObject(ctx context.Context, id int64, req UpdateObjectRequest) (*PipelineObject, error) {
	var (
		sets []string
		args []interface{}
	)
	set := func(column string, value interface{}) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return nil, fmt.Errorf("%w: name cannot be empty", ErrInvalidInput)
		}
		set("name", name)
	}
	if req.Type != nil {
		typ := strings.TrimSpace(*req.Type)
		if typ == "" {
			return nil, fmt.Errorf("%w: type cannot be empty", ErrInvalidInput)
		}
		set("type", typ)
	}
	if req.Status != nil {
		if !req.Status.Valid() {
			return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidInput, *req.Status)
		}
		set("status", string(*req.Status))
	}
	if req.Location != nil {
		set("location", strings.TrimSpace(*req.Location))
	}
	if len(sets) == 0 {
		return s.GetObject(ctx, id)
	}

	args = append(args, id)
	query := fmt.Sprintf(`UPDATE pipeline_objects AS o SET %s, updated_at = NOW() WHERE o.id = $%d RETURNING %s`,
		strings.Join(sets, ", "), len(args), ObjectColumns)

	obj, err := ScanObject(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("object %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update object: %w", err)
	}
	return obj, nil
}

// DeleteObject removes an object. Attached documents are kept and detached.
func (s *Store) DeleteObject(ctx context.Context, id int64) error {
	return deleteByID(ctx, s.db, "pipeline_objects", id)
}

// ObjectServices lists the service grants of an object
func (s *Store) ObjectServices(ctx context.Context, objectID int64) ([]ObjectService, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT object_id, service_id, can_view, can_edit
		FROM object_services WHERE object_id = $1 ORDER BY service_id`, objectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list object services: %w", err)
	}
	defer rows.Close()

	grants := make([]ObjectService, 0)
	for rows.Next() {
		var g ObjectService
		if err := rows.Scan(&g.ObjectID, &g.ServiceID, &g.CanView, &g.CanEdit); err != nil {
			return nil, fmt.Errorf("failed to scan object service: %w", err)
		}
		grants = append(grants, g)
	}
	return grants, rows.Err()
}

// SetObjectServices replaces the service grants of an object
func (s *Store) SetObjectServices(ctx context.Context, objectID int64, grants []ObjectService) error {
	if err := checkDistinctServices(objectServiceIDs(grants)); err != nil {
		return err
	}
	return postgres.InTx(ctx, s.db, func(tx *sql.Tx) error {
		if err := lockRow(ctx, tx, "pipeline_objects", objectID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM object_services WHERE object_id = $1`, objectID); err != nil {
			return fmt.Errorf("failed to clear object services: %w", err)
		}
		return insertObjectServices(ctx, tx, objectID, grants)
	})
}

func insertObjectServices(ctx context.Context, tx *sql.Tx, objectID int64, grants []ObjectService) error {
	if len(grants) == 0 {
		return nil
	}
	var (
		serviceIDs = make([]int64, len(grants))
		view       = make([]bool, len(grants))
		edit       = make([]bool, len(grants))
	)
	for i, g := range grants {
		serviceIDs[i], view[i], edit[i] = g.ServiceID, g.CanView, g.CanEdit
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO object_services (object_id, service_id, can_view, can_edit)
		SELECT $1::bigint, * FROM unnest($2::bigint[], $3::boolean[], $4::boolean[])`,
		objectID, pq.Array(serviceIDs), pq.Array(view), pq.Array(edit))
	if err != nil {
		if postgres.IsForeignKeyViolation(err) {
			return fmt.Errorf("one of services %v: %w", serviceIDs, ErrNotFound)
		}
		return fmt.Errorf("failed to grant object services: %w", err)
	}
	return nil
}

func objectServiceIDs(grants []ObjectService) []int64 {
	ids := make([]int64, len(grants))
	for i, g := range grants {
		ids[i] = g.ServiceID
	}
	return ids
}
