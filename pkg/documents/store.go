package documents

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/gaspipe/docvault/pkg/storage/postgres"
	"github.com/lib/pq"
)

// DocumentColumns selects every document field from a table aliased d,
// in the order ScanDocument expects
const DocumentColumns = `d.id, d.name, d.file_name, d.category_id, d.umg_id, d.object_id, d.version,
	d.tags, d.uploaded_by, d.text_content, d.created_at, d.updated_at`

// RowScanner is satisfied by *sql.Row and *sql.Rows
type RowScanner interface {
	Scan(dest ...interface{}) error
}

// ScanDocument reads one row selected with DocumentColumns
func ScanDocument(row RowScanner) (*Document, error) {
	var (
		d          Document
		objectID   sql.NullInt64
		uploadedBy sql.NullInt64
		tags       pq.StringArray
	)
	if err := row.Scan(&d.ID, &d.Name, &d.FileName, &d.CategoryID, &d.UmgID, &objectID, &d.Version,
		&tags, &uploadedBy, &d.TextContent, &d.CreatedAt, &d.UpdatedAt); err != nil {
		return nil, err
	}
	d.ObjectID = nullableID(objectID)
	d.UploadedBy = nullableID(uploadedBy)
	d.Tags = []string(tags)
	if d.Tags == nil {
		d.Tags = []string{}
	}
	return &d, nil
}

func nullableID(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	id := v.Int64
	return &id
}

// Store persists documents, pipeline objects and their service grants
type Store struct {
	db *sql.DB
}

// NewStore creates a document store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// ListCategories returns all document categories
func (s *Store) ListCategories(ctx context.Context) ([]Category, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, code FROM document_categories ORDER BY name, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list categories: %w", err)
	}
	defer rows.Close()

	categories := make([]Category, 0)
	for rows.Next() {
		var c Category
		if err := rows.Scan(&c.ID, &c.Name, &c.Code); err != nil {
			return nil, fmt.Errorf("failed to scan category: %w", err)
		}
		categories = append(categories, c)
	}
	return categories, rows.Err()
}

// CreateCategory inserts a category; codes are unique
func (s *Store) CreateCategory(ctx context.Context, req CreateCategoryRequest) (*Category, error) {
	c := Category{Name: strings.TrimSpace(req.Name), Code: strings.TrimSpace(req.Code)}
	if c.Name == "" || c.Code == "" {
		return nil, fmt.Errorf("%w: name and code are required", ErrInvalidInput)
	}
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO document_categories (name, code) VALUES ($1, $2) RETURNING id`, c.Name, c.Code).Scan(&c.ID)
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return nil, fmt.Errorf("category code %q: %w", c.Code, ErrAlreadyExists)
		}
		return nil, fmt.Errorf("failed to create category: %w", err)
	}
	return &c, nil
}

// GetDocument returns one document regardless of scope
func (s *Store) GetDocument(ctx context.Context, id int64) (*Document, error) {
	d, err := ScanDocument(s.db.QueryRowContext(ctx,
		`SELECT `+DocumentColumns+` FROM documents d WHERE d.id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("document %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get document: %w", err)
	}
	return d, nil
}

// CreateDocument inserts a document at version 1 with its service grants
func (s *Store) CreateDocument(ctx context.Context, req CreateDocumentRequest, uploadedBy *int64) (*Document, error) {
	name, fileName := strings.TrimSpace(req.Name), strings.TrimSpace(req.FileName)
	if name == "" || fileName == "" {
		return nil, fmt.Errorf("%w: name and file_name are required", ErrInvalidInput)
	}
	if req.CategoryID <= 0 || req.UmgID <= 0 {
		return nil, fmt.Errorf("%w: category_id and umg_id are required", ErrInvalidInput)
	}
	if err := checkDistinctServices(documentServiceIDs(req.Services)); err != nil {
		return nil, err
	}
	tags := normalizeTags(req.Tags)

	var doc *Document
	err := postgres.InTx(ctx, s.db, func(tx *sql.Tx) error {
		var err error
		doc, err = ScanDocument(tx.QueryRowContext(ctx, `
			INSERT INTO documents AS d (name, file_name, category_id, umg_id, object_id, tags, uploaded_by, text_content)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			RETURNING `+DocumentColumns,
			name, fileName, req.CategoryID, req.UmgID, req.ObjectID, pq.Array(tags), uploadedBy, req.TextContent))
		if err != nil {
			if postgres.IsForeignKeyViolation(err) {
				return fmt.Errorf("category, umg or object of document: %w", ErrNotFound)
			}
			return fmt.Errorf("failed to create document: %w", err)
		}
		return insertDocumentServices(ctx, tx, doc.ID, req.Services)
	})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// UpdateDocument applies the non-nil fields of req and bumps the version
func (s *Store) UpdateDocument(ctx context.Context, id int64, req UpdateDocumentRequest) (*Document, error) {
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
	if req.FileName != nil {
		fileName := strings.TrimSpace(*req.FileName)
		if fileName == "" {
			return nil, fmt.Errorf("%w: file_name cannot be empty", ErrInvalidInput)
		}
		set("file_name", fileName)
	}
	if req.CategoryID != nil {
		set("category_id", *req.CategoryID)
	}
	if req.ObjectID != nil {
		// zero detaches the document from its object
		if *req.ObjectID == 0 {
			set("object_id", nil)
		} else {
			set("object_id", *req.ObjectID)
		}
	}
	if req.Tags != nil {
		set("tags", pq.Array(normalizeTags(*req.Tags)))
	}
	if req.TextContent != nil {
		set("text_content", *req.TextContent)
	}
	if len(sets) == 0 {
		return s.GetDocument(ctx, id)
	}

	args = append(args, id)
	query := fmt.Sprintf(`UPDATE documents AS d SET %s, version = d.version + 1, updated_at = NOW()
		WHERE d.id = $%d RETURNING %s`, strings.Join(sets, ", "), len(args), DocumentColumns)

	doc, err := ScanDocument(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("document %d: %w", id, ErrNotFound)
	}
	if err != nil {
		if postgres.IsForeignKeyViolation(err) {
			return nil, fmt.Errorf("category or object of document: %w", ErrNotFound)
		}
		return nil, fmt.Errorf("failed to update document: %w", err)
	}
	return doc, nil
}

// DeleteDocument removes a document and its grants
func (s *Store) DeleteDocument(ctx context.Context, id int64) error {
	return deleteByID(ctx, s.db, "documents", id)
}

// DocumentServices lists the service grants of a document
func (s *Store) DocumentServices(ctx context.Context, documentID int64) ([]DocumentService, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT document_id, service_id, can_view, can_edit, can_delete
		FROM document_services WHERE document_id = $1 ORDER BY service_id`, documentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list document services: %w", err)
	}
	defer rows.Close()

	grants := make([]DocumentService, 0)
	for rows.Next() {
		var g DocumentService
		if err := rows.Scan(&g.DocumentID, &g.ServiceID, &g.CanView, &g.CanEdit, &g.CanDelete); err != nil {
			return nil, fmt.Errorf("failed to scan document service: %w", err)
		}
		grants = append(grants, g)
	}
	return grants, rows.Err()
}

// SetDocumentServices replaces the service grants of a document
func (s *Store) SetDocumentServices(ctx context.Context, documentID int64, grants []DocumentService) error {
	if err := checkDistinctServices(documentServiceIDs(grants)); err != nil {
		return err
	}
	return postgres.InTx(ctx, s.db, func(tx *sql.Tx) error {
		if err := lockRow(ctx, tx, "documents", documentID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM document_services WHERE document_id = $1`, documentID); err != nil {
			return fmt.Errorf("failed to clear document services: %w", err)
		}
		return insertDocumentServices(ctx, tx, documentID, grants)
	})
}

func insertDocumentServices(ctx context.Context, tx *sql.Tx, documentID int64, grants []DocumentService) error {
	if len(grants) == 0 {
		return nil
	}
	var (
		serviceIDs = make([]int64, len(grants))
		view       = make([]bool, len(grants))
		edit       = make([]bool, len(grants))
		del        = make([]bool, len(grants))
	)
	for i, g := range grants {
		serviceIDs[i], view[i], edit[i], del[i] = g.ServiceID, g.CanView, g.CanEdit, g.CanDelete
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO document_services (document_id, service_id, can_view, can_edit, can_delete)
		SELECT $1::bigint, * FROM unnest($2::bigint[], $3::boolean[], $4::boolean[], $5::boolean[])`,
		documentID, pq.Array(serviceIDs), pq.Array(view), pq.Array(edit), pq.Array(del))
	if err != nil {
		if postgres.IsForeignKeyViolation(err) {
			return fmt.Errorf("one of services %v: %w", serviceIDs, ErrNotFound)
		}
		return fmt.Errorf("failed to grant document services: %w", err)
	}
	return nil
}

func documentServiceIDs(grants []DocumentService) []int64 {
	ids := make([]int64, len(grants))
	for i, g := range grants {
		ids[i] = g.ServiceID
	}
	return ids
}

func checkDistinctServices(ids []int64) error {
	seen := make(map[int64]bool, len(ids))
	for _, id := range ids {
		if id <= 0 {
			return fmt.Errorf("%w: service_id must be positive", ErrInvalidInput)
		}
		if seen[id] {
			return fmt.Errorf("%w: service %d granted twice", ErrInvalidInput, id)
		}
		seen[id] = true
	}
	return nil
}

// normalizeTags trims tags and drops empty and repeated ones, keeping order
func normalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]bool, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}

func lockRow(ctx context.Context, tx *sql.Tx, table string, id int64) error {
	var locked int64
	err := tx.QueryRowContext(ctx, `SELECT id FROM `+table+` WHERE id = $1 FOR UPDATE`, id).Scan(&locked)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s %d: %w", strings.TrimSuffix(table, "s"), id, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to lock %s: %w", table, err)
	}
	return nil
}

func deleteByID(ctx context.Context, db *sql.DB, table string, id int64) error {
	result, err := db.ExecContext(ctx, `DELETE FROM `+table+` WHERE id = $1`, id)
	if err != nil {
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
