package access

import (
	"context"
	"fmt"
	"strings"

	"github.com/gaspipe/docvault/pkg/documents"
)

// ListFilter narrows a scoped listing. Zero values mean no restriction;
// a zero Limit returns every row.
type ListFilter struct {
	CategoryID *int64
	ObjectID   *int64
	UmgID      *int64
	Status     documents.ObjectStatus
	Limit      int
	Offset     int
}

// GetDocumentsByUserAccess returns every document the user can view
func (g *Gate) GetDocumentsByUserAccess(ctx context.Context, userID int64) ([]documents.Document, error) {
	return g.ListDocuments(ctx, userID, ListFilter{})
}

// GetObjectsByUserAccess returns every pipeline object the user can view
func (g *Gate) GetObjectsByUserAccess(ctx context.Context, userID int64) ([]documents.PipelineObject, error) {
	return g.ListObjects(ctx, userID, ListFilter{})
}

// ListDocuments returns the documents the user can view, newest first
func (g *Gate) ListDocuments(ctx context.Context, userID int64, filter ListFilter) ([]documents.Document, error) {
	scope, err := g.VisibleServiceIDs(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(scope) == 0 {
		return []documents.Document{}, nil
	}

	where := []string{DocumentScope(1)}
	args := []interface{}{ScopeArg(scope)}
	add := func(cond string, value interface{}) {
		args = append(args, value)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if filter.CategoryID != nil {
		add("d.category_id = $%d", *filter.CategoryID)
	}
	if filter.ObjectID != nil {
		add("d.object_id = $%d", *filter.ObjectID)
	}
	if filter.UmgID != nil {
		add("d.umg_id = $%d", *filter.UmgID)
	}

	query := `SELECT ` + documents.DocumentColumns + ` FROM documents d WHERE ` + strings.Join(where, " AND ") +
		` ORDER BY d.created_at DESC, d.id DESC` + page(&args, filter)

	rows, err := g.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	defer rows.Close()

	docs := make([]documents.Document, 0)
	for rows.Next() {
		d, err := documents.ScanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		docs = append(docs, *d)
	}
	return docs, rows.Err()
}

// ListObjects returns the objects the user can view, ordered by name
func (g *Gate) ListObjects(ctx context.Context, userID int64, filter ListFilter) ([]documents.PipelineObject, error) {
	scope, err := g.VisibleServiceIDs(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(scope) == 0 {
		return []documents.PipelineObject{}, nil
	}

	where := []string{ObjectScope(1)}
	args := []interface{}{ScopeArg(scope)}
	add := func(cond string, value interface{}) {
		args = append(args, value)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if filter.UmgID != nil {
		add("o.umg_id = $%d", *filter.UmgID)
	}
	if filter.Status != "" {
		add("o.status = $%d", string(filter.Status))
	}

	query := `SELECT ` + documents.ObjectColumns + ` FROM pipeline_objects o WHERE ` + strings.Join(where, " AND ") +
		` ORDER BY o.name, o.id` + page(&args, filter)

	rows, err := g.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list objects: %w", err)
	}
	defer rows.Close()

	objects := make([]documents.PipelineObject, 0)
	for rows.Next() {
		o, err := documents.ScanObject(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan object: %w", err)
		}
		objects = append(objects, *o)
	}
	return objects, rows.Err()
}

func page(args *[]interface{}, filter ListFilter) string {
	if filter.Limit <= 0 {
		return ""
	}
	*args = append(*args, filter.Limit, filter.Offset)
	return fmt.Sprintf(` LIMIT $%d OFFSET $%d`, len(*args)-1, len(*args))
}

// DocumentAllowed reports whether one of the user's services holds right on the document
func (g *Gate) DocumentAllowed(ctx context.Context, userID, documentID int64, right documents.Right) (bool, error) {
	return g.allowed(ctx, userID, documentID, documentTarget, "documents", right)
}

// ObjectAllowed reports whether one of the user's services holds right on the object
func (g *Gate) ObjectAllowed(ctx context.Context, userID, objectID int64, right documents.Right) (bool, error) {
	return g.allowed(ctx, userID, objectID, objectTarget, "pipeline_objects", right)
}

func (g *Gate) allowed(ctx context.Context, userID, id int64, t target, table string, right documents.Right) (bool, error) {
	scope, err := g.VisibleServiceIDs(ctx, userID)
	if err != nil {
		return false, err
	}
	if len(scope) == 0 {
		return false, nil
	}

	var ok bool
	query := fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s %s WHERE %s.id = $1 AND %s)`,
		table, t.alias, t.alias, t.predicate(2, right))
	if err := g.db.QueryRowContext(ctx, query, id, ScopeArg(scope)).Scan(&ok); err != nil {
		return false, fmt.Errorf("failed to check %s scope: %w", table, err)
	}
	return ok, nil
}
