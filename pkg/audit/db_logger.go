package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lib/pq"
)

// DBLogger writes audit entries to the audit_logs table. It has no update
// or delete path; the table trigger rejects both as well.
type DBLogger struct {
	db *sql.DB
}

// NewDBLogger creates a new database-based audit logger
func NewDBLogger(db *sql.DB) (*DBLogger, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	return &DBLogger{db: db}, nil
}

// Log inserts the entry and sets its ID and timestamp
func (l *DBLogger) Log(ctx context.Context, entry *Entry) error {
	details := entry.Details
	if details == nil {
		details = map[string]interface{}{}
	}
	detailsJSON, err := json.Marshal(details)
	if err != nil {
		return fmt.Errorf("failed to marshal details: %w", err)
	}

	query := `
		INSERT INTO audit_logs (
			user_id, action, resource, resource_id, success,
			timestamp, details, ip_address, user_agent
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id
	`

	err = l.db.QueryRowContext(ctx, query,
		entry.UserID, string(entry.Action), string(entry.Resource), entry.ResourceID, entry.Success,
		entry.Timestamp, detailsJSON, entry.IPAddress, entry.UserAgent,
	).Scan(&entry.ID)
	if err != nil {
		return fmt.Errorf("failed to insert audit log: %w", err)
	}

	return nil
}

// Close is a no-op; the database handle is owned by the caller
func (l *DBLogger) Close() error {
	return nil
}

// Search returns one page of entries matching filter, newest first, and the total match count
func (l *DBLogger) Search(ctx context.Context, filter SearchFilter) ([]*Entry, int64, error) {
	where, args := buildSearchWhere(filter)

	var total int64
	if err := l.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM audit_logs"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count audit logs: %w", err)
	}

	query := `
		SELECT id, user_id, action, resource, resource_id, success,
			timestamp, details, ip_address, user_agent
		FROM audit_logs` + where +
		fmt.Sprintf(" ORDER BY timestamp DESC, id DESC LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
	args = append(args, filter.normalizedLimit(), filter.Offset)

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to search audit logs: %w", err)
	}
	defer rows.Close()

	entries := make([]*Entry, 0)
	for rows.Next() {
		var (
			entry       Entry
			userID      sql.NullInt64
			action      string
			resource    string
			detailsJSON []byte
		)
		if err := rows.Scan(
			&entry.ID, &userID, &action, &resource, &entry.ResourceID, &entry.Success,
			&entry.Timestamp, &detailsJSON, &entry.IPAddress, &entry.UserAgent,
		); err != nil {
			return nil, 0, fmt.Errorf("failed to scan audit log: %w", err)
		}
		if userID.Valid {
			id := userID.Int64
			entry.UserID = &id
		}
		entry.Action = Action(action)
		entry.Resource = Resource(resource)
		if len(detailsJSON) > 0 {
			if err := json.Unmarshal(detailsJSON, &entry.Details); err != nil {
				return nil, 0, fmt.Errorf("failed to unmarshal details: %w", err)
			}
		}
		entries = append(entries, &entry)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to iterate audit logs: %w", err)
	}

	return entries, total, nil
}

func buildSearchWhere(filter SearchFilter) (string, []interface{}) {
	var (
		conds []string
		args  []interface{}
	)
	add := func(cond string, arg interface{}) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if filter.StartTime != nil {
		add("timestamp >= $%d", *filter.StartTime)
	}
	if filter.EndTime != nil {
		add("timestamp <= $%d", *filter.EndTime)
	}
	if filter.UserID != nil {
		add("user_id = $%d", *filter.UserID)
	}
	if len(filter.Actions) > 0 {
		actions := make([]string, len(filter.Actions))
		for i, a := range filter.Actions {
			actions[i] = string(a)
		}
		add("action = ANY($%d)", pq.Array(actions))
	}
	if filter.Resource != "" {
		add("resource = $%d", string(filter.Resource))
	}
	if filter.ResourceID != "" {
		add("resource_id = $%d", filter.ResourceID)
	}
	if filter.Success != nil {
		add("success = $%d", *filter.Success)
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}
