package orgs

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	"github.com/lib/pq"

	"github.com/gaspipe/docvault/pkg/cache"
	"github.com/gaspipe/docvault/pkg/storage/postgres"
)

// GrantServiceAccess gives a user direct access to a service. Granting twice is a no-op.
func (s *Store) GrantServiceAccess(ctx context.Context, userID, serviceID int64, grantedBy *int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_service_access (user_id, service_id, granted_by)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, service_id) DO NOTHING`, userID, serviceID, grantedBy)
	if err != nil {
		if postgres.IsForeignKeyViolation(err) {
			return fmt.Errorf("user %d or service %d: %w", userID, serviceID, ErrNotFound)
		}
		return fmt.Errorf("failed to grant service access: %w", err)
	}
	cache.Bust(ctx, s.cache)
	return nil
}

// RevokeServiceAccess removes a direct service grant
func (s *Store) RevokeServiceAccess(ctx context.Context, userID, serviceID int64) error {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM user_service_access WHERE user_id = $1 AND service_id = $2`, userID, serviceID)
	if err != nil {
		return fmt.Errorf("failed to revoke service access: %w", err)
	}
	if err := requireAffected(result, fmt.Sprintf("service grant %d/%d", userID, serviceID)); err != nil {
		return err
	}
	cache.Bust(ctx, s.cache)
	return nil
}

// SetUserServices replaces the user's direct service grants
func (s *Store) SetUserServices(ctx context.Context, userID int64, serviceIDs []int64, grantedBy *int64) error {
	ids := dedupe(serviceIDs)
	err := postgres.InTx(ctx, s.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM user_service_access WHERE user_id = $1`, userID); err != nil {
			return fmt.Errorf("failed to clear service access: %w", err)
		}
		if len(ids) == 0 {
			return nil
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO user_service_access (user_id, service_id, granted_by)
			SELECT $1::bigint, unnest($2::bigint[]), $3::bigint`, userID, pq.Array(ids), grantedBy)
		if err != nil {
			if postgres.IsForeignKeyViolation(err) {
				return fmt.Errorf("user %d or one of services %v: %w", userID, ids, ErrNotFound)
			}
			return fmt.Errorf("failed to set service access: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	cache.Bust(ctx, s.cache)
	return nil
}

// GrantUmgAccess gives a user access to a whole UMG
func (s *Store) GrantUmgAccess(ctx context.Context, userID, umgID int64, grantedBy *int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_umg_access (user_id, umg_id, granted_by)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, umg_id) DO NOTHING`, userID, umgID, grantedBy)
	if err != nil {
		if postgres.IsForeignKeyViolation(err) {
			return fmt.Errorf("user %d or umg %d: %w", userID, umgID, ErrNotFound)
		}
		return fmt.Errorf("failed to grant umg access: %w", err)
	}
	cache.Bust(ctx, s.cache)
	return nil
}

// RevokeUmgAccess removes a UMG grant
func (s *Store) RevokeUmgAccess(ctx context.Context, userID, umgID int64) error {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM user_umg_access WHERE user_id = $1 AND umg_id = $2`, userID, umgID)
	if err != nil {
		return fmt.Errorf("failed to revoke umg access: %w", err)
	}
	if err := requireAffected(result, fmt.Sprintf("umg grant %d/%d", userID, umgID)); err != nil {
		return err
	}
	cache.Bust(ctx, s.cache)
	return nil
}

// GetUserServiceAccess returns the services granted directly to a user
func (s *Store) GetUserServiceAccess(ctx context.Context, userID int64) ([]int64, error) {
	return s.ids(ctx, `SELECT service_id FROM user_service_access WHERE user_id = $1 ORDER BY service_id`, userID)
}

// GetUserUmgAccess returns the UMGs granted to a user
func (s *Store) GetUserUmgAccess(ctx context.Context, userID int64) ([]int64, error) {
	return s.ids(ctx, `SELECT umg_id FROM user_umg_access WHERE user_id = $1 ORDER BY umg_id`, userID)
}

// GetUserAccess returns both kinds of direct grants
func (s *Store) GetUserAccess(ctx context.Context, userID int64) (*UserAccess, error) {
	services, err := s.GetUserServiceAccess(ctx, userID)
	if err != nil {
		return nil, err
	}
	umgs, err := s.GetUserUmgAccess(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &UserAccess{UserID: userID, ServiceIDs: services, UmgIDs: umgs}, nil
}

// ServiceIDsByUmgs returns every service under the given UMGs
func (s *Store) ServiceIDsByUmgs(ctx context.Context, umgIDs []int64) ([]int64, error) {
	if len(umgIDs) == 0 {
		return []int64{}, nil
	}
	return s.ids(ctx, `SELECT id FROM services WHERE umg_id = ANY($1) ORDER BY id`, pq.Array(umgIDs))
}

func (s *Store) ids(ctx context.Context, query string, args ...interface{}) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query ids: %w", err)
	}
	defer rows.Close()

	ids := make([]int64, 0)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func requireAffected(result sql.Result, what string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return nil
}

func dedupe(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
