package repo

import (
	"context"
	"database/sql"

	"github.com/xxxsen/docchat/internal/model"
	"github.com/xxxsen/docchat/internal/pkg/dbutil"
	appErr "github.com/xxxsen/docchat/internal/pkg/errors"
)

type AuthMigrationRepo struct {
	db dbutil.Execer
}

func NewAuthMigrationRepo(db dbutil.Execer) *AuthMigrationRepo {
	return &AuthMigrationRepo{db: db}
}

// Record upserts the outcome of one migration attempt, bumping attempts.
func (r *AuthMigrationRepo) Record(ctx context.Context, m *model.AuthMigration) error {
	const query = `
		INSERT INTO auth_migrations (user_id, clerk_id, supabase_id, status, error, attempts, ctime, mtime)
		VALUES ($1, $2, $3, $4, $5, 1, $6, $6)
		ON CONFLICT (user_id) DO UPDATE SET
			supabase_id = EXCLUDED.supabase_id,
			status = EXCLUDED.status,
			error = EXCLUDED.error,
			attempts = auth_migrations.attempts + 1,
			mtime = EXCLUDED.mtime
	`
	_, err := r.db.ExecContext(ctx, query, m.UserID, m.ClerkID, m.SupabaseID, m.Status, m.Error, m.Mtime)
	return err
}

func (r *AuthMigrationRepo) Get(ctx context.Context, userID string) (*model.AuthMigration, error) {
	const query = `
		SELECT user_id, clerk_id, supabase_id, status, error, attempts, ctime, mtime
		FROM auth_migrations WHERE user_id = $1
	`
	var m model.AuthMigration
	err := r.db.QueryRowContext(ctx, query, userID).
		Scan(&m.UserID, &m.ClerkID, &m.SupabaseID, &m.Status, &m.Error, &m.Attempts, &m.Ctime, &m.Mtime)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErr.ErrNotFound
		}
		return nil, err
	}
	return &m, nil
}

func (r *AuthMigrationRepo) CountByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT status, COUNT(1) FROM auth_migrations GROUP BY status")
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		counts[status] = count
	}
	return counts, rows.Err()
}

func (r *AuthMigrationRepo) ListFailed(ctx context.Context, limit int) ([]model.AuthMigration, error) {
	const query = `
		SELECT user_id, clerk_id, supabase_id, status, error, attempts, ctime, mtime
		FROM auth_migrations WHERE status = $1 ORDER BY mtime DESC LIMIT $2
	`
	rows, err := r.db.QueryContext(ctx, query, model.MigrationFailed, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	items := make([]model.AuthMigration, 0)
	for rows.Next() {
		var m model.AuthMigration
		if err := rows.Scan(&m.UserID, &m.ClerkID, &m.SupabaseID, &m.Status, &m.Error, &m.Attempts, &m.Ctime, &m.Mtime); err != nil {
			return nil, err
		}
		items = append(items, m)
	}
	return items, rows.Err()
}
