package repo

import (
	"context"
	"database/sql"
	"strings"

	"github.com/didi/gendry/builder"

	"github.com/xxxsen/docchat/internal/model"
	"github.com/xxxsen/docchat/internal/pkg/dbutil"
	appErr "github.com/xxxsen/docchat/internal/pkg/errors"
)

const (
	UserStateNormal  = 1
	UserStateDeleted = 2
)

var userColumns = []string{"id", "email", "name", "role", "auth_provider", "clerk_id", "supabase_id", "state", "ctime", "mtime"}

type UserRepo struct {
	db dbutil.Execer
}

func NewUserRepo(db dbutil.Execer) *UserRepo {
	return &UserRepo{db: db}
}

func nullable(v string) interface{} {
	if v == "" {
		return nil
	}
	return v
}

func scanUser(scanner interface{ Scan(...interface{}) error }) (*model.User, error) {
	var user model.User
	var clerkID, supabaseID sql.NullString
	if err := scanner.Scan(&user.ID, &user.Email, &user.Name, &user.Role, &user.AuthProvider, &clerkID, &supabaseID, &user.State, &user.Ctime, &user.Mtime); err != nil {
		return nil, err
	}
	user.ClerkID = clerkID.String
	user.SupabaseID = supabaseID.String
	return &user, nil
}

func (r *UserRepo) Create(ctx context.Context, user *model.User) error {
	data := map[string]interface{}{
		"id":            user.ID,
		"email":         user.Email,
		"name":          user.Name,
		"role":          user.Role,
		"auth_provider": user.AuthProvider,
		"clerk_id":      nullable(user.ClerkID),
		"supabase_id":   nullable(user.SupabaseID),
		"state":         UserStateNormal,
		"ctime":         user.Ctime,
		"mtime":         user.Mtime,
	}
	sqlStr, args, err := builder.BuildInsert("users", []map[string]interface{}{data})
	if err != nil {
		return err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	if _, err := r.db.ExecContext(ctx, sqlStr, args...); err != nil {
		if dbutil.IsConflict(err) {
			return appErr.ErrConflict
		}
		return err
	}
	user.State = UserStateNormal
	return nil
}

func (r *UserRepo) getOne(ctx context.Context, where map[string]interface{}) (*model.User, error) {
	where["state"] = UserStateNormal
	where["_limit"] = []uint{0, 1}
	sqlStr, args, err := builder.BuildSelect("users", where, userColumns)
	if err != nil {
		return nil, err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	user, err := scanUser(r.db.QueryRowContext(ctx, sqlStr, args...))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErr.ErrNotFound
		}
		return nil, err
	}
	return user, nil
}

func (r *UserRepo) GetByID(ctx context.Context, userID string) (*model.User, error) {
	return r.getOne(ctx, map[string]interface{}{"id": userID})
}

func (r *UserRepo) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	return r.getOne(ctx, map[string]interface{}{
		"_custom_email": builder.Custom("lower(email) = ?", strings.ToLower(strings.TrimSpace(email))),
	})
}

func (r *UserRepo) GetByClerkID(ctx context.Context, clerkID string) (*model.User, error) {
	return r.getOne(ctx, map[string]interface{}{"clerk_id": clerkID})
}

func (r *UserRepo) GetBySupabaseID(ctx context.Context, supabaseID string) (*model.User, error) {
	return r.getOne(ctx, map[string]interface{}{"supabase_id": supabaseID})
}

func (r *UserRepo) update(ctx context.Context, userID string, update map[string]interface{}) error {
	where := map[string]interface{}{"id": userID, "state": UserStateNormal}
	sqlStr, args, err := builder.BuildUpdate("users", where, update)
	if err != nil {
		return err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	result, err := r.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		if dbutil.IsConflict(err) {
			return appErr.ErrConflict
		}
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return appErr.ErrNotFound
	}
	return nil
}

// LinkSupabase attaches a Supabase identity and switches the account's provider.
func (r *UserRepo) LinkSupabase(ctx context.Context, userID, supabaseID string, mtime int64) error {
	return r.update(ctx, userID, map[string]interface{}{
		"supabase_id":   supabaseID,
		"auth_provider": model.AuthProviderSupabase,
		"mtime":         mtime,
	})
}

func (r *UserRepo) UpdateRole(ctx context.Context, userID, role string, mtime int64) error {
	return r.update(ctx, userID, map[string]interface{}{"role": role, "mtime": mtime})
}

func (r *UserRepo) UpdateName(ctx context.Context, userID, name string, mtime int64) error {
	return r.update(ctx, userID, map[string]interface{}{"name": name, "mtime": mtime})
}

// Anonymise scrubs identifying columns and marks the row deleted.
func (r *UserRepo) Anonymise(ctx context.Context, userID string, mtime int64) error {
	return r.update(ctx, userID, map[string]interface{}{
		"email":       "deleted+" + userID + "@invalid",
		"name":        "",
		"clerk_id":    nil,
		"supabase_id": nil,
		"state":       UserStateDeleted,
		"mtime":       mtime,
	})
}

func userSearchPattern(query string) (string, bool) {
	query = strings.TrimSpace(query)
	if query == "" {
		return "", false
	}
	return "%" + strings.ToLower(query) + "%", true
}

func (r *UserRepo) List(ctx context.Context, query string, offset, limit uint) ([]model.User, error) {
	where := map[string]interface{}{
		"state":    UserStateNormal,
		"_orderby": "ctime desc",
	}
	if like, ok := userSearchPattern(query); ok {
		where["_custom_search"] = builder.Custom("(lower(email) LIKE ? OR lower(name) LIKE ?)", like, like)
	}
	if limit > 0 {
		where["_limit"] = []uint{offset, limit}
	}
	sqlStr, args, err := builder.BuildSelect("users", where, userColumns)
	if err != nil {
		return nil, err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	return r.queryUsers(ctx, sqlStr, args...)
}

// Count returns how many active users match query, using the same filter as
// List.
func (r *UserRepo) Count(ctx context.Context, query string) (int, error) {
	sqlStr := "SELECT COUNT(1) FROM users WHERE state = $1"
	args := []interface{}{UserStateNormal}
	if like, ok := userSearchPattern(query); ok {
		sqlStr += " AND (lower(email) LIKE $2 OR lower(name) LIKE $2)"
		args = append(args, like)
	}
	row := r.db.QueryRowContext(ctx, sqlStr, args...)
	var count int
	if err := row.Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// ListUnmigrated returns Clerk users without a Supabase identity whose previous
// migration attempts are below maxAttempts.
func (r *UserRepo) ListUnmigrated(ctx context.Context, maxAttempts, limit int) ([]model.User, error) {
	const query = `
		SELECT u.id, u.email, u.name, u.role, u.auth_provider, u.clerk_id, u.supabase_id, u.state, u.ctime, u.mtime
		FROM users u
		LEFT JOIN auth_migrations m ON m.user_id = u.id
		WHERE u.state = $1 AND u.clerk_id IS NOT NULL AND u.supabase_id IS NULL
			AND COALESCE(m.attempts, 0) < $2
			AND COALESCE(m.status, '') <> $3
		ORDER BY u.ctime
		LIMIT $4
	`
	return r.queryUsers(ctx, query, UserStateNormal, maxAttempts, model.MigrationSkipped, limit)
}

func (r *UserRepo) queryUsers(ctx context.Context, query string, args ...interface{}) ([]model.User, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	users := make([]model.User, 0)
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *user)
	}
	return users, rows.Err()
}
