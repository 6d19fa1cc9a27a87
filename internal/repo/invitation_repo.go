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

var invitationColumns = []string{"id", "email", "role", "token_hash", "invited_by", "status", "expires_at", "accepted_at", "accepted_user_id", "ctime", "mtime"}

type InvitationRepo struct {
	db dbutil.Execer
}

func NewInvitationRepo(db dbutil.Execer) *InvitationRepo {
	return &InvitationRepo{db: db}
}

func scanInvitation(scanner interface{ Scan(...interface{}) error }) (*model.Invitation, error) {
	var inv model.Invitation
	if err := scanner.Scan(&inv.ID, &inv.Email, &inv.Role, &inv.TokenHash, &inv.InvitedBy, &inv.Status, &inv.ExpiresAt, &inv.AcceptedAt, &inv.AcceptedUserID, &inv.Ctime, &inv.Mtime); err != nil {
		return nil, err
	}
	return &inv, nil
}

func (r *InvitationRepo) Create(ctx context.Context, inv *model.Invitation) error {
	data := map[string]interface{}{
		"id":               inv.ID,
		"email":            inv.Email,
		"role":             inv.Role,
		"token_hash":       inv.TokenHash,
		"invited_by":       inv.InvitedBy,
		"status":           inv.Status,
		"expires_at":       inv.ExpiresAt,
		"accepted_at":      inv.AcceptedAt,
		"accepted_user_id": inv.AcceptedUserID,
		"ctime":            inv.Ctime,
		"mtime":            inv.Mtime,
	}
	sqlStr, args, err := builder.BuildInsert("invitation_tokens", []map[string]interface{}{data})
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
	return nil
}

func (r *InvitationRepo) GetByID(ctx context.Context, id string) (*model.Invitation, error) {
	sqlStr, args, err := builder.BuildSelect("invitation_tokens", map[string]interface{}{"id": id}, invitationColumns)
	if err != nil {
		return nil, err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	inv, err := scanInvitation(r.db.QueryRowContext(ctx, sqlStr, args...))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErr.ErrNotFound
		}
		return nil, err
	}
	return inv, nil
}

// FindPending returns the live pending invitation for an email, if any.
func (r *InvitationRepo) FindPending(ctx context.Context, email string, now int64) (*model.Invitation, error) {
	where := map[string]interface{}{
		"_custom_email": builder.Custom("lower(email) = ?", strings.ToLower(strings.TrimSpace(email))),
		"status":        model.InvitationPending,
		"expires_at >":  now,
		"_orderby":      "ctime desc",
		"_limit":        []uint{0, 1},
	}
	sqlStr, args, err := builder.BuildSelect("invitation_tokens", where, invitationColumns)
	if err != nil {
		return nil, err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	inv, err := scanInvitation(r.db.QueryRowContext(ctx, sqlStr, args...))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErr.ErrNotFound
		}
		return nil, err
	}
	return inv, nil
}

func (r *InvitationRepo) List(ctx context.Context, status string, offset, limit uint) ([]model.Invitation, error) {
	where := map[string]interface{}{"_orderby": "ctime desc"}
	if status != "" {
		where["status"] = status
	}
	if limit > 0 {
		where["_limit"] = []uint{offset, limit}
	}
	sqlStr, args, err := builder.BuildSelect("invitation_tokens", where, invitationColumns)
	if err != nil {
		return nil, err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	rows, err := r.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	items := make([]model.Invitation, 0)
	for rows.Next() {
		inv, err := scanInvitation(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *inv)
	}
	return items, rows.Err()
}

// MarkAccepted flips a pending invitation to accepted. It returns ErrNotFound
// when the invitation was no longer pending.
func (r *InvitationRepo) MarkAccepted(ctx context.Context, id, userID string, now int64) error {
	return r.transition(ctx, id, map[string]interface{}{
		"status":           model.InvitationAccepted,
		"accepted_at":      now,
		"accepted_user_id": userID,
		"mtime":            now,
	})
}

func (r *InvitationRepo) Revoke(ctx context.Context, id string, now int64) error {
	return r.transition(ctx, id, map[string]interface{}{
		"status": model.InvitationRevoked,
		"mtime":  now,
	})
}

func (r *InvitationRepo) transition(ctx context.Context, id string, update map[string]interface{}) error {
	where := map[string]interface{}{"id": id, "status": model.InvitationPending}
	sqlStr, args, err := builder.BuildUpdate("invitation_tokens", where, update)
	if err != nil {
		return err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	res, err := r.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return appErr.ErrNotFound
	}
	return nil
}

func (r *InvitationRepo) ExpireBefore(ctx context.Context, now int64) (int64, error) {
	const query = `UPDATE invitation_tokens SET status = $1, mtime = $2 WHERE status = $3 AND expires_at <= $2`
	res, err := r.db.ExecContext(ctx, query, model.InvitationExpired, now, model.InvitationPending)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *InvitationRepo) CountPending(ctx context.Context, now int64) (int, error) {
	row := r.db.QueryRowContext(ctx, "SELECT COUNT(1) FROM invitation_tokens WHERE status = $1 AND expires_at > $2", model.InvitationPending, now)
	var count int
	if err := row.Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}
