package repo

import (
	"context"
	"database/sql"

	"github.com/didi/gendry/builder"
	"github.com/lib/pq"

	"github.com/xxxsen/docchat/internal/model"
	"github.com/xxxsen/docchat/internal/pkg/dbutil"
	appErr "github.com/xxxsen/docchat/internal/pkg/errors"
)

type ChatSessionRepo struct {
	db dbutil.Execer
}

func NewChatSessionRepo(db dbutil.Execer) *ChatSessionRepo {
	return &ChatSessionRepo{db: db}
}

func (r *ChatSessionRepo) Create(ctx context.Context, s *model.ChatSession) error {
	const query = `
		INSERT INTO chat_sessions (id, user_id, title, document_ids, ctime, mtime)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	docIDs := s.DocumentIDs
	if docIDs == nil {
		docIDs = []string{}
	}
	_, err := r.db.ExecContext(ctx, query, s.ID, s.UserID, s.Title, pq.Array(docIDs), s.Ctime, s.Mtime)
	if err != nil && dbutil.IsConflict(err) {
		return appErr.ErrConflict
	}
	return err
}

func (r *ChatSessionRepo) GetByID(ctx context.Context, userID, sessionID string) (*model.ChatSession, error) {
	const query = `
		SELECT id, user_id, title, document_ids, ctime, mtime
		FROM chat_sessions WHERE id = $1 AND user_id = $2
	`
	var s model.ChatSession
	err := r.db.QueryRowContext(ctx, query, sessionID, userID).
		Scan(&s.ID, &s.UserID, &s.Title, pq.Array(&s.DocumentIDs), &s.Ctime, &s.Mtime)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErr.ErrNotFound
		}
		return nil, err
	}
	return &s, nil
}

func (r *ChatSessionRepo) List(ctx context.Context, userID string, offset, limit uint) ([]model.ChatSession, error) {
	query := `
		SELECT id, user_id, title, document_ids, ctime, mtime
		FROM chat_sessions WHERE user_id = $1 ORDER BY mtime DESC
	`
	args := []interface{}{userID}
	if limit > 0 {
		query += ` LIMIT $2 OFFSET $3`
		args = append(args, limit, offset)
	}
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	sessions := make([]model.ChatSession, 0)
	for rows.Next() {
		var s model.ChatSession
		if err := rows.Scan(&s.ID, &s.UserID, &s.Title, pq.Array(&s.DocumentIDs), &s.Ctime, &s.Mtime); err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

func (r *ChatSessionRepo) Update(ctx context.Context, s *model.ChatSession) error {
	const query = `
		UPDATE chat_sessions SET title = $1, document_ids = $2, mtime = $3
		WHERE id = $4 AND user_id = $5
	`
	docIDs := s.DocumentIDs
	if docIDs == nil {
		docIDs = []string{}
	}
	res, err := r.db.ExecContext(ctx, query, s.Title, pq.Array(docIDs), s.Mtime, s.ID, s.UserID)
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

func (r *ChatSessionRepo) Touch(ctx context.Context, sessionID string, mtime int64) error {
	sqlStr, args, err := builder.BuildUpdate("chat_sessions", map[string]interface{}{"id": sessionID}, map[string]interface{}{"mtime": mtime})
	if err != nil {
		return err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	_, err = r.db.ExecContext(ctx, sqlStr, args...)
	return err
}

func (r *ChatSessionRepo) Delete(ctx context.Context, userID, sessionID string) error {
	res, err := r.db.ExecContext(ctx, "DELETE FROM chat_sessions WHERE id = $1 AND user_id = $2", sessionID, userID)
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

func (r *ChatSessionRepo) DeleteByUser(ctx context.Context, userID string) (int64, error) {
	res, err := r.db.ExecContext(ctx, "DELETE FROM chat_sessions WHERE user_id = $1", userID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
