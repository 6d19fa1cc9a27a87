package repo

import (
	"context"
	"encoding/json"

	"github.com/xxxsen/docchat/internal/model"
	"github.com/xxxsen/docchat/internal/pkg/dbutil"
)

type ConversationRepo struct {
	db dbutil.Execer
}

func NewConversationRepo(db dbutil.Execer) *ConversationRepo {
	return &ConversationRepo{db: db}
}

func (r *ConversationRepo) Create(ctx context.Context, c *model.Conversation) error {
	sources := c.Sources
	if sources == nil {
		sources = []model.Source{}
	}
	raw, err := json.Marshal(sources)
	if err != nil {
		return err
	}
	const query = `
		INSERT INTO conversations (id, session_id, user_id, question, answer, sources, cached, latency_ms, ctime)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err = r.db.ExecContext(ctx, query, c.ID, c.SessionID, c.UserID, c.Question, c.Answer, string(raw), c.Cached, c.LatencyMs, c.Ctime)
	return err
}

// ListBySession returns turns oldest first.
func (r *ConversationRepo) ListBySession(ctx context.Context, sessionID string) ([]model.Conversation, error) {
	const query = `
		SELECT id, session_id, user_id, question, answer, sources, cached, latency_ms, ctime
		FROM conversations WHERE session_id = $1 ORDER BY ctime, id
	`
	return r.query(ctx, query, sessionID)
}

// ListRecent returns the latest limit turns of a session, oldest first.
func (r *ConversationRepo) ListRecent(ctx context.Context, sessionID string, limit int) ([]model.Conversation, error) {
	const query = `
		SELECT id, session_id, user_id, question, answer, sources, cached, latency_ms, ctime FROM (
			SELECT * FROM conversations WHERE session_id = $1 ORDER BY ctime DESC, id DESC LIMIT $2
		) t ORDER BY ctime, id
	`
	return r.query(ctx, query, sessionID, limit)
}

func (r *ConversationRepo) ListByUser(ctx context.Context, userID string) ([]model.Conversation, error) {
	const query = `
		SELECT id, session_id, user_id, question, answer, sources, cached, latency_ms, ctime
		FROM conversations WHERE user_id = $1 ORDER BY ctime, id
	`
	return r.query(ctx, query, userID)
}

func (r *ConversationRepo) query(ctx context.Context, query string, args ...interface{}) ([]model.Conversation, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	items := make([]model.Conversation, 0)
	for rows.Next() {
		var c model.Conversation
		var raw []byte
		if err := rows.Scan(&c.ID, &c.SessionID, &c.UserID, &c.Question, &c.Answer, &raw, &c.Cached, &c.LatencyMs, &c.Ctime); err != nil {
			return nil, err
		}
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &c.Sources); err != nil {
				return nil, err
			}
		}
		items = append(items, c)
	}
	return items, rows.Err()
}

func (r *ConversationRepo) DeleteBySession(ctx context.Context, sessionID string) error {
	_, err := r.db.ExecContext(ctx, "DELETE FROM conversations WHERE session_id = $1", sessionID)
	return err
}

func (r *ConversationRepo) DeleteByUser(ctx context.Context, userID string) (int64, error) {
	res, err := r.db.ExecContext(ctx, "DELETE FROM conversations WHERE user_id = $1", userID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
