package repo

import (
	"context"
	"database/sql"

	"github.com/xxxsen/docchat/internal/model"
	"github.com/xxxsen/docchat/internal/pkg/dbutil"
)

type StatsRepo struct {
	db dbutil.Execer
}

func NewStatsRepo(db dbutil.Execer) *StatsRepo {
	return &StatsRepo{db: db}
}

func (r *StatsRepo) scanInt(ctx context.Context, query string, args ...interface{}) (int, error) {
	var v sql.NullInt64
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&v); err != nil {
		return 0, err
	}
	return int(v.Int64), nil
}

// Collect fills everything except PendingInvites, which the caller owns.
func (r *StatsRepo) Collect(ctx context.Context, since int64) (*model.AdminStats, error) {
	stats := &model.AdminStats{DocumentsByStatus: map[string]int{}}
	var err error
	counters := []struct {
		dst   *int
		query string
		args  []interface{}
	}{
		{&stats.Users, "SELECT COUNT(1) FROM users WHERE state = $1", []interface{}{UserStateNormal}},
		{&stats.Admins, "SELECT COUNT(1) FROM users WHERE state = $1 AND role = $2", []interface{}{UserStateNormal, model.RoleAdmin}},
		{&stats.UnmigratedUsers, "SELECT COUNT(1) FROM users WHERE state = $1 AND clerk_id IS NOT NULL AND supabase_id IS NULL", []interface{}{UserStateNormal}},
		{&stats.Documents, "SELECT COUNT(1) FROM documents WHERE state = $1", []interface{}{DocumentStateNormal}},
		{&stats.Chunks, "SELECT COUNT(1) FROM document_chunks", nil},
		{&stats.Sessions, "SELECT COUNT(1) FROM chat_sessions", nil},
		{&stats.Conversations, "SELECT COUNT(1) FROM conversations", nil},
		{&stats.CachedAnswers, "SELECT COUNT(1) FROM conversations WHERE cached", nil},
	}
	for _, c := range counters {
		if *c.dst, err = r.scanInt(ctx, c.query, c.args...); err != nil {
			return nil, err
		}
	}
	var storage sql.NullInt64
	if err := r.db.QueryRowContext(ctx, "SELECT SUM(size) FROM documents WHERE state = $1", DocumentStateNormal).Scan(&storage); err != nil {
		return nil, err
	}
	stats.StorageBytes = storage.Int64
	if stats.Conversations > 0 {
		stats.CacheHitRatio = float64(stats.CachedAnswers) / float64(stats.Conversations)
	}

	rows, err := r.db.QueryContext(ctx, "SELECT status, COUNT(1) FROM documents WHERE state = $1 GROUP BY status", DocumentStateNormal)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			_ = rows.Close()
			return nil, err
		}
		stats.DocumentsByStatus[status] = count
	}
	_ = rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if stats.DailyQuestions, err = r.daily(ctx, "conversations", since); err != nil {
		return nil, err
	}
	if stats.DailyUploads, err = r.daily(ctx, "documents", since); err != nil {
		return nil, err
	}
	return stats, nil
}

func (r *StatsRepo) daily(ctx context.Context, table string, since int64) ([]model.DailyCount, error) {
	query := `
		SELECT to_char(to_timestamp(ctime) AT TIME ZONE 'UTC', 'YYYY-MM-DD') AS day, COUNT(1)
		FROM ` + table + `
		WHERE ctime >= $1
		GROUP BY day ORDER BY day
	`
	rows, err := r.db.QueryContext(ctx, query, since)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	items := make([]model.DailyCount, 0)
	for rows.Next() {
		var item model.DailyCount
		if err := rows.Scan(&item.Day, &item.Count); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}
