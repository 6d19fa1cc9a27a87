package repo

import (
	"context"

	"github.com/didi/gendry/builder"

	"github.com/xxxsen/docchat/internal/model"
	"github.com/xxxsen/docchat/internal/pkg/dbutil"
)

type GDPRRepo struct {
	db dbutil.Execer
}

func NewGDPRRepo(db dbutil.Execer) *GDPRRepo {
	return &GDPRRepo{db: db}
}

func (r *GDPRRepo) Create(ctx context.Context, req *model.GDPRRequest) error {
	data := map[string]interface{}{
		"id":      req.ID,
		"user_id": req.UserID,
		"email":   req.Email,
		"kind":    req.Kind,
		"status":  req.Status,
		"detail":  req.Detail,
		"ctime":   req.Ctime,
		"mtime":   req.Mtime,
	}
	sqlStr, args, err := builder.BuildInsert("gdpr_requests", []map[string]interface{}{data})
	if err != nil {
		return err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	_, err = r.db.ExecContext(ctx, sqlStr, args...)
	return err
}

func (r *GDPRRepo) Finish(ctx context.Context, id, status, detail string, mtime int64) error {
	sqlStr, args, err := builder.BuildUpdate("gdpr_requests",
		map[string]interface{}{"id": id},
		map[string]interface{}{"status": status, "detail": detail, "mtime": mtime})
	if err != nil {
		return err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	_, err = r.db.ExecContext(ctx, sqlStr, args...)
	return err
}

func (r *GDPRRepo) List(ctx context.Context, kind string, offset, limit uint) ([]model.GDPRRequest, error) {
	where := map[string]interface{}{"_orderby": "ctime desc"}
	if kind != "" {
		where["kind"] = kind
	}
	if limit > 0 {
		where["_limit"] = []uint{offset, limit}
	}
	sqlStr, args, err := builder.BuildSelect("gdpr_requests", where, []string{"id", "user_id", "email", "kind", "status", "detail", "ctime", "mtime"})
	if err != nil {
		return nil, err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	rows, err := r.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	items := make([]model.GDPRRequest, 0)
	for rows.Next() {
		var item model.GDPRRequest
		if err := rows.Scan(&item.ID, &item.UserID, &item.Email, &item.Kind, &item.Status, &item.Detail, &item.Ctime, &item.Mtime); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}
