package repo

import (
	"context"
	"database/sql"

	"github.com/didi/gendry/builder"

	"github.com/xxxsen/docchat/internal/model"
	"github.com/xxxsen/docchat/internal/pkg/dbutil"
	appErr "github.com/xxxsen/docchat/internal/pkg/errors"
)

const (
	DocumentStateNormal  = 1
	DocumentStateDeleted = 2
)

var documentColumns = []string{"id", "user_id", "name", "content_type", "size", "file_key", "status", "error", "chunk_count", "state", "ctime", "mtime"}

type DocumentRepo struct {
	db dbutil.Execer
}

func NewDocumentRepo(db dbutil.Execer) *DocumentRepo {
	return &DocumentRepo{db: db}
}

func scanDocument(scanner interface{ Scan(...interface{}) error }) (*model.Document, error) {
	var doc model.Document
	var status string
	if err := scanner.Scan(&doc.ID, &doc.UserID, &doc.Name, &doc.ContentType, &doc.Size, &doc.FileKey, &status, &doc.Error, &doc.ChunkCount, &doc.State, &doc.Ctime, &doc.Mtime); err != nil {
		return nil, err
	}
	doc.Status = model.DocumentStatus(status)
	return &doc, nil
}

func (r *DocumentRepo) Create(ctx context.Context, doc *model.Document) error {
	data := map[string]interface{}{
		"id":           doc.ID,
		"user_id":      doc.UserID,
		"name":         doc.Name,
		"content_type": doc.ContentType,
		"size":         doc.Size,
		"file_key":     doc.FileKey,
		"status":       string(doc.Status),
		"error":        doc.Error,
		"chunk_count":  doc.ChunkCount,
		"state":        DocumentStateNormal,
		"ctime":        doc.Ctime,
		"mtime":        doc.Mtime,
	}
	sqlStr, args, err := builder.BuildInsert("documents", []map[string]interface{}{data})
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
	doc.State = DocumentStateNormal
	return nil
}

// GetByID loads a live document. An empty userID skips the ownership check.
func (r *DocumentRepo) GetByID(ctx context.Context, userID, docID string) (*model.Document, error) {
	where := map[string]interface{}{
		"id":    docID,
		"state": DocumentStateNormal,
	}
	if userID != "" {
		where["user_id"] = userID
	}
	sqlStr, args, err := builder.BuildSelect("documents", where, documentColumns)
	if err != nil {
		return nil, err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	doc, err := scanDocument(r.db.QueryRowContext(ctx, sqlStr, args...))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErr.ErrNotFound
		}
		return nil, err
	}
	return doc, nil
}

func (r *DocumentRepo) List(ctx context.Context, userID string, offset, limit uint) ([]model.Document, error) {
	where := map[string]interface{}{
		"user_id":  userID,
		"state":    DocumentStateNormal,
		"_orderby": "ctime desc",
	}
	if limit > 0 {
		where["_limit"] = []uint{offset, limit}
	}
	return r.list(ctx, where)
}

func (r *DocumentRepo) ListByIDs(ctx context.Context, userID string, docIDs []string) ([]model.Document, error) {
	if len(docIDs) == 0 {
		return []model.Document{}, nil
	}
	ids := make([]interface{}, 0, len(docIDs))
	for _, id := range docIDs {
		ids = append(ids, id)
	}
	where := map[string]interface{}{
		"user_id":     userID,
		"state":       DocumentStateNormal,
		"_custom_ids": builder.In{"id": ids},
		"_orderby":    "ctime desc",
	}
	return r.list(ctx, where)
}

func (r *DocumentRepo) ListByStatus(ctx context.Context, status model.DocumentStatus, offset, limit uint) ([]model.Document, error) {
	where := map[string]interface{}{
		"status":   string(status),
		"state":    DocumentStateNormal,
		"_orderby": "mtime desc",
	}
	if limit > 0 {
		where["_limit"] = []uint{offset, limit}
	}
	return r.list(ctx, where)
}

// ListStuck returns documents left in pending or processing since before cutoff.
func (r *DocumentRepo) ListStuck(ctx context.Context, cutoff int64, limit uint) ([]model.Document, error) {
	where := map[string]interface{}{
		"status in": []interface{}{string(model.DocumentStatusPending), string(model.DocumentStatusProcessing)},
		"state":     DocumentStateNormal,
		"mtime <":   cutoff,
		"_orderby":  "mtime",
		"_limit":    []uint{0, limit},
	}
	return r.list(ctx, where)
}

// ListDeletedBefore returns soft-deleted documents whose deletion is older than cutoff.
func (r *DocumentRepo) ListDeletedBefore(ctx context.Context, cutoff int64, limit uint) ([]model.Document, error) {
	where := map[string]interface{}{
		"state":    DocumentStateDeleted,
		"mtime <":  cutoff,
		"_orderby": "mtime",
		"_limit":   []uint{0, limit},
	}
	return r.list(ctx, where)
}

func (r *DocumentRepo) ListAllByUser(ctx context.Context, userID string) ([]model.Document, error) {
	where := map[string]interface{}{
		"user_id":  userID,
		"_orderby": "ctime",
	}
	return r.list(ctx, where)
}

func (r *DocumentRepo) list(ctx context.Context, where map[string]interface{}) ([]model.Document, error) {
	sqlStr, args, err := builder.BuildSelect("documents", where, documentColumns)
	if err != nil {
		return nil, err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	rows, err := r.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	docs := make([]model.Document, 0)
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, *doc)
	}
	return docs, rows.Err()
}

func (r *DocumentRepo) CountByUser(ctx context.Context, userID string) (int, error) {
	row := r.db.QueryRowContext(ctx, "SELECT COUNT(1) FROM documents WHERE user_id = $1 AND state = $2", userID, DocumentStateNormal)
	var count int
	if err := row.Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

func (r *DocumentRepo) update(ctx context.Context, where, update map[string]interface{}) error {
	sqlStr, args, err := builder.BuildUpdate("documents", where, update)
	if err != nil {
		return err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	result, err := r.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
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

func (r *DocumentRepo) UpdateStatus(ctx context.Context, docID string, status model.DocumentStatus, errMsg string, chunkCount int, mtime int64) error {
	return r.update(ctx,
		map[string]interface{}{"id": docID, "state": DocumentStateNormal},
		map[string]interface{}{
			"status":      string(status),
			"error":       errMsg,
			"chunk_count": chunkCount,
			"mtime":       mtime,
		})
}

func (r *DocumentRepo) SoftDelete(ctx context.Context, userID, docID string, mtime int64) error {
	return r.update(ctx,
		map[string]interface{}{"id": docID, "user_id": userID, "state": DocumentStateNormal},
		map[string]interface{}{"state": DocumentStateDeleted, "mtime": mtime})
}

func (r *DocumentRepo) HardDelete(ctx context.Context, docID string) error {
	sqlStr, args, err := builder.BuildDelete("documents", map[string]interface{}{"id": docID})
	if err != nil {
		return err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	_, err = r.db.ExecContext(ctx, sqlStr, args...)
	return err
}

func (r *DocumentRepo) DeleteByUser(ctx context.Context, userID string) (int64, error) {
	res, err := r.db.ExecContext(ctx, "DELETE FROM documents WHERE user_id = $1", userID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
