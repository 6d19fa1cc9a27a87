package repo

import (
	"context"
	"strings"

	"github.com/didi/gendry/builder"
	"github.com/lib/pq"

	"github.com/xxxsen/docchat/internal/model"
	"github.com/xxxsen/docchat/internal/pkg/dbutil"
)

const chunkInsertBatch = 200

var chunkColumns = []string{"id", "document_id", "user_id", "position", "content", "token_count", "ctime"}

type ChunkRepo struct {
	db dbutil.Execer
}

func NewChunkRepo(db dbutil.Execer) *ChunkRepo {
	return &ChunkRepo{db: db}
}

// Replace swaps all chunk rows of a document. Callers wanting atomicity pass a tx-backed repo.
func (r *ChunkRepo) Replace(ctx context.Context, docID string, chunks []model.Chunk) error {
	if err := r.DeleteByDocument(ctx, docID); err != nil {
		return err
	}
	for start := 0; start < len(chunks); start += chunkInsertBatch {
		end := start + chunkInsertBatch
		if end > len(chunks) {
			end = len(chunks)
		}
		data := make([]map[string]interface{}, 0, end-start)
		for _, c := range chunks[start:end] {
			data = append(data, map[string]interface{}{
				"id":          c.ID,
				"document_id": c.DocumentID,
				"user_id":     c.UserID,
				"position":    c.Position,
				"content":     c.Content,
				"token_count": c.TokenCount,
				"ctime":       c.Ctime,
			})
		}
		sqlStr, args, err := builder.BuildInsert("document_chunks", data)
		if err != nil {
			return err
		}
		sqlStr, args = dbutil.Finalize(sqlStr, args)
		if _, err := r.db.ExecContext(ctx, sqlStr, args...); err != nil {
			return err
		}
	}
	return nil
}

func (r *ChunkRepo) ListByDocument(ctx context.Context, docID string, offset, limit uint) ([]model.Chunk, error) {
	where := map[string]interface{}{
		"document_id": docID,
		"_orderby":    "position",
	}
	if limit > 0 {
		where["_limit"] = []uint{offset, limit}
	}
	sqlStr, args, err := builder.BuildSelect("document_chunks", where, chunkColumns)
	if err != nil {
		return nil, err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	return r.query(ctx, sqlStr, args...)
}

// ListByIDs loads chunks owned by userID. Missing IDs are skipped.
func (r *ChunkRepo) ListByIDs(ctx context.Context, userID string, ids []string) ([]model.Chunk, error) {
	if len(ids) == 0 {
		return []model.Chunk{}, nil
	}
	const query = `
		SELECT c.id, c.document_id, c.user_id, c.position, c.content, c.token_count, c.ctime
		FROM document_chunks c
		JOIN documents d ON d.id = c.document_id AND d.state = $3
		WHERE c.user_id = $1 AND c.id = ANY($2)
	`
	return r.query(ctx, query, userID, pq.Array(ids), DocumentStateNormal)
}

func (r *ChunkRepo) query(ctx context.Context, query string, args ...interface{}) ([]model.Chunk, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	chunks := make([]model.Chunk, 0)
	for rows.Next() {
		var c model.Chunk
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.UserID, &c.Position, &c.Content, &c.TokenCount, &c.Ctime); err != nil {
			return nil, err
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

// KeywordSearch runs a full-text query over the user's live chunks, matching
// any of the given terms. An empty docIDs searches every document.
func (r *ChunkRepo) KeywordSearch(ctx context.Context, userID string, terms, docIDs []string, limit int) ([]model.RankedChunk, error) {
	tsQuery := buildWebSearchQuery(terms)
	if tsQuery == "" {
		return []model.RankedChunk{}, nil
	}
	query := `
		SELECT c.id, c.document_id, c.user_id, c.position, c.content, c.token_count, c.ctime,
			ts_rank(c.content_tsv, q) AS rank
		FROM document_chunks c
		JOIN documents d ON d.id = c.document_id AND d.state = $3
		CROSS JOIN websearch_to_tsquery('simple', $2) q
		WHERE c.user_id = $1 AND c.content_tsv @@ q
	`
	args := []interface{}{userID, tsQuery, DocumentStateNormal}
	if len(docIDs) > 0 {
		query += ` AND c.document_id = ANY($4)`
		args = append(args, pq.Array(docIDs))
	}
	query += ` ORDER BY rank DESC, c.document_id, c.position LIMIT ` + placeholder(len(args)+1)
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	results := make([]model.RankedChunk, 0)
	for rows.Next() {
		var item model.RankedChunk
		if err := rows.Scan(&item.ID, &item.DocumentID, &item.UserID, &item.Position, &item.Content, &item.TokenCount, &item.Ctime, &item.Rank); err != nil {
			return nil, err
		}
		results = append(results, item)
	}
	return results, rows.Err()
}

func (r *ChunkRepo) DeleteByDocument(ctx context.Context, docID string) error {
	_, err := r.db.ExecContext(ctx, "DELETE FROM document_chunks WHERE document_id = $1", docID)
	return err
}

func (r *ChunkRepo) DeleteByUser(ctx context.Context, userID string) (int64, error) {
	res, err := r.db.ExecContext(ctx, "DELETE FROM document_chunks WHERE user_id = $1", userID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *ChunkRepo) IDsByDocument(ctx context.Context, docID string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT id FROM document_chunks WHERE document_id = $1 ORDER BY position", docID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// buildWebSearchQuery joins terms with "or" after dropping the characters
// websearch_to_tsquery treats as operators.
func buildWebSearchQuery(terms []string) string {
	cleaned := make([]string, 0, len(terms))
	for _, term := range terms {
		term = strings.Map(func(r rune) rune {
			switch r {
			case '"', '-', '(', ')', ':', '&', '|', '!', '\\':
				return ' '
			}
			return r
		}, term)
		term = strings.Join(strings.Fields(term), " ")
		if term == "" || strings.EqualFold(term, "or") {
			continue
		}
		if strings.Contains(term, " ") {
			term = `"` + term + `"`
		}
		cleaned = append(cleaned, term)
	}
	return strings.Join(cleaned, " or ")
}
