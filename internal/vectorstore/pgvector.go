package vectorstore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
)

// pgvectorStore keeps embeddings on the document_chunks rows themselves.
// The namespace is the owning user ID.
type pgvectorStore struct {
	db *sql.DB
}

func init() {
	Register("pgvector", createPgvectorStore)
}

func createPgvectorStore(_ interface{}, deps Deps) (Store, error) {
	if deps.DB == nil {
		return nil, fmt.Errorf("pgvector store requires a database")
	}
	return &pgvectorStore{db: deps.DB}, nil
}

func (s *pgvectorStore) Name() string {
	return "pgvector"
}

func (s *pgvectorStore) Upsert(ctx context.Context, namespace string, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, `UPDATE document_chunks SET embedding = $1 WHERE id = $2 AND user_id = $3`)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	for _, rec := range records {
		res, err := stmt.ExecContext(ctx, pgvector.NewVector(rec.Values), rec.ID, namespace)
		if err != nil {
			_ = stmt.Close()
			_ = tx.Rollback()
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			_ = stmt.Close()
			_ = tx.Rollback()
			return fmt.Errorf("chunk %s not found", rec.ID)
		}
	}
	_ = stmt.Close()
	return tx.Commit()
}

func (s *pgvectorStore) Query(ctx context.Context, namespace string, vector []float32, topK int, documentIDs []string) ([]Match, error) {
	query := `
		SELECT c.id, c.document_id, c.position, 1 - (c.embedding <=> $1) AS score
		FROM document_chunks c
		JOIN documents d ON d.id = c.document_id AND d.state = 1
		WHERE c.user_id = $2 AND c.embedding IS NOT NULL
	`
	args := []interface{}{pgvector.NewVector(vector), namespace}
	if len(documentIDs) > 0 {
		query += ` AND c.document_id = ANY($3)`
		args = append(args, pq.Array(documentIDs))
	}
	query += fmt.Sprintf(` ORDER BY c.embedding <=> $1 LIMIT $%d`, len(args)+1)
	args = append(args, topK)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	matches := make([]Match, 0, topK)
	for rows.Next() {
		var m Match
		if err := rows.Scan(&m.ID, &m.DocumentID, &m.Position, &m.Score); err != nil {
			return nil, err
		}
		matches = append(matches, m)
	}
	return matches, rows.Err()
}

func (s *pgvectorStore) DeleteByIDs(ctx context.Context, namespace string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `UPDATE document_chunks SET embedding = NULL WHERE user_id = $1 AND id = ANY($2)`, namespace, pq.Array(ids))
	return err
}

func (s *pgvectorStore) DeleteNamespace(ctx context.Context, namespace string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE document_chunks SET embedding = NULL WHERE user_id = $1`, namespace)
	return err
}
