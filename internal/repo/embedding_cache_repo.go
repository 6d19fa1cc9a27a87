package repo

import (
	"context"
	"database/sql"
	"errors"

	"github.com/pgvector/pgvector-go"

	"github.com/xxxsen/docchat/internal/model"
	"github.com/xxxsen/docchat/internal/pkg/dbutil"
)

type EmbeddingCacheRepo struct {
	db dbutil.Execer
}

func NewEmbeddingCacheRepo(db dbutil.Execer) *EmbeddingCacheRepo {
	return &EmbeddingCacheRepo{db: db}
}

// Get returns the cached vector for (model, task, hash); ok is false on a miss.
func (r *EmbeddingCacheRepo) Get(ctx context.Context, modelName, taskType, contentHash string) ([]float32, bool, error) {
	var embedding pgvector.Vector
	err := r.db.QueryRowContext(ctx,
		`SELECT embedding FROM embedding_cache WHERE model_name = $1 AND task_type = $2 AND content_hash = $3`,
		modelName, taskType, contentHash).Scan(&embedding)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return embedding.Slice(), true, nil
}

func (r *EmbeddingCacheRepo) Save(ctx context.Context, item *model.EmbeddingCache) error {
	const query = `
		INSERT INTO embedding_cache (model_name, task_type, content_hash, embedding, ctime)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (model_name, task_type, content_hash)
		DO UPDATE SET embedding = EXCLUDED.embedding, ctime = EXCLUDED.ctime
	`
	_, err := r.db.ExecContext(ctx, query, item.ModelName, item.TaskType, item.ContentHash, pgvector.NewVector(item.Embedding), item.Ctime)
	return err
}

// DeleteBefore drops entries older than cutoff and reports how many went.
func (r *EmbeddingCacheRepo) DeleteBefore(ctx context.Context, cutoff int64) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM embedding_cache WHERE ctime < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
