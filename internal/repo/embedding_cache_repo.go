package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/pgvector/pgvector-go"

	"github.com/xxxsen/ragdesk/internal/model"
	"github.com/xxxsen/ragdesk/internal/pkg/dbutil"
)

// EmbeddingCacheRepo stores vectors as pgvector values on postgres and as
// JSON blobs on sqlite.
type EmbeddingCacheRepo struct {
	db     *sql.DB
	driver string
}

func NewEmbeddingCacheRepo(db *sql.DB, driver string) *EmbeddingCacheRepo {
	return &EmbeddingCacheRepo{db: db, driver: driver}
}

func (r *EmbeddingCacheRepo) Get(ctx context.Context, modelName, taskType, contentHash string) ([]float32, bool, error) {
	query := dbutil.Rebind(r.driver, `
		SELECT embedding
		FROM embedding_cache
		WHERE model_name = ? AND task_type = ? AND content_hash = ?
	`)
	row := r.db.QueryRowContext(ctx, query, modelName, taskType, contentHash)
	values, err := r.scanEmbedding(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return values, true, nil
}

func (r *EmbeddingCacheRepo) scanEmbedding(row *sql.Row) ([]float32, error) {
	if r.driver == dbutil.DriverPostgres {
		var embedding pgvector.Vector
		if err := row.Scan(&embedding); err != nil {
			return nil, err
		}
		return embedding.Slice(), nil
	}
	var blob []byte
	if err := row.Scan(&blob); err != nil {
		return nil, err
	}
	var values []float32
	if err := json.Unmarshal(blob, &values); err != nil {
		return nil, err
	}
	return values, nil
}

func (r *EmbeddingCacheRepo) Save(ctx context.Context, item *model.EmbeddingCache) error {
	query := dbutil.Rebind(r.driver, `
		INSERT INTO embedding_cache (model_name, task_type, content_hash, dimension, embedding, ctime)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (model_name, task_type, content_hash) DO UPDATE SET
			dimension = EXCLUDED.dimension,
			embedding = EXCLUDED.embedding,
			ctime = EXCLUDED.ctime
	`)
	var embedding interface{}
	if r.driver == dbutil.DriverPostgres {
		embedding = pgvector.NewVector(item.Embedding)
	} else {
		blob, err := json.Marshal(item.Embedding)
		if err != nil {
			return err
		}
		embedding = blob
	}
	_, err := r.db.ExecContext(ctx, query,
		item.ModelName,
		item.TaskType,
		item.ContentHash,
		item.Dimension,
		embedding,
		item.Ctime,
	)
	return err
}

func (r *EmbeddingCacheRepo) DeleteBefore(ctx context.Context, cutoff int64) (int64, error) {
	query := dbutil.Rebind(r.driver, `DELETE FROM embedding_cache WHERE ctime < ?`)
	res, err := r.db.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
