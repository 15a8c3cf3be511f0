package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"
)

// EmbedCacheRepo is the persistent tier of the embedding cache. It backs
// embed.Store, so a vector computed once survives process restarts.
type EmbedCacheRepo struct {
	db *DB
}

func NewEmbedCacheRepo(db *DB) *EmbedCacheRepo {
	return &EmbedCacheRepo{db: db}
}

func (r *EmbedCacheRepo) Get(ctx context.Context, modelID, contentHash string) ([]float32, bool, error) {
	var vec pgvector.Vector
	err := r.db.Pool.QueryRow(ctx,
		`SELECT embedding FROM embedding_cache WHERE model_id=$1 AND content_hash=$2`,
		modelID, contentHash,
	).Scan(&vec)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get cached embedding: %w", err)
	}
	return vec.Slice(), true, nil
}

func (r *EmbedCacheRepo) Put(ctx context.Context, modelID, contentHash string, vec []float32) error {
	_, err := r.db.Pool.Exec(ctx, `
INSERT INTO embedding_cache (model_id, content_hash, embedding)
VALUES ($1, $2, $3)
ON CONFLICT (model_id, content_hash)
DO UPDATE SET embedding = EXCLUDED.embedding, created_at = NOW()`,
		modelID, contentHash, pgvector.NewVector(vec),
	)
	if err != nil {
		return fmt.Errorf("put cached embedding: %w", err)
	}
	return nil
}

// DeleteOlderThan prunes stale rows; the scheduler runs it nightly. Returns
// the number of rows removed.
func (r *EmbedCacheRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.db.Pool.Exec(ctx, `DELETE FROM embedding_cache WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune embedding cache: %w", err)
	}
	return tag.RowsAffected(), nil
}
