package storage

import (
	"context"
	"fmt"

	"github.com/pgvector/pgvector-go"

	"litgraph/internal/models"
)

// ChunkRow pairs a chunk with its embedding. Vector stays nil between the
// chunking and embedding steps of the pipeline; the upsert then leaves any
// previously stored embedding in place.
type ChunkRow struct {
	Chunk  models.Chunk
	Vector []float32
}

type ChunkRepo struct {
	db *DB
}

func NewChunkRepo(db *DB) *ChunkRepo {
	return &ChunkRepo{db: db}
}

func (r *ChunkRepo) UpsertChunks(ctx context.Context, rows []ChunkRow) error {
	if len(rows) == 0 {
		return nil
	}
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx upsert chunks: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	for _, row := range rows {
		c := row.Chunk
		var vec any
		if len(row.Vector) > 0 {
			vec = pgvector.NewVector(row.Vector)
		}
		_, err := tx.Exec(ctx, `
INSERT INTO chunks (chunk_id, paper_id, seq, section, text, overlap, content_hash, embed_model, embedding)
VALUES ($1, $2, $3, NULLIF($4,''), $5, $6, $7, NULLIF($8,''), $9)
ON CONFLICT (chunk_id)
DO UPDATE SET
  text = EXCLUDED.text,
  overlap = EXCLUDED.overlap,
  content_hash = EXCLUDED.content_hash,
  embed_model = COALESCE(EXCLUDED.embed_model, chunks.embed_model),
  embedding = COALESCE(EXCLUDED.embedding, chunks.embedding)`,
			c.ChunkID, c.PaperID, c.Seq, c.Section, c.Text, c.Overlap, c.ContentHash, c.EmbedModel, vec,
		)
		if err != nil {
			return fmt.Errorf("upsert chunk %s: %w", c.ChunkID, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit chunks tx: %w", err)
	}
	return nil
}

func (r *ChunkRepo) ListChunksByPaper(ctx context.Context, paperID string) ([]models.Chunk, error) {
	rows, err := r.db.Pool.Query(ctx, `
SELECT chunk_id, paper_id, seq, COALESCE(section,''), text, overlap, content_hash, COALESCE(embed_model,''), created_at
FROM chunks
WHERE paper_id=$1
ORDER BY seq ASC`, paperID)
	if err != nil {
		return nil, fmt.Errorf("list chunks by paper: %w", err)
	}
	defer rows.Close()
	out := make([]models.Chunk, 0, 64)
	for rows.Next() {
		var c models.Chunk
		if err := rows.Scan(&c.ChunkID, &c.PaperID, &c.Seq, &c.Section, &c.Text, &c.Overlap, &c.ContentHash, &c.EmbedModel, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan chunk by paper: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chunk by paper: %w", err)
	}
	return out, nil
}

// DeleteChunksByPaper clears a paper's chunks ahead of re-ingest so stale
// sequence numbers cannot collide with the fresh set.
func (r *ChunkRepo) DeleteChunksByPaper(ctx context.Context, paperID string) error {
	_, err := r.db.Pool.Exec(ctx, `DELETE FROM chunks WHERE paper_id=$1`, paperID)
	if err != nil {
		return fmt.Errorf("delete chunks by paper: %w", err)
	}
	return nil
}
