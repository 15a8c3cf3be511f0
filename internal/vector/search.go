// Package vector runs similarity search against the pgvector-backed chunk
// store. It satisfies the same retriever seams as the in-memory index, so the
// API server and tests can swap one for the other.
package vector

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"

	"litgraph/internal/models"
	"litgraph/internal/vecindex"
)

type Queryer interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Searcher struct {
	q Queryer
}

func NewSearcher(q Queryer) *Searcher {
	return &Searcher{q: q}
}

// Search returns the topK chunks nearest to queryVec by cosine distance.
// Distance ties break on paper id then sequence, keeping result order stable
// across runs.
func (s *Searcher) Search(ctx context.Context, queryVec []float32, topK int, scope vecindex.Scope) ([]models.ChunkHit, error) {
	if topK <= 0 {
		topK = 8
	}
	args := []any{pgvector.NewVector(queryVec), topK}
	scopeSQL := ""
	if !scope.All() {
		scopeSQL = " AND c.paper_id = ANY($3)"
		args = append(args, scope.PaperIDs)
	}

	query := `
SELECT c.chunk_id,
       c.paper_id,
       c.seq,
       COALESCE(c.section,''),
       COALESCE(p.title,''),
       c.text,
       c.overlap,
       1 - (c.embedding <=> $1) AS score
FROM chunks c
JOIN papers p ON p.paper_id = c.paper_id
WHERE c.embedding IS NOT NULL` + scopeSQL + `
ORDER BY c.embedding <=> $1, c.paper_id, c.seq
LIMIT $2`

	rows, err := s.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query vector search: %w", err)
	}
	defer rows.Close()

	hits := make([]models.ChunkHit, 0, topK)
	for rows.Next() {
		var h models.ChunkHit
		if err := rows.Scan(&h.ChunkID, &h.PaperID, &h.Seq, &h.Section, &h.Title, &h.Text, &h.Overlap, &h.Score); err != nil {
			return nil, fmt.Errorf("scan chunk hit: %w", err)
		}
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate search rows: %w", err)
	}
	return hits, nil
}

// CountInScope reports how many embedded chunks the scope covers. The
// retriever uses it to tell an empty index apart from a weak match.
func (s *Searcher) CountInScope(ctx context.Context, scope vecindex.Scope) (int, error) {
	args := []any{}
	scopeSQL := ""
	if !scope.All() {
		scopeSQL = " AND paper_id = ANY($1)"
		args = append(args, scope.PaperIDs)
	}
	var n int
	err := s.q.QueryRow(ctx,
		`SELECT COUNT(*) FROM chunks WHERE embedding IS NOT NULL`+scopeSQL, args...,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count chunks in scope: %w", err)
	}
	return n, nil
}
