package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"litgraph/internal/models"
)

type CitationRepo struct {
	db *DB
}

func NewCitationRepo(db *DB) *CitationRepo {
	return &CitationRepo{db: db}
}

// UpsertEdges merges a batch of edges keyed (citing_paper_id, target_key).
// Confidence only ever ratchets up: a rebuild that re-derives a weaker edge
// does not erase evidence an earlier pass already found.
func (r *CitationRepo) UpsertEdges(ctx context.Context, edges []models.CitationEdge) error {
	if len(edges) == 0 {
		return nil
	}
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx upsert edges: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	for _, e := range edges {
		markers, err := json.Marshal(e.Markers)
		if err != nil {
			return fmt.Errorf("marshal markers: %w", err)
		}
		_, err = tx.Exec(ctx, `
INSERT INTO citation_edges (citing_paper_id, target_key, target_paper_id, raw_ref, markers, confidence, resolved, low_confidence)
VALUES ($1, $2, NULLIF($3,''), $4, $5, $6, $7, $8)
ON CONFLICT (citing_paper_id, target_key)
DO UPDATE SET
  target_paper_id = COALESCE(EXCLUDED.target_paper_id, citation_edges.target_paper_id),
  raw_ref = EXCLUDED.raw_ref,
  markers = EXCLUDED.markers,
  confidence = GREATEST(citation_edges.confidence, EXCLUDED.confidence),
  resolved = citation_edges.resolved OR EXCLUDED.resolved,
  low_confidence = EXCLUDED.low_confidence,
  updated_at = NOW()`,
			e.CitingPaperID, e.TargetKey, e.TargetPaperID, e.RawRef, markers, e.Confidence, e.Resolved, e.LowConfidence,
		)
		if err != nil {
			return fmt.Errorf("upsert edge %s -> %s: %w", e.CitingPaperID, e.TargetKey, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit edges tx: %w", err)
	}
	return nil
}

func (r *CitationRepo) ListEdges(ctx context.Context) ([]models.CitationEdge, error) {
	rows, err := r.db.Pool.Query(ctx, `
SELECT citing_paper_id, target_key, COALESCE(target_paper_id,''), raw_ref, markers, confidence, resolved, low_confidence
FROM citation_edges
ORDER BY citing_paper_id, target_key`)
	if err != nil {
		return nil, fmt.Errorf("list edges: %w", err)
	}
	defer rows.Close()
	out := make([]models.CitationEdge, 0)
	for rows.Next() {
		var (
			e       models.CitationEdge
			markers []byte
		)
		if err := rows.Scan(&e.CitingPaperID, &e.TargetKey, &e.TargetPaperID, &e.RawRef, &markers, &e.Confidence, &e.Resolved, &e.LowConfidence); err != nil {
			return nil, fmt.Errorf("scan edge: %w", err)
		}
		if err := json.Unmarshal(markers, &e.Markers); err != nil {
			return nil, fmt.Errorf("unmarshal markers: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate edges: %w", err)
	}
	return out, nil
}

// DeleteEdgesForPaper drops every edge the paper participates in, in either
// direction. Used when a paper leaves the corpus.
func (r *CitationRepo) DeleteEdgesForPaper(ctx context.Context, paperID string) error {
	_, err := r.db.Pool.Exec(ctx,
		`DELETE FROM citation_edges WHERE citing_paper_id=$1 OR target_paper_id=$1`, paperID)
	if err != nil {
		return fmt.Errorf("delete edges for paper: %w", err)
	}
	return nil
}

// DeleteEdgesByCiting drops only the edges the paper emitted. Failed ingests
// roll back with this so edges other papers resolved onto it survive.
func (r *CitationRepo) DeleteEdgesByCiting(ctx context.Context, paperID string) error {
	_, err := r.db.Pool.Exec(ctx,
		`DELETE FROM citation_edges WHERE citing_paper_id=$1`, paperID)
	if err != nil {
		return fmt.Errorf("delete edges by citing: %w", err)
	}
	return nil
}
