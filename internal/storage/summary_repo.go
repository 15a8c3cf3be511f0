package storage

import (
	"context"
	"fmt"

	"litgraph/internal/models"
)

type SummaryRepo struct {
	db *DB
}

func NewSummaryRepo(db *DB) *SummaryRepo {
	return &SummaryRepo{db: db}
}

func (r *SummaryRepo) UpsertSummary(ctx context.Context, s models.PaperSummary) error {
	_, err := r.db.Pool.Exec(ctx, `
INSERT INTO paper_summaries (paper_id, summary, provider_name, model)
VALUES ($1, $2, NULLIF($3,''), NULLIF($4,''))
ON CONFLICT (paper_id)
DO UPDATE SET
  summary = EXCLUDED.summary,
  provider_name = EXCLUDED.provider_name,
  model = EXCLUDED.model,
  created_at = NOW()`,
		s.PaperID, s.Summary, s.Provider, s.Model,
	)
	if err != nil {
		return fmt.Errorf("upsert summary: %w", err)
	}
	return nil
}

func (r *SummaryRepo) GetSummary(ctx context.Context, paperID string) (models.PaperSummary, error) {
	var s models.PaperSummary
	err := r.db.Pool.QueryRow(ctx, `
SELECT paper_id, summary, COALESCE(provider_name,''), COALESCE(model,''), created_at
FROM paper_summaries
WHERE paper_id=$1`, paperID).
		Scan(&s.PaperID, &s.Summary, &s.Provider, &s.Model, &s.CreatedAt)
	if err != nil {
		return models.PaperSummary{}, fmt.Errorf("get summary: %w", err)
	}
	return s, nil
}
