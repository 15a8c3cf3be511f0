package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"litgraph/internal/models"
)

type PaperRepo struct {
	db *DB
}

func NewPaperRepo(db *DB) *PaperRepo {
	return &PaperRepo{db: db}
}

func (r *PaperRepo) UpsertPaper(ctx context.Context, p models.Paper) error {
	sections, err := json.Marshal(p.Sections)
	if err != nil {
		return fmt.Errorf("marshal sections: %w", err)
	}
	refs, err := json.Marshal(p.ReferencesRaw)
	if err != nil {
		return fmt.Errorf("marshal references: %w", err)
	}
	_, err = r.db.Pool.Exec(ctx, `
INSERT INTO papers (paper_id, title, authors, abstract, published_at, sections, references_raw, source, status, fail_reason)
VALUES ($1, NULLIF($2,''), $3, NULLIF($4,''), $5, $6, $7, NULLIF($8,''), $9, NULLIF($10,''))
ON CONFLICT (paper_id)
DO UPDATE SET
  title = COALESCE(EXCLUDED.title, papers.title),
  authors = COALESCE(EXCLUDED.authors, papers.authors),
  abstract = COALESCE(EXCLUDED.abstract, papers.abstract),
  published_at = COALESCE(EXCLUDED.published_at, papers.published_at),
  sections = EXCLUDED.sections,
  references_raw = EXCLUDED.references_raw,
  source = COALESCE(EXCLUDED.source, papers.source),
  status = EXCLUDED.status,
  fail_reason = EXCLUDED.fail_reason,
  updated_at = NOW()`,
		p.PaperID, p.Title, p.Authors, p.Abstract, p.PublishedAt, sections, refs, p.Source, p.Status, p.FailReason,
	)
	if err != nil {
		return fmt.Errorf("upsert paper: %w", err)
	}
	return nil
}

func (r *PaperRepo) UpdatePaperStatus(ctx context.Context, paperID, status, failReason string) error {
	_, err := r.db.Pool.Exec(ctx, `UPDATE papers SET status=$2, fail_reason=NULLIF($3,''), updated_at=NOW() WHERE paper_id=$1`, paperID, status, failReason)
	if err != nil {
		return fmt.Errorf("update paper status: %w", err)
	}
	return nil
}

// GetPaper loads the full record including section bodies and the raw
// reference lines. List variants return metadata only.
func (r *PaperRepo) GetPaper(ctx context.Context, paperID string) (models.Paper, error) {
	var (
		p        models.Paper
		sections []byte
		refs     []byte
	)
	err := r.db.Pool.QueryRow(ctx, `
SELECT paper_id, COALESCE(title,''), COALESCE(authors,'{}'::text[]), COALESCE(abstract,''), published_at,
       sections, references_raw, COALESCE(source,''), status, COALESCE(fail_reason,''), created_at, updated_at
FROM papers
WHERE paper_id=$1`, paperID).
		Scan(&p.PaperID, &p.Title, &p.Authors, &p.Abstract, &p.PublishedAt, &sections, &refs, &p.Source, &p.Status, &p.FailReason, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return models.Paper{}, fmt.Errorf("get paper: %w", err)
	}
	if err := json.Unmarshal(sections, &p.Sections); err != nil {
		return models.Paper{}, fmt.Errorf("unmarshal sections: %w", err)
	}
	if err := json.Unmarshal(refs, &p.ReferencesRaw); err != nil {
		return models.Paper{}, fmt.Errorf("unmarshal references: %w", err)
	}
	return p, nil
}

func (r *PaperRepo) ListPapers(ctx context.Context) ([]models.Paper, error) {
	rows, err := r.db.Pool.Query(ctx, `
SELECT paper_id, COALESCE(title,''), COALESCE(authors,'{}'::text[]), COALESCE(abstract,''), published_at,
       COALESCE(source,''), status, COALESCE(fail_reason,''), created_at, updated_at
FROM papers
ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list papers: %w", err)
	}
	defer rows.Close()

	out := make([]models.Paper, 0)
	for rows.Next() {
		var p models.Paper
		if err := rows.Scan(&p.PaperID, &p.Title, &p.Authors, &p.Abstract, &p.PublishedAt, &p.Source, &p.Status, &p.FailReason, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan paper: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate papers: %w", err)
	}
	return out, nil
}

func (r *PaperRepo) ListPapersByStatus(ctx context.Context, status string) ([]models.Paper, error) {
	rows, err := r.db.Pool.Query(ctx, `
SELECT paper_id, COALESCE(title,''), COALESCE(authors,'{}'::text[]), COALESCE(abstract,''), published_at,
       COALESCE(source,''), status, COALESCE(fail_reason,''), created_at, updated_at
FROM papers
WHERE status=$1
ORDER BY updated_at DESC`, status)
	if err != nil {
		return nil, fmt.Errorf("list papers by status: %w", err)
	}
	defer rows.Close()
	out := make([]models.Paper, 0)
	for rows.Next() {
		var p models.Paper
		if err := rows.Scan(&p.PaperID, &p.Title, &p.Authors, &p.Abstract, &p.PublishedAt, &p.Source, &p.Status, &p.FailReason, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan paper by status: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// DeletePaper removes the row; chunks and summaries go with it via cascade.
// Returns false when no paper with that id existed.
func (r *PaperRepo) DeletePaper(ctx context.Context, paperID string) (bool, error) {
	tag, err := r.db.Pool.Exec(ctx, `DELETE FROM papers WHERE paper_id=$1`, paperID)
	if err != nil {
		return false, fmt.Errorf("delete paper: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}
