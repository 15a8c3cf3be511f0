package storage

import (
	"context"
	"fmt"
)

const defaultEmbedDim = 1536

// EnsureSchema creates the extension, tables, and indexes the repos depend
// on. Every process calls it at startup; keep the DDL idempotent so the
// stack comes up even if the operator forgot to run `make migrate`.
func (d *DB) EnsureSchema(ctx context.Context, embedDim int) error {
	d.schemaMu.Lock()
	defer d.schemaMu.Unlock()
	if d.schemaPrepared {
		return nil
	}
	if embedDim <= 0 {
		embedDim = defaultEmbedDim
	}
	ddl := fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS papers (
	paper_id TEXT PRIMARY KEY,
	title TEXT,
	authors TEXT[],
	abstract TEXT,
	published_at TIMESTAMPTZ,
	sections JSONB NOT NULL DEFAULT '[]'::jsonb,
	references_raw JSONB NOT NULL DEFAULT '[]'::jsonb,
	source TEXT,
	status TEXT NOT NULL DEFAULT 'pending',
	fail_reason TEXT,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_papers_status ON papers(status);

CREATE TABLE IF NOT EXISTS chunks (
	chunk_id TEXT PRIMARY KEY,
	paper_id TEXT NOT NULL REFERENCES papers(paper_id) ON DELETE CASCADE,
	seq INT NOT NULL,
	section TEXT,
	text TEXT NOT NULL,
	overlap INT NOT NULL DEFAULT 0,
	content_hash TEXT NOT NULL,
	embed_model TEXT,
	embedding vector(%d),
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	UNIQUE (paper_id, seq)
);
CREATE INDEX IF NOT EXISTS idx_chunks_paper ON chunks(paper_id, seq);

CREATE TABLE IF NOT EXISTS embedding_cache (
	model_id TEXT NOT NULL,
	content_hash TEXT NOT NULL,
	embedding vector NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (model_id, content_hash)
);
CREATE INDEX IF NOT EXISTS idx_embedding_cache_created ON embedding_cache(created_at);

CREATE TABLE IF NOT EXISTS citation_edges (
	citing_paper_id TEXT NOT NULL,
	target_key TEXT NOT NULL,
	target_paper_id TEXT,
	raw_ref TEXT NOT NULL,
	markers JSONB NOT NULL DEFAULT '[]'::jsonb,
	confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
	resolved BOOLEAN NOT NULL DEFAULT FALSE,
	low_confidence BOOLEAN NOT NULL DEFAULT FALSE,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (citing_paper_id, target_key)
);
CREATE INDEX IF NOT EXISTS idx_citation_edges_target ON citation_edges(target_paper_id);

CREATE TABLE IF NOT EXISTS graph_nodes (
	node_id TEXT PRIMARY KEY,
	label TEXT NOT NULL,
	resolved BOOLEAN NOT NULL DEFAULT FALSE,
	published_at TIMESTAMPTZ,
	cluster_label INT NOT NULL DEFAULT 0,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS paper_summaries (
	paper_id TEXT PRIMARY KEY REFERENCES papers(paper_id) ON DELETE CASCADE,
	summary TEXT NOT NULL,
	provider_name TEXT,
	model TEXT,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS llm_calls (
	call_id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	request_id TEXT,
	operation TEXT NOT NULL,
	paper_id TEXT,
	provider_name TEXT,
	model TEXT,
	status TEXT NOT NULL,
	error_type TEXT,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_llm_calls_created ON llm_calls(created_at DESC);
`, embedDim)
	if _, err := d.Pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	d.schemaPrepared = true
	return nil
}
