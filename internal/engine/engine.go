// Package engine assembles the core components into one in-process facade:
// chunking, cached embedding, the in-memory vector index, retrieval, answer
// composition, citation extraction, and the citation graph. The service
// binaries wire the same parts across Temporal activities and Postgres; the
// engine is the embedded mode the CLI smoke path and the end-to-end tests
// run against.
package engine

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"litgraph/internal/answer"
	"litgraph/internal/chunker"
	"litgraph/internal/citations"
	"litgraph/internal/embed"
	"litgraph/internal/graph"
	"litgraph/internal/models"
	"litgraph/internal/providers"
	"litgraph/internal/retrieve"
	"litgraph/internal/vecindex"
)

type Options struct {
	EmbedModel        string
	EmbedDim          int
	ChunkBudget       int
	ChunkOverlap      int
	ContextBudget     int
	TopK              int
	ResolveThreshold  float64
	FoundationalYears int
	CacheSize         int
	CacheTTL          time.Duration
	LLMTimeout        time.Duration
	RetryBackoff      time.Duration
}

// IngestStats reports what one paper contributed.
type IngestStats struct {
	PaperID        string   `json:"paper_id"`
	Chunks         int      `json:"chunks"`
	NewEdges       int      `json:"new_edges"`
	MergedEdges    int      `json:"merged_edges"`
	Unresolved     int      `json:"unresolved"`
	DroppedMarkers []string `json:"dropped_markers,omitempty"`
}

type Engine struct {
	opts      Options
	cache     *embed.Cache
	index     *vecindex.Index
	retriever *retrieve.Retriever
	composer  *answer.Composer
	graph     *graph.Builder
	queries   *graph.QueryService
	logger    *zap.Logger

	mu     sync.RWMutex
	papers map[string]models.Paper
	chunks map[string][]models.Chunk
	titles map[string]string
	byID   map[string]models.Chunk
}

func New(emb providers.EmbeddingProvider, llm providers.LLMProvider, opts Options, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.EmbedModel == "" {
		opts.EmbedModel = "mock-embed"
	}
	if opts.CacheSize <= 0 {
		opts.CacheSize = 4096
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 30 * time.Minute
	}

	e := &Engine{
		opts:   opts,
		index:  vecindex.New(),
		logger: logger.With(zap.String("component", "engine")),
		papers: make(map[string]models.Paper),
		chunks: make(map[string][]models.Chunk),
		titles: make(map[string]string),
		byID:   make(map[string]models.Chunk),
	}
	e.cache = embed.NewCache(
		embed.NewProviderEmbedder(emb, opts.EmbedModel, opts.EmbedDim),
		opts.CacheSize, opts.CacheTTL, nil, logger,
	)
	e.retriever = retrieve.New(e.cache, &memorySearcher{e: e}, opts.ContextBudget)
	e.composer = answer.NewComposer(llm, opts.LLMTimeout, opts.RetryBackoff, logger)
	e.graph = graph.NewBuilder(opts.ResolveThreshold)
	e.queries = graph.NewQueryService(e.graph, opts.FoundationalYears)
	return e
}

// IngestPaper runs the full per-paper pipeline: chunk, embed, index, extract
// citations, merge into the graph. Nothing becomes visible unless every step
// succeeds; a failed embed leaves the index and graph untouched.
func (e *Engine) IngestPaper(ctx context.Context, p models.Paper) (IngestStats, error) {
	if strings.TrimSpace(p.PaperID) == "" {
		return IngestStats{}, fmt.Errorf("paper has no id")
	}

	rows := e.chunkPaper(p)
	texts := make([]string, len(rows))
	for i, c := range rows {
		texts[i] = c.Text
	}
	vecs, err := e.cache.Embed(ctx, texts)
	if err != nil {
		return IngestStats{}, fmt.Errorf("embed paper %s: %w", p.PaperID, err)
	}

	e.index.DeletePaper(p.PaperID)
	for i, c := range rows {
		e.index.Upsert(c.ChunkID, c.PaperID, vecs[i])
	}

	p.Status = models.PaperStatusIndexed
	p.FailReason = ""
	e.mu.Lock()
	for _, old := range e.chunks[p.PaperID] {
		delete(e.byID, old.ChunkID)
	}
	e.papers[p.PaperID] = p
	e.chunks[p.PaperID] = rows
	e.titles[p.PaperID] = p.Title
	for _, c := range rows {
		e.byID[c.ChunkID] = c
	}
	e.mu.Unlock()

	e.graph.AddPaper(p)
	rawEdges, report := citations.Extract(p)
	delta, err := e.graph.Ingest(p.PaperID, rawEdges)
	if err != nil {
		return IngestStats{}, fmt.Errorf("merge citations for %s: %w", p.PaperID, err)
	}

	e.logger.Info("paper ingested",
		zap.String("paper_id", p.PaperID),
		zap.Int("chunks", len(rows)),
		zap.Int("new_edges", delta.NewEdges),
		zap.Int("unresolved", delta.UnresolvedTargets))
	return IngestStats{
		PaperID:        p.PaperID,
		Chunks:         len(rows),
		NewEdges:       delta.NewEdges,
		MergedEdges:    delta.MergedEdges,
		Unresolved:     delta.UnresolvedTargets,
		DroppedMarkers: report.DroppedMarkers,
	}, nil
}

// RemovePaper withdraws a paper from the index and the graph. Queries issued
// after it returns observe none of its chunks.
func (e *Engine) RemovePaper(paperID string) {
	e.index.DeletePaper(paperID)
	e.mu.Lock()
	for _, c := range e.chunks[paperID] {
		delete(e.byID, c.ChunkID)
	}
	delete(e.papers, paperID)
	delete(e.chunks, paperID)
	delete(e.titles, paperID)
	e.mu.Unlock()
	e.graph.RemovePaper(paperID)
}

// Ask answers a question over the given papers (all papers when none given).
func (e *Engine) Ask(ctx context.Context, question string, paperIDs []string, topK int) (models.AnswerRecord, retrieve.Result, error) {
	if topK <= 0 {
		topK = e.opts.TopK
	}
	res, err := e.retriever.Retrieve(ctx, vecindex.Scope{PaperIDs: paperIDs}, question, topK)
	if err != nil {
		return models.AnswerRecord{}, retrieve.Result{}, err
	}
	rec, err := e.composer.Answer(ctx, question, res)
	if err != nil {
		return models.AnswerRecord{}, res, err
	}
	return rec, res, nil
}

// Summarize produces the stored-style summary for an ingested paper.
func (e *Engine) Summarize(ctx context.Context, paperID string) (models.PaperSummary, error) {
	p, ok := e.Paper(paperID)
	if !ok {
		return models.PaperSummary{}, fmt.Errorf("paper %s not found", paperID)
	}
	return e.composer.Summarize(ctx, p)
}

// Recluster recomputes community labels over the current graph snapshot.
func (e *Engine) Recluster() map[string]int {
	return e.graph.Cluster()
}

// Reindex re-chunks and re-embeds every ingested paper and swaps the index
// contents wholesale. This is the embedded-mode equivalent of the re-embed
// rebuild, for when the embedding model changes.
func (e *Engine) Reindex(ctx context.Context) error {
	e.mu.RLock()
	papers := make([]models.Paper, 0, len(e.papers))
	for _, p := range e.papers {
		papers = append(papers, p)
	}
	e.mu.RUnlock()
	sort.Slice(papers, func(i, j int) bool { return papers[i].PaperID < papers[j].PaperID })

	entries := make([]vecindex.Entry, 0, len(papers)*8)
	fresh := make(map[string][]models.Chunk, len(papers))
	for _, p := range papers {
		rows := e.chunkPaper(p)
		texts := make([]string, len(rows))
		for i, c := range rows {
			texts[i] = c.Text
		}
		vecs, err := e.cache.Embed(ctx, texts)
		if err != nil {
			return fmt.Errorf("re-embed paper %s: %w", p.PaperID, err)
		}
		for i, c := range rows {
			entries = append(entries, vecindex.Entry{ChunkID: c.ChunkID, PaperID: c.PaperID, Vector: vecs[i]})
		}
		fresh[p.PaperID] = rows
	}

	e.index.Rebuild(entries)
	e.mu.Lock()
	e.chunks = fresh
	e.byID = make(map[string]models.Chunk, len(entries))
	for _, rows := range fresh {
		for _, c := range rows {
			e.byID[c.ChunkID] = c
		}
	}
	e.mu.Unlock()
	return nil
}

func (e *Engine) Queries() *graph.QueryService { return e.queries }

func (e *Engine) Graph() *graph.Builder { return e.graph }

func (e *Engine) Paper(paperID string) (models.Paper, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	p, ok := e.papers[paperID]
	return p, ok
}

func (e *Engine) Papers() []models.Paper {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]models.Paper, 0, len(e.papers))
	for _, p := range e.papers {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PaperID < out[j].PaperID })
	return out
}

func (e *Engine) chunkPaper(p models.Paper) []models.Chunk {
	return chunker.Rows(p, e.cache.ModelID(), e.opts.ChunkBudget, e.opts.ChunkOverlap)
}

// memorySearcher adapts the in-memory index to the retriever's seams,
// hydrating index hits with stored chunk text and paper titles.
type memorySearcher struct {
	e *Engine
}

func (s *memorySearcher) Search(ctx context.Context, vec []float32, topK int, scope vecindex.Scope) ([]models.ChunkHit, error) {
	_ = ctx
	hits := s.e.index.Query(vec, topK, scope)
	s.e.mu.RLock()
	defer s.e.mu.RUnlock()
	out := make([]models.ChunkHit, 0, len(hits))
	for _, h := range hits {
		c, ok := s.e.byID[h.ChunkID]
		if !ok {
			continue
		}
		out = append(out, models.ChunkHit{
			ChunkID: c.ChunkID,
			PaperID: c.PaperID,
			Seq:     c.Seq,
			Section: c.Section,
			Title:   s.e.titles[c.PaperID],
			Text:    c.Text,
			Overlap: c.Overlap,
			Score:   h.Score,
		})
	}
	return out, nil
}

func (s *memorySearcher) CountInScope(ctx context.Context, scope vecindex.Scope) (int, error) {
	_ = ctx
	if scope.All() {
		return s.e.index.Len(), nil
	}
	s.e.mu.RLock()
	defer s.e.mu.RUnlock()
	n := 0
	for _, id := range scope.PaperIDs {
		n += len(s.e.chunks[id])
	}
	return n, nil
}
