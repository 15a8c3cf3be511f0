package activities

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"litgraph/internal/answer"
	"litgraph/internal/chunker"
	"litgraph/internal/citations"
	"litgraph/internal/config"
	"litgraph/internal/embed"
	"litgraph/internal/graph"
	"litgraph/internal/ingestor"
	"litgraph/internal/models"
	"litgraph/internal/providers"
	"litgraph/internal/storage"
	"litgraph/internal/util"
)

// Activities is the worker-side implementation of every pipeline step. One
// instance is shared across workflow runs, so everything on it must be safe
// for concurrent use. Embedding goes through one cache per configured
// provider, all keyed by the single logical embed model, with the Postgres
// cache table as the shared persistent tier.
type Activities struct {
	cfg          config.Config
	paperRepo    *storage.PaperRepo
	chunkRepo    *storage.ChunkRepo
	cacheRepo    *storage.EmbedCacheRepo
	citationRepo *storage.CitationRepo
	graphRepo    *storage.GraphRepo
	summaryRepo  *storage.SummaryRepo
	llmAuditRepo *storage.LLMAuditRepo
	providers    *providers.Manager
	embedders    []*embed.Cache
	composers    []*answer.Composer
	logger       *zap.Logger
}

func New(cfg config.Config, db *storage.DB, logger *zap.Logger) (*Activities, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	pm, err := providers.NewManager(cfg)
	if err != nil {
		return nil, err
	}
	cacheRepo := storage.NewEmbedCacheRepo(db)
	embedders := make([]*embed.Cache, 0, pm.EmbedCount())
	for i := 0; i < pm.EmbedCount(); i++ {
		p, _ := pm.EmbedProviderByIndex(i)
		embedders = append(embedders, embed.NewCache(
			embed.NewProviderEmbedder(p, cfg.EmbedModel, cfg.EmbedDim),
			cfg.EmbedCacheSize, cfg.EmbedCacheTTL, cacheRepo, logger))
	}
	composers := make([]*answer.Composer, 0, pm.LLMCount())
	for i := 0; i < pm.LLMCount(); i++ {
		p, _ := pm.LLMProviderByIndex(i)
		composers = append(composers, answer.NewComposer(p, cfg.LLMTimeout, cfg.RetryBackoff, logger))
	}
	return &Activities{
		cfg:          cfg,
		paperRepo:    storage.NewPaperRepo(db),
		chunkRepo:    storage.NewChunkRepo(db),
		cacheRepo:    cacheRepo,
		citationRepo: storage.NewCitationRepo(db),
		graphRepo:    storage.NewGraphRepo(db),
		summaryRepo:  storage.NewSummaryRepo(db),
		llmAuditRepo: storage.NewLLMAuditRepo(db),
		providers:    pm,
		embedders:    embedders,
		composers:    composers,
		logger:       logger,
	}, nil
}

func (a *Activities) ListIncomingActivity(ctx context.Context, in ListIncomingInput) (ListIncomingOutput, error) {
	_ = ctx
	entries, err := os.ReadDir(in.InputDir)
	if err != nil {
		return ListIncomingOutput{}, fmt.Errorf("read input dir: %w", err)
	}
	paths := make([]string, 0)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := strings.ToLower(e.Name())
		if strings.HasSuffix(name, ".pdf") || strings.HasSuffix(name, ".json") {
			paths = append(paths, filepath.Join(in.InputDir, e.Name()))
		}
	}
	sort.Strings(paths)
	return ListIncomingOutput{Paths: paths}, nil
}

func (a *Activities) DecomposePaperActivity(ctx context.Context, in DecomposePaperInput) (DecomposePaperOutput, error) {
	_ = ctx
	if in.Path != "" {
		if strings.HasSuffix(strings.ToLower(in.Path), ".json") {
			data, err := os.ReadFile(in.Path)
			if err != nil {
				return DecomposePaperOutput{}, fmt.Errorf("read paper json: %w", err)
			}
			p, err := ingestor.ParseDocument(data)
			if err != nil {
				return DecomposePaperOutput{}, err
			}
			p.Source = filepath.Base(in.Path)
			return DecomposePaperOutput{Paper: p}, nil
		}
		p, err := ingestor.FromPDF(in.Path)
		if err != nil {
			return DecomposePaperOutput{}, err
		}
		return DecomposePaperOutput{Paper: p}, nil
	}
	p, err := ingestor.ParseDocument(in.RawJSON)
	if err != nil {
		return DecomposePaperOutput{}, err
	}
	return DecomposePaperOutput{Paper: p}, nil
}

func (a *Activities) RegisterPaperActivity(ctx context.Context, in RegisterPaperInput) error {
	return a.paperRepo.UpsertPaper(ctx, in.Paper)
}

func (a *Activities) GetPaperActivity(ctx context.Context, in GetPaperInput) (GetPaperOutput, error) {
	p, err := a.paperRepo.GetPaper(ctx, in.PaperID)
	if err != nil {
		return GetPaperOutput{}, err
	}
	return GetPaperOutput{Paper: p}, nil
}

func (a *Activities) ListPapersByStatusActivity(ctx context.Context, in ListPapersByStatusInput) (ListPapersByStatusOutput, error) {
	papers, err := a.paperRepo.ListPapersByStatus(ctx, in.Status)
	if err != nil {
		return ListPapersByStatusOutput{}, err
	}
	out := ListPapersByStatusOutput{PaperIDs: make([]string, 0, len(papers))}
	for _, p := range papers {
		out.PaperIDs = append(out.PaperIDs, p.PaperID)
	}
	return out, nil
}

func (a *Activities) UpdatePaperStatusActivity(ctx context.Context, in UpdatePaperStatusInput) error {
	return a.paperRepo.UpdatePaperStatus(ctx, in.PaperID, in.Status, in.FailReason)
}

func (a *Activities) ChunkPaperActivity(ctx context.Context, in ChunkPaperInput) (ChunkPaperOutput, error) {
	_ = ctx
	if in.Budget <= 0 {
		in.Budget = a.cfg.ChunkBudget
	}
	if in.Overlap < 0 || in.Overlap >= in.Budget {
		in.Overlap = a.cfg.ChunkOverlap
	}
	if in.ModelID == "" {
		in.ModelID = a.cfg.EmbedModel
	}
	return ChunkPaperOutput{Chunks: chunker.Rows(in.Paper, in.ModelID, in.Budget, in.Overlap)}, nil
}

func (a *Activities) DeleteChunksActivity(ctx context.Context, in DeleteChunksInput) error {
	return a.chunkRepo.DeleteChunksByPaper(ctx, in.PaperID)
}

func (a *Activities) EmbedChunksActivity(ctx context.Context, in EmbedChunksInput) (EmbedChunksOutput, error) {
	if len(a.embedders) == 0 {
		return EmbedChunksOutput{}, fmt.Errorf("no embedding providers configured")
	}
	idx := in.ProviderIndex
	if idx < 0 || idx >= len(a.embedders) {
		idx = 0
	}
	vectors, err := a.embedders[idx].Embed(ctx, in.Texts)
	if err != nil {
		return EmbedChunksOutput{}, err
	}
	_, ref := a.providers.EmbedProviderByIndex(idx)
	return EmbedChunksOutput{
		Vectors:      vectors,
		ProviderName: ref.Name,
		Model:        a.embedders[idx].ModelID(),
	}, nil
}

func (a *Activities) StoreChunksActivity(ctx context.Context, in StoreChunksInput) error {
	rows := make([]storage.ChunkRow, 0, len(in.Chunks))
	for i, c := range in.Chunks {
		row := storage.ChunkRow{Chunk: c}
		if i < len(in.Vectors) {
			row.Vector = in.Vectors[i]
		}
		rows = append(rows, row)
	}
	return a.chunkRepo.UpsertChunks(ctx, rows)
}

func (a *Activities) ExtractCitationsActivity(ctx context.Context, in ExtractCitationsInput) (ExtractCitationsOutput, error) {
	_ = ctx
	edges, report := citations.Extract(in.Paper)
	return ExtractCitationsOutput{
		Edges:            edges,
		DroppedMarkers:   report.DroppedMarkers,
		AmbiguousMarkers: report.AmbiguousMarkers,
	}, nil
}

// MergeGraphActivity folds one paper's raw edges into the persisted graph.
// The full graph state is loaded first so reference resolution sees every
// known title, and the row-level merge rules in storage (max confidence,
// sticky resolved flag) make replays and concurrent merges converge.
func (a *Activities) MergeGraphActivity(ctx context.Context, in MergeGraphInput) (MergeGraphOutput, error) {
	nodes, err := a.graphRepo.ListNodes(ctx)
	if err != nil {
		return MergeGraphOutput{}, err
	}
	edges, err := a.citationRepo.ListEdges(ctx)
	if err != nil {
		return MergeGraphOutput{}, err
	}
	papers, err := a.paperRepo.ListPapers(ctx)
	if err != nil {
		return MergeGraphOutput{}, err
	}

	b := graph.NewBuilder(a.cfg.ResolveThreshold)
	b.Load(nodes, edges)
	touched := make(map[string]models.GraphNode)
	for _, p := range papers {
		row := b.AddPaper(p)
		touched[row.NodeID] = row
	}
	delta, err := b.Ingest(in.CitingPaperID, in.Edges)
	if err != nil {
		return MergeGraphOutput{}, err
	}
	for _, n := range delta.Nodes {
		touched[n.NodeID] = n
	}

	ids := make([]string, 0, len(touched))
	for id := range touched {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	rows := make([]models.GraphNode, 0, len(ids))
	for _, id := range ids {
		rows = append(rows, touched[id])
	}
	if err := a.graphRepo.UpsertNodes(ctx, rows); err != nil {
		return MergeGraphOutput{}, err
	}
	if err := a.citationRepo.UpsertEdges(ctx, delta.Edges); err != nil {
		return MergeGraphOutput{}, err
	}
	return MergeGraphOutput{
		NewEdges:          delta.NewEdges,
		MergedEdges:       delta.MergedEdges,
		ResolvedTargets:   delta.ResolvedTargets,
		UnresolvedTargets: delta.UnresolvedTargets,
		SkippedSelfLoops:  delta.SkippedSelfLoops,
	}, nil
}

func (a *Activities) SummarizePaperActivity(ctx context.Context, in SummarizePaperInput) (SummarizePaperOutput, error) {
	if len(a.composers) == 0 {
		return SummarizePaperOutput{}, fmt.Errorf("no llm providers configured")
	}
	idx := in.ProviderIndex
	if idx < 0 || idx >= len(a.composers) {
		idx = 0
	}
	paper, err := a.paperRepo.GetPaper(ctx, in.PaperID)
	if err != nil {
		return SummarizePaperOutput{}, err
	}
	sum, err := a.composers[idx].Summarize(ctx, paper)
	if err != nil {
		return SummarizePaperOutput{}, err
	}
	if err := a.summaryRepo.UpsertSummary(ctx, sum); err != nil {
		return SummarizePaperOutput{}, err
	}
	return SummarizePaperOutput{
		Summary:      sum.Summary,
		ProviderName: sum.Provider,
		Model:        sum.Model,
	}, nil
}

// CleanupPaperActivity reverts the visible side effects of a failed ingest:
// stored chunks and the edges this paper emitted. Edges other papers resolved
// onto it, and the paper row itself, stay so the failure remains inspectable.
func (a *Activities) CleanupPaperActivity(ctx context.Context, in CleanupPaperInput) error {
	if err := a.chunkRepo.DeleteChunksByPaper(ctx, in.PaperID); err != nil {
		return err
	}
	return a.citationRepo.DeleteEdgesByCiting(ctx, in.PaperID)
}

func (a *Activities) ReclusterActivity(ctx context.Context) (ReclusterOutput, error) {
	nodes, err := a.graphRepo.ListNodes(ctx)
	if err != nil {
		return ReclusterOutput{}, err
	}
	edges, err := a.citationRepo.ListEdges(ctx)
	if err != nil {
		return ReclusterOutput{}, err
	}
	b := graph.NewBuilder(a.cfg.ResolveThreshold)
	b.Load(nodes, edges)
	labels := b.Cluster()
	if err := a.graphRepo.UpdateClusters(ctx, labels); err != nil {
		return ReclusterOutput{}, err
	}

	view := graph.NewQueryService(b, a.cfg.FoundationalYears).Snapshot()
	path := filepath.Join(a.cfg.DataDir, "graph", "graph.json")
	if err := util.WriteJSONAtomic(path, view); err != nil {
		return ReclusterOutput{}, fmt.Errorf("write graph artifact: %w", err)
	}

	distinct := make(map[int]bool, 8)
	for _, c := range labels {
		distinct[c] = true
	}
	return ReclusterOutput{Nodes: len(labels), Clusters: len(distinct)}, nil
}

func (a *Activities) WriteRunManifestActivity(ctx context.Context, in WriteRunManifestInput) (WriteRunManifestOutput, error) {
	_ = ctx
	path := filepath.Join(a.cfg.DataDir, "runs", in.RunID, "manifest.json")
	if err := util.WriteJSONAtomic(path, in.Manifest); err != nil {
		return WriteRunManifestOutput{}, err
	}
	return WriteRunManifestOutput{Path: path}, nil
}

func (a *Activities) LogLLMCallActivity(ctx context.Context, in LogLLMCallInput) error {
	return a.llmAuditRepo.Insert(ctx, storage.LLMCallRecord{
		CallID:       in.CallID,
		RequestID:    in.RequestID,
		Operation:    in.Operation,
		PaperID:      in.PaperID,
		ProviderName: in.ProviderName,
		Model:        in.Model,
		Status:       in.Status,
		ErrorType:    in.ErrorType,
	})
}
