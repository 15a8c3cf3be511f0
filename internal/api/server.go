package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	enumspb "go.temporal.io/api/enums/v1"
	tclient "go.temporal.io/sdk/client"
	"go.uber.org/zap"

	"litgraph/internal/answer"
	"litgraph/internal/config"
	"litgraph/internal/embed"
	"litgraph/internal/graph"
	"litgraph/internal/ingestor"
	"litgraph/internal/models"
	"litgraph/internal/providers"
	"litgraph/internal/retrieve"
	"litgraph/internal/storage"
	"litgraph/internal/util"
	"litgraph/internal/vecindex"
	"litgraph/internal/vector"
	"litgraph/internal/workflows"
)

// Server is the synchronous read/ask surface plus the front door for the
// Temporal ingest and rebuild workflows. Writes to paper content always go
// through workflows; only deletion touches storage directly.
type Server struct {
	cfg          config.Config
	logger       *zap.Logger
	db           *storage.DB
	paperRepo    *storage.PaperRepo
	summaryRepo  *storage.SummaryRepo
	citationRepo *storage.CitationRepo
	graphRepo    *storage.GraphRepo
	providers    *providers.Manager
	retriever    *retrieve.Retriever
	composer     *answer.Composer
	graphs       *graphCache
	temporal     tclient.Client
}

func NewServer(cfg config.Config, logger *zap.Logger) (*Server, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	db, err := storage.NewDB(ctx, cfg.PostgresURL)
	if err != nil {
		return nil, fmt.Errorf("connect storage: %w", err)
	}
	pm, err := providers.NewManager(cfg)
	if err != nil {
		return nil, fmt.Errorf("build providers: %w", err)
	}
	tc, err := tclient.Dial(tclient.Options{
		HostPort:  cfg.TemporalAddress,
		Namespace: cfg.TemporalNamespace,
	})
	if err != nil {
		return nil, fmt.Errorf("dial temporal: %w", err)
	}

	cache := embed.NewCache(
		&failoverEmbedder{manager: pm, modelID: cfg.EmbedModel, dim: cfg.EmbedDim},
		cfg.EmbedCacheSize, cfg.EmbedCacheTTL, storage.NewEmbedCacheRepo(db), logger,
	)
	s := &Server{
		cfg:          cfg,
		logger:       logger.With(zap.String("component", "api")),
		db:           db,
		paperRepo:    storage.NewPaperRepo(db),
		summaryRepo:  storage.NewSummaryRepo(db),
		citationRepo: storage.NewCitationRepo(db),
		graphRepo:    storage.NewGraphRepo(db),
		providers:    pm,
		retriever:    retrieve.New(cache, vector.NewSearcher(db.Pool), cfg.ContextBudget),
		composer:     answer.NewComposer(&failoverLLM{manager: pm}, cfg.LLMTimeout, cfg.RetryBackoff, logger),
		temporal:     tc,
	}
	s.graphs = newGraphCache(s.graphRepo, s.citationRepo, cfg.GraphCacheTTL, cfg.ResolveThreshold, cfg.FoundationalYears)
	return s, nil
}

func (s *Server) Close() {
	s.temporal.Close()
	s.db.Close()
}

func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/papers", s.handlePapers)
	mux.HandleFunc("/papers/", s.handlePapersScoped)
	mux.HandleFunc("/ask", s.handleAsk)
	mux.HandleFunc("/graph", s.handleGraphSnapshot)
	mux.HandleFunc("/graph/", s.handleGraphScoped)
	mux.HandleFunc("/admin/rebuild", s.handleRebuild)
	return withCORS(s.withAccessLog(mux))
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handlePapers(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		papers, err := s.paperRepo.ListPapers(r.Context())
		if err != nil {
			writeErr(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"papers": papers})
	case http.MethodPost:
		s.handleSubmitPaper(w, r)
	default:
		writeErr(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
	}
}

// handleSubmitPaper accepts a decomposed paper document, registers it as
// pending so it lists immediately, and starts its ingest workflow.
func (s *Server) handleSubmitPaper(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 32<<20))
	if err != nil {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("read body: %w", err))
		return
	}
	paper, err := ingestor.ParseDocument(body)
	if err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	if err := s.paperRepo.UpsertPaper(r.Context(), paper); err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	we, err := s.startIngest(r.Context(), workflows.PaperIngestInput{Paper: &paper}, workflows.IngestWorkflowID(paper.PaperID))
	if err != nil {
		writeErr(w, http.StatusConflict, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"paper_id":    paper.PaperID,
		"workflow_id": we.GetID(),
		"run_id":      we.GetRunID(),
	})
}

func (s *Server) handlePapersScoped(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.Trim(strings.TrimPrefix(r.URL.Path, "/papers/"), "/"), "/")
	if len(parts) < 1 || parts[0] == "" {
		writeErr(w, http.StatusNotFound, fmt.Errorf("not found"))
		return
	}
	if len(parts) == 1 && parts[0] == "upload" {
		if r.Method != http.MethodPost {
			writeErr(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
			return
		}
		s.handleUpload(w, r)
		return
	}

	paperID := parts[0]
	if len(parts) == 1 {
		switch r.Method {
		case http.MethodGet:
			s.handleGetPaper(w, r, paperID)
		case http.MethodDelete:
			s.handleDeletePaper(w, r, paperID)
		default:
			writeErr(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
		}
		return
	}
	if len(parts) == 2 && parts[1] == "status" {
		if r.Method != http.MethodGet {
			writeErr(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
			return
		}
		s.handlePaperStatus(w, r, paperID)
		return
	}
	if len(parts) == 2 && parts[1] == "file" {
		if r.Method != http.MethodGet {
			writeErr(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
			return
		}
		s.handlePaperFile(w, r, paperID)
		return
	}
	writeErr(w, http.StatusNotFound, fmt.Errorf("not found"))
}

func (s *Server) handleGetPaper(w http.ResponseWriter, r *http.Request, paperID string) {
	p, err := s.paperRepo.GetPaper(r.Context(), paperID)
	if err != nil {
		writeErr(w, http.StatusNotFound, err)
		return
	}
	resp := map[string]any{"paper": p}
	if sum, err := s.summaryRepo.GetSummary(r.Context(), paperID); err == nil {
		resp["summary"] = sum
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleDeletePaper removes the paper row (chunks and summary cascade),
// every citation edge it participates in, and its graph node, then drops the
// cached graph so the next read rebuilds without it.
func (s *Server) handleDeletePaper(w http.ResponseWriter, r *http.Request, paperID string) {
	found, err := s.paperRepo.DeletePaper(r.Context(), paperID)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	if !found {
		writeErr(w, http.StatusNotFound, fmt.Errorf("paper %s not found", paperID))
		return
	}
	if err := s.citationRepo.DeleteEdgesForPaper(r.Context(), paperID); err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	if err := s.graphRepo.DeleteNode(r.Context(), paperID); err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	s.graphs.invalidate()
	writeJSON(w, http.StatusOK, map[string]any{"deleted": paperID})
}

func (s *Server) handlePaperFile(w http.ResponseWriter, r *http.Request, paperID string) {
	p, err := s.paperRepo.GetPaper(r.Context(), paperID)
	if err != nil {
		writeErr(w, http.StatusNotFound, err)
		return
	}
	if p.Source == "" {
		writeErr(w, http.StatusNotFound, fmt.Errorf("paper %s has no source file", paperID))
		return
	}
	http.ServeFile(w, r, util.SafeJoin(s.incomingDir(), p.Source))
}

// handlePaperStatus reports ingest progress. The workflow is the source of
// truth while Temporal still knows it; afterwards the stored paper row
// answers. Bulk-ingested papers run under filename-derived workflow ids, so
// they land on the fallback too.
func (s *Server) handlePaperStatus(w http.ResponseWriter, r *http.Request, paperID string) {
	workflowID := workflows.IngestWorkflowID(paperID)

	executionState := ""
	if desc, err := s.temporal.DescribeWorkflowExecution(r.Context(), workflowID, ""); err == nil {
		switch desc.GetWorkflowExecutionInfo().GetStatus() {
		case enumspb.WORKFLOW_EXECUTION_STATUS_RUNNING:
			executionState = "running"
		case enumspb.WORKFLOW_EXECUTION_STATUS_COMPLETED:
			executionState = "completed"
		case enumspb.WORKFLOW_EXECUTION_STATUS_FAILED,
			enumspb.WORKFLOW_EXECUTION_STATUS_CANCELED,
			enumspb.WORKFLOW_EXECUTION_STATUS_TERMINATED,
			enumspb.WORKFLOW_EXECUTION_STATUS_TIMED_OUT:
			executionState = "failed"
		default:
			executionState = strings.ToLower(desc.GetWorkflowExecutionInfo().GetStatus().String())
		}
	}

	var st workflows.PaperStatus
	resp, err := s.temporal.QueryWorkflow(r.Context(), workflowID, "", workflows.QueryGetPaperStatus)
	if err == nil {
		err = resp.Get(&st)
	}
	if err != nil {
		p, pErr := s.paperRepo.GetPaper(r.Context(), paperID)
		if pErr != nil {
			writeErr(w, http.StatusNotFound, pErr)
			return
		}
		st = workflows.PaperStatus{PaperID: p.PaperID, Status: p.Status, FailReason: p.FailReason}
	}

	out := map[string]any{"paper_id": paperID, "status": st}
	if executionState != "" {
		out["workflow_status"] = executionState
	}
	writeJSON(w, http.StatusOK, out)
}

// handleUpload saves PDFs or decomposed JSON documents into the incoming
// directory and starts one ingest workflow per file. Paper ids are assigned
// during decompose, so the response carries workflow handles instead.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(128 << 20); err != nil {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("parse multipart: %w", err))
		return
	}

	files := r.MultipartForm.File["files"]
	if len(files) == 0 {
		if single, ok := firstSingleFile(r.MultipartForm.File); ok {
			files = append(files, single)
		}
	}
	if len(files) == 0 {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("no files provided"))
		return
	}

	inDir := s.incomingDir()
	if err := util.EnsureDir(inDir); err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}

	type uploadResult struct {
		Filename   string `json:"filename"`
		WorkflowID string `json:"workflow_id"`
		RunID      string `json:"run_id"`
	}
	out := make([]uploadResult, 0, len(files))

	for _, fh := range files {
		name := strings.ToLower(fh.Filename)
		if !strings.HasSuffix(name, ".pdf") && !strings.HasSuffix(name, ".json") {
			continue
		}
		savedPath, err := saveUploadedFile(inDir, fh)
		if err != nil {
			writeErr(w, http.StatusInternalServerError, err)
			return
		}
		we, err := s.startIngest(r.Context(),
			workflows.PaperIngestInput{Path: savedPath},
			workflows.IngestWorkflowID(filepath.Base(savedPath)))
		if err != nil {
			writeErr(w, http.StatusConflict, err)
			return
		}
		out = append(out, uploadResult{
			Filename:   filepath.Base(savedPath),
			WorkflowID: we.GetID(),
			RunID:      we.GetRunID(),
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{"uploaded": out})
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeErr(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
		return
	}
	var req struct {
		Question string   `json:"question"`
		PaperIDs []string `json:"paper_ids"`
		TopK     int      `json:"top_k"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("invalid json: %w", err))
		return
	}
	req.Question = strings.TrimSpace(req.Question)
	if req.Question == "" {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("question is required"))
		return
	}
	topK := req.TopK
	if topK <= 0 {
		topK = s.cfg.DefaultTopK
	}

	res, err := s.retriever.Retrieve(r.Context(), vecindex.Scope{PaperIDs: req.PaperIDs}, req.Question, topK)
	if err != nil {
		if strings.Contains(err.Error(), "embed question") {
			writeErr(w, http.StatusBadGateway, fmt.Errorf("embedding providers unavailable"))
			return
		}
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	rec, err := s.composer.Answer(r.Context(), req.Question, res)
	if err != nil {
		writeErr(w, http.StatusBadGateway, fmt.Errorf("generation failed: %w", err))
		return
	}
	s.exportAnswerArtifact(req.Question, rec)
	writeJSON(w, http.StatusOK, map[string]any{
		"answer":          rec,
		"hits":            res.Hits,
		"retrieved_count": len(res.Hits),
	})
}

// exportAnswerArtifact mirrors each answer to a markdown file under the data
// dir. The export is best effort: the answer was already produced, so a disk
// failure is logged instead of surfaced.
func (s *Server) exportAnswerArtifact(question string, rec models.AnswerRecord) {
	var b strings.Builder
	b.WriteString("# " + question + "\n\n")
	b.WriteString(rec.Text + "\n")
	if len(rec.CitedChunkIDs) > 0 {
		b.WriteString("\nCited chunks:\n")
		for _, id := range rec.CitedChunkIDs {
			b.WriteString("- " + id + "\n")
		}
	}
	name := rec.CreatedAt.UTC().Format("20060102T150405") + "-" + uuid.NewString() + ".md"
	path := filepath.Join(s.cfg.DataDir, "answers", name)
	if err := util.WriteTextAtomic(path, b.String()); err != nil {
		s.logger.Warn("write answer artifact failed", zap.String("path", path), zap.Error(err))
	}
}

func (s *Server) handleGraphSnapshot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeErr(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
		return
	}
	qs, err := s.graphs.view(r.Context())
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, qs.Snapshot())
}

func (s *Server) handleGraphScoped(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.Trim(strings.TrimPrefix(r.URL.Path, "/graph/"), "/"), "/")
	if len(parts) < 1 || parts[0] == "" {
		writeErr(w, http.StatusNotFound, fmt.Errorf("not found"))
		return
	}

	if parts[0] == "recluster" {
		if r.Method != http.MethodPost {
			writeErr(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
			return
		}
		s.startRebuild(w, r, workflows.RebuildInput{Mode: workflows.ModeRecluster})
		return
	}
	if r.Method != http.MethodGet {
		writeErr(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
		return
	}

	qs, err := s.graphs.view(r.Context())
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	switch {
	case parts[0] == "neighborhood" && len(parts) == 1:
		s.handleNeighborhood(w, r, qs)
	case parts[0] == "slice" && len(parts) == 1:
		s.handleTimeSlice(w, r, qs)
	case parts[0] == "clusters" && len(parts) == 1:
		writeJSON(w, http.StatusOK, map[string]any{"clusters": clusterSummaries(qs.Clusters())})
	case parts[0] == "clusters" && len(parts) == 2:
		label, err := strconv.Atoi(parts[1])
		if err != nil {
			writeErr(w, http.StatusBadRequest, fmt.Errorf("invalid cluster label %q", parts[1]))
			return
		}
		members := qs.ClusterMembers(label)
		if members == nil {
			members = []string{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"label": label, "members": members})
	default:
		writeErr(w, http.StatusNotFound, fmt.Errorf("not found"))
	}
}

func (s *Server) handleNeighborhood(w http.ResponseWriter, r *http.Request, qs *graph.QueryService) {
	paperID := strings.TrimSpace(r.URL.Query().Get("paper"))
	if paperID == "" {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("paper query parameter is required"))
		return
	}
	depth := 1
	if d := r.URL.Query().Get("depth"); d != "" {
		n, err := strconv.Atoi(d)
		if err != nil {
			writeErr(w, http.StatusBadRequest, fmt.Errorf("invalid depth %q", d))
			return
		}
		depth = n
	}
	view, err := qs.Neighborhood(paperID, depth)
	if err != nil {
		writeErr(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleTimeSlice(w http.ResponseWriter, r *http.Request, qs *graph.QueryService) {
	before, err := parseTimeBound(r.URL.Query().Get("before"))
	if err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	after, err := parseTimeBound(r.URL.Query().Get("after"))
	if err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, qs.TimeSlice(before, after))
}

// handleRebuild starts an admin rebuild workflow. The workflow id is fixed
// per mode, so a second request for a mode already in flight conflicts
// instead of doubling the work.
func (s *Server) handleRebuild(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeErr(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
		return
	}
	var req struct {
		Mode                   string `json:"mode"`
		PreferredEmbedProvider string `json:"preferred_embed_provider"`
		StrictEmbedProvider    bool   `json:"strict_embed_provider"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("invalid json: %w", err))
		return
	}
	mode := strings.ToUpper(strings.TrimSpace(req.Mode))
	switch mode {
	case workflows.ModeReembedAll, workflows.ModeRetryFailed, workflows.ModeRecluster:
	default:
		writeErr(w, http.StatusBadRequest, fmt.Errorf("unsupported rebuild mode: %s", req.Mode))
		return
	}

	input := workflows.RebuildInput{Mode: mode, StrictEmbedProvider: req.StrictEmbedProvider}
	if req.PreferredEmbedProvider != "" {
		idx := s.providers.FindEmbedProviderIndex(req.PreferredEmbedProvider)
		if idx < 0 {
			writeErr(w, http.StatusBadRequest, fmt.Errorf("unknown embed provider: %s", req.PreferredEmbedProvider))
			return
		}
		input.PreferredEmbedProviderIndex = idx
	}
	s.startRebuild(w, r, input)
}

func (s *Server) startIngest(ctx context.Context, input workflows.PaperIngestInput, workflowID string) (tclient.WorkflowRun, error) {
	input.EmbedProviders = s.providers.EmbedCount()
	input.LLMProviders = s.providers.LLMCount()
	input.CooldownSeconds = s.cfg.ProviderCooldownSecs
	return s.temporal.ExecuteWorkflow(ctx, tclient.StartWorkflowOptions{
		ID:                                       workflowID,
		TaskQueue:                                s.cfg.TemporalTaskQueue,
		WorkflowIDReusePolicy:                    enumspb.WORKFLOW_ID_REUSE_POLICY_ALLOW_DUPLICATE,
		WorkflowExecutionErrorWhenAlreadyStarted: true,
	}, workflows.PaperIngestWorkflow, input)
}

func (s *Server) startRebuild(w http.ResponseWriter, r *http.Request, input workflows.RebuildInput) {
	input.EmbedProviders = s.providers.EmbedCount()
	input.LLMProviders = s.providers.LLMCount()
	input.CooldownSeconds = s.cfg.ProviderCooldownSecs
	we, err := s.temporal.ExecuteWorkflow(r.Context(), tclient.StartWorkflowOptions{
		ID:                                       workflows.RebuildWorkflowID(input.Mode),
		TaskQueue:                                s.cfg.TemporalTaskQueue,
		WorkflowIDReusePolicy:                    enumspb.WORKFLOW_ID_REUSE_POLICY_ALLOW_DUPLICATE,
		WorkflowExecutionErrorWhenAlreadyStarted: true,
	}, workflows.RebuildWorkflow, input)
	if err != nil {
		writeErr(w, http.StatusConflict, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"workflow_id": we.GetID(), "run_id": we.GetRunID()})
}

// incomingDir is where uploads land and where bulk ingest scans by default.
func (s *Server) incomingDir() string {
	return filepath.Join(s.cfg.DataDir, "incoming")
}

func (s *Server) withAccessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Duration("elapsed", time.Since(start)))
	})
}

// failoverEmbedder walks the configured embedding providers in preferred
// order until one returns a full batch. All providers serve the same logical
// model id, so vectors are interchangeable and cache keys stay stable across
// failover.
type failoverEmbedder struct {
	manager *providers.Manager
	modelID string
	dim     int
}

func (f *failoverEmbedder) ModelID() string { return f.modelID }

func (f *failoverEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	var lastErr error
	for _, idx := range f.manager.PreferredEmbedOrder() {
		p, _ := f.manager.EmbedProviderByIndex(idx)
		out, _, err := p.Embed(ctx, providers.EmbedRequest{
			Operation: "ask_query_embed",
			Inputs:    texts,
			Dimension: f.dim,
		})
		if err == nil && len(out) == len(texts) {
			return out, nil
		}
		if err == nil {
			err = fmt.Errorf("provider returned %d vectors for %d inputs", len(out), len(texts))
		}
		lastErr = err
	}
	return nil, fmt.Errorf("all embedding providers failed: %w", lastErr)
}

// failoverLLM walks the configured language-model providers in preferred
// order until one returns text. The composer adds the per-call timeout and
// the single retry on top.
type failoverLLM struct {
	manager *providers.Manager
}

func (f *failoverLLM) Generate(ctx context.Context, req providers.GenerateRequest) (providers.GenerateResponse, providers.ProviderInfo, error) {
	var (
		resp providers.GenerateResponse
		info providers.ProviderInfo
		err  error
	)
	for _, idx := range f.manager.PreferredLLMOrder() {
		p, ref := f.manager.LLMProviderByIndex(idx)
		resp, info, err = p.Generate(ctx, req)
		if err == nil && strings.TrimSpace(resp.Text) != "" {
			info.Name = ref.Name
			return resp, info, nil
		}
	}
	if err == nil {
		err = errors.New("all providers returned empty completions")
	}
	return resp, info, err
}

// graphCache keeps an in-memory citation graph hydrated from storage, shared
// by every graph read. Reads older than the TTL trigger a reload; deletions
// invalidate immediately so a removed paper never reappears from cache.
type graphCache struct {
	graphRepo    *storage.GraphRepo
	citationRepo *storage.CitationRepo
	ttl          time.Duration

	mu       sync.Mutex
	builder  *graph.Builder
	queries  *graph.QueryService
	loadedAt time.Time
}

func newGraphCache(graphRepo *storage.GraphRepo, citationRepo *storage.CitationRepo, ttl time.Duration, resolveThreshold float64, foundationalYears int) *graphCache {
	b := graph.NewBuilder(resolveThreshold)
	return &graphCache{
		graphRepo:    graphRepo,
		citationRepo: citationRepo,
		ttl:          ttl,
		builder:      b,
		queries:      graph.NewQueryService(b, foundationalYears),
	}
}

func (g *graphCache) view(ctx context.Context) (*graph.QueryService, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.loadedAt.IsZero() && time.Since(g.loadedAt) < g.ttl {
		return g.queries, nil
	}
	nodes, err := g.graphRepo.ListNodes(ctx)
	if err != nil {
		return nil, fmt.Errorf("load graph nodes: %w", err)
	}
	edges, err := g.citationRepo.ListEdges(ctx)
	if err != nil {
		return nil, fmt.Errorf("load graph edges: %w", err)
	}
	g.builder.Load(nodes, edges)
	g.loadedAt = time.Now()
	return g.queries, nil
}

func (g *graphCache) invalidate() {
	g.mu.Lock()
	g.loadedAt = time.Time{}
	g.mu.Unlock()
}

type clusterSummary struct {
	Label int `json:"label"`
	Size  int `json:"size"`
}

func clusterSummaries(sizes map[int]int) []clusterSummary {
	out := make([]clusterSummary, 0, len(sizes))
	for label, size := range sizes {
		out = append(out, clusterSummary{Label: label, Size: size})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Label < out[j].Label })
	return out
}

// parseTimeBound accepts RFC 3339 timestamps, dates, or bare years. Empty
// means unbounded.
func parseTimeBound(v string) (*time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02", "2006"} {
		if t, err := time.Parse(layout, v); err == nil {
			t = t.UTC()
			return &t, nil
		}
	}
	return nil, fmt.Errorf("invalid time bound %q", v)
}

func saveUploadedFile(dstDir string, fh *multipart.FileHeader) (string, error) {
	src, err := fh.Open()
	if err != nil {
		return "", fmt.Errorf("open upload: %w", err)
	}
	defer src.Close()

	tmp, err := os.CreateTemp(dstDir, "upload-*")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		_ = tmp.Close()
	}()

	if _, err := io.Copy(tmp, src); err != nil {
		return "", fmt.Errorf("write upload: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}
	finalPath := util.SafeJoin(dstDir, fh.Filename)
	if err := os.Rename(tmp.Name(), finalPath); err != nil {
		return "", fmt.Errorf("atomic move upload: %w", err)
	}
	return finalPath, nil
}

func firstSingleFile(m map[string][]*multipart.FileHeader) (*multipart.FileHeader, bool) {
	for _, v := range m {
		if len(v) > 0 {
			return v[0], true
		}
	}
	return nil, false
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, code int, err error) {
	apiErr := toAPIError(code, err)
	writeJSON(w, code, map[string]any{
		"error": map[string]any{
			"code":    apiErr.Code,
			"message": apiErr.Message,
		},
	})
}

type apiError struct {
	Code    string
	Message string
}

func toAPIError(status int, err error) apiError {
	msg := "Request failed."
	code := "LG-API-4000"
	raw := ""
	if err != nil {
		raw = strings.ToLower(err.Error())
	}

	switch {
	case status >= 500:
		switch {
		case strings.Contains(raw, "relation") && strings.Contains(raw, "does not exist"):
			return apiError{
				Code:    "LG-DB-5001",
				Message: "Database schema is not initialized. Run migrations and retry.",
			}
		case strings.Contains(raw, "connect"), strings.Contains(raw, "dial tcp"), strings.Contains(raw, "connection refused"):
			return apiError{
				Code:    "LG-DB-5002",
				Message: "Database connection is unavailable. Check local services and retry.",
			}
		default:
			return apiError{
				Code:    "LG-API-5000",
				Message: "Internal server error. Please retry or check service logs.",
			}
		}
	case status == http.StatusBadRequest:
		code = "LG-API-4001"
		msg = "Invalid request. Check inputs and retry."
	case status == http.StatusNotFound:
		code = "LG-API-4004"
		msg = "Requested resource was not found."
	case status == http.StatusConflict:
		code = "LG-API-4009"
		msg = "Operation conflicts with current state. Retry after checking status."
	case status == http.StatusMethodNotAllowed:
		code = "LG-API-4005"
		msg = "This endpoint does not support the requested method."
	case status == http.StatusBadGateway:
		code = "LG-API-5020"
		msg = "Upstream provider unavailable. Retry shortly."
	}

	// For 4xx, keep user-safe validation context only.
	if status >= 400 && status < 500 && err != nil {
		low := strings.ToLower(err.Error())
		switch {
		case strings.Contains(low, "question is required"):
			msg = "A question is required."
		case strings.Contains(low, "malformed paper document"):
			msg = "Paper document is malformed: a title and some text are required."
		case strings.Contains(low, "no files provided"):
			msg = "No PDF or JSON files were provided."
		case strings.Contains(low, "invalid json"):
			msg = "Malformed JSON request body."
		case strings.Contains(low, "unsupported rebuild mode"):
			msg = "Unsupported rebuild mode."
		case strings.Contains(low, "unknown embed provider"):
			msg = "Unknown embedding provider name."
		case strings.Contains(low, "paper query parameter"):
			msg = "A paper id query parameter is required."
		case strings.Contains(low, "invalid depth"),
			strings.Contains(low, "invalid time bound"),
			strings.Contains(low, "invalid cluster label"):
			msg = "Invalid query parameter value."
		}
	}

	return apiError{Code: code, Message: msg}
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,DELETE,OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
