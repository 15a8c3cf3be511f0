package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/api/serviceerror"
	tclient "go.temporal.io/sdk/client"
	"go.uber.org/zap"

	"litgraph/internal/config"
	"litgraph/internal/engine"
	"litgraph/internal/ingestor"
	"litgraph/internal/models"
	"litgraph/internal/providers"
	"litgraph/internal/workflows"
)

func main() {
	_ = godotenv.Load(".env")
	cfg := config.Load()

	rootCmd := &cobra.Command{
		Use:          "litgraphctl",
		Short:        "operations CLI for the litgraph paper pipeline",
		SilenceUsage: true,
	}

	var maxChildren int
	ingestCmd := &cobra.Command{
		Use:   "ingest-dir <dir>",
		Short: "bulk-ingest every PDF and JSON paper in a directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := filepath.Abs(args[0])
			if err != nil {
				return err
			}
			if _, err := os.Stat(dir); err != nil {
				return fmt.Errorf("input directory: %w", err)
			}
			pm, err := providers.NewManager(cfg)
			if err != nil {
				return fmt.Errorf("init providers: %w", err)
			}
			input := workflows.BulkIngestInput{
				InputDir:              dir,
				MaxConcurrentChildren: maxChildren,
				EmbedProviders:        pm.EmbedCount(),
				LLMProviders:          pm.LLMCount(),
				CooldownSeconds:       cfg.ProviderCooldownSecs,
			}
			return startWorkflow(cfg, workflows.BulkIngestWorkflowID(dir), workflows.BulkIngestWorkflow, input)
		},
	}
	ingestCmd.Flags().IntVar(&maxChildren, "max-children", cfg.IngestMaxChildren, "maximum concurrent per-paper ingest workflows")

	var preferredEmbed string
	var strictEmbed bool
	rebuildCmd := &cobra.Command{
		Use:   "rebuild <mode>",
		Short: "start an admin rebuild (REEMBED_ALL_PAPERS, RETRY_FAILED_PAPERS or RECLUSTER_GRAPH)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return startRebuild(cfg, args[0], preferredEmbed, strictEmbed)
		},
	}
	rebuildCmd.Flags().StringVar(&preferredEmbed, "embed-provider", "", "try this embedding provider first")
	rebuildCmd.Flags().BoolVar(&strictEmbed, "strict-embed", false, "fail instead of falling back when the preferred embedding provider is down")

	reclusterCmd := &cobra.Command{
		Use:   "recluster",
		Short: "rebuild graph clusters without touching embeddings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return startRebuild(cfg, workflows.ModeRecluster, "", false)
		},
	}

	var statusBulk bool
	var statusRebuild bool
	statusCmd := &cobra.Command{
		Use:   "status <paper-id-or-filename>",
		Short: "query ingest progress for a paper, a bulk run (--bulk) or a rebuild (--rebuild)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return showStatus(cfg, args[0], statusBulk, statusRebuild)
		},
	}
	statusCmd.Flags().BoolVar(&statusBulk, "bulk", false, "treat the argument as a bulk-ingest directory")
	statusCmd.Flags().BoolVar(&statusRebuild, "rebuild", false, "treat the argument as a rebuild mode")

	var smokeAsk string
	smokeCmd := &cobra.Command{
		Use:   "smoke <paper.json|paper.pdf ...>",
		Short: "run the full pipeline in process with mock providers, no Postgres or Temporal",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSmoke(cfg, args, smokeAsk)
		},
	}
	smokeCmd.Flags().StringVar(&smokeAsk, "ask", "", "question to answer over the ingested papers")

	rootCmd.AddCommand(ingestCmd, rebuildCmd, reclusterCmd, statusCmd, smokeCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func startRebuild(cfg config.Config, rawMode, preferredEmbed string, strict bool) error {
	mode := strings.ToUpper(strings.TrimSpace(rawMode))
	switch mode {
	case workflows.ModeReembedAll, workflows.ModeRetryFailed, workflows.ModeRecluster:
	default:
		return fmt.Errorf("unsupported rebuild mode %q (want %s, %s or %s)",
			rawMode, workflows.ModeReembedAll, workflows.ModeRetryFailed, workflows.ModeRecluster)
	}
	pm, err := providers.NewManager(cfg)
	if err != nil {
		return fmt.Errorf("init providers: %w", err)
	}
	input := workflows.RebuildInput{
		Mode:                mode,
		EmbedProviders:      pm.EmbedCount(),
		LLMProviders:        pm.LLMCount(),
		CooldownSeconds:     cfg.ProviderCooldownSecs,
		StrictEmbedProvider: strict,
	}
	if preferredEmbed != "" {
		idx := pm.FindEmbedProviderIndex(preferredEmbed)
		if idx < 0 {
			return fmt.Errorf("unknown embed provider %q", preferredEmbed)
		}
		input.PreferredEmbedProviderIndex = idx
	}
	return startWorkflow(cfg, workflows.RebuildWorkflowID(mode), workflows.RebuildWorkflow, input)
}

func startWorkflow(cfg config.Config, workflowID string, fn any, input any) error {
	c, err := dial(cfg)
	if err != nil {
		return err
	}
	defer c.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	we, err := c.ExecuteWorkflow(ctx, tclient.StartWorkflowOptions{
		ID:                                       workflowID,
		TaskQueue:                                cfg.TemporalTaskQueue,
		WorkflowIDReusePolicy:                    enumspb.WORKFLOW_ID_REUSE_POLICY_ALLOW_DUPLICATE,
		WorkflowExecutionErrorWhenAlreadyStarted: true,
	}, fn, input)
	if err != nil {
		var started *serviceerror.WorkflowExecutionAlreadyStarted
		if errors.As(err, &started) {
			return fmt.Errorf("workflow %s is already running", workflowID)
		}
		return fmt.Errorf("start workflow %s: %w", workflowID, err)
	}
	fmt.Printf("started %s run %s\n", we.GetID(), we.GetRunID())
	return nil
}

func showStatus(cfg config.Config, arg string, bulk, rebuild bool) error {
	workflowID := workflows.IngestWorkflowID(arg)
	query := workflows.QueryGetPaperStatus
	switch {
	case bulk:
		workflowID = workflows.BulkIngestWorkflowID(arg)
		query = workflows.QueryGetProgress
	case rebuild:
		workflowID = workflows.RebuildWorkflowID(strings.ToUpper(strings.TrimSpace(arg)))
		query = ""
	}

	c, err := dial(cfg)
	if err != nil {
		return err
	}
	defer c.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	desc, err := c.DescribeWorkflowExecution(ctx, workflowID, "")
	if err != nil {
		var notFound *serviceerror.NotFound
		if errors.As(err, &notFound) {
			return fmt.Errorf("no workflow found for %q (looked for id %s)", arg, workflowID)
		}
		return fmt.Errorf("describe workflow %s: %w", workflowID, err)
	}
	fmt.Printf("workflow %s: %s\n", workflowID, executionState(desc.GetWorkflowExecutionInfo().GetStatus()))
	if query == "" {
		return nil
	}

	resp, err := c.QueryWorkflow(ctx, workflowID, "", query)
	if err != nil {
		return fmt.Errorf("query workflow %s: %w", workflowID, err)
	}
	var detail any
	if query == workflows.QueryGetPaperStatus {
		var st workflows.PaperStatus
		if err := resp.Get(&st); err != nil {
			return err
		}
		detail = st
	} else {
		var pr workflows.BulkIngestProgress
		if err := resp.Get(&pr); err != nil {
			return err
		}
		detail = pr
	}
	b, err := json.MarshalIndent(detail, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(b))
	return nil
}

// runSmoke ingests the given papers through the embedded engine with the
// deterministic mock provider. It proves the chunk/embed/index/extract/graph
// path holds together on a machine with no infrastructure running.
func runSmoke(cfg config.Config, paths []string, question string) error {
	mock := providers.NewMockProvider(cfg.EmbedDim)
	eng := engine.New(mock, mock, engine.Options{
		EmbedModel:        cfg.EmbedModel,
		EmbedDim:          cfg.EmbedDim,
		ChunkBudget:       cfg.ChunkBudget,
		ChunkOverlap:      cfg.ChunkOverlap,
		ContextBudget:     cfg.ContextBudget,
		TopK:              cfg.DefaultTopK,
		ResolveThreshold:  cfg.ResolveThreshold,
		FoundationalYears: cfg.FoundationalYears,
		CacheSize:         cfg.EmbedCacheSize,
		CacheTTL:          cfg.EmbedCacheTTL,
		LLMTimeout:        cfg.LLMTimeout,
		RetryBackoff:      cfg.RetryBackoff,
	}, zap.NewNop())

	ctx := context.Background()
	for _, path := range paths {
		var p models.Paper
		var err error
		if strings.EqualFold(filepath.Ext(path), ".pdf") {
			p, err = ingestor.FromPDF(path)
		} else {
			var data []byte
			data, err = os.ReadFile(path)
			if err == nil {
				p, err = ingestor.ParseDocument(data)
			}
		}
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		stats, err := eng.IngestPaper(ctx, p)
		if err != nil {
			return fmt.Errorf("ingest %s: %w", path, err)
		}
		fmt.Printf("ingested %s chunks=%d new_edges=%d unresolved=%d\n",
			stats.PaperID, stats.Chunks, stats.NewEdges, stats.Unresolved)
	}

	labels := eng.Recluster()
	distinct := make(map[int]bool, 8)
	for _, c := range labels {
		distinct[c] = true
	}
	fmt.Printf("graph: %d nodes, %d clusters\n", len(labels), len(distinct))

	if question != "" {
		rec, res, err := eng.Ask(ctx, question, nil, 0)
		if err != nil {
			return fmt.Errorf("ask: %w", err)
		}
		fmt.Printf("retrieved %d chunks, confidence=%s\n", len(res.Hits), rec.Confidence)
		b, err := json.MarshalIndent(rec, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(b))
	}
	return nil
}

func executionState(status enumspb.WorkflowExecutionStatus) string {
	switch status {
	case enumspb.WORKFLOW_EXECUTION_STATUS_RUNNING:
		return "running"
	case enumspb.WORKFLOW_EXECUTION_STATUS_COMPLETED:
		return "completed"
	case enumspb.WORKFLOW_EXECUTION_STATUS_FAILED,
		enumspb.WORKFLOW_EXECUTION_STATUS_CANCELED,
		enumspb.WORKFLOW_EXECUTION_STATUS_TERMINATED,
		enumspb.WORKFLOW_EXECUTION_STATUS_TIMED_OUT:
		return "failed"
	default:
		return strings.ToLower(status.String())
	}
}

func dial(cfg config.Config) (tclient.Client, error) {
	c, err := tclient.Dial(tclient.Options{HostPort: cfg.TemporalAddress, Namespace: cfg.TemporalNamespace})
	if err != nil {
		return nil, fmt.Errorf("dial temporal at %s: %w", cfg.TemporalAddress, err)
	}
	return c, nil
}
