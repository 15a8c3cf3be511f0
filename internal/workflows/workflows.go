package workflows

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"litgraph/internal/activities"
	"litgraph/internal/models"
	"litgraph/internal/providers"
)

const (
	QueryGetPaperStatus = "GetPaperStatus"
	QueryGetProgress    = "GetProgress"
)

const (
	ModeReembedAll  = "REEMBED_ALL_PAPERS"
	ModeRetryFailed = "RETRY_FAILED_PAPERS"
	ModeRecluster   = "RECLUSTER_GRAPH"
)

// providerState tracks per-run provider cooldowns so a provider that just
// reported quota exhaustion is not hammered again on the next attempt.
type providerState struct {
	disabledUntil map[int]time.Time
}

func newProviderState() providerState {
	return providerState{disabledUntil: map[int]time.Time{}}
}

// PaperIngestWorkflow runs one paper through the full pipeline: decompose,
// register, chunk, embed, store, extract citations, merge into the graph,
// summarize, mark indexed. Input defects and provider exhaustion finish the
// run gracefully with the paper marked failed and its partial rows cleaned
// up; infrastructure errors propagate and fail the workflow.
func PaperIngestWorkflow(ctx workflow.Context, input PaperIngestInput) (string, error) {
	status := PaperStatus{
		Path:        input.Path,
		CurrentStep: "init",
		Status:      models.PaperStatusProcessing,
		RetryCounts: map[string]int{},
		Steps:       map[string]string{},
	}
	if err := workflow.SetQueryHandler(ctx, QueryGetPaperStatus, func() (PaperStatus, error) {
		return status, nil
	}); err != nil {
		return "", err
	}

	ao := workflow.ActivityOptions{
		StartToCloseTimeout: 5 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    2 * time.Second,
			BackoffCoefficient: 2,
			MaximumInterval:    20 * time.Second,
			MaximumAttempts:    2,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, ao)
	cooldown := durationOrDefault(input.CooldownSeconds, 900)
	embedProviders := defaultCount(input.EmbedProviders)
	llmProviders := defaultCount(input.LLMProviders)
	embedState := newProviderState()
	llmState := newProviderState()
	requestID := workflow.GetInfo(ctx).WorkflowExecution.RunID

	status.CurrentStep = "decompose"
	status.Steps[status.CurrentStep] = "processing"
	var paper models.Paper
	switch {
	case input.Paper != nil:
		paper = *input.Paper
	case strings.TrimSpace(input.Path) != "":
		var out activities.DecomposePaperOutput
		if err := workflow.ExecuteActivity(ctx, "DecomposePaperActivity", activities.DecomposePaperInput{Path: input.Path}).Get(ctx, &out); err != nil {
			if isInputError(err) {
				// Nothing was registered yet, so there is nothing to clean up.
				status.Status = models.PaperStatusFailed
				status.FailReason = inputFailReason(err)
				status.Steps[status.CurrentStep] = "failed"
				return status.Status, nil
			}
			return "", err
		}
		paper = out.Paper
	case strings.TrimSpace(input.PaperID) != "":
		var out activities.GetPaperOutput
		if err := workflow.ExecuteActivity(ctx, "GetPaperActivity", activities.GetPaperInput{PaperID: input.PaperID}).Get(ctx, &out); err != nil {
			return "", err
		}
		paper = out.Paper
	default:
		return "", fmt.Errorf("paper ingest input names no paper")
	}
	status.PaperID = paper.PaperID
	status.Steps[status.CurrentStep] = "done"

	status.CurrentStep = "register"
	status.Steps[status.CurrentStep] = "processing"
	paper.Status = models.PaperStatusProcessing
	paper.FailReason = ""
	if err := workflow.ExecuteActivity(ctx, "RegisterPaperActivity", activities.RegisterPaperInput{Paper: paper}).Get(ctx, nil); err != nil {
		return "", err
	}
	status.Steps[status.CurrentStep] = "done"

	status.CurrentStep = "chunk"
	status.Steps[status.CurrentStep] = "processing"
	var chunkOut activities.ChunkPaperOutput
	if err := workflow.ExecuteActivity(ctx, "ChunkPaperActivity", activities.ChunkPaperInput{
		Paper:   paper,
		Budget:  input.ChunkBudget,
		Overlap: input.ChunkOverlap,
	}).Get(ctx, &chunkOut); err != nil {
		return "", err
	}
	if len(chunkOut.Chunks) == 0 {
		return failPaper(ctx, &status, paper.PaperID, "no chunkable text"), nil
	}
	status.Chunks = len(chunkOut.Chunks)
	status.Steps[status.CurrentStep] = "done"

	status.CurrentStep = "embed"
	status.Steps[status.CurrentStep] = "processing"
	texts := make([]string, 0, len(chunkOut.Chunks))
	for _, c := range chunkOut.Chunks {
		texts = append(texts, c.Text)
	}
	embedOut, err := callEmbedWithFailover(ctx, &embedState, embedProviders, cooldown, activities.EmbedChunksInput{
		Operation: "embed_chunks",
		PaperID:   paper.PaperID,
		Texts:     texts,
	}, status.RetryCounts, input.PreferredEmbedProviderIndex, input.StrictEmbedProvider, requestID)
	if err != nil {
		reason := "embedding providers exhausted: " + string(providers.ClassifyError(err))
		return failPaper(ctx, &status, paper.PaperID, reason), nil
	}
	status.Providers = append(status.Providers, embedOut.ProviderName)
	status.Steps[status.CurrentStep] = "done"

	status.CurrentStep = "store_chunks"
	status.Steps[status.CurrentStep] = "processing"
	// Chunks are replaced wholesale so a re-ingest of edited text cannot
	// collide with stale sequence numbers.
	if err := workflow.ExecuteActivity(ctx, "DeleteChunksActivity", activities.DeleteChunksInput{PaperID: paper.PaperID}).Get(ctx, nil); err != nil {
		return "", err
	}
	if err := workflow.ExecuteActivity(ctx, "StoreChunksActivity", activities.StoreChunksInput{
		Chunks:  chunkOut.Chunks,
		Vectors: embedOut.Vectors,
	}).Get(ctx, nil); err != nil {
		if isInvalidTextEncodingError(err) {
			return failPaper(ctx, &status, paper.PaperID, "paper contains invalid text encoding after extraction"), nil
		}
		return "", err
	}
	status.Steps[status.CurrentStep] = "done"

	status.CurrentStep = "extract_citations"
	status.Steps[status.CurrentStep] = "processing"
	var citeOut activities.ExtractCitationsOutput
	if err := workflow.ExecuteActivity(ctx, "ExtractCitationsActivity", activities.ExtractCitationsInput{Paper: paper}).Get(ctx, &citeOut); err != nil {
		return "", err
	}
	status.Steps[status.CurrentStep] = "done"

	status.CurrentStep = "merge_graph"
	status.Steps[status.CurrentStep] = "processing"
	var mergeOut activities.MergeGraphOutput
	if err := workflow.ExecuteActivity(ctx, "MergeGraphActivity", activities.MergeGraphInput{
		CitingPaperID: paper.PaperID,
		Edges:         citeOut.Edges,
	}).Get(ctx, &mergeOut); err != nil {
		return "", err
	}
	status.NewEdges = mergeOut.NewEdges
	status.MergedEdges = mergeOut.MergedEdges
	status.Unresolved = mergeOut.UnresolvedTargets
	status.Steps[status.CurrentStep] = "done"

	if !input.SkipSummary {
		status.CurrentStep = "summarize"
		status.Steps[status.CurrentStep] = "processing"
		sumOut, err := callSummarizeWithFailover(ctx, &llmState, llmProviders, cooldown, activities.SummarizePaperInput{
			PaperID: paper.PaperID,
		}, status.RetryCounts, requestID)
		if err != nil {
			// The summary is a convenience; the paper is already searchable.
			status.Steps[status.CurrentStep] = "skipped"
		} else {
			status.Providers = append(status.Providers, sumOut.ProviderName)
			status.Steps[status.CurrentStep] = "done"
		}
	}

	status.CurrentStep = "mark_indexed"
	status.Steps[status.CurrentStep] = "processing"
	if err := workflow.ExecuteActivity(ctx, "UpdatePaperStatusActivity", activities.UpdatePaperStatusInput{
		PaperID: paper.PaperID,
		Status:  models.PaperStatusIndexed,
	}).Get(ctx, nil); err != nil {
		return "", err
	}
	status.Steps[status.CurrentStep] = "done"
	status.CurrentStep = "done"
	status.Status = models.PaperStatusIndexed
	return status.Status, nil
}

// BulkIngestWorkflow fans a directory of papers out to PaperIngestWorkflow
// children in bounded batches and writes a run manifest when the last batch
// lands.
func BulkIngestWorkflow(ctx workflow.Context, input BulkIngestInput) (string, error) {
	progress := BulkIngestProgress{
		PerPaper:      map[string]string{},
		ChildWorkflow: map[string]string{},
	}
	if err := workflow.SetQueryHandler(ctx, QueryGetProgress, func() (BulkIngestProgress, error) {
		return progress, nil
	}); err != nil {
		return "", err
	}

	ao := workflow.ActivityOptions{
		StartToCloseTimeout: 2 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    2 * time.Second,
			BackoffCoefficient: 2,
			MaximumInterval:    20 * time.Second,
			MaximumAttempts:    3,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, ao)
	var listOut activities.ListIncomingOutput
	if err := workflow.ExecuteActivity(ctx, "ListIncomingActivity", activities.ListIncomingInput{InputDir: input.InputDir}).Get(ctx, &listOut); err != nil {
		return "", err
	}
	paths := listOut.Paths
	progress.Total = len(paths)
	maxChildren := input.MaxConcurrentChildren
	if maxChildren <= 0 {
		maxChildren = 3
	}

	for i := 0; i < len(paths); i += maxChildren {
		end := i + maxChildren
		if end > len(paths) {
			end = len(paths)
		}
		futures := make([]workflow.ChildWorkflowFuture, 0, end-i)
		childPaths := make([]string, 0, end-i)
		for _, path := range paths[i:end] {
			progress.PerPaper[path] = "processing"
			workflowID := IngestWorkflowID(filepath.Base(path))
			childCtx := workflow.WithChildOptions(ctx, workflow.ChildWorkflowOptions{WorkflowID: workflowID})
			f := workflow.ExecuteChildWorkflow(childCtx, PaperIngestWorkflow, PaperIngestInput{
				Path:                        path,
				ChunkBudget:                 input.ChunkBudget,
				ChunkOverlap:                input.ChunkOverlap,
				EmbedProviders:              input.EmbedProviders,
				LLMProviders:                input.LLMProviders,
				PreferredEmbedProviderIndex: input.PreferredEmbedProviderIndex,
				StrictEmbedProvider:         input.StrictEmbedProvider,
				CooldownSeconds:             input.CooldownSeconds,
				SkipSummary:                 input.SkipSummary,
			})
			futures = append(futures, f)
			childPaths = append(childPaths, path)
			progress.ChildWorkflow[path] = workflowID
		}

		for idx, f := range futures {
			var childStatus string
			err := f.Get(ctx, &childStatus)
			path := childPaths[idx]
			if err != nil {
				progress.Failed++
				progress.PerPaper[path] = "failed"
				continue
			}
			if childStatus == models.PaperStatusFailed {
				progress.Failed++
			}
			progress.Done++
			progress.PerPaper[path] = childStatus
		}
	}

	runID := workflow.GetInfo(ctx).WorkflowExecution.RunID
	_ = workflow.ExecuteActivity(ctx, "WriteRunManifestActivity", activities.WriteRunManifestInput{
		RunID: runID,
		Manifest: map[string]any{
			"run_id":           runID,
			"input_dir":        input.InputDir,
			"total":            progress.Total,
			"done":             progress.Done,
			"failed":           progress.Failed,
			"per_paper_status": progress.PerPaper,
			"generated_at":     workflow.Now(ctx),
		},
	}).Get(ctx, nil)

	return "completed", nil
}

// RebuildWorkflow runs one maintenance mode over the corpus and records a
// run manifest. REEMBED_ALL_PAPERS re-runs every indexed paper (summaries
// are kept), RETRY_FAILED_PAPERS re-runs papers stuck in failed, and
// RECLUSTER_GRAPH recomputes community labels in place.
func RebuildWorkflow(ctx workflow.Context, input RebuildInput) (string, error) {
	ao := workflow.ActivityOptions{
		StartToCloseTimeout: 5 * time.Minute,
	}
	ctx = workflow.WithActivityOptions(ctx, ao)
	runID := workflow.GetInfo(ctx).WorkflowExecution.RunID
	manifest := map[string]any{
		"run_id":     runID,
		"mode":       input.Mode,
		"started_at": workflow.Now(ctx),
	}

	switch strings.ToUpper(strings.TrimSpace(input.Mode)) {
	case ModeRetryFailed:
		var failed activities.ListPapersByStatusOutput
		if err := workflow.ExecuteActivity(ctx, "ListPapersByStatusActivity", activities.ListPapersByStatusInput{Status: models.PaperStatusFailed}).Get(ctx, &failed); err != nil {
			return "", err
		}
		recovered := 0
		for _, id := range failed.PaperIDs {
			var out string
			if err := workflow.ExecuteChildWorkflow(ctx, PaperIngestWorkflow, PaperIngestInput{
				PaperID:                     id,
				ChunkBudget:                 input.ChunkBudget,
				ChunkOverlap:                input.ChunkOverlap,
				EmbedProviders:              input.EmbedProviders,
				LLMProviders:                input.LLMProviders,
				PreferredEmbedProviderIndex: input.PreferredEmbedProviderIndex,
				StrictEmbedProvider:         input.StrictEmbedProvider,
				CooldownSeconds:             input.CooldownSeconds,
			}).Get(ctx, &out); err == nil && out == models.PaperStatusIndexed {
				recovered++
			}
		}
		manifest["failed_papers_seen"] = len(failed.PaperIDs)
		manifest["recovered_papers"] = recovered
	case ModeReembedAll:
		var indexed activities.ListPapersByStatusOutput
		if err := workflow.ExecuteActivity(ctx, "ListPapersByStatusActivity", activities.ListPapersByStatusInput{Status: models.PaperStatusIndexed}).Get(ctx, &indexed); err != nil {
			return "", err
		}
		reembedded := 0
		for _, id := range indexed.PaperIDs {
			var out string
			if err := workflow.ExecuteChildWorkflow(ctx, PaperIngestWorkflow, PaperIngestInput{
				PaperID:                     id,
				ChunkBudget:                 input.ChunkBudget,
				ChunkOverlap:                input.ChunkOverlap,
				EmbedProviders:              input.EmbedProviders,
				LLMProviders:                input.LLMProviders,
				PreferredEmbedProviderIndex: input.PreferredEmbedProviderIndex,
				StrictEmbedProvider:         input.StrictEmbedProvider,
				CooldownSeconds:             input.CooldownSeconds,
				SkipSummary:                 true,
			}).Get(ctx, &out); err == nil && out == models.PaperStatusIndexed {
				reembedded++
			}
		}
		manifest["papers_seen"] = len(indexed.PaperIDs)
		manifest["reembedded_papers"] = reembedded
	case ModeRecluster:
		var out activities.ReclusterOutput
		if err := workflow.ExecuteActivity(ctx, "ReclusterActivity").Get(ctx, &out); err != nil {
			return "", err
		}
		manifest["nodes"] = out.Nodes
		manifest["clusters"] = out.Clusters
	default:
		return "", fmt.Errorf("unsupported rebuild mode: %s", input.Mode)
	}

	var out activities.WriteRunManifestOutput
	if err := workflow.ExecuteActivity(ctx, "WriteRunManifestActivity", activities.WriteRunManifestInput{
		RunID:    runID,
		Manifest: manifest,
	}).Get(ctx, &out); err != nil {
		return "", err
	}
	return out.Path, nil
}

// failPaper finishes a run on the graceful path: partial rows are cleaned
// up, the paper row keeps the failure reason, and the workflow completes
// with "failed" instead of an error.
func failPaper(ctx workflow.Context, status *PaperStatus, paperID, reason string) string {
	status.Status = models.PaperStatusFailed
	status.FailReason = reason
	status.Steps[status.CurrentStep] = "failed"
	_ = workflow.ExecuteActivity(ctx, "CleanupPaperActivity", activities.CleanupPaperInput{PaperID: paperID}).Get(ctx, nil)
	_ = workflow.ExecuteActivity(ctx, "UpdatePaperStatusActivity", activities.UpdatePaperStatusInput{
		PaperID:    paperID,
		Status:     models.PaperStatusFailed,
		FailReason: reason,
	}).Get(ctx, nil)
	return status.Status
}

func callEmbedWithFailover(ctx workflow.Context, state *providerState, providerCount int, cooldown time.Duration, input activities.EmbedChunksInput, retryCounts map[string]int, preferredIdx int, strict bool, requestID string) (activities.EmbedChunksOutput, error) {
	if retryCounts == nil {
		retryCounts = map[string]int{}
	}
	var lastErr error
	maxAttempts := providerCount * 4
	if maxAttempts <= 0 {
		maxAttempts = 4
	}
	if strict && preferredIdx >= 0 {
		maxAttempts = 4
	}
	for attempt := 0; attempt < maxAttempts; attempt++ {
		idx := 0
		switch {
		case strict && preferredIdx >= 0:
			idx = preferredIdx
		case preferredIdx >= 0:
			idx = (preferredIdx + attempt) % providerCount
		default:
			idx = attempt % providerCount
		}
		if isProviderDisabled(ctx, state, idx) {
			continue
		}
		input.ProviderIndex = idx
		var out activities.EmbedChunksOutput
		err := workflow.ExecuteActivity(ctx, "EmbedChunksActivity", input).Get(ctx, &out)
		if err == nil {
			_ = workflow.ExecuteActivity(ctx, "LogLLMCallActivity", activities.LogLLMCallInput{
				RequestID:    requestID,
				Operation:    input.Operation,
				PaperID:      input.PaperID,
				ProviderName: out.ProviderName,
				Model:        out.Model,
				Status:       "ok",
			}).Get(ctx, nil)
			return out, nil
		}
		lastErr = err
		errType := providers.ClassifyError(err)
		_ = workflow.ExecuteActivity(ctx, "LogLLMCallActivity", activities.LogLLMCallInput{
			RequestID:    requestID,
			Operation:    input.Operation,
			PaperID:      input.PaperID,
			ProviderName: fmt.Sprintf("provider-%d", idx),
			Status:       "failed",
			ErrorType:    string(errType),
		}).Get(ctx, nil)
		key := fmt.Sprintf("embed-%d", idx)
		retryCounts[key]++
		switch errType {
		case providers.ErrorQuota:
			disableProviderUntil(ctx, state, idx, cooldown)
		case providers.ErrorRate:
			if retryCounts[key] <= 2 {
				_ = workflow.Sleep(ctx, time.Duration(retryCounts[key]*2)*time.Second)
				if !strict {
					attempt--
				}
			} else {
				disableProviderUntil(ctx, state, idx, 2*time.Minute)
			}
		case providers.ErrorTransient:
			if retryCounts[key] <= 2 {
				_ = workflow.Sleep(ctx, time.Duration(retryCounts[key])*time.Second)
				if !strict {
					attempt--
				}
			}
		default:
			disableProviderUntil(ctx, state, idx, time.Minute)
		}
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("all embed providers exhausted")
	}
	return activities.EmbedChunksOutput{}, lastErr
}

func callSummarizeWithFailover(ctx workflow.Context, state *providerState, providerCount int, cooldown time.Duration, input activities.SummarizePaperInput, retryCounts map[string]int, requestID string) (activities.SummarizePaperOutput, error) {
	if retryCounts == nil {
		retryCounts = map[string]int{}
	}
	var lastErr error
	for attempt := 0; attempt < providerCount*4; attempt++ {
		idx := attempt % providerCount
		if isProviderDisabled(ctx, state, idx) {
			continue
		}
		input.ProviderIndex = idx
		var out activities.SummarizePaperOutput
		err := workflow.ExecuteActivity(ctx, "SummarizePaperActivity", input).Get(ctx, &out)
		if err == nil {
			_ = workflow.ExecuteActivity(ctx, "LogLLMCallActivity", activities.LogLLMCallInput{
				RequestID:    requestID,
				Operation:    "paper_summary",
				PaperID:      input.PaperID,
				ProviderName: out.ProviderName,
				Model:        out.Model,
				Status:       "ok",
			}).Get(ctx, nil)
			return out, nil
		}
		lastErr = err
		errType := providers.ClassifyError(err)
		_ = workflow.ExecuteActivity(ctx, "LogLLMCallActivity", activities.LogLLMCallInput{
			RequestID:    requestID,
			Operation:    "paper_summary",
			PaperID:      input.PaperID,
			ProviderName: fmt.Sprintf("provider-%d", idx),
			Status:       "failed",
			ErrorType:    string(errType),
		}).Get(ctx, nil)
		key := fmt.Sprintf("llm-%d", idx)
		retryCounts[key]++
		switch errType {
		case providers.ErrorQuota:
			disableProviderUntil(ctx, state, idx, cooldown)
		case providers.ErrorRate:
			if retryCounts[key] <= 2 {
				_ = workflow.Sleep(ctx, time.Duration(retryCounts[key]*2)*time.Second)
				attempt--
			} else {
				disableProviderUntil(ctx, state, idx, 2*time.Minute)
			}
		case providers.ErrorTransient:
			if retryCounts[key] <= 2 {
				_ = workflow.Sleep(ctx, time.Duration(retryCounts[key])*time.Second)
				attempt--
			}
		default:
			disableProviderUntil(ctx, state, idx, time.Minute)
		}
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("all llm providers exhausted")
	}
	return activities.SummarizePaperOutput{}, lastErr
}

func isProviderDisabled(ctx workflow.Context, state *providerState, idx int) bool {
	until, ok := state.disabledUntil[idx]
	if !ok {
		return false
	}
	return workflow.Now(ctx).Before(until)
}

func disableProviderUntil(ctx workflow.Context, state *providerState, idx int, d time.Duration) {
	state.disabledUntil[idx] = workflow.Now(ctx).Add(d)
}

func isInputError(err error) bool {
	e := strings.ToLower(err.Error())
	return strings.Contains(e, "malformed paper") || strings.Contains(e, "no extractable text")
}

func inputFailReason(err error) string {
	if strings.Contains(strings.ToLower(err.Error()), "no extractable text") {
		return "no extractable text found (OCR not enabled)"
	}
	return "malformed paper document"
}

func isInvalidTextEncodingError(err error) bool {
	e := strings.ToLower(err.Error())
	return strings.Contains(e, "invalid byte sequence") || strings.Contains(e, "sqlstate 22021")
}

// IngestWorkflowID derives the deterministic workflow id for one paper's
// ingest from its paper id or input filename. The API server and the bulk
// fan-out share it so status queries land on the same execution.
func IngestWorkflowID(name string) string {
	return "paper-" + sanitizeID(name)
}

// RebuildWorkflowID is fixed per mode, so concurrent rebuild requests for
// the same mode collide instead of doubling the work.
func RebuildWorkflowID(mode string) string {
	return "rebuild-" + sanitizeID(mode)
}

// BulkIngestWorkflowID is fixed per input directory base name, so two bulk
// scans of the same directory cannot run at once.
func BulkIngestWorkflowID(dir string) string {
	return "bulk-" + sanitizeID(filepath.Base(dir))
}

func sanitizeID(s string) string {
	s = strings.ToLower(s)
	s = strings.ReplaceAll(s, "_", "-")
	s = strings.ReplaceAll(s, ".", "-")
	s = strings.ReplaceAll(s, "/", "-")
	return s
}

func durationOrDefault(seconds int, fallback int) time.Duration {
	if seconds <= 0 {
		seconds = fallback
	}
	return time.Duration(seconds) * time.Second
}

func defaultCount(n int) int {
	if n <= 0 {
		return 1
	}
	return n
}
