package workflows

import "litgraph/internal/models"

// PaperIngestInput names the paper one of three ways: an already decomposed
// document (API submissions), a file path on the worker's volume (bulk
// ingest), or a known paper id (rebuild re-runs). Paper wins over Path wins
// over PaperID.
type PaperIngestInput struct {
	Paper   *models.Paper `json:"paper,omitempty"`
	Path    string        `json:"path,omitempty"`
	PaperID string        `json:"paper_id,omitempty"`

	ChunkBudget                 int  `json:"chunk_budget,omitempty"`
	ChunkOverlap                int  `json:"chunk_overlap,omitempty"`
	EmbedProviders              int  `json:"embed_providers,omitempty"`
	LLMProviders                int  `json:"llm_providers,omitempty"`
	PreferredEmbedProviderIndex int  `json:"preferred_embed_provider_index,omitempty"`
	StrictEmbedProvider         bool `json:"strict_embed_provider,omitempty"`
	CooldownSeconds             int  `json:"cooldown_seconds,omitempty"`
	SkipSummary                 bool `json:"skip_summary,omitempty"`
}

type BulkIngestInput struct {
	InputDir              string `json:"input_dir"`
	MaxConcurrentChildren int    `json:"max_concurrent_children,omitempty"`

	ChunkBudget                 int  `json:"chunk_budget,omitempty"`
	ChunkOverlap                int  `json:"chunk_overlap,omitempty"`
	EmbedProviders              int  `json:"embed_providers,omitempty"`
	LLMProviders                int  `json:"llm_providers,omitempty"`
	PreferredEmbedProviderIndex int  `json:"preferred_embed_provider_index,omitempty"`
	StrictEmbedProvider         bool `json:"strict_embed_provider,omitempty"`
	CooldownSeconds             int  `json:"cooldown_seconds,omitempty"`
	SkipSummary                 bool `json:"skip_summary,omitempty"`
}

type RebuildInput struct {
	// Mode is one of REEMBED_ALL_PAPERS, RETRY_FAILED_PAPERS,
	// RECLUSTER_GRAPH.
	Mode string `json:"mode"`

	ChunkBudget                 int  `json:"chunk_budget,omitempty"`
	ChunkOverlap                int  `json:"chunk_overlap,omitempty"`
	EmbedProviders              int  `json:"embed_providers,omitempty"`
	LLMProviders                int  `json:"llm_providers,omitempty"`
	PreferredEmbedProviderIndex int  `json:"preferred_embed_provider_index,omitempty"`
	StrictEmbedProvider         bool `json:"strict_embed_provider,omitempty"`
	CooldownSeconds             int  `json:"cooldown_seconds,omitempty"`
}

type PaperStatus struct {
	PaperID     string            `json:"paper_id"`
	Path        string            `json:"path,omitempty"`
	CurrentStep string            `json:"current_step"`
	Status      string            `json:"status"`
	FailReason  string            `json:"fail_reason,omitempty"`
	Providers   []string          `json:"providers_used"`
	RetryCounts map[string]int    `json:"retry_counts"`
	Steps       map[string]string `json:"steps"`
	Chunks      int               `json:"chunks"`
	NewEdges    int               `json:"new_edges"`
	MergedEdges int               `json:"merged_edges"`
	Unresolved  int               `json:"unresolved"`
}

type BulkIngestProgress struct {
	Total         int               `json:"total"`
	Done          int               `json:"done"`
	Failed        int               `json:"failed"`
	PerPaper      map[string]string `json:"per_paper_status"`
	ChildWorkflow map[string]string `json:"child_workflow_ids,omitempty"`
}
