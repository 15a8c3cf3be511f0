package activities

import (
	"litgraph/internal/citations"
	"litgraph/internal/models"
)

type ListIncomingInput struct {
	InputDir string `json:"input_dir"`
}

type ListIncomingOutput struct {
	Paths []string `json:"paths"`
}

// DecomposePaperInput carries either a file path on the worker's volume or an
// inline JSON document handed over the API. Exactly one should be set; the
// path wins when both are.
type DecomposePaperInput struct {
	Path    string `json:"path,omitempty"`
	RawJSON []byte `json:"raw_json,omitempty"`
}

type DecomposePaperOutput struct {
	Paper models.Paper `json:"paper"`
}

type RegisterPaperInput struct {
	Paper models.Paper `json:"paper"`
}

type GetPaperInput struct {
	PaperID string `json:"paper_id"`
}

type GetPaperOutput struct {
	Paper models.Paper `json:"paper"`
}

type ListPapersByStatusInput struct {
	Status string `json:"status"`
}

type ListPapersByStatusOutput struct {
	PaperIDs []string `json:"paper_ids"`
}

type UpdatePaperStatusInput struct {
	PaperID    string `json:"paper_id"`
	Status     string `json:"status"`
	FailReason string `json:"fail_reason,omitempty"`
}

type ChunkPaperInput struct {
	Paper   models.Paper `json:"paper"`
	Budget  int          `json:"budget"`
	Overlap int          `json:"overlap"`
	ModelID string       `json:"model_id"`
}

type ChunkPaperOutput struct {
	Chunks []models.Chunk `json:"chunks"`
}

type DeleteChunksInput struct {
	PaperID string `json:"paper_id"`
}

type EmbedChunksInput struct {
	Operation     string   `json:"operation"`
	PaperID       string   `json:"paper_id"`
	ProviderIndex int      `json:"provider_index"`
	Texts         []string `json:"texts"`
}

type EmbedChunksOutput struct {
	Vectors      [][]float32 `json:"vectors"`
	ProviderName string      `json:"provider_name"`
	Model        string      `json:"model"`
}

type StoreChunksInput struct {
	Chunks  []models.Chunk `json:"chunks"`
	Vectors [][]float32    `json:"vectors,omitempty"`
}

type ExtractCitationsInput struct {
	Paper models.Paper `json:"paper"`
}

type ExtractCitationsOutput struct {
	Edges            []citations.RawEdge `json:"edges"`
	DroppedMarkers   []string            `json:"dropped_markers,omitempty"`
	AmbiguousMarkers []string            `json:"ambiguous_markers,omitempty"`
}

type MergeGraphInput struct {
	CitingPaperID string              `json:"citing_paper_id"`
	Edges         []citations.RawEdge `json:"edges"`
}

type MergeGraphOutput struct {
	NewEdges          int `json:"new_edges"`
	MergedEdges       int `json:"merged_edges"`
	ResolvedTargets   int `json:"resolved_targets"`
	UnresolvedTargets int `json:"unresolved_targets"`
	SkippedSelfLoops  int `json:"skipped_self_loops"`
}

type SummarizePaperInput struct {
	PaperID       string `json:"paper_id"`
	ProviderIndex int    `json:"provider_index"`
}

type SummarizePaperOutput struct {
	Summary      string `json:"summary"`
	ProviderName string `json:"provider_name"`
	Model        string `json:"model"`
}

type CleanupPaperInput struct {
	PaperID string `json:"paper_id"`
}

type ReclusterOutput struct {
	Nodes    int `json:"nodes"`
	Clusters int `json:"clusters"`
}

type WriteRunManifestInput struct {
	RunID    string         `json:"run_id"`
	Manifest map[string]any `json:"manifest"`
}

type WriteRunManifestOutput struct {
	Path string `json:"path"`
}

type LogLLMCallInput struct {
	CallID       string `json:"call_id"`
	RequestID    string `json:"request_id"`
	Operation    string `json:"operation"`
	PaperID      string `json:"paper_id"`
	ProviderName string `json:"provider_name"`
	Model        string `json:"model"`
	Status       string `json:"status"`
	ErrorType    string `json:"error_type"`
}
