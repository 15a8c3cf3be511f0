package models

import "time"

const (
	PaperStatusPending    = "pending"
	PaperStatusProcessing = "processing"
	PaperStatusIndexed    = "indexed"
	PaperStatusFailed     = "failed"
)

const (
	ConfidenceOK           = "ok"
	ConfidenceLow          = "low"
	ConfidenceInsufficient = "insufficient_context"
)

// Section is one named span of a paper's body text. Sections are kept as an
// ordered list rather than a map so chunk sequence numbers are stable across
// runs.
type Section struct {
	Label string `json:"label"`
	Text  string `json:"text"`
}

type Paper struct {
	PaperID     string     `json:"paper_id"`
	Title       string     `json:"title"`
	Authors     []string   `json:"authors,omitempty"`
	Abstract    string     `json:"abstract,omitempty"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
	Sections    []Section  `json:"sections,omitempty"`
	// ReferencesRaw holds the reference-list lines as supplied by the
	// ingestor, before entry splitting.
	ReferencesRaw []string  `json:"references_raw,omitempty"`
	Source        string    `json:"source,omitempty"`
	Status        string    `json:"status"`
	FailReason    string    `json:"fail_reason,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

type Chunk struct {
	ChunkID string `json:"chunk_id"`
	PaperID string `json:"paper_id"`
	Seq     int    `json:"seq"`
	Section string `json:"section,omitempty"`
	Text    string `json:"text"`
	// Overlap is the number of leading runes duplicated from the previous
	// chunk of the same section; stripping it reconstructs the original text.
	Overlap     int       `json:"overlap,omitempty"`
	ContentHash string    `json:"content_hash"`
	EmbedModel  string    `json:"embed_model,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// ChunkHit is one scored entry of a retrieval result. Scores are cosine
// similarity and non-increasing within a result.
type ChunkHit struct {
	ChunkID string  `json:"chunk_id"`
	PaperID string  `json:"paper_id"`
	Seq     int     `json:"seq"`
	Section string  `json:"section,omitempty"`
	Title   string  `json:"title,omitempty"`
	Text    string  `json:"text,omitempty"`
	Overlap int     `json:"overlap,omitempty"`
	Score   float64 `json:"score"`
}

// CitationEdge records that one paper cites another work. TargetPaperID is
// empty while the target is unresolved; TargetKey is then the normalized raw
// reference string so repeat citations of the same work share a key.
type CitationEdge struct {
	CitingPaperID string   `json:"citing_paper_id"`
	TargetKey     string   `json:"target_key"`
	TargetPaperID string   `json:"target_paper_id,omitempty"`
	RawRef        string   `json:"raw_ref"`
	Markers       []string `json:"markers,omitempty"`
	Confidence    float64  `json:"confidence"`
	Resolved      bool     `json:"resolved"`
	LowConfidence bool     `json:"low_confidence,omitempty"`
}

// GraphNode is one node of the citation graph: a known paper or an
// unresolved cited work.
type GraphNode struct {
	NodeID      string     `json:"node_id"`
	Label       string     `json:"label"`
	Resolved    bool       `json:"resolved"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
	Cluster     int        `json:"cluster"`
}

type AnswerRecord struct {
	Text          string    `json:"text"`
	CitedChunkIDs []string  `json:"cited_chunk_ids,omitempty"`
	Confidence    string    `json:"confidence"`
	Provider      string    `json:"provider,omitempty"`
	Model         string    `json:"model,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

type PaperSummary struct {
	PaperID   string    `json:"paper_id"`
	Summary   string    `json:"summary"`
	Provider  string    `json:"provider,omitempty"`
	Model     string    `json:"model,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
