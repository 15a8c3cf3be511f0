package graph

import (
	"time"

	"litgraph/internal/models"
)

const (
	EraFoundational = "foundational"
	EraRecent       = "recent"
)

// Node is one vertex of the citation graph: a known paper (resolved) or a
// cited external work (unresolved).
type Node struct {
	ID          string
	Label       string
	Resolved    bool
	PublishedAt *time.Time
	Cluster     int
}

// Delta reports what one ingest pass changed, carrying the rows a caller
// persists incrementally.
type Delta struct {
	Nodes []models.GraphNode
	Edges []models.CitationEdge

	NewEdges          int
	MergedEdges       int
	ResolvedTargets   int
	UnresolvedTargets int
	SkippedSelfLoops  int
}

// View is an induced subgraph projection for presentation.
type View struct {
	Nodes []NodeView `json:"nodes"`
	Edges []EdgeView `json:"edges"`
}

type NodeView struct {
	ID          string     `json:"id"`
	Label       string     `json:"label"`
	Resolved    bool       `json:"resolved"`
	Cluster     int        `json:"cluster"`
	Era         string     `json:"era"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
}

type EdgeView struct {
	From          string   `json:"from"`
	To            string   `json:"to"`
	RawRef        string   `json:"raw_ref,omitempty"`
	Markers       []string `json:"markers,omitempty"`
	Confidence    float64  `json:"confidence"`
	Resolved      bool     `json:"resolved"`
	LowConfidence bool     `json:"low_confidence,omitempty"`
}
