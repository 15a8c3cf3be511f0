package graph

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"litgraph/internal/citations"
	"litgraph/internal/models"
)

const defaultResolveThreshold = 0.8

// Builder accumulates citation edges across the corpus into a directed
// graph over resolved papers and unresolved external works. Ingest calls may
// run concurrently; Cluster serializes itself and works on a snapshot.
type Builder struct {
	mu     sync.RWMutex
	nodes  map[string]*Node
	out    map[string]map[string]*models.CitationEdge
	papers map[string]paperEntry

	threshold float64
	clusterMu sync.Mutex
}

func NewBuilder(resolveThreshold float64) *Builder {
	if resolveThreshold <= 0 || resolveThreshold > 1 {
		resolveThreshold = defaultResolveThreshold
	}
	return &Builder{
		nodes:     make(map[string]*Node),
		out:       make(map[string]map[string]*models.CitationEdge),
		papers:    make(map[string]paperEntry),
		threshold: resolveThreshold,
	}
}

// AddPaper registers a known paper as a resolved node and as a resolution
// candidate for raw references. It returns the node row to persist.
func (b *Builder) AddPaper(p models.Paper) models.GraphNode {
	b.mu.Lock()
	defer b.mu.Unlock()
	n, ok := b.nodes[p.PaperID]
	if !ok {
		n = &Node{ID: p.PaperID}
		b.nodes[p.PaperID] = n
	}
	n.Label = p.Title
	if n.Label == "" {
		n.Label = p.PaperID
	}
	n.Resolved = true
	n.PublishedAt = p.PublishedAt
	b.papers[p.PaperID] = paperEntry{id: p.PaperID, tokens: titleTokens(p.Title)}
	return nodeRow(n)
}

// RemovePaper drops the paper's node, every edge incident to it, and any
// unresolved node left without citations. It returns the number of edges
// removed.
func (b *Builder) RemovePaper(paperID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	removed := 0
	if targets, ok := b.out[paperID]; ok {
		removed += len(targets)
		delete(b.out, paperID)
	}
	for _, targets := range b.out {
		if _, ok := targets[paperID]; ok {
			delete(targets, paperID)
			removed++
		}
	}
	delete(b.nodes, paperID)
	delete(b.papers, paperID)

	live := make(map[string]bool)
	for _, targets := range b.out {
		for t := range targets {
			live[t] = true
		}
	}
	for id, n := range b.nodes {
		if !n.Resolved && !live[id] {
			delete(b.nodes, id)
		}
	}
	return removed
}

// Ingest resolves and merges one paper's raw citation edges into the graph.
// Targets resolving to the citing paper itself are skipped. Duplicate
// (citing, cited) pairs keep the maximum confidence and the union of
// markers.
func (b *Builder) Ingest(citingPaperID string, raw []citations.RawEdge) (Delta, error) {
	citingPaperID = strings.TrimSpace(citingPaperID)
	if citingPaperID == "" {
		return Delta{}, fmt.Errorf("citing paper id is required")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	var d Delta
	touchedNodes := make(map[string]bool)
	touchedEdges := make(map[string]bool)

	if _, ok := b.nodes[citingPaperID]; !ok {
		b.nodes[citingPaperID] = &Node{ID: citingPaperID, Label: citingPaperID, Resolved: true}
		touchedNodes[citingPaperID] = true
	}
	if b.out[citingPaperID] == nil {
		b.out[citingPaperID] = make(map[string]*models.CitationEdge)
	}
	targets := b.out[citingPaperID]

	for _, re := range raw {
		rawRef := strings.TrimSpace(re.RawRef)
		if rawRef == "" {
			continue
		}
		targetID, _, resolved := resolveTarget(rawRef, b.papers, b.threshold)
		if resolved && targetID == citingPaperID {
			d.SkippedSelfLoops++
			continue
		}
		if resolved {
			d.ResolvedTargets++
			if _, ok := b.nodes[targetID]; !ok {
				b.nodes[targetID] = &Node{ID: targetID, Label: targetID, Resolved: true}
				touchedNodes[targetID] = true
			}
		} else {
			targetID = refKey(rawRef)
			d.UnresolvedTargets++
			if _, ok := b.nodes[targetID]; !ok {
				b.nodes[targetID] = &Node{ID: targetID, Label: unresolvedLabel(rawRef)}
				touchedNodes[targetID] = true
			}
		}

		edge := models.CitationEdge{
			CitingPaperID: citingPaperID,
			TargetKey:     targetID,
			RawRef:        rawRef,
			Markers:       append([]string(nil), re.Markers...),
			Confidence:    re.Confidence,
			Resolved:      resolved,
			LowConfidence: re.LowConfidence,
		}
		if resolved {
			edge.TargetPaperID = targetID
		}

		existing, ok := targets[targetID]
		if !ok {
			targets[targetID] = &edge
			d.NewEdges++
			touchedEdges[targetID] = true
			continue
		}
		d.MergedEdges++
		touchedEdges[targetID] = true
		existing.Markers = unionStrings(existing.Markers, edge.Markers)
		if edge.Confidence > existing.Confidence {
			existing.Confidence = edge.Confidence
			existing.RawRef = edge.RawRef
			existing.LowConfidence = edge.LowConfidence
		}
	}

	for _, id := range sortedKeys(touchedNodes) {
		d.Nodes = append(d.Nodes, nodeRow(b.nodes[id]))
	}
	for _, id := range sortedKeys(touchedEdges) {
		d.Edges = append(d.Edges, *targets[id])
	}
	return d, nil
}

// Export snapshots the whole graph as persistable rows, nodes and edges in
// deterministic order.
func (b *Builder) Export() ([]models.GraphNode, []models.CitationEdge) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	nodes := make([]models.GraphNode, 0, len(b.nodes))
	for _, id := range sortedNodeIDs(b.nodes) {
		nodes = append(nodes, nodeRow(b.nodes[id]))
	}
	citings := make([]string, 0, len(b.out))
	for id := range b.out {
		citings = append(citings, id)
	}
	sort.Strings(citings)
	var edges []models.CitationEdge
	for _, citing := range citings {
		targets := b.out[citing]
		keys := make([]string, 0, len(targets))
		for t := range targets {
			keys = append(keys, t)
		}
		sort.Strings(keys)
		for _, t := range keys {
			edges = append(edges, *targets[t])
		}
	}
	return nodes, edges
}

// Load hydrates the graph from persisted rows, replacing current contents.
// Resolved node labels seed the resolution catalog.
func (b *Builder) Load(nodes []models.GraphNode, edges []models.CitationEdge) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nodes = make(map[string]*Node, len(nodes))
	b.out = make(map[string]map[string]*models.CitationEdge)
	b.papers = make(map[string]paperEntry)
	for _, n := range nodes {
		node := &Node{
			ID:          n.NodeID,
			Label:       n.Label,
			Resolved:    n.Resolved,
			PublishedAt: n.PublishedAt,
			Cluster:     n.Cluster,
		}
		b.nodes[n.NodeID] = node
		if n.Resolved {
			b.papers[n.NodeID] = paperEntry{id: n.NodeID, tokens: titleTokens(n.Label)}
		}
	}
	for _, e := range edges {
		if b.out[e.CitingPaperID] == nil {
			b.out[e.CitingPaperID] = make(map[string]*models.CitationEdge)
		}
		copied := e
		b.out[e.CitingPaperID][e.TargetKey] = &copied
	}
}

func nodeRow(n *Node) models.GraphNode {
	return models.GraphNode{
		NodeID:      n.ID,
		Label:       n.Label,
		Resolved:    n.Resolved,
		PublishedAt: n.PublishedAt,
		Cluster:     n.Cluster,
	}
}

func unionStrings(a, b []string) []string {
	out := append([]string(nil), a...)
	for _, s := range b {
		found := false
		for _, v := range out {
			if v == s {
				found = true
				break
			}
		}
		if !found {
			out = append(out, s)
		}
	}
	return out
}

func sortedKeys(m map[string]bool) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedNodeIDs(m map[string]*Node) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

